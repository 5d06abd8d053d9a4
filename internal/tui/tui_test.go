package tui

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/handiism/podcatcher/internal/config"
	"github.com/handiism/podcatcher/internal/download"
)

func update(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	nm, ok := next.(Model)
	if !ok {
		t.Fatalf("Update returned %T, want Model", next)
	}
	return nm
}

func TestOverallPercent(t *testing.T) {
	tests := []struct {
		name   string
		status download.Status
		want   float64
	}{
		{"empty", download.Status{}, 0},
		{"half", download.Status{BytesDownloaded: 50, TotalLength: 100}, 0.5},
		{"overshoot", download.Status{BytesDownloaded: 150, TotalLength: 100}, 1},
		{"negative", download.Status{BytesDownloaded: -5, TotalLength: 100}, 0},
		{"unknown length running", download.Status{TotalDownloads: 1, CurrentDownloads: 1}, 0},
		{"unknown length done", download.Status{TotalDownloads: 2, CompletedDownloads: 2}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := overallPercent(tt.status); got != tt.want {
				t.Errorf("overallPercent() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNoticeFiltering(t *testing.T) {
	m := NewModel(config.DefaultSettings())

	m = update(t, m, NoticeMsg{Notice: download.Notice{Message: "debug", Level: download.LevelVerbose}})
	if len(m.logs) != 0 {
		t.Fatalf("verbose notice logged without verbose mode: %v", m.logs)
	}

	m = update(t, m, tea.KeyMsg{Type: tea.KeyCtrlV})
	if !m.verbose {
		t.Fatal("ctrl+v did not enable verbose mode")
	}

	m = update(t, m, NoticeMsg{Notice: download.Notice{Message: "debug", Level: download.LevelVerbose}})
	if len(m.logs) != 1 {
		t.Fatalf("len(logs) = %d, want 1", len(m.logs))
	}
}

func TestLogsAreCapped(t *testing.T) {
	m := NewModel(nil)
	for i := range maxLogs + 5 {
		m = update(t, m, NoticeMsg{Notice: download.Notice{Message: fmt.Sprintf("n%d", i), Level: download.LevelInfo}})
	}

	if len(m.logs) != maxLogs {
		t.Fatalf("len(logs) = %d, want %d", len(m.logs), maxLogs)
	}
	if got := m.logs[len(m.logs)-1].Message; got != fmt.Sprintf("n%d", maxLogs+4) {
		t.Errorf("last log = %q", got)
	}
}

func TestRunDone(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		want      State
		wantInErr string
	}{
		{"success", nil, StateComplete, ""},
		{"failure", errors.New("bucket unavailable"), StateError, "bucket unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewModel(nil)
			m.state = StateDownloading

			m = update(t, m, RunDoneMsg{
				Status: download.Status{SuccessfulDownloads: 3, BytesDownloaded: 2048},
				Err:    tt.err,
			})

			if m.state != tt.want {
				t.Fatalf("state = %v, want %v", m.state, tt.want)
			}
			if tt.wantInErr != "" && (m.err == nil || !strings.Contains(m.err.Error(), tt.wantInErr)) {
				t.Errorf("err = %v, want it to contain %q", m.err, tt.wantInErr)
			}
			if m.status.SuccessfulDownloads != 3 {
				t.Errorf("SuccessfulDownloads = %d, want 3", m.status.SuccessfulDownloads)
			}
		})
	}
}

func TestEscCancelsDownload(t *testing.T) {
	m := NewModel(nil)
	m.state = StateDownloading

	m = update(t, m, tea.KeyMsg{Type: tea.KeyEsc})

	if m.state != StateError {
		t.Fatalf("state = %v, want StateError", m.state)
	}
	if m.ctx.Err() == nil {
		t.Error("context not canceled")
	}

	m = update(t, m, RunDoneMsg{})
	if m.err == nil || m.err.Error() != "cancelled by user" {
		t.Errorf("err = %v, want cancelled by user", m.err)
	}
}

func TestStatusMsgUpdatesView(t *testing.T) {
	m := NewModel(nil)
	m.state = StateDownloading

	m = update(t, m, StatusMsg{Status: download.Status{
		CurrentDownloads:   1,
		TotalDownloads:     2,
		CompletedDownloads: 1,
		BytesDownloaded:    1024,
		TotalLength:        4096,
		Speed:              12.5,
	}})

	view := m.View()
	for _, want := range []string{"Running: 1", "Done: 1/2", "1.00 KiB", "4.00 KiB"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
}

func TestEnterWithoutURLStaysOnInput(t *testing.T) {
	m := NewModel(nil)
	m = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if m.state != StateInput {
		t.Errorf("state = %v, want StateInput", m.state)
	}
}
