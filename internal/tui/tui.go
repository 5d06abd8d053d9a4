// Package tui provides a Bubble Tea terminal user interface for podcatcher.
package tui

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/handiism/podcatcher/internal/archive"
	"github.com/handiism/podcatcher/internal/config"
	"github.com/handiism/podcatcher/internal/download"
	ioutils "github.com/handiism/podcatcher/internal/io"
)

// Styles for the TUI
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FF6B6B")).
			MarginBottom(1)

	subtitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#4ECDC4"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#95E1A3"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFE66D"))

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#A8DADC"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6C757D"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#4ECDC4")).
			Padding(1, 2)
)

const maxLogs = 10

// State represents the current UI state.
type State int

const (
	StateInput State = iota
	StateDownloading
	StateComplete
	StateError
)

// LogEntry represents a log message in the UI.
type LogEntry struct {
	Message string
	Level   download.NoticeLevel
}

// Model is the Bubble Tea model for the TUI.
type Model struct {
	state     State
	textInput textinput.Model
	spinner   spinner.Model
	progress  progress.Model
	settings  *config.Settings
	logger    *slog.Logger
	logs      []LogEntry
	err       error

	ctx    context.Context
	cancel context.CancelFunc

	// events carries status snapshots and notices from the download run.
	events chan tea.Msg

	status download.Status
	queued int

	playlist bool
	verbose  bool

	width  int
	height int
}

// NewModel creates a new TUI model. A nil settings uses the defaults.
func NewModel(settings *config.Settings) Model {
	if settings == nil {
		settings = config.DefaultSettings()
	}

	ti := textinput.New()
	ti.Placeholder = "https://example.com/episode.mp3 (space separated)"
	ti.Focus()
	ti.CharLimit = 4000
	ti.Width = 60

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))

	prog := progress.New(progress.WithDefaultGradient())
	prog.Width = 50

	ctx, cancel := context.WithCancel(context.Background())

	return Model{
		state:     StateInput,
		textInput: ti,
		spinner:   sp,
		progress:  prog,
		settings:  settings,
		logger:    slog.Default(),
		logs:      make([]LogEntry, 0),
		ctx:       ctx,
		cancel:    cancel,
		events:    make(chan tea.Msg, 64),
		playlist:  settings.CreatePlaylist,
	}
}

// WithLogger sets the logger handed to the download manager.
func (m Model) WithLogger(l *slog.Logger) Model {
	m.logger = l
	return m
}

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick)
}

// Message types
type (
	// StatusMsg carries an aggregate status snapshot.
	StatusMsg struct {
		Status download.Status
	}

	// NoticeMsg carries a message from the download manager.
	NoticeMsg struct {
		Notice download.Notice
	}

	// RunDoneMsg is sent when all downloads have finished.
	RunDoneMsg struct {
		Status download.Status
		Err    error
	}
)

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.progress.Width = msg.Width - 20
		if m.progress.Width > 80 {
			m.progress.Width = 80
		}
		if m.progress.Width < 20 {
			m.progress.Width = 20
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			m.cancel()
			return m, tea.Quit

		case "esc":
			if m.state == StateInput {
				return m, tea.Quit
			}
			if m.state == StateDownloading {
				m.cancel()
				m.state = StateError
				m.err = fmt.Errorf("cancelled by user")
			}

		case "enter":
			if m.state == StateInput {
				urls := strings.Join(strings.Fields(m.textInput.Value()), "\n")
				if urls == "" {
					break
				}
				m.state = StateDownloading
				return m, tea.Batch(m.startRun(urls), m.waitForEvent(), m.spinner.Tick)
			}

		case "ctrl+p":
			if m.state == StateInput {
				m.playlist = !m.playlist
			}

		case "ctrl+v":
			if m.state == StateInput {
				m.verbose = !m.verbose
			}

		case "q":
			if m.state == StateComplete || m.state == StateError {
				return m, tea.Quit
			}

		case "r":
			if m.state == StateComplete || m.state == StateError {
				m.cancel()
				m.state = StateInput
				m.logs = nil
				m.err = nil
				m.status = download.Status{}
				m.queued = 0
				m.ctx, m.cancel = context.WithCancel(context.Background())
				m.events = make(chan tea.Msg, 64)
				m.textInput.SetValue("")
				m.textInput.Focus()
				return m, nil
			}
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case NoticeMsg:
		m.addLog(msg.Notice)
		cmds = append(cmds, m.waitForEvent())

	case StatusMsg:
		m.status = msg.Status
		cmds = append(cmds, m.progress.SetPercent(overallPercent(msg.Status)), m.waitForEvent())

	case RunDoneMsg:
		m.status = msg.Status
		switch {
		case m.ctx.Err() != nil:
			m.state = StateError
			m.err = fmt.Errorf("cancelled by user")
		case msg.Err != nil:
			m.state = StateError
			m.err = msg.Err
		default:
			m.state = StateComplete
		}

	case progress.FrameMsg:
		progressModel, cmd := m.progress.Update(msg)
		m.progress = progressModel.(progress.Model)
		cmds = append(cmds, cmd)
	}

	if m.state == StateInput {
		var cmd tea.Cmd
		m.textInput, cmd = m.textInput.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m *Model) addLog(n download.Notice) {
	if n.Level == download.LevelVerbose && !m.verbose {
		return
	}
	m.logs = append(m.logs, LogEntry{Message: n.Message, Level: n.Level})
	if len(m.logs) > maxLogs {
		m.logs = m.logs[len(m.logs)-maxLogs:]
	}
}

// overallPercent returns the fraction of known bytes received so far.
func overallPercent(s download.Status) float64 {
	if s.TotalLength <= 0 {
		if s.TotalDownloads > 0 && s.CurrentDownloads == 0 && s.CompletedDownloads == s.TotalDownloads {
			return 1
		}
		return 0
	}
	p := float64(s.BytesDownloaded) / float64(s.TotalLength)
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

// View renders the UI.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Podcatcher"))
	b.WriteString("\n")
	b.WriteString(dimStyle.Render("Resumable episode downloads"))
	b.WriteString("\n\n")

	switch m.state {
	case StateInput:
		b.WriteString(m.viewInput())
	case StateDownloading:
		b.WriteString(m.viewDownloading())
	case StateComplete:
		b.WriteString(m.viewComplete())
	case StateError:
		b.WriteString(m.viewError())
	}

	b.WriteString("\n")
	b.WriteString(dimStyle.Render(m.getHelpText()))

	return b.String()
}

func (m Model) viewInput() string {
	var b strings.Builder

	b.WriteString(subtitleStyle.Render("Enter episode URL(s):"))
	b.WriteString("\n\n")
	b.WriteString(m.textInput.View())
	b.WriteString("\n\n")

	playlistCheck := "[ ]"
	if m.playlist {
		playlistCheck = "[x]"
	}
	verboseCheck := "[ ]"
	if m.verbose {
		verboseCheck = "[x]"
	}

	b.WriteString(infoStyle.Render("Options:"))
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("  %s Create %s playlist (ctrl+p)\n", playlistCheck, m.settings.Playlist().Extension()))
	b.WriteString(fmt.Sprintf("  %s Verbose output (ctrl+v)\n", verboseCheck))
	b.WriteString("\n")
	b.WriteString(dimStyle.Render(fmt.Sprintf("Download path: %s", m.settings.DownloadsPath)))
	b.WriteString("\n")

	return b.String()
}

func (m Model) viewDownloading() string {
	var b strings.Builder

	b.WriteString(m.spinner.View())
	b.WriteString(" ")
	b.WriteString(subtitleStyle.Render(fmt.Sprintf("Downloading %d episode(s)...", m.queued)))
	b.WriteString("\n\n")

	b.WriteString(m.progress.View())
	b.WriteString("\n")

	s := m.status
	total := "?"
	if s.TotalLength > 0 {
		total = ioutils.FormatBytes(s.TotalLength)
	}
	b.WriteString(infoStyle.Render(fmt.Sprintf(
		"Running: %d | Done: %d/%d | Failed: %d | %s of %s | %s",
		s.CurrentDownloads,
		s.CompletedDownloads,
		s.TotalDownloads,
		s.FailedDownloads,
		ioutils.FormatBytes(s.BytesDownloaded),
		total,
		ioutils.FormatRate(s.Speed),
	)))
	b.WriteString("\n\n")

	b.WriteString(m.renderLogs())

	return b.String()
}

func (m Model) viewComplete() string {
	var b strings.Builder

	box := boxStyle.Render(fmt.Sprintf(
		"Download Complete!\n\n"+
			"Episodes: %d\n"+
			"Failed: %d\n"+
			"Size: %s",
		m.status.SuccessfulDownloads,
		m.status.FailedDownloads,
		ioutils.FormatBytes(m.status.BytesDownloaded),
	))
	b.WriteString(box)
	b.WriteString("\n\n")
	b.WriteString(m.renderLogs())

	return b.String()
}

func (m Model) viewError() string {
	var b strings.Builder

	b.WriteString(errorStyle.Render("Error occurred:"))
	b.WriteString("\n\n")
	if m.err != nil {
		b.WriteString(fmt.Sprintf("  %s", m.err.Error()))
	}
	b.WriteString("\n\n")
	b.WriteString(m.renderLogs())

	return b.String()
}

func (m Model) renderLogs() string {
	var b strings.Builder

	for _, log := range m.logs {
		var style lipgloss.Style
		prefix := "•"
		switch log.Level {
		case download.LevelError:
			style = errorStyle
			prefix = "✗"
		case download.LevelWarning:
			style = warningStyle
			prefix = "!"
		case download.LevelSuccess:
			style = successStyle
			prefix = "✓"
		case download.LevelInfo:
			style = infoStyle
			prefix = "›"
		default:
			style = dimStyle
		}
		b.WriteString(style.Render(prefix + " " + log.Message))
		b.WriteString("\n")
	}

	return b.String()
}

func (m Model) getHelpText() string {
	switch m.state {
	case StateInput:
		return "enter: start • ctrl+p: playlist • ctrl+v: verbose • esc: quit"
	case StateDownloading:
		return "esc: cancel"
	case StateComplete, StateError:
		return "r: new download • q: quit"
	}
	return ""
}

// waitForEvent returns a command that delivers the next message from the
// running download.
func (m Model) waitForEvent() tea.Cmd {
	events := m.events
	ctx := m.ctx
	return func() tea.Msg {
		select {
		case msg := <-events:
			return msg
		case <-ctx.Done():
			return nil
		}
	}
}

// startRun creates a manager for urls and runs it to completion.
func (m *Model) startRun(urls string) tea.Cmd {
	settings := *m.settings
	settings.CreatePlaylist = m.playlist
	ctx := m.ctx
	events := m.events
	logger := m.logger

	send := func(msg tea.Msg) {
		select {
		case events <- msg:
		case <-ctx.Done():
		}
	}

	m.queued = len(strings.Split(urls, "\n"))

	return func() tea.Msg {
		status := download.NewStatusManager(download.StatusOptions{
			Interval: settings.Interval(),
			Logger:   logger,
		})
		defer status.Close()
		status.Subscribe(&download.StatusObserver{
			OnStatusUpdated: func(s download.Status) { send(StatusMsg{Status: s}) },
		})

		manager := download.NewManager(&settings, status, func(n download.Notice) {
			send(NoticeMsg{Notice: n})
		})
		manager.SetLogger(logger)

		if settings.ArchiveBucket != "" {
			archiver, err := archive.Open(ctx, settings.ArchiveBucket)
			if err != nil {
				return RunDoneMsg{Err: err}
			}
			defer archiver.Close()
			manager.SetArchiver(archiver)
		}

		manager.EnqueueURLs(urls)
		err := manager.Run(ctx)
		return RunDoneMsg{Status: status.Status(), Err: err}
	}
}

// Run starts the TUI application.
func Run(settings *config.Settings, logger *slog.Logger) error {
	model := NewModel(settings)
	if logger != nil {
		model = model.WithLogger(logger)
	}
	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err := p.Run()
	return err
}
