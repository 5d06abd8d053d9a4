package download

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/handiism/podcatcher/internal/model"
	"github.com/handiism/podcatcher/internal/transport"
)

var errConnectionReset = errors.New("connection reset")

// fakeTransport serves data in fixed-size chunks.
type fakeTransport struct {
	data         []byte
	chunk        int
	lastModified time.Time
	ignoreRange  bool
	openErr      error
	failAfter    int // bytes served before the body fails; 0 never fails

	mu      sync.Mutex
	offsets []int64
}

func (f *fakeTransport) OpenStream(ctx context.Context, uri string, offset int64) (*transport.Stream, error) {
	f.mu.Lock()
	f.offsets = append(f.offsets, offset)
	f.mu.Unlock()

	if f.openErr != nil {
		return nil, f.openErr
	}
	start := offset
	if f.ignoreRange {
		start = 0
	}
	failAt := -1
	if f.failAfter > 0 {
		failAt = f.failAfter
	}
	return &transport.Stream{
		Body:          io.NopCloser(&chunkReader{data: f.data[start:], chunk: f.chunk, failAt: failAt}),
		Offset:        start,
		ContentLength: int64(len(f.data)),
		LastModified:  f.lastModified,
		MimeType:      "audio/mpeg",
	}, nil
}

func (f *fakeTransport) opened() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.offsets...)
}

type chunkReader struct {
	data   []byte
	chunk  int
	failAt int
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if r.failAt == 0 {
		return 0, errConnectionReset
	}
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	n := min(r.chunk, len(p), len(r.data))
	if r.failAt > 0 {
		n = min(n, r.failAt)
		r.failAt -= n
	}
	copy(p, r.data[:n])
	r.data = r.data[n:]
	return n, nil
}

// recorder collects task events in order.
type recorder struct {
	mu       sync.Mutex
	events   []string
	deltas   []int64
	received []int64
	lengths [][2]int64
	paths   []string
}

func (r *recorder) observer() *TaskObserver {
	add := func(s string) {
		r.mu.Lock()
		r.events = append(r.events, s)
		r.mu.Unlock()
	}
	return &TaskObserver{
		OnStarted:  func(*Task) { add("started") },
		OnStopped:  func(*Task) { add("stopped") },
		OnFinished: func(*Task) { add("finished") },
		OnLengthChanged: func(ev LengthChangedEvent) {
			r.mu.Lock()
			r.lengths = append(r.lengths, [2]int64{ev.Previous, ev.Current})
			r.mu.Unlock()
		},
		OnProgressChanged: func(ev ProgressEvent) {
			r.mu.Lock()
			r.deltas = append(r.deltas, ev.BytesThisInterval)
			r.received = append(r.received, ev.BytesReceived)
			r.mu.Unlock()
		},
		OnFilePathChanged: func(_ *Task, p string) {
			r.mu.Lock()
			r.paths = append(r.paths, p)
			r.mu.Unlock()
		},
	}
}

func (r *recorder) sequence() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return strings.Join(r.events, ",")
}

func testData(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

type testEnv struct {
	tempRoot string
	outDir   string
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	return testEnv{tempRoot: t.TempDir(), outDir: filepath.Join(t.TempDir(), "Show")}
}

func (e testEnv) episode(length int64) *model.Episode {
	return model.NewEpisode("show/ep1", "https://cdn.example.com/media/ep1.mp3", e.outDir, length)
}

func (e testEnv) options() Options {
	return Options{TempDir: e.tempRoot}
}

func runTask(t *testing.T, task *Task) {
	t.Helper()
	if err := task.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	select {
	case <-task.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("task did not finish")
	}
}

func TestTaskCompletes(t *testing.T) {
	env := newTestEnv(t)
	data := testData(1000)
	tr := &fakeTransport{data: data, chunk: 250}
	ep := env.episode(1000)

	task := NewTask(ep, tr, env.options())
	rec := &recorder{}
	task.Subscribe(rec.observer())
	runTask(t, task)

	if ep.State() != model.StateCompleted {
		t.Fatalf("state = %v, err = %v", ep.State(), task.Err())
	}
	if got := rec.sequence(); got != "started,stopped,finished" {
		t.Errorf("events = %s", got)
	}
	if want := []int64{250, 500, 750, 1000}; !slices.Equal(rec.received, want) {
		t.Errorf("BytesReceived sequence = %v, want %v", rec.received, want)
	}
	if want := []int64{250, 250, 250, 250}; !slices.Equal(rec.deltas, want) {
		t.Errorf("deltas = %v, want %v", rec.deltas, want)
	}

	final := filepath.Join(env.outDir, "ep1.mp3")
	if ep.LocalPath() != final || len(rec.paths) != 1 || rec.paths[0] != final {
		t.Errorf("local path = %q, FilePathChanged = %v", ep.LocalPath(), rec.paths)
	}
	got, err := os.ReadFile(final)
	if err != nil || !bytes.Equal(got, data) {
		t.Fatalf("final file mismatch: %v", err)
	}
	if _, err := os.Stat(task.TempPath()); !os.IsNotExist(err) {
		t.Error("temp file should be gone")
	}
	if _, err := os.Stat(TempDownloadsDir(env.tempRoot)); !os.IsNotExist(err) {
		t.Error("empty temp directories should be removed")
	}
	if ep.Active() {
		t.Error("completed episode should be inactive")
	}
	if task.Progress() != 100 {
		t.Errorf("Progress = %d", task.Progress())
	}
	if ep.MimeType() != "audio/mpeg" {
		t.Errorf("MimeType = %q", ep.MimeType())
	}
}

func TestTaskCancelBetweenChunks(t *testing.T) {
	env := newTestEnv(t)
	tr := &fakeTransport{data: testData(1000), chunk: 250}
	ep := env.episode(1000)

	task := NewTask(ep, tr, env.options())
	rec := &recorder{}
	task.Subscribe(rec.observer())
	task.Subscribe(&TaskObserver{OnProgressChanged: func(ev ProgressEvent) {
		if ev.BytesReceived >= 500 {
			ev.Task.Cancel()
		}
	}})
	runTask(t, task)

	if ep.State() != model.StateCanceled {
		t.Fatalf("state = %v", ep.State())
	}
	if task.BytesReceived() != 500 {
		t.Errorf("BytesReceived = %d, want 500", task.BytesReceived())
	}
	if _, err := os.Stat(task.TempPath()); !os.IsNotExist(err) {
		t.Error("temp file should be removed on cancel")
	}
	if _, err := os.Stat(task.FinalPath()); !os.IsNotExist(err) {
		t.Error("no final file expected")
	}
	if got := rec.sequence(); got != "started,stopped,finished" {
		t.Errorf("events = %s", got)
	}
}

func TestTaskCancelBeforeExecute(t *testing.T) {
	env := newTestEnv(t)
	tr := &fakeTransport{data: testData(10), chunk: 10}
	ep := env.episode(10)
	if !ep.RequestCancel() {
		t.Fatal("RequestCancel on queued episode should succeed")
	}

	task := NewTask(ep, tr, env.options())
	runTask(t, task)

	if ep.State() != model.StateCanceled {
		t.Errorf("state = %v", ep.State())
	}
	if len(tr.opened()) != 0 {
		t.Error("transport should not be opened")
	}
	if task.Err() != nil {
		t.Errorf("Err = %v", task.Err())
	}
}

func TestTaskFailsWithoutBytes(t *testing.T) {
	tests := []struct {
		name string
		tr   *fakeTransport
	}{
		{"open error", &fakeTransport{openErr: errors.New("dial tcp: refused")}},
		{"empty body", &fakeTransport{data: nil, chunk: 10}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			ep := env.episode(1000)
			task := NewTask(ep, tt.tr, env.options())
			rec := &recorder{}
			task.Subscribe(rec.observer())
			runTask(t, task)

			if ep.State() != model.StateFailed {
				t.Fatalf("state = %v", ep.State())
			}
			if got := rec.sequence(); got != "started,stopped,finished" {
				t.Errorf("events = %s", got)
			}
		})
	}
}

func TestTaskReadErrorKeepsTempFile(t *testing.T) {
	env := newTestEnv(t)
	tr := &fakeTransport{data: testData(1000), chunk: 100, failAfter: 300}
	ep := env.episode(1000)

	task := NewTask(ep, tr, env.options())
	runTask(t, task)

	if ep.State() != model.StateFailed {
		t.Fatalf("state = %v", ep.State())
	}
	if !errors.Is(task.Err(), errConnectionReset) {
		t.Errorf("Err = %v", task.Err())
	}
	info, err := os.Stat(task.TempPath())
	if err != nil || info.Size() != 300 {
		t.Fatalf("temp file should be kept with 300 bytes: %v", err)
	}
}

func TestTaskResumesFromTempFile(t *testing.T) {
	env := newTestEnv(t)
	data := testData(1000)
	tr := &fakeTransport{data: data, chunk: 256}
	ep := env.episode(1000)

	task := NewTask(ep, tr, env.options())
	if err := os.MkdirAll(filepath.Dir(task.TempPath()), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(task.TempPath(), data[:400], 0644); err != nil {
		t.Fatal(err)
	}

	rec := &recorder{}
	task.Subscribe(rec.observer())
	runTask(t, task)

	if ep.State() != model.StateCompleted {
		t.Fatalf("state = %v, err = %v", ep.State(), task.Err())
	}
	if got := tr.opened(); len(got) != 1 || got[0] != 400 {
		t.Errorf("opened at %v, want [400]", got)
	}
	if rec.deltas[0] != 400 {
		t.Errorf("first progress delta = %d, want 400", rec.deltas[0])
	}
	var sum int64
	for _, d := range rec.deltas {
		sum += d
	}
	if sum != 1000 {
		t.Errorf("deltas sum to %d", sum)
	}
	got, _ := os.ReadFile(ep.LocalPath())
	if !bytes.Equal(got, data) {
		t.Error("resumed file content mismatch")
	}
}

func TestTaskServerIgnoresRange(t *testing.T) {
	env := newTestEnv(t)
	data := testData(1000)
	tr := &fakeTransport{data: data, chunk: 500, ignoreRange: true}
	ep := env.episode(1000)

	task := NewTask(ep, tr, env.options())
	os.MkdirAll(filepath.Dir(task.TempPath()), 0755)
	if err := os.WriteFile(task.TempPath(), data[:400], 0644); err != nil {
		t.Fatal(err)
	}

	rec := &recorder{}
	task.Subscribe(rec.observer())
	runTask(t, task)

	if ep.State() != model.StateCompleted {
		t.Fatalf("state = %v, err = %v", ep.State(), task.Err())
	}
	if len(rec.deltas) < 2 || rec.deltas[0] != 400 || rec.deltas[1] != -400 {
		t.Errorf("deltas = %v, want resume then rewind", rec.deltas)
	}
	got, _ := os.ReadFile(ep.LocalPath())
	if !bytes.Equal(got, data) {
		t.Error("content mismatch after restart")
	}
}

func TestTaskDiscardsInvalidTempFile(t *testing.T) {
	tests := []struct {
		name  string
		setup func(ep *model.Episode, temp string)
	}{
		{
			name: "longer than episode",
			setup: func(ep *model.Episode, temp string) {
				os.WriteFile(temp, testData(1500), 0644)
			},
		},
		{
			name: "older than remote",
			setup: func(ep *model.Episode, temp string) {
				os.WriteFile(temp, testData(400), 0644)
				old := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
				os.Chtimes(temp, old, old)
				ep.SetLastModified(time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			data := testData(1000)
			tr := &fakeTransport{data: data, chunk: 1000}
			ep := env.episode(1000)

			task := NewTask(ep, tr, env.options())
			os.MkdirAll(filepath.Dir(task.TempPath()), 0755)
			tt.setup(ep, task.TempPath())
			runTask(t, task)

			if ep.State() != model.StateCompleted {
				t.Fatalf("state = %v, err = %v", ep.State(), task.Err())
			}
			if got := tr.opened(); len(got) != 1 || got[0] != 0 {
				t.Errorf("opened at %v, want [0]", got)
			}
			got, _ := os.ReadFile(ep.LocalPath())
			if !bytes.Equal(got, data) {
				t.Error("content mismatch")
			}
		})
	}
}

func TestTaskFinalFileAlreadyComplete(t *testing.T) {
	env := newTestEnv(t)
	data := testData(1000)
	os.MkdirAll(env.outDir, 0755)
	final := filepath.Join(env.outDir, "ep1.mp3")
	if err := os.WriteFile(final, data, 0644); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		tr := &fakeTransport{data: data, chunk: 100}
		ep := env.episode(1000)
		task := NewTask(ep, tr, env.options())
		rec := &recorder{}
		task.Subscribe(rec.observer())
		runTask(t, task)

		if ep.State() != model.StateCompleted {
			t.Fatalf("run %d: state = %v", i, ep.State())
		}
		if len(tr.opened()) != 0 {
			t.Errorf("run %d: transport should not be used", i)
		}
		if ep.LocalPath() != final {
			t.Errorf("run %d: LocalPath = %q", i, ep.LocalPath())
		}
		if len(rec.deltas) != 1 || rec.deltas[0] != 1000 {
			t.Errorf("run %d: deltas = %v", i, rec.deltas)
		}
		if task.Err() != nil {
			t.Errorf("run %d: Err = %v", i, task.Err())
		}
	}

	entries, _ := os.ReadDir(env.outDir)
	if len(entries) != 1 {
		t.Errorf("expected exactly one file, got %d", len(entries))
	}
}

func TestTaskCancelDuringCompletionCheck(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, env testEnv, task *Task, data []byte)
	}{
		{
			name: "final file complete",
			setup: func(t *testing.T, env testEnv, task *Task, data []byte) {
				if err := os.MkdirAll(env.outDir, 0755); err != nil {
					t.Fatal(err)
				}
				if err := os.WriteFile(task.FinalPath(), data, 0644); err != nil {
					t.Fatal(err)
				}
			},
		},
		{
			name: "temp file complete",
			setup: func(t *testing.T, env testEnv, task *Task, data []byte) {
				if err := os.MkdirAll(filepath.Dir(task.TempPath()), 0755); err != nil {
					t.Fatal(err)
				}
				if err := os.WriteFile(task.TempPath(), data, 0644); err != nil {
					t.Fatal(err)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			data := testData(1000)
			ep := env.episode(1000)
			task := NewTask(ep, &fakeTransport{data: data, chunk: 100}, env.options())
			tt.setup(t, env, task, data)

			// The cancel lands while the existing file is being reported.
			task.Subscribe(&TaskObserver{OnProgressChanged: func(ev ProgressEvent) {
				ev.Task.Cancel()
			}})
			rec := &recorder{}
			task.Subscribe(rec.observer())
			runTask(t, task)

			if ep.State() != model.StateCanceled {
				t.Fatalf("state = %v, want Canceled", ep.State())
			}
			if ep.LocalPath() != "" {
				t.Errorf("LocalPath = %q, want empty", ep.LocalPath())
			}
			if _, err := os.Stat(task.TempPath()); !os.IsNotExist(err) {
				t.Error("temp file should be removed")
			}
			if got := rec.sequence(); got != "started,stopped,finished" {
				t.Errorf("events = %s", got)
			}
		})
	}
}

func TestTaskFinalFileCollision(t *testing.T) {
	env := newTestEnv(t)
	data := testData(1000)
	os.MkdirAll(env.outDir, 0755)
	existing := filepath.Join(env.outDir, "ep1.mp3")
	if err := os.WriteFile(existing, []byte("different episode"), 0644); err != nil {
		t.Fatal(err)
	}

	tr := &fakeTransport{data: data, chunk: 1000}
	ep := env.episode(1000)
	task := NewTask(ep, tr, env.options())
	runTask(t, task)

	if ep.State() != model.StateCompleted {
		t.Fatalf("state = %v, err = %v", ep.State(), task.Err())
	}
	if ep.LocalPath() == existing {
		t.Fatal("existing file must not be overwritten")
	}
	base := filepath.Base(ep.LocalPath())
	if !strings.HasPrefix(base, "ep1-") || filepath.Ext(base) != ".mp3" {
		t.Errorf("disambiguated name = %q", base)
	}
	if got, _ := os.ReadFile(existing); string(got) != "different episode" {
		t.Error("existing file changed")
	}
}

func TestTaskLengthChanged(t *testing.T) {
	tests := []struct {
		name     string
		expected int64
	}{
		{"unknown", -1},
		{"stale", 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			tr := &fakeTransport{data: testData(1000), chunk: 250}
			ep := env.episode(tt.expected)

			task := NewTask(ep, tr, env.options())
			rec := &recorder{}
			task.Subscribe(rec.observer())
			runTask(t, task)

			if len(rec.lengths) != 1 || rec.lengths[0] != [2]int64{tt.expected, 1000} {
				t.Errorf("LengthChanged = %v", rec.lengths)
			}
			if ep.Length() != 1000 || task.Length() != 1000 {
				t.Errorf("length = %d/%d", ep.Length(), task.Length())
			}
			if ep.State() != model.StateCompleted {
				t.Errorf("state = %v", ep.State())
			}
		})
	}
}

func TestTaskPartialTransferFails(t *testing.T) {
	env := newTestEnv(t)
	tr := &fakeTransport{data: testData(600), chunk: 200}
	ep := env.episode(1000)

	// The stream ends early: pin the expected length at 1000 even though
	// the transport reports 600.
	task := NewTask(ep, tr, env.options())
	task.Subscribe(&TaskObserver{OnLengthChanged: func(ev LengthChangedEvent) {
		ev.Task.totalLength.Store(1000)
	}})
	runTask(t, task)

	if ep.State() != model.StateFailed {
		t.Fatalf("state = %v", ep.State())
	}
	if _, err := os.Stat(task.TempPath()); err != nil {
		t.Error("partial temp file should be kept")
	}
}

func TestTaskRetryKeepsEpisodeActive(t *testing.T) {
	env := newTestEnv(t)
	tr := &fakeTransport{openErr: errors.New("503")}
	ep := env.episode(1000)

	task := NewTask(ep, tr, Options{TempDir: env.tempRoot, Retry: func(*Task) bool { return true }})
	rec := &recorder{}
	task.Subscribe(rec.observer())
	runTask(t, task)

	if ep.State() != model.StateFailed || !ep.Active() {
		t.Fatalf("state = %v, active = %v", ep.State(), ep.Active())
	}
	if got := rec.sequence(); got != "started,stopped" {
		t.Errorf("events = %s, want no finished", got)
	}
}

func TestTaskExecuteTwice(t *testing.T) {
	env := newTestEnv(t)
	task := NewTask(env.episode(10), &fakeTransport{data: testData(10), chunk: 10}, env.options())
	runTask(t, task)

	if err := task.Execute(); !errors.Is(err, ErrAlreadyExecuted) {
		t.Errorf("second Execute = %v", err)
	}
}

func TestTaskCreateDirectoryFailure(t *testing.T) {
	env := newTestEnv(t)
	// A file where the temp root should be makes MkdirAll fail.
	blocker := filepath.Join(env.tempRoot, "blocked")
	os.WriteFile(blocker, nil, 0644)

	ep := env.episode(10)
	task := NewTask(ep, &fakeTransport{data: testData(10), chunk: 10}, Options{TempDir: blocker})
	runTask(t, task)

	if ep.State() != model.StateFailed {
		t.Errorf("state = %v", ep.State())
	}
	if !IsStoppedFor(task.Err(), ReasonCreateDirectory) {
		t.Errorf("Err = %v", task.Err())
	}
}

func TestCreateUnsupportedScheme(t *testing.T) {
	reg := transport.NewRegistry()
	reg.Register(&fakeTransport{}, "https")

	ep := model.NewEpisode("k", "ftp://example.com/ep.mp3", t.TempDir(), 1)
	_, err := Create(reg, ep, Options{})

	var unsupported *transport.UnsupportedSchemeError
	if !errors.As(err, &unsupported) || unsupported.Scheme != "ftp" {
		t.Errorf("err = %v", err)
	}

	ep = model.NewEpisode("k", "https://example.com/ep.mp3", t.TempDir(), 1)
	if _, err := Create(reg, ep, Options{}); err != nil {
		t.Errorf("Create https: %v", err)
	}
}

func TestTaskProgress(t *testing.T) {
	task := NewTask(model.NewEpisode("k", "https://x/y", "", -1), &fakeTransport{}, Options{})
	task.bytesRead.Store(10)
	if task.Progress() != 0 {
		t.Error("unknown length should report 0")
	}

	task.totalLength.Store(200)
	if task.Progress() != 5 {
		t.Errorf("Progress = %d", task.Progress())
	}

	task.bytesRead.Store(200)
	if task.Progress() != 100 {
		t.Errorf("Progress = %d, want 100", task.Progress())
	}

	task.bytesRead.Store(300)
	if task.Progress() != 0 {
		t.Errorf("out-of-range Progress should be 0, got %d", task.Progress())
	}
}
