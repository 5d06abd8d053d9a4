package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	ioutils "github.com/handiism/podcatcher/internal/io"
	"github.com/handiism/podcatcher/internal/model"
	"github.com/handiism/podcatcher/internal/transport"
)

// Defaults applied by NewTask to zero Options fields.
const (
	DefaultTempExtension = ".partial"
	DefaultBufferSize    = 64 * 1024
)

// Options configures a Task.
type Options struct {
	// TempDir is the root under which in-flight downloads are staged.
	// Defaults to <os.TempDir()>/podcatcher.
	TempDir string

	// TempExtension is appended to temp file names.
	TempExtension string

	// BufferSize is the maximum chunk read from the stream at a time.
	BufferSize int

	// FileSystem performs all file operations. Defaults to OSFileSystem.
	FileSystem ioutils.FileSystem

	// Logger receives diagnostics. Defaults to slog.Default().
	Logger *slog.Logger

	// Retry is consulted when the task ends Failed. Returning true keeps
	// the episode active, so Finished is not emitted and the owner may
	// run a new task for the same episode.
	Retry func(*Task) bool
}

func (o Options) withDefaults() Options {
	if o.TempDir == "" {
		o.TempDir = filepath.Join(os.TempDir(), "podcatcher")
	}
	if o.TempExtension == "" {
		o.TempExtension = DefaultTempExtension
	}
	if o.BufferSize <= 0 {
		o.BufferSize = DefaultBufferSize
	}
	if o.FileSystem == nil {
		o.FileSystem = ioutils.OSFileSystem{}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Task transfers one episode to local disk.
//
// A task is single-use: Execute starts a worker goroutine that resolves the
// temp and final paths, resumes from a previous partial download if one is
// usable, streams the remaining bytes and finally moves the file into place
// or cleans up. Cancellation is cooperative: the worker checks the episode
// state between chunks, so call Cancel (or Episode.RequestCancel) from any
// goroutine and wait on Done.
//
// Example:
//
//	task, err := download.Create(registry, ep, download.Options{TempDir: tmp})
//	if err != nil {
//	    return err
//	}
//	status.Register(task)
//	task.Execute()
//	task.Wait()
type Task struct {
	id        string
	episode   *model.Episode
	transport transport.Transport
	opts      Options
	log       *slog.Logger
	uri       string

	executed    atomic.Bool
	bytesRead   atomic.Int64
	totalLength atomic.Int64

	// worker-only
	file        *os.File
	tempModTime time.Time

	mu        sync.Mutex
	finalPath string
	tempPath  string
	staged    bool // temp file holds the transfer and must be moved on completion
	err       error

	done chan struct{}

	obsMu     sync.RWMutex
	observers []*TaskObserver
}

// NewTask creates a task that downloads ep through tr.
func NewTask(ep *model.Episode, tr transport.Transport, opts Options) *Task {
	opts = opts.withDefaults()
	id := uuid.NewString()
	fileName := DeriveFileName(ep.URI)

	t := &Task{
		id:        id,
		episode:   ep,
		transport: tr,
		opts:      opts,
		log:       opts.Logger.With("task", id, "episode", ep.Key),
		uri:       ep.URI,
		finalPath: filepath.Join(ep.Directory, fileName),
		tempPath:  TempPath(opts.TempDir, ep.URI, fileName, ep.Key, opts.TempExtension),
		done:      make(chan struct{}),
	}
	t.totalLength.Store(ep.Length())
	return t
}

// Create looks up the transport for the episode's URI scheme and returns a
// task using it. It fails with *transport.UnsupportedSchemeError when no
// transport is registered for the scheme.
func Create(reg *transport.Registry, ep *model.Episode, opts Options) (*Task, error) {
	tr, err := reg.Lookup(ep.URI)
	if err != nil {
		return nil, err
	}
	return NewTask(ep, tr, opts), nil
}

// Execute starts the transfer and returns immediately.
func (t *Task) Execute() error {
	return t.ExecuteContext(context.Background())
}

// ExecuteContext is like Execute. ctx bounds the transport calls; when it
// ends the transfer stops as Failed and the temp file is kept for resume.
func (t *Task) ExecuteContext(ctx context.Context) error {
	if !t.executed.CompareAndSwap(false, true) {
		return ErrAlreadyExecuted
	}

	t.emitStarted()
	if !t.episode.CompareAndSwapState(model.StateQueued, model.StateRunning) {
		t.episode.CompareAndSwapState(model.StateReady, model.StateRunning)
	}

	go t.run(ctx)
	return nil
}

// ID returns a unique identifier for this task.
func (t *Task) ID() string { return t.id }

// Episode returns the episode being downloaded.
func (t *Task) Episode() *model.Episode { return t.episode }

// Length returns the expected length in bytes, or -1 if unknown.
func (t *Task) Length() int64 { return t.totalLength.Load() }

// BytesReceived returns how many bytes are in the temp file.
func (t *Task) BytesReceived() int64 { return t.bytesRead.Load() }

// Progress returns the completion percentage in 0..100. It is 0 while the
// length is unknown, nothing has been received, or more bytes arrived than
// the length announced.
func (t *Task) Progress() int {
	total := t.Length()
	read := t.BytesReceived()
	if total <= 0 || read <= 0 {
		return 0
	}
	p := read * 100 / total
	if p < 0 || p > 100 {
		return 0
	}
	return int(p)
}

// FinalPath returns where the completed file is (or will be) placed.
func (t *Task) FinalPath() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.finalPath
}

// TempPath returns where the in-flight download is staged.
func (t *Task) TempPath() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tempPath
}

// Err returns the error that stopped the transfer, if any. It is only
// meaningful after Done is closed.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Cancel asks the worker to stop and discard the temp file.
func (t *Task) Cancel() bool {
	return t.episode.RequestCancel()
}

// Done is closed once the worker has stopped and emitted its final events.
func (t *Task) Done() <-chan struct{} { return t.done }

// Wait blocks until the worker has stopped.
func (t *Task) Wait() { <-t.done }

func (t *Task) run(ctx context.Context) {
	defer close(t.done)
	err := t.transfer(ctx)
	t.stop(err)
}

func (t *Task) transfer(ctx context.Context) error {
	f, offset, err := t.prepare()
	if err != nil {
		return err
	}
	t.file = f

	stream, err := t.open(ctx, offset)
	if err != nil {
		return err
	}
	defer stream.Body.Close()

	buf := make([]byte, t.opts.BufferSize)
	for t.episode.State() == model.StateRunning {
		n, rerr := stream.Body.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				return fmt.Errorf("write temp file: %w", werr)
			}
			t.bytesRead.Add(int64(n))
			t.emitProgress(int64(n))
		}
		if errors.Is(rerr, io.EOF) {
			return nil
		}
		if rerr != nil {
			return fmt.Errorf("read stream: %w", rerr)
		}
	}
	return nil
}

// prepare resolves paths, detects already complete and resumable files and
// opens the temp file for appending.
func (t *Task) prepare() (*os.File, int64, error) {
	if t.episode.State() != model.StateRunning {
		return nil, 0, &TaskStoppedError{Reason: ReasonNotRunning}
	}

	fsys := t.opts.FileSystem
	tempPath := t.TempPath()
	if err := fsys.MkdirAll(filepath.Dir(tempPath)); err != nil {
		return nil, 0, &TaskStoppedError{Reason: ReasonCreateDirectory, Err: err}
	}

	total := t.Length()

	finalPath := t.FinalPath()
	if info, err := fsys.Stat(finalPath); err == nil {
		if total > 0 && info.Size() == total {
			t.bytesRead.Store(total)
			t.emitProgress(total)
			if t.episode.CompareAndSwapState(model.StateRunning, model.StateCompleted) {
				t.episode.SetLocalPath(finalPath)
			}
			return nil, 0, &TaskStoppedError{Reason: ReasonFileComplete}
		}
		t.setFinalPath(disambiguate(finalPath))
	}

	var offset int64
	if info, err := fsys.Stat(tempPath); err == nil {
		size := info.Size()
		lastModified := t.episode.LastModified()
		switch {
		case total >= 0 && size > total:
			t.log.Debug("discarding temp file longer than episode", "path", tempPath, "size", size, "length", total)
			t.discardTemp(tempPath)
		case !lastModified.IsZero() && lastModified.After(info.ModTime()):
			t.log.Debug("discarding temp file older than remote", "path", tempPath)
			t.discardTemp(tempPath)
		default:
			offset = size
			t.tempModTime = info.ModTime()
			if size > 0 {
				t.bytesRead.Store(size)
				t.emitProgress(size)
			}
			if total > 0 && size == total {
				t.setStaged()
				t.episode.CompareAndSwapState(model.StateRunning, model.StateCompleted)
				return nil, 0, &TaskStoppedError{Reason: ReasonFileComplete}
			}
		}
	}

	f, err := fsys.OpenAppend(tempPath)
	if err != nil {
		return nil, 0, &TaskStoppedError{Reason: ReasonOpenTempFile, Err: err}
	}
	t.setStaged()
	return f, offset, nil
}

// open opens the remote stream at offset and reconciles what the transport
// reports with local state.
func (t *Task) open(ctx context.Context, offset int64) (*transport.Stream, error) {
	stream, err := t.transport.OpenStream(ctx, t.uri, offset)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}

	if offset > 0 && stream.Offset == offset && stream.LastModified.After(t.tempModTime) {
		t.log.Debug("remote changed since partial download, restarting")
		stream.Body.Close()
		if err := t.rewind(0); err != nil {
			return nil, err
		}
		if stream, err = t.transport.OpenStream(ctx, t.uri, 0); err != nil {
			return nil, fmt.Errorf("open stream: %w", err)
		}
	}

	if stream.Offset != t.BytesReceived() {
		if err := t.rewind(stream.Offset); err != nil {
			stream.Body.Close()
			return nil, err
		}
	}

	if cl := stream.ContentLength; cl >= 0 {
		if prev := t.Length(); cl != prev {
			t.totalLength.Store(cl)
			t.episode.SetLength(cl)
			t.emitLengthChanged(prev, cl)
		}
	}

	if !stream.LastModified.IsZero() {
		t.episode.SetLastModified(stream.LastModified)
	}
	if mt := stream.MimeType; mt != "" && mt != t.episode.MimeType() {
		t.episode.SetMimeType(mt)
		t.emitMimeTypeChanged(mt)
	}
	return stream, nil
}

// rewind truncates the temp file to offset and reports the lost bytes as a
// negative progress delta.
func (t *Task) rewind(offset int64) error {
	read := t.BytesReceived()
	if offset > read {
		return fmt.Errorf("download: stream starts at %d beyond local %d", offset, read)
	}
	if err := t.file.Truncate(offset); err != nil {
		return fmt.Errorf("truncate temp file: %w", err)
	}
	t.bytesRead.Store(offset)
	t.emitProgress(offset - read)
	return nil
}

func (t *Task) stop(err error) {
	if t.file != nil {
		if cerr := t.file.Close(); cerr != nil {
			t.log.Debug("close temp file", "error", cerr)
		}
		t.file = nil
	}

	ep := t.episode
	if err != nil && !IsStoppedFor(err, ReasonNotRunning) && !IsStoppedFor(err, ReasonFileComplete) {
		t.mu.Lock()
		t.err = err
		t.mu.Unlock()
		t.log.Warn("transfer stopped", "error", err, "bytes", t.BytesReceived())
		ep.CompareAndSwapState(model.StateRunning, model.StateFailed)
	}

	// A cancel landing here wins; onStop finishes it.
	next := model.StateCancelRequested
	if ep.Active() {
		next = t.determineTerminalState()
	}
	ep.CompareAndSwapState(model.StateRunning, next)

	t.onStop()
}

func (t *Task) determineTerminalState() model.State {
	read, total := t.BytesReceived(), t.Length()
	switch {
	case read == 0:
		return model.StateFailed
	case read == total || total == -1:
		return model.StateCompleted
	default:
		return model.StateFailed
	}
}

func (t *Task) onStop() {
	ep := t.episode

	switch ep.State() {
	case model.StateCancelRequested:
		ep.SetState(model.StateCanceled)
		t.removeTemp()
	case model.StateCompleted:
		t.mu.Lock()
		staged := t.staged
		t.mu.Unlock()
		if staged {
			if err := t.moveToFinal(); err != nil {
				t.log.Warn("move to final path", "error", err)
				t.mu.Lock()
				t.err = err
				t.mu.Unlock()
				ep.SetState(model.StateFailed)
			}
		}
	case model.StateQueued:
		ep.SetState(model.StateReady)
	}

	switch ep.State() {
	case model.StateCompleted, model.StateCanceled:
		ep.SetActive(false)
	case model.StateFailed:
		if t.opts.Retry == nil || !t.opts.Retry(t) {
			ep.SetActive(false)
		}
	}

	t.emitStopped()
	if !ep.Active() {
		t.emitFinished()
	}
}

func (t *Task) moveToFinal() error {
	fsys := t.opts.FileSystem
	final := t.FinalPath()
	temp := t.TempPath()

	if err := fsys.MkdirAll(filepath.Dir(final)); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	if _, err := fsys.Stat(final); err == nil {
		final = disambiguate(final)
		t.setFinalPath(final)
	}
	if err := fsys.Rename(temp, final); err != nil {
		return err
	}

	if err := fsys.RemoveEmptyDirs(filepath.Dir(temp), t.opts.TempDir); err != nil {
		t.log.Debug("remove empty temp directories", "error", err)
	}

	t.episode.SetLocalPath(final)
	t.emitFilePathChanged(final)
	return nil
}

func (t *Task) discardTemp(path string) {
	if err := t.opts.FileSystem.Remove(path); err != nil {
		t.log.Debug("remove temp file", "path", path, "error", err)
	}
}

// removeTemp deletes the temp file and any temp directories it leaves empty.
func (t *Task) removeTemp() {
	fsys := t.opts.FileSystem
	temp := t.TempPath()
	t.discardTemp(temp)
	if err := fsys.RemoveEmptyDirs(filepath.Dir(temp), t.opts.TempDir); err != nil {
		t.log.Debug("remove empty temp directories", "error", err)
	}
}

func (t *Task) setStaged() {
	t.mu.Lock()
	t.staged = true
	t.mu.Unlock()
}

func (t *Task) setFinalPath(p string) {
	t.mu.Lock()
	t.finalPath = p
	t.mu.Unlock()
}
