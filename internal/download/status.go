package download

import (
	"errors"
	"log/slog"
	"net/url"
	"path/filepath"
	"sync"
	"time"

	"github.com/handiism/podcatcher/internal/model"
)

// ErrStatusClosed is returned by Register after Close.
var ErrStatusClosed = errors.New("download: status manager closed")

// DefaultStatusInterval is how often the transfer rate is recomputed.
const DefaultStatusInterval = time.Second

// Status is an aggregate snapshot across all registered tasks.
type Status struct {
	// Speed is the smoothed transfer rate in KB/s.
	Speed float64

	TotalDownloads      int
	CurrentDownloads    int
	CompletedDownloads  int
	FailedDownloads     int
	SuccessfulDownloads int

	// Progress is the overall percentage, or -1 when it is unknown or has
	// reached 100.
	Progress int

	BytesDownloaded int64
	TotalLength     int64
}

// CompletedEvent is published once for every task that ends Completed with
// a resolved local path.
type CompletedEvent struct {
	Task     *Task
	Episode  *model.Episode
	LocalURI string
}

// StatusObserver receives StatusManager events. Nil callbacks are skipped.
type StatusObserver struct {
	OnStatusUpdated     func(Status)
	OnDownloadCompleted func(CompletedEvent)
	OnTaskStarted       func(*Task)
	OnTaskStopped       func(*Task)
	OnTaskFinished      func(*Task)
}

// StatusOptions configures a StatusManager.
type StatusOptions struct {
	// Interval between rate computations. Defaults to DefaultStatusInterval.
	Interval time.Duration

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time

	Logger *slog.Logger
}

type statusEntry struct {
	task    *Task
	bytes   int64
	length  int64
	running bool // Started was counted in currentDownloads
}

// StatusManager aggregates progress across download tasks.
//
// Register every task before executing it. The manager counts bytes,
// lengths and outcomes per episode and, while at least one download is
// running, recomputes a smoothed transfer rate on a fixed interval and
// publishes a Status snapshot to its observers.
//
// Example:
//
//	status := download.NewStatusManager(download.StatusOptions{})
//	defer status.Close()
//
//	status.Subscribe(&download.StatusObserver{
//	    OnStatusUpdated: func(s download.Status) {
//	        fmt.Printf("%.1f KB/s, %d%%\n", s.Speed, s.Progress)
//	    },
//	})
type StatusManager struct {
	interval time.Duration
	now      func() time.Time
	log      *slog.Logger

	mu                  sync.Mutex
	bytesDownloaded     int64
	bytesDownloadedPrev int64
	speed               float64
	speedPrev           float64
	totalLength         int64
	currentDownloads    int
	totalDownloads      int
	failedDownloads     int
	successfulDownloads int
	progress            int
	lastTick            time.Time
	stopTick            chan struct{}
	closed              bool

	entries    map[string]*statusEntry
	subscribed map[*Task]bool

	// attached holds every task carrying our observer. Reset keeps it so a
	// task registered again after a Reset is not subscribed twice.
	attached map[*Task]bool

	obsMu     sync.RWMutex
	observers []*StatusObserver
}

// NewStatusManager creates a StatusManager. The rate timer is only armed
// while downloads are running.
func NewStatusManager(opts StatusOptions) *StatusManager {
	if opts.Interval <= 0 {
		opts.Interval = DefaultStatusInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &StatusManager{
		interval:   opts.Interval,
		now:        opts.Now,
		log:        opts.Logger,
		progress:   -1,
		entries:    make(map[string]*statusEntry),
		subscribed: make(map[*Task]bool),
		attached:   make(map[*Task]bool),
	}
}

// Subscribe adds an observer.
func (m *StatusManager) Subscribe(o *StatusObserver) {
	m.obsMu.Lock()
	m.observers = append(m.observers, o)
	m.obsMu.Unlock()
}

// Register starts tracking task. Registering the same task twice is a
// no-op. Registering a new task for an episode that has not finished yet
// (a retry) replaces the previous task without counting the episode again.
func (m *StatusManager) Register(task *Task) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrStatusClosed
	}
	if m.subscribed[task] {
		m.mu.Unlock()
		return nil
	}

	length := task.Length()
	if length < 0 {
		length = 0
	}

	key := task.Episode().Key
	if entry, ok := m.entries[key]; ok {
		delete(m.subscribed, entry.task)
		if entry.running {
			m.decRunningLocked()
		}
		m.bytesDownloaded -= entry.bytes
		m.bytesDownloadedPrev -= entry.bytes
		m.totalLength += length - entry.length
		entry.task = task
		entry.bytes = 0
		entry.length = length
		entry.running = false
	} else {
		m.entries[key] = &statusEntry{task: task, length: length}
		m.totalDownloads++
		m.totalLength += length
	}
	m.subscribed[task] = true
	attach := !m.attached[task]
	m.attached[task] = true
	m.updateProgressLocked()
	status := m.snapshotLocked()
	m.mu.Unlock()

	if attach {
		task.Subscribe(&TaskObserver{
			OnStarted:         m.handleStarted,
			OnStopped:         m.handleStopped,
			OnFinished:        m.handleFinished,
			OnLengthChanged:   m.handleLengthChanged,
			OnProgressChanged: m.handleProgress,
		})
	}

	m.publishStatus(status)
	return nil
}

// Reset zeroes every counter, forgets all tasks and disarms the timer.
// Events from tasks registered before the Reset are ignored unless the
// task is registered again. A task registered again while it is already
// running is not counted in CurrentDownloads.
func (m *StatusManager) Reset() {
	m.mu.Lock()
	m.disarmLocked()
	m.bytesDownloaded = 0
	m.bytesDownloadedPrev = 0
	m.speed = 0
	m.speedPrev = 0
	m.totalLength = 0
	m.currentDownloads = 0
	m.totalDownloads = 0
	m.failedDownloads = 0
	m.successfulDownloads = 0
	m.progress = -1
	m.lastTick = time.Time{}
	m.entries = make(map[string]*statusEntry)
	m.subscribed = make(map[*Task]bool)
	m.mu.Unlock()
}

// Close stops the timer. Tasks already registered keep updating counters.
func (m *StatusManager) Close() {
	m.mu.Lock()
	m.closed = true
	m.disarmLocked()
	m.mu.Unlock()
}

// Status returns the current snapshot.
func (m *StatusManager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// TransferRate returns the smoothed rate in KB/s.
func (m *StatusManager) TransferRate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.speed
}

// Progress returns the overall percentage, or -1 when it is unknown or
// complete.
func (m *StatusManager) Progress() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.progress
}

// CurrentDownloads returns how many tasks are running.
func (m *StatusManager) CurrentDownloads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentDownloads
}

// CompletedDownloads returns how many tasks ended, successfully or not.
func (m *StatusManager) CompletedDownloads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failedDownloads + m.successfulDownloads
}

// TotalDownloads returns how many episodes are being tracked.
func (m *StatusManager) TotalDownloads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalDownloads
}

// FailedDownloads returns how many episodes ended Failed.
func (m *StatusManager) FailedDownloads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failedDownloads
}

// TotalLength returns the sum of known episode lengths.
func (m *StatusManager) TotalLength() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalLength
}

// BytesDownloaded returns the bytes counted across all tracked episodes.
func (m *StatusManager) BytesDownloaded() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bytesDownloaded
}

func (m *StatusManager) handleStarted(t *Task) {
	m.mu.Lock()
	entry := m.currentEntryLocked(t)
	if entry == nil || entry.running {
		m.mu.Unlock()
		return
	}
	entry.running = true
	m.incRunningLocked()
	m.mu.Unlock()

	m.publish(func(o *StatusObserver) {
		if o.OnTaskStarted != nil {
			o.OnTaskStarted(t)
		}
	})
}

func (m *StatusManager) handleStopped(t *Task) {
	m.mu.Lock()
	entry := m.currentEntryLocked(t)
	if entry == nil || !entry.running {
		m.mu.Unlock()
		return
	}
	entry.running = false
	m.decRunningLocked()
	status := m.snapshotLocked()
	m.mu.Unlock()

	m.publish(func(o *StatusObserver) {
		if o.OnTaskStopped != nil {
			o.OnTaskStopped(t)
		}
	})
	m.publishStatus(status)
}

// currentEntryLocked returns the entry t is tracked by, or nil when t was
// replaced by a retry or forgotten by Reset.
func (m *StatusManager) currentEntryLocked(t *Task) *statusEntry {
	if t == nil || !m.subscribed[t] {
		return nil
	}
	entry := m.entries[t.Episode().Key]
	if entry == nil || entry.task != t {
		return nil
	}
	return entry
}

func (m *StatusManager) incRunningLocked() {
	m.currentDownloads++
	if m.currentDownloads == 1 {
		m.armLocked()
	}
}

func (m *StatusManager) decRunningLocked() {
	if m.currentDownloads > 0 {
		m.currentDownloads--
	}
	if m.currentDownloads == 0 {
		m.disarmLocked()
		m.speed = 0
		m.speedPrev = 0
	}
}

func (m *StatusManager) handleLengthChanged(ev LengthChangedEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := m.entries[ev.Task.Episode().Key]
	if entry == nil || entry.task != ev.Task {
		return
	}
	current := ev.Current
	if current < 0 {
		current = 0
	}
	m.totalLength += current - entry.length
	entry.length = current
	m.updateProgressLocked()
}

func (m *StatusManager) handleProgress(ev ProgressEvent) {
	if !ev.Episode.Active() {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entry := m.entries[ev.Episode.Key]
	if entry == nil || entry.task != ev.Task {
		return
	}
	entry.bytes += ev.BytesThisInterval
	m.bytesDownloaded += ev.BytesThisInterval
	if ev.BytesThisInterval < 0 {
		m.bytesDownloadedPrev += ev.BytesThisInterval
	}
	m.updateProgressLocked()
}

func (m *StatusManager) handleFinished(t *Task) {
	ep := t.Episode()

	m.mu.Lock()
	delete(m.attached, t)
	entry := m.currentEntryLocked(t)
	if entry == nil {
		m.mu.Unlock()
		return
	}
	if entry.running {
		entry.running = false
		m.decRunningLocked()
	}
	delete(m.entries, ep.Key)
	delete(m.subscribed, t)
	m.log.Debug("download finished", "episode", ep.Key, "state", ep.State())

	var completed *CompletedEvent
	switch ep.State() {
	case model.StateCompleted:
		m.successfulDownloads++
		if p := ep.LocalPath(); p != "" {
			completed = &CompletedEvent{Task: t, Episode: ep, LocalURI: fileURI(p)}
		}
	case model.StateFailed:
		m.removeEntryLocked(entry)
		m.failedDownloads++
	default:
		m.removeEntryLocked(entry)
		m.totalDownloads--
	}
	m.updateProgressLocked()
	status := m.snapshotLocked()
	m.mu.Unlock()

	if completed != nil {
		m.publish(func(o *StatusObserver) {
			if o.OnDownloadCompleted != nil {
				o.OnDownloadCompleted(*completed)
			}
		})
	}
	m.publish(func(o *StatusObserver) {
		if o.OnTaskFinished != nil {
			o.OnTaskFinished(t)
		}
	})
	m.publishStatus(status)
}

func (m *StatusManager) removeEntryLocked(entry *statusEntry) {
	m.bytesDownloaded -= entry.bytes
	m.bytesDownloadedPrev -= entry.bytes
	m.totalLength -= entry.length
}

// tick recomputes the transfer rate as the mean of the rate measured over
// the last interval and the previous smoothed rate.
func (m *StatusManager) tick(now time.Time) {
	m.mu.Lock()
	status, ok := m.tickLocked(now)
	m.mu.Unlock()

	if ok {
		m.publishStatus(status)
	}
}

// timerTick runs a tick for the timer owning stop. A timer that was
// disarmed while waiting for the lock does nothing.
func (m *StatusManager) timerTick(stop chan struct{}) {
	m.mu.Lock()
	if m.stopTick != stop {
		m.mu.Unlock()
		return
	}
	status, ok := m.tickLocked(m.now())
	m.mu.Unlock()

	if ok {
		m.publishStatus(status)
	}
}

func (m *StatusManager) tickLocked(now time.Time) (Status, bool) {
	if m.currentDownloads == 0 {
		return Status{}, false
	}
	elapsed := now.Sub(m.lastTick).Seconds()
	if elapsed <= 0 {
		return Status{}, false
	}

	instant := float64(m.bytesDownloaded-m.bytesDownloadedPrev) / 1024 / elapsed
	m.speed = (instant + m.speedPrev) / 2
	m.speedPrev = m.speed
	m.bytesDownloadedPrev = m.bytesDownloaded
	m.lastTick = now
	m.updateProgressLocked()
	return m.snapshotLocked(), true
}

func (m *StatusManager) armLocked() {
	if m.stopTick != nil || m.closed {
		return
	}
	m.lastTick = m.now()
	m.bytesDownloadedPrev = m.bytesDownloaded

	stop := make(chan struct{})
	m.stopTick = stop
	ticker := time.NewTicker(m.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				m.timerTick(stop)
			}
		}
	}()
}

func (m *StatusManager) disarmLocked() {
	if m.stopTick != nil {
		close(m.stopTick)
		m.stopTick = nil
	}
}

func (m *StatusManager) updateProgressLocked() {
	raw := -1
	if m.totalLength > 0 {
		raw = int(m.bytesDownloaded * 100 / m.totalLength)
	}
	m.progress = progressSentinel(raw)
}

// progressSentinel maps a raw percentage to the published value: -1 means
// there is nothing meaningful to show, either because the total is unknown
// or because everything has arrived.
func progressSentinel(raw int) int {
	if raw <= -1 || raw >= 100 {
		return -1
	}
	return raw
}

func (m *StatusManager) snapshotLocked() Status {
	return Status{
		Speed:               m.speed,
		TotalDownloads:      m.totalDownloads,
		CurrentDownloads:    m.currentDownloads,
		CompletedDownloads:  m.failedDownloads + m.successfulDownloads,
		FailedDownloads:     m.failedDownloads,
		SuccessfulDownloads: m.successfulDownloads,
		Progress:            m.progress,
		BytesDownloaded:     m.bytesDownloaded,
		TotalLength:         m.totalLength,
	}
}

func (m *StatusManager) publishStatus(s Status) {
	m.publish(func(o *StatusObserver) {
		if o.OnStatusUpdated != nil {
			o.OnStatusUpdated(s)
		}
	})
}

func (m *StatusManager) publish(fn func(*StatusObserver)) {
	m.obsMu.RLock()
	observers := append([]*StatusObserver(nil), m.observers...)
	m.obsMu.RUnlock()
	for _, o := range observers {
		fn(o)
	}
}

func fileURI(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		p = abs
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(p)}).String()
}
