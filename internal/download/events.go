package download

import "github.com/handiism/podcatcher/internal/model"

// ProgressEvent is emitted after every chunk written to the temp file, and
// once when a resume offset or an already complete file is detected.
//
// BytesThisInterval is the delta since the previous event. It is negative
// when a transfer has to restart from an earlier offset.
type ProgressEvent struct {
	Task              *Task
	Episode           *model.Episode
	Percent           int
	BytesReceived     int64
	TotalLength       int64
	BytesThisInterval int64
}

// LengthChangedEvent is emitted when the transport reports a content length
// different from the one the episode was created with.
type LengthChangedEvent struct {
	Task     *Task
	Previous int64
	Current  int64
}

// TaskObserver receives task events. Nil callbacks are skipped.
//
// Callbacks run on the task's worker goroutine, except OnStarted which runs
// on the goroutine calling Execute. Per task the order is
// Started, then LengthChanged and ProgressChanged in any number, then
// Stopped, then Finished if the episode is no longer wanted.
type TaskObserver struct {
	OnStarted         func(*Task)
	OnStopped         func(*Task)
	OnFinished        func(*Task)
	OnLengthChanged   func(LengthChangedEvent)
	OnProgressChanged func(ProgressEvent)
	OnFilePathChanged func(t *Task, path string)
	OnMimeTypeChanged func(t *Task, mimeType string)
}

// Subscribe adds an observer. Observers added after Execute only see the
// events emitted from then on.
func (t *Task) Subscribe(o *TaskObserver) {
	t.obsMu.Lock()
	t.observers = append(t.observers, o)
	t.obsMu.Unlock()
}

func (t *Task) snapshotObservers() []*TaskObserver {
	t.obsMu.RLock()
	defer t.obsMu.RUnlock()
	return append([]*TaskObserver(nil), t.observers...)
}

func (t *Task) emitStarted() {
	for _, o := range t.snapshotObservers() {
		if o.OnStarted != nil {
			o.OnStarted(t)
		}
	}
}

func (t *Task) emitStopped() {
	for _, o := range t.snapshotObservers() {
		if o.OnStopped != nil {
			o.OnStopped(t)
		}
	}
}

func (t *Task) emitFinished() {
	for _, o := range t.snapshotObservers() {
		if o.OnFinished != nil {
			o.OnFinished(t)
		}
	}
}

func (t *Task) emitLengthChanged(previous, current int64) {
	ev := LengthChangedEvent{Task: t, Previous: previous, Current: current}
	for _, o := range t.snapshotObservers() {
		if o.OnLengthChanged != nil {
			o.OnLengthChanged(ev)
		}
	}
}

func (t *Task) emitProgress(delta int64) {
	ev := ProgressEvent{
		Task:              t,
		Episode:           t.episode,
		Percent:           t.Progress(),
		BytesReceived:     t.BytesReceived(),
		TotalLength:       t.Length(),
		BytesThisInterval: delta,
	}
	for _, o := range t.snapshotObservers() {
		if o.OnProgressChanged != nil {
			o.OnProgressChanged(ev)
		}
	}
}

func (t *Task) emitFilePathChanged(path string) {
	for _, o := range t.snapshotObservers() {
		if o.OnFilePathChanged != nil {
			o.OnFilePathChanged(t, path)
		}
	}
}

func (t *Task) emitMimeTypeChanged(mimeType string) {
	for _, o := range t.snapshotObservers() {
		if o.OnMimeTypeChanged != nil {
			o.OnMimeTypeChanged(t, mimeType)
		}
	}
}
