package model

// State is the lifecycle state of an episode download.
//
// The zero value is StateQueued. Transitions are driven by the owner
// (queueing, cancel requests) and by the download task (running and the
// terminal states):
//
//	Queued ──Execute──▶ Running ──▶ Completed | Failed
//	   │                   │
//	   │                   └─cancel─▶ CancelRequested ──▶ Canceled
//	   └──stopped before start──▶ Ready
type State int32

const (
	// StateQueued means the episode is waiting for a task to execute it.
	StateQueued State = iota

	// StateReady means a stop raced with scheduling; the episode may be
	// executed again by a fresh task.
	StateReady

	// StateRunning means a task is transferring the episode.
	StateRunning

	// StateCancelRequested asks the running task to stop after the
	// current chunk and discard its temp file.
	StateCancelRequested

	// StateCanceled is terminal: the transfer was abandoned.
	StateCanceled

	// StateCompleted is terminal: the file is at its final path.
	StateCompleted

	// StateFailed is terminal: the transfer stopped without completing.
	StateFailed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateQueued:
		return "Queued"
	case StateReady:
		return "Ready"
	case StateRunning:
		return "Running"
	case StateCancelRequested:
		return "CancelRequested"
	case StateCanceled:
		return "Canceled"
	case StateCompleted:
		return "Completed"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// IsTerminal reports whether no further transitions happen without a
// fresh Execute.
func (s State) IsTerminal() bool {
	return s == StateCanceled || s == StateCompleted || s == StateFailed
}
