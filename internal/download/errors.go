package download

import (
	"errors"
	"fmt"
)

// ErrAlreadyExecuted is returned by Execute on a task that has been run.
var ErrAlreadyExecuted = errors.New("download: task already executed")

// Reasons carried by TaskStoppedError.
const (
	ReasonNotRunning      = "not running"
	ReasonFileComplete    = "file complete"
	ReasonCreateDirectory = "create directory"
	ReasonOpenTempFile    = "open temp file"
)

// TaskStoppedError reports that a task finished its setup phase without
// starting a transfer. ReasonFileComplete is a successful outcome: the
// episode was already on disk.
type TaskStoppedError struct {
	Reason string
	Err    error
}

func (e *TaskStoppedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("download: task stopped: %s: %v", e.Reason, e.Err)
	}
	return "download: task stopped: " + e.Reason
}

func (e *TaskStoppedError) Unwrap() error {
	return e.Err
}

// IsStoppedFor reports whether err is a TaskStoppedError with the given reason.
func IsStoppedFor(err error, reason string) bool {
	var stopped *TaskStoppedError
	return errors.As(err, &stopped) && stopped.Reason == reason
}
