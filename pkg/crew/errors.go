package crew

import (
	"errors"
	"fmt"
)

// ErrUnknownCoworker is reported back to a delegating role that named nobody on the crew.
var ErrUnknownCoworker = errors.New("unknown coworker")

// TaskError reports which task, run by which role, aborted the crew.
type TaskError struct {
	Err  error
	Task string
	Role string
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("crew task %s (%s) failed: %v", e.Task, e.Role, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }
