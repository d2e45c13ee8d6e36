package pool

import (
	"errors"
	"fmt"
)

var (
	ErrNotInitialized = errors.New("pool not initialized")
	ErrInitTimeout    = errors.New("execution unit initialization timed out")
	ErrUnitInit       = errors.New("execution unit failed to initialize")
	ErrShuttingDown   = errors.New("pool is shutting down")
	ErrUnitTerminated = errors.New("execution unit terminated")
)

// TaskError is the rejection reason attached to a task's future.
// Unit is -1 when the task never reached a unit.
type TaskError struct {
	TaskID string
	Unit   int
	Err    error
}

func (e *TaskError) Error() string {
	if e.Unit < 0 {
		return fmt.Sprintf("task %s: %v", e.TaskID, e.Err)
	}
	return fmt.Sprintf("task %s on unit %d: %v", e.TaskID, e.Unit, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }
