package scheduler

import "errors"

var (
	// ErrSchedulerNotRunning rejects runs submitted before Start or after Stop.
	ErrSchedulerNotRunning = errors.New("scheduler: not running")

	// ErrRunQueueFull rejects a run when every queued slot is taken.
	ErrRunQueueFull = errors.New("scheduler: run queue full")

	ErrInvalidConfig = errors.New("scheduler: invalid configuration")

	// ErrCascadeFailed wraps the failure reason of a scheduled cascade.
	ErrCascadeFailed = errors.New("scheduler: cascade failed")
)
