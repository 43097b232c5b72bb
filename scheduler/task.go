package scheduler

import (
	"context"
	"fmt"
	"time"
)

// Runner is the body of a task. ctx is cancelled by Stop.
type Runner func(ctx context.Context) error

type taskKind int

const (
	periodic taskKind = iota
	oneShot
)

func (k taskKind) String() string {
	if k == oneShot {
		return "once"
	}
	return "periodic"
}

type task struct {
	id        string
	name      string
	run       Runner
	kind      taskKind
	interval  time.Duration
	nextRunAt time.Time
}

// EveryOptions configures a periodic task
type EveryOptions struct {
	Interval   time.Duration
	StartDelay time.Duration
	Name       string // Defaults to the task id
}

// OnceOptions configures a one-shot task
type OnceOptions struct {
	Delay time.Duration
	Name  string
}

// TaskError reports a runner that failed or panicked.
// It is logged by the run loop and never stops it.
type TaskError struct {
	ID    string
	Name  string
	Err   error
	Panic bool
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %s: %v", e.Name, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

// invoke runs the task body, converting a panic into a TaskError.
func (t *task) invoke(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &TaskError{ID: t.id, Name: t.name, Err: fmt.Errorf("panic: %v", r), Panic: true}
		}
	}()
	if err := t.run(ctx); err != nil {
		return &TaskError{ID: t.id, Name: t.name, Err: err}
	}
	return nil
}
