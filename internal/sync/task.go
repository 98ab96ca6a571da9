// Package sync implements the synchronization engine: the task model, the
// multi-priority deduplicating queue, the single-worker driver loop, and
// the task catalog that reconciles local store state against the remote.
package sync

import (
	"context"
	"errors"
	gosync "sync"
	"time"

	"github.com/calebhart/reviewd/internal/domain/event"
)

// Priority selects a queue band. Bands drain in strict order: all High
// before any Normal before any Low; FIFO within a band.
type Priority int

const (
	PriorityHigh Priority = iota
	PriorityNormal
	PriorityLow

	numPriorities = 3
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// ErrWaitTimeout is returned by Wait when the task has not completed
// within the caller's deadline. The underlying work keeps running.
var ErrWaitTimeout = errors.New("timed out waiting for task")

// Task is one unit of synchronization work. Key is the task's idempotent
// identity: two tasks with equal keys would perform the same effect, so
// the queue collapses them. Run performs the work and may return the typed
// failures the driver loop classifies; retry is expressed by re-queuing an
// equal task or by the engine replaying the same task after an offline
// pause, never by task-internal state.
type Task interface {
	Key() string
	Run(ctx context.Context, e *Engine) error
	state() *taskState
}

// taskState is embedded by every concrete task. It carries the one-shot
// completion flag, accumulated result events, and spawned child tasks.
type taskState struct {
	done chan struct{}

	mu       gosync.Mutex
	err      error
	finished bool
	results  []event.Event
	children []Task
}

func newTaskState() taskState {
	return taskState{done: make(chan struct{})}
}

func (ts *taskState) state() *taskState { return ts }

// emit records a result event for publication after the task completes.
func (ts *taskState) emit(ev event.Event) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.results = append(ts.results, ev)
}

// spawn records a follow-up task this task enqueued, for tests and
// synchronous confirmation flows.
func (ts *taskState) spawn(t Task) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.children = append(ts.children, t)
}

// finish resolves the completion flag exactly once.
func (ts *taskState) finish(err error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.finished {
		return
	}
	ts.finished = true
	ts.err = err
	close(ts.done)
}

// Wait blocks until the task completes or timeout elapses. A zero timeout
// waits indefinitely. Returns the task's failure, or ErrWaitTimeout.
func (ts *taskState) Wait(timeout time.Duration) error {
	if timeout <= 0 {
		<-ts.done
		return ts.Err()
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ts.done:
		return ts.Err()
	case <-timer.C:
		return ErrWaitTimeout
	}
}

// Err returns the task's failure once it has completed.
func (ts *taskState) Err() error {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.err
}

// Results returns the events the task accumulated.
func (ts *taskState) Results() []event.Event {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	out := make([]event.Event, len(ts.results))
	copy(out, ts.results)
	return out
}

// Children returns the follow-up tasks this task enqueued.
func (ts *taskState) Children() []Task {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	out := make([]Task, len(ts.children))
	copy(out, ts.children)
	return out
}
