package sync

import (
	"context"
	"log/slog"
	gosync "sync"
	"time"

	"github.com/calebhart/reviewd/internal/domain/event"
	"github.com/calebhart/reviewd/internal/domain/port/driven"
)

// defaultBackoff is how long the driver loop sleeps before replaying a
// task that failed with a connectivity-class error.
const defaultBackoff = 30 * time.Second

// eventBuffer sizes the results channel. Publishes never block; overflow
// events are dropped with a warning since the UI re-reads the store anyway.
const eventBuffer = 256

// State is a snapshot of the engine's Online/Offline machine, read by the
// status UI. Transitions are driven only by the driver loop.
type State struct {
	Offline   bool
	Since     time.Time
	RetryAt   time.Time
	LastError string
}

// Options carries the engine's collaborators and tunables.
type Options struct {
	Store    driven.Store
	Remote   driven.Remote
	Git      driven.GitMirror
	Username string        // login of the local user, for the hold rule
	Backoff  time.Duration // offline retry pause; defaults to 30s
}

// Engine owns the task queue and the single worker goroutine that drains
// it. Tasks run strictly one at a time; the interactive layer only ever
// reads through its own store sessions.
type Engine struct {
	queue    *Queue
	store    driven.Store
	remote   driven.Remote
	git      driven.GitMirror
	username string
	backoff  time.Duration

	events chan event.Event
	wake   chan struct{}

	mu    gosync.Mutex
	state State
}

// New creates an engine. Run must be started for work to happen.
func New(opts Options) *Engine {
	backoff := opts.Backoff
	if backoff <= 0 {
		backoff = defaultBackoff
	}

	return &Engine{
		queue:    NewQueue(),
		store:    opts.Store,
		remote:   opts.Remote,
		git:      opts.Git,
		username: opts.Username,
		backoff:  backoff,
		events:   make(chan event.Event, eventBuffer),
		wake:     make(chan struct{}, 1),
	}
}

// Enqueue submits a task at the given priority. Returns false when an
// equal task is already queued in that band; the duplicate is dropped.
func (e *Engine) Enqueue(t Task, p Priority) bool {
	added := e.queue.Put(t, p)
	if !added {
		slog.Debug("duplicate task dropped", "key", t.Key(), "priority", p.String())
	}
	return added
}

// Events returns the results channel consumed by the interactive layer.
func (e *Engine) Events() <-chan event.Event { return e.events }

// Wake returns the coalescable wake signal: one receive per burst of
// engine activity, never blocking the engine.
func (e *Engine) Wake() <-chan struct{} { return e.wake }

// State returns a snapshot of the Online/Offline machine.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// QueueSize reports queued plus in-flight task count.
func (e *Engine) QueueSize() int { return e.queue.Size() }

// RequestPullRequest enqueues a high-priority detail sync for one pull
// request, the entry point for the control socket's "open" command.
func (e *Engine) RequestPullRequest(repoFullName string, number int) {
	e.Enqueue(NewSyncPullRequestTask(repoFullName, number), PriorityHigh)
	e.notify()
}

// Run is the driver loop. It processes one task at a time until ctx is
// canceled. A connectivity-class failure flips the engine Offline, sleeps
// the backoff, and replays the same task; the next success flips it back
// Online. Restricted and generic failures complete the task as failed and
// move on.
func (e *Engine) Run(ctx context.Context) {
	go func() {
		<-ctx.Done()
		e.queue.Close()
	}()

	var current Task
	for {
		if current == nil {
			t, ok := e.queue.Get()
			if !ok {
				return
			}
			current = t
		}

		err := current.Run(ctx, e)

		switch {
		case err == nil:
			e.queue.Complete(current)
			current.state().finish(nil)
			e.publishResults(current)
			e.setOnline("")
			e.notify()
			current = nil

		case ctx.Err() != nil:
			e.queue.Complete(current)
			current.state().finish(ctx.Err())
			return

		case driven.IsOffline(err):
			e.enterOffline(current, err)
			e.notify()
			if !e.pause(ctx) {
				e.queue.Complete(current)
				current.state().finish(ctx.Err())
				return
			}
			// Replay the same task object on the next iteration.

		case driven.IsRestricted(err):
			slog.Error("task blocked by organization restriction", "key", current.Key(), "error", err)
			e.queue.Complete(current)
			current.state().finish(err)
			e.publishResults(current)
			e.setOnline(err.Error())
			e.notify()
			current = nil

		default:
			slog.Error("task failed", "key", current.Key(), "error", err)
			e.queue.Complete(current)
			current.state().finish(err)
			e.publishResults(current)
			e.setOnline(err.Error())
			e.notify()
			current = nil
		}
	}
}

// enterOffline flips the state machine Offline. On the Online→Offline
// edge it enqueues a high-priority flush of pending uploads so queued
// local edits go out first once connectivity returns.
func (e *Engine) enterOffline(t Task, err error) {
	e.mu.Lock()
	wasOffline := e.state.Offline
	now := time.Now()
	if !wasOffline {
		e.state = State{Offline: true, Since: now, LastError: err.Error()}
	}
	e.state.RetryAt = now.Add(e.backoff)
	e.mu.Unlock()

	if !wasOffline {
		slog.Warn("remote unreachable, engine offline", "task", t.Key(), "retry_in", e.backoff, "error", err)
		e.queue.Put(NewFlushPendingTask(), PriorityHigh)
		e.publish(event.EngineStatusChanged{Offline: true, Error: err.Error()})
	}
}

// setOnline clears the offline flag after any completed task, keeping the
// last surfaced error for the status bar.
func (e *Engine) setOnline(lastError string) {
	e.mu.Lock()
	wasOffline := e.state.Offline
	e.state = State{LastError: lastError}
	e.mu.Unlock()

	if wasOffline {
		slog.Info("engine back online")
		e.publish(event.EngineStatusChanged{Offline: false, Error: lastError})
	}
}

// pause sleeps the backoff interval. Returns false when ctx was canceled.
func (e *Engine) pause(ctx context.Context) bool {
	timer := time.NewTimer(e.backoff)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// publishResults pushes every result event of a finished task to the
// results channel.
func (e *Engine) publishResults(t Task) {
	for _, ev := range t.state().Results() {
		e.publish(ev)
	}
}

// publish sends without blocking; a full channel drops the event.
func (e *Engine) publish(ev event.Event) {
	select {
	case e.events <- ev:
	default:
		slog.Warn("event channel full, dropping event")
	}
}

// notify pokes the wake channel without blocking; pending pokes coalesce.
func (e *Engine) notify() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// enqueueChild submits a follow-up task and records it on the parent.
func (e *Engine) enqueueChild(parent Task, child Task, p Priority) {
	if e.Enqueue(child, p) {
		parent.state().spawn(child)
	}
}
