package sync

import (
	gosync "sync"
)

// Queue is a thread-safe multi-priority task queue with work
// deduplication. Tasks drain in strict band order, FIFO within a band.
// A task handed out by Get moves to the incomplete set until Complete is
// called, so Size keeps counting in-flight work.
//
// Deduplication checks only the queued tasks of the target band: an equal
// task that is already running does not block a re-submission, which is
// how "this PR changed again while its sync was in flight" stays correct.
type Queue struct {
	mu   gosync.Mutex
	cond *gosync.Cond

	bands      [numPriorities][]Task
	incomplete map[Task]struct{}
	closed     bool
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	q := &Queue{incomplete: make(map[Task]struct{})}
	q.cond = gosync.NewCond(&q.mu)
	return q
}

// Put adds the task to the band for p unless an equal task (same Key) is
// already queued in that band. Returns whether the task was actually
// added; callers use false to mark a duplicate as not-submitted instead
// of blocking on it.
func (q *Queue) Put(t Task, p Priority) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	for _, queued := range q.bands[p] {
		if queued.Key() == t.Key() {
			return false
		}
	}

	q.bands[p] = append(q.bands[p], t)
	q.cond.Signal()
	return true
}

// Get blocks until a task is available, draining bands in strict priority
// order, and moves the returned task into the incomplete set. Returns
// false after Close once nothing is queued.
func (q *Queue) Get() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		for p := 0; p < numPriorities; p++ {
			if len(q.bands[p]) > 0 {
				t := q.bands[p][0]
				q.bands[p] = q.bands[p][1:]
				q.incomplete[t] = struct{}{}
				return t, true
			}
		}

		if q.closed {
			return nil, false
		}

		q.cond.Wait()
	}
}

// Complete removes a task from the incomplete set.
func (q *Queue) Complete(t Task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.incomplete, t)
}

// Size reports queued plus incomplete task count, for UI status.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.incomplete)
	for p := 0; p < numPriorities; p++ {
		n += len(q.bands[p])
	}
	return n
}

// Find returns the first queued task in band p matching the predicate, or
// nil. Introspection support for tests.
func (q *Queue) Find(p Priority, match func(Task) bool) Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, t := range q.bands[p] {
		if match(t) {
			return t
		}
	}
	return nil
}

// Close releases blocked getters. Subsequent Puts are rejected; queued
// tasks may still be drained by Get.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}
