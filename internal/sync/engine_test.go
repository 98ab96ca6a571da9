package sync

import (
	"context"
	"errors"
	gosync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calebhart/reviewd/internal/domain/event"
	"github.com/calebhart/reviewd/internal/domain/port/driven"
)

// funcTask runs an arbitrary function, for driver loop tests.
type funcTask struct {
	taskState
	key string

	mu   gosync.Mutex
	runs int
	fn   func(runs int, t *funcTask) error
}

func newFuncTask(key string, fn func(runs int, t *funcTask) error) *funcTask {
	return &funcTask{taskState: newTaskState(), key: key, fn: fn}
}

func (t *funcTask) Key() string { return t.key }

func (t *funcTask) Run(ctx context.Context, e *Engine) error {
	t.mu.Lock()
	t.runs++
	runs := t.runs
	t.mu.Unlock()
	return t.fn(runs, t)
}

func (t *funcTask) runCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.runs
}

func runEngine(t *testing.T, e *Engine) context.CancelFunc {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("engine did not stop")
		}
	})
	return cancel
}

func TestEngine_CompletesTask(t *testing.T) {
	e := newTestEngine(t, widgetRemote(), newFakeGit())
	runEngine(t, e)

	task := newFuncTask("noop", func(int, *funcTask) error { return nil })
	require.True(t, e.Enqueue(task, PriorityNormal))

	require.NoError(t, task.Wait(2*time.Second))
	assert.Equal(t, 1, task.runCount())
	assert.False(t, e.State().Offline)
}

func TestEngine_OfflineReplaysSameTask(t *testing.T) {
	e := newTestEngine(t, widgetRemote(), newFakeGit())
	runEngine(t, e)

	task := newFuncTask("flaky", func(runs int, _ *funcTask) error {
		if runs == 1 {
			return &driven.OfflineError{Cause: errors.New("connection refused")}
		}
		return nil
	})
	require.True(t, e.Enqueue(task, PriorityNormal))

	require.NoError(t, task.Wait(2*time.Second))
	assert.Equal(t, 2, task.runCount(), "same task object replayed after backoff")
	assert.False(t, e.State().Offline, "success flips the engine back online")
}

func TestEngine_OfflineEdgeEnqueuesFlush(t *testing.T) {
	e := newTestEngine(t, widgetRemote(), newFakeGit())
	e.backoff = time.Hour // long backoff keeps the engine paused

	task := newFuncTask("down", func(int, *funcTask) error {
		return &driven.OfflineError{Cause: errors.New("unreachable")}
	})
	require.True(t, e.Enqueue(task, PriorityNormal))

	runEngine(t, e)

	require.Eventually(t, func() bool { return e.State().Offline }, 2*time.Second, time.Millisecond)

	flush := e.queue.Find(PriorityHigh, func(task Task) bool { return task.Key() == "flush-pending" })
	assert.NotNil(t, flush, "flush of pending uploads queued on the offline edge")

	var sawOffline bool
	select {
	case ev := <-e.Events():
		if st, ok := ev.(event.EngineStatusChanged); ok {
			sawOffline = st.Offline
		}
	case <-time.After(2 * time.Second):
	}
	assert.True(t, sawOffline)
}

func TestEngine_RestrictedFailsTaskWithoutGoingOffline(t *testing.T) {
	e := newTestEngine(t, widgetRemote(), newFakeGit())
	runEngine(t, e)

	task := newFuncTask("blocked", func(int, *funcTask) error {
		return &driven.RestrictedError{Org: "lockedorg"}
	})
	require.True(t, e.Enqueue(task, PriorityNormal))

	err := task.Wait(2 * time.Second)
	require.Error(t, err)
	assert.True(t, driven.IsRestricted(err))
	assert.Equal(t, 1, task.runCount(), "restricted failures are not retried")
	assert.False(t, e.State().Offline)
}

func TestEngine_GenericFailureSurfacesError(t *testing.T) {
	e := newTestEngine(t, widgetRemote(), newFakeGit())
	runEngine(t, e)

	boom := errors.New("boom")
	task := newFuncTask("broken", func(int, *funcTask) error { return boom })
	require.True(t, e.Enqueue(task, PriorityNormal))

	err := task.Wait(2 * time.Second)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, boom.Error(), e.State().LastError)
}

func TestEngine_PublishesTaskResults(t *testing.T) {
	e := newTestEngine(t, widgetRemote(), newFakeGit())
	runEngine(t, e)

	task := newFuncTask("emitter", func(_ int, ft *funcTask) error {
		ft.emit(event.PullRequestAdded{RepoFullName: "acme/widgets", Number: 42})
		return nil
	})
	require.True(t, e.Enqueue(task, PriorityNormal))
	require.NoError(t, task.Wait(2*time.Second))

	select {
	case ev := <-e.Events():
		added, ok := ev.(event.PullRequestAdded)
		require.True(t, ok)
		assert.Equal(t, "acme/widgets", added.RepoFullName)
		assert.Equal(t, 42, added.Number)
	case <-time.After(2 * time.Second):
		t.Fatal("no event published")
	}
}

func TestEngine_DuplicateEnqueueDropped(t *testing.T) {
	e := newTestEngine(t, widgetRemote(), newFakeGit())

	assert.True(t, e.Enqueue(newStubTask("dup"), PriorityNormal))
	assert.False(t, e.Enqueue(newStubTask("dup"), PriorityNormal))
	assert.Equal(t, 1, e.QueueSize())
}

func TestEngine_WakeCoalesces(t *testing.T) {
	e := newTestEngine(t, widgetRemote(), newFakeGit())
	runEngine(t, e)

	for i := 0; i < 5; i++ {
		task := newFuncTask("noop", func(int, *funcTask) error { return nil })
		e.Enqueue(task, PriorityNormal)
		require.NoError(t, task.Wait(2*time.Second))
	}

	// At least one wake is pending; the rest coalesced instead of queueing.
	select {
	case <-e.Wake():
	case <-time.After(2 * time.Second):
		t.Fatal("no wake signal")
	}
	select {
	case <-e.Wake():
		// A second buffered poke is fine, but it must not block forever.
	default:
	}
}

func TestTask_WaitTimeout(t *testing.T) {
	task := newStubTask("never-run")

	err := task.Wait(10 * time.Millisecond)
	assert.ErrorIs(t, err, ErrWaitTimeout)
}
