package sync

import (
	"context"
	"time"
)

const (
	defaultSyncInterval  = 60 * time.Second
	defaultHouseInterval = time.Hour
	defaultPruneAge      = 30 * 24 * time.Hour
)

// Scheduler feeds the engine its periodic work: a low-priority repository
// sweep every sync interval and housekeeping (outdated re-sync, prune) on
// the longer housekeeping interval. One-off tasks triggered by the UI or
// the control socket bypass it entirely.
type Scheduler struct {
	engine        *Engine
	syncInterval  time.Duration
	houseInterval time.Duration
	pruneAge      time.Duration
}

// NewScheduler creates a scheduler; non-positive durations fall back to
// the defaults (60s sync, hourly housekeeping, 30 day prune age).
func NewScheduler(e *Engine, syncInterval, houseInterval, pruneAge time.Duration) *Scheduler {
	if syncInterval <= 0 {
		syncInterval = defaultSyncInterval
	}
	if houseInterval <= 0 {
		houseInterval = defaultHouseInterval
	}
	if pruneAge <= 0 {
		pruneAge = defaultPruneAge
	}
	return &Scheduler{
		engine:        e,
		syncInterval:  syncInterval,
		houseInterval: houseInterval,
		pruneAge:      pruneAge,
	}
}

// Run enqueues the startup discovery pass, then ticks until ctx is
// canceled. Duplicate submissions while a previous sweep is still queued
// are collapsed by the queue.
func (s *Scheduler) Run(ctx context.Context) {
	s.engine.Enqueue(NewListRepositoriesTask(), PriorityNormal)
	s.engine.Enqueue(NewFlushPendingTask(), PriorityNormal)
	s.engine.Enqueue(NewSyncRepositoriesTask(), PriorityNormal)

	syncTick := time.NewTicker(s.syncInterval)
	defer syncTick.Stop()
	houseTick := time.NewTicker(s.houseInterval)
	defer houseTick.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-syncTick.C:
			s.engine.Enqueue(NewSyncRepositoriesTask(), PriorityLow)

		case <-houseTick.C:
			s.engine.Enqueue(NewListRepositoriesTask(), PriorityLow)
			s.engine.Enqueue(NewSyncOutdatedTask(), PriorityLow)
			s.engine.Enqueue(NewPruneTask(s.pruneAge), PriorityLow)
		}
	}
}
