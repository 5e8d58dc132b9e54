package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/TheHabib2005/ph-health-care-backend/internal/domain"
	"github.com/TheHabib2005/ph-health-care-backend/internal/queue"
)

// SchedulerStore is the slice of storage the scheduler drives.
type SchedulerStore interface {
	ExpireLeases(ctx context.Context, now time.Time, batch int) (requeued []domain.Job, failed []domain.Job, err error)
	DueWaiting(ctx context.Context, now time.Time, batch int) ([]domain.Job, error)
	PruneProcessedEvents(ctx context.Context, olderThan time.Time) (int64, error)
}

type SchedulerConfig struct {
	Interval time.Duration
	Batch    int
	// EventRetention is how long processed webhook events are kept.
	// 90 days covers the gateway's redelivery window with margin.
	EventRetention time.Duration
}

func (c *SchedulerConfig) withDefaults() {
	if c.Interval <= 0 {
		c.Interval = time.Second
	}
	if c.Batch <= 0 {
		c.Batch = 200
	}
	if c.EventRetention <= 0 {
		c.EventRetention = 90 * 24 * time.Hour
	}
}

// Scheduler is the housekeeping loop that runs alongside the worker
// runtime: it promotes due retries into the ready set, reclaims expired
// leases, re-pushes waiting jobs whose queue entry was lost, and prunes
// old processed events.
type Scheduler struct {
	store     SchedulerStore
	queue     queue.Queue
	cfg       SchedulerConfig
	log       *zap.Logger
	lastPrune time.Time
}

func NewScheduler(store SchedulerStore, q queue.Queue, cfg SchedulerConfig, log *zap.Logger) *Scheduler {
	cfg.withDefaults()
	return &Scheduler{store: store, queue: q, cfg: cfg, log: log.Named("scheduler")}
}

// Run ticks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	tick := time.NewTicker(s.cfg.Interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			s.Tick(ctx, time.Now())
		}
	}
}

// Tick runs one housekeeping pass. Exposed for tests.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	if n, err := s.queue.PromoteDue(ctx, now, int64(s.cfg.Batch)); err != nil {
		s.log.Warn("promote due", zap.Error(err))
	} else if n > 0 {
		s.log.Debug("promoted delayed jobs", zap.Int("count", n))
	}

	requeued, failed, err := s.store.ExpireLeases(ctx, now, s.cfg.Batch)
	if err != nil {
		s.log.Warn("expire leases", zap.Error(err))
	}
	for _, j := range failed {
		s.log.Error("job failed after lease expiry",
			zap.String("job_id", j.ID),
			zap.String("kind", string(j.Kind)),
			zap.Int("attempts", j.Attempts))
	}
	for _, j := range requeued {
		if err := s.queue.Push(ctx, j.ID, j.Priority, j.NextAttemptAt); err != nil {
			s.log.Warn("push requeued job", zap.String("job_id", j.ID), zap.Error(err))
		}
	}

	// Waiting jobs that are due but absent from Redis (lost push, Redis
	// flush) get their entry back. Only jobs overdue by more than one
	// interval qualify: a job whose entry is intact gets popped within an
	// interval, so re-pushing every due job each tick would reset ready
	// scores under a busy worker for nothing.
	due, err := s.store.DueWaiting(ctx, now.Add(-s.cfg.Interval), s.cfg.Batch)
	if err != nil {
		s.log.Warn("reconcile waiting", zap.Error(err))
	}
	for _, j := range due {
		if err := s.queue.Push(ctx, j.ID, j.Priority, now); err != nil {
			s.log.Warn("reconcile push", zap.String("job_id", j.ID), zap.Error(err))
		}
	}

	if now.Sub(s.lastPrune) >= time.Hour {
		s.lastPrune = now
		n, err := s.store.PruneProcessedEvents(ctx, now.Add(-s.cfg.EventRetention))
		if err != nil {
			s.log.Warn("prune processed events", zap.Error(err))
		} else if n > 0 {
			s.log.Info("pruned processed events", zap.Int64("count", n))
		}
	}
}
