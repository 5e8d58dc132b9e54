package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/TheHabib2005/ph-health-care-backend/internal/domain"
	"github.com/TheHabib2005/ph-health-care-backend/internal/queue"
)

// HandlerFunc executes one job kind. Returning an error schedules a retry
// unless the error is marked permanent or the attempts are exhausted.
type HandlerFunc func(ctx context.Context, job domain.Job) error

// Store is the slice of storage the runtime drives transitions through.
type Store interface {
	Lease(ctx context.Context, id, owner string, ttl time.Duration) (domain.Job, bool, error)
	Complete(ctx context.Context, id string) error
	Retry(ctx context.Context, id string, nextAttemptAt time.Time, cause string) error
	Fail(ctx context.Context, id string, cause string) error
}

// Event is a lifecycle signal for external monitoring. Observers must not
// influence control flow.
type Event struct {
	JobID    string
	Kind     domain.Kind
	State    domain.State
	Attempts int
	Err      string
}

type Observer func(Event)

type Config struct {
	// Concurrency bounds simultaneous job executions in this instance.
	Concurrency int
	// LeaseTTL is how long a lease holds before the scheduler reclaims
	// the job from a crashed worker.
	LeaseTTL time.Duration
	// PopTimeout bounds each blocking pop so shutdown stays responsive.
	PopTimeout time.Duration
	// JobTimeout bounds a single handler execution. Keep it under
	// LeaseTTL or a slow handler races its own lease expiry.
	JobTimeout time.Duration
}

func (c *Config) withDefaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = 60 * time.Second
	}
	if c.PopTimeout <= 0 {
		c.PopTimeout = 5 * time.Second
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 30 * time.Second
	}
}

// Runtime is the long-running consumer: it leases ready jobs, dispatches
// by kind and enforces the retry policy. Construct one per process and
// drive it with Start/Shutdown; there is no package-level instance.
type Runtime struct {
	store    Store
	queue    queue.Queue
	handlers map[domain.Kind]HandlerFunc
	cfg      Config
	log      *zap.Logger
	observer Observer
	owner    string

	cancel  context.CancelFunc
	group   *errgroup.Group
	started bool
}

func New(store Store, q queue.Queue, cfg Config, log *zap.Logger) *Runtime {
	cfg.withDefaults()
	return &Runtime{
		store:    store,
		queue:    q,
		handlers: make(map[domain.Kind]HandlerFunc),
		cfg:      cfg,
		log:      log.Named("worker"),
		owner:    uuid.NewString(),
	}
}

// Register binds a handler to a kind. Call before Start.
func (r *Runtime) Register(kind domain.Kind, h HandlerFunc) {
	r.handlers[kind] = h
}

// OnEvent installs the lifecycle observer. Call before Start.
func (r *Runtime) OnEvent(obs Observer) {
	r.observer = obs
}

func (r *Runtime) Start(ctx context.Context) error {
	if r.started {
		return errors.New("worker runtime already started")
	}
	ctx, r.cancel = context.WithCancel(ctx)
	r.group, ctx = errgroup.WithContext(ctx)
	for i := 0; i < r.cfg.Concurrency; i++ {
		r.group.Go(func() error {
			r.runLoop(ctx)
			return nil
		})
	}
	r.started = true
	r.log.Info("worker runtime started",
		zap.String("owner", r.owner), zap.Int("concurrency", r.cfg.Concurrency))
	return nil
}

// Shutdown stops leasing and waits for in-flight executions.
func (r *Runtime) Shutdown() {
	if !r.started {
		return
	}
	r.cancel()
	_ = r.group.Wait()
	r.started = false
	r.log.Info("worker runtime stopped")
}

func (r *Runtime) runLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		id, ok, err := r.queue.Pop(ctx, r.cfg.PopTimeout)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrQueueClosed) {
				return
			}
			r.log.Warn("pop failed", zap.Error(err))
			continue
		}
		if !ok {
			continue
		}

		job, leased, err := r.store.Lease(ctx, id, r.owner, r.cfg.LeaseTTL)
		if err != nil {
			// The job row is still waiting; the reconciler re-pushes it.
			r.log.Warn("lease failed", zap.String("job_id", id), zap.Error(err))
			continue
		}
		if !leased {
			// Another instance got there first, or the job is terminal.
			continue
		}
		r.emit(job, domain.StateActive, nil)
		r.execute(ctx, job)
	}
}

func (r *Runtime) execute(ctx context.Context, job domain.Job) {
	h, ok := r.handlers[job.Kind]
	if !ok {
		// Producer and worker were deployed with mismatched kind sets.
		// Permanent by policy: retrying cannot make a handler appear.
		cause := fmt.Sprintf("%v: %s", domain.ErrUnknownKind, job.Kind)
		if err := r.store.Fail(ctx, job.ID, cause); err != nil {
			r.log.Error("fail transition", zap.String("job_id", job.ID), zap.Error(err))
		}
		r.emit(job, domain.StateFailed, domain.ErrUnknownKind)
		r.log.Error("unknown job kind",
			zap.String("job_id", job.ID), zap.String("kind", string(job.Kind)))
		return
	}

	err := r.runHandler(ctx, h, job)
	if err == nil {
		if err := r.store.Complete(ctx, job.ID); err != nil {
			r.log.Error("complete transition", zap.String("job_id", job.ID), zap.Error(err))
			return
		}
		r.emit(job, domain.StateCompleted, nil)
		r.log.Info("job completed",
			zap.String("job_id", job.ID), zap.Int("attempts", job.Attempts))
		return
	}

	if domain.IsPermanent(err) || job.AttemptsExhausted() {
		if ferr := r.store.Fail(ctx, job.ID, err.Error()); ferr != nil {
			r.log.Error("fail transition", zap.String("job_id", job.ID), zap.Error(ferr))
			return
		}
		r.emit(job, domain.StateFailed, err)
		r.log.Error("job failed permanently",
			zap.String("job_id", job.ID),
			zap.Int("attempts", job.Attempts),
			zap.Error(err))
		return
	}

	backoff := job.NextBackoff()
	next := time.Now().Add(backoff)
	if rerr := r.store.Retry(ctx, job.ID, next, err.Error()); rerr != nil {
		r.log.Error("retry transition", zap.String("job_id", job.ID), zap.Error(rerr))
		return
	}
	if perr := r.queue.Push(ctx, job.ID, job.Priority, next); perr != nil {
		r.log.Warn("push retry failed, scheduler will reconcile",
			zap.String("job_id", job.ID), zap.Error(perr))
	}
	r.emit(job, domain.StateWaiting, err)
	r.log.Warn("job retry scheduled",
		zap.String("job_id", job.ID),
		zap.Int("attempts", job.Attempts),
		zap.Duration("backoff", backoff),
		zap.Error(err))
}

// runHandler contains handler failures, panics included; nothing a handler
// does may take the runtime down.
func (r *Runtime) runHandler(ctx context.Context, h HandlerFunc, job domain.Job) (err error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.JobTimeout)
	defer cancel()
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.Errorf("handler panic: %v", rec)
		}
	}()
	return h(ctx, job)
}

func (r *Runtime) emit(job domain.Job, state domain.State, err error) {
	if r.observer == nil {
		return
	}
	ev := Event{
		JobID:    job.ID,
		Kind:     job.Kind,
		State:    state,
		Attempts: job.Attempts,
	}
	if err != nil {
		ev.Err = err.Error()
	}
	r.observer(ev)
}
