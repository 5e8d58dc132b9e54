package producer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/TheHabib2005/ph-health-care-backend/internal/domain"
	"github.com/TheHabib2005/ph-health-care-backend/internal/queue"
)

// JobStore is the slice of storage the producer needs. Both *storage.Store
// and the transactional handle passed to webhook actions satisfy it.
type JobStore interface {
	CreateJob(ctx context.Context, j domain.Job) error
}

type Option func(*options)

type options struct {
	priority    int
	maxAttempts int
	backoffBase time.Duration
}

func WithPriority(p int) Option        { return func(o *options) { o.priority = p } }
func WithMaxAttempts(n int) Option     { return func(o *options) { o.maxAttempts = n } }
func WithBackoffBase(d time.Duration) Option {
	return func(o *options) { o.backoffBase = d }
}

// Producer is the enqueue side of the pipeline. It is constructed once in
// main and handed to whoever needs it; it never executes handlers and
// never blocks on them.
type Producer struct {
	store JobStore
	queue queue.Queue
	log   *zap.Logger
}

func New(store JobStore, q queue.Queue, log *zap.Logger) *Producer {
	return &Producer{store: store, queue: q, log: log.Named("producer")}
}

// Enqueue durably persists a job and makes it leasable. On return the job
// survives a crash of the calling process; the matching handler has not
// necessarily run. A store failure surfaces as ErrQueueUnavailable and the
// caller decides whether that is fatal to its own request.
func (p *Producer) Enqueue(ctx context.Context, kind domain.Kind, payload any, opts ...Option) (domain.Job, error) {
	job, err := p.build(kind, payload, opts...)
	if err != nil {
		return domain.Job{}, err
	}
	if err := p.store.CreateJob(ctx, job); err != nil {
		return domain.Job{}, errors.Wrapf(domain.ErrQueueUnavailable, "%v", err)
	}
	// The job record is durable at this point. A failed push only delays
	// execution until the scheduler reconciles.
	if err := p.queue.Push(ctx, job.ID, job.Priority, job.NextAttemptAt); err != nil {
		p.log.Warn("push failed, scheduler will reconcile",
			zap.String("job_id", job.ID), zap.Error(err))
	}
	p.log.Info("job enqueued",
		zap.String("job_id", job.ID), zap.String("kind", string(kind)))
	return job, nil
}

// EnqueueTx persists the job through the caller's transaction, typically
// the idempotency guard's. The queue entry is not pushed here: the caller
// pushes after commit, and a lost push is healed by the reconciler.
func (p *Producer) EnqueueTx(ctx context.Context, tx JobStore, kind domain.Kind, payload any, opts ...Option) (domain.Job, error) {
	job, err := p.build(kind, payload, opts...)
	if err != nil {
		return domain.Job{}, err
	}
	if err := tx.CreateJob(ctx, job); err != nil {
		return domain.Job{}, errors.Wrapf(domain.ErrQueueUnavailable, "%v", err)
	}
	return job, nil
}

// PushRealized makes a job enqueued via EnqueueTx leasable after its
// transaction committed. Push failures are only logged; the reconciler
// restores the queue entry.
func (p *Producer) PushRealized(ctx context.Context, jobs ...domain.Job) {
	for _, j := range jobs {
		if err := p.queue.Push(ctx, j.ID, j.Priority, j.NextAttemptAt); err != nil {
			p.log.Warn("push failed, scheduler will reconcile",
				zap.String("job_id", j.ID), zap.Error(err))
		}
	}
}

func (p *Producer) build(kind domain.Kind, payload any, opts ...Option) (domain.Job, error) {
	if !kind.Valid() {
		return domain.Job{}, errors.Wrapf(domain.ErrUnknownKind, "%q", kind)
	}
	o := options{
		priority:    domain.DefaultPriority,
		maxAttempts: domain.DefaultMaxAttempts,
		backoffBase: domain.DefaultBackoffBase,
	}
	for _, opt := range opts {
		opt(&o)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return domain.Job{}, errors.Wrap(err, "marshal payload")
	}
	now := time.Now()
	return domain.Job{
		ID:            uuid.NewString(),
		Kind:          kind,
		Payload:       raw,
		Priority:      o.priority,
		MaxAttempts:   o.maxAttempts,
		BackoffBase:   o.backoffBase,
		State:         domain.StateWaiting,
		CreatedAt:     now,
		NextAttemptAt: now,
	}, nil
}
