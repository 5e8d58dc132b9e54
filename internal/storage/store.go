package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/TheHabib2005/ph-health-care-backend/internal/domain"
)

// Store persists job records in Postgres. It is the single source of
// truth for job state; every transition goes through one of its atomic
// updates. Redis only ever holds job ids.
type Store struct{ pool *pgxpool.Pool }

func New(pool *pgxpool.Pool) *Store { return &Store{pool} }

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const jobColumns = `id, kind, payload, priority, attempts, max_attempts,
backoff_base_ms, state, last_error, lease_owner, lease_expires_at,
created_at, last_attempt_at, next_attempt_at`

func scanJob(row pgx.Row) (domain.Job, error) {
	var (
		j         domain.Job
		kind      string
		state     string
		backoffMS int64
	)
	err := row.Scan(&j.ID, &kind, &j.Payload, &j.Priority, &j.Attempts,
		&j.MaxAttempts, &backoffMS, &state, &j.LastError, &j.LeaseOwner,
		&j.LeaseExpiresAt, &j.CreatedAt, &j.LastAttemptAt, &j.NextAttemptAt)
	if err != nil {
		return domain.Job{}, err
	}
	j.Kind = domain.Kind(kind)
	j.State = domain.State(state)
	j.BackoffBase = time.Duration(backoffMS) * time.Millisecond
	return j, nil
}

func insertJob(ctx context.Context, q querier, j domain.Job) error {
	_, err := q.Exec(ctx, `insert into jobs(
id, kind, payload, priority, attempts, max_attempts, backoff_base_ms,
state, last_error, created_at, next_attempt_at
) values ($1,$2,$3,$4,$5,$6,$7,$8,'',$9,$10)`,
		j.ID, string(j.Kind), j.Payload, j.Priority, j.Attempts,
		j.MaxAttempts, j.BackoffBase.Milliseconds(), string(j.State),
		j.CreatedAt, j.NextAttemptAt,
	)
	return errors.Wrap(err, "insert job")
}

func (s *Store) CreateJob(ctx context.Context, j domain.Job) error {
	return insertJob(ctx, s.pool, j)
}

func (s *Store) GetJob(ctx context.Context, id string) (domain.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`select `+jobColumns+` from jobs where id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Job{}, domain.ErrJobNotFound
	}
	return j, errors.Wrap(err, "get job")
}

// Lease transitions a waiting job to active, counts the attempt and
// records the lease owner and expiry. The conditional update is the
// cross-instance mutual exclusion: a second worker's update matches zero
// rows and gets ok=false.
func (s *Store) Lease(ctx context.Context, id, owner string, ttl time.Duration) (domain.Job, bool, error) {
	j, err := scanJob(s.pool.QueryRow(ctx, `
update jobs
   set state = 'active',
       attempts = attempts + 1,
       lease_owner = $2,
       lease_expires_at = $3,
       last_attempt_at = now()
 where id = $1 and state = 'waiting'
returning `+jobColumns, id, owner, time.Now().Add(ttl)))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Job{}, false, nil
	}
	if err != nil {
		return domain.Job{}, false, errors.Wrap(err, "lease job")
	}
	return j, true, nil
}

// Complete marks an active job done. The lease guard means a job whose
// lease already expired and was re-queued is not clobbered.
func (s *Store) Complete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
update jobs
   set state = 'completed', last_error = '',
       lease_owner = '', lease_expires_at = null
 where id = $1 and state = 'active'`, id)
	if err != nil {
		return errors.Wrap(err, "complete job")
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

// Retry returns an active job to waiting with a scheduled next attempt.
func (s *Store) Retry(ctx context.Context, id string, nextAttemptAt time.Time, cause string) error {
	tag, err := s.pool.Exec(ctx, `
update jobs
   set state = 'waiting', last_error = $3, next_attempt_at = $2,
       lease_owner = '', lease_expires_at = null
 where id = $1 and state = 'active'`, id, nextAttemptAt, cause)
	if err != nil {
		return errors.Wrap(err, "retry job")
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

// Fail moves an active job to the terminal failed state. Failed jobs are
// never leased again; operators inspect them via the API.
func (s *Store) Fail(ctx context.Context, id string, cause string) error {
	tag, err := s.pool.Exec(ctx, `
update jobs
   set state = 'failed', last_error = $2,
       lease_owner = '', lease_expires_at = null
 where id = $1 and state = 'active'`, id, cause)
	if err != nil {
		return errors.Wrap(err, "fail job")
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

// ExpireLeases recovers jobs whose worker died mid-execution. The lease
// already consumed an attempt, so a job with retries left goes back to
// waiting with its backoff applied, and an exhausted one is failed.
// Returns the re-queued jobs so the caller can push their queue entries.
func (s *Store) ExpireLeases(ctx context.Context, now time.Time, batch int) (requeued []domain.Job, failed []domain.Job, err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, errors.Wrap(err, "expire leases")
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
select `+jobColumns+` from jobs
 where state = 'active' and lease_expires_at < $1
 order by lease_expires_at
 limit $2
 for update skip locked`, now, batch)
	if err != nil {
		return nil, nil, errors.Wrap(err, "expire leases")
	}
	var expired []domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			rows.Close()
			return nil, nil, errors.Wrap(err, "expire leases")
		}
		expired = append(expired, j)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, nil, errors.Wrap(err, "expire leases")
	}

	for _, j := range expired {
		if j.AttemptsExhausted() {
			if _, err := tx.Exec(ctx, `
update jobs
   set state = 'failed', last_error = 'lease expired',
       lease_owner = '', lease_expires_at = null
 where id = $1`, j.ID); err != nil {
				return nil, nil, errors.Wrap(err, "expire leases")
			}
			j.State = domain.StateFailed
			failed = append(failed, j)
			continue
		}
		next := now.Add(j.NextBackoff())
		if _, err := tx.Exec(ctx, `
update jobs
   set state = 'waiting', last_error = 'lease expired',
       next_attempt_at = $2,
       lease_owner = '', lease_expires_at = null
 where id = $1`, j.ID, next); err != nil {
			return nil, nil, errors.Wrap(err, "expire leases")
		}
		j.State = domain.StateWaiting
		j.NextAttemptAt = next
		requeued = append(requeued, j)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, nil, errors.Wrap(err, "expire leases")
	}
	return requeued, failed, nil
}

// DueWaiting lists waiting jobs whose next attempt is due. The scheduler
// uses it to heal queue entries lost to a Redis hiccup.
func (s *Store) DueWaiting(ctx context.Context, now time.Time, batch int) ([]domain.Job, error) {
	rows, err := s.pool.Query(ctx, `
select `+jobColumns+` from jobs
 where state = 'waiting' and next_attempt_at <= $1
 order by created_at
 limit $2`, now, batch)
	if err != nil {
		return nil, errors.Wrap(err, "due waiting")
	}
	defer rows.Close()
	var out []domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "due waiting")
		}
		out = append(out, j)
	}
	return out, errors.Wrap(rows.Err(), "due waiting")
}

func (s *Store) ListByState(ctx context.Context, state domain.State, limit int) ([]domain.Job, error) {
	rows, err := s.pool.Query(ctx, `
select `+jobColumns+` from jobs
 where state = $1
 order by created_at desc
 limit $2`, string(state), limit)
	if err != nil {
		return nil, errors.Wrap(err, "list jobs")
	}
	defer rows.Close()
	var out []domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "list jobs")
		}
		out = append(out, j)
	}
	return out, errors.Wrap(rows.Err(), "list jobs")
}

// PruneProcessedEvents drops idempotency records older than the retention
// window (well past the gateway's redelivery horizon).
func (s *Store) PruneProcessedEvents(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`delete from processed_events where processed_at < $1`, olderThan)
	if err != nil {
		return 0, errors.Wrap(err, "prune processed events")
	}
	return tag.RowsAffected(), nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
