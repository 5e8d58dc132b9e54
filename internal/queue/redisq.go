package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	r "github.com/redis/go-redis/v9"
)

// RedisQ implements Queue on two ZSETs: <prefix>:ready scored by
// priority-then-ready-time and popped with BZPOPMIN (each id is handed to
// exactly one worker), and <prefix>:delayed scored by next_attempt_at.
type RedisQ struct {
	rdb     *r.Client
	ready   string
	delayed string
}

func NewRedisQ(rdb *r.Client, prefix string) *RedisQ {
	if prefix == "" {
		prefix = "notifications"
	}
	return &RedisQ{
		rdb:     rdb,
		ready:   prefix + ":ready",
		delayed: prefix + ":delayed",
	}
}

func (q *RedisQ) Push(ctx context.Context, jobID string, priority int, readyAt time.Time) error {
	member := encodeMember(priority, jobID)
	var err error
	if readyAt.After(time.Now()) {
		err = q.rdb.ZAdd(ctx, q.delayed, r.Z{
			Score:  float64(readyAt.UnixMilli()),
			Member: member,
		}).Err()
	} else {
		err = q.rdb.ZAdd(ctx, q.ready, r.Z{
			Score:  readyScore(priority, readyAt),
			Member: member,
		}).Err()
	}
	return errors.Wrap(err, "queue push")
}

func (q *RedisQ) Pop(ctx context.Context, block time.Duration) (string, bool, error) {
	res, err := q.rdb.BZPopMin(ctx, block, q.ready).Result()
	if err == r.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, "queue pop")
	}
	_, jobID := decodeMember(fmt.Sprint(res.Member))
	return jobID, true, nil
}

func (q *RedisQ) PromoteDue(ctx context.Context, now time.Time, batch int64) (int, error) {
	members, err := q.rdb.ZRangeByScore(ctx, q.delayed, &r.ZRangeBy{
		Min:    "-inf",
		Max:    fmt.Sprintf("%d", now.UnixMilli()),
		Offset: 0,
		Count:  batch,
	}).Result()
	if err != nil || len(members) == 0 {
		return 0, errors.Wrap(err, "promote due")
	}

	pipe := q.rdb.TxPipeline()
	for _, m := range members {
		priority, _ := decodeMember(m)
		pipe.ZAdd(ctx, q.ready, r.Z{Score: readyScore(priority, now), Member: m})
		pipe.ZRem(ctx, q.delayed, m)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, errors.Wrap(err, "promote due")
	}
	return len(members), nil
}

func (q *RedisQ) Ping(ctx context.Context) error {
	return q.rdb.Ping(ctx).Err()
}

func (q *RedisQ) Close() error {
	return q.rdb.Close()
}
