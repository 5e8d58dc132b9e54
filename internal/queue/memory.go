package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
)

var ErrQueueClosed = errors.New("queue closed")

type memEntry struct {
	member string
	score  float64
}

// MemoryQ is an in-process Queue with the same ordering semantics as
// RedisQ. It backs tests and single-node development without Redis.
type MemoryQ struct {
	mu      sync.Mutex
	ready   []memEntry
	delayed []memEntry
	notify  chan struct{}
	closed  bool
}

func NewMemoryQ() *MemoryQ {
	return &MemoryQ{notify: make(chan struct{}, 1)}
}

func (q *MemoryQ) Push(_ context.Context, jobID string, priority int, readyAt time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	member := encodeMember(priority, jobID)
	if readyAt.After(time.Now()) {
		insert(&q.delayed, memEntry{member: member, score: float64(readyAt.UnixMilli())})
		return nil
	}
	insert(&q.ready, memEntry{member: member, score: readyScore(priority, readyAt)})
	q.wake()
	return nil
}

func (q *MemoryQ) Pop(ctx context.Context, block time.Duration) (string, bool, error) {
	deadline := time.NewTimer(block)
	defer deadline.Stop()
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return "", false, ErrQueueClosed
		}
		if len(q.ready) > 0 {
			head := q.ready[0]
			q.ready = q.ready[1:]
			if len(q.ready) > 0 {
				// A push burst collapses into one notify slot; pass the
				// wakeup on so other blocked pops see the leftovers.
				q.wake()
			}
			q.mu.Unlock()
			_, jobID := decodeMember(head.member)
			return jobID, true, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", false, ctx.Err()
		case <-deadline.C:
			return "", false, nil
		case <-q.notify:
		}
	}
}

func (q *MemoryQ) PromoteDue(_ context.Context, now time.Time, batch int64) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0, ErrQueueClosed
	}
	cutoff := float64(now.UnixMilli())
	moved := 0
	kept := q.delayed[:0]
	for _, e := range q.delayed {
		if e.score <= cutoff && int64(moved) < batch {
			priority, _ := decodeMember(e.member)
			insert(&q.ready, memEntry{member: e.member, score: readyScore(priority, now)})
			moved++
			continue
		}
		kept = append(kept, e)
	}
	q.delayed = kept
	if moved > 0 {
		q.wake()
	}
	return moved, nil
}

func (q *MemoryQ) Ping(context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	return nil
}

func (q *MemoryQ) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.notify)
	}
	return nil
}

func (q *MemoryQ) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// insert keeps ZADD semantics: an existing member is rescored, not
// duplicated.
func insert(entries *[]memEntry, e memEntry) {
	remove(entries, e.member)
	s := *entries
	i := sort.Search(len(s), func(i int) bool { return s[i].score > e.score })
	s = append(s, memEntry{})
	copy(s[i+1:], s[i:])
	s[i] = e
	*entries = s
}

func remove(entries *[]memEntry, member string) {
	s := *entries
	for i := range s {
		if s[i].member == member {
			*entries = append(s[:i], s[i+1:]...)
			return
		}
	}
}
