package queue

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Queue holds scheduling entries (job ids) for the single notification
// queue. Job records themselves live in Postgres; losing a queue entry is
// recoverable because the scheduler reconciles due jobs back in.
//
// Ready entries are ordered by priority (lower first), then by the time
// they became ready. Delayed entries hold retries until their
// next_attempt_at passes; PromoteDue moves them over.
type Queue interface {
	// Push makes the job id leasable at readyAt. A readyAt in the past or
	// present lands in the ready set directly.
	Push(ctx context.Context, jobID string, priority int, readyAt time.Time) error

	// Pop removes and returns the highest-priority ready job id, blocking
	// up to block. ok is false when nothing became ready in time.
	Pop(ctx context.Context, block time.Duration) (jobID string, ok bool, err error)

	// PromoteDue moves delayed entries whose time has come into the ready
	// set, at most batch of them, and reports how many moved.
	PromoteDue(ctx context.Context, now time.Time, batch int64) (int, error)

	Ping(ctx context.Context) error
	Close() error
}

// priorityBand spaces priorities far enough apart in the ready score that
// the millisecond timestamp never crosses into the next priority.
const priorityBand = float64(1 << 44)

func readyScore(priority int, readyAt time.Time) float64 {
	return float64(priority)*priorityBand + float64(readyAt.UnixMilli())
}

// Entries carry the priority alongside the id so promotion can rebuild the
// ready score without a storage lookup.
func encodeMember(priority int, jobID string) string {
	return fmt.Sprintf("%d|%s", priority, jobID)
}

func decodeMember(member string) (priority int, jobID string) {
	i := strings.IndexByte(member, '|')
	if i < 0 {
		return 0, member
	}
	p, err := strconv.Atoi(member[:i])
	if err != nil {
		return 0, member[i+1:]
	}
	return p, member[i+1:]
}
