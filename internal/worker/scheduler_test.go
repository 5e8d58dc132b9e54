package worker_test

import (
	"context"
	"testing"
	"time"

	"github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/TheHabib2005/ph-health-care-backend/internal/domain"
	"github.com/TheHabib2005/ph-health-care-backend/internal/queue"
	"github.com/TheHabib2005/ph-health-care-backend/internal/storage"
	"github.com/TheHabib2005/ph-health-care-backend/internal/worker"
)

func newScheduler(t *testing.T) (*worker.Scheduler, *storage.MemStore, *queue.MemoryQ) {
	t.Helper()
	store := storage.NewMemStore()
	q := queue.NewMemoryQ()
	t.Cleanup(func() { q.Close() })
	s := worker.NewScheduler(store, q, worker.SchedulerConfig{Batch: 100}, zap.NewNop())
	return s, store, q
}

func seedWaiting(t *testing.T, store *storage.MemStore, id string, attempts, max int, next time.Time) {
	t.Helper()
	err := store.CreateJob(context.Background(), domain.Job{
		ID:            id,
		Kind:          domain.KindVerificationMail,
		Priority:      domain.DefaultPriority,
		Attempts:      attempts,
		MaxAttempts:   max,
		BackoffBase:   time.Second,
		State:         domain.StateWaiting,
		CreatedAt:     time.Now(),
		NextAttemptAt: next,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestExpiredLeaseIsRequeued(t *testing.T) {
	g := gomega.NewWithT(t)
	ctx := context.Background()
	s, store, _ := newScheduler(t)

	seedWaiting(t, store, "job-1", 0, 3, time.Now())
	_, ok, err := store.Lease(ctx, "job-1", "crashed-worker", 10*time.Millisecond)
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(ok).To(gomega.BeTrue())

	// Worker never reported back; the lease expires and the attempt it
	// consumed stays consumed.
	s.Tick(ctx, time.Now().Add(time.Minute))

	j, err := store.GetJob(ctx, "job-1")
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(j.State).To(gomega.Equal(domain.StateWaiting))
	g.Expect(j.Attempts).To(gomega.Equal(1))
	g.Expect(j.LastError).To(gomega.Equal("lease expired"))
	g.Expect(j.LeaseOwner).To(gomega.BeEmpty())
	g.Expect(j.NextAttemptAt).To(gomega.BeTemporally(">", time.Now()))
}

func TestExpiredLeaseOnLastAttemptDeadLetters(t *testing.T) {
	g := gomega.NewWithT(t)
	ctx := context.Background()
	s, store, _ := newScheduler(t)

	seedWaiting(t, store, "job-1", 2, 3, time.Now())
	_, ok, err := store.Lease(ctx, "job-1", "crashed-worker", 10*time.Millisecond)
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(ok).To(gomega.BeTrue())

	s.Tick(ctx, time.Now().Add(time.Minute))

	j, err := store.GetJob(ctx, "job-1")
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(j.State).To(gomega.Equal(domain.StateFailed))
	g.Expect(j.Attempts).To(gomega.Equal(3))
	g.Expect(j.LastError).To(gomega.Equal("lease expired"))
}

func TestTickPromotesDueDelayedJobs(t *testing.T) {
	g := gomega.NewWithT(t)
	ctx := context.Background()
	s, store, q := newScheduler(t)

	future := time.Now().Add(30 * time.Second)
	seedWaiting(t, store, "job-1", 0, 3, future)
	g.Expect(q.Push(ctx, "job-1", domain.DefaultPriority, future)).To(gomega.Succeed())

	// Not due yet.
	s.Tick(ctx, time.Now())
	_, ok, err := q.Pop(ctx, 0)
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(ok).To(gomega.BeFalse())

	s.Tick(ctx, future.Add(time.Second))
	id, ok, err := q.Pop(ctx, 0)
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(ok).To(gomega.BeTrue())
	g.Expect(id).To(gomega.Equal("job-1"))
}

func TestTickReconcilesLostQueueEntries(t *testing.T) {
	g := gomega.NewWithT(t)
	ctx := context.Background()
	s, store, q := newScheduler(t)

	// The job row exists but its queue entry was never written, as after
	// a Redis flush or a crash between insert and push.
	seedWaiting(t, store, "job-1", 0, 3, time.Now().Add(-2*time.Second))

	s.Tick(ctx, time.Now())

	id, ok, err := q.Pop(ctx, 0)
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(ok).To(gomega.BeTrue())
	g.Expect(id).To(gomega.Equal("job-1"))
}

func TestReconcileLeavesFreshlyDueJobsAlone(t *testing.T) {
	g := gomega.NewWithT(t)
	ctx := context.Background()
	s, store, q := newScheduler(t)

	// job-fresh just came due; a live worker pops it within the interval,
	// so repushing it would only churn its ready ordering. job-stale has
	// been due for over an interval, so its entry is evidently lost.
	now := time.Now()
	seedWaiting(t, store, "job-fresh", 0, 3, now)
	seedWaiting(t, store, "job-stale", 0, 3, now.Add(-2*time.Second))

	s.Tick(ctx, now)

	id, ok, err := q.Pop(ctx, 0)
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(ok).To(gomega.BeTrue())
	g.Expect(id).To(gomega.Equal("job-stale"))

	_, ok, err = q.Pop(ctx, 0)
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(ok).To(gomega.BeFalse())
}

func TestTickPrunesOldProcessedEvents(t *testing.T) {
	g := gomega.NewWithT(t)
	ctx := context.Background()
	s, store, _ := newScheduler(t)

	var runs int
	action := func(ctx context.Context, tx storage.Tx) (storage.Outcome, error) {
		runs++
		return storage.Outcome{Status: "ok"}, nil
	}

	_, replayed, err := store.ProcessOnce(ctx, "evt_1", action)
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(replayed).To(gomega.BeFalse())

	// Within retention the record still shields against replay.
	s.Tick(ctx, time.Now())
	_, replayed, err = store.ProcessOnce(ctx, "evt_1", action)
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(replayed).To(gomega.BeTrue())

	// Past retention the record is gone and the event processes fresh.
	s.Tick(ctx, time.Now().Add(91*24*time.Hour))
	_, replayed, err = store.ProcessOnce(ctx, "evt_1", action)
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(replayed).To(gomega.BeFalse())
	g.Expect(runs).To(gomega.Equal(2))
}
