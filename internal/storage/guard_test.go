package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/onsi/gomega"
	"github.com/pkg/errors"

	"github.com/TheHabib2005/ph-health-care-backend/internal/domain"
	"github.com/TheHabib2005/ph-health-care-backend/internal/storage"
)

func TestProcessOnceAppliesMutationsWithRecord(t *testing.T) {
	g := gomega.NewWithT(t)
	ctx := context.Background()
	store := storage.NewMemStore()
	store.SeedAppointment(storage.Appointment{
		ID: "apt-1", PaymentID: "pay-1", PaymentStatus: "PENDING",
	})

	out, replayed, err := store.ProcessOnce(ctx, "evt_1", func(ctx context.Context, tx storage.Tx) (storage.Outcome, error) {
		if err := tx.SetAppointmentPaymentStatus(ctx, "apt-1", "COMPLETE"); err != nil {
			return storage.Outcome{}, err
		}
		if err := tx.CreateJob(ctx, domain.Job{
			ID: "job-1", Kind: domain.KindPaymentSuccess,
			State: domain.StateWaiting, MaxAttempts: 3,
			CreatedAt: time.Now(), NextAttemptAt: time.Now(),
		}); err != nil {
			return storage.Outcome{}, err
		}
		return storage.Outcome{Status: "processed", JobIDs: []string{"job-1"}}, nil
	})
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(replayed).To(gomega.BeFalse())
	g.Expect(out.Status).To(gomega.Equal("processed"))

	appt, ok := store.AppointmentByID("apt-1")
	g.Expect(ok).To(gomega.BeTrue())
	g.Expect(appt.PaymentStatus).To(gomega.Equal("COMPLETE"))

	job, err := store.GetJob(ctx, "job-1")
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(job.Kind).To(gomega.Equal(domain.KindPaymentSuccess))
}

func TestProcessOnceFailedActionLeavesNoTrace(t *testing.T) {
	g := gomega.NewWithT(t)
	ctx := context.Background()
	store := storage.NewMemStore()
	store.SeedAppointment(storage.Appointment{
		ID: "apt-1", PaymentID: "pay-1", PaymentStatus: "PENDING",
	})

	_, _, err := store.ProcessOnce(ctx, "evt_1", func(ctx context.Context, tx storage.Tx) (storage.Outcome, error) {
		if err := tx.SetAppointmentPaymentStatus(ctx, "apt-1", "COMPLETE"); err != nil {
			return storage.Outcome{}, err
		}
		if err := tx.CreateJob(ctx, domain.Job{ID: "job-1"}); err != nil {
			return storage.Outcome{}, err
		}
		return storage.Outcome{}, errors.New("invoice upload failed")
	})
	g.Expect(err).To(gomega.MatchError(gomega.ContainSubstring("invoice upload failed")))

	// Neither the staged mutation nor the job survived the failure, and
	// the event can be retried fresh.
	appt, _ := store.AppointmentByID("apt-1")
	g.Expect(appt.PaymentStatus).To(gomega.Equal("PENDING"))
	_, err = store.GetJob(ctx, "job-1")
	g.Expect(errors.Is(err, domain.ErrJobNotFound)).To(gomega.BeTrue())

	out, replayed, err := store.ProcessOnce(ctx, "evt_1", func(ctx context.Context, tx storage.Tx) (storage.Outcome, error) {
		return storage.Outcome{Status: "processed"}, nil
	})
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(replayed).To(gomega.BeFalse())
	g.Expect(out.Status).To(gomega.Equal("processed"))
}
