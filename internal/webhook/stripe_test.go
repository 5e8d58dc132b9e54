package webhook_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/onsi/gomega"
	"github.com/pkg/errors"
	stripe "github.com/stripe/stripe-go/v76"
	"go.uber.org/zap"

	"github.com/TheHabib2005/ph-health-care-backend/internal/domain"
	"github.com/TheHabib2005/ph-health-care-backend/internal/producer"
	"github.com/TheHabib2005/ph-health-care-backend/internal/queue"
	"github.com/TheHabib2005/ph-health-care-backend/internal/storage"
	"github.com/TheHabib2005/ph-health-care-backend/internal/webhook"
)

const testSecret = "whsec_test_secret"

type webhookFixture struct {
	store *storage.MemStore
	queue *queue.MemoryQ
	proc  *webhook.Processor
}

func newWebhookFixture(t *testing.T) *webhookFixture {
	t.Helper()
	store := storage.NewMemStore()
	q := queue.NewMemoryQ()
	t.Cleanup(func() { q.Close() })
	log := zap.NewNop()
	prod := producer.New(store, q, log)
	archive := webhook.NewStaticInvoiceArchive("https://files.clinic.example", zap.NewNop())
	return &webhookFixture{
		store: store,
		queue: q,
		proc:  webhook.NewProcessor(store, prod, archive, testSecret, log),
	}
}

func (f *webhookFixture) seedPaidAppointment() {
	f.store.SeedAppointment(storage.Appointment{
		ID:            "apt-1",
		DoctorName:    "Karim",
		PatientName:   "Rahim",
		PatientEmail:  "rahim@example.com",
		PaymentID:     "pay-1",
		PaymentAmount: 1500,
		PaymentStatus: "PENDING",
	})
}

// sign produces the gateway's signature header for a payload: a unix
// timestamp and an HMAC-SHA256 of "<timestamp>.<payload>".
func sign(secret string, payload []byte) string {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func checkoutEvent(eventID, paymentStatus string, metadata string) []byte {
	return []byte(fmt.Sprintf(`{
		"id": %q,
		"type": "checkout.session.completed",
		"api_version": %q,
		"data": {
			"object": {
				"id": "cs_test_1",
				"payment_status": %q,
				"metadata": %s
			}
		}
	}`, eventID, stripe.APIVersion, paymentStatus, metadata))
}

func TestRejectsBadSignature(t *testing.T) {
	g := gomega.NewWithT(t)
	f := newWebhookFixture(t)

	payload := checkoutEvent("evt_1", "paid", `{"appointmentId":"apt-1","paymentId":"pay-1"}`)
	_, err := f.proc.HandleEvent(context.Background(), payload, sign("whsec_wrong", payload))
	g.Expect(errors.Is(err, webhook.ErrSignature)).To(gomega.BeTrue())

	_, err = f.proc.HandleEvent(context.Background(), payload, "t=123,v1=deadbeef")
	g.Expect(errors.Is(err, webhook.ErrSignature)).To(gomega.BeTrue())
}

func TestCheckoutCompletedEnqueuesReceipt(t *testing.T) {
	g := gomega.NewWithT(t)
	ctx := context.Background()
	f := newWebhookFixture(t)
	f.seedPaidAppointment()

	payload := checkoutEvent("evt_1", "paid", `{"appointmentId":"apt-1","paymentId":"pay-1"}`)
	res, err := f.proc.HandleEvent(ctx, payload, sign(testSecret, payload))
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(res.Replayed).To(gomega.BeFalse())
	g.Expect(res.Outcome.Status).To(gomega.Equal("processed"))
	g.Expect(res.Outcome.JobIDs).To(gomega.HaveLen(1))

	appt, ok := f.store.AppointmentByID("apt-1")
	g.Expect(ok).To(gomega.BeTrue())
	g.Expect(appt.PaymentStatus).To(gomega.Equal("COMPLETE"))
	g.Expect(f.store.InvoiceURL("pay-1")).To(gomega.ContainSubstring("/documents/invoices/"))

	// The receipt job is persisted and its queue entry is live.
	job, err := f.store.GetJob(ctx, res.Outcome.JobIDs[0])
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(job.Kind).To(gomega.Equal(domain.KindPaymentSuccess))
	g.Expect(job.State).To(gomega.Equal(domain.StateWaiting))

	id, popped, err := f.queue.Pop(ctx, 0)
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(popped).To(gomega.BeTrue())
	g.Expect(id).To(gomega.Equal(job.ID))
}

func TestRedeliveredEventIsReplayedNotReprocessed(t *testing.T) {
	g := gomega.NewWithT(t)
	ctx := context.Background()
	f := newWebhookFixture(t)
	f.seedPaidAppointment()

	payload := checkoutEvent("evt_1", "paid", `{"appointmentId":"apt-1","paymentId":"pay-1"}`)
	first, err := f.proc.HandleEvent(ctx, payload, sign(testSecret, payload))
	g.Expect(err).NotTo(gomega.HaveOccurred())

	second, err := f.proc.HandleEvent(ctx, payload, sign(testSecret, payload))
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(second.Replayed).To(gomega.BeTrue())
	g.Expect(second.Outcome).To(gomega.Equal(first.Outcome))

	// Exactly one job total, and exactly one queue entry.
	waiting, err := f.store.ListByState(ctx, domain.StateWaiting, 50)
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(waiting).To(gomega.HaveLen(1))

	_, popped, err := f.queue.Pop(ctx, 0)
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(popped).To(gomega.BeTrue())
	_, popped, err = f.queue.Pop(ctx, 0)
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(popped).To(gomega.BeFalse())
}

func TestUnpaidCheckoutRecordsPending(t *testing.T) {
	g := gomega.NewWithT(t)
	ctx := context.Background()
	f := newWebhookFixture(t)
	f.seedPaidAppointment()

	payload := checkoutEvent("evt_1", "unpaid", `{"appointmentId":"apt-1","paymentId":"pay-1"}`)
	res, err := f.proc.HandleEvent(ctx, payload, sign(testSecret, payload))
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(res.Outcome.Status).To(gomega.Equal("processed"))

	appt, _ := f.store.AppointmentByID("apt-1")
	g.Expect(appt.PaymentStatus).To(gomega.Equal("PENDING"))
}

func TestCheckoutWithoutMetadataIsIgnored(t *testing.T) {
	g := gomega.NewWithT(t)
	ctx := context.Background()
	f := newWebhookFixture(t)

	payload := checkoutEvent("evt_1", "paid", `{}`)
	res, err := f.proc.HandleEvent(ctx, payload, sign(testSecret, payload))
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(res.Outcome.Status).To(gomega.Equal("ignored"))

	waiting, err := f.store.ListByState(ctx, domain.StateWaiting, 50)
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(waiting).To(gomega.BeEmpty())
}

func TestCheckoutForUnknownAppointmentIsIgnored(t *testing.T) {
	g := gomega.NewWithT(t)
	ctx := context.Background()
	f := newWebhookFixture(t)

	payload := checkoutEvent("evt_1", "paid", `{"appointmentId":"apt-missing","paymentId":"pay-1"}`)
	res, err := f.proc.HandleEvent(ctx, payload, sign(testSecret, payload))
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(res.Outcome.Status).To(gomega.Equal("ignored"))
	g.Expect(res.Outcome.Message).To(gomega.ContainSubstring("apt-missing"))
}

func TestSessionExpiredMarksPaymentFailed(t *testing.T) {
	g := gomega.NewWithT(t)
	ctx := context.Background()
	f := newWebhookFixture(t)
	f.seedPaidAppointment()

	payload := []byte(fmt.Sprintf(`{
		"id": "evt_2",
		"type": "checkout.session.expired",
		"api_version": %q,
		"data": {
			"object": {
				"id": "cs_test_1",
				"metadata": {"paymentId": "pay-1"}
			}
		}
	}`, stripe.APIVersion))
	res, err := f.proc.HandleEvent(ctx, payload, sign(testSecret, payload))
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(res.Outcome.Status).To(gomega.Equal("processed"))

	appt, _ := f.store.AppointmentByID("apt-1")
	g.Expect(appt.PaymentStatus).To(gomega.Equal("FAILED"))

	// No mail goes out for a failed payment.
	waiting, err := f.store.ListByState(ctx, domain.StateWaiting, 50)
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(waiting).To(gomega.BeEmpty())
}

func TestEventWithoutDataObjectIsIgnored(t *testing.T) {
	g := gomega.NewWithT(t)
	ctx := context.Background()
	f := newWebhookFixture(t)
	f.seedPaidAppointment()

	for _, eventType := range []string{
		"checkout.session.completed",
		"checkout.session.expired",
		"payment_intent.payment_failed",
	} {
		payload := []byte(fmt.Sprintf(`{
			"id": "evt_no_data_%s",
			"type": %q,
			"api_version": %q
		}`, eventType, eventType, stripe.APIVersion))
		res, err := f.proc.HandleEvent(ctx, payload, sign(testSecret, payload))
		g.Expect(err).NotTo(gomega.HaveOccurred())
		g.Expect(res.Outcome.Status).To(gomega.Equal("ignored"))
	}

	waiting, err := f.store.ListByState(ctx, domain.StateWaiting, 50)
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(waiting).To(gomega.BeEmpty())
}

func TestUnhandledEventTypeIsAcknowledged(t *testing.T) {
	g := gomega.NewWithT(t)
	ctx := context.Background()
	f := newWebhookFixture(t)

	payload := []byte(fmt.Sprintf(`{
		"id": "evt_3",
		"type": "customer.created",
		"api_version": %q,
		"data": {"object": {"id": "cus_1"}}
	}`, stripe.APIVersion))
	res, err := f.proc.HandleEvent(ctx, payload, sign(testSecret, payload))
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(res.Ignored).To(gomega.BeTrue())
}
