// Package webhook processes signed payment-gateway events. Signature
// verification happens before anything else; every mutating event type
// then goes through the idempotency guard keyed by the gateway's event id,
// so a redelivered event can never enqueue a second mail or mutate payment
// state twice.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/zap"

	"github.com/TheHabib2005/ph-health-care-backend/internal/domain"
	"github.com/TheHabib2005/ph-health-care-backend/internal/producer"
	"github.com/TheHabib2005/ph-health-care-backend/internal/storage"
)

// ErrSignature means the event did not carry a valid gateway signature;
// it is rejected before reaching the guard.
var ErrSignature = errors.New("webhook signature verification failed")

const (
	paymentComplete = "COMPLETE"
	paymentPending  = "PENDING"
	paymentFailed   = "FAILED"
)

// Guard is the idempotency boundary; *storage.Store and
// *storage.MemStore both satisfy it.
type Guard interface {
	ProcessOnce(ctx context.Context, eventID string, action func(ctx context.Context, tx storage.Tx) (storage.Outcome, error)) (storage.Outcome, bool, error)
}

type Processor struct {
	guard    Guard
	producer *producer.Producer
	archive  InvoiceArchive
	secret   string
	log      *zap.Logger
}

func NewProcessor(guard Guard, prod *producer.Producer, archive InvoiceArchive, secret string, log *zap.Logger) *Processor {
	return &Processor{
		guard:    guard,
		producer: prod,
		archive:  archive,
		secret:   secret,
		log:      log.Named("webhook"),
	}
}

// Result is what the HTTP layer reports back to the gateway.
type Result struct {
	Outcome  storage.Outcome
	Replayed bool
	Ignored  bool
}

// gatewayObject is the slice of the event's data object this system reads.
// Session and payment-intent objects both fit.
type gatewayObject struct {
	ID            string            `json:"id"`
	PaymentStatus string            `json:"payment_status"`
	Metadata      map[string]string `json:"metadata"`
}

// HandleEvent verifies, deduplicates and applies one delivered event.
func (p *Processor) HandleEvent(ctx context.Context, payload []byte, sigHeader string) (Result, error) {
	event, err := webhook.ConstructEvent(payload, sigHeader, p.secret)
	if err != nil {
		return Result{}, errors.Wrapf(ErrSignature, "%v", err)
	}

	// An event without a data object still dispatches; the per-type
	// metadata checks turn it into an ignored outcome.
	var obj gatewayObject
	var raw []byte
	if event.Data != nil {
		raw = event.Data.Raw
		if err := json.Unmarshal(raw, &obj); err != nil {
			p.log.Warn("undecodable event object",
				zap.String("event_id", event.ID), zap.Error(err))
		}
	}

	switch string(event.Type) {
	case "checkout.session.completed":
		return p.checkoutCompleted(ctx, event.ID, obj, raw)

	case "checkout.session.expired", "payment_intent.payment_failed":
		return p.paymentFailed(ctx, event.ID, string(event.Type), obj, raw)

	default:
		// Tolerate gateway schema evolution: acknowledge and move on.
		p.log.Info("unhandled event type",
			zap.String("event_id", event.ID), zap.String("type", string(event.Type)))
		return Result{Ignored: true, Outcome: storage.Outcome{
			Status:  "ignored",
			Message: fmt.Sprintf("unhandled event type %s", event.Type),
		}}, nil
	}
}

func (p *Processor) checkoutCompleted(ctx context.Context, eventID string, obj gatewayObject, raw []byte) (Result, error) {
	var enqueued []domain.Job
	outcome, replayed, err := p.guard.ProcessOnce(ctx, eventID, func(ctx context.Context, tx storage.Tx) (storage.Outcome, error) {
		appointmentID := obj.Metadata["appointmentId"]
		paymentID := obj.Metadata["paymentId"]
		if appointmentID == "" || paymentID == "" {
			p.log.Error("missing appointmentId or paymentId in session metadata",
				zap.String("event_id", eventID))
			return storage.Outcome{
				Status:  "ignored",
				Message: "missing appointmentId or paymentId in session metadata",
			}, nil
		}

		appt, err := tx.Appointment(ctx, appointmentID)
		if errors.Is(err, storage.ErrAppointmentNotFound) {
			p.log.Error("appointment not found",
				zap.String("event_id", eventID),
				zap.String("appointment_id", appointmentID))
			return storage.Outcome{
				Status:  "ignored",
				Message: fmt.Sprintf("appointment %s not found", appointmentID),
			}, nil
		}
		if err != nil {
			return storage.Outcome{}, err
		}

		status := paymentPending
		message := "✘ Payment Failed! Insufficient balance or transaction declined by bank. Please try again."
		if obj.PaymentStatus == "paid" {
			status = paymentComplete
			message = "✔ Payment Successful! Your appointment has been confirmed. A confirmation SMS has been sent."
		}
		if err := tx.SetAppointmentPaymentStatus(ctx, appointmentID, status); err != nil {
			return storage.Outcome{}, err
		}
		if err := tx.SetPaymentStatus(ctx, paymentID, status, eventID, raw); err != nil {
			return storage.Outcome{}, err
		}

		receipt := domain.PaymentSuccessPayload{
			InvoiceNumber: uuid.Must(uuid.NewV7()).String(),
			DoctorName:    appt.DoctorName,
			PatientName:   appt.PatientName,
			PatientEmail:  appt.PatientEmail,
			TotalAmount:   appt.PaymentAmount,
			Status:        status,
			Message:       message,
			PaymentTime:   time.Now().UnixMilli(),
		}
		url, err := p.archive.Store(ctx, receipt.InvoiceNumber, receipt)
		if err != nil {
			// Fails the whole action; the gateway redelivers and the
			// guard has recorded nothing, so the retry starts clean.
			return storage.Outcome{}, errors.Wrap(err, "store invoice")
		}
		if err := tx.SetInvoiceURL(ctx, paymentID, url); err != nil {
			return storage.Outcome{}, err
		}
		receipt.InvoiceURL = url

		job, err := p.producer.EnqueueTx(ctx, tx, domain.KindPaymentSuccess, receipt)
		if err != nil {
			return storage.Outcome{}, err
		}
		enqueued = append(enqueued, job)

		p.log.Info("checkout session processed",
			zap.String("event_id", eventID),
			zap.String("appointment_id", appointmentID),
			zap.String("payment_id", paymentID),
			zap.String("status", status))
		return storage.Outcome{
			Status:  "processed",
			Message: fmt.Sprintf("checkout completed for appointment %s", appointmentID),
			JobIDs:  []string{job.ID},
		}, nil
	})
	if err != nil {
		return Result{}, err
	}
	if replayed {
		p.log.Info("event already processed, skipping",
			zap.String("event_id", eventID))
	} else {
		p.producer.PushRealized(ctx, enqueued...)
	}
	return Result{Outcome: outcome, Replayed: replayed}, nil
}

func (p *Processor) paymentFailed(ctx context.Context, eventID, eventType string, obj gatewayObject, raw []byte) (Result, error) {
	outcome, replayed, err := p.guard.ProcessOnce(ctx, eventID, func(ctx context.Context, tx storage.Tx) (storage.Outcome, error) {
		paymentID := obj.Metadata["paymentId"]
		if paymentID == "" {
			p.log.Warn("no paymentId metadata on failure event",
				zap.String("event_id", eventID), zap.String("type", eventType))
			return storage.Outcome{
				Status:  "ignored",
				Message: fmt.Sprintf("%s without paymentId metadata", eventType),
			}, nil
		}
		if err := tx.SetPaymentStatus(ctx, paymentID, paymentFailed, eventID, raw); err != nil {
			return storage.Outcome{}, err
		}
		p.log.Info("payment marked failed",
			zap.String("event_id", eventID),
			zap.String("payment_id", paymentID),
			zap.String("type", eventType))
		return storage.Outcome{
			Status:  "processed",
			Message: fmt.Sprintf("payment %s marked failed", paymentID),
		}, nil
	})
	if err != nil {
		return Result{}, err
	}
	return Result{Outcome: outcome, Replayed: replayed}, nil
}
