// Package notify holds the per-kind job handlers: each one maps a leased
// job's payload to a rendered mail and hands it to the transport. Handlers
// are idempotent at the message-content level; delivery deduplication is
// not their job, the webhook idempotency guard takes care of duplicates
// before anything is enqueued.
package notify

import (
	"context"
	"encoding/json"
	"net/mail"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/TheHabib2005/ph-health-care-backend/internal/domain"
	"github.com/TheHabib2005/ph-health-care-backend/internal/mailer"
	"github.com/TheHabib2005/ph-health-care-backend/internal/worker"
)

type Notifier struct {
	transport mailer.Transport
	renderer  mailer.Renderer
	log       *zap.Logger
}

func New(t mailer.Transport, r mailer.Renderer, log *zap.Logger) *Notifier {
	return &Notifier{transport: t, renderer: r, log: log.Named("notify")}
}

// RegisterAll binds every known kind on the runtime.
func (n *Notifier) RegisterAll(rt *worker.Runtime) {
	rt.Register(domain.KindVerificationMail, n.HandleVerificationMail)
	rt.Register(domain.KindResetPasswordMail, n.HandleResetPasswordMail)
	rt.Register(domain.KindPrescriptionEmail, n.HandlePrescriptionEmail)
	rt.Register(domain.KindPaymentSuccess, n.HandlePaymentSuccess)
	rt.Register(domain.KindHealthPing, n.HandleHealthPing)
}

func (n *Notifier) HandleVerificationMail(ctx context.Context, job domain.Job) error {
	var p domain.VerificationMailPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return domain.Permanent(errors.Wrap(err, "decode payload"))
	}
	to, err := checkRecipient(p.User.Email)
	if err != nil {
		return err
	}
	html, err := n.renderer.Render("verification.html", map[string]any{
		"Name": p.User.Name,
		"URL":  p.URL,
	})
	if err != nil {
		return err
	}
	return n.send(ctx, to, "Verify your PH Health Care account", html)
}

func (n *Notifier) HandleResetPasswordMail(ctx context.Context, job domain.Job) error {
	var p domain.ResetPasswordMailPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return domain.Permanent(errors.Wrap(err, "decode payload"))
	}
	to, err := checkRecipient(p.User.Email)
	if err != nil {
		return err
	}
	html, err := n.renderer.Render("reset_password.html", map[string]any{
		"Name": p.User.Name,
		"URL":  p.URL,
	})
	if err != nil {
		return err
	}
	return n.send(ctx, to, "Reset your PH Health Care password", html)
}

func (n *Notifier) HandlePrescriptionEmail(ctx context.Context, job domain.Job) error {
	var p domain.PrescriptionEmailPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return domain.Permanent(errors.Wrap(err, "decode payload"))
	}
	to, err := checkRecipient(p.PatientEmail)
	if err != nil {
		return err
	}
	html, err := n.renderer.Render("prescription.html", p)
	if err != nil {
		return err
	}
	return n.send(ctx, to, "Your prescription is ready", html)
}

func (n *Notifier) HandlePaymentSuccess(ctx context.Context, job domain.Job) error {
	var p domain.PaymentSuccessPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return domain.Permanent(errors.Wrap(err, "decode payload"))
	}
	to, err := checkRecipient(p.PatientEmail)
	if err != nil {
		return err
	}
	html, err := n.renderer.Render("payment_receipt.html", p)
	if err != nil {
		return err
	}
	return n.send(ctx, to, "Payment receipt "+p.InvoiceNumber, html)
}

// HandleHealthPing completes without side effects; the job only exists to
// smoke-test the enqueue path end to end.
func (n *Notifier) HandleHealthPing(context.Context, domain.Job) error {
	return nil
}

func (n *Notifier) send(ctx context.Context, to, subject, html string) error {
	if _, err := n.transport.Send(ctx, mailer.Message{To: to, Subject: subject, Html: html}); err != nil {
		return &domain.DeliveryError{To: to, Err: err}
	}
	return nil
}

// checkRecipient distinguishes a missing address (retryable, the payload
// may have raced an upstream write) from a malformed one (permanent).
func checkRecipient(address string) (string, error) {
	if address == "" {
		return "", domain.ErrRecipientMissing
	}
	if _, err := mail.ParseAddress(address); err != nil {
		return "", domain.Permanent(errors.Wrapf(err, "recipient %q", address))
	}
	return address, nil
}
