package storage

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/TheHabib2005/ph-health-care-backend/internal/domain"
)

// ErrAppointmentNotFound means the session metadata pointed at an
// appointment this database does not have.
var ErrAppointmentNotFound = errors.New("appointment not found")

// Outcome is what a webhook action produced, recorded alongside the event
// id so a redelivery can answer with the original result.
type Outcome struct {
	Status  string   `json:"status"`
	Message string   `json:"message"`
	JobIDs  []string `json:"job_ids,omitempty"`
}

// Appointment is the joined appointment+payment view the checkout webhook
// needs to build an invoice.
type Appointment struct {
	ID            string
	DoctorName    string
	PatientName   string
	PatientEmail  string
	PaymentID     string
	PaymentAmount float64
	PaymentStatus string
}

// Tx is the set of mutations a ProcessOnce action may perform. Everything
// it does commits atomically with the processed-event record.
type Tx interface {
	CreateJob(ctx context.Context, j domain.Job) error
	Appointment(ctx context.Context, id string) (Appointment, error)
	SetPaymentStatus(ctx context.Context, paymentID, status, eventID string, gatewayData []byte) error
	SetAppointmentPaymentStatus(ctx context.Context, appointmentID, status string) error
	SetInvoiceURL(ctx context.Context, paymentID, url string) error
}

// ProcessOnce runs action for eventID at most once. The processed_events
// insert and every mutation the action performs share one transaction, so
// a crash between "mutate state" and "record event processed" cannot
// happen. A redelivered event returns the recorded outcome, replayed=true,
// without running action.
func (s *Store) ProcessOnce(ctx context.Context, eventID string, action func(ctx context.Context, tx Tx) (Outcome, error)) (Outcome, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Outcome{}, false, errors.Wrap(err, "process once")
	}
	defer tx.Rollback(ctx)

	// A concurrent delivery of the same event blocks here on the unique
	// index until the first transaction commits, then takes the replay
	// path below.
	tag, err := tx.Exec(ctx, `
insert into processed_events (event_id, processed_at)
values ($1, now())
on conflict (event_id) do nothing`, eventID)
	if err != nil {
		return Outcome{}, false, errors.Wrap(err, "process once")
	}
	if tag.RowsAffected() == 0 {
		_ = tx.Rollback(ctx)
		return s.recordedOutcome(ctx, eventID)
	}

	out, err := action(ctx, &pgTx{tx})
	if err != nil {
		return Outcome{}, false, err
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return Outcome{}, false, errors.Wrap(err, "process once")
	}
	if _, err := tx.Exec(ctx,
		`update processed_events set outcome = $2 where event_id = $1`,
		eventID, raw); err != nil {
		return Outcome{}, false, errors.Wrap(err, "process once")
	}
	if err := tx.Commit(ctx); err != nil {
		return Outcome{}, false, errors.Wrap(err, "process once")
	}
	return out, false, nil
}

func (s *Store) recordedOutcome(ctx context.Context, eventID string) (Outcome, bool, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`select outcome from processed_events where event_id = $1`,
		eventID).Scan(&raw)
	if err != nil {
		return Outcome{}, true, errors.Wrap(err, "recorded outcome")
	}
	var out Outcome
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return Outcome{}, true, errors.Wrap(err, "recorded outcome")
		}
	}
	return out, true, nil
}

type pgTx struct{ tx pgx.Tx }

func (t *pgTx) CreateJob(ctx context.Context, j domain.Job) error {
	return insertJob(ctx, t.tx, j)
}

func (t *pgTx) Appointment(ctx context.Context, id string) (Appointment, error) {
	var a Appointment
	err := t.tx.QueryRow(ctx, `
select a.id, a.doctor_name, a.patient_name, a.patient_email,
       p.id, p.amount, p.status
  from appointments a
  join payments p on p.appointment_id = a.id
 where a.id = $1`, id).Scan(&a.ID, &a.DoctorName, &a.PatientName,
		&a.PatientEmail, &a.PaymentID, &a.PaymentAmount, &a.PaymentStatus)
	if errors.Is(err, pgx.ErrNoRows) {
		return Appointment{}, ErrAppointmentNotFound
	}
	return a, errors.Wrap(err, "load appointment")
}

func (t *pgTx) SetPaymentStatus(ctx context.Context, paymentID, status, eventID string, gatewayData []byte) error {
	_, err := t.tx.Exec(ctx, `
update payments
   set status = $2, stripe_event_id = $3, gateway_data = $4,
       updated_at = now()
 where id = $1`, paymentID, status, eventID, gatewayData)
	return errors.Wrap(err, "update payment")
}

func (t *pgTx) SetAppointmentPaymentStatus(ctx context.Context, appointmentID, status string) error {
	_, err := t.tx.Exec(ctx, `
update appointments set payment_status = $2 where id = $1`,
		appointmentID, status)
	return errors.Wrap(err, "update appointment")
}

func (t *pgTx) SetInvoiceURL(ctx context.Context, paymentID, url string) error {
	_, err := t.tx.Exec(ctx, `
update payments set invoice_url = $2, updated_at = now() where id = $1`,
		paymentID, url)
	return errors.Wrap(err, "set invoice url")
}
