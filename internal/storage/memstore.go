package storage

import (
	"context"
	"sync"
	"time"

	"github.com/TheHabib2005/ph-health-care-backend/internal/domain"
)

// MemStore is an in-memory Store with the same transition semantics as the
// Postgres implementation. It backs tests and single-node development.
type MemStore struct {
	mu           sync.Mutex
	jobs         map[string]domain.Job
	processed    map[string]memEvent
	appointments map[string]Appointment
	invoiceURLs  map[string]string
}

type memEvent struct {
	outcome     Outcome
	processedAt time.Time
}

func NewMemStore() *MemStore {
	return &MemStore{
		jobs:         make(map[string]domain.Job),
		processed:    make(map[string]memEvent),
		appointments: make(map[string]Appointment),
		invoiceURLs:  make(map[string]string),
	}
}

// SeedAppointment installs an appointment+payment row for webhook tests.
func (s *MemStore) SeedAppointment(a Appointment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appointments[a.ID] = a
}

// AppointmentByID reads back a seeded appointment, reflecting mutations.
func (s *MemStore) AppointmentByID(id string) (Appointment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.appointments[id]
	return a, ok
}

// InvoiceURL reads back the invoice url recorded for a payment.
func (s *MemStore) InvoiceURL(paymentID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.invoiceURLs[paymentID]
}

func (s *MemStore) CreateJob(_ context.Context, j domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[j.ID] = j
	return nil
}

func (s *MemStore) GetJob(_ context.Context, id string) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, domain.ErrJobNotFound
	}
	return j, nil
}

func (s *MemStore) Lease(_ context.Context, id, owner string, ttl time.Duration) (domain.Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.State != domain.StateWaiting {
		return domain.Job{}, false, nil
	}
	now := time.Now()
	exp := now.Add(ttl)
	j.State = domain.StateActive
	j.Attempts++
	j.LeaseOwner = owner
	j.LeaseExpiresAt = &exp
	j.LastAttemptAt = &now
	s.jobs[id] = j
	return j, true, nil
}

func (s *MemStore) Complete(_ context.Context, id string) error {
	return s.transition(id, domain.StateActive, func(j *domain.Job) {
		j.State = domain.StateCompleted
		j.LastError = ""
	})
}

func (s *MemStore) Retry(_ context.Context, id string, nextAttemptAt time.Time, cause string) error {
	return s.transition(id, domain.StateActive, func(j *domain.Job) {
		j.State = domain.StateWaiting
		j.NextAttemptAt = nextAttemptAt
		j.LastError = cause
	})
}

func (s *MemStore) Fail(_ context.Context, id string, cause string) error {
	return s.transition(id, domain.StateActive, func(j *domain.Job) {
		j.State = domain.StateFailed
		j.LastError = cause
	})
}

func (s *MemStore) transition(id string, from domain.State, apply func(*domain.Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.State != from {
		return domain.ErrJobNotFound
	}
	apply(&j)
	j.LeaseOwner = ""
	j.LeaseExpiresAt = nil
	s.jobs[id] = j
	return nil
}

func (s *MemStore) ExpireLeases(_ context.Context, now time.Time, batch int) (requeued []domain.Job, failed []domain.Job, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, j := range s.jobs {
		if n >= batch {
			break
		}
		if j.State != domain.StateActive || j.LeaseExpiresAt == nil || !j.LeaseExpiresAt.Before(now) {
			continue
		}
		n++
		j.LeaseOwner = ""
		j.LeaseExpiresAt = nil
		j.LastError = "lease expired"
		if j.AttemptsExhausted() {
			j.State = domain.StateFailed
			s.jobs[id] = j
			failed = append(failed, j)
			continue
		}
		j.State = domain.StateWaiting
		j.NextAttemptAt = now.Add(j.NextBackoff())
		s.jobs[id] = j
		requeued = append(requeued, j)
	}
	return requeued, failed, nil
}

func (s *MemStore) DueWaiting(_ context.Context, now time.Time, batch int) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Job
	for _, j := range s.jobs {
		if len(out) >= batch {
			break
		}
		if j.State == domain.StateWaiting && !j.NextAttemptAt.After(now) {
			out = append(out, j)
		}
	}
	return out, nil
}

func (s *MemStore) ListByState(_ context.Context, state domain.State, limit int) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Job
	for _, j := range s.jobs {
		if len(out) >= limit {
			break
		}
		if j.State == state {
			out = append(out, j)
		}
	}
	return out, nil
}

func (s *MemStore) PruneProcessedEvents(_ context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, ev := range s.processed {
		if ev.processedAt.Before(olderThan) {
			delete(s.processed, id)
			n++
		}
	}
	return n, nil
}

func (s *MemStore) Ping(context.Context) error { return nil }

// ProcessOnce mirrors the Postgres guard: the action's mutations are
// staged and applied only together with the processed-event record.
func (s *MemStore) ProcessOnce(ctx context.Context, eventID string, action func(ctx context.Context, tx Tx) (Outcome, error)) (Outcome, bool, error) {
	s.mu.Lock()
	if ev, ok := s.processed[eventID]; ok {
		s.mu.Unlock()
		return ev.outcome, true, nil
	}
	s.mu.Unlock()

	tx := &memTx{store: s, eventID: eventID}
	out, err := action(ctx, tx)
	if err != nil {
		return Outcome{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if ev, ok := s.processed[eventID]; ok {
		// Lost a race with a concurrent delivery; treat as replay.
		return ev.outcome, true, nil
	}
	for _, j := range tx.jobs {
		s.jobs[j.ID] = j
	}
	for id, a := range tx.appointments {
		s.appointments[id] = a
	}
	for id, url := range tx.invoiceURLs {
		s.invoiceURLs[id] = url
	}
	s.processed[eventID] = memEvent{outcome: out, processedAt: time.Now()}
	return out, false, nil
}

type memTx struct {
	store        *MemStore
	eventID      string
	jobs         []domain.Job
	appointments map[string]Appointment
	invoiceURLs  map[string]string
}

func (t *memTx) CreateJob(_ context.Context, j domain.Job) error {
	t.jobs = append(t.jobs, j)
	return nil
}

func (t *memTx) Appointment(_ context.Context, id string) (Appointment, error) {
	if a, ok := t.appointments[id]; ok {
		return a, nil
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	a, ok := t.store.appointments[id]
	if !ok {
		return Appointment{}, ErrAppointmentNotFound
	}
	return a, nil
}

func (t *memTx) SetPaymentStatus(ctx context.Context, paymentID, status, _ string, _ []byte) error {
	t.mutateByPayment(ctx, paymentID, func(a *Appointment) {
		a.PaymentStatus = status
	})
	return nil
}

func (t *memTx) SetAppointmentPaymentStatus(ctx context.Context, appointmentID, status string) error {
	a, err := t.Appointment(ctx, appointmentID)
	if err != nil {
		return err
	}
	a.PaymentStatus = status
	t.stageAppointment(a)
	return nil
}

func (t *memTx) SetInvoiceURL(_ context.Context, paymentID, url string) error {
	if t.invoiceURLs == nil {
		t.invoiceURLs = make(map[string]string)
	}
	t.invoiceURLs[paymentID] = url
	return nil
}

func (t *memTx) mutateByPayment(_ context.Context, paymentID string, apply func(*Appointment)) {
	t.store.mu.Lock()
	all := make([]Appointment, 0, len(t.store.appointments))
	for _, a := range t.store.appointments {
		all = append(all, a)
	}
	t.store.mu.Unlock()
	for _, a := range all {
		if staged, ok := t.appointments[a.ID]; ok {
			a = staged
		}
		if a.PaymentID == paymentID {
			apply(&a)
			t.stageAppointment(a)
			return
		}
	}
}

func (t *memTx) stageAppointment(a Appointment) {
	if t.appointments == nil {
		t.appointments = make(map[string]Appointment)
	}
	t.appointments[a.ID] = a
}
