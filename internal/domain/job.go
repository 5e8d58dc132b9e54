package domain

import (
	"encoding/json"
	"time"
)

// Kind identifies one of the notification job types known at deploy time.
type Kind string

const (
	KindVerificationMail  Kind = "verification-mail"
	KindResetPasswordMail Kind = "reset-password-mail"
	KindPrescriptionEmail Kind = "prescription-email"
	KindPaymentSuccess    Kind = "payment-success"
	// KindHealthPing is enqueued by the liveness probe to exercise the
	// enqueue path; its handler does nothing.
	KindHealthPing Kind = "health-ping"
)

func (k Kind) Valid() bool {
	switch k {
	case KindVerificationMail, KindResetPasswordMail, KindPrescriptionEmail,
		KindPaymentSuccess, KindHealthPing:
		return true
	}
	return false
}

type State string

const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Terminal reports whether a job in this state can never be leased again.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

const (
	DefaultPriority    = 10
	DefaultMaxAttempts = 3
	DefaultBackoffBase = 1000 * time.Millisecond
)

// Job is the unit of asynchronous work. The jobs table in Postgres is the
// source of truth; Redis only holds scheduling entries (job ids).
type Job struct {
	ID             string          `json:"id"`
	Kind           Kind            `json:"kind"`
	Payload        json.RawMessage `json:"payload"`
	Priority       int             `json:"priority"`
	Attempts       int             `json:"attempts"`
	MaxAttempts    int             `json:"max_attempts"`
	BackoffBase    time.Duration   `json:"backoff_base"`
	State          State           `json:"state"`
	LastError      string          `json:"last_error,omitempty"`
	LeaseOwner     string          `json:"lease_owner,omitempty"`
	LeaseExpiresAt *time.Time      `json:"lease_expires_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	LastAttemptAt  *time.Time      `json:"last_attempt_at,omitempty"`
	NextAttemptAt  time.Time       `json:"next_attempt_at"`
}

// NextBackoff is the delay before the next attempt, computed after the
// current attempt has been counted: base * 2^(attempts-1). With the default
// base that is 1000ms after the first failure and 2000ms after the second.
func (j Job) NextBackoff() time.Duration {
	return Backoff(j.BackoffBase, j.Attempts)
}

func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base << (attempt - 1)
}

// AttemptsExhausted reports whether the job has no retries left.
func (j Job) AttemptsExhausted() bool {
	return j.Attempts >= j.MaxAttempts
}
