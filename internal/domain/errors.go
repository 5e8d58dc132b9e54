package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownKind is returned synchronously to producers for kinds
	// outside the closed set, and marks leased jobs whose kind has no
	// registered handler (deploy mismatch) as permanently failed.
	ErrUnknownKind = errors.New("unknown job kind")

	// ErrQueueUnavailable means the job could not be durably persisted.
	// Call sites decide criticality; notification flows log and move on.
	ErrQueueUnavailable = errors.New("queue unavailable")

	ErrJobNotFound = errors.New("job not found")

	// ErrRecipientMissing is returned by handlers whose payload carries no
	// recipient address. Retryable: the payload may have raced a read.
	ErrRecipientMissing = errors.New("recipient missing")
)

// PermanentError wraps a handler failure that must not be retried, such as
// a malformed recipient address.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return fmt.Sprintf("permanent: %v", e.Err) }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent marks err as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// RenderError reports a template that could not be rendered. Retryable by
// default; a transient template or data problem may clear on retry.
type RenderError struct {
	Template string
	Err      error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render %s: %v", e.Template, e.Err)
}
func (e *RenderError) Unwrap() error { return e.Err }

// DeliveryError reports a mail transport failure. Retryable.
type DeliveryError struct {
	To  string
	Err error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver to %s: %v", e.To, e.Err)
}
func (e *DeliveryError) Unwrap() error { return e.Err }
