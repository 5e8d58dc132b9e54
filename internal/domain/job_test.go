package domain

import (
	"testing"
	"time"

	"github.com/onsi/gomega"
	"github.com/pkg/errors"
)

func TestBackoffDoublesPerAttempt(t *testing.T) {
	g := gomega.NewWithT(t)

	base := 1000 * time.Millisecond
	g.Expect(Backoff(base, 1)).To(gomega.Equal(1000 * time.Millisecond))
	g.Expect(Backoff(base, 2)).To(gomega.Equal(2000 * time.Millisecond))
	g.Expect(Backoff(base, 3)).To(gomega.Equal(4000 * time.Millisecond))

	// Attempt counts below 1 clamp to the base delay.
	g.Expect(Backoff(base, 0)).To(gomega.Equal(base))
}

func TestNextBackoffUsesCountedAttempts(t *testing.T) {
	g := gomega.NewWithT(t)

	j := Job{BackoffBase: DefaultBackoffBase, Attempts: 1}
	g.Expect(j.NextBackoff()).To(gomega.Equal(1000 * time.Millisecond))
	j.Attempts = 2
	g.Expect(j.NextBackoff()).To(gomega.Equal(2000 * time.Millisecond))
}

func TestBackoffDelaysNonDecreasing(t *testing.T) {
	g := gomega.NewWithT(t)

	prev := time.Duration(0)
	for attempt := 1; attempt <= 5; attempt++ {
		d := Backoff(DefaultBackoffBase, attempt)
		g.Expect(d >= prev).To(gomega.BeTrue())
		prev = d
	}
}

func TestKindValidity(t *testing.T) {
	g := gomega.NewWithT(t)

	for _, k := range []Kind{KindVerificationMail, KindResetPasswordMail,
		KindPrescriptionEmail, KindPaymentSuccess, KindHealthPing} {
		g.Expect(k.Valid()).To(gomega.BeTrue(), string(k))
	}
	g.Expect(Kind("send-fax").Valid()).To(gomega.BeFalse())
	g.Expect(Kind("").Valid()).To(gomega.BeFalse())
}

func TestTerminalStates(t *testing.T) {
	g := gomega.NewWithT(t)

	g.Expect(StateCompleted.Terminal()).To(gomega.BeTrue())
	g.Expect(StateFailed.Terminal()).To(gomega.BeTrue())
	g.Expect(StateWaiting.Terminal()).To(gomega.BeFalse())
	g.Expect(StateActive.Terminal()).To(gomega.BeFalse())
}

func TestPermanentErrorMarking(t *testing.T) {
	g := gomega.NewWithT(t)

	plain := errors.New("smtp timeout")
	g.Expect(IsPermanent(plain)).To(gomega.BeFalse())

	marked := Permanent(plain)
	g.Expect(IsPermanent(marked)).To(gomega.BeTrue())
	g.Expect(errors.Is(marked, plain)).To(gomega.BeTrue())

	// Marking survives further wrapping.
	wrapped := errors.Wrap(marked, "handler")
	g.Expect(IsPermanent(wrapped)).To(gomega.BeTrue())

	g.Expect(Permanent(nil)).To(gomega.BeNil())
}

func TestAttemptsExhausted(t *testing.T) {
	g := gomega.NewWithT(t)

	j := Job{Attempts: 2, MaxAttempts: 3}
	g.Expect(j.AttemptsExhausted()).To(gomega.BeFalse())
	j.Attempts = 3
	g.Expect(j.AttemptsExhausted()).To(gomega.BeTrue())
}
