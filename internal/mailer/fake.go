package mailer

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// FakeTransport logs instead of delivering. It backs development without
// an API key and records messages for tests.
type FakeTransport struct {
	log *zap.Logger

	mu   sync.Mutex
	sent []Message
	fail error
}

func NewFakeTransport(log *zap.Logger) *FakeTransport {
	return &FakeTransport{log: log.Named("mailer")}
}

func (t *FakeTransport) Send(_ context.Context, msg Message) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fail != nil {
		return "", t.fail
	}
	t.sent = append(t.sent, msg)
	t.log.Info("mail sent (fake)",
		zap.String("to", msg.To), zap.String("subject", msg.Subject))
	return fmt.Sprintf("fake-%d", len(t.sent)), nil
}

// Sent returns a copy of everything delivered so far.
func (t *FakeTransport) Sent() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Message, len(t.sent))
	copy(out, t.sent)
	return out
}

// FailWith makes subsequent sends return err; nil restores delivery.
func (t *FakeTransport) FailWith(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fail = err
}
