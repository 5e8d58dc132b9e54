package mailer

import "context"

// Message is one outbound mail. Handlers build the html; the transport
// only delivers it.
type Message struct {
	To      string
	Subject string
	Html    string
}

// Transport delivers mail and returns the provider's message id. Failures
// are classified retryable by the worker.
type Transport interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// Renderer turns a named template plus data into an html body.
type Renderer interface {
	Render(name string, data any) (string, error)
}
