package mailer

import (
	"context"

	"github.com/pkg/errors"
	"github.com/resend/resend-go/v2"
	"go.uber.org/zap"
)

// ResendTransport sends through the Resend API.
type ResendTransport struct {
	client *resend.Client
	from   string
	log    *zap.Logger
}

func NewResendTransport(apiKey, from string, log *zap.Logger) *ResendTransport {
	return &ResendTransport{
		client: resend.NewClient(apiKey),
		from:   from,
		log:    log.Named("mailer"),
	}
}

func (t *ResendTransport) Send(ctx context.Context, msg Message) (string, error) {
	params := &resend.SendEmailRequest{
		From:    t.from,
		To:      []string{msg.To},
		Subject: msg.Subject,
		Html:    msg.Html,
	}
	sent, err := t.client.Emails.SendWithContext(ctx, params)
	if err != nil {
		return "", errors.Wrap(err, "resend")
	}
	t.log.Info("mail sent",
		zap.String("to", msg.To), zap.String("message_id", sent.Id))
	return sent.Id, nil
}
