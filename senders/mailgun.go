package senders

import (
	"context"
	"net/http"
	"time"

	"github.com/mailgun/mailgun-go/v4"
)

const alertTag = "reviewwatch-alert"

type mailgunSender struct {
	base
	mg      *mailgun.MailgunImpl
	timeout time.Duration
}

func newMailgunSender(b base) *mailgunSender {
	mg := mailgun.NewMailgun(b.cfg.Mailgun.Domain, b.cfg.Mailgun.APIKey)
	if b.cfg.Mailgun.APIBase != "" {
		mg.SetAPIBase(b.cfg.Mailgun.APIBase)
	}
	mg.SetClient(&http.Client{Transport: b.transport})

	return &mailgunSender{
		base:    b,
		mg:      mg,
		timeout: time.Duration(b.cfg.Mailgun.TimeoutSecs) * time.Second,
	}
}

// Send delivers an HTML email and returns the Mailgun message id.
func (e *mailgunSender) Send(ctx context.Context, subject, body, recipient string) (string, error) {
	// The plain text part is what clients without HTML support show.
	message := e.mg.NewMessage(e.cfg.Mailgun.SenderFrom, subject, "Open this email in an HTML capable client.", recipient)
	message.SetHtml(body)
	if err := message.AddTag(alertTag); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	_, id, err := e.mg.Send(ctx, message)
	if err != nil {
		e.log.Sugar().Warnw("Failed to send email", "subject", subject, "recipient", recipient, "err", err)
		return "", err
	}
	return id, nil
}
