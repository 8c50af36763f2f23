package senders

import (
	"context"
	"net/http"

	"github.com/fiffu/reviewwatch/config"
	"go.uber.org/zap"
)

type Sender interface {
	Send(ctx context.Context, subject, body, recipient string) (string, error)
}

type Registry map[string]Sender

// NewSenderRegistry wires the email channel to Mailgun when it is configured, and to the
// log otherwise so that alerts are never silently dropped.
func NewSenderRegistry(log *zap.Logger, cfg *config.Config, transport http.RoundTripper) Registry {
	base := base{log, cfg, transport}

	var email Sender = &logSender{base}
	if cfg.Mailgun.Domain != "" && cfg.Mailgun.APIKey != "" {
		email = newMailgunSender(base)
	} else {
		log.Sugar().Info("Mailgun is not configured, emails will only be logged")
	}

	return map[string]Sender{
		"email": email,
	}
}

type base struct {
	log       *zap.Logger
	cfg       *config.Config
	transport http.RoundTripper
}

type logSender struct {
	base
}

func (l *logSender) Send(ctx context.Context, subject, body, recipient string) (string, error) {
	l.log.Sugar().Infow("Email not sent, no provider configured", "subject", subject, "recipient", recipient)
	return "", nil
}
