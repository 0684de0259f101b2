// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package notify

import (
	"context"

	"github.com/samber/oops"
	"gopkg.in/gomail.v2"
)

// SMTPConfig holds the outgoing mail server settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPSender delivers plain-text mail over SMTP, one connection per message.
type SMTPSender struct {
	from     string
	dialer   dialer
	recorder Recorder
}

// NewSMTPSender creates an SMTPSender. A nil recorder disables metrics.
func NewSMTPSender(cfg SMTPConfig, recorder Recorder) (*SMTPSender, error) {
	if cfg.Host == "" {
		return nil, oops.Code("SMTP_INVALID_CONFIG").Errorf("smtp host is required")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, oops.Code("SMTP_INVALID_CONFIG").With("port", cfg.Port).Errorf("smtp port out of range")
	}
	if cfg.From == "" {
		return nil, oops.Code("SMTP_INVALID_CONFIG").Errorf("smtp from address is required")
	}
	return &SMTPSender{
		from:     cfg.From,
		dialer:   gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		recorder: recorderOrNoop(recorder),
	}, nil
}

// Send delivers one message. gomail does not take a context, so ctx is only
// checked before dialing.
func (s *SMTPSender) Send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return oops.Code("SMTP_SEND_FAILED").Wrap(err)
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	if err := s.dialer.DialAndSend(m); err != nil {
		s.recorder.RecordNotification("smtp", OutcomeFailed)
		return oops.Code("SMTP_SEND_FAILED").With("subject", subject).Wrap(err)
	}
	s.recorder.RecordNotification("smtp", OutcomeSent)
	return nil
}
