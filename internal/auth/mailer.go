package auth

import (
	"context"
	"fmt"
	"log/slog"

	"gopkg.in/gomail.v2"

	"github.com/keshly/keshly/internal/common"
)

// Mailer delivers account e-mails.
type Mailer interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

type smtpMailer struct {
	cfg    common.MailConfig
	dialer *gomail.Dialer
	logger *slog.Logger
}

// NewSMTPMailer sends through the configured SMTP relay.
func NewSMTPMailer(cfg common.MailConfig, logger *slog.Logger) Mailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &smtpMailer{
		cfg:    cfg,
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		logger: logger,
	}
}

func (m *smtpMailer) Send(ctx context.Context, to, subject, htmlBody string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	from := m.cfg.From
	if from == "" {
		from = m.cfg.Username
	}
	msg := gomail.NewMessage()
	msg.SetHeader("From", from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/html", htmlBody)

	if err := m.dialer.DialAndSend(msg); err != nil {
		m.logger.Error("auth.mail.failed", "to", to, "host", m.cfg.Host, "error", err)
		return fmt.Errorf("send mail: %w", err)
	}
	m.logger.Info("auth.mail.sent", "to", to, "subject", subject)
	return nil
}

type nopMailer struct {
	logger *slog.Logger
}

// NewNopMailer logs instead of sending; used when no SMTP host is configured.
func NewNopMailer(logger *slog.Logger) Mailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &nopMailer{logger: logger}
}

func (m *nopMailer) Send(_ context.Context, to, subject, _ string) error {
	m.logger.Warn("auth.mail.skipped", "to", to, "subject", subject)
	return nil
}

// NewMailer picks SMTP when a host is configured.
func NewMailer(cfg common.MailConfig, logger *slog.Logger) Mailer {
	if cfg.Host == "" {
		return NewNopMailer(logger)
	}
	return NewSMTPMailer(cfg, logger)
}
