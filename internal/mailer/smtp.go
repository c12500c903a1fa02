// Package mailer delivers verification and confirmation emails.
package mailer

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"github.com/iliyamo/signup-verification/internal/logger"
)

// SMTPSender sends multipart (text + HTML) mail over SMTP.
type SMTPSender struct {
	deliver func(m ...*gomail.Message) error
	from    string
}

// NewSMTPSender dials host:port for every message.
func NewSMTPSender(host string, port int, user, password, from string) *SMTPSender {
	d := gomail.NewDialer(host, port, user, password)
	return &SMTPSender{deliver: d.DialAndSend, from: from}
}

func newSenderWith(s gomail.Sender, from string) *SMTPSender {
	return &SMTPSender{
		deliver: func(m ...*gomail.Message) error { return gomail.Send(s, m...) },
		from:    from,
	}
}

func (s *SMTPSender) Send(ctx context.Context, to, subject, textBody, htmlBody string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", textBody)
	if htmlBody != "" {
		m.AddAlternative("text/html", htmlBody)
	}
	if err := s.deliver(m); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

// LogSender writes emails to the log instead of sending them. It is used
// when no SMTP host is configured.
type LogSender struct {
	log *zap.Logger
}

// NewLogSender logs through l.
func NewLogSender(l *zap.Logger) *LogSender { return &LogSender{log: l.Named("mailer")} }

func (s *LogSender) Send(_ context.Context, to, subject, textBody, _ string) error {
	s.log.Info("email not sent, no smtp configured",
		logger.MaskEmail(to), zap.String("subject", subject), zap.Int("text_bytes", len(textBody)))
	return nil
}
