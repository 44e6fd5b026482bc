// Package mailer отправляет письма через smtp, настройки берутся из config.json на момент отправки.
package mailer

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/wneessen/go-mail"
	"go.uber.org/zap"

	"github.com/goinginblind/support-ticket-bot/internal/settings"
)

var ErrNotConfigured = errors.New("mailer: smtp host, user or password is not set")

type Attachment struct {
	Name string
	Data []byte
}

type Message struct {
	To          string
	Subject     string
	Text        string
	HTML        string
	Attachments []Attachment
}

// Transport: собственно отправка, в тестах подменяется.
type Transport interface {
	Send(ctx context.Context, cfg settings.EmailSettings, msg Message) error
}

// EmailSource: откуда брать актуальные smtp-настройки.
type EmailSource interface {
	Email() settings.EmailSettings
}

type Mailer struct {
	source    EmailSource
	transport Transport
	log       *zap.SugaredLogger
}

func New(source EmailSource, transport Transport, log *zap.SugaredLogger) *Mailer {
	if transport == nil {
		transport = SMTPTransport{}
	}
	return &Mailer{source: source, transport: transport, log: log}
}

// SendCode: письмо с кодом подтверждения.
func (m *Mailer) SendCode(ctx context.Context, to, code string) error {
	return m.send(ctx, Message{
		To:      to,
		Subject: "Код подтверждения",
		Text:    "Ваш код: " + code,
	})
}

// SendTicketNotification: письмо в поддержку с вложениями.
func (m *Mailer) SendTicketNotification(ctx context.Context, to, subject, html, text string, attachments []Attachment) error {
	return m.send(ctx, Message{
		To:          to,
		Subject:     subject,
		Text:        text,
		HTML:        html,
		Attachments: attachments,
	})
}

// SendTest: проверка настроек из админки.
func (m *Mailer) SendTest(ctx context.Context, to string) error {
	return m.send(ctx, Message{
		To:      to,
		Subject: "Тестовое письмо",
		Text:    "Настройки почты работают. " + time.Now().Format("02.01.2006 15:04:05"),
	})
}

// SupportAddress: куда слать обращения.
func (m *Mailer) SupportAddress() string {
	return m.source.Email().SupportEmail
}

func (m *Mailer) send(ctx context.Context, msg Message) error {
	cfg := m.source.Email()
	if cfg.Host == "" || cfg.User == "" || cfg.Password == "" {
		return ErrNotConfigured
	}
	if err := m.transport.Send(ctx, cfg, msg); err != nil {
		m.log.Errorw("email send failed", "to", msg.To, "subject", msg.Subject, "error", err)
		return err
	}
	m.log.Infow("email sent", "to", msg.To, "subject", msg.Subject, "attachments", len(msg.Attachments))
	return nil
}

// SMTPTransport: отправка через go-mail.
type SMTPTransport struct{}

func (SMTPTransport) Send(ctx context.Context, cfg settings.EmailSettings, msg Message) error {
	m := mail.NewMsg()
	if err := m.From(cfg.User); err != nil {
		return fmt.Errorf("set from: %w", err)
	}
	if err := m.To(msg.To); err != nil {
		return fmt.Errorf("set to: %w", err)
	}
	m.Subject(msg.Subject)
	m.SetBodyString(mail.TypeTextPlain, msg.Text)
	if msg.HTML != "" {
		m.AddAlternativeString(mail.TypeTextHTML, msg.HTML)
	}
	for _, a := range msg.Attachments {
		m.AttachReadSeeker(a.Name, bytes.NewReader(a.Data))
	}

	opts := []mail.Option{
		mail.WithPort(cfg.EffectivePort()),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(cfg.User),
		mail.WithPassword(cfg.Password),
		mail.WithTimeout(30 * time.Second),
		mail.WithTLSConfig(&tls.Config{
			ServerName:         cfg.Host,
			InsecureSkipVerify: !cfg.VerifyTLS(),
			MinVersion:         tls.VersionTLS12,
		}),
	}
	if cfg.Secure {
		opts = append(opts, mail.WithSSL())
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	}

	c, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	if err := c.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}
