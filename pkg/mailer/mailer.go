package mailer

import (
	"crypto/tls"
	"fmt"

	mail "github.com/go-mail/mail/v2"

	"github.com/edutech-rw/asset-api/pkg/config"
)

// Sender delivers a single email message.
type Sender interface {
	Send(to, subject, body string) error
}

// SMTPMailer sends mail through an SMTP relay using STARTTLS.
type SMTPMailer struct {
	cfg    config.SMTPConfig
	dialer *mail.Dialer
}

// NewSMTP constructs an SMTPMailer from configuration.
func NewSMTP(cfg config.SMTPConfig) (*SMTPMailer, error) {
	if cfg.Host == "" || cfg.From == "" {
		return nil, fmt.Errorf("smtp not configured (SMTP_HOST/SMTP_FROM)")
	}
	port := cfg.Port
	if port == 0 {
		port = 587
	}

	d := mail.NewDialer(cfg.Host, port, cfg.User, cfg.Password)
	d.StartTLSPolicy = mail.MandatoryStartTLS
	d.TLSConfig = &tls.Config{
		ServerName:         cfg.Host,
		InsecureSkipVerify: cfg.SkipTLSVerify,
	}

	return &SMTPMailer{cfg: cfg, dialer: d}, nil
}

// Send delivers one message and returns the transport error, if any.
func (m *SMTPMailer) Send(to, subject, body string) error {
	if to == "" {
		return nil
	}

	msg := mail.NewMessage()
	msg.SetHeader("From", m.cfg.From)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/html", body)

	return m.dialer.DialAndSend(msg)
}
