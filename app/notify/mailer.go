package notify

import (
	"fmt"
	"net/smtp"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/tradelens/ms-go-billing/app/factory"
)

type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Sender   string
}

// SMTPMailer delivers billing notifications. Delivery is best-effort by
// contract: callers log failures and move on.
type SMTPMailer struct {
	cfg    SMTPConfig
	logger logrus.FieldLogger
}

func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	if strings.TrimSpace(cfg.Sender) == "" {
		cfg.Sender = "no-reply@localhost"
	}
	return &SMTPMailer{
		cfg:    cfg,
		logger: factory.NewModuleLogger("mailer"),
	}
}

func (m *SMTPMailer) Send(to, subject, body string) error {
	if strings.TrimSpace(m.cfg.Host) == "" {
		m.logger.WithField("to", to).Debug("SMTP host not configured, skipping mail")
		return nil
	}

	var auth smtp.Auth
	if m.cfg.Username != "" && m.cfg.Password != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}

	addr := fmt.Sprintf("%s:%s", m.cfg.Host, m.cfg.Port)
	msg := []byte(
		fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n", m.cfg.Sender, to, subject) +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/html; charset=UTF-8\r\n\r\n" +
			body,
	)

	if err := smtp.SendMail(addr, auth, m.cfg.Sender, []string{to}, msg); err != nil {
		return err
	}

	m.logger.WithField("to", to).Debug("Mail sent")
	return nil
}
