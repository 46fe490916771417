package email

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"strings"
)

var ErrNoRecipients = errors.New("email has no recipients")

type Message struct {
	From    string
	To      []string
	Subject string
	Body    string
}

// Mailer delivers one message.
type Mailer interface {
	Send(ctx context.Context, message Message) error
}

// SMTPMailer sends through a plain SMTP relay, with PLAIN auth when a username is set.
type SMTPMailer struct {
	Addr     string
	Username string
	Password string
	From     string
}

func (m *SMTPMailer) Send(ctx context.Context, message Message) error {
	if len(message.To) == 0 {
		return ErrNoRecipients
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	from := message.From
	if from == "" {
		from = m.From
	}

	var auth smtp.Auth

	if m.Username != "" {
		host, _, _ := strings.Cut(m.Addr, ":")
		auth = smtp.PlainAuth("", m.Username, m.Password, host)
	}

	err := smtp.SendMail(m.Addr, auth, from, message.To, format(from, message))
	if err != nil {
		return fmt.Errorf("smtp delivery to %s failed: %w", m.Addr, err)
	}

	return nil
}

func format(from string, message Message) []byte {
	var b strings.Builder

	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + strings.Join(message.To, ", ") + "\r\n")
	b.WriteString("Subject: " + message.Subject + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(message.Body)

	return []byte(b.String())
}
