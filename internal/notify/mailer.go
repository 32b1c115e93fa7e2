// Package notify sends the scheduled email digests
package notify

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/sirupsen/logrus"

	"github.com/gel2mdt-server/internal/domain"
)

const sendgridHost = "https://api.sendgrid.com"

// Attachment is a file sent with a message
type Attachment struct {
	Name        string
	ContentType string
	Data        []byte
}

// Message is a plain text email
type Message struct {
	To          []string
	Subject     string
	Body        string
	Attachments []Attachment
}

// Mailer delivers messages
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// SendgridMailer sends through the Sendgrid v3 mail API
type SendgridMailer struct {
	apiKey string
	host   string
	from   *mail.Email
	logger *logrus.Logger
}

// NewMailer returns a Sendgrid mailer, or a LogMailer when no API key is configured
func NewMailer(config domain.EmailConfig, logger *logrus.Logger) Mailer {
	if config.SendgridAPIKey == "" {
		logger.Warn("No Sendgrid API key configured, emails will only be logged")
		return &LogMailer{logger: logger}
	}
	return newSendgridMailer(config, sendgridHost, logger)
}

func newSendgridMailer(config domain.EmailConfig, host string, logger *logrus.Logger) *SendgridMailer {
	return &SendgridMailer{
		apiKey: config.SendgridAPIKey,
		host:   host,
		from:   mail.NewEmail(config.FromName, config.FromAddress),
		logger: logger,
	}
}

func (s *SendgridMailer) Send(ctx context.Context, msg Message) error {
	if len(msg.To) == 0 {
		return fmt.Errorf("%w: message %q has no recipients", domain.ErrInvalidInput, msg.Subject)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	body := msg.Body
	if body == "" {
		body = "\t"
	}
	m := mail.NewV3Mail()
	m.SetFrom(s.from)
	m.Subject = msg.Subject
	p := mail.NewPersonalization()
	for _, to := range msg.To {
		p.AddTos(mail.NewEmail("", to))
	}
	m.AddPersonalizations(p)
	m.AddContent(mail.NewContent("text/plain", body))

	for _, a := range msg.Attachments {
		att := mail.NewAttachment()
		att.SetContent(base64.StdEncoding.EncodeToString(a.Data))
		att.SetType(a.ContentType)
		att.SetFilename(a.Name)
		att.SetDisposition("attachment")
		m.AddAttachment(att)
	}

	req := sendgrid.GetRequest(s.apiKey, "/v3/mail/send", s.host)
	req.Method = "POST"
	req.Body = mail.GetRequestBody(m)
	resp, err := sendgrid.API(req)
	if err != nil {
		return fmt.Errorf("sending %q: %w", msg.Subject, err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("sending %q: sendgrid returned %d: %s", msg.Subject, resp.StatusCode, resp.Body)
	}

	s.logger.WithFields(logrus.Fields{
		"subject":     msg.Subject,
		"recipients":  len(msg.To),
		"attachments": len(msg.Attachments),
	}).Info("Email sent")
	return nil
}

// LogMailer records messages in the log instead of sending them
type LogMailer struct {
	logger *logrus.Logger
}

func (l *LogMailer) Send(_ context.Context, msg Message) error {
	l.logger.WithFields(logrus.Fields{
		"subject": msg.Subject,
		"to":      msg.To,
	}).Info("Email not sent, mail delivery disabled")
	return nil
}
