package mail

import (
	"errors"
	"fmt"
	"mime"
	netmail "net/mail"
	"net/smtp"
	"strings"
)

var smtpSendMail = smtp.SendMail

// SMTPClient sends HTML email through an SMTP relay.
type SMTPClient struct {
	host string
	port int
	user string
	pass string
	from string
}

// NewSMTPClient creates a new SMTPClient. Blank user and password disable
// authentication.
func NewSMTPClient(host string, port int, user, pass, from string) *SMTPClient {
	return &SMTPClient{
		host: host,
		port: port,
		user: user,
		pass: pass,
		from: from,
	}
}

// Send delivers an HTML email from the configured sender. The sender may
// carry a display name ("Followup <alerts@example.com>"); the envelope uses
// the bare address.
func (c *SMTPClient) Send(to, subject, body string) error {
	auth, err := c.auth()
	if err != nil {
		return err
	}
	sender, err := netmail.ParseAddress(c.from)
	if err != nil {
		return fmt.Errorf("invalid SMTP sender %q: %w", c.from, err)
	}
	rcpt, err := netmail.ParseAddress(to)
	if err != nil {
		return fmt.Errorf("invalid recipient %q: %w", to, err)
	}

	headers := fmt.Sprintf(
		"From: %s\r\n"+
			"To: %s\r\n"+
			"Subject: %s\r\n"+
			"MIME-Version: 1.0\r\n"+
			"Content-Type: text/html; charset=\"UTF-8\"\r\n"+
			"\r\n",
		sender.String(), rcpt.String(), mime.QEncoding.Encode("utf-8", clean(subject)),
	)

	addr := fmt.Sprintf("%s:%d", c.host, c.port)
	return smtpSendMail(addr, auth, sender.Address, []string{rcpt.Address}, []byte(headers+body))
}

func (c *SMTPClient) auth() (smtp.Auth, error) {
	if c.user == "" && c.pass == "" {
		return nil, nil
	}
	if c.user == "" || c.pass == "" {
		return nil, errors.New("incomplete SMTP credentials: both user and password are required")
	}
	return smtp.PlainAuth("", c.user, c.pass, c.host), nil
}

func clean(v string) string {
	return strings.NewReplacer("\r", "", "\n", "").Replace(v)
}
