package mailer

import (
	"fmt"

	"gopkg.in/gomail.v2"

	"github.com/qa-infra/burner/pkg/services/config"
)

// Send delivers one multipart (plain + HTML) message to the configured
// recipient over an authenticated STARTTLS session. A relay failure is
// returned up and fails the run: an unsent report is the sender's whole point.
func Send(cfg config.Email, subject, plain, html string) error {
	m := gomail.NewMessage()
	m.SetAddressHeader("From", cfg.Mailbox, cfg.FromName)
	m.SetHeader("To", cfg.To)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", plain)
	m.AddAlternative("text/html", html)

	d := gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.Mailbox, cfg.Password)
	if err := d.DialAndSend(m); err != nil {
		return fmt.Errorf("send report to %s: %w", cfg.To, err)
	}
	return nil
}
