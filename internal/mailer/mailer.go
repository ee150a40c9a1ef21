// Package mailer delivers verification and password-reset mail over SMTP.
package mailer

import (
	"fmt"
	"net/smtp"
	"strings"
)

// Sender holds the SMTP relay settings. User and Pass may be empty for
// relays that accept unauthenticated mail (local dev).
type Sender struct {
	Host string
	Port string
	User string
	Pass string
	From string
}

// Send delivers a single HTML mail to one recipient.
func (s *Sender) Send(to, subject, htmlBody string) error {
	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", s.From)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(htmlBody)

	addr := s.Host + ":" + s.Port
	var a smtp.Auth
	if s.User != "" {
		a = smtp.PlainAuth("", s.User, s.Pass, s.Host)
	}
	return smtp.SendMail(addr, a, s.From, []string{to}, []byte(msg.String()))
}

// VerificationBody renders the email-verification mail around the given link.
func VerificationBody(link string) (subject, body string) {
	return "Verify your email", actionMail("Email Verification",
		"Please click the link below to verify your email address:",
		link, "Verify Email")
}

// ResetBody renders the password-reset mail around the given link.
func ResetBody(link string) (subject, body string) {
	return "Reset your password", actionMail("Password Reset",
		"Please click the link below to reset your password:",
		link, "Reset Password")
}

func actionMail(title, lead, link, label string) string {
	return fmt.Sprintf(`<div style="font-family: Arial, sans-serif; padding: 20px;">
  <h2>%s</h2>
  <p>%s</p>
  <a href="%s" style="display: inline-block; margin-top: 10px; padding: 10px 20px; background-color: #007bff; color: white; text-decoration: none; border-radius: 5px">%s</a>
</div>`, title, lead, link, label)
}
