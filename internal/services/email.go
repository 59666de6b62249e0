package services

import (
	"fmt"
	"html"
	"net/smtp"
	"strings"

	"github.com/rs/zerolog/log"
)

type EmailService struct {
	host        string
	port        string
	user        string
	pass        string
	from        string
	frontendURL string
	devMode     bool
}

func NewEmailService(host, port, user, pass, from, frontendURL string) *EmailService {
	devMode := host == "" || user == ""
	if devMode {
		log.Warn().Msg("email service running in dev mode, messages are logged instead of sent")
	}
	return &EmailService{
		host:        host,
		port:        port,
		user:        user,
		pass:        pass,
		from:        from,
		frontendURL: frontendURL,
		devMode:     devMode,
	}
}

// SendPasswordChangedEmail tells the account owner their password was changed
// from inside a signed-in session.
func (s *EmailService) SendPasswordChangedEmail(to, name string) error {
	return s.sendHTML(to, "Your Collabo password was changed", s.noticeBody(name,
		"Password changed",
		"The password for your account was just changed. If this was you, no action is needed.",
	))
}

// SendPasswordResetNotice tells the account owner their password was reset
// through security questions and every session was signed out.
func (s *EmailService) SendPasswordResetNotice(to, name string) error {
	return s.sendHTML(to, "Your Collabo password was reset", s.noticeBody(name,
		"Password reset",
		"Your password was reset using your security questions and all devices were signed out.",
	))
}

func (s *EmailService) noticeBody(name, heading, text string) string {
	loginURL := s.frontendURL + "/login"
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"></head>
<body style="font-family: 'Segoe UI', Arial, sans-serif; margin: 0; padding: 0; background-color: #f8fafc;">
  <div style="max-width: 480px; margin: 40px auto; background: white; border-radius: 12px; overflow: hidden;">
    <div style="background: #0f766e; padding: 32px; text-align: center;">
      <h1 style="color: white; margin: 0; font-size: 24px; font-weight: 700;">Collabo</h1>
    </div>
    <div style="padding: 32px;">
      <h2 style="margin: 0 0 16px; font-size: 20px; color: #1e293b;">%s</h2>
      <p style="color: #64748b; font-size: 14px; line-height: 1.6;">Hi %s,</p>
      <p style="color: #64748b; font-size: 14px; line-height: 1.6; margin: 0 0 24px;">%s</p>
      <p style="color: #94a3b8; font-size: 12px; margin: 24px 0 0;">
        If this wasn't you, <a href="%s">sign in</a> and reset your password, or contact your administrator.
      </p>
    </div>
  </div>
</body>
</html>`, html.EscapeString(heading), html.EscapeString(name), html.EscapeString(text), loginURL)
}

func (s *EmailService) sendHTML(to, subject, htmlBody string) error {
	if s.devMode {
		log.Info().Str("to", to).Str("subject", subject).Msg("dev email")
		log.Debug().Str("to", to).Msg(htmlBody)
		return nil
	}

	message := buildMessage(s.from, to, subject, htmlBody)

	auth := smtp.PlainAuth("", s.user, s.pass, s.host)
	addr := fmt.Sprintf("%s:%s", s.host, s.port)

	err := smtp.SendMail(addr, auth, s.from, []string{to}, []byte(message))
	if err != nil {
		return fmt.Errorf("failed to send email to %s: %w", to, err)
	}

	log.Info().Str("to", to).Str("subject", subject).Msg("email sent")
	return nil
}

func buildMessage(from, to, subject, htmlBody string) string {
	headers := []string{
		fmt.Sprintf("From: %s", from),
		fmt.Sprintf("To: %s", to),
		fmt.Sprintf("Subject: %s", subject),
		"MIME-Version: 1.0",
		"Content-Type: text/html; charset=UTF-8",
	}
	return strings.Join(headers, "\r\n") + "\r\n\r\n" + htmlBody
}
