package services

import (
	"fmt"
	"html"
	"net/smtp"
	"strings"

	"inkwell-backend/internal/logger"
)

// LetterEmail is a finished letter addressed to a real inbox.
type LetterEmail struct {
	To        string `json:"to"`
	Recipient string `json:"recipient"`
	Occasion  string `json:"occasion"`
	Letter    string `json:"letter"`
	UserID    string `json:"user_id"`
}

type EmailService struct {
	host    string
	port    string
	user    string
	pass    string
	from    string
	devMode bool
	log     *logger.Logger
	send    func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewEmailService(host, port, user, pass, from string, log *logger.Logger) *EmailService {
	if log == nil {
		log = logger.Nop()
	}
	devMode := host == "" || user == ""
	if devMode {
		log.Warn("⚠ Email service running in DEV MODE (logging to console)")
	}
	return &EmailService{
		host:    host,
		port:    port,
		user:    user,
		pass:    pass,
		from:    from,
		devMode: devMode,
		log:     log,
		send:    smtp.SendMail,
	}
}

func (m LetterEmail) validate() error {
	fieldErrors := make(map[string]string)
	if strings.TrimSpace(m.To) == "" || !strings.Contains(m.To, "@") {
		fieldErrors["to"] = "A valid e-mail address is required"
	}
	if strings.TrimSpace(m.Recipient) == "" {
		fieldErrors["recipient"] = "recipient is required"
	}
	if strings.TrimSpace(m.Letter) == "" {
		fieldErrors["letter"] = "letter is required"
	}
	// Header injection guard.
	if strings.ContainsAny(m.To+m.Recipient, "\r\n") {
		fieldErrors["to"] = "Invalid characters in address"
	}
	if len(fieldErrors) > 0 {
		return &ValidationError{Fields: fieldErrors}
	}
	return nil
}

// SendLetter mails a letter as HTML with the letter body preserved line by line.
func (s *EmailService) SendLetter(m LetterEmail) error {
	if err := m.validate(); err != nil {
		return err
	}

	subject := fmt.Sprintf("Letter from Inkwell: To %s", m.Recipient)
	occasion := ""
	if m.Occasion != "" {
		occasion = fmt.Sprintf(`<p><strong>Occasion:</strong> %s</p>`, html.EscapeString(m.Occasion))
	}
	body := fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"></head>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
  <div style="max-width: 600px; margin: 0 auto; padding: 20px;">
    <div style="background: linear-gradient(135deg, #667eea 0%%, #764ba2 100%%); color: white; padding: 20px; border-radius: 10px 10px 0 0;">
      <h1 style="margin: 0;">A Letter from Inkwell</h1>
    </div>
    <div style="background: #f9f9f9; padding: 30px; border-radius: 0 0 10px 10px;">
      <p><strong>To:</strong> %s</p>
      %s
      <div style="background: #fff; padding: 20px; border-left: 4px solid #667eea; margin: 20px 0;">%s</div>
      <p style="text-align: center; color: #666; font-size: 12px;">Created with Inkwell</p>
    </div>
  </div>
</body>
</html>`,
		html.EscapeString(m.Recipient),
		occasion,
		strings.ReplaceAll(html.EscapeString(m.Letter), "\n", "<br>"),
	)

	return s.sendHTML(m.To, subject, body)
}

func (s *EmailService) sendHTML(to, subject, htmlBody string) error {
	if s.devMode {
		s.log.Info("📧 [DEV EMAIL]", "to", to, "subject", subject)
		s.log.Debug("📧 Body", "html", htmlBody)
		return nil
	}

	headers := []string{
		fmt.Sprintf("From: %s", s.from),
		fmt.Sprintf("To: %s", to),
		fmt.Sprintf("Subject: %s", subject),
		"MIME-Version: 1.0",
		"Content-Type: text/html; charset=UTF-8",
	}

	message := strings.Join(headers, "\r\n") + "\r\n\r\n" + htmlBody

	auth := smtp.PlainAuth("", s.user, s.pass, s.host)
	addr := fmt.Sprintf("%s:%s", s.host, s.port)

	if err := s.send(addr, auth, s.from, []string{to}, []byte(message)); err != nil {
		return fmt.Errorf("failed to send email to %s: %w", to, err)
	}

	s.log.Info("📧 Email sent", "to", to, "subject", subject)
	return nil
}
