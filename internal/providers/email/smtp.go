package email

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"strings"
)

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

var ErrNoRecipients = errors.New("no_recipients")

type SMTPProvider struct {
	cfg      Config
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTP(cfg Config) *SMTPProvider {
	return &SMTPProvider{cfg: cfg, sendMail: smtp.SendMail}
}

// Send delivers one message per call. Recipients are placed in Bcc so
// campaign members never see each other.
func (p *SMTPProvider) Send(ctx context.Context, msg Message) error {
	if len(msg.To) == 0 {
		return ErrNoRecipients
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var auth smtp.Auth
	if p.cfg.Username != "" {
		auth = smtp.PlainAuth("", p.cfg.Username, p.cfg.Password, p.cfg.Host)
	}
	addr := fmt.Sprintf("%s:%d", p.cfg.Host, p.cfg.Port)

	return p.sendMail(addr, auth, p.cfg.From, msg.To, buildMessage(p.cfg.From, msg))
}

const mixedBoundary = "campaigncredit-alt"

func buildMessage(from string, msg Message) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	if len(msg.To) == 1 {
		fmt.Fprintf(&b, "To: %s\r\n", msg.To[0])
	} else {
		fmt.Fprintf(&b, "To: %s\r\n", from)
	}
	fmt.Fprintf(&b, "Subject: %s\r\n", sanitizeHeader(msg.Subject))
	if ref := sanitizeHeader(strings.TrimSpace(msg.Reference)); ref != "" {
		fmt.Fprintf(&b, "X-Campaign-Reference: %s\r\n", ref)
	}
	b.WriteString("MIME-Version: 1.0\r\n")

	if msg.TextBody == "" {
		b.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n\r\n")
		b.WriteString(msg.HTMLBody)
		return []byte(b.String())
	}

	fmt.Fprintf(&b, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", mixedBoundary)
	fmt.Fprintf(&b, "--%s\r\nContent-Type: text/plain; charset=\"UTF-8\"\r\n\r\n%s\r\n", mixedBoundary, msg.TextBody)
	fmt.Fprintf(&b, "--%s\r\nContent-Type: text/html; charset=\"UTF-8\"\r\n\r\n%s\r\n", mixedBoundary, msg.HTMLBody)
	fmt.Fprintf(&b, "--%s--\r\n", mixedBoundary)
	return []byte(b.String())
}

func sanitizeHeader(v string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(v)
}
