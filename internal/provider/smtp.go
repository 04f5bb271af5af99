package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"net/textproto"
	"strings"

	"github.com/kursadbilgin/alert-relay/internal/domain"
)

// SMTPConfig holds the mail relay settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPProvider sends alert emails through an SMTP relay.
//
// Reply-code classification is the inverse of HTTP: SMTP 4xx means "try
// again later" (greylisting, mailbox busy) and is retryable, while 5xx is a
// permanent rejection. This must not be folded into the HTTP helpers.
type SMTPProvider struct {
	cfg  SMTPConfig
	send func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error
}

var _ Provider = (*SMTPProvider)(nil)

func NewSMTPProvider(cfg SMTPConfig) (*SMTPProvider, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	if cfg.Port <= 0 {
		cfg.Port = 587
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, fmt.Errorf("smtp from address is required")
	}

	return &SMTPProvider{
		cfg:  cfg,
		send: smtp.SendMail,
	}, nil
}

func (p *SMTPProvider) Send(ctx context.Context, msg Message) (domain.DeliveryResult, error) {
	if p == nil || p.send == nil {
		return domain.DeliveryResult{}, fmt.Errorf("smtp provider is not initialized")
	}
	if err := ctx.Err(); err != nil {
		return domain.DeliveryResult{
			Success:   false,
			Error:     err.Error(),
			Retryable: !errors.Is(err, context.Canceled),
		}, nil
	}

	var auth smtp.Auth
	if p.cfg.Username != "" {
		auth = smtp.PlainAuth("", p.cfg.Username, p.cfg.Password, p.cfg.Host)
	}

	addr := fmt.Sprintf("%s:%d", p.cfg.Host, p.cfg.Port)
	payload := buildMIMEMessage(p.cfg.From, msg.Recipient, msg.Subject, msg.Body)

	if err := p.send(addr, auth, p.cfg.From, []string{msg.Recipient}, payload); err != nil {
		return classifySMTPError(err), nil
	}

	return domain.DeliveryResult{Success: true}, nil
}

func classifySMTPError(err error) domain.DeliveryResult {
	result := domain.DeliveryResult{
		Success: false,
		Error:   fmt.Sprintf("smtp send failed: %v", err),
	}

	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		result.Retryable = protoErr.Code >= 400 && protoErr.Code < 500
		return result
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		result.Retryable = true
		return result
	}

	// Connection-level failures without a reply code are worth retrying.
	result.Retryable = true
	return result
}

func buildMIMEMessage(from, to, subject, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	b.WriteString("\r\n")
	return []byte(b.String())
}
