package provider

import (
	"context"
	"errors"
	"net/smtp"
	"net/textproto"
	"strings"
	"testing"
)

func TestSMTPProviderSendSuccess(t *testing.T) {
	t.Parallel()

	var (
		gotAddr string
		gotFrom string
		gotTo   []string
		gotMsg  []byte
	)
	p := newTestSMTPProvider(t, func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr = addr
		gotFrom = from
		gotTo = to
		gotMsg = msg
		return nil
	})

	result, err := p.Send(context.Background(), Message{
		Recipient: "ops@example.com",
		Subject:   "Alert: cpu high",
		Body:      "cpu usage above threshold",
	})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if !result.Success {
		t.Fatalf("result = %+v, want success", result)
	}
	if gotAddr != "mail.example.com:587" {
		t.Fatalf("addr = %q, want mail.example.com:587", gotAddr)
	}
	if gotFrom != "alerts@example.com" {
		t.Fatalf("from = %q, want alerts@example.com", gotFrom)
	}
	if len(gotTo) != 1 || gotTo[0] != "ops@example.com" {
		t.Fatalf("to = %v, want [ops@example.com]", gotTo)
	}
	payload := string(gotMsg)
	if !strings.Contains(payload, "Subject: Alert: cpu high\r\n") {
		t.Fatalf("payload missing subject header:\n%s", payload)
	}
	if !strings.Contains(payload, "cpu usage above threshold") {
		t.Fatalf("payload missing body:\n%s", payload)
	}
}

func TestSMTPProviderTransientReplyCodeIsRetryable(t *testing.T) {
	t.Parallel()

	// SMTP 4xx is a temporary condition (greylisting, mailbox busy).
	p := newTestSMTPProvider(t, func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
		return &textproto.Error{Code: 450, Msg: "mailbox busy, try again"}
	})

	result, err := p.Send(context.Background(), Message{Recipient: "ops@example.com", Body: "x"})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if result.Success {
		t.Fatal("450 reply must not report success")
	}
	if !result.Retryable {
		t.Fatal("450 reply should be retryable")
	}
}

func TestSMTPProviderPermanentReplyCodeIsNotRetryable(t *testing.T) {
	t.Parallel()

	// SMTP 5xx is a permanent rejection.
	p := newTestSMTPProvider(t, func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
		return &textproto.Error{Code: 550, Msg: "no such user"}
	})

	result, err := p.Send(context.Background(), Message{Recipient: "nobody@example.com", Body: "x"})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if result.Success || result.Retryable {
		t.Fatalf("result = %+v, want permanent failure for 550", result)
	}
}

func TestSMTPProviderConnectionFailureIsRetryable(t *testing.T) {
	t.Parallel()

	p := newTestSMTPProvider(t, func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
		return errors.New("dial tcp: connection refused")
	})

	result, err := p.Send(context.Background(), Message{Recipient: "ops@example.com", Body: "x"})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if result.Success {
		t.Fatal("connection failure must not report success")
	}
	if !result.Retryable {
		t.Fatal("connection failure without a reply code should be retryable")
	}
}

func TestSMTPProviderCanceledContext(t *testing.T) {
	t.Parallel()

	sendCalled := false
	p := newTestSMTPProvider(t, func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
		sendCalled = true
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := p.Send(ctx, Message{Recipient: "ops@example.com", Body: "x"})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if result.Success {
		t.Fatal("canceled context must not report success")
	}
	if result.Retryable {
		t.Fatal("caller cancellation is not worth a blind retry")
	}
	if sendCalled {
		t.Fatal("send must not run after cancellation")
	}
}

func TestNewSMTPProviderValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewSMTPProvider(SMTPConfig{From: "alerts@example.com"}); err == nil {
		t.Fatal("expected error for missing host")
	}
	if _, err := NewSMTPProvider(SMTPConfig{Host: "mail.example.com"}); err == nil {
		t.Fatal("expected error for missing from address")
	}
}

func newTestSMTPProvider(t *testing.T, send func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error) *SMTPProvider {
	t.Helper()

	p, err := NewSMTPProvider(SMTPConfig{
		Host: "mail.example.com",
		Port: 587,
		From: "alerts@example.com",
	})
	if err != nil {
		t.Fatalf("NewSMTPProvider() error = %v", err)
	}
	p.send = send
	return p
}
