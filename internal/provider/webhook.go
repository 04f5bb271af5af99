package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/alert-relay/internal/domain"
)

const defaultWebhookTimeout = 10 * time.Second

type webhookRequest struct {
	Subject string `json:"subject,omitempty"`
	Text    string `json:"text"`
}

// WebhookProvider posts alert payloads to chat-webhook endpoints. The
// recipient is the webhook URL itself.
type WebhookProvider struct {
	client *resty.Client
}

var _ Provider = (*WebhookProvider)(nil)

func NewWebhookProvider() *WebhookProvider {
	client := resty.New()
	client.SetTimeout(defaultWebhookTimeout)
	client.SetRetryCount(0)

	return &WebhookProvider{client: client}
}

func NewWebhookProviderWithClient(client *resty.Client) (*WebhookProvider, error) {
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}
	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultWebhookTimeout)
	}
	client.SetRetryCount(0)

	return &WebhookProvider{client: client}, nil
}

func (p *WebhookProvider) Send(ctx context.Context, msg Message) (domain.DeliveryResult, error) {
	if p == nil || p.client == nil {
		return domain.DeliveryResult{}, fmt.Errorf("webhook provider is not initialized")
	}

	endpoint := strings.TrimSpace(msg.Recipient)
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return domain.DeliveryResult{
			Success:   false,
			Error:     fmt.Sprintf("invalid webhook url: %v", err),
			Retryable: false,
		}, nil
	}

	response, err := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(webhookRequest{Subject: msg.Subject, Text: msg.Body}).
		Post(endpoint)
	if err != nil {
		return domain.DeliveryResult{
			Success:   false,
			Error:     fmt.Sprintf("webhook request failed: %v", err),
			Retryable: !errors.Is(err, context.Canceled),
		}, nil
	}

	statusCode := response.StatusCode()
	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return domain.DeliveryResult{
			Success:           true,
			ProviderMessageID: responseMessageID(response),
		}, nil
	}

	result := domain.DeliveryResult{
		Success:   false,
		Error:     httpErrorMessage(statusCode, response.String()),
		Retryable: isTransientHTTPStatus(statusCode),
	}
	if retryAfter, ok := retryAfterFromHeader(response.Header()); ok {
		result = result.WithRetryAfter(retryAfter)
	}
	return result, nil
}

// HTTP convention: 429 and 5xx are transient, remaining 4xx are permanent.
// The SMTP provider deliberately uses the opposite reading of 4xx/5xx.
func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

func httpErrorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("endpoint returned status %d", statusCode)
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, trimmed)
}

func retryAfterFromHeader(header http.Header) (time.Duration, bool) {
	raw := strings.TrimSpace(header.Get("Retry-After"))
	if raw == "" {
		return 0, false
	}
	seconds, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || seconds <= 0 {
		return 0, false
	}
	return time.Duration(seconds) * time.Second, true
}

func responseMessageID(response *resty.Response) string {
	if response == nil {
		return ""
	}

	for _, key := range []string{"X-Request-ID", "X-Request-Id", "X-Message-ID", "X-Message-Id"} {
		if value := strings.TrimSpace(response.Header().Get(key)); value != "" {
			return value
		}
	}

	return ""
}
