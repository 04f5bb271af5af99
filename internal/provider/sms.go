package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/alert-relay/internal/domain"
)

const defaultSMSTimeout = 10 * time.Second

type smsRequest struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

type smsResponse struct {
	MessageID string `json:"messageId"`
}

// SMSProvider sends alerts through an HTTP SMS gateway.
type SMSProvider struct {
	client   *resty.Client
	endpoint string
	apiKey   string
}

var _ Provider = (*SMSProvider)(nil)

func NewSMSProvider(endpoint string, apiKey string) (*SMSProvider, error) {
	client := resty.New()
	client.SetTimeout(defaultSMSTimeout)
	client.SetRetryCount(0)

	return NewSMSProviderWithClient(endpoint, apiKey, client)
}

func NewSMSProviderWithClient(endpoint string, apiKey string, client *resty.Client) (*SMSProvider, error) {
	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		return nil, fmt.Errorf("sms gateway endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid sms gateway endpoint: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultSMSTimeout)
	}
	client.SetRetryCount(0)

	return &SMSProvider{
		client:   client,
		endpoint: trimmedEndpoint,
		apiKey:   strings.TrimSpace(apiKey),
	}, nil
}

func (p *SMSProvider) Send(ctx context.Context, msg Message) (domain.DeliveryResult, error) {
	if p == nil || p.client == nil {
		return domain.DeliveryResult{}, fmt.Errorf("sms provider is not initialized")
	}

	req := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(smsRequest{To: msg.Recipient, Message: msg.Body})
	if p.apiKey != "" {
		req.SetHeader("Authorization", "Bearer "+p.apiKey)
	}

	response, err := req.Post(p.endpoint)
	if err != nil {
		return domain.DeliveryResult{
			Success:   false,
			Error:     fmt.Sprintf("sms gateway request failed: %v", err),
			Retryable: !errors.Is(err, context.Canceled),
		}, nil
	}

	statusCode := response.StatusCode()
	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return domain.DeliveryResult{
			Success:           true,
			ProviderMessageID: smsMessageID(response),
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

func smsMessageID(response *resty.Response) string {
	if response == nil {
		return ""
	}

	var parsed smsResponse
	if err := json.Unmarshal(response.Body(), &parsed); err == nil && parsed.MessageID != "" {
		return parsed.MessageID
	}

	return responseMessageID(response)
}
