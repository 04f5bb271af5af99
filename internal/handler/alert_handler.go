package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/alert-relay/internal/domain"
)

const defaultPoisonListLimit = 50

type SubmissionService interface {
	TriggerAlert(ctx context.Context, ruleID string, triggerValue *float64, triggeredAt time.Time) (*domain.AlertEvent, error)
	AcknowledgeAlert(ctx context.Context, eventID string, userID string, note string) error
	GetEvent(ctx context.Context, eventID string) (*domain.AlertEvent, error)
}

type DeadLetterStore interface {
	ListPending(ctx context.Context, limit int) ([]domain.AlertDelivery, error)
	Resolve(ctx context.Context, deliveryID string, note string) error
}

type AlertHandler struct {
	submissions SubmissionService
	poison      DeadLetterStore
}

func NewAlertHandler(submissions SubmissionService, poison DeadLetterStore) (*AlertHandler, error) {
	if submissions == nil {
		return nil, fmt.Errorf("submission service is required")
	}
	if poison == nil {
		return nil, fmt.Errorf("dead-letter store is required")
	}
	return &AlertHandler{submissions: submissions, poison: poison}, nil
}

func RegisterAlertRoutes(router fiber.Router, submissions SubmissionService, poison DeadLetterStore) error {
	h, err := NewAlertHandler(submissions, poison)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/alerts/trigger", h.TriggerAlert)
	v1.Get("/alerts/:id", h.GetAlert)
	v1.Post("/alerts/:id/ack", h.AcknowledgeAlert)
	v1.Get("/poison", h.ListPoison)
	v1.Post("/poison/:id/resolve", h.ResolvePoison)

	return nil
}

type triggerAlertRequest struct {
	RuleID       string     `json:"ruleId"`
	TriggerValue *float64   `json:"triggerValue,omitempty"`
	TriggeredAt  *time.Time `json:"triggeredAt,omitempty"`
}

type acknowledgeRequest struct {
	UserID string `json:"userId"`
	Note   string `json:"note,omitempty"`
}

type resolvePoisonRequest struct {
	Note string `json:"note"`
}

type alertEventResponse struct {
	ID               string     `json:"id"`
	RuleID           string     `json:"ruleId"`
	TriggerValue     *float64   `json:"triggerValue,omitempty"`
	TriggeredAt      time.Time  `json:"triggeredAt"`
	RoutedChannels   []string   `json:"routedChannels"`
	AcknowledgedAt   *time.Time `json:"acknowledgedAt,omitempty"`
	AcknowledgedBy   *string    `json:"acknowledgedBy,omitempty"`
	AcknowledgedNote *string    `json:"acknowledgedNote,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
}

type deliveryResponse struct {
	ID            string     `json:"id"`
	AlertID       string     `json:"alertId"`
	Channel       string     `json:"channel"`
	Recipient     string     `json:"recipient"`
	Status        string     `json:"status"`
	Attempts      int        `json:"attempts"`
	LastAttemptAt *time.Time `json:"lastAttemptAt,omitempty"`
	PoisonAt      *time.Time `json:"poisonAt,omitempty"`
	ErrorMessage  *string    `json:"errorMessage,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

func (h *AlertHandler) TriggerAlert(c *fiber.Ctx) error {
	var req triggerAlertRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	triggeredAt := time.Time{}
	if req.TriggeredAt != nil {
		triggeredAt = *req.TriggeredAt
	}

	event, err := h.submissions.TriggerAlert(c.Context(), req.RuleID, req.TriggerValue, triggeredAt)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(toAlertEventResponse(event))
}

func (h *AlertHandler) GetAlert(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	event, err := h.submissions.GetEvent(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toAlertEventResponse(event))
}

func (h *AlertHandler) AcknowledgeAlert(c *fiber.Ctx) error {
	var req acknowledgeRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	id := strings.TrimSpace(c.Params("id"))
	if err := h.submissions.AcknowledgeAlert(c.Context(), id, req.UserID, req.Note); err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"alertId":      id,
		"acknowledged": true,
	})
}

func (h *AlertHandler) ListPoison(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", defaultPoisonListLimit)

	deliveries, err := h.poison.ListPending(c.Context(), limit)
	if err != nil {
		return toHTTPError(err)
	}

	items := make([]deliveryResponse, 0, len(deliveries))
	for i := range deliveries {
		items = append(items, toDeliveryResponse(&deliveries[i]))
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"data": items,
	})
}

func (h *AlertHandler) ResolvePoison(c *fiber.Ctx) error {
	var req resolvePoisonRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	id := strings.TrimSpace(c.Params("id"))
	if err := h.poison.Resolve(c.Context(), id, req.Note); err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"deliveryId": id,
		"status":     domain.StatusFailed.String(),
	})
}

func toAlertEventResponse(event *domain.AlertEvent) alertEventResponse {
	channels := make([]string, 0, len(event.RoutedChannels))
	for _, ch := range event.RoutedChannels {
		channels = append(channels, ch.String())
	}

	return alertEventResponse{
		ID:               event.ID,
		RuleID:           event.RuleID,
		TriggerValue:     event.TriggerValue,
		TriggeredAt:      event.TriggeredAt,
		RoutedChannels:   channels,
		AcknowledgedAt:   event.AcknowledgedAt,
		AcknowledgedBy:   event.AcknowledgedBy,
		AcknowledgedNote: event.AcknowledgedNote,
		CreatedAt:        event.CreatedAt,
	}
}

func toDeliveryResponse(d *domain.AlertDelivery) deliveryResponse {
	return deliveryResponse{
		ID:            d.ID,
		AlertID:       d.AlertID,
		Channel:       d.Channel.String(),
		Recipient:     d.Recipient,
		Status:        d.Status.String(),
		Attempts:      d.Attempts,
		LastAttemptAt: d.LastAttemptAt,
		PoisonAt:      d.PoisonAt,
		ErrorMessage:  d.ErrorMessage,
		CreatedAt:     d.CreatedAt,
	}
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrQueueFull):
		return fiber.NewError(fiber.StatusTooManyRequests, err.Error())
	case errors.Is(err, domain.ErrRuleNotFound), errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrNoChannels):
		return fiber.NewError(fiber.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return err
	}
}
