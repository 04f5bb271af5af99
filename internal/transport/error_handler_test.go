package transport

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/alert-relay/internal/observability"
	"go.uber.org/zap"
)

func TestErrorHandlerRendersJSONBody(t *testing.T) {
	t.Parallel()

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(zap.NewNop())})
	app.Get("/boom", func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusNotFound, "no such alert")
	})

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/boom", nil))
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}

	var body map[string]string
	raw, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(raw, &body); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if body["error"] != "no such alert" {
		t.Fatalf("error = %q, want handler message", body["error"])
	}
	if _, ok := body["correlationId"]; ok {
		t.Fatal("correlationId present without the middleware")
	}
}

func TestErrorHandlerIncludesCorrelationID(t *testing.T) {
	t.Parallel()

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(zap.NewNop())})
	app.Use(observability.CorrelationMiddleware())
	app.Get("/boom", func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusTooManyRequests, "queue full")
	})

	req := httptest.NewRequest(fiber.MethodGet, "/boom", nil)
	req.Header.Set(observability.CorrelationHeader, "cid-42")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer resp.Body.Close()

	var body map[string]string
	raw, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(raw, &body); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if body["correlationId"] != "cid-42" {
		t.Fatalf("correlationId = %q, want request id echoed", body["correlationId"])
	}
}
