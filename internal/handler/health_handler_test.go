package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/educert-api/internal/config"
)

func TestHealthCheckReportsDegradedLedger(t *testing.T) {
	cfg := config.Config{AppName: "educert-api", AppEnv: "test", ChainMode: config.ChainModeMemory}
	app := fiber.New()
	app.Get("/health", HealthCheck(cfg, map[string]HealthProbe{
		"database": func(context.Context) error { return nil },
		"ledger":   func(context.Context) error { return errors.New("dial timeout") },
	}))

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	payload := decodeResponse(t, resp)
	var health HealthResponse
	require.NoError(t, json.Unmarshal(payload.Data, &health))
	require.Equal(t, "degraded", health.Status)
	require.Equal(t, "ok", health.Dependencies["database"])
	require.Equal(t, "dial timeout", health.Dependencies["ledger"])
	require.Equal(t, "memory", health.ChainMode)
}
