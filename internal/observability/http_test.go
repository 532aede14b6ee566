package observability

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type brokenCollector struct {
	desc *prometheus.Desc
}

func (b brokenCollector) Describe(ch chan<- *prometheus.Desc) { ch <- b.desc }

func (b brokenCollector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.NewInvalidMetric(b.desc, errors.New("ledger gauge unavailable"))
}

func scrape(t *testing.T, handler fiber.Handler) (int, string) {
	t.Helper()
	app := fiber.New()
	app.Get("/metrics", handler)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil), -1)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestMetricsHandlerServesDefaultRegistry(t *testing.T) {
	ChainCalls().WithLabelValues("hasStudentMinted", "fallback-1", "ok").Inc()

	status, body := scrape(t, MetricsHandler(nil, zerolog.Nop()))
	require.Equal(t, fiber.StatusOK, status)
	require.Contains(t, body, `educert_chain_calls_total{endpoint="fallback-1",method="hasStudentMinted",outcome="ok"}`)
}

func TestMetricsHandlerSkipsBrokenCollector(t *testing.T) {
	registry := prometheus.NewRegistry()
	healthy := prometheus.NewCounter(prometheus.CounterOpts{Name: "educert_test_healthy_total", Help: "healthy"})
	healthy.Inc()
	registry.MustRegister(healthy, brokenCollector{
		desc: prometheus.NewDesc("educert_test_broken", "broken", nil, nil),
	})

	status, body := scrape(t, MetricsHandler(registry, zerolog.Nop()))
	require.Equal(t, fiber.StatusOK, status)
	require.Contains(t, body, "educert_test_healthy_total 1")
	require.NotContains(t, body, "educert_test_broken")
}
