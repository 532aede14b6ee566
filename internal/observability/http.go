package observability

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const scrapeTimeout = 10 * time.Second

// MetricsHandler serves the scrape endpoint from gatherer, or from the default
// registry when gatherer is nil. A collector that fails is logged and skipped
// so one broken metric does not hide the rest.
func MetricsHandler(gatherer prometheus.Gatherer, logger zerolog.Logger) fiber.Handler {
	RegisterMetrics()
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	return adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		ErrorLog:          scrapeLogger{logger: logger.With().Str("component", "metrics").Logger()},
		ErrorHandling:     promhttp.ContinueOnError,
		EnableOpenMetrics: true,
		Timeout:           scrapeTimeout,
	}))
}

type scrapeLogger struct {
	logger zerolog.Logger
}

func (l scrapeLogger) Println(v ...interface{}) {
	l.logger.Warn().Msg(fmt.Sprint(v...))
}
