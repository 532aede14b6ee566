package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/educert-api/internal/config"
	"github.com/noah-isme/educert-api/internal/handler"
	"github.com/noah-isme/educert-api/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	StudentHandler     *handler.StudentHandler
	CertificateHandler *handler.CertificateHandler
	MintHandler        *handler.MintHandler
	DocumentHandler    *handler.DocumentHandler
	EventsHandler      *handler.EventsHandler
	HealthProbes       map[string]handler.HealthProbe
	JWTMiddleware      fiber.Handler
	MintRateLimit      fiber.Handler
	Logger             zerolog.Logger
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg, deps.HealthProbes))
	app.Get("/metrics", observability.MetricsHandler(nil, deps.Logger))

	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	if deps.StudentHandler != nil {
		// Registration must be bound before the authenticated group so the
		// JWT middleware never runs for it.
		deps.StudentHandler.RegisterPublic(app.Group("/api/students"))

		students := app.Group("/api/students", jwtMiddleware)
		deps.StudentHandler.Register(students)
		if deps.EventsHandler != nil {
			deps.EventsHandler.Register(students)
		}
	}

	certificates := app.Group("/api/certificates")
	if deps.MintHandler != nil {
		guards := []fiber.Handler{jwtMiddleware}
		if deps.MintRateLimit != nil {
			guards = append(guards, deps.MintRateLimit)
		}
		deps.MintHandler.Register(certificates, guards...)
	}
	if deps.DocumentHandler != nil {
		deps.DocumentHandler.Register(certificates, jwtMiddleware)
	}
	if deps.CertificateHandler != nil {
		deps.CertificateHandler.Register(certificates, jwtMiddleware)
	}
}
