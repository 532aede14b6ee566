package handler

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/educert-api/internal/middleware"
	"github.com/noah-isme/educert-api/internal/service"
)

const statusStreamWriteTimeout = 10 * time.Second

// EventsHandler streams certificate status changes over a websocket.
type EventsHandler struct {
	events service.StatusEventService
	logger zerolog.Logger
}

// NewEventsHandler constructs an events handler.
func NewEventsHandler(events service.StatusEventService, logger zerolog.Logger) *EventsHandler {
	return &EventsHandler{
		events: events,
		logger: logger.With().Str("component", "events_handler").Logger(),
	}
}

// Register binds the status stream under the students group.
func (h *EventsHandler) Register(router fiber.Router) {
	router.Get("/:studentId/events/ws",
		middleware.RequireOwner("studentId"),
		requireUpgrade,
		websocket.New(h.stream),
	)
}

func requireUpgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

func (h *EventsHandler) stream(conn *websocket.Conn) {
	studentID := strings.TrimSpace(conn.Params("studentId"))
	if studentID == "" {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseUnsupportedData, "student id required"))
		_ = conn.Close()
		return
	}

	events, cancel := h.events.Subscribe(studentID)
	defer cancel()

	// Reads only detect the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	logger := h.logger.With().Str("student_id", studentID).Logger()
	logger.Info().Msg("status stream connected")
	defer logger.Info().Msg("status stream disconnected")

	for {
		select {
		case <-closed:
			return
		case event, ok := <-events:
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "stream closed"))
				_ = conn.Close()
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(statusStreamWriteTimeout))
			if err := conn.WriteJSON(event); err != nil {
				logger.Warn().Err(err).Msg("status stream write failed")
				_ = conn.Close()
				return
			}
		}
	}
}
