package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/educert-api/internal/middleware"
	"github.com/noah-isme/educert-api/internal/service"
	"github.com/noah-isme/educert-api/internal/utils"
)

// DocumentHandler accepts certificate document uploads.
type DocumentHandler struct {
	service service.DocumentService
	logger  zerolog.Logger
}

// NewDocumentHandler constructs a document handler.
func NewDocumentHandler(service service.DocumentService, logger zerolog.Logger) *DocumentHandler {
	return &DocumentHandler{
		service: service,
		logger:  logger.With().Str("component", "document_handler").Logger(),
	}
}

// Register wires the admin-only upload route behind auth.
func (h *DocumentHandler) Register(router fiber.Router, auth fiber.Handler) {
	router.Post("/documents", auth, middleware.RequireAdmin(), h.upload)
}

func (h *DocumentHandler) upload(c *fiber.Ctx) error {
	file, err := c.FormFile("file")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "file is required")
	}

	result, err := h.service.Upload(c.UserContext(), file, actorFromContext(c))
	if err != nil {
		return respondError(c, h.logger, err, "upload failed")
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "document stored", result)
}
