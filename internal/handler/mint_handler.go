package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/educert-api/internal/dto"
	"github.com/noah-isme/educert-api/internal/service"
	"github.com/noah-isme/educert-api/internal/utils"
)

// MintHandler submits mints through the sequencer.
type MintHandler struct {
	mint   service.MintService
	logger zerolog.Logger
}

// NewMintHandler constructs a mint handler.
func NewMintHandler(mint service.MintService, logger zerolog.Logger) *MintHandler {
	return &MintHandler{
		mint:   mint,
		logger: logger.With().Str("component", "mint_handler").Logger(),
	}
}

// Register wires the mint route behind the given guards.
func (h *MintHandler) Register(router fiber.Router, guards ...fiber.Handler) {
	handlers := append(append([]fiber.Handler{}, guards...), h.submit)
	router.Post("/mint", handlers...)
}

func (h *MintHandler) submit(c *fiber.Ctx) error {
	var payload dto.MintRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	result, err := h.mint.SubmitMint(c.UserContext(), actorFromContext(c), payload)
	if err != nil {
		return respondError(c, h.logger, err, "mint submission failed")
	}

	logEvent := requestLogger(h.logger, c).Info()
	if !result.BackendSynced {
		logEvent = requestLogger(h.logger, c).Warn()
	}
	logEvent.
		Str("student_id", result.StudentID).
		Str("certificate_type", result.CertificateType).
		Str("tx_hash", result.TransactionHash).
		Bool("backend_synced", result.BackendSynced).
		Msg("certificate minted")

	return utils.SendSuccess(c, "certificate minted", result)
}
