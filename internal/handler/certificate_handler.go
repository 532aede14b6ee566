package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/educert-api/internal/dto"
	"github.com/noah-isme/educert-api/internal/middleware"
	"github.com/noah-isme/educert-api/internal/service"
	"github.com/noah-isme/educert-api/internal/utils"
)

// CertificateHandler serves certificate records, verification and metadata.
type CertificateHandler struct {
	certificates service.CertificateService
	activity     service.ActivityService
	logger       zerolog.Logger
}

// NewCertificateHandler constructs a certificate handler.
func NewCertificateHandler(certificates service.CertificateService, activity service.ActivityService, logger zerolog.Logger) *CertificateHandler {
	return &CertificateHandler{
		certificates: certificates,
		activity:     activity,
		logger:       logger.With().Str("component", "certificate_handler").Logger(),
	}
}

// Register wires certificate routes. auth guards everything except
// verification and metadata, which are public.
func (h *CertificateHandler) Register(router fiber.Router, auth fiber.Handler) {
	router.Get("/verify/tx/:txHash", h.verifyTx)
	router.Get("/verify/:id", h.verify)
	router.Get("/:id/metadata", h.metadata)

	router.Post("/", auth, middleware.RequireAdmin(), h.create)
	router.Post("/:id/approve", auth, middleware.RequireAdmin(), h.approve)
	router.Patch("/:id/mint-status", auth, h.updateMintStatus)
	router.Get("/:id/activity", auth, middleware.RequireAdmin(), h.listActivity)
}

func (h *CertificateHandler) create(c *fiber.Ctx) error {
	var payload dto.CertificateCreateRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	certificate, err := h.certificates.Create(c.UserContext(), actorFromContext(c), payload)
	if err != nil {
		return respondError(c, h.logger, err, "failed to create certificate")
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "certificate created", certificate)
}

func (h *CertificateHandler) approve(c *fiber.Ctx) error {
	id, err := parseIDParam(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	certificate, err := h.certificates.Approve(c.UserContext(), actorFromContext(c), id)
	if err != nil {
		return respondError(c, h.logger, err, "failed to approve certificate")
	}
	return utils.SendSuccess(c, "certificate approved on blockchain", certificate)
}

func (h *CertificateHandler) updateMintStatus(c *fiber.Ctx) error {
	id, err := parseIDParam(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.MintStatusRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	certificate, err := h.certificates.UpdateMintStatus(c.UserContext(), actorFromContext(c), id, payload)
	if err != nil {
		return respondError(c, h.logger, err, "failed to update mint status")
	}
	return utils.SendSuccess(c, "mint status recorded", certificate)
}

func (h *CertificateHandler) verify(c *fiber.Ctx) error {
	id, err := parseIDParam(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	result, err := h.certificates.Verify(c.UserContext(), id)
	if err != nil {
		return respondError(c, h.logger, err, "failed to verify certificate")
	}
	return utils.SendSuccess(c, result.Reason, result)
}

func (h *CertificateHandler) verifyTx(c *fiber.Ctx) error {
	result, err := h.certificates.VerifyTx(c.UserContext(), c.Params("txHash"))
	if err != nil {
		return respondError(c, h.logger, err, "failed to verify transaction")
	}
	return utils.SendSuccess(c, result.Reason, result)
}

func (h *CertificateHandler) metadata(c *fiber.Ctx) error {
	id, err := parseIDParam(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	metadata, err := h.certificates.Metadata(c.UserContext(), id)
	if err != nil {
		return respondError(c, h.logger, err, "failed to render certificate metadata")
	}
	// Wallets and marketplaces expect the bare ERC-721 document.
	return c.JSON(metadata)
}

func (h *CertificateHandler) listActivity(c *fiber.Ctx) error {
	id, err := parseIDParam(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	entries, err := h.activity.List(c.UserContext(), id)
	if err != nil {
		return respondError(c, h.logger, err, "failed to load certificate activity")
	}
	return utils.SendSuccess(c, "certificate activity", entries)
}
