package handler

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/educert-api/internal/dto"
	"github.com/noah-isme/educert-api/internal/middleware"
	"github.com/noah-isme/educert-api/internal/service"
	"github.com/noah-isme/educert-api/internal/utils"
)

// StudentHandler serves student registration and student-scoped lifecycle routes.
type StudentHandler struct {
	students service.StudentService
	gate     service.EligibilityService
	logger   zerolog.Logger
}

// NewStudentHandler constructs a student handler.
func NewStudentHandler(students service.StudentService, gate service.EligibilityService, logger zerolog.Logger) *StudentHandler {
	return &StudentHandler{
		students: students,
		gate:     gate,
		logger:   logger.With().Str("component", "student_handler").Logger(),
	}
}

// RegisterPublic wires the unauthenticated registration route.
func (h *StudentHandler) RegisterPublic(router fiber.Router) {
	router.Post("/register", h.register)
}

// Register wires the authenticated student routes. The router must already
// run the JWT middleware.
func (h *StudentHandler) Register(router fiber.Router) {
	router.Get("/all", middleware.RequireAdmin(), h.list)
	router.Get("/:studentId", middleware.RequireOwner("studentId"), h.get)
	router.Post("/:studentId/approve", middleware.RequireAdmin(), h.approve)
	router.Post("/:studentId/revoke", middleware.RequireAdmin(), h.revoke)
	router.Patch("/:studentId/wallet", middleware.RequireAdmin(), h.updateWallet)
	router.Get("/:studentId/eligibility", middleware.RequireOwner("studentId"), h.eligibility)
	router.Post("/:studentId/sync", middleware.RequireOwner("studentId"), h.sync)
}

func (h *StudentHandler) register(c *fiber.Ctx) error {
	var payload dto.StudentRegisterRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	student, err := h.students.Register(c.UserContext(), payload)
	if err != nil {
		return respondError(c, h.logger, err, "failed to register student")
	}

	requestLogger(h.logger, c).Info().Str("student_id", student.StudentID).Msg("student registered")
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "student registered", student)
}

func (h *StudentHandler) list(c *fiber.Ctx) error {
	page, err := parseQueryInt(c, "page")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid page")
	}
	pageSize, err := parseQueryInt(c, "pageSize")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid pageSize")
	}
	year, err := parseQueryInt(c, "yearOfPassing")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid yearOfPassing")
	}

	req := dto.StudentListRequest{
		Page:          page,
		PageSize:      pageSize,
		Search:        strings.TrimSpace(c.Query("search")),
		Department:    strings.TrimSpace(c.Query("department")),
		Status:        strings.ToLower(strings.TrimSpace(c.Query("status"))),
		YearOfPassing: year,
	}

	result, err := h.students.List(c.UserContext(), req)
	if err != nil {
		return respondError(c, h.logger, err, "failed to list students")
	}

	return utils.OK(c, result, "students retrieved", result.Pagination)
}

func (h *StudentHandler) get(c *fiber.Ctx) error {
	student, err := h.students.Get(c.UserContext(), actorFromContext(c), c.Params("studentId"))
	if err != nil {
		return respondError(c, h.logger, err, "failed to load student")
	}
	return utils.SendSuccess(c, "student retrieved", student)
}

func (h *StudentHandler) approve(c *fiber.Ctx) error {
	var payload dto.ApproveStudentRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	certificate, err := h.students.Approve(c.UserContext(), actorFromContext(c), c.Params("studentId"), payload)
	if err != nil {
		return respondError(c, h.logger, err, "failed to approve student")
	}

	requestLogger(h.logger, c).Info().
		Str("student_id", certificate.StudentID).
		Str("certificate_type", certificate.CertificateType).
		Str("tx_hash", certificate.ApprovalTxHash).
		Msg("student approved for certificate")
	return utils.SendSuccess(c, "student approved on blockchain", certificate)
}

func (h *StudentHandler) revoke(c *fiber.Ctx) error {
	student, err := h.students.Revoke(c.UserContext(), actorFromContext(c), c.Params("studentId"))
	if err != nil {
		return respondError(c, h.logger, err, "failed to revoke student")
	}
	return utils.SendSuccess(c, "student eligibility revoked", student)
}

func (h *StudentHandler) updateWallet(c *fiber.Ctx) error {
	var payload dto.WalletUpdateRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	student, err := h.students.UpdateWallet(c.UserContext(), actorFromContext(c), c.Params("studentId"), payload)
	if err != nil {
		return respondError(c, h.logger, err, "failed to update wallet")
	}
	return utils.SendSuccess(c, "wallet address updated", student)
}

func (h *StudentHandler) eligibility(c *fiber.Ctx) error {
	certType := strings.TrimSpace(c.Query("certificateType"))
	if certType == "" {
		return utils.SendError(c, fiber.StatusBadRequest, "certificateType is required")
	}

	result, err := h.gate.Check(c.UserContext(), c.Params("studentId"), certType)
	if err != nil {
		return respondError(c, h.logger, err, "failed to check eligibility")
	}
	return utils.SendSuccess(c, result.Reason, result)
}

func (h *StudentHandler) sync(c *fiber.Ctx) error {
	certificates, err := h.students.Sync(c.UserContext(), actorFromContext(c), c.Params("studentId"))
	if err != nil {
		return respondError(c, h.logger, err, "failed to sync with blockchain")
	}
	return utils.SendSuccess(c, "synced with blockchain", fiber.Map{
		"count":        len(certificates),
		"certificates": certificates,
	})
}
