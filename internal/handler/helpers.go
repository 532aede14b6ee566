package handler

import (
	"errors"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/educert-api/internal/chain"
	"github.com/noah-isme/educert-api/internal/lifecycle"
	"github.com/noah-isme/educert-api/internal/middleware"
	"github.com/noah-isme/educert-api/internal/service"
	"github.com/noah-isme/educert-api/internal/utils"
)

func parseQueryInt(c *fiber.Ctx, key string) (int, error) {
	value := strings.TrimSpace(c.Query(key))
	if value == "" {
		return 0, nil
	}
	return strconv.Atoi(value)
}

func parseIDParam(c *fiber.Ctx) (uint, error) {
	id, err := strconv.ParseUint(strings.TrimSpace(c.Params("id")), 10, 64)
	if err != nil || id == 0 {
		return 0, errors.New("invalid certificate id")
	}
	return uint(id), nil
}

func actorFromContext(c *fiber.Ctx) service.Actor {
	actor := service.Actor{}
	actor.ID, _ = c.Locals(middleware.LocalUserID).(string)
	actor.Role, _ = c.Locals(middleware.LocalUserRole).(string)
	actor.StudentID, _ = c.Locals(middleware.LocalStudentID).(string)
	return actor
}

func requestLogger(base zerolog.Logger, c *fiber.Ctx) *zerolog.Logger {
	logger := base
	if c != nil {
		if correlation := middleware.GetCorrelationID(c); correlation != "" {
			logger = base.With().Str("correlation_id", correlation).Logger()
		}
	}
	return &logger
}

func isValidationError(err error) bool {
	var validationErrors validator.ValidationErrors
	return errors.As(err, &validationErrors)
}

func validationDetails(err error) map[string]string {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return nil
	}
	details := make(map[string]string, len(validationErrors))
	for _, fieldErr := range validationErrors {
		details[lowerFirst(fieldErr.Field())] = fieldErr.Tag()
	}
	return details
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

// respondError maps domain, chain and validation errors to HTTP responses.
// Unknown errors are logged and answered with 500.
func respondError(c *fiber.Ctx, logger zerolog.Logger, err error, fallback string) error {
	var (
		notEligible *service.NotEligibleError
		reverted    *chain.RevertedError
		funds       *chain.InsufficientFundsError
		pending     *chain.PendingError
		syncErr     *service.BackendSyncError
	)

	switch {
	case isValidationError(err):
		return utils.Fail(c, fiber.StatusBadRequest, "validation failed", validationDetails(err))
	case errors.Is(err, service.ErrInvalidInput), errors.Is(err, chain.ErrInvalidTransaction):
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	case errors.As(err, &notEligible):
		return utils.Fail(c, fiber.StatusForbidden, "not eligible to mint", fiber.Map{"reason": notEligible.Reason})
	case errors.Is(err, service.ErrForbidden):
		return utils.SendError(c, fiber.StatusForbidden, err.Error())
	case errors.Is(err, service.ErrStudentNotFound), errors.Is(err, service.ErrCertificateNotFound), errors.Is(err, chain.ErrTransactionNotFound):
		return utils.SendError(c, fiber.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrCertificateNotMinted):
		return utils.SendError(c, fiber.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrAlreadyInFlight):
		return utils.SendError(c, fiber.StatusConflict, "a mint for this certificate is already in progress, please wait")
	case errors.Is(err, service.ErrStudentExists), errors.Is(err, service.ErrCertificateExists), errors.Is(err, lifecycle.ErrInvalidTransition):
		return utils.SendError(c, fiber.StatusConflict, err.Error())
	case errors.As(err, &reverted):
		details := fiber.Map{"reason": reverted.Reason}
		if reverted.TxHash != "" {
			details["transactionHash"] = reverted.TxHash
		}
		return utils.Fail(c, fiber.StatusUnprocessableEntity, reverted.Error(), details)
	case errors.As(err, &funds):
		details := fiber.Map{}
		if funds.Required != nil {
			details["requiredWei"] = funds.Required.String()
		}
		if funds.Balance != nil {
			details["balanceWei"] = funds.Balance.String()
		}
		if shortfall := funds.Shortfall(); shortfall != nil {
			details["shortfallWei"] = shortfall.String()
		}
		return utils.Fail(c, fiber.StatusPaymentRequired, funds.Error(), details)
	case errors.As(err, &pending):
		return utils.Fail(c, fiber.StatusGatewayTimeout, "transaction not confirmed in time", fiber.Map{"transactionHash": pending.TxHash})
	case errors.Is(err, chain.ErrConfirmationTimeout):
		return utils.SendError(c, fiber.StatusGatewayTimeout, err.Error())
	case errors.Is(err, chain.ErrUnavailable):
		return utils.SendError(c, fiber.StatusServiceUnavailable, "blockchain unavailable, please try again later")
	case errors.Is(err, chain.ErrSignerMissing):
		return utils.SendError(c, fiber.StatusServiceUnavailable, err.Error())
	case errors.Is(err, service.ErrUploadTooLarge):
		return utils.SendError(c, fiber.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, service.ErrUploadTypeNotAllowed):
		return utils.SendError(c, fiber.StatusUnsupportedMediaType, err.Error())
	case errors.As(err, &syncErr):
		requestLogger(logger, c).Error().Err(err).Msg("backend sync failed after chain success")
		return utils.SendSuccessWithStatus(c, fiber.StatusAccepted, "recorded on-chain, backend update pending", fiber.Map{"backendSynced": false})
	default:
		requestLogger(logger, c).Error().Err(err).Msg(fallback)
		return utils.SendError(c, fiber.StatusInternalServerError, fallback)
	}
}
