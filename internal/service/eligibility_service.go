package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/noah-isme/educert-api/internal/chain"
	"github.com/noah-isme/educert-api/internal/dto"
	"github.com/noah-isme/educert-api/internal/lifecycle"
	"github.com/noah-isme/educert-api/internal/repository"
)

// EligibilityService answers whether a student may mint a certificate type right now.
type EligibilityService interface {
	Check(ctx context.Context, studentID, certificateType string) (dto.EligibilityResponse, error)
}

type eligibilityService struct {
	certificates repository.CertificateRepository
	contract     chain.Contract
	logger       zerolog.Logger
	tracer       trace.Tracer
}

// NewEligibilityService constructs the eligibility gate.
func NewEligibilityService(certificates repository.CertificateRepository, contract chain.Contract, logger zerolog.Logger) EligibilityService {
	return &eligibilityService{
		certificates: certificates,
		contract:     contract,
		logger:       logger.With().Str("component", "eligibility_service").Logger(),
		tracer:       otel.Tracer("github.com/noah-isme/educert-api/internal/service/eligibility"),
	}
}

// Check consults the backend record first so a known mint is denied without a
// ledger round trip, then defers to the contract. A ledger failure yields
// canMint=false with source "unavailable", never an error.
func (s *eligibilityService) Check(ctx context.Context, studentID, certificateType string) (dto.EligibilityResponse, error) {
	studentID = strings.TrimSpace(studentID)
	if studentID == "" {
		return dto.EligibilityResponse{}, invalidInput("student id is required")
	}
	certType, err := parseType(certificateType)
	if err != nil {
		return dto.EligibilityResponse{}, err
	}

	ctx, span := s.tracer.Start(ctx, "eligibility.check", trace.WithAttributes(
		attribute.String("certificate.student_id", studentID),
		attribute.String("certificate.type", certType.String()),
	))
	defer span.End()

	response := dto.EligibilityResponse{StudentID: studentID, CertificateType: certType.String()}

	if reason, denied := s.backendShortcut(ctx, studentID, certType); denied {
		response.Reason = reason
		response.Source = dto.SourceBackend
		span.SetAttributes(attribute.String("eligibility.source", response.Source))
		return response, nil
	}

	eligibility, err := s.contract.CanMint(ctx, studentID, certType.String())
	if err != nil {
		s.logger.Warn().Err(err).Str("student_id", studentID).Str("certificate_type", certType.String()).Msg("eligibility check could not reach the ledger")
		span.RecordError(err)
		response.Reason = "blockchain unavailable, eligibility could not be verified"
		response.Source = dto.SourceUnavailable
		span.SetAttributes(attribute.String("eligibility.source", response.Source))
		return response, nil
	}

	response.CanMint = eligibility.Allowed
	response.Reason = eligibility.Reason
	response.Source = dto.SourceChain
	span.SetAttributes(
		attribute.String("eligibility.source", response.Source),
		attribute.Bool("eligibility.can_mint", response.CanMint),
	)
	return response, nil
}

func (s *eligibilityService) backendShortcut(ctx context.Context, studentID string, certType lifecycle.CertificateType) (string, bool) {
	certificate, err := s.certificates.GetByPair(ctx, studentID, certType.String())
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.Warn().Err(err).Str("student_id", studentID).Msg("backend read failed, deferring to ledger")
		}
		return "", false
	}

	switch {
	case certificate.Status == string(lifecycle.StatusMinted):
		return fmt.Sprintf("Certificate already minted for this type (transaction %s)", displayHash(certificate.TransactionHash)), true
	// Apply never keeps a mint hash on an approved row. This catches rows written
	// outside the lifecycle, such as a manual fix or an older importer.
	case certificate.Status == string(lifecycle.StatusApproved) && certificate.TransactionHash != "":
		return fmt.Sprintf("A mint transaction already exists for this type (transaction %s)", certificate.TransactionHash), true
	}
	return "", false
}

func displayHash(hash string) string {
	if hash == "" {
		return "unknown"
	}
	return hash
}
