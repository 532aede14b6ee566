package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/educert-api/internal/chain"
	"github.com/noah-isme/educert-api/internal/dto"
	"github.com/noah-isme/educert-api/internal/lease"
	"github.com/noah-isme/educert-api/internal/lifecycle"
	"github.com/noah-isme/educert-api/internal/models"
	"github.com/noah-isme/educert-api/internal/observability"
	"github.com/noah-isme/educert-api/internal/repository"
)

// MintConfig bounds a mint submission.
type MintConfig struct {
	LeaseTTL time.Duration
	Timeout  time.Duration
}

// MintService serialises mint submissions per (student, certificate type).
type MintService interface {
	SubmitMint(ctx context.Context, actor Actor, req dto.MintRequest) (dto.MintResponse, error)
}

type mintService struct {
	students     repository.StudentRepository
	certificates repository.CertificateRepository
	contract     chain.Contract
	gate         EligibilityService
	reconciler   ReconcileService
	queue        SyncQueue
	events       StatusPublisher
	locker       lease.Locker
	cfg          MintConfig
	logger       zerolog.Logger
	tracer       trace.Tracer
}

// MintDependencies groups the collaborators of the mint sequencer.
type MintDependencies struct {
	Students     repository.StudentRepository
	Certificates repository.CertificateRepository
	Contract     chain.Contract
	Gate         EligibilityService
	Reconciler   ReconcileService
	Queue        SyncQueue
	Events       StatusPublisher
	Locker       lease.Locker
}

// NewMintService constructs the mint submission sequencer.
func NewMintService(deps MintDependencies, cfg MintConfig, logger zerolog.Logger) MintService {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Minute
	}
	if cfg.LeaseTTL <= cfg.Timeout {
		cfg.LeaseTTL = cfg.Timeout + 2*time.Minute
	}

	return &mintService{
		students:     deps.Students,
		certificates: deps.Certificates,
		contract:     deps.Contract,
		gate:         deps.Gate,
		reconciler:   deps.Reconciler,
		queue:        deps.Queue,
		events:       deps.Events,
		locker:       deps.Locker,
		cfg:          cfg,
		logger:       logger.With().Str("component", "mint_service").Logger(),
		tracer:       otel.Tracer("github.com/noah-isme/educert-api/internal/service/mint"),
	}
}

func (s *mintService) SubmitMint(ctx context.Context, actor Actor, req dto.MintRequest) (dto.MintResponse, error) {
	studentID := strings.TrimSpace(req.StudentID)
	if studentID == "" {
		return dto.MintResponse{}, invalidInput("student id is required")
	}
	certType, err := parseType(req.CertificateType)
	if err != nil {
		return dto.MintResponse{}, err
	}
	if !actor.CanActFor(studentID) {
		return dto.MintResponse{}, ErrForbidden
	}

	ctx, span := s.tracer.Start(ctx, "mint.submit", trace.WithAttributes(
		attribute.String("certificate.student_id", studentID),
		attribute.String("certificate.type", certType.String()),
		attribute.Bool("mint.client_signed", req.SignedTransaction != ""),
	))
	defer span.End()

	logger := s.logger.With().
		Str("student_id", studentID).
		Str("certificate_type", certType.String()).
		Str("actor_id", actor.ID).
		Logger()

	student, err := s.students.GetByStudentID(ctx, studentID)
	if err != nil {
		return dto.MintResponse{}, notFound(err, ErrStudentNotFound)
	}

	held, err := s.locker.Acquire(ctx, lease.Key(studentID, certType.String()), s.cfg.LeaseTTL)
	if err != nil {
		if errors.Is(err, lease.ErrHeld) {
			observability.MintSubmissions().WithLabelValues("in_flight").Inc()
			logger.Info().Msg("mint rejected, another submission holds the lease")
			return dto.MintResponse{}, ErrAlreadyInFlight
		}
		return dto.MintResponse{}, fmt.Errorf("acquire mint lease: %w", err)
	}
	defer func() {
		if err := s.locker.Release(context.WithoutCancel(ctx), held); err != nil {
			logger.Warn().Err(err).Msg("failed to release mint lease")
		}
	}()

	observability.MintsInFlight().Inc()
	defer observability.MintsInFlight().Dec()

	eligibility, err := s.gate.Check(ctx, studentID, certType.String())
	if err != nil {
		return dto.MintResponse{}, err
	}
	if eligibility.Source == dto.SourceUnavailable {
		observability.MintSubmissions().WithLabelValues("unavailable").Inc()
		return dto.MintResponse{}, fmt.Errorf("%w: eligibility could not be verified", chain.ErrUnavailable)
	}
	if !eligibility.CanMint {
		observability.MintSubmissions().WithLabelValues("not_eligible").Inc()
		logger.Info().Str("reason", eligibility.Reason).Msg("mint rejected by eligibility gate")
		return dto.MintResponse{}, &NotEligibleError{Reason: eligibility.Reason}
	}

	payload := s.payload(ctx, student, certType.String())

	mintCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	receipt, err := s.contract.Mint(mintCtx, chain.MintRequest{CertificateData: payload, SignedTransaction: req.SignedTransaction})
	if err != nil {
		span.RecordError(err)
		observability.MintSubmissions().WithLabelValues(mintOutcome(err)).Inc()
		logger.Warn().Err(err).Msg("mint transaction failed")
		return dto.MintResponse{}, err
	}
	if receipt.StudentID == "" {
		receipt.StudentID = studentID
	}
	if receipt.CertificateType == "" {
		receipt.CertificateType = certType.String()
	}

	span.SetAttributes(attribute.String("certificate.tx_hash", receipt.TxHash), attribute.String("certificate.token_id", receipt.TokenID))
	observability.MintSubmissions().WithLabelValues("minted").Inc()
	logger.Info().Str("tx_hash", receipt.TxHash).Str("token_id", receipt.TokenID).Uint64("block", receipt.BlockNumber).Msg("certificate minted")

	response := dto.MintResponse{
		StudentID:       studentID,
		CertificateType: certType.String(),
		TransactionHash: receipt.TxHash,
		BlockNumber:     receipt.BlockNumber,
		TokenID:         receipt.TokenID,
		BackendSynced:   true,
	}

	certificate, err := s.reconciler.RecordMint(context.WithoutCancel(ctx), studentID, certType.String(), receipt, actor)
	if err != nil {
		logger.Error().Err(err).Str("tx_hash", receipt.TxHash).Msg("mint confirmed but backend sync failed, queued for retry")
		if s.queue != nil {
			s.queue.Enqueue(ctx, SyncRequest{
				StudentID:       studentID,
				CertificateType: certType.String(),
				Reason:          err.Error(),
				Receipt:         &receipt,
			})
		}
		if s.events != nil {
			s.events.Publish(ctx, dto.StatusEvent{
				StudentID:       studentID,
				CertificateType: certType.String(),
				Status:          string(lifecycle.StatusMinted),
				TransactionHash: receipt.TxHash,
				TokenID:         receipt.TokenID,
			})
		}
		response.BackendSynced = false
		return response, nil
	}

	response.Certificate = &certificate
	return response, nil
}

// payload binds the backend certificate details into the mint call, falling
// back to the ledger allowance when the backend has no row for the pair.
func (s *mintService) payload(ctx context.Context, student models.Student, certificateType string) chain.CertificateData {
	data := chain.CertificateData{
		StudentID:       student.StudentID,
		StudentName:     student.Name,
		CertificateType: certificateType,
	}

	certificate, err := s.certificates.GetByPair(ctx, student.StudentID, certificateType)
	if err == nil {
		data.CourseName = certificate.CourseName
		data.Grade = certificate.Grade
		data.IPFSHash = certificate.IPFSHash
		return data
	}

	snapshot, err := s.contract.StudentEligibility(ctx, student.StudentID, certificateType)
	if err != nil {
		s.logger.Warn().Err(err).Str("student_id", student.StudentID).Msg("no certificate details available for mint payload")
		return data
	}
	if snapshot.StudentName != "" {
		data.StudentName = snapshot.StudentName
	}
	data.CourseName = snapshot.CourseName
	data.Grade = snapshot.Grade
	data.IPFSHash = snapshot.IPFSHash
	return data
}

func mintOutcome(err error) string {
	var reverted *chain.RevertedError
	var funds *chain.InsufficientFundsError
	switch {
	case errors.As(err, &reverted):
		return "reverted"
	case errors.As(err, &funds):
		return "insufficient_funds"
	case errors.Is(err, chain.ErrConfirmationTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, chain.ErrUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}
