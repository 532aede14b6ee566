package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/noah-isme/educert-api/internal/chain"
	"github.com/noah-isme/educert-api/internal/dto"
	"github.com/noah-isme/educert-api/internal/lifecycle"
	"github.com/noah-isme/educert-api/internal/models"
	"github.com/noah-isme/educert-api/internal/observability"
	"github.com/noah-isme/educert-api/internal/repository"
)

// SyncRequest asks for a backend record to be brought in line with the ledger.
// Receipt is set when the record must absorb a confirmed mint.
type SyncRequest struct {
	StudentID       string
	CertificateType string
	Reason          string
	Receipt         *chain.Receipt
}

// SyncQueue accepts backend patches to retry later.
type SyncQueue interface {
	Enqueue(ctx context.Context, req SyncRequest)
}

// ReconcileService merges backend certificates with ledger mint state and
// writes corrections back to the backend.
type ReconcileService interface {
	Reconcile(ctx context.Context, student models.Student) ([]dto.CertificateResponse, error)
	ReconcileOne(ctx context.Context, studentID, certificateType string) (dto.CertificateResponse, error)
	RecordMint(ctx context.Context, studentID, certificateType string, receipt chain.Receipt, actor Actor) (dto.CertificateResponse, error)
	Resync(ctx context.Context, req SyncRequest) error
}

type reconcileService struct {
	students     repository.StudentRepository
	certificates repository.CertificateRepository
	contract     chain.Contract
	events       StatusPublisher
	queue        SyncQueue
	logger       zerolog.Logger
	tracer       trace.Tracer
	now          func() time.Time
}

// NewReconcileService constructs the status reconciler. events and queue may be nil.
func NewReconcileService(students repository.StudentRepository, certificates repository.CertificateRepository, contract chain.Contract, events StatusPublisher, queue SyncQueue, logger zerolog.Logger) ReconcileService {
	return &reconcileService{
		students:     students,
		certificates: certificates,
		contract:     contract,
		events:       events,
		queue:        queue,
		logger:       logger.With().Str("component", "reconcile_service").Logger(),
		tracer:       otel.Tracer("github.com/noah-isme/educert-api/internal/service/reconcile"),
		now:          time.Now,
	}
}

func (s *reconcileService) Reconcile(ctx context.Context, student models.Student) ([]dto.CertificateResponse, error) {
	ctx, span := s.tracer.Start(ctx, "reconcile.student", trace.WithAttributes(
		attribute.String("certificate.student_id", student.StudentID),
		attribute.Int("certificate.count", len(student.Certificates)),
	))
	defer span.End()

	responses := make([]dto.CertificateResponse, 0, len(student.Certificates))
	for _, certificate := range student.Certificates {
		response, err := s.resolve(ctx, certificate)
		var syncErr *BackendSyncError
		if errors.As(err, &syncErr) && s.queue != nil {
			s.queue.Enqueue(ctx, SyncRequest{
				StudentID:       certificate.StudentID,
				CertificateType: certificate.CertificateType,
				Reason:          syncErr.Error(),
			})
		}
		responses = append(responses, response)
	}

	return responses, nil
}

func (s *reconcileService) ReconcileOne(ctx context.Context, studentID, certificateType string) (dto.CertificateResponse, error) {
	certType, err := parseType(certificateType)
	if err != nil {
		return dto.CertificateResponse{}, err
	}

	certificate, err := s.certificates.GetByPair(ctx, studentID, certType.String())
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s.adoptFromChain(ctx, studentID, certType)
	}
	if err != nil {
		return dto.CertificateResponse{}, err
	}

	return s.resolve(ctx, certificate)
}

func (s *reconcileService) Resync(ctx context.Context, req SyncRequest) error {
	var err error
	if req.Receipt != nil {
		_, err = s.RecordMint(ctx, req.StudentID, req.CertificateType, *req.Receipt, SystemActor)
	} else {
		_, err = s.ReconcileOne(ctx, req.StudentID, req.CertificateType)
	}
	return err
}

// RecordMint applies a confirmed mint receipt to the backend record through the
// same merge used for reconciliation.
func (s *reconcileService) RecordMint(ctx context.Context, studentID, certificateType string, receipt chain.Receipt, actor Actor) (dto.CertificateResponse, error) {
	certType, err := parseType(certificateType)
	if err != nil {
		return dto.CertificateResponse{}, err
	}

	ctx, span := s.tracer.Start(ctx, "reconcile.record_mint", trace.WithAttributes(
		attribute.String("certificate.student_id", studentID),
		attribute.String("certificate.type", certType.String()),
		attribute.String("certificate.tx_hash", receipt.TxHash),
	))
	defer span.End()

	obs := lifecycle.Observation{Minted: true, IssuedAt: s.now().UTC().Truncate(time.Second), TokenID: receipt.TokenID}
	if record, err := s.contract.Certificate(ctx, studentID, certType.String()); err == nil {
		obs.IssuedAt = record.IssuedAt
		obs.CourseName = record.CourseName
		obs.Grade = record.Grade
		obs.IPFSHash = record.IPFSHash
		if obs.TokenID == "" {
			obs.TokenID = record.TokenID
		}
	} else {
		s.logger.Warn().Err(err).Str("student_id", studentID).Msg("could not read minted certificate from ledger, using receipt only")
	}

	syncErr := func(err error) error {
		span.RecordError(err)
		return &BackendSyncError{StudentID: studentID, CertificateType: certType.String(), Err: err}
	}

	certificate, err := s.certificates.GetByPair(ctx, studentID, certType.String())
	if errors.Is(err, gorm.ErrRecordNotFound) {
		minted := mintedFromObservation(certType, obs)
		minted.TxHash = receipt.TxHash
		minted.BlockNumber = receipt.BlockNumber
		response, createErr := s.createMinted(ctx, studentID, minted, ActivityEntry{
			Actor:       actor,
			Action:      models.ActionMinted,
			TxHash:      receipt.TxHash,
			BlockNumber: receipt.BlockNumber,
			Metadata:    map[string]interface{}{"tokenId": minted.TokenID},
		})
		if createErr != nil {
			if errors.Is(createErr, ErrStudentNotFound) {
				return dto.CertificateResponse{}, createErr
			}
			return dto.CertificateResponse{}, syncErr(createErr)
		}
		return response, nil
	}
	if err != nil {
		return dto.CertificateResponse{}, syncErr(err)
	}

	stage, err := certificate.Stage()
	if err != nil {
		return dto.CertificateResponse{}, syncErr(err)
	}

	resolution := lifecycle.Merge(stage, &obs)
	minted := resolution.Effective.(lifecycle.Minted)
	changed := resolution.Changed
	if minted.TxHash == "" && receipt.TxHash != "" {
		minted.TxHash = receipt.TxHash
		changed = true
	}
	if minted.BlockNumber == 0 && receipt.BlockNumber != 0 {
		minted.BlockNumber = receipt.BlockNumber
		changed = true
	}
	resolution.Effective = minted

	if changed {
		activity := newActivity(ActivityEntry{
			Actor:       actor,
			Action:      models.ActionMinted,
			TxHash:      minted.TxHash,
			BlockNumber: minted.BlockNumber,
			Metadata: map[string]interface{}{
				"tokenId":        minted.TokenID,
				"previousStatus": certificate.Status,
			},
		})
		stored := certificate
		if err := s.certificates.ApplyStage(ctx, &stored, minted, activity); err != nil {
			return dto.NewEffectiveCertificateResponse(certificate, resolution), syncErr(err)
		}
	}

	response := dto.NewEffectiveCertificateResponse(certificate, resolution)
	if changed {
		s.publish(ctx, response)
	}
	return response, nil
}

// resolve merges one stored certificate with the ledger and patches the
// backend when they differ. A ledger failure returns the stored view with
// chainChecked=false and the observation error; a failed patch returns the
// effective view with a BackendSyncError.
func (s *reconcileService) resolve(ctx context.Context, certificate models.Certificate) (dto.CertificateResponse, error) {
	stage, err := certificate.Stage()
	if err != nil {
		s.logger.Error().Err(err).Uint("certificate_id", certificate.ID).Msg("stored certificate is not a valid lifecycle stage")
		return dto.NewCertificateResponse(certificate), err
	}

	obs, obsErr := s.observe(ctx, certificate.StudentID, certificate.CertificateType)
	if obsErr != nil {
		s.logger.Warn().Err(obsErr).
			Str("student_id", certificate.StudentID).
			Str("certificate_type", certificate.CertificateType).
			Msg("ledger unavailable, returning backend view")
	}

	resolution := lifecycle.Merge(stage, obs)
	if resolution.Drift == lifecycle.DriftBackendAhead {
		observability.ReconcileCorrections().WithLabelValues(string(resolution.Drift)).Inc()
	}

	response := dto.NewEffectiveCertificateResponse(certificate, resolution)
	if !resolution.Changed {
		return response, obsErr
	}

	metadata := map[string]interface{}{
		"drift":          string(resolution.Drift),
		"previousStatus": certificate.Status,
	}
	var txHash string
	var block uint64
	if minted, ok := resolution.Effective.(lifecycle.Minted); ok {
		metadata["tokenId"] = minted.TokenID
		txHash = minted.TxHash
		block = minted.BlockNumber
	}

	activity := newActivity(ActivityEntry{
		Actor:       SystemActor,
		Action:      models.ActionReconciled,
		TxHash:      txHash,
		BlockNumber: block,
		Metadata:    metadata,
	})

	stored := certificate
	if err := s.certificates.ApplyStage(ctx, &stored, resolution.Effective, activity); err != nil {
		s.logger.Error().Err(err).Uint("certificate_id", certificate.ID).Msg("failed to patch certificate from ledger")
		return response, &BackendSyncError{StudentID: certificate.StudentID, CertificateType: certificate.CertificateType, Err: err}
	}

	observability.ReconcileCorrections().WithLabelValues(string(resolution.Drift)).Inc()
	s.logger.Info().
		Str("student_id", certificate.StudentID).
		Str("certificate_type", certificate.CertificateType).
		Str("from", certificate.Status).
		Str("to", string(resolution.Effective.Status())).
		Msg("certificate reconciled from ledger")

	s.publish(ctx, response)
	return response, nil
}

// observe returns nil with an error when the ledger cannot be read.
func (s *reconcileService) observe(ctx context.Context, studentID, certificateType string) (*lifecycle.Observation, error) {
	minted, err := s.contract.HasMinted(ctx, studentID, certificateType)
	if err != nil {
		return nil, err
	}
	if !minted {
		return &lifecycle.Observation{Minted: false}, nil
	}

	record, err := s.contract.Certificate(ctx, studentID, certificateType)
	if err != nil {
		return nil, fmt.Errorf("read minted certificate: %w", err)
	}

	return &lifecycle.Observation{
		Minted:     true,
		IssuedAt:   record.IssuedAt,
		TokenID:    record.TokenID,
		CourseName: record.CourseName,
		Grade:      record.Grade,
		IPFSHash:   record.IPFSHash,
	}, nil
}

// adoptFromChain creates the backend record for a mint the backend never saw.
func (s *reconcileService) adoptFromChain(ctx context.Context, studentID string, certType lifecycle.CertificateType) (dto.CertificateResponse, error) {
	obs, err := s.observe(ctx, studentID, certType.String())
	if err != nil {
		return dto.CertificateResponse{}, err
	}
	if !obs.Minted {
		return dto.CertificateResponse{}, ErrCertificateNotFound
	}

	minted := mintedFromObservation(certType, *obs)
	return s.createMinted(ctx, studentID, minted, ActivityEntry{
		Actor:    SystemActor,
		Action:   models.ActionReconciled,
		Metadata: map[string]interface{}{"drift": string(lifecycle.DriftChainAhead), "tokenId": minted.TokenID},
	})
}

func (s *reconcileService) createMinted(ctx context.Context, studentID string, minted lifecycle.Minted, entry ActivityEntry) (dto.CertificateResponse, error) {
	student, err := s.students.GetByStudentID(ctx, studentID)
	if err != nil {
		return dto.CertificateResponse{}, notFound(err, ErrStudentNotFound)
	}

	certificate := models.Certificate{StudentRef: student.ID, StudentID: student.StudentID}
	certificate.Apply(minted)
	if err := s.certificates.Create(ctx, &certificate, newActivity(entry)); err != nil {
		return dto.CertificateResponse{}, err
	}

	response := dto.NewCertificateResponse(certificate)
	response.ChainChecked = true
	s.publish(ctx, response)
	return response, nil
}

func (s *reconcileService) publish(ctx context.Context, certificate dto.CertificateResponse) {
	if s.events == nil {
		return
	}
	s.events.Publish(ctx, dto.NewStatusEvent(certificate))
}

func mintedFromObservation(certType lifecycle.CertificateType, obs lifecycle.Observation) lifecycle.Minted {
	resolution := lifecycle.Merge(lifecycle.Pending{Details: lifecycle.Details{Type: certType}}, &obs)
	return resolution.Effective.(lifecycle.Minted)
}
