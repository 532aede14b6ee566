package service

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/noah-isme/educert-api/internal/chain"
	"github.com/noah-isme/educert-api/internal/dto"
	"github.com/noah-isme/educert-api/internal/lifecycle"
	"github.com/noah-isme/educert-api/internal/models"
	"github.com/noah-isme/educert-api/internal/repository"
)

//go:embed certificate_metadata.schema.json
var metadataSchema []byte

const metadataSchemaURL = "educert://certificate_metadata.schema.json"

// CertificateService manages certificate records and their on-chain approval.
type CertificateService interface {
	Create(ctx context.Context, actor Actor, payload dto.CertificateCreateRequest) (dto.CertificateResponse, error)
	Approve(ctx context.Context, actor Actor, id uint) (dto.CertificateResponse, error)
	UpdateMintStatus(ctx context.Context, actor Actor, id uint, payload dto.MintStatusRequest) (dto.CertificateResponse, error)
	Verify(ctx context.Context, id uint) (dto.VerificationResponse, error)
	VerifyTx(ctx context.Context, txHash string) (dto.VerificationResponse, error)
	Metadata(ctx context.Context, id uint) (dto.CertificateMetadata, error)
}

// CertificateDependencies groups the collaborators of the certificate service.
type CertificateDependencies struct {
	Students     repository.StudentRepository
	Certificates repository.CertificateRepository
	Contract     chain.Contract
	Reconciler   ReconcileService
	Events       StatusPublisher
}

type certificateService struct {
	students     repository.StudentRepository
	certificates repository.CertificateRepository
	contract     chain.Contract
	reconciler   ReconcileService
	events       StatusPublisher
	validator    *validator.Validate
	sanitizer    *bluemonday.Policy
	schema       *jsonschema.Schema
	baseURL      string
	logger       zerolog.Logger
	tracer       trace.Tracer
	now          func() time.Time
}

// NewCertificateService constructs a certificate service. baseURL prefixes the
// public links placed in NFT metadata.
func NewCertificateService(deps CertificateDependencies, validate *validator.Validate, baseURL string, logger zerolog.Logger) (CertificateService, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(metadataSchemaURL, bytes.NewReader(metadataSchema)); err != nil {
		return nil, fmt.Errorf("load metadata schema: %w", err)
	}
	schema, err := compiler.Compile(metadataSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile metadata schema: %w", err)
	}

	return &certificateService{
		students:     deps.Students,
		certificates: deps.Certificates,
		contract:     deps.Contract,
		reconciler:   deps.Reconciler,
		events:       deps.Events,
		validator:    validate,
		sanitizer:    bluemonday.StrictPolicy(),
		schema:       schema,
		baseURL:      strings.TrimRight(baseURL, "/"),
		logger:       logger.With().Str("component", "certificate_service").Logger(),
		tracer:       otel.Tracer("github.com/noah-isme/educert-api/internal/service/certificate"),
		now:          time.Now,
	}, nil
}

func (s *certificateService) Create(ctx context.Context, actor Actor, payload dto.CertificateCreateRequest) (dto.CertificateResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.CertificateResponse{}, err
	}

	certType, err := parseType(payload.CertificateType)
	if err != nil {
		return dto.CertificateResponse{}, err
	}
	details, err := s.details(certType, payload.CourseName, payload.Grade, payload.IPFSHash)
	if err != nil {
		return dto.CertificateResponse{}, err
	}

	student, err := s.students.GetByStudentID(ctx, strings.TrimSpace(payload.StudentID))
	if err != nil {
		return dto.CertificateResponse{}, notFound(err, ErrStudentNotFound)
	}

	ctx, span := s.tracer.Start(ctx, "certificate.create", trace.WithAttributes(
		attribute.String("certificate.student_id", student.StudentID),
		attribute.String("certificate.type", certType.String()),
	))
	defer span.End()

	existing, err := s.certificates.GetByPair(ctx, student.StudentID, certType.String())
	switch {
	case err == nil:
		return s.reopen(ctx, actor, existing, details)
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return dto.CertificateResponse{}, err
	}

	certificate := models.Certificate{StudentRef: student.ID, StudentID: student.StudentID}
	certificate.Apply(lifecycle.Pending{Details: details})

	activity := newActivity(ActivityEntry{
		Actor:    actor,
		Action:   models.ActionCreated,
		Metadata: map[string]interface{}{"courseName": details.CourseName, "grade": details.Grade},
	})
	if err := s.certificates.Create(ctx, &certificate, activity); err != nil {
		if _, lookupErr := s.certificates.GetByPair(ctx, student.StudentID, certType.String()); lookupErr == nil {
			return dto.CertificateResponse{}, ErrCertificateExists
		}
		span.RecordError(err)
		return dto.CertificateResponse{}, err
	}

	s.logger.Info().Str("student_id", student.StudentID).Str("certificate_type", certType.String()).Msg("certificate created")
	return dto.NewCertificateResponse(certificate), nil
}

// reopen returns a rejected certificate to pending with new details; any other
// existing certificate blocks creation.
func (s *certificateService) reopen(ctx context.Context, actor Actor, certificate models.Certificate, details lifecycle.Details) (dto.CertificateResponse, error) {
	stage, err := certificate.Stage()
	if err != nil {
		return dto.CertificateResponse{}, err
	}
	if _, rejected := stage.(lifecycle.Rejected); !rejected {
		return dto.CertificateResponse{}, ErrCertificateExists
	}

	pending, err := lifecycle.Reopen(stage, details)
	if err != nil {
		return dto.CertificateResponse{}, err
	}

	activity := newActivity(ActivityEntry{Actor: actor, Action: models.ActionReopened})
	if err := s.certificates.ApplyStage(ctx, &certificate, pending, activity); err != nil {
		return dto.CertificateResponse{}, err
	}
	return dto.NewCertificateResponse(certificate), nil
}

func (s *certificateService) Approve(ctx context.Context, actor Actor, id uint) (dto.CertificateResponse, error) {
	certificate, err := s.certificates.GetByID(ctx, id)
	if err != nil {
		return dto.CertificateResponse{}, notFound(err, ErrCertificateNotFound)
	}

	ctx, span := s.tracer.Start(ctx, "certificate.approve", trace.WithAttributes(
		attribute.String("certificate.student_id", certificate.StudentID),
		attribute.String("certificate.type", certificate.CertificateType),
	))
	defer span.End()

	stage, err := certificate.Stage()
	if err != nil {
		return dto.CertificateResponse{}, err
	}
	if _, done := stage.(lifecycle.Approved); done {
		return dto.NewCertificateResponse(certificate), nil
	}
	if _, pending := stage.(lifecycle.Pending); !pending {
		return dto.CertificateResponse{}, fmt.Errorf("%w: certificate is %s", lifecycle.ErrInvalidTransition, stage.Status())
	}

	student, err := s.students.GetByStudentID(ctx, certificate.StudentID)
	if err != nil {
		return dto.CertificateResponse{}, notFound(err, ErrStudentNotFound)
	}

	content := stage.Content()
	receipt, err := s.contract.AllowMint(ctx, chain.CertificateData{
		StudentID:       student.StudentID,
		StudentName:     student.Name,
		CourseName:      content.CourseName,
		Grade:           content.Grade,
		IPFSHash:        content.IPFSHash,
		CertificateType: content.Type.String(),
	})
	if err != nil {
		span.RecordError(err)
		s.logger.Warn().Err(err).Str("student_id", student.StudentID).Msg("on-chain approval failed")
		return dto.CertificateResponse{}, err
	}

	approved, err := lifecycle.Approve(stage, s.now(), receipt.TxHash)
	if err != nil {
		return dto.CertificateResponse{}, err
	}

	activity := newActivity(ActivityEntry{
		Actor:       actor,
		Action:      models.ActionApproved,
		TxHash:      receipt.TxHash,
		BlockNumber: receipt.BlockNumber,
	})
	if err := s.certificates.ApplyStage(ctx, &certificate, approved, activity); err != nil {
		return dto.CertificateResponse{}, &BackendSyncError{StudentID: student.StudentID, CertificateType: content.Type.String(), Err: err}
	}

	if student.EligibilityStatus != models.EligibilityApproved {
		if err := s.students.UpdateEligibility(ctx, student.StudentID, models.EligibilityApproved); err != nil {
			s.logger.Warn().Err(err).Str("student_id", student.StudentID).Msg("failed to update student eligibility")
		}
	}

	s.logger.Info().
		Str("student_id", student.StudentID).
		Str("certificate_type", content.Type.String()).
		Str("tx_hash", receipt.TxHash).
		Msg("certificate approved on-chain")

	response := dto.NewCertificateResponse(certificate)
	s.publish(ctx, response)
	return response, nil
}

// UpdateMintStatus records a mint the student's wallet submitted directly. The
// receipt is read from the ledger; the client's claim is never trusted as is.
func (s *certificateService) UpdateMintStatus(ctx context.Context, actor Actor, id uint, payload dto.MintStatusRequest) (dto.CertificateResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.CertificateResponse{}, err
	}

	certificate, err := s.certificates.GetByID(ctx, id)
	if err != nil {
		return dto.CertificateResponse{}, notFound(err, ErrCertificateNotFound)
	}
	if !actor.CanActFor(certificate.StudentID) {
		return dto.CertificateResponse{}, ErrForbidden
	}

	receipt, err := s.contract.Receipt(ctx, payload.TransactionHash)
	if err != nil {
		return dto.CertificateResponse{}, err
	}
	if receipt.TokenID == "" {
		return dto.CertificateResponse{}, invalidInput("transaction %s did not mint a certificate", payload.TransactionHash)
	}
	if receipt.StudentID != certificate.StudentID || !strings.EqualFold(receipt.CertificateType, certificate.CertificateType) {
		return dto.CertificateResponse{}, invalidInput("transaction %s minted a different certificate", payload.TransactionHash)
	}

	return s.reconciler.RecordMint(ctx, certificate.StudentID, certificate.CertificateType, receipt, actor)
}

func (s *certificateService) Verify(ctx context.Context, id uint) (dto.VerificationResponse, error) {
	certificate, err := s.certificates.GetByID(ctx, id)
	if err != nil {
		return dto.VerificationResponse{}, notFound(err, ErrCertificateNotFound)
	}
	return s.verify(ctx, certificate)
}

func (s *certificateService) VerifyTx(ctx context.Context, txHash string) (dto.VerificationResponse, error) {
	txHash = strings.TrimSpace(txHash)
	if txHash == "" {
		return dto.VerificationResponse{}, invalidInput("transaction hash is required")
	}

	certificate, err := s.certificates.GetByTxHash(ctx, txHash)
	if err == nil {
		return s.verify(ctx, certificate)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return dto.VerificationResponse{}, err
	}

	receipt, err := s.contract.Receipt(ctx, txHash)
	if err != nil {
		if errors.Is(err, chain.ErrTransactionNotFound) {
			return dto.VerificationResponse{}, ErrCertificateNotFound
		}
		return dto.VerificationResponse{}, err
	}
	if receipt.TokenID == "" || receipt.StudentID == "" {
		return dto.VerificationResponse{}, ErrCertificateNotFound
	}

	if _, err := s.reconciler.ReconcileOne(ctx, receipt.StudentID, receipt.CertificateType); err == nil {
		if adopted, lookupErr := s.certificates.GetByPair(ctx, receipt.StudentID, receipt.CertificateType); lookupErr == nil {
			return s.verify(ctx, adopted)
		}
	}

	return s.verifyFromChain(ctx, receipt)
}

func (s *certificateService) verify(ctx context.Context, certificate models.Certificate) (dto.VerificationResponse, error) {
	student, err := s.students.GetByStudentID(ctx, certificate.StudentID)
	if err != nil {
		return dto.VerificationResponse{}, notFound(err, ErrStudentNotFound)
	}

	effective, err := s.reconciler.ReconcileOne(ctx, certificate.StudentID, certificate.CertificateType)
	if effective.ID == 0 {
		effective = dto.NewCertificateResponse(certificate)
	}
	if err != nil {
		s.logger.Debug().Err(err).Uint("certificate_id", certificate.ID).Msg("verification continues with backend view")
	}

	response := dto.VerificationResponse{
		StudentName: student.Name,
		Department:  student.Department,
		Certificate: effective,
	}

	switch {
	case effective.Status == string(lifecycle.StatusMinted) && effective.BlockchainConfirmed:
		response.Valid = true
		response.Reason = "Certificate is recorded on the blockchain"
		if record, err := s.contract.Certificate(ctx, certificate.StudentID, certificate.CertificateType); err == nil {
			response.Owner = record.Owner
		}
	case !effective.ChainChecked:
		response.Reason = "Blockchain could not be reached, showing backend record"
	case effective.Status == string(lifecycle.StatusMinted):
		response.Reason = "Certificate is not confirmed on the blockchain"
	default:
		response.Reason = fmt.Sprintf("Certificate has not been minted (status %s)", effective.Status)
	}

	return response, nil
}

func (s *certificateService) verifyFromChain(ctx context.Context, receipt chain.Receipt) (dto.VerificationResponse, error) {
	record, err := s.contract.Certificate(ctx, receipt.StudentID, receipt.CertificateType)
	if err != nil {
		return dto.VerificationResponse{}, err
	}

	mintedAt := record.IssuedAt.UTC()
	return dto.VerificationResponse{
		Valid:       true,
		Reason:      "Certificate is recorded on the blockchain",
		StudentName: record.StudentName,
		Owner:       record.Owner,
		Certificate: dto.CertificateResponse{
			StudentID:           receipt.StudentID,
			CertificateType:     receipt.CertificateType,
			CourseName:          record.CourseName,
			Grade:               record.Grade,
			IPFSHash:            record.IPFSHash,
			Status:              string(lifecycle.StatusMinted),
			TransactionHash:     receipt.TxHash,
			TokenID:             record.TokenID,
			BlockNumber:         receipt.BlockNumber,
			MintedAt:            &mintedAt,
			BlockchainConfirmed: true,
			ChainChecked:        true,
		},
	}, nil
}

// Metadata renders the ERC-721 metadata document of a minted certificate.
func (s *certificateService) Metadata(ctx context.Context, id uint) (dto.CertificateMetadata, error) {
	certificate, err := s.certificates.GetByID(ctx, id)
	if err != nil {
		return dto.CertificateMetadata{}, notFound(err, ErrCertificateNotFound)
	}
	if certificate.Status != string(lifecycle.StatusMinted) {
		return dto.CertificateMetadata{}, ErrCertificateNotMinted
	}

	student, err := s.students.GetByStudentID(ctx, certificate.StudentID)
	if err != nil {
		return dto.CertificateMetadata{}, notFound(err, ErrStudentNotFound)
	}

	verifyURL := fmt.Sprintf("%s/api/certificates/verify/%d", s.baseURL, certificate.ID)
	image := verifyURL
	if certificate.IPFSHash != "" {
		image = "ipfs://" + certificate.IPFSHash
	}

	attributes := []dto.MetadataAttribute{
		{TraitType: "Student ID", Value: student.StudentID},
		{TraitType: "Student Name", Value: student.Name},
		{TraitType: "Department", Value: student.Department},
		{TraitType: "Year of Passing", Value: student.YearOfPassing},
		{TraitType: "Certificate Type", Value: certificate.CertificateType},
		{TraitType: "Course", Value: certificate.CourseName},
		{TraitType: "Grade", Value: certificate.Grade},
	}
	if certificate.MintedAt != nil {
		attributes = append(attributes, dto.MetadataAttribute{TraitType: "Issued", Value: certificate.MintedAt.UTC().Unix()})
	}
	if certificate.TokenID != "" {
		attributes = append(attributes, dto.MetadataAttribute{TraitType: "Token ID", Value: certificate.TokenID})
	}

	name := fmt.Sprintf("EDUCert %s", certificate.CertificateType)
	if certificate.TokenID != "" {
		name += " #" + certificate.TokenID
	}

	metadata := dto.CertificateMetadata{
		Name:        name,
		Description: fmt.Sprintf("%s certificate in %s issued to %s", certificate.CertificateType, certificate.CourseName, student.Name),
		Image:       image,
		Attributes:  attributes,
	}
	if s.baseURL != "" {
		metadata.ExternalURL = verifyURL
	}

	if err := s.validateMetadata(metadata); err != nil {
		s.logger.Error().Err(err).Uint("certificate_id", certificate.ID).Msg("certificate metadata failed schema validation")
		return dto.CertificateMetadata{}, err
	}
	return metadata, nil
}

func (s *certificateService) validateMetadata(metadata dto.CertificateMetadata) error {
	raw, err := json.Marshal(metadata)
	if err != nil {
		return err
	}
	var document interface{}
	if err := json.Unmarshal(raw, &document); err != nil {
		return err
	}
	if err := s.schema.Validate(document); err != nil {
		return fmt.Errorf("metadata schema: %w", err)
	}
	return nil
}

// details sanitizes the free text that is written on-chain.
func (s *certificateService) details(certType lifecycle.CertificateType, courseName, grade, ipfsHash string) (lifecycle.Details, error) {
	details := lifecycle.Details{
		Type:       certType,
		CourseName: strings.TrimSpace(s.sanitizer.Sanitize(courseName)),
		Grade:      strings.TrimSpace(s.sanitizer.Sanitize(grade)),
		IPFSHash:   strings.TrimSpace(ipfsHash),
	}
	if details.CourseName == "" {
		return lifecycle.Details{}, invalidInput("course name is empty after sanitization")
	}
	if details.Grade == "" {
		return lifecycle.Details{}, invalidInput("grade is empty after sanitization")
	}
	if err := validateIPFSHash(details.IPFSHash); err != nil {
		return lifecycle.Details{}, err
	}
	return details, nil
}

func (s *certificateService) publish(ctx context.Context, certificate dto.CertificateResponse) {
	if s.events == nil {
		return
	}
	s.events.Publish(ctx, dto.NewStatusEvent(certificate))
}
