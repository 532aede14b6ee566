package service

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/educert-api/internal/chain"
	"github.com/noah-isme/educert-api/internal/dto"
	"github.com/noah-isme/educert-api/internal/lifecycle"
	"github.com/noah-isme/educert-api/internal/models"
	"github.com/noah-isme/educert-api/internal/repository"
)

const (
	defaultStudentPageSize = 20
	maxStudentPageSize     = 200
)

// StudentService manages student registration and student-level lifecycle actions.
type StudentService interface {
	Register(ctx context.Context, payload dto.StudentRegisterRequest) (dto.StudentResponse, error)
	List(ctx context.Context, req dto.StudentListRequest) (dto.StudentListResponse, error)
	Get(ctx context.Context, actor Actor, studentID string) (dto.StudentDetailResponse, error)
	Approve(ctx context.Context, actor Actor, studentID string, payload dto.ApproveStudentRequest) (dto.CertificateResponse, error)
	Revoke(ctx context.Context, actor Actor, studentID string) (dto.StudentResponse, error)
	UpdateWallet(ctx context.Context, actor Actor, studentID string, payload dto.WalletUpdateRequest) (dto.StudentResponse, error)
	Sync(ctx context.Context, actor Actor, studentID string) ([]dto.CertificateResponse, error)
}

// StudentDependencies groups the collaborators of the student service.
type StudentDependencies struct {
	Students     repository.StudentRepository
	Certificates repository.CertificateRepository
	Contract     chain.Contract
	Reconciler   ReconcileService
	Issuer       CertificateService
	Events       StatusPublisher
}

type studentService struct {
	students     repository.StudentRepository
	certificates repository.CertificateRepository
	contract     chain.Contract
	reconciler   ReconcileService
	issuer       CertificateService
	events       StatusPublisher
	validator    *validator.Validate
	sanitizer    *bluemonday.Policy
	logger       zerolog.Logger
	tracer       trace.Tracer
	now          func() time.Time
}

// NewStudentService constructs a student service.
func NewStudentService(deps StudentDependencies, validate *validator.Validate, logger zerolog.Logger) StudentService {
	return &studentService{
		students:     deps.Students,
		certificates: deps.Certificates,
		contract:     deps.Contract,
		reconciler:   deps.Reconciler,
		issuer:       deps.Issuer,
		events:       deps.Events,
		validator:    validate,
		sanitizer:    bluemonday.StrictPolicy(),
		logger:       logger.With().Str("component", "student_service").Logger(),
		tracer:       otel.Tracer("github.com/noah-isme/educert-api/internal/service/student"),
		now:          time.Now,
	}
}

func (s *studentService) Register(ctx context.Context, payload dto.StudentRegisterRequest) (dto.StudentResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.StudentResponse{}, err
	}

	student := models.Student{
		StudentID:         strings.TrimSpace(payload.StudentID),
		Name:              strings.TrimSpace(s.sanitizer.Sanitize(payload.Name)),
		Email:             strings.ToLower(strings.TrimSpace(payload.Email)),
		Department:        strings.TrimSpace(s.sanitizer.Sanitize(payload.Department)),
		YearOfPassing:     payload.YearOfPassing,
		EligibilityStatus: models.EligibilityPending,
	}
	if student.Name == "" || student.Department == "" {
		return dto.StudentResponse{}, invalidInput("name and department must contain text")
	}

	exists, err := s.students.Exists(ctx, student.StudentID, student.Email)
	if err != nil {
		return dto.StudentResponse{}, err
	}
	if exists {
		return dto.StudentResponse{}, ErrStudentExists
	}

	if err := s.students.Create(ctx, &student); err != nil {
		if exists, lookupErr := s.students.Exists(ctx, student.StudentID, student.Email); lookupErr == nil && exists {
			return dto.StudentResponse{}, ErrStudentExists
		}
		return dto.StudentResponse{}, err
	}

	s.logger.Info().Str("student_id", student.StudentID).Msg("student registered")
	return dto.NewStudentResponse(student), nil
}

func (s *studentService) List(ctx context.Context, req dto.StudentListRequest) (dto.StudentListResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.StudentListResponse{}, err
	}

	page := req.Page
	if page <= 0 {
		page = 1
	}
	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = defaultStudentPageSize
	}
	if pageSize > maxStudentPageSize {
		pageSize = maxStudentPageSize
	}

	students, total, err := s.students.List(ctx, repository.StudentFilter{
		Page:          page,
		PageSize:      pageSize,
		Search:        req.Search,
		Department:    strings.TrimSpace(req.Department),
		Status:        req.Status,
		YearOfPassing: req.YearOfPassing,
	})
	if err != nil {
		return dto.StudentListResponse{}, err
	}

	items := make([]dto.StudentResponse, 0, len(students))
	for _, student := range students {
		items = append(items, dto.NewStudentResponse(student))
	}

	return dto.StudentListResponse{
		Count:    len(items),
		Students: items,
		Pagination: dto.PaginationMeta{
			Page:       page,
			PageSize:   pageSize,
			TotalItems: total,
			TotalPages: maxInt(1, int(math.Ceil(float64(total)/float64(pageSize)))),
		},
	}, nil
}

// Get returns the student with reconciled certificates and the ledger's
// eligibility view of every certificate type.
func (s *studentService) Get(ctx context.Context, actor Actor, studentID string) (dto.StudentDetailResponse, error) {
	student, err := s.load(ctx, actor, studentID)
	if err != nil {
		return dto.StudentDetailResponse{}, err
	}

	ctx, span := s.tracer.Start(ctx, "student.get", trace.WithAttributes(attribute.String("certificate.student_id", student.StudentID)))
	defer span.End()

	certificates, err := s.reconciler.Reconcile(ctx, student)
	if err != nil {
		return dto.StudentDetailResponse{}, err
	}

	response := dto.StudentDetailResponse{StudentResponse: dto.NewStudentResponse(student)}
	response.Certificates = certificates
	response.Eligibility = s.snapshot(ctx, student.StudentID)
	return response, nil
}

// snapshot reads getStudentEligibility per type. Once the ledger is unreachable
// the remaining types are reported unavailable without further calls.
func (s *studentService) snapshot(ctx context.Context, studentID string) []dto.ChainEligibility {
	types := lifecycle.CertificateTypes()
	out := make([]dto.ChainEligibility, 0, len(types))
	unavailable := false

	for _, certType := range types {
		entry := dto.ChainEligibility{CertificateType: certType.String(), Source: dto.SourceUnavailable}
		if !unavailable {
			view, err := s.contract.StudentEligibility(ctx, studentID, certType.String())
			switch {
			case err == nil:
				entry.Allowed = view.Allowed
				entry.Minted = view.Minted
				entry.CourseName = view.CourseName
				entry.Grade = view.Grade
				entry.IPFSHash = view.IPFSHash
				entry.Source = dto.SourceChain
			case errors.Is(err, chain.ErrUnavailable):
				unavailable = true
				s.logger.Warn().Err(err).Str("student_id", studentID).Msg("ledger unavailable for eligibility snapshot")
			default:
				s.logger.Warn().Err(err).Str("student_id", studentID).Str("certificate_type", certType.String()).Msg("eligibility snapshot failed")
			}
		}
		out = append(out, entry)
	}
	return out
}

// Approve creates the certificate (or reuses an open one) and allows it on-chain.
func (s *studentService) Approve(ctx context.Context, actor Actor, studentID string, payload dto.ApproveStudentRequest) (dto.CertificateResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.CertificateResponse{}, err
	}
	studentID = strings.TrimSpace(studentID)

	created, err := s.issuer.Create(ctx, actor, dto.CertificateCreateRequest{
		StudentID:       studentID,
		CertificateType: payload.CertificateType,
		CourseName:      payload.CourseName,
		Grade:           payload.Grade,
		IPFSHash:        payload.IPFSHash,
	})
	if errors.Is(err, ErrCertificateExists) {
		certType, parseErr := parseType(payload.CertificateType)
		if parseErr != nil {
			return dto.CertificateResponse{}, parseErr
		}
		existing, lookupErr := s.certificates.GetByPair(ctx, studentID, certType.String())
		if lookupErr != nil {
			return dto.CertificateResponse{}, lookupErr
		}
		if existing.Status == string(lifecycle.StatusMinted) {
			return dto.CertificateResponse{}, ErrCertificateExists
		}
		created = dto.NewCertificateResponse(existing)
	} else if err != nil {
		return dto.CertificateResponse{}, err
	}

	return s.issuer.Approve(ctx, actor, created.ID)
}

// Revoke withdraws every on-chain allowance of the student and rejects the
// certificates that were not minted. Minted certificates are untouched.
func (s *studentService) Revoke(ctx context.Context, actor Actor, studentID string) (dto.StudentResponse, error) {
	student, err := s.load(ctx, actor, studentID)
	if err != nil {
		return dto.StudentResponse{}, err
	}

	ctx, span := s.tracer.Start(ctx, "student.revoke", trace.WithAttributes(attribute.String("certificate.student_id", student.StudentID)))
	defer span.End()

	receipt, err := s.contract.Revoke(ctx, student.StudentID)
	if err != nil {
		span.RecordError(err)
		return dto.StudentResponse{}, err
	}

	if err := s.students.UpdateEligibility(ctx, student.StudentID, models.EligibilityRejected); err != nil {
		return dto.StudentResponse{}, &BackendSyncError{StudentID: student.StudentID, Err: err}
	}

	now := s.now()
	for _, certificate := range student.Certificates {
		stage, err := certificate.Stage()
		if err != nil {
			continue
		}
		switch stage.(type) {
		case lifecycle.Pending, lifecycle.Approved:
		default:
			continue
		}

		rejected, err := lifecycle.Reject(stage, now)
		if err != nil {
			continue
		}
		activity := newActivity(ActivityEntry{
			Actor:       actor,
			Action:      models.ActionRejected,
			TxHash:      receipt.TxHash,
			BlockNumber: receipt.BlockNumber,
		})
		row := certificate
		if err := s.certificates.ApplyStage(ctx, &row, rejected, activity); err != nil {
			s.logger.Error().Err(err).Uint("certificate_id", certificate.ID).Msg("failed to reject certificate after revoke")
			continue
		}
		if s.events != nil {
			s.events.Publish(ctx, dto.NewStatusEvent(dto.NewCertificateResponse(row)))
		}
	}

	s.logger.Info().Str("student_id", student.StudentID).Str("tx_hash", receipt.TxHash).Msg("student eligibility revoked")

	refreshed, err := s.students.GetByStudentID(ctx, student.StudentID)
	if err != nil {
		return dto.StudentResponse{}, err
	}
	return dto.NewStudentResponse(refreshed), nil
}

// UpdateWallet stores the EIP-55 form of the address. Mixed-case input must
// already carry a valid checksum.
func (s *studentService) UpdateWallet(ctx context.Context, actor Actor, studentID string, payload dto.WalletUpdateRequest) (dto.StudentResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.StudentResponse{}, err
	}

	address, err := checksumAddress(payload.WalletAddress)
	if err != nil {
		return dto.StudentResponse{}, err
	}

	student, err := s.load(ctx, actor, studentID)
	if err != nil {
		return dto.StudentResponse{}, err
	}

	if err := s.students.UpdateWallet(ctx, student.StudentID, address); err != nil {
		return dto.StudentResponse{}, notFound(err, ErrStudentNotFound)
	}
	student.WalletAddress = address

	s.logger.Info().Str("student_id", student.StudentID).Str("wallet", address).Msg("wallet address updated")
	return dto.NewStudentResponse(student), nil
}

func (s *studentService) Sync(ctx context.Context, actor Actor, studentID string) ([]dto.CertificateResponse, error) {
	student, err := s.load(ctx, actor, studentID)
	if err != nil {
		return nil, err
	}
	return s.reconciler.Reconcile(ctx, student)
}

func (s *studentService) load(ctx context.Context, actor Actor, studentID string) (models.Student, error) {
	studentID = strings.TrimSpace(studentID)
	if studentID == "" {
		return models.Student{}, invalidInput("student id is required")
	}
	if !actor.CanActFor(studentID) {
		return models.Student{}, ErrForbidden
	}

	student, err := s.students.GetByStudentID(ctx, studentID)
	if err != nil {
		return models.Student{}, notFound(err, ErrStudentNotFound)
	}
	return student, nil
}

func checksumAddress(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		return "", invalidInput("wallet address %q is not a valid hex address", raw)
	}

	checksummed := common.HexToAddress(raw).Hex()
	body := strings.TrimPrefix(strings.TrimPrefix(raw, "0x"), "0X")
	mixed := strings.ToLower(body) != body && strings.ToUpper(body) != body
	if mixed && "0x"+body != checksummed {
		return "", invalidInput("wallet address %q has an invalid EIP-55 checksum", raw)
	}
	return checksummed, nil
}
