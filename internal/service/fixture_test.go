package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/educert-api/internal/chain"
	"github.com/noah-isme/educert-api/internal/dto"
	"github.com/noah-isme/educert-api/internal/lease"
	"github.com/noah-isme/educert-api/internal/lifecycle"
	"github.com/noah-isme/educert-api/internal/models"
	"github.com/noah-isme/educert-api/internal/repository"
)

var adminActor = Actor{ID: "admin-1", Role: "admin"}

type recordingPublisher struct {
	mu     sync.Mutex
	events []dto.StatusEvent
}

func (p *recordingPublisher) Publish(_ context.Context, event dto.StatusEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) all() []dto.StatusEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]dto.StatusEvent, len(p.events))
	copy(out, p.events)
	return out
}

// countingCertificates counts ApplyStage writes and can be told to fail them.
type countingCertificates struct {
	repository.CertificateRepository
	mu      sync.Mutex
	applied int
	created int
	fail    error
}

func (c *countingCertificates) ApplyStage(ctx context.Context, certificate *models.Certificate, stage lifecycle.Stage, activity models.CertificateActivity) error {
	c.mu.Lock()
	fail := c.fail
	c.mu.Unlock()
	if fail != nil {
		return fail
	}
	if err := c.CertificateRepository.ApplyStage(ctx, certificate, stage, activity); err != nil {
		return err
	}
	c.mu.Lock()
	c.applied++
	c.mu.Unlock()
	return nil
}

func (c *countingCertificates) Create(ctx context.Context, certificate *models.Certificate, activity models.CertificateActivity) error {
	c.mu.Lock()
	fail := c.fail
	c.mu.Unlock()
	if fail != nil {
		return fail
	}
	if err := c.CertificateRepository.Create(ctx, certificate, activity); err != nil {
		return err
	}
	c.mu.Lock()
	c.created++
	c.mu.Unlock()
	return nil
}

func (c *countingCertificates) writes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.applied + c.created
}

func (c *countingCertificates) failWith(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fail = err
}

type harness struct {
	db           *gorm.DB
	students     repository.StudentRepository
	certificates *countingCertificates
	jobs         repository.SyncJobRepository
	ledger       *chain.Memory
	contract     chain.Contract
	events       *recordingPublisher
	worker       *SyncWorker
	reconciler   ReconcileService
	gate         EligibilityService
	issuer       CertificateService
	studentSvc   StudentService
	mint         MintService
	locker       *lease.MemoryLocker
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(models.All()...))
	return db
}

func newHarness(t *testing.T) *harness {
	return newHarnessWithContract(t, nil)
}

// newHarnessWithContract wires the services against contract, or against a
// fresh in-memory ledger when contract is nil.
func newHarnessWithContract(t *testing.T, contract chain.Contract) *harness {
	t.Helper()

	db := newTestDB(t)
	h := &harness{
		db:           db,
		students:     repository.NewStudentRepository(db),
		certificates: &countingCertificates{CertificateRepository: repository.NewCertificateRepository(db)},
		jobs:         repository.NewSyncJobRepository(db),
		ledger:       chain.NewMemory(),
		events:       &recordingPublisher{},
		locker:       lease.NewMemoryLocker(),
	}
	h.contract = h.ledger
	if contract != nil {
		h.contract = contract
	}

	logger := zerolog.Nop()
	validate := validator.New(validator.WithRequiredStructEnabled())

	h.worker = NewSyncWorker(h.jobs, SyncWorkerConfig{Interval: time.Second, MaxAttempts: 3, MaxBackoff: time.Minute}, logger)
	h.reconciler = NewReconcileService(h.students, h.certificates, h.contract, h.events, h.worker, logger)
	h.gate = NewEligibilityService(h.certificates, h.contract, logger)

	issuer, err := NewCertificateService(CertificateDependencies{
		Students:     h.students,
		Certificates: h.certificates,
		Contract:     h.contract,
		Reconciler:   h.reconciler,
		Events:       h.events,
	}, validate, "https://educert.example.edu", logger)
	require.NoError(t, err)
	h.issuer = issuer

	h.studentSvc = NewStudentService(StudentDependencies{
		Students:     h.students,
		Certificates: h.certificates,
		Contract:     h.contract,
		Reconciler:   h.reconciler,
		Issuer:       h.issuer,
		Events:       h.events,
	}, validate, logger)

	h.mint = NewMintService(MintDependencies{
		Students:     h.students,
		Certificates: h.certificates,
		Contract:     h.contract,
		Gate:         h.gate,
		Reconciler:   h.reconciler,
		Queue:        h.worker,
		Events:       h.events,
		Locker:       h.locker,
	}, MintConfig{LeaseTTL: time.Minute, Timeout: 10 * time.Second}, logger)

	return h
}

func (h *harness) register(t *testing.T, studentID string) models.Student {
	t.Helper()
	_, err := h.studentSvc.Register(context.Background(), dto.StudentRegisterRequest{
		StudentID:     studentID,
		Name:          "Student " + studentID,
		Email:         studentID + "@example.edu",
		Department:    "Computer Science",
		YearOfPassing: 2025,
	})
	require.NoError(t, err)

	student, err := h.students.GetByStudentID(context.Background(), studentID)
	require.NoError(t, err)
	return student
}

func (h *harness) approve(t *testing.T, studentID string, certType lifecycle.CertificateType) dto.CertificateResponse {
	t.Helper()
	certificate, err := h.studentSvc.Approve(context.Background(), adminActor, studentID, dto.ApproveStudentRequest{
		CertificateType: certType.String(),
		CourseName:      "B.Tech Computer Science",
		Grade:           "A",
	})
	require.NoError(t, err)
	require.Equal(t, string(lifecycle.StatusApproved), certificate.Status)
	return certificate
}

func (h *harness) storeCertificate(t *testing.T, student models.Student, stage lifecycle.Stage) models.Certificate {
	t.Helper()
	certificate := models.Certificate{StudentRef: student.ID, StudentID: student.StudentID}
	certificate.Apply(stage)
	require.NoError(t, h.certificates.CertificateRepository.Create(context.Background(), &certificate, models.CertificateActivity{Action: models.ActionCreated}))
	return certificate
}
