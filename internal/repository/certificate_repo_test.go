package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/educert-api/internal/lifecycle"
	"github.com/noah-isme/educert-api/internal/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models.All()...))
	return db
}

func seedStudent(t *testing.T, db *gorm.DB, studentID string) models.Student {
	t.Helper()
	student := models.Student{
		StudentID:     studentID,
		Name:          "Student " + studentID,
		Email:         studentID + "@example.edu",
		Department:    "CSE",
		YearOfPassing: 2025,
	}
	require.NoError(t, NewStudentRepository(db).Create(context.Background(), &student))
	return student
}

func TestCertificateRepositoryApplyStage(t *testing.T) {
	db := newTestDB(t)
	repo := NewCertificateRepository(db)
	ctx := context.Background()
	student := seedStudent(t, db, "21CS002")

	certificate := models.Certificate{StudentRef: student.ID, StudentID: student.StudentID}
	certificate.Apply(lifecycle.Pending{Details: lifecycle.Details{Type: lifecycle.TypeDegree, CourseName: "CSE", Grade: "A"}})
	require.NoError(t, repo.Create(ctx, &certificate, models.CertificateActivity{Action: models.ActionCreated, ActorID: "admin"}))

	approvedAt := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	approved := lifecycle.Approved{Details: lifecycle.Details{Type: lifecycle.TypeDegree, CourseName: "CSE", Grade: "A"}, ApprovedAt: approvedAt, ApprovalTxHash: "0xallow"}
	require.NoError(t, repo.ApplyStage(ctx, &certificate, approved, models.CertificateActivity{
		Action:   models.ActionApproved,
		TxHash:   "0xallow",
		Metadata: datatypes.JSONMap{"course": "CSE"},
	}))
	require.Equal(t, "approved", certificate.Status)

	stored, err := repo.GetByPair(ctx, "21CS002", "Degree")
	require.NoError(t, err)
	stage, err := stored.Stage()
	require.NoError(t, err)
	require.Equal(t, lifecycle.StatusApproved, stage.Status())
	require.True(t, stage.(lifecycle.Approved).ApprovedAt.Equal(approvedAt))

	byTx, err := repo.GetByTxHash(ctx, "0xALLOW")
	require.NoError(t, err)
	require.Equal(t, certificate.ID, byTx.ID)

	activities, err := repo.ListActivities(ctx, certificate.ID)
	require.NoError(t, err)
	require.Len(t, activities, 2)
	require.Equal(t, models.ActionCreated, activities[0].Action)
	require.Equal(t, "CSE", activities[1].Metadata["course"])
}

func TestCertificateRepositoryRejectsStaleWrites(t *testing.T) {
	db := newTestDB(t)
	repo := NewCertificateRepository(db)
	ctx := context.Background()
	student := seedStudent(t, db, "21CS003")

	certificate := models.Certificate{StudentRef: student.ID, StudentID: student.StudentID}
	certificate.Apply(lifecycle.Pending{Details: lifecycle.Details{Type: lifecycle.TypeMerit}})
	require.NoError(t, repo.Create(ctx, &certificate, models.CertificateActivity{Action: models.ActionCreated}))

	stale := certificate
	require.NoError(t, repo.ApplyStage(ctx, &certificate, lifecycle.Rejected{Details: lifecycle.Details{Type: lifecycle.TypeMerit}, RejectedAt: time.Now()}, models.CertificateActivity{Action: models.ActionRejected}))

	err := repo.ApplyStage(ctx, &stale, lifecycle.Approved{Details: lifecycle.Details{Type: lifecycle.TypeMerit}, ApprovedAt: time.Now()}, models.CertificateActivity{Action: models.ActionApproved})
	require.ErrorIs(t, err, ErrStaleCertificate)

	activities, err := repo.ListActivities(ctx, certificate.ID)
	require.NoError(t, err)
	require.Len(t, activities, 2, "failed write must not append activity")
}

func TestCertificateRepositoryOnePerPair(t *testing.T) {
	db := newTestDB(t)
	repo := NewCertificateRepository(db)
	ctx := context.Background()
	student := seedStudent(t, db, "21CS004")

	first := models.Certificate{StudentRef: student.ID, StudentID: student.StudentID}
	first.Apply(lifecycle.Pending{Details: lifecycle.Details{Type: lifecycle.TypeDegree}})
	require.NoError(t, repo.Create(ctx, &first, models.CertificateActivity{Action: models.ActionCreated}))

	second := models.Certificate{StudentRef: student.ID, StudentID: student.StudentID}
	second.Apply(lifecycle.Pending{Details: lifecycle.Details{Type: lifecycle.TypeDegree}})
	require.Error(t, repo.Create(ctx, &second, models.CertificateActivity{Action: models.ActionCreated}))
}

func TestStudentRepositoryListFilters(t *testing.T) {
	db := newTestDB(t)
	repo := NewStudentRepository(db)
	ctx := context.Background()

	seedStudent(t, db, "21CS010")
	seedStudent(t, db, "21EE011")
	require.NoError(t, repo.UpdateEligibility(ctx, "21EE011", models.EligibilityApproved))

	students, total, err := repo.List(ctx, StudentFilter{Search: "ee0", PageSize: 10})
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	require.Equal(t, "21EE011", students[0].StudentID)

	_, total, err = repo.List(ctx, StudentFilter{Status: models.EligibilityPending})
	require.NoError(t, err)
	require.Equal(t, int64(1), total)

	exists, err := repo.Exists(ctx, "nope", "21CS010@EXAMPLE.EDU")
	require.NoError(t, err)
	require.True(t, exists)

	require.ErrorIs(t, repo.UpdateWallet(ctx, "missing", "0xabc"), gorm.ErrRecordNotFound)
}

func TestSyncJobRepositoryLifecycle(t *testing.T) {
	db := newTestDB(t)
	repo := NewSyncJobRepository(db)
	ctx := context.Background()

	job, err := repo.Enqueue(ctx, models.SyncJob{StudentID: "21CS002", CertificateType: "Degree", Reason: "reconcile patch failed"})
	require.NoError(t, err)
	again, err := repo.Enqueue(ctx, models.SyncJob{StudentID: "21CS002", CertificateType: "Degree", Reason: "mint patch failed", TxHash: "0xmint", BlockNumber: 7})
	require.NoError(t, err)
	require.Equal(t, job.ID, again.ID, "one pending job per pair")
	require.Equal(t, "0xmint", again.TxHash, "receipt data is kept on the pending job")

	due, err := repo.Due(ctx, time.Now().Add(time.Second), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)

	require.NoError(t, repo.Reschedule(ctx, job.ID, 1, time.Now().Add(time.Hour), "boom"))
	due, err = repo.Due(ctx, time.Now().Add(time.Second), 10)
	require.NoError(t, err)
	require.Empty(t, due)

	require.NoError(t, repo.MarkDone(ctx, job.ID))
	fresh, err := repo.Enqueue(ctx, models.SyncJob{StudentID: "21CS002", CertificateType: "Degree", Reason: "later failure"})
	require.NoError(t, err)
	require.NotEqual(t, job.ID, fresh.ID)
}
