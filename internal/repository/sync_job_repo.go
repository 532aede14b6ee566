package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/noah-isme/educert-api/internal/models"
)

// SyncJobRepository persists the backend sync outbox.
type SyncJobRepository interface {
	// Enqueue records a pending job for the pair. An existing pending job is
	// reused and picks up any receipt data the new one carries.
	Enqueue(ctx context.Context, job models.SyncJob) (models.SyncJob, error)
	Due(ctx context.Context, now time.Time, limit int) ([]models.SyncJob, error)
	MarkDone(ctx context.Context, id uint) error
	Reschedule(ctx context.Context, id uint, attempts int, next time.Time, lastErr string) error
	MarkFailed(ctx context.Context, id uint, attempts int, lastErr string) error
}

type syncJobRepository struct {
	db *gorm.DB
}

// NewSyncJobRepository constructs the outbox repository.
func NewSyncJobRepository(db *gorm.DB) SyncJobRepository {
	return &syncJobRepository{db: db}
}

func (r *syncJobRepository) Enqueue(ctx context.Context, job models.SyncJob) (models.SyncJob, error) {
	var stored models.SyncJob
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("student_id = ? AND certificate_type = ? AND state = ?", job.StudentID, job.CertificateType, models.SyncJobPending).
			First(&stored).Error
		if err == nil {
			if job.TxHash == "" || job.TxHash == stored.TxHash {
				return nil
			}
			stored.TxHash = job.TxHash
			stored.BlockNumber = job.BlockNumber
			stored.TokenID = job.TokenID
			return tx.Model(&stored).Updates(map[string]interface{}{
				"tx_hash":      job.TxHash,
				"block_number": job.BlockNumber,
				"token_id":     job.TokenID,
			}).Error
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		stored = job
		stored.ID = 0
		stored.State = models.SyncJobPending
		stored.Attempts = 0
		if stored.NextAttemptAt.IsZero() {
			stored.NextAttemptAt = time.Now().UTC()
		}
		return tx.Create(&stored).Error
	})
	return stored, err
}

func (r *syncJobRepository) Due(ctx context.Context, now time.Time, limit int) ([]models.SyncJob, error) {
	if limit <= 0 {
		limit = 50
	}

	var jobs []models.SyncJob
	err := r.db.WithContext(ctx).
		Where("state = ? AND next_attempt_at <= ?", models.SyncJobPending, now.UTC()).
		Order("next_attempt_at ASC").
		Limit(limit).
		Find(&jobs).Error
	return jobs, err
}

func (r *syncJobRepository) MarkDone(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).
		Model(&models.SyncJob{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"state": models.SyncJobDone, "last_error": ""}).Error
}

func (r *syncJobRepository) Reschedule(ctx context.Context, id uint, attempts int, next time.Time, lastErr string) error {
	return r.db.WithContext(ctx).
		Model(&models.SyncJob{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"attempts":        attempts,
			"next_attempt_at": next.UTC(),
			"last_error":      lastErr,
		}).Error
}

func (r *syncJobRepository) MarkFailed(ctx context.Context, id uint, attempts int, lastErr string) error {
	return r.db.WithContext(ctx).
		Model(&models.SyncJob{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"state":      models.SyncJobFailed,
			"attempts":   attempts,
			"last_error": lastErr,
		}).Error
}
