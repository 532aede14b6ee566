package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/noah-isme/educert-api/internal/lifecycle"
	"github.com/noah-isme/educert-api/internal/models"
)

// ErrStaleCertificate indicates the certificate changed since it was read.
var ErrStaleCertificate = errors.New("certificate was modified concurrently")

// CertificateRepository persists certificates and their activity trail.
type CertificateRepository interface {
	Create(ctx context.Context, certificate *models.Certificate, activity models.CertificateActivity) error
	GetByID(ctx context.Context, id uint) (models.Certificate, error)
	GetByPair(ctx context.Context, studentID, certificateType string) (models.Certificate, error)
	GetByTxHash(ctx context.Context, txHash string) (models.Certificate, error)
	ListByStudent(ctx context.Context, studentRef uint) ([]models.Certificate, error)
	// ApplyStage writes stage onto certificate and appends activity in one
	// transaction. It fails with ErrStaleCertificate when the stored status no
	// longer matches certificate.Status.
	ApplyStage(ctx context.Context, certificate *models.Certificate, stage lifecycle.Stage, activity models.CertificateActivity) error
	ListActivities(ctx context.Context, certificateID uint) ([]models.CertificateActivity, error)
}

type certificateRepository struct {
	db *gorm.DB
}

// NewCertificateRepository constructs a certificate repository.
func NewCertificateRepository(db *gorm.DB) CertificateRepository {
	return &certificateRepository{db: db}
}

func (r *certificateRepository) Create(ctx context.Context, certificate *models.Certificate, activity models.CertificateActivity) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Activities").Create(certificate).Error; err != nil {
			return err
		}
		activity.CertificateID = certificate.ID
		return tx.Create(&activity).Error
	})
}

func (r *certificateRepository) GetByID(ctx context.Context, id uint) (models.Certificate, error) {
	var certificate models.Certificate
	if err := r.db.WithContext(ctx).First(&certificate, id).Error; err != nil {
		return models.Certificate{}, err
	}
	return certificate, nil
}

func (r *certificateRepository) GetByPair(ctx context.Context, studentID, certificateType string) (models.Certificate, error) {
	var certificate models.Certificate
	err := r.db.WithContext(ctx).
		Where("student_id = ? AND certificate_type = ?", studentID, certificateType).
		First(&certificate).Error
	if err != nil {
		return models.Certificate{}, err
	}
	return certificate, nil
}

func (r *certificateRepository) GetByTxHash(ctx context.Context, txHash string) (models.Certificate, error) {
	var certificate models.Certificate
	err := r.db.WithContext(ctx).
		Where("LOWER(transaction_hash) = LOWER(?) OR LOWER(approval_tx_hash) = LOWER(?)", txHash, txHash).
		First(&certificate).Error
	if err != nil {
		return models.Certificate{}, err
	}
	return certificate, nil
}

func (r *certificateRepository) ListByStudent(ctx context.Context, studentRef uint) ([]models.Certificate, error) {
	var certificates []models.Certificate
	err := r.db.WithContext(ctx).
		Where("student_ref = ?", studentRef).
		Order("id ASC").
		Find(&certificates).Error
	return certificates, err
}

func (r *certificateRepository) ApplyStage(ctx context.Context, certificate *models.Certificate, stage lifecycle.Stage, activity models.CertificateActivity) error {
	updated := *certificate
	updated.Apply(stage)
	updated.UpdatedAt = time.Now().UTC()

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Certificate{}).
			Where("id = ? AND status = ?", certificate.ID, certificate.Status).
			Updates(stageColumns(updated))
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrStaleCertificate
		}

		activity.CertificateID = certificate.ID
		return tx.Create(&activity).Error
	})
	if err != nil {
		return err
	}

	*certificate = updated
	return nil
}

func (r *certificateRepository) ListActivities(ctx context.Context, certificateID uint) ([]models.CertificateActivity, error) {
	var activities []models.CertificateActivity
	err := r.db.WithContext(ctx).
		Where("certificate_id = ?", certificateID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&activities).Error
	return activities, err
}

func stageColumns(c models.Certificate) map[string]interface{} {
	return map[string]interface{}{
		"course_name":          c.CourseName,
		"grade":                c.Grade,
		"ipfs_hash":            c.IPFSHash,
		"status":               c.Status,
		"approval_tx_hash":     c.ApprovalTxHash,
		"transaction_hash":     c.TransactionHash,
		"token_id":             c.TokenID,
		"block_number":         c.BlockNumber,
		"approved_at":          c.ApprovedAt,
		"minted_at":            c.MintedAt,
		"rejected_at":          c.RejectedAt,
		"blockchain_confirmed": c.BlockchainConfirmed,
		"updated_at":           c.UpdatedAt,
	}
}
