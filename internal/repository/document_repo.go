package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/educert-api/internal/models"
)

// DocumentRepository persists metadata about uploaded certificate documents.
type DocumentRepository interface {
	Create(ctx context.Context, document *models.CertificateDocument) error
	GetByCID(ctx context.Context, cid string) (models.CertificateDocument, error)
}

type documentRepository struct {
	db *gorm.DB
}

// NewDocumentRepository constructs a repository for certificate documents.
func NewDocumentRepository(db *gorm.DB) DocumentRepository {
	return &documentRepository{db: db}
}

func (r *documentRepository) Create(ctx context.Context, document *models.CertificateDocument) error {
	return r.db.WithContext(ctx).Create(document).Error
}

func (r *documentRepository) GetByCID(ctx context.Context, cid string) (models.CertificateDocument, error) {
	var document models.CertificateDocument
	if err := r.db.WithContext(ctx).Where("cid = ?", cid).First(&document).Error; err != nil {
		return models.CertificateDocument{}, err
	}
	return document, nil
}
