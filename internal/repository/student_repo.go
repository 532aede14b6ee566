package repository

import (
	"context"
	"strings"

	"gorm.io/gorm"

	"github.com/noah-isme/educert-api/internal/models"
)

// StudentFilter narrows student listings.
type StudentFilter struct {
	Page          int
	PageSize      int
	Search        string
	Department    string
	Status        string
	YearOfPassing int
}

// StudentRepository provides access to student records.
type StudentRepository interface {
	Create(ctx context.Context, student *models.Student) error
	GetByStudentID(ctx context.Context, studentID string) (models.Student, error)
	Exists(ctx context.Context, studentID, email string) (bool, error)
	List(ctx context.Context, filter StudentFilter) ([]models.Student, int64, error)
	UpdateWallet(ctx context.Context, studentID, walletAddress string) error
	UpdateEligibility(ctx context.Context, studentID, status string) error
}

type studentRepository struct {
	db *gorm.DB
}

// NewStudentRepository constructs a student repository.
func NewStudentRepository(db *gorm.DB) StudentRepository {
	return &studentRepository{db: db}
}

func (r *studentRepository) Create(ctx context.Context, student *models.Student) error {
	return r.db.WithContext(ctx).Omit("Certificates").Create(student).Error
}

func (r *studentRepository) GetByStudentID(ctx context.Context, studentID string) (models.Student, error) {
	var student models.Student
	err := r.db.WithContext(ctx).
		Preload("Certificates", func(db *gorm.DB) *gorm.DB {
			return db.Order("id ASC")
		}).
		Where("student_id = ?", studentID).
		First(&student).Error
	if err != nil {
		return models.Student{}, err
	}

	return student, nil
}

func (r *studentRepository) Exists(ctx context.Context, studentID, email string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Student{}).
		Where("student_id = ? OR LOWER(email) = ?", studentID, strings.ToLower(email)).
		Count(&count).Error
	return count > 0, err
}

func (r *studentRepository) List(ctx context.Context, filter StudentFilter) ([]models.Student, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.Student{})

	if search := strings.TrimSpace(filter.Search); search != "" {
		like := "%" + strings.ToLower(search) + "%"
		query = query.Where("LOWER(name) LIKE ? OR LOWER(email) LIKE ? OR LOWER(student_id) LIKE ?", like, like, like)
	}
	if filter.Department != "" {
		query = query.Where("department = ?", filter.Department)
	}
	if filter.Status != "" {
		query = query.Where("eligibility_status = ?", filter.Status)
	}
	if filter.YearOfPassing > 0 {
		query = query.Where("year_of_passing = ?", filter.YearOfPassing)
	}

	var total int64
	if err := query.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if filter.PageSize > 0 {
		page := filter.Page
		if page <= 0 {
			page = 1
		}
		query = query.Offset((page - 1) * filter.PageSize).Limit(filter.PageSize)
	}

	var students []models.Student
	err := query.
		Preload("Certificates", func(db *gorm.DB) *gorm.DB {
			return db.Order("id ASC")
		}).
		Order("created_at DESC").
		Order("id DESC").
		Find(&students).Error
	if err != nil {
		return nil, 0, err
	}

	return students, total, nil
}

func (r *studentRepository) UpdateWallet(ctx context.Context, studentID, walletAddress string) error {
	return r.update(ctx, studentID, "wallet_address", walletAddress)
}

func (r *studentRepository) UpdateEligibility(ctx context.Context, studentID, status string) error {
	return r.update(ctx, studentID, "eligibility_status", status)
}

func (r *studentRepository) update(ctx context.Context, studentID, column string, value interface{}) error {
	result := r.db.WithContext(ctx).
		Model(&models.Student{}).
		Where("student_id = ?", studentID).
		Update(column, value)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
