package service

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
	"gorm.io/datatypes"

	"github.com/noah-isme/educert-api/internal/dto"
	"github.com/noah-isme/educert-api/internal/models"
	"github.com/noah-isme/educert-api/internal/repository"
)

// ActivityEntry captures the details of one certificate activity.
type ActivityEntry struct {
	Actor       Actor
	Action      string
	TxHash      string
	BlockNumber uint64
	Metadata    map[string]interface{}
}

// ActivityService exposes the append-only certificate activity log.
type ActivityService interface {
	List(ctx context.Context, certificateID uint) ([]dto.ActivityResponse, error)
}

type activityService struct {
	certificates repository.CertificateRepository
	logger       zerolog.Logger
}

// NewActivityService constructs the activity log service.
func NewActivityService(certificates repository.CertificateRepository, logger zerolog.Logger) ActivityService {
	return &activityService{
		certificates: certificates,
		logger:       logger.With().Str("component", "activity_service").Logger(),
	}
}

func (s *activityService) List(ctx context.Context, certificateID uint) ([]dto.ActivityResponse, error) {
	if _, err := s.certificates.GetByID(ctx, certificateID); err != nil {
		return nil, notFound(err, ErrCertificateNotFound)
	}

	entries, err := s.certificates.ListActivities(ctx, certificateID)
	if err != nil {
		s.logger.Error().Err(err).Uint("certificate_id", certificateID).Msg("failed to load certificate activity")
		return nil, err
	}

	responses := make([]dto.ActivityResponse, 0, len(entries))
	for _, entry := range entries {
		responses = append(responses, dto.NewActivityResponse(entry))
	}
	return responses, nil
}

func newActivity(entry ActivityEntry) models.CertificateActivity {
	return models.CertificateActivity{
		Action:      strings.ToLower(strings.TrimSpace(entry.Action)),
		TxHash:      entry.TxHash,
		BlockNumber: entry.BlockNumber,
		ActorID:     strings.TrimSpace(entry.Actor.ID),
		ActorRole:   normalizeRole(entry.Actor.Role),
		Metadata:    sanitizeMetadata(entry.Metadata),
	}
}

func sanitizeMetadata(metadata map[string]interface{}) datatypes.JSONMap {
	if metadata == nil {
		return datatypes.JSONMap{}
	}

	sanitized := datatypes.JSONMap{}
	for key, value := range metadata {
		lower := strings.ToLower(key)
		if strings.Contains(lower, "email") || strings.Contains(lower, "key") || strings.Contains(lower, "signed") {
			sanitized[key] = "***"
			continue
		}
		sanitized[key] = value
	}
	return sanitized
}

func normalizeRole(role string) string {
	r := strings.ToLower(strings.TrimSpace(role))
	if r == "" {
		return "system"
	}
	return r
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
