package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/noah-isme/educert-api/internal/dto"
	"github.com/noah-isme/educert-api/internal/models"
	"github.com/noah-isme/educert-api/internal/observability"
	"github.com/noah-isme/educert-api/internal/repository"
)

var (
	// ErrUploadTooLarge indicates the payload exceeded the configured limit.
	ErrUploadTooLarge = errors.New("file exceeds maximum allowed size")
	// ErrUploadTypeNotAllowed indicates the MIME type is not permitted.
	ErrUploadTypeNotAllowed = errors.New("file type not allowed, expected PDF, PNG or JPEG")
)

var allowedDocumentTypes = map[string]struct{}{
	"application/pdf": {},
	"image/png":       {},
	"image/jpeg":      {},
}

// FileStorage abstracts upload destinations.
type FileStorage interface {
	Upload(ctx context.Context, name string, reader io.Reader) (string, error)
}

// DocumentService stores certificate documents under their content identifier.
type DocumentService interface {
	Upload(ctx context.Context, file *multipart.FileHeader, actor Actor) (dto.DocumentResponse, error)
}

type documentService struct {
	storage FileStorage
	repo    repository.DocumentRepository
	logger  zerolog.Logger
	maxSize int64
	tracer  trace.Tracer
}

// NewDocumentService constructs a document service.
func NewDocumentService(storage FileStorage, repo repository.DocumentRepository, maxSizeMB int, logger zerolog.Logger) DocumentService {
	if maxSizeMB <= 0 {
		maxSizeMB = 10
	}
	return &documentService{
		storage: storage,
		repo:    repo,
		logger:  logger.With().Str("component", "document_service").Logger(),
		maxSize: int64(maxSizeMB) * 1024 * 1024,
		tracer:  otel.Tracer("github.com/noah-isme/educert-api/internal/service/document"),
	}
}

func (s *documentService) Upload(ctx context.Context, file *multipart.FileHeader, actor Actor) (dto.DocumentResponse, error) {
	ctx, span := s.tracer.Start(ctx, "document.upload", trace.WithAttributes(attribute.Int64("upload.max_bytes", s.maxSize)))
	defer span.End()

	fail := func(outcome string, err error) (dto.DocumentResponse, error) {
		observability.DocumentUploads().WithLabelValues(outcome).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		return dto.DocumentResponse{}, err
	}

	if file == nil {
		return fail("invalid", invalidInput("file is required"))
	}
	span.SetAttributes(attribute.String("upload.original_name", strings.TrimSpace(file.Filename)))

	if file.Size > s.maxSize {
		return fail("too_large", ErrUploadTooLarge)
	}

	handle, err := file.Open()
	if err != nil {
		return fail("error", err)
	}
	defer handle.Close()

	buf := bytes.NewBuffer(nil)
	if _, err := io.Copy(buf, io.LimitReader(handle, s.maxSize+1)); err != nil {
		return fail("error", err)
	}
	if int64(buf.Len()) > s.maxSize {
		return fail("too_large", ErrUploadTooLarge)
	}

	detected := mimetype.Detect(buf.Bytes())
	mimeType := strings.ToLower(detected.String())
	if idx := strings.Index(mimeType, ";"); idx >= 0 {
		mimeType = strings.TrimSpace(mimeType[:idx])
	}
	span.SetAttributes(attribute.String("upload.detected_mime", mimeType))
	if _, ok := allowedDocumentTypes[mimeType]; !ok {
		return fail("type", ErrUploadTypeNotAllowed)
	}

	contentID, err := ContentID(buf.Bytes())
	if err != nil {
		return fail("error", err)
	}
	span.SetAttributes(attribute.String("upload.cid", contentID))

	if existing, err := s.repo.GetByCID(ctx, contentID); err == nil {
		observability.DocumentUploads().WithLabelValues("duplicate").Inc()
		return newDocumentResponse(existing), nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fail("error", err)
	}

	name := documentFileName(file.Filename, detected.Extension())
	url, err := s.storage.Upload(ctx, contentID+"-"+name, bytes.NewReader(buf.Bytes()))
	if err != nil {
		return fail("storage", err)
	}

	record := models.CertificateDocument{
		CID:        contentID,
		FileName:   name,
		URL:        url,
		MimeType:   mimeType,
		SizeBytes:  int64(buf.Len()),
		UploadedBy: actor.ID,
	}
	if err := s.repo.Create(ctx, &record); err != nil {
		return fail("error", err)
	}

	observability.DocumentUploads().WithLabelValues("stored").Inc()
	span.SetStatus(codes.Ok, "stored")
	s.logger.Info().Str("cid", contentID).Str("mime", mimeType).Int64("size", record.SizeBytes).Msg("certificate document stored")

	return newDocumentResponse(record), nil
}

// ContentID returns the CIDv1 (raw codec, sha2-256) of payload.
func ContentID(payload []byte) (string, error) {
	sum, err := multihash.Sum(payload, multihash.SHA2_256, -1)
	if err != nil {
		return "", fmt.Errorf("hash document: %w", err)
	}
	return cid.NewCidV1(cid.Raw, sum).String(), nil
}

func newDocumentResponse(record models.CertificateDocument) dto.DocumentResponse {
	return dto.DocumentResponse{
		CID:       record.CID,
		URL:       record.URL,
		FileName:  record.FileName,
		MimeType:  record.MimeType,
		SizeBytes: record.SizeBytes,
		CreatedAt: record.CreatedAt,
	}
}

func documentFileName(name, ext string) string {
	base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	base = strings.ToLower(base)
	base = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			return r
		}
		return '-'
	}, base)
	base = strings.Trim(base, "-")
	if base == "" {
		base = fmt.Sprintf("certificate-%d", time.Now().Unix())
	}
	if ext == "" {
		ext = strings.ToLower(filepath.Ext(name))
	}
	return base + ext
}
