package service

import (
	"context"
	"errors"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/noah-isme/educert-api/internal/chain"
	"github.com/noah-isme/educert-api/internal/models"
	"github.com/noah-isme/educert-api/internal/observability"
	"github.com/noah-isme/educert-api/internal/repository"
)

const syncBatchSize = 50

// Resyncer applies one queued backend patch.
type Resyncer interface {
	Resync(ctx context.Context, req SyncRequest) error
}

// SyncWorkerConfig tunes retry behaviour of the sync worker.
type SyncWorkerConfig struct {
	Interval    time.Duration
	MaxAttempts int
	MaxBackoff  time.Duration
}

// SyncWorker retries backend patches whose ledger side already succeeded. It
// never resubmits a chain transaction.
type SyncWorker struct {
	jobs   repository.SyncJobRepository
	cfg    SyncWorkerConfig
	logger zerolog.Logger
	now    func() time.Time

	mu       sync.Mutex
	fallback []SyncRequest
}

// NewSyncWorker constructs the worker backed by the sync job outbox.
func NewSyncWorker(jobs repository.SyncJobRepository, cfg SyncWorkerConfig, logger zerolog.Logger) *SyncWorker {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Minute
	}

	return &SyncWorker{
		jobs:   jobs,
		cfg:    cfg,
		logger: logger.With().Str("component", "sync_worker").Logger(),
		now:    time.Now,
	}
}

// Enqueue records a patch in the outbox. When the outbox itself cannot be
// written the request is held in memory until the next run.
func (w *SyncWorker) Enqueue(ctx context.Context, req SyncRequest) {
	if _, err := w.jobs.Enqueue(context.WithoutCancel(ctx), syncJobFor(req)); err != nil {
		w.logger.Error().Err(err).
			Str("student_id", req.StudentID).
			Str("certificate_type", req.CertificateType).
			Msg("sync outbox unavailable, holding patch in memory")
		w.mu.Lock()
		w.fallback = append(w.fallback, req)
		w.mu.Unlock()
		observability.SyncJobs().WithLabelValues("buffered").Inc()
		return
	}

	observability.SyncJobs().WithLabelValues("queued").Inc()
}

// Start runs the worker until ctx is cancelled.
func (w *SyncWorker) Start(ctx context.Context, target Resyncer) {
	go func() {
		ticker := time.NewTicker(w.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.RunOnce(ctx, target)
			}
		}
	}()
}

// RunOnce drains the in-memory buffer into the outbox and processes due jobs.
// It returns the number of jobs completed.
func (w *SyncWorker) RunOnce(ctx context.Context, target Resyncer) int {
	w.flushFallback(ctx)

	now := w.now()
	jobs, err := w.jobs.Due(ctx, now, syncBatchSize)
	if err != nil {
		w.logger.Error().Err(err).Msg("failed to load due sync jobs")
		return 0
	}

	completed := 0
	for _, job := range jobs {
		if ctx.Err() != nil {
			break
		}
		if w.process(ctx, target, job) {
			completed++
		}
	}
	return completed
}

func (w *SyncWorker) process(ctx context.Context, target Resyncer, job models.SyncJob) bool {
	req := SyncRequest{StudentID: job.StudentID, CertificateType: job.CertificateType, Reason: job.Reason}
	if job.TxHash != "" {
		req.Receipt = &chain.Receipt{
			TxHash:          job.TxHash,
			BlockNumber:     job.BlockNumber,
			TokenID:         job.TokenID,
			StudentID:       job.StudentID,
			CertificateType: job.CertificateType,
		}
	}

	logger := w.logger.With().
		Uint("job_id", job.ID).
		Str("student_id", job.StudentID).
		Str("certificate_type", job.CertificateType).
		Logger()

	err := target.Resync(ctx, req)
	if err == nil {
		if markErr := w.jobs.MarkDone(ctx, job.ID); markErr != nil {
			logger.Error().Err(markErr).Msg("failed to mark sync job done")
			return false
		}
		observability.SyncJobs().WithLabelValues("done").Inc()
		logger.Info().Int("attempts", job.Attempts+1).Msg("backend record synced")
		return true
	}

	attempts := job.Attempts + 1
	if errors.Is(err, ErrStudentNotFound) || errors.Is(err, ErrInvalidInput) || attempts >= w.cfg.MaxAttempts {
		if markErr := w.jobs.MarkFailed(ctx, job.ID, attempts, err.Error()); markErr != nil {
			logger.Error().Err(markErr).Msg("failed to mark sync job failed")
		}
		observability.SyncJobs().WithLabelValues("failed").Inc()
		logger.Error().Err(err).Int("attempts", attempts).Msg("giving up on backend sync")
		return false
	}

	next := w.now().Add(w.backoff(attempts))
	if markErr := w.jobs.Reschedule(ctx, job.ID, attempts, next, err.Error()); markErr != nil {
		logger.Error().Err(markErr).Msg("failed to reschedule sync job")
	}
	observability.SyncJobs().WithLabelValues("retry").Inc()
	logger.Warn().Err(err).Int("attempts", attempts).Time("next_attempt_at", next).Msg("backend sync failed, retrying later")
	return false
}

func (w *SyncWorker) flushFallback(ctx context.Context) {
	w.mu.Lock()
	pending := w.fallback
	w.fallback = nil
	w.mu.Unlock()

	for i, req := range pending {
		if _, err := w.jobs.Enqueue(ctx, syncJobFor(req)); err != nil {
			w.mu.Lock()
			w.fallback = append(w.fallback, pending[i:]...)
			w.mu.Unlock()
			w.logger.Warn().Err(err).Int("remaining", len(pending)-i).Msg("sync outbox still unavailable")
			return
		}
	}
}

// Buffered reports how many patches are held in memory.
func (w *SyncWorker) Buffered() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.fallback)
}

// backoff doubles the interval per attempt, capped at MaxBackoff.
func (w *SyncWorker) backoff(attempts int) time.Duration {
	delay := w.cfg.Interval
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= w.cfg.MaxBackoff {
			return w.cfg.MaxBackoff
		}
	}
	return delay
}

func syncJobFor(req SyncRequest) models.SyncJob {
	job := models.SyncJob{
		StudentID:       req.StudentID,
		CertificateType: req.CertificateType,
		Reason:          truncate(req.Reason, 255),
	}
	if req.Receipt != nil {
		job.TxHash = req.Receipt.TxHash
		job.BlockNumber = req.Receipt.BlockNumber
		job.TokenID = req.Receipt.TokenID
	}
	return job
}

// truncate cuts value to at most limit bytes without splitting a rune.
func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(value[cut]) {
		cut--
	}
	return value[:cut]
}
