package models

import "time"

// Sync job states.
const (
	SyncJobPending = "pending"
	SyncJobDone    = "done"
	SyncJobFailed  = "failed"
)

// SyncJob is an outbox entry for a backend patch that must be retried after
// the ledger side already succeeded.
type SyncJob struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	StudentID       string    `gorm:"size:64;not null;index:idx_sync_job_pair" json:"student_id"`
	CertificateType string    `gorm:"size:32;not null;index:idx_sync_job_pair" json:"certificate_type"`
	Reason          string    `gorm:"size:255" json:"reason"`
	TxHash          string    `gorm:"size:66" json:"tx_hash"`
	BlockNumber     uint64    `json:"block_number"`
	TokenID         string    `gorm:"size:78" json:"token_id"`
	State           string    `gorm:"size:16;not null;default:'pending';index" json:"state"`
	Attempts        int       `gorm:"not null;default:0" json:"attempts"`
	NextAttemptAt   time.Time `gorm:"index" json:"next_attempt_at"`
	LastError       string    `gorm:"type:text" json:"last_error"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// TableName pins the outbox table name.
func (SyncJob) TableName() string {
	return "certificate_sync_jobs"
}
