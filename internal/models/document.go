package models

import "time"

// CertificateDocument is an uploaded certificate artifact addressed by its CID.
type CertificateDocument struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	CID        string    `gorm:"column:cid;size:128;uniqueIndex;not null" json:"cid"`
	FileName   string    `gorm:"size:255;not null" json:"file_name"`
	URL        string    `gorm:"size:512;not null" json:"url"`
	MimeType   string    `gorm:"size:64;not null" json:"mime_type"`
	SizeBytes  int64     `gorm:"not null" json:"size_bytes"`
	UploadedBy string    `gorm:"size:64" json:"uploaded_by"`
	CreatedAt  time.Time `json:"created_at"`
}

// All lists every model for schema migration.
func All() []interface{} {
	return []interface{}{
		&Student{},
		&Certificate{},
		&CertificateActivity{},
		&SyncJob{},
		&CertificateDocument{},
	}
}
