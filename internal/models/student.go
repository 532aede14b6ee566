package models

import "time"

// Student eligibility statuses.
const (
	EligibilityPending  = "pending"
	EligibilityApproved = "approved"
	EligibilityRejected = "rejected"
)

// Student is a registered learner. Students are never hard-deleted.
type Student struct {
	ID                uint          `gorm:"primaryKey" json:"id"`
	StudentID         string        `gorm:"size:64;uniqueIndex;not null" json:"student_id"`
	Name              string        `gorm:"size:255;not null" json:"name"`
	Email             string        `gorm:"size:255;uniqueIndex;not null" json:"email"`
	Department        string        `gorm:"size:128;not null" json:"department"`
	YearOfPassing     int           `gorm:"not null" json:"year_of_passing"`
	WalletAddress     string        `gorm:"size:42;not null;default:''" json:"wallet_address"`
	EligibilityStatus string        `gorm:"size:16;not null;default:'pending';index" json:"eligibility_status"`
	Certificates      []Certificate `gorm:"foreignKey:StudentRef" json:"certificates,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}
