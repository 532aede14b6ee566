package models

import (
	"fmt"
	"time"

	"gorm.io/datatypes"

	"github.com/noah-isme/educert-api/internal/lifecycle"
)

// Certificate activity actions.
const (
	ActionCreated    = "created"
	ActionApproved   = "approved"
	ActionMinted     = "minted"
	ActionRejected   = "rejected"
	ActionReopened   = "reopened"
	ActionReconciled = "reconciled"
)

// Certificate is one certificate of a student. A student holds at most one
// certificate per type, so at most one can ever reach minted.
type Certificate struct {
	ID                  uint                  `gorm:"primaryKey" json:"id"`
	StudentRef          uint                  `gorm:"not null;uniqueIndex:idx_certificate_student_type" json:"student_ref"`
	StudentID           string                `gorm:"size:64;not null;index" json:"student_id"`
	CertificateType     string                `gorm:"size:32;not null;uniqueIndex:idx_certificate_student_type" json:"certificate_type"`
	CourseName          string                `gorm:"size:255" json:"course_name"`
	Grade               string                `gorm:"size:32" json:"grade"`
	IPFSHash            string                `gorm:"size:128" json:"ipfs_hash"`
	Status              string                `gorm:"size:16;not null;default:'pending';index" json:"status"`
	ApprovalTxHash      string                `gorm:"size:66" json:"approval_tx_hash"`
	TransactionHash     string                `gorm:"size:66;index" json:"transaction_hash"`
	TokenID             string                `gorm:"size:78" json:"token_id"`
	BlockNumber         uint64                `json:"block_number"`
	ApprovedAt          *time.Time            `json:"approved_at"`
	MintedAt            *time.Time            `json:"minted_at"`
	RejectedAt          *time.Time            `json:"rejected_at"`
	BlockchainConfirmed bool                  `gorm:"not null;default:false" json:"blockchain_confirmed"`
	Activities          []CertificateActivity `gorm:"foreignKey:CertificateID" json:"activities,omitempty"`
	CreatedAt           time.Time             `json:"created_at"`
	UpdatedAt           time.Time             `json:"updated_at"`
}

// CertificateActivity is an append-only audit entry of a certificate.
type CertificateActivity struct {
	ID            uint              `gorm:"primaryKey" json:"id"`
	CertificateID uint              `gorm:"not null;index" json:"certificate_id"`
	Action        string            `gorm:"size:32;not null" json:"action"`
	TxHash        string            `gorm:"size:66" json:"tx_hash"`
	BlockNumber   uint64            `json:"block_number"`
	ActorID       string            `gorm:"size:64" json:"actor_id"`
	ActorRole     string            `gorm:"size:32" json:"actor_role"`
	Metadata      datatypes.JSONMap `gorm:"type:json" json:"metadata"`
	CreatedAt     time.Time         `json:"created_at"`
}

// Stage converts the stored row into its lifecycle variant.
func (c Certificate) Stage() (lifecycle.Stage, error) {
	certType, err := lifecycle.ParseCertificateType(c.CertificateType)
	if err != nil {
		return nil, err
	}
	status, err := lifecycle.ParseStatus(c.Status)
	if err != nil {
		return nil, err
	}

	details := lifecycle.Details{
		Type:       certType,
		CourseName: c.CourseName,
		Grade:      c.Grade,
		IPFSHash:   c.IPFSHash,
	}

	switch status {
	case lifecycle.StatusPending:
		return lifecycle.Pending{Details: details}, nil
	case lifecycle.StatusApproved:
		approved := lifecycle.Approved{Details: details, ApprovalTxHash: c.ApprovalTxHash}
		if c.ApprovedAt != nil {
			approved.ApprovedAt = c.ApprovedAt.UTC()
		}
		return approved, nil
	case lifecycle.StatusMinted:
		minted := lifecycle.Minted{
			Details:     details,
			ApprovedAt:  utcPtr(c.ApprovedAt),
			TxHash:      c.TransactionHash,
			BlockNumber: c.BlockNumber,
			TokenID:     c.TokenID,
			Confirmed:   c.BlockchainConfirmed,
		}
		if c.MintedAt != nil {
			minted.MintedAt = c.MintedAt.UTC()
		}
		return minted, nil
	case lifecycle.StatusRejected:
		rejected := lifecycle.Rejected{Details: details, ApprovedAt: utcPtr(c.ApprovedAt)}
		if c.RejectedAt != nil {
			rejected.RejectedAt = c.RejectedAt.UTC()
		}
		return rejected, nil
	default:
		return nil, fmt.Errorf("unsupported certificate status %q", c.Status)
	}
}

// Apply writes stage onto the row. Fields the stage does not carry are cleared,
// so a pending row never holds mint data.
func (c *Certificate) Apply(stage lifecycle.Stage) {
	details := stage.Content()
	c.CertificateType = details.Type.String()
	c.CourseName = details.CourseName
	c.Grade = details.Grade
	c.IPFSHash = details.IPFSHash
	c.Status = string(stage.Status())

	c.ApprovalTxHash = ""
	c.TransactionHash = ""
	c.TokenID = ""
	c.BlockNumber = 0
	c.ApprovedAt = nil
	c.MintedAt = nil
	c.RejectedAt = nil
	c.BlockchainConfirmed = false

	switch s := stage.(type) {
	case lifecycle.Approved:
		approvedAt := s.ApprovedAt
		c.ApprovedAt = &approvedAt
		c.ApprovalTxHash = s.ApprovalTxHash
	case lifecycle.Minted:
		mintedAt := s.MintedAt
		c.ApprovedAt = utcPtr(s.ApprovedAt)
		c.MintedAt = &mintedAt
		c.TransactionHash = s.TxHash
		c.TokenID = s.TokenID
		c.BlockNumber = s.BlockNumber
		c.BlockchainConfirmed = s.Confirmed
	case lifecycle.Rejected:
		rejectedAt := s.RejectedAt
		c.ApprovedAt = utcPtr(s.ApprovedAt)
		c.RejectedAt = &rejectedAt
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	value := t.UTC()
	return &value
}
