package dto

import (
	"time"

	"github.com/noah-isme/educert-api/internal/lifecycle"
	"github.com/noah-isme/educert-api/internal/models"
)

// CertificateCreateRequest creates a pending certificate for a student.
type CertificateCreateRequest struct {
	StudentID       string `json:"studentId" validate:"required,max=64"`
	CertificateType string `json:"certificateType" validate:"required"`
	CourseName      string `json:"courseName" validate:"required,max=255"`
	Grade           string `json:"grade" validate:"required,max=32"`
	IPFSHash        string `json:"ipfsHash" validate:"omitempty,max=128"`
}

// MintStatusRequest reports a mint the student's wallet broadcast itself.
type MintStatusRequest struct {
	TransactionHash string `json:"transactionHash" validate:"required,startswith=0x,len=66,hexadecimal"`
}

// CertificateResponse is the effective view of a certificate.
type CertificateResponse struct {
	ID                  uint       `json:"id"`
	StudentID           string     `json:"studentId"`
	CertificateType     string     `json:"certificateType"`
	CourseName          string     `json:"courseName"`
	Grade               string     `json:"grade"`
	IPFSHash            string     `json:"ipfsHash"`
	Status              string     `json:"status"`
	ApprovalTxHash      string     `json:"approvalTransactionHash,omitempty"`
	TransactionHash     string     `json:"transactionHash,omitempty"`
	TokenID             string     `json:"tokenId,omitempty"`
	BlockNumber         uint64     `json:"blockNumber,omitempty"`
	ApprovedAt          *time.Time `json:"approvedAt,omitempty"`
	MintedAt            *time.Time `json:"mintedAt,omitempty"`
	RejectedAt          *time.Time `json:"rejectedAt,omitempty"`
	BlockchainConfirmed bool       `json:"blockchainConfirmed"`
	ChainChecked        bool       `json:"chainChecked"`
	Drift               string     `json:"drift,omitempty"`
	CreatedAt           time.Time  `json:"createdAt"`
	UpdatedAt           time.Time  `json:"updatedAt"`
}

// NewCertificateResponse maps a stored certificate without chain information.
func NewCertificateResponse(certificate models.Certificate) CertificateResponse {
	return CertificateResponse{
		ID:                  certificate.ID,
		StudentID:           certificate.StudentID,
		CertificateType:     certificate.CertificateType,
		CourseName:          certificate.CourseName,
		Grade:               certificate.Grade,
		IPFSHash:            certificate.IPFSHash,
		Status:              certificate.Status,
		ApprovalTxHash:      certificate.ApprovalTxHash,
		TransactionHash:     certificate.TransactionHash,
		TokenID:             certificate.TokenID,
		BlockNumber:         certificate.BlockNumber,
		ApprovedAt:          certificate.ApprovedAt,
		MintedAt:            certificate.MintedAt,
		RejectedAt:          certificate.RejectedAt,
		BlockchainConfirmed: certificate.BlockchainConfirmed,
		CreatedAt:           certificate.CreatedAt,
		UpdatedAt:           certificate.UpdatedAt,
	}
}

// NewEffectiveCertificateResponse renders the reconciled stage of a stored certificate.
func NewEffectiveCertificateResponse(certificate models.Certificate, resolution lifecycle.Resolution) CertificateResponse {
	effective := certificate
	effective.Apply(resolution.Effective)

	response := NewCertificateResponse(effective)
	response.ChainChecked = resolution.ChainChecked
	if resolution.Drift != lifecycle.DriftNone {
		response.Drift = string(resolution.Drift)
	}
	return response
}

// ActivityResponse is one entry of a certificate's activity log.
type ActivityResponse struct {
	Action      string                 `json:"action"`
	Timestamp   time.Time              `json:"timestamp"`
	TxHash      string                 `json:"transactionHash,omitempty"`
	BlockNumber uint64                 `json:"blockNumber,omitempty"`
	ActorID     string                 `json:"actorId,omitempty"`
	ActorRole   string                 `json:"actorRole,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// NewActivityResponse maps an activity model.
func NewActivityResponse(activity models.CertificateActivity) ActivityResponse {
	return ActivityResponse{
		Action:      activity.Action,
		Timestamp:   activity.CreatedAt,
		TxHash:      activity.TxHash,
		BlockNumber: activity.BlockNumber,
		ActorID:     activity.ActorID,
		ActorRole:   activity.ActorRole,
		Metadata:    activity.Metadata,
	}
}

// VerificationResponse is the public verification result for a certificate.
type VerificationResponse struct {
	Valid       bool                `json:"valid"`
	Reason      string              `json:"reason"`
	StudentName string              `json:"studentName"`
	Department  string              `json:"department"`
	Certificate CertificateResponse `json:"certificate"`
	Owner       string              `json:"owner,omitempty"`
}

// MetadataAttribute is one ERC-721 metadata trait.
type MetadataAttribute struct {
	TraitType string      `json:"trait_type"`
	Value     interface{} `json:"value"`
}

// CertificateMetadata is the ERC-721 metadata document of a minted certificate.
type CertificateMetadata struct {
	Name        string              `json:"name"`
	Description string              `json:"description"`
	Image       string              `json:"image"`
	ExternalURL string              `json:"external_url,omitempty"`
	Attributes  []MetadataAttribute `json:"attributes"`
}
