package dto

import (
	"time"

	"github.com/noah-isme/educert-api/internal/models"
)

// PaginationMeta describes paging information for list responses.
type PaginationMeta struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"pageSize"`
	TotalItems int64 `json:"totalItems"`
	TotalPages int   `json:"totalPages"`
}

// StudentRegisterRequest is the public registration payload.
type StudentRegisterRequest struct {
	StudentID     string `json:"studentId" validate:"required,min=3,max=64,alphanum"`
	Name          string `json:"name" validate:"required,min=2,max=255"`
	Email         string `json:"email" validate:"required,email,max=255"`
	Department    string `json:"department" validate:"required,max=128"`
	YearOfPassing int    `json:"yearOfPassing" validate:"required,gte=1950,lte=2100"`
}

// StudentListRequest filters the admin student listing.
type StudentListRequest struct {
	Page          int    `query:"page" validate:"omitempty,min=1"`
	PageSize      int    `query:"pageSize" validate:"omitempty,min=1,max=200"`
	Search        string `query:"search" validate:"omitempty,max=128"`
	Department    string `query:"department" validate:"omitempty,max=128"`
	Status        string `query:"status" validate:"omitempty,oneof=pending approved rejected"`
	YearOfPassing int    `query:"yearOfPassing" validate:"omitempty,gte=1950,lte=2100"`
}

// ApproveStudentRequest creates (or reuses) a certificate and allows it on-chain.
type ApproveStudentRequest struct {
	CertificateType string `json:"certificateType" validate:"required"`
	CourseName      string `json:"courseName" validate:"required,max=255"`
	Grade           string `json:"grade" validate:"required,max=32"`
	IPFSHash        string `json:"ipfsHash" validate:"omitempty,max=128"`
}

// WalletUpdateRequest sets a student's wallet address.
type WalletUpdateRequest struct {
	WalletAddress string `json:"walletAddress" validate:"required"`
}

// StudentResponse is the public representation of a student.
type StudentResponse struct {
	StudentID         string                `json:"studentId"`
	Name              string                `json:"name"`
	Email             string                `json:"email"`
	Department        string                `json:"department"`
	YearOfPassing     int                   `json:"yearOfPassing"`
	WalletAddress     string                `json:"walletAddress"`
	EligibilityStatus string                `json:"eligibilityStatus"`
	Certificates      []CertificateResponse `json:"certificates"`
	CreatedAt         time.Time             `json:"createdAt"`
	UpdatedAt         time.Time             `json:"updatedAt"`
}

// StudentListResponse mirrors the listing envelope.
type StudentListResponse struct {
	Count      int               `json:"count"`
	Students   []StudentResponse `json:"students"`
	Pagination PaginationMeta    `json:"pagination"`
}

// ChainEligibility is the ledger's view of one certificate type for a student.
type ChainEligibility struct {
	CertificateType string `json:"certificateType"`
	Allowed         bool   `json:"allowed"`
	Minted          bool   `json:"minted"`
	CourseName      string `json:"courseName,omitempty"`
	Grade           string `json:"grade,omitempty"`
	IPFSHash        string `json:"ipfsHash,omitempty"`
	Source          string `json:"source"`
}

// StudentDetailResponse is a student with reconciled certificates and the
// ledger eligibility snapshot.
type StudentDetailResponse struct {
	StudentResponse
	Eligibility []ChainEligibility `json:"blockchainEligibility"`
}

// NewStudentResponse maps a student model. Certificates are rendered from the stored rows.
func NewStudentResponse(student models.Student) StudentResponse {
	certificates := make([]CertificateResponse, 0, len(student.Certificates))
	for _, certificate := range student.Certificates {
		certificates = append(certificates, NewCertificateResponse(certificate))
	}

	return StudentResponse{
		StudentID:         student.StudentID,
		Name:              student.Name,
		Email:             student.Email,
		Department:        student.Department,
		YearOfPassing:     student.YearOfPassing,
		WalletAddress:     student.WalletAddress,
		EligibilityStatus: student.EligibilityStatus,
		Certificates:      certificates,
		CreatedAt:         student.CreatedAt,
		UpdatedAt:         student.UpdatedAt,
	}
}
