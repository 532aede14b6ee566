package chain

import (
	"context"
	"time"
)

// Eligibility is the contract's answer to canIMint.
type Eligibility struct {
	Allowed bool
	Reason  string
}

// Record is the certificate stored on the ledger for a (student, type) pair.
type Record struct {
	TokenID     string
	StudentName string
	CourseName  string
	Grade       string
	IPFSHash    string
	IssuedAt    time.Time
	Owner       string
}

// Snapshot is the contract's eligibility view for a (student, type) pair.
type Snapshot struct {
	Allowed     bool   `json:"allowed"`
	Minted      bool   `json:"minted"`
	StudentName string `json:"student_name"`
	CourseName  string `json:"course_name"`
	Grade       string `json:"grade"`
	IPFSHash    string `json:"ipfs_hash"`
}

// CertificateData is the payload bound into allow and mint transactions.
type CertificateData struct {
	StudentID       string
	StudentName     string
	CourseName      string
	Grade           string
	IPFSHash        string
	CertificateType string
}

// MintRequest describes a mint. When SignedTransaction is set it is broadcast
// verbatim (the student's wallet signed it); otherwise the configured key signs.
type MintRequest struct {
	CertificateData
	SignedTransaction string
}

// Receipt is a confirmed transaction outcome.
type Receipt struct {
	TxHash          string
	BlockNumber     uint64
	TokenID         string
	StudentID       string
	CertificateType string
}

// Contract is the certificate contract surface the backend consumes.
type Contract interface {
	CanMint(ctx context.Context, studentID, certificateType string) (Eligibility, error)
	HasMinted(ctx context.Context, studentID, certificateType string) (bool, error)
	Certificate(ctx context.Context, studentID, certificateType string) (Record, error)
	StudentEligibility(ctx context.Context, studentID, certificateType string) (Snapshot, error)
	AllowMint(ctx context.Context, data CertificateData) (Receipt, error)
	Mint(ctx context.Context, req MintRequest) (Receipt, error)
	Revoke(ctx context.Context, studentID string) (Receipt, error)
	Receipt(ctx context.Context, txHash string) (Receipt, error)
}
