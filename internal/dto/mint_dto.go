package dto

import "time"

// Eligibility sources.
const (
	SourceChain       = "chain"
	SourceBackend     = "backend-shortcut"
	SourceUnavailable = "unavailable"
)

// EligibilityResponse answers whether a student may mint a certificate type now.
type EligibilityResponse struct {
	StudentID       string `json:"studentId"`
	CertificateType string `json:"certificateType"`
	CanMint         bool   `json:"canMint"`
	Reason          string `json:"reason"`
	Source          string `json:"source"`
}

// MintRequest asks the server to submit a mint. SignedTransaction carries a
// raw transaction signed by the student's wallet; when empty the server signs.
type MintRequest struct {
	StudentID         string `json:"studentId" validate:"required,max=64"`
	CertificateType   string `json:"certificateType" validate:"required"`
	SignedTransaction string `json:"signedTransaction" validate:"omitempty,startswith=0x,hexadecimal"`
}

// MintResponse is the confirmed outcome of a mint.
type MintResponse struct {
	StudentID       string               `json:"studentId"`
	CertificateType string               `json:"certificateType"`
	TransactionHash string               `json:"transactionHash"`
	BlockNumber     uint64               `json:"blockNumber"`
	TokenID         string               `json:"tokenId"`
	BackendSynced   bool                 `json:"backendSynced"`
	Certificate     *CertificateResponse `json:"certificate,omitempty"`
}

// StatusEvent announces a certificate status change.
type StatusEvent struct {
	StudentID       string    `json:"studentId"`
	CertificateType string    `json:"certificateType"`
	Status          string    `json:"status"`
	TransactionHash string    `json:"transactionHash,omitempty"`
	TokenID         string    `json:"tokenId,omitempty"`
	At              time.Time `json:"at"`
}

// NewStatusEvent builds an event from a certificate view.
func NewStatusEvent(certificate CertificateResponse) StatusEvent {
	return StatusEvent{
		StudentID:       certificate.StudentID,
		CertificateType: certificate.CertificateType,
		Status:          certificate.Status,
		TransactionHash: certificate.TransactionHash,
		TokenID:         certificate.TokenID,
		At:              time.Now().UTC(),
	}
}

// DocumentResponse describes a stored certificate document.
type DocumentResponse struct {
	CID       string    `json:"cid"`
	URL       string    `json:"url"`
	FileName  string    `json:"fileName"`
	MimeType  string    `json:"mimeType"`
	SizeBytes int64     `json:"sizeBytes"`
	CreatedAt time.Time `json:"createdAt"`
}
