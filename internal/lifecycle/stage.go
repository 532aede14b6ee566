package lifecycle

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidTransition is returned when a stage change is not allowed by the lifecycle.
var ErrInvalidTransition = errors.New("invalid certificate transition")

// Details holds the certificate content shared by every stage.
type Details struct {
	Type       CertificateType
	CourseName string
	Grade      string
	IPFSHash   string
}

// Stage is one lifecycle stage of a certificate. Fields that only exist after a
// transition live on the concrete variant, never on the interface.
type Stage interface {
	Status() Status
	Content() Details
	stage()
}

// Pending is a certificate created by an administrator and not yet allowed on-chain.
type Pending struct {
	Details
}

// Approved is a certificate whose on-chain mint allowance has been confirmed.
type Approved struct {
	Details
	ApprovedAt     time.Time
	ApprovalTxHash string
}

// Minted is a certificate recorded on the ledger.
type Minted struct {
	Details
	ApprovedAt  *time.Time
	MintedAt    time.Time
	TxHash      string
	BlockNumber uint64
	TokenID     string
	// Confirmed reports whether the chain has been observed to agree with the record.
	Confirmed bool
}

// Rejected is a certificate whose eligibility was revoked before minting.
type Rejected struct {
	Details
	ApprovedAt *time.Time
	RejectedAt time.Time
}

func (Pending) Status() Status  { return StatusPending }
func (Approved) Status() Status { return StatusApproved }
func (Minted) Status() Status   { return StatusMinted }
func (Rejected) Status() Status { return StatusRejected }

func (p Pending) Content() Details  { return p.Details }
func (a Approved) Content() Details { return a.Details }
func (m Minted) Content() Details   { return m.Details }
func (r Rejected) Content() Details { return r.Details }

func (Pending) stage()  {}
func (Approved) stage() {}
func (Minted) stage()   {}
func (Rejected) stage() {}

// Receipt is the confirmed outcome of a mint transaction.
type Receipt struct {
	TxHash      string
	BlockNumber uint64
	TokenID     string
	MintedAt    time.Time
}

// Approve moves a pending certificate to approved once the allow transaction is confirmed.
func Approve(stage Stage, at time.Time, txHash string) (Approved, error) {
	switch s := stage.(type) {
	case Pending:
		return Approved{Details: s.Details, ApprovedAt: at.UTC(), ApprovalTxHash: txHash}, nil
	case Approved:
		return s, nil
	default:
		return Approved{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, stage.Status(), StatusApproved)
	}
}

// Mint moves an approved certificate to minted with the confirmed receipt.
func Mint(stage Stage, receipt Receipt) (Minted, error) {
	approved, ok := stage.(Approved)
	if !ok {
		return Minted{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, stage.Status(), StatusMinted)
	}

	approvedAt := approved.ApprovedAt
	return Minted{
		Details:     approved.Details,
		ApprovedAt:  &approvedAt,
		MintedAt:    receipt.MintedAt.UTC(),
		TxHash:      receipt.TxHash,
		BlockNumber: receipt.BlockNumber,
		TokenID:     receipt.TokenID,
		Confirmed:   true,
	}, nil
}

// Reject revokes a certificate. Only pending and approved certificates can be rejected.
func Reject(stage Stage, at time.Time) (Rejected, error) {
	switch s := stage.(type) {
	case Pending:
		return Rejected{Details: s.Details, RejectedAt: at.UTC()}, nil
	case Approved:
		approvedAt := s.ApprovedAt
		return Rejected{Details: s.Details, ApprovedAt: &approvedAt, RejectedAt: at.UTC()}, nil
	case Rejected:
		return s, nil
	default:
		return Rejected{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, stage.Status(), StatusRejected)
	}
}

// Reopen returns a rejected certificate to pending so it can be approved again.
func Reopen(stage Stage, details Details) (Pending, error) {
	switch stage.(type) {
	case Rejected, Pending:
		return Pending{Details: details}, nil
	default:
		return Pending{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, stage.Status(), StatusPending)
	}
}
