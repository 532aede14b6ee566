package lifecycle

import "time"

// Observation is what the ledger reports for one (student, certificate type) pair.
type Observation struct {
	Minted     bool
	IssuedAt   time.Time
	TokenID    string
	CourseName string
	Grade      string
	IPFSHash   string
}

// Drift classifies how the backend record and the ledger disagree.
type Drift string

const (
	DriftNone         Drift = "none"
	DriftChainAhead   Drift = "chain_ahead"
	DriftBackendAhead Drift = "backend_ahead"
)

// Resolution is the outcome of merging a stored stage with a ledger observation.
type Resolution struct {
	// Effective is the reconciled stage callers should present.
	Effective Stage
	// Changed reports whether the stored record must be patched to Effective.
	Changed bool
	// ChainChecked is false when no observation was available.
	ChainChecked bool
	Drift        Drift
}

// Merge resolves the effective stage of a certificate.
//
// Precedence is total: a ledger mint always wins and fixes the mint fields
// (status, minted time, token id); otherwise the stored stage is kept, because
// pending and approved are not observable on the ledger. A stored mint the ledger
// does not report yet is never downgraded, only flagged as unconfirmed.
// A nil observation means the ledger could not be queried.
func Merge(stored Stage, obs *Observation) Resolution {
	if obs == nil {
		return Resolution{Effective: stored, Drift: DriftNone}
	}

	if !obs.Minted {
		if minted, ok := stored.(Minted); ok {
			minted.Confirmed = false
			return Resolution{Effective: minted, ChainChecked: true, Drift: DriftBackendAhead}
		}
		return Resolution{Effective: stored, ChainChecked: true, Drift: DriftNone}
	}

	target := mintedFromChain(stored, *obs)
	if current, ok := stored.(Minted); ok && sameMinted(current, target) {
		return Resolution{Effective: current, ChainChecked: true, Drift: DriftNone}
	}

	return Resolution{Effective: target, Changed: true, ChainChecked: true, Drift: DriftChainAhead}
}

func mintedFromChain(stored Stage, obs Observation) Minted {
	var target Minted
	switch s := stored.(type) {
	case Minted:
		target = s
	case Approved:
		approvedAt := s.ApprovedAt
		target = Minted{Details: s.Details, ApprovedAt: &approvedAt}
	case Rejected:
		target = Minted{Details: s.Details, ApprovedAt: s.ApprovedAt}
	default:
		target = Minted{Details: stored.Content()}
	}

	if target.CourseName == "" {
		target.CourseName = obs.CourseName
	}
	if target.Grade == "" {
		target.Grade = obs.Grade
	}
	if target.IPFSHash == "" {
		target.IPFSHash = obs.IPFSHash
	}
	if !obs.IssuedAt.IsZero() {
		target.MintedAt = obs.IssuedAt.UTC()
	}
	if obs.TokenID != "" {
		target.TokenID = obs.TokenID
	}
	target.Confirmed = true

	return target
}

func sameMinted(a, b Minted) bool {
	return a.Details == b.Details &&
		a.MintedAt.Equal(b.MintedAt) &&
		a.TxHash == b.TxHash &&
		a.BlockNumber == b.BlockNumber &&
		a.TokenID == b.TokenID &&
		a.Confirmed == b.Confirmed
}
