package chain

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"
)

type pairKey struct {
	studentID       string
	certificateType string
}

// Memory is an in-process ledger with the contract's rules. It backs local
// development and tests.
type Memory struct {
	mu        sync.Mutex
	allowed   map[pairKey]CertificateData
	minted    map[pairKey]Record
	receipts  map[string]Receipt
	block     uint64
	nextToken uint64
	down      bool
	calls     map[string]int
	now       func() time.Time
}

// NewMemory constructs an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{
		allowed:  make(map[pairKey]CertificateData),
		minted:   make(map[pairKey]Record),
		receipts: make(map[string]Receipt),
		calls:    make(map[string]int),
		now:      time.Now,
	}
}

// SetUnavailable makes every call fail as if no endpoint answered.
func (m *Memory) SetUnavailable(down bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.down = down
}

// SetClock overrides the ledger clock used for issue timestamps.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Calls returns how many times method was invoked.
func (m *Memory) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

// Seed records a mint that happened outside this process, such as a wallet
// transaction the backend never saw.
func (m *Memory) Seed(studentID, certificateType string, record Record) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if record.TokenID == "" {
		m.nextToken++
		record.TokenID = strconv.FormatUint(m.nextToken, 10)
	}
	m.minted[pairKey{studentID, certificateType}] = record
}

func (m *Memory) enter(method string) error {
	m.calls[method]++
	if m.down {
		return fmt.Errorf("%w: %s: memory ledger offline", ErrUnavailable, method)
	}
	return nil
}

func (m *Memory) CanMint(_ context.Context, studentID, certificateType string) (Eligibility, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.enter("canIMint"); err != nil {
		return Eligibility{}, err
	}
	return m.eligibility(pairKey{studentID, certificateType}), nil
}

func (m *Memory) eligibility(key pairKey) Eligibility {
	if _, ok := m.minted[key]; ok {
		return Eligibility{Allowed: false, Reason: "Certificate already minted for this type"}
	}
	if _, ok := m.allowed[key]; !ok {
		return Eligibility{Allowed: false, Reason: "Student is not eligible to mint this certificate type"}
	}
	return Eligibility{Allowed: true, Reason: "Eligible to mint"}
}

func (m *Memory) HasMinted(_ context.Context, studentID, certificateType string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.enter("hasStudentMinted"); err != nil {
		return false, err
	}
	_, ok := m.minted[pairKey{studentID, certificateType}]
	return ok, nil
}

func (m *Memory) Certificate(_ context.Context, studentID, certificateType string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.enter("getCertificate"); err != nil {
		return Record{}, err
	}
	record, ok := m.minted[pairKey{studentID, certificateType}]
	if !ok {
		return Record{}, &RevertedError{Reason: "Certificate not found"}
	}
	return record, nil
}

func (m *Memory) StudentEligibility(_ context.Context, studentID, certificateType string) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.enter("getStudentEligibility"); err != nil {
		return Snapshot{}, err
	}

	key := pairKey{studentID, certificateType}
	snapshot := Snapshot{}
	if data, ok := m.allowed[key]; ok {
		snapshot.Allowed = true
		snapshot.StudentName = data.StudentName
		snapshot.CourseName = data.CourseName
		snapshot.Grade = data.Grade
		snapshot.IPFSHash = data.IPFSHash
	}
	if record, ok := m.minted[key]; ok {
		snapshot.Allowed = false
		snapshot.Minted = true
		snapshot.StudentName = record.StudentName
		snapshot.CourseName = record.CourseName
		snapshot.Grade = record.Grade
		snapshot.IPFSHash = record.IPFSHash
	}
	return snapshot, nil
}

func (m *Memory) AllowMint(_ context.Context, data CertificateData) (Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.enter("allowStudentToMint"); err != nil {
		return Receipt{}, err
	}

	key := pairKey{data.StudentID, data.CertificateType}
	if _, ok := m.minted[key]; ok {
		return Receipt{}, &RevertedError{Reason: "Certificate already minted for this type"}
	}
	m.allowed[key] = data
	return m.commit(Receipt{StudentID: data.StudentID, CertificateType: data.CertificateType}), nil
}

func (m *Memory) Mint(_ context.Context, req MintRequest) (Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.enter("mintCertificate"); err != nil {
		return Receipt{}, err
	}

	key := pairKey{req.StudentID, req.CertificateType}
	if eligibility := m.eligibility(key); !eligibility.Allowed {
		return Receipt{}, &RevertedError{Reason: eligibility.Reason}
	}

	allowed := m.allowed[key]
	delete(m.allowed, key)

	m.nextToken++
	tokenID := strconv.FormatUint(m.nextToken, 10)
	m.minted[key] = Record{
		TokenID:     tokenID,
		StudentName: allowed.StudentName,
		CourseName:  allowed.CourseName,
		Grade:       allowed.Grade,
		IPFSHash:    allowed.IPFSHash,
		IssuedAt:    m.now().UTC().Truncate(time.Second),
	}

	return m.commit(Receipt{TokenID: tokenID, StudentID: req.StudentID, CertificateType: req.CertificateType}), nil
}

func (m *Memory) Revoke(_ context.Context, studentID string) (Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.enter("revokeStudentEligibility"); err != nil {
		return Receipt{}, err
	}

	for key := range m.allowed {
		if key.studentID == studentID {
			delete(m.allowed, key)
		}
	}
	return m.commit(Receipt{StudentID: studentID}), nil
}

func (m *Memory) Receipt(_ context.Context, txHash string) (Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.enter("getTransactionReceipt"); err != nil {
		return Receipt{}, err
	}
	receipt, ok := m.receipts[txHash]
	if !ok {
		return Receipt{}, ErrTransactionNotFound
	}
	return receipt, nil
}

func (m *Memory) commit(receipt Receipt) Receipt {
	m.block++
	receipt.BlockNumber = m.block
	receipt.TxHash = fmt.Sprintf("0x%064x", m.block)
	m.receipts[receipt.TxHash] = receipt
	return receipt
}
