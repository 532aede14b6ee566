package lease

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrHeld indicates another holder owns an unexpired lease for the key.
var ErrHeld = errors.New("lease already held")

// Lease is a time-bounded claim on a key. The token identifies the holder so an
// expired holder cannot release a lease that was since re-acquired by someone else.
type Lease struct {
	Key       string
	Token     string
	ExpiresAt time.Time
}

// Locker hands out exclusive leases per key.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
	Release(ctx context.Context, lease Lease) error
}

// Key builds the lease key for a student and certificate type.
func Key(studentID, certificateType string) string {
	return fmt.Sprintf("mint:%s:%s", strings.TrimSpace(studentID), strings.TrimSpace(certificateType))
}

type entry struct {
	token     string
	expiresAt time.Time
}

// MemoryLocker keeps leases in process memory.
type MemoryLocker struct {
	mu     sync.Mutex
	leases map[string]entry
	now    func() time.Time
}

// NewMemoryLocker constructs an in-process locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		leases: make(map[string]entry),
		now:    time.Now,
	}
}

func (m *MemoryLocker) Acquire(_ context.Context, key string, ttl time.Duration) (Lease, error) {
	if ttl <= 0 {
		return Lease{}, fmt.Errorf("lease ttl must be positive")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if current, ok := m.leases[key]; ok && now.Before(current.expiresAt) {
		return Lease{}, ErrHeld
	}

	lease := Lease{Key: key, Token: uuid.NewString(), ExpiresAt: now.Add(ttl)}
	m.leases[key] = entry{token: lease.Token, expiresAt: lease.ExpiresAt}
	return lease, nil
}

func (m *MemoryLocker) Release(_ context.Context, lease Lease) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, ok := m.leases[lease.Key]; ok && current.token == lease.Token {
		delete(m.leases, lease.Key)
	}
	return nil
}

// Held reports whether key currently has an unexpired lease.
func (m *MemoryLocker) Held(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.leases[key]
	return ok && m.now().Before(current.expiresAt)
}
