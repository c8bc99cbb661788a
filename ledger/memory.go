package ledger

import (
	"context"
	"sync"

	"github.com/ruteri/will-escrow-backend/interfaces"
	"github.com/stretchr/testify/mock"
)

// MemoryLedger is an in-process claim ledger for development and tests.
// Wills it has never seen report StatusInitialized.
type MemoryLedger struct {
	mu       sync.RWMutex
	statuses map[interfaces.WillID]interfaces.WillStatus
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{statuses: make(map[interfaces.WillID]interfaces.WillStatus)}
}

// SetStatus records the ledger status of a will.
func (l *MemoryLedger) SetStatus(id interfaces.WillID, status interfaces.WillStatus) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.statuses[id] = status
}

func (l *MemoryLedger) ClaimStatus(ctx context.Context, id interfaces.WillID) (interfaces.WillStatus, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.statuses[id], nil
}

// UnavailableLedger fails every lookup, so claims fail closed when no ledger is configured.
type UnavailableLedger struct{}

func (UnavailableLedger) ClaimStatus(ctx context.Context, id interfaces.WillID) (interfaces.WillStatus, error) {
	return 0, interfaces.ErrLedgerUnavailable
}

// MockLedger mocks the ClaimLedger interface
type MockLedger struct {
	mock.Mock
}

// ClaimStatus mocks the ClaimStatus method
func (m *MockLedger) ClaimStatus(ctx context.Context, id interfaces.WillID) (interfaces.WillStatus, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(interfaces.WillStatus), args.Error(1)
}
