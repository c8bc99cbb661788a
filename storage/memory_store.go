package storage

import (
	"context"
	"crypto/subtle"
	"sync"
	"time"

	"github.com/ruteri/will-escrow-backend/interfaces"
)

type ownerName struct {
	owner interfaces.Identity
	name  string
}

type nonceKey struct {
	identity interfaces.Identity
	intent   interfaces.Intent
}

// MemoryStore is an in-process WillStore and NonceStore. Every instance owns
// its own maps; updates are serialized by a single mutex.
type MemoryStore struct {
	mu      sync.Mutex
	wills   map[interfaces.WillID]*interfaces.Will
	records map[interfaces.WillID]*interfaces.ShareRecord
	names   map[ownerName]interfaces.WillID
	nonces  map[nonceKey]interfaces.AuthNonce
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		wills:   make(map[interfaces.WillID]*interfaces.Will),
		records: make(map[interfaces.WillID]*interfaces.ShareRecord),
		names:   make(map[ownerName]interfaces.WillID),
		nonces:  make(map[nonceKey]interfaces.AuthNonce),
	}
}

func (s *MemoryStore) CreateWill(ctx context.Context, will *interfaces.Will, record *interfaces.ShareRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := ownerName{owner: will.Owner, name: will.Name}
	if _, exists := s.names[key]; exists {
		return interfaces.ErrDuplicateWill
	}
	if _, exists := s.wills[will.ID]; exists {
		return interfaces.ErrDuplicateWill
	}

	s.names[key] = will.ID
	s.wills[will.ID] = will.Clone()
	s.records[will.ID] = record.Clone()
	return nil
}

func (s *MemoryStore) GetWill(ctx context.Context, id interfaces.WillID) (*interfaces.Will, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	will, ok := s.wills[id]
	if !ok {
		return nil, interfaces.ErrWillNotFound
	}
	return will.Clone(), nil
}

func (s *MemoryStore) GetShareRecord(ctx context.Context, id interfaces.WillID) (*interfaces.ShareRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[id]
	if !ok {
		return nil, interfaces.ErrShareRecordNotFound
	}
	return record.Clone(), nil
}

func (s *MemoryStore) UpdateWill(ctx context.Context, id interfaces.WillID, fn func(*interfaces.Will) error) (*interfaces.Will, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.wills[id]
	if !ok {
		return nil, interfaces.ErrWillNotFound
	}

	updated := current.Clone()
	if err := fn(updated); err != nil {
		return nil, err
	}

	s.wills[id] = updated
	return updated.Clone(), nil
}

func (s *MemoryStore) IssueNonce(ctx context.Context, nonce interfaces.AuthNonce) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nonces[nonceKey{identity: nonce.Identity, intent: nonce.Intent}] = nonce
	return nil
}

func (s *MemoryStore) ConsumeNonce(ctx context.Context, identity interfaces.Identity, intent interfaces.Intent, nonce string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := nonceKey{identity: identity, intent: intent}
	stored, ok := s.nonces[key]
	if !ok {
		return interfaces.ErrNonceNotFound
	}
	if !now.Before(stored.ExpiresAt) {
		delete(s.nonces, key)
		return interfaces.ErrNonceExpired
	}
	if subtle.ConstantTimeCompare([]byte(stored.Nonce), []byte(nonce)) != 1 {
		return interfaces.ErrNonceMismatch
	}

	delete(s.nonces, key)
	return nil
}
