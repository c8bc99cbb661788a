package interfaces

import (
	"context"
	"time"
)

// WillStore persists wills and their share records. Implementations must be
// safe for concurrent use and serialize updates per will.
type WillStore interface {
	// CreateWill inserts a new will together with its share record in one
	// transaction. Returns ErrDuplicateWill if the owner already has a will
	// with the same name.
	CreateWill(ctx context.Context, will *Will, record *ShareRecord) error

	// GetWill returns a copy of the will, or ErrWillNotFound.
	GetWill(ctx context.Context, id WillID) (*Will, error)

	// GetShareRecord returns the will's share record, or ErrShareRecordNotFound.
	GetShareRecord(ctx context.Context, id WillID) (*ShareRecord, error)

	// UpdateWill runs fn on the current will while holding an exclusive lock
	// on it and persists the result if fn returns nil. The updated will is returned.
	UpdateWill(ctx context.Context, id WillID, fn func(*Will) error) (*Will, error)
}

// NonceStore keeps at most one outstanding nonce per identity and intent.
type NonceStore interface {
	// IssueNonce stores the nonce, replacing any outstanding one for the same identity and intent.
	IssueNonce(ctx context.Context, nonce AuthNonce) error

	// ConsumeNonce atomically deletes the outstanding nonce if it equals the
	// presented one and has not expired at now. A mismatch leaves the stored
	// nonce untouched and returns ErrNonceMismatch. An expired nonce is removed
	// and ErrNonceExpired is returned.
	ConsumeNonce(ctx context.Context, identity Identity, intent Intent, nonce string, now time.Time) error
}

// ClaimLedger is the external record of whether a beneficiary has performed
// the one-time claim action for a will.
type ClaimLedger interface {
	// ClaimStatus returns the ledger's status for the will. Any failure to get
	// a definitive answer must be reported as ErrLedgerUnavailable.
	ClaimStatus(ctx context.Context, id WillID) (WillStatus, error)
}
