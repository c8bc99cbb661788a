// Package interfaces defines the core types and contracts of the will escrow service.
// It provides the contract between different components without implementation details.
package interfaces

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"
)

const (
	// MaxWillNameLength is the maximum length of a will name in bytes.
	MaxWillNameLength = 100
	// MaxWillDescriptionLength is the maximum length of a will description in bytes.
	MaxWillDescriptionLength = 500
	// MaxCiphertextLength is the maximum size of an encoded share ciphertext in bytes.
	MaxCiphertextLength = 1024
)

// Identity is an Ed25519 public key identifying an owner or a beneficiary.
// Its text form is base58, matching the wallets the service is used with.
type Identity [ed25519.PublicKeySize]byte

// NewIdentityFromBytes creates an identity from a raw 32-byte public key.
func NewIdentityFromBytes(raw []byte) (Identity, error) {
	if len(raw) != ed25519.PublicKeySize {
		return Identity{}, errors.New("invalid identity length: must be 32 bytes")
	}

	var id Identity
	copy(id[:], raw)
	return id, nil
}

// ParseIdentity decodes a base58 encoded public key.
func ParseIdentity(s string) (Identity, error) {
	raw, err := base58.Decode(strings.TrimSpace(s))
	if err != nil {
		return Identity{}, fmt.Errorf("invalid base58 identity: %w", err)
	}
	return NewIdentityFromBytes(raw)
}

// String returns the base58 representation.
func (id Identity) String() string {
	return base58.Encode(id[:])
}

// PublicKey returns the identity as an Ed25519 public key.
func (id Identity) PublicKey() ed25519.PublicKey {
	return ed25519.PublicKey(id[:])
}

// IsZero reports whether the identity is unset.
func (id Identity) IsZero() bool {
	return id == Identity{}
}

func (id Identity) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *Identity) UnmarshalText(text []byte) error {
	parsed, err := ParseIdentity(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// WillID uniquely identifies a will. It is assigned by the coordinator on the
// first successful combination call and never changes.
type WillID uuid.UUID

// NewWillID generates a fresh random will id.
func NewWillID() WillID {
	return WillID(uuid.New())
}

// ParseWillID parses the canonical text form of a will id.
func ParseWillID(s string) (WillID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return WillID{}, fmt.Errorf("invalid will id: %w", err)
	}
	return WillID(u), nil
}

func (id WillID) String() string {
	return uuid.UUID(id).String()
}

// Bytes returns the raw 16-byte id.
func (id WillID) Bytes() []byte {
	return id[:]
}

func (id WillID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *WillID) UnmarshalText(text []byte) error {
	parsed, err := ParseWillID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// WillStatus is the lifecycle state of a will. Numeric values match the
// claim status reported by the ledger program.
type WillStatus uint8

const (
	StatusInitialized WillStatus = iota
	StatusActive
	StatusRevoked
	StatusClaimed
	// StatusExpired is only ever reported by the ledger. The service never
	// stores it and treats it as not claimed.
	StatusExpired
)

func (s WillStatus) String() string {
	switch s {
	case StatusInitialized:
		return "Initialized"
	case StatusActive:
		return "Active"
	case StatusRevoked:
		return "Revoked"
	case StatusClaimed:
		return "Claimed"
	case StatusExpired:
		return "Expired"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(s))
	}
}

// Valid reports whether s is a known status value.
func (s WillStatus) Valid() bool {
	return s <= StatusExpired
}

func (s WillStatus) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid will status %d", uint8(s))
	}
	return []byte(s.String()), nil
}

func (s *WillStatus) UnmarshalText(text []byte) error {
	parsed, err := ParseWillStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseWillStatus parses a status name as produced by WillStatus.String.
func ParseWillStatus(name string) (WillStatus, error) {
	for s := StatusInitialized; s <= StatusExpired; s++ {
		if strings.EqualFold(s.String(), name) {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown will status %q", name)
}

// Intent scopes a nonce to a single kind of signed action.
type Intent string

const (
	IntentLogin      Intent = "login"
	IntentCreateWill Intent = "create_will"
	IntentSubmitWill Intent = "submit_will"
	IntentClaimWill  Intent = "claim_will"
	IntentRevokeWill Intent = "revoke_will"
)

// Valid reports whether the intent is one the service issues nonces for.
func (i Intent) Valid() bool {
	switch i {
	case IntentLogin, IntentCreateWill, IntentSubmitWill, IntentClaimWill, IntentRevokeWill:
		return true
	}
	return false
}

// Will is the coordinator's record of a single escrow.
type Will struct {
	ID          WillID     `json:"id"`
	Owner       Identity   `json:"owner"`
	Beneficiary Identity   `json:"beneficiary"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	ReleaseTime time.Time  `json:"release_time"`
	Status      WillStatus `json:"status"`

	// Ciphertext ids are zero until the will becomes Active and never change afterwards.
	OwnerCiphertextID       ContentID `json:"-"`
	BeneficiaryCiphertextID ContentID `json:"-"`

	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	ActivatedAt time.Time `json:"activated_at,omitzero"`
	RevokedAt   time.Time `json:"revoked_at,omitzero"`
	ClaimedAt   time.Time `json:"claimed_at,omitzero"`
}

// HasCiphertexts reports whether both share ciphertexts were recorded.
func (w *Will) HasCiphertexts() bool {
	var zero ContentID
	return w.OwnerCiphertextID != zero && w.BeneficiaryCiphertextID != zero
}

// Clone returns a copy safe to hand out of a store.
func (w *Will) Clone() *Will {
	c := *w
	return &c
}

// ShareRecord holds the two composed shares retained by the coordinator,
// at positions 3 and 4. Together they are one share short of the threshold.
type ShareRecord struct {
	WillID         WillID
	PlatformShare3 []byte
	PlatformShare4 []byte
}

// Clone returns a deep copy of the record.
func (r *ShareRecord) Clone() *ShareRecord {
	return &ShareRecord{
		WillID:         r.WillID,
		PlatformShare3: append([]byte(nil), r.PlatformShare3...),
		PlatformShare4: append([]byte(nil), r.PlatformShare4...),
	}
}

// AuthNonce is a single-use challenge bound to an identity and an intent.
type AuthNonce struct {
	Identity  Identity
	Intent    Intent
	Nonce     string
	ExpiresAt time.Time
}
