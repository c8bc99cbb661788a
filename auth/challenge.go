package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ruteri/will-escrow-backend/cryptoutils"
	"github.com/ruteri/will-escrow-backend/interfaces"
)

// DefaultNonceTTL is how long an issued nonce stays valid.
const DefaultNonceTTL = 2 * time.Minute

// Challenger issues and verifies single-use nonces bound to an identity and an intent.
type Challenger struct {
	nonces interfaces.NonceStore
	ttl    time.Duration
	now    func() time.Time
	log    *slog.Logger
}

// NewChallenger creates a challenger over the given nonce store.
// A non-positive ttl selects DefaultNonceTTL.
func NewChallenger(nonces interfaces.NonceStore, ttl time.Duration, log *slog.Logger) *Challenger {
	if ttl <= 0 {
		ttl = DefaultNonceTTL
	}
	return &Challenger{
		nonces: nonces,
		ttl:    ttl,
		now:    time.Now,
		log:    log,
	}
}

// WithClock replaces the time source, for tests.
func (c *Challenger) WithClock(now func() time.Time) *Challenger {
	c.now = now
	return c
}

// Issue generates a fresh nonce for (identity, intent), replacing any
// outstanding nonce for the same pair.
func (c *Challenger) Issue(ctx context.Context, identity interfaces.Identity, intent interfaces.Intent) (*interfaces.AuthNonce, error) {
	if !intent.Valid() {
		return nil, interfaces.NewValidationError("intent", fmt.Sprintf("unknown intent %q", intent))
	}

	raw := make([]byte, cryptoutils.NonceSize)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	nonce := interfaces.AuthNonce{
		Identity:  identity,
		Intent:    intent,
		Nonce:     hex.EncodeToString(raw),
		ExpiresAt: c.now().Add(c.ttl),
	}
	if err := c.nonces.IssueNonce(ctx, nonce); err != nil {
		return nil, fmt.Errorf("failed to store nonce: %w", err)
	}

	c.log.Debug("Issued nonce", "identity", identity.String(), "intent", string(intent))
	return &nonce, nil
}

// Verify checks that signature is identity's signature over message and that
// the message carries the outstanding nonce for (identity, intent), consuming
// it on success. A bad signature or a wrong nonce leaves the outstanding nonce
// usable; a consumed nonce is never accepted again.
func (c *Challenger) Verify(ctx context.Context, identity interfaces.Identity, intent interfaces.Intent, message, signature string) error {
	if err := cryptoutils.VerifySignature(identity, []byte(message), signature); err != nil {
		c.log.Info("Signature verification failed", "identity", identity.String(), "intent", string(intent))
		return interfaces.NewAuthError("signature verification failed", err)
	}

	nonce, err := cryptoutils.ExtractNonce(message)
	if err != nil {
		return interfaces.NewAuthError("invalid challenge message", err)
	}

	err = c.nonces.ConsumeNonce(ctx, identity, intent, nonce, c.now())
	switch {
	case err == nil:
		return nil
	case errors.Is(err, interfaces.ErrNonceNotFound), errors.Is(err, interfaces.ErrNonceMismatch), errors.Is(err, interfaces.ErrNonceExpired):
		c.log.Info("Nonce rejected", "identity", identity.String(), "intent", string(intent), "err", err)
		return interfaces.NewAuthError("nonce rejected", err)
	default:
		return fmt.Errorf("failed to consume nonce: %w", err)
	}
}
