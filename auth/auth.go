// Package auth implements challenge-response authentication for wallet
// identities and the session tokens handed out after a successful login.
//
// Every signed action follows the same cycle: the client requests a nonce for
// an intent, signs a message containing it, and the service verifies the
// signature and consumes the nonce. Nonces are scoped to one intent, so a
// login signature can never be replayed as a claim.
package auth

import (
	"context"
	"time"

	"github.com/ruteri/will-escrow-backend/interfaces"
)

// Session is the result of a successful login.
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Authenticator combines nonce challenges and session tokens.
type Authenticator struct {
	*Challenger
	sessions *SessionManager
}

func NewAuthenticator(challenger *Challenger, sessions *SessionManager) *Authenticator {
	return &Authenticator{Challenger: challenger, sessions: sessions}
}

// Login verifies a signed login challenge and issues a session token.
func (a *Authenticator) Login(ctx context.Context, identity interfaces.Identity, message, signature string) (*Session, error) {
	if err := a.Verify(ctx, identity, interfaces.IntentLogin, message, signature); err != nil {
		return nil, err
	}

	token, expiresAt, err := a.sessions.Issue(identity)
	if err != nil {
		return nil, err
	}

	a.log.Info("Identity logged in", "identity", identity.String())
	return &Session{Token: token, ExpiresAt: expiresAt}, nil
}

// Authenticate returns the identity behind a session token.
func (a *Authenticator) Authenticate(token string) (interfaces.Identity, error) {
	identity, err := a.sessions.Verify(token)
	if err != nil {
		return interfaces.Identity{}, interfaces.NewAuthError("invalid session", err)
	}
	return identity, nil
}
