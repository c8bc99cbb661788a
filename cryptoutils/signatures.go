package cryptoutils

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"

	"github.com/mr-tron/base58"
	"github.com/ruteri/will-escrow-backend/interfaces"
)

// NonceSize is the number of random bytes in an authentication nonce.
const NonceSize = 32

var (
	ErrInvalidSignature = errors.New("invalid signature")
	ErrMissingNonce     = errors.New("message does not contain a nonce")
)

var nonceLine = regexp.MustCompile(`(?m)^Nonce: ([0-9a-fA-F]+)\r?$`)

// VerifySignature checks a base58 encoded detached Ed25519 signature over message.
func VerifySignature(identity interfaces.Identity, message []byte, signature string) error {
	sig, err := base58.Decode(signature)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if len(sig) != ed25519.SignatureSize {
		return fmt.Errorf("%w: bad length %d", ErrInvalidSignature, len(sig))
	}
	if !ed25519.Verify(identity.PublicKey(), message, sig) {
		return ErrInvalidSignature
	}
	return nil
}

// SignMessage produces the base58 detached signature VerifySignature accepts.
func SignMessage(priv ed25519.PrivateKey, message []byte) string {
	return base58.Encode(ed25519.Sign(priv, message))
}

// ExtractNonce returns the hex nonce from the message's "Nonce: <hex>" line.
func ExtractNonce(message string) (string, error) {
	m := nonceLine.FindStringSubmatch(message)
	if m == nil {
		return "", ErrMissingNonce
	}
	raw, err := hex.DecodeString(m[1])
	if err != nil || len(raw) != NonceSize {
		return "", fmt.Errorf("%w: malformed nonce", ErrMissingNonce)
	}
	return hex.EncodeToString(raw), nil
}

// ChallengeMessage builds the human-readable message a wallet signs to answer a nonce.
func ChallengeMessage(intent interfaces.Intent, domain string, nonce string) string {
	return fmt.Sprintf("Authorize %s with %s.\nNonce: %s", intent, domain, nonce)
}
