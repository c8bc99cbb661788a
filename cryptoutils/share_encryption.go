package cryptoutils

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"github.com/ruteri/will-escrow-backend/interfaces"
	"golang.org/x/crypto/nacl/box"
)

const (
	// EnvelopeVersion is the first byte of every share ciphertext.
	EnvelopeVersion byte = 0x01

	keySize   = 32
	nonceSize = 24
	headerLen = 1 + keySize + nonceSize
)

var (
	ErrCiphertextTooLarge = errors.New("ciphertext exceeds maximum size")
	ErrMalformedEnvelope  = errors.New("malformed share ciphertext")
	ErrDecryptionFailed   = errors.New("share decryption failed")
)

// EncryptShare encrypts a finished share so that only the holder of the
// recipient identity's private key can read it.
//
// A fresh ephemeral X25519 key pair is generated for every call and combined
// with the recipient's derived X25519 key via nacl/box (XSalsa20-Poly1305).
//
// Format: [version (1 byte)][ephemeral public key (32 bytes)][nonce (24 bytes)][box]
func EncryptShare(recipient interfaces.Identity, share []byte) ([]byte, error) {
	recipientKey, err := EncryptionPublicKey(recipient.PublicKey())
	if err != nil {
		return nil, fmt.Errorf("failed to derive recipient encryption key: %w", err)
	}

	if headerLen+len(share)+box.Overhead > interfaces.MaxCiphertextLength {
		return nil, ErrCiphertextTooLarge
	}

	ephemeralPub, ephemeralPriv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ephemeral key: %w", err)
	}
	defer clear(ephemeralPriv[:])

	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	out := make([]byte, headerLen, headerLen+len(share)+box.Overhead)
	out[0] = EnvelopeVersion
	copy(out[1:1+keySize], ephemeralPub[:])
	copy(out[1+keySize:headerLen], nonce[:])

	return box.Seal(out, share, &nonce, recipientKey, ephemeralPriv), nil
}

// DecryptShare opens a ciphertext produced by EncryptShare using the
// recipient's Ed25519 private key.
func DecryptShare(priv ed25519.PrivateKey, ciphertext []byte) ([]byte, error) {
	if err := ValidateEnvelope(ciphertext); err != nil {
		return nil, err
	}

	recipientKey, err := EncryptionPrivateKey(priv)
	if err != nil {
		return nil, err
	}
	defer clear(recipientKey[:])

	var ephemeralPub [keySize]byte
	var nonce [nonceSize]byte
	copy(ephemeralPub[:], ciphertext[1:1+keySize])
	copy(nonce[:], ciphertext[1+keySize:headerLen])

	share, ok := box.Open(nil, ciphertext[headerLen:], &nonce, &ephemeralPub, recipientKey)
	if !ok {
		return nil, ErrDecryptionFailed
	}
	return share, nil
}

// ValidateEnvelope checks the structure of a share ciphertext without decrypting it.
func ValidateEnvelope(ciphertext []byte) error {
	if len(ciphertext) > interfaces.MaxCiphertextLength {
		return ErrCiphertextTooLarge
	}
	if len(ciphertext) <= headerLen+box.Overhead {
		return fmt.Errorf("%w: too short", ErrMalformedEnvelope)
	}
	if ciphertext[0] != EnvelopeVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrMalformedEnvelope, ciphertext[0])
	}
	return nil
}
