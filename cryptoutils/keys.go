package cryptoutils

import (
	"crypto/ed25519"
	"crypto/sha512"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
)

// EncryptionPublicKey derives the X25519 public key matching an Ed25519
// signing key by mapping the Edwards point to its Montgomery u-coordinate.
// It is the public half of EncryptionPrivateKey.
func EncryptionPublicKey(pub ed25519.PublicKey) (*[32]byte, error) {
	if len(pub) != ed25519.PublicKeySize {
		return nil, errors.New("invalid ed25519 public key length")
	}

	point, err := new(edwards25519.Point).SetBytes(pub)
	if err != nil {
		return nil, fmt.Errorf("invalid ed25519 public key: %w", err)
	}

	var out [32]byte
	copy(out[:], point.BytesMontgomery())
	return &out, nil
}

// EncryptionPrivateKey derives the X25519 private key from an Ed25519 private
// key: the first 32 bytes of SHA-512(seed), clamped as in RFC 7748.
// This is the scalar Ed25519 itself signs with, so the result always matches
// EncryptionPublicKey of the corresponding public key.
func EncryptionPrivateKey(priv ed25519.PrivateKey) (*[32]byte, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, errors.New("invalid ed25519 private key length")
	}

	digest := sha512.Sum512(priv.Seed())
	defer clear(digest[:])

	var out [32]byte
	copy(out[:], digest[:32])
	out[0] &= 248
	out[31] &= 127
	out[31] |= 64
	return &out, nil
}
