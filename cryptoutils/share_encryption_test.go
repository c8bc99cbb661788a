package cryptoutils

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"testing"

	"github.com/ruteri/will-escrow-backend/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/curve25519"
)

func newIdentity(t *testing.T) (interfaces.Identity, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	id, err := interfaces.NewIdentityFromBytes(pub)
	require.NoError(t, err)
	return id, priv
}

// RFC 8032 test 1 key pair.
const (
	vectorSeed   = "9d61b19deffd5a60ba844af492ec2cc44449c5697b326919703bac031cae7f60"
	vectorPubkey = "d75a980182b10ab7d54bfed3c964073a0ee172f3daa62325af021a68f707511a"
)

func TestKeyDerivation_FixedVector(t *testing.T) {
	seed, err := hex.DecodeString(vectorSeed)
	require.NoError(t, err)
	priv := ed25519.NewKeyFromSeed(seed)
	assert.Equal(t, vectorPubkey, hex.EncodeToString(priv.Public().(ed25519.PublicKey)))

	xPriv, err := EncryptionPrivateKey(priv)
	require.NoError(t, err)
	xPub, err := EncryptionPublicKey(priv.Public().(ed25519.PublicKey))
	require.NoError(t, err)

	assert.Equal(t, byte(0), xPriv[0]&7, "private key must be clamped")
	assert.Equal(t, byte(64), xPriv[31]&192, "private key must be clamped")

	fromScalar, err := curve25519.X25519(xPriv[:], curve25519.Basepoint)
	require.NoError(t, err)
	assert.Equal(t, xPub[:], fromScalar, "derived key pair must be consistent")

	again, err := EncryptionPrivateKey(priv)
	require.NoError(t, err)
	assert.Equal(t, xPriv, again, "derivation must be deterministic")
}

func TestKeyDerivation_RandomKeys(t *testing.T) {
	for i := 0; i < 16; i++ {
		id, priv := newIdentity(t)
		xPriv, err := EncryptionPrivateKey(priv)
		require.NoError(t, err)
		xPub, err := EncryptionPublicKey(id.PublicKey())
		require.NoError(t, err)

		fromScalar, err := curve25519.X25519(xPriv[:], curve25519.Basepoint)
		require.NoError(t, err)
		assert.Equal(t, xPub[:], fromScalar)
	}
}

func TestKeyDerivation_InvalidInput(t *testing.T) {
	_, err := EncryptionPublicKey(make([]byte, 31))
	assert.Error(t, err)

	_, err = EncryptionPrivateKey(make([]byte, 10))
	assert.Error(t, err)
}

func TestEncryptShare_RoundTrip(t *testing.T) {
	id, priv := newIdentity(t)

	testCases := []struct {
		name  string
		share []byte
	}{
		{name: "Small share", share: []byte{0x01, 0x02, 0x03}},
		{name: "Typical share", share: bytes.Repeat([]byte{0xab}, 33)},
		{name: "Largest share", share: bytes.Repeat([]byte{0xcd}, 545)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ct, err := EncryptShare(id, tc.share)
			require.NoError(t, err)
			assert.Equal(t, EnvelopeVersion, ct[0])
			assert.LessOrEqual(t, len(ct), interfaces.MaxCiphertextLength)

			pt, err := DecryptShare(priv, ct)
			require.NoError(t, err)
			assert.Equal(t, tc.share, pt)
		})
	}
}

func TestEncryptShare_FreshEphemeralKeys(t *testing.T) {
	id, _ := newIdentity(t)
	share := []byte("same plaintext")

	a, err := EncryptShare(id, share)
	require.NoError(t, err)
	b, err := EncryptShare(id, share)
	require.NoError(t, err)

	assert.NotEqual(t, a[1:33], b[1:33], "ephemeral keys should differ")
	assert.NotEqual(t, a, b)
}

func TestEncryptShare_Exclusivity(t *testing.T) {
	owner, ownerPriv := newIdentity(t)
	beneficiary, beneficiaryPriv := newIdentity(t)
	share := []byte("share for the beneficiary only")

	toBeneficiary, err := EncryptShare(beneficiary, share)
	require.NoError(t, err)
	toOwner, err := EncryptShare(owner, share)
	require.NoError(t, err)

	_, err = DecryptShare(ownerPriv, toBeneficiary)
	assert.ErrorIs(t, err, ErrDecryptionFailed)

	_, err = DecryptShare(beneficiaryPriv, toOwner)
	assert.ErrorIs(t, err, ErrDecryptionFailed)

	pt, err := DecryptShare(beneficiaryPriv, toBeneficiary)
	require.NoError(t, err)
	assert.Equal(t, share, pt)
}

func TestDecryptShare_Tampered(t *testing.T) {
	id, priv := newIdentity(t)
	ct, err := EncryptShare(id, []byte("integrity protected"))
	require.NoError(t, err)

	tampered := append([]byte(nil), ct...)
	tampered[len(tampered)-1] ^= 0x01
	_, err = DecryptShare(priv, tampered)
	assert.ErrorIs(t, err, ErrDecryptionFailed)

	badVersion := append([]byte(nil), ct...)
	badVersion[0] = 0x02
	_, err = DecryptShare(priv, badVersion)
	assert.ErrorIs(t, err, ErrMalformedEnvelope)

	_, err = DecryptShare(priv, ct[:40])
	assert.ErrorIs(t, err, ErrMalformedEnvelope)
}

func TestEncryptShare_TooLarge(t *testing.T) {
	id, _ := newIdentity(t)
	_, err := EncryptShare(id, make([]byte, interfaces.MaxCiphertextLength))
	assert.ErrorIs(t, err, ErrCiphertextTooLarge)

	assert.ErrorIs(t, ValidateEnvelope(make([]byte, interfaces.MaxCiphertextLength+1)), ErrCiphertextTooLarge)
}
