// Package cryptoutils provides the cryptographic operations around share
// custody in the will escrow service.
//
// Identities are Ed25519 public keys. Shares are encrypted to an identity by
// deriving an X25519 key from it, so the only key a user has to hold is the
// signing key of their wallet.
//
// # Key Derivation
//
// There is exactly one derivation, used on both the encrypt and decrypt side:
//
//   - Private: clamp(SHA-512(ed25519 seed)[0:32]), the Ed25519 signing scalar
//   - Public: the Montgomery form of the Ed25519 public point
//
// The two agree because X25519(private, basepoint) equals the Montgomery form
// of the Edwards point private*B, which is the Ed25519 public key.
//
// # Encryption Format
//
// Shares are sealed with nacl/box under a fresh ephemeral key pair:
//
//	[version (1 byte)][ephemeral X25519 public key (32 bytes)][nonce (24 bytes)][box]
//
// The whole envelope is at most 1024 bytes.
//
// # Signatures
//
// Signed requests carry a base58 detached Ed25519 signature over a message
// holding a "Nonce: <hex>" line. VerifySignature checks the signature and
// ExtractNonce pulls the nonce out for single-use checking.
package cryptoutils
