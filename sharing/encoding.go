package sharing

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// BlockSize is the granularity of encoded secrets.
	BlockSize = 32
	// MinSecretLength rejects trivially short secrets.
	MinSecretLength = 8
	// MaxSecretLength bounds the secret so its encoding stays well below the ciphertext limit.
	MaxSecretLength = 512

	lengthPrefix = 2
)

var ErrInvalidEncoding = errors.New("invalid secret encoding")

// MinEncodedLength and MaxEncodedLength bound the length L of any encoded secret.
var (
	MinEncodedLength = EncodedLength(MinSecretLength)
	MaxEncodedLength = EncodedLength(MaxSecretLength)
)

// EncodedLength returns L for a secret of n bytes.
func EncodedLength(n int) int {
	total := lengthPrefix + n
	return (total + BlockSize - 1) / BlockSize * BlockSize
}

// ValidEncodedLength reports whether l is the length of some encoded secret.
func ValidEncodedLength(l int) bool {
	return l%BlockSize == 0 && l >= MinEncodedLength && l <= MaxEncodedLength
}

// EncodeSecret encodes a secret as a big-endian uint16 length, the secret,
// and zero padding up to a multiple of BlockSize.
func EncodeSecret(secret []byte) ([]byte, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("secret must be at least %d bytes", MinSecretLength)
	}
	if len(secret) > MaxSecretLength {
		return nil, fmt.Errorf("secret must be at most %d bytes", MaxSecretLength)
	}

	out := make([]byte, EncodedLength(len(secret)))
	binary.BigEndian.PutUint16(out, uint16(len(secret)))
	copy(out[lengthPrefix:], secret)
	return out, nil
}

// DecodeSecret reverses EncodeSecret. The returned slice is a fresh copy.
func DecodeSecret(encoded []byte) ([]byte, error) {
	if !ValidEncodedLength(len(encoded)) {
		return nil, fmt.Errorf("%w: length %d", ErrInvalidEncoding, len(encoded))
	}

	n := int(binary.BigEndian.Uint16(encoded))
	if n < MinSecretLength || n > MaxSecretLength || lengthPrefix+n > len(encoded) {
		return nil, fmt.Errorf("%w: declared length %d", ErrInvalidEncoding, n)
	}
	for _, b := range encoded[lengthPrefix+n:] {
		if b != 0 {
			return nil, fmt.Errorf("%w: non-zero padding", ErrInvalidEncoding)
		}
	}

	return append([]byte(nil), encoded[lengthPrefix:lengthPrefix+n]...), nil
}
