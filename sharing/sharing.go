// Package sharing implements (4,3) threshold sharing at fixed positions over
// GF(2^8) on top of github.com/hashicorp/vault/shamir.
//
// Vault assigns random x-coordinates on every split, so shares from two
// independent splits cannot be combined position-wise. Split therefore
// re-evaluates each polynomial at the fixed positions 1..4. Because the field
// has characteristic 2, shifting every x-coordinate of a sharing of f by k
// yields a sharing of g(x) = f(x+k), and combining it at zero returns f(k).
//
// Shares keep vault's layout, y-values followed by a single x-coordinate
// byte, so shamir.Combine reconstructs them directly. Sharing is linear:
// XOR-ing shares at the same position gives a share of the XOR of the
// underlying values.
package sharing

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/hashicorp/vault/shamir"
)

const (
	// Parts is the number of shares produced by Split.
	Parts = 4
	// Threshold is the number of shares required to reconstruct.
	Threshold = 3
)

var (
	ErrShareTooShort     = errors.New("share too short")
	ErrLengthMismatch    = errors.New("share lengths differ")
	ErrPositionMismatch  = errors.New("share positions differ")
	ErrInvalidPosition   = errors.New("share position out of range")
	ErrDuplicatePosition = errors.New("duplicate share position")
	ErrBelowThreshold    = errors.New("not enough shares to reconstruct")
)

// Share is a single share: the y-values followed by its position byte.
type Share []byte

// Position returns the share's x-coordinate, 1..4 for shares produced by Split.
func (s Share) Position() int {
	if len(s) == 0 {
		return 0
	}
	return int(s[len(s)-1])
}

// ValueLen returns the length of the shared value.
func (s Share) ValueLen() int {
	if len(s) == 0 {
		return 0
	}
	return len(s) - 1
}

// Validate checks the share carries at least one value byte and a position in 1..4.
func (s Share) Validate() error {
	if len(s) < 2 {
		return ErrShareTooShort
	}
	if p := s.Position(); p < 1 || p > Parts {
		return fmt.Errorf("%w: %d", ErrInvalidPosition, p)
	}
	return nil
}

func (s Share) String() string {
	return hex.EncodeToString(s)
}

func (s Share) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(s)), nil
}

func (s *Share) UnmarshalText(text []byte) error {
	raw, err := hex.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("invalid share encoding: %w", err)
	}
	*s = raw
	return nil
}

// Split produces a (4,3) sharing of value. The returned slice holds the
// share for position k at index k-1.
func Split(value []byte) ([]Share, error) {
	if len(value) == 0 {
		return nil, errors.New("cannot split an empty value")
	}

	points, err := shamir.Split(value, Threshold, Threshold)
	if err != nil {
		return nil, fmt.Errorf("failed to split value: %w", err)
	}
	defer func() {
		for _, p := range points {
			Wipe(p)
		}
	}()

	shifted := make([][]byte, len(points))
	for i, p := range points {
		shifted[i] = make([]byte, len(p))
	}
	defer func() {
		for _, p := range shifted {
			Wipe(p)
		}
	}()

	shares := make([]Share, Parts)
	for k := 1; k <= Parts; k++ {
		for i, p := range points {
			copy(shifted[i], p)
			shifted[i][len(p)-1] ^= byte(k)
		}

		y, err := shamir.Combine(shifted)
		if err != nil {
			WipeShares(shares...)
			return nil, fmt.Errorf("failed to evaluate share %d: %w", k, err)
		}

		share := make(Share, len(value)+1)
		copy(share, y)
		share[len(value)] = byte(k)
		Wipe(y)
		shares[k-1] = share
	}

	return shares, nil
}

// Combine reconstructs the value from at least Threshold shares at distinct positions.
func Combine(shares ...Share) ([]byte, error) {
	if len(shares) < Threshold {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrBelowThreshold, len(shares), Threshold)
	}

	seen := make(map[int]bool, len(shares))
	parts := make([][]byte, len(shares))
	for i, s := range shares {
		if err := s.Validate(); err != nil {
			return nil, err
		}
		if len(s) != len(shares[0]) {
			return nil, ErrLengthMismatch
		}
		if seen[s.Position()] {
			return nil, fmt.Errorf("%w: %d", ErrDuplicatePosition, s.Position())
		}
		seen[s.Position()] = true
		parts[i] = s
	}

	value, err := shamir.Combine(parts)
	if err != nil {
		return nil, fmt.Errorf("failed to combine shares: %w", err)
	}
	return value, nil
}

// Xor combines shares at the same position into a share, at that position,
// of the XOR of their underlying values.
func Xor(shares ...Share) (Share, error) {
	if len(shares) == 0 {
		return nil, errors.New("no shares to combine")
	}

	first := shares[0]
	if err := first.Validate(); err != nil {
		return nil, err
	}

	out := make(Share, len(first))
	copy(out, first)
	for _, s := range shares[1:] {
		if len(s) != len(first) {
			Wipe(out)
			return nil, ErrLengthMismatch
		}
		if s.Position() != first.Position() {
			Wipe(out)
			return nil, fmt.Errorf("%w: %d and %d", ErrPositionMismatch, first.Position(), s.Position())
		}
		subtle.XORBytes(out[:len(out)-1], out[:len(out)-1], s[:len(s)-1])
	}
	return out, nil
}

// XorBytes returns a XOR b XOR ... for equal-length inputs.
func XorBytes(values ...[]byte) ([]byte, error) {
	if len(values) == 0 {
		return nil, errors.New("nothing to combine")
	}
	out := make([]byte, len(values[0]))
	copy(out, values[0])
	for _, v := range values[1:] {
		if len(v) != len(out) {
			Wipe(out)
			return nil, ErrLengthMismatch
		}
		subtle.XORBytes(out, out, v)
	}
	return out, nil
}

// Random returns n bytes from the system's secure random source.
func Random(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("failed to read random bytes: %w", err)
	}
	return buf, nil
}

// Wipe zeroes the given buffers in place.
func Wipe(bufs ...[]byte) {
	for _, b := range bufs {
		clear(b)
	}
}

// WipeShares zeroes every share in place.
func WipeShares(shares ...Share) {
	for _, s := range shares {
		clear(s)
	}
}
