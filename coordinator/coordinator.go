// Package coordinator implements the service side of share composition.
//
// The owner sends the platform mask R2 together with its shares of the masked
// secret (U3, U4) and of the beneficiary mask (B3, B4). The coordinator shares
// R2 itself and retains, at positions 3 and 4,
//
//	C3 = U3 ^ B3 ^ S3
//	C4 = U4 ^ B4 ^ S4
//
// returning S1 and S2 to the owner. Since sharing is linear, C1..C4 form a
// single (4,3) sharing of the original secret, of which the coordinator holds
// one fewer than the threshold.
package coordinator

import (
	"fmt"

	"github.com/ruteri/will-escrow-backend/interfaces"
	"github.com/ruteri/will-escrow-backend/sharing"
)

// Contribution is everything the owner sends for a combination call.
type Contribution struct {
	R2 []byte        `json:"r2"`
	U3 sharing.Share `json:"u3"`
	U4 sharing.Share `json:"u4"`
	B3 sharing.Share `json:"b3"`
	B4 sharing.Share `json:"b4"`
}

// Wipe zeroes every value in the contribution.
func (c *Contribution) Wipe() {
	sharing.Wipe(c.R2)
	sharing.WipeShares(c.U3, c.U4, c.B3, c.B4)
}

// Validate checks lengths and positions. R2 must be a valid encoded length L
// and every share must carry L value bytes at its expected position.
func (c *Contribution) Validate() error {
	l := len(c.R2)
	if !sharing.ValidEncodedLength(l) {
		return interfaces.NewValidationError("r2", fmt.Sprintf("length %d is not a valid encoded length", l))
	}

	for _, f := range []struct {
		name     string
		share    sharing.Share
		position int
	}{
		{"u3", c.U3, 3},
		{"u4", c.U4, 4},
		{"b3", c.B3, 3},
		{"b4", c.B4, 4},
	} {
		if f.share.ValueLen() != l {
			return interfaces.NewValidationError(f.name, fmt.Sprintf("expected %d value bytes, got %d", l, f.share.ValueLen()))
		}
		if f.share.Position() != f.position {
			return interfaces.NewValidationError(f.name, fmt.Sprintf("expected position %d, got %d", f.position, f.share.Position()))
		}
	}
	return nil
}

// Result holds the shares returned to the owner and the shares the coordinator retains.
type Result struct {
	S1 sharing.Share
	S2 sharing.Share
	C3 sharing.Share
	C4 sharing.Share
}

// Wipe zeroes all shares in the result.
func (r *Result) Wipe() {
	sharing.WipeShares(r.S1, r.S2, r.C3, r.C4)
}

// Combine validates the contribution, shares R2 and composes the retained shares.
// S3, S4 and every intermediate are zeroed before returning, on every path.
// Validation failures return a *interfaces.ValidationError before any share
// material is generated.
func Combine(c *Contribution) (*Result, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	s, err := sharing.Split(c.R2)
	if err != nil {
		return nil, fmt.Errorf("failed to share platform mask: %w", err)
	}
	defer sharing.WipeShares(s[2], s[3])

	c3, err := sharing.Xor(c.U3, c.B3, s[2])
	if err != nil {
		sharing.WipeShares(s[0], s[1])
		return nil, fmt.Errorf("failed to compose share 3: %w", err)
	}
	c4, err := sharing.Xor(c.U4, c.B4, s[3])
	if err != nil {
		sharing.WipeShares(s[0], s[1], c3)
		return nil, fmt.Errorf("failed to compose share 4: %w", err)
	}

	return &Result{S1: s[0], S2: s[1], C3: c3, C4: c4}, nil
}
