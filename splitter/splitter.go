// Package splitter implements the owner and beneficiary sides of the escrow
// protocol: masking and sharing a secret before the combination call,
// finishing the owner and beneficiary shares afterwards, and recovering the
// secret from any three finished shares.
package splitter

import (
	"errors"
	"fmt"

	"github.com/ruteri/will-escrow-backend/coordinator"
	"github.com/ruteri/will-escrow-backend/sharing"
)

// Session holds the owner's local protocol state between the combination
// call and share finalization. Call Wipe when done, on every path.
type Session struct {
	// masks: r1 belongs to the beneficiary leg, r2 to the platform leg
	r1 []byte
	r2 []byte

	u []sharing.Share // shares of secret ^ r1 ^ r2
	b []sharing.Share // shares of r1
}

// NewSession encodes the secret, draws both masks and produces the two
// independent sharings. The encoded secret and the masked value never leave
// this function.
func NewSession(secret []byte) (_ *Session, err error) {
	encoded, err := sharing.EncodeSecret(secret)
	if err != nil {
		return nil, err
	}
	defer sharing.Wipe(encoded)

	s := &Session{}
	defer func() {
		if err != nil {
			s.Wipe()
		}
	}()

	if s.r1, err = sharing.Random(len(encoded)); err != nil {
		return nil, err
	}
	if s.r2, err = sharing.Random(len(encoded)); err != nil {
		return nil, err
	}

	masked, err := sharing.XorBytes(encoded, s.r1, s.r2)
	if err != nil {
		return nil, err
	}
	defer sharing.Wipe(masked)

	if s.u, err = sharing.Split(masked); err != nil {
		return nil, fmt.Errorf("failed to share masked secret: %w", err)
	}
	if s.b, err = sharing.Split(s.r1); err != nil {
		return nil, fmt.Errorf("failed to share beneficiary mask: %w", err)
	}

	return s, nil
}

// Contribution returns copies of the values sent to the coordinator: R2, U3,
// U4, B3 and B4. U1, U2, B1, B2 and R1 are never exposed.
func (s *Session) Contribution() *coordinator.Contribution {
	return &coordinator.Contribution{
		R2: clone(s.r2),
		U3: clone(s.u[2]),
		U4: clone(s.u[3]),
		B3: clone(s.b[2]),
		B4: clone(s.b[3]),
	}
}

// Finalize composes the owner share C1 = U1 ^ B1 ^ S1 and the beneficiary
// share C2 = U2 ^ B2 ^ S2 from the coordinator's response.
func (s *Session) Finalize(s1, s2 sharing.Share) (c1, c2 sharing.Share, err error) {
	if s1.Position() != 1 || s2.Position() != 2 {
		return nil, nil, errors.New("coordinator returned shares at unexpected positions")
	}

	if c1, err = sharing.Xor(s.u[0], s.b[0], s1); err != nil {
		return nil, nil, fmt.Errorf("failed to compose owner share: %w", err)
	}
	if c2, err = sharing.Xor(s.u[1], s.b[1], s2); err != nil {
		sharing.WipeShares(c1)
		return nil, nil, fmt.Errorf("failed to compose beneficiary share: %w", err)
	}
	return c1, c2, nil
}

// Wipe zeroes the masks and all eight shares.
func (s *Session) Wipe() {
	sharing.Wipe(s.r1, s.r2)
	sharing.WipeShares(s.u...)
	sharing.WipeShares(s.b...)
}

// Recover reconstructs and decodes the secret from any three finished shares,
// typically the decrypted C2 and the coordinator's C3 and C4.
func Recover(shares ...sharing.Share) ([]byte, error) {
	encoded, err := sharing.Combine(shares...)
	if err != nil {
		return nil, err
	}
	defer sharing.Wipe(encoded)

	secret, err := sharing.DecodeSecret(encoded)
	if err != nil {
		return nil, fmt.Errorf("reconstructed value is not a valid secret: %w", err)
	}
	return secret, nil
}

func clone(b []byte) []byte {
	return append([]byte(nil), b...)
}
