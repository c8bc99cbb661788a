package willhandler

import (
	"time"

	"github.com/ruteri/will-escrow-backend/escrow"
	"github.com/ruteri/will-escrow-backend/interfaces"
	"github.com/ruteri/will-escrow-backend/sharing"
)

// NonceRequest asks for a challenge nonce for one intent.
type NonceRequest struct {
	Identity interfaces.Identity `json:"identity"`
	Intent   interfaces.Intent   `json:"intent"`
}

// NonceResponse carries the nonce and a ready-to-sign challenge message.
type NonceResponse struct {
	Nonce     string    `json:"nonce"`
	Message   string    `json:"message"`
	ExpiresAt time.Time `json:"expires_at"`
}

// LoginRequest is a signed login challenge.
type LoginRequest struct {
	Identity  interfaces.Identity `json:"identity"`
	Message   string              `json:"message"`
	Signature string              `json:"signature"`
}

// LoginResponse carries the session token.
type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// InitiateRequest is the owner's combination call. R2 is hex encoded; shares
// use their hex text form.
type InitiateRequest struct {
	Beneficiary interfaces.Identity `json:"beneficiary"`
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	ReleaseTime time.Time           `json:"release_time"`

	R2 string        `json:"r2"`
	U3 sharing.Share `json:"u3"`
	U4 sharing.Share `json:"u4"`
	B3 sharing.Share `json:"b3"`
	B4 sharing.Share `json:"b4"`

	Proof escrow.Proof `json:"proof"`
}

// InitiateResponse returns the will id and the platform shares S1 and S2.
type InitiateResponse struct {
	WillID interfaces.WillID `json:"will_id"`
	S1     sharing.Share     `json:"s1"`
	S2     sharing.Share     `json:"s2"`
}

// SubmitRequest carries the finished-share ciphertexts, base64 encoded.
type SubmitRequest struct {
	OwnerCiphertext       []byte       `json:"owner_ciphertext"`
	BeneficiaryCiphertext []byte       `json:"beneficiary_ciphertext"`
	Proof                 escrow.Proof `json:"proof"`
}

// ProofRequest is the body of claim and revoke requests.
type ProofRequest struct {
	Proof escrow.Proof `json:"proof"`
}

// ClaimResponse is the disclosure payload.
type ClaimResponse struct {
	WillID                interfaces.WillID `json:"will_id"`
	BeneficiaryCiphertext []byte            `json:"beneficiary_ciphertext"`
	PlatformShare3        sharing.Share     `json:"platform_share_3"`
	PlatformShare4        sharing.Share     `json:"platform_share_4"`
}

// OwnerShareResponse carries the owner's escrowed ciphertext.
type OwnerShareResponse struct {
	WillID          interfaces.WillID `json:"will_id"`
	OwnerCiphertext []byte            `json:"owner_ciphertext"`
}

// ErrorResponse is the body of every non-2xx response. Status is set for
// lifecycle errors and names the will's current status.
type ErrorResponse struct {
	Error  string `json:"error"`
	Status string `json:"status,omitempty"`
	Field  string `json:"field,omitempty"`
}
