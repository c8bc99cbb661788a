package interfaces

import (
	"errors"
	"fmt"
)

var (
	// ErrWillNotFound is returned when no will exists for the given id.
	ErrWillNotFound = errors.New("will not found")

	// ErrDuplicateWill is returned when an owner already has a will with the same name.
	ErrDuplicateWill = errors.New("will with this name already exists for owner")

	// ErrShareRecordNotFound is returned by stores when a will has no share record.
	ErrShareRecordNotFound = errors.New("share record not found")

	// ErrIntegrity signals a broken storage invariant, such as an Active will
	// without its share record. Callers only ever see this opaque message.
	ErrIntegrity = errors.New("internal integrity failure")

	// ErrLedgerUnavailable is returned when the claim ledger cannot be reached
	// or returns an ambiguous answer. It is the only retryable error class.
	ErrLedgerUnavailable = errors.New("claim ledger unavailable")

	// ErrNonceNotFound is returned when no outstanding nonce exists for an identity and intent.
	ErrNonceNotFound = errors.New("no outstanding nonce")

	// ErrNonceMismatch is returned when the presented nonce is not the outstanding one.
	ErrNonceMismatch = errors.New("nonce mismatch")

	// ErrNonceExpired is returned when the outstanding nonce has expired.
	ErrNonceExpired = errors.New("nonce expired")
)

// ValidationError reports malformed or mismatched input. No state is mutated.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid %s: %s: %v", e.Field, e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// AuthError reports a failed authentication or authorization check.
// Forbidden is set when the caller is authenticated but is not the identity
// the action requires.
type AuthError struct {
	Reason    string
	Forbidden bool
	Err       error
}

func NewAuthError(reason string, err error) *AuthError {
	return &AuthError{Reason: reason, Err: err}
}

func NewForbiddenError(reason string) *AuthError {
	return &AuthError{Reason: reason, Forbidden: true}
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("unauthorized: %s: %v", e.Reason, e.Err)
	}
	return "unauthorized: " + e.Reason
}

func (e *AuthError) Unwrap() error { return e.Err }

// StateError reports an illegal lifecycle transition or an unmet release
// condition. Status carries the will's current status for diagnosis.
type StateError struct {
	Status WillStatus
	Reason string
}

func NewStateError(status WillStatus, reason string) *StateError {
	return &StateError{Status: status, Reason: reason}
}

func (e *StateError) Error() string {
	if e.Reason == "" {
		return e.Status.String()
	}
	return fmt.Sprintf("%s: %s", e.Status, e.Reason)
}
