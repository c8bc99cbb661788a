// Package interfaces defines the core types and contracts of the will escrow
// service, separating interface definitions from implementations.
//
// # Store Interfaces
//
// WillStore: Transactional persistence for wills and the two composed shares
// the coordinator retains for each will. Creation enforces one will per
// (owner, name) and updates run under a per-will lock.
//
// NonceStore: Single-use authentication nonces, at most one outstanding per
// identity and intent, consumed by an atomic compare-and-delete.
//
// # Storage Interfaces
//
// StorageBackend: Content-addressed storage for share ciphertexts across
// multiple backend types (file, S3, IPFS, Vault, memory).
//
// StorageBackendFactory: Creates storage backends from URI strings and manages
// multi-backend configurations for redundant storage.
//
// # Ledger Interface
//
// ClaimLedger: The external claim oracle. The service never infers that a
// will was claimed from its own state alone.
//
// # Errors
//
// ValidationError, AuthError and StateError are typed errors inspected with
// errors.As. ErrIntegrity and ErrLedgerUnavailable are sentinels; the latter is
// the only retryable condition.
package interfaces
