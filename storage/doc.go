// Package storage persists will escrow state.
//
// Will records, platform share records and login/action nonces live in a
// WillStore/NonceStore: MemoryStore for development and tests, PostgresStore
// for deployments. The Postgres schema is managed by goose migrations
// embedded in the migrations package.
//
// Share ciphertexts are opaque blobs kept in content-addressed backends,
// identified by the SHA-256 hash of their bytes. Backends are specified
// using URI format:
//
//	[scheme]://[auth@]host[:port][/path][?params]
//
// Supported URI schemes:
//
//   - file:///var/lib/will-escrow/ciphertexts/
//   - s3://bucket-name/prefix?region=us-west-2&endpoint=http://minio:9000&path_style=true
//   - ipfs://localhost:5001/will-escrow?timeout=30s
//   - vault://vault.example.com:8200/secret/will-escrow?token=...
//   - memory://
//
// Owner and beneficiary ciphertexts are stored in separate namespaces of each
// backend. Every backend verifies fetched bytes against the requested content
// ID, so a corrupted or substituted blob is never returned to a caller.
// MultiStorageBackend replicates stores across several backends and falls
// back between them on fetch.
package storage
