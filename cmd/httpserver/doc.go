// Package main (cmd/httpserver) runs the will escrow service.
//
// The service keeps will records in PostgreSQL (or in memory for
// development), stores share ciphertexts in one or more blob backends and
// consults an Ethereum claim ledger before releasing shares. Without a
// configured ledger every claim fails closed.
//
// Example usage:
//
//	will-escrow --listen-addr=0.0.0.0:8080 \
//	    --domain=escrow.example.com \
//	    --database-dsn=postgres://escrow@localhost/escrow \
//	    --blob-storage=file:///var/lib/will-escrow \
//	    --blob-storage=s3://escrow-ciphertexts/wills?region=eu-west-1 \
//	    --rpc-addr=https://rpc.example.com \
//	    --ledger-contract=0x5FbDB2315678afecb367f032d93F642f64180aa3 \
//	    --session-secret=$(openssl rand -hex 32)
//
// Every flag can also be set through its environment variable, for example
// DATABASE_DSN or SESSION_SECRET.
package main
