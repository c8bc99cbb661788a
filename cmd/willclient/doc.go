// Package main (cmd/willclient) is the owner and beneficiary command line
// client of the will escrow service.
//
// The secret never leaves the machine in the clear: create splits it locally
// and only sends masked shares, and claim reconstructs it locally from the
// beneficiary's decrypted share and the two platform shares.
//
//	willclient --key-file=owner.key keygen
//	echo 'seed words ...' | willclient --key-file=owner.key create \
//	    --beneficiary=<base58 identity> --name=vault --release-time=2031-01-01T00:00:00Z
//	willclient --key-file=heir.key claim --will-id=<uuid>
package main
