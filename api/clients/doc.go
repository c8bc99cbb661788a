/*
Package clients provides a Go client for the will escrow API.

WillClient runs the client side of the protocol, so secrets and masks never
leave the caller's process in the clear:

  - CreateWill - split the secret, send the platform contribution, finish the
    owner and beneficiary shares, encrypt and submit them
  - ClaimWill - claim as beneficiary, decrypt the beneficiary share and
    recover the secret, retrying while the claim ledger is unavailable
  - RevokeWill, GetWill, OwnerShare

Every sensitive action is authorized by a freshly requested nonce signed with
the wallet key. The session token is obtained lazily on first use.

# Example Usage

	client, err := clients.NewWillClient("https://escrow.example.com", ownerKey, logger)
	will, err := client.CreateWill(ctx, secret, clients.WillSpec{
	    Beneficiary: heir,
	    Name:        "vault",
	    ReleaseTime: time.Now().AddDate(1, 0, 0),
	})

Non-2xx responses are returned as *APIError carrying the HTTP status, the
will's status for lifecycle conflicts and the offending field for validation
errors.
*/
package clients
