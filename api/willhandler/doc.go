// Package willhandler implements the HTTP API of the will escrow service.
//
// Key components:
//   - Handler: chi routes for challenge login and the will lifecycle
//   - RequireSession: Bearer session middleware shared by every will route
//
// Every state-changing will route additionally requires a signed proof: a
// challenge message for the route's intent, signed with the caller's wallet key.
// Errors are returned as JSON with a status code derived from the error class:
//   - 400 for malformed input
//   - 401 for failed authentication and 403 for authenticated callers acting on
//     someone else's will
//   - 404 for unknown wills
//   - 409 for lifecycle conflicts, with the will's current status in the body
//   - 503 when the claim ledger cannot be reached
package willhandler
