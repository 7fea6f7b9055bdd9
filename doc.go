// Package otpauth provides account registration confirmed by an emailed one
// time password (OTP), credential storage and bearer token issuance.
//
// Registration lifecycle:
//   - Register stores a PendingRegistration (password hash plus OTP) in a
//     PendingStore and asks the Notifier to deliver the code. A second Register
//     for the same email replaces the pending entry, the newest code wins.
//   - Verify checks the submitted code against the pending entry. On success the
//     Identity is created in the IdentityStore and the pending entry is removed,
//     so a code can only be used once.
//   - Login checks the password of a verified Identity and issues a JWT through
//     the TokenService.
//
// Stores:
//   - PendingStore has an in-memory implementation with a background sweeper and
//     a Redis implementation that relies on key TTLs.
//   - IdentityStore is backed by Bun. Email uniqueness is enforced by a unique
//     index so concurrent verifications resolve to a single winner.
//
// Errors:
//   - Every error returned by the Registrar is a go-errors value with a
//     category and text code. StatusFromError maps them to HTTP status codes.
//
// HTTP:
//   - NewHTTPServer mounts the JSON API under /api/auth on a go-router fiber
//     server. Profile and admin routes are guarded by middleware/jwtware.
package otpauth
