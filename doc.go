// Package auth provides the authentication core of a multi-tenant CMS:
// signed tokens, a ledger of issued tokens, credential storage, the session
// flows and the authorization guard.
//
// Tokens:
//   - TokenCodec signs HS256 tokens carrying a subject, a kind and an optional
//     permission snapshot. Expiry is checked when a token is parsed. A previous
//     signing secret can be configured so tokens survive a rotation.
//   - TokenLedger records every issued token by its SHA-256 digest. A token is
//     usable only while its signature verifies and its ledger record exists,
//     is not revoked and has not expired. Consume is single use.
//
// Sessions:
//   - SessionManager runs login, refresh, logout, forgot and reset password and
//     email verification. Login resolves to one of rejected, verification
//     required, onboarding required or authenticated. Refresh rotates the pair
//     and every refresh failure is reported as ErrPleaseAuthenticate.
//
// Authorization:
//   - Guard turns a bearer header into an Identity and checks permissions
//     against the live user record, never the token snapshot. Users of one
//     company cannot act on another company's users.
//
// Activity sinks:
//   - ActivitySink receives audit events for logins, token rotation, sub user
//     changes and denied requests. Sinks run best-effort, errors are logged.
package auth
