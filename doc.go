// Package auth issues session tokens for password and federated logins.
//
// Token lifetimes:
//   - ResolveTTL maps a user's role to a TTLDecision using TTLConfig. A role
//     override of "never" (any case) marks the role's tokens as never
//     expiring; a positive number of minutes replaces the default; anything
//     else falls back to the default.
//   - Issuance is the only path that produces tokens. Register, login,
//     refresh and federated login all call it, so every flavor honors the
//     same policy.
//   - TokenIssuer takes the ttl as an argument. Signers that only expose a
//     mutable default ttl can be wrapped in ScopedTTLIssuer.
//
// Accounts:
//   - Accounts implements register, login (email or phone) and refresh on
//     top of the bun backed Users store.
//   - Federated logins live in the federation sub-package.
//
// Activity sinks:
//   - ActivitySink receives register, login, refresh and federated login
//     events. Sinks run best-effort (errors are logged).
package auth
