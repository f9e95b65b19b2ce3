// Package token is the Redis-backed store for every short-lived secret the
// engine mints: authentication, refresh, exchange, invitation,
// password-reset, and factor-enrollment tokens.
//
// Correctness under concurrency comes from the storage layer, not from
// in-process locks: Redeem is a single Lua find-and-delete, and Rotate is a
// single Lua script that redeems the presented refresh token and commits
// the whole rotation write set, or none of it.
// Expiry is enforced twice — physically by key TTL and logically by the
// ExpiresAt field checked on every read — so a not-yet-evicted key never
// resurrects an expired token.
package token
