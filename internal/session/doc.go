// Package session keeps the console operator's authentication state.
//
// The package is built from small parts wired together by the caller:
//
//   - Storage tiers: MemoryStorage (ephemeral, process lifetime) and
//     RedisStorage (durable, survives console restarts).
//   - TokenStore: keeps the bearer token, the cached UserProfile and the
//     numeric user id together in exactly one tier.
//   - Validator: decodes the token's claims segment and checks expiry.
//   - Session: the in-memory source of truth (token, user, initialized)
//     with a one-shot initialization gate and a snapshot stream.
//   - Coordinator: single-flight token renewal, fired by a timer ahead of
//     expiry or by a 401 seen on the wire.
//
// # Trust model
//
// Tokens are stored readable by anything that can read the storage tier
// (process memory or the Redis namespace). The Validator never verifies
// signatures: the backend re-validates every protected call, and the checks
// here only decide what the console shows. They are not a security boundary.
package session
