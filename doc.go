// Package keyrail is an embeddable session and authorization engine.
//
// Applications keep their own user storage and expose it through the
// [Directory] interface; keyrail owns everything session-shaped: typed
// single-use tokens in Redis, argon2id password digests, time-based and
// static one-time-code factors, HMAC-SHA-512 signed credentials, atomic
// refresh rotation that stays correct under concurrent duplicates, and
// scope-aware permission checks over an in-memory grant index.
//
// Construct an [Engine] through [New]:
//
//	engine, err := keyrail.New().
//		WithSigningKey(key).
//		WithRedis(client).
//		WithDirectory(dir).
//		Build()
package keyrail
