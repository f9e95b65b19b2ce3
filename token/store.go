package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/keyrail/keyrail/internal"
)

var (
	// ErrNotFound is returned when a secret is absent, expired, or already
	// redeemed. Callers cannot distinguish the three cases.
	ErrNotFound = errors.New("token not found")
	// ErrSecretExists is returned when a caller-supplied secret collides
	// with a live token of the same type.
	ErrSecretExists = errors.New("token secret already exists")
	// ErrCorrupt is returned when a stored blob fails to decode.
	ErrCorrupt = errors.New("token record corrupt")
	// ErrLineageMismatch is returned by Rotate when the presented refresh
	// token is not paired with the expected authentication lineage. The
	// refresh token is consumed.
	ErrLineageMismatch = errors.New("refresh token lineage mismatch")
	// ErrRedisUnavailable wraps transport-level storage failures.
	ErrRedisUnavailable = errors.New("redis unavailable")
)

const defaultExchangeTTL = 60 * time.Second

// redeemScript atomically reads and deletes a token key so that exactly one
// concurrent caller observes the record.
const redeemScript = `
local data = redis.call("GET", KEYS[1])
if not data then
  return false
end
redis.call("DEL", KEYS[1])
return data
`

var redeemLua = redis.NewScript(redeemScript)

// rotateScript is the refresh-rotation transaction, including redemption of
// the presented refresh token: every concurrent caller reaches this one
// atomic decision point, so there is no window where a racer can observe the
// refresh token consumed but the exchange record not yet written. KEYS:
//
//	1 old authentication token
//	2 exchange token (keyed by the old authentication secret)
//	3 new authentication token
//	4 new refresh token
//	5 per-user authentication index
//	6 per-user refresh index
//	7 presented refresh token
//
// If the exchange key already exists a concurrent rotation won the race; the
// script returns the stored record untouched and writes nothing. The refresh
// record must belong to the expected user and carry the expected
// authentication secret; a mismatch consumes it without rotating. Otherwise
// the whole write set commits in one step.
const rotateScript = `
local existing = redis.call("GET", KEYS[2])
if existing then
  return {0, existing}
end

local blob = redis.call("GET", KEYS[7])
if not blob then
  return {2}
end
local rec = cjson.decode(blob)
if tonumber(ARGV[10]) >= tonumber(rec["expires_at"]) then
  redis.call("DEL", KEYS[7])
  return {2}
end
if rec["user_id"] ~= ARGV[11] or rec["payload"] == nil or rec["payload"]["auth_secret"] ~= ARGV[12] then
  redis.call("DEL", KEYS[7])
  return {3}
end

local exchange_ttl = tonumber(ARGV[6])
local old_ttl = redis.call("PTTL", KEYS[1])
if old_ttl > 0 and old_ttl < exchange_ttl then
  exchange_ttl = old_ttl
end

redis.call("SET", KEYS[3], ARGV[1], "PX", tonumber(ARGV[2]))
redis.call("SET", KEYS[4], ARGV[3], "PX", tonumber(ARGV[4]))
redis.call("SET", KEYS[2], ARGV[5], "PX", exchange_ttl)
redis.call("DEL", KEYS[1])
redis.call("DEL", KEYS[7])
redis.call("SREM", KEYS[5], ARGV[7])
redis.call("SADD", KEYS[5], ARGV[8])
redis.call("SREM", KEYS[6], ARGV[13])
redis.call("SADD", KEYS[6], ARGV[9])
return {1}
`

var rotateLua = redis.NewScript(rotateScript)

const (
	rotateStatusAlreadyRotated  int64 = 0
	rotateStatusRotated         int64 = 1
	rotateStatusRefreshNotFound int64 = 2
	rotateStatusMismatch        int64 = 3
)

// Store persists typed short-lived secrets in Redis. Uniqueness is enforced
// by the key layout plus SET NX; redemption and rotation are single Lua
// calls, so correctness does not depend on in-process locking.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

// NewStore creates a token [Store]. prefix namespaces every key; the empty
// string selects "kr".
func NewStore(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "kr"
	}
	return &Store{redis: client, prefix: prefix}
}

func (s *Store) key(typ Type, secret string) string {
	return s.prefix + ":tok:" + string(typ) + ":" + secret
}

func (s *Store) userIndexKey(userID string, typ Type) string {
	suffix := "a"
	if typ == TypeSessionRefresh {
		suffix = "r"
	}
	return s.prefix + ":u:" + userID + ":" + suffix
}

func (s *Store) indexed(typ Type) bool {
	return typ == TypeAuthentication || typ == TypeSessionRefresh
}

func (s *Store) aliasKey(typ Type, alias string) string {
	return s.prefix + ":alias:" + string(typ) + ":" + alias
}

// IssueRequest describes one token to mint. Secret is optional; when empty
// the store generates a fresh 256-bit secret. Alias optionally registers a
// stable secondary lookup key (a user id, typically) resolving to the
// secret, so callers never have to reuse a guessable value as the secret
// itself. A re-issue under the same alias repoints it.
type IssueRequest struct {
	Type    Type
	Secret  string
	Alias   string
	UserID  string
	OrgID   string
	Payload map[string]string
	TTL     time.Duration
}

// Issue creates one token. Secret uniqueness is enforced with SET NX; a
// caller-supplied duplicate fails with [ErrSecretExists], an autogenerated
// collision is retried once (256-bit secrets make a second collision
// unobservable in practice).
func (s *Store) Issue(ctx context.Context, req IssueRequest) (*Token, error) {
	if req.TTL <= 0 {
		return nil, errors.New("token ttl must be positive")
	}

	generated := req.Secret == ""
	for attempt := 0; ; attempt++ {
		secret := req.Secret
		if generated {
			var err error
			secret, err = internal.NewSecret()
			if err != nil {
				return nil, err
			}
		}

		now := time.Now()
		tok := &Token{
			ID:        uuid.NewString(),
			Secret:    secret,
			Type:      req.Type,
			UserID:    req.UserID,
			OrgID:     req.OrgID,
			Payload:   req.Payload,
			CreatedAt: now.Unix(),
			ExpiresAt: now.Add(req.TTL).Unix(),
		}

		data, err := encode(tok)
		if err != nil {
			return nil, err
		}

		set, err := s.redis.SetNX(ctx, s.key(req.Type, secret), data, req.TTL).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		if !set {
			if generated && attempt == 0 {
				continue
			}
			return nil, ErrSecretExists
		}

		if s.indexed(req.Type) && req.UserID != "" {
			indexKey := s.userIndexKey(req.UserID, req.Type)
			_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.SAdd(ctx, indexKey, secret)
				pipe.Expire(ctx, indexKey, req.TTL+time.Hour)
				return nil
			})
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
			}
		}

		if req.Alias != "" {
			if err := s.redis.Set(ctx, s.aliasKey(req.Type, req.Alias), secret, req.TTL).Err(); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
			}
		}

		return tok, nil
	}
}

// Redeem atomically finds and deletes a token: the first concurrent caller
// receives the record, every later one gets [ErrNotFound]. Expiry is also
// checked logically so a key Redis has not evicted yet still reads as gone.
func (s *Store) Redeem(ctx context.Context, typ Type, secret string) (*Token, error) {
	if secret == "" {
		return nil, ErrNotFound
	}

	result, err := redeemLua.Run(ctx, s.redis, []string{s.key(typ, secret)}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	tok, err := decodeScriptBlob(result)
	if err != nil {
		return nil, err
	}

	if s.indexed(typ) && tok.UserID != "" {
		// Best-effort index maintenance; a stale member is pruned by
		// DeleteAllForUser or index expiry.
		_ = s.redis.SRem(ctx, s.userIndexKey(tok.UserID, typ), secret).Err()
	}

	if tok.Expired(time.Now()) {
		return nil, ErrNotFound
	}
	return tok, nil
}

// Peek looks a token up without consuming it. Used on the rotation-race
// recovery path, where losers read the exchange record the winner wrote.
func (s *Store) Peek(ctx context.Context, typ Type, secret string) (*Token, error) {
	if secret == "" {
		return nil, ErrNotFound
	}

	data, err := s.redis.Get(ctx, s.key(typ, secret)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	tok, err := decode(data)
	if err != nil {
		return nil, err
	}
	if tok.Expired(time.Now()) {
		return nil, ErrNotFound
	}
	return tok, nil
}

func (s *Store) resolveAlias(ctx context.Context, typ Type, alias string) (string, error) {
	if alias == "" {
		return "", ErrNotFound
	}
	secret, err := s.redis.Get(ctx, s.aliasKey(typ, alias)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return secret, nil
}

// PeekByAlias resolves an alias and looks its token up without consuming it.
func (s *Store) PeekByAlias(ctx context.Context, typ Type, alias string) (*Token, error) {
	secret, err := s.resolveAlias(ctx, typ, alias)
	if err != nil {
		return nil, err
	}
	return s.Peek(ctx, typ, secret)
}

// RedeemByAlias resolves an alias, redeems its token, and drops the alias.
func (s *Store) RedeemByAlias(ctx context.Context, typ Type, alias string) (*Token, error) {
	secret, err := s.resolveAlias(ctx, typ, alias)
	if err != nil {
		return nil, err
	}
	tok, err := s.Redeem(ctx, typ, secret)
	if err != nil {
		return nil, err
	}
	_ = s.redis.Del(ctx, s.aliasKey(typ, alias)).Err()
	return tok, nil
}

// DeleteByAlias removes an aliased token together with the alias. A missing
// alias is not an error.
func (s *Store) DeleteByAlias(ctx context.Context, typ Type, alias string) error {
	secret, err := s.resolveAlias(ctx, typ, alias)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	if err := s.redis.Del(ctx, s.key(typ, secret), s.aliasKey(typ, alias)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Delete removes a token without returning it. Missing keys are not an error.
func (s *Store) Delete(ctx context.Context, typ Type, secret string) error {
	if secret == "" {
		return nil
	}
	if err := s.redis.Del(ctx, s.key(typ, secret)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// RotateOutcome tags the result of [Store.Rotate].
type RotateOutcome int

const (
	// Rotated means this caller performed the rotation.
	Rotated RotateOutcome = iota
	// AlreadyRotated means a concurrent rotation for the same lineage won;
	// the returned exchange record carries the winner's pair.
	AlreadyRotated
)

// RotateRequest is the single-transaction write set of a refresh rotation.
// All three tokens are fully built by the caller, including the exchange
// payload embedding the transportable pair, so every racer can hand back
// byte-identical results.
type RotateRequest struct {
	OldAuthSecret    string
	OldRefreshSecret string
	UserID           string

	NewAuth    *Token
	AuthTTL    time.Duration
	NewRefresh *Token
	RefreshTTL time.Duration

	Exchange    *Token
	ExchangeTTL time.Duration
}

// RotateResult carries the tagged outcome and the exchange record that holds
// the issued pair — the caller's own on [Rotated], the winner's on
// [AlreadyRotated].
type RotateResult struct {
	Outcome  RotateOutcome
	Exchange *Token
}

// Rotate redeems the presented refresh token and exchanges the old
// authentication token for a new pair in one atomic script: validate and
// delete the refresh token, create the new authentication and refresh
// tokens, write the exchange record keyed by the old secret (ttl capped at
// the old token's remaining lifetime when it is still live), delete the old
// token. A concurrent duplicate observes the existing exchange key and
// receives the stored pair instead of an error; an absent refresh token with
// no exchange record is [ErrNotFound]; a refresh token bound to a different
// lineage is consumed and returns [ErrLineageMismatch].
func (s *Store) Rotate(ctx context.Context, req RotateRequest) (*RotateResult, error) {
	if req.NewAuth == nil || req.NewRefresh == nil || req.Exchange == nil {
		return nil, errors.New("rotate request incomplete")
	}
	if req.OldRefreshSecret == "" {
		return nil, ErrNotFound
	}

	exchangeTTL := req.ExchangeTTL
	if exchangeTTL <= 0 {
		exchangeTTL = defaultExchangeTTL
	}

	authBlob, err := encode(req.NewAuth)
	if err != nil {
		return nil, err
	}
	refreshBlob, err := encode(req.NewRefresh)
	if err != nil {
		return nil, err
	}
	exchangeBlob, err := encode(req.Exchange)
	if err != nil {
		return nil, err
	}

	keys := []string{
		s.key(TypeAuthentication, req.OldAuthSecret),
		s.key(TypeExchange, req.OldAuthSecret),
		s.key(TypeAuthentication, req.NewAuth.Secret),
		s.key(TypeSessionRefresh, req.NewRefresh.Secret),
		s.userIndexKey(req.UserID, TypeAuthentication),
		s.userIndexKey(req.UserID, TypeSessionRefresh),
		s.key(TypeSessionRefresh, req.OldRefreshSecret),
	}

	result, err := rotateLua.Run(ctx, s.redis, keys,
		authBlob,
		req.AuthTTL.Milliseconds(),
		refreshBlob,
		req.RefreshTTL.Milliseconds(),
		exchangeBlob,
		exchangeTTL.Milliseconds(),
		req.OldAuthSecret,
		req.NewAuth.Secret,
		req.NewRefresh.Secret,
		time.Now().Unix(),
		req.UserID,
		req.OldAuthSecret,
		req.OldRefreshSecret,
	).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	parts, ok := result.([]interface{})
	if !ok || len(parts) == 0 {
		return nil, fmt.Errorf("%w: invalid rotate script response", ErrRedisUnavailable)
	}
	status, ok := parts[0].(int64)
	if !ok {
		return nil, fmt.Errorf("%w: invalid rotate script status", ErrRedisUnavailable)
	}

	switch status {
	case rotateStatusRotated:
		return &RotateResult{Outcome: Rotated, Exchange: req.Exchange}, nil
	case rotateStatusAlreadyRotated:
		if len(parts) < 2 {
			return nil, fmt.Errorf("%w: missing exchange payload", ErrRedisUnavailable)
		}
		existing, err := decodeScriptBlob(parts[1])
		if err != nil {
			return nil, err
		}
		return &RotateResult{Outcome: AlreadyRotated, Exchange: existing}, nil
	case rotateStatusRefreshNotFound:
		return nil, ErrNotFound
	case rotateStatusMismatch:
		return nil, ErrLineageMismatch
	default:
		return nil, fmt.Errorf("%w: unknown rotate script status", ErrRedisUnavailable)
	}
}

// DeleteAllForUser removes every live authentication and refresh token of a
// user and clears the indexes. Returns the number of token keys deleted.
func (s *Store) DeleteAllForUser(ctx context.Context, userID string) (int, error) {
	authIndex := s.userIndexKey(userID, TypeAuthentication)
	refreshIndex := s.userIndexKey(userID, TypeSessionRefresh)

	authSecrets, err := s.redis.SMembers(ctx, authIndex).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	refreshSecrets, err := s.redis.SMembers(ctx, refreshIndex).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	keys := make([]string, 0, len(authSecrets)+len(refreshSecrets)+2)
	for _, secret := range authSecrets {
		keys = append(keys, s.key(TypeAuthentication, secret))
	}
	for _, secret := range refreshSecrets {
		keys = append(keys, s.key(TypeSessionRefresh, secret))
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(keys) > 0 {
			pipe.Del(ctx, keys...)
		}
		pipe.Del(ctx, authIndex, refreshIndex)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return len(keys), nil
}

// Ping reports Redis availability and round-trip latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.Since(start), nil
}

func decodeScriptBlob(v interface{}) (*Token, error) {
	switch blob := v.(type) {
	case string:
		return decode([]byte(blob))
	case []byte:
		return decode(blob)
	default:
		return nil, fmt.Errorf("%w: invalid script payload", ErrRedisUnavailable)
	}
}
