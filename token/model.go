package token

import (
	"encoding/json"
	"time"
)

// Type discriminates the short-lived secrets the store persists. The type is
// part of the storage key, so a secret can only be redeemed through the
// operation that knows its type.
type Type string

const (
	// TypeAuthentication backs a live session's transportable credential.
	TypeAuthentication Type = "auth"
	// TypeSessionRefresh is the single-use secret authorizing rotation of
	// exactly one authentication token.
	TypeSessionRefresh Type = "refresh"
	// TypeExchange is the short-lived record that makes concurrent rotation
	// attempts idempotent. It is keyed by the replaced authentication secret.
	TypeExchange Type = "exchange"
	// TypeInvitation carries an org-scoped invitation.
	TypeInvitation Type = "invite"
	// TypePasswordReset authorizes one password reset.
	TypePasswordReset Type = "pwreset"
	// TypeTOTPSecret holds a pending static-factor (SOTP) enrollment key.
	TypeTOTPSecret Type = "totpsecret"
	// TypeTOTPEnroll holds a pending TOTP enrollment secret.
	TypeTOTPEnroll Type = "totpenroll"
)

// Token is one stored secret record. A token is valid while the current time
// is before ExpiresAt and it has not been redeemed; redemption deletes it.
type Token struct {
	ID        string            `json:"id"`
	Secret    string            `json:"secret"`
	Type      Type              `json:"type"`
	UserID    string            `json:"user_id,omitempty"`
	OrgID     string            `json:"org_id,omitempty"`
	Payload   map[string]string `json:"payload,omitempty"`
	CreatedAt int64             `json:"created_at"`
	ExpiresAt int64             `json:"expires_at"`
}

// Expired reports whether the token's logical lifetime has lapsed at now,
// independent of whether Redis has physically evicted the key yet.
func (t *Token) Expired(now time.Time) bool {
	return now.Unix() >= t.ExpiresAt
}

// PayloadValue returns the named payload entry, or "" when absent.
func (t *Token) PayloadValue(key string) string {
	if t == nil || t.Payload == nil {
		return ""
	}
	return t.Payload[key]
}

func encode(t *Token) ([]byte, error) {
	return json.Marshal(t)
}

func decode(data []byte) (*Token, error) {
	var t Token
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, ErrCorrupt
	}
	return &t, nil
}
