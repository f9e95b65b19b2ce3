package jwt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const minKeyBytes = 32

var (
	// ErrInvalidToken is returned for any signature, claim, or format
	// failure. Callers must not learn which check failed.
	ErrInvalidToken = errors.New("invalid signed credential")
)

// Config holds the signing parameters for transportable credentials.
// Credentials are signed with HMAC-SHA-512; Key must carry at least 32
// bytes of entropy.
type Config struct {
	Key    []byte
	Issuer string
	TTL    time.Duration
	Leeway time.Duration
}

// UserClaims is the projected principal embedded in a credential. Only ID
// is always present; the remaining fields follow the caller's declared
// projection scope.
type UserClaims struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	OrgID string `json:"org,omitempty"`
}

// Claims is the full signed payload. The jti registered claim carries the
// backing authentication token's secret, which ties the credential to its
// server-side lineage.
type Claims struct {
	User UserClaims `json:"user"`
	jwt.RegisteredClaims
}

// Manager signs and parses transportable credentials. Managers are immutable
// after construction and safe for concurrent use.
type Manager struct {
	config Config
}

func NewManager(cfg Config) (*Manager, error) {
	if len(cfg.Key) < minKeyBytes {
		return nil, errors.New("signing key must be at least 32 bytes")
	}
	if cfg.TTL <= 0 {
		return nil, errors.New("credential ttl must be positive")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	return &Manager{config: cfg}, nil
}

// Sign produces a credential for the given principal projection whose jti is
// the backing authentication secret. The returned time is the embedded exp.
func (m *Manager) Sign(user UserClaims, jti string, now time.Time) (string, time.Time, error) {
	if user.ID == "" || jti == "" {
		return "", time.Time{}, errors.New("user id and jti are required")
	}

	expiresAt := now.Add(m.config.TTL)
	claims := Claims{
		User: user,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Issuer:    m.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString(m.config.Key)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Parse verifies the signature and all registered claims, expiry included.
func (m *Manager) Parse(credential string) (*Claims, error) {
	return m.parse(credential, false)
}

// ParseExpired verifies the signature and issuer but deliberately skips the
// expiry check. Refresh rotation exists precisely for lapsed credentials, so
// the rotator needs the claims of a token that would fail Parse.
func (m *Manager) ParseExpired(credential string) (*Claims, error) {
	return m.parse(credential, true)
}

func (m *Manager) parse(credential string, allowExpired bool) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS512.Alg()}),
	}
	if m.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}
	if allowExpired {
		options = append(options, jwt.WithoutClaimsValidation())
	}

	parser := jwt.NewParser(options...)
	parsed, err := parser.ParseWithClaims(credential, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return m.config.Key, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.User.ID == "" || claims.ID == "" {
		return nil, ErrInvalidToken
	}
	if allowExpired && m.config.Issuer != "" && claims.Issuer != m.config.Issuer {
		// WithoutClaimsValidation skips the issuer check too; re-apply it.
		return nil, ErrInvalidToken
	}

	return claims, nil
}
