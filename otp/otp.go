package otp

import (
	"bytes"
	"encoding/base32"
	"errors"
	"image/png"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/hotp"
	"github.com/pquerna/otp/totp"
)

const (
	// StaticKeyLength is the exact length of a caller-supplied static
	// factor key: 32 base32 characters, 160 bits.
	StaticKeyLength = 32

	secretBytes = 20
	qrEdge      = 200
)

var (
	// ErrInvalidStaticKey rejects static keys that are not 32 base32 chars.
	ErrInvalidStaticKey = errors.New("static key must be 32 base32 characters")
)

// Config tunes code verification. Zero values select the RFC 6238 defaults:
// 6 digits, 30 second period, one step of allowed clock skew.
type Config struct {
	Issuer string
	Digits int
	Period int
	Skew   int
}

// Manager verifies time-based and static one-time codes and provisions new
// enrollments. Stateless and safe for concurrent use.
type Manager struct {
	config Config
}

func NewManager(cfg Config) *Manager {
	if cfg.Digits <= 0 {
		cfg.Digits = 6
	}
	if cfg.Period <= 0 {
		cfg.Period = 30
	}
	if cfg.Skew < 0 {
		cfg.Skew = 0
	}
	return &Manager{config: cfg}
}

// Enrollment is the provisioning material for one new time-based factor:
// the base32 secret, the otpauth:// URI, and the same URI rendered as a
// scannable PNG.
type Enrollment struct {
	Secret string
	URI    string
	QRPNG  []byte
}

// BeginTOTP mints a fresh 160-bit secret bound to the issuer and account
// label, with the QR image pre-rendered.
func (m *Manager) BeginTOTP(account string) (*Enrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      m.config.Issuer,
		AccountName: account,
		Period:      uint(m.config.Period),
		SecretSize:  secretBytes,
		Digits:      otp.Digits(m.config.Digits),
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, err
	}

	img, err := key.Image(qrEdge, qrEdge)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}

	return &Enrollment{
		Secret: key.Secret(),
		URI:    key.URL(),
		QRPNG:  buf.Bytes(),
	}, nil
}

// VerifyTOTP checks a time-based code against the secret at the current
// time, allowing the configured clock skew.
func (m *Manager) VerifyTOTP(secret, code string) bool {
	return m.VerifyTOTPAt(secret, code, time.Now())
}

// VerifyTOTPAt is VerifyTOTP at an explicit instant.
func (m *Manager) VerifyTOTPAt(secret, code string, at time.Time) bool {
	ok, err := totp.ValidateCustom(strings.TrimSpace(code), secret, at.UTC(), totp.ValidateOpts{
		Period:    uint(m.config.Period),
		Skew:      uint(m.config.Skew),
		Digits:    otp.Digits(m.config.Digits),
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}

// VerifyStatic checks a code derived from a static shared key: the same HMAC
// one-time-code primitive as TOTP, applied at a fixed counter instead of a
// time step.
func (m *Manager) VerifyStatic(key, code string) bool {
	if !ValidStaticKey(key) {
		return false
	}
	ok, err := hotp.ValidateCustom(strings.TrimSpace(code), 0, normalizeKey(key), hotp.ValidateOpts{
		Digits:    otp.Digits(m.config.Digits),
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}

// StaticCode derives the expected code for a static key. Exposed for
// service-side enrollment flows and tests.
func (m *Manager) StaticCode(key string) (string, error) {
	if !ValidStaticKey(key) {
		return "", ErrInvalidStaticKey
	}
	return hotp.GenerateCodeCustom(normalizeKey(key), 0, hotp.ValidateOpts{
		Digits:    otp.Digits(m.config.Digits),
		Algorithm: otp.AlgorithmSHA1,
	})
}

// ValidStaticKey reports whether key is exactly 32 base32 characters.
func ValidStaticKey(key string) bool {
	normalized := normalizeKey(key)
	if len(normalized) != StaticKeyLength {
		return false
	}
	_, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(normalized)
	return err == nil
}

func normalizeKey(key string) string {
	return strings.ToUpper(strings.TrimSpace(key))
}
