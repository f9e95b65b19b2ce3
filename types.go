package keyrail

import (
	"context"
	"time"

	"github.com/keyrail/keyrail/permission"
)

// FactorType names one authentication factor kind.
type FactorType string

const (
	// FactorPassword is the primary factor: an argon2id digest.
	FactorPassword FactorType = "password"
	// FactorTOTP is a time-based one-time code factor.
	FactorTOTP FactorType = "totp"
	// FactorSOTP is a static one-time code factor over a caller-supplied key.
	FactorSOTP FactorType = "sotp"
)

// UserRecord is the directory's view of one user. The engine never stores
// users; it only reads them through [Directory].
type UserRecord struct {
	ID            string
	Identifier    string
	OrgID         string
	Name          string
	Email         string
	PasswordHash  string
	DeactivatedAt *time.Time
}

// Deactivated reports whether the user has been deactivated.
func (u *UserRecord) Deactivated() bool {
	return u != nil && u.DeactivatedAt != nil
}

// AuthFactor is one enrolled secondary factor. Existence means the factor is
// active; pending enrollments live only as short-lived tokens.
type AuthFactor struct {
	UserID    string
	Type      FactorType
	Secret    string
	CreatedAt time.Time
}

// Directory is the application-owned persistence boundary the engine reads
// users, factors, and entitlements through. Implementations return
// [ErrUserNotFound] for unresolvable users and must be safe for concurrent
// use.
type Directory interface {
	GetUserByIdentifier(ctx context.Context, identifier string) (*UserRecord, error)
	GetUserByID(ctx context.Context, id string) (*UserRecord, error)

	AuthFactors(ctx context.Context, userID string) ([]AuthFactor, error)
	CreateAuthFactor(ctx context.Context, factor AuthFactor) error
	DeleteAuthFactor(ctx context.Context, userID string, factorType FactorType) error
	UpdatePasswordHash(ctx context.Context, userID, hash string) error

	UserGrants(ctx context.Context, userID string) ([]permission.Grant, error)
	UserRoles(ctx context.Context, userID string) ([]string, error)
	RoleGrants(ctx context.Context, role string) ([]permission.Grant, error)
}

// SessionPair is one issued session: the signed transportable credential and
// the single-use refresh secret that can rotate it.
type SessionPair struct {
	AccessCredential string
	RefreshSecret    string
	ExpiresAt        time.Time
}

// ExpiresIn reports the remaining credential lifetime, floored at zero.
func (p SessionPair) ExpiresIn() time.Duration {
	d := time.Until(p.ExpiresAt)
	if d < 0 {
		return 0
	}
	return d
}

// Identity is the validated principal read out of a credential.
type Identity struct {
	UserID    string
	OrgID     string
	Name      string
	Email     string
	TokenID   string
	ExpiresAt time.Time
}

// Enrollment is the provisioning material returned when a time-based factor
// enrollment begins.
type Enrollment struct {
	Secret string
	URI    string
	QRPNG  []byte
}
