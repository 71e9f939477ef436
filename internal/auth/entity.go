// AngelaMos | 2026
// entity.go

package auth

import (
	"time"
)

// Role is the closed set of roles carried in access tokens. Authorization
// decisions based on it happen outside this package.
type Role string

const (
	RoleCandidate Role = "CANDIDATE"
	RoleRecruiter Role = "RECRUITER"
	RoleAdmin     Role = "ADMIN"
)

func (r Role) Valid() bool {
	switch r {
	case RoleCandidate, RoleRecruiter, RoleAdmin:
		return true
	}
	return false
}

func (r Role) String() string {
	return string(r)
}

const (
	RevokeReasonRotated = "rotated"
	RevokeReasonLogout  = "logout"
	RevokeReasonCascade = "cascade"
)

type TokenState string

const (
	StateActive       TokenState = "ACTIVE"
	StateExpired      TokenState = "EXPIRED"
	StateRotated      TokenState = "ROTATED"
	StateLoggedOut    TokenState = "LOGGED_OUT"
	StateReuseRevoked TokenState = "REUSE_REVOKED"
)

// RefreshToken is one link of a rotation family. Only the digest of the
// secret is stored.
type RefreshToken struct {
	ID            string     `db:"id"`
	UserID        string     `db:"user_id"`
	TokenHash     string     `db:"token_hash"`
	FamilyID      string     `db:"family_id"`
	ExpiresAt     time.Time  `db:"expires_at"`
	CreatedAt     time.Time  `db:"created_at"`
	Revoked       bool       `db:"revoked"`
	RevokedAt     *time.Time `db:"revoked_at"`
	RevokedReason string     `db:"revoked_reason"`
	ReplacedByID  *string    `db:"replaced_by_id"`
}

func (t *RefreshToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

func (t *RefreshToken) IsLive(now time.Time) bool {
	return !t.Revoked && !t.IsExpired(now)
}

func (t *RefreshToken) State(now time.Time) TokenState {
	if !t.Revoked {
		if t.IsExpired(now) {
			return StateExpired
		}
		return StateActive
	}

	switch {
	case t.ReplacedByID != nil && *t.ReplacedByID != "":
		return StateRotated
	case t.RevokedReason == RevokeReasonLogout:
		return StateLoggedOut
	default:
		return StateReuseRevoked
	}
}

// Revoke is a no-op on an already revoked token; the first reason wins.
func (t *RefreshToken) Revoke(reason string, now time.Time) bool {
	if t.Revoked {
		return false
	}
	t.Revoked = true
	t.RevokedAt = &now
	t.RevokedReason = reason
	return true
}

func (t *RefreshToken) MarkRotated(replacedByID string, now time.Time) {
	t.Revoke(RevokeReasonRotated, now)
	t.ReplacedByID = &replacedByID
}

// IssuedToken pairs a freshly persisted record with its raw secret. The
// secret exists only here; it cannot be recovered from the store.
type IssuedToken struct {
	Secret string
	Record *RefreshToken
}
