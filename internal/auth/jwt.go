// AngelaMos | 2026
// jwt.go

package auth

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/lestrrat-go/jwx/v3/jwt"

	"github.com/carterperez-dev/templates/auth-service/internal/config"
	"github.com/carterperez-dev/templates/auth-service/internal/core"
	"github.com/carterperez-dev/templates/auth-service/internal/middleware"
)

const (
	ClaimRole     = "role"
	ClaimUsername = "username"
	claimType     = "type"
	tokenTypeAcc  = "access"
)

var registeredClaims = []string{
	jwt.AudienceKey,
	jwt.ExpirationKey,
	jwt.IssuedAtKey,
	jwt.IssuerKey,
	jwt.JwtIDKey,
	jwt.NotBeforeKey,
	jwt.SubjectKey,
	claimType,
}

// VerifiedToken is what survives verification of an access token.
type VerifiedToken struct {
	Subject   string
	Claims    map[string]string
	ExpiresAt time.Time
}

// JWTManager signs and verifies HS256 access tokens. The algorithm is fixed
// on both sides; the alg header of an incoming token is never trusted.
type JWTManager struct {
	key    jwk.Key
	config config.JWTConfig
	clock  core.Clock
}

func NewJWTManager(cfg config.JWTConfig, clock core.Clock) (*JWTManager, error) {
	if len(cfg.Secret) < config.MinSecretLength {
		return nil, fmt.Errorf(
			"signing secret must be at least %d bytes",
			config.MinSecretLength,
		)
	}

	key, err := jwk.Import([]byte(cfg.Secret))
	if err != nil {
		return nil, fmt.Errorf("import signing key: %w", err)
	}

	if clock == nil {
		clock = core.SystemClock()
	}

	return &JWTManager{
		key:    key,
		config: cfg,
		clock:  clock,
	}, nil
}

func (m *JWTManager) AccessTTL() time.Duration {
	return m.config.AccessTokenExpire
}

// Issue builds and signs a token for subject. Registered claim names in
// claims are ignored.
func (m *JWTManager) Issue(subject string, claims map[string]string) (string, error) {
	now := m.clock.Now()

	builder := jwt.NewBuilder().
		JwtID(uuid.New().String()).
		Issuer(m.config.Issuer).
		Subject(subject).
		IssuedAt(now).
		NotBefore(now).
		Expiration(now.Add(m.config.AccessTokenExpire)).
		Claim(claimType, tokenTypeAcc)

	if m.config.Audience != "" {
		builder = builder.Audience([]string{m.config.Audience})
	}

	for name, value := range claims {
		if slices.Contains(registeredClaims, name) {
			continue
		}
		builder = builder.Claim(name, value)
	}

	token, err := builder.Build()
	if err != nil {
		return "", fmt.Errorf("build token: %w", err)
	}

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256(), m.key))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	return string(signed), nil
}

// Verify fails with core.ErrTokenExpired or core.ErrTokenInvalid.
func (m *JWTManager) Verify(tokenString string) (*VerifiedToken, error) {
	opts := []jwt.ParseOption{
		jwt.WithKey(jwa.HS256(), m.key),
		jwt.WithValidate(true),
		jwt.WithIssuer(m.config.Issuer),
		jwt.WithClock(jwt.ClockFunc(m.clock.Now)),
	}
	if m.config.Audience != "" {
		opts = append(opts, jwt.WithAudience(m.config.Audience))
	}

	token, err := jwt.Parse([]byte(tokenString), opts...)
	if err != nil {
		if isTokenExpiredError(err) {
			return nil, fmt.Errorf("verify token: %w", core.ErrTokenExpired)
		}
		return nil, fmt.Errorf("verify token: %w", core.ErrTokenInvalid)
	}

	var tokenType string
	if err := token.Get(claimType, &tokenType); err != nil ||
		tokenType != tokenTypeAcc {
		return nil, fmt.Errorf(
			"verify token: invalid token type: %w",
			core.ErrTokenInvalid,
		)
	}

	subject, ok := token.Subject()
	if !ok || subject == "" {
		return nil, fmt.Errorf(
			"verify token: missing subject: %w",
			core.ErrTokenInvalid,
		)
	}

	expiresAt, _ := token.Expiration()

	claims := make(map[string]string)
	for _, name := range token.Keys() {
		if slices.Contains(registeredClaims, name) {
			continue
		}
		var value string
		if err := token.Get(name, &value); err != nil {
			continue
		}
		claims[name] = value
	}

	return &VerifiedToken{
		Subject:   subject,
		Claims:    claims,
		ExpiresAt: expiresAt,
	}, nil
}

func isTokenExpiredError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "exp") &&
		strings.Contains(errStr, "not satisfied")
}

// VerifyAccessToken adapts Verify for the HTTP authenticator.
func (m *JWTManager) VerifyAccessToken(
	_ context.Context,
	tokenString string,
) (*middleware.AccessTokenClaims, error) {
	verified, err := m.Verify(tokenString)
	if err != nil {
		return nil, err
	}

	role := Role(verified.Claims[ClaimRole])
	if !role.Valid() {
		return nil, fmt.Errorf(
			"verify token: unknown role %q: %w",
			role,
			core.ErrTokenInvalid,
		)
	}

	return &middleware.AccessTokenClaims{
		UserID:   verified.Subject,
		Username: verified.Claims[ClaimUsername],
		Role:     role.String(),
	}, nil
}
