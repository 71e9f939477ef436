// AngelaMos | 2026
// jwt_test.go

package auth

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/lestrrat-go/jwx/v3/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carterperez-dev/templates/auth-service/internal/config"
	"github.com/carterperez-dev/templates/auth-service/internal/core"
)

const testSigningSecret = "0123456789abcdef0123456789abcdef-test"

func testJWTConfig() config.JWTConfig {
	return config.JWTConfig{
		Secret:            testSigningSecret,
		AccessTokenExpire: 15 * time.Minute,
		Issuer:            "auth-service",
		Audience:          "auth-service-api",
	}
}

func newTestJWTManager(t *testing.T, cfg config.JWTConfig) (*JWTManager, *core.ManualClock) {
	t.Helper()

	clock := core.NewManualClock(testEpoch)
	m, err := NewJWTManager(cfg, clock)
	require.NoError(t, err)
	return m, clock
}

func TestJWTRoundTrip(t *testing.T) {
	m, _ := newTestJWTManager(t, testJWTConfig())

	token, err := m.Issue("user-1", map[string]string{
		ClaimRole:     "RECRUITER",
		ClaimUsername: "ada",
	})
	require.NoError(t, err)

	verified, err := m.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", verified.Subject)
	assert.Equal(t, "RECRUITER", verified.Claims[ClaimRole])
	assert.Equal(t, "ada", verified.Claims[ClaimUsername])
	assert.True(t, verified.ExpiresAt.Equal(testEpoch.Add(15*time.Minute)))
	assert.Equal(t, 15*time.Minute, m.AccessTTL())
}

func TestJWTIgnoresRegisteredClaimOverrides(t *testing.T) {
	m, _ := newTestJWTManager(t, testJWTConfig())

	token, err := m.Issue("user-1", map[string]string{
		jwt.SubjectKey: "admin",
		jwt.IssuerKey:  "someone-else",
	})
	require.NoError(t, err)

	verified, err := m.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", verified.Subject)
}

func TestJWTExpired(t *testing.T) {
	m, clock := newTestJWTManager(t, testJWTConfig())

	token, err := m.Issue("user-1", nil)
	require.NoError(t, err)

	clock.Advance(16 * time.Minute)

	_, err = m.Verify(token)
	require.ErrorIs(t, err, core.ErrTokenExpired)
}

func TestJWTWrongKey(t *testing.T) {
	m, _ := newTestJWTManager(t, testJWTConfig())

	otherCfg := testJWTConfig()
	otherCfg.Secret = "ffffffffffffffffffffffffffffffff-other"
	other, _ := newTestJWTManager(t, otherCfg)

	token, err := other.Issue("user-1", nil)
	require.NoError(t, err)

	_, err = m.Verify(token)
	require.ErrorIs(t, err, core.ErrTokenInvalid)
}

func TestJWTRejectsOtherAlgorithmWithSameKey(t *testing.T) {
	m, _ := newTestJWTManager(t, testJWTConfig())

	key, err := jwk.Import([]byte(testSigningSecret))
	require.NoError(t, err)

	tok, err := jwt.NewBuilder().
		Issuer("auth-service").
		Subject("user-1").
		Audience([]string{"auth-service-api"}).
		IssuedAt(testEpoch).
		Expiration(testEpoch.Add(time.Hour)).
		Claim(claimType, tokenTypeAcc).
		Build()
	require.NoError(t, err)

	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS512(), key))
	require.NoError(t, err)

	_, err = m.Verify(string(signed))
	require.ErrorIs(t, err, core.ErrTokenInvalid)
}

func TestJWTRejectsUnsignedToken(t *testing.T) {
	m, _ := newTestJWTManager(t, testJWTConfig())

	enc := base64.RawURLEncoding
	header := enc.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))
	payload := enc.EncodeToString([]byte(
		`{"iss":"auth-service","sub":"user-1","aud":["auth-service-api"],"type":"access","exp":4102444800}`,
	))

	_, err := m.Verify(header + "." + payload + ".")
	require.ErrorIs(t, err, core.ErrTokenInvalid)
}

func TestJWTIssuerMismatch(t *testing.T) {
	m, _ := newTestJWTManager(t, testJWTConfig())

	otherCfg := testJWTConfig()
	otherCfg.Issuer = "impostor"
	other, _ := newTestJWTManager(t, otherCfg)

	token, err := other.Issue("user-1", nil)
	require.NoError(t, err)

	_, err = m.Verify(token)
	require.ErrorIs(t, err, core.ErrTokenInvalid)
}

func TestJWTMalformed(t *testing.T) {
	m, _ := newTestJWTManager(t, testJWTConfig())

	for _, raw := range []string{"", "not-a-token", "a.b.c", "....."} {
		_, err := m.Verify(raw)
		require.ErrorIs(t, err, core.ErrTokenInvalid, "input %q", raw)
	}
}

func TestNewJWTManagerRejectsShortSecret(t *testing.T) {
	cfg := testJWTConfig()
	cfg.Secret = "too-short"

	_, err := NewJWTManager(cfg, nil)
	require.Error(t, err)
}

func TestVerifyAccessToken(t *testing.T) {
	m, _ := newTestJWTManager(t, testJWTConfig())
	ctx := context.Background()

	token, err := m.Issue("user-1", map[string]string{
		ClaimRole:     RoleAdmin.String(),
		ClaimUsername: "root",
	})
	require.NoError(t, err)

	claims, err := m.VerifyAccessToken(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "root", claims.Username)
	assert.Equal(t, "ADMIN", claims.Role)

	bogus, err := m.Issue("user-1", map[string]string{ClaimRole: "SUPERUSER"})
	require.NoError(t, err)

	_, err = m.VerifyAccessToken(ctx, bogus)
	require.ErrorIs(t, err, core.ErrTokenInvalid)
}
