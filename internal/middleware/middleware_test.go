// AngelaMos | 2026
// middleware_test.go

package middleware

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carterperez-dev/templates/auth-service/internal/config"
	"github.com/carterperez-dev/templates/auth-service/internal/core"
)

type stubVerifier struct {
	claims *AccessTokenClaims
	err    error
}

func (s stubVerifier) VerifyAccessToken(
	_ context.Context,
	token string,
) (*AccessTokenClaims, error) {
	if token != "good" {
		return nil, s.err
	}
	return s.claims, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func okHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()

	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error.Code
}

func TestAuthenticator(t *testing.T) {
	verifier := stubVerifier{
		claims: &AccessTokenClaims{UserID: "u-1", Username: "ada", Role: "RECRUITER"},
		err:    core.ErrTokenExpired,
	}

	var seen *AccessTokenClaims
	h := Authenticator(verifier)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetClaims(r.Context())
		assert.Equal(t, "u-1", GetUserID(r.Context()))
		assert.Equal(t, "RECRUITER", GetUserRole(r.Context()))
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name   string
		header string
		status int
		code   string
	}{
		{name: "missing header", header: "", status: http.StatusUnauthorized, code: "UNAUTHORIZED"},
		{name: "wrong scheme", header: "Basic good", status: http.StatusUnauthorized, code: "UNAUTHORIZED"},
		{name: "empty bearer", header: "Bearer   ", status: http.StatusUnauthorized, code: "UNAUTHORIZED"},
		{name: "expired token", header: "Bearer stale", status: http.StatusUnauthorized, code: "TOKEN_EXPIRED"},
		{name: "valid token", header: "bearer good", status: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			h.ServeHTTP(rec, req)

			require.Equal(t, tt.status, rec.Code)
			if tt.code != "" {
				assert.Equal(t, tt.code, errorCode(t, rec))
				assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Bearer")
			}
		})
	}

	require.NotNil(t, seen)
	assert.Equal(t, "ada", seen.Username)
}

func TestRequireAdmin(t *testing.T) {
	h := RequireAdmin(http.HandlerFunc(okHandler))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	for role, want := range map[string]int{
		"CANDIDATE": http.StatusForbidden,
		"RECRUITER": http.StatusForbidden,
		"ADMIN":     http.StatusOK,
	} {
		ctx := withClaims(context.Background(), &AccessTokenClaims{UserID: "u", Role: role})
		req := httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx)
		rec := httptest.NewRecorder()

		h.ServeHTTP(rec, req)
		assert.Equal(t, want, rec.Code, role)
	}
}

func TestRequestIDEchoesHeader(t *testing.T) {
	h := RequestID(http.HandlerFunc(okHandler))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
}

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeaders(false)(http.HandlerFunc(okHandler)).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Empty(t, rec.Header().Get("Strict-Transport-Security"))

	rec = httptest.NewRecorder()
	SecurityHeaders(true)(http.HandlerFunc(okHandler)).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, rec.Header().Get("Strict-Transport-Security"))
}

func TestCORS(t *testing.T) {
	h := CORS(config.CORSConfig{
		AllowedOrigins:   []string{"https://app.example.com"},
		AllowedMethods:   []string{"GET", "POST"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	})(http.HandlerFunc(okHandler))

	t.Run("preflight from allowed origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/auth/login", nil)
		req.Header.Set("Origin", "https://app.example.com")
		req.Header.Set("Access-Control-Request-Method", "POST")
		rec := httptest.NewRecorder()

		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
		assert.Equal(t, "GET, POST", rec.Header().Get("Access-Control-Allow-Methods"))
		assert.Equal(t, "300", rec.Header().Get("Access-Control-Max-Age"))
	})

	t.Run("disallowed origin gets no headers", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		rec := httptest.NewRecorder()

		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "Origin", rec.Header().Get("Vary"))
	})

	t.Run("same origin request untouched", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Header().Get("Vary"))
	})
}

func TestClientIPAndCredentialAction(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/auth/refresh", nil)
	req.RemoteAddr = "10.0.0.7:51234"

	assert.Equal(t, "10.0.0.7", ClientIP(req))
	assert.Equal(t, "10.0.0.7:refresh", CredentialAction(req))

	req.Header.Set("X-Real-IP", "3.3.3.3")
	assert.Equal(t, "3.3.3.3", ClientIP(req))

	req.Header.Set("X-Forwarded-For", "1.1.1.1, 2.2.2.2")
	assert.Equal(t, "2.2.2.2", ClientIP(req))
}

func TestPerWindowBurstDefault(t *testing.T) {
	l := PerWindow(20, 0, time.Minute)
	assert.Equal(t, 20, l.Rate)
	assert.Equal(t, 20, l.Burst)
	assert.Equal(t, time.Minute, l.Period)

	assert.Equal(t, 5, PerWindow(20, 5, time.Minute).Burst)
}

func unreachableRedis(t *testing.T) *redis.Client {
	t.Helper()

	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

// With redis unreachable the credentials policy keeps enforcing limits in
// process, one bucket per auth action.
func TestThrottleFallsBackToLocalBuckets(t *testing.T) {
	throttle := NewThrottle(unreachableRedis(t), Policy{
		Name:    "credentials",
		Limit:   PerWindow(2, 2, time.Minute),
		Subject: CredentialAction,
	}, discardLogger())
	h := throttle.Middleware(http.HandlerFunc(okHandler))

	send := func(path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		req.RemoteAddr = "10.0.0.9:4000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, send("/api/auth/refresh").Code)
	ok := send("/api/auth/refresh")
	assert.Equal(t, http.StatusOK, ok.Code)
	assert.Equal(t, "2;w=60", ok.Header().Get("RateLimit-Policy"))

	limited := send("/api/auth/refresh")
	require.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.Equal(t, "RATE_LIMITED", errorCode(t, limited))
	assert.Equal(t, "30", limited.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, send("/api/auth/login").Code)
}

func TestThrottleSkipsHealthChecks(t *testing.T) {
	throttle := NewThrottle(unreachableRedis(t), Policy{
		Name:  "api",
		Limit: PerWindow(1, 1, time.Minute),
		Skip:  IsHealthCheck,
	}, discardLogger())
	h := throttle.Middleware(http.HandlerFunc(okHandler))

	for range 3 {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/users/me", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/users/me", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestLocalBucketsSweepIdleEntries(t *testing.T) {
	l := &localBuckets{buckets: make(map[string]*localBucket)}
	limit := PerWindow(1, 1, time.Minute)
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, 1, l.allow("a", limit, start).Allowed)
	assert.Equal(t, 0, l.allow("a", limit, start.Add(time.Second)).Allowed)

	l.allow("b", limit, start.Add(2*bucketIdle))
	_, kept := l.buckets["a"]
	assert.False(t, kept)
	assert.Len(t, l.buckets, 1)
}
