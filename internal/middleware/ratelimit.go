// AngelaMos | 2026
// ratelimit.go

package middleware

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	redis_rate "github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/carterperez-dev/templates/auth-service/internal/core"
)

// Policy is one named bucket family. The name is part of every key, so the
// api and credentials policies never share a bucket for the same client.
type Policy struct {
	Name  string
	Limit redis_rate.Limit
	// Subject picks the bucket within the policy. Defaults to ClientIP.
	Subject func(*http.Request) string
	// Skip lets a request through without spending a token.
	Skip func(*http.Request) bool
}

// PerWindow builds a limit of requests per window. A non-positive burst
// means the whole window may be spent at once.
func PerWindow(requests, burst int, window time.Duration) redis_rate.Limit {
	if burst <= 0 {
		burst = requests
	}
	return redis_rate.Limit{Rate: requests, Burst: burst, Period: window}
}

// Throttle enforces a Policy in redis and keeps enforcing it in process
// while redis is unreachable.
type Throttle struct {
	policy Policy
	shared *redis_rate.Limiter
	local  *localBuckets
	logger *slog.Logger
}

func NewThrottle(rdb *redis.Client, policy Policy, logger *slog.Logger) *Throttle {
	if policy.Subject == nil {
		policy.Subject = ClientIP
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Throttle{
		policy: policy,
		shared: redis_rate.NewLimiter(rdb),
		local:  &localBuckets{buckets: make(map[string]*localBucket)},
		logger: logger,
	}
}

func (t *Throttle) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if t.policy.Skip != nil && t.policy.Skip(r) {
			next.ServeHTTP(w, r)
			return
		}

		key := "rl:" + t.policy.Name + ":" + t.policy.Subject(r)

		res, err := t.shared.Allow(r.Context(), key, t.policy.Limit)
		if err != nil {
			t.logger.Warn("rate limit store unreachable, using local buckets",
				"policy", t.policy.Name,
				"error", err,
			)
			res = t.local.allow(key, t.policy.Limit, time.Now())
		}

		h := w.Header()
		h.Set("RateLimit-Policy", fmt.Sprintf("%d;w=%d",
			t.policy.Limit.Rate, int(t.policy.Limit.Period.Seconds())))
		h.Set("RateLimit", fmt.Sprintf("%d;t=%d",
			res.Remaining, int(res.ResetAfter.Seconds())))

		if res.Allowed > 0 {
			next.ServeHTTP(w, r)
			return
		}

		retryAfter := max(int(res.RetryAfter.Seconds()), 1)
		h.Set("Retry-After", strconv.Itoa(retryAfter))
		core.JSONError(w, core.RateLimitedError(retryAfter))
	})
}

// ClientIP trusts the hop appended by the nearest proxy, then X-Real-IP,
// then the socket address.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		return strings.TrimSpace(hops[len(hops)-1])
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// CredentialAction buckets each auth action separately, so a client that
// burns its refresh budget can still log in.
func CredentialAction(r *http.Request) string {
	return ClientIP(r) + ":" + path.Base(r.URL.Path)
}

// IsHealthCheck matches the orchestrator endpoints, which are never throttled.
func IsHealthCheck(r *http.Request) bool {
	switch r.URL.Path {
	case "/healthz", "/livez", "/readyz":
		return true
	}
	return false
}

const bucketIdle = 10 * time.Minute

type localBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// localBuckets sweeps idle buckets on access rather than from a goroutine.
type localBuckets struct {
	mu        sync.Mutex
	buckets   map[string]*localBucket
	lastSweep time.Time
}

func (l *localBuckets) allow(
	key string,
	limit redis_rate.Limit,
	now time.Time,
) *redis_rate.Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) > bucketIdle {
		for k, b := range l.buckets {
			if now.Sub(b.lastSeen) > bucketIdle {
				delete(l.buckets, k)
			}
		}
		l.lastSweep = now
	}

	interval := limit.Period / time.Duration(max(limit.Rate, 1))

	b, ok := l.buckets[key]
	if !ok {
		b = &localBucket{limiter: rate.NewLimiter(rate.Every(interval), limit.Burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now

	res := &redis_rate.Result{
		Limit:      limit,
		RetryAfter: -1,
		ResetAfter: interval,
	}

	if b.limiter.AllowN(now, 1) {
		res.Allowed = 1
		res.Remaining = max(int(b.limiter.TokensAt(now)), 0)
		return res
	}

	res.RetryAfter = interval
	return res
}
