// AngelaMos | 2026
// handler.go

package admin

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"runtime"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/carterperez-dev/templates/auth-service/internal/auth"
	"github.com/carterperez-dev/templates/auth-service/internal/core"
	"github.com/carterperez-dev/templates/auth-service/internal/middleware"
)

// SessionRevoker is the slice of the session service admins can drive.
type SessionRevoker interface {
	RevokeFamily(ctx context.Context, userID, familyID string) (int, error)
}

// Store is one backing service reported by /admin/stats. Pool may be nil.
type Store struct {
	Name string
	Ping func(ctx context.Context) error
	Pool func() PoolStats
}

type HandlerConfig struct {
	Stores []Store
	// TokenStore names the Store holding refresh token records.
	TokenStore string
	UserCounts func(ctx context.Context) (map[auth.Role]int, error)
	Sessions   SessionRevoker
}

type Handler struct {
	cfg HandlerConfig
}

func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{cfg: cfg}
}

func (h *Handler) RegisterRoutes(
	r chi.Router,
	authenticator, adminOnly func(http.Handler) http.Handler,
) {
	// Flat patterns share one tree with the user admin routes; a mounted
	// /admin subrouter would lose /admin/users/... to theirs.
	r.Group(func(r chi.Router) {
		r.Use(authenticator, adminOnly)

		r.Get("/admin/stats", h.Stats)
		r.Post(
			"/admin/users/{userID}/families/{familyID}/revoke",
			h.RevokeFamily,
		)
	})
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{
		TokenStore: h.cfg.TokenStore,
		Stores:     h.storeStatuses(r.Context()),
		Runtime:    readRuntime(),
	}

	if h.cfg.UserCounts != nil {
		counts, err := h.cfg.UserCounts(r.Context())
		if err != nil {
			core.JSONError(w, httpError(err))
			return
		}
		resp.UsersByRole = counts
	}

	core.OK(w, resp)
}

func (h *Handler) storeStatuses(ctx context.Context) []StoreStatus {
	out := make([]StoreStatus, len(h.cfg.Stores))

	var wg sync.WaitGroup
	for i, s := range h.cfg.Stores {
		wg.Add(1)
		go func() {
			defer wg.Done()

			status := StoreStatus{Name: s.Name}
			status.Healthy = s.Ping != nil && s.Ping(ctx) == nil
			if s.Pool != nil {
				pool := s.Pool()
				status.Pool = &pool
			}
			out[i] = status
		}()
	}
	wg.Wait()

	return out
}

// RevokeFamily force-logs-out every device descended from one login.
func (h *Handler) RevokeFamily(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	familyID := chi.URLParam(r, "familyID")

	if uuid.Validate(userID) != nil || uuid.Validate(familyID) != nil {
		core.BadRequest(w, "userID and familyID must be UUIDs")
		return
	}

	revoked, err := h.cfg.Sessions.RevokeFamily(r.Context(), userID, familyID)
	if err != nil {
		core.JSONError(w, httpError(err))
		return
	}

	slog.InfoContext(r.Context(), "refresh family revoked by admin",
		"admin_id", middleware.GetUserID(r.Context()),
		"user_id", userID,
		"family_id", familyID,
		"revoked", revoked,
	)

	core.OK(w, RevokeFamilyResponse{Revoked: revoked})
}

func httpError(err error) error {
	if errors.Is(err, core.ErrStoreUnavailable) {
		return core.ServiceUnavailableError()
	}
	slog.Error("admin request failed", "error", err)
	return core.InternalError()
}

func readRuntime() RuntimeStats {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return RuntimeStats{
		GoVersion:    runtime.Version(),
		NumGoroutine: runtime.NumGoroutine(),
		HeapBytes:    mem.HeapAlloc,
		NumGC:        mem.NumGC,
	}
}

type StatsResponse struct {
	TokenStore  string            `json:"tokenStore"`
	Stores      []StoreStatus     `json:"stores"`
	UsersByRole map[auth.Role]int `json:"usersByRole,omitempty"`
	Runtime     RuntimeStats      `json:"runtime"`
}

type StoreStatus struct {
	Name    string     `json:"name"`
	Healthy bool       `json:"healthy"`
	Pool    *PoolStats `json:"pool,omitempty"`
}

// PoolStats is the part of a connection pool worth watching during a
// login surge: how busy it is and how often callers had to wait.
type PoolStats struct {
	Open     int   `json:"open"`
	Idle     int   `json:"idle"`
	Waits    int64 `json:"waits"`
	Timeouts int64 `json:"timeouts"`
}

type RuntimeStats struct {
	GoVersion    string `json:"goVersion"`
	NumGoroutine int    `json:"numGoroutine"`
	HeapBytes    uint64 `json:"heapBytes"`
	NumGC        uint32 `json:"numGc"`
}

type RevokeFamilyResponse struct {
	Revoked int `json:"revoked"`
}
