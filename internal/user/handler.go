// AngelaMos | 2026
// handler.go

package user

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/carterperez-dev/templates/auth-service/internal/auth"
	"github.com/carterperez-dev/templates/auth-service/internal/core"
	"github.com/carterperez-dev/templates/auth-service/internal/middleware"
)

type targetKey struct{}

// Handler serves the account read side. Credentials and refresh secrets
// never pass through here; those belong to the auth handler.
type Handler struct {
	users    *Service
	validate *validator.Validate
}

func NewHandler(users *Service) *Handler {
	return &Handler{
		users:    users,
		validate: auth.NewValidator(),
	}
}

func (h *Handler) RegisterRoutes(
	r chi.Router,
	authenticator func(http.Handler) http.Handler,
) {
	r.With(authenticator).Get("/users/me", h.Me)
}

// RegisterAdminRoutes mounts account management for ADMIN bearers. Role
// changes reach the holder's access token on their next refresh.
func (h *Handler) RegisterAdminRoutes(
	r chi.Router,
	authenticator, adminOnly func(http.Handler) http.Handler,
) {
	r.Group(func(r chi.Router) {
		r.Use(authenticator, adminOnly)

		r.Get("/admin/users", h.List)
		r.With(h.loadTarget).Get("/admin/users/{userID}", h.Show)
		r.With(h.loadTarget).Put("/admin/users/{userID}/role", h.ChangeRole)
	})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	me, err := h.users.GetMe(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		core.JSONError(w, httpError(err))
		return
	}

	core.OK(w, ToUserResponse(me))
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	params := listParams(r.URL.Query())

	users, total, err := h.users.ListUsers(r.Context(), params)
	if err != nil {
		core.JSONError(w, httpError(err))
		return
	}

	core.Paginated(w, ToUserResponseList(users), params.Page, params.PageSize, total)
}

func (h *Handler) Show(w http.ResponseWriter, r *http.Request) {
	core.OK(w, ToUserResponse(targetUser(r)))
}

func (h *Handler) ChangeRole(w http.ResponseWriter, r *http.Request) {
	var req UpdateUserRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		core.BadRequest(w, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		core.JSONError(w, core.ValidationError(core.FormatValidationError(err)))
		return
	}

	target := targetUser(r)
	if target.Role == auth.Role(req.Role) {
		core.OK(w, ToUserResponse(target))
		return
	}

	updated, err := h.users.UpdateUserRole(r.Context(), target.ID, req.Role)
	if err != nil {
		core.JSONError(w, httpError(err))
		return
	}

	slog.InfoContext(r.Context(), "user role changed",
		"user_id", target.ID,
		"from", target.Role,
		"to", updated.Role,
		"changed_by", middleware.GetUserID(r.Context()),
	)
	core.OK(w, ToUserResponse(updated))
}

// loadTarget resolves {userID} once for every route below it. Ids that are
// not UUIDs are reported as missing, not malformed.
func (h *Handler) loadTarget(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "userID")
		if uuid.Validate(id) != nil {
			core.NotFound(w, "user")
			return
		}

		target, err := h.users.GetUser(r.Context(), id)
		if err != nil {
			core.JSONError(w, httpError(err))
			return
		}

		ctx := context.WithValue(r.Context(), targetKey{}, target)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func targetUser(r *http.Request) *User {
	u, _ := r.Context().Value(targetKey{}).(*User)
	return u
}

func listParams(q url.Values) ListUsersParams {
	params := ListUsersParams{
		Page:     queryInt(q, "page", 1),
		PageSize: queryInt(q, "pageSize", 20),
		Search:   q.Get("search"),
		Role:     q.Get("role"),
	}
	params.Normalize()
	return params
}

func queryInt(q url.Values, key string, fallback int) int {
	n, err := strconv.Atoi(q.Get(key))
	if err != nil {
		return fallback
	}
	return n
}

func httpError(err error) error {
	switch {
	case errors.Is(err, core.ErrUnauthorized):
		return core.UnauthorizedError("authentication required")
	case errors.Is(err, core.ErrNotFound):
		return core.NotFoundError("user")
	case errors.Is(err, core.ErrInvalidInput):
		return core.NewAppError(err, err.Error(), http.StatusBadRequest, "BAD_REQUEST")
	case errors.Is(err, core.ErrStoreUnavailable):
		return core.ServiceUnavailableError()
	}

	slog.Error("user request failed", "error", err)
	return core.InternalError()
}
