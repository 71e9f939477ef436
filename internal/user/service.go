// AngelaMos | 2026
// service.go

package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/carterperez-dev/templates/auth-service/internal/auth"
	"github.com/carterperez-dev/templates/auth-service/internal/core"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) GetByID(
	ctx context.Context,
	id string,
) (*auth.UserInfo, error) {
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	return toUserInfo(user), nil
}

func (s *Service) FindByUsernameOrEmail(
	ctx context.Context,
	identifier string,
) (*auth.UserInfo, error) {
	user, err := s.repo.FindByUsernameOrEmail(ctx, strings.TrimSpace(identifier))
	if err != nil {
		return nil, err
	}

	return toUserInfo(user), nil
}

func (s *Service) ExistsByUsername(
	ctx context.Context,
	username string,
) (bool, error) {
	return s.repo.ExistsByUsername(ctx, username)
}

func (s *Service) ExistsByEmail(
	ctx context.Context,
	email string,
) (bool, error) {
	return s.repo.ExistsByEmail(ctx, strings.ToLower(email))
}

func (s *Service) Create(
	ctx context.Context,
	username, email, passwordHash string,
	role auth.Role,
) (*auth.UserInfo, error) {
	user := &User{
		ID:           uuid.New().String(),
		Username:     username,
		Email:        strings.ToLower(email),
		PasswordHash: passwordHash,
		Role:         role,
	}

	if err := s.repo.Create(ctx, user); err != nil {
		return nil, err
	}

	return toUserInfo(user), nil
}

// VerifyPassword burns the same argon2 cost for unknown identifiers as for
// known ones, and upgrades stored hashes whose parameters are outdated.
func (s *Service) VerifyPassword(
	ctx context.Context,
	usernameOrEmail, password string,
) (*auth.UserInfo, error) {
	user, err := s.repo.FindByUsernameOrEmail(ctx, strings.TrimSpace(usernameOrEmail))
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		return nil, err
	}

	var storedHash string
	if user != nil {
		storedHash = user.PasswordHash
	}

	check, err := core.CheckPassword(password, storedHash)
	if err != nil || !check.Match {
		return nil, auth.ErrInvalidCredentials
	}

	if check.Upgraded != "" {
		if err := s.repo.UpdatePassword(ctx, user.ID, check.Upgraded); err != nil {
			slog.Warn("password rehash failed", "error", err, "user_id", user.ID)
		}
	}

	return toUserInfo(user), nil
}

func (s *Service) GetUser(ctx context.Context, id string) (*User, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) GetMe(ctx context.Context, userID string) (*User, error) {
	if userID == "" {
		return nil, fmt.Errorf("get me: %w", core.ErrUnauthorized)
	}

	return s.repo.GetByID(ctx, userID)
}

func (s *Service) UpdateUserRole(
	ctx context.Context,
	id, role string,
) (*User, error) {
	r := auth.Role(role)
	if !r.Valid() {
		return nil, fmt.Errorf(
			"update role: invalid role %q: %w",
			role,
			core.ErrInvalidInput,
		)
	}

	if err := s.repo.UpdateRole(ctx, id, r); err != nil {
		return nil, err
	}

	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListUsers(
	ctx context.Context,
	params ListUsersParams,
) ([]User, int, error) {
	return s.repo.List(ctx, params)
}

func (s *Service) CountByRole(ctx context.Context) (map[auth.Role]int, error) {
	return s.repo.CountByRole(ctx)
}

func toUserInfo(u *User) *auth.UserInfo {
	return &auth.UserInfo{
		ID:       u.ID,
		Username: u.Username,
		Email:    u.Email,
		Role:     u.Role,
	}
}

var (
	_ auth.UserDirectory    = (*Service)(nil)
	_ auth.IdentityVerifier = (*Service)(nil)
)
