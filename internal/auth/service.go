// AngelaMos | 2026
// service.go

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/carterperez-dev/templates/auth-service/internal/core"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUsernameTaken      = errors.New("username already exists")
	ErrEmailTaken         = errors.New("email already exists")
)

type UserInfo struct {
	ID       string
	Username string
	Email    string
	Role     Role
}

// UserDirectory is the user store. Lookups and existence checks are
// case-insensitive.
type UserDirectory interface {
	FindByUsernameOrEmail(ctx context.Context, identifier string) (*UserInfo, error)
	GetByID(ctx context.Context, id string) (*UserInfo, error)
	ExistsByUsername(ctx context.Context, username string) (bool, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	Create(
		ctx context.Context,
		username, email, passwordHash string,
		role Role,
	) (*UserInfo, error)
}

// IdentityVerifier checks a password and fails with ErrInvalidCredentials
// on any mismatch, including unknown users.
type IdentityVerifier interface {
	VerifyPassword(
		ctx context.Context,
		usernameOrEmail, password string,
	) (*UserInfo, error)
}

type ServiceConfig struct {
	// Retention is how long expired records are kept so that replaying an
	// expired token still triggers a family revocation.
	Retention    time.Duration
	Clock        core.Clock
	HashPassword func(password string) (string, error)
}

type Service struct {
	engine       *RotationEngine
	jwt          *JWTManager
	users        UserDirectory
	verifier     IdentityVerifier
	retention    time.Duration
	clock        core.Clock
	hashPassword func(string) (string, error)
}

func NewService(
	engine *RotationEngine,
	jwt *JWTManager,
	users UserDirectory,
	verifier IdentityVerifier,
	cfg ServiceConfig,
) *Service {
	if cfg.Clock == nil {
		cfg.Clock = core.SystemClock()
	}
	if cfg.HashPassword == nil {
		cfg.HashPassword = core.HashPassword
	}

	return &Service{
		engine:       engine,
		jwt:          jwt,
		users:        users,
		verifier:     verifier,
		retention:    cfg.Retention,
		clock:        cfg.Clock,
		hashPassword: cfg.HashPassword,
	}
}

func (s *Service) Signup(
	ctx context.Context,
	req SignupRequest,
) (*TokenResponse, error) {
	req.Normalize()

	taken, err := s.users.ExistsByUsername(ctx, req.Username)
	if err != nil {
		return nil, fmt.Errorf("check username: %w", err)
	}
	if taken {
		return nil, ErrUsernameTaken
	}

	taken, err = s.users.ExistsByEmail(ctx, req.Email)
	if err != nil {
		return nil, fmt.Errorf("check email: %w", err)
	}
	if taken {
		return nil, ErrEmailTaken
	}

	passwordHash, err := s.hashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.users.Create(ctx, req.Username, req.Email, passwordHash, RoleCandidate)
	if err != nil {
		return nil, err
	}

	return s.startFamily(ctx, user)
}

// Login always starts a new refresh family.
func (s *Service) Login(
	ctx context.Context,
	req LoginRequest,
) (*TokenResponse, error) {
	req.Normalize()

	user, err := s.verifier.VerifyPassword(ctx, req.UsernameOrEmail, req.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("verify password: %w", err)
	}

	resp, err := s.startFamily(ctx, user)
	if err != nil {
		return nil, err
	}

	s.pruneExpired(ctx, user.ID)

	return resp, nil
}

// Refresh resolves the owner and signs the access token before the presented
// secret is consumed, so a failure there leaves it valid for a retry.
func (s *Service) Refresh(
	ctx context.Context,
	refreshToken string,
) (*TokenResponse, error) {
	var (
		user        *UserInfo
		accessToken string
	)

	issued, err := s.engine.RotateWith(ctx, refreshToken,
		func(ctx context.Context, current *RefreshToken) error {
			var err error
			user, err = s.users.GetByID(ctx, current.UserID)
			if err != nil {
				if errors.Is(err, core.ErrNotFound) {
					return ErrInvalidRefreshToken
				}
				return err
			}

			accessToken, err = s.signAccessToken(user)
			return err
		})
	if err != nil {
		return nil, err
	}

	return s.tokenResponse(user, accessToken, issued.Secret), nil
}

// Logout never reports whether the token existed.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	return s.engine.Logout(ctx, refreshToken)
}

func (s *Service) GetCurrentUser(
	ctx context.Context,
	userID string,
) (*MeResponse, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	return &MeResponse{
		ID:       user.ID,
		Username: user.Username,
		Email:    user.Email,
		Role:     user.Role,
	}, nil
}

// RevokeFamily cascades a family without needing one of its secrets.
func (s *Service) RevokeFamily(
	ctx context.Context,
	userID, familyID string,
) (int, error) {
	return s.engine.RevokeFamily(ctx, &RefreshToken{
		UserID:   userID,
		FamilyID: familyID,
	})
}

func (s *Service) pruneExpired(ctx context.Context, userID string) {
	cutoff := s.clock.Now().Add(-s.retention)

	deleted, err := s.engine.Prune(ctx, userID, cutoff)
	if err != nil {
		slog.Warn("prune expired refresh tokens failed",
			"error", err,
			"user_id", userID,
		)
		return
	}

	if deleted > 0 {
		slog.Debug("pruned expired refresh tokens",
			"user_id", userID,
			"deleted", deleted,
		)
	}
}

// startFamily signs the access token first so nothing can fail once the
// new family's first record is stored.
func (s *Service) startFamily(
	ctx context.Context,
	user *UserInfo,
) (*TokenResponse, error) {
	accessToken, err := s.signAccessToken(user)
	if err != nil {
		return nil, err
	}

	issued, err := s.engine.Issue(ctx, user.ID, "")
	if err != nil {
		return nil, err
	}

	return s.tokenResponse(user, accessToken, issued.Secret), nil
}

func (s *Service) signAccessToken(user *UserInfo) (string, error) {
	accessToken, err := s.jwt.Issue(user.ID, map[string]string{
		ClaimRole:     user.Role.String(),
		ClaimUsername: user.Username,
	})
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return accessToken, nil
}

func (s *Service) tokenResponse(
	user *UserInfo,
	accessToken, refreshSecret string,
) *TokenResponse {
	return &TokenResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshSecret,
		TokenType:    "Bearer",
		ExpiresIn:    int(s.jwt.AccessTTL() / time.Second),
		Role:         user.Role,
	}
}
