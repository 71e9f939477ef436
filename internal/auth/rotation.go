// AngelaMos | 2026
// rotation.go

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/carterperez-dev/templates/auth-service/internal/core"
)

var (
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	// ErrRefreshReuseDetected wraps ErrInvalidRefreshToken so callers that
	// only check for the latter treat both the same way.
	ErrRefreshReuseDetected = fmt.Errorf(
		"refresh token reuse detected: %w",
		ErrInvalidRefreshToken,
	)
)

const maxIssueAttempts = 3

// SecretGenerator produces raw refresh secrets. Replaceable in tests to
// force digest collisions.
type SecretGenerator func() (string, error)

type RotationConfig struct {
	RefreshTTL time.Duration
}

// RotationEngine owns the refresh-token state machine: issue, rotate with
// reuse detection, family revocation and single-token logout.
type RotationEngine struct {
	repo      Repository
	clock     core.Clock
	logger    *slog.Logger
	ttl       time.Duration
	newSecret SecretGenerator
	newID     func() string
}

type EngineOption func(*RotationEngine)

func WithClock(clock core.Clock) EngineOption {
	return func(e *RotationEngine) {
		e.clock = clock
	}
}

func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *RotationEngine) {
		e.logger = logger
	}
}

func WithSecretGenerator(gen SecretGenerator) EngineOption {
	return func(e *RotationEngine) {
		e.newSecret = gen
	}
}

func NewRotationEngine(
	repo Repository,
	cfg RotationConfig,
	opts ...EngineOption,
) *RotationEngine {
	e := &RotationEngine{
		repo:      repo,
		clock:     core.SystemClock(),
		logger:    slog.Default(),
		ttl:       cfg.RefreshTTL,
		newSecret: core.GenerateRefreshToken,
		newID:     func() string { return uuid.New().String() },
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Issue mints a record for userID. An empty familyID starts a new family.
func (e *RotationEngine) Issue(
	ctx context.Context,
	userID, familyID string,
) (issued *IssuedToken, err error) {
	if familyID == "" {
		familyID = e.newID()
	}

	ctx, span := startSpan(ctx, "issue", familyAttrs(userID, familyID)...)
	defer func() { endSpan(span, err) }()

	for range maxIssueAttempts {
		issued, err = e.newToken(userID, familyID)
		if err != nil {
			return nil, err
		}

		err = e.repo.Save(ctx, issued.Record)
		if err == nil {
			return issued, nil
		}
		if !errors.Is(err, core.ErrConflict) {
			return nil, fmt.Errorf("issue refresh token: %w", err)
		}

		e.logger.Warn("refresh token hash collision, regenerating",
			"user_id", userID,
		)
	}

	return nil, fmt.Errorf("issue refresh token: %w", err)
}

// BeforeCommit runs once a presented secret is known to be live and before
// its rotation is written. An error aborts the rotation and leaves the
// secret usable. Returning ErrInvalidRefreshToken fails it without a cascade.
type BeforeCommit func(ctx context.Context, current *RefreshToken) error

// Rotate exchanges a live secret for its successor in the same family.
// Presenting a secret that is revoked or expired revokes the whole family
// and fails with ErrRefreshReuseDetected.
func (e *RotationEngine) Rotate(
	ctx context.Context,
	rawSecret string,
) (*IssuedToken, error) {
	return e.RotateWith(ctx, rawSecret, nil)
}

// RotateWith is Rotate with a hook for work that must succeed before the
// old secret is consumed, such as minting the paired access token.
func (e *RotationEngine) RotateWith(
	ctx context.Context,
	rawSecret string,
	before BeforeCommit,
) (successor *IssuedToken, err error) {
	ctx, span := startSpan(ctx, "rotate")
	defer func() { endSpan(span, err) }()

	current, err := e.repo.FindByHash(ctx, core.HashToken(rawSecret))
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, ErrInvalidRefreshToken
		}
		return nil, fmt.Errorf("rotate: %w", err)
	}
	span.SetAttributes(familyAttrs(current.UserID, current.FamilyID)...)

	now := e.clock.Now()
	if !current.IsLive(now) {
		return nil, e.handleReuse(ctx, current, now)
	}

	if before != nil {
		if err = before(ctx, current); err != nil {
			if errors.Is(err, ErrInvalidRefreshToken) {
				return nil, ErrInvalidRefreshToken
			}
			return nil, fmt.Errorf("rotate: %w", err)
		}
	}

	for range maxIssueAttempts {
		successor, err = e.newToken(current.UserID, current.FamilyID)
		if err != nil {
			return nil, err
		}

		retired := *current
		retired.MarkRotated(successor.Record.ID, now)

		err = e.repo.Rotate(ctx, &retired, successor.Record)
		switch {
		case err == nil:
			return successor, nil
		case errors.Is(err, core.ErrConflict):
			continue
		case errors.Is(err, ErrTokenConsumed):
			// Lost a race with another rotation of the same secret.
			retired = *current
			retired.Revoked = true
			return nil, e.handleReuse(ctx, &retired, now)
		case errors.Is(err, core.ErrNotFound):
			return nil, ErrInvalidRefreshToken
		default:
			return nil, fmt.Errorf("rotate: %w", err)
		}
	}

	return nil, fmt.Errorf("rotate: %w", err)
}

// RevokeFamily revokes every non-revoked record sharing token's family and
// returns how many changed. Already revoked records keep their reason.
func (e *RotationEngine) RevokeFamily(
	ctx context.Context,
	token *RefreshToken,
) (revoked int, err error) {
	ctx, span := startSpan(ctx, "revoke_family", familyAttrs(token.UserID, token.FamilyID)...)
	defer func() { endSpan(span, err) }()

	revoked, err = e.repo.RevokeFamily(
		ctx,
		token.UserID,
		token.FamilyID,
		RevokeReasonCascade,
		e.clock.Now(),
	)
	if err != nil {
		return 0, fmt.Errorf("revoke family: %w", err)
	}

	span.SetAttributes(attrRevoked.Int(revoked))
	return revoked, nil
}

// Logout revokes exactly the presented token. Unknown secrets succeed.
func (e *RotationEngine) Logout(ctx context.Context, rawSecret string) (err error) {
	ctx, span := startSpan(ctx, "logout")
	defer func() { endSpan(span, err) }()

	token, err := e.repo.FindByHash(ctx, core.HashToken(rawSecret))
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("logout: %w", err)
	}
	span.SetAttributes(familyAttrs(token.UserID, token.FamilyID)...)

	if !token.Revoke(RevokeReasonLogout, e.clock.Now()) {
		return nil
	}

	if err = e.repo.Save(ctx, token); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// Prune deletes userID's records that expired before cutoff.
func (e *RotationEngine) Prune(
	ctx context.Context,
	userID string,
	cutoff time.Time,
) (int64, error) {
	deleted, err := e.repo.DeleteExpiredBefore(ctx, userID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune refresh tokens: %w", err)
	}
	return deleted, nil
}

// handleReuse runs the cascade detached from the caller's cancellation so a
// dropped request cannot stop a family from being revoked.
func (e *RotationEngine) handleReuse(
	ctx context.Context,
	token *RefreshToken,
	now time.Time,
) error {
	state := token.State(now)
	recordReuse(ctx, token, state)

	revoked, err := e.RevokeFamily(context.WithoutCancel(ctx), token)
	if err != nil {
		e.logger.Error("refresh family revocation failed",
			"error", err,
			"user_id", token.UserID,
			"family_id", token.FamilyID,
		)
		return fmt.Errorf("rotate: %w", err)
	}

	e.logger.Warn("refresh token reuse detected",
		"user_id", token.UserID,
		"family_id", token.FamilyID,
		"token_id", token.ID,
		"state", state,
		"revoked", revoked,
	)

	return ErrRefreshReuseDetected
}

func (e *RotationEngine) newToken(userID, familyID string) (*IssuedToken, error) {
	secret, err := e.newSecret()
	if err != nil {
		return nil, fmt.Errorf("generate refresh secret: %w", err)
	}

	now := e.clock.Now()
	return &IssuedToken{
		Secret: secret,
		Record: &RefreshToken{
			ID:        e.newID(),
			UserID:    userID,
			TokenHash: core.HashToken(secret),
			FamilyID:  familyID,
			ExpiresAt: now.Add(e.ttl),
			CreatedAt: now,
		},
	}, nil
}
