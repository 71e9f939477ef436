// AngelaMos | 2026
// repository.go

package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/carterperez-dev/templates/auth-service/internal/core"
)

// ErrTokenConsumed is returned by Rotate when the current token was revoked
// between lookup and the rotation write.
var ErrTokenConsumed = errors.New("refresh token already consumed")

// Repository is pure storage for refresh records. Implementations map
// missing rows to core.ErrNotFound, duplicate token hashes to
// core.ErrConflict and backend failures to core.ErrStoreUnavailable.
type Repository interface {
	// Save inserts or updates by ID. Revoked never goes back to false and
	// ReplacedByID is set at most once.
	Save(ctx context.Context, token *RefreshToken) error
	FindByHash(ctx context.Context, tokenHash string) (*RefreshToken, error)
	FindAllByUserAndFamily(
		ctx context.Context,
		userID, familyID string,
	) ([]RefreshToken, error)
	// Rotate revokes current (pointing it at successor) and inserts
	// successor as one atomic write.
	Rotate(ctx context.Context, current, successor *RefreshToken) error
	// RevokeFamily revokes every live member of the family in one step and
	// returns how many changed. A rotation racing it either lands first and
	// its successor is revoked too, or fails with ErrTokenConsumed.
	RevokeFamily(
		ctx context.Context,
		userID, familyID, reason string,
		at time.Time,
	) (int, error)
	DeleteExpiredBefore(
		ctx context.Context,
		userID string,
		cutoff time.Time,
	) (int64, error)
}

const tokenHashConstraint = "refresh_tokens_token_hash_key"

type postgresRepository struct {
	db *sqlx.DB
}

func NewPostgresRepository(db *sqlx.DB) Repository {
	return &postgresRepository{db: db}
}

const upsertTokenQuery = `
	INSERT INTO refresh_tokens (
		id, user_id, token_hash, family_id, expires_at, created_at,
		revoked, revoked_at, revoked_reason, replaced_by_id
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
	)
	ON CONFLICT (id) DO UPDATE SET
		revoked = refresh_tokens.revoked OR EXCLUDED.revoked,
		revoked_at = COALESCE(refresh_tokens.revoked_at, EXCLUDED.revoked_at),
		revoked_reason = CASE
			WHEN refresh_tokens.revoked THEN refresh_tokens.revoked_reason
			ELSE EXCLUDED.revoked_reason
		END,
		replaced_by_id = COALESCE(refresh_tokens.replaced_by_id, EXCLUDED.replaced_by_id)`

func (r *postgresRepository) Save(ctx context.Context, token *RefreshToken) error {
	if err := upsertToken(ctx, r.db, token); err != nil {
		return fmt.Errorf("save refresh token: %w", err)
	}
	return nil
}

func upsertToken(ctx context.Context, db sqlx.ExecerContext, token *RefreshToken) error {
	_, err := db.ExecContext(ctx, upsertTokenQuery,
		token.ID,
		token.UserID,
		token.TokenHash,
		token.FamilyID,
		token.ExpiresAt,
		token.CreatedAt,
		token.Revoked,
		token.RevokedAt,
		token.RevokedReason,
		token.ReplacedByID,
	)
	return classifyError(err)
}

func (r *postgresRepository) FindByHash(
	ctx context.Context,
	tokenHash string,
) (*RefreshToken, error) {
	query := `
		SELECT
			id, user_id, token_hash, family_id, expires_at, created_at,
			revoked, revoked_at, revoked_reason, replaced_by_id
		FROM refresh_tokens
		WHERE token_hash = $1`

	var token RefreshToken
	err := r.db.GetContext(ctx, &token, query, tokenHash)
	if err != nil {
		return nil, fmt.Errorf("find refresh token: %w", classifyError(err))
	}

	return &token, nil
}

func (r *postgresRepository) FindAllByUserAndFamily(
	ctx context.Context,
	userID, familyID string,
) ([]RefreshToken, error) {
	query := `
		SELECT
			id, user_id, token_hash, family_id, expires_at, created_at,
			revoked, revoked_at, revoked_reason, replaced_by_id
		FROM refresh_tokens
		WHERE user_id = $1 AND family_id = $2
		ORDER BY created_at ASC`

	var tokens []RefreshToken
	err := r.db.SelectContext(ctx, &tokens, query, userID, familyID)
	if err != nil {
		return nil, fmt.Errorf("find token family: %w", classifyError(err))
	}

	return tokens, nil
}

func (r *postgresRepository) Rotate(
	ctx context.Context,
	current, successor *RefreshToken,
) error {
	err := core.InTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if err := lockFamily(ctx, tx, current.UserID, current.FamilyID); err != nil {
			return err
		}

		query := `
			UPDATE refresh_tokens
			SET revoked = true,
				revoked_at = $2,
				revoked_reason = $3,
				replaced_by_id = $4
			WHERE id = $1 AND revoked = false`

		result, err := tx.ExecContext(ctx, query,
			current.ID,
			current.RevokedAt,
			RevokeReasonRotated,
			successor.ID,
		)
		if err != nil {
			return classifyError(err)
		}

		rows, err := result.RowsAffected()
		if err != nil {
			return classifyError(err)
		}

		if rows == 0 {
			return ErrTokenConsumed
		}

		return upsertToken(ctx, tx, successor)
	})
	if err != nil {
		return fmt.Errorf("rotate refresh token: %w", err)
	}

	return nil
}

func (r *postgresRepository) RevokeFamily(
	ctx context.Context,
	userID, familyID, reason string,
	at time.Time,
) (int, error) {
	var revoked int64
	err := core.InTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if err := lockFamily(ctx, tx, userID, familyID); err != nil {
			return err
		}

		query := `
			UPDATE refresh_tokens
			SET revoked = true,
				revoked_at = $3,
				revoked_reason = $4
			WHERE user_id = $1 AND family_id = $2 AND revoked = false`

		result, err := tx.ExecContext(ctx, query, userID, familyID, at, reason)
		if err != nil {
			return classifyError(err)
		}

		revoked, err = result.RowsAffected()
		return classifyError(err)
	})
	if err != nil {
		return 0, fmt.Errorf("revoke token family: %w", err)
	}

	return int(revoked), nil
}

// lockFamily serializes rotations and revocations of one family until the
// transaction ends. Each later statement sees what the previous holder
// committed.
func lockFamily(ctx context.Context, tx *sqlx.Tx, userID, familyID string) error {
	_, err := tx.ExecContext(ctx,
		`SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`,
		userID+":"+familyID,
	)
	return classifyError(err)
}

func (r *postgresRepository) DeleteExpiredBefore(
	ctx context.Context,
	userID string,
	cutoff time.Time,
) (int64, error) {
	query := `
		DELETE FROM refresh_tokens
		WHERE user_id = $1 AND expires_at < $2`

	result, err := r.db.ExecContext(ctx, query, userID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired tokens: %w", classifyError(err))
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired tokens: %w", classifyError(err))
	}

	return rows, nil
}

func classifyError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return core.ErrNotFound
	case core.IsUniqueViolation(err, tokenHashConstraint):
		return fmt.Errorf("%w: %w", core.ErrConflict, err)
	default:
		return fmt.Errorf("%w: %w", core.ErrStoreUnavailable, err)
	}
}
