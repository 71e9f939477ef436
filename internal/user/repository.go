// AngelaMos | 2026
// repository.go

package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/carterperez-dev/templates/auth-service/internal/auth"
	"github.com/carterperez-dev/templates/auth-service/internal/core"
)

type Repository interface {
	Create(ctx context.Context, user *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	FindByUsernameOrEmail(ctx context.Context, identifier string) (*User, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	UpdateRole(ctx context.Context, id string, role auth.Role) error
	List(ctx context.Context, params ListUsersParams) ([]User, int, error)
	ExistsByUsername(ctx context.Context, username string) (bool, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	CountByRole(ctx context.Context) (map[auth.Role]int, error)
}

type repository struct {
	db core.DBTX
}

func NewRepository(db core.DBTX) Repository {
	return &repository{db: db}
}

const userColumns = `id, username, email, password_hash, role, created_at, updated_at`

func (r *repository) Create(ctx context.Context, user *User) error {
	query := `
		INSERT INTO users (id, username, email, password_hash, role)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`

	err := r.db.QueryRowxContext(ctx, query,
		user.ID,
		user.Username,
		user.Email,
		user.PasswordHash,
		user.Role,
	).Scan(&user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		switch {
		case core.IsUniqueViolation(err, usernameConstraint):
			return fmt.Errorf("create user: %w", auth.ErrUsernameTaken)
		case core.IsUniqueViolation(err, emailConstraint):
			return fmt.Errorf("create user: %w", auth.ErrEmailTaken)
		case core.IsUniqueViolation(err, ""):
			return fmt.Errorf("create user: %w", core.ErrDuplicateKey)
		}
		return fmt.Errorf("create user: %w: %w", core.ErrStoreUnavailable, err)
	}

	return nil
}

func (r *repository) GetByID(ctx context.Context, id string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	var user User
	err := r.db.GetContext(ctx, &user, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get user: %w", core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w: %w", core.ErrStoreUnavailable, err)
	}

	return &user, nil
}

// FindByUsernameOrEmail matches either column case-insensitively.
func (r *repository) FindByUsernameOrEmail(
	ctx context.Context,
	identifier string,
) (*User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE lower(username) = lower($1) OR lower(email) = lower($1)
		LIMIT 1`

	var user User
	err := r.db.GetContext(ctx, &user, query, identifier)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("find user: %w", core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w: %w", core.ErrStoreUnavailable, err)
	}

	return &user, nil
}

func (r *repository) UpdatePassword(
	ctx context.Context,
	id, passwordHash string,
) error {
	query := `
		UPDATE users
		SET password_hash = $2, updated_at = NOW()
		WHERE id = $1`

	return r.execOne(ctx, "update password", query, id, passwordHash)
}

func (r *repository) UpdateRole(
	ctx context.Context,
	id string,
	role auth.Role,
) error {
	query := `
		UPDATE users
		SET role = $2, updated_at = NOW()
		WHERE id = $1`

	return r.execOne(ctx, "update role", query, id, role)
}

func (r *repository) execOne(
	ctx context.Context,
	op, query string,
	args ...any,
) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w: %w", op, core.ErrStoreUnavailable, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if rows == 0 {
		return fmt.Errorf("%s: %w", op, core.ErrNotFound)
	}

	return nil
}

// List pages through users newest first. Search matches a substring of the
// username or email; Role must match exactly.
func (r *repository) List(
	ctx context.Context,
	params ListUsersParams,
) ([]User, int, error) {
	params.Normalize()

	var f filter
	if params.Search != "" {
		f.add("(username ILIKE ? OR email ILIKE ?)", "%"+escapeLike(params.Search)+"%")
	}
	if params.Role != "" {
		f.add("role = ?", params.Role)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM users`+f.where(), f.args...); err != nil {
		return nil, 0, fmt.Errorf("count users: %w: %w", core.ErrStoreUnavailable, err)
	}
	if total == 0 {
		return []User{}, 0, nil
	}

	page := len(f.args)
	query := `SELECT ` + userColumns + ` FROM users` + f.where() +
		fmt.Sprintf(` ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`, page+1, page+2)

	users := []User{}
	args := append(f.args, params.PageSize, params.Offset())
	if err := r.db.SelectContext(ctx, &users, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list users: %w: %w", core.ErrStoreUnavailable, err)
	}

	return users, total, nil
}

// filter collects AND-ed conditions. Every ? in one condition binds the
// same argument.
type filter struct {
	conds []string
	args  []any
}

func (f *filter) add(cond string, arg any) {
	f.args = append(f.args, arg)
	f.conds = append(f.conds, strings.ReplaceAll(cond, "?", "$"+strconv.Itoa(len(f.args))))
}

func (f *filter) where() string {
	if len(f.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(f.conds, " AND ")
}

func (r *repository) ExistsByUsername(
	ctx context.Context,
	username string,
) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM users WHERE lower(username) = lower($1))`
	return r.exists(ctx, "check username exists", query, username)
}

func (r *repository) ExistsByEmail(
	ctx context.Context,
	email string,
) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM users WHERE lower(email) = lower($1))`
	return r.exists(ctx, "check email exists", query, email)
}

func (r *repository) exists(
	ctx context.Context,
	op, query, value string,
) (bool, error) {
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, value); err != nil {
		return false, fmt.Errorf("%s: %w: %w", op, core.ErrStoreUnavailable, err)
	}
	return exists, nil
}

func (r *repository) CountByRole(ctx context.Context) (map[auth.Role]int, error) {
	query := `SELECT role, COUNT(*) AS count FROM users GROUP BY role`

	var rows []struct {
		Role  auth.Role `db:"role"`
		Count int       `db:"count"`
	}
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("count users by role: %w: %w", core.ErrStoreUnavailable, err)
	}

	counts := make(map[auth.Role]int, len(rows))
	for _, row := range rows {
		counts[row.Role] = row.Count
	}
	return counts, nil
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "%", "\\%")
	s = strings.ReplaceAll(s, "_", "\\_")
	return s
}
