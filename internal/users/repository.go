package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/srecha/srecha-invoice/internal/platform/db"
	"github.com/srecha/srecha-invoice/internal/shared"
)

// Repository persists user accounts.
type Repository interface {
	List(ctx context.Context) ([]User, error)
	Get(ctx context.Context, id uuid.UUID) (User, error)
	GetByUsername(ctx context.Context, username string) (User, error)
	Insert(ctx context.Context, u NewUser) (User, error)
	UpdateProfile(ctx context.Context, id uuid.UUID, fullName, email *string) (User, error)
	UpdatePassword(ctx context.Context, id uuid.UUID, hash string) error
	UpdatePermissions(ctx context.Context, id uuid.UUID, perms shared.Permissions) (User, error)
	ToggleActive(ctx context.Context, id uuid.UUID) (User, error)
	Delete(ctx context.Context, id uuid.UUID) (User, error)
	TouchLogin(ctx context.Context, id uuid.UUID) error
}

// PGRepository implements Repository on PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const userColumns = `id, username, email, full_name, role, permissions, is_active, last_login,
       created_at, updated_at, password_hash`

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.FullName, &u.Role, &u.Permissions, &u.IsActive,
		&u.LastLogin, &u.CreatedAt, &u.UpdatedAt, &u.PasswordHash)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if _, ok := db.UniqueViolation(err); ok {
		return User{}, ErrDuplicate
	}
	return u, err
}

// List returns every account, newest first.
func (r *PGRepository) List(ctx context.Context) ([]User, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()
	out := []User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// Get returns one account.
func (r *PGRepository) Get(ctx context.Context, id uuid.UUID) (User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// GetByUsername returns the account with the exact username.
func (r *PGRepository) GetByUsername(ctx context.Context, username string) (User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username))
}

// Insert stores a new account. Username and email are unique.
func (r *PGRepository) Insert(ctx context.Context, u NewUser) (User, error) {
	return scanUser(r.pool.QueryRow(ctx, `INSERT INTO users (username, password_hash, email, full_name, role, permissions)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING `+userColumns, u.Username, u.PasswordHash, u.Email, u.FullName, string(u.Role), u.Permissions))
}

// UpdateProfile sets the full name and email. Nil values keep the stored ones.
func (r *PGRepository) UpdateProfile(ctx context.Context, id uuid.UUID, fullName, email *string) (User, error) {
	return scanUser(r.pool.QueryRow(ctx, `UPDATE users
SET full_name = COALESCE($2, full_name), email = COALESCE($3, email), updated_at = NOW()
WHERE id = $1
RETURNING `+userColumns, id, fullName, email))
}

// UpdatePassword stores a new password hash.
func (r *PGRepository) UpdatePassword(ctx context.Context, id uuid.UUID, hash string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1`, id, hash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdatePermissions replaces the permission flags.
func (r *PGRepository) UpdatePermissions(ctx context.Context, id uuid.UUID, perms shared.Permissions) (User, error) {
	return scanUser(r.pool.QueryRow(ctx, `UPDATE users SET permissions = $2, updated_at = NOW()
WHERE id = $1
RETURNING `+userColumns, id, perms))
}

// ToggleActive flips is_active and returns the updated account.
func (r *PGRepository) ToggleActive(ctx context.Context, id uuid.UUID) (User, error) {
	return scanUser(r.pool.QueryRow(ctx, `UPDATE users SET is_active = NOT is_active, updated_at = NOW()
WHERE id = $1
RETURNING `+userColumns, id))
}

// Delete removes the account and returns it.
func (r *PGRepository) Delete(ctx context.Context, id uuid.UUID) (User, error) {
	return scanUser(r.pool.QueryRow(ctx, `DELETE FROM users WHERE id = $1 RETURNING `+userColumns, id))
}

// TouchLogin records a successful login.
func (r *PGRepository) TouchLogin(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `UPDATE users SET last_login = NOW() WHERE id = $1`, id)
	return err
}
