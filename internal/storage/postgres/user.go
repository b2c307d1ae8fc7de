package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/unwindlabs/storefront/internal/domain/identity"
)

const (
	insertUserSQL = `INSERT INTO users (id, email, phone, name, role, password_hash)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, $5, $6)`

	getUserByIDSQL = `SELECT id, COALESCE(email, ''), COALESCE(phone, ''), name, role,
			password_hash, otp_code, otp_expires_at, is_verified, last_login
		FROM users WHERE id = $1`

	getUserByEmailSQL = `SELECT id, COALESCE(email, ''), COALESCE(phone, ''), name, role,
			password_hash, otp_code, otp_expires_at, is_verified, last_login
		FROM users WHERE email = $1`

	setOTPSQL = `UPDATE users SET otp_code = $2, otp_expires_at = $3, updated_at = now()
		WHERE id = $1`

	consumeOTPSQL = `UPDATE users SET otp_code = '', otp_expires_at = NULL,
			is_verified = TRUE, last_login = $2, updated_at = now()
		WHERE id = $1`
)

var _ identity.Repository = (*UserRepository)(nil)

// UserRepository implements identity.Repository backed by PostgreSQL.
type UserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository returns a UserRepository that uses the given pool.
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

func (r *UserRepository) Create(ctx context.Context, u *identity.User) error {
	_, err := r.pool.Exec(ctx, insertUserSQL,
		u.ID, u.Email, u.Phone, u.Name, string(u.Role), u.PasswordHash)
	if err != nil {
		return fmt.Errorf("creating user %q: %w", u.ID, err)
	}
	return nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*identity.User, error) {
	return r.getOne(ctx, getUserByIDSQL, id)
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*identity.User, error) {
	return r.getOne(ctx, getUserByEmailSQL, email)
}

func (r *UserRepository) SetOTP(ctx context.Context, id, code string, expiresAt time.Time) error {
	_, err := r.pool.Exec(ctx, setOTPSQL, id, code, expiresAt)
	if err != nil {
		return fmt.Errorf("storing otp for %q: %w", id, err)
	}
	return nil
}

func (r *UserRepository) ConsumeOTP(ctx context.Context, id string, lastLogin time.Time) error {
	_, err := r.pool.Exec(ctx, consumeOTPSQL, id, lastLogin)
	if err != nil {
		return fmt.Errorf("consuming otp for %q: %w", id, err)
	}
	return nil
}

func (r *UserRepository) getOne(ctx context.Context, query, arg string) (*identity.User, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("getting user: %w", err)
	}

	u, err := pgx.CollectExactlyOneRow(rows, scanUser)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, identity.ErrNotFound
		}
		return nil, fmt.Errorf("getting user: %w", err)
	}
	return &u, nil
}

func scanUser(row pgx.CollectableRow) (identity.User, error) {
	var (
		u          identity.User
		role       string
		otpExpires sql.NullTime
		lastLogin  sql.NullTime
	)
	err := row.Scan(&u.ID, &u.Email, &u.Phone, &u.Name, &role,
		&u.PasswordHash, &u.OTPCode, &otpExpires, &u.IsVerified, &lastLogin)
	u.Role = identity.Role(role)
	if otpExpires.Valid {
		u.OTPExpiresAt = otpExpires.Time
	}
	if lastLogin.Valid {
		u.LastLogin = lastLogin.Time
	}
	return u, err
}
