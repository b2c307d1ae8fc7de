package identity

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// Sentinel errors surfaced to the handler layer.
var (
	ErrNotFound           = errors.New("user not found")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidOTP         = errors.New("invalid or expired code")
)

// Role controls access to administrative operations.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// User is a registered account. PasswordHash is empty for accounts created
// through the OTP flow that never set a password.
type User struct {
	ID           string
	Email        string
	Phone        string
	Name         string
	Role         Role
	PasswordHash string
	OTPCode      string
	OTPExpiresAt time.Time
	IsVerified   bool
	LastLogin    time.Time
}

// Repository defines persistence operations for user accounts.
type Repository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	// SetOTP stores a pending one-time code with its expiry.
	SetOTP(ctx context.Context, id, code string, expiresAt time.Time) error
	// ConsumeOTP clears the pending code, marks the account verified, and
	// records the login time.
	ConsumeOTP(ctx context.Context, id string, lastLogin time.Time) error
}
