package identity

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"math/big"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// TokenIssuer mints the access/refresh token pair returned on successful
// authentication.
type TokenIssuer interface {
	Issue(u *User) (access, refresh string, err error)
}

// Session is the result of a successful login, registration, or OTP
// verification.
type Session struct {
	User         *User
	AccessToken  string
	RefreshToken string
}

// Service implements registration, password login, and the OTP flow.
type Service struct {
	users  Repository
	tokens TokenIssuer
	otpTTL time.Duration
	lg     *zap.Logger
}

func NewService(users Repository, tokens TokenIssuer, otpTTL time.Duration, lg *zap.Logger) *Service {
	return &Service{
		users:  users,
		tokens: tokens,
		otpTTL: otpTTL,
		lg:     lg,
	}
}

// Register creates an account with a bcrypt password hash and returns a
// fresh session.
func (s *Service) Register(ctx context.Context, email, name, password string) (*Session, error) {
	email = normalizeEmail(email)

	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, ErrNotFound) {
		return nil, errors.Wrap(err, "lookup user")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, errors.Wrap(err, "hash password")
	}

	u := &User{
		ID:           uuid.New().String(),
		Email:        email,
		Name:         name,
		Role:         RoleUser,
		PasswordHash: string(hash),
	}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, errors.Wrap(err, "create user")
	}
	return s.session(u)
}

// Login authenticates with email and password. Unknown accounts and wrong
// passwords are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	u, err := s.users.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, errors.Wrap(err, "lookup user")
	}
	if u.PasswordHash == "" {
		return nil, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	return s.session(u)
}

// SendOTP issues a one-time login code for the given email, creating the
// account on first use. Delivery through an email provider is out of scope
// here; the code is logged for development setups.
func (s *Service) SendOTP(ctx context.Context, email string) error {
	email = normalizeEmail(email)

	u, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		u = &User{
			ID:    uuid.New().String(),
			Email: email,
			Name:  "New User",
			Role:  RoleUser,
		}
		if err := s.users.Create(ctx, u); err != nil {
			return errors.Wrap(err, "create user")
		}
	} else if err != nil {
		return errors.Wrap(err, "lookup user")
	}

	code, err := generateOTP()
	if err != nil {
		return errors.Wrap(err, "generate code")
	}
	if err := s.users.SetOTP(ctx, u.ID, code, time.Now().Add(s.otpTTL)); err != nil {
		return errors.Wrap(err, "store code")
	}

	s.lg.Info("OTP issued",
		zap.String("email", email),
		zap.String("code", code),
	)
	return nil
}

// VerifyOTP exchanges a pending one-time code for a session.
func (s *Service) VerifyOTP(ctx context.Context, email, code string) (*Session, error) {
	u, err := s.users.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidOTP
		}
		return nil, errors.Wrap(err, "lookup user")
	}

	if u.OTPCode == "" || time.Now().After(u.OTPExpiresAt) {
		return nil, ErrInvalidOTP
	}
	if subtle.ConstantTimeCompare([]byte(u.OTPCode), []byte(code)) != 1 {
		return nil, ErrInvalidOTP
	}

	now := time.Now()
	if err := s.users.ConsumeOTP(ctx, u.ID, now); err != nil {
		return nil, errors.Wrap(err, "consume code")
	}
	u.OTPCode = ""
	u.IsVerified = true
	u.LastLogin = now
	return s.session(u)
}

func (s *Service) session(u *User) (*Session, error) {
	access, refresh, err := s.tokens.Issue(u)
	if err != nil {
		return nil, errors.Wrap(err, "issue tokens")
	}
	return &Session{
		User:         u,
		AccessToken:  access,
		RefreshToken: refresh,
	}, nil
}

// generateOTP returns a 4-digit code from crypto/rand.
func generateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(9000))
	if err != nil {
		return "", err
	}
	return big.NewInt(0).Add(n, big.NewInt(1000)).String(), nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
