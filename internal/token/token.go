// Package token issues and verifies the HS256 access/refresh token pair.
package token

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/golang-jwt/jwt/v5"

	"github.com/unwindlabs/storefront/internal/domain/identity"
)

// Verification errors. ErrExpired is distinguished so callers can trigger a
// logout-and-reauthenticate flow instead of treating the token as forged.
var (
	ErrInvalid = errors.New("invalid token")
	ErrExpired = errors.New("token expired")
)

const (
	kindAccess  = "access"
	kindRefresh = "refresh"
)

// Claims is the verified content of an access token.
type Claims struct {
	UserID string
	Email  string
	Name   string
	Role   identity.Role
}

type tokenClaims struct {
	jwt.RegisteredClaims

	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	Role  string `json:"role,omitempty"`
	Kind  string `json:"kind"`
}

// Issuer mints and verifies tokens with a single HMAC secret.
type Issuer struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func NewIssuer(secret []byte, accessTTL, refreshTTL time.Duration) *Issuer {
	return &Issuer{
		secret:     secret,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}
}

var _ identity.TokenIssuer = (*Issuer)(nil)

// Issue returns a signed access/refresh token pair for the user.
func (i *Issuer) Issue(u *identity.User) (string, string, error) {
	access, err := i.sign(u, kindAccess, i.accessTTL)
	if err != nil {
		return "", "", errors.Wrap(err, "sign access token")
	}
	refresh, err := i.sign(u, kindRefresh, i.refreshTTL)
	if err != nil {
		return "", "", errors.Wrap(err, "sign refresh token")
	}
	return access, refresh, nil
}

func (i *Issuer) sign(u *identity.User, kind string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Email: u.Email,
		Name:  u.Name,
		Role:  string(u.Role),
		Kind:  kind,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}

// VerifyAccess parses and validates an access token, returning its claims.
// Refresh tokens are rejected here: they never grant API access directly.
func (i *Issuer) VerifyAccess(raw string) (*Claims, error) {
	var claims tokenClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return i.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, ErrInvalid
	}
	if claims.Kind != kindAccess || claims.Subject == "" {
		return nil, ErrInvalid
	}

	return &Claims{
		UserID: claims.Subject,
		Email:  claims.Email,
		Name:   claims.Name,
		Role:   identity.Role(claims.Role),
	}, nil
}
