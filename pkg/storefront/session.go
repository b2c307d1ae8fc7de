package storefront

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Persisted key names. Tokens, profile, and the guest ID are identifying and
// live in the Secure store; cached cart state lives in the General store.
const (
	keyAccessToken  = "auth.access_token"
	keyRefreshToken = "auth.refresh_token"
	keyProfile      = "auth.profile"
	keyGuestID       = "session.guest_id"
	keyGuestCart     = "cart.guest"
	keyGuestWishlist = "wishlist.guest"
)

// AuthErrorKind discriminates authentication failures.
type AuthErrorKind int

const (
	// AuthInvalidCredentials: the server rejected the credentials or code.
	AuthInvalidCredentials AuthErrorKind = iota
	// AuthUnavailable: transport failure or server error; retry later.
	AuthUnavailable
	// AuthTokenExpired: the access token is no longer valid; log in again.
	AuthTokenExpired
	// AuthRequired: the operation needs an authenticated session.
	AuthRequired
)

// AuthError is an authentication failure with a branchable kind.
type AuthError struct {
	Kind AuthErrorKind
	Err  error
}

func (e *AuthError) Error() string {
	switch e.Kind {
	case AuthInvalidCredentials:
		return "auth: invalid credentials"
	case AuthTokenExpired:
		return "auth: token expired"
	case AuthRequired:
		return "auth: authentication required"
	default:
		return fmt.Sprintf("auth: unavailable: %v", e.Err)
	}
}

func (e *AuthError) Unwrap() error { return e.Err }

// Identity is the current session identity: exactly one of User or a guest.
type Identity struct {
	// User is non-nil for authenticated sessions.
	User *Profile
	// GuestID is the stable anonymous identity; set when User is nil.
	GuestID string
}

func (id Identity) IsUser() bool { return id.User != nil }

// Session resolves and persists the client identity. A fresh session is a
// guest with a lazily created, persisted guest ID; Login upgrades it to a
// user and hands the previous guest ID to the merge hook.
type Session struct {
	api     *APIClient
	storage Storage
	lg      *zap.Logger

	mu           sync.RWMutex
	accessToken  string
	refreshToken string
	profile      *Profile
	guestID      string

	// afterLogin runs synchronously at the end of a successful login with
	// the guest ID the session had before the upgrade. Set by Client wiring.
	afterLogin func(ctx context.Context, guestID string)
	// afterLogout runs synchronously at the end of Logout, after the old
	// identity's persisted state has been purged. Set by Client wiring.
	afterLogout func()
}

// newSession restores persisted identity. Corrupt or missing state degrades
// to a fresh guest, never to an error the caller must handle.
func newSession(api *APIClient, storage Storage, lg *zap.Logger) *Session {
	s := &Session{api: api, storage: storage, lg: lg}

	if tok, err := storage.Secure.Get(keyAccessToken); err == nil && tok != "" {
		var p Profile
		raw, err := storage.Secure.Get(keyProfile)
		if err == nil && json.Unmarshal([]byte(raw), &p) == nil {
			s.accessToken = tok
			s.profile = &p
			if rt, err := storage.Secure.Get(keyRefreshToken); err == nil {
				s.refreshToken = rt
			}
		}
	}
	if gid, err := storage.Secure.Get(keyGuestID); err == nil {
		s.guestID = gid
	}
	return s
}

// CurrentIdentity returns the live identity, creating and persisting a guest
// ID on first use.
func (s *Session) CurrentIdentity() Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.profile != nil {
		return Identity{User: s.profile}
	}
	return Identity{GuestID: s.ensureGuestLocked()}
}

func (s *Session) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profile != nil
}

// ensureGuestLocked returns the guest ID, minting and persisting one if the
// session has none yet. Callers hold s.mu.
func (s *Session) ensureGuestLocked() string {
	if s.guestID == "" {
		s.guestID = uuid.NewString()
		if err := s.storage.Secure.Set(keyGuestID, s.guestID); err != nil {
			s.lg.Warn("Persist guest ID failed", zap.Error(err))
		}
	}
	return s.guestID
}

// creds returns request credentials for the current identity.
func (s *Session) creds() credentials {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.accessToken != "" {
		return credentials{accessToken: s.accessToken}
	}
	return credentials{guestID: s.ensureGuestLocked()}
}

// Login exchanges credentials for a session, persists it, and runs the
// guest merge synchronously. A merge failure does not fail the login.
func (s *Session) Login(ctx context.Context, email, password string) (Profile, error) {
	resp, err := s.api.login(ctx, email, password)
	if err != nil {
		return Profile{}, classifyAuthErr(err)
	}
	return s.establish(ctx, resp), nil
}

// Register creates an account and logs in.
func (s *Session) Register(ctx context.Context, name, email, password string) (Profile, error) {
	resp, err := s.api.register(ctx, name, email, password)
	if err != nil {
		return Profile{}, classifyAuthErr(err)
	}
	return s.establish(ctx, resp), nil
}

// RequestOTP asks the server to issue a one-time login code for email.
func (s *Session) RequestOTP(ctx context.Context, email string) error {
	if err := s.api.sendOTP(ctx, email); err != nil {
		return classifyAuthErr(err)
	}
	return nil
}

// LoginWithOTP exchanges a one-time code for a session.
func (s *Session) LoginWithOTP(ctx context.Context, email, code string) (Profile, error) {
	resp, err := s.api.verifyOTP(ctx, email, code)
	if err != nil {
		return Profile{}, classifyAuthErr(err)
	}
	return s.establish(ctx, resp), nil
}

// establish swaps the session to the authenticated identity and fires the
// merge hook with the pre-login guest ID.
func (s *Session) establish(ctx context.Context, resp sessionPayload) Profile {
	s.mu.Lock()
	prevGuest := s.guestID
	s.accessToken = resp.AccessToken
	s.refreshToken = resp.RefreshToken
	p := resp.User
	s.profile = &p
	s.mu.Unlock()

	s.persistAuth(resp)
	s.lg.Info("Logged in", zap.String("user_id", resp.User.ID))

	if s.afterLogin != nil && prevGuest != "" {
		s.afterLogin(ctx, prevGuest)
	}
	return resp.User
}

func (s *Session) persistAuth(resp sessionPayload) {
	sec := s.storage.Secure
	if err := sec.Set(keyAccessToken, resp.AccessToken); err != nil {
		s.lg.Warn("Persist access token failed", zap.Error(err))
	}
	if err := sec.Set(keyRefreshToken, resp.RefreshToken); err != nil {
		s.lg.Warn("Persist refresh token failed", zap.Error(err))
	}
	if raw, err := json.Marshal(resp.User); err == nil {
		if err := sec.Set(keyProfile, string(raw)); err != nil {
			s.lg.Warn("Persist profile failed", zap.Error(err))
		}
	}
}

// Logout drops the authenticated identity and all guest state, then starts a
// fresh guest. The discarded guest ID is not recoverable.
func (s *Session) Logout() {
	s.mu.Lock()
	s.accessToken = ""
	s.refreshToken = ""
	s.profile = nil
	s.guestID = ""
	s.mu.Unlock()

	for _, key := range []string{keyAccessToken, keyRefreshToken, keyProfile, keyGuestID} {
		if err := s.storage.Secure.Delete(key); err != nil {
			s.lg.Warn("Purge key failed", zap.String("key", key), zap.Error(err))
		}
	}
	for _, key := range []string{keyGuestCart, keyGuestWishlist} {
		if err := s.storage.General.Delete(key); err != nil {
			s.lg.Warn("Purge cached state failed", zap.String("key", key), zap.Error(err))
		}
	}
	if s.afterLogout != nil {
		s.afterLogout()
	}
	s.lg.Info("Logged out")
}

// dropGuest forgets the current guest identity after a successful merge.
func (s *Session) dropGuest() {
	s.mu.Lock()
	s.guestID = ""
	s.mu.Unlock()
	if err := s.storage.Secure.Delete(keyGuestID); err != nil {
		s.lg.Warn("Purge guest ID failed", zap.Error(err))
	}
	for _, key := range []string{keyGuestCart, keyGuestWishlist} {
		if err := s.storage.General.Delete(key); err != nil {
			s.lg.Warn("Purge cached state failed", zap.String("key", key), zap.Error(err))
		}
	}
}

// classifyAuthErr maps transport and API errors onto AuthError kinds.
func classifyAuthErr(err error) error {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return &AuthError{Kind: AuthUnavailable, Err: err}
	}
	switch {
	case apiErr.Reason == "token_expired":
		return &AuthError{Kind: AuthTokenExpired, Err: err}
	case apiErr.Status == http.StatusUnauthorized:
		return &AuthError{Kind: AuthInvalidCredentials, Err: err}
	case apiErr.Status >= 500:
		return &AuthError{Kind: AuthUnavailable, Err: err}
	default:
		return &AuthError{Kind: AuthInvalidCredentials, Err: err}
	}
}
