package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-faster/errors"

	"github.com/unwindlabs/storefront/internal/domain/cart"
	"github.com/unwindlabs/storefront/internal/domain/identity"
	"github.com/unwindlabs/storefront/internal/token"
)

const guestHeader = "x-guest-id"

// principal is the resolved request identity. Exactly one of userID/guestID
// is set.
type principal struct {
	userID  string
	role    identity.Role
	guestID string
}

func (p principal) isUser() bool {
	return p.userID != ""
}

func (p principal) cartOwner() cart.Owner {
	if p.isUser() {
		return cart.UserOwner(p.userID)
	}
	return cart.GuestOwner(p.guestID)
}

type principalKey struct{}

func principalFrom(ctx context.Context) (principal, bool) {
	p, ok := ctx.Value(principalKey{}).(principal)
	return p, ok
}

// withIdentity resolves the request identity: a bearer access token wins,
// otherwise the x-guest-id header names a guest. An expired token is reported
// distinctly so clients can run their reauthentication flow.
func (h *Handler) withIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "" {
			raw, ok := strings.CutPrefix(auth, "Bearer ")
			if !ok {
				respondError(w, http.StatusUnauthorized, "malformed authorization header")
				return
			}
			claims, err := h.tokens.VerifyAccess(raw)
			if err != nil {
				if errors.Is(err, token.ErrExpired) {
					respondReason(w, http.StatusUnauthorized, "token expired", "token_expired")
					return
				}
				respondError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			ctx := context.WithValue(r.Context(), principalKey{}, principal{
				userID: claims.UserID,
				role:   claims.Role,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		if guestID := r.Header.Get(guestHeader); guestID != "" {
			if !isValidGuestID(guestID) {
				respondError(w, http.StatusBadRequest, "invalid guest id")
				return
			}
			ctx := context.WithValue(r.Context(), principalKey{}, principal{guestID: guestID})
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// requireIdentity rejects requests that carry neither identity.
func requireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := principalFrom(r.Context()); !ok {
			respondReason(w, http.StatusUnauthorized, "authentication or guest id required", "auth_required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireUser rejects guests.
func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := principalFrom(r.Context())
		if !ok || !p.isUser() {
			respondReason(w, http.StatusUnauthorized, "authentication required", "auth_required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// isValidGuestID accepts opaque device-generated IDs: 1-64 bytes of
// URL-safe characters.
func isValidGuestID(id string) bool {
	if len(id) == 0 || len(id) > 64 {
		return false
	}
	for i := range len(id) {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-' || c == '_' || c == '.':
		default:
			return false
		}
	}
	return true
}
