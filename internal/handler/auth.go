package handler

import (
	"net/http"

	"github.com/go-faster/errors"

	"github.com/unwindlabs/storefront/internal/domain/identity"
)

type userResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

type sessionResponse struct {
	User         userResponse `json:"user"`
	AccessToken  string       `json:"accessToken"`
	RefreshToken string       `json:"refreshToken"`
}

func toSessionResponse(s *identity.Session) sessionResponse {
	return sessionResponse{
		User: userResponse{
			ID:    s.User.ID,
			Email: s.User.Email,
			Name:  s.User.Name,
			Role:  string(s.User.Role),
		},
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
	}
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Name     string `json:"name"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Email == "" || req.Name == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "email, name and password are required")
		return
	}

	sess, err := h.auth.Register(r.Context(), req.Email, req.Name, req.Password)
	if err != nil {
		if errors.Is(err, identity.ErrEmailTaken) {
			respondError(w, http.StatusConflict, "email already registered")
			return
		}
		respondInternal(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toSessionResponse(sess))
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sess, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidCredentials) {
			respondReason(w, http.StatusUnauthorized, "invalid credentials", "invalid_credentials")
			return
		}
		respondInternal(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toSessionResponse(sess))
}

func (h *Handler) sendOTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := decodeJSON(r, &req); err != nil || req.Email == "" {
		respondError(w, http.StatusBadRequest, "email required")
		return
	}

	if err := h.auth.SendOTP(r.Context(), req.Email); err != nil {
		respondInternal(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "OTP sent"})
}

func (h *Handler) verifyOTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
		OTP   string `json:"otp"`
	}
	if err := decodeJSON(r, &req); err != nil || req.Email == "" || req.OTP == "" {
		respondError(w, http.StatusBadRequest, "email and otp required")
		return
	}

	sess, err := h.auth.VerifyOTP(r.Context(), req.Email, req.OTP)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidOTP) {
			respondReason(w, http.StatusUnauthorized, "invalid or expired OTP", "invalid_otp")
			return
		}
		respondInternal(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toSessionResponse(sess))
}
