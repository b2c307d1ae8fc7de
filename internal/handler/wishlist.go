package handler

import (
	"net/http"

	"github.com/go-faster/errors"

	"github.com/unwindlabs/storefront/internal/domain/product"
)

type wishlistResponse struct {
	Items []string `json:"items"`
}

func (h *Handler) getWishlist(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())

	items, err := h.wishlists.List(r.Context(), p.cartOwner())
	if err != nil {
		respondInternal(w, r, err)
		return
	}
	if items == nil {
		items = []string{}
	}
	respondJSON(w, http.StatusOK, wishlistResponse{Items: items})
}

func (h *Handler) addToWishlist(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())

	var req struct {
		ProductID string `json:"productId"`
	}
	if err := decodeJSON(r, &req); err != nil || req.ProductID == "" {
		respondError(w, http.StatusBadRequest, "productId required")
		return
	}

	if err := h.wishlists.Add(r.Context(), p.cartOwner(), req.ProductID); err != nil {
		if errors.Is(err, product.ErrNotFound) {
			respondError(w, http.StatusUnprocessableEntity, "product not found")
			return
		}
		respondInternal(w, r, err)
		return
	}
	h.getWishlist(w, r)
}

func (h *Handler) removeFromWishlist(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())

	var req struct {
		ProductID string `json:"productId"`
	}
	if err := decodeJSON(r, &req); err != nil || req.ProductID == "" {
		respondError(w, http.StatusBadRequest, "productId required")
		return
	}

	if err := h.wishlists.Remove(r.Context(), p.cartOwner(), req.ProductID); err != nil {
		respondInternal(w, r, err)
		return
	}
	h.getWishlist(w, r)
}

func (h *Handler) mergeWishlist(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())

	var req struct {
		GuestID string `json:"guestId"`
	}
	if err := decodeJSON(r, &req); err != nil || !isValidGuestID(req.GuestID) {
		respondError(w, http.StatusBadRequest, "guestId required")
		return
	}

	merged, err := h.wishlists.Merge(r.Context(), req.GuestID, p.userID)
	if err != nil {
		respondInternal(w, r, err)
		return
	}

	items, err := h.wishlists.List(r.Context(), p.cartOwner())
	if err != nil {
		respondInternal(w, r, err)
		return
	}
	if items == nil {
		items = []string{}
	}
	respondJSON(w, http.StatusOK, struct {
		Merged bool `json:"merged"`
		wishlistResponse
	}{Merged: merged, wishlistResponse: wishlistResponse{Items: items}})
}
