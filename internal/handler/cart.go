package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/unwindlabs/storefront/internal/domain/cart"
	"github.com/unwindlabs/storefront/internal/domain/product"
)

type cartLineResponse struct {
	ProductID string `json:"productId"`
	Size      string `json:"size"`
	Quantity  int    `json:"quantity"`
}

type cartResponse struct {
	Items         []cartLineResponse `json:"items"`
	TotalQuantity int                `json:"totalQuantity"`
	Subtotal      decimal.Decimal    `json:"subtotal"`
}

func toCartResponse(lines []cart.Line, subtotal decimal.Decimal) cartResponse {
	items := make([]cartLineResponse, len(lines))
	total := 0
	for i, l := range lines {
		items[i] = cartLineResponse{ProductID: l.ProductID, Size: l.Size, Quantity: l.Quantity}
		total += l.Quantity
	}
	return cartResponse{Items: items, TotalQuantity: total, Subtotal: subtotal}
}

func (h *Handler) getCart(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())

	lines, subtotal, err := h.carts.Snapshot(r.Context(), p.cartOwner())
	if err != nil {
		respondInternal(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toCartResponse(lines, subtotal))
}

type cartMutationRequest struct {
	ProductID string `json:"productId"`
	Size      string `json:"size"`
	Quantity  int    `json:"quantity"`
}

func (h *Handler) addToCart(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())

	req := cartMutationRequest{Quantity: 1}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.carts.Add(r.Context(), p.cartOwner(), req.ProductID, req.Size, req.Quantity); err != nil {
		h.respondCartError(w, r, err)
		return
	}
	h.respondCart(w, r, p)
}

func (h *Handler) updateCart(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())

	var req cartMutationRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.carts.Update(r.Context(), p.cartOwner(), req.ProductID, req.Size, req.Quantity); err != nil {
		h.respondCartError(w, r, err)
		return
	}
	h.respondCart(w, r, p)
}

func (h *Handler) removeFromCart(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())

	var req cartMutationRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Size == "" {
		respondError(w, http.StatusBadRequest, "size is required")
		return
	}

	if err := h.carts.Remove(r.Context(), p.cartOwner(), req.ProductID, req.Size); err != nil {
		respondInternal(w, r, err)
		return
	}
	h.respondCart(w, r, p)
}

func (h *Handler) clearCart(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())

	if err := h.carts.Clear(r.Context(), p.cartOwner()); err != nil {
		respondInternal(w, r, err)
		return
	}
	h.respondCart(w, r, p)
}

func (h *Handler) mergeCart(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())

	var req struct {
		GuestID string `json:"guestId"`
	}
	if err := decodeJSON(r, &req); err != nil || !isValidGuestID(req.GuestID) {
		respondError(w, http.StatusBadRequest, "guestId required")
		return
	}

	merged, err := h.carts.Merge(r.Context(), req.GuestID, p.userID)
	if err != nil {
		respondInternal(w, r, err)
		return
	}

	lines, subtotal, err := h.carts.Snapshot(r.Context(), p.cartOwner())
	if err != nil {
		respondInternal(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, struct {
		Merged bool `json:"merged"`
		cartResponse
	}{Merged: merged, cartResponse: toCartResponse(lines, subtotal)})
}

// respondCart returns the post-mutation cart so clients can reconcile against
// authoritative state without a second round-trip.
func (h *Handler) respondCart(w http.ResponseWriter, r *http.Request, p principal) {
	lines, subtotal, err := h.carts.Snapshot(r.Context(), p.cartOwner())
	if err != nil {
		respondInternal(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toCartResponse(lines, subtotal))
}

func (h *Handler) respondCartError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, cart.ErrMissingSize):
		respondReason(w, http.StatusBadRequest, "size is required", "missing_size")
	case errors.Is(err, cart.ErrInvalidQuantity):
		respondError(w, http.StatusBadRequest, "quantity must be greater than 0")
	case errors.Is(err, product.ErrNotFound):
		respondError(w, http.StatusUnprocessableEntity, "product not found")
	default:
		var unknownSize *cart.UnknownSizeError
		if errors.As(err, &unknownSize) {
			respondError(w, http.StatusUnprocessableEntity, unknownSize.Error())
			return
		}
		var outOfStock *cart.OutOfStockError
		if errors.As(err, &outOfStock) {
			respondReason(w, http.StatusUnprocessableEntity, outOfStock.Error(), "out_of_stock")
			return
		}
		respondInternal(w, r, err)
	}
}
