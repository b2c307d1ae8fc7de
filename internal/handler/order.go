package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/unwindlabs/storefront/internal/domain/order"
)

type orderItemResponse struct {
	ProductID string          `json:"productId"`
	Title     string          `json:"title"`
	Price     decimal.Decimal `json:"price"`
	Size      string          `json:"size"`
	Quantity  int             `json:"quantity"`
	Image     string          `json:"image,omitempty"`
}

type orderResponse struct {
	ID        string              `json:"id"`
	Status    string              `json:"status"`
	Amount    decimal.Decimal     `json:"amount"`
	Shipping  order.Address       `json:"shippingAddress"`
	Items     []orderItemResponse `json:"items"`
	CreatedAt time.Time           `json:"createdAt"`
}

func toOrderResponse(o *order.Order) orderResponse {
	items := make([]orderItemResponse, len(o.Items))
	for i, it := range o.Items {
		items[i] = orderItemResponse{
			ProductID: it.ProductID,
			Title:     it.Title,
			Price:     it.Price,
			Size:      it.Size,
			Quantity:  it.Quantity,
			Image:     it.Image,
		}
	}
	return orderResponse{
		ID:        o.ID,
		Status:    string(o.Status),
		Amount:    o.Amount,
		Shipping:  o.Shipping,
		Items:     items,
		CreatedAt: o.CreatedAt,
	}
}

func (h *Handler) submitOrder(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())

	var req struct {
		ShippingAddress order.Address `json:"shippingAddress"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	o, err := h.orders.Submit(r.Context(), p.userID, req.ShippingAddress)
	if err != nil {
		switch {
		case errors.Is(err, order.ErrEmptyCart):
			respondReason(w, http.StatusBadRequest, "cart is empty", "empty_cart")
		default:
			var stockErr *order.InsufficientStockError
			if errors.As(err, &stockErr) {
				respondReason(w, http.StatusConflict, stockErr.Error(), "stock_exhausted")
				return
			}
			var notFound *order.ProductNotFoundError
			if errors.As(err, &notFound) {
				respondError(w, http.StatusUnprocessableEntity, notFound.Error())
				return
			}
			respondInternal(w, r, err)
		}
		return
	}
	respondJSON(w, http.StatusCreated, toOrderResponse(o))
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())

	orders, err := h.orders.History(r.Context(), p.userID)
	if err != nil {
		respondInternal(w, r, err)
		return
	}

	out := make([]orderResponse, len(orders))
	for i := range orders {
		out[i] = toOrderResponse(&orders[i])
	}
	respondJSON(w, http.StatusOK, out)
}
