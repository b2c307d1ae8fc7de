package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/unwindlabs/storefront/internal/domain/product"
)

type variantResponse struct {
	Size  string `json:"size"`
	Stock int    `json:"stock"`
}

type productResponse struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	Description string            `json:"description,omitempty"`
	Price       decimal.Decimal   `json:"price"`
	Brand       string            `json:"brand,omitempty"`
	Category    string            `json:"category,omitempty"`
	Images      []string          `json:"images"`
	Variants    []variantResponse `json:"variants"`
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.products.List(r.Context(), r.URL.Query().Get("category"))
	if err != nil {
		respondInternal(w, r, err)
		return
	}

	out := make([]productResponse, len(products))
	for i, p := range products {
		out[i] = h.toProductResponse(p)
	}
	respondJSON(w, http.StatusOK, out)
}

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.products.GetByID(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		if errors.Is(err, product.ErrNotFound) {
			respondError(w, http.StatusNotFound, "product not found")
			return
		}
		respondInternal(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, h.toProductResponse(*p))
}

// toProductResponse converts a domain product to its response shape.
// Relative image paths are prefixed with the configured image base URL.
func (h *Handler) toProductResponse(p product.Product) productResponse {
	images := make([]string, len(p.Images))
	for i, img := range p.Images {
		if h.imageBaseURL != "" && !strings.Contains(img, "://") {
			img = h.imageBaseURL + img
		}
		images[i] = img
	}

	variants := make([]variantResponse, len(p.Variants))
	for i, v := range p.Variants {
		variants[i] = variantResponse{Size: v.Size, Stock: v.Stock}
	}

	return productResponse{
		ID:          p.ID,
		Title:       p.Title,
		Description: p.Description,
		Price:       p.Price,
		Brand:       p.Brand,
		Category:    p.Category,
		Images:      images,
		Variants:    variants,
	}
}
