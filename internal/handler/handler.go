// Package handler exposes the REST API over a chi router.
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/unwindlabs/storefront/internal/domain/cart"
	"github.com/unwindlabs/storefront/internal/domain/identity"
	"github.com/unwindlabs/storefront/internal/domain/order"
	"github.com/unwindlabs/storefront/internal/domain/product"
	"github.com/unwindlabs/storefront/internal/domain/wishlist"
	"github.com/unwindlabs/storefront/internal/token"
)

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// ImageBaseURL is prepended to relative image paths in product responses.
	// When empty, image paths are returned as stored in the database.
	ImageBaseURL string
}

// Handler routes API requests to the domain services.
type Handler struct {
	products  product.Repository
	carts     *cart.Service
	wishlists *wishlist.Service
	orders    *order.Service
	auth      *identity.Service
	tokens    *token.Issuer

	imageBaseURL string
}

// New constructs a Handler with the required domain dependencies.
func New(
	cfg Config,
	products product.Repository,
	carts *cart.Service,
	wishlists *wishlist.Service,
	orders *order.Service,
	auth *identity.Service,
	tokens *token.Issuer,
) *Handler {
	return &Handler{
		products:     products,
		carts:        carts,
		wishlists:    wishlists,
		orders:       orders,
		auth:         auth,
		tokens:       tokens,
		imageBaseURL: cfg.ImageBaseURL,
	}
}

// Routes returns the API route tree. Mount it under /api.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", h.register)
		r.Post("/login", h.login)
		r.Post("/otp/send", h.sendOTP)
		r.Post("/otp/verify", h.verifyOTP)
	})

	r.Route("/products", func(r chi.Router) {
		r.Get("/", h.listProducts)
		r.Get("/{productID}", h.getProduct)
	})

	// Cart and wishlist accept either identity: bearer token or x-guest-id.
	r.Group(func(r chi.Router) {
		r.Use(h.withIdentity, requireIdentity)

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", h.getCart)
			r.Post("/add", h.addToCart)
			r.Post("/update", h.updateCart)
			r.Post("/remove", h.removeFromCart)
			r.Post("/clear", h.clearCart)
			r.With(requireUser).Post("/merge", h.mergeCart)
		})

		r.Route("/wishlist", func(r chi.Router) {
			r.Get("/", h.getWishlist)
			r.Post("/add", h.addToWishlist)
			r.Post("/remove", h.removeFromWishlist)
			r.With(requireUser).Post("/merge", h.mergeWishlist)
		})
	})

	// Orders require an authenticated user; guests must log in to check out.
	r.Group(func(r chi.Router) {
		r.Use(h.withIdentity, requireUser)
		r.Get("/orders", h.listOrders)
		r.Post("/orders", h.submitOrder)
	})

	return r
}
