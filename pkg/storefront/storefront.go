package storefront

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
)

// OrderErrorKind discriminates order submission failures.
type OrderErrorKind int

const (
	// OrderAuthRequired: only authenticated users can place orders.
	OrderAuthRequired OrderErrorKind = iota
	// OrderEmptyCart: the server-side cart has no lines.
	OrderEmptyCart
	// OrderRejected: the server definitively refused the order, e.g. stock
	// ran out between adding and checkout. The cart is unchanged.
	OrderRejected
	// OrderUnavailable: transport failure or server error; the outcome is
	// unknown and submission is not retried automatically.
	OrderUnavailable
)

// OrderError is an order submission failure.
type OrderError struct {
	Kind   OrderErrorKind
	Reason string
	Err    error
}

func (e *OrderError) Error() string {
	switch e.Kind {
	case OrderAuthRequired:
		return "order: authentication required"
	case OrderEmptyCart:
		return "order: cart is empty"
	case OrderRejected:
		return fmt.Sprintf("order: rejected: %s", e.Reason)
	default:
		return fmt.Sprintf("order: unavailable: %v", e.Err)
	}
}

func (e *OrderError) Unwrap() error { return e.Err }

// Client is the assembled storefront client: one session, one cart, one
// wishlist, and the merge coordinator that ties them together on login.
type Client struct {
	Session  *Session
	Cart     *CartStore
	Wishlist *WishlistStore
	Merges   *MergeCoordinator

	api *APIClient
	lg  *zap.Logger
}

// New assembles a client against the API at baseURL (including the /api
// prefix), persisting through storage. A nil logger disables logging and a
// nil httpClient uses a default with sane timeouts.
func New(baseURL string, storage Storage, httpClient *http.Client, lg *zap.Logger) *Client {
	if lg == nil {
		lg = zap.NewNop()
	}
	api := NewAPIClient(baseURL, httpClient)
	session := newSession(api, storage, lg)
	cart := newCartStore(api, session, storage.General, lg.Named("cart"))
	wishlist := newWishlistStore(api, session, storage.General, lg.Named("wishlist"))
	merges := newMergeCoordinator(api, session, cart, wishlist, lg.Named("merge"))
	session.afterLogin = func(ctx context.Context, guestID string) {
		merges.Run(ctx, guestID)
	}
	session.afterLogout = func() {
		cart.reset()
		wishlist.reset()
	}

	return &Client{
		Session:  session,
		Cart:     cart,
		Wishlist: wishlist,
		Merges:   merges,
		api:      api,
		lg:       lg,
	}
}

// Products fetches the catalog, optionally filtered by category.
func (c *Client) Products(ctx context.Context, category string) ([]Product, error) {
	return c.api.Products(ctx, category)
}

// Product fetches one product by ID.
func (c *Client) Product(ctx context.Context, id string) (Product, error) {
	return c.api.Product(ctx, id)
}

// SubmitOrder places an order from the authenticated user's server-side
// cart. There is exactly one attempt: a failure leaves no partial order and
// is never retried automatically. On success the cart is cleared on both
// sides.
func (c *Client) SubmitOrder(ctx context.Context, shipping Address) (Order, error) {
	if !c.Session.IsAuthenticated() {
		return Order{}, &OrderError{Kind: OrderAuthRequired}
	}

	o, err := c.api.submitOrder(ctx, c.Session.creds(), shipping)
	if err != nil {
		return Order{}, classifyOrderErr(err)
	}

	if err := c.Cart.Refresh(ctx); err != nil {
		c.lg.Warn("Post-order cart refresh failed", zap.Error(err))
	}
	return o, nil
}

// Orders lists the authenticated user's orders, newest first.
func (c *Client) Orders(ctx context.Context) ([]Order, error) {
	if !c.Session.IsAuthenticated() {
		return nil, &OrderError{Kind: OrderAuthRequired}
	}
	return c.api.listOrders(ctx, c.Session.creds())
}

func classifyOrderErr(err error) error {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return &OrderError{Kind: OrderUnavailable, Err: err}
	}
	switch {
	case apiErr.Reason == "empty_cart":
		return &OrderError{Kind: OrderEmptyCart, Err: err}
	case apiErr.Status == http.StatusUnauthorized:
		return &OrderError{Kind: OrderAuthRequired, Err: err}
	case apiErr.Status >= 500:
		return &OrderError{Kind: OrderUnavailable, Err: err}
	default:
		return &OrderError{Kind: OrderRejected, Reason: apiErr.Reason, Err: err}
	}
}
