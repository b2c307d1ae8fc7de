// Package storefront is a headless client for the storefront API. It keeps an
// optimistic local cart and wishlist for instant UI feedback, reconciles them
// against the server on every failed write, and migrates guest state into the
// user's account on login.
package storefront

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// APIError is a non-2xx response from the storefront API.
type APIError struct {
	Status  int
	Message string
	// Reason is a stable discriminator for client branching, e.g.
	// "out_of_stock" or "token_expired". Empty when the server sent none.
	Reason string
}

func (e *APIError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("api: %d %s (%s)", e.Status, e.Message, e.Reason)
	}
	return fmt.Sprintf("api: %d %s", e.Status, e.Message)
}

// Product is the catalog view the client operates on.
type Product struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Brand       string          `json:"brand"`
	Category    string          `json:"category"`
	Images      []string        `json:"images"`
	Variants    []Variant       `json:"variants"`
}

// Variant is a purchasable size of a product.
type Variant struct {
	Size  string `json:"size"`
	Stock int    `json:"stock"`
}

// AvailableSizes returns the sizes currently purchasable (stock > 0).
func (p Product) AvailableSizes() []string {
	sizes := make([]string, 0, len(p.Variants))
	for _, v := range p.Variants {
		if v.Stock > 0 {
			sizes = append(sizes, v.Size)
		}
	}
	return sizes
}

// InStock reports whether the given size is purchasable.
func (p Product) InStock(size string) bool {
	for _, v := range p.Variants {
		if v.Size == size {
			return v.Stock > 0
		}
	}
	return false
}

// HasSize reports whether the product carries the size at all, in or out of
// stock.
func (p Product) HasSize(size string) bool {
	for _, v := range p.Variants {
		if v.Size == size {
			return true
		}
	}
	return false
}

// Line is one cart line: a (product, size) pair with a quantity.
type Line struct {
	ProductID string `json:"productId"`
	Size      string `json:"size"`
	Quantity  int    `json:"quantity"`
}

// Address is a shipping destination for an order.
type Address struct {
	Line1   string `json:"line1"`
	Line2   string `json:"line2,omitempty"`
	City    string `json:"city"`
	State   string `json:"state"`
	Zip     string `json:"zip"`
	Country string `json:"country"`
}

// Order is a submitted order as returned by the server.
type Order struct {
	ID        string          `json:"id"`
	Status    string          `json:"status"`
	Amount    decimal.Decimal `json:"amount"`
	Items     []OrderItem     `json:"items"`
	CreatedAt time.Time       `json:"createdAt"`
}

// OrderItem is one line of an order snapshot, priced at submission time.
type OrderItem struct {
	ProductID string          `json:"productId"`
	Title     string          `json:"title"`
	Price     decimal.Decimal `json:"price"`
	Size      string          `json:"size"`
	Quantity  int             `json:"quantity"`
	Image     string          `json:"image,omitempty"`
}

// Profile is the authenticated user as returned by auth endpoints.
type Profile struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

// credentials is the identity attached to outgoing requests: a bearer token
// for authenticated users, a guest ID header otherwise.
type credentials struct {
	accessToken string
	guestID     string
}

// APIClient is a thin HTTP adapter over the storefront REST API. It holds no
// cart state itself; stores compose it.
type APIClient struct {
	baseURL string
	http    *http.Client
}

// NewAPIClient creates a client for the API rooted at baseURL (including the
// /api prefix, e.g. "https://shop.example.com/api").
func NewAPIClient(baseURL string, hc *http.Client) *APIClient {
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &APIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    hc,
	}
}

// do performs one JSON request. A nil body sends no payload; a non-nil out
// receives the decoded 2xx response. Non-2xx responses return *APIError.
func (c *APIClient) do(ctx context.Context, creds credentials, method, path string, body, out any) error {
	var payload io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
		payload = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if creds.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+creds.accessToken)
	} else if creds.guestID != "" {
		req.Header.Set("x-guest-id", creds.guestID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "request")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
			Reason  string `json:"reason"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&apiErr)
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: apiErr.Message, Reason: apiErr.Reason}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "decode response")
	}
	return nil
}

// serverRejected reports whether err is a definitive 4xx server verdict, as
// opposed to a transport failure or 5xx where server state is unknown.
func serverRejected(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500
}

type cartPayload struct {
	Items         []Line          `json:"items"`
	TotalQuantity int             `json:"totalQuantity"`
	Subtotal      decimal.Decimal `json:"subtotal"`
}

type mergePayload struct {
	Merged bool `json:"merged"`
	cartPayload
}

type sessionPayload struct {
	User         Profile `json:"user"`
	AccessToken  string  `json:"accessToken"`
	RefreshToken string  `json:"refreshToken"`
}

func (c *APIClient) Products(ctx context.Context, category string) ([]Product, error) {
	path := "/products"
	if category != "" {
		path += "?category=" + category
	}
	var out []Product
	if err := c.do(ctx, credentials{}, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *APIClient) Product(ctx context.Context, id string) (Product, error) {
	var out Product
	if err := c.do(ctx, credentials{}, http.MethodGet, "/products/"+id, nil, &out); err != nil {
		return Product{}, err
	}
	return out, nil
}

func (c *APIClient) getCart(ctx context.Context, creds credentials) (cartPayload, error) {
	var out cartPayload
	err := c.do(ctx, creds, http.MethodGet, "/cart", nil, &out)
	return out, err
}

func (c *APIClient) cartAdd(ctx context.Context, creds credentials, l Line) error {
	return c.do(ctx, creds, http.MethodPost, "/cart/add", l, nil)
}

func (c *APIClient) cartUpdate(ctx context.Context, creds credentials, l Line) error {
	return c.do(ctx, creds, http.MethodPost, "/cart/update", l, nil)
}

func (c *APIClient) cartRemove(ctx context.Context, creds credentials, productID, size string) error {
	body := map[string]string{"productId": productID, "size": size}
	return c.do(ctx, creds, http.MethodPost, "/cart/remove", body, nil)
}

func (c *APIClient) cartClear(ctx context.Context, creds credentials) error {
	return c.do(ctx, creds, http.MethodPost, "/cart/clear", nil, nil)
}

func (c *APIClient) cartMerge(ctx context.Context, creds credentials, guestID string) (mergePayload, error) {
	var out mergePayload
	err := c.do(ctx, creds, http.MethodPost, "/cart/merge", map[string]string{"guestId": guestID}, &out)
	return out, err
}

func (c *APIClient) getWishlist(ctx context.Context, creds credentials) ([]string, error) {
	var out struct {
		Items []string `json:"items"`
	}
	if err := c.do(ctx, creds, http.MethodGet, "/wishlist", nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

func (c *APIClient) wishlistAdd(ctx context.Context, creds credentials, productID string) error {
	return c.do(ctx, creds, http.MethodPost, "/wishlist/add", map[string]string{"productId": productID}, nil)
}

func (c *APIClient) wishlistRemove(ctx context.Context, creds credentials, productID string) error {
	return c.do(ctx, creds, http.MethodPost, "/wishlist/remove", map[string]string{"productId": productID}, nil)
}

func (c *APIClient) wishlistMerge(ctx context.Context, creds credentials, guestID string) error {
	return c.do(ctx, creds, http.MethodPost, "/wishlist/merge", map[string]string{"guestId": guestID}, nil)
}

func (c *APIClient) submitOrder(ctx context.Context, creds credentials, shipping Address) (Order, error) {
	var out Order
	err := c.do(ctx, creds, http.MethodPost, "/orders", map[string]any{"shippingAddress": shipping}, &out)
	return out, err
}

func (c *APIClient) listOrders(ctx context.Context, creds credentials) ([]Order, error) {
	var out []Order
	err := c.do(ctx, creds, http.MethodGet, "/orders", nil, &out)
	return out, err
}

func (c *APIClient) login(ctx context.Context, email, password string) (sessionPayload, error) {
	var out sessionPayload
	body := map[string]string{"email": email, "password": password}
	err := c.do(ctx, credentials{}, http.MethodPost, "/auth/login", body, &out)
	return out, err
}

func (c *APIClient) register(ctx context.Context, name, email, password string) (sessionPayload, error) {
	var out sessionPayload
	body := map[string]string{"name": name, "email": email, "password": password}
	err := c.do(ctx, credentials{}, http.MethodPost, "/auth/register", body, &out)
	return out, err
}

func (c *APIClient) sendOTP(ctx context.Context, email string) error {
	return c.do(ctx, credentials{}, http.MethodPost, "/auth/otp/send", map[string]string{"email": email}, nil)
}

func (c *APIClient) verifyOTP(ctx context.Context, email, code string) (sessionPayload, error) {
	var out sessionPayload
	body := map[string]string{"email": email, "otp": code}
	err := c.do(ctx, credentials{}, http.MethodPost, "/auth/otp/verify", body, &out)
	return out, err
}
