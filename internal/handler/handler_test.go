package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/unwindlabs/storefront/internal/domain/cart"
	"github.com/unwindlabs/storefront/internal/domain/identity"
	"github.com/unwindlabs/storefront/internal/domain/order"
	"github.com/unwindlabs/storefront/internal/domain/product"
	"github.com/unwindlabs/storefront/internal/domain/wishlist"
	"github.com/unwindlabs/storefront/internal/token"
)

// --- In-memory repositories ---

type memProductRepo struct {
	products map[string]*product.Product
}

func (m *memProductRepo) List(_ context.Context, category string) ([]product.Product, error) {
	var out []product.Product
	for _, p := range m.products {
		if category == "" || p.Category == category {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *memProductRepo) GetByID(_ context.Context, id string) (*product.Product, error) {
	p, ok := m.products[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return p, nil
}

func (m *memProductRepo) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	var out []product.Product
	for _, id := range ids {
		if p, ok := m.products[id]; ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *memProductRepo) ListIDs(_ context.Context) ([]string, error) {
	ids := make([]string, 0, len(m.products))
	for id := range m.products {
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *memProductRepo) stockFor(id, size string) int {
	p, ok := m.products[id]
	if !ok {
		return 0
	}
	for _, v := range p.Variants {
		if v.Size == size {
			return v.Stock
		}
	}
	return 0
}

func (m *memProductRepo) decrement(id, size string, by int) bool {
	p, ok := m.products[id]
	if !ok {
		return false
	}
	for i, v := range p.Variants {
		if v.Size == size {
			if v.Stock < by {
				return false
			}
			p.Variants[i].Stock -= by
			return true
		}
	}
	return false
}

type memCartRepo struct {
	lines  map[string][]cart.Line
	merged map[string]bool
}

func (m *memCartRepo) List(_ context.Context, owner string) ([]cart.Line, error) {
	return m.lines[owner], nil
}

func (m *memCartRepo) Upsert(_ context.Context, owner string, line cart.Line) error {
	for i, l := range m.lines[owner] {
		if l.ProductID == line.ProductID && l.Size == line.Size {
			m.lines[owner][i].Quantity += line.Quantity
			return nil
		}
	}
	m.lines[owner] = append(m.lines[owner], line)
	return nil
}

func (m *memCartRepo) SetQuantity(_ context.Context, owner string, line cart.Line) error {
	for i, l := range m.lines[owner] {
		if l.ProductID == line.ProductID && l.Size == line.Size {
			m.lines[owner][i].Quantity = line.Quantity
			return nil
		}
	}
	m.lines[owner] = append(m.lines[owner], line)
	return nil
}

func (m *memCartRepo) Remove(_ context.Context, owner, productID, size string) error {
	for i, l := range m.lines[owner] {
		if l.ProductID == productID && l.Size == size {
			m.lines[owner] = append(m.lines[owner][:i], m.lines[owner][i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *memCartRepo) Clear(_ context.Context, owner string) error {
	delete(m.lines, owner)
	return nil
}

func (m *memCartRepo) MergeInto(ctx context.Context, guestID, userID string) (bool, error) {
	key := guestID + "|" + userID
	if m.merged[key] {
		return false, nil
	}
	m.merged[key] = true
	guestKey := cart.GuestOwner(guestID).Key()
	userKey := cart.UserOwner(userID).Key()
	for _, l := range m.lines[guestKey] {
		if err := m.Upsert(ctx, userKey, l); err != nil {
			return false, err
		}
	}
	delete(m.lines, guestKey)
	return true, nil
}

type memWishlistRepo struct {
	entries map[string][]string
	merged  map[string]bool
}

func (m *memWishlistRepo) List(_ context.Context, owner string) ([]string, error) {
	return m.entries[owner], nil
}

func (m *memWishlistRepo) Add(_ context.Context, owner, productID string) error {
	for _, id := range m.entries[owner] {
		if id == productID {
			return nil
		}
	}
	m.entries[owner] = append(m.entries[owner], productID)
	return nil
}

func (m *memWishlistRepo) Remove(_ context.Context, owner, productID string) error {
	for i, id := range m.entries[owner] {
		if id == productID {
			m.entries[owner] = append(m.entries[owner][:i], m.entries[owner][i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *memWishlistRepo) Clear(_ context.Context, owner string) error {
	delete(m.entries, owner)
	return nil
}

func (m *memWishlistRepo) MergeInto(ctx context.Context, guestID, userID string) (bool, error) {
	key := guestID + "|" + userID
	if m.merged[key] {
		return false, nil
	}
	m.merged[key] = true
	guestKey := cart.GuestOwner(guestID).Key()
	userKey := cart.UserOwner(userID).Key()
	for _, id := range m.entries[guestKey] {
		if err := m.Add(ctx, userKey, id); err != nil {
			return false, err
		}
	}
	delete(m.entries, guestKey)
	return true, nil
}

type memOrderRepo struct {
	products *memProductRepo
	carts    *memCartRepo
	orders   []*order.Order
}

func (m *memOrderRepo) Create(ctx context.Context, o *order.Order, clearOwner string) error {
	for _, item := range o.Items {
		if m.products.stockFor(item.ProductID, item.Size) < item.Quantity {
			return &order.InsufficientStockError{ProductID: item.ProductID, Size: item.Size}
		}
	}
	for _, item := range o.Items {
		m.products.decrement(item.ProductID, item.Size, item.Quantity)
	}
	if err := m.carts.Clear(ctx, clearOwner); err != nil {
		return err
	}
	o.CreatedAt = time.Now()
	m.orders = append(m.orders, o)
	return nil
}

func (m *memOrderRepo) ListByUser(_ context.Context, userID string) ([]order.Order, error) {
	var out []order.Order
	for i := len(m.orders) - 1; i >= 0; i-- {
		if m.orders[i].UserID == userID {
			out = append(out, *m.orders[i])
		}
	}
	return out, nil
}

type memUserRepo struct {
	users map[string]*identity.User // by email
}

func (m *memUserRepo) Create(_ context.Context, u *identity.User) error {
	m.users[u.Email] = u
	return nil
}

func (m *memUserRepo) GetByID(_ context.Context, id string) (*identity.User, error) {
	for _, u := range m.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, identity.ErrNotFound
}

func (m *memUserRepo) GetByEmail(_ context.Context, email string) (*identity.User, error) {
	u, ok := m.users[email]
	if !ok {
		return nil, identity.ErrNotFound
	}
	return u, nil
}

func (m *memUserRepo) SetOTP(ctx context.Context, id, code string, expiresAt time.Time) error {
	u, err := m.GetByID(ctx, id)
	if err != nil {
		return err
	}
	u.OTPCode = code
	u.OTPExpiresAt = expiresAt
	return nil
}

func (m *memUserRepo) ConsumeOTP(ctx context.Context, id string, lastLogin time.Time) error {
	u, err := m.GetByID(ctx, id)
	if err != nil {
		return err
	}
	u.OTPCode = ""
	u.IsVerified = true
	u.LastLogin = lastLogin
	return nil
}

// --- Test server ---

type testEnv struct {
	router   http.Handler
	products *memProductRepo
	carts    *memCartRepo
}

func newTestEnv(t *testing.T, products ...product.Product) *testEnv {
	t.Helper()

	productRepo := &memProductRepo{products: make(map[string]*product.Product)}
	for i := range products {
		productRepo.products[products[i].ID] = &products[i]
	}
	cartRepo := &memCartRepo{lines: make(map[string][]cart.Line), merged: make(map[string]bool)}
	wishlistRepo := &memWishlistRepo{entries: make(map[string][]string), merged: make(map[string]bool)}
	orderRepo := &memOrderRepo{products: productRepo, carts: cartRepo}
	userRepo := &memUserRepo{users: make(map[string]*identity.User)}

	issuer := token.NewIssuer([]byte("test-secret"), time.Hour, 24*time.Hour)
	h := New(
		Config{ImageBaseURL: "https://cdn.test/"},
		productRepo,
		cart.NewService(productRepo, nil, cartRepo),
		wishlist.NewService(productRepo, wishlistRepo),
		order.NewService(productRepo, cartRepo, orderRepo),
		identity.NewService(userRepo, issuer, 5*time.Minute, zap.NewNop()),
		issuer,
	)
	return &testEnv{router: h.Routes(), products: productRepo, carts: cartRepo}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(buf)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func guestHeaders(id string) map[string]string {
	return map[string]string{guestHeader: id}
}

func bearerHeaders(tok string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + tok}
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v))
	return v
}

// register creates a user and returns its access token.
func (e *testEnv) register(t *testing.T, email string) string {
	t.Helper()
	w := e.do(t, http.MethodPost, "/auth/register", map[string]string{
		"email":    email,
		"name":     "Tester",
		"password": "hunter22",
	}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return decodeBody[sessionResponse](t, w).AccessToken
}

func shoes(stock int) product.Product {
	return product.Product{
		ID:       "shoe-1",
		Title:    "Runner",
		Price:    decimal.RequireFromString("59.90"),
		Category: "shoes",
		Images:   []string{"shoe.jpg"},
		Variants: []product.Variant{{Size: "42", Stock: stock}},
	}
}

// --- Tests ---

func TestProducts_ListAndImagePrefix(t *testing.T) {
	env := newTestEnv(t, shoes(3))

	w := env.do(t, http.MethodGet, "/products", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	products := decodeBody[[]productResponse](t, w)
	require.Len(t, products, 1)
	assert.Equal(t, "https://cdn.test/shoe.jpg", products[0].Images[0])
	require.Len(t, products[0].Variants, 1)
	assert.Equal(t, 3, products[0].Variants[0].Stock)
}

func TestCart_RequiresIdentity(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/cart", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	body := decodeBody[errorResponse](t, w)
	assert.Equal(t, "auth_required", body.Reason)
}

func TestCart_GuestAddAndGet(t *testing.T) {
	env := newTestEnv(t, shoes(5))

	w := env.do(t, http.MethodPost, "/cart/add", map[string]any{
		"productId": "shoe-1", "size": "42", "quantity": 2,
	}, guestHeaders("guest-a"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decodeBody[cartResponse](t, w)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, 2, resp.TotalQuantity)
	assert.True(t, resp.Subtotal.Equal(decimal.RequireFromString("119.80")), "got %s", resp.Subtotal)
}

func TestCart_AddDefaultsQuantityToOne(t *testing.T) {
	env := newTestEnv(t, shoes(5))

	w := env.do(t, http.MethodPost, "/cart/add", map[string]any{
		"productId": "shoe-1", "size": "42",
	}, guestHeaders("guest-a"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, decodeBody[cartResponse](t, w).TotalQuantity)
}

func TestCart_AddMissingSize(t *testing.T) {
	env := newTestEnv(t, shoes(5))

	w := env.do(t, http.MethodPost, "/cart/add", map[string]any{
		"productId": "shoe-1",
	}, guestHeaders("guest-a"))
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "missing_size", decodeBody[errorResponse](t, w).Reason)
}

func TestCart_AddOutOfStock(t *testing.T) {
	env := newTestEnv(t, shoes(0))

	w := env.do(t, http.MethodPost, "/cart/add", map[string]any{
		"productId": "shoe-1", "size": "42", "quantity": 1,
	}, guestHeaders("guest-a"))
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "out_of_stock", decodeBody[errorResponse](t, w).Reason)
}

func TestCart_AddUnknownProduct(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/cart/add", map[string]any{
		"productId": "ghost", "size": "42", "quantity": 1,
	}, guestHeaders("guest-a"))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestCart_UpdateZeroRemoves(t *testing.T) {
	env := newTestEnv(t, shoes(5))
	hdrs := guestHeaders("guest-a")

	env.do(t, http.MethodPost, "/cart/add", map[string]any{
		"productId": "shoe-1", "size": "42", "quantity": 2,
	}, hdrs)

	w := env.do(t, http.MethodPost, "/cart/update", map[string]any{
		"productId": "shoe-1", "size": "42", "quantity": 0,
	}, hdrs)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decodeBody[cartResponse](t, w).Items)
}

func TestCart_GuestsAreIsolated(t *testing.T) {
	env := newTestEnv(t, shoes(5))

	env.do(t, http.MethodPost, "/cart/add", map[string]any{
		"productId": "shoe-1", "size": "42", "quantity": 1,
	}, guestHeaders("guest-a"))

	w := env.do(t, http.MethodGet, "/cart", nil, guestHeaders("guest-b"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decodeBody[cartResponse](t, w).Items)
}

func TestCart_MergeRequiresUser(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/cart/merge", map[string]any{
		"guestId": "guest-a",
	}, guestHeaders("guest-a"))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCart_MergeFlow(t *testing.T) {
	env := newTestEnv(t, shoes(10))
	guest := guestHeaders("guest-a")

	// Guest builds a cart.
	env.do(t, http.MethodPost, "/cart/add", map[string]any{
		"productId": "shoe-1", "size": "42", "quantity": 2,
	}, guest)

	// User logs in and already has one of the same line.
	tok := env.register(t, "alice@example.com")
	env.do(t, http.MethodPost, "/cart/add", map[string]any{
		"productId": "shoe-1", "size": "42", "quantity": 1,
	}, bearerHeaders(tok))

	w := env.do(t, http.MethodPost, "/cart/merge", map[string]any{
		"guestId": "guest-a",
	}, bearerHeaders(tok))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Merged bool `json:"merged"`
		cartResponse
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.True(t, resp.Merged)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, 3, resp.Items[0].Quantity)

	// The guest cart is gone.
	w = env.do(t, http.MethodGet, "/cart", nil, guest)
	assert.Empty(t, decodeBody[cartResponse](t, w).Items)

	// A retried merge is a no-op, not a double sum.
	w = env.do(t, http.MethodPost, "/cart/merge", map[string]any{
		"guestId": "guest-a",
	}, bearerHeaders(tok))
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.False(t, resp.Merged)
	assert.Equal(t, 3, resp.Items[0].Quantity)
}

func TestWishlist_SetSemantics(t *testing.T) {
	env := newTestEnv(t, shoes(5))
	hdrs := guestHeaders("guest-a")

	for range 2 {
		w := env.do(t, http.MethodPost, "/wishlist/add", map[string]any{
			"productId": "shoe-1",
		}, hdrs)
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := env.do(t, http.MethodGet, "/wishlist", nil, hdrs)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Items []string `json:"items"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, []string{"shoe-1"}, resp.Items)
}

func TestOrders_RequireUser(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/orders", map[string]any{}, guestHeaders("guest-a"))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestOrders_EmptyCart(t *testing.T) {
	env := newTestEnv(t)
	tok := env.register(t, "alice@example.com")

	w := env.do(t, http.MethodPost, "/orders", map[string]any{}, bearerHeaders(tok))
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "empty_cart", decodeBody[errorResponse](t, w).Reason)
}

func TestOrders_FullCheckout(t *testing.T) {
	env := newTestEnv(t, shoes(5))
	tok := env.register(t, "alice@example.com")

	env.do(t, http.MethodPost, "/cart/add", map[string]any{
		"productId": "shoe-1", "size": "42", "quantity": 2,
	}, bearerHeaders(tok))

	w := env.do(t, http.MethodPost, "/orders", map[string]any{
		"shippingAddress": map[string]string{
			"line1": "1 Main St", "city": "Springfield", "state": "IL", "zip": "62704", "country": "US",
		},
	}, bearerHeaders(tok))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	resp := decodeBody[orderResponse](t, w)
	assert.Equal(t, "pending", resp.Status)
	assert.True(t, resp.Amount.Equal(decimal.RequireFromString("119.80")), "got %s", resp.Amount)

	// Stock was decremented and the cart cleared.
	assert.Equal(t, 3, env.products.stockFor("shoe-1", "42"))
	w = env.do(t, http.MethodGet, "/cart", nil, bearerHeaders(tok))
	assert.Empty(t, decodeBody[cartResponse](t, w).Items)
}

func TestOrders_StockExhaustedLeavesCart(t *testing.T) {
	env := newTestEnv(t, shoes(1))
	tok := env.register(t, "alice@example.com")

	// The cart line was valid when added; stock runs out before checkout.
	env.do(t, http.MethodPost, "/cart/add", map[string]any{
		"productId": "shoe-1", "size": "42", "quantity": 1,
	}, bearerHeaders(tok))
	env.products.decrement("shoe-1", "42", 1)

	w := env.do(t, http.MethodPost, "/orders", map[string]any{}, bearerHeaders(tok))
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "stock_exhausted", decodeBody[errorResponse](t, w).Reason)

	w = env.do(t, http.MethodGet, "/cart", nil, bearerHeaders(tok))
	assert.Len(t, decodeBody[cartResponse](t, w).Items, 1)
}

func TestOrders_SnapshotSurvivesPriceChange(t *testing.T) {
	env := newTestEnv(t, shoes(5))
	tok := env.register(t, "alice@example.com")

	env.do(t, http.MethodPost, "/cart/add", map[string]any{
		"productId": "shoe-1", "size": "42", "quantity": 1,
	}, bearerHeaders(tok))
	w := env.do(t, http.MethodPost, "/orders", map[string]any{}, bearerHeaders(tok))
	require.Equal(t, http.StatusCreated, w.Code)

	env.products.products["shoe-1"].Price = decimal.RequireFromString("99.99")

	w = env.do(t, http.MethodGet, "/orders", nil, bearerHeaders(tok))
	require.Equal(t, http.StatusOK, w.Code)

	orders := decodeBody[[]orderResponse](t, w)
	require.Len(t, orders, 1)
	assert.True(t, orders[0].Items[0].Price.Equal(decimal.RequireFromString("59.90")))
}

func TestAuth_ExpiredTokenReason(t *testing.T) {
	env := newTestEnv(t)
	expired := token.NewIssuer([]byte("test-secret"), -time.Minute, time.Hour)
	access, _, err := expired.Issue(&identity.User{ID: "u1", Role: identity.RoleUser})
	require.NoError(t, err)

	w := env.do(t, http.MethodGet, "/cart", nil, bearerHeaders(access))
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "token_expired", decodeBody[errorResponse](t, w).Reason)
}

func TestAuth_InvalidGuestID(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/cart", nil, guestHeaders("has spaces!"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuth_OTPFlow(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/auth/otp/send", map[string]string{
		"email": "bob@example.com",
	}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}
