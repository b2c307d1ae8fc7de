package storefront

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAPI is an in-memory stand-in for the storefront backend, faithful to
// its JSON shapes and identity rules.
type fakeAPI struct {
	mu        sync.Mutex
	products  map[string]Product
	carts     map[string][]Line // by identity key
	wishlists map[string][]string
	merged    map[string]bool

	failCartWrites bool // respond 500 to cart mutations
	rejectAdds     bool // respond 422 out_of_stock to cart adds
}

func newFakeAPI(products ...Product) *fakeAPI {
	f := &fakeAPI{
		products:  make(map[string]Product),
		carts:     make(map[string][]Line),
		wishlists: make(map[string][]string),
		merged:    make(map[string]bool),
	}
	for _, p := range products {
		f.products[p.ID] = p
	}
	return f
}

// identity resolves the request to "user:u1" or "guest:<id>". The fake
// accepts exactly one user whose token is "tok-u1".
func (f *fakeAPI) identity(r *http.Request) (string, bool) {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if auth == "Bearer tok-u1" {
			return "user:u1", true
		}
		return "", false
	}
	if gid := r.Header.Get("x-guest-id"); gid != "" {
		return "guest:" + gid, true
	}
	return "", false
}

func (f *fakeAPI) cartJSON(key string) cartPayload {
	lines := f.carts[key]
	total := 0
	subtotal := decimal.Zero
	for _, l := range lines {
		total += l.Quantity
		if p, ok := f.products[l.ProductID]; ok {
			subtotal = subtotal.Add(p.Price.Mul(decimal.NewFromInt(int64(l.Quantity))))
		}
	}
	items := lines
	if items == nil {
		items = []Line{}
	}
	return cartPayload{Items: items, TotalQuantity: total, Subtotal: subtotal}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, msg, reason string) {
	writeJSON(w, status, map[string]any{"code": status, "message": msg, "reason": reason})
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if strings.HasPrefix(r.URL.Path, "/auth/") {
		f.serveAuth(w, r)
		return
	}

	key, ok := f.identity(r)
	if !ok {
		writeErr(w, http.StatusUnauthorized, "authentication required", "auth_required")
		return
	}

	switch {
	case r.URL.Path == "/cart" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, f.cartJSON(key))

	case strings.HasPrefix(r.URL.Path, "/cart/"):
		f.serveCart(w, r, key)

	case r.URL.Path == "/wishlist" && r.Method == http.MethodGet:
		ids := f.wishlists[key]
		if ids == nil {
			ids = []string{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": ids})

	case strings.HasPrefix(r.URL.Path, "/wishlist/"):
		f.serveWishlist(w, r, key)

	case r.URL.Path == "/orders" && r.Method == http.MethodPost:
		if !strings.HasPrefix(key, "user:") {
			writeErr(w, http.StatusUnauthorized, "authentication required", "auth_required")
			return
		}
		if len(f.carts[key]) == 0 {
			writeErr(w, http.StatusBadRequest, "cart is empty", "empty_cart")
			return
		}
		payload := f.cartJSON(key)
		delete(f.carts, key)
		writeJSON(w, http.StatusCreated, Order{ID: "order-1", Status: "pending", Amount: payload.Subtotal})

	default:
		http.NotFound(w, r)
	}
}

func (f *fakeAPI) serveAuth(w http.ResponseWriter, r *http.Request) {
	var body map[string]string
	_ = json.NewDecoder(r.Body).Decode(&body)

	switch r.URL.Path {
	case "/auth/login":
		if body["email"] != "alice@example.com" || body["password"] != "hunter22" {
			writeErr(w, http.StatusUnauthorized, "invalid credentials", "invalid_credentials")
			return
		}
		writeJSON(w, http.StatusOK, sessionPayload{
			User:         Profile{ID: "u1", Email: "alice@example.com", Name: "Alice", Role: "user"},
			AccessToken:  "tok-u1",
			RefreshToken: "refresh-u1",
		})
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeAPI) serveCart(w http.ResponseWriter, r *http.Request, key string) {
	var body struct {
		ProductID string `json:"productId"`
		Size      string `json:"size"`
		Quantity  int    `json:"quantity"`
		GuestID   string `json:"guestId"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	if f.failCartWrites && r.URL.Path != "/cart/merge" {
		writeErr(w, http.StatusInternalServerError, "storage unavailable", "")
		return
	}

	switch r.URL.Path {
	case "/cart/add":
		if f.rejectAdds {
			writeErr(w, http.StatusUnprocessableEntity, "out of stock", "out_of_stock")
			return
		}
		f.upsert(key, Line{ProductID: body.ProductID, Size: body.Size, Quantity: body.Quantity})
		writeJSON(w, http.StatusOK, f.cartJSON(key))

	case "/cart/update":
		f.set(key, Line{ProductID: body.ProductID, Size: body.Size, Quantity: body.Quantity})
		writeJSON(w, http.StatusOK, f.cartJSON(key))

	case "/cart/remove":
		f.set(key, Line{ProductID: body.ProductID, Size: body.Size, Quantity: 0})
		writeJSON(w, http.StatusOK, f.cartJSON(key))

	case "/cart/clear":
		delete(f.carts, key)
		writeJSON(w, http.StatusOK, f.cartJSON(key))

	case "/cart/merge":
		if !strings.HasPrefix(key, "user:") {
			writeErr(w, http.StatusUnauthorized, "authentication required", "auth_required")
			return
		}
		mergeKey := body.GuestID + "|" + key
		merged := false
		if !f.merged[mergeKey] {
			f.merged[mergeKey] = true
			merged = true
			for _, l := range f.carts["guest:"+body.GuestID] {
				f.upsert(key, l)
			}
			delete(f.carts, "guest:"+body.GuestID)
		}
		writeJSON(w, http.StatusOK, map[string]any{"merged": merged, "items": f.cartJSON(key).Items})

	default:
		http.NotFound(w, r)
	}
}

func (f *fakeAPI) serveWishlist(w http.ResponseWriter, r *http.Request, key string) {
	var body struct {
		ProductID string `json:"productId"`
		GuestID   string `json:"guestId"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	switch r.URL.Path {
	case "/wishlist/add":
		found := false
		for _, id := range f.wishlists[key] {
			if id == body.ProductID {
				found = true
			}
		}
		if !found {
			f.wishlists[key] = append(f.wishlists[key], body.ProductID)
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": f.wishlists[key]})

	case "/wishlist/remove":
		for i, id := range f.wishlists[key] {
			if id == body.ProductID {
				f.wishlists[key] = append(f.wishlists[key][:i], f.wishlists[key][i+1:]...)
				break
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": f.wishlists[key]})

	case "/wishlist/merge":
		mergeKey := body.GuestID + "|" + key + "|wishlist"
		if !f.merged[mergeKey] {
			f.merged[mergeKey] = true
			f.wishlists[key] = append(f.wishlists[key], f.wishlists["guest:"+body.GuestID]...)
			delete(f.wishlists, "guest:"+body.GuestID)
		}
		writeJSON(w, http.StatusOK, map[string]any{"merged": true, "items": f.wishlists[key]})

	default:
		http.NotFound(w, r)
	}
}

func (f *fakeAPI) upsert(key string, l Line) {
	for i, existing := range f.carts[key] {
		if existing.ProductID == l.ProductID && existing.Size == l.Size {
			f.carts[key][i].Quantity += l.Quantity
			return
		}
	}
	f.carts[key] = append(f.carts[key], l)
}

// set replaces the quantity; zero removes.
func (f *fakeAPI) set(key string, l Line) {
	for i, existing := range f.carts[key] {
		if existing.ProductID == l.ProductID && existing.Size == l.Size {
			if l.Quantity <= 0 {
				f.carts[key] = append(f.carts[key][:i], f.carts[key][i+1:]...)
			} else {
				f.carts[key][i].Quantity = l.Quantity
			}
			return
		}
	}
	if l.Quantity > 0 {
		f.carts[key] = append(f.carts[key], l)
	}
}

// --- Helpers ---

func sneaker(stock int) Product {
	return Product{
		ID:       "sneaker-1",
		Title:    "Sneaker",
		Price:    decimal.RequireFromString("40.00"),
		Variants: []Variant{{Size: "42", Stock: stock}},
	}
}

func newTestClient(t *testing.T, api *fakeAPI) (*Client, Storage) {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	storage := NewMemoryStorage()
	return New(srv.URL, storage, srv.Client(), nil), storage
}

// --- Tests ---

func TestCartStore_OptimisticAdd(t *testing.T) {
	api := newFakeAPI(sneaker(10))
	c, _ := newTestClient(t, api)

	require.NoError(t, c.Cart.Add(context.Background(), sneaker(10), "42", 2))

	assert.Equal(t, StateClean, c.Cart.State())
	assert.Equal(t, 2, c.Cart.TotalQuantity())
	assert.True(t, c.Cart.Subtotal().Equal(decimal.RequireFromString("80.00")), "got %s", c.Cart.Subtotal())

	// The server saw the same mutation.
	gid := c.Session.CurrentIdentity().GuestID
	require.NotEmpty(t, gid)
	assert.Len(t, api.carts["guest:"+gid], 1)
}

func TestCartStore_AddDeduplicates(t *testing.T) {
	api := newFakeAPI(sneaker(10))
	c, _ := newTestClient(t, api)

	require.NoError(t, c.Cart.Add(context.Background(), sneaker(10), "42", 1))
	require.NoError(t, c.Cart.Add(context.Background(), sneaker(10), "42", 2))

	lines := c.Cart.Lines()
	require.Len(t, lines, 1)
	assert.Equal(t, 3, lines[0].Quantity)
}

func TestCartStore_ValidationIsSynchronous(t *testing.T) {
	api := newFakeAPI(sneaker(10))
	c, _ := newTestClient(t, api)

	err := c.Cart.Add(context.Background(), sneaker(10), "", 1)
	require.ErrorIs(t, err, ErrMissingSize)

	// Empty size is rejected even when the catalog view carries no variants;
	// the server would refuse it either way.
	err = c.Cart.Add(context.Background(), Product{ID: "sneaker-1"}, "", 1)
	require.ErrorIs(t, err, ErrMissingSize)

	var oos *OutOfStockError
	err = c.Cart.Add(context.Background(), sneaker(0), "42", 1)
	require.ErrorAs(t, err, &oos)

	// Nothing reached the server or local state.
	assert.Empty(t, c.Cart.Lines())
	assert.Empty(t, api.carts)
}

func TestCartStore_TransientFailureReconciles(t *testing.T) {
	api := newFakeAPI(sneaker(10))
	c, _ := newTestClient(t, api)

	require.NoError(t, c.Cart.Add(context.Background(), sneaker(10), "42", 1))

	// The next write fails server-side; the optimistic change must be
	// reconciled away by the refresh, and the caller sees no error.
	api.failCartWrites = true
	require.NoError(t, c.Cart.Update(context.Background(), "sneaker-1", "42", 5))
	api.failCartWrites = false

	require.NoError(t, c.Cart.Refresh(context.Background()))
	lines := c.Cart.Lines()
	require.Len(t, lines, 1)
	assert.Equal(t, 1, lines[0].Quantity, "server state wins over the failed optimistic update")
	assert.Equal(t, StateClean, c.Cart.State())
}

func TestCartStore_ServerRejectionSurfacesAndReconciles(t *testing.T) {
	api := newFakeAPI(sneaker(10))
	c, _ := newTestClient(t, api)

	// The client's catalog view says in stock; the server disagrees.
	api.rejectAdds = true
	err := c.Cart.Add(context.Background(), sneaker(10), "42", 1)

	var oos *OutOfStockError
	require.ErrorAs(t, err, &oos)
	assert.Equal(t, "sneaker-1", oos.ProductID)
	assert.Equal(t, "42", oos.Size)
	assert.Empty(t, c.Cart.Lines(), "optimistic line reconciled away")
}

func TestCartStore_RefreshReplacesWholesale(t *testing.T) {
	api := newFakeAPI(sneaker(10))
	c, _ := newTestClient(t, api)

	require.NoError(t, c.Cart.Add(context.Background(), sneaker(10), "42", 2))

	// Another device changed the cart.
	gid := c.Session.CurrentIdentity().GuestID
	api.mu.Lock()
	api.carts["guest:"+gid] = []Line{{ProductID: "sneaker-1", Size: "42", Quantity: 7}}
	api.mu.Unlock()

	require.NoError(t, c.Cart.Refresh(context.Background()))
	lines := c.Cart.Lines()
	require.Len(t, lines, 1)
	assert.Equal(t, 7, lines[0].Quantity)
}

func TestCartStore_GuestCartPersistsLocally(t *testing.T) {
	api := newFakeAPI(sneaker(10))
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	storage := NewMemoryStorage()

	c1 := New(srv.URL, storage, srv.Client(), nil)
	require.NoError(t, c1.Cart.Add(context.Background(), sneaker(10), "42", 2))

	// A new client over the same storage sees the cached cart immediately.
	c2 := New(srv.URL, storage, srv.Client(), nil)
	assert.Equal(t, 2, c2.Cart.TotalQuantity())
	assert.Equal(t, c1.Session.CurrentIdentity().GuestID, c2.Session.CurrentIdentity().GuestID)
}

func TestSession_LoginMergesGuestState(t *testing.T) {
	api := newFakeAPI(sneaker(10))
	c, storage := newTestClient(t, api)

	require.NoError(t, c.Cart.Add(context.Background(), sneaker(10), "42", 2))
	require.NoError(t, c.Wishlist.Add(context.Background(), "sneaker-1"))
	gid := c.Session.CurrentIdentity().GuestID

	profile, err := c.Session.Login(context.Background(), "alice@example.com", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, "u1", profile.ID)
	assert.True(t, c.Session.IsAuthenticated())

	report := c.Merges.LastReport()
	assert.Equal(t, MergeMerged, report.Cart)
	assert.Equal(t, MergeMerged, report.Wishlist)

	// The user cart holds the merged lines, the guest cart is gone.
	assert.Len(t, api.carts["user:u1"], 1)
	assert.Empty(t, api.carts["guest:"+gid])
	assert.Equal(t, 2, c.Cart.TotalQuantity())
	assert.True(t, c.Wishlist.Contains("sneaker-1"))

	// Guest identity was discarded after the successful merge.
	_, err = storage.Secure.Get(keyGuestID)
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestSession_InvalidCredentials(t *testing.T) {
	api := newFakeAPI()
	c, _ := newTestClient(t, api)

	_, err := c.Session.Login(context.Background(), "alice@example.com", "wrong")

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, AuthInvalidCredentials, authErr.Kind)
	assert.False(t, c.Session.IsAuthenticated())
}

func TestSession_LogoutStartsFreshGuest(t *testing.T) {
	api := newFakeAPI(sneaker(10))
	c, storage := newTestClient(t, api)

	oldGuest := c.Session.CurrentIdentity().GuestID
	_, err := c.Session.Login(context.Background(), "alice@example.com", "hunter22")
	require.NoError(t, err)
	require.NoError(t, c.Cart.Add(context.Background(), sneaker(10), "42", 2))
	require.NoError(t, c.Wishlist.Add(context.Background(), "sneaker-1"))

	c.Session.Logout()

	assert.False(t, c.Session.IsAuthenticated())
	newGuest := c.Session.CurrentIdentity().GuestID
	assert.NotEmpty(t, newGuest)
	assert.NotEqual(t, oldGuest, newGuest)

	_, err = storage.Secure.Get(keyAccessToken)
	assert.ErrorIs(t, err, ErrKeyNotFound)

	// The previous identity's lines must not linger in memory.
	assert.Equal(t, 0, c.Cart.TotalQuantity())
	assert.False(t, c.Wishlist.Contains("sneaker-1"))

	// The fresh guest starts from an empty cart: an add yields quantity 1
	// on both sides, not stacked on the old user's lines.
	require.NoError(t, c.Cart.Add(context.Background(), sneaker(10), "42", 1))
	assert.Equal(t, 1, c.Cart.TotalQuantity())
	require.Len(t, api.carts["guest:"+newGuest], 1)
	assert.Equal(t, 1, api.carts["guest:"+newGuest][0].Quantity)
}

func TestSession_GuestIDStableAcrossRestarts(t *testing.T) {
	api := newFakeAPI()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	storage := NewMemoryStorage()

	c1 := New(srv.URL, storage, srv.Client(), nil)
	gid := c1.Session.CurrentIdentity().GuestID

	c2 := New(srv.URL, storage, srv.Client(), nil)
	assert.Equal(t, gid, c2.Session.CurrentIdentity().GuestID)
}

func TestSubmitOrder_RequiresAuth(t *testing.T) {
	api := newFakeAPI()
	c, _ := newTestClient(t, api)

	_, err := c.SubmitOrder(context.Background(), Address{Line1: "1 Main St"})

	var orderErr *OrderError
	require.ErrorAs(t, err, &orderErr)
	assert.Equal(t, OrderAuthRequired, orderErr.Kind)
}

func TestSubmitOrder_EmptyCart(t *testing.T) {
	api := newFakeAPI()
	c, _ := newTestClient(t, api)

	_, err := c.Session.Login(context.Background(), "alice@example.com", "hunter22")
	require.NoError(t, err)

	_, err = c.SubmitOrder(context.Background(), Address{Line1: "1 Main St"})

	var orderErr *OrderError
	require.ErrorAs(t, err, &orderErr)
	assert.Equal(t, OrderEmptyCart, orderErr.Kind)
}

func TestSubmitOrder_SuccessClearsCart(t *testing.T) {
	api := newFakeAPI(sneaker(10))
	c, _ := newTestClient(t, api)

	_, err := c.Session.Login(context.Background(), "alice@example.com", "hunter22")
	require.NoError(t, err)
	require.NoError(t, c.Cart.Add(context.Background(), sneaker(10), "42", 2))

	o, err := c.SubmitOrder(context.Background(), Address{Line1: "1 Main St"})
	require.NoError(t, err)
	assert.Equal(t, "pending", o.Status)
	assert.True(t, o.Amount.Equal(decimal.RequireFromString("80.00")), "got %s", o.Amount)

	assert.Equal(t, 0, c.Cart.TotalQuantity())
	assert.Empty(t, api.carts["user:u1"])
}

func TestWishlistStore_GuestWishlistPersistsLocally(t *testing.T) {
	api := newFakeAPI(sneaker(10))
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	storage := NewMemoryStorage()

	c1 := New(srv.URL, storage, srv.Client(), nil)
	require.NoError(t, c1.Wishlist.Add(context.Background(), "sneaker-1"))

	// A new client over the same storage sees the cached wishlist before
	// any refresh.
	c2 := New(srv.URL, storage, srv.Client(), nil)
	assert.True(t, c2.Wishlist.Contains("sneaker-1"))
}

func TestWishlistStore_SetSemantics(t *testing.T) {
	api := newFakeAPI(sneaker(10))
	c, _ := newTestClient(t, api)

	require.NoError(t, c.Wishlist.Add(context.Background(), "sneaker-1"))
	require.NoError(t, c.Wishlist.Add(context.Background(), "sneaker-1"))

	assert.Equal(t, []string{"sneaker-1"}, c.Wishlist.ProductIDs())

	require.NoError(t, c.Wishlist.Remove(context.Background(), "sneaker-1"))
	require.NoError(t, c.Wishlist.Remove(context.Background(), "sneaker-1"))
	assert.Empty(t, c.Wishlist.ProductIDs())
}

func TestProductHelpers(t *testing.T) {
	p := Product{Variants: []Variant{
		{Size: "41", Stock: 0},
		{Size: "42", Stock: 3},
	}}

	assert.Equal(t, []string{"42"}, p.AvailableSizes())
	assert.True(t, p.InStock("42"))
	assert.False(t, p.InStock("41"))
	assert.False(t, p.InStock("43"))
	assert.True(t, p.HasSize("41"))
	assert.False(t, p.HasSize("43"))
}
