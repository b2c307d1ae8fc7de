package storefront

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// StoreState describes how a store's local view relates to the server's.
type StoreState int

const (
	// StateClean: local state matched the server at the last round-trip.
	StateClean StoreState = iota
	// StateDirty: a local mutation has been applied and not yet confirmed.
	StateDirty
	// StateReconciling: a refresh is in flight; its result wins wholesale.
	StateReconciling
)

func (s StoreState) String() string {
	switch s {
	case StateDirty:
		return "dirty"
	case StateReconciling:
		return "reconciling"
	default:
		return "clean"
	}
}

// ErrMissingSize is returned when adding a multi-size product without a size.
var ErrMissingSize = errors.New("size selection is required")

// OutOfStockError rejects an add for a size with no stock. Quantities are
// never clamped; the add fails whole.
type OutOfStockError struct {
	ProductID string
	Size      string
}

func (e *OutOfStockError) Error() string {
	return fmt.Sprintf("product %s size %q is out of stock", e.ProductID, e.Size)
}

// CartStore keeps an optimistic local cart. Mutations apply locally first for
// instant feedback, then round-trip to the server; a failed round-trip is
// reconciled by re-fetching the authoritative cart, never by rolling back the
// one local change.
type CartStore struct {
	api     *APIClient
	session *Session
	cache   KeyValueStore
	lg      *zap.Logger

	mu       sync.RWMutex
	lines    []Line
	prices   map[string]decimal.Decimal
	subtotal decimal.Decimal
	state    StoreState

	refreshGroup singleflight.Group
}

func newCartStore(api *APIClient, session *Session, cache KeyValueStore, lg *zap.Logger) *CartStore {
	s := &CartStore{
		api:     api,
		session: session,
		cache:   cache,
		lg:      lg,
		prices:  make(map[string]decimal.Decimal),
	}
	s.loadCached()
	return s
}

// loadCached restores the persisted guest cart so a guest sees their cart
// across restarts even before the first server round-trip.
func (s *CartStore) loadCached() {
	if s.session.IsAuthenticated() {
		return
	}
	raw, err := s.cache.Get(keyGuestCart)
	if err != nil {
		return
	}
	var lines []Line
	if err := json.Unmarshal([]byte(raw), &lines); err != nil {
		s.lg.Warn("Discarding corrupt cached cart", zap.Error(err))
		_ = s.cache.Delete(keyGuestCart)
		return
	}
	s.lines = lines
}

// Lines returns a copy of the current cart lines.
func (s *CartStore) Lines() []Line {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Line, len(s.lines))
	copy(out, s.lines)
	return out
}

// TotalQuantity is the sum of all line quantities, derived from local state.
func (s *CartStore) TotalQuantity() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, l := range s.lines {
		total += l.Quantity
	}
	return total
}

// Subtotal derives the cart subtotal from locally known unit prices. When a
// line's price has not been seen yet, the last server-reported subtotal is
// returned instead.
func (s *CartStore) Subtotal() decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sum := decimal.Zero
	for _, l := range s.lines {
		price, ok := s.prices[l.ProductID]
		if !ok {
			return s.subtotal
		}
		sum = sum.Add(price.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	return sum
}

// State reports the store's reconciliation state.
func (s *CartStore) State() StoreState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Add validates against the given catalog view and adds quantity of
// (product, size) to the cart. Adding an existing (product, size) pair
// increments its quantity. Validation failures are synchronous and leave
// both local and server state untouched.
func (s *CartStore) Add(ctx context.Context, p Product, size string, quantity int) error {
	if quantity <= 0 {
		return errors.New("quantity must be positive")
	}
	if size == "" {
		return ErrMissingSize
	}
	if len(p.Variants) > 0 {
		if !p.HasSize(size) {
			return &OutOfStockError{ProductID: p.ID, Size: size}
		}
		if !p.InStock(size) {
			return &OutOfStockError{ProductID: p.ID, Size: size}
		}
	}

	s.mu.Lock()
	s.applyAdd(Line{ProductID: p.ID, Size: size, Quantity: quantity})
	s.prices[p.ID] = p.Price
	s.state = StateDirty
	s.mu.Unlock()
	s.persistCache()

	err := s.api.cartAdd(ctx, s.session.creds(), Line{ProductID: p.ID, Size: size, Quantity: quantity})
	return s.settle(ctx, err, p.ID, size)
}

// Update sets the absolute quantity of a line. Zero or negative removes it.
// Updating a line the cart does not have creates it.
func (s *CartStore) Update(ctx context.Context, productID, size string, quantity int) error {
	s.mu.Lock()
	if quantity <= 0 {
		s.applyRemove(productID, size)
	} else {
		s.applySet(Line{ProductID: productID, Size: size, Quantity: quantity})
	}
	s.state = StateDirty
	s.mu.Unlock()
	s.persistCache()

	err := s.api.cartUpdate(ctx, s.session.creds(), Line{ProductID: productID, Size: size, Quantity: quantity})
	return s.settle(ctx, err, productID, size)
}

// Remove deletes a line. Removing an absent line is a no-op.
func (s *CartStore) Remove(ctx context.Context, productID, size string) error {
	s.mu.Lock()
	s.applyRemove(productID, size)
	s.state = StateDirty
	s.mu.Unlock()
	s.persistCache()

	err := s.api.cartRemove(ctx, s.session.creds(), productID, size)
	return s.settle(ctx, err, productID, size)
}

// Clear empties the cart.
func (s *CartStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.lines = nil
	s.subtotal = decimal.Zero
	s.state = StateDirty
	s.mu.Unlock()
	s.persistCache()

	err := s.api.cartClear(ctx, s.session.creds())
	return s.settle(ctx, err, "", "")
}

// settle resolves the outcome of a server write. Success confirms the
// optimistic state. Any failure triggers a refresh so the server's view wins;
// only definitive rejections surface to the caller.
func (s *CartStore) settle(ctx context.Context, err error, productID, size string) error {
	if err == nil {
		s.mu.Lock()
		s.state = StateClean
		s.mu.Unlock()
		return nil
	}

	s.lg.Debug("Cart write failed, reconciling", zap.Error(err))
	if refreshErr := s.Refresh(ctx); refreshErr != nil {
		s.lg.Warn("Cart refresh failed", zap.Error(refreshErr))
	}

	if !serverRejected(err) {
		// Transient failure: server state is unknown, the refresh (or the
		// next one) settles it. Not the caller's problem.
		return nil
	}
	return mapCartError(err, productID, size)
}

// Refresh replaces local state with the server's cart. Concurrent callers
// share one request; the last completed refresh wins wholesale.
func (s *CartStore) Refresh(ctx context.Context) error {
	s.mu.Lock()
	s.state = StateReconciling
	s.mu.Unlock()

	v, err, _ := s.refreshGroup.Do("refresh", func() (any, error) {
		return s.api.getCart(ctx, s.session.creds())
	})
	if err != nil {
		s.mu.Lock()
		s.state = StateDirty
		s.mu.Unlock()
		return err
	}

	payload := v.(cartPayload)
	s.mu.Lock()
	s.lines = payload.Items
	s.subtotal = payload.Subtotal
	s.state = StateClean
	s.mu.Unlock()
	s.persistCache()
	return nil
}

func (s *CartStore) applyAdd(l Line) {
	for i := range s.lines {
		if s.lines[i].ProductID == l.ProductID && s.lines[i].Size == l.Size {
			s.lines[i].Quantity += l.Quantity
			return
		}
	}
	s.lines = append(s.lines, l)
}

func (s *CartStore) applySet(l Line) {
	for i := range s.lines {
		if s.lines[i].ProductID == l.ProductID && s.lines[i].Size == l.Size {
			s.lines[i].Quantity = l.Quantity
			return
		}
	}
	s.lines = append(s.lines, l)
}

func (s *CartStore) applyRemove(productID, size string) {
	for i := range s.lines {
		if s.lines[i].ProductID == productID && s.lines[i].Size == size {
			s.lines = append(s.lines[:i], s.lines[i+1:]...)
			return
		}
	}
}

// persistCache writes the guest cart snapshot. Authenticated carts live on
// the server only.
func (s *CartStore) persistCache() {
	if s.session.IsAuthenticated() {
		return
	}
	s.mu.RLock()
	raw, err := json.Marshal(s.lines)
	s.mu.RUnlock()
	if err != nil {
		return
	}
	if err := s.cache.Set(keyGuestCart, string(raw)); err != nil {
		s.lg.Warn("Persist cart cache failed", zap.Error(err))
	}
}

// reset tears the store down to an empty, clean state. Run when the active
// identity changes and the old identity's lines must not remain visible.
func (s *CartStore) reset() {
	s.mu.Lock()
	s.lines = nil
	s.prices = make(map[string]decimal.Decimal)
	s.subtotal = decimal.Zero
	s.state = StateClean
	s.mu.Unlock()
}

// mapCartError converts definitive server rejections to typed errors,
// carrying the identifiers of the line the rejection was about.
func mapCartError(err error, productID, size string) error {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	switch apiErr.Reason {
	case "out_of_stock":
		return &OutOfStockError{ProductID: productID, Size: size}
	case "missing_size":
		return ErrMissingSize
	case "token_expired":
		return &AuthError{Kind: AuthTokenExpired, Err: err}
	case "auth_required":
		return &AuthError{Kind: AuthRequired, Err: err}
	}
	return err
}
