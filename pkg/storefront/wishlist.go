package storefront

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// WishlistStore keeps an optimistic local favorite set with the same
// reconciliation policy as the cart: mutate locally, write through, refresh
// on any failed write.
type WishlistStore struct {
	api     *APIClient
	session *Session
	cache   KeyValueStore
	lg      *zap.Logger

	mu    sync.RWMutex
	ids   map[string]struct{}
	state StoreState

	refreshGroup singleflight.Group
}

func newWishlistStore(api *APIClient, session *Session, cache KeyValueStore, lg *zap.Logger) *WishlistStore {
	s := &WishlistStore{
		api:     api,
		session: session,
		cache:   cache,
		lg:      lg,
		ids:     make(map[string]struct{}),
	}
	s.loadCached()
	return s
}

// loadCached restores the persisted guest wishlist so a guest sees their
// favorites across restarts even before the first server round-trip.
func (s *WishlistStore) loadCached() {
	if s.session.IsAuthenticated() {
		return
	}
	raw, err := s.cache.Get(keyGuestWishlist)
	if err != nil {
		return
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		s.lg.Warn("Discarding corrupt cached wishlist", zap.Error(err))
		_ = s.cache.Delete(keyGuestWishlist)
		return
	}
	for _, id := range ids {
		s.ids[id] = struct{}{}
	}
}

// Contains reports whether the product is in the wishlist.
func (s *WishlistStore) Contains(productID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[productID]
	return ok
}

// ProductIDs returns the wishlisted product IDs. Order is unspecified.
func (s *WishlistStore) ProductIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	return out
}

// State reports the store's reconciliation state.
func (s *WishlistStore) State() StoreState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Add puts a product in the wishlist. Adding a present product is a no-op.
func (s *WishlistStore) Add(ctx context.Context, productID string) error {
	s.mu.Lock()
	s.ids[productID] = struct{}{}
	s.state = StateDirty
	s.mu.Unlock()

	s.persistCache()

	err := s.api.wishlistAdd(ctx, s.session.creds(), productID)
	return s.settle(ctx, err, productID)
}

// Remove takes a product out of the wishlist. Removing an absent product is
// a no-op.
func (s *WishlistStore) Remove(ctx context.Context, productID string) error {
	s.mu.Lock()
	delete(s.ids, productID)
	s.state = StateDirty
	s.mu.Unlock()

	s.persistCache()

	err := s.api.wishlistRemove(ctx, s.session.creds(), productID)
	return s.settle(ctx, err, productID)
}

func (s *WishlistStore) settle(ctx context.Context, err error, productID string) error {
	if err == nil {
		s.mu.Lock()
		s.state = StateClean
		s.mu.Unlock()
		return nil
	}

	s.lg.Debug("Wishlist write failed, reconciling", zap.Error(err))
	if refreshErr := s.Refresh(ctx); refreshErr != nil {
		s.lg.Warn("Wishlist refresh failed", zap.Error(refreshErr))
	}
	if !serverRejected(err) {
		return nil
	}
	return mapCartError(err, productID, "")
}

// Refresh replaces the local set with the server's wishlist.
func (s *WishlistStore) Refresh(ctx context.Context) error {
	s.mu.Lock()
	s.state = StateReconciling
	s.mu.Unlock()

	v, err, _ := s.refreshGroup.Do("refresh", func() (any, error) {
		return s.api.getWishlist(ctx, s.session.creds())
	})
	if err != nil {
		s.mu.Lock()
		s.state = StateDirty
		s.mu.Unlock()
		return err
	}

	ids := make(map[string]struct{}, len(v.([]string)))
	for _, id := range v.([]string) {
		ids[id] = struct{}{}
	}
	s.mu.Lock()
	s.ids = ids
	s.state = StateClean
	s.mu.Unlock()
	s.persistCache()
	return nil
}

// persistCache writes the guest wishlist snapshot. Authenticated wishlists
// live on the server only.
func (s *WishlistStore) persistCache() {
	if s.session.IsAuthenticated() {
		return
	}
	ids := s.ProductIDs()
	sort.Strings(ids)
	raw, err := json.Marshal(ids)
	if err != nil {
		return
	}
	if err := s.cache.Set(keyGuestWishlist, string(raw)); err != nil {
		s.lg.Warn("Persist wishlist cache failed", zap.Error(err))
	}
}

// reset tears the store down to an empty, clean state. Run when the active
// identity changes and the old identity's favorites must not remain visible.
func (s *WishlistStore) reset() {
	s.mu.Lock()
	s.ids = make(map[string]struct{})
	s.state = StateClean
	s.mu.Unlock()
}
