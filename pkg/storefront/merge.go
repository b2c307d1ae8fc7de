package storefront

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// MergePhase is the lifecycle of one store's guest-to-user migration.
type MergePhase int

const (
	MergeIdle MergePhase = iota
	MergeMerging
	MergeMerged
	MergeFailed
)

func (p MergePhase) String() string {
	switch p {
	case MergeMerging:
		return "merging"
	case MergeMerged:
		return "merged"
	case MergeFailed:
		return "failed"
	default:
		return "idle"
	}
}

// MergeReport is the outcome of a merge run, per store.
type MergeReport struct {
	Cart     MergePhase
	Wishlist MergePhase
}

// MergeCoordinator migrates guest cart and wishlist state into the logged-in
// user's account. The two migrations are independent: one failing does not
// abort or roll back the other. Guest data is discarded only after both
// succeed, so a failed merge can be retried on a later login.
type MergeCoordinator struct {
	api      *APIClient
	session  *Session
	cart     *CartStore
	wishlist *WishlistStore
	lg       *zap.Logger

	mu   sync.Mutex
	last MergeReport
}

func newMergeCoordinator(api *APIClient, session *Session, cart *CartStore, wishlist *WishlistStore, lg *zap.Logger) *MergeCoordinator {
	return &MergeCoordinator{api: api, session: session, cart: cart, wishlist: wishlist, lg: lg}
}

// LastReport returns the outcome of the most recent run.
func (m *MergeCoordinator) LastReport() MergeReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Run merges the given guest identity into the current user. The server side
// is idempotent per (guest, user), so re-running after a partial failure is
// safe.
func (m *MergeCoordinator) Run(ctx context.Context, guestID string) MergeReport {
	creds := m.session.creds()
	report := MergeReport{Cart: MergeMerging, Wishlist: MergeMerging}

	var g errgroup.Group
	var cartErr, wishlistErr error
	g.Go(func() error {
		_, cartErr = m.api.cartMerge(ctx, creds, guestID)
		return nil
	})
	g.Go(func() error {
		wishlistErr = m.api.wishlistMerge(ctx, creds, guestID)
		return nil
	})
	_ = g.Wait()

	if cartErr != nil {
		report.Cart = MergeFailed
		m.lg.Warn("Cart merge failed", zap.String("guest_id", guestID), zap.Error(cartErr))
	} else {
		report.Cart = MergeMerged
		if err := m.cart.Refresh(ctx); err != nil {
			m.lg.Warn("Post-merge cart refresh failed", zap.Error(err))
		}
	}

	if wishlistErr != nil {
		report.Wishlist = MergeFailed
		m.lg.Warn("Wishlist merge failed", zap.String("guest_id", guestID), zap.Error(wishlistErr))
	} else {
		report.Wishlist = MergeMerged
		if err := m.wishlist.Refresh(ctx); err != nil {
			m.lg.Warn("Post-merge wishlist refresh failed", zap.Error(err))
		}
	}

	// The guest identity survives any failure so its data can still be
	// merged by a later login.
	if report.Cart == MergeMerged && report.Wishlist == MergeMerged {
		m.session.dropGuest()
		m.lg.Info("Guest state merged", zap.String("guest_id", guestID))
	}

	m.mu.Lock()
	m.last = report
	m.mu.Unlock()
	return report
}
