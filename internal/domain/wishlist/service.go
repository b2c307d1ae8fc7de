package wishlist

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/unwindlabs/storefront/internal/domain/cart"
	"github.com/unwindlabs/storefront/internal/domain/product"
)

// Service applies wishlist rules on top of the entry repository. Owners are
// shared with the cart package: one wishlist per identity.
type Service struct {
	products product.Repository
	entries  Repository
}

func NewService(products product.Repository, entries Repository) *Service {
	return &Service{products: products, entries: entries}
}

// List returns the owner's favorited product IDs.
func (s *Service) List(ctx context.Context, owner cart.Owner) ([]string, error) {
	return s.entries.List(ctx, owner.Key())
}

// Add favorites a product. Adding an already-favorited product is a no-op.
func (s *Service) Add(ctx context.Context, owner cart.Owner, productID string) error {
	if _, err := s.products.GetByID(ctx, productID); err != nil {
		if errors.Is(err, product.ErrNotFound) {
			return product.ErrNotFound
		}
		return errors.Wrap(err, "get product")
	}
	return s.entries.Add(ctx, owner.Key(), productID)
}

// Remove unfavorites a product. Removing a non-member is a no-op, not an error.
func (s *Service) Remove(ctx context.Context, owner cart.Owner, productID string) error {
	return s.entries.Remove(ctx, owner.Key(), productID)
}

// Merge folds the guest wishlist into the user's. Independent of the cart
// merge: a failure in one never blocks the other.
func (s *Service) Merge(ctx context.Context, guestID, userID string) (bool, error) {
	return s.entries.MergeInto(ctx, guestID, userID)
}
