package cart

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/unwindlabs/storefront/internal/domain/product"
)

// Service encapsulates cart business rules on top of a line repository.
//
// Stock checks here are defensive: the authoritative check happens at order
// submission. An out-of-stock add is rejected outright, never clamped.
type Service struct {
	products product.Repository
	filter   *product.IDFilter
	lines    Repository
}

// NewService creates a cart Service. filter may be nil, in which case every
// product ID goes straight to the repository lookup.
func NewService(products product.Repository, filter *product.IDFilter, lines Repository) *Service {
	return &Service{
		products: products,
		filter:   filter,
		lines:    lines,
	}
}

// Get returns the owner's current cart lines.
func (s *Service) Get(ctx context.Context, owner Owner) ([]Line, error) {
	return s.lines.List(ctx, owner.Key())
}

// Snapshot returns the owner's lines together with the subtotal computed from
// current catalog prices.
func (s *Service) Snapshot(ctx context.Context, owner Owner) ([]Line, decimal.Decimal, error) {
	lines, err := s.lines.List(ctx, owner.Key())
	if err != nil {
		return nil, decimal.Zero, err
	}
	if len(lines) == 0 {
		return lines, decimal.Zero, nil
	}

	ids := make([]string, len(lines))
	for i, l := range lines {
		ids[i] = l.ProductID
	}
	fetched, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, decimal.Zero, errors.Wrap(err, "get products")
	}
	prices := make(map[string]decimal.Decimal, len(fetched))
	for _, p := range fetched {
		prices[p.ID] = p.Price
	}

	subtotal := decimal.Zero
	for _, l := range lines {
		price, ok := prices[l.ProductID]
		if !ok {
			// Product removed from the catalog after it entered the cart;
			// the line contributes nothing until order submission rejects it.
			continue
		}
		subtotal = subtotal.Add(price.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	return lines, subtotal.Round(2), nil
}

// Add inserts a line or increments the quantity of an existing (product, size)
// line by quantity.
func (s *Service) Add(ctx context.Context, owner Owner, productID, size string, quantity int) error {
	if size == "" {
		return ErrMissingSize
	}
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	if !s.filter.MayContain(productID) {
		return product.ErrNotFound
	}

	p, err := s.products.GetByID(ctx, productID)
	if err != nil {
		if errors.Is(err, product.ErrNotFound) {
			return product.ErrNotFound
		}
		return errors.Wrap(err, "get product")
	}

	stock, known := p.StockFor(size)
	if !known {
		return &UnknownSizeError{ProductID: productID, Size: size}
	}
	if stock <= 0 {
		return &OutOfStockError{ProductID: productID, Size: size}
	}

	return s.lines.Upsert(ctx, owner.Key(), Line{
		ProductID: productID,
		Size:      size,
		Quantity:  quantity,
	})
}

// Update sets the absolute quantity for a (product, size) line. A quantity of
// zero or less removes the line.
func (s *Service) Update(ctx context.Context, owner Owner, productID, size string, quantity int) error {
	if size == "" {
		return ErrMissingSize
	}
	if quantity <= 0 {
		return s.Remove(ctx, owner, productID, size)
	}
	return s.lines.SetQuantity(ctx, owner.Key(), Line{
		ProductID: productID,
		Size:      size,
		Quantity:  quantity,
	})
}

// Remove deletes a line. Removing an absent line is a no-op.
func (s *Service) Remove(ctx context.Context, owner Owner, productID, size string) error {
	return s.lines.Remove(ctx, owner.Key(), productID, size)
}

// Clear empties the owner's cart.
func (s *Service) Clear(ctx context.Context, owner Owner) error {
	return s.lines.Clear(ctx, owner.Key())
}

// Merge folds the guest cart identified by guestID into the user's cart.
// A repeated merge for the same pair is a no-op success (merged=false).
func (s *Service) Merge(ctx context.Context, guestID, userID string) (bool, error) {
	return s.lines.MergeInto(ctx, guestID, userID)
}
