package order

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/unwindlabs/storefront/internal/domain/cart"
	"github.com/unwindlabs/storefront/internal/domain/product"
)

// Service encapsulates order submission. Submission is one-shot: a failure of
// any kind returns an error and leaves the cart unchanged, and the caller
// resubmits from scratch. There is no compensation logic and no retry.
type Service struct {
	products product.Repository
	carts    cart.Repository
	orders   Repository
}

func NewService(products product.Repository, carts cart.Repository, orders Repository) *Service {
	return &Service{
		products: products,
		carts:    carts,
		orders:   orders,
	}
}

// Submit transforms the user's cart into an order. The amount is computed
// from a fresh read of each line's product price at submission time; a
// client-supplied total is never trusted.
func (s *Service) Submit(ctx context.Context, userID string, shipping Address) (*Order, error) {
	owner := cart.UserOwner(userID)

	lines, err := s.carts.List(ctx, owner.Key())
	if err != nil {
		return nil, errors.Wrap(err, "list cart")
	}
	if len(lines) == 0 {
		return nil, ErrEmptyCart
	}

	ids := make([]string, len(lines))
	for i, l := range lines {
		ids[i] = l.ProductID
	}
	fetched, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}
	byID := make(map[string]product.Product, len(fetched))
	for _, p := range fetched {
		byID[p.ID] = p
	}

	items := make([]Item, len(lines))
	amount := decimal.Zero
	for i, l := range lines {
		p, ok := byID[l.ProductID]
		if !ok {
			return nil, &ProductNotFoundError{ProductID: l.ProductID}
		}

		image := ""
		if len(p.Images) > 0 {
			image = p.Images[0]
		}
		items[i] = Item{
			ProductID: p.ID,
			Title:     p.Title,
			Price:     p.Price,
			Size:      l.Size,
			Quantity:  l.Quantity,
			Image:     image,
		}
		amount = amount.Add(p.Price.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}

	o := &Order{
		ID:       uuid.New().String(),
		UserID:   userID,
		Status:   StatusPending,
		Amount:   amount.Round(2),
		Shipping: shipping,
		Items:    items,
	}
	if err := s.orders.Create(ctx, o, owner.Key()); err != nil {
		var stockErr *InsufficientStockError
		if errors.As(err, &stockErr) {
			return nil, stockErr
		}
		return nil, errors.Wrap(err, "create order")
	}
	return o, nil
}

// History returns the user's placed orders, newest first.
func (s *Service) History(ctx context.Context, userID string) ([]Order, error) {
	return s.orders.ListByUser(ctx, userID)
}
