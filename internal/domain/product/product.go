package product

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Product represents a catalog item available for purchase.
type Product struct {
	ID          string
	Title       string
	Description string
	Price       decimal.Decimal
	Brand       string
	Category    string
	Images      []string
	Variants    []Variant
}

// Variant is one purchasable size of a product together with its remaining
// stock. A size is purchasable iff its stock is greater than zero.
type Variant struct {
	Size  string
	Stock int
}

// StockFor returns the remaining stock for the given size. The second return
// value is false when the size is not one of the product's known sizes.
func (p Product) StockFor(size string) (int, bool) {
	for _, v := range p.Variants {
		if v.Size == size {
			return v.Stock, true
		}
	}
	return 0, false
}

// InStock reports whether the given size is currently purchasable.
func (p Product) InStock(size string) bool {
	stock, ok := p.StockFor(size)
	return ok && stock > 0
}

// Repository defines read operations for the product catalog.
type Repository interface {
	// List returns active products, optionally filtered by category.
	List(ctx context.Context, category string) ([]Product, error)
	GetByID(ctx context.Context, id string) (*Product, error)
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
	// ListIDs returns the IDs of all active products. Used to build the
	// membership prefilter.
	ListIDs(ctx context.Context) ([]string, error)
}
