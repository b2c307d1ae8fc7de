package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrEmptyCart is returned when order submission finds no cart lines.
var ErrEmptyCart = errors.New("cart is empty")

// ProductNotFoundError indicates a cart line references a product that no
// longer exists in the catalog.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return "product " + e.ProductID + " not found"
}

// InsufficientStockError indicates stock for a line was exhausted at commit
// time. The order is not created and the cart is left unchanged.
type InsufficientStockError struct {
	ProductID string
	Size      string
}

func (e *InsufficientStockError) Error() string {
	return "insufficient stock for product " + e.ProductID + " size " + e.Size
}

// Status is the order lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusShipped   Status = "shipped"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
)

// Item is an immutable snapshot of one cart line at submission time. Later
// price changes to the product do not affect placed orders.
type Item struct {
	ProductID string          `json:"productId"`
	Title     string          `json:"title"`
	Price     decimal.Decimal `json:"price"`
	Size      string          `json:"size"`
	Quantity  int             `json:"quantity"`
	Image     string          `json:"image,omitempty"`
}

// Address is the shipping destination captured with the order.
type Address struct {
	Line1   string `json:"line1"`
	Line2   string `json:"line2,omitempty"`
	City    string `json:"city"`
	State   string `json:"state"`
	Zip     string `json:"zip"`
	Country string `json:"country"`
}

// Order is a placed customer order.
type Order struct {
	ID        string
	UserID    string
	Status    Status
	Amount    decimal.Decimal
	Shipping  Address
	Items     []Item
	CreatedAt time.Time
}

// Repository defines persistence operations for orders.
type Repository interface {
	// Create persists the order in one transaction: it decrements stock for
	// every item (failing with InsufficientStockError when any line cannot be
	// satisfied), inserts the order, and clears the cart rows for clearOwner.
	Create(ctx context.Context, o *Order, clearOwner string) error
	// ListByUser returns the user's orders, newest first.
	ListByUser(ctx context.Context, userID string) ([]Order, error)
}
