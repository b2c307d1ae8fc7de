package cart

import (
	"context"

	"github.com/go-faster/errors"
)

// Sentinel errors for cart validation.
var (
	ErrMissingSize     = errors.New("size is required")
	ErrInvalidQuantity = errors.New("quantity must be greater than 0")
)

// UnknownSizeError indicates the requested size is not one of the product's
// known sizes.
type UnknownSizeError struct {
	ProductID string
	Size      string
}

func (e *UnknownSizeError) Error() string {
	return "unknown size " + e.Size + " for product " + e.ProductID
}

// OutOfStockError indicates the requested size has no remaining stock.
type OutOfStockError struct {
	ProductID string
	Size      string
}

func (e *OutOfStockError) Error() string {
	return "size " + e.Size + " of product " + e.ProductID + " is out of stock"
}

// OwnerKind distinguishes guest carts from authenticated user carts.
type OwnerKind string

const (
	OwnerGuest OwnerKind = "guest"
	OwnerUser  OwnerKind = "user"
)

// Owner identifies whose cart an operation targets. Exactly one cart is live
// per identity.
type Owner struct {
	Kind OwnerKind
	ID   string
}

// GuestOwner returns the Owner for a device-local guest identity.
func GuestOwner(guestID string) Owner {
	return Owner{Kind: OwnerGuest, ID: guestID}
}

// UserOwner returns the Owner for an authenticated user identity.
func UserOwner(userID string) Owner {
	return Owner{Kind: OwnerUser, ID: userID}
}

// Key returns the storage key for this owner, e.g. "guest:d81f..." .
func (o Owner) Key() string {
	return string(o.Kind) + ":" + o.ID
}

// IsUser reports whether the owner is an authenticated user.
func (o Owner) IsUser() bool {
	return o.Kind == OwnerUser
}

// Line is one product+size+quantity entry in a cart. At most one line exists
// per (product, size) pair within one cart.
type Line struct {
	ProductID string
	Size      string
	Quantity  int
}

// Repository defines persistence operations for cart lines.
type Repository interface {
	List(ctx context.Context, owner string) ([]Line, error)
	// Upsert inserts the line or, when a line for the same (product, size)
	// pair exists, increments its quantity by line.Quantity.
	Upsert(ctx context.Context, owner string, line Line) error
	// SetQuantity inserts the line or replaces the existing quantity with
	// line.Quantity.
	SetQuantity(ctx context.Context, owner string, line Line) error
	// Remove deletes the line if present. Removing an absent line is not an
	// error.
	Remove(ctx context.Context, owner, productID, size string) error
	Clear(ctx context.Context, owner string) error
	// MergeInto folds the guest cart into the user cart, summing quantities
	// for duplicate (product, size) pairs, then deletes the guest rows.
	// It is idempotent per (guestID, userID): a repeated merge reports
	// merged=false and changes nothing.
	MergeInto(ctx context.Context, guestID, userID string) (merged bool, err error)
}
