package wishlist

import "context"

// Repository defines persistence for per-identity favorite sets. All
// operations have set semantics: duplicate adds and absent removes are no-ops.
type Repository interface {
	List(ctx context.Context, owner string) ([]string, error)
	Add(ctx context.Context, owner, productID string) error
	Remove(ctx context.Context, owner, productID string) error
	Clear(ctx context.Context, owner string) error
	// MergeInto folds the guest wishlist into the user's, then deletes the
	// guest rows. Idempotent per (guestID, userID).
	MergeInto(ctx context.Context, guestID, userID string) (merged bool, err error)
}
