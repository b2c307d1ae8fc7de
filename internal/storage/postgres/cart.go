package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/unwindlabs/storefront/internal/domain/cart"
)

const (
	listCartSQL = `SELECT product_id, size, quantity FROM cart_items
		WHERE owner = $1 ORDER BY added_at, product_id, size`

	upsertCartLineSQL = `INSERT INTO cart_items (owner, product_id, size, quantity)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (owner, product_id, size)
		DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity`

	setCartQuantitySQL = `INSERT INTO cart_items (owner, product_id, size, quantity)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (owner, product_id, size)
		DO UPDATE SET quantity = EXCLUDED.quantity`

	removeCartLineSQL = `DELETE FROM cart_items WHERE owner = $1 AND product_id = $2 AND size = $3`

	clearCartSQL = `DELETE FROM cart_items WHERE owner = $1`

	claimCartMergeSQL = `INSERT INTO cart_merges (guest_id, user_id)
		VALUES ($1, $2) ON CONFLICT DO NOTHING`

	mergeCartItemsSQL = `INSERT INTO cart_items (owner, product_id, size, quantity)
		SELECT $2, product_id, size, quantity FROM cart_items WHERE owner = $1
		ON CONFLICT (owner, product_id, size)
		DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity`
)

var _ cart.Repository = (*CartRepository)(nil)

// CartRepository implements cart.Repository backed by PostgreSQL. Duplicate
// (product, size) handling lives in the upsert statements so concurrent adds
// from retried requests cannot produce duplicate lines.
type CartRepository struct {
	pool *pgxpool.Pool
}

// NewCartRepository returns a CartRepository that uses the given pool.
func NewCartRepository(pool *pgxpool.Pool) *CartRepository {
	return &CartRepository{pool: pool}
}

func (r *CartRepository) List(ctx context.Context, owner string) ([]cart.Line, error) {
	rows, err := r.pool.Query(ctx, listCartSQL, owner)
	if err != nil {
		return nil, fmt.Errorf("listing cart %q: %w", owner, err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (cart.Line, error) {
		var l cart.Line
		err := row.Scan(&l.ProductID, &l.Size, &l.Quantity)
		return l, err
	})
}

func (r *CartRepository) Upsert(ctx context.Context, owner string, line cart.Line) error {
	_, err := r.pool.Exec(ctx, upsertCartLineSQL, owner, line.ProductID, line.Size, line.Quantity)
	if err != nil {
		return fmt.Errorf("upserting cart line: %w", err)
	}
	return nil
}

func (r *CartRepository) SetQuantity(ctx context.Context, owner string, line cart.Line) error {
	_, err := r.pool.Exec(ctx, setCartQuantitySQL, owner, line.ProductID, line.Size, line.Quantity)
	if err != nil {
		return fmt.Errorf("setting cart quantity: %w", err)
	}
	return nil
}

func (r *CartRepository) Remove(ctx context.Context, owner, productID, size string) error {
	_, err := r.pool.Exec(ctx, removeCartLineSQL, owner, productID, size)
	if err != nil {
		return fmt.Errorf("removing cart line: %w", err)
	}
	return nil
}

func (r *CartRepository) Clear(ctx context.Context, owner string) error {
	_, err := r.pool.Exec(ctx, clearCartSQL, owner)
	if err != nil {
		return fmt.Errorf("clearing cart %q: %w", owner, err)
	}
	return nil
}

// MergeInto folds the guest cart into the user cart in one transaction.
// The merge ledger row is claimed first; when the claim loses (the pair was
// merged before), nothing else runs and the call reports merged=false.
func (r *CartRepository) MergeInto(ctx context.Context, guestID, userID string) (bool, error) {
	guestOwner := cart.GuestOwner(guestID).Key()
	userOwner := cart.UserOwner(userID).Key()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("beginning merge: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, claimCartMergeSQL, guestID, userID)
	if err != nil {
		return false, fmt.Errorf("claiming merge: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	if _, err := tx.Exec(ctx, mergeCartItemsSQL, guestOwner, userOwner); err != nil {
		return false, fmt.Errorf("merging cart items: %w", err)
	}
	if _, err := tx.Exec(ctx, clearCartSQL, guestOwner); err != nil {
		return false, fmt.Errorf("deleting guest cart: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("committing merge: %w", err)
	}
	return true, nil
}
