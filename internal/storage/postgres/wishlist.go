package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/unwindlabs/storefront/internal/domain/cart"
	"github.com/unwindlabs/storefront/internal/domain/wishlist"
)

const (
	listWishlistSQL = `SELECT product_id FROM wishlist_items WHERE owner = $1 ORDER BY added_at`

	addWishlistSQL = `INSERT INTO wishlist_items (owner, product_id)
		VALUES ($1, $2) ON CONFLICT DO NOTHING`

	removeWishlistSQL = `DELETE FROM wishlist_items WHERE owner = $1 AND product_id = $2`

	clearWishlistSQL = `DELETE FROM wishlist_items WHERE owner = $1`

	claimWishlistMergeSQL = `INSERT INTO wishlist_merges (guest_id, user_id)
		VALUES ($1, $2) ON CONFLICT DO NOTHING`

	mergeWishlistSQL = `INSERT INTO wishlist_items (owner, product_id)
		SELECT $2, product_id FROM wishlist_items WHERE owner = $1
		ON CONFLICT DO NOTHING`
)

var _ wishlist.Repository = (*WishlistRepository)(nil)

// WishlistRepository implements wishlist.Repository backed by PostgreSQL.
type WishlistRepository struct {
	pool *pgxpool.Pool
}

// NewWishlistRepository returns a WishlistRepository that uses the given pool.
func NewWishlistRepository(pool *pgxpool.Pool) *WishlistRepository {
	return &WishlistRepository{pool: pool}
}

func (r *WishlistRepository) List(ctx context.Context, owner string) ([]string, error) {
	rows, err := r.pool.Query(ctx, listWishlistSQL, owner)
	if err != nil {
		return nil, fmt.Errorf("listing wishlist %q: %w", owner, err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (r *WishlistRepository) Add(ctx context.Context, owner, productID string) error {
	_, err := r.pool.Exec(ctx, addWishlistSQL, owner, productID)
	if err != nil {
		return fmt.Errorf("adding wishlist entry: %w", err)
	}
	return nil
}

func (r *WishlistRepository) Remove(ctx context.Context, owner, productID string) error {
	_, err := r.pool.Exec(ctx, removeWishlistSQL, owner, productID)
	if err != nil {
		return fmt.Errorf("removing wishlist entry: %w", err)
	}
	return nil
}

func (r *WishlistRepository) Clear(ctx context.Context, owner string) error {
	_, err := r.pool.Exec(ctx, clearWishlistSQL, owner)
	if err != nil {
		return fmt.Errorf("clearing wishlist %q: %w", owner, err)
	}
	return nil
}

// MergeInto mirrors CartRepository.MergeInto with set semantics: duplicate
// entries collapse instead of summing.
func (r *WishlistRepository) MergeInto(ctx context.Context, guestID, userID string) (bool, error) {
	guestOwner := cart.GuestOwner(guestID).Key()
	userOwner := cart.UserOwner(userID).Key()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("beginning merge: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, claimWishlistMergeSQL, guestID, userID)
	if err != nil {
		return false, fmt.Errorf("claiming merge: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	if _, err := tx.Exec(ctx, mergeWishlistSQL, guestOwner, userOwner); err != nil {
		return false, fmt.Errorf("merging wishlist: %w", err)
	}
	if _, err := tx.Exec(ctx, clearWishlistSQL, guestOwner); err != nil {
		return false, fmt.Errorf("deleting guest wishlist: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("committing merge: %w", err)
	}
	return true, nil
}
