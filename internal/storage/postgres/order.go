package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/unwindlabs/storefront/internal/domain/order"
)

const (
	decrementStockSQL = `UPDATE product_variants SET stock = stock - $3
		WHERE product_id = $1 AND size = $2 AND stock >= $3`

	insertOrderSQL = `INSERT INTO orders (id, user_id, status, amount, shipping_address, items)
		VALUES ($1, $2, $3, $4, $5, $6)`

	listOrdersSQL = `SELECT id, user_id, status, amount, shipping_address, items, created_at
		FROM orders WHERE user_id = $1 ORDER BY created_at DESC`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL. Items and
// the shipping address are serialized to JSONB columns; the items column is
// the immutable snapshot, never joined back to the products table.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create commits the order in a single transaction: stock decrements, the
// order row, and the cart cleanup either all land or none do. No partial
// orders exist after a failure.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order, clearOwner string) error {
	itemsJSON, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("marshaling order items: %w", err)
	}
	shippingJSON, err := json.Marshal(o.Shipping)
	if err != nil {
		return fmt.Errorf("marshaling shipping address: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning order: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, item := range o.Items {
		tag, err := tx.Exec(ctx, decrementStockSQL, item.ProductID, item.Size, item.Quantity)
		if err != nil {
			return fmt.Errorf("decrementing stock: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return &order.InsufficientStockError{ProductID: item.ProductID, Size: item.Size}
		}
	}

	_, err = tx.Exec(ctx, insertOrderSQL,
		o.ID, o.UserID, string(o.Status), o.Amount, shippingJSON, itemsJSON)
	if err != nil {
		return fmt.Errorf("inserting order %q: %w", o.ID, err)
	}

	if _, err := tx.Exec(ctx, clearCartSQL, clearOwner); err != nil {
		return fmt.Errorf("clearing cart after order: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing order %q: %w", o.ID, err)
	}
	return nil
}

// ListByUser returns the user's orders, newest first.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, listOrdersSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("listing orders for %q: %w", userID, err)
	}
	return pgx.CollectRows(rows, scanOrder)
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o            order.Order
		status       string
		shippingJSON []byte
		itemsJSON    []byte
	)
	if err := row.Scan(&o.ID, &o.UserID, &status, &o.Amount, &shippingJSON, &itemsJSON, &o.CreatedAt); err != nil {
		return o, err
	}
	o.Status = order.Status(status)
	if err := json.Unmarshal(shippingJSON, &o.Shipping); err != nil {
		return o, fmt.Errorf("unmarshaling shipping address: %w", err)
	}
	if err := json.Unmarshal(itemsJSON, &o.Items); err != nil {
		return o, fmt.Errorf("unmarshaling order items: %w", err)
	}
	return o, nil
}
