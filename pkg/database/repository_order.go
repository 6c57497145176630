// Copyright 2025 GridTokenX
//
// Order Repository - trading_orders CRUD and fill-state updates.

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gridtokenx/apigateway-core/pkg/money"
)

type OrderRepository struct {
	client *Client
}

func NewOrderRepository(client *Client) *OrderRepository {
	return &OrderRepository{client: client}
}

const orderSelectQuery = `
	SELECT id, user_id, epoch_id, side, kind, energy_amount, price, filled_amount,
		status, expires_at, zone, created_at
	FROM trading_orders`

func (r *OrderRepository) scanOne(row *sql.Row) (*Order, error) {
	o := &Order{}
	err := row.Scan(&o.ID, &o.UserID, &o.EpochID, &o.Side, &o.Kind, &o.EnergyAmount,
		&o.PricePerKWh, &o.FilledAmount, &o.Status, &o.ExpiresAt, &o.Zone, &o.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan order: %w", err)
	}
	return o, nil
}

func (r *OrderRepository) scanRows(rows *sql.Rows) ([]*Order, error) {
	var orders []*Order
	for rows.Next() {
		o := &Order{}
		if err := rows.Scan(&o.ID, &o.UserID, &o.EpochID, &o.Side, &o.Kind, &o.EnergyAmount,
			&o.PricePerKWh, &o.FilledAmount, &o.Status, &o.ExpiresAt, &o.Zone, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (r *OrderRepository) Get(ctx context.Context, id uuid.UUID) (*Order, error) {
	query := orderSelectQuery + ` WHERE id = $1`
	return r.scanOne(r.client.QueryRowContext(ctx, query, id))
}

// CreateTx inserts a new order row within tx, so it commits atomically with
// the escrow lock that accompanies it.
func (r *OrderRepository) CreateTx(ctx context.Context, tx *sql.Tx, o *Order) error {
	o.ID = uuid.New()
	o.CreatedAt = time.Now()
	o.FilledAmount = money.Zero
	if o.Status == "" {
		o.Status = OrderPending
	}
	query := `
		INSERT INTO trading_orders (id, user_id, epoch_id, side, kind, energy_amount,
			price, filled_amount, status, expires_at, zone, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := tx.ExecContext(ctx, query, o.ID, o.UserID, o.EpochID, o.Side, o.Kind,
		o.EnergyAmount, o.PricePerKWh, o.FilledAmount, o.Status, o.ExpiresAt, o.Zone, o.CreatedAt)
	if err != nil {
		return fmt.Errorf("create order: %w", err)
	}
	return nil
}

// ListOpenForEpoch returns every pending/partially_filled order for an
// epoch, used to repopulate the in-memory book on epoch activation.
func (r *OrderRepository) ListOpenForEpoch(ctx context.Context, epochID uuid.UUID) ([]*Order, error) {
	query := orderSelectQuery + ` WHERE epoch_id = $1 AND status IN ('pending', 'partially_filled') ORDER BY created_at`
	rows, err := r.client.QueryContext(ctx, query, epochID)
	if err != nil {
		return nil, fmt.Errorf("list open orders: %w", err)
	}
	defer rows.Close()
	return r.scanRows(rows)
}

// ListExpiring returns open orders whose expires_at has passed, so a
// scheduler sweep can expire them.
func (r *OrderRepository) ListExpiring(ctx context.Context, now time.Time) ([]*Order, error) {
	query := orderSelectQuery + ` WHERE status IN ('pending', 'partially_filled') AND expires_at <= $1`
	rows, err := r.client.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("list expiring orders: %w", err)
	}
	defer rows.Close()
	return r.scanRows(rows)
}

func (r *OrderRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*Order, error) {
	query := orderSelectQuery + ` WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`
	rows, err := r.client.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list user orders: %w", err)
	}
	defer rows.Close()
	return r.scanRows(rows)
}

// UpdateFillTx records a (partial or full) fill within tx.
func (r *OrderRepository) UpdateFillTx(ctx context.Context, tx *sql.Tx, id uuid.UUID, filledAmount money.Amount, status OrderStatus) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE trading_orders SET filled_amount = $2, status = $3 WHERE id = $1`,
		id, filledAmount, status)
	if err != nil {
		return fmt.Errorf("update order fill: %w", err)
	}
	return nil
}

// UpdateStatus transitions status outside of a matching transaction
// (cancellation, expiry).
func (r *OrderRepository) UpdateStatus(ctx context.Context, tx *sql.Tx, id uuid.UUID, status OrderStatus) error {
	_, err := tx.ExecContext(ctx, `UPDATE trading_orders SET status = $2 WHERE id = $1`, id, status)
	return err
}
