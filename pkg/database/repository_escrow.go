// Copyright 2025 GridTokenX
//
// Escrow Repository - escrow_records CRUD, always called within a caller
// transaction that also touches the user balance and order row.

package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/gridtokenx/apigateway-core/pkg/money"
)

type EscrowRepository struct {
	client *Client
}

func NewEscrowRepository(client *Client) *EscrowRepository {
	return &EscrowRepository{client: client}
}

func (r *EscrowRepository) CreateTx(ctx context.Context, tx *sql.Tx, orderID uuid.UUID, asset EscrowAsset, amount money.Amount) (*EscrowRecord, error) {
	rec := &EscrowRecord{
		ID:      uuid.New(),
		OrderID: orderID,
		Asset:   asset,
		Amount:  amount,
		State:   EscrowLocked,
	}
	query := `INSERT INTO escrow_records (id, order_id, asset, amount, state) VALUES ($1, $2, $3, $4, $5)`
	if _, err := tx.ExecContext(ctx, query, rec.ID, rec.OrderID, rec.Asset, rec.Amount, rec.State); err != nil {
		return nil, fmt.Errorf("create escrow record: %w", err)
	}
	return rec, nil
}

func (r *EscrowRepository) ListForOrder(ctx context.Context, tx *sql.Tx, orderID uuid.UUID) ([]*EscrowRecord, error) {
	query := `SELECT id, order_id, asset, amount, state FROM escrow_records WHERE order_id = $1`
	rows, err := tx.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("list escrow records: %w", err)
	}
	defer rows.Close()

	var out []*EscrowRecord
	for rows.Next() {
		rec := &EscrowRecord{}
		if err := rows.Scan(&rec.ID, &rec.OrderID, &rec.Asset, &rec.Amount, &rec.State); err != nil {
			return nil, fmt.Errorf("scan escrow record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// TransitionTx moves an escrow record's state (locked -> released, or
// locked -> consumed), the only two legal transitions.
func (r *EscrowRepository) TransitionTx(ctx context.Context, tx *sql.Tx, id uuid.UUID, newState EscrowState) error {
	_, err := tx.ExecContext(ctx, `UPDATE escrow_records SET state = $2 WHERE id = $1 AND state = $3`,
		id, newState, EscrowLocked)
	if err != nil {
		return fmt.Errorf("transition escrow record: %w", err)
	}
	return nil
}
