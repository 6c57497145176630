// Copyright 2025 GridTokenX
//
// Match Repository - order_matches CRUD.

package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

type MatchRepository struct {
	client *Client
}

func NewMatchRepository(client *Client) *MatchRepository {
	return &MatchRepository{client: client}
}

func (r *MatchRepository) CreateTx(ctx context.Context, tx *sql.Tx, m *Match) error {
	m.ID = uuid.New()
	query := `
		INSERT INTO order_matches (id, epoch_id, buy_order_id, sell_order_id, matched_amount, match_price, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := tx.ExecContext(ctx, query, m.ID, m.EpochID, m.BuyOrderID, m.SellOrderID,
		m.MatchedAmount, m.MatchPrice, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("create match: %w", err)
	}
	return nil
}

func (r *MatchRepository) Get(ctx context.Context, id uuid.UUID) (*Match, error) {
	query := `
		SELECT id, epoch_id, buy_order_id, sell_order_id, matched_amount, match_price, created_at, settlement_id
		FROM order_matches WHERE id = $1`
	m := &Match{}
	err := r.client.QueryRowContext(ctx, query, id).Scan(
		&m.ID, &m.EpochID, &m.BuyOrderID, &m.SellOrderID, &m.MatchedAmount, &m.MatchPrice,
		&m.CreatedAt, &m.SettlementID)
	if err == sql.ErrNoRows {
		return nil, ErrMatchNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get match: %w", err)
	}
	return m, nil
}

func (r *MatchRepository) SetSettlement(ctx context.Context, tx *sql.Tx, id, settlementID uuid.UUID) error {
	_, err := tx.ExecContext(ctx, `UPDATE order_matches SET settlement_id = $2 WHERE id = $1`, id, settlementID)
	return err
}

func (r *MatchRepository) ListForEpoch(ctx context.Context, epochID uuid.UUID) ([]*Match, error) {
	query := `
		SELECT id, epoch_id, buy_order_id, sell_order_id, matched_amount, match_price, created_at, settlement_id
		FROM order_matches WHERE epoch_id = $1 ORDER BY created_at`
	rows, err := r.client.QueryContext(ctx, query, epochID)
	if err != nil {
		return nil, fmt.Errorf("list epoch matches: %w", err)
	}
	defer rows.Close()

	var out []*Match
	for rows.Next() {
		m := &Match{}
		if err := rows.Scan(&m.ID, &m.EpochID, &m.BuyOrderID, &m.SellOrderID, &m.MatchedAmount,
			&m.MatchPrice, &m.CreatedAt, &m.SettlementID); err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
