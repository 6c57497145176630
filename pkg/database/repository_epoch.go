// Copyright 2025 GridTokenX
//
// Epoch Repository - create-or-fetch by epoch_number, lifecycle updates.

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gridtokenx/apigateway-core/pkg/money"
)

type EpochRepository struct {
	client *Client
}

func NewEpochRepository(client *Client) *EpochRepository {
	return &EpochRepository{client: client}
}

const epochSelectQuery = `
	SELECT id, epoch_number, start, "end", status, clearing_price, total_volume,
		total_orders, matched_orders
	FROM market_epochs`

func (r *EpochRepository) scanOne(row *sql.Row) (*Epoch, error) {
	e := &Epoch{}
	err := row.Scan(&e.ID, &e.EpochNumber, &e.Start, &e.End, &e.Status,
		&e.ClearingPrice, &e.TotalVolume, &e.TotalOrders, &e.MatchedOrders)
	if err == sql.ErrNoRows {
		return nil, ErrEpochNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan epoch: %w", err)
	}
	return e, nil
}

func (r *EpochRepository) GetByNumber(ctx context.Context, epochNumber int64) (*Epoch, error) {
	query := epochSelectQuery + ` WHERE epoch_number = $1`
	return r.scanOne(r.client.QueryRowContext(ctx, query, epochNumber))
}

func (r *EpochRepository) Get(ctx context.Context, id uuid.UUID) (*Epoch, error) {
	query := epochSelectQuery + ` WHERE id = $1`
	return r.scanOne(r.client.QueryRowContext(ctx, query, id))
}

// CreatePending inserts a new pending epoch row for epochNumber spanning
// [start, end).
func (r *EpochRepository) CreatePending(ctx context.Context, epochNumber int64, start, end time.Time) (*Epoch, error) {
	e := &Epoch{
		ID:          uuid.New(),
		EpochNumber: epochNumber,
		Start:       start,
		End:         end,
		Status:      EpochPending,
	}
	query := `
		INSERT INTO market_epochs (id, epoch_number, start, "end", status)
		VALUES ($1, $2, $3, $4, $5)`
	if _, err := r.client.ExecContext(ctx, query, e.ID, e.EpochNumber, e.Start, e.End, e.Status); err != nil {
		return nil, fmt.Errorf("create epoch: %w", err)
	}
	return e, nil
}

func (r *EpochRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status EpochStatus) error {
	_, err := r.client.ExecContext(ctx, `UPDATE market_epochs SET status = $2 WHERE id = $1`, id, status)
	return err
}

// SetClearingStats is called once by the matching engine after a batch run.
func (r *EpochRepository) SetClearingStats(ctx context.Context, id uuid.UUID, clearingPrice *money.Amount, totalVolume money.Amount, totalOrders, matchedOrders int) error {
	query := `
		UPDATE market_epochs
		SET clearing_price = $2, total_volume = $3, total_orders = $4, matched_orders = $5, status = 'cleared'
		WHERE id = $1`
	_, err := r.client.ExecContext(ctx, query, id, clearingPrice, totalVolume, totalOrders, matchedOrders)
	return err
}
