// Copyright 2025 GridTokenX
//
// Wallet Export Rate Limit Repository - one row per user tracking the last
// successful export, enforcing the spec's one-per-hour policy.

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type WalletLimitRepository struct {
	client *Client
}

func NewWalletLimitRepository(client *Client) *WalletLimitRepository {
	return &WalletLimitRepository{client: client}
}

func (r *WalletLimitRepository) Get(ctx context.Context, userID uuid.UUID) (*WalletExportRateLimit, error) {
	query := `SELECT user_id, last_export, count FROM wallet_export_rate_limit WHERE user_id = $1`
	lim := &WalletExportRateLimit{}
	err := r.client.QueryRowContext(ctx, query, userID).Scan(&lim.UserID, &lim.LastExport, &lim.Count)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get wallet export limit: %w", err)
	}
	return lim, nil
}

// RecordExport upserts the rate-limit row to now with count incremented.
func (r *WalletLimitRepository) RecordExport(ctx context.Context, userID uuid.UUID, at time.Time) error {
	query := `
		INSERT INTO wallet_export_rate_limit (user_id, last_export, count)
		VALUES ($1, $2, 1)
		ON CONFLICT (user_id) DO UPDATE SET last_export = $2, count = wallet_export_rate_limit.count + 1`
	_, err := r.client.ExecContext(ctx, query, userID, at)
	if err != nil {
		return fmt.Errorf("record wallet export: %w", err)
	}
	return nil
}
