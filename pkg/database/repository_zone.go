// Copyright 2025 GridTokenX
//
// Zone Rate Repository - wheeling/loss lookup by (from_zone, to_zone, instant).

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type ZoneRepository struct {
	client *Client
}

func NewZoneRepository(client *Client) *ZoneRepository {
	return &ZoneRepository{client: client}
}

// Resolve returns the unique active row for the corridor at instant, or
// ErrZoneNotFound if no row covers it (the caller maps this to
// apperrors' UnknownCorridor).
func (r *ZoneRepository) Resolve(ctx context.Context, fromZone, toZone string, instant time.Time) (*ZoneRate, error) {
	query := `
		SELECT id, from_zone, to_zone, wheeling_rate, loss_factor, active_from, active_to, is_active
		FROM zone_rates
		WHERE from_zone = $1 AND to_zone = $2 AND is_active
			AND active_from <= $3 AND (active_to IS NULL OR active_to > $3)`
	z := &ZoneRate{}
	err := r.client.QueryRowContext(ctx, query, fromZone, toZone, instant).Scan(
		&z.ID, &z.FromZone, &z.ToZone, &z.WheelingRate, &z.LossFactor, &z.ActiveFrom, &z.ActiveTo, &z.IsActive)
	if err == sql.ErrNoRows {
		return nil, ErrZoneNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolve zone rate: %w", err)
	}
	return z, nil
}

func (r *ZoneRepository) Create(ctx context.Context, z *ZoneRate) error {
	z.ID = uuid.New()
	query := `
		INSERT INTO zone_rates (id, from_zone, to_zone, wheeling_rate, loss_factor, active_from, active_to, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.client.ExecContext(ctx, query, z.ID, z.FromZone, z.ToZone, z.WheelingRate,
		z.LossFactor, z.ActiveFrom, z.ActiveTo, z.IsActive)
	if err != nil {
		return fmt.Errorf("create zone rate: %w", err)
	}
	return nil
}
