// Copyright 2025 GridTokenX
//
// Meter Repository - certified meter registration and status.

package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

type MeterRepository struct {
	client *Client
}

func NewMeterRepository(client *Client) *MeterRepository {
	return &MeterRepository{client: client}
}

func (r *MeterRepository) Create(ctx context.Context, m *Meter) error {
	if m.Status == "" {
		m.Status = MeterPending
	}
	query := `
		INSERT INTO meters (serial, user_id, public_key_hash, type, status, zone)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.client.ExecContext(ctx, query, m.Serial, m.UserID, m.PublicKeyHash, m.Type, m.Status, m.Zone)
	if err != nil {
		return fmt.Errorf("create meter: %w", err)
	}
	return nil
}

func (r *MeterRepository) Get(ctx context.Context, serial string) (*Meter, error) {
	query := `SELECT serial, user_id, public_key_hash, type, status, zone FROM meters WHERE serial = $1`
	m := &Meter{}
	err := r.client.QueryRowContext(ctx, query, serial).Scan(&m.Serial, &m.UserID, &m.PublicKeyHash, &m.Type, &m.Status, &m.Zone)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("meter %s: %w", serial, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get meter: %w", err)
	}
	return m, nil
}

// IsVerified reports whether a meter is eligible to back a REC issuance
// (settlement step 4).
func (r *MeterRepository) IsVerified(ctx context.Context, serial string) (bool, error) {
	m, err := r.Get(ctx, serial)
	if err != nil {
		return false, err
	}
	return m.Status == MeterVerified, nil
}

// GetByUser returns the registered meter for a user, if any. A sell order
// carries no meter reference of its own; the settlement coordinator uses
// this to decide whether the seller's energy qualifies for REC issuance.
func (r *MeterRepository) GetByUser(ctx context.Context, userID uuid.UUID) (*Meter, error) {
	query := `SELECT serial, user_id, public_key_hash, type, status, zone FROM meters WHERE user_id = $1 LIMIT 1`
	m := &Meter{}
	err := r.client.QueryRowContext(ctx, query, userID).Scan(&m.Serial, &m.UserID, &m.PublicKeyHash, &m.Type, &m.Status, &m.Zone)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get meter by user: %w", err)
	}
	return m, nil
}
