// Copyright 2025 GridTokenX
//
// REC Certificate Repository - renewable energy certificate lifecycle.

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type RECRepository struct {
	client *Client
}

func NewRECRepository(client *Client) *RECRepository {
	return &RECRepository{client: client}
}

func (r *RECRepository) Create(ctx context.Context, cert *RECCertificate) error {
	cert.ID = uuid.New()
	cert.IssuedAt = time.Now()
	if cert.Status == "" {
		cert.Status = RECActive
	}
	if cert.Metadata == nil {
		cert.Metadata = []byte("{}")
	}
	query := `
		INSERT INTO erc_certificates (id, user_id, meter_serial, kwh_amount, source, issued_at,
			expires_at, status, on_chain_signature, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := r.client.ExecContext(ctx, query, cert.ID, cert.UserID, cert.MeterSerial, cert.KWhAmount,
		cert.Source, cert.IssuedAt, cert.ExpiresAt, cert.Status, cert.OnChainSignature, cert.Metadata)
	if err != nil {
		return fmt.Errorf("create rec certificate: %w", err)
	}
	return nil
}

const recSelectQuery = `
	SELECT id, user_id, meter_serial, kwh_amount, source, issued_at, expires_at,
		status, on_chain_signature, metadata
	FROM erc_certificates`

func (r *RECRepository) Get(ctx context.Context, id uuid.UUID) (*RECCertificate, error) {
	query := recSelectQuery + ` WHERE id = $1`
	cert := &RECCertificate{}
	err := r.client.QueryRowContext(ctx, query, id).Scan(&cert.ID, &cert.UserID, &cert.MeterSerial,
		&cert.KWhAmount, &cert.Source, &cert.IssuedAt, &cert.ExpiresAt, &cert.Status,
		&cert.OnChainSignature, &cert.Metadata)
	if err == sql.ErrNoRows {
		return nil, ErrRECCertificateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get rec certificate: %w", err)
	}
	return cert, nil
}

// Transition moves a certificate active -> transferred or active ->
// retired; both are terminal-ish, matching spec.md §3's lifecycle.
func (r *RECRepository) Transition(ctx context.Context, id uuid.UUID, newStatus RECStatus) error {
	_, err := r.client.ExecContext(ctx,
		`UPDATE erc_certificates SET status = $2 WHERE id = $1 AND status = $3`,
		id, newStatus, RECActive)
	if err != nil {
		return fmt.Errorf("transition rec certificate: %w", err)
	}
	return nil
}
