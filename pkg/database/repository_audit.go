// Copyright 2025 GridTokenX
//
// Audit Repository - append-only security-relevant event log.

package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type AuditRepository struct {
	client *Client
}

func NewAuditRepository(client *Client) *AuditRepository {
	return &AuditRepository{client: client}
}

// Append inserts one audit row. Callers (pkg/audit) are responsible for
// treating failures as non-fatal.
func (r *AuditRepository) Append(ctx context.Context, e *AuditEvent) error {
	e.ID = uuid.New()
	e.CreatedAt = time.Now()
	if e.Details == nil {
		e.Details = []byte("{}")
	}
	query := `
		INSERT INTO audit_events (id, actor, kind, subject, ip, user_agent, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.client.ExecContext(ctx, query, e.ID, e.Actor, e.Kind, e.Subject, e.IP, e.UserAgent, e.Details, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

// AppendBatch inserts several rows in one round trip.
func (r *AuditRepository) AppendBatch(ctx context.Context, events []*AuditEvent) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := r.client.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin audit batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO audit_events (id, actor, kind, subject, ip, user_agent, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`)
	if err != nil {
		return fmt.Errorf("prepare audit batch: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		e.ID = uuid.New()
		e.CreatedAt = time.Now()
		if e.Details == nil {
			e.Details = []byte("{}")
		}
		if _, err := stmt.ExecContext(ctx, e.ID, e.Actor, e.Kind, e.Subject, e.IP, e.UserAgent, e.Details, e.CreatedAt); err != nil {
			return fmt.Errorf("append audit batch row: %w", err)
		}
	}

	return tx.Commit()
}
