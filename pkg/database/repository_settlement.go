// Copyright 2025 GridTokenX
//
// Settlement Repository - per-match state machine row, plus the sweep
// query the settlement coordinator polls (status index).

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gridtokenx/apigateway-core/pkg/money"
)

type SettlementRepository struct {
	client *Client
}

func NewSettlementRepository(client *Client) *SettlementRepository {
	return &SettlementRepository{client: client}
}

const settlementSelectQuery = `
	SELECT id, match_id, buyer_id, seller_id, energy_amount, price, gross, fee, wheeling,
		loss_cost, loss_factor, effective_energy, buyer_zone, seller_zone, net, status, state,
		attempts, last_error, external_signature, created_at, updated_at
	FROM settlements`

func (r *SettlementRepository) scanOne(row *sql.Row) (*Settlement, error) {
	s := &Settlement{}
	err := row.Scan(&s.ID, &s.MatchID, &s.BuyerID, &s.SellerID, &s.EnergyAmount, &s.Price,
		&s.Gross, &s.Fee, &s.Wheeling, &s.LossCost, &s.LossFactor, &s.EffectiveEnergy,
		&s.BuyerZone, &s.SellerZone, &s.Net, &s.Status, &s.State, &s.Attempts, &s.LastError,
		&s.ExternalSignature, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrSettlementNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan settlement: %w", err)
	}
	return s, nil
}

func (r *SettlementRepository) Get(ctx context.Context, id uuid.UUID) (*Settlement, error) {
	query := settlementSelectQuery + ` WHERE id = $1`
	return r.scanOne(r.client.QueryRowContext(ctx, query, id))
}

// CreateTx inserts a new settlement row in state Pending, atomically with
// the match row it belongs to (matching engine's step 3).
func (r *SettlementRepository) CreateTx(ctx context.Context, tx *sql.Tx, s *Settlement) error {
	s.ID = uuid.New()
	s.Status = SettlementPending
	s.State = StatePending
	s.CreatedAt = time.Now()
	s.UpdatedAt = s.CreatedAt
	query := `
		INSERT INTO settlements (id, match_id, buyer_id, seller_id, energy_amount, price, gross,
			fee, wheeling, loss_cost, loss_factor, effective_energy, buyer_zone, seller_zone, net,
			status, state, attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, 0, $18, $18)`
	_, err := tx.ExecContext(ctx, query, s.ID, s.MatchID, s.BuyerID, s.SellerID, s.EnergyAmount,
		s.Price, s.Gross, s.Fee, s.Wheeling, s.LossCost, s.LossFactor, s.EffectiveEnergy,
		s.BuyerZone, s.SellerZone, s.Net, s.Status, s.State, s.CreatedAt)
	if err != nil {
		return fmt.Errorf("create settlement: %w", err)
	}
	return nil
}

// PersistComputed writes the coordinator's step-1 output (zone-derived
// fee/wheeling/loss figures) and advances state to Escrowed in one
// statement, so the computation and the state advance commit together.
func (r *SettlementRepository) PersistComputed(ctx context.Context, tx *sql.Tx, id uuid.UUID, gross, fee, wheeling, lossCost, lossFactor, effectiveEnergy, net money.Amount, buyerZone, sellerZone *string) error {
	query := `
		UPDATE settlements SET gross = $2, fee = $3, wheeling = $4, loss_cost = $5, loss_factor = $6,
			effective_energy = $7, net = $8, buyer_zone = $9, seller_zone = $10, state = $11, updated_at = now()
		WHERE id = $1`
	_, err := tx.ExecContext(ctx, query, id, gross, fee, wheeling, lossCost, lossFactor,
		effectiveEnergy, net, buyerZone, sellerZone, StateEscrowed)
	if err != nil {
		return fmt.Errorf("persist computed settlement fields: %w", err)
	}
	return nil
}

// AdvanceState moves the settlement to newState, recording progress. Used
// by every successful coordinator step.
func (r *SettlementRepository) AdvanceState(ctx context.Context, tx *sql.Tx, id uuid.UUID, newState SettlementState, externalSignature *string) error {
	query := `
		UPDATE settlements SET state = $2, external_signature = COALESCE($3, external_signature), updated_at = now()
		WHERE id = $1`
	_, err := tx.ExecContext(ctx, query, id, newState, externalSignature)
	return err
}

// RecordFailure increments attempts, stores last_error, and optionally
// moves the coarse status to failed (terminal) or leaves it in_flight for
// the next retry.
func (r *SettlementRepository) RecordFailure(ctx context.Context, id uuid.UUID, errMsg string, terminal bool) error {
	status := SettlementInFlight
	if terminal {
		status = SettlementFailed
	}
	query := `
		UPDATE settlements SET attempts = attempts + 1, last_error = $2, status = $3, updated_at = now()
		WHERE id = $1`
	_, err := r.client.ExecContext(ctx, query, id, errMsg, status)
	return err
}

func (r *SettlementRepository) MarkSucceeded(ctx context.Context, id uuid.UUID) error {
	_, err := r.client.ExecContext(ctx,
		`UPDATE settlements SET status = $2, state = $3, updated_at = now() WHERE id = $1`,
		id, SettlementSucceeded, StateNotifiedSettled)
	return err
}

func (r *SettlementRepository) MarkInFlight(ctx context.Context, id uuid.UUID) error {
	_, err := r.client.ExecContext(ctx, `UPDATE settlements SET status = $2, updated_at = now() WHERE id = $1`,
		id, SettlementInFlight)
	return err
}

// ListPending returns the sweep's working set: every non-terminal
// settlement, oldest first, bounded by limit.
func (r *SettlementRepository) ListPending(ctx context.Context, limit int) ([]*Settlement, error) {
	query := settlementSelectQuery + ` WHERE status IN ('pending', 'in_flight') ORDER BY created_at LIMIT $1`
	rows, err := r.client.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending settlements: %w", err)
	}
	defer rows.Close()

	var out []*Settlement
	for rows.Next() {
		s := &Settlement{}
		if err := rows.Scan(&s.ID, &s.MatchID, &s.BuyerID, &s.SellerID, &s.EnergyAmount, &s.Price,
			&s.Gross, &s.Fee, &s.Wheeling, &s.LossCost, &s.LossFactor, &s.EffectiveEnergy,
			&s.BuyerZone, &s.SellerZone, &s.Net, &s.Status, &s.State, &s.Attempts, &s.LastError,
			&s.ExternalSignature, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan pending settlement: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
