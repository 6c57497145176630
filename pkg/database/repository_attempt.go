// Copyright 2025 GridTokenX
//
// Transaction Attempt Repository - the idempotency ledger. Grounded on the
// teacher's repository_batch.go INSERT ... RETURNING idiom, with the
// unique (operation_type, operation_id) index surfacing as ErrDuplicateAttempt
// on a conflicting insert rather than a generic constraint error.

package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type TransactionAttemptRepository struct {
	client *Client
}

func NewTransactionAttemptRepository(client *Client) *TransactionAttemptRepository {
	return &TransactionAttemptRepository{client: client}
}

// Create inserts the first attempt row for (operationType, operationID). A
// second call for the same pair at this state means a duplicate submission
// slipped through the coordinator and is rejected.
func (r *TransactionAttemptRepository) Create(ctx context.Context, operationType, operationID, payloadFingerprint string) (*TransactionAttempt, error) {
	a := &TransactionAttempt{
		ID:                 uuid.New(),
		OperationType:      operationType,
		OperationID:        operationID,
		PayloadFingerprint: payloadFingerprint,
		State:              AttemptCreated,
		Attempts:           1,
		CreatedAt:          time.Now(),
	}
	query := `
		INSERT INTO transaction_attempts (id, operation_type, operation_id, payload_fingerprint, state, attempts, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.client.ExecContext(ctx, query, a.ID, a.OperationType, a.OperationID,
		a.PayloadFingerprint, a.State, a.Attempts, a.CreatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return nil, ErrDuplicateAttempt
		}
		return nil, fmt.Errorf("create transaction attempt: %w", err)
	}
	return a, nil
}

// Get fetches the attempt row for (operationType, operationID), the lookup
// a retried settlement step performs before deciding whether to resubmit
// or poll.
func (r *TransactionAttemptRepository) Get(ctx context.Context, operationType, operationID string) (*TransactionAttempt, error) {
	query := `
		SELECT id, operation_type, operation_id, payload_fingerprint, state, external_signature, attempts, created_at, last_error
		FROM transaction_attempts WHERE operation_type = $1 AND operation_id = $2`
	a := &TransactionAttempt{}
	err := r.client.QueryRowContext(ctx, query, operationType, operationID).Scan(
		&a.ID, &a.OperationType, &a.OperationID, &a.PayloadFingerprint, &a.State,
		&a.ExternalSignature, &a.Attempts, &a.CreatedAt, &a.LastError)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction attempt: %w", err)
	}
	return a, nil
}

// MarkSubmitting records intent to submit before the RPC call is made, so
// a crash between this write and the call is recoverable (the next
// attempt sees state=submitted with no signature and knows to retry the
// submission rather than assume it happened). Ordering guarantee (iv).
func (r *TransactionAttemptRepository) MarkSubmitting(ctx context.Context, id uuid.UUID) error {
	_, err := r.client.ExecContext(ctx, `UPDATE transaction_attempts SET state = $2 WHERE id = $1`, id, AttemptSubmitted)
	return err
}

// AdvanceSubmitted records that the on-chain call was made and its
// signature, so a crash after submission is recoverable by polling that
// signature. It is written after the RPC call returns; MarkSubmitting is
// the write that precedes the call.
func (r *TransactionAttemptRepository) AdvanceSubmitted(ctx context.Context, id uuid.UUID, externalSignature string) error {
	_, err := r.client.ExecContext(ctx,
		`UPDATE transaction_attempts SET state = $2, external_signature = $3 WHERE id = $1`,
		id, AttemptSubmitted, externalSignature)
	return err
}

func (r *TransactionAttemptRepository) AdvanceConfirmed(ctx context.Context, id uuid.UUID) error {
	_, err := r.client.ExecContext(ctx, `UPDATE transaction_attempts SET state = $2 WHERE id = $1`, id, AttemptConfirmed)
	return err
}

func (r *TransactionAttemptRepository) RecordFailure(ctx context.Context, id uuid.UUID, errMsg string) error {
	_, err := r.client.ExecContext(ctx,
		`UPDATE transaction_attempts SET state = $2, attempts = attempts + 1, last_error = $3 WHERE id = $1`,
		id, AttemptFailed, errMsg)
	return err
}
