// Copyright 2025 GridTokenX
//
// Key Version Repository - the versioned master-secret commitment table
// backing pkg/wallet's rotation/rollback.

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type KeyVersionRepository struct {
	client *Client
}

func NewKeyVersionRepository(client *Client) *KeyVersionRepository {
	return &KeyVersionRepository{client: client}
}

func (r *KeyVersionRepository) GetActive(ctx context.Context) (*MasterKeyVersion, error) {
	query := `SELECT version, key_hash, is_active, activated_at, rotated_at FROM encryption_keys WHERE is_active`
	return r.scanOne(r.client.QueryRowContext(ctx, query))
}

func (r *KeyVersionRepository) Get(ctx context.Context, version int) (*MasterKeyVersion, error) {
	query := `SELECT version, key_hash, is_active, activated_at, rotated_at FROM encryption_keys WHERE version = $1`
	return r.scanOne(r.client.QueryRowContext(ctx, query, version))
}

func (r *KeyVersionRepository) scanOne(row *sql.Row) (*MasterKeyVersion, error) {
	v := &MasterKeyVersion{}
	err := row.Scan(&v.Version, &v.KeyHash, &v.IsActive, &v.ActivatedAt, &v.RotatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrKeyVersionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan key version: %w", err)
	}
	return v, nil
}

// ExecTx inserts a new key-version row within tx, used by rotation before
// re-encrypting any user.
func (r *KeyVersionRepository) ExecTx(ctx context.Context, tx Execer, version int, keyHash []byte) error {
	query := `
		INSERT INTO encryption_keys (version, key_hash, is_active, activated_at)
		VALUES ($1, $2, TRUE, $3)`
	_, err := tx.ExecContext(ctx, query, version, keyHash, time.Now())
	if err != nil {
		return fmt.Errorf("insert key version: %w", err)
	}
	return nil
}

// ActivateTx marks version active, used by rollback to reinstate a
// version that rotation had previously deactivated.
func (r *KeyVersionRepository) ActivateTx(ctx context.Context, tx Execer, version int) error {
	query := `UPDATE encryption_keys SET is_active = TRUE, activated_at = $2 WHERE version = $1`
	_, err := tx.ExecContext(ctx, query, version, time.Now())
	if err != nil {
		return fmt.Errorf("activate key version: %w", err)
	}
	return nil
}

// DeactivateOthersTx deactivates every key version other than keepVersion,
// the final step of rotate_all and rollback alike, leaving exactly one
// version active regardless of whether keepVersion is numerically higher
// or lower than the versions it displaces.
func (r *KeyVersionRepository) DeactivateOthersTx(ctx context.Context, tx Execer, keepVersion int) error {
	query := `UPDATE encryption_keys SET is_active = FALSE, rotated_at = $2 WHERE version != $1 AND is_active`
	_, err := tx.ExecContext(ctx, query, keepVersion, time.Now())
	if err != nil {
		return fmt.Errorf("deactivate other key versions: %w", err)
	}
	return nil
}

// Execer abstracts *sql.Tx for the subset of methods repositories need;
// lets tests substitute a fake without pulling in a mocking library.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}
