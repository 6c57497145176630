// Copyright 2025 GridTokenX
//
// User Repository - CRUD and balance mutation for the users table.

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gridtokenx/apigateway-core/pkg/money"
)

type UserRepository struct {
	client *Client
}

func NewUserRepository(client *Client) *UserRepository {
	return &UserRepository{client: client}
}

func (r *UserRepository) Create(ctx context.Context, email string, role Role) (*User, error) {
	u := &User{
		ID:        uuid.New(),
		Email:     email,
		Role:      role,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	query := `
		INSERT INTO users (id, email, role, key_version, created_at, updated_at)
		VALUES ($1, $2, $3, 0, $4, $4)`

	if _, err := r.client.ExecContext(ctx, query, u.ID, u.Email, u.Role, u.CreatedAt); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

func (r *UserRepository) Get(ctx context.Context, id uuid.UUID) (*User, error) {
	return r.getTx(ctx, r.client.db, id)
}

// GetForUpdate locks the user row for the duration of tx, used by escrow
// mutation and wallet rotation to serialise concurrent balance changes.
func (r *UserRepository) GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*User, error) {
	query := userSelectQuery + ` WHERE id = $1 FOR UPDATE`
	return r.scanOne(tx.QueryRowContext(ctx, query, id))
}

func (r *UserRepository) getTx(ctx context.Context, q queryer, id uuid.UUID) (*User, error) {
	query := userSelectQuery + ` WHERE id = $1`
	return r.scanOne(q.QueryRowContext(ctx, query, id))
}

const userSelectQuery = `
	SELECT id, email, role, wallet_public_key, encrypted_private_key, salt, nonce,
		key_version, free_currency, locked_currency, free_energy, locked_energy,
		email_verified, created_at, updated_at
	FROM users`

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (r *UserRepository) scanOne(row *sql.Row) (*User, error) {
	u := &User{}
	err := row.Scan(
		&u.ID, &u.Email, &u.Role, &u.WalletPublicKey, &u.EncryptedPrivateKey, &u.Salt, &u.Nonce,
		&u.KeyVersion, &u.FreeCurrency, &u.LockedCurrency, &u.FreeEnergy, &u.LockedEnergy,
		&u.EmailVerified, &u.CreatedAt, &u.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return u, nil
}

// ListWithWallets returns every user that has completed wallet custody
// setup, used by rotation and the diagnose-wallets sweep.
func (r *UserRepository) ListWithWallets(ctx context.Context) ([]*User, error) {
	query := userSelectQuery + ` WHERE wallet_public_key IS NOT NULL ORDER BY created_at`
	rows, err := r.client.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list wallet users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u := &User{}
		if err := rows.Scan(
			&u.ID, &u.Email, &u.Role, &u.WalletPublicKey, &u.EncryptedPrivateKey, &u.Salt, &u.Nonce,
			&u.KeyVersion, &u.FreeCurrency, &u.LockedCurrency, &u.FreeEnergy, &u.LockedEnergy,
			&u.EmailVerified, &u.CreatedAt, &u.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan wallet user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// SetWallet persists a freshly created keypair's ciphertext onto the user row.
func (r *UserRepository) SetWallet(ctx context.Context, id uuid.UUID, publicKey string, ciphertext, salt, nonce []byte, keyVersion int) error {
	query := `
		UPDATE users SET wallet_public_key = $2, encrypted_private_key = $3,
			salt = $4, nonce = $5, key_version = $6, updated_at = now()
		WHERE id = $1`
	_, err := r.client.ExecContext(ctx, query, id, publicKey, ciphertext, salt, nonce, keyVersion)
	return err
}

// UpdateWalletCiphertextTx rewrites a user's stored ciphertext within tx,
// used by rotation/rollback.
func (r *UserRepository) UpdateWalletCiphertextTx(ctx context.Context, tx *sql.Tx, id uuid.UUID, ciphertext, salt, nonce []byte, keyVersion int) error {
	query := `
		UPDATE users SET encrypted_private_key = $2, salt = $3, nonce = $4, key_version = $5, updated_at = now()
		WHERE id = $1`
	_, err := tx.ExecContext(ctx, query, id, ciphertext, salt, nonce, keyVersion)
	return err
}

// AdjustBalancesTx applies signed deltas to the four balance columns within
// tx; used by the escrow ledger so every mutation is part of the caller's
// atomic unit.
func (r *UserRepository) AdjustBalancesTx(ctx context.Context, tx *sql.Tx, id uuid.UUID, dFreeCurrency, dLockedCurrency, dFreeEnergy, dLockedEnergy money.Amount) error {
	query := `
		UPDATE users SET
			free_currency = free_currency + $2,
			locked_currency = locked_currency + $3,
			free_energy = free_energy + $4,
			locked_energy = locked_energy + $5,
			updated_at = now()
		WHERE id = $1`
	_, err := tx.ExecContext(ctx, query, id, dFreeCurrency, dLockedCurrency, dFreeEnergy, dLockedEnergy)
	if err != nil {
		return fmt.Errorf("adjust balances: %w", err)
	}
	return nil
}

func (r *UserRepository) CountByKeyVersion(ctx context.Context) (map[int]int, error) {
	rows, err := r.client.QueryContext(ctx, `SELECT key_version, count(*) FROM users WHERE wallet_public_key IS NOT NULL GROUP BY key_version`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int]int)
	for rows.Next() {
		var v, c int
		if err := rows.Scan(&v, &c); err != nil {
			return nil, err
		}
		out[v] = c
	}
	return out, rows.Err()
}
