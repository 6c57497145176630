// Copyright 2025 GridTokenX
//
// Package wallet implements the custodial wallet core of spec.md §4C:
// per-user secp256k1 keypairs encrypted at rest under a versioned master
// secret, rate-limited export, and transactional rotation/rollback.
package wallet

import (
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/mr-tron/base58"

	"github.com/gridtokenx/apigateway-core/pkg/apperrors"
	"github.com/gridtokenx/apigateway-core/pkg/audit"
	"github.com/gridtokenx/apigateway-core/pkg/cryptoprim"
	"github.com/gridtokenx/apigateway-core/pkg/database"
)

// exportCooldown is the minimum gap between two successful exports for the
// same user, spec.md §4C: "refuses when a prior export ... completed
// within 1 hour".
const exportCooldown = time.Hour

// legacyNonceSize is the IV length used by the source system's older AEAD
// construction. Spec.md §9: these ciphertexts must never be decrypted on
// read; only DiagnoseWallets is allowed to classify them.
const legacyNonceSize = 16

// ErrLegacyCiphertext marks a wallet whose stored nonce predates the
// current AEAD construction.
var ErrLegacyCiphertext = errors.New("legacy 16-byte-IV ciphertext, not readable by the current AEAD")

// Custody wraps the repositories and secrets wallet custody needs.
type Custody struct {
	db         *database.Client
	users      *database.UserRepository
	keys       *database.KeyVersionRepository
	limits     *database.WalletLimitRepository
	auditLog   *audit.Log
	masterSecretByVersion func(version int) ([]byte, bool)
}

// New constructs a Custody. masterSecretByVersion resolves a historical
// master secret by version number (the gateway holds the active secret
// and, for the duration of a rotation, the outgoing one); it returns
// false for an unknown version.
func New(db *database.Client, users *database.UserRepository, keys *database.KeyVersionRepository, limits *database.WalletLimitRepository, auditLog *audit.Log, masterSecretByVersion func(version int) ([]byte, bool)) *Custody {
	return &Custody{db: db, users: users, keys: keys, limits: limits, auditLog: auditLog, masterSecretByVersion: masterSecretByVersion}
}

// CreateWallet generates a fresh secp256k1 keypair, encrypts the private
// component under the active master secret, and persists it to the user
// row. Returns the public key.
func (c *Custody) CreateWallet(ctx context.Context, userID uuid.UUID) (string, error) {
	active, err := c.keys.GetActive(ctx)
	if err != nil {
		return "", apperrors.StorageError(apperrors.SubQueryFailed, "resolve active key version", err)
	}
	secret, ok := c.masterSecretByVersion(active.Version)
	if !ok {
		return "", apperrors.Internal("active master secret unavailable", nil)
	}

	priv, err := crypto.GenerateKey()
	if err != nil {
		return "", apperrors.Internal("generate keypair", err)
	}
	publicKey := crypto.PubkeyToAddress(priv.PublicKey).Hex()

	ciphertext, salt, nonce, err := cryptoprim.Encrypt(crypto.FromECDSA(priv), secret)
	if err != nil {
		return "", apperrors.Internal("seal private key", err)
	}

	if err := c.users.SetWallet(ctx, userID, publicKey, ciphertext, salt, nonce, active.Version); err != nil {
		return "", apperrors.StorageError(apperrors.SubQueryFailed, "persist wallet", err)
	}

	c.auditLog.Append(ctx, audit.Event{Actor: &userID, Kind: audit.WalletCreated, Subject: &publicKey})
	return publicKey, nil
}

// LoadKeypair fetches a user's encrypted keypair, resolves the master
// secret for its key_version, and decrypts it. Never mutates state.
func (c *Custody) LoadKeypair(ctx context.Context, userID uuid.UUID) (*ecdsa.PrivateKey, error) {
	user, err := c.users.Get(ctx, userID)
	if err == database.ErrUserNotFound {
		return nil, apperrors.NotFound("user", "user not found")
	}
	if err != nil {
		return nil, apperrors.StorageError(apperrors.SubQueryFailed, "load user", err)
	}
	if !user.HasWallet() {
		return nil, apperrors.NotFound("wallet", "wallet not created for user")
	}
	if len(user.Nonce) == legacyNonceSize {
		return nil, apperrors.Wrap(1000, apperrors.KindAuthentication, "",
			"wallet uses a legacy ciphertext format that the current AEAD cannot read", ErrLegacyCiphertext)
	}

	secret, ok := c.masterSecretByVersion(user.KeyVersion)
	if !ok {
		return nil, apperrors.Validation("encryption key version unknown", "key_version")
	}

	plaintext, err := cryptoprim.Decrypt(user.EncryptedPrivateKey, user.Salt, user.Nonce, secret)
	if err != nil {
		return nil, apperrors.Authentication("stored wallet failed to decrypt under its recorded key version")
	}
	key, err := crypto.ToECDSA(plaintext)
	if err != nil {
		return nil, apperrors.Internal("decode decrypted private key", err)
	}
	return key, nil
}

// Export re-decrypts a user's keypair and returns the public key plus the
// private key Base58-encoded, enforcing the one-export-per-hour policy.
// The caller is responsible for password re-authentication before calling
// Export; this method only enforces the rate limit, decrypts, and audits.
func (c *Custody) Export(ctx context.Context, userID uuid.UUID) (publicKey, privateKeyEncoded string, err error) {
	limit, err := c.limits.Get(ctx, userID)
	if err != nil {
		return "", "", apperrors.StorageError(apperrors.SubQueryFailed, "check export rate limit", err)
	}
	now := time.Now()
	if limit != nil {
		elapsed := now.Sub(limit.LastExport)
		if elapsed < exportCooldown {
			remaining := int((exportCooldown - elapsed).Seconds())
			return "", "", apperrors.RateLimit("wallet export available again shortly", remaining)
		}
	}

	priv, err := c.LoadKeypair(ctx, userID)
	if err != nil {
		return "", "", err
	}

	publicKey = crypto.PubkeyToAddress(priv.PublicKey).Hex()
	privateKeyEncoded = base58.Encode(crypto.FromECDSA(priv))

	if err := c.limits.RecordExport(ctx, userID, now); err != nil {
		return "", "", apperrors.StorageError(apperrors.SubQueryFailed, "record wallet export", err)
	}
	c.auditLog.Append(ctx, audit.Event{Actor: &userID, Kind: audit.WalletExported, Subject: &publicKey})
	return publicKey, privateKeyEncoded, nil
}

// RotationReport summarises the outcome of RotateAll/RollbackTo.
type RotationReport struct {
	Total      int
	Successful int
	Failed     int
	Errors     []string
	Duration   time.Duration
	NewVersion int
}

// maxFailureFraction aborts the whole rotation if more than this fraction
// of users fail to re-encrypt, spec.md §4C: "more than 10% of users fail".
const maxFailureFraction = 0.10

// RotateAll re-encrypts every stored wallet from oldSecret to newSecret
// under newVersion, in one durable transaction. If more than 10% of users
// fail to re-encrypt, the whole transaction is aborted.
func (c *Custody) RotateAll(ctx context.Context, oldSecret, newSecret []byte, newVersion int) (*RotationReport, error) {
	return c.rotate(ctx, oldSecret, newSecret, newVersion, false)
}

// RollbackTo is identical to RotateAll except targetVersion must already
// exist as a key-version row (used to undo a bad rotation).
func (c *Custody) RollbackTo(ctx context.Context, currentSecret, targetSecret []byte, targetVersion int) (*RotationReport, error) {
	return c.rotate(ctx, currentSecret, targetSecret, targetVersion, true)
}

func (c *Custody) rotate(ctx context.Context, oldSecret, newSecret []byte, newVersion int, isRollback bool) (*RotationReport, error) {
	if len(newSecret) < 32 {
		return nil, apperrors.Validation("master secret must be at least 32 characters", "new_secret")
	}

	active, err := c.keys.GetActive(ctx)
	if err != nil {
		return nil, apperrors.StorageError(apperrors.SubQueryFailed, "resolve active key version", err)
	}
	if !isRollback && newVersion <= active.Version {
		return nil, apperrors.Validation("new version must exceed the current active version", "new_version")
	}
	if isRollback {
		if _, err := c.keys.Get(ctx, newVersion); err != nil {
			return nil, apperrors.Validation("rollback target version does not exist", "target_version")
		}
	}

	startedAt := time.Now()
	c.auditLog.Append(ctx, audit.Event{Kind: audit.KeyRotationStarted, Details: map[string]any{"new_version": newVersion, "rollback": isRollback}})

	users, err := c.users.ListWithWallets(ctx)
	if err != nil {
		return nil, apperrors.StorageError(apperrors.SubQueryFailed, "list wallet users", err)
	}

	tx, err := c.db.BeginTx(ctx)
	if err != nil {
		return nil, apperrors.StorageError(apperrors.SubTransactionFailed, "begin rotation transaction", err)
	}
	defer tx.Rollback()

	if !isRollback {
		keyHash := sha256.Sum256(newSecret)
		if err := c.keys.ExecTx(ctx, tx, newVersion, keyHash[:]); err != nil {
			return nil, apperrors.StorageError(apperrors.SubQueryFailed, "insert new key version", err)
		}
	}

	report := &RotationReport{Total: len(users), NewVersion: newVersion}
	for _, u := range users {
		if err := reencryptOneTx(ctx, c.users, tx, u, oldSecret, newSecret, newVersion); err != nil {
			report.Failed++
			report.Errors = append(report.Errors, fmt.Sprintf("user %s: %v", u.ID, err))
			continue
		}
		report.Successful++
	}

	if report.Total > 0 && float64(report.Failed)/float64(report.Total) > maxFailureFraction {
		report.Duration = time.Since(startedAt)
		return report, apperrors.Internal(fmt.Sprintf("rotation aborted: %d/%d users failed to re-encrypt", report.Failed, report.Total), nil)
	}

	if isRollback {
		if err := c.keys.ActivateTx(ctx, tx, newVersion); err != nil {
			return nil, apperrors.StorageError(apperrors.SubQueryFailed, "reactivate rollback target key version", err)
		}
	}
	if err := c.keys.DeactivateOthersTx(ctx, tx, newVersion); err != nil {
		return nil, apperrors.StorageError(apperrors.SubQueryFailed, "deactivate other key versions", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, apperrors.StorageError(apperrors.SubTransactionFailed, "commit rotation", err)
	}

	report.Duration = time.Since(startedAt)
	c.auditLog.Append(ctx, audit.Event{Kind: audit.KeyRotationCompleted, Details: report})
	return report, nil
}

func reencryptOneTx(ctx context.Context, users *database.UserRepository, tx *sql.Tx, u *database.User, oldSecret, newSecret []byte, newVersion int) error {
	locked, err := users.GetForUpdate(ctx, tx, u.ID)
	if err != nil {
		return err
	}

	plaintext, err := cryptoprim.Decrypt(locked.EncryptedPrivateKey, locked.Salt, locked.Nonce, oldSecret)
	if err != nil {
		return err
	}

	ciphertext, salt, nonce, err := cryptoprim.Encrypt(plaintext, newSecret)
	if err != nil {
		return err
	}

	return users.UpdateWalletCiphertextTx(ctx, tx, u.ID, ciphertext, salt, nonce, newVersion)
}

// Status reports how many wallets currently sit on each key version, used
// by GetRotationStatus.
func (c *Custody) Status(ctx context.Context) (map[int]int, error) {
	return c.users.CountByKeyVersion(ctx)
}

// CiphertextClass is the structural classification DiagnoseWallets assigns
// to a stored wallet, without ever attempting to decrypt it.
type CiphertextClass string

const (
	ClassCurrent        CiphertextClass = "current"
	ClassLegacy16ByteIV CiphertextClass = "legacy16ByteIV"
	ClassCorrupt        CiphertextClass = "corrupt"
)

// WalletDiagnosis is one row of a Diagnose sweep.
type WalletDiagnosis struct {
	UserID uuid.UUID
	Class  CiphertextClass
}

// classify inspects nonce/salt lengths only, per spec.md §9: legacy
// ciphertexts must be flagged, never decrypted.
func classify(salt, nonce []byte) CiphertextClass {
	switch len(nonce) {
	case cryptoprim.NonceSize:
		if len(salt) < 16 {
			return ClassCorrupt
		}
		return ClassCurrent
	case legacyNonceSize:
		return ClassLegacy16ByteIV
	default:
		return ClassCorrupt
	}
}

// Diagnose is the read-only counterpart of rotation: it sweeps every
// wallet and classifies its ciphertext, touching no row. Supplemented
// from original_source's fix_user_wallets.rs / verify_blockchain_core.rs,
// which performed this classification before any repair attempt.
func (c *Custody) Diagnose(ctx context.Context) ([]WalletDiagnosis, error) {
	users, err := c.users.ListWithWallets(ctx)
	if err != nil {
		return nil, apperrors.StorageError(apperrors.SubQueryFailed, "list wallet users", err)
	}

	out := make([]WalletDiagnosis, 0, len(users))
	for _, u := range users {
		out = append(out, WalletDiagnosis{UserID: u.ID, Class: classify(u.Salt, u.Nonce)})
	}
	return out, nil
}
