// Copyright 2025 GridTokenX
//
// Package escrow moves currency and energy between a user's free and
// locked balances atomically with the order or settlement change that
// drives it, matching spec.md §4G exactly.
package escrow

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/gridtokenx/apigateway-core/pkg/apperrors"
	"github.com/gridtokenx/apigateway-core/pkg/database"
	"github.com/gridtokenx/apigateway-core/pkg/money"
)

type Ledger struct {
	users  *database.UserRepository
	escrow *database.EscrowRepository
}

func NewLedger(users *database.UserRepository, escrow *database.EscrowRepository) *Ledger {
	return &Ledger{users: users, escrow: escrow}
}

// LockBuyerCurrency holds a row lock on the buyer, checks
// free_currency >= cost, and moves cost from free to locked, writing an
// escrow record. Called within tx at buy-order creation time.
func (l *Ledger) LockBuyerCurrency(ctx context.Context, tx *sql.Tx, orderID, userID uuid.UUID, cost money.Amount) (*database.EscrowRecord, error) {
	user, err := l.users.GetForUpdate(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	if user.FreeCurrency.LessThan(cost) {
		return nil, apperrors.InsufficientBalance("free_currency below required escrow amount")
	}
	if err := l.users.AdjustBalancesTx(ctx, tx, userID, cost.Neg(), cost, money.Zero, money.Zero); err != nil {
		return nil, apperrors.StorageError(apperrors.SubQueryFailed, "adjust buyer balances", err)
	}
	return l.escrow.CreateTx(ctx, tx, orderID, database.AssetCurrency, cost)
}

// LockSellerEnergy is the symmetric operation over free_energy/locked_energy.
func (l *Ledger) LockSellerEnergy(ctx context.Context, tx *sql.Tx, orderID, userID uuid.UUID, amount money.Amount) (*database.EscrowRecord, error) {
	user, err := l.users.GetForUpdate(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	if user.FreeEnergy.LessThan(amount) {
		return nil, apperrors.InsufficientBalance("free_energy below required escrow amount")
	}
	if err := l.users.AdjustBalancesTx(ctx, tx, userID, money.Zero, money.Zero, amount.Neg(), amount); err != nil {
		return nil, apperrors.StorageError(apperrors.SubQueryFailed, "adjust seller balances", err)
	}
	return l.escrow.CreateTx(ctx, tx, orderID, database.AssetEnergy, amount)
}

// Release reverts a locked escrow record back to the owner's free balance
// (order cancellation).
func (l *Ledger) Release(ctx context.Context, tx *sql.Tx, userID uuid.UUID, rec *database.EscrowRecord) error {
	if err := l.escrow.TransitionTx(ctx, tx, rec.ID, database.EscrowReleased); err != nil {
		return err
	}
	if rec.Asset == database.AssetCurrency {
		return l.users.AdjustBalancesTx(ctx, tx, userID, rec.Amount, rec.Amount.Neg(), money.Zero, money.Zero)
	}
	return l.users.AdjustBalancesTx(ctx, tx, userID, money.Zero, money.Zero, rec.Amount, rec.Amount.Neg())
}

// ConsumeBuyerCurrency removes the buyer's locked currency for this match
// (never returned) as part of settlement step 2.
func (l *Ledger) ConsumeBuyerCurrency(ctx context.Context, tx *sql.Tx, userID uuid.UUID, rec *database.EscrowRecord) error {
	if err := l.escrow.TransitionTx(ctx, tx, rec.ID, database.EscrowConsumed); err != nil {
		return err
	}
	return l.users.AdjustBalancesTx(ctx, tx, userID, money.Zero, rec.Amount.Neg(), money.Zero, money.Zero)
}

// ConsumeSellerEnergy removes the seller's locked energy for this match.
func (l *Ledger) ConsumeSellerEnergy(ctx context.Context, tx *sql.Tx, userID uuid.UUID, rec *database.EscrowRecord) error {
	if err := l.escrow.TransitionTx(ctx, tx, rec.ID, database.EscrowConsumed); err != nil {
		return err
	}
	return l.users.AdjustBalancesTx(ctx, tx, userID, money.Zero, money.Zero, money.Zero, rec.Amount.Neg())
}

// CreditSeller adds net currency to the seller's free balance.
func (l *Ledger) CreditSeller(ctx context.Context, tx *sql.Tx, userID uuid.UUID, net money.Amount) error {
	return l.users.AdjustBalancesTx(ctx, tx, userID, net, money.Zero, money.Zero, money.Zero)
}

// CreditBuyer adds effective (post-loss) energy to the buyer's free balance.
func (l *Ledger) CreditBuyer(ctx context.Context, tx *sql.Tx, userID uuid.UUID, effectiveEnergy money.Amount) error {
	return l.users.AdjustBalancesTx(ctx, tx, userID, money.Zero, money.Zero, effectiveEnergy, money.Zero)
}

// Revert reverts an escrow-consumed record back to its owner's free
// balance on settlement failure.
func (l *Ledger) Revert(ctx context.Context, tx *sql.Tx, userID uuid.UUID, rec *database.EscrowRecord) error {
	return l.Release(ctx, tx, userID, rec)
}
