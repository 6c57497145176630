// Copyright 2025 GridTokenX
//
// Package database provides sentinel errors for repository operations.
// F.4 remediation: explicit errors instead of nil, nil returns.

package database

import "errors"

var (
	// ErrNotFound is returned when a requested entity is not found.
	ErrNotFound = errors.New("entity not found")

	ErrUserNotFound          = errors.New("user not found")
	ErrEpochNotFound         = errors.New("epoch not found")
	ErrOrderNotFound         = errors.New("order not found")
	ErrMatchNotFound         = errors.New("match not found")
	ErrSettlementNotFound    = errors.New("settlement not found")
	ErrEscrowNotFound        = errors.New("escrow record not found")
	ErrZoneNotFound          = errors.New("zone not found")
	ErrWalletNotFound        = errors.New("wallet not found")
	ErrKeyVersionNotFound    = errors.New("encryption key version not found")
	ErrRECCertificateNotFound = errors.New("REC certificate not found")

	// ErrDuplicateAttempt signals the unique (operation_type, operation_id)
	// constraint on transaction_attempts already has a row, i.e. an
	// idempotent replay of a settlement step.
	ErrDuplicateAttempt = errors.New("transaction attempt already recorded")
)
