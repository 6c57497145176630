// Copyright 2025 GridTokenX
//
// Package rec issues, transfers, and retires renewable energy
// certificates, wrapping database.RECRepository with the on-chain leg and
// audit trail spec.md §4I step 4 and §6 require.
package rec

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/gridtokenx/apigateway-core/pkg/apperrors"
	"github.com/gridtokenx/apigateway-core/pkg/audit"
	"github.com/gridtokenx/apigateway-core/pkg/chain"
	"github.com/gridtokenx/apigateway-core/pkg/database"
	"github.com/gridtokenx/apigateway-core/pkg/money"
)

// Registry wraps certificate storage, the chain client, and the
// governance program's address.
type Registry struct {
	certs             *database.RECRepository
	users             *database.UserRepository
	chainClient       *chain.Client
	governanceProgram common.Address
	authority         *ecdsa.PrivateKey
	confirmTimeout    time.Duration
	auditLog          *audit.Log
}

func New(certs *database.RECRepository, users *database.UserRepository, chainClient *chain.Client, governanceProgram common.Address, authority *ecdsa.PrivateKey, confirmTimeout time.Duration, auditLog *audit.Log) *Registry {
	return &Registry{
		certs: certs, users: users, chainClient: chainClient,
		governanceProgram: governanceProgram, authority: authority,
		confirmTimeout: confirmTimeout, auditLog: auditLog,
	}
}

// Issue records a certificate row in status=active and submits the
// governance-program issuance instruction, settlement step 4.
func (r *Registry) Issue(ctx context.Context, userID uuid.UUID, meterSerial string, amount money.Amount, source string, settlementID uuid.UUID) (*database.RECCertificate, error) {
	owner, err := r.ownerAddress(ctx, userID)
	if err != nil {
		return nil, err
	}

	cert := &database.RECCertificate{UserID: userID, MeterSerial: meterSerial, KWhAmount: amount, Source: source}
	if err := r.certs.Create(ctx, cert); err != nil {
		return nil, apperrors.StorageError(apperrors.SubQueryFailed, "create rec certificate", err)
	}

	ix, err := chain.BuildIssueRECIx(r.governanceProgram, owner, cert.ID, amountToWei(amount), settlementID)
	if err != nil {
		return nil, apperrors.ChainError(apperrors.SubProgramError, "build rec issuance instruction", err)
	}
	signature, err := r.submitAndConfirm(ctx, ix)
	if err != nil {
		return nil, err
	}
	cert.OnChainSignature = &signature

	r.auditLog.Append(ctx, audit.Event{Actor: &userID, Kind: audit.RECIssued, Subject: strPtr(cert.ID.String())})
	return cert, nil
}

// Transfer moves a certificate to a new owner, active -> transferred.
func (r *Registry) Transfer(ctx context.Context, certID uuid.UUID, toUserID uuid.UUID) error {
	cert, err := r.certs.Get(ctx, certID)
	if err != nil {
		return mapCertErr(err)
	}
	from, err := r.ownerAddress(ctx, cert.UserID)
	if err != nil {
		return err
	}
	to, err := r.ownerAddress(ctx, toUserID)
	if err != nil {
		return err
	}

	ix, err := chain.BuildTransferRECIx(r.governanceProgram, certID, from, to)
	if err != nil {
		return apperrors.ChainError(apperrors.SubProgramError, "build rec transfer instruction", err)
	}
	if _, err := r.submitAndConfirm(ctx, ix); err != nil {
		return err
	}

	if err := r.certs.Transition(ctx, certID, database.RECTransferred); err != nil {
		return apperrors.StorageError(apperrors.SubQueryFailed, "transition rec certificate", err)
	}
	r.auditLog.Append(ctx, audit.Event{Actor: &toUserID, Kind: audit.RECTransferred, Subject: strPtr(certID.String())})
	return nil
}

// Retire permanently retires a certificate, active -> retired.
func (r *Registry) Retire(ctx context.Context, certID uuid.UUID) error {
	cert, err := r.certs.Get(ctx, certID)
	if err != nil {
		return mapCertErr(err)
	}
	owner, err := r.ownerAddress(ctx, cert.UserID)
	if err != nil {
		return err
	}

	ix, err := chain.BuildRetireRECIx(r.governanceProgram, certID, owner)
	if err != nil {
		return apperrors.ChainError(apperrors.SubProgramError, "build rec retire instruction", err)
	}
	if _, err := r.submitAndConfirm(ctx, ix); err != nil {
		return err
	}

	if err := r.certs.Transition(ctx, certID, database.RECRetired); err != nil {
		return apperrors.StorageError(apperrors.SubQueryFailed, "transition rec certificate", err)
	}
	r.auditLog.Append(ctx, audit.Event{Actor: &cert.UserID, Kind: audit.RECRetired, Subject: strPtr(certID.String())})
	return nil
}

func (r *Registry) submitAndConfirm(ctx context.Context, ix chain.Instruction) (string, error) {
	signature, err := r.chainClient.SubmitTransaction(ctx, r.authority, []chain.Instruction{ix})
	if err != nil {
		return "", apperrors.ChainError(apperrors.SubConnectionFailed, "submit rec instruction", err)
	}
	status, err := r.chainClient.ConfirmTransaction(ctx, signature, r.confirmTimeout)
	if err != nil {
		return "", apperrors.ChainError(apperrors.SubTimeout, "confirm rec instruction", err)
	}
	if status != chain.Confirmed {
		return "", apperrors.ChainError(apperrors.SubProgramError, fmt.Sprintf("rec instruction %s", status), nil)
	}
	return signature, nil
}

func (r *Registry) ownerAddress(ctx context.Context, userID uuid.UUID) (common.Address, error) {
	user, err := r.users.Get(ctx, userID)
	if err == database.ErrUserNotFound {
		return common.Address{}, apperrors.NotFound("user", "user not found")
	}
	if err != nil {
		return common.Address{}, apperrors.StorageError(apperrors.SubQueryFailed, "load user", err)
	}
	if !user.HasWallet() {
		return common.Address{}, apperrors.NotFound("wallet", "wallet not created for user")
	}
	return common.HexToAddress(*user.WalletPublicKey), nil
}

func mapCertErr(err error) error {
	if err == database.ErrRECCertificateNotFound {
		return apperrors.NotFound("rec_certificate", "certificate not found")
	}
	return apperrors.StorageError(apperrors.SubQueryFailed, "load rec certificate", err)
}

// amountToWei converts a money.Amount (9 fractional digits) to the
// integer on-chain representation the energy-token program expects.
func amountToWei(a money.Amount) *big.Int {
	scaled := a.Decimal().Shift(money.Scale)
	return scaled.BigInt()
}

func strPtr(s string) *string { return &s }
