// Copyright 2025 GridTokenX
//
// Package gateway composes every component package into the single typed
// operation surface of spec.md §6. It never renders HTTP: callers pass a
// Actor (the authenticated user id + role an excluded handler layer would
// have resolved) and get back a typed value or an error. Most errors are
// *apperrors.Error; CreateOrder, CancelOrder and GetRotationStatus can also
// return plain wrapped storage errors from the clearing and wallet layers.
package gateway

import (
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/gridtokenx/apigateway-core/pkg/apperrors"
	"github.com/gridtokenx/apigateway-core/pkg/audit"
	"github.com/gridtokenx/apigateway-core/pkg/chain"
	"github.com/gridtokenx/apigateway-core/pkg/clearing"
	"github.com/gridtokenx/apigateway-core/pkg/database"
	"github.com/gridtokenx/apigateway-core/pkg/epoch"
	"github.com/gridtokenx/apigateway-core/pkg/money"
	"github.com/gridtokenx/apigateway-core/pkg/orderbook"
	"github.com/gridtokenx/apigateway-core/pkg/rec"
	"github.com/gridtokenx/apigateway-core/pkg/wallet"
)

// Actor is the authenticated caller identity an excluded handler layer
// resolves and passes into every Gateway operation.
type Actor struct {
	UserID uuid.UUID
	Role   database.Role
}

func (a Actor) isAdmin() bool { return a.Role == database.RoleAdmin }

// ProgramIDs groups the on-chain program addresses the gateway's mint
// operation targets. User and meter registration build their own
// instructions (chain.BuildRegisterUserIx, chain.BuildRegisterMeterIx)
// outside Gateway, at the signup/onboarding layer this package excludes.
type ProgramIDs struct {
	EnergyToken common.Address
	Mint        common.Address
}

// Gateway composes every component package behind the typed operation set
// of spec.md §6.
type Gateway struct {
	db       *database.Client
	orders   *database.OrderRepository
	epochs   *database.EpochRepository
	meters   *database.MeterRepository
	users    *database.UserRepository
	certs    *database.RECRepository
	attempts *database.TransactionAttemptRepository

	scheduler *epoch.Scheduler
	books     *clearing.Books
	clear     *clearing.Engine
	custody   *wallet.Custody
	registry  *rec.Registry
	chainClient *chain.Client

	programs  ProgramIDs
	authority *ecdsa.PrivateKey
	confirmTimeout time.Duration
	auditLog  *audit.Log
}

func New(db *database.Client, orders *database.OrderRepository, epochs *database.EpochRepository,
	meters *database.MeterRepository, users *database.UserRepository, certs *database.RECRepository,
	attempts *database.TransactionAttemptRepository, scheduler *epoch.Scheduler, books *clearing.Books,
	clear *clearing.Engine, custody *wallet.Custody, registry *rec.Registry, chainClient *chain.Client,
	programs ProgramIDs, authority *ecdsa.PrivateKey, confirmTimeout time.Duration, auditLog *audit.Log) *Gateway {
	return &Gateway{
		db: db, orders: orders, epochs: epochs, meters: meters, users: users, certs: certs,
		attempts: attempts, scheduler: scheduler, books: books, clear: clear, custody: custody,
		registry: registry, chainClient: chainClient, programs: programs, authority: authority,
		confirmTimeout: confirmTimeout, auditLog: auditLog,
	}
}

func (g *Gateway) requireAdmin(ctx context.Context, a Actor) error {
	if a.isAdmin() {
		return nil
	}
	g.auditLog.Append(ctx, audit.Event{Actor: &a.UserID, Kind: audit.AdminUserUpdated,
		Details: map[string]any{"denied": true, "role": a.Role}})
	return apperrors.Authorization("operation requires admin role")
}

// --- Trading ---------------------------------------------------------

// CreateOrderRequest is the trading-facing request to place an order;
// the acting user is always the order's owner.
type CreateOrderRequest struct {
	Side         database.OrderSide
	Kind         database.OrderKind
	EnergyAmount money.Amount
	PricePerKWh  money.Amount
	Zone         *string
	ExpiresAt    time.Time
}

func (g *Gateway) CreateOrder(ctx context.Context, actor Actor, req CreateOrderRequest) (*database.Order, error) {
	return g.clear.PlaceOrder(ctx, clearing.NewOrder{
		UserID: actor.UserID, Side: req.Side, Kind: req.Kind, EnergyAmount: req.EnergyAmount,
		PricePerKWh: req.PricePerKWh, Zone: req.Zone, ExpiresAt: req.ExpiresAt,
	})
}

func (g *Gateway) CancelOrder(ctx context.Context, actor Actor, orderID uuid.UUID) error {
	return g.clear.CancelOrder(ctx, actor.UserID, orderID)
}

// OrderBookSnapshot is the read-only projection GetOrderBookSnapshot
// returns, sufficient for a trading UI without exposing internal order
// book pointers.
type OrderBookSnapshot struct {
	EpochNumber int64
	Bids        []orderbook.DepthLevel
	Asks        []orderbook.DepthLevel
	BestBid     *orderbook.Entry
	BestAsk     *orderbook.Entry
}

func (g *Gateway) GetOrderBookSnapshot(ctx context.Context, actor Actor) (*OrderBookSnapshot, error) {
	ep, err := g.scheduler.GetOrCreate(ctx, time.Now())
	if err != nil {
		return nil, apperrors.Internal("resolve active epoch", err)
	}
	book := g.books.For(ep.ID)
	snap := &OrderBookSnapshot{
		EpochNumber: ep.EpochNumber,
		Bids:        book.Depth(database.SideBuy),
		Asks:        book.Depth(database.SideSell),
	}
	if bid, ok := book.BestBid(); ok {
		snap.BestBid = bid
	}
	if ask, ok := book.BestAsk(); ok {
		snap.BestAsk = ask
	}
	return snap, nil
}

func (g *Gateway) GetTradingHistory(ctx context.Context, actor Actor, limit int) ([]*database.Order, error) {
	orders, err := g.orders.ListByUser(ctx, actor.UserID, limit)
	if err != nil {
		return nil, apperrors.StorageError(apperrors.SubQueryFailed, "list trading history", err)
	}
	return orders, nil
}

// --- Wallet custody ----------------------------------------------------

func (g *Gateway) RotateKeys(ctx context.Context, actor Actor, oldSecret, newSecret []byte, newVersion int) (*wallet.RotationReport, error) {
	if err := g.requireAdmin(ctx, actor); err != nil {
		return nil, err
	}
	return g.custody.RotateAll(ctx, oldSecret, newSecret, newVersion)
}

func (g *Gateway) RollbackRotation(ctx context.Context, actor Actor, currentSecret, targetSecret []byte, targetVersion int) (*wallet.RotationReport, error) {
	if err := g.requireAdmin(ctx, actor); err != nil {
		return nil, err
	}
	return g.custody.RollbackTo(ctx, currentSecret, targetSecret, targetVersion)
}

func (g *Gateway) GetRotationStatus(ctx context.Context, actor Actor) (map[int]int, error) {
	if err := g.requireAdmin(ctx, actor); err != nil {
		return nil, err
	}
	return g.custody.Status(ctx)
}

func (g *Gateway) ExportWallet(ctx context.Context, actor Actor) (publicKey, privateKeyEncoded string, err error) {
	return g.custody.Export(ctx, actor.UserID)
}

// DiagnoseWallets is the read-only sweep of spec.md §6/§9: classify every
// wallet's ciphertext without ever decrypting a legacy-format one.
func (g *Gateway) DiagnoseWallets(ctx context.Context, actor Actor) ([]wallet.WalletDiagnosis, error) {
	if err := g.requireAdmin(ctx, actor); err != nil {
		return nil, err
	}
	return g.custody.Diagnose(ctx)
}

// --- REC certificates ---------------------------------------------------

// IssueCertificateRequest names the beneficiary explicitly since an
// admin/operator issues on behalf of a settlement, not for themselves.
type IssueCertificateRequest struct {
	UserID       uuid.UUID
	MeterSerial  string
	Amount       money.Amount
	Source       string
	SettlementID uuid.UUID
}

func (g *Gateway) IssueCertificate(ctx context.Context, actor Actor, req IssueCertificateRequest) (*database.RECCertificate, error) {
	if err := g.requireAdmin(ctx, actor); err != nil {
		return nil, err
	}
	return g.registry.Issue(ctx, req.UserID, req.MeterSerial, req.Amount, req.Source, req.SettlementID)
}

func (g *Gateway) TransferCertificate(ctx context.Context, actor Actor, certID, toUserID uuid.UUID) error {
	if _, err := g.lookupOwnedCertificate(ctx, actor, certID); err != nil {
		return err
	}
	return g.registry.Transfer(ctx, certID, toUserID)
}

func (g *Gateway) RetireCertificate(ctx context.Context, actor Actor, certID uuid.UUID) error {
	if _, err := g.lookupOwnedCertificate(ctx, actor, certID); err != nil {
		return err
	}
	return g.registry.Retire(ctx, certID)
}

func (g *Gateway) lookupOwnedCertificate(ctx context.Context, actor Actor, certID uuid.UUID) (*database.RECCertificate, error) {
	cert, err := g.certs.Get(ctx, certID)
	if err == database.ErrRECCertificateNotFound {
		return nil, apperrors.NotFound("certificate", "certificate not found")
	}
	if err != nil {
		return nil, apperrors.StorageError(apperrors.SubQueryFailed, "load certificate", err)
	}
	if cert.UserID != actor.UserID && !actor.isAdmin() {
		return nil, apperrors.Authorization("certificate belongs to a different user")
	}
	return cert, nil
}

// --- Meter readings -----------------------------------------------------

// MeterReadingReceipt is the oracle-style acknowledgement
// SubmitMeterReading returns; the reading id is the idempotency key a
// later MintFromReading call uses.
type MeterReadingReceipt struct {
	ReadingID   uuid.UUID
	MeterSerial string
	KWhAmount   money.Amount
}

// SubmitMeterReading validates the reading's meter is registered to the
// actor and verified, then hands back a reading id; it mutates no
// balance — minting is a separate, idempotent step (MintFromReading).
func (g *Gateway) SubmitMeterReading(ctx context.Context, actor Actor, meterSerial string, kWhAmount money.Amount) (*MeterReadingReceipt, error) {
	if kWhAmount.LessOrEqual(money.Zero) {
		return nil, apperrors.Validation("kwh_amount must be positive", "kwh_amount")
	}
	m, err := g.meters.Get(ctx, meterSerial)
	if err == database.ErrNotFound {
		return nil, apperrors.NotFound("meter", "meter not registered")
	}
	if err != nil {
		return nil, apperrors.StorageError(apperrors.SubQueryFailed, "load meter", err)
	}
	if m.UserID != actor.UserID {
		return nil, apperrors.Authorization("meter belongs to a different user")
	}
	if m.Status != database.MeterVerified {
		return nil, apperrors.TradingNotAllowed("meter is not verified")
	}

	return &MeterReadingReceipt{ReadingID: uuid.New(), MeterSerial: meterSerial, KWhAmount: kWhAmount}, nil
}

// MintFromReading submits the on-chain token mint for a previously
// submitted reading and credits the owner's free_energy balance,
// idempotent on readingID via the transaction-attempt ledger so a
// retried call never double-mints.
func (g *Gateway) MintFromReading(ctx context.Context, actor Actor, readingID uuid.UUID, meterSerial string, amount money.Amount) (string, error) {
	operationType := "meter_mint"
	operationID := readingID.String()
	fingerprint := readingFingerprint(operationType, operationID, meterSerial, amount.String())

	existing, err := g.attempts.Get(ctx, operationType, operationID)
	if err == nil && existing.State == database.AttemptConfirmed && existing.ExternalSignature != nil {
		return *existing.ExternalSignature, nil
	}
	if err != nil && err != database.ErrNotFound {
		return "", apperrors.StorageError(apperrors.SubQueryFailed, "load mint attempt", err)
	}

	attempt := existing
	if attempt == nil {
		attempt, err = g.attempts.Create(ctx, operationType, operationID, fingerprint)
		if err != nil {
			return "", apperrors.StorageError(apperrors.SubQueryFailed, "create mint attempt", err)
		}
	}

	var signature string
	if attempt.State == database.AttemptSubmitted && attempt.ExternalSignature != nil {
		// A prior call's RPC timed out after submission; poll instead of
		// re-submitting, same recovery path as settlement's on-chain leg.
		signature = *attempt.ExternalSignature
	} else {
		owner, err := g.ownerAddress(ctx, actor.UserID)
		if err != nil {
			return "", err
		}
		if err := g.attempts.MarkSubmitting(ctx, attempt.ID); err != nil {
			return "", apperrors.StorageError(apperrors.SubQueryFailed, "mark mint submitting", err)
		}
		ix, err := chain.BuildMintFromReadingIx(g.programs.EnergyToken, g.programs.Mint, owner, amountToWei(amount), readingID)
		if err != nil {
			return "", apperrors.ChainError(apperrors.SubProgramError, "build mint instruction", err)
		}
		signature, err = g.chainClient.SubmitTransaction(ctx, g.authority, []chain.Instruction{ix})
		if err != nil {
			_ = g.attempts.RecordFailure(ctx, attempt.ID, err.Error())
			return "", apperrors.ChainError(apperrors.SubTransactionFailed, "submit mint transaction", err)
		}
		if err := g.attempts.AdvanceSubmitted(ctx, attempt.ID, signature); err != nil {
			return "", apperrors.StorageError(apperrors.SubQueryFailed, "advance mint attempt", err)
		}
	}

	status, err := g.chainClient.ConfirmTransaction(ctx, signature, g.confirmTimeout)
	if err != nil || status != chain.Confirmed {
		// The attempt stays in state submitted with its signature, so a
		// retried call polls it instead of re-submitting.
		return "", apperrors.ChainError(apperrors.SubTimeout, fmt.Sprintf("mint transaction did not confirm (status=%v)", status), err)
	}
	if err := g.attempts.AdvanceConfirmed(ctx, attempt.ID); err != nil {
		return "", apperrors.StorageError(apperrors.SubQueryFailed, "advance mint confirmed", err)
	}

	tx, err := g.db.BeginTx(ctx)
	if err != nil {
		return "", apperrors.StorageError(apperrors.SubTransactionFailed, "begin mint credit tx", err)
	}
	defer tx.Rollback()
	if err := g.users.AdjustBalancesTx(ctx, tx, actor.UserID, money.Zero, money.Zero, amount, money.Zero); err != nil {
		return "", apperrors.StorageError(apperrors.SubQueryFailed, "credit minted energy", err)
	}
	if err := tx.Commit(); err != nil {
		return "", apperrors.StorageError(apperrors.SubTransactionFailed, "commit mint credit tx", err)
	}

	return signature, nil
}

func (g *Gateway) ownerAddress(ctx context.Context, userID uuid.UUID) (common.Address, error) {
	u, err := g.users.Get(ctx, userID)
	if err != nil {
		return common.Address{}, apperrors.NotFound("user", "user not found")
	}
	if !u.HasWallet() {
		return common.Address{}, apperrors.NotFound("wallet", "wallet not created for user")
	}
	return common.HexToAddress(*u.WalletPublicKey), nil
}

func readingFingerprint(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func amountToWei(a money.Amount) *big.Int {
	return a.Decimal().Shift(money.Scale).BigInt()
}
