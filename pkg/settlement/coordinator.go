// Copyright 2025 GridTokenX
//
// Package settlement implements the per-match settlement coordinator of
// spec.md §4I: a state machine over {Pending, Escrowed, CurrencyDebited,
// EnergyCredited, FeeCollected, WheelingCollected, RecIssued,
// NotifiedAndSettled, Failed}, driven by a background sweep over
// database.SettlementRepository.ListPending. Grounded on the teacher's
// pkg/batch/consensus_coordinator.go ConsensusState/ConsensusEntry pattern
// (state enum + config with retry/backoff knobs), adapted from
// batch-attestation consensus to per-match settlement.
package settlement

import (
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gridtokenx/apigateway-core/pkg/apperrors"
	"github.com/gridtokenx/apigateway-core/pkg/audit"
	"github.com/gridtokenx/apigateway-core/pkg/chain"
	"github.com/gridtokenx/apigateway-core/pkg/database"
	"github.com/gridtokenx/apigateway-core/pkg/escrow"
	"github.com/gridtokenx/apigateway-core/pkg/money"
	"github.com/gridtokenx/apigateway-core/pkg/notify"
	"github.com/gridtokenx/apigateway-core/pkg/rec"
	"github.com/gridtokenx/apigateway-core/pkg/zone"
)

// maxTotalAttempts is spec.md §4I's "attempts total exceeds 10 -> Failed".
const maxTotalAttempts = 10

// Steps 3-4 (on-chain, REC) retry independently within one sweep call with
// exponential backoff: base 5s, multiplier 2, max 3 attempts. Step 5
// (notify) is not retried; the notifier logs and swallows its failures.
const (
	stepRetryBase       = 5 * time.Second
	stepRetryMultiplier = 2
	stepRetryMaxAttempts = 3
)

// Coordinator advances settlement rows one step at a time (steps 1-2 move
// a row from Pending to WheelingCollected in one transaction). A single
// instance is safe for concurrent sweeps; all balance mutations happen
// inside row-locked transactions, never under a process-wide lock.
type Coordinator struct {
	db          *database.Client
	orders      *database.OrderRepository
	matches     *database.MatchRepository
	settlements *database.SettlementRepository
	escrowRecords *database.EscrowRepository
	users       *database.UserRepository
	meters      *database.MeterRepository
	attempts    *database.TransactionAttemptRepository

	zones    *zone.Table
	ledger   *escrow.Ledger
	chainClient *chain.Client
	recRegistry *rec.Registry
	notifier *notify.Sink
	auditLog *audit.Log

	tradingProgram common.Address
	authority      *ecdsa.PrivateKey
	confirmTimeout time.Duration
	feeRate        decimal.Decimal
}

func New(
	db *database.Client,
	orders *database.OrderRepository,
	matches *database.MatchRepository,
	settlements *database.SettlementRepository,
	escrowRecords *database.EscrowRepository,
	users *database.UserRepository,
	meters *database.MeterRepository,
	attempts *database.TransactionAttemptRepository,
	zones *zone.Table,
	ledger *escrow.Ledger,
	chainClient *chain.Client,
	recRegistry *rec.Registry,
	notifier *notify.Sink,
	auditLog *audit.Log,
	tradingProgram common.Address,
	authority *ecdsa.PrivateKey,
	confirmTimeout time.Duration,
	feeRate decimal.Decimal,
) *Coordinator {
	return &Coordinator{
		db: db, orders: orders, matches: matches, settlements: settlements,
		escrowRecords: escrowRecords, users: users, meters: meters, attempts: attempts,
		zones: zones, ledger: ledger, chainClient: chainClient, recRegistry: recRegistry,
		notifier: notifier, auditLog: auditLog,
		tradingProgram: tradingProgram, authority: authority, confirmTimeout: confirmTimeout,
		feeRate: feeRate,
	}
}

// Sweep pulls every non-terminal settlement and advances each by at most
// one step: escrow-and-credit (Pending through WheelingCollected in one
// commit), chain-and-REC, or notify. It never returns a per-settlement error to its
// caller — per spec.md §7, the coordinator records failures on the
// settlement row and the audit log, not to an HTTP-layer caller; the only
// error Sweep itself returns is a failure to even list the working set.
func (c *Coordinator) Sweep(ctx context.Context, limit int) error {
	pending, err := c.settlements.ListPending(ctx, limit)
	if err != nil {
		return fmt.Errorf("list pending settlements: %w", err)
	}
	for _, s := range pending {
		c.advanceOne(ctx, s)
	}
	return nil
}

func (c *Coordinator) advanceOne(ctx context.Context, s *database.Settlement) {
	var err error
	switch s.State {
	case database.StatePending:
		err = c.stepEscrowAndCredit(ctx, s)
	case database.StateEscrowed, database.StateCurrencyDebited, database.StateEnergyCredited, database.StateFeeCollected:
		// A crash mid-tx inside stepEscrowAndCredit never leaves the row in
		// one of these states (the whole step commits atomically), so
		// reaching here means a prior version of the row was left stuck by
		// an operator intervention; retry the whole step from scratch.
		err = c.stepEscrowAndCredit(ctx, s)
	case database.StateWheelingCollected:
		err = c.stepChainAndRec(ctx, s)
	case database.StateRecIssued:
		err = c.stepNotify(ctx, s)
	default:
		return
	}

	if err == nil {
		return
	}
	c.recordFailure(ctx, s, err)
}

func (c *Coordinator) recordFailure(ctx context.Context, s *database.Settlement, cause error) {
	terminal := s.Attempts+1 > maxTotalAttempts
	if err := c.settlements.RecordFailure(ctx, s.ID, cause.Error(), terminal); err != nil {
		c.auditLog.Append(ctx, audit.Event{Kind: audit.SettlementFailed, Subject: strPtr(s.ID.String()), Details: map[string]any{"record_failure_error": err.Error()}})
		return
	}
	if terminal {
		c.auditLog.Append(ctx, audit.Event{
			Actor: &s.BuyerID, Kind: audit.SettlementFailed, Subject: strPtr(s.ID.String()),
			Details: map[string]any{"match_id": s.MatchID, "attempts": s.Attempts + 1, "last_error": cause.Error()},
		})
	}
}

// stepEscrowAndCredit is spec.md §4I steps 1-2 run as one transaction:
// resolve zones, compute gross/fee/wheeling/loss_cost/effective_energy/net,
// persist them, consume the buyer's locked currency and the seller's
// locked energy, and credit the buyer's free energy and the seller's free
// currency. A failure anywhere in this transaction rolls back, leaving the
// settlement row's committed state at Pending — exactly spec.md §4I's
// "any failure in steps 1-2 fails the whole match back to Pending".
func (c *Coordinator) stepEscrowAndCredit(ctx context.Context, s *database.Settlement) error {
	match, err := c.matches.Get(ctx, s.MatchID)
	if err != nil {
		return fmt.Errorf("load match: %w", err)
	}
	buyOrder, err := c.orders.Get(ctx, match.BuyOrderID)
	if err != nil {
		return fmt.Errorf("load buy order: %w", err)
	}
	sellOrder, err := c.orders.Get(ctx, match.SellOrderID)
	if err != nil {
		return fmt.Errorf("load sell order: %w", err)
	}

	buyerZone, sellerZone := zoneOf(buyOrder), zoneOf(sellOrder)
	wheelingRate, lossFactor, err := c.zones.Resolve(ctx, sellerZone, buyerZone, time.Now())
	if err != nil {
		return fmt.Errorf("resolve zone rate: %w", err)
	}

	gross := s.EnergyAmount.Mul(s.Price)
	fee := gross.MulFrac(c.feeRate)
	wheeling := s.EnergyAmount.Mul(wheelingRate)
	lossCost := gross.MulFrac(lossFactor.Decimal())
	effectiveEnergy := s.EnergyAmount.Mul(money.New(decimal.NewFromInt(1).Sub(lossFactor.Decimal())))
	net := gross.Sub(fee).Sub(wheeling).Sub(lossCost)

	tx, err := c.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin settlement transaction: %w", err)
	}
	defer tx.Rollback()

	if err := c.settlements.PersistComputed(ctx, tx, s.ID, gross, fee, wheeling, lossCost, lossFactor, effectiveEnergy, net, buyerZone, sellerZone); err != nil {
		return err
	}

	buyerEscrow, err := findEscrow(ctx, tx, c.escrowRecords, match.BuyOrderID, database.AssetCurrency)
	if err != nil {
		return fmt.Errorf("load buyer currency escrow: %w", err)
	}
	if err := c.ledger.ConsumeBuyerCurrency(ctx, tx, s.BuyerID, buyerEscrow); err != nil {
		return fmt.Errorf("consume buyer currency: %w", err)
	}
	if err := c.settlements.AdvanceState(ctx, tx, s.ID, database.StateCurrencyDebited, nil); err != nil {
		return err
	}

	sellerEscrow, err := findEscrow(ctx, tx, c.escrowRecords, match.SellOrderID, database.AssetEnergy)
	if err != nil {
		return fmt.Errorf("load seller energy escrow: %w", err)
	}
	if err := c.ledger.ConsumeSellerEnergy(ctx, tx, s.SellerID, sellerEscrow); err != nil {
		return fmt.Errorf("consume seller energy: %w", err)
	}
	if err := c.ledger.CreditBuyer(ctx, tx, s.BuyerID, effectiveEnergy); err != nil {
		return fmt.Errorf("credit buyer energy: %w", err)
	}
	if err := c.settlements.AdvanceState(ctx, tx, s.ID, database.StateEnergyCredited, nil); err != nil {
		return err
	}

	// net already nets out fee, wheeling, and loss cost in the single sink
	// credit below; FeeCollected and WheelingCollected are accounting
	// checkpoints over that one credit, not independent sinks — the ledger
	// exposes no separate fee/wheeling account to move money through.
	if err := c.ledger.CreditSeller(ctx, tx, s.SellerID, net); err != nil {
		return fmt.Errorf("credit seller net: %w", err)
	}
	if err := c.settlements.AdvanceState(ctx, tx, s.ID, database.StateFeeCollected, nil); err != nil {
		return err
	}
	if err := c.settlements.AdvanceState(ctx, tx, s.ID, database.StateWheelingCollected, nil); err != nil {
		return err
	}

	return tx.Commit()
}

// stepChainAndRec is spec.md §4I steps 3-4: submit the on-chain settle
// instruction (idempotency-ledger-backed, so a timeout recovers by polling
// rather than re-submitting — scenario S6) and, for each sell order whose
// energy came from a verified renewable meter, issue a REC.
func (c *Coordinator) stepChainAndRec(ctx context.Context, s *database.Settlement) error {
	signature, err := withBackoff(func() (string, error) {
		return c.submitOrPollSettle(ctx, s)
	})
	if err != nil {
		return fmt.Errorf("on-chain settle: %w", err)
	}

	match, err := c.matches.Get(ctx, s.MatchID)
	if err != nil {
		return fmt.Errorf("load match for rec issuance: %w", err)
	}
	if err := c.issueRecIfVerified(ctx, s, match); err != nil {
		return fmt.Errorf("rec issuance: %w", err)
	}

	tx, err := c.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin rec-issued transaction: %w", err)
	}
	defer tx.Rollback()
	sig := signature
	if err := c.settlements.AdvanceState(ctx, tx, s.ID, database.StateRecIssued, &sig); err != nil {
		return err
	}
	return tx.Commit()
}

// submitOrPollSettle is the idempotent on-chain leg: if a prior attempt
// already recorded a submission, poll its signature for confirmation
// instead of re-submitting (S6); otherwise mark intent, submit, and
// confirm.
func (c *Coordinator) submitOrPollSettle(ctx context.Context, s *database.Settlement) (string, error) {
	operationType := "settlement_chain"
	operationID := s.ID.String()

	existing, err := c.attempts.Get(ctx, operationType, operationID)
	if err != nil && err != database.ErrNotFound {
		return "", apperrors.StorageError(apperrors.SubQueryFailed, "load transaction attempt", err)
	}

	if existing != nil && (existing.State == database.AttemptSubmitted || existing.State == database.AttemptConfirmed) && existing.ExternalSignature != nil {
		status, err := c.chainClient.ConfirmTransaction(ctx, *existing.ExternalSignature, c.confirmTimeout)
		if err != nil {
			return "", apperrors.ChainError(apperrors.SubTimeout, "poll settlement confirmation", err)
		}
		if status != chain.Confirmed {
			return "", apperrors.ChainError(apperrors.SubProgramError, fmt.Sprintf("settlement instruction %s", status), nil)
		}
		_ = c.attempts.AdvanceConfirmed(ctx, existing.ID)
		return *existing.ExternalSignature, nil
	}

	buyer, err := c.ownerAddress(ctx, s.BuyerID)
	if err != nil {
		return "", err
	}
	seller, err := c.ownerAddress(ctx, s.SellerID)
	if err != nil {
		return "", err
	}

	fingerprint := payloadFingerprint(operationType, operationID, s.Net.String(), s.EffectiveEnergy.String())
	attempt := existing
	if attempt == nil {
		attempt, err = c.attempts.Create(ctx, operationType, operationID, fingerprint)
		if err != nil {
			return "", apperrors.StorageError(apperrors.SubQueryFailed, "create transaction attempt", err)
		}
	}

	if err := c.attempts.MarkSubmitting(ctx, attempt.ID); err != nil {
		return "", apperrors.StorageError(apperrors.SubQueryFailed, "mark attempt submitting", err)
	}

	ix, err := chain.BuildSettleIx(c.tradingProgram, s.ID, s.MatchID, buyer, seller, amountToWei(s.Net), amountToWei(s.EffectiveEnergy))
	if err != nil {
		return "", apperrors.ChainError(apperrors.SubProgramError, "build settle instruction", err)
	}
	signature, err := c.chainClient.SubmitTransaction(ctx, c.authority, []chain.Instruction{ix})
	if err != nil {
		_ = c.attempts.RecordFailure(ctx, attempt.ID, err.Error())
		return "", apperrors.ChainError(apperrors.SubConnectionFailed, "submit settlement instruction", err)
	}
	if err := c.attempts.AdvanceSubmitted(ctx, attempt.ID, signature); err != nil {
		return "", apperrors.StorageError(apperrors.SubQueryFailed, "record submitted signature", err)
	}

	status, err := c.chainClient.ConfirmTransaction(ctx, signature, c.confirmTimeout)
	if err != nil {
		return "", apperrors.ChainError(apperrors.SubTimeout, "confirm settlement instruction", err)
	}
	if status != chain.Confirmed {
		return "", apperrors.ChainError(apperrors.SubProgramError, fmt.Sprintf("settlement instruction %s", status), nil)
	}
	_ = c.attempts.AdvanceConfirmed(ctx, attempt.ID)
	return signature, nil
}

// issueRecIfVerified issues a REC for the sell order's energy if the
// seller has a verified renewable meter registered; a missing or
// unverified meter is not an error, just a no-op.
func (c *Coordinator) issueRecIfVerified(ctx context.Context, s *database.Settlement, match *database.Match) error {
	sellOrder, err := c.orders.Get(ctx, match.SellOrderID)
	if err != nil {
		return fmt.Errorf("load sell order: %w", err)
	}

	meter, err := c.meters.GetByUser(ctx, s.SellerID)
	if err == database.ErrNotFound {
		return nil
	}
	if err != nil {
		return apperrors.StorageError(apperrors.SubQueryFailed, "load seller meter", err)
	}
	if meter.Status != database.MeterVerified {
		return nil
	}

	_, err = withBackoff(func() (struct{}, error) {
		_, issueErr := c.recRegistry.Issue(ctx, s.SellerID, meter.Serial, sellOrder.EnergyAmount, string(meter.Type), s.ID)
		return struct{}{}, issueErr
	})
	return err
}

// stepNotify is spec.md §4I step 5: email plus WebSocket confirmation to
// both parties, then the terminal MarkSucceeded state advance.
func (c *Coordinator) stepNotify(ctx context.Context, s *database.Settlement) error {
	buyer, err := c.users.Get(ctx, s.BuyerID)
	if err != nil {
		return fmt.Errorf("load buyer: %w", err)
	}
	seller, err := c.users.Get(ctx, s.SellerID)
	if err != nil {
		return fmt.Errorf("load seller: %w", err)
	}

	signature := ""
	if s.ExternalSignature != nil {
		signature = *s.ExternalSignature
	}
	c.notifier.NotifyTrade(ctx, buyer.Email, seller.Email, s.BuyerID, s.SellerID, notify.TradeConfirmation{
		SettlementID: s.ID, MatchID: s.MatchID, EnergyAmount: s.EffectiveEnergy, Price: s.Price,
		Net: s.Net, ExternalSignature: signature,
	})

	if err := c.settlements.MarkSucceeded(ctx, s.ID); err != nil {
		return fmt.Errorf("mark settlement succeeded: %w", err)
	}
	c.auditLog.Append(ctx, audit.Event{Actor: &s.BuyerID, Kind: audit.SettlementSucceeded, Subject: strPtr(s.ID.String())})
	return nil
}

func (c *Coordinator) ownerAddress(ctx context.Context, userID uuid.UUID) (common.Address, error) {
	user, err := c.users.Get(ctx, userID)
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

// withBackoff retries fn up to stepRetryMaxAttempts times with exponential
// backoff (base stepRetryBase, multiplier stepRetryMultiplier), returning
// the last error if every attempt fails.
func withBackoff[T any](fn func() (T, error)) (T, error) {
	var zero T
	delay := stepRetryBase
	var lastErr error
	for attempt := 1; attempt <= stepRetryMaxAttempts; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err
		if attempt < stepRetryMaxAttempts {
			time.Sleep(delay)
			delay *= stepRetryMultiplier
		}
	}
	return zero, lastErr
}

// payloadFingerprint is a stable hash of operation-type + operation-id +
// inputs, making a settlement attempt safely re-runnable (spec.md §4I).
func payloadFingerprint(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// amountToWei converts a money.Amount (9 fractional digits) to the
// integer on-chain representation the trading program expects.
func amountToWei(a money.Amount) *big.Int {
	return a.Decimal().Shift(money.Scale).BigInt()
}

func zoneOf(o *database.Order) string {
	if o.Zone == nil {
		return "default"
	}
	return *o.Zone
}

// findEscrow locates the locked escrow record of the given asset among an
// order's records (an order has at most one escrow record per asset).
func findEscrow(ctx context.Context, tx *sql.Tx, repo *database.EscrowRepository, orderID uuid.UUID, asset database.EscrowAsset) (*database.EscrowRecord, error) {
	records, err := repo.ListForOrder(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	for _, er := range records {
		if er.Asset == asset && er.State == database.EscrowLocked {
			return er, nil
		}
	}
	return nil, fmt.Errorf("no locked %s escrow record for order %s", asset, orderID)
}

func strPtr(s string) *string { return &s }
