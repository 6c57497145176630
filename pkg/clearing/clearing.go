// Copyright 2025 GridTokenX
//
// Package clearing orchestrates order placement and cancellation: the
// escrow lock (§4G), the order row, and the in-memory book all move
// together, plus the market-order immediate-match-or-cancel edge case of
// §4F that keeps market orders from ever resting on the book.
package clearing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gridtokenx/apigateway-core/pkg/apperrors"
	"github.com/gridtokenx/apigateway-core/pkg/audit"
	"github.com/gridtokenx/apigateway-core/pkg/database"
	"github.com/gridtokenx/apigateway-core/pkg/epoch"
	"github.com/gridtokenx/apigateway-core/pkg/escrow"
	"github.com/gridtokenx/apigateway-core/pkg/matching"
	"github.com/gridtokenx/apigateway-core/pkg/money"
	"github.com/gridtokenx/apigateway-core/pkg/orderbook"
)

// Books tracks one live order book per active epoch, keyed by epoch id.
// The clearing engine and the matching engine share the same instance so
// an order placed mid-epoch is visible to the next matching pass.
type Books struct {
	byEpoch map[uuid.UUID]*orderbook.Book
}

func NewBooks() *Books {
	return &Books{byEpoch: make(map[uuid.UUID]*orderbook.Book)}
}

// For returns the book for an epoch, creating an empty one on first use.
func (b *Books) For(epochID uuid.UUID) *orderbook.Book {
	book, ok := b.byEpoch[epochID]
	if !ok {
		book = orderbook.New()
		b.byEpoch[epochID] = book
	}
	return book
}

// Engine places and cancels orders against the active epoch's book,
// holding escrow for the lifetime of the resting order.
type Engine struct {
	db       *database.Client
	orders   *database.OrderRepository
	epochs   *database.EpochRepository
	scheduler *epoch.Scheduler
	ledger   *escrow.Ledger
	escrowRecords *database.EscrowRepository
	matcher  *matching.Engine
	books    *Books
	auditLog *audit.Log
}

func New(db *database.Client, orders *database.OrderRepository, epochs *database.EpochRepository,
	scheduler *epoch.Scheduler, ledger *escrow.Ledger, escrowRecords *database.EscrowRepository,
	matcher *matching.Engine, books *Books, auditLog *audit.Log) *Engine {
	return &Engine{
		db: db, orders: orders, epochs: epochs, scheduler: scheduler, ledger: ledger,
		escrowRecords: escrowRecords, matcher: matcher, books: books, auditLog: auditLog,
	}
}

// NewOrder is the gateway-facing request to place an order.
type NewOrder struct {
	UserID       uuid.UUID
	Side         database.OrderSide
	Kind         database.OrderKind
	EnergyAmount money.Amount
	PricePerKWh  money.Amount
	Zone         *string
	ExpiresAt    time.Time
}

// PlaceOrder resolves the active epoch, locks escrow, inserts the order
// row and book entry as one unit, then — for a market order — runs an
// immediate match pass and cancels with no_liquidity if it didn't cross.
func (e *Engine) PlaceOrder(ctx context.Context, req NewOrder) (*database.Order, error) {
	if req.EnergyAmount.LessOrEqual(money.Zero) {
		return nil, apperrors.Validation("energy_amount must be positive", "energy_amount")
	}
	if req.Kind == database.KindMarket {
		req.PricePerKWh = money.Zero
	} else if req.PricePerKWh.LessOrEqual(money.Zero) {
		return nil, apperrors.Validation("price_per_kwh must be positive for a limit order", "price_per_kwh")
	}

	ep, err := e.scheduler.GetOrCreate(ctx, time.Now())
	if err != nil {
		return nil, fmt.Errorf("resolve active epoch: %w", err)
	}
	if ep.Status != database.EpochActive {
		return nil, apperrors.EpochNotActive(fmt.Sprintf("epoch %d is not accepting orders", ep.EpochNumber))
	}
	if req.ExpiresAt.IsZero() || req.ExpiresAt.After(ep.End) {
		req.ExpiresAt = ep.End
	}

	order := &database.Order{
		UserID:       req.UserID,
		EpochID:      ep.ID,
		Side:         req.Side,
		Kind:         req.Kind,
		EnergyAmount: req.EnergyAmount,
		PricePerKWh:  req.PricePerKWh,
		ExpiresAt:    req.ExpiresAt,
		Zone:         req.Zone,
	}

	tx, err := e.db.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin order tx: %w", err)
	}
	defer tx.Rollback()

	if err := e.orders.CreateTx(ctx, tx, order); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	if req.Side == database.SideBuy {
		cost := req.EnergyAmount.Mul(bookPrice(req))
		if _, err := e.ledger.LockBuyerCurrency(ctx, tx, order.ID, req.UserID, cost); err != nil {
			return nil, err
		}
	} else {
		if _, err := e.ledger.LockSellerEnergy(ctx, tx, order.ID, req.UserID, req.EnergyAmount); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit order tx: %w", err)
	}

	entry := &orderbook.Entry{
		OrderID:      order.ID,
		UserID:       order.UserID,
		Kind:         order.Kind,
		Price:        bookPrice(req).Decimal(),
		EnergyAmount: order.EnergyAmount,
		Remaining:    order.EnergyAmount,
		ExpiresAt:    order.ExpiresAt,
		CreatedAt:    order.CreatedAt,
	}
	book := e.books.For(ep.ID)
	book.Insert(order.Side, entry)

	e.auditLog.Append(ctx, audit.Event{
		Actor: &req.UserID, Kind: audit.OrderCreated, Subject: strPtr(order.ID.String()),
		Details: map[string]any{"side": order.Side, "kind": order.Kind, "energy_amount": order.EnergyAmount.String()},
	})

	if order.Kind == database.KindMarket {
		return e.settleMarketOrder(ctx, ep, book, order)
	}
	return order, nil
}

// bookPrice resolves the price a market order crosses at: any ask on the
// buy side, any bid on the sell side, per spec.md §4F's "willing to pay/
// take any" rule. The book itself stores whatever crossing price it was
// given; a market order's own PricePerKWh column stays 0.
func bookPrice(req NewOrder) money.Amount {
	if req.Kind == database.KindLimit {
		return req.PricePerKWh
	}
	if req.Side == database.SideBuy {
		return money.New(marketBuyCeiling)
	}
	return money.Zero
}

// marketBuyCeiling is the crossing price a market buy order is inserted
// at: higher than any realistic ask, so it crosses the best ask
// immediately rather than resting as the new best bid.
var marketBuyCeiling = decimal.New(1, 12)

// settleMarketOrder runs one matching pass immediately after insertion; a
// market order never rests on the book, so if the pass leaves it
// unfilled it is cancelled with reason no_liquidity.
func (e *Engine) settleMarketOrder(ctx context.Context, ep *database.Epoch, book *orderbook.Book, order *database.Order) (*database.Order, error) {
	if _, err := e.matcher.RunMatching(ctx, ep, book); err != nil {
		return nil, fmt.Errorf("immediate match market order: %w", err)
	}

	refreshed, err := e.orders.Get(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	if refreshed.Status == database.OrderFilled || refreshed.Status == database.OrderPartiallyFilled {
		return refreshed, nil
	}

	book.Remove(order.ID)
	if err := e.CancelOrder(ctx, order.UserID, order.ID); err != nil {
		return nil, fmt.Errorf("cancel unmatched market order: %w", err)
	}
	return nil, apperrors.OrderNotMatched("no_liquidity")
}

// CancelOrder releases the order's escrow and removes it from the book.
// Only the order's owner may cancel it.
func (e *Engine) CancelOrder(ctx context.Context, userID, orderID uuid.UUID) error {
	order, err := e.orders.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if order.UserID != userID {
		return apperrors.Authorization("order belongs to a different user")
	}
	if order.Status != database.OrderPending && order.Status != database.OrderPartiallyFilled {
		return apperrors.Conflict(fmt.Sprintf("order is %s, not cancellable", order.Status))
	}

	tx, err := e.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin cancel tx: %w", err)
	}
	defer tx.Rollback()

	if err := e.orders.UpdateStatus(ctx, tx, orderID, database.OrderCancelled); err != nil {
		return fmt.Errorf("mark order cancelled: %w", err)
	}

	records, err := e.escrowRecords.ListForOrder(ctx, tx, orderID)
	if err != nil {
		return fmt.Errorf("list order escrow: %w", err)
	}
	for _, rec := range records {
		if rec.State != database.EscrowLocked {
			continue
		}
		if err := e.ledger.Release(ctx, tx, userID, rec); err != nil {
			return fmt.Errorf("release escrow: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit cancel tx: %w", err)
	}

	e.books.For(order.EpochID).Remove(orderID)
	e.auditLog.Append(ctx, audit.Event{
		Actor: &userID, Kind: audit.OrderCancelled, Subject: strPtr(orderID.String()),
	})
	return nil
}

func strPtr(s string) *string { return &s }
