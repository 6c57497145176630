// Copyright 2025 GridTokenX
//
// Package matching implements the price-time-priority batch matching
// engine of spec.md §4F, operating over an epoch's in-memory order book.
package matching

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gridtokenx/apigateway-core/pkg/database"
	"github.com/gridtokenx/apigateway-core/pkg/money"
	"github.com/gridtokenx/apigateway-core/pkg/orderbook"
)

// Engine runs batch matching for one epoch's book against the
// persistence layer.
type Engine struct {
	db           *database.Client
	orders       *database.OrderRepository
	matches      *database.MatchRepository
	settlements  *database.SettlementRepository
	epochs       *database.EpochRepository
	feeRate      decimal.Decimal
}

func New(db *database.Client, orders *database.OrderRepository, matches *database.MatchRepository, settlements *database.SettlementRepository, epochs *database.EpochRepository, feeRate decimal.Decimal) *Engine {
	return &Engine{db: db, orders: orders, matches: matches, settlements: settlements, epochs: epochs, feeRate: feeRate}
}

// Result summarises one run_matching pass.
type Result struct {
	MatchedOrders int
	TotalVolume   money.Amount
	ClearingPrice *money.Amount
}

// RunMatching drains crossing orders out of book head-by-head
// (price-time priority), persisting a match and settlement row per cross
// and updating each order's fill state, all within one transaction per
// cross so a crash never leaves a half-written match. A self-trade at the
// heads only sets the buy side aside, advancing to its next head while the
// resting ask stays put, per spec.md §4F's "skipped past in favour of the
// next head" — evicting both heads would starve a genuine counterparty
// resting directly behind either one.
func (e *Engine) RunMatching(ctx context.Context, epoch *database.Epoch, book *orderbook.Book) (*Result, error) {
	result := &Result{TotalVolume: money.Zero}

	var skippedBuys []*orderbook.Entry
	var weightedPriceSum, volumeSum money.Amount = money.Zero, money.Zero

	for {
		bid, okBid := book.PeekHead(database.SideBuy)
		ask, okAsk := book.PeekHead(database.SideSell)
		if !okBid || !okAsk || bid.Price.LessThan(ask.Price) {
			break
		}

		if bid.UserID == ask.UserID {
			skipped, _ := book.PopHead(database.SideBuy)
			skippedBuys = append(skippedBuys, skipped)
			continue
		}

		buy, _ := book.PopHead(database.SideBuy)
		sell, _ := book.PopHead(database.SideSell)

		// Taker-pays-maker at the ask, except a market order's own price
		// (0 for a market sell, marketBuyCeiling for a market buy) is
		// never the real crossing price: when the ask side is the
		// aggressing market order, the bid's resting limit price governs
		// instead.
		matchPrice := money.New(ask.Price)
		if sell.Kind == database.KindMarket {
			matchPrice = money.New(bid.Price)
		}
		matchAmount := money.Min(buy.Remaining, sell.Remaining)

		if err := e.recordMatch(ctx, epoch, buy, sell, matchAmount, matchPrice); err != nil {
			return nil, fmt.Errorf("record match: %w", err)
		}

		buy.Remaining = buy.Remaining.Sub(matchAmount)
		sell.Remaining = sell.Remaining.Sub(matchAmount)

		if buy.Remaining.IsPositive() {
			book.Insert(database.SideBuy, buy)
		}
		if sell.Remaining.IsPositive() {
			book.Insert(database.SideSell, sell)
		}

		result.MatchedOrders++
		result.TotalVolume = result.TotalVolume.Add(matchAmount)
		weightedPriceSum = weightedPriceSum.Add(matchPrice.Mul(matchAmount))
		volumeSum = volumeSum.Add(matchAmount)
	}

	for _, entry := range skippedBuys {
		book.Insert(database.SideBuy, entry)
	}

	if volumeSum.IsPositive() {
		clearing := money.New(weightedPriceSum.Decimal().Div(volumeSum.Decimal()))
		result.ClearingPrice = &clearing
	}

	if err := e.epochs.SetClearingStats(ctx, epoch.ID, result.ClearingPrice, result.TotalVolume, 0, result.MatchedOrders); err != nil {
		return nil, fmt.Errorf("set clearing stats: %w", err)
	}
	return result, nil
}

// recordMatch persists the match, updates both orders' fill state, and
// enqueues a pending settlement row, all in one transaction (spec.md §4F
// step 3, §5 ordering guarantee (ii)).
func (e *Engine) recordMatch(ctx context.Context, epoch *database.Epoch, buy, sell *orderbook.Entry, amount, price money.Amount) error {
	tx, err := e.db.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	match := &database.Match{
		EpochID:       epoch.ID,
		BuyOrderID:    buy.OrderID,
		SellOrderID:   sell.OrderID,
		MatchedAmount: amount,
		MatchPrice:    price,
		CreatedAt:     time.Now(),
	}
	if err := e.matches.CreateTx(ctx, tx, match); err != nil {
		return err
	}

	if err := updateFillTx(ctx, tx, e.orders, buy, amount); err != nil {
		return err
	}
	if err := updateFillTx(ctx, tx, e.orders, sell, amount); err != nil {
		return err
	}

	gross := amount.Mul(price)
	fee := gross.MulFrac(e.feeRate)
	settlement := &database.Settlement{
		MatchID:      match.ID,
		BuyerID:      buy.UserID,
		SellerID:     sell.UserID,
		EnergyAmount: amount,
		Price:        price,
		Gross:        gross,
		Fee:          fee,
	}
	if err := e.settlements.CreateTx(ctx, tx, settlement); err != nil {
		return err
	}
	if err := e.matches.SetSettlement(ctx, tx, match.ID, settlement.ID); err != nil {
		return err
	}

	return tx.Commit()
}

// updateFillTx records entry's cumulative fill after consuming amount.
// entry.Remaining and entry.EnergyAmount are the order's state as of
// before this match (recordMatch is called prior to the caller
// subtracting amount from entry.Remaining), so the order's prior filled
// amount is EnergyAmount - Remaining, and its new total is that plus
// amount.
func updateFillTx(ctx context.Context, tx *sql.Tx, orders *database.OrderRepository, entry *orderbook.Entry, amount money.Amount) error {
	priorFilled := entry.EnergyAmount.Sub(entry.Remaining)
	newFilled := priorFilled.Add(amount)
	newRemaining := entry.Remaining.Sub(amount)

	status := database.OrderPartiallyFilled
	if newRemaining.IsZero() {
		status = database.OrderFilled
	}
	return orders.UpdateFillTx(ctx, tx, entry.OrderID, newFilled, status)
}
