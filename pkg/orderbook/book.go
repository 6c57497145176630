// Copyright 2025 GridTokenX
//
// Package orderbook implements the in-memory, per-epoch two-sided order
// book. Price levels are keyed directly by decimal.Decimal in a
// slice-backed sorted list (binary-search insert, O(log n) lookup) rather
// than the string-encoding workaround flagged as a redesign target — a
// proper ordered-key container without pulling in an external tree
// dependency the examples don't carry.
package orderbook

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gridtokenx/apigateway-core/pkg/database"
	"github.com/gridtokenx/apigateway-core/pkg/money"
)

// Entry is the book's in-memory projection of a resting order.
type Entry struct {
	OrderID      uuid.UUID
	UserID       uuid.UUID
	Kind         database.OrderKind
	Price        decimal.Decimal
	EnergyAmount money.Amount
	Remaining    money.Amount
	ExpiresAt    time.Time
	CreatedAt    time.Time
}

// level holds every resting order at one price, ordered by creation time.
type level struct {
	price   decimal.Decimal
	entries []*Entry
	volume  money.Amount
}

// Book is one epoch's two-sided book. Buy levels are kept price-descending,
// sell levels price-ascending; within a level, orders are time-ascending.
// A single RWMutex guards the whole book, matching spec.md §5's per-epoch
// exclusive-lock model.
type Book struct {
	mu    sync.RWMutex
	buys  []*level // descending by price
	sells []*level // ascending by price

	byOrder map[uuid.UUID]*Entry
}

func New() *Book {
	return &Book{byOrder: make(map[uuid.UUID]*Entry)}
}

// Insert adds a resting order to the appropriate side. O(log n) on the
// price level via binary search, O(1) amortized for the level's slice.
func (b *Book) Insert(side database.OrderSide, e *Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.byOrder[e.OrderID] = e

	if side == database.SideBuy {
		b.buys = insertLevel(b.buys, e, descending)
	} else {
		b.sells = insertLevel(b.sells, e, ascending)
	}
}

type ordering int

const (
	ascending ordering = iota
	descending
)

func insertLevel(levels []*level, e *Entry, ord ordering) []*level {
	idx := sort.Search(len(levels), func(i int) bool {
		if ord == ascending {
			return !levels[i].price.LessThan(e.Price)
		}
		return !levels[i].price.GreaterThan(e.Price)
	})

	if idx < len(levels) && levels[idx].price.Equal(e.Price) {
		levels[idx].entries = append(levels[idx].entries, e)
		levels[idx].volume = levels[idx].volume.Add(e.Remaining)
		return levels
	}

	lv := &level{price: e.Price, entries: []*Entry{e}, volume: e.Remaining}
	levels = append(levels, nil)
	copy(levels[idx+1:], levels[idx:])
	levels[idx] = lv
	return levels
}

// Remove drops an order from the book by id. O(1) order lookup, then a
// linear scan of each side's levels; empty price levels are dropped.
func (b *Book) Remove(orderID uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(orderID)
}

func (b *Book) removeLocked(orderID uuid.UUID) {
	e, ok := b.byOrder[orderID]
	if !ok {
		return
	}
	delete(b.byOrder, orderID)

	b.buys = removeFromLevels(b.buys, e)
	b.sells = removeFromLevels(b.sells, e)
}

func removeFromLevels(levels []*level, e *Entry) []*level {
	for li, lv := range levels {
		if !lv.price.Equal(e.Price) {
			continue
		}
		for i, entry := range lv.entries {
			if entry.OrderID == e.OrderID {
				lv.entries = append(lv.entries[:i], lv.entries[i+1:]...)
				lv.volume = lv.volume.Sub(entry.Remaining)
				break
			}
		}
		if len(lv.entries) == 0 {
			return append(levels[:li], levels[li+1:]...)
		}
		return levels
	}
	return levels
}

// UpdateRemaining adjusts a resting order's remaining amount after a
// partial fill, keeping the level's aggregate volume in sync.
func (b *Book) UpdateRemaining(orderID uuid.UUID, remaining money.Amount) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.byOrder[orderID]
	if !ok {
		return
	}
	delta := remaining.Sub(e.Remaining)
	e.Remaining = remaining

	for _, levels := range [][]*level{b.buys, b.sells} {
		for _, lv := range levels {
			if !lv.price.Equal(e.Price) {
				continue
			}
			for _, entry := range lv.entries {
				if entry == e {
					lv.volume = lv.volume.Add(delta)
				}
			}
		}
	}
}

// Expire removes every order whose ExpiresAt <= now, returning their ids
// so the caller can mark them expired in storage.
func (b *Book) Expire(now time.Time) []uuid.UUID {
	b.mu.Lock()
	defer b.mu.Unlock()

	var expired []uuid.UUID
	for id, e := range b.byOrder {
		if !e.ExpiresAt.After(now) {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		b.removeLocked(id)
	}
	return expired
}

// BestBid returns the best (highest) buy entry, if any.
func (b *Book) BestBid() (*Entry, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return headEntry(b.buys)
}

// BestAsk returns the best (lowest) sell entry, if any.
func (b *Book) BestAsk() (*Entry, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return headEntry(b.sells)
}

func headEntry(levels []*level) (*Entry, bool) {
	if len(levels) == 0 || len(levels[0].entries) == 0 {
		return nil, false
	}
	return levels[0].entries[0], true
}

// MidPrice returns (best_bid + best_ask) / 2, or false if either side is empty.
func (b *Book) MidPrice() (decimal.Decimal, bool) {
	bid, okBid := b.BestBid()
	ask, okAsk := b.BestAsk()
	if !okBid || !okAsk {
		return decimal.Zero, false
	}
	return bid.Price.Add(ask.Price).Div(decimal.NewFromInt(2)), true
}

// Spread returns best_ask - best_bid, or false if either side is empty.
func (b *Book) Spread() (decimal.Decimal, bool) {
	bid, okBid := b.BestBid()
	ask, okAsk := b.BestAsk()
	if !okBid || !okAsk {
		return decimal.Zero, false
	}
	return ask.Price.Sub(bid.Price), true
}

// DepthLevel is one read-only price-level projection for a book snapshot.
type DepthLevel struct {
	Price  decimal.Decimal
	Volume money.Amount
}

// Depth returns a read-only snapshot of every level on one side, best
// price first.
func (b *Book) Depth(side database.OrderSide) []DepthLevel {
	b.mu.RLock()
	defer b.mu.RUnlock()

	levels := b.buys
	if side == database.SideSell {
		levels = b.sells
	}

	out := make([]DepthLevel, 0, len(levels))
	for _, lv := range levels {
		out = append(out, DepthLevel{Price: lv.price, Volume: lv.volume})
	}
	return out
}

// Clear wipes the book, used when the owning epoch closes.
func (b *Book) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buys = nil
	b.sells = nil
	b.byOrder = make(map[uuid.UUID]*Entry)
}

// PopHead removes and returns the best entry for side, used by the
// matching loop which advances through the book head-by-head.
func (b *Book) PopHead(side database.OrderSide) (*Entry, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	levels := b.buys
	if side == database.SideSell {
		levels = b.sells
	}
	e, ok := headEntry(levels)
	if !ok {
		return nil, false
	}
	b.removeLocked(e.OrderID)
	return e, true
}

// PeekHead returns the best entry for side without removing it.
func (b *Book) PeekHead(side database.OrderSide) (*Entry, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	levels := b.buys
	if side == database.SideSell {
		levels = b.sells
	}
	return headEntry(levels)
}
