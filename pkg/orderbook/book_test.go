package orderbook

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gridtokenx/apigateway-core/pkg/database"
	"github.com/gridtokenx/apigateway-core/pkg/money"
)

func newEntry(price float64, remaining float64) *Entry {
	return &Entry{
		OrderID:      uuid.New(),
		UserID:       uuid.New(),
		Price:        decimal.NewFromFloat(price),
		EnergyAmount: money.NewFromFloat(remaining),
		Remaining:    money.NewFromFloat(remaining),
		ExpiresAt:    time.Now().Add(time.Hour),
		CreatedAt:    time.Now(),
	}
}

func TestBestBidAndAskOrdering(t *testing.T) {
	b := New()
	b.Insert(database.SideBuy, newEntry(10, 1))
	b.Insert(database.SideBuy, newEntry(12, 1))
	b.Insert(database.SideBuy, newEntry(8, 1))

	b.Insert(database.SideSell, newEntry(15, 1))
	b.Insert(database.SideSell, newEntry(13, 1))
	b.Insert(database.SideSell, newEntry(20, 1))

	bid, ok := b.BestBid()
	if !ok || !bid.Price.Equal(decimal.NewFromFloat(12)) {
		t.Fatalf("BestBid = %v, want 12", bid)
	}
	ask, ok := b.BestAsk()
	if !ok || !ask.Price.Equal(decimal.NewFromFloat(13)) {
		t.Fatalf("BestAsk = %v, want 13", ask)
	}
}

func TestInsertSamePriceOrdersByTime(t *testing.T) {
	b := New()
	first := newEntry(10, 1)
	time.Sleep(time.Millisecond)
	second := newEntry(10, 1)

	b.Insert(database.SideBuy, first)
	b.Insert(database.SideBuy, second)

	head, ok := b.PeekHead(database.SideBuy)
	if !ok || head.OrderID != first.OrderID {
		t.Fatalf("expected first-inserted order at head of same-price level")
	}
}

func TestRemove(t *testing.T) {
	b := New()
	e := newEntry(10, 1)
	b.Insert(database.SideBuy, e)
	b.Remove(e.OrderID)

	if _, ok := b.BestBid(); ok {
		t.Fatal("expected empty book after removing only order")
	}
}

func TestDepthAggregatesVolumePerLevel(t *testing.T) {
	b := New()
	b.Insert(database.SideSell, newEntry(10, 2))
	b.Insert(database.SideSell, newEntry(10, 3))
	b.Insert(database.SideSell, newEntry(11, 1))

	depth := b.Depth(database.SideSell)
	if len(depth) != 2 {
		t.Fatalf("Depth length = %d, want 2", len(depth))
	}
	if !depth[0].Price.Equal(decimal.NewFromFloat(10)) {
		t.Fatalf("Depth[0].Price = %v, want 10", depth[0].Price)
	}
	if got, want := depth[0].Volume.String(), money.NewFromFloat(5).String(); got != want {
		t.Fatalf("Depth[0].Volume = %s, want %s", got, want)
	}
}

func TestExpireRemovesPastDeadline(t *testing.T) {
	b := New()
	expired := newEntry(10, 1)
	expired.ExpiresAt = time.Now().Add(-time.Minute)
	live := newEntry(11, 1)

	b.Insert(database.SideBuy, expired)
	b.Insert(database.SideBuy, live)

	ids := b.Expire(time.Now())
	if len(ids) != 1 || ids[0] != expired.OrderID {
		t.Fatalf("Expire() = %v, want [%v]", ids, expired.OrderID)
	}

	bid, ok := b.BestBid()
	if !ok || bid.OrderID != live.OrderID {
		t.Fatal("expected only the live order to remain")
	}
}

func TestPopHeadRemovesBestEntry(t *testing.T) {
	b := New()
	b.Insert(database.SideSell, newEntry(10, 1))
	b.Insert(database.SideSell, newEntry(9, 1))

	e, ok := b.PopHead(database.SideSell)
	if !ok || !e.Price.Equal(decimal.NewFromFloat(9)) {
		t.Fatalf("PopHead = %v, want price 9", e)
	}

	ask, ok := b.BestAsk()
	if !ok || !ask.Price.Equal(decimal.NewFromFloat(10)) {
		t.Fatalf("remaining BestAsk = %v, want 10", ask)
	}
}

func TestUpdateRemainingAdjustsLevelVolume(t *testing.T) {
	b := New()
	e := newEntry(10, 5)
	b.Insert(database.SideBuy, e)

	b.UpdateRemaining(e.OrderID, money.NewFromFloat(2))

	depth := b.Depth(database.SideBuy)
	if len(depth) != 1 {
		t.Fatalf("Depth length = %d, want 1", len(depth))
	}
	if got, want := depth[0].Volume.String(), money.NewFromFloat(2).String(); got != want {
		t.Fatalf("Volume = %s, want %s", got, want)
	}
}

func TestMidPriceAndSpread(t *testing.T) {
	b := New()
	if _, ok := b.MidPrice(); ok {
		t.Fatal("expected no mid price on empty book")
	}

	b.Insert(database.SideBuy, newEntry(10, 1))
	b.Insert(database.SideSell, newEntry(12, 1))

	mid, ok := b.MidPrice()
	if !ok || !mid.Equal(decimal.NewFromFloat(11)) {
		t.Fatalf("MidPrice = %v, want 11", mid)
	}
	spread, ok := b.Spread()
	if !ok || !spread.Equal(decimal.NewFromFloat(2)) {
		t.Fatalf("Spread = %v, want 2", spread)
	}
}

func TestClearEmptiesBook(t *testing.T) {
	b := New()
	b.Insert(database.SideBuy, newEntry(10, 1))
	b.Insert(database.SideSell, newEntry(11, 1))

	b.Clear()

	if _, ok := b.BestBid(); ok {
		t.Fatal("expected no bids after Clear")
	}
	if _, ok := b.BestAsk(); ok {
		t.Fatal("expected no asks after Clear")
	}
}
