package clearing

import (
	"testing"

	"github.com/gridtokenx/apigateway-core/pkg/database"
	"github.com/gridtokenx/apigateway-core/pkg/money"
)

func TestBookPriceLimitOrderUsesItsOwnPrice(t *testing.T) {
	req := NewOrder{Kind: database.KindLimit, Side: database.SideBuy, PricePerKWh: money.NewFromFloat(5.5)}
	got := bookPrice(req)
	if got.Cmp(money.NewFromFloat(5.5)) != 0 {
		t.Fatalf("bookPrice(limit) = %v, want 5.5", got)
	}
}

func TestBookPriceMarketBuyUsesCeiling(t *testing.T) {
	req := NewOrder{Kind: database.KindMarket, Side: database.SideBuy}
	got := bookPrice(req)
	if got.Cmp(money.New(marketBuyCeiling)) != 0 {
		t.Fatalf("bookPrice(market buy) = %v, want ceiling", got)
	}
}

func TestBookPriceMarketSellUsesZero(t *testing.T) {
	req := NewOrder{Kind: database.KindMarket, Side: database.SideSell}
	got := bookPrice(req)
	if !got.IsZero() {
		t.Fatalf("bookPrice(market sell) = %v, want zero", got)
	}
}
