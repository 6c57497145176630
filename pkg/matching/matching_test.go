package matching

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gridtokenx/apigateway-core/pkg/config"
	"github.com/gridtokenx/apigateway-core/pkg/database"
	"github.com/gridtokenx/apigateway-core/pkg/money"
	"github.com/gridtokenx/apigateway-core/pkg/orderbook"
)

// These tests exercise RunMatching against a real Postgres instance, since
// Engine holds concrete repository types rather than interfaces. They are
// skipped unless GATEWAYCORE_TEST_DB names a reachable database, matching
// this repo's own pkg/database test convention.
var testClient *database.Client

func TestMain(m *testing.M) {
	connStr := os.Getenv("GATEWAYCORE_TEST_DB")
	if connStr == "" {
		os.Exit(0)
	}

	cfg := &config.Config{DatabaseURL: connStr, DatabaseMaxConns: 5, DatabaseMinConns: 1}
	var err error
	testClient, err = database.NewClient(cfg)
	if err != nil {
		panic("connect test database: " + err.Error())
	}

	code := m.Run()
	testClient.Close()
	os.Exit(code)
}

func newTestOrder(ctx context.Context, t *testing.T, orders *database.OrderRepository, userID, epochID uuid.UUID, side database.OrderSide, price, amount float64) *database.Order {
	t.Helper()
	tx, err := testClient.BeginTx(ctx)
	if err != nil {
		t.Fatalf("begin tx: %v", err)
	}
	o := &database.Order{
		UserID:       userID,
		EpochID:      epochID,
		Side:         side,
		Kind:         database.KindLimit,
		EnergyAmount: money.NewFromFloat(amount),
		PricePerKWh:  money.NewFromFloat(price),
		ExpiresAt:    time.Now().Add(time.Hour),
	}
	if err := orders.CreateTx(ctx, tx, o); err != nil {
		tx.Rollback()
		t.Fatalf("create order: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit order: %v", err)
	}
	return o
}

// TestSelfTradeIsSkippedNotMatched is Property 3: a user's own resting buy
// and sell at crossing prices must never produce a match against each
// other, even though price-time priority would otherwise cross them first.
func TestSelfTradeIsSkippedNotMatched(t *testing.T) {
	if testClient == nil {
		t.Skip("GATEWAYCORE_TEST_DB not configured")
	}
	ctx := context.Background()

	users := database.NewUserRepository(testClient)
	epochs := database.NewEpochRepository(testClient)
	orders := database.NewOrderRepository(testClient)
	matches := database.NewMatchRepository(testClient)
	settlements := database.NewSettlementRepository(testClient)

	same, err := users.Create(ctx, "self-trader-"+uuid.New().String()+"@example.test", database.RoleUser)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	other, err := users.Create(ctx, "counterparty-"+uuid.New().String()+"@example.test", database.RoleUser)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	ep, err := epochs.CreatePending(ctx, time.Now().UnixNano(), time.Now(), time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("create epoch: %v", err)
	}

	buy := newTestOrder(ctx, t, orders, same.ID, ep.ID, database.SideBuy, 10, 5)
	sell := newTestOrder(ctx, t, orders, same.ID, ep.ID, database.SideSell, 9, 5)

	book := orderbook.New()
	book.Insert(database.SideBuy, &orderbook.Entry{
		OrderID: buy.ID, UserID: buy.UserID, Price: decimal.NewFromFloat(10),
		EnergyAmount: buy.EnergyAmount, Remaining: buy.EnergyAmount, ExpiresAt: buy.ExpiresAt, CreatedAt: buy.CreatedAt,
	})
	book.Insert(database.SideSell, &orderbook.Entry{
		OrderID: sell.ID, UserID: sell.UserID, Price: decimal.NewFromFloat(9),
		EnergyAmount: sell.EnergyAmount, Remaining: sell.EnergyAmount, ExpiresAt: sell.ExpiresAt, CreatedAt: sell.CreatedAt,
	})

	engine := New(testClient, orders, matches, settlements, epochs, decimal.Zero)
	result, err := engine.RunMatching(ctx, ep, book)
	if err != nil {
		t.Fatalf("RunMatching: %v", err)
	}
	if result.MatchedOrders != 0 {
		t.Fatalf("MatchedOrders = %d, want 0 for a self-trade pair", result.MatchedOrders)
	}

	if _, ok := book.PeekHead(database.SideBuy); !ok {
		t.Fatal("expected the self-traded buy order to remain on the book")
	}
	if _, ok := book.PeekHead(database.SideSell); !ok {
		t.Fatal("expected the self-traded sell order to remain on the book")
	}

	// A genuine counterparty order at a crossing price must still match.
	crossBuy := newTestOrder(ctx, t, orders, other.ID, ep.ID, database.SideBuy, 10, 5)
	book.Insert(database.SideBuy, &orderbook.Entry{
		OrderID: crossBuy.ID, UserID: crossBuy.UserID, Price: decimal.NewFromFloat(10),
		EnergyAmount: crossBuy.EnergyAmount, Remaining: crossBuy.EnergyAmount, ExpiresAt: crossBuy.ExpiresAt, CreatedAt: crossBuy.CreatedAt,
	})
	result2, err := engine.RunMatching(ctx, ep, book)
	if err != nil {
		t.Fatalf("RunMatching (cross): %v", err)
	}
	if result2.MatchedOrders != 1 {
		t.Fatalf("MatchedOrders = %d, want 1 once a genuine counterparty crosses", result2.MatchedOrders)
	}
}
