package orders

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/ibkr-mcp-gateway/internal/audit"
	"github.com/ajitpratap0/ibkr-mcp-gateway/internal/config"
	"github.com/ajitpratap0/ibkr-mcp-gateway/internal/ibkr"
	"github.com/ajitpratap0/ibkr-mcp-gateway/internal/safety"
)

func testSafetyConfig() *config.SafetyConfig {
	return &config.SafetyConfig{
		EnableTrading:                   true,
		EnableForexTrading:              true,
		EnableInternationalTrading:      true,
		EnableStopLossOrders:            true,
		RequirePaperAccountVerification: true,
		AllowedAccountPrefixes:          []string{"DU", "DUH"},
		MaxOrderSize:                    1000,
		MaxOrderValueUSD:                100000,
		MaxDailyOrders:                  50,
		MaxStopLossOrders:               25,
		MaxOrdersPerMinute:              100,
		MaxMarketDataRequestsPerMinute:  100,
		MaxHistoricalRequestsPerMinute:  100,
		SymbolSearchRateLimitSeconds:    1.1,
		EnableKillSwitch:                true,
	}
}

type fixture struct {
	manager *Manager
	sim     *ibkr.SimBroker
	safety  *safety.Manager
	cfg     *config.SafetyConfig
}

func newFixture(t *testing.T, cfg *config.SafetyConfig) *fixture {
	return newFixtureWithAccount(t, cfg, "DU1234567")
}

func newFixtureWithAccount(t *testing.T, cfg *config.SafetyConfig, account string) *fixture {
	t.Helper()
	sim := ibkr.NewSimBroker(account)
	require.NoError(t, sim.Connect(context.Background()))
	session := ibkr.NewSession(sim, &config.ConnectionConfig{
		Mode: "paper", Host: "127.0.0.1", Port: 4002,
		ResolveTimeoutMS: 10000, OrderTimeoutMS: 30000,
	})

	auditLog, err := audit.NewLogger("", false)
	require.NoError(t, err)

	ks := safety.NewKillSwitch("token", auditLog)
	sm := safety.NewManager(cfg, ks, safety.NewRateLimiter(cfg), safety.NewDailyCounters(), auditLog)
	return &fixture{
		manager: NewManager(cfg, session, sm, auditLog),
		sim:     sim,
		safety:  sm,
		cfg:     cfg,
	}
}

func basicParams() StopLossParams {
	return StopLossParams{
		Symbol:    "AAPL",
		Side:      "SELL",
		Quantity:  10,
		StopPrice: 180,
	}
}

func TestPlaceStopLoss_Basic(t *testing.T) {
	f := newFixture(t, testSafetyConfig())

	order, err := f.manager.PlaceStopLoss(context.Background(), basicParams())
	require.NoError(t, err)
	assert.Equal(t, "AAPL", order.Symbol)
	assert.Equal(t, VariantBasic, order.Variant)
	assert.Equal(t, 180.0, order.StopPrice)
	assert.Equal(t, "GTC", order.TimeInForce)
	assert.Equal(t, "Submitted", order.Status)
	assert.NotZero(t, order.OrderID)

	snap := f.safety.Daily().Snapshot()
	assert.Equal(t, 1, snap.OrdersPlaced)
	assert.Equal(t, 1, snap.ActiveStopLosses)
	assert.Equal(t, 1800.0, snap.NotionalVolumeUSD)
}

func TestPlaceStopLoss_StopLimit(t *testing.T) {
	f := newFixture(t, testSafetyConfig())
	p := basicParams()
	limit := 179.5
	p.LimitPrice = &limit

	order, err := f.manager.PlaceStopLoss(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, VariantStopLimit, order.Variant)
	assert.Equal(t, 179.5, order.LimitPrice)

	open, err := f.sim.ReqOpenOrders(context.Background())
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "STP LMT", open[0].Order.OrderType)
}

func TestPlaceStopLoss_Trailing(t *testing.T) {
	f := newFixture(t, testSafetyConfig())
	p := basicParams()
	p.StopPrice = 0
	pct := 5.0
	p.TrailPercent = &pct

	order, err := f.manager.PlaceStopLoss(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, VariantTrailing, order.Variant)

	open, err := f.sim.ReqOpenOrders(context.Background())
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "TRAIL", open[0].Order.OrderType)
	assert.Equal(t, 5.0, open[0].Order.TrailingPercent)
}

func TestPlaceStopLoss_TradingDisabledNoBrokerCall(t *testing.T) {
	cfg := testSafetyConfig()
	cfg.EnableTrading = false
	f := newFixture(t, cfg)

	_, err := f.manager.PlaceStopLoss(context.Background(), basicParams())
	require.Error(t, err)

	var se *SafetyError
	require.ErrorAs(t, err, &se)
	assert.Contains(t, se.Error(), "Safety validation failed")
	assert.Contains(t, se.Decision.Errors[0], "TradingDisabled")

	// No order reached the broker, no slot was consumed.
	open, _ := f.sim.ReqOpenOrders(context.Background())
	assert.Empty(t, open)
	assert.Equal(t, 0, f.safety.Daily().Snapshot().OrdersPlaced)
}

func TestPlaceStopLoss_LiveAccountBlocked(t *testing.T) {
	cfg := testSafetyConfig()
	f := newFixtureWithAccount(t, cfg, "U7654321")

	_, err := f.manager.PlaceStopLoss(context.Background(), basicParams())
	var se *SafetyError
	require.ErrorAs(t, err, &se)
	assert.Contains(t, se.Decision.Errors[0], "LiveAccountBlocked")
}

func TestPlaceStopLoss_KillSwitch(t *testing.T) {
	f := newFixture(t, testSafetyConfig())
	f.safety.KillSwitch().Activate("test halt")

	_, err := f.manager.PlaceStopLoss(context.Background(), basicParams())
	var se *SafetyError
	require.ErrorAs(t, err, &se)
	assert.Contains(t, se.Decision.Errors[0], "EmergencyHalt: test halt")
}

func TestPlaceStopLoss_DailyLimit(t *testing.T) {
	cfg := testSafetyConfig()
	cfg.MaxDailyOrders = 2
	f := newFixture(t, cfg)
	ctx := context.Background()

	_, err := f.manager.PlaceStopLoss(ctx, basicParams())
	require.NoError(t, err)
	_, err = f.manager.PlaceStopLoss(ctx, basicParams())
	require.NoError(t, err)

	_, err = f.manager.PlaceStopLoss(ctx, basicParams())
	require.Error(t, err)
	var se *SafetyError
	require.ErrorAs(t, err, &se)
	assert.Contains(t, se.Decision.Errors[0], "DailyLimitExceeded")
	assert.Contains(t, se.Decision.Errors[0], "2 orders")
}

func TestPlaceStopLoss_BrokerFailureReleasesSlot(t *testing.T) {
	f := newFixture(t, testSafetyConfig())
	f.sim.FailNextPlaceOrder(&ibkr.BrokerRejected{Code: 201, Message: "margin"})

	_, err := f.manager.PlaceStopLoss(context.Background(), basicParams())
	require.Error(t, err)

	snap := f.safety.Daily().Snapshot()
	assert.Equal(t, 0, snap.OrdersPlaced, "rejected order must not consume the daily budget")
	assert.Equal(t, 0, snap.ActiveStopLosses)

	// The budget is intact: the next placement succeeds.
	_, err = f.manager.PlaceStopLoss(context.Background(), basicParams())
	assert.NoError(t, err)
}

func TestPlaceStopLoss_MissingStopPriceRejected(t *testing.T) {
	f := newFixture(t, testSafetyConfig())
	p := basicParams()
	p.StopPrice = 0

	_, err := f.manager.PlaceStopLoss(context.Background(), p)
	var se *SafetyError
	require.ErrorAs(t, err, &se)
	assert.Contains(t, se.Error(), "stop_price")

	// Nothing reached the broker.
	open, _ := f.sim.ReqOpenOrders(context.Background())
	assert.Empty(t, open)
}

func TestPlaceStopLoss_FilledStopFreesActiveSlot(t *testing.T) {
	cfg := testSafetyConfig()
	cfg.MaxStopLossOrders = 1
	f := newFixture(t, cfg)
	ctx := context.Background()

	first, err := f.manager.PlaceStopLoss(ctx, basicParams())
	require.NoError(t, err)

	// The stop triggers and fills broker-side; no cancellation ever runs.
	require.NoError(t, f.sim.FillOrder(first.OrderID, 179.5))

	// The freed slot is observed on the next placement.
	second, err := f.manager.PlaceStopLoss(ctx, basicParams())
	require.NoError(t, err)
	assert.NotEqual(t, first.OrderID, second.OrderID)
	assert.Equal(t, 1, f.safety.Daily().ActiveStopLosses())
}

func TestListStopLosses_ReconcilesActiveCount(t *testing.T) {
	f := newFixture(t, testSafetyConfig())
	ctx := context.Background()

	order, err := f.manager.PlaceStopLoss(ctx, basicParams())
	require.NoError(t, err)
	require.Equal(t, 1, f.safety.Daily().ActiveStopLosses())

	require.NoError(t, f.sim.FillOrder(order.OrderID, 179.5))

	stops, err := f.manager.ListStopLosses(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, stops)
	assert.Equal(t, 0, f.safety.Daily().ActiveStopLosses())
}

func TestPlaceStopLoss_UnknownSymbol(t *testing.T) {
	f := newFixture(t, testSafetyConfig())
	p := basicParams()
	p.Symbol = "ZZZT"

	_, err := f.manager.PlaceStopLoss(context.Background(), p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "could not qualify")
	assert.Equal(t, 0, f.safety.Daily().Snapshot().OrdersPlaced)
}

func TestCancelStopLoss(t *testing.T) {
	f := newFixture(t, testSafetyConfig())
	ctx := context.Background()

	order, err := f.manager.PlaceStopLoss(ctx, basicParams())
	require.NoError(t, err)
	require.Equal(t, 1, f.safety.Daily().Snapshot().ActiveStopLosses)

	require.NoError(t, f.manager.CancelStopLoss(ctx, order.OrderID))
	assert.Equal(t, 0, f.safety.Daily().Snapshot().ActiveStopLosses)

	// Orders placed today is unaffected by cancellation.
	assert.Equal(t, 1, f.safety.Daily().Snapshot().OrdersPlaced)

	err = f.manager.CancelStopLoss(ctx, order.OrderID)
	assert.ErrorIs(t, err, ibkr.ErrOrderNotFound)
}

func TestModifyStopLoss(t *testing.T) {
	f := newFixture(t, testSafetyConfig())
	ctx := context.Background()

	order, err := f.manager.PlaceStopLoss(ctx, basicParams())
	require.NoError(t, err)

	updated, err := f.manager.ModifyStopLoss(ctx, order.OrderID, StopLossParams{StopPrice: 175})
	require.NoError(t, err)
	assert.Equal(t, 175.0, updated.StopPrice)
	assert.Equal(t, 10.0, updated.Quantity, "unchanged fields survive the modify")
	assert.NotEqual(t, order.OrderID, updated.OrderID, "cancel-replace assigns a new order id")

	// Still exactly one active stop loss and one working order.
	assert.Equal(t, 1, f.safety.Daily().Snapshot().ActiveStopLosses)
	open, _ := f.sim.ReqOpenOrders(ctx)
	assert.Len(t, open, 1)

	// Modify does not consume a daily order slot.
	assert.Equal(t, 1, f.safety.Daily().Snapshot().OrdersPlaced)
}

func TestModifyStopLoss_UnknownOrder(t *testing.T) {
	f := newFixture(t, testSafetyConfig())
	_, err := f.manager.ModifyStopLoss(context.Background(), 9999, StopLossParams{StopPrice: 175})
	assert.ErrorIs(t, err, ibkr.ErrOrderNotFound)
}

func TestListStopLosses_FiltersNonStopOrders(t *testing.T) {
	f := newFixture(t, testSafetyConfig())
	ctx := context.Background()

	_, err := f.manager.PlaceStopLoss(ctx, basicParams())
	require.NoError(t, err)

	// A plain limit order placed directly must not appear in the list.
	aapl := ibkr.Contract{ConID: 265598, Symbol: "AAPL", SecType: "STK", Exchange: "SMART", Currency: "USD"}
	_, err = f.sim.PlaceOrder(ctx, aapl, ibkr.Order{Action: "BUY", OrderType: "LMT", TotalQuantity: 5, LmtPrice: 100})
	require.NoError(t, err)

	stops, err := f.manager.ListStopLosses(ctx, "")
	require.NoError(t, err)
	require.Len(t, stops, 1)
	assert.Equal(t, VariantBasic, stops[0].Variant)

	stops, err = f.manager.ListStopLosses(ctx, "MSFT")
	require.NoError(t, err)
	assert.Empty(t, stops)
}

func TestListCompletedOrders_ZeroFillsTolerated(t *testing.T) {
	f := newFixture(t, testSafetyConfig())
	ctx := context.Background()

	order, err := f.manager.PlaceStopLoss(ctx, basicParams())
	require.NoError(t, err)
	require.NoError(t, f.manager.CancelStopLoss(ctx, order.OrderID))

	res, err := f.manager.ListCompletedOrders(ctx)
	require.NoError(t, err)
	require.Len(t, res.Orders, 1)
	assert.False(t, res.FillsAuthoritative)
	assert.Contains(t, res.Hint, "get_executions")
	// Cancelled orders legitimately report zero fills.
	assert.Equal(t, 0.0, res.Orders[0].Status.Filled)
}

func TestListExecutions(t *testing.T) {
	f := newFixture(t, testSafetyConfig())
	ctx := context.Background()

	order, err := f.manager.PlaceStopLoss(ctx, basicParams())
	require.NoError(t, err)
	require.NoError(t, f.sim.FillOrder(order.OrderID, 179.9))

	execs, err := f.manager.ListExecutions(ctx, "AAPL", 7)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, 179.9, execs[0].Price)

	execs, err = f.manager.ListExecutions(ctx, "MSFT", 7)
	require.NoError(t, err)
	assert.Empty(t, execs)
}

func TestHistoryReads_BypassKillSwitch(t *testing.T) {
	f := newFixture(t, testSafetyConfig())
	f.safety.KillSwitch().Activate("halt")

	_, err := f.manager.ListOpenOrders(context.Background())
	assert.NoError(t, err, "history reads stay available during a halt")
}
