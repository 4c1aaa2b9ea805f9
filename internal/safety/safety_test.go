package safety

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/ibkr-mcp-gateway/internal/config"
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
		MaxOrderValueUSD:                10000,
		MaxDailyOrders:                  50,
		MaxStopLossOrders:               25,
		MaxOrdersPerMinute:              5,
		MaxMarketDataRequestsPerMinute:  30,
		MaxHistoricalRequestsPerMinute:  10,
		SymbolSearchRateLimitSeconds:    1.1,
		EnableKillSwitch:                true,
	}
}

func newTestManager(cfg *config.SafetyConfig) *Manager {
	ks := NewKillSwitch("override-token", nil)
	return NewManager(cfg, ks, NewRateLimiter(cfg), NewDailyCounters(), nil)
}

func stopLossParams() map[string]interface{} {
	return map[string]interface{}{
		"symbol":     "AAPL",
		"side":       "SELL",
		"quantity":   10.0,
		"stop_price": 180.0,
	}
}

func TestKillSwitch_ActivateDeactivate(t *testing.T) {
	ks := NewKillSwitch("secret", nil)
	assert.False(t, ks.IsActive())

	st := ks.Activate("manual test halt")
	assert.True(t, st.Active)
	assert.Equal(t, "manual test halt", st.Reason)
	require.NotNil(t, st.ActivatedAt)

	// Wrong token is rejected, switch stays active.
	_, err := ks.Deactivate("wrong")
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.True(t, ks.IsActive())

	st, err = ks.Deactivate("secret")
	require.NoError(t, err)
	assert.False(t, st.Active)
	assert.Empty(t, st.Reason)
}

func TestKillSwitch_ActivateIsIdempotent(t *testing.T) {
	ks := NewKillSwitch("secret", nil)
	first := ks.Activate("first reason")
	second := ks.Activate("second reason")

	assert.Equal(t, "first reason", second.Reason)
	assert.Equal(t, first.ActivatedAt, second.ActivatedAt)
}

func TestKillSwitch_DeactivateInactiveIsNoop(t *testing.T) {
	ks := NewKillSwitch("secret", nil)
	st, err := ks.Deactivate("anything")
	require.NoError(t, err)
	assert.False(t, st.Active)
}

func TestDailyCounters_RolloverResetsOrdersNotStopLosses(t *testing.T) {
	dc := NewDailyCounters()
	now := time.Date(2026, 3, 10, 23, 50, 0, 0, time.UTC)
	dc.nowFunc = func() time.Time { return now }
	dc.dateUTC = dc.today()

	require.True(t, dc.ClaimOrderSlot(50))
	require.True(t, dc.ClaimOrderSlot(50))
	dc.StopLossPlaced()
	dc.AddNotional(1500)

	snap := dc.Snapshot()
	assert.Equal(t, "2026-03-10", snap.DateUTC)
	assert.Equal(t, 2, snap.OrdersPlaced)

	// Cross midnight UTC.
	now = now.Add(20 * time.Minute)
	snap = dc.Snapshot()
	assert.Equal(t, "2026-03-11", snap.DateUTC)
	assert.Equal(t, 0, snap.OrdersPlaced)
	assert.Equal(t, 0.0, snap.NotionalVolumeUSD)
	// Open stop losses track the book, not the day.
	assert.Equal(t, 1, snap.ActiveStopLosses)
}

func TestDailyCounters_ClaimAndRelease(t *testing.T) {
	dc := NewDailyCounters()
	assert.True(t, dc.CheckOrderSlot(2))
	assert.True(t, dc.ClaimOrderSlot(2))
	assert.True(t, dc.ClaimOrderSlot(2))

	// Cap reached: check and claim both refuse.
	assert.False(t, dc.CheckOrderSlot(2))
	assert.False(t, dc.ClaimOrderSlot(2))

	dc.ReleaseOrderSlot()
	assert.True(t, dc.CheckOrderSlot(2))

	// Release never goes negative.
	dc.ReleaseOrderSlot()
	dc.ReleaseOrderSlot()
	dc.ReleaseOrderSlot()
	assert.Equal(t, 0, dc.Snapshot().OrdersPlaced)
}

func TestDailyCounters_SyncActiveStopLosses(t *testing.T) {
	dc := NewDailyCounters()
	dc.StopLossPlaced()
	dc.StopLossPlaced()
	require.Equal(t, 2, dc.ActiveStopLosses())

	// Reconciliation replaces the tracked count with the broker's view.
	dc.SyncActiveStopLosses(0)
	assert.Equal(t, 0, dc.ActiveStopLosses())

	dc.SyncActiveStopLosses(-3)
	assert.Equal(t, 0, dc.ActiveStopLosses())
}

func TestRateLimiter_SlidingWindow(t *testing.T) {
	cfg := testSafetyConfig()
	cfg.MaxOrdersPerMinute = 2
	rl := NewRateLimiter(cfg)

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	rl.nowFunc = func() time.Time { return now }

	ok, _ := rl.Allow(ClassOrderPlacement)
	assert.True(t, ok)
	ok, _ = rl.Allow(ClassOrderPlacement)
	assert.True(t, ok)

	ok, retryAfter := rl.Allow(ClassOrderPlacement)
	assert.False(t, ok)
	assert.InDelta(t, time.Minute.Seconds(), retryAfter.Seconds(), 0.01)

	// Advancing past the window frees a slot.
	now = now.Add(61 * time.Second)
	ok, _ = rl.Allow(ClassOrderPlacement)
	assert.True(t, ok)
}

func TestRateLimiter_ClassesAreIndependent(t *testing.T) {
	cfg := testSafetyConfig()
	cfg.MaxOrdersPerMinute = 1
	rl := NewRateLimiter(cfg)

	ok, _ := rl.Allow(ClassOrderPlacement)
	require.True(t, ok)
	ok, _ = rl.Allow(ClassOrderPlacement)
	require.False(t, ok)

	ok, _ = rl.Allow(ClassQuoteRequest)
	assert.True(t, ok)
}

func TestRateLimiter_FuzzySearchInterval(t *testing.T) {
	rl := NewRateLimiter(testSafetyConfig())
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	rl.nowFunc = func() time.Time { return now }

	ok, _ := rl.Allow(ClassFuzzySearch)
	assert.True(t, ok)
	ok, _ = rl.Allow(ClassFuzzySearch)
	assert.False(t, ok)

	now = now.Add(1200 * time.Millisecond)
	ok, _ = rl.Allow(ClassFuzzySearch)
	assert.True(t, ok)
}

func TestManager_ValidStopLossPasses(t *testing.T) {
	m := newTestManager(testSafetyConfig())
	d := m.Validate(Request{Kind: OpPlaceStopLoss, Account: "DU1234567", Params: stopLossParams()})

	assert.True(t, d.Safe, "errors: %v", d.Errors)
	assert.Contains(t, d.ChecksPerformed, "kill_switch")
	assert.Contains(t, d.ChecksPerformed, "paper_account")
	assert.Contains(t, d.ChecksPerformed, "parameters")
}

func TestManager_KillSwitchShortCircuits(t *testing.T) {
	m := newTestManager(testSafetyConfig())
	m.KillSwitch().Activate("flash crash")

	d := m.Validate(Request{Kind: OpPlaceStopLoss, Account: "DU1234567", Params: stopLossParams()})
	assert.False(t, d.Safe)
	require.Len(t, d.Errors, 1)
	assert.Equal(t, "EmergencyHalt: flash crash", d.Errors[0])
	// Later checks never ran.
	assert.Equal(t, []string{"kill_switch"}, d.ChecksPerformed)
}

func TestManager_ReadsBypassKillSwitch(t *testing.T) {
	m := newTestManager(testSafetyConfig())
	m.KillSwitch().Activate("halt")

	d := m.Validate(Request{Kind: OpMarketData, Params: map[string]interface{}{"symbol": "AAPL"}})
	assert.True(t, d.Safe, "errors: %v", d.Errors)
}

func TestManager_TradingDisabled(t *testing.T) {
	cfg := testSafetyConfig()
	cfg.EnableTrading = false
	m := newTestManager(cfg)

	d := m.Validate(Request{Kind: OpPlaceStopLoss, Account: "DU1234567", Params: stopLossParams()})
	assert.False(t, d.Safe)
	assert.Contains(t, d.Errors[0], "TradingDisabled")
}

func TestManager_StopLossOrdersDisabled(t *testing.T) {
	cfg := testSafetyConfig()
	cfg.EnableStopLossOrders = false
	m := newTestManager(cfg)

	d := m.Validate(Request{Kind: OpPlaceStopLoss, Account: "DU1234567", Params: stopLossParams()})
	assert.False(t, d.Safe)
	assert.Contains(t, d.Errors[0], "enable_stop_loss_orders")
}

func TestManager_LiveAccountBlocked(t *testing.T) {
	m := newTestManager(testSafetyConfig())

	d := m.Validate(Request{Kind: OpPlaceStopLoss, Account: "U7654321", Params: stopLossParams()})
	assert.False(t, d.Safe)
	require.Len(t, d.Errors, 1)
	assert.Contains(t, d.Errors[0], "LiveAccountBlocked")
	// The redacted account appears, the full number never does.
	assert.Contains(t, d.Errors[0], "U7***")
	assert.NotContains(t, d.Errors[0], "U7654321")
}

func TestManager_DailyLimitExceeded(t *testing.T) {
	cfg := testSafetyConfig()
	cfg.MaxDailyOrders = 1
	m := newTestManager(cfg)
	require.True(t, m.Daily().ClaimOrderSlot(cfg.MaxDailyOrders))

	d := m.Validate(Request{Kind: OpPlaceStopLoss, Account: "DU1234567", Params: stopLossParams()})
	assert.False(t, d.Safe)
	assert.Contains(t, d.Errors[0], "DailyLimitExceeded")
}

func TestManager_RateLimited(t *testing.T) {
	cfg := testSafetyConfig()
	cfg.MaxOrdersPerMinute = 1
	m := newTestManager(cfg)

	first := m.Validate(Request{Kind: OpPlaceStopLoss, Account: "DU1234567", Params: stopLossParams()})
	require.True(t, first.Safe, "errors: %v", first.Errors)

	second := m.Validate(Request{Kind: OpPlaceStopLoss, Account: "DU1234567", Params: stopLossParams()})
	assert.False(t, second.Safe)
	assert.Contains(t, second.Errors[0], "RateLimited")
}

func TestManager_ParameterErrorsAccumulate(t *testing.T) {
	m := newTestManager(testSafetyConfig())

	d := m.Validate(Request{Kind: OpPlaceStopLoss, Account: "DU1234567", Params: map[string]interface{}{
		"symbol":     "aapl!",
		"side":       "HOLD",
		"quantity":   -5.0,
		"stop_price": 100.0,
	}})
	assert.False(t, d.Safe)
	assert.GreaterOrEqual(t, len(d.Errors), 3)
}

func TestManager_StopLimitRelationship(t *testing.T) {
	m := newTestManager(testSafetyConfig())
	params := stopLossParams()
	params["limit_price"] = 185.0 // above the sell stop

	d := m.Validate(Request{Kind: OpPlaceStopLoss, Account: "DU1234567", Params: params})
	assert.False(t, d.Safe)
	assert.Contains(t, d.Errors[0], "limit_price")
}

func TestManager_StopPriceRequiredForNonTrailing(t *testing.T) {
	m := newTestManager(testSafetyConfig())
	params := stopLossParams()
	delete(params, "stop_price")

	d := m.Validate(Request{Kind: OpPlaceStopLoss, Account: "DU1234567", Params: params})
	assert.False(t, d.Safe)
	assert.Contains(t, d.Errors[0], "stop_price")

	// Trailing stops carry no trigger price and stay valid without one.
	params = stopLossParams()
	delete(params, "stop_price")
	params["trail_percent"] = 5.0
	d = m.Validate(Request{Kind: OpPlaceStopLoss, Account: "DU1234567", Params: params})
	assert.True(t, d.Safe, "errors: %v", d.Errors)
}

func TestManager_TrailingParamsMutuallyExclusive(t *testing.T) {
	m := newTestManager(testSafetyConfig())
	params := stopLossParams()
	delete(params, "stop_price")
	params["trail_amount"] = 2.0
	params["trail_percent"] = 5.0

	d := m.Validate(Request{Kind: OpPlaceStopLoss, Account: "DU1234567", Params: params})
	assert.False(t, d.Safe)
	assert.Contains(t, d.Errors[0], "mutually exclusive")
}

func TestManager_OrderValueCap(t *testing.T) {
	m := newTestManager(testSafetyConfig())
	params := stopLossParams()
	params["quantity"] = 100.0
	params["stop_price"] = 500.0 // 50k USD estimated

	d := m.Validate(Request{Kind: OpPlaceStopLoss, Account: "DU1234567", Params: params})
	assert.False(t, d.Safe)
	assert.Contains(t, d.Errors[0], "exceeds max")
}

func TestManager_InternationalGate(t *testing.T) {
	cfg := testSafetyConfig()
	cfg.EnableInternationalTrading = false
	m := newTestManager(cfg)

	params := stopLossParams()
	params["symbol"] = "SAP"
	params["exchange"] = "IBIS"
	params["currency"] = "EUR"

	d := m.Validate(Request{Kind: OpPlaceStopLoss, Account: "DU1234567", Params: params})
	assert.False(t, d.Safe)
	assert.Contains(t, d.Errors[0], "enable_international_trading")
}

func TestOperationKindHelpers(t *testing.T) {
	assert.True(t, OpPlaceStopLoss.TradingSide())
	assert.True(t, OpCancelOrder.TradingSide())
	assert.False(t, OpMarketData.TradingSide())
	assert.False(t, OpOrderHistoryRead.TradingSide())

	assert.True(t, OpPlaceStopLoss.PlacesOrder())
	assert.False(t, OpModifyStopLoss.PlacesOrder())

	assert.Equal(t, ClassOrderPlacement, OpCancelStopLoss.Class())
	assert.Equal(t, ClassHistorical, OpOrderHistoryRead.Class())
	assert.Equal(t, ClassQuoteRequest, OpMarketData.Class())
}
