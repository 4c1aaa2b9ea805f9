package gateway

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/ibkr-mcp-gateway/internal/config"
	"github.com/ajitpratap0/ibkr-mcp-gateway/internal/fx"
	"github.com/ajitpratap0/ibkr-mcp-gateway/internal/ibkr"
	"github.com/ajitpratap0/ibkr-mcp-gateway/internal/orders"
	"github.com/ajitpratap0/ibkr-mcp-gateway/internal/resolve"
	"github.com/ajitpratap0/ibkr-mcp-gateway/internal/safety"
)

func testConfig() *config.Config {
	return &config.Config{
		Connection: config.ConnectionConfig{
			Mode: "paper", Host: "127.0.0.1", Port: 4002,
			ResolveTimeoutMS: 10000, OrderTimeoutMS: 30000,
		},
		Safety: config.SafetyConfig{
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
			SymbolSearchRateLimitSeconds:    0.001,
			EnableKillSwitch:                true,
			KillSwitchOverrideToken:         "override-token",
		},
		Forex:      config.ForexConfig{CacheTTLSeconds: 5},
		Resolution: config.ResolutionConfig{CacheTTLSeconds: 300, CacheCapacity: 1000, MaxResults: 5, FuzzyEnabled: true, FallbackToExactOnFuzzyFail: true},
		Audit:      config.AuditConfig{Enabled: false},
	}
}

func newTestService(t *testing.T, cfg *config.Config) (*Service, *ibkr.SimBroker) {
	t.Helper()
	sim := ibkr.NewSimBroker("")
	svc, err := NewWithBroker(cfg, sim)
	require.NoError(t, err)
	require.NoError(t, svc.Connect(context.Background()))
	t.Cleanup(func() { _ = svc.Close() })
	return svc, sim
}

func call(t *testing.T, svc *Service, tool string, args map[string]interface{}) map[string]interface{} {
	t.Helper()
	env := svc.Call(context.Background(), tool, args)
	require.Contains(t, env, "success")
	return env
}

func requireFailure(t *testing.T, env map[string]interface{}) string {
	t.Helper()
	require.Equal(t, false, env["success"])
	msg, ok := env["error"].(string)
	require.True(t, ok, "failure envelope must carry an error string")
	return msg
}

func TestNew_GatewayModeUnavailable(t *testing.T) {
	cfg := testConfig()
	cfg.Connection.Mode = "gateway"

	_, err := New(cfg)
	assert.ErrorIs(t, err, ibkr.ErrLiveTransportUnavailable)
}

func TestCall_UnknownTool(t *testing.T) {
	svc, _ := newTestService(t, testConfig())
	msg := requireFailure(t, call(t, svc, "no_such_tool", nil))
	assert.Contains(t, msg, "unknown tool")
}

func TestPlaceStopLoss_TradingDisabledEnvelope(t *testing.T) {
	cfg := testConfig()
	cfg.Safety.EnableTrading = false
	svc, sim := newTestService(t, cfg)

	env := call(t, svc, ToolPlaceStopLoss, map[string]interface{}{
		"symbol": "AAPL", "side": "SELL", "quantity": 100.0, "stop_price": 180.0,
	})
	msg := requireFailure(t, env)
	assert.Contains(t, msg, "Safety validation")

	details, ok := env["details"].(map[string]interface{})
	require.True(t, ok, "safety rejections carry decision details")
	errs := details["errors"].([]string)
	require.NotEmpty(t, errs)
	assert.Contains(t, errs[0], "TradingDisabled")

	open, _ := sim.ReqOpenOrders(context.Background())
	assert.Empty(t, open, "rejected order must never reach the broker")
}

func TestPlaceStopLoss_LiveAccountEnvelope(t *testing.T) {
	sim := ibkr.NewSimBroker("U1234567")
	svc, err := NewWithBroker(testConfig(), sim)
	require.NoError(t, err)
	require.NoError(t, svc.Connect(context.Background()))

	env := call(t, svc, ToolPlaceStopLoss, map[string]interface{}{
		"symbol": "AAPL", "side": "SELL", "quantity": 100.0, "stop_price": 180.0,
	})
	requireFailure(t, env)
	details := env["details"].(map[string]interface{})
	errs := details["errors"].([]string)
	require.NotEmpty(t, errs)
	assert.Contains(t, errs[0], "LiveAccountBlocked")
	assert.NotContains(t, errs[0], "U1234567", "full account number never leaves the gateway")
}

func TestPlaceAndCancelStopLoss_RoundTrip(t *testing.T) {
	svc, _ := newTestService(t, testConfig())

	env := call(t, svc, ToolPlaceStopLoss, map[string]interface{}{
		"symbol": "AAPL", "side": "SELL", "quantity": 10.0, "stop_price": 180.0,
	})
	require.Equal(t, true, env["success"])
	placed := env["data"].(*orders.StopLossOrder)
	assert.Equal(t, "AAPL", placed.Symbol)

	env = call(t, svc, ToolGetStopLosses, nil)
	require.Equal(t, true, env["success"])
	listed := env["data"].(map[string]interface{})["stop_losses"].([]orders.StopLossOrder)
	require.Len(t, listed, 1)

	env = call(t, svc, ToolCancelStopLoss, map[string]interface{}{"order_id": float64(placed.OrderID)})
	require.Equal(t, true, env["success"])

	env = call(t, svc, ToolGetStopLosses, nil)
	listed = env["data"].(map[string]interface{})["stop_losses"].([]orders.StopLossOrder)
	assert.Empty(t, listed)
}

func TestResolveSymbol_FuzzyChargesSearchWindow(t *testing.T) {
	cfg := testConfig()
	cfg.Safety.SymbolSearchRateLimitSeconds = 60
	svc, _ := newTestService(t, cfg)

	env := call(t, svc, ToolResolveSymbol, map[string]interface{}{"query": "Toyota Motor"})
	require.Equal(t, true, env["success"])
	res := env["data"].(*resolve.Result)
	require.NotEmpty(t, res.Matches)
	assert.Equal(t, 1, svc.safetyMg.Limiter().Pending(safety.ClassFuzzySearch))

	// A second fuzzy search inside the window comes back empty, and the
	// rejection does not occupy another window slot.
	env = call(t, svc, ToolResolveSymbol, map[string]interface{}{"query": "Vodafone Group"})
	require.Equal(t, true, env["success"])
	res = env["data"].(*resolve.Result)
	assert.Empty(t, res.Matches)
	assert.Equal(t, 1, svc.safetyMg.Limiter().Pending(safety.ClassFuzzySearch))

	// Exact-symbol resolution never touches the fuzzy window.
	env = call(t, svc, ToolResolveSymbol, map[string]interface{}{"query": "AAPL"})
	require.Equal(t, true, env["success"])
	assert.Equal(t, 1, svc.safetyMg.Limiter().Pending(safety.ClassFuzzySearch))
}

func TestResolveSymbol_ExchangeAlias(t *testing.T) {
	svc, _ := newTestService(t, testConfig())

	env := call(t, svc, ToolResolveSymbol, map[string]interface{}{
		"query": "SAP", "exchange_hint": "XETRA",
	})
	require.Equal(t, true, env["success"])
	res := env["data"].(*resolve.Result)
	require.NotEmpty(t, res.Matches)
	assert.True(t, res.ResolvedViaAlias)
	assert.Equal(t, "XETRA", res.OriginalExchange)
	assert.Equal(t, "IBIS", res.ActualExchange)
	assert.GreaterOrEqual(t, res.Matches[0].Confidence, 0.9)
	require.GreaterOrEqual(t, len(res.ExchangesTried), 2)
	assert.Equal(t, []string{"XETRA", "IBIS"}, res.ExchangesTried[:2])
}

func TestResolveSymbol_SyntheticInputs(t *testing.T) {
	svc, _ := newTestService(t, testConfig())

	call(t, svc, ToolResolveSymbol, map[string]interface{}{"query": "AAPL"})

	env := call(t, svc, ToolResolveSymbol, map[string]interface{}{"query": "CACHE_STATS"})
	require.Equal(t, true, env["success"])
	stats := env["data"].(resolve.Stats)
	assert.Equal(t, 1, stats.MemoryEntries)

	env = call(t, svc, ToolResolveSymbol, map[string]interface{}{"query": "CLEAR_CACHE"})
	require.Equal(t, true, env["success"])
	cleared := env["data"].(map[string]interface{})["cleared_entries"].(int)
	assert.Equal(t, 1, cleared)
}

func TestConvertCurrency_CrossViaUSD(t *testing.T) {
	svc, _ := newTestService(t, testConfig())

	env := call(t, svc, ToolConvertCurrency, map[string]interface{}{
		"amount": 500.0, "from_currency": "EUR", "to_currency": "GBP",
	})
	require.Equal(t, true, env["success"])
	conv := env["data"].(*fx.Conversion)
	assert.Equal(t, fx.MethodCrossViaUSD, conv.Method)
	assert.Equal(t, "EURUSD,GBPUSD", conv.PairUsed)
}

func TestGetForexRates_MockFallback(t *testing.T) {
	svc, sim := newTestService(t, testConfig())
	sim.SetNonFiniteQuote("EURUSD", true)

	env := call(t, svc, ToolGetForexRates, map[string]interface{}{
		"pairs": []interface{}{"EURUSD"},
	})
	require.Equal(t, true, env["success"])
	rates := env["data"].(map[string]interface{})["rates"].([]fx.Rate)
	require.Len(t, rates, 1)
	assert.Equal(t, fx.SourceMockFallback, rates[0].Source)
	assert.Less(t, rates[0].Bid, rates[0].Ask)
}

func TestDailyLimit_ThirdOrderRejected(t *testing.T) {
	cfg := testConfig()
	cfg.Safety.MaxDailyOrders = 2
	svc, _ := newTestService(t, cfg)

	place := func() map[string]interface{} {
		return call(t, svc, ToolPlaceStopLoss, map[string]interface{}{
			"symbol": "AAPL", "side": "SELL", "quantity": 1.0, "stop_price": 180.0,
		})
	}
	require.Equal(t, true, place()["success"])
	require.Equal(t, true, place()["success"])

	env := place()
	msg := requireFailure(t, env)
	assert.Contains(t, msg, "DailyLimitExceeded")
}

func TestKillSwitchTools(t *testing.T) {
	svc, _ := newTestService(t, testConfig())

	env := call(t, svc, ToolActivateKillSwitch, map[string]interface{}{"reason": "drill"})
	require.Equal(t, true, env["success"])

	env = call(t, svc, ToolGetKillSwitchStatus, nil)
	state := env["data"].(safety.KillSwitchState)
	assert.True(t, state.Active)
	assert.Equal(t, "drill", state.Reason)

	// Trading-side calls are rejected while halted, reads still serve.
	env = call(t, svc, ToolPlaceStopLoss, map[string]interface{}{
		"symbol": "AAPL", "side": "SELL", "quantity": 1.0, "stop_price": 180.0,
	})
	msg := requireFailure(t, env)
	assert.Contains(t, msg, "EmergencyHalt")

	env = call(t, svc, ToolGetPortfolio, nil)
	require.Equal(t, true, env["success"])

	// Wrong token is refused, the right one resumes trading.
	env = call(t, svc, ToolDeactivateKillSwitch, map[string]interface{}{"override_token": "wrong"})
	requireFailure(t, env)

	env = call(t, svc, ToolDeactivateKillSwitch, map[string]interface{}{"override_token": "override-token"})
	require.Equal(t, true, env["success"])

	env = call(t, svc, ToolPlaceStopLoss, map[string]interface{}{
		"symbol": "AAPL", "side": "SELL", "quantity": 1.0, "stop_price": 180.0,
	})
	assert.Equal(t, true, env["success"])
}

func TestGetMarketData(t *testing.T) {
	svc, _ := newTestService(t, testConfig())

	env := call(t, svc, ToolGetMarketData, map[string]interface{}{
		"symbols": []interface{}{"AAPL", "MSFT"},
	})
	require.Equal(t, true, env["success"])
	quotes := env["data"].(map[string]interface{})["quotes"].([]map[string]interface{})
	require.Len(t, quotes, 2)
	assert.Equal(t, "AAPL", quotes[0]["symbol"])
}

func TestGetPortfolioAndAccountSummary(t *testing.T) {
	svc, sim := newTestService(t, testConfig())

	env := call(t, svc, ToolPlaceStopLoss, map[string]interface{}{
		"symbol": "AAPL", "side": "SELL", "quantity": 10.0, "stop_price": 180.0,
	})
	require.Equal(t, true, env["success"])
	placed := env["data"].(*orders.StopLossOrder)
	require.NoError(t, sim.FillOrder(placed.OrderID, 179.5))

	env = call(t, svc, ToolGetPortfolio, nil)
	require.Equal(t, true, env["success"])
	data := env["data"].(map[string]interface{})
	positions := data["positions"].([]ibkr.Position)
	require.Len(t, positions, 1)
	assert.Equal(t, "AAPL", positions[0].Contract.Symbol)

	env = call(t, svc, ToolGetAccountSummary, nil)
	require.Equal(t, true, env["success"])
	summary := env["data"].(*ibkr.AccountSummary)
	assert.NotEmpty(t, summary.Account)
}

func TestSwitchAccount(t *testing.T) {
	svc, _ := newTestService(t, testConfig())
	account := svc.Session().ManagedAccount()

	env := call(t, svc, ToolSwitchAccount, map[string]interface{}{"account": account})
	require.Equal(t, true, env["success"])

	env = call(t, svc, ToolSwitchAccount, map[string]interface{}{"account": "DU9999999"})
	msg := requireFailure(t, env)
	assert.Contains(t, msg, "not available")
}

func TestGetConnectionStatus(t *testing.T) {
	svc, _ := newTestService(t, testConfig())

	env := call(t, svc, ToolGetConnectionStatus, nil)
	require.Equal(t, true, env["success"])
	data := env["data"].(map[string]interface{})
	assert.Equal(t, true, data["connected"])
	assert.Equal(t, "paper", data["mode"])
}

func TestDisconnectInvalidatesCaches(t *testing.T) {
	svc, _ := newTestService(t, testConfig())

	call(t, svc, ToolResolveSymbol, map[string]interface{}{"query": "AAPL"})
	env := call(t, svc, ToolGetCacheStats, nil)
	require.Equal(t, 1, env["data"].(resolve.Stats).MemoryEntries)

	require.NoError(t, svc.Session().Disconnect())

	env = call(t, svc, ToolGetCacheStats, nil)
	assert.Equal(t, 0, env["data"].(resolve.Stats).MemoryEntries)
}

func TestGetSafetyStatusAndLimits(t *testing.T) {
	svc, _ := newTestService(t, testConfig())

	env := call(t, svc, ToolGetSafetyStatus, nil)
	require.Equal(t, true, env["success"])
	data := env["data"].(map[string]interface{})
	assert.Equal(t, true, data["trading_enabled"])

	env = call(t, svc, ToolGetDailyLimits, nil)
	require.Equal(t, true, env["success"])
	limits := env["data"].(map[string]interface{})
	assert.Equal(t, 0, limits["orders_placed"])
	assert.Equal(t, 50, limits["max_daily_orders"])

	env = call(t, svc, ToolGetRateLimitStatus, nil)
	require.Equal(t, true, env["success"])
}

func TestToolNames_Complete(t *testing.T) {
	svc, _ := newTestService(t, testConfig())

	names := ToolNames()
	assert.Len(t, names, 23)

	// Every advertised tool dispatches to a handler.
	handlers := svc.handlers()
	for _, name := range names {
		assert.Contains(t, handlers, name)
	}
}
