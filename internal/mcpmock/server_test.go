package mcpmock

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/ibkr-mcp-gateway/internal/config"
	"github.com/ajitpratap0/ibkr-mcp-gateway/internal/gateway"
	"github.com/ajitpratap0/ibkr-mcp-gateway/internal/ibkr"
)

func newTestServer(t *testing.T, enableTrading bool) *Server {
	t.Helper()
	cfg := &config.Config{
		Connection: config.ConnectionConfig{
			Mode: "paper", Host: "127.0.0.1", Port: 4002,
			ResolveTimeoutMS: 10000, OrderTimeoutMS: 30000,
		},
		Safety: config.SafetyConfig{
			EnableTrading:                   enableTrading,
			EnableStopLossOrders:            enableTrading,
			EnableForexTrading:              enableTrading,
			EnableInternationalTrading:      enableTrading,
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
		},
		Forex:      config.ForexConfig{CacheTTLSeconds: 5},
		Resolution: config.ResolutionConfig{CacheTTLSeconds: 300, CacheCapacity: 1000, MaxResults: 5, FuzzyEnabled: true, FallbackToExactOnFuzzyFail: true},
		Audit:      config.AuditConfig{Enabled: false},
	}

	svc, err := gateway.NewWithBroker(cfg, ibkr.NewSimBroker(""))
	require.NoError(t, err)
	require.NoError(t, svc.Connect(context.Background()))
	t.Cleanup(func() { _ = svc.Close() })

	srv := NewServer("ibkr-mcp-gateway", "0.1.0", svc)
	srv.RegisterAll(gateway.ToolNames())
	return srv
}

// envelope decodes the JSON text content back into the tool envelope.
func envelope(t *testing.T, res *mcp.CallToolResult) map[string]interface{} {
	t.Helper()
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok)

	var env map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(text.Text), &env))
	return env
}

func TestCallTool_ResolveSymbol(t *testing.T) {
	srv := newTestServer(t, true)

	res, err := srv.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "resolve_symbol",
		Arguments: map[string]interface{}{"query": "AAPL"},
	})
	require.NoError(t, err)

	env := envelope(t, res)
	require.Equal(t, true, env["success"])
	data := env["data"].(map[string]interface{})
	matches := data["matches"].([]interface{})
	require.NotEmpty(t, matches)
	first := matches[0].(map[string]interface{})
	assert.Equal(t, "AAPL", first["symbol"])
}

func TestCallTool_SafetyRejectionStaysInEnvelope(t *testing.T) {
	srv := newTestServer(t, false)

	res, err := srv.CallTool(context.Background(), &mcp.CallToolParams{
		Name: "place_stop_loss",
		Arguments: map[string]interface{}{
			"symbol": "AAPL", "side": "SELL", "quantity": 10.0, "stop_price": 180.0,
		},
	})
	// Rejections are tool results, not protocol errors.
	require.NoError(t, err)

	env := envelope(t, res)
	require.Equal(t, false, env["success"])
	assert.Contains(t, env["error"].(string), "Safety validation")

	details := env["details"].(map[string]interface{})
	errs := details["errors"].([]interface{})
	require.NotEmpty(t, errs)
	assert.Contains(t, errs[0].(string), "TradingDisabled")
}

func TestCallTool_UnknownToolIsProtocolError(t *testing.T) {
	srv := newTestServer(t, true)

	_, err := srv.CallTool(context.Background(), &mcp.CallToolParams{Name: "no_such_tool"})
	assert.ErrorContains(t, err, "not found")
}

func TestListTools(t *testing.T) {
	srv := newTestServer(t, true)

	res, err := srv.ListTools(context.Background(), &mcp.ListToolsParams{})
	require.NoError(t, err)
	assert.Len(t, res.Tools, 23)
}

func TestCallHistory(t *testing.T) {
	srv := newTestServer(t, true)
	ctx := context.Background()

	_, err := srv.CallTool(ctx, &mcp.CallToolParams{
		Name:      "get_forex_rates",
		Arguments: map[string]interface{}{"pairs": []interface{}{"EURUSD"}},
	})
	require.NoError(t, err)
	_, err = srv.CallTool(ctx, &mcp.CallToolParams{
		Name:      "get_forex_rates",
		Arguments: map[string]interface{}{"pairs": []interface{}{"USDJPY"}},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, srv.CallCount("get_forex_rates"))
	last := srv.LastCall("get_forex_rates")
	require.NotNil(t, last)
	assert.Equal(t, []interface{}{"USDJPY"}, last.Arguments["pairs"])
	assert.Equal(t, true, last.Envelope["success"])

	srv.Reset()
	assert.Empty(t, srv.Calls())
	assert.Equal(t, 0, srv.CallCount("get_forex_rates"))
}
