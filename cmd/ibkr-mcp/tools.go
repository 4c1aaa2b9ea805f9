package main

import "github.com/ajitpratap0/ibkr-mcp-gateway/internal/gateway"

// tool builds one tool definition in the MCP inputSchema shape.
func tool(name, description string, properties map[string]interface{}, required ...string) map[string]interface{} {
	if properties == nil {
		properties = map[string]interface{}{}
	}
	if required == nil {
		required = []string{}
	}
	return map[string]interface{}{
		"name":        name,
		"description": description,
		"inputSchema": map[string]interface{}{
			"type":       "object",
			"properties": properties,
			"required":   required,
		},
	}
}

func str(description string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "description": description}
}

func num(description string) map[string]interface{} {
	return map[string]interface{}{"type": "number", "description": description}
}

func boolean(description string) map[string]interface{} {
	return map[string]interface{}{"type": "boolean", "description": description}
}

func strArray(description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "array",
		"items":       map[string]interface{}{"type": "string"},
		"description": description,
	}
}

// toolDefinitions enumerates every tool the gateway serves.
func toolDefinitions() []map[string]interface{} {
	return []map[string]interface{}{
		tool(gateway.ToolGetPortfolio,
			"Get current positions for the active account", nil),
		tool(gateway.ToolGetAccountSummary,
			"Get account summary values (net liquidation, cash, buying power)", nil),
		tool(gateway.ToolGetConnectionStatus,
			"Get broker connection state, mode and active account", nil),
		tool(gateway.ToolSwitchAccount,
			"Switch the active account", map[string]interface{}{
				"account": str("Account identifier (paper accounts only)"),
			}, "account"),

		tool(gateway.ToolGetMarketData,
			"Get quotes for one or more stock symbols", map[string]interface{}{
				"symbols": strArray("Stock symbols, e.g. [\"AAPL\", \"MSFT\"]"),
			}, "symbols"),

		tool(gateway.ToolGetForexRates,
			"Get live forex rates for canonical currency pairs", map[string]interface{}{
				"pairs": strArray("Currency pairs, e.g. [\"EURUSD\", \"USDJPY\"]"),
			}, "pairs"),
		tool(gateway.ToolConvertCurrency,
			"Convert an amount between two currencies (direct, inverse or cross via USD)", map[string]interface{}{
				"amount":        num("Amount in the source currency"),
				"from_currency": str("Source currency code, e.g. \"EUR\""),
				"to_currency":   str("Target currency code, e.g. \"GBP\""),
			}, "amount", "from_currency", "to_currency"),

		tool(gateway.ToolResolveSymbol,
			"Resolve a symbol, company name, CUSIP or ISIN to qualified contracts. "+
				"\"CACHE_STATS\" and \"CLEAR_CACHE\" are synthetic inputs for cache control.",
			map[string]interface{}{
				"query":                  str("Symbol, company name, CUSIP, ISIN or contract ID"),
				"exchange_hint":          str("Preferred exchange code, e.g. \"XETRA\""),
				"currency_hint":          str("Preferred currency code"),
				"sec_type":               str("Security type, default STK"),
				"max_results":            num("Maximum matches to return (1-16, default 5)"),
				"fuzzy_enabled":          boolean("Allow fuzzy company-name search (default true)"),
				"include_alt_ids":        boolean("Treat CUSIP/contract-ID shaped input as an alternative ID"),
				"prefer_native_exchange": boolean("Prefer native listings over SMART"),
			}, "query"),

		tool(gateway.ToolGetStopLosses,
			"List working stop-loss orders", map[string]interface{}{
				"symbol": str("Optional symbol filter"),
			}),
		tool(gateway.ToolPlaceStopLoss,
			"Place a stop-loss order (basic, stop-limit or trailing)", map[string]interface{}{
				"symbol":        str("Stock symbol"),
				"side":          str("BUY or SELL"),
				"quantity":      num("Number of shares"),
				"stop_price":    num("Stop trigger price (basic and stop-limit)"),
				"limit_price":   num("Limit price (stop-limit variant)"),
				"trail_amount":  num("Trailing amount (trailing variant; exclusive with trail_percent)"),
				"trail_percent": num("Trailing percent (trailing variant; exclusive with trail_amount)"),
				"exchange":      str("Exchange, default SMART"),
				"currency":      str("Currency, default from listing"),
				"time_in_force": str("Time in force, default GTC"),
			}, "symbol", "side", "quantity"),
		tool(gateway.ToolModifyStopLoss,
			"Modify a working stop loss (cancel-replace); omitted fields keep their values",
			map[string]interface{}{
				"order_id":      num("Order ID of the working stop loss"),
				"quantity":      num("New quantity"),
				"stop_price":    num("New stop price"),
				"limit_price":   num("New limit price"),
				"trail_amount":  num("New trailing amount"),
				"trail_percent": num("New trailing percent"),
				"time_in_force": str("New time in force"),
			}, "order_id"),
		tool(gateway.ToolCancelStopLoss,
			"Cancel a working stop-loss order", map[string]interface{}{
				"order_id": num("Order ID to cancel"),
			}, "order_id"),

		tool(gateway.ToolGetOpenOrders,
			"List all working orders", nil),
		tool(gateway.ToolGetCompletedOrders,
			"List completed orders. Zero fill fields mean \"not provided\"; use get_executions for fills.",
			nil),
		tool(gateway.ToolGetExecutions,
			"List executions (authoritative fill prices)", map[string]interface{}{
				"symbol":    str("Optional symbol filter"),
				"days_back": num("Look-back window in days"),
			}),

		tool(gateway.ToolActivateKillSwitch,
			"EMERGENCY: halt all trading-side operations immediately", map[string]interface{}{
				"reason": str("Why trading is being halted"),
			}),
		tool(gateway.ToolDeactivateKillSwitch,
			"Resume trading after an emergency halt", map[string]interface{}{
				"override_token": str("Operator override token"),
			}, "override_token"),
		tool(gateway.ToolGetKillSwitchStatus,
			"Get kill switch state", nil),
		tool(gateway.ToolGetSafetyStatus,
			"Get safety framework state: master flags, kill switch, daily counters", nil),
		tool(gateway.ToolGetDailyLimits,
			"Get daily order accounting against configured limits", nil),
		tool(gateway.ToolGetRateLimitStatus,
			"Get per-class sliding-window rate limit occupancy", nil),

		tool(gateway.ToolGetCacheStats,
			"Get symbol resolution cache statistics", nil),
		tool(gateway.ToolClearCache,
			"Clear the symbol resolution and forex caches", nil),
	}
}
