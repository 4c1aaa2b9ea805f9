package gateway

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/ajitpratap0/ibkr-mcp-gateway/internal/ibkr"
	"github.com/ajitpratap0/ibkr-mcp-gateway/internal/orders"
	"github.com/ajitpratap0/ibkr-mcp-gateway/internal/resolve"
	"github.com/ajitpratap0/ibkr-mcp-gateway/internal/safety"
)

func (s *Service) getPortfolio(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	if err := s.validate(safety.OpPortfolioRead, args); err != nil {
		return nil, err
	}
	positions, err := s.session.ReqPositions(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"account":   s.session.ManagedAccount(),
		"positions": positions,
	}, nil
}

func (s *Service) getAccountSummary(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	if err := s.validate(safety.OpPortfolioRead, args); err != nil {
		return nil, err
	}
	return s.session.ReqAccountSummary(ctx)
}

func (s *Service) getConnectionStatus(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	return map[string]interface{}{
		"connected": s.session.IsConnected(),
		"account":   s.session.ManagedAccount(),
		"mode":      s.cfg.Connection.Mode,
		"host":      s.cfg.Connection.Host,
		"port":      s.cfg.Connection.Port,
	}, nil
}

// switchAccount is trading-side: it passes the full validation chain even
// though the paper session manages a single account.
func (s *Service) switchAccount(_ context.Context, args map[string]interface{}) (interface{}, error) {
	account := argString(args, "account")
	if err := s.validate(safety.OpAccountSwitch, map[string]interface{}{"account": account}); err != nil {
		return nil, err
	}
	if !strings.EqualFold(account, s.session.ManagedAccount()) {
		return nil, fmt.Errorf("account not available in this session")
	}
	return map[string]interface{}{"account": s.session.ManagedAccount()}, nil
}

func (s *Service) getMarketData(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	symbols := argStringSlice(args, "symbols")
	if len(symbols) == 0 {
		if sym := argString(args, "symbol"); sym != "" {
			symbols = []string{sym}
		}
	}
	if len(symbols) == 0 {
		return nil, fmt.Errorf("symbols is required")
	}

	quotes := make([]map[string]interface{}, 0, len(symbols))
	for _, sym := range symbols {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if err := s.validate(safety.OpMarketData, map[string]interface{}{"symbol": sym}); err != nil {
			return nil, err
		}
		qualified, err := s.session.QualifyContracts(ctx, ibkr.Contract{
			Symbol: sym, SecType: "STK", Exchange: "SMART",
		})
		if err != nil {
			return nil, err
		}
		if len(qualified) == 0 {
			return nil, fmt.Errorf("could not qualify contract for %s", sym)
		}
		tickers, err := s.session.ReqTickers(ctx, qualified[0])
		if err != nil {
			return nil, err
		}
		if len(tickers) == 0 {
			return nil, fmt.Errorf("no market data for %s", sym)
		}
		t := tickers[0]
		quotes = append(quotes, map[string]interface{}{
			"symbol":   t.Contract.Symbol,
			"exchange": t.Contract.Exchange,
			"currency": t.Contract.Currency,
			"bid":      t.Bid,
			"ask":      t.Ask,
			"last":     t.Last,
			"close":    t.Close,
		})
	}
	return map[string]interface{}{"quotes": quotes}, nil
}

func (s *Service) getForexRates(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	pairs := argStringSlice(args, "pairs")
	if len(pairs) == 0 {
		if p := argString(args, "pair"); p != "" {
			pairs = []string{p}
		}
	}
	if len(pairs) == 0 {
		return nil, fmt.Errorf("pairs is required")
	}

	for i, pair := range pairs {
		pairs[i] = strings.ToUpper(strings.TrimSpace(pair))
		if err := s.validate(safety.OpForexRate, map[string]interface{}{"pair": pairs[i]}); err != nil {
			return nil, err
		}
	}

	rates, err := s.forex.GetRates(ctx, pairs)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"rates": rates}, nil
}

func (s *Service) convertCurrency(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	from := strings.ToUpper(argString(args, "from_currency"))
	to := strings.ToUpper(argString(args, "to_currency"))
	amount, _ := argFloat(args, "amount")

	if err := s.validate(safety.OpCurrencyConvert, map[string]interface{}{
		"from_currency": from,
		"to_currency":   to,
		"amount":        amount,
	}); err != nil {
		return nil, err
	}
	return s.forex.Convert(ctx, amount, from, to)
}

func (s *Service) resolveSymbol(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	input := argString(args, "query")
	if input == "" {
		input = argString(args, "input")
	}
	if input == "" {
		input = argString(args, "symbol")
	}

	// Synthetic inputs are intercepted before any validation or lookup.
	switch strings.ToUpper(strings.TrimSpace(input)) {
	case "CACHE_STATS":
		return s.resolver.Stats(), nil
	case "CLEAR_CACHE":
		cleared := s.resolver.ClearCache()
		return map[string]interface{}{"cleared_entries": cleared}, nil
	}

	if err := s.validate(safety.OpResolveSymbol, map[string]interface{}{"query": input}); err != nil {
		return nil, err
	}

	q := resolve.Query{
		RawInput:             input,
		ExchangeHint:         argString(args, "exchange_hint"),
		CurrencyHint:         argString(args, "currency_hint"),
		SecType:              argString(args, "sec_type"),
		IncludeAltIDs:        argBool(args, "include_alt_ids"),
		PreferNativeExchange: argBool(args, "prefer_native_exchange"),
	}
	if maxResults, ok := argFloat(args, "max_results"); ok {
		q.MaxResults = int(maxResults)
	}
	if v, ok := args["fuzzy_enabled"].(bool); ok {
		q.FuzzyEnabled = &v
	}
	return s.resolver.Resolve(ctx, q)
}

func (s *Service) getStopLosses(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	stops, err := s.orders.ListStopLosses(ctx, argString(args, "symbol"))
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"stop_losses": stops}, nil
}

func (s *Service) placeStopLoss(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	return s.orders.PlaceStopLoss(ctx, stopLossParamsFromArgs(args))
}

func (s *Service) modifyStopLoss(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	orderID, err := argOrderID(args)
	if err != nil {
		return nil, err
	}
	return s.orders.ModifyStopLoss(ctx, orderID, stopLossParamsFromArgs(args))
}

func (s *Service) cancelStopLoss(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	orderID, err := argOrderID(args)
	if err != nil {
		return nil, err
	}
	if err := s.orders.CancelStopLoss(ctx, orderID); err != nil {
		return nil, err
	}
	return map[string]interface{}{"order_id": orderID, "cancelled": true}, nil
}

func (s *Service) getOpenOrders(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	trades, err := s.orders.ListOpenOrders(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"orders": trades}, nil
}

func (s *Service) getCompletedOrders(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	return s.orders.ListCompletedOrders(ctx)
}

func (s *Service) getExecutions(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	daysBack := 0
	if v, ok := argFloat(args, "days_back"); ok {
		daysBack = int(v)
	}
	execs, err := s.orders.ListExecutions(ctx, argString(args, "symbol"), daysBack)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"executions": execs}, nil
}

// activateKillSwitch never requires a token: halting must always be possible.
func (s *Service) activateKillSwitch(_ context.Context, args map[string]interface{}) (interface{}, error) {
	return s.safetyMg.KillSwitch().Activate(argString(args, "reason")), nil
}

func (s *Service) deactivateKillSwitch(_ context.Context, args map[string]interface{}) (interface{}, error) {
	state, err := s.safetyMg.KillSwitch().Deactivate(argString(args, "override_token"))
	if err != nil {
		return nil, err
	}
	return state, nil
}

func (s *Service) getKillSwitchStatus(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	return s.safetyMg.KillSwitch().State(), nil
}

func (s *Service) getSafetyStatus(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	return map[string]interface{}{
		"trading_enabled":               s.cfg.Safety.EnableTrading,
		"stop_loss_orders_enabled":      s.cfg.Safety.EnableStopLossOrders,
		"forex_trading_enabled":         s.cfg.Safety.EnableForexTrading,
		"international_trading_enabled": s.cfg.Safety.EnableInternationalTrading,
		"paper_verification_required":   s.cfg.Safety.RequirePaperAccountVerification,
		"allowed_account_prefixes":      s.cfg.Safety.AllowedAccountPrefixes,
		"kill_switch":                   s.safetyMg.KillSwitch().State(),
		"daily":                         s.safetyMg.Daily().Snapshot(),
	}, nil
}

func (s *Service) getDailyLimits(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	snap := s.safetyMg.Daily().Snapshot()
	return map[string]interface{}{
		"date_utc":             snap.DateUTC,
		"orders_placed":        snap.OrdersPlaced,
		"max_daily_orders":     s.cfg.Safety.MaxDailyOrders,
		"active_stop_losses":   snap.ActiveStopLosses,
		"max_stop_loss_orders": s.cfg.Safety.MaxStopLossOrders,
		"notional_volume_usd":  snap.NotionalVolumeUSD,
	}, nil
}

func (s *Service) getRateLimitStatus(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	limiter := s.safetyMg.Limiter()
	return map[string]interface{}{
		"order_placement": map[string]interface{}{
			"in_window": limiter.Pending(safety.ClassOrderPlacement),
			"max":       s.cfg.Safety.MaxOrdersPerMinute,
		},
		"quote_request": map[string]interface{}{
			"in_window": limiter.Pending(safety.ClassQuoteRequest),
			"max":       s.cfg.Safety.MaxMarketDataRequestsPerMinute,
		},
		"historical": map[string]interface{}{
			"in_window": limiter.Pending(safety.ClassHistorical),
			"max":       s.cfg.Safety.MaxHistoricalRequestsPerMinute,
		},
		"fuzzy_search": map[string]interface{}{
			"in_window":        limiter.Pending(safety.ClassFuzzySearch),
			"min_interval_sec": s.cfg.Safety.SymbolSearchRateLimitSeconds,
		},
	}, nil
}

func (s *Service) getCacheStats(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	return s.resolver.Stats(), nil
}

func (s *Service) clearCache(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	cleared := s.resolver.ClearCache()
	s.forex.InvalidateCache()
	return map[string]interface{}{"cleared_entries": cleared}, nil
}

// validate runs the safety chain and converts a rejection into the shared
// SafetyError envelope shape.
func (s *Service) validate(kind safety.OperationKind, params map[string]interface{}) error {
	decision := s.safetyMg.Validate(safety.Request{
		Kind:    kind,
		Account: s.session.ManagedAccount(),
		Params:  params,
	})
	if !decision.Safe {
		return rejected(decision)
	}
	return nil
}

func stopLossParamsFromArgs(args map[string]interface{}) orders.StopLossParams {
	p := orders.StopLossParams{
		Symbol:      argString(args, "symbol"),
		Exchange:    argString(args, "exchange"),
		Currency:    argString(args, "currency"),
		Side:        strings.ToUpper(argString(args, "side")),
		TimeInForce: strings.ToUpper(argString(args, "time_in_force")),
	}
	if v, ok := argFloat(args, "quantity"); ok {
		p.Quantity = v
	}
	if v, ok := argFloat(args, "stop_price"); ok {
		p.StopPrice = v
	}
	if v, ok := argFloat(args, "limit_price"); ok {
		p.LimitPrice = &v
	}
	if v, ok := argFloat(args, "trail_amount"); ok {
		p.TrailAmount = &v
	}
	if v, ok := argFloat(args, "trail_percent"); ok {
		p.TrailPercent = &v
	}
	return p
}

func argOrderID(args map[string]interface{}) (int64, error) {
	switch v := args["order_id"].(type) {
	case float64:
		return int64(v), nil
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case string:
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("order_id must be numeric, got %q", v)
		}
		return id, nil
	}
	return 0, fmt.Errorf("order_id is required")
}

func argString(args map[string]interface{}, key string) string {
	if s, ok := args[key].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

func argFloat(args map[string]interface{}, key string) (float64, bool) {
	switch v := args[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

func argBool(args map[string]interface{}, key string) bool {
	b, _ := args[key].(bool)
	return b
}

func argStringSlice(args map[string]interface{}, key string) []string {
	switch v := args[key].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
