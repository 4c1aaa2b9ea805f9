// Package gateway is the tool service layer: it owns every component behind
// the MCP surface and maps tool calls onto them, wrapping each outcome in the
// success/failure envelope.
package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/ibkr-mcp-gateway/internal/audit"
	"github.com/ajitpratap0/ibkr-mcp-gateway/internal/config"
	"github.com/ajitpratap0/ibkr-mcp-gateway/internal/fx"
	"github.com/ajitpratap0/ibkr-mcp-gateway/internal/ibkr"
	"github.com/ajitpratap0/ibkr-mcp-gateway/internal/orders"
	"github.com/ajitpratap0/ibkr-mcp-gateway/internal/resolve"
	"github.com/ajitpratap0/ibkr-mcp-gateway/internal/safety"
)

// Tool names exposed over the MCP surface.
const (
	ToolGetPortfolio        = "get_portfolio"
	ToolGetAccountSummary   = "get_account_summary"
	ToolGetConnectionStatus = "get_connection_status"
	ToolSwitchAccount       = "switch_account"

	ToolGetMarketData = "get_market_data"

	ToolGetForexRates   = "get_forex_rates"
	ToolConvertCurrency = "convert_currency"

	ToolResolveSymbol = "resolve_symbol"

	ToolGetStopLosses  = "get_stop_losses"
	ToolPlaceStopLoss  = "place_stop_loss"
	ToolModifyStopLoss = "modify_stop_loss"
	ToolCancelStopLoss = "cancel_stop_loss"

	ToolGetOpenOrders      = "get_open_orders"
	ToolGetCompletedOrders = "get_completed_orders"
	ToolGetExecutions      = "get_executions"

	ToolActivateKillSwitch   = "activate_kill_switch"
	ToolDeactivateKillSwitch = "deactivate_kill_switch"
	ToolGetKillSwitchStatus  = "get_kill_switch_status"
	ToolGetSafetyStatus      = "get_safety_status"
	ToolGetDailyLimits       = "get_daily_limits"
	ToolGetRateLimitStatus   = "get_rate_limit_status"

	ToolGetCacheStats = "get_cache_stats"
	ToolClearCache    = "clear_cache"
)

// ToolNames enumerates every tool the gateway serves, in presentation order.
func ToolNames() []string {
	return []string{
		ToolGetPortfolio, ToolGetAccountSummary, ToolGetConnectionStatus, ToolSwitchAccount,
		ToolGetMarketData,
		ToolGetForexRates, ToolConvertCurrency,
		ToolResolveSymbol,
		ToolGetStopLosses, ToolPlaceStopLoss, ToolModifyStopLoss, ToolCancelStopLoss,
		ToolGetOpenOrders, ToolGetCompletedOrders, ToolGetExecutions,
		ToolActivateKillSwitch, ToolDeactivateKillSwitch, ToolGetKillSwitchStatus,
		ToolGetSafetyStatus, ToolGetDailyLimits, ToolGetRateLimitStatus,
		ToolGetCacheStats, ToolClearCache,
	}
}

// Service owns the wired component graph and dispatches tool calls.
type Service struct {
	cfg      *config.Config
	session  *ibkr.Session
	safetyMg *safety.Manager
	resolver *resolve.Resolver
	forex    *fx.Engine
	orders   *orders.Manager
	auditLog *audit.Logger
	logger   zerolog.Logger
}

// New builds the service for the configured connection mode. Only the paper
// simulator transport is available; gateway mode needs the live IB socket
// wrapper, which this build does not carry.
func New(cfg *config.Config) (*Service, error) {
	switch cfg.Connection.Mode {
	case "paper":
		return NewWithBroker(cfg, ibkr.NewSimBroker(""))
	default:
		return nil, fmt.Errorf("connection mode %q: %w", cfg.Connection.Mode, ibkr.ErrLiveTransportUnavailable)
	}
}

// NewWithBroker wires the full component graph on top of an existing broker.
func NewWithBroker(cfg *config.Config, broker ibkr.Broker) (*Service, error) {
	auditLog, err := audit.NewLogger(cfg.Audit.LogFile, cfg.Audit.Enabled)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}

	ks := safety.NewKillSwitch(cfg.Safety.KillSwitchOverrideToken, auditLog)
	safetyMg := safety.NewManager(&cfg.Safety, ks,
		safety.NewRateLimiter(&cfg.Safety), safety.NewDailyCounters(), auditLog)

	session := ibkr.NewSession(broker, &cfg.Connection)
	resolver := resolve.NewResolver(&cfg.Resolution, session, cfg.Safety.SymbolSearchInterval())
	// Broker-side fuzzy searches are also charged against the safety
	// framework's sliding window, so get_rate_limit_status reflects them.
	resolver.SetFuzzyGate(func() bool {
		ok, _ := safetyMg.Limiter().Allow(safety.ClassFuzzySearch)
		return ok
	})
	forex := fx.NewEngine(&cfg.Forex, session)

	// Cached contract IDs and quotes are stale after a reconnect.
	session.OnDisconnect(func() {
		resolver.Cache().InvalidateAll()
		forex.InvalidateCache()
	})

	return &Service{
		cfg:      cfg,
		session:  session,
		safetyMg: safetyMg,
		resolver: resolver,
		forex:    forex,
		orders:   orders.NewManager(&cfg.Safety, session, safetyMg, auditLog),
		auditLog: auditLog,
		logger:   log.With().Str("component", "gateway").Logger(),
	}, nil
}

// Connect establishes the broker session.
func (s *Service) Connect(ctx context.Context) error {
	return s.session.Connect(ctx)
}

// Close disconnects the broker and releases the audit log.
func (s *Service) Close() error {
	err := s.session.Disconnect()
	if cerr := s.auditLog.Close(); err == nil {
		err = cerr
	}
	return err
}

// Session exposes the broker session, for shells that manage connect state.
func (s *Service) Session() *ibkr.Session { return s.session }

// Call dispatches one tool invocation and always returns the envelope: either
// {success: true, data} or {success: false, error, details?}.
func (s *Service) Call(ctx context.Context, tool string, args map[string]interface{}) map[string]interface{} {
	handler, ok := s.handlers()[tool]
	if !ok {
		return failure(fmt.Errorf("unknown tool: %s", tool), nil)
	}

	s.logger.Debug().Str("tool", tool).Msg("Tool call")
	data, err := handler(ctx, args)
	if err != nil {
		return failure(err, nil)
	}
	return map[string]interface{}{"success": true, "data": data}
}

type toolHandler func(ctx context.Context, args map[string]interface{}) (interface{}, error)

func (s *Service) handlers() map[string]toolHandler {
	return map[string]toolHandler{
		ToolGetPortfolio:        s.getPortfolio,
		ToolGetAccountSummary:   s.getAccountSummary,
		ToolGetConnectionStatus: s.getConnectionStatus,
		ToolSwitchAccount:       s.switchAccount,

		ToolGetMarketData: s.getMarketData,

		ToolGetForexRates:   s.getForexRates,
		ToolConvertCurrency: s.convertCurrency,

		ToolResolveSymbol: s.resolveSymbol,

		ToolGetStopLosses:  s.getStopLosses,
		ToolPlaceStopLoss:  s.placeStopLoss,
		ToolModifyStopLoss: s.modifyStopLoss,
		ToolCancelStopLoss: s.cancelStopLoss,

		ToolGetOpenOrders:      s.getOpenOrders,
		ToolGetCompletedOrders: s.getCompletedOrders,
		ToolGetExecutions:      s.getExecutions,

		ToolActivateKillSwitch:   s.activateKillSwitch,
		ToolDeactivateKillSwitch: s.deactivateKillSwitch,
		ToolGetKillSwitchStatus:  s.getKillSwitchStatus,
		ToolGetSafetyStatus:      s.getSafetyStatus,
		ToolGetDailyLimits:       s.getDailyLimits,
		ToolGetRateLimitStatus:   s.getRateLimitStatus,

		ToolGetCacheStats: s.getCacheStats,
		ToolClearCache:    s.clearCache,
	}
}

// failure builds the error envelope. Safety rejections carry the full
// decision under details so callers see every accumulated problem.
func failure(err error, details map[string]interface{}) map[string]interface{} {
	var se *orders.SafetyError
	if errors.As(err, &se) {
		details = map[string]interface{}{
			"errors":           se.Decision.Errors,
			"warnings":         se.Decision.Warnings,
			"checks_performed": se.Decision.ChecksPerformed,
		}
	}

	out := map[string]interface{}{
		"success": false,
		"error":   err.Error(),
	}
	if details != nil {
		out["details"] = details
	}
	return out
}

// rejected converts a failed validation decision into a SafetyError so every
// component's rejections share one envelope shape.
func rejected(d safety.Decision) error {
	return &orders.SafetyError{Decision: d}
}
