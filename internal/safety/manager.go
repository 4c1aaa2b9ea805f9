package safety

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/ibkr-mcp-gateway/internal/audit"
	"github.com/ajitpratap0/ibkr-mcp-gateway/internal/config"
	"github.com/ajitpratap0/ibkr-mcp-gateway/internal/metrics"
	"github.com/ajitpratap0/ibkr-mcp-gateway/internal/validation"
)

// Request describes an operation awaiting safety validation.
type Request struct {
	Kind    OperationKind
	Account string // currently active account, empty if not connected
	Params  map[string]interface{}
}

// Manager chains every safety check in a fixed order and records the decision
// in the audit log. Validation never mutates counters: the order manager
// claims daily slots itself after validation passes.
type Manager struct {
	cfg        *config.SafetyConfig
	killSwitch *KillSwitch
	limiter    *RateLimiter
	daily      *DailyCounters
	auditLog   *audit.Logger
	logger     zerolog.Logger
}

// NewManager wires the safety framework together.
func NewManager(cfg *config.SafetyConfig, ks *KillSwitch, rl *RateLimiter, dc *DailyCounters, auditLog *audit.Logger) *Manager {
	return &Manager{
		cfg:        cfg,
		killSwitch: ks,
		limiter:    rl,
		daily:      dc,
		auditLog:   auditLog,
		logger:     log.With().Str("component", "safety").Logger(),
	}
}

// KillSwitch exposes the halt control for the gateway tools.
func (m *Manager) KillSwitch() *KillSwitch { return m.killSwitch }

// Daily exposes the per-day accounting for the order manager.
func (m *Manager) Daily() *DailyCounters { return m.daily }

// Limiter exposes the sliding-window limiter.
func (m *Manager) Limiter() *RateLimiter { return m.limiter }

// Validate runs the full check chain for req, in a fixed order: kill switch,
// rate limit, daily limits, account verification, parameter checks, master
// trading flags. The first failing step short-circuits the rest; parameter
// problems accumulate within their step so the caller sees every one at once.
// The decision is always written to the audit log.
func (m *Manager) Validate(req Request) Decision {
	d := Decision{Warnings: []string{}, Errors: []string{}, ChecksPerformed: []string{}}

	m.checkKillSwitch(req, &d)
	if len(d.Errors) == 0 {
		m.checkRateLimit(req, &d)
	}
	if len(d.Errors) == 0 {
		m.checkDailyLimit(req, &d)
	}
	if len(d.Errors) == 0 {
		m.checkAccount(req, &d)
	}
	if len(d.Errors) == 0 {
		m.checkParams(req, &d)
	}
	if len(d.Errors) == 0 {
		m.checkTradingEnabled(req, &d)
	}

	d.Safe = len(d.Errors) == 0
	if !d.Safe {
		// Short-circuiting means the last performed check is the one that failed.
		metrics.SafetyRejections.WithLabelValues(d.ChecksPerformed[len(d.ChecksPerformed)-1]).Inc()
		m.logger.Warn().
			Str("kind", string(req.Kind)).
			Strs("errors", d.Errors).
			Msg("Operation rejected by safety validation")
	}
	if m.auditLog != nil {
		m.auditLog.LogValidation(string(req.Kind), req.Params, d, d.Safe)
	}
	return d
}

func (m *Manager) checkKillSwitch(req Request, d *Decision) {
	d.ChecksPerformed = append(d.ChecksPerformed, "kill_switch")
	if !req.Kind.TradingSide() {
		return
	}
	if m.cfg.EnableKillSwitch && m.killSwitch.IsActive() {
		st := m.killSwitch.State()
		d.Errors = append(d.Errors, fmt.Sprintf("EmergencyHalt: %s", st.Reason))
	}
}

func (m *Manager) checkTradingEnabled(req Request, d *Decision) {
	if !req.Kind.TradingSide() {
		return
	}
	d.ChecksPerformed = append(d.ChecksPerformed, "trading_enabled")
	if !m.cfg.EnableTrading {
		d.Errors = append(d.Errors, "TradingDisabled: enable_trading is false")
		return
	}
	if req.Kind == OpPlaceStopLoss || req.Kind == OpModifyStopLoss {
		if !m.cfg.EnableStopLossOrders {
			d.Errors = append(d.Errors, "TradingDisabled: enable_stop_loss_orders is false")
		}
	}
	if isForexOrder(req.Params) && !m.cfg.EnableForexTrading {
		d.Errors = append(d.Errors, "TradingDisabled: enable_forex_trading is false")
	}
	if isInternational(req.Params) && !m.cfg.EnableInternationalTrading {
		d.Errors = append(d.Errors, "TradingDisabled: enable_international_trading is false")
	}
}

func (m *Manager) checkRateLimit(req Request, d *Decision) {
	d.ChecksPerformed = append(d.ChecksPerformed, "rate_limit")
	ok, retryAfter := m.limiter.Allow(req.Kind.Class())
	if !ok {
		d.Errors = append(d.Errors, fmt.Sprintf(
			"RateLimited: %s window full, retry in %.1fs",
			req.Kind.Class(), retryAfter.Seconds()))
	}
}

func (m *Manager) checkDailyLimit(req Request, d *Decision) {
	if !req.Kind.PlacesOrder() {
		return
	}
	d.ChecksPerformed = append(d.ChecksPerformed, "daily_limit")
	if !m.daily.CheckOrderSlot(m.cfg.MaxDailyOrders) {
		d.Errors = append(d.Errors, fmt.Sprintf(
			"DailyLimitExceeded: %d orders already placed today (max %d)",
			m.daily.Snapshot().OrdersPlaced, m.cfg.MaxDailyOrders))
	}
	if req.Kind == OpPlaceStopLoss && m.daily.ActiveStopLosses() >= m.cfg.MaxStopLossOrders {
		d.Errors = append(d.Errors, fmt.Sprintf(
			"DailyLimitExceeded: %d active stop losses (max %d)",
			m.daily.ActiveStopLosses(), m.cfg.MaxStopLossOrders))
	}
}

// checkAccount enforces the paper-account guard: trading-side operations are
// only allowed on accounts whose prefix marks them as simulated.
func (m *Manager) checkAccount(req Request, d *Decision) {
	if !req.Kind.TradingSide() || !m.cfg.RequirePaperAccountVerification {
		return
	}
	d.ChecksPerformed = append(d.ChecksPerformed, "paper_account")

	if req.Account == "" {
		d.Errors = append(d.Errors, "LiveAccountBlocked: no account available for verification")
		return
	}
	for _, prefix := range m.cfg.AllowedAccountPrefixes {
		if strings.HasPrefix(req.Account, prefix) {
			return
		}
	}
	d.Errors = append(d.Errors, fmt.Sprintf(
		"LiveAccountBlocked: account %s does not match allowed paper prefixes %v",
		audit.RedactAccount(req.Account), m.cfg.AllowedAccountPrefixes))
}

func (m *Manager) checkParams(req Request, d *Decision) {
	d.ChecksPerformed = append(d.ChecksPerformed, "parameters")
	v := validation.NewValidator()

	switch req.Kind {
	case OpPlaceStopLoss, OpPlaceOrder:
		m.validateOrderParams(req.Params, v)
	case OpModifyStopLoss, OpModifyOrder:
		v.Required("order_id", paramString(req.Params, "order_id"))
		if qty, ok := paramFloat(req.Params, "quantity"); ok {
			v.Positive("quantity", qty)
			v.MaxValue("quantity", qty, m.cfg.MaxOrderSize)
		}
		if stop, ok := paramFloat(req.Params, "stop_price"); ok {
			v.Positive("stop_price", stop)
		}
	case OpCancelStopLoss, OpCancelOrder:
		v.Required("order_id", paramString(req.Params, "order_id"))
	case OpForexRate:
		v.ForexPair("pair", paramString(req.Params, "pair"))
	case OpCurrencyConvert:
		v.Currency("from_currency", paramString(req.Params, "from_currency"))
		v.Currency("to_currency", paramString(req.Params, "to_currency"))
		if amt, ok := paramFloat(req.Params, "amount"); ok {
			v.Positive("amount", amt)
		} else {
			v.AddError("amount", "is required")
		}
	case OpResolveSymbol:
		v.Required("query", paramString(req.Params, "query"))
	case OpMarketData:
		v.Required("symbol", paramString(req.Params, "symbol"))
	case OpAccountSwitch:
		v.Required("account", paramString(req.Params, "account"))
	}

	d.Errors = append(d.Errors, v.Errors()...)
	d.Warnings = append(d.Warnings, v.Warnings()...)
}

func (m *Manager) validateOrderParams(params map[string]interface{}, v *validation.Validator) {
	v.Symbol("symbol", paramString(params, "symbol"))
	v.Side("side", paramString(params, "side"))

	qty, ok := paramFloat(params, "quantity")
	if !ok {
		v.AddError("quantity", "is required")
	} else {
		v.Positive("quantity", qty)
		v.MaxValue("quantity", qty, m.cfg.MaxOrderSize)
	}

	stop, hasStop := paramFloat(params, "stop_price")
	if hasStop {
		v.Positive("stop_price", stop)
	}
	limit, hasLimit := paramFloat(params, "limit_price")
	if hasLimit {
		v.Positive("limit_price", limit)
		if hasStop {
			v.StopLimitRelationship(paramString(params, "side"), stop, limit)
		}
	}

	trailAmt, hasAmt := paramFloat(params, "trail_amount")
	trailPct, hasPct := paramFloat(params, "trail_percent")
	if hasAmt && hasPct {
		v.AddError("trail_amount", "trail_amount and trail_percent are mutually exclusive")
	}
	if hasAmt {
		v.Positive("trail_amount", trailAmt)
	}
	if hasPct {
		v.Positive("trail_percent", trailPct)
		v.MaxValue("trail_percent", trailPct, 100)
	}

	// Non-trailing stops need an explicit trigger price.
	if !hasStop && !hasAmt && !hasPct {
		v.AddError("stop_price", "is required unless trail_amount or trail_percent is set")
	}

	if tif := paramString(params, "time_in_force"); tif != "" {
		v.TimeInForce("time_in_force", tif)
	}

	// Order value cap uses the caller-supplied reference price when present;
	// orders without a price estimate pass with a warning.
	if ok && hasStop {
		value := qty * stop
		if value > m.cfg.MaxOrderValueUSD {
			v.AddError("order_value", fmt.Sprintf(
				"estimated value %.2f USD exceeds max %.2f USD", value, m.cfg.MaxOrderValueUSD))
		}
	} else if ok && !hasStop && !hasLimit {
		v.AddWarning("order value not verified: no price available")
	}
}

// isForexOrder reports whether the order parameters target a currency pair.
func isForexOrder(params map[string]interface{}) bool {
	if params == nil {
		return false
	}
	if pair := paramString(params, "pair"); pair != "" {
		return true
	}
	secType := strings.ToUpper(paramString(params, "sec_type"))
	return secType == "CASH" || secType == "FOREX"
}

// isInternational reports whether the order routes outside US exchanges.
func isInternational(params map[string]interface{}) bool {
	if params == nil {
		return false
	}
	exch := strings.ToUpper(paramString(params, "exchange"))
	switch exch {
	case "", "SMART", "NYSE", "NASDAQ", "ARCA", "AMEX", "BATS", "IEX":
		ccy := strings.ToUpper(paramString(params, "currency"))
		return ccy != "" && ccy != "USD"
	}
	return true
}

func paramString(params map[string]interface{}, key string) string {
	if params == nil {
		return ""
	}
	if s, ok := params[key].(string); ok {
		return s
	}
	return ""
}

func paramFloat(params map[string]interface{}, key string) (float64, bool) {
	if params == nil {
		return 0, false
	}
	switch v := params[key].(type) {
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
