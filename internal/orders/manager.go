// Package orders implements stop-loss placement with two-phase daily-slot
// accounting, stop-loss lifecycle management and order history reads.
package orders

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/ibkr-mcp-gateway/internal/audit"
	"github.com/ajitpratap0/ibkr-mcp-gateway/internal/config"
	"github.com/ajitpratap0/ibkr-mcp-gateway/internal/ibkr"
	"github.com/ajitpratap0/ibkr-mcp-gateway/internal/safety"
)

// Stop-loss variants.
const (
	VariantBasic     = "basic"
	VariantStopLimit = "stop_limit"
	VariantTrailing  = "trailing"
)

// StopLossParams describes one stop-loss placement request.
type StopLossParams struct {
	Symbol       string   `json:"symbol"`
	Exchange     string   `json:"exchange,omitempty"` // default SMART
	Currency     string   `json:"currency,omitempty"`
	Side         string   `json:"side"` // BUY or SELL
	Quantity     float64  `json:"quantity"`
	StopPrice    float64  `json:"stop_price,omitempty"`
	LimitPrice   *float64 `json:"limit_price,omitempty"`   // stop-limit variant
	TrailAmount  *float64 `json:"trail_amount,omitempty"`  // trailing variant
	TrailPercent *float64 `json:"trail_percent,omitempty"` // trailing variant
	TimeInForce  string   `json:"time_in_force,omitempty"` // default GTC
}

// Variant derives the stop-loss variant from which optional fields are set.
func (p *StopLossParams) Variant() string {
	switch {
	case p.TrailAmount != nil || p.TrailPercent != nil:
		return VariantTrailing
	case p.LimitPrice != nil:
		return VariantStopLimit
	default:
		return VariantBasic
	}
}

// StopLossOrder is the caller-facing record of a placed stop loss.
type StopLossOrder struct {
	OrderID     int64   `json:"order_id"`
	Symbol      string  `json:"symbol"`
	Exchange    string  `json:"exchange"`
	Currency    string  `json:"currency"`
	Side        string  `json:"side"`
	Quantity    float64 `json:"quantity"`
	StopPrice   float64 `json:"stop_price,omitempty"`
	LimitPrice  float64 `json:"limit_price,omitempty"`
	Variant     string  `json:"variant"`
	TimeInForce string  `json:"time_in_force"`
	Status      string  `json:"status"`
}

// SafetyError carries a failed validation decision up to the tool surface.
type SafetyError struct {
	Decision safety.Decision
}

func (e *SafetyError) Error() string {
	return "Safety validation failed: " + strings.Join(e.Decision.Errors, "; ")
}

// Manager coordinates validation, daily-slot accounting and broker
// submission for stop-loss orders, and serves order history reads.
type Manager struct {
	cfg      *config.SafetyConfig
	session  *ibkr.Session
	safetyMg *safety.Manager
	auditLog *audit.Logger
	logger   zerolog.Logger
	nowFunc  func() time.Time
}

// NewManager wires the order manager.
func NewManager(cfg *config.SafetyConfig, session *ibkr.Session, sm *safety.Manager, auditLog *audit.Logger) *Manager {
	return &Manager{
		cfg:      cfg,
		session:  session,
		safetyMg: sm,
		auditLog: auditLog,
		logger:   log.With().Str("component", "orders").Logger(),
		nowFunc:  time.Now,
	}
}

// PlaceStopLoss validates, claims a daily order slot, submits the stop order
// and registers the active stop loss. The slot is released if the broker
// rejects the submission, so failed orders never consume the daily budget.
func (m *Manager) PlaceStopLoss(ctx context.Context, p StopLossParams) (*StopLossOrder, error) {
	p.Symbol = strings.ToUpper(strings.TrimSpace(p.Symbol))
	if p.TimeInForce == "" {
		p.TimeInForce = "GTC"
	}

	// Stops filled (or otherwise terminated) broker-side since the last call
	// must not occupy active slots when the limit check runs.
	m.reconcileActiveStopLosses(ctx)

	payload := stopLossPayload(p)
	decision := m.safetyMg.Validate(safety.Request{
		Kind:    safety.OpPlaceStopLoss,
		Account: m.session.ManagedAccount(),
		Params:  payload,
	})
	if !decision.Safe {
		return nil, &SafetyError{Decision: decision}
	}

	contract, err := m.qualify(ctx, p.Symbol, p.Exchange, p.Currency)
	if err != nil {
		m.auditLog.LogOutcome(string(safety.OpPlaceStopLoss), payload, nil, false, err.Error())
		return nil, err
	}

	daily := m.safetyMg.Daily()
	if !daily.ClaimOrderSlot(m.cfg.MaxDailyOrders) {
		err := fmt.Errorf("DailyLimitExceeded: %d orders already placed today (max %d)",
			daily.Snapshot().OrdersPlaced, m.cfg.MaxDailyOrders)
		m.auditLog.LogOutcome(string(safety.OpPlaceStopLoss), payload, nil, false, err.Error())
		return nil, err
	}

	order := buildStopOrder(p)
	trade, err := m.session.PlaceOrder(ctx, contract, order)
	if err != nil {
		daily.ReleaseOrderSlot()
		m.auditLog.LogOutcome(string(safety.OpPlaceStopLoss), payload, nil, false, err.Error())
		return nil, err
	}

	daily.StopLossPlaced()
	daily.AddNotional(p.Quantity * p.StopPrice)

	result := stopLossFromTrade(trade, p)
	m.auditLog.LogOutcome(string(safety.OpPlaceStopLoss), payload, result, true, "")
	m.logger.Info().
		Int64("order_id", result.OrderID).
		Str("symbol", result.Symbol).
		Str("variant", result.Variant).
		Msg("Stop loss placed")
	return result, nil
}

// ModifyStopLoss cancels and re-places a working stop loss with updated
// parameters. The replacement does not consume a daily order slot.
func (m *Manager) ModifyStopLoss(ctx context.Context, orderID int64, changes StopLossParams) (*StopLossOrder, error) {
	payload := stopLossPayload(changes)
	payload["order_id"] = fmt.Sprintf("%d", orderID)

	decision := m.safetyMg.Validate(safety.Request{
		Kind:    safety.OpModifyStopLoss,
		Account: m.session.ManagedAccount(),
		Params:  payload,
	})
	if !decision.Safe {
		return nil, &SafetyError{Decision: decision}
	}

	existing, err := m.findOpenOrder(ctx, orderID)
	if err != nil {
		m.auditLog.LogOutcome(string(safety.OpModifyStopLoss), payload, nil, false, err.Error())
		return nil, err
	}

	merged := mergeParams(existing, changes)
	if err := m.session.CancelOrder(ctx, orderID); err != nil {
		m.auditLog.LogOutcome(string(safety.OpModifyStopLoss), payload, nil, false, err.Error())
		return nil, err
	}

	trade, err := m.session.PlaceOrder(ctx, existing.Contract, buildStopOrder(merged))
	if err != nil {
		// The original is already cancelled; the stop loss is gone.
		m.safetyMg.Daily().StopLossClosed()
		m.auditLog.LogOutcome(string(safety.OpModifyStopLoss), payload, nil, false, err.Error())
		return nil, err
	}

	result := stopLossFromTrade(trade, merged)
	m.auditLog.LogOutcome(string(safety.OpModifyStopLoss), payload, result, true, "")
	return result, nil
}

// CancelStopLoss cancels a working stop loss and releases its active count.
func (m *Manager) CancelStopLoss(ctx context.Context, orderID int64) error {
	payload := map[string]interface{}{"order_id": fmt.Sprintf("%d", orderID)}

	decision := m.safetyMg.Validate(safety.Request{
		Kind:    safety.OpCancelStopLoss,
		Account: m.session.ManagedAccount(),
		Params:  payload,
	})
	if !decision.Safe {
		return &SafetyError{Decision: decision}
	}

	if err := m.session.CancelOrder(ctx, orderID); err != nil {
		m.auditLog.LogOutcome(string(safety.OpCancelStopLoss), payload, nil, false, err.Error())
		return err
	}

	m.safetyMg.Daily().StopLossClosed()
	m.auditLog.LogOutcome(string(safety.OpCancelStopLoss), payload, nil, true, "")
	return nil
}

// ListStopLosses returns working stop-type orders, optionally filtered by
// symbol.
func (m *Manager) ListStopLosses(ctx context.Context, symbol string) ([]StopLossOrder, error) {
	payload := map[string]interface{}{"symbol_filter": symbol}
	decision := m.safetyMg.Validate(safety.Request{
		Kind:    safety.OpListStopLosses,
		Account: m.session.ManagedAccount(),
		Params:  payload,
	})
	if !decision.Safe {
		return nil, &SafetyError{Decision: decision}
	}

	trades, err := m.session.ReqOpenOrders(ctx)
	if err != nil {
		return nil, err
	}
	m.safetyMg.Daily().SyncActiveStopLosses(countStopOrders(trades))

	out := make([]StopLossOrder, 0, len(trades))
	for _, t := range trades {
		if !isStopOrderType(t.Order.OrderType) {
			continue
		}
		if symbol != "" && !strings.EqualFold(t.Contract.Symbol, symbol) {
			continue
		}
		out = append(out, *stopLossFromTrade(&t, paramsFromTrade(&t)))
	}
	return out, nil
}

// reconcileActiveStopLosses re-derives the active stop-loss count from the
// broker's working orders. The broker exposes no status event stream, so the
// open-order list is the only authoritative source for terminal transitions.
func (m *Manager) reconcileActiveStopLosses(ctx context.Context) {
	trades, err := m.session.ReqOpenOrders(ctx)
	if err != nil {
		// Keep the last known count; the placement will surface the broker
		// error on its own.
		return
	}
	m.safetyMg.Daily().SyncActiveStopLosses(countStopOrders(trades))
}

func countStopOrders(trades []ibkr.Trade) int {
	n := 0
	for _, t := range trades {
		if isStopOrderType(t.Order.OrderType) {
			n++
		}
	}
	return n
}

// ListOpenOrders returns every working order. History reads skip the kill
// switch but still pass rate limiting and leave an audit trail.
func (m *Manager) ListOpenOrders(ctx context.Context) ([]ibkr.Trade, error) {
	if err := m.historyGate("list_open_orders"); err != nil {
		return nil, err
	}
	return m.session.ReqOpenOrders(ctx)
}

// CompletedOrdersResult pairs completed-order records with the caveat that
// their per-fill fields may be zero.
type CompletedOrdersResult struct {
	Orders []ibkr.CompletedOrder `json:"orders"`
	// Completed-order records may report zero filled/avg_fill_price; the
	// executions API is the authoritative fill source.
	FillsAuthoritative bool   `json:"fills_authoritative"`
	Hint               string `json:"hint,omitempty"`
}

// ListCompletedOrders returns broker order history. Zero fill quantities and
// prices are passed through untouched; callers should consult executions.
func (m *Manager) ListCompletedOrders(ctx context.Context) (*CompletedOrdersResult, error) {
	if err := m.historyGate("list_completed_orders"); err != nil {
		return nil, err
	}
	orders, err := m.session.ReqCompletedOrders(ctx)
	if err != nil {
		return nil, err
	}
	return &CompletedOrdersResult{
		Orders:             orders,
		FillsAuthoritative: false,
		Hint:               "zero filled/avg_fill_price means not provided; use get_executions for fills",
	}, nil
}

// ListExecutions returns fills, optionally narrowed by symbol and look-back
// window. Executions are the authoritative record of fill prices.
func (m *Manager) ListExecutions(ctx context.Context, symbol string, daysBack int) ([]ibkr.Execution, error) {
	if err := m.historyGate("list_executions"); err != nil {
		return nil, err
	}

	filter := ibkr.ExecutionFilter{Symbol: strings.ToUpper(strings.TrimSpace(symbol))}
	if daysBack > 0 {
		filter.Since = m.nowFunc().AddDate(0, 0, -daysBack)
	}
	return m.session.ReqExecutions(ctx, filter)
}

// historyGate runs the order-history validation path: rate limit plus audit,
// no kill-switch or daily-limit involvement.
func (m *Manager) historyGate(what string) error {
	decision := m.safetyMg.Validate(safety.Request{
		Kind:    safety.OpOrderHistoryRead,
		Account: m.session.ManagedAccount(),
		Params:  map[string]interface{}{"read": what},
	})
	if !decision.Safe {
		return &SafetyError{Decision: decision}
	}
	return nil
}

func (m *Manager) qualify(ctx context.Context, symbol, exchange, currency string) (ibkr.Contract, error) {
	if exchange == "" {
		exchange = "SMART"
	}
	qualified, err := m.session.QualifyContracts(ctx, ibkr.Contract{
		Symbol:   symbol,
		SecType:  "STK",
		Exchange: strings.ToUpper(exchange),
		Currency: strings.ToUpper(currency),
	})
	if err != nil {
		return ibkr.Contract{}, err
	}
	if len(qualified) == 0 {
		return ibkr.Contract{}, fmt.Errorf("could not qualify contract for %s on %s", symbol, exchange)
	}
	return qualified[0], nil
}

func (m *Manager) findOpenOrder(ctx context.Context, orderID int64) (*ibkr.Trade, error) {
	trades, err := m.session.ReqOpenOrders(ctx)
	if err != nil {
		return nil, err
	}
	for i := range trades {
		if trades[i].Order.OrderID == orderID {
			return &trades[i], nil
		}
	}
	return nil, ibkr.ErrOrderNotFound
}

// buildStopOrder maps a stop-loss variant onto the broker order type.
func buildStopOrder(p StopLossParams) ibkr.Order {
	order := ibkr.Order{
		Action:        p.Side,
		TotalQuantity: p.Quantity,
		TIF:           p.TimeInForce,
		Transmit:      true,
	}
	switch p.Variant() {
	case VariantTrailing:
		order.OrderType = "TRAIL"
		if p.TrailAmount != nil {
			order.AuxPrice = *p.TrailAmount
		}
		if p.TrailPercent != nil {
			order.TrailingPercent = *p.TrailPercent
		}
	case VariantStopLimit:
		order.OrderType = "STP LMT"
		order.AuxPrice = p.StopPrice
		order.LmtPrice = *p.LimitPrice
	default:
		order.OrderType = "STP"
		order.AuxPrice = p.StopPrice
	}
	return order
}

func stopLossPayload(p StopLossParams) map[string]interface{} {
	payload := map[string]interface{}{
		"symbol": p.Symbol,
		"side":   p.Side,
	}
	// Zero quantity means "absent" (modify requests omit unchanged fields).
	if p.Quantity > 0 {
		payload["quantity"] = p.Quantity
	}
	if p.TimeInForce != "" {
		payload["time_in_force"] = p.TimeInForce
	}
	if p.Exchange != "" {
		payload["exchange"] = p.Exchange
	}
	if p.Currency != "" {
		payload["currency"] = p.Currency
	}
	if p.StopPrice > 0 {
		payload["stop_price"] = p.StopPrice
	}
	if p.LimitPrice != nil {
		payload["limit_price"] = *p.LimitPrice
	}
	if p.TrailAmount != nil {
		payload["trail_amount"] = *p.TrailAmount
	}
	if p.TrailPercent != nil {
		payload["trail_percent"] = *p.TrailPercent
	}
	return payload
}

func stopLossFromTrade(t *ibkr.Trade, p StopLossParams) *StopLossOrder {
	out := &StopLossOrder{
		OrderID:     t.Order.OrderID,
		Symbol:      t.Contract.Symbol,
		Exchange:    t.Contract.Exchange,
		Currency:    t.Contract.Currency,
		Side:        t.Order.Action,
		Quantity:    t.Order.TotalQuantity,
		StopPrice:   t.Order.AuxPrice,
		Variant:     p.Variant(),
		TimeInForce: t.Order.TIF,
		Status:      t.Status.Status,
	}
	if t.Order.OrderType == "STP LMT" {
		out.LimitPrice = t.Order.LmtPrice
	}
	return out
}

// paramsFromTrade reconstructs variant information for listing output.
func paramsFromTrade(t *ibkr.Trade) StopLossParams {
	p := StopLossParams{
		Symbol:      t.Contract.Symbol,
		Side:        t.Order.Action,
		Quantity:    t.Order.TotalQuantity,
		StopPrice:   t.Order.AuxPrice,
		TimeInForce: t.Order.TIF,
	}
	switch t.Order.OrderType {
	case "STP LMT":
		lmt := t.Order.LmtPrice
		p.LimitPrice = &lmt
	case "TRAIL":
		if t.Order.TrailingPercent > 0 {
			pct := t.Order.TrailingPercent
			p.TrailPercent = &pct
		} else {
			amt := t.Order.AuxPrice
			p.TrailAmount = &amt
		}
	}
	return p
}

// mergeParams overlays non-zero change fields on the existing order.
func mergeParams(existing *ibkr.Trade, changes StopLossParams) StopLossParams {
	merged := paramsFromTrade(existing)
	if changes.Quantity > 0 {
		merged.Quantity = changes.Quantity
	}
	if changes.StopPrice > 0 {
		merged.StopPrice = changes.StopPrice
	}
	if changes.LimitPrice != nil {
		merged.LimitPrice = changes.LimitPrice
	}
	if changes.TrailAmount != nil {
		merged.TrailAmount = changes.TrailAmount
		merged.TrailPercent = nil
	}
	if changes.TrailPercent != nil {
		merged.TrailPercent = changes.TrailPercent
		merged.TrailAmount = nil
	}
	if changes.TimeInForce != "" {
		merged.TimeInForce = changes.TimeInForce
	}
	return merged
}

func isStopOrderType(orderType string) bool {
	switch orderType {
	case "STP", "STP LMT", "TRAIL":
		return true
	}
	return false
}
