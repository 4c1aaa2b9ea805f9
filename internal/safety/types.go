// Package safety implements the pre-flight validation framework every
// trading-side operation must pass: kill switch, sliding-window rate limits,
// per-day order accounting, account verification and parameter checks, with
// every outcome written to the audit log.
package safety

import "time"

// OperationKind identifies a gateway operation for validation purposes.
// Each kind carries a distinct validation profile.
type OperationKind string

const (
	OpMarketData       OperationKind = "market_data"
	OpForexRate        OperationKind = "forex_rate"
	OpCurrencyConvert  OperationKind = "currency_convert"
	OpResolveSymbol    OperationKind = "resolve_symbol"
	OpPlaceStopLoss    OperationKind = "place_stop_loss"
	OpModifyStopLoss   OperationKind = "modify_stop_loss"
	OpCancelStopLoss   OperationKind = "cancel_stop_loss"
	OpListStopLosses   OperationKind = "list_stop_losses"
	OpPlaceOrder       OperationKind = "place_order"
	OpModifyOrder      OperationKind = "modify_order"
	OpCancelOrder      OperationKind = "cancel_order"
	OpAccountSwitch    OperationKind = "account_switch"
	OpPortfolioRead    OperationKind = "portfolio_read"
	OpOrderHistoryRead OperationKind = "order_history_read"
)

// TradingSide reports whether the operation mutates broker state. The kill
// switch and the master trading flag only gate trading-side kinds; reads stay
// available during an emergency halt.
func (k OperationKind) TradingSide() bool {
	switch k {
	case OpPlaceStopLoss, OpModifyStopLoss, OpCancelStopLoss,
		OpPlaceOrder, OpModifyOrder, OpCancelOrder, OpAccountSwitch:
		return true
	}
	return false
}

// PlacesOrder reports whether the operation consumes a daily order slot.
func (k OperationKind) PlacesOrder() bool {
	return k == OpPlaceStopLoss || k == OpPlaceOrder
}

// OpClass is the rate-limit class an operation is accounted under.
type OpClass string

const (
	ClassOrderPlacement OpClass = "order_placement"
	ClassQuoteRequest   OpClass = "quote_request"
	ClassFuzzySearch    OpClass = "fuzzy_search"
	ClassHistorical     OpClass = "historical"
)

// Class maps an operation kind to its rate-limit class.
func (k OperationKind) Class() OpClass {
	switch k {
	case OpPlaceStopLoss, OpModifyStopLoss, OpCancelStopLoss,
		OpPlaceOrder, OpModifyOrder, OpCancelOrder:
		return ClassOrderPlacement
	case OpOrderHistoryRead:
		return ClassHistorical
	default:
		return ClassQuoteRequest
	}
}

// Decision is the outcome of a safety validation. Safe iff Errors is empty.
type Decision struct {
	Safe            bool     `json:"safe"`
	Warnings        []string `json:"warnings"`
	Errors          []string `json:"errors"`
	ChecksPerformed []string `json:"checks_performed"`
}

// KillSwitchState is a snapshot of the kill switch.
type KillSwitchState struct {
	Active      bool       `json:"active"`
	Reason      string     `json:"reason,omitempty"`
	ActivatedAt *time.Time `json:"activated_at,omitempty"`
}

// Counters is a snapshot of the per-UTC-day accounting state.
type Counters struct {
	DateUTC           string  `json:"date_utc"`
	OrdersPlaced      int     `json:"orders_placed"`
	ActiveStopLosses  int     `json:"active_stop_losses"`
	NotionalVolumeUSD float64 `json:"notional_volume_usd"`
}
