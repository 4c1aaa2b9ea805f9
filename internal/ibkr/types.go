// Package ibkr defines the broker abstraction the gateway trades through:
// the contract and order types, the Broker interface, a circuit-breaker
// session wrapper and a deterministic paper simulator.
package ibkr

import "time"

// Contract identifies a tradable instrument.
type Contract struct {
	ConID           int64  `json:"con_id"`
	Symbol          string `json:"symbol"`
	SecType         string `json:"sec_type"` // STK, CASH, ...
	Exchange        string `json:"exchange"`
	PrimaryExchange string `json:"primary_exchange,omitempty"`
	Currency        string `json:"currency"`
	LocalSymbol     string `json:"local_symbol,omitempty"`
	LongName        string `json:"long_name,omitempty"`

	// Alternative identifier lookup (ISIN, CUSIP).
	SecIDType string `json:"sec_id_type,omitempty"`
	SecID     string `json:"sec_id,omitempty"`
}

// ContractDescription is one fuzzy-search match from the broker.
type ContractDescription struct {
	Contract           Contract `json:"contract"`
	DerivativeSecTypes []string `json:"derivative_sec_types,omitempty"`
}

// Ticker is a market data snapshot for one contract. Price fields may be NaN
// when the broker has no quote.
type Ticker struct {
	Contract Contract  `json:"contract"`
	Bid      float64   `json:"bid"`
	Ask      float64   `json:"ask"`
	Last     float64   `json:"last"`
	Close    float64   `json:"close"`
	Time     time.Time `json:"time"`
}

// Order is a broker order request.
type Order struct {
	OrderID         int64   `json:"order_id,omitempty"`
	Action          string  `json:"action"`     // BUY or SELL
	OrderType       string  `json:"order_type"` // STP, STP LMT, TRAIL, MKT, LMT
	TotalQuantity   float64 `json:"total_quantity"`
	LmtPrice        float64 `json:"lmt_price,omitempty"`
	AuxPrice        float64 `json:"aux_price,omitempty"` // stop / trail amount
	TrailingPercent float64 `json:"trailing_percent,omitempty"`
	TIF             string  `json:"tif,omitempty"`
	Account         string  `json:"account,omitempty"`
	OutsideRTH      bool    `json:"outside_rth,omitempty"`
	Transmit        bool    `json:"transmit"`
}

// OrderStatus is the broker-reported lifecycle state of an order.
type OrderStatus struct {
	Status       string  `json:"status"` // PreSubmitted, Submitted, Filled, Cancelled, ...
	Filled       float64 `json:"filled"`
	Remaining    float64 `json:"remaining"`
	AvgFillPrice float64 `json:"avg_fill_price"`
}

// Trade pairs an acknowledged order with its contract and current status.
type Trade struct {
	Contract Contract    `json:"contract"`
	Order    Order       `json:"order"`
	Status   OrderStatus `json:"status"`
}

// CompletedOrder is a finished order from broker order history. Fill
// quantities reported here can lag; executions are the authoritative record.
type CompletedOrder struct {
	Contract    Contract    `json:"contract"`
	Order       Order       `json:"order"`
	Status      OrderStatus `json:"status"`
	CompletedAt time.Time   `json:"completed_at"`
}

// Execution is a single fill report.
type Execution struct {
	ExecID   string    `json:"exec_id"`
	OrderID  int64     `json:"order_id"`
	Contract Contract  `json:"contract"`
	Side     string    `json:"side"` // BOT or SLD
	Shares   float64   `json:"shares"`
	Price    float64   `json:"price"`
	Account  string    `json:"account"`
	Exchange string    `json:"exchange"`
	Time     time.Time `json:"time"`
}

// ExecutionFilter narrows a ReqExecutions call. Zero values match everything.
type ExecutionFilter struct {
	Symbol  string    `json:"symbol,omitempty"`
	SecType string    `json:"sec_type,omitempty"`
	Since   time.Time `json:"since,omitempty"`
}

// Position is one portfolio line.
type Position struct {
	Account  string   `json:"account"`
	Contract Contract `json:"contract"`
	Quantity float64  `json:"quantity"`
	AvgCost  float64  `json:"avg_cost"`
}

// AccountSummary is the broker account snapshot, tag -> (value, currency).
type AccountSummary struct {
	Account string                 `json:"account"`
	Values  map[string]TaggedValue `json:"values"`
}

// TaggedValue is one account summary entry.
type TaggedValue struct {
	Value    string `json:"value"`
	Currency string `json:"currency,omitempty"`
}
