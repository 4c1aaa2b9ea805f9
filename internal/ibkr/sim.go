package ibkr

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SimBroker is a deterministic in-memory paper broker. It backs the default
// "paper" connection mode and the test suite: a small listing table, fixed
// forex quotes and immediate order acknowledgements, with knobs to inject
// failures and bad quotes.
type SimBroker struct {
	mu          sync.Mutex
	connected   bool
	account     string
	nextOrderID int64

	openOrders map[int64]*Trade
	completed  []CompletedOrder
	executions []Execution
	positions  []Position

	listings    []simListing
	forexQuotes map[string]simQuote

	// Test knobs.
	failNextPlace  error
	nonFinitePairs map[string]bool
	nowFunc        func() time.Time

	logger zerolog.Logger
}

type simListing struct {
	contract      Contract
	price         float64
	smartRoutable bool
	isin          string
	cusip         string
}

type simQuote struct {
	bid, ask float64
}

// NewSimBroker creates a disconnected simulator bound to a paper account.
func NewSimBroker(account string) *SimBroker {
	if account == "" {
		account = "DU1234567"
	}
	return &SimBroker{
		account:        account,
		nextOrderID:    1,
		openOrders:     make(map[int64]*Trade),
		nonFinitePairs: make(map[string]bool),
		nowFunc:        time.Now,
		listings:       defaultListings(),
		forexQuotes:    defaultForexQuotes(),
		logger:         log.With().Str("component", "sim_broker").Logger(),
	}
}

func defaultListings() []simListing {
	return []simListing{
		{Contract{ConID: 265598, Symbol: "AAPL", SecType: "STK", Exchange: "SMART", PrimaryExchange: "NASDAQ", Currency: "USD", LongName: "Apple Inc"}, 190.50, true, "US0378331005", "037833100"},
		{Contract{ConID: 272093, Symbol: "MSFT", SecType: "STK", Exchange: "SMART", PrimaryExchange: "NASDAQ", Currency: "USD", LongName: "Microsoft Corporation"}, 421.10, true, "US5949181045", "594918104"},
		{Contract{ConID: 756733, Symbol: "SPY", SecType: "STK", Exchange: "SMART", PrimaryExchange: "ARCA", Currency: "USD", LongName: "SPDR S&P 500 ETF Trust"}, 558.20, true, "US78462F1030", "78462F103"},
		{Contract{ConID: 14204, Symbol: "SAP", SecType: "STK", Exchange: "IBIS", PrimaryExchange: "IBIS", Currency: "EUR", LongName: "SAP SE"}, 182.40, false, "DE0007164600", ""},
		{Contract{ConID: 38708077, Symbol: "7203", SecType: "STK", Exchange: "TSEJ", PrimaryExchange: "TSEJ", Currency: "JPY", LocalSymbol: "7203", LongName: "Toyota Motor Corporation"}, 2815, false, "JP3633400001", ""},
		{Contract{ConID: 12087792, Symbol: "VOD", SecType: "STK", Exchange: "LSE", PrimaryExchange: "LSE", Currency: "GBP", LongName: "Vodafone Group PLC"}, 72.85, false, "GB00BH4HKS39", ""},
	}
}

func defaultForexQuotes() map[string]simQuote {
	return map[string]simQuote{
		"EURUSD": {1.08495, 1.08505},
		"GBPUSD": {1.26990, 1.27010},
		"USDJPY": {148.495, 148.505},
		"USDCHF": {0.87995, 0.88005},
		"USDCAD": {1.35995, 1.36005},
		"AUDUSD": {0.65495, 0.65505},
		"NZDUSD": {0.60995, 0.61005},
	}
}

// Connect marks the session live.
func (b *SimBroker) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = true
	b.logger.Info().Str("account", b.account).Msg("Paper simulator connected")
	return nil
}

// Disconnect marks the session down. Open state survives for reconnection.
func (b *SimBroker) Disconnect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = false
	return nil
}

// IsConnected reports session state.
func (b *SimBroker) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

// ManagedAccount returns the bound paper account.
func (b *SimBroker) ManagedAccount() string {
	return b.account
}

// QualifyContracts resolves each partial contract against the listing table.
// Unqualifiable contracts are silently dropped, matching broker behavior.
func (b *SimBroker) QualifyContracts(ctx context.Context, contracts ...Contract) ([]Contract, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return nil, ErrNotConnected
	}

	var out []Contract
	for _, c := range contracts {
		if c.SecType == "CASH" {
			if q, ok := b.forexQuotes[c.Symbol+c.Currency]; ok && q.bid > 0 {
				qc := c
				qc.Exchange = "IDEALPRO"
				qc.LocalSymbol = c.Symbol + "." + c.Currency
				out = append(out, qc)
			}
			continue
		}
		if qc, ok := b.qualifyByID(c); ok {
			out = append(out, qc)
			continue
		}
		for _, l := range b.listings {
			if !strings.EqualFold(l.contract.Symbol, c.Symbol) {
				continue
			}
			if matchesExchange(l, c.Exchange) && (c.Currency == "" || c.Currency == l.contract.Currency) {
				out = append(out, l.contract)
				break
			}
		}
	}
	return out, nil
}

// qualifyByID matches a contract given only a con ID or a security
// identifier (ISIN, CUSIP).
func (b *SimBroker) qualifyByID(c Contract) (Contract, bool) {
	if c.ConID != 0 && c.Symbol == "" {
		for _, l := range b.listings {
			if l.contract.ConID == c.ConID {
				return l.contract, true
			}
		}
		return Contract{}, false
	}
	if c.SecIDType != "" && c.SecID != "" {
		for _, l := range b.listings {
			switch c.SecIDType {
			case "ISIN":
				if l.isin == c.SecID {
					return l.contract, true
				}
			case "CUSIP":
				if l.cusip == c.SecID {
					return l.contract, true
				}
			}
		}
		return Contract{}, false
	}
	return Contract{}, false
}

func matchesExchange(l simListing, requested string) bool {
	switch requested {
	case "", l.contract.Exchange, l.contract.PrimaryExchange:
		return true
	case "SMART":
		return l.smartRoutable
	}
	return false
}

// ReqTickers returns deterministic snapshots around the listing price, or the
// fixed forex quote for CASH contracts.
func (b *SimBroker) ReqTickers(ctx context.Context, contracts ...Contract) ([]Ticker, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return nil, ErrNotConnected
	}

	now := b.nowFunc()
	out := make([]Ticker, 0, len(contracts))
	for _, c := range contracts {
		t := Ticker{Contract: c, Time: now}
		if c.SecType == "CASH" {
			pair := c.Symbol + c.Currency
			if b.nonFinitePairs[pair] {
				t.Bid, t.Ask, t.Last, t.Close = math.NaN(), math.NaN(), math.NaN(), math.NaN()
			} else if q, ok := b.forexQuotes[pair]; ok {
				mid := (q.bid + q.ask) / 2
				t.Bid, t.Ask, t.Last, t.Close = q.bid, q.ask, mid, mid
			} else {
				t.Bid, t.Ask, t.Last, t.Close = math.NaN(), math.NaN(), math.NaN(), math.NaN()
			}
		} else {
			price := b.listingPrice(c)
			spread := price * 0.0002
			t.Bid, t.Ask = price-spread, price+spread
			t.Last, t.Close = price, price*0.995
		}
		out = append(out, t)
	}
	return out, nil
}

func (b *SimBroker) listingPrice(c Contract) float64 {
	for _, l := range b.listings {
		if l.contract.ConID == c.ConID || strings.EqualFold(l.contract.Symbol, c.Symbol) {
			return l.price
		}
	}
	return 100
}

// ReqMatchingSymbols searches listings by symbol prefix or company name
// substring, case-insensitive.
func (b *SimBroker) ReqMatchingSymbols(ctx context.Context, pattern string) ([]ContractDescription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return nil, ErrNotConnected
	}

	needle := strings.ToLower(strings.TrimSpace(pattern))
	if needle == "" {
		return nil, nil
	}

	var out []ContractDescription
	for _, l := range b.listings {
		symbol := strings.ToLower(l.contract.Symbol)
		name := strings.ToLower(l.contract.LongName)
		if strings.HasPrefix(symbol, needle) || strings.Contains(name, needle) {
			out = append(out, ContractDescription{Contract: l.contract})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Contract.Symbol < out[j].Contract.Symbol
	})
	return out, nil
}

// PlaceOrder acknowledges the order immediately as Submitted.
func (b *SimBroker) PlaceOrder(ctx context.Context, contract Contract, order Order) (*Trade, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return nil, ErrNotConnected
	}
	if b.failNextPlace != nil {
		err := b.failNextPlace
		b.failNextPlace = nil
		return nil, err
	}

	order.OrderID = b.nextOrderID
	b.nextOrderID++
	if order.Account == "" {
		order.Account = b.account
	}

	trade := &Trade{
		Contract: contract,
		Order:    order,
		Status: OrderStatus{
			Status:    "Submitted",
			Filled:    0,
			Remaining: order.TotalQuantity,
		},
	}
	b.openOrders[order.OrderID] = trade
	b.logger.Info().
		Int64("order_id", order.OrderID).
		Str("symbol", contract.Symbol).
		Str("type", order.OrderType).
		Msg("Paper order submitted")
	return copyTrade(trade), nil
}

// CancelOrder moves a working order into completed history as Cancelled.
func (b *SimBroker) CancelOrder(ctx context.Context, orderID int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return ErrNotConnected
	}

	trade, ok := b.openOrders[orderID]
	if !ok {
		return ErrOrderNotFound
	}
	delete(b.openOrders, orderID)

	trade.Status.Status = "Cancelled"
	b.completed = append(b.completed, CompletedOrder{
		Contract:    trade.Contract,
		Order:       trade.Order,
		Status:      trade.Status,
		CompletedAt: b.nowFunc(),
	})
	return nil
}

// ReqOpenOrders lists working orders sorted by order ID.
func (b *SimBroker) ReqOpenOrders(ctx context.Context) ([]Trade, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return nil, ErrNotConnected
	}

	out := make([]Trade, 0, len(b.openOrders))
	for _, t := range b.openOrders {
		out = append(out, *copyTrade(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order.OrderID < out[j].Order.OrderID })
	return out, nil
}

// ReqCompletedOrders lists finished orders, oldest first.
func (b *SimBroker) ReqCompletedOrders(ctx context.Context) ([]CompletedOrder, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return nil, ErrNotConnected
	}
	return append([]CompletedOrder(nil), b.completed...), nil
}

// ReqExecutions lists fills matching the filter.
func (b *SimBroker) ReqExecutions(ctx context.Context, filter ExecutionFilter) ([]Execution, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return nil, ErrNotConnected
	}

	var out []Execution
	for _, e := range b.executions {
		if filter.Symbol != "" && !strings.EqualFold(e.Contract.Symbol, filter.Symbol) {
			continue
		}
		if filter.SecType != "" && e.Contract.SecType != filter.SecType {
			continue
		}
		if !filter.Since.IsZero() && e.Time.Before(filter.Since) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// ReqPositions lists portfolio lines.
func (b *SimBroker) ReqPositions(ctx context.Context) ([]Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return nil, ErrNotConnected
	}
	return append([]Position(nil), b.positions...), nil
}

// ReqAccountSummary returns a fixed paper account snapshot.
func (b *SimBroker) ReqAccountSummary(ctx context.Context) (*AccountSummary, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return nil, ErrNotConnected
	}
	return &AccountSummary{
		Account: b.account,
		Values: map[string]TaggedValue{
			"NetLiquidation":   {Value: "1000000.00", Currency: "USD"},
			"TotalCashValue":   {Value: "1000000.00", Currency: "USD"},
			"BuyingPower":      {Value: "4000000.00", Currency: "USD"},
			"AccountType":      {Value: "INDIVIDUAL"},
			"AvailableFunds":   {Value: "1000000.00", Currency: "USD"},
			"GrossPositionVal": {Value: "0.00", Currency: "USD"},
		},
	}, nil
}

// FailNextPlaceOrder makes the next PlaceOrder return err. Test knob.
func (b *SimBroker) FailNextPlaceOrder(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failNextPlace = err
}

// SetNonFiniteQuote makes ReqTickers return NaN prices for pair. Test knob.
func (b *SimBroker) SetNonFiniteQuote(pair string, broken bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nonFinitePairs[pair] = broken
}

// FillOrder simulates a complete fill of a working order at price, producing
// an execution record and moving the order to completed history. Test knob.
func (b *SimBroker) FillOrder(orderID int64, price float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	trade, ok := b.openOrders[orderID]
	if !ok {
		return ErrOrderNotFound
	}
	delete(b.openOrders, orderID)

	now := b.nowFunc()
	side := "BOT"
	if trade.Order.Action == "SELL" {
		side = "SLD"
	}
	b.executions = append(b.executions, Execution{
		ExecID:   uuid.New().String(),
		OrderID:  orderID,
		Contract: trade.Contract,
		Side:     side,
		Shares:   trade.Order.TotalQuantity,
		Price:    price,
		Account:  trade.Order.Account,
		Exchange: trade.Contract.Exchange,
		Time:     now,
	})

	trade.Status = OrderStatus{
		Status:       "Filled",
		Filled:       trade.Order.TotalQuantity,
		Remaining:    0,
		AvgFillPrice: price,
	}
	b.completed = append(b.completed, CompletedOrder{
		Contract:    trade.Contract,
		Order:       trade.Order,
		Status:      trade.Status,
		CompletedAt: now,
	})
	b.positions = append(b.positions, Position{
		Account:  trade.Order.Account,
		Contract: trade.Contract,
		Quantity: signedQuantity(trade.Order),
		AvgCost:  price,
	})
	return nil
}

func signedQuantity(o Order) float64 {
	if o.Action == "SELL" {
		return -o.TotalQuantity
	}
	return o.TotalQuantity
}

func copyTrade(t *Trade) *Trade {
	c := *t
	return &c
}

// Interface conformance.
var _ Broker = (*SimBroker)(nil)
