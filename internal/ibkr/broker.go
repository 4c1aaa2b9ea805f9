package ibkr

import (
	"context"
	"errors"
	"fmt"
)

// Broker is the minimal surface the gateway needs from an IBKR-style broker
// connection. Implementations must be safe for concurrent use; the session
// wrapper serializes calls anyway because TWS API sessions are effectively
// single-channel.
type Broker interface {
	Connect(ctx context.Context) error
	Disconnect() error
	IsConnected() bool

	// ManagedAccount returns the account the session is bound to.
	ManagedAccount() string

	// QualifyContracts resolves partial contracts into fully specified ones.
	// Contracts the broker cannot qualify are dropped from the result.
	QualifyContracts(ctx context.Context, contracts ...Contract) ([]Contract, error)

	// ReqTickers returns market data snapshots for qualified contracts.
	ReqTickers(ctx context.Context, contracts ...Contract) ([]Ticker, error)

	// ReqMatchingSymbols performs broker-side fuzzy search on a company name
	// or partial symbol.
	ReqMatchingSymbols(ctx context.Context, pattern string) ([]ContractDescription, error)

	PlaceOrder(ctx context.Context, contract Contract, order Order) (*Trade, error)
	CancelOrder(ctx context.Context, orderID int64) error

	ReqOpenOrders(ctx context.Context) ([]Trade, error)
	ReqCompletedOrders(ctx context.Context) ([]CompletedOrder, error)
	ReqExecutions(ctx context.Context, filter ExecutionFilter) ([]Execution, error)

	ReqPositions(ctx context.Context) ([]Position, error)
	ReqAccountSummary(ctx context.Context) (*AccountSummary, error)
}

var (
	// ErrNotConnected is returned for any broker call without a live session.
	ErrNotConnected = errors.New("not connected to broker")

	// ErrBrokerTimeout is returned when a broker call exceeds its deadline.
	ErrBrokerTimeout = errors.New("broker call timed out")

	// ErrOrderNotFound is returned when an order ID does not match a working order.
	ErrOrderNotFound = errors.New("order not found")

	// ErrLiveTransportUnavailable is returned when connection.mode selects the
	// live gateway transport, which this build does not bundle.
	ErrLiveTransportUnavailable = errors.New(`gateway connection mode requires an external TWS/IB Gateway transport; use mode "paper"`)
)

// BrokerRejected is a broker-side rejection with the broker's error code.
type BrokerRejected struct {
	Code    int
	Message string
}

func (e *BrokerRejected) Error() string {
	return fmt.Sprintf("broker rejected request (code %d): %s", e.Code, e.Message)
}
