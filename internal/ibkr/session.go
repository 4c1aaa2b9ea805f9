package ibkr

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/ajitpratap0/ibkr-mcp-gateway/internal/config"
	"github.com/ajitpratap0/ibkr-mcp-gateway/internal/metrics"
)

// Circuit breaker thresholds for the broker session.
const (
	brokerMinRequests     = 5
	brokerFailureRatio    = 0.6
	brokerOpenTimeout     = 30 * time.Second
	brokerHalfOpenMaxReqs = 3
	brokerCountInterval   = 10 * time.Second
)

// DisconnectListener is invoked when the session observes a disconnect.
// Listeners run synchronously; keep them cheap (cache invalidation, logging).
type DisconnectListener func()

// Session wraps a Broker with call serialization, per-call deadlines and a
// circuit breaker. The TWS API multiplexes everything over one socket, so
// concurrent tool calls are serialized here rather than in every caller.
type Session struct {
	mu     sync.Mutex
	broker Broker
	cfg    *config.ConnectionConfig
	cb     *gobreaker.CircuitBreaker
	logger zerolog.Logger

	listenerMu sync.Mutex
	listeners  []DisconnectListener
}

// NewSession wraps broker with the session discipline.
func NewSession(broker Broker, cfg *config.ConnectionConfig) *Session {
	s := &Session{
		broker: broker,
		cfg:    cfg,
		logger: log.With().Str("component", "broker_session").Logger(),
	}
	s.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "broker",
		MaxRequests: brokerHalfOpenMaxReqs,
		Interval:    brokerCountInterval,
		Timeout:     brokerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= brokerMinRequests && failureRatio >= brokerFailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			s.logger.Warn().
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Broker circuit breaker state changed")
		},
	})
	return s
}

// OnDisconnect registers a listener fired whenever the session disconnects,
// whether explicitly or observed mid-call.
func (s *Session) OnDisconnect(fn DisconnectListener) {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *Session) fireDisconnect() {
	s.listenerMu.Lock()
	listeners := append([]DisconnectListener(nil), s.listeners...)
	s.listenerMu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}

// Connect establishes the broker session.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.broker.IsConnected() {
		return nil
	}
	if err := s.broker.Connect(ctx); err != nil {
		return err
	}
	s.logger.Info().
		Str("host", s.cfg.Host).
		Int("port", s.cfg.Port).
		Str("account", s.broker.ManagedAccount()).
		Msg("Broker session connected")
	return nil
}

// Disconnect tears the session down and notifies listeners.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	err := s.broker.Disconnect()
	s.mu.Unlock()

	s.fireDisconnect()
	return err
}

// IsConnected reports the live state of the underlying broker.
func (s *Session) IsConnected() bool {
	return s.broker.IsConnected()
}

// ManagedAccount returns the account bound to the session, empty when
// disconnected.
func (s *Session) ManagedAccount() string {
	if !s.broker.IsConnected() {
		return ""
	}
	return s.broker.ManagedAccount()
}

// call runs fn under the session lock, circuit breaker and a deadline.
// A context deadline error is normalized to ErrBrokerTimeout; a disconnect
// observed during the call fires the listeners.
func (s *Session) call(ctx context.Context, method string, timeout time.Duration, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	if !s.broker.IsConnected() {
		return nil, ErrNotConnected
	}

	start := time.Now()
	out, err := s.cb.Execute(func() (interface{}, error) {
		s.mu.Lock()
		defer s.mu.Unlock()

		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return fn(callCtx)
	})
	metrics.RecordBrokerCall(method, err == nil, time.Since(start).Seconds())

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = ErrBrokerTimeout
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			s.logger.Warn().Str("method", method).Msg("Broker call short-circuited by open breaker")
		}
		s.logger.Error().Err(err).Str("method", method).Msg("Broker call failed")

		if !s.broker.IsConnected() {
			s.fireDisconnect()
		}
		return nil, err
	}
	return out, nil
}

// QualifyContracts resolves partial contracts under the data deadline.
func (s *Session) QualifyContracts(ctx context.Context, contracts ...Contract) ([]Contract, error) {
	out, err := s.call(ctx, "qualify_contracts", s.cfg.ResolveTimeout(), func(ctx context.Context) (interface{}, error) {
		return s.broker.QualifyContracts(ctx, contracts...)
	})
	if err != nil {
		return nil, err
	}
	return out.([]Contract), nil
}

// ReqTickers fetches market data snapshots.
func (s *Session) ReqTickers(ctx context.Context, contracts ...Contract) ([]Ticker, error) {
	out, err := s.call(ctx, "req_tickers", s.cfg.ResolveTimeout(), func(ctx context.Context) (interface{}, error) {
		return s.broker.ReqTickers(ctx, contracts...)
	})
	if err != nil {
		return nil, err
	}
	return out.([]Ticker), nil
}

// ReqMatchingSymbols runs a broker-side fuzzy symbol search.
func (s *Session) ReqMatchingSymbols(ctx context.Context, pattern string) ([]ContractDescription, error) {
	out, err := s.call(ctx, "req_matching_symbols", s.cfg.ResolveTimeout(), func(ctx context.Context) (interface{}, error) {
		return s.broker.ReqMatchingSymbols(ctx, pattern)
	})
	if err != nil {
		return nil, err
	}
	return out.([]ContractDescription), nil
}

// PlaceOrder submits an order under the order deadline.
func (s *Session) PlaceOrder(ctx context.Context, contract Contract, order Order) (*Trade, error) {
	out, err := s.call(ctx, "place_order", s.cfg.OrderTimeout(), func(ctx context.Context) (interface{}, error) {
		return s.broker.PlaceOrder(ctx, contract, order)
	})
	if err != nil {
		return nil, err
	}
	return out.(*Trade), nil
}

// CancelOrder cancels a working order.
func (s *Session) CancelOrder(ctx context.Context, orderID int64) error {
	_, err := s.call(ctx, "cancel_order", s.cfg.OrderTimeout(), func(ctx context.Context) (interface{}, error) {
		return nil, s.broker.CancelOrder(ctx, orderID)
	})
	return err
}

// ReqOpenOrders lists working orders.
func (s *Session) ReqOpenOrders(ctx context.Context) ([]Trade, error) {
	out, err := s.call(ctx, "req_open_orders", s.cfg.ResolveTimeout(), func(ctx context.Context) (interface{}, error) {
		return s.broker.ReqOpenOrders(ctx)
	})
	if err != nil {
		return nil, err
	}
	return out.([]Trade), nil
}

// ReqCompletedOrders lists finished orders.
func (s *Session) ReqCompletedOrders(ctx context.Context) ([]CompletedOrder, error) {
	out, err := s.call(ctx, "req_completed_orders", s.cfg.ResolveTimeout(), func(ctx context.Context) (interface{}, error) {
		return s.broker.ReqCompletedOrders(ctx)
	})
	if err != nil {
		return nil, err
	}
	return out.([]CompletedOrder), nil
}

// ReqExecutions lists fills matching the filter.
func (s *Session) ReqExecutions(ctx context.Context, filter ExecutionFilter) ([]Execution, error) {
	out, err := s.call(ctx, "req_executions", s.cfg.ResolveTimeout(), func(ctx context.Context) (interface{}, error) {
		return s.broker.ReqExecutions(ctx, filter)
	})
	if err != nil {
		return nil, err
	}
	return out.([]Execution), nil
}

// ReqPositions lists portfolio positions.
func (s *Session) ReqPositions(ctx context.Context) ([]Position, error) {
	out, err := s.call(ctx, "req_positions", s.cfg.ResolveTimeout(), func(ctx context.Context) (interface{}, error) {
		return s.broker.ReqPositions(ctx)
	})
	if err != nil {
		return nil, err
	}
	return out.([]Position), nil
}

// ReqAccountSummary fetches the account snapshot.
func (s *Session) ReqAccountSummary(ctx context.Context) (*AccountSummary, error) {
	out, err := s.call(ctx, "req_account_summary", s.cfg.ResolveTimeout(), func(ctx context.Context) (interface{}, error) {
		return s.broker.ReqAccountSummary(ctx)
	})
	if err != nil {
		return nil, err
	}
	return out.(*AccountSummary), nil
}
