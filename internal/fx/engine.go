package fx

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/ajitpratap0/ibkr-mcp-gateway/internal/config"
	"github.com/ajitpratap0/ibkr-mcp-gateway/internal/ibkr"
)

// quoteSource is the slice of the broker session the engine needs.
type quoteSource interface {
	ReqTickers(ctx context.Context, contracts ...ibkr.Contract) ([]ibkr.Ticker, error)
}

// Engine fetches forex rates through the broker session with a short cache,
// substitutes deterministic mock rates for broken quotes, and converts
// amounts between currencies directly, inversely or crossing through USD.
type Engine struct {
	cfg     *config.ForexConfig
	broker  quoteSource
	cache   *cache
	logger  zerolog.Logger
	nowFunc func() time.Time
}

// NewEngine builds the forex engine on top of a broker session.
func NewEngine(cfg *config.ForexConfig, broker quoteSource) *Engine {
	return &Engine{
		cfg:     cfg,
		broker:  broker,
		cache:   newCache(cfg.ForexCacheTTL()),
		logger:  log.With().Str("component", "forex").Logger(),
		nowFunc: time.Now,
	}
}

// InvalidateCache drops all cached rates. Wired to broker disconnect.
func (e *Engine) InvalidateCache() {
	e.cache.clear()
}

// GetRate returns the quote for one canonical pair (e.g. "EURUSD"), from
// cache when fresh. Broken broker quotes (non-finite or non-positive bid,
// ask or last) fall back to the deterministic mock table.
func (e *Engine) GetRate(ctx context.Context, pair string) (*Rate, error) {
	if len(pair) != 6 {
		return nil, fmt.Errorf("malformed pair %q: %w", pair, ErrNoRateAvailable)
	}
	if !SupportedPair(pair) {
		return nil, NoRateError(pair[:3], pair[3:])
	}
	if r, ok := e.cache.get(pair); ok {
		return r, nil
	}

	ticker, err := e.fetchTicker(ctx, pair)
	if err != nil {
		return nil, err
	}

	rate := &Rate{
		Pair:      pair,
		Bid:       ticker.Bid,
		Ask:       ticker.Ask,
		Last:      ticker.Last,
		Close:     ticker.Close,
		Timestamp: e.nowFunc(),
		Source:    SourceLive,
	}
	if !finitePositive(ticker.Bid) || !finitePositive(ticker.Ask) || !finitePositive(ticker.Last) {
		mock, ok := mockRate(pair, e.nowFunc())
		if !ok {
			return nil, NoRateError(pair[:3], pair[3:])
		}
		e.logger.Warn().Str("pair", pair).Msg("Broker quote unusable, using mock fallback rate")
		rate = mock
	}

	e.cache.put(rate)
	return rate, nil
}

// GetRates fetches quotes for several pairs. Any single failure fails the
// call; partial results are not returned.
func (e *Engine) GetRates(ctx context.Context, pairs []string) ([]Rate, error) {
	out := make([]Rate, 0, len(pairs))
	for _, pair := range pairs {
		r, err := e.GetRate(ctx, pair)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, nil
}

// Convert converts amount between two currencies. Paths, in order: identity,
// direct pair, inverse pair, cross through USD.
func (e *Engine) Convert(ctx context.Context, amount float64, from, to string) (*Conversion, error) {
	conv := &Conversion{
		OriginalAmount: amount,
		FromCurrency:   from,
		ToCurrency:     to,
	}

	if from == to {
		conv.ConvertedAmount = amount
		conv.ExchangeRate = 1
		conv.PairUsed = from + to
		conv.Method = MethodDirect
		conv.RateSource = SourceLive
		return conv, nil
	}

	if rate, pair, source, ok, err := e.lookupRate(ctx, from, to); err != nil {
		return nil, err
	} else if ok {
		conv.ExchangeRate = rate
		conv.PairUsed = pair
		conv.RateSource = source
		if SupportedPair(from + to) {
			conv.Method = MethodDirect
		} else {
			conv.Method = MethodInverse
		}
		conv.ConvertedAmount = mulRound(amount, rate)
		return conv, nil
	}

	// Cross through USD: from -> USD -> to.
	leg1, pair1, src1, ok1, err := e.lookupRate(ctx, from, "USD")
	if err != nil {
		return nil, err
	}
	leg2, pair2, src2, ok2, err := e.lookupRate(ctx, "USD", to)
	if err != nil {
		return nil, err
	}
	if !ok1 || !ok2 {
		return nil, NoRateError(from, to)
	}

	rate := decimal.NewFromFloat(leg1).Mul(decimal.NewFromFloat(leg2))
	conv.ExchangeRate, _ = rate.Float64()
	conv.PairUsed = pair1 + "," + pair2
	conv.Method = MethodCrossViaUSD
	conv.RateSource = worseSource(src1, src2)
	conv.ConvertedAmount = mulRound(amount, conv.ExchangeRate)
	return conv, nil
}

// lookupRate finds the from->to rate via the direct or the inverse pair.
// ok=false with nil error means no direct or inverse quote exists.
func (e *Engine) lookupRate(ctx context.Context, from, to string) (rate float64, pair, source string, ok bool, err error) {
	direct := from + to
	if SupportedPair(direct) {
		r, err := e.GetRate(ctx, direct)
		if err != nil {
			return 0, "", "", false, err
		}
		return e.conversionRate(r), direct, r.Source, true, nil
	}

	inverse := to + from
	if SupportedPair(inverse) {
		r, err := e.GetRate(ctx, inverse)
		if err != nil {
			return 0, "", "", false, err
		}
		quoted := e.conversionRate(r)
		if quoted <= 0 {
			return 0, "", "", false, NoRateError(from, to)
		}
		inv, _ := decimal.NewFromInt(1).Div(decimal.NewFromFloat(quoted)).Float64()
		return inv, inverse, r.Source, true, nil
	}

	return 0, "", "", false, nil
}

// conversionRate selects bid or midpoint per configuration.
func (e *Engine) conversionRate(r *Rate) float64 {
	if e.cfg.UseMidpointRate {
		return r.Mid()
	}
	return r.Bid
}

func (e *Engine) fetchTicker(ctx context.Context, pair string) (*ibkr.Ticker, error) {
	contract := ibkr.Contract{
		Symbol:   pair[:3],
		SecType:  "CASH",
		Currency: pair[3:],
		Exchange: "IDEALPRO",
	}
	tickers, err := e.broker.ReqTickers(ctx, contract)
	if err != nil {
		return nil, err
	}
	if len(tickers) == 0 {
		return &ibkr.Ticker{Contract: contract, Bid: math.NaN(), Ask: math.NaN(), Last: math.NaN()}, nil
	}
	return &tickers[0], nil
}

// mulRound multiplies with decimal arithmetic and rounds to 6 places, enough
// for every quoted currency's minor unit.
func mulRound(amount, rate float64) float64 {
	out, _ := decimal.NewFromFloat(amount).
		Mul(decimal.NewFromFloat(rate)).
		Round(6).
		Float64()
	return out
}

func finitePositive(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v > 0
}

// worseSource degrades the reported source when either leg was mocked.
func worseSource(a, b string) string {
	if a == SourceMockFallback || b == SourceMockFallback {
		return SourceMockFallback
	}
	return SourceLive
}
