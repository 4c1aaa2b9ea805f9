package resolve

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/ajitpratap0/ibkr-mcp-gateway/internal/config"
	"github.com/ajitpratap0/ibkr-mcp-gateway/internal/ibkr"
	"github.com/ajitpratap0/ibkr-mcp-gateway/internal/validation"
)

// Confidence bases per resolution method; bonuses stack on top.
const (
	baseExact         = 0.5
	baseSmartFallback = 0.4
	confAlternativeID = 0.95
	fuzzyBaseFactor   = 0.9
)

// brokerClient is the slice of the broker session the resolver needs.
type brokerClient interface {
	QualifyContracts(ctx context.Context, contracts ...ibkr.Contract) ([]ibkr.Contract, error)
	ReqMatchingSymbols(ctx context.Context, pattern string) ([]ibkr.ContractDescription, error)
}

// Resolver dispatches on input shape, runs the cascading resolution
// strategies and scores matches. Concurrent identical queries coalesce onto
// one remote lookup; failures are never cached.
type Resolver struct {
	cfg          *config.ResolutionConfig
	broker       brokerClient
	cache        *Cache
	group        singleflight.Group
	fuzzyLimiter *rate.Limiter
	fuzzyGate    func() bool
	logger       zerolog.Logger
}

// NewResolver builds a resolver on top of a broker session. fuzzyInterval is
// the minimum spacing between broker-side fuzzy searches.
func NewResolver(cfg *config.ResolutionConfig, broker brokerClient, fuzzyInterval time.Duration) *Resolver {
	return &Resolver{
		cfg:          cfg,
		broker:       broker,
		cache:        NewCache(time.Duration(cfg.CacheTTLSeconds)*time.Second, cfg.CacheCapacity),
		fuzzyLimiter: rate.NewLimiter(rate.Every(fuzzyInterval), 1),
		logger:       log.With().Str("component", "resolver").Logger(),
	}
}

// SetFuzzyGate installs an additional admission check charged on every
// broker-side fuzzy search attempt, so an external rate limiter can account
// for fuzzy traffic alongside the interval limiter.
func (r *Resolver) SetFuzzyGate(fn func() bool) { r.fuzzyGate = fn }

// Cache exposes the resolution cache, for stats and invalidation wiring.
func (r *Resolver) Cache() *Cache { return r.cache }

// Stats returns resolver statistics (the CACHE_STATS synthetic query).
func (r *Resolver) Stats() Stats { return r.cache.Stats() }

// ClearCache empties the cache and returns the number of dropped entries
// (the CLEAR_CACHE synthetic query).
func (r *Resolver) ClearCache() int { return r.cache.Clear() }

// Resolve runs one resolution. An empty match list is a success, not an
// error; errors are only returned when every strategy (including configured
// fallbacks) failed with a broker error.
func (r *Resolver) Resolve(ctx context.Context, q Query) (*Result, error) {
	q = q.normalized()
	start := time.Now()
	key := q.cacheKey()

	if cached, ok := r.cache.Get(key); ok {
		r.cache.RecordHit(time.Since(start))
		hit := *cached
		hit.CacheHit = true
		return &hit, nil
	}

	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		result, err := r.dispatch(ctx, q)
		if err != nil {
			return nil, err
		}
		// Only completed resolutions are cached; a rate-limited empty is a
		// transient condition, not an answer.
		if !result.transient {
			r.cache.Put(key, result)
		}
		return result, nil
	})
	r.cache.RecordMiss(time.Since(start))
	if err != nil {
		return nil, err
	}
	return v.(*Result), nil
}

// dispatch classifies the input and runs the matching strategy.
func (r *Resolver) dispatch(ctx context.Context, q Query) (*Result, error) {
	input := q.RawInput

	switch {
	case q.IncludeAltIDs && isAlternativeID(input):
		return r.resolveAlternativeID(ctx, q)
	case validation.IsExactSymbol(input):
		return r.resolveExact(ctx, q, input)
	case validation.IsISIN(input):
		// An ISIN is 12 chars and never matches the symbol shape, so it is
		// recognized even without include_alt_ids.
		return r.resolveAlternativeID(ctx, q)
	case q.fuzzyEnabled() && r.cfg.FuzzyEnabled:
		return r.resolveFuzzy(ctx, q)
	default:
		return &Result{Matches: []SymbolMatch{}}, nil
	}
}

func isAlternativeID(input string) bool {
	return validation.IsISIN(input) || validation.IsCUSIP(input) || validation.IsContractID(input)
}

// resolveExact runs the exchange-fallback cascade: requested exchange, then
// its aliases in order, then SMART.
func (r *Resolver) resolveExact(ctx context.Context, q Query, symbol string) (*Result, error) {
	symbol = strings.ToUpper(symbol)

	first := q.ExchangeHint
	if first == "" {
		first = "SMART"
	}

	tried := []string{first}
	matches, err := r.qualify(ctx, q, symbol, first)
	if err != nil {
		return nil, err
	}
	if len(matches) > 0 {
		return r.finish(q, matches, MethodExactSymbol, &Result{ExchangesTried: tried}), nil
	}

	if q.ExchangeHint != "" {
		for _, alias := range AliasesFor(q.ExchangeHint) {
			tried = append(tried, alias)
			matches, err = r.qualify(ctx, q, symbol, alias)
			if err != nil {
				return nil, err
			}
			if len(matches) > 0 {
				res := &Result{
					ResolvedViaAlias: true,
					OriginalExchange: q.ExchangeHint,
					ActualExchange:   alias,
					ExchangesTried:   tried,
				}
				return r.finish(q, matches, MethodExchangeAlias, res), nil
			}
		}

		tried = append(tried, "SMART")
		matches, err = r.qualify(ctx, q, symbol, "SMART")
		if err != nil {
			return nil, err
		}
		if len(matches) > 0 {
			return r.finish(q, matches, MethodSmartFallback, &Result{ExchangesTried: tried}), nil
		}
	}

	return &Result{Matches: []SymbolMatch{}, ExchangesTried: tried}, nil
}

// qualify runs one remote qualification attempt. The currency constraint is
// only applied when the caller hinted one: forcing USD would defeat the
// alias cascade for native listings in local currency.
func (r *Resolver) qualify(ctx context.Context, q Query, symbol, exchange string) ([]SymbolMatch, error) {
	r.cache.RecordAPICall("qualify_contracts")
	contracts, err := r.broker.QualifyContracts(ctx, ibkr.Contract{
		Symbol:   symbol,
		SecType:  q.SecType,
		Exchange: exchange,
		Currency: q.CurrencyHint,
	})
	if err != nil {
		return nil, err
	}
	out := make([]SymbolMatch, 0, len(contracts))
	for _, c := range contracts {
		out = append(out, matchFromContract(c))
	}
	return out, nil
}

// resolveAlternativeID looks up a single contract by ISIN, CUSIP or con ID.
func (r *Resolver) resolveAlternativeID(ctx context.Context, q Query) (*Result, error) {
	input := q.RawInput

	contract := ibkr.Contract{SecType: q.SecType, Exchange: "SMART", Currency: q.CurrencyHint}
	switch {
	case validation.IsISIN(input):
		contract.SecIDType = "ISIN"
		contract.SecID = input
	case validation.IsCUSIP(input):
		// Checked before the con-ID shape: a 9-digit CUSIP is also a valid
		// numeric token.
		contract.SecIDType = "CUSIP"
		contract.SecID = input
	case validation.IsContractID(input):
		id, err := strconv.ParseInt(input, 10, 64)
		if err != nil {
			return &Result{Matches: []SymbolMatch{}}, nil
		}
		contract.ConID = id
	default:
		return &Result{Matches: []SymbolMatch{}}, nil
	}

	r.cache.RecordAPICall("qualify_contracts")
	contracts, err := r.broker.QualifyContracts(ctx, contract)
	if err != nil {
		return nil, err
	}

	matches := make([]SymbolMatch, 0, len(contracts))
	for _, c := range contracts {
		m := matchFromContract(c)
		m.Confidence = confAlternativeID
		m.ResolutionMethod = MethodAlternativeId
		matches = append(matches, m)
	}
	return &Result{Matches: matches, ResolutionMethod: MethodAlternativeId}, nil
}

// resolveFuzzy searches by company name or partial symbol.
func (r *Resolver) resolveFuzzy(ctx context.Context, q Query) (*Result, error) {
	// The reverse name index serves repeat company-name queries without a
	// remote call or a rate-limit charge.
	if cached, ok := r.cache.GetByName(q.RawInput); ok {
		hit := *cached
		hit.CacheHit = true
		return &hit, nil
	}

	// Broker-imposed spacing on fuzzy searches. Breaches return empty
	// rather than queueing, and the empty is never cached.
	if (r.fuzzyGate != nil && !r.fuzzyGate()) || !r.fuzzyLimiter.Allow() {
		r.logger.Debug().Str("input", q.RawInput).Msg("Fuzzy search rate-limited, returning empty")
		return &Result{Matches: []SymbolMatch{}, ResolutionMethod: MethodFuzzy, transient: true}, nil
	}

	r.cache.RecordAPICall("req_matching_symbols")
	descs, err := r.broker.ReqMatchingSymbols(ctx, q.RawInput)
	if err != nil {
		if r.cfg.FallbackToExactOnFuzzyFail {
			r.logger.Warn().Err(err).Str("input", q.RawInput).Msg("Fuzzy search failed, falling back to exact")
			return r.resolveExact(ctx, q, strings.ToUpper(q.RawInput))
		}
		return nil, err
	}

	matches := make([]SymbolMatch, 0, len(descs))
	for _, d := range descs {
		m := matchFromContract(d.Contract)
		sim := similarity(q.RawInput, d.Contract.Symbol)
		if nameSim := similarity(q.RawInput, d.Contract.LongName); nameSim > sim {
			sim = nameSim
		}
		m.Confidence = clamp(sim*fuzzyBaseFactor, 0, fuzzyBaseFactor)
		m.ResolutionMethod = MethodFuzzy
		matches = append(matches, m)
	}
	return r.finish(q, matches, MethodFuzzy, &Result{}), nil
}

// finish applies confidence bonuses, sorts, truncates and stamps the method.
func (r *Resolver) finish(q Query, matches []SymbolMatch, method string, res *Result) *Result {
	for i := range matches {
		m := &matches[i]
		if m.ResolutionMethod == "" {
			m.ResolutionMethod = method
			switch method {
			case MethodSmartFallback:
				m.Confidence = baseSmartFallback
			default:
				m.Confidence = baseExact
			}
		}

		if strings.EqualFold(m.Symbol, q.RawInput) {
			m.Confidence += 0.4
		}
		if q.ExchangeHint != "" && m.Exchange == q.ExchangeHint {
			m.Confidence += 0.2
		}
		if m.PrimaryExchange != "" && m.PrimaryExchange == m.Exchange {
			m.Confidence += 0.15
		}
		if q.CurrencyHint != "" && m.Currency == q.CurrencyHint {
			m.Confidence += 0.1
		}
		if method == MethodFuzzy && m.Name != "" {
			m.Confidence += 0.3 * similarity(m.Name, q.RawInput)
		}
		m.Confidence = clamp(m.Confidence, 0, 1)
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Confidence != matches[j].Confidence {
			return matches[i].Confidence > matches[j].Confidence
		}
		return matches[i].Symbol < matches[j].Symbol
	})
	if len(matches) > q.MaxResults {
		matches = matches[:q.MaxResults]
	}

	res.Matches = matches
	res.ResolutionMethod = method
	return res
}

func matchFromContract(c ibkr.Contract) SymbolMatch {
	return SymbolMatch{
		Symbol:          c.Symbol,
		Name:            c.LongName,
		ContractID:      c.ConID,
		Exchange:        c.Exchange,
		PrimaryExchange: c.PrimaryExchange,
		Currency:        c.Currency,
		SecurityType:    c.SecType,
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
