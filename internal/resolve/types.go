package resolve

import (
	"fmt"
	"strings"
)

// Resolution methods, in confidence order.
const (
	MethodExactSymbol   = "ExactSymbol"
	MethodExchangeAlias = "ExchangeAlias"
	MethodSmartFallback = "SmartFallback"
	MethodAlternativeId = "AlternativeId"
	MethodFuzzy         = "Fuzzy"
)

// Hard cap on matches returned regardless of the requested max_results.
const maxResultsCap = 16

// Query is one symbol resolution request.
type Query struct {
	RawInput             string `json:"raw_input"`
	ExchangeHint         string `json:"exchange_hint,omitempty"`
	CurrencyHint         string `json:"currency_hint,omitempty"`
	SecType              string `json:"sec_type,omitempty"` // default STK
	MaxResults           int    `json:"max_results,omitempty"`
	FuzzyEnabled         *bool  `json:"fuzzy_enabled,omitempty"` // nil means true
	IncludeAltIDs        bool   `json:"include_alt_ids,omitempty"`
	PreferNativeExchange bool   `json:"prefer_native_exchange,omitempty"`
}

// normalized fills defaults and canonicalizes hint casing.
func (q Query) normalized() Query {
	q.RawInput = strings.TrimSpace(q.RawInput)
	q.ExchangeHint = strings.ToUpper(strings.TrimSpace(q.ExchangeHint))
	q.CurrencyHint = strings.ToUpper(strings.TrimSpace(q.CurrencyHint))
	if q.SecType == "" {
		q.SecType = "STK"
	}
	if q.MaxResults <= 0 {
		q.MaxResults = 5
	}
	if q.MaxResults > maxResultsCap {
		q.MaxResults = maxResultsCap
	}
	return q
}

func (q Query) fuzzyEnabled() bool {
	return q.FuzzyEnabled == nil || *q.FuzzyEnabled
}

// cacheKey is the canonical fingerprint of a query. Raw input is lowercased
// so "aapl" and "AAPL" share an entry.
func (q Query) cacheKey() string {
	return fmt.Sprintf("%s|%s|%s|%s|%d|%t",
		strings.ToLower(q.RawInput), q.ExchangeHint, q.CurrencyHint,
		q.SecType, q.MaxResults, q.PreferNativeExchange)
}

// SymbolMatch is one scored resolution candidate.
type SymbolMatch struct {
	Symbol           string  `json:"symbol"`
	Name             string  `json:"name,omitempty"`
	ContractID       int64   `json:"contract_id,omitempty"`
	Exchange         string  `json:"exchange"`
	PrimaryExchange  string  `json:"primary_exchange,omitempty"`
	Currency         string  `json:"currency"`
	SecurityType     string  `json:"security_type"`
	Country          string  `json:"country,omitempty"`
	CUSIP            string  `json:"cusip,omitempty"`
	ISIN             string  `json:"isin,omitempty"`
	Confidence       float64 `json:"confidence"`
	ResolutionMethod string  `json:"resolution_method"`
}

// Result is a completed resolution. An empty Matches slice is a valid
// outcome, not an error.
type Result struct {
	Matches          []SymbolMatch `json:"matches"`
	ResolutionMethod string        `json:"resolution_method,omitempty"`
	ResolvedViaAlias bool          `json:"resolved_via_alias,omitempty"`
	OriginalExchange string        `json:"original_exchange,omitempty"`
	ActualExchange   string        `json:"actual_exchange,omitempty"`
	ExchangesTried   []string      `json:"exchanges_tried,omitempty"`
	CacheHit         bool          `json:"cache_hit"`

	// transient marks a result that must not enter the cache, such as the
	// empty response to a rate-limited fuzzy search.
	transient bool
}

// NormalizeName canonicalizes a company name for the reverse lookup index:
// lowercased, trimmed, internal whitespace collapsed.
func NormalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}
