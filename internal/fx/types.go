// Package fx implements the forex rate cache and the currency conversion
// engine: live broker quotes with a short TTL, deterministic mock fallback
// for broken quotes, and direct/inverse/cross-via-USD conversion.
package fx

import (
	"errors"
	"fmt"
	"time"
)

// Rate sources.
const (
	SourceLive         = "Live"
	SourceMockFallback = "MockFallback"
)

// Conversion methods.
const (
	MethodDirect      = "Direct"
	MethodInverse     = "Inverse"
	MethodCrossViaUSD = "CrossViaUSD"
)

// Rate is one cached forex quote. Invariant: bid <= ask when live; mock
// rates carry a fixed plausible spread.
type Rate struct {
	Pair      string    `json:"pair"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Last      float64   `json:"last"`
	Close     float64   `json:"close"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
}

// Mid returns the bid/ask midpoint.
func (r *Rate) Mid() float64 {
	return (r.Bid + r.Ask) / 2
}

// Conversion is a completed currency conversion.
type Conversion struct {
	OriginalAmount  float64 `json:"original_amount"`
	ConvertedAmount float64 `json:"converted_amount"`
	FromCurrency    string  `json:"from_currency"`
	ToCurrency      string  `json:"to_currency"`
	ExchangeRate    float64 `json:"exchange_rate"`
	PairUsed        string  `json:"pair_used"`
	Method          string  `json:"conversion_method"`
	RateSource      string  `json:"rate_source"`
}

// ErrNoRateAvailable reports that no conversion path exists.
var ErrNoRateAvailable = errors.New("no exchange rate available")

// NoRateError wraps ErrNoRateAvailable with the currency pair involved.
func NoRateError(from, to string) error {
	return fmt.Errorf("%w for %s -> %s", ErrNoRateAvailable, from, to)
}
