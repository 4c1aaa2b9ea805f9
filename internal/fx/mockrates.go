package fx

import "time"

// mockSpread is the fixed fractional spread applied around a mock mid rate.
const mockSpread = 0.0001

// mockMidRates is the deterministic seed table used when the broker returns
// a broken quote. These also define the supported direct pairs: every pair
// IDEALPRO quotes against USD plus the handful of non-USD majors.
var mockMidRates = map[string]float64{
	"EURUSD": 1.0850,
	"GBPUSD": 1.2700,
	"AUDUSD": 0.6550,
	"NZDUSD": 0.6100,
	"USDJPY": 148.50,
	"USDCHF": 0.8800,
	"USDCAD": 1.3600,
	"USDSEK": 10.450,
	"USDNOK": 10.620,
	"USDDKK": 6.8900,
	"USDSGD": 1.3400,
	"USDHKD": 7.8100,
	"USDMXN": 17.050,
	"USDZAR": 18.750,
	"USDCNH": 7.2400,
	"USDPLN": 3.9800,
}

// SupportedPair reports whether pair has a direct quote source.
func SupportedPair(pair string) bool {
	_, ok := mockMidRates[pair]
	return ok
}

// mockRate builds the fallback quote for pair, false when the pair has no
// seed entry.
func mockRate(pair string, now time.Time) (*Rate, bool) {
	mid, ok := mockMidRates[pair]
	if !ok {
		return nil, false
	}
	half := mid * mockSpread / 2
	return &Rate{
		Pair:      pair,
		Bid:       mid - half,
		Ask:       mid + half,
		Last:      mid,
		Close:     mid,
		Timestamp: now,
		Source:    SourceMockFallback,
	}, true
}
