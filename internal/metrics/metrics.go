package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Bounded cardinality constants for metric labels.
const (
	// Rate limiter op classes (bounded set, mirrors safety.OpClass)
	ClassOrderPlacement = "order_placement"
	ClassQuoteRequest   = "quote_request"
	ClassFuzzySearch    = "fuzzy_search"
	ClassHistorical     = "historical"

	// Result labels
	ResultSuccess = "success"
	ResultFailure = "failure"

	// Cache names
	CacheResolution = "resolution"
	CacheForex      = "forex"
)

var (
	// AuditWrites counts audit log writes by result
	AuditWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ibkr_mcp_audit_writes_total",
		Help: "Total number of audit log writes",
	}, []string{"result"})

	// SafetyRejections counts operations rejected by the safety framework
	SafetyRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ibkr_mcp_safety_rejections_total",
		Help: "Total operations rejected by safety validation, by first failing check",
	}, []string{"check"})

	// RateLimitRejections counts sliding-window rejections by op class
	RateLimitRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ibkr_mcp_rate_limit_rejections_total",
		Help: "Total operations rejected by the sliding-window rate limiter",
	}, []string{"class"})

	// CacheRequests counts cache lookups by cache and hit/miss
	CacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ibkr_mcp_cache_requests_total",
		Help: "Cache lookups by cache name and result (hit/miss)",
	}, []string{"cache", "result"})

	// BrokerCalls counts broker session calls by method and result
	BrokerCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ibkr_mcp_broker_calls_total",
		Help: "Broker session calls by method and result",
	}, []string{"method", "result"})

	// BrokerCallDuration observes broker call latency
	BrokerCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ibkr_mcp_broker_call_duration_seconds",
		Help:    "Broker session call latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})

	// KillSwitchActive reports the kill switch state (0/1)
	KillSwitchActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ibkr_mcp_kill_switch_active",
		Help: "Whether the kill switch is currently active (0 or 1)",
	})

	// DailyOrders reports today's order count
	DailyOrders = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ibkr_mcp_daily_orders",
		Help: "Orders placed during the current UTC day",
	})

	// ActiveStopLosses reports the number of working stop-loss orders
	ActiveStopLosses = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ibkr_mcp_active_stop_losses",
		Help: "Number of currently active stop-loss orders",
	})
)

// RecordBrokerCall records one broker call outcome
func RecordBrokerCall(method string, success bool, seconds float64) {
	result := ResultSuccess
	if !success {
		result = ResultFailure
	}
	BrokerCalls.WithLabelValues(method, result).Inc()
	BrokerCallDuration.WithLabelValues(method).Observe(seconds)
}

// RecordCache records one cache lookup
func RecordCache(cache string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	CacheRequests.WithLabelValues(cache, result).Inc()
}

// SetKillSwitch updates the kill switch gauge
func SetKillSwitch(active bool) {
	if active {
		KillSwitchActive.Set(1)
	} else {
		KillSwitchActive.Set(0)
	}
}
