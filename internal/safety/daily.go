package safety

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/ibkr-mcp-gateway/internal/metrics"
)

// DailyCounters tracks per-UTC-day order accounting: orders placed, active
// stop losses and notional volume. Counters reset when the UTC date rolls
// over, checked lazily on access. Active stop-loss counts survive the
// rollover; they track open orders, not daily activity.
type DailyCounters struct {
	mu               sync.Mutex
	dateUTC          string
	ordersPlaced     int
	activeStopLosses int
	notionalUSD      float64
	logger           zerolog.Logger
	nowFunc          func() time.Time
}

// NewDailyCounters creates counters anchored to the current UTC date.
func NewDailyCounters() *DailyCounters {
	dc := &DailyCounters{
		logger:  log.With().Str("component", "daily_counters").Logger(),
		nowFunc: time.Now,
	}
	dc.dateUTC = dc.today()
	return dc
}

func (dc *DailyCounters) today() string {
	return dc.nowFunc().UTC().Format("2006-01-02")
}

// rolloverLocked resets daily counters if the UTC date has changed.
func (dc *DailyCounters) rolloverLocked() {
	today := dc.today()
	if today == dc.dateUTC {
		return
	}
	dc.logger.Info().
		Str("previous_date", dc.dateUTC).
		Int("orders_placed", dc.ordersPlaced).
		Float64("notional_usd", dc.notionalUSD).
		Msg("Daily counters rolled over")
	dc.dateUTC = today
	dc.ordersPlaced = 0
	dc.notionalUSD = 0
	metrics.DailyOrders.Set(0)
}

// CheckOrderSlot reports whether one more order fits under the daily cap
// without claiming the slot.
func (dc *DailyCounters) CheckOrderSlot(maxDaily int) bool {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	dc.rolloverLocked()
	return dc.ordersPlaced < maxDaily
}

// ClaimOrderSlot atomically consumes one daily order slot, false when the
// cap is already reached. Called after validation passes, immediately before
// the broker submission.
func (dc *DailyCounters) ClaimOrderSlot(maxDaily int) bool {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	dc.rolloverLocked()
	if dc.ordersPlaced >= maxDaily {
		return false
	}
	dc.ordersPlaced++
	metrics.DailyOrders.Set(float64(dc.ordersPlaced))
	return true
}

// ReleaseOrderSlot returns a claimed slot after a failed broker submission,
// so rejected orders do not consume the daily budget.
func (dc *DailyCounters) ReleaseOrderSlot() {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	dc.rolloverLocked()
	if dc.ordersPlaced > 0 {
		dc.ordersPlaced--
	}
	metrics.DailyOrders.Set(float64(dc.ordersPlaced))
}

// StopLossPlaced records a newly acknowledged stop-loss order.
func (dc *DailyCounters) StopLossPlaced() {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	dc.activeStopLosses++
	metrics.ActiveStopLosses.Set(float64(dc.activeStopLosses))
}

// StopLossClosed records a stop loss leaving the book (cancelled or filled).
func (dc *DailyCounters) StopLossClosed() {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	if dc.activeStopLosses > 0 {
		dc.activeStopLosses--
	}
	metrics.ActiveStopLosses.Set(float64(dc.activeStopLosses))
}

// SyncActiveStopLosses replaces the tracked count with the broker's working
// stop-order count. Stop losses leave the book on any terminal status
// (filled, cancelled, expired, rejected) and only cancellation passes
// through this process, so the count is reconciled against open orders.
func (dc *DailyCounters) SyncActiveStopLosses(n int) {
	if n < 0 {
		n = 0
	}
	dc.mu.Lock()
	defer dc.mu.Unlock()
	if n != dc.activeStopLosses {
		dc.logger.Debug().
			Int("tracked", dc.activeStopLosses).
			Int("working", n).
			Msg("Active stop-loss count reconciled against broker")
	}
	dc.activeStopLosses = n
	metrics.ActiveStopLosses.Set(float64(n))
}

// ActiveStopLosses returns the current open stop-loss count.
func (dc *DailyCounters) ActiveStopLosses() int {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	return dc.activeStopLosses
}

// AddNotional accumulates USD notional volume for the day.
func (dc *DailyCounters) AddNotional(usd float64) {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	dc.rolloverLocked()
	dc.notionalUSD += usd
}

// Snapshot returns the current accounting state.
func (dc *DailyCounters) Snapshot() Counters {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	dc.rolloverLocked()
	return Counters{
		DateUTC:           dc.dateUTC,
		OrdersPlaced:      dc.ordersPlaced,
		ActiveStopLosses:  dc.activeStopLosses,
		NotionalVolumeUSD: dc.notionalUSD,
	}
}
