package safety

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/ibkr-mcp-gateway/internal/audit"
	"github.com/ajitpratap0/ibkr-mcp-gateway/internal/metrics"
)

// ErrPermissionDenied is returned when a kill switch deactivation is attempted
// without the configured override token.
var ErrPermissionDenied = errors.New("permission denied: valid override token required")

// KillSwitch is the emergency trading halt. Once active, every trading-side
// operation is rejected until an operator deactivates it with the override
// token. Read operations are unaffected.
type KillSwitch struct {
	mu            sync.RWMutex
	active        bool
	reason        string
	activatedAt   time.Time
	overrideToken string
	auditLog      *audit.Logger
	logger        zerolog.Logger
	nowFunc       func() time.Time
}

// NewKillSwitch creates an inactive kill switch.
func NewKillSwitch(overrideToken string, auditLog *audit.Logger) *KillSwitch {
	return &KillSwitch{
		overrideToken: overrideToken,
		auditLog:      auditLog,
		logger:        log.With().Str("component", "kill_switch").Logger(),
		nowFunc:       time.Now,
	}
}

// Activate halts all trading-side operations. Activation is idempotent and
// never requires a token: halting must always be possible.
func (ks *KillSwitch) Activate(reason string) KillSwitchState {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	if reason == "" {
		reason = "manual activation"
	}
	if !ks.active {
		ks.active = true
		ks.reason = reason
		ks.activatedAt = ks.nowFunc().UTC()
		ks.logger.Warn().Str("reason", reason).Msg("KILL SWITCH ACTIVATED - all trading halted")
		metrics.SetKillSwitch(true)
		if ks.auditLog != nil {
			ks.auditLog.LogKillSwitch(true, reason)
		}
	}
	return ks.stateLocked()
}

// Deactivate resumes trading. Requires the override token when one is
// configured; deactivating an inactive switch is a no-op.
func (ks *KillSwitch) Deactivate(token string) (KillSwitchState, error) {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	if !ks.active {
		return ks.stateLocked(), nil
	}
	if ks.overrideToken != "" && token != ks.overrideToken {
		ks.logger.Warn().Msg("Kill switch deactivation rejected: bad override token")
		return ks.stateLocked(), ErrPermissionDenied
	}

	ks.active = false
	ks.reason = ""
	ks.activatedAt = time.Time{}
	ks.logger.Warn().Msg("Kill switch deactivated - trading resumed")
	metrics.SetKillSwitch(false)
	if ks.auditLog != nil {
		ks.auditLog.LogKillSwitch(false, "deactivated by operator")
	}
	return ks.stateLocked(), nil
}

// IsActive reports whether trading is halted.
func (ks *KillSwitch) IsActive() bool {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return ks.active
}

// State returns a snapshot of the kill switch.
func (ks *KillSwitch) State() KillSwitchState {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return ks.stateLocked()
}

func (ks *KillSwitch) stateLocked() KillSwitchState {
	st := KillSwitchState{Active: ks.active, Reason: ks.reason}
	if ks.active {
		t := ks.activatedAt
		st.ActivatedAt = &t
	}
	return st
}
