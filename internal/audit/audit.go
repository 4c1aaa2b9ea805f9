// Package audit provides the append-only trading audit log.
//
// Every safety validation outcome and every attempted broker call is recorded
// as one self-contained JSON object per line. Audit failures are never
// surfaced to callers: a gateway that cannot audit should keep serving, but
// the failure is logged to stderr and counted.
package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/ibkr-mcp-gateway/internal/metrics"
)

// EventType distinguishes validation records from broker-call outcome records.
type EventType string

const (
	EventTypeValidation EventType = "VALIDATION"
	EventTypeOutcome    EventType = "OUTCOME"
	EventTypeKillSwitch EventType = "KILL_SWITCH"
	EventTypeSession    EventType = "SESSION"
)

// Event is a single audit log record.
type Event struct {
	ID        uuid.UUID              `json:"id"`
	Timestamp time.Time              `json:"timestamp_utc"`
	SessionID string                 `json:"session_id"`
	EventType EventType              `json:"event_type"`
	Kind      string                 `json:"kind"`    // operation kind, e.g. "place_stop_loss"
	Payload   map[string]interface{} `json:"payload"` // sanitized before write
	Decision  interface{}            `json:"decision,omitempty"`
	Outcome   interface{}            `json:"outcome,omitempty"`
	Success   bool                   `json:"success"`
	ErrorMsg  string                 `json:"error_message,omitempty"`
}

// Logger appends audit events to a JSON-lines file. A single writer owns the
// file handle; writes are serialized and flushed per record.
type Logger struct {
	mu        sync.Mutex
	file      *os.File
	enc       *json.Encoder
	enabled   bool
	sessionID string
	logger    zerolog.Logger
	nowFunc   func() time.Time
}

// NewLogger opens (creating if needed) the audit log at path. An empty path
// places the log in the platform temp directory.
func NewLogger(path string, enabled bool) (*Logger, error) {
	l := &Logger{
		enabled:   enabled,
		sessionID: uuid.New().String(),
		logger:    log.With().Str("component", "audit").Logger(),
		nowFunc:   time.Now,
	}
	if !enabled {
		return l, nil
	}

	if path == "" {
		path = filepath.Join(os.TempDir(), "ibkr-mcp-audit.jsonl")
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	l.file = f
	l.enc = json.NewEncoder(f)

	l.logger.Info().Str("path", path).Str("session_id", l.sessionID).Msg("Audit log opened")
	return l, nil
}

// SessionID returns the identifier stamped on every event from this process.
func (l *Logger) SessionID() string {
	return l.sessionID
}

// Log appends one event. Failures are logged to stderr and counted, never
// returned: audit unavailability must not block trading-side rejection paths.
func (l *Logger) Log(event *Event) {
	if !l.enabled {
		return
	}

	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = l.nowFunc().UTC()
	}
	event.SessionID = l.sessionID
	event.Payload = Sanitize(event.Payload)

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return
	}
	if err := l.enc.Encode(event); err != nil {
		metrics.AuditWrites.WithLabelValues(metrics.ResultFailure).Inc()
		l.logger.Error().Err(err).Str("kind", event.Kind).Msg("Failed to write audit event")
		return
	}
	// Flush per record; losing at most the last record on crash is acceptable.
	if err := l.file.Sync(); err != nil {
		metrics.AuditWrites.WithLabelValues(metrics.ResultFailure).Inc()
		l.logger.Error().Err(err).Str("kind", event.Kind).Msg("Failed to sync audit log")
		return
	}
	metrics.AuditWrites.WithLabelValues(metrics.ResultSuccess).Inc()
}

// LogValidation records a safety validation outcome for an operation.
func (l *Logger) LogValidation(kind string, payload map[string]interface{}, decision interface{}, safe bool) {
	l.Log(&Event{
		EventType: EventTypeValidation,
		Kind:      kind,
		Payload:   payload,
		Decision:  decision,
		Success:   safe,
	})
}

// LogOutcome records the result of a broker call that followed validation.
func (l *Logger) LogOutcome(kind string, payload map[string]interface{}, outcome interface{}, success bool, errMsg string) {
	l.Log(&Event{
		EventType: EventTypeOutcome,
		Kind:      kind,
		Payload:   payload,
		Outcome:   outcome,
		Success:   success,
		ErrorMsg:  errMsg,
	})
}

// LogKillSwitch records a kill switch state change.
func (l *Logger) LogKillSwitch(active bool, reason string) {
	l.Log(&Event{
		EventType: EventTypeKillSwitch,
		Kind:      "kill_switch",
		Payload:   map[string]interface{}{"active": active, "reason": reason},
		Success:   true,
	})
}

// Close releases the underlying file handle.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// secretKeyFragments identifies payload keys whose values must never reach
// the audit log.
var secretKeyFragments = []string{"api_key", "apikey", "secret", "token", "password", "credential"}

// Sanitize returns a copy of payload with credentials removed and account
// identifiers truncated to their first two characters.
func Sanitize(payload map[string]interface{}) map[string]interface{} {
	if payload == nil {
		return nil
	}
	out := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		lower := strings.ToLower(k)

		redacted := false
		for _, frag := range secretKeyFragments {
			if strings.Contains(lower, frag) {
				out[k] = "[REDACTED]"
				redacted = true
				break
			}
		}
		if redacted {
			continue
		}

		if lower == "account" || lower == "account_id" || lower == "account_number" {
			if s, ok := v.(string); ok {
				out[k] = RedactAccount(s)
				continue
			}
		}

		if nested, ok := v.(map[string]interface{}); ok {
			out[k] = Sanitize(nested)
			continue
		}
		out[k] = v
	}
	return out
}

// RedactAccount keeps the first two characters of an account identifier,
// enough to distinguish paper prefixes without exposing the full number.
func RedactAccount(account string) string {
	if len(account) <= 2 {
		return account
	}
	return account[:2] + "***"
}
