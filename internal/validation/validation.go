// Package validation provides accumulating parameter validators for tool
// payloads. Validation failures are values, not errors: callers collect them
// into a safety decision rather than unwinding the stack.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	symbolRegex    = regexp.MustCompile(`^[A-Z0-9.\-]{1,10}$`)
	forexPairRegex = regexp.MustCompile(`^[A-Z]{6}$`)
	currencyRegex  = regexp.MustCompile(`^[A-Z]{3}$`)
	cusipRegex     = regexp.MustCompile(`^[0-9A-Z]{9}$`)
	isinRegex      = regexp.MustCompile(`^[A-Z]{2}[0-9A-Z]{9}[0-9]$`)
	conIDRegex     = regexp.MustCompile(`^[0-9]+$`)
)

// ValidationError represents a single failed check.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validator accumulates errors and warnings across checks.
type Validator struct {
	errors   []ValidationError
	warnings []string
}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// AddError adds a validation error
func (v *Validator) AddError(field, message string) {
	v.errors = append(v.errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a non-fatal validation warning
func (v *Validator) AddWarning(message string) {
	v.warnings = append(v.warnings, message)
}

// HasErrors returns true if any check failed
func (v *Validator) HasErrors() bool {
	return len(v.errors) > 0
}

// Errors returns the accumulated error messages
func (v *Validator) Errors() []string {
	out := make([]string, 0, len(v.errors))
	for _, e := range v.errors {
		out = append(out, e.Error())
	}
	return out
}

// Warnings returns the accumulated warnings
func (v *Validator) Warnings() []string {
	return append([]string(nil), v.warnings...)
}

// Required validates that a string is not empty
func (v *Validator) Required(field, value string) {
	if strings.TrimSpace(value) == "" {
		v.AddError(field, "is required")
	}
}

// Positive validates that a number is strictly positive
func (v *Validator) Positive(field string, value float64) {
	if value <= 0 {
		v.AddError(field, "must be positive")
	}
}

// MaxValue validates a numeric upper bound
func (v *Validator) MaxValue(field string, value, max float64) {
	if value > max {
		v.AddError(field, fmt.Sprintf("must be at most %v", max))
	}
}

// OneOf validates that a value is one of the allowed values
func (v *Validator) OneOf(field, value string, allowed []string) {
	for _, a := range allowed {
		if value == a {
			return
		}
	}
	v.AddError(field, fmt.Sprintf("must be one of: %s", strings.Join(allowed, ", ")))
}

// Symbol validates an exchange ticker symbol (1-10 uppercase letters, digits,
// dots or dashes).
func (v *Validator) Symbol(field, value string) {
	if !symbolRegex.MatchString(value) {
		v.AddError(field, "must be 1-10 uppercase characters (A-Z, 0-9, '.', '-')")
	}
}

// ForexPair validates a currency pair: exactly six uppercase letters.
func (v *Validator) ForexPair(field, value string) {
	if !forexPairRegex.MatchString(value) {
		v.AddError(field, "must be exactly 6 uppercase letters (e.g. EURUSD)")
	}
}

// Currency validates a three-letter ISO currency code
func (v *Validator) Currency(field, value string) {
	if !currencyRegex.MatchString(value) {
		v.AddError(field, "must be a 3-letter currency code (e.g. USD)")
	}
}

// Side validates an order side
func (v *Validator) Side(field, value string) {
	v.OneOf(field, value, []string{"BUY", "SELL"})
}

// TimeInForce validates a time-in-force value
func (v *Validator) TimeInForce(field, value string) {
	v.OneOf(field, value, []string{"DAY", "GTC", "IOC", "FOK"})
}

// StopLimitRelationship enforces the stop-limit price invariant: a sell stop
// triggers a limit at or below the stop, a buy stop at or above.
func (v *Validator) StopLimitRelationship(side string, stopPrice, limitPrice float64) {
	switch side {
	case "SELL":
		if limitPrice > stopPrice {
			v.AddError("limit_price", fmt.Sprintf(
				"must be <= stop_price for sell stops (limit %v > stop %v)", limitPrice, stopPrice))
		}
	case "BUY":
		if limitPrice < stopPrice {
			v.AddError("limit_price", fmt.Sprintf(
				"must be >= stop_price for buy stops (limit %v < stop %v)", limitPrice, stopPrice))
		}
	}
}

// IsExactSymbol reports whether input looks like an exchange ticker.
func IsExactSymbol(input string) bool {
	return symbolRegex.MatchString(input)
}

// IsCUSIP reports whether input looks like a 9-character CUSIP.
func IsCUSIP(input string) bool {
	return cusipRegex.MatchString(input)
}

// IsISIN reports whether input looks like a 12-character country-prefixed ISIN.
func IsISIN(input string) bool {
	return isinRegex.MatchString(input)
}

// IsContractID reports whether input is a bare numeric contract ID.
func IsContractID(input string) bool {
	return conIDRegex.MatchString(input)
}

// SanitizeInput trims whitespace, strips null bytes and caps length.
func SanitizeInput(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")
	input = strings.TrimSpace(input)
	if len(input) > 200 {
		input = input[:200]
	}
	return input
}
