package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

type estimateKind uint8

const (
	estimateNone estimateKind = iota
	estimateNumber
	estimateToken
)

// Estimate is a single card value: a number, a string token such as "?" or "☕",
// or absent (no selection yet). The zero value is absent.
type Estimate struct {
	kind  estimateKind
	num   float64
	token string
}

// NoEstimate is the absent estimate.
var NoEstimate = Estimate{}

// Number returns a numeric estimate.
func Number(v float64) Estimate {
	return Estimate{kind: estimateNumber, num: v}
}

// Token returns a non-numeric estimate. An empty token is absent.
func Token(s string) Estimate {
	if s == "" {
		return NoEstimate
	}
	return Estimate{kind: estimateToken, token: s}
}

// ParseEstimate converts user input into an estimate. Numeric text becomes a
// number, anything else a token.
func ParseEstimate(s string) Estimate {
	s = strings.TrimSpace(s)
	if s == "" {
		return NoEstimate
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return Number(v)
	}
	return Token(s)
}

// IsSet reports whether a value was selected.
func (e Estimate) IsSet() bool {
	return e.kind != estimateNone
}

// Float returns the numeric value.
func (e Estimate) Float() (float64, bool) {
	if e.kind != estimateNumber {
		return 0, false
	}
	return e.num, true
}

// String renders the estimate the way it is shown on a card. Absent renders as "".
func (e Estimate) String() string {
	switch e.kind {
	case estimateNumber:
		return strconv.FormatFloat(e.num, 'f', -1, 64)
	case estimateToken:
		return e.token
	default:
		return ""
	}
}

// Value returns the wire representation: float64, string or nil.
func (e Estimate) Value() any {
	switch e.kind {
	case estimateNumber:
		return e.num
	case estimateToken:
		return e.token
	default:
		return nil
	}
}

// Equal compares two estimates by kind and value.
func (e Estimate) Equal(other Estimate) bool {
	return e == other
}

// MarshalJSON encodes numbers as JSON numbers, tokens as strings, absent as null.
func (e Estimate) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Value())
}

// UnmarshalJSON accepts a JSON number, string or null.
func (e *Estimate) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*e = NoEstimate
		return nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*e = Token(s)
		return nil
	default:
		var v float64
		if err := json.Unmarshal(data, &v); err != nil {
			return fmt.Errorf("estimate must be a number, string or null: %w", err)
		}
		*e = Number(v)
		return nil
	}
}

// EstimateFromValue converts a decoded wire value back into an estimate.
func EstimateFromValue(v any) (Estimate, error) {
	switch val := v.(type) {
	case nil:
		return NoEstimate, nil
	case float64:
		return Number(val), nil
	case float32:
		return Number(float64(val)), nil
	case int:
		return Number(float64(val)), nil
	case int64:
		return Number(float64(val)), nil
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return NoEstimate, err
		}
		return Number(f), nil
	case string:
		return Token(val), nil
	default:
		return NoEstimate, fmt.Errorf("unsupported estimate value %T", v)
	}
}
