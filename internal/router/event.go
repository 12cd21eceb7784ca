package router

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
)

// Product type field names, in priority order.
var productTypeFields = []string{"productType", "type"}

var (
	errMissingProductType = errors.New("missing productType")
	errMissingTimestamp   = errors.New("missing or non-numeric timestamp")
)

// Event is a validated feed notification.
type Event struct {
	ProductType     string
	TimestampMillis int64
}

// ParseEvent extracts and normalizes the product type and millisecond
// timestamp from a decoded event object. The product type is trimmed and
// upper-cased; the timestamp must be a JSON number.
func ParseEvent(raw map[string]any) (Event, error) {
	var ev Event

	for _, field := range productTypeFields {
		if s, ok := raw[field].(string); ok {
			if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
				ev.ProductType = s
				break
			}
		}
	}
	if ev.ProductType == "" {
		return Event{}, errMissingProductType
	}

	// "time" wins whenever it is set. Otherwise a zero or empty
	// "productDate" yields to "timestamp".
	v := raw["time"]
	if v == nil {
		v = raw["productDate"]
		if isZero(v) {
			v = raw["timestamp"]
		}
	}
	if v == nil {
		return Event{}, errMissingTimestamp
	}
	ms, ok := toMillis(v)
	if !ok {
		return Event{}, errMissingTimestamp
	}
	ev.TimestampMillis = ms
	return ev, nil
}

func isZero(v any) bool {
	switch n := v.(type) {
	case nil:
		return true
	case bool:
		return !n
	case string:
		return n == ""
	case json.Number:
		f, err := n.Float64()
		return err == nil && f == 0
	case float64:
		return n == 0
	case int64:
		return n == 0
	case int:
		return n == 0
	}
	return false
}

// toMillis accepts JSON numbers only; fractional values truncate toward
// zero. float64(math.MaxInt64) is 2^63, so the upper bound is exclusive.
func toMillis(v any) (int64, bool) {
	var f float64
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case float64:
		f = n
	case int64:
		return n, true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f >= math.MaxInt64 || f < math.MinInt64 {
		return 0, false
	}
	return int64(f), true
}
