package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Canonical text layouts for temporal scalars. The datetime layout has a
// fixed width so stored values order correctly as text.
const (
	DateLayout     = "2006-01-02"
	DateTimeLayout = "2006-01-02T15:04:05.000000Z"
)

// CoerceError reports a value that does not fit a scalar type.
type CoerceError struct {
	Scalar ScalarType
	Value  any
}

func (e *CoerceError) Error() string {
	return fmt.Sprintf("cannot use %v (%T) as %s", e.Value, e.Value, e.Scalar)
}

// Coerce converts v to the canonical Go representation of s: string for
// string/date/datetime, int64, float64 or bool. Dates and datetimes are
// normalised to DateLayout and DateTimeLayout (UTC).
func (s ScalarType) Coerce(v any) (any, error) {
	fail := &CoerceError{Scalar: s, Value: v}
	switch s {
	case ScalarString:
		if str, ok := v.(string); ok {
			return str, nil
		}
	case ScalarInteger:
		switch n := v.(type) {
		case int:
			return int64(n), nil
		case int32:
			return int64(n), nil
		case int64:
			return n, nil
		case float64:
			if n == math.Trunc(n) && n >= math.MinInt64 && n < 1<<63 {
				return int64(n), nil
			}
		case json.Number:
			if i, err := n.Int64(); err == nil {
				return i, nil
			}
		}
	case ScalarNumber:
		switch n := v.(type) {
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		case float32:
			return float64(n), nil
		case float64:
			return n, nil
		case json.Number:
			if f, err := n.Float64(); err == nil {
				return f, nil
			}
		}
	case ScalarBoolean:
		switch b := v.(type) {
		case bool:
			return b, nil
		case int64:
			if b == 0 || b == 1 {
				return b == 1, nil
			}
		case string:
			if parsed, err := strconv.ParseBool(b); err == nil {
				return parsed, nil
			}
		}
	case ScalarDate:
		switch d := v.(type) {
		case string:
			if t, err := time.Parse(DateLayout, d); err == nil {
				return t.Format(DateLayout), nil
			}
			if t, err := time.Parse(time.RFC3339Nano, d); err == nil {
				return t.Format(DateLayout), nil
			}
		case time.Time:
			return d.Format(DateLayout), nil
		}
	case ScalarDateTime:
		switch d := v.(type) {
		case string:
			for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", DateLayout} {
				if t, err := time.Parse(layout, d); err == nil {
					return t.UTC().Format(DateTimeLayout), nil
				}
			}
		case time.Time:
			return d.UTC().Format(DateTimeLayout), nil
		}
	}
	return nil, fail
}
