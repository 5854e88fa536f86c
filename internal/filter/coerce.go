package filter

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
)

var timeLayouts = []string{
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02 15:04:05.000000",
	"2006-01-02 15:04:05.000000000",
	"2006-01-02T15:04:05",
	"2006/01/02",
	"01/02/2006",
}

// fold returns the case-folded form of s. A Caser keeps state, so one is
// created per call.
func fold(s string) string {
	return cases.Fold().String(s)
}

// toText renders any record value as text for string comparisons.
func toText(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case int:
		return strconv.Itoa(v)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case json.Number:
		return v.String()
	case decimal.Decimal:
		return v.String()
	case time.Time:
		return v.Format(time.RFC3339)
	case fmt.Stringer:
		return v.String()
	}
	if data, err := json.Marshal(value); err == nil {
		return string(data)
	}
	return fmt.Sprint(value)
}

// toDecimal coerces a value to a number. Anything that does not parse
// becomes zero.
func toDecimal(value any) decimal.Decimal {
	switch v := value.(type) {
	case decimal.Decimal:
		return v
	case float64:
		return decimal.NewFromFloat(v)
	case float32:
		return decimal.NewFromFloat32(v)
	case int:
		return decimal.NewFromInt(int64(v))
	case int32:
		return decimal.NewFromInt32(v)
	case int64:
		return decimal.NewFromInt(v)
	case json.Number:
		return parseDecimal(v.String())
	case string:
		return parseDecimal(v)
	case bool:
		if v {
			return decimal.NewFromInt(1)
		}
		return decimal.Zero
	}
	return decimal.Zero
}

func parseDecimal(raw string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero
	}
	return d
}

// toTime coerces a value to an instant. The boolean is false for anything
// that is not a recognised timestamp.
func toTime(value any) (time.Time, bool) {
	switch v := value.(type) {
	case time.Time:
		return v, !v.IsZero()
	case *time.Time:
		if v == nil {
			return time.Time{}, false
		}
		return *v, !v.IsZero()
	case string:
		return ParseTimestamp(v)
	}
	return time.Time{}, false
}

// ParseTimestamp reads the timestamp layouts accepted for date fields.
func ParseTimestamp(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// toBool coerces a record value. Strings are read case-insensitively and
// numbers are true when non-zero.
func toBool(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(strings.TrimSpace(v), "true")
	case float64, float32, int, int32, int64, json.Number, decimal.Decimal:
		return !toDecimal(v).IsZero()
	}
	return false
}

// toElements coerces a value to a list. Strings holding a JSON array are
// decoded; any other scalar is a one-element list.
func toElements(value any) []any {
	switch v := value.(type) {
	case []any:
		return v
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out
	case string:
		trimmed := strings.TrimSpace(v)
		if strings.HasPrefix(trimmed, "[") {
			var decoded []any
			if err := json.Unmarshal([]byte(trimmed), &decoded); err == nil {
				return decoded
			}
		}
		if trimmed == "" {
			return nil
		}
		return []any{v}
	}
	return []any{value}
}

// toObject coerces a value to a JSON object. Strings are decoded when they
// hold one.
func toObject(value any) (map[string]any, bool) {
	switch v := value.(type) {
	case map[string]any:
		return v, true
	case string:
		var decoded map[string]any
		if err := json.Unmarshal([]byte(strings.TrimSpace(v)), &decoded); err == nil && decoded != nil {
			return decoded, true
		}
	case []byte:
		var decoded map[string]any
		if err := json.Unmarshal(v, &decoded); err == nil && decoded != nil {
			return decoded, true
		}
	}
	return nil, false
}

// isEmptyValue reports nil, blank strings, empty lists and empty objects.
func isEmptyValue(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	case []any:
		return len(v) == 0
	case []string:
		return len(v) == 0
	case map[string]any:
		return len(v) == 0
	}
	return false
}

// CoerceBool, CoerceNumber and CoerceTime expose the evaluator's record
// coercions so stores answering fast-path predicates agree with it.
func CoerceBool(value any) bool { return toBool(value) }

func CoerceNumber(value any) decimal.Decimal { return toDecimal(value) }

func CoerceTime(value any) (time.Time, bool) { return toTime(value) }
