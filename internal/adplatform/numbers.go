package adplatform

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Platforms disagree on whether counters come back as numbers or strings,
// and some omit them entirely. Missing or unparseable values become zero
// rather than failing the whole status call.

func asInt64(v interface{}) int64 {
	switch t := v.(type) {
	case nil:
		return 0
	case float64:
		return int64(t)
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			f, fErr := t.Float64()
			if fErr != nil {
				return 0
			}
			return int64(f)
		}
		return n
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			f, fErr := strconv.ParseFloat(strings.TrimSpace(t), 64)
			if fErr != nil {
				return 0
			}
			return int64(f)
		}
		return n
	case int64:
		return t
	case int:
		return int64(t)
	default:
		return 0
	}
}

func asFloat(v interface{}) float64 {
	switch t := v.(type) {
	case nil:
		return 0
	case float64:
		return t
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0
		}
		return f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0
		}
		return f
	case int64:
		return float64(t)
	case int:
		return float64(t)
	default:
		return 0
	}
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}
