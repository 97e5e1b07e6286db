package transformer

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// timestampLayouts 字符串时间戳支持的格式（按顺序尝试）
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// lookupPath 按点分路径在嵌套 map 中取值
func lookupPath(raw map[string]interface{}, path string) (interface{}, bool) {
	if raw == nil || path == "" {
		return nil, false
	}
	var current interface{} = raw
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	if current == nil {
		return nil, false
	}
	return current, true
}

// parseFloat 解析数值（支持数字类型和数字字符串）
func parseFloat(v interface{}) (float64, error) {
	var f float64
	switch val := v.(type) {
	case float64:
		f = val
	case float32:
		f = float64(val)
	case int:
		f = float64(val)
	case int32:
		f = float64(val)
	case int64:
		f = float64(val)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return 0, fmt.Errorf("cannot parse %q as number", val)
		}
		f = parsed
	default:
		return 0, fmt.Errorf("cannot convert %T to number", v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("value is not a finite number")
	}
	return f, nil
}

// parseTimestamp 解析时间戳：time.Time、字符串（RFC3339 等）、Unix 秒或毫秒（> 1e12 视为毫秒）
func parseTimestamp(v interface{}) (time.Time, error) {
	switch val := v.(type) {
	case time.Time:
		if val.IsZero() {
			return time.Time{}, fmt.Errorf("zero time")
		}
		return val, nil
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return time.Time{}, fmt.Errorf("empty timestamp")
		}
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, nil
			}
		}
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			return unixToTime(n)
		}
		return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
	default:
		n, err := parseFloat(v)
		if err != nil {
			return time.Time{}, err
		}
		return unixToTime(n)
	}
}

func unixToTime(n float64) (time.Time, error) {
	if n <= 0 {
		return time.Time{}, fmt.Errorf("non-positive unix timestamp")
	}
	if n > 1e12 {
		return time.UnixMilli(int64(n)), nil
	}
	sec, frac := math.Modf(n)
	return time.Unix(int64(sec), int64(frac*1e9)), nil
}

// parseBool 解析布尔值（bool、"true"/"yes"/"1"、数字非零）
func parseBool(v interface{}) (bool, error) {
	switch val := v.(type) {
	case bool:
		return val, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "true", "yes", "y", "1":
			return true, nil
		case "false", "no", "n", "0":
			return false, nil
		}
		return false, fmt.Errorf("cannot parse %q as bool", val)
	default:
		f, err := parseFloat(v)
		if err != nil {
			return false, fmt.Errorf("cannot convert %T to bool", v)
		}
		return f != 0, nil
	}
}

// parseStringList 解析字符串列表（[]string、[]interface{} 或逗号分隔字符串）
func parseStringList(v interface{}) ([]string, error) {
	switch val := v.(type) {
	case []string:
		return append([]string(nil), val...), nil
	case []interface{}:
		out := make([]string, 0, len(val))
		for _, item := range val {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("list item %T is not a string", item)
			}
			out = append(out, s)
		}
		return out, nil
	case string:
		if strings.TrimSpace(val) == "" {
			return nil, nil
		}
		parts := strings.Split(val, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts, nil
	default:
		return nil, fmt.Errorf("cannot convert %T to string list", v)
	}
}
