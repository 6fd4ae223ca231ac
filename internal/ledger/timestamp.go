package ledger

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Millis 为毫秒级 Unix 时间戳，UnknownTime 表示无法识别。
type Millis int64

const (
	// UnknownTime 为未知时间的哨兵值。
	UnknownTime Millis = 0

	// 小于该值的输入按秒级时间戳处理。
	secondsThreshold = 1_000_000_000_000
	// 可表示的日历范围上限（±100,000,000 天）。
	maxCalendarMillis = 8_640_000_000_000_000
)

// Known 报告时间戳是否有效。
func (m Millis) Known() bool {
	return m > 0
}

// Time 转换为 UTC 时间，未知时返回零值。
func (m Millis) Time() time.Time {
	if !m.Known() {
		return time.Time{}
	}
	return time.UnixMilli(int64(m)).UTC()
}

// MarshalJSON 未知时间输出为 null，由展示层渲染占位符。
func (m Millis) MarshalJSON() ([]byte, error) {
	if !m.Known() {
		return []byte("null"), nil
	}
	return strconv.AppendInt(nil, int64(m), 10), nil
}

// UnmarshalJSON 接受 null 或任意可识别的时间表示。
func (m *Millis) UnmarshalJSON(data []byte) error {
	var raw interface{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	*m = NormalizeTimestamp(raw)
	return nil
}

// NormalizeTimestamp 将数字、数字字符串等多种表示统一为毫秒时间戳。
// 任何无法识别的输入都返回 UnknownTime，不会 panic。
func NormalizeTimestamp(v interface{}) Millis {
	value, ok := rawTimestamp(v)
	if !ok || value <= 0 {
		return UnknownTime
	}

	if value < secondsThreshold {
		value *= 1000
	}

	if value > maxCalendarMillis {
		return UnknownTime
	}

	return Millis(value)
}

func rawTimestamp(v interface{}) (int64, bool) {
	switch t := v.(type) {
	case nil:
		return 0, false
	case string:
		return parseLeadingInt(t)
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i, true
		}
		if f, err := t.Float64(); err == nil {
			return truncFloat(f)
		}
		return parseLeadingInt(t.String())
	case float64:
		return truncFloat(t)
	case float32:
		return truncFloat(float64(t))
	case int:
		return int64(t), true
	case int64:
		return t, true
	case int32:
		return int64(t), true
	case uint32:
		return int64(t), true
	case uint64:
		if t > math.MaxInt64 {
			return 0, false
		}
		return int64(t), true
	case time.Time:
		if t.IsZero() {
			return 0, false
		}
		return t.UnixMilli(), true
	default:
		return 0, false
	}
}

func truncFloat(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	f = math.Trunc(f)
	if f > math.MaxInt64 || f < math.MinInt64 {
		return 0, false
	}
	return int64(f), true
}

// parseLeadingInt 按十进制解析字符串开头的整数部分，忽略其后的字符。
func parseLeadingInt(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	end := 0
	if end < len(s) && (s[end] == '+' || s[end] == '-') {
		end++
	}
	digitsStart := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digitsStart {
		return 0, false
	}

	i, err := strconv.ParseInt(s[:end], 10, 64)
	if err != nil {
		return 0, false
	}
	return i, true
}
