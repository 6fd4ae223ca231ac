package ledger

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"okx-tracker/internal/exchange"
)

// Attribute 为对账流水线中的逻辑字段。
type Attribute string

const (
	AttrInstID      Attribute = "inst_id"
	AttrSide        Attribute = "side"
	AttrOpenTime    Attribute = "open_time"
	AttrCloseTime   Attribute = "close_time"
	AttrOpenPx      Attribute = "open_px"
	AttrClosePx     Attribute = "close_px"
	AttrRealizedPnl Attribute = "realized_pnl"
	AttrSize        Attribute = "size"
	AttrLeverage    Attribute = "leverage"
	AttrPnlRatio    Attribute = "pnl_ratio"
	AttrMargin      Attribute = "margin"
	AttrState       Attribute = "state"
	AttrTradeID     Attribute = "trade_id"
	AttrOrderID     Attribute = "order_id"
)

// FieldTable 为每个逻辑字段声明按优先级排列的候选原始字段名：
// 规范名在前，旧数据使用的别名在后。
type FieldTable map[Attribute][]string

// DefaultHistoryFields 返回仓位历史报文的字段表。
func DefaultHistoryFields() FieldTable {
	return FieldTable{
		AttrInstID:      {"instId", "instrument", "symbol"},
		AttrSide:        {"posSide", "direction", "side"},
		AttrOpenTime:    {"openTime", "cTime"},
		AttrCloseTime:   {"closeTime", "uTime"},
		AttrOpenPx:      {"openAvgPx", "avgPx"},
		AttrClosePx:     {"closeAvgPx", "closePx"},
		AttrRealizedPnl: {"realizedPnl", "pnl"},
		AttrSize:        {"sz", "closeTotalPos", "openMaxPos"},
		AttrLeverage:    {"lever", "leverage"},
		AttrPnlRatio:    {"pnlRatio", "realizedPnlRatio"},
		AttrMargin:      {"margin", "imr"},
	}
}

// DefaultFillFields 返回成交报文的字段表。
// 单笔成交没有开平之分，开仓价与平仓价都取成交价。
func DefaultFillFields() FieldTable {
	return FieldTable{
		AttrInstID:      {"instId"},
		AttrSide:        {"side"},
		AttrState:       {"state"},
		AttrOpenTime:    {"cTime", "ts", "fillTime"},
		AttrCloseTime:   {"uTime", "fillTime", "ts"},
		AttrOpenPx:      {"fillPx", "avgPx", "px"},
		AttrClosePx:     {"fillPx", "avgPx", "px"},
		AttrRealizedPnl: {"pnl", "fillPnl", "fee"},
		AttrSize:        {"fillSz", "accFillSz", "sz"},
		AttrLeverage:    {"lever"},
		AttrTradeID:     {"tradeId"},
		AttrOrderID:     {"ordId"},
	}
}

// With 返回应用覆盖项后的副本，覆盖项的键为逻辑字段名。
func (t FieldTable) With(overrides map[string][]string) FieldTable {
	out := make(FieldTable, len(t)+len(overrides))
	for attr, names := range t {
		out[attr] = append([]string(nil), names...)
	}
	for key, names := range overrides {
		attr := Attribute(strings.ToLower(strings.TrimSpace(key)))
		cleaned := make([]string, 0, len(names))
		for _, name := range names {
			if name = strings.TrimSpace(name); name != "" {
				cleaned = append(cleaned, name)
			}
		}
		if len(cleaned) == 0 {
			continue
		}
		out[attr] = cleaned
	}
	return out
}

// Lookup 返回第一个存在且非空的候选字段值。
func (t FieldTable) Lookup(rec exchange.Record, attr Attribute) (interface{}, bool) {
	for _, name := range t[attr] {
		v, ok := rec.Get(name)
		if !ok || isBlank(v) {
			continue
		}
		return v, true
	}
	return nil, false
}

// Number 返回第一个可转换为有限数值的候选字段。
func (t FieldTable) Number(rec exchange.Record, attr Attribute) (float64, bool) {
	for _, name := range t[attr] {
		v, ok := rec.Get(name)
		if !ok {
			continue
		}
		if f, ok := ToNumber(v); ok {
			return f, true
		}
	}
	return 0, false
}

// NumberOr 与 Number 相同，缺失或非法时返回 fallback。
func (t FieldTable) NumberOr(rec exchange.Record, attr Attribute, fallback float64) float64 {
	if f, ok := t.Number(rec, attr); ok {
		return f
	}
	return fallback
}

// String 返回第一个非空候选字段的字符串形式。
func (t FieldTable) String(rec exchange.Record, attr Attribute) string {
	v, ok := t.Lookup(rec, attr)
	if !ok {
		return ""
	}
	return strings.TrimSpace(toString(v))
}

// Leverage 读取杠杆，缺失或非正时返回 fallback。
func (t FieldTable) Leverage(rec exchange.Record, fallback float64) float64 {
	if lev, ok := t.Number(rec, AttrLeverage); ok && lev > 0 {
		return lev
	}
	return fallback
}

// ToNumber 将不可信的原始值转换为有限浮点数。
func ToNumber(value interface{}) (float64, bool) {
	var f float64
	switch v := value.(type) {
	case nil:
		return 0, false
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	case int32:
		f = float64(v)
	case uint64:
		f = float64(v)
	case uint32:
		f = float64(v)
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0, false
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	case fmt.Stringer:
		return ToNumber(v.String())
	default:
		return 0, false
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Number 将原始值转换为有限数值，非法时返回 0。
func Number(value interface{}) float64 {
	f, _ := ToNumber(value)
	return f
}

// Finite 将 NaN 与 ±Inf 归零，用于校验算术结果。
func Finite(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

func isBlank(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	default:
		return false
	}
}

func toString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(v)
	}
}
