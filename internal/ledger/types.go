package ledger

import (
	"strings"

	"okx-tracker/internal/exchange"
)

// Side 为归一化后的持仓方向。
type Side string

const (
	SideLong    Side = "long"
	SideShort   Side = "short"
	SideUnknown Side = "unknown"
)

// NormalizeSide 仅识别 long/short（忽略大小写与空白），其余一律视为未知。
func NormalizeSide(raw string) Side {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(SideLong):
		return SideLong
	case string(SideShort):
		return SideShort
	default:
		return SideUnknown
	}
}

// SideOf 依字段表顺序取第一个可识别的方向。
// OKX 单向持仓的 posSide 为 net，此时回退到 direction 等别名。
func SideOf(rec exchange.Record, fields FieldTable) Side {
	for _, name := range fields[AttrSide] {
		v, ok := rec.Get(name)
		if !ok {
			continue
		}
		s, ok := v.(string)
		if !ok {
			continue
		}
		if side := NormalizeSide(s); side != SideUnknown {
			return side
		}
	}
	return SideUnknown
}

// Provenance 标记历史记录的来源。
type Provenance string

const (
	ProvenanceHistory Provenance = "history-source"
	ProvenanceFills   Provenance = "fills-fallback"
)

// HistoryRecord 为归一化后的已平仓记录。
type HistoryRecord struct {
	InstID      string      `json:"instId"`
	Label       string      `json:"label"`
	Side        Side        `json:"posSide"`
	OpenTime    Millis      `json:"openTime"`
	CloseTime   Millis      `json:"closeTime"`
	OpenAvgPx   float64     `json:"openAvgPx"`
	CloseAvgPx  float64     `json:"closeAvgPx"`
	RealizedPnl float64     `json:"realizedPnl"`
	Size        float64     `json:"sz"`
	Leverage    float64     `json:"lever"`
	PnlRatio    float64     `json:"pnlRatio"`
	RatioSource RatioSource `json:"ratioSource,omitempty"`
	Provenance  Provenance  `json:"provenance"`
	TradeID     string      `json:"tradeId,omitempty"`
	OrderID     string      `json:"ordId,omitempty"`
}

// PnlPercent 返回展示用的百分比。
func (r HistoryRecord) PnlPercent() float64 {
	return r.PnlRatio * 100
}
