package ledger

import "okx-tracker/internal/exchange"

// RatioSource 标识盈亏比来自哪一级回退。
type RatioSource string

const (
	RatioUpstream      RatioSource = "upstream"
	RatioReconstructed RatioSource = "reconstructed"
	RatioMargin        RatioSource = "margin"
	RatioNone          RatioSource = "none"
)

// ResolvePnLRatio 按优先级计算已实现盈亏比（小数形式，0.0345 表示 3.45%）：
//  1. 上游给出的 pnlRatio / realizedPnlRatio，原样采用；
//  2. 开仓价、平仓价、数量齐全且开仓价与数量为正时，按价格与杠杆重建；
//  3. 保证金为正且已实现盈亏非零时，取 盈亏/保证金；
//  4. 否则为 0。
//
// 上游比例始终优先于重建值。
func ResolvePnLRatio(rec exchange.Record, fields FieldTable) float64 {
	ratio, _ := ResolvePnLRatioSource(rec, fields)
	return ratio
}

// ResolvePnLRatioSource 与 ResolvePnLRatio 相同，同时返回命中的分支。
// 计算结果溢出为非有限值时按 0 处理。
func ResolvePnLRatioSource(rec exchange.Record, fields FieldTable) (float64, RatioSource) {
	if ratio, ok := fields.Number(rec, AttrPnlRatio); ok {
		return ratio, RatioUpstream
	}

	openPx, hasOpen := fields.Number(rec, AttrOpenPx)
	closePx, hasClose := fields.Number(rec, AttrClosePx)
	size, hasSize := fields.Number(rec, AttrSize)
	if hasOpen && hasClose && hasSize && openPx > 0 && size > 0 {
		return reconstructRatio(SideOf(rec, fields), openPx, closePx, size, fields.Leverage(rec, 1)), RatioReconstructed
	}

	margin, hasMargin := fields.Number(rec, AttrMargin)
	pnl, _ := fields.Number(rec, AttrRealizedPnl)
	if hasMargin && margin > 0 && pnl != 0 {
		return Finite(pnl / margin), RatioMargin
	}

	return 0, RatioNone
}

// reconstructRatio 方向不明时返回 0，不猜测方向。
func reconstructRatio(side Side, openPx, closePx, size, leverage float64) float64 {
	var pnl float64
	switch side {
	case SideLong:
		pnl = (closePx - openPx) * size
	case SideShort:
		pnl = (openPx - closePx) * size
	default:
		return 0
	}

	if leverage <= 0 {
		leverage = 1
	}
	invested := openPx * size / leverage
	if invested == 0 {
		return 0
	}
	return Finite(pnl / invested)
}
