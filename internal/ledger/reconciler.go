package ledger

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"okx-tracker/internal/exchange"
)

const (
	DefaultHistoryLimit = 50
	DefaultFillsLimit   = 100
	DefaultFillLeverage = 5

	fillStateFilled = "filled"
	fillSideBuy     = "buy"
)

// HistorySource 为对账所需的两个上游接口。
type HistorySource interface {
	PositionsHistory(ctx context.Context, limit int) ([]exchange.Record, error)
	Fills(ctx context.Context, limit int) ([]exchange.Record, error)
}

// Options 配置对账流水线。
type Options struct {
	HistoryLimit  int
	FillsLimit    int
	FillLeverage  float64
	HistoryFields FieldTable
	FillFields    FieldTable
}

// DefaultOptions 返回默认字段表与分页参数。
func DefaultOptions() Options {
	return Options{
		HistoryLimit:  DefaultHistoryLimit,
		FillsLimit:    DefaultFillsLimit,
		FillLeverage:  DefaultFillLeverage,
		HistoryFields: DefaultHistoryFields(),
		FillFields:    DefaultFillFields(),
	}
}

func (o Options) normalize() Options {
	def := DefaultOptions()
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = def.HistoryLimit
	}
	if o.FillsLimit <= 0 {
		o.FillsLimit = def.FillsLimit
	}
	if o.FillLeverage <= 0 {
		o.FillLeverage = def.FillLeverage
	}
	if len(o.HistoryFields) == 0 {
		o.HistoryFields = def.HistoryFields
	}
	if len(o.FillFields) == 0 {
		o.FillFields = def.FillFields
	}
	return o
}

// Result 为一次对账的结果。Records 按上游顺序（最新在前）排列，永不为 nil。
type Result struct {
	Records       []HistoryRecord
	Source        Provenance
	PrimaryErr    error
	FallbackErr   error
	FallbackUsed  bool
	FillsRejected int
}

// Reconciler 将仓位历史与成交明细统一为历史账本。
type Reconciler struct {
	source HistorySource
	opts   Options
	logger *zap.Logger
}

// NewReconciler 创建对账器。
func NewReconciler(source HistorySource, opts Options, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		source: source,
		opts:   opts.normalize(),
		logger: logger,
	}
}

// Reconcile 优先读取仓位历史；失败或为空时降级为成交明细；两者都没有数据时返回空账本。
// 该方法不返回错误，上游错误记录在 Result 中。
func (r *Reconciler) Reconcile(ctx context.Context) Result {
	result := Result{Records: make([]HistoryRecord, 0)}

	items, err := r.source.PositionsHistory(ctx, r.opts.HistoryLimit)
	if err != nil {
		result.PrimaryErr = err
		r.logger.Warn("仓位历史获取失败，降级为成交明细", zap.Error(err))
	}
	if err == nil && len(items) > 0 {
		result.Records = MapHistory(items, r.opts.HistoryFields)
		result.Source = ProvenanceHistory
		return result
	}

	result.FallbackUsed = true
	fills, err := r.source.Fills(ctx, r.opts.FillsLimit)
	if err != nil {
		result.FallbackErr = err
		r.logger.Warn("成交明细获取失败，历史账本为空", zap.Error(err))
		return result
	}

	records := MapFills(fills, r.opts.FillFields, r.opts.FillLeverage)
	result.FillsRejected = len(fills) - len(records)
	if len(records) > 0 {
		result.Records = records
		result.Source = ProvenanceFills
	}

	r.logger.Info("已使用成交明细重建历史",
		zap.Int("fills", len(fills)),
		zap.Int("records", len(records)),
		zap.Int("rejected", result.FillsRejected),
	)
	return result
}

// MapHistory 将仓位历史报文逐条转换为历史记录，不丢弃任何记录。
func MapHistory(items []exchange.Record, fields FieldTable) []HistoryRecord {
	records := make([]HistoryRecord, 0, len(items))
	for _, item := range items {
		instID := fields.String(item, AttrInstID)
		if instID == "" {
			instID = PlaceholderInstrument
		}

		ratio, ratioSource := ResolvePnLRatioSource(item, fields)
		rec := HistoryRecord{
			InstID:      instID,
			Label:       FormatInstrument(instID),
			Side:        SideOf(item, fields),
			OpenTime:    timeOf(item, fields, AttrOpenTime),
			CloseTime:   timeOf(item, fields, AttrCloseTime),
			OpenAvgPx:   fields.NumberOr(item, AttrOpenPx, 0),
			CloseAvgPx:  fields.NumberOr(item, AttrClosePx, 0),
			RealizedPnl: fields.NumberOr(item, AttrRealizedPnl, 0),
			Size:        fields.NumberOr(item, AttrSize, 0),
			Leverage:    fields.Leverage(item, 1),
			PnlRatio:    ratio,
			RatioSource: ratioSource,
			Provenance:  ProvenanceHistory,
		}
		orderTimes(&rec)
		records = append(records, rec)
	}
	return records
}

// MapFills 只保留完全成交的记录，每笔成交视为瞬时开平的一次往返。
// 成交没有盈亏比，也不做重建，PnlRatio 固定为 0。
func MapFills(items []exchange.Record, fields FieldTable, fallbackLeverage float64) []HistoryRecord {
	if fallbackLeverage <= 0 {
		fallbackLeverage = 1
	}

	records := make([]HistoryRecord, 0, len(items))
	for _, item := range items {
		if strings.ToLower(fields.String(item, AttrState)) != fillStateFilled {
			continue
		}

		instID := fields.String(item, AttrInstID)
		if instID == "" {
			instID = PlaceholderInstrument
		}

		side := SideShort
		if strings.ToLower(fields.String(item, AttrSide)) == fillSideBuy {
			side = SideLong
		}

		price := fields.NumberOr(item, AttrOpenPx, 0)
		rec := HistoryRecord{
			InstID:      instID,
			Label:       FormatInstrument(instID),
			Side:        side,
			OpenTime:    timeOf(item, fields, AttrOpenTime),
			CloseTime:   timeOf(item, fields, AttrCloseTime),
			OpenAvgPx:   price,
			CloseAvgPx:  fields.NumberOr(item, AttrClosePx, price),
			RealizedPnl: fields.NumberOr(item, AttrRealizedPnl, 0),
			Size:        fields.NumberOr(item, AttrSize, 0),
			Leverage:    fields.Leverage(item, fallbackLeverage),
			PnlRatio:    0,
			Provenance:  ProvenanceFills,
			TradeID:     fields.String(item, AttrTradeID),
			OrderID:     fields.String(item, AttrOrderID),
		}
		orderTimes(&rec)
		records = append(records, rec)
	}
	return records
}

func timeOf(rec exchange.Record, fields FieldTable, attr Attribute) Millis {
	v, ok := fields.Lookup(rec, attr)
	if !ok {
		return UnknownTime
	}
	return NormalizeTimestamp(v)
}

// orderTimes 保证开仓时间不晚于平仓时间。
func orderTimes(rec *HistoryRecord) {
	if rec.OpenTime.Known() && rec.CloseTime.Known() && rec.OpenTime > rec.CloseTime {
		rec.OpenTime, rec.CloseTime = rec.CloseTime, rec.OpenTime
	}
}
