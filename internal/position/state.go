package position

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"okx-tracker/internal/exchange"
	"okx-tracker/internal/ledger"
)

type accountClient interface {
	Balance(ctx context.Context) ([]exchange.Record, error)
	Positions(ctx context.Context) ([]exchange.Record, error)
}

// Balance 描述账户权益。
type Balance struct {
	TotalEquity     float64   `json:"totalEq"`
	AdjustedEquity  float64   `json:"adjEq"`
	AvailableEquity float64   `json:"availEq"`
	UnrealizedPnl   float64   `json:"upl"`
	InitialMargin   float64   `json:"imr"`
	MarginRatio     float64   `json:"mgnRatio"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Record 表示一个当前持仓，每次轮询整体替换。
type Record struct {
	InstID          string        `json:"instId"`
	Label           string        `json:"label"`
	Side            ledger.Side   `json:"posSide"`
	Size            float64       `json:"pos"`
	EntryPrice      float64       `json:"avgPx"`
	MarkPrice       float64       `json:"markPx"`
	Leverage        float64       `json:"lever"`
	Margin          float64       `json:"margin"`
	LiqPrice        float64       `json:"liqPx"`
	UnrealizedPnl   float64       `json:"upl"`
	UnrealizedRatio float64       `json:"uplRatio"`
	MarginMode      string        `json:"mgnMode,omitempty"`
	OpenTime        ledger.Millis `json:"cTime"`
}

// UnrealizedPercent 返回展示用的未实现盈亏百分比。
func (r Record) UnrealizedPercent() float64 {
	return r.UnrealizedRatio * 100
}

// Reader 读取账户余额与当前持仓。
type Reader struct {
	client accountClient
	logger *zap.Logger
	now    func() time.Time
}

// NewReader 创建持仓读取器。
func NewReader(client accountClient, logger *zap.Logger) *Reader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reader{
		client: client,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// FetchBalance 获取账户权益。
func (r *Reader) FetchBalance(ctx context.Context) (Balance, error) {
	items, err := r.client.Balance(ctx)
	if err != nil {
		return Balance{}, fmt.Errorf("position: 获取账户余额失败: %w", err)
	}
	if len(items) == 0 {
		r.logger.Warn("账户余额为空")
	}
	return ParseBalance(items, r.now()), nil
}

// FetchPositions 获取当前持仓。
func (r *Reader) FetchPositions(ctx context.Context) ([]Record, error) {
	items, err := r.client.Positions(ctx)
	if err != nil {
		return nil, fmt.Errorf("position: 获取持仓失败: %w", err)
	}
	return ParsePositions(items), nil
}

// ParseBalance 解析余额报文，只读取第一条记录；缺失字段为 0。
// 上游没有给出更新时间时使用 now。
func ParseBalance(items []exchange.Record, now time.Time) Balance {
	balance := Balance{UpdatedAt: now}
	if len(items) == 0 {
		return balance
	}

	raw := items[0]
	balance.TotalEquity = field(raw, "totalEq")
	balance.AdjustedEquity = field(raw, "adjEq")
	balance.AvailableEquity = field(raw, "availEq")
	balance.UnrealizedPnl = field(raw, "upl")
	balance.InitialMargin = field(raw, "imr")
	balance.MarginRatio = field(raw, "mgnRatio")

	if v, ok := raw.Get("uTime"); ok {
		if ts := ledger.NormalizeTimestamp(v); ts.Known() {
			balance.UpdatedAt = ts.Time()
		}
	}
	return balance
}

// ParsePositions 按上游顺序解析持仓，不丢弃记录。
func ParsePositions(items []exchange.Record) []Record {
	positions := make([]Record, 0, len(items))
	for _, raw := range items {
		instID := strings.TrimSpace(text(raw, "instId"))
		if instID == "" {
			instID = ledger.PlaceholderInstrument
		}

		signed := field(raw, "pos")
		margin := firstPositive(raw, "margin", "imr")
		upl := field(raw, "upl")

		leverage := field(raw, "lever")
		if leverage <= 0 {
			leverage = 1
		}

		var openTime ledger.Millis
		if v, ok := raw.Get("cTime"); ok {
			openTime = ledger.NormalizeTimestamp(v)
		}

		positions = append(positions, Record{
			InstID:          instID,
			Label:           ledger.FormatInstrument(instID),
			Side:            positionSide(text(raw, "posSide"), signed),
			Size:            math.Abs(signed),
			EntryPrice:      field(raw, "avgPx"),
			MarkPrice:       field(raw, "markPx"),
			Leverage:        leverage,
			Margin:          margin,
			LiqPrice:        field(raw, "liqPx"),
			UnrealizedPnl:   upl,
			UnrealizedRatio: unrealizedRatio(raw, upl, margin),
			MarginMode:      strings.ToLower(text(raw, "mgnMode")),
			OpenTime:        openTime,
		})
	}
	return positions
}

// positionSide 单向持仓模式下 posSide 为 net，方向由持仓数量的符号决定。
func positionSide(posSide string, signed float64) ledger.Side {
	if side := ledger.NormalizeSide(posSide); side != ledger.SideUnknown {
		return side
	}
	switch {
	case signed > 0:
		return ledger.SideLong
	case signed < 0:
		return ledger.SideShort
	default:
		return ledger.SideUnknown
	}
}

func unrealizedRatio(raw exchange.Record, upl, margin float64) float64 {
	if v, ok := raw.Get("uplRatio"); ok {
		if ratio, ok := ledger.ToNumber(v); ok {
			return ratio
		}
	}
	if margin != 0 {
		return ledger.Finite(upl / margin)
	}
	return 0
}

func field(raw exchange.Record, key string) float64 {
	v, _ := raw.Get(key)
	return ledger.Number(v)
}

func firstPositive(raw exchange.Record, keys ...string) float64 {
	for _, key := range keys {
		if v := field(raw, key); v > 0 {
			return v
		}
	}
	return 0
}

func text(raw exchange.Record, key string) string {
	v, ok := raw.Get(key)
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
