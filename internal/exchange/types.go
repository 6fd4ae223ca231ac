package exchange

import "context"

const (
	// PathBalance 账户权益。
	PathBalance = "/account/balance"
	// PathPositions 当前持仓。
	PathPositions = "/account/positions"
	// PathPositionsHistory 已平仓位历史，主数据源。
	PathPositionsHistory = "/account/positions-history"
	// PathFills 成交明细，仅作为历史的降级数据源。
	PathFills = "/account/fills"
)

// Record 为上游返回的单条原始记录，字段均不可信，需经过校验与转换后使用。
type Record map[string]interface{}

// Source 抽象账户数据的四个只读接口。
type Source interface {
	Balance(ctx context.Context) ([]Record, error)
	Positions(ctx context.Context) ([]Record, error)
	PositionsHistory(ctx context.Context, limit int) ([]Record, error)
	Fills(ctx context.Context, limit int) ([]Record, error)
}

// Get 返回字段原值，Record 为 nil 时同样安全。
func (r Record) Get(key string) (interface{}, bool) {
	if r == nil {
		return nil, false
	}
	v, ok := r[key]
	return v, ok
}
