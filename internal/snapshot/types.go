package snapshot

import (
	"context"
	"time"

	"go.uber.org/multierr"

	"okx-tracker/internal/ledger"
	"okx-tracker/internal/position"
)

// Slice 标识快照中独立获取的一部分数据。
type Slice string

const (
	SliceBalance   Slice = "balance"
	SlicePositions Slice = "positions"
	SliceHistory   Slice = "history"
)

// AccountSnapshot 为一次刷新周期发布的账户视图，发布后只读。
type AccountSnapshot struct {
	CycleID       string                 `json:"cycleId"`
	Balance       position.Balance       `json:"balance"`
	TotalEquity   float64                `json:"totalEq"`
	Positions     []position.Record      `json:"positions"`
	History       []ledger.HistoryRecord `json:"history"`
	HistorySource ledger.Provenance      `json:"historySource,omitempty"`
	RetrievedAt   time.Time              `json:"retrievedAt"`
	Degraded      []Slice                `json:"degraded,omitempty"`
	Summary       *position.Summary      `json:"summary,omitempty"`
}

// IsDegraded 报告指定数据是否在本周期获取失败。
func (s *AccountSnapshot) IsDegraded(slice Slice) bool {
	if s == nil {
		return false
	}
	for _, d := range s.Degraded {
		if d == slice {
			return true
		}
	}
	return false
}

// Report 描述一次刷新周期的执行情况，供日志、指标与事件记录使用。
type Report struct {
	CycleID      string
	StartedAt    time.Time
	Duration     time.Duration
	BalanceErr   error
	PositionsErr error
	History      ledger.Result
	Degraded     []Slice
}

// Err 合并本周期所有数据源错误。
func (r Report) Err() error {
	return multierr.Combine(r.BalanceErr, r.PositionsErr, r.History.PrimaryErr, r.History.FallbackErr)
}

// Outcome 返回周期结果分类：ok 或 degraded。
func (r Report) Outcome() string {
	if len(r.Degraded) > 0 {
		return "degraded"
	}
	return "ok"
}

// Observer 在每次发布之后收到通知。
type Observer interface {
	ObserveCycle(ctx context.Context, snap *AccountSnapshot, report Report)
}

// ObserverFunc 将普通函数适配为 Observer。
type ObserverFunc func(ctx context.Context, snap *AccountSnapshot, report Report)

// ObserveCycle 实现 Observer。
func (f ObserverFunc) ObserveCycle(ctx context.Context, snap *AccountSnapshot, report Report) {
	f(ctx, snap, report)
}
