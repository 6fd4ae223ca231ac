package snapshot

import (
	"context"
	cryptorand "crypto/rand"
	"encoding/binary"
	"io"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"okx-tracker/internal/ledger"
	"okx-tracker/internal/position"
	tracing "okx-tracker/internal/trace"
)

// AccountReader 读取余额与持仓。
type AccountReader interface {
	FetchBalance(ctx context.Context) (position.Balance, error)
	FetchPositions(ctx context.Context) ([]position.Record, error)
}

// HistoryReconciler 产出历史账本，自身不返回错误。
type HistoryReconciler interface {
	Reconcile(ctx context.Context) ledger.Result
}

// Options 控制快照聚合。
type Options struct {
	Deposit   float64
	Tracer    trace.Tracer
	Observers []Observer
}

// Aggregator 并发获取三部分数据，合并后原子发布。
type Aggregator struct {
	account AccountReader
	history HistoryReconciler
	opts    Options
	tracer  trace.Tracer
	logger  *zap.Logger

	current   atomic.Pointer[AccountSnapshot]
	publishMu sync.Mutex
	inflight  atomic.Int32

	listenersMu sync.RWMutex
	listeners   []func(*AccountSnapshot)

	idMu    sync.Mutex
	entropy io.Reader

	now func() time.Time
}

// NewAggregator 创建快照聚合器。
func NewAggregator(account AccountReader, history HistoryReconciler, opts Options, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("snapshot")
	}

	var seed int64
	_ = binary.Read(cryptorand.Reader, binary.LittleEndian, &seed)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	return &Aggregator{
		account: account,
		history: history,
		opts:    opts,
		tracer:  tracer,
		logger:  logger,
		entropy: ulid.Monotonic(rand.New(rand.NewSource(seed)), 0),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Current 返回最近一次发布的快照，尚未发布时为 nil。调用方不得修改返回值。
func (a *Aggregator) Current() *AccountSnapshot {
	return a.current.Load()
}

// Loading 报告是否有刷新周期正在进行。
func (a *Aggregator) Loading() bool {
	return a.inflight.Load() > 0
}

// OnPublish 注册发布回调。回调按发布顺序在发布锁内执行，不得阻塞。
func (a *Aggregator) OnPublish(fn func(*AccountSnapshot)) {
	if fn == nil {
		return
	}
	a.listenersMu.Lock()
	a.listeners = append(a.listeners, fn)
	a.listenersMu.Unlock()
}

// Refresh 执行一次完整的刷新周期并发布结果。
// 三个数据源并发获取，任一失败不影响其他两个；余额或持仓失败时沿用上一周期的值。
// 多个周期并发时按完成顺序发布，后完成者覆盖先完成者。
func (a *Aggregator) Refresh(ctx context.Context) *AccountSnapshot {
	a.inflight.Add(1)
	defer a.inflight.Add(-1)

	started := a.now()
	cycleID := a.newCycleID(started)

	ctx, span := a.tracer.Start(ctx, "snapshot.Refresh", trace.WithAttributes(attribute.String("cycle.id", cycleID)))
	defer span.End()

	var (
		balance      position.Balance
		positions    []position.Record
		history      ledger.Result
		balanceErr   error
		positionsErr error
	)

	var g errgroup.Group
	g.Go(func() error {
		balance, balanceErr = a.fetchBalance(ctx)
		return nil
	})
	g.Go(func() error {
		positions, positionsErr = a.fetchPositions(ctx)
		return nil
	})
	g.Go(func() error {
		history = a.reconcile(ctx)
		return nil
	})
	_ = g.Wait()

	report := Report{
		CycleID:      cycleID,
		StartedAt:    started,
		BalanceErr:   balanceErr,
		PositionsErr: positionsErr,
		History:      history,
	}

	snap := a.publish(report, balance, positions)
	report.Degraded = snap.Degraded
	report.Duration = a.now().Sub(started)

	span.SetAttributes(
		attribute.Int("positions.count", len(snap.Positions)),
		attribute.Int("history.count", len(snap.History)),
		attribute.String("history.source", string(snap.HistorySource)),
	)
	if err := report.Err(); err != nil {
		span.RecordError(err)
	}
	if len(report.Degraded) > 0 {
		span.SetStatus(codes.Error, report.Outcome())
	}

	fields := []zap.Field{
		zap.String("cycle_id", cycleID),
		zap.String("outcome", report.Outcome()),
		zap.Int("positions", len(snap.Positions)),
		zap.Int("history", len(snap.History)),
		zap.String("history_source", string(snap.HistorySource)),
		zap.Duration("duration", report.Duration),
	}
	if traceID, spanID, ok := tracing.Fields(ctx); ok {
		fields = append(fields, zap.String("trace_id", traceID), zap.String("span_id", spanID))
	}
	if err := report.Err(); err != nil {
		a.logger.Warn("快照已发布（部分数据降级）", append(fields, zap.Error(err))...)
	} else {
		a.logger.Info("快照已发布", fields...)
	}

	for _, obs := range a.opts.Observers {
		obs.ObserveCycle(ctx, snap, report)
	}

	return snap
}

// publish 在发布锁内合并三部分结果并整体替换当前快照。
func (a *Aggregator) publish(report Report, balance position.Balance, positions []position.Record) *AccountSnapshot {
	a.publishMu.Lock()
	defer a.publishMu.Unlock()

	prev := a.current.Load()
	snap := &AccountSnapshot{
		CycleID:       report.CycleID,
		History:       report.History.Records,
		HistorySource: report.History.Source,
		RetrievedAt:   a.now(),
	}
	if snap.History == nil {
		snap.History = []ledger.HistoryRecord{}
	}

	if report.BalanceErr != nil {
		snap.Degraded = append(snap.Degraded, SliceBalance)
		if prev != nil {
			snap.Balance = prev.Balance
		}
	} else {
		snap.Balance = balance
	}

	if report.PositionsErr != nil {
		snap.Degraded = append(snap.Degraded, SlicePositions)
		if prev != nil {
			snap.Positions = prev.Positions
		}
	} else {
		snap.Positions = positions
	}
	if snap.Positions == nil {
		snap.Positions = []position.Record{}
	}

	if report.History.PrimaryErr != nil && report.History.FallbackErr != nil {
		snap.Degraded = append(snap.Degraded, SliceHistory)
	}

	snap.TotalEquity = snap.Balance.TotalEquity
	if summary, ok := position.Summarize(a.opts.Deposit, snap.TotalEquity); ok {
		snap.Summary = &summary
	}

	a.current.Store(snap)

	a.listenersMu.RLock()
	listeners := a.listeners
	a.listenersMu.RUnlock()
	for _, fn := range listeners {
		fn(snap)
	}

	return snap
}

func (a *Aggregator) fetchBalance(ctx context.Context) (position.Balance, error) {
	ctx, span := a.tracer.Start(ctx, "snapshot.balance")
	defer span.End()

	balance, err := a.account.FetchBalance(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "balance")
		return position.Balance{}, err
	}
	return balance, nil
}

func (a *Aggregator) fetchPositions(ctx context.Context) ([]position.Record, error) {
	ctx, span := a.tracer.Start(ctx, "snapshot.positions")
	defer span.End()

	positions, err := a.account.FetchPositions(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "positions")
		return nil, err
	}
	span.SetAttributes(attribute.Int("count", len(positions)))
	return positions, nil
}

func (a *Aggregator) reconcile(ctx context.Context) ledger.Result {
	ctx, span := a.tracer.Start(ctx, "snapshot.history")
	defer span.End()

	result := a.history.Reconcile(ctx)
	span.SetAttributes(
		attribute.Int("count", len(result.Records)),
		attribute.Bool("fallback", result.FallbackUsed),
	)
	return result
}

func (a *Aggregator) newCycleID(t time.Time) string {
	a.idMu.Lock()
	defer a.idMu.Unlock()

	id, err := ulid.New(ulid.Timestamp(t), a.entropy)
	if err != nil {
		return ulid.Make().String()
	}
	return id.String()
}
