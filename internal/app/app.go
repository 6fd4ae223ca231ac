package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"okx-tracker/internal/config"
	"okx-tracker/internal/exchange"
	"okx-tracker/internal/ledger"
	"okx-tracker/internal/metrics"
	"okx-tracker/internal/monitor"
	"okx-tracker/internal/position"
	"okx-tracker/internal/preferences"
	"okx-tracker/internal/snapshot"
	"okx-tracker/internal/store"
	"okx-tracker/internal/stream"
	"okx-tracker/internal/trace"
)

// App 聚合核心依赖并驱动刷新周期。
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store

	aggregator  *snapshot.Aggregator
	monitor     *monitor.Service
	metrics     *metrics.Metrics
	preferences *preferences.Service
	prefStore   preferences.Store
	hub         *stream.Hub
	tracing     *trace.Provider

	trigger chan struct{}
	cycles  sync.WaitGroup
}

// New 根据配置创建数据源并组装 App。
func New(cfg *config.Config, logger *zap.Logger, st *store.Store) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	source, err := exchange.NewSource(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("初始化数据源失败: %w", err)
	}
	return newApp(cfg, logger, st, source, nil)
}

func newApp(cfg *config.Config, logger *zap.Logger, st *store.Store, source exchange.Source, traceOut io.Writer) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if st == nil {
		return nil, errors.New("app: store 不能为空")
	}

	tracing, err := trace.New(cfg.Tracing, traceOut)
	if err != nil {
		return nil, err
	}

	monitorSvc, err := monitor.NewService(st, logger.Named("monitor"))
	if err != nil {
		return nil, fmt.Errorf("初始化监控服务失败: %w", err)
	}

	prefStore, err := preferences.NewStore(cfg.Preferences, st)
	if err != nil {
		return nil, fmt.Errorf("初始化偏好存储失败: %w", err)
	}

	m := metrics.New()
	hub := stream.NewHub(logger.Named("stream"))
	hub.OnClientsChanged(func(n int) { m.StreamClients.Set(float64(n)) })

	reconciler := ledger.NewReconciler(source, reconcileOptions(cfg.Reconcile), logger.Named("ledger"))
	reader := position.NewReader(source, logger.Named("position"))

	aggregator := snapshot.NewAggregator(reader, reconciler, snapshot.Options{
		Deposit:   cfg.Account.Deposit,
		Tracer:    tracing.Tracer(),
		Observers: []snapshot.Observer{m, monitorSvc},
	}, logger.Named("snapshot"))
	aggregator.OnPublish(hub.Publish)

	return &App{
		cfg:         cfg,
		logger:      logger,
		store:       st,
		aggregator:  aggregator,
		monitor:     monitorSvc,
		metrics:     m,
		preferences: preferences.NewService(prefStore, logger.Named("preferences")),
		prefStore:   prefStore,
		hub:         hub,
		tracing:     tracing,
		trigger:     make(chan struct{}, 1),
	}, nil
}

func reconcileOptions(cfg config.ReconcileConfig) ledger.Options {
	opts := ledger.DefaultOptions()
	if cfg.HistoryLimit > 0 {
		opts.HistoryLimit = cfg.HistoryLimit
	}
	if cfg.FillsLimit > 0 {
		opts.FillsLimit = cfg.FillsLimit
	}
	if cfg.FillLeverage > 0 {
		opts.FillLeverage = cfg.FillLeverage
	}
	opts.HistoryFields = opts.HistoryFields.With(cfg.HistoryFields)
	opts.FillFields = opts.FillFields.With(cfg.FillFields)
	return opts
}

// Aggregator 返回快照聚合器。
func (a *App) Aggregator() *snapshot.Aggregator {
	return a.aggregator
}

// TriggerRefresh 请求一次手动刷新。已有请求排队时返回 false。
func (a *App) TriggerRefresh() bool {
	select {
	case a.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// RefreshOnce 同步执行一次刷新周期。
func (a *App) RefreshOnce(ctx context.Context) *snapshot.AccountSnapshot {
	timeout := a.cfg.Scheduler.CycleTimeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return a.aggregator.Refresh(ctx)
}

// Run 启动 HTTP 服务与刷新循环，直到 ctx 结束。
// 定时与手动触发的周期互不取消，快照按完成顺序发布。
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("账户追踪已启动",
		zap.String("environment", a.cfg.App.Environment),
		zap.String("source", a.cfg.API.Source),
		zap.Duration("refresh_interval", a.cfg.Scheduler.RefreshInterval),
		zap.Bool("tracing", a.tracing.Enabled()),
	)

	if a.cfg.Server.Addr != "" {
		if err := a.startServer(ctx); err != nil {
			return err
		}
	}

	interval := a.cfg.Scheduler.RefreshInterval
	if interval <= 0 {
		interval = 2 * time.Minute
	}

	a.spawnCycle(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.cycles.Wait()
			if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("系统异常退出: %w", err)
			}
			a.logger.Info("系统收到退出信号，正在停止")
			return nil
		case <-ticker.C:
			a.spawnCycle(ctx)
		case <-a.trigger:
			a.logger.Info("收到手动刷新请求")
			a.spawnCycle(ctx)
		}
	}
}

func (a *App) spawnCycle(ctx context.Context) {
	a.cycles.Add(1)
	go func() {
		defer a.cycles.Done()
		defer func() {
			if r := recover(); r != nil {
				a.logger.Error("刷新周期异常", zap.Any("panic", r))
			}
		}()
		a.RefreshOnce(ctx)
	}()
}

// Close 释放推送、追踪与偏好存储资源。数据库由调用方关闭。
func (a *App) Close(ctx context.Context) error {
	a.hub.Close()

	var err error
	if shutdownErr := a.tracing.Shutdown(ctx); shutdownErr != nil {
		err = multierr.Append(err, fmt.Errorf("关闭链路追踪失败: %w", shutdownErr))
	}
	if closer, ok := a.prefStore.(io.Closer); ok {
		if closeErr := closer.Close(); closeErr != nil {
			err = multierr.Append(err, fmt.Errorf("关闭偏好存储失败: %w", closeErr))
		}
	}
	return err
}
