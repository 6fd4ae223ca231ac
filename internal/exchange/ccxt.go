package exchange

import (
	"context"
	"fmt"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"go.uber.org/zap"

	"okx-tracker/internal/config"
)

// okxAPI 为 CCXTClient 用到的 ccxt.Okx 方法子集，便于测试替换。
type okxAPI interface {
	FetchBalance(params ...interface{}) (ccxt.Balances, error)
	FetchPositions(options ...ccxt.FetchPositionsOptions) ([]ccxt.Position, error)
	FetchPositionsHistory(options ...ccxt.FetchPositionsHistoryOptions) ([]ccxt.Position, error)
	FetchClosedOrders(options ...ccxt.FetchClosedOrdersOptions) ([]ccxt.Order, error)
}

// CCXTClient 通过 ccxt 直连 OKX，并从 Info 字段取回原始报文，
// 使下游对账逻辑与 HTTP 数据源共用同一套字段表。
type CCXTClient struct {
	api    okxAPI
	retry  retrier
	logger *zap.Logger
}

var _ Source = (*CCXTClient)(nil)

// NewCCXTClient 构造 OKX 直连数据源。
func NewCCXTClient(apiCfg config.APIConfig, cfg config.ExchangeConfig, logger *zap.Logger) (*CCXTClient, error) {
	if cfg.APIKey == "" || cfg.APISecret == "" || cfg.APIPass == "" {
		return nil, fmt.Errorf("exchange: OKX 直连需要 api_key、api_secret 与 api_password")
	}

	userConfig := map[string]interface{}{
		"enableRateLimit": true,
		"apiKey":          cfg.APIKey,
		"secret":          cfg.APISecret,
		"password":        cfg.APIPass,
		"options": map[string]interface{}{
			"defaultType": "swap",
		},
	}

	ex := ccxt.NewOkx(userConfig)
	if cfg.UseSandbox {
		ex.SetSandboxMode(true)
	}

	return newCCXTClient(ex, apiCfg.Retry, logger), nil
}

func newCCXTClient(api okxAPI, retry config.RetryConfig, logger *zap.Logger) *CCXTClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CCXTClient{
		api:    api,
		retry:  retrier{cfg: retry, logger: logger},
		logger: logger,
	}
}

// Balance 返回 OKX 余额报文中的 data 数组。
func (c *CCXTClient) Balance(ctx context.Context) ([]Record, error) {
	var records []Record
	err := c.retry.call(ctx, "fetch_balance", func(ctx context.Context) error {
		balances, err := c.api.FetchBalance()
		if err != nil {
			return err
		}
		records = nil
		if items, ok := balances.Info["data"].([]interface{}); ok {
			records = toRecords(items)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Positions 返回当前持仓的原始报文。
func (c *CCXTClient) Positions(ctx context.Context) ([]Record, error) {
	var records []Record
	err := c.retry.call(ctx, "fetch_positions", func(ctx context.Context) error {
		positions, err := c.api.FetchPositions()
		if err != nil {
			return err
		}
		records = positionInfos(positions)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// PositionsHistory 返回最近 limit 条已平仓位的原始报文。
func (c *CCXTClient) PositionsHistory(ctx context.Context, limit int) ([]Record, error) {
	var records []Record
	err := c.retry.call(ctx, "fetch_positions_history", func(ctx context.Context) error {
		positions, err := c.api.FetchPositionsHistory(ccxt.WithFetchPositionsHistoryLimit(int64(limit)))
		if err != nil {
			return err
		}
		records = positionInfos(positions)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Fills 以历史订单代替成交明细，订单报文带有 state 字段可供过滤。
func (c *CCXTClient) Fills(ctx context.Context, limit int) ([]Record, error) {
	var records []Record
	err := c.retry.call(ctx, "fetch_closed_orders", func(ctx context.Context) error {
		orders, err := c.api.FetchClosedOrders(ccxt.WithFetchClosedOrdersLimit(int64(limit)))
		if err != nil {
			return err
		}
		records = make([]Record, 0, len(orders))
		for _, order := range orders {
			records = append(records, Record(order.Info))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

func positionInfos(positions []ccxt.Position) []Record {
	records := make([]Record, 0, len(positions))
	for _, p := range positions {
		records = append(records, Record(p.Info))
	}
	return records
}

// NewSource 按配置选择数据源。
func NewSource(cfg *config.Config, logger *zap.Logger) (Source, error) {
	switch cfg.API.Source {
	case config.SourceCCXT:
		return NewCCXTClient(cfg.API, cfg.Exchange, logger)
	case config.SourceHTTP, "":
		return NewClient(cfg.API, logger)
	default:
		return nil, fmt.Errorf("exchange: 不支持的数据源 %q", cfg.API.Source)
	}
}
