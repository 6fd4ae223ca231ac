package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"okx-tracker/internal/config"
)

const (
	maxErrorBody = 512
	// 单次响应体上限，超出视为异常响应。
	defaultMaxResponseBody = 8 << 20
)

// Client 通过追踪后端的 REST 接口读取账户数据。
type Client struct {
	baseURL    string
	httpClient *http.Client
	maxBody    int64
	retry      retrier
	logger     *zap.Logger
}

var _ Source = (*Client)(nil)

// NewClient 构造 HTTP 数据源。
func NewClient(cfg config.APIConfig, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("exchange: base_url 不能为空")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("exchange: 解析 base_url 失败: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &Client{
		baseURL:    base,
		httpClient: &http.Client{Timeout: timeout},
		maxBody:    defaultMaxResponseBody,
		retry:      retrier{cfg: cfg.Retry, logger: logger},
		logger:     logger,
	}, nil
}

// Balance 获取账户权益。
func (c *Client) Balance(ctx context.Context) ([]Record, error) {
	return c.fetch(ctx, PathBalance, 0)
}

// Positions 获取当前持仓。
func (c *Client) Positions(ctx context.Context) ([]Record, error) {
	return c.fetch(ctx, PathPositions, 0)
}

// PositionsHistory 获取最近 limit 条已平仓位。
func (c *Client) PositionsHistory(ctx context.Context, limit int) ([]Record, error) {
	return c.fetch(ctx, PathPositionsHistory, limit)
}

// Fills 获取最近 limit 条成交。
func (c *Client) Fills(ctx context.Context, limit int) ([]Record, error) {
	return c.fetch(ctx, PathFills, limit)
}

func (c *Client) fetch(ctx context.Context, path string, limit int) ([]Record, error) {
	endpoint := c.baseURL + path
	if limit > 0 {
		q := url.Values{}
		q.Set("limit", strconv.Itoa(limit))
		endpoint += "?" + q.Encode()
	}

	var records []Record
	err := c.retry.call(ctx, path, func(ctx context.Context) error {
		body, err := c.get(ctx, path, endpoint)
		if err != nil {
			return err
		}
		records, err = decodeEnvelope(path, body)
		return err
	})
	if err != nil {
		return nil, err
	}

	c.logger.Debug("上游数据获取完成",
		zap.String("path", path),
		zap.Int("count", len(records)),
	)
	return records, nil
}

func (c *Client) get(ctx context.Context, path, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("exchange: 构造请求失败: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("exchange: 请求 %s 失败: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("exchange: 读取 %s 响应失败: %w", path, err)
	}
	if int64(len(body)) > c.maxBody {
		return nil, fmt.Errorf("exchange: %s 响应超过 %d 字节", path, c.maxBody)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := strings.TrimSpace(string(body))
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		return nil, &StatusError{Path: path, StatusCode: resp.StatusCode, Body: snippet}
	}

	return body, nil
}

// decodeEnvelope 解析 {code, msg, data} 信封。
// data 不是数组时视为零条记录；数组中的非对象元素保留为空记录，使条数与上游一致。
func decodeEnvelope(path string, body []byte) ([]Record, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var payload interface{}
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("exchange: 解析 %s 响应失败: %w", path, err)
	}

	envelope, ok := payload.(map[string]interface{})
	if !ok {
		return nil, nil
	}

	if code, exists := envelope["code"]; exists && code != nil {
		codeStr := strings.TrimSpace(fmt.Sprint(code))
		if codeStr != "" && codeStr != "0" {
			msg, _ := envelope["msg"].(string)
			return nil, fmt.Errorf("%w: %s code=%s msg=%s", ErrUpstream, path, codeStr, msg)
		}
	}

	items, ok := envelope["data"].([]interface{})
	if !ok {
		return nil, nil
	}

	return toRecords(items), nil
}

func toRecords(items []interface{}) []Record {
	records := make([]Record, 0, len(items))
	for _, item := range items {
		if obj, ok := item.(map[string]interface{}); ok {
			records = append(records, Record(obj))
			continue
		}
		records = append(records, Record{})
	}
	return records
}
