package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
)

// Config 聚合了系统运行所需的全部配置项。
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	API         APIConfig         `mapstructure:"api"`
	Exchange    ExchangeConfig    `mapstructure:"exchange"`
	Reconcile   ReconcileConfig   `mapstructure:"reconcile"`
	Account     AccountConfig     `mapstructure:"account"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	Server      ServerConfig      `mapstructure:"server"`
	Preferences PreferencesConfig `mapstructure:"preferences"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Tracing     TracingConfig     `mapstructure:"tracing"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

const (
	// SourceHTTP 通过追踪后端的 REST 接口读取账户数据。
	SourceHTTP = "http"
	// SourceCCXT 通过 ccxt 直接访问 OKX。
	SourceCCXT = "ccxt"
)

// APIConfig 描述上游账户接口。
type APIConfig struct {
	Source  string        `mapstructure:"source"`
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
	Retry   RetryConfig   `mapstructure:"retry"`
}

// ExchangeConfig 描述直连交易所时使用的凭证。
type ExchangeConfig struct {
	APIKey     string `mapstructure:"api_key"`
	APISecret  string `mapstructure:"api_secret"`
	APIPass    string `mapstructure:"api_password"`
	UseSandbox bool   `mapstructure:"use_sandbox"`
}

// RetryConfig 统一控制重试机制。
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// ReconcileConfig 控制历史对账流水线。
type ReconcileConfig struct {
	HistoryLimit  int                 `mapstructure:"history_limit"`
	FillsLimit    int                 `mapstructure:"fills_limit"`
	FillLeverage  float64             `mapstructure:"fill_leverage"`
	HistoryFields map[string][]string `mapstructure:"history_fields"`
	FillFields    map[string][]string `mapstructure:"fill_fields"`
}

// AccountConfig 账户层面的展示参数。
type AccountConfig struct {
	Deposit float64 `mapstructure:"deposit"`
}

// SchedulerConfig 控制刷新节奏。
type SchedulerConfig struct {
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	CycleTimeout    time.Duration `mapstructure:"cycle_timeout"`
}

// ServerConfig 控制对外 HTTP 服务。
type ServerConfig struct {
	Addr      string `mapstructure:"addr"`
	WebSocket bool   `mapstructure:"websocket"`
}

const (
	PreferencesMemory = "memory"
	PreferencesSQLite = "sqlite"
	PreferencesRedis  = "redis"
)

// PreferencesConfig 描述界面偏好的持久化后端。
type PreferencesConfig struct {
	Backend   string `mapstructure:"backend"`
	RedisAddr string `mapstructure:"redis_addr"`
	RedisDB   int    `mapstructure:"redis_db"`
	RedisPass string `mapstructure:"redis_password"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// DatabaseConfig 管理数据库连接。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// TracingConfig 控制链路追踪。
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
	PrettyPrint bool   `mapstructure:"pretty_print"`
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}

	switch strings.ToLower(c.API.Source) {
	case SourceHTTP:
		if c.API.BaseURL == "" {
			err = multierr.Append(err, errors.New("api.base_url 不能为空"))
		}
	case SourceCCXT:
		if c.Exchange.APIKey == "" || c.Exchange.APISecret == "" || c.Exchange.APIPass == "" {
			err = multierr.Append(err, errors.New("ccxt 直连需要配置 exchange.api_key、api_secret 与 api_password"))
		}
	default:
		err = multierr.Append(err, fmt.Errorf("api.source 不支持 %q", c.API.Source))
	}
	if c.API.Timeout <= 0 {
		err = multierr.Append(err, errors.New("api.timeout 必须大于0"))
	}
	if c.API.Retry.MaxAttempts <= 0 {
		err = multierr.Append(err, errors.New("api.retry.max_attempts 必须大于0"))
	}
	if c.API.Retry.MinDelay <= 0 || c.API.Retry.MaxDelay <= 0 {
		err = multierr.Append(err, errors.New("api.retry.delay 必须为正"))
	}
	if c.API.Retry.MinDelay > c.API.Retry.MaxDelay {
		err = multierr.Append(err, errors.New("api.retry.min_delay 不能大于 max_delay"))
	}

	if c.Reconcile.HistoryLimit <= 0 || c.Reconcile.HistoryLimit > 100 {
		err = multierr.Append(err, errors.New("reconcile.history_limit 必须位于(0,100]"))
	}
	if c.Reconcile.FillsLimit <= 0 || c.Reconcile.FillsLimit > 100 {
		err = multierr.Append(err, errors.New("reconcile.fills_limit 必须位于(0,100]"))
	}
	if c.Reconcile.FillLeverage <= 0 {
		err = multierr.Append(err, errors.New("reconcile.fill_leverage 必须大于0"))
	}
	if c.Account.Deposit < 0 {
		err = multierr.Append(err, errors.New("account.deposit 不能为负"))
	}

	if c.Scheduler.RefreshInterval <= 0 {
		err = multierr.Append(err, errors.New("scheduler.refresh_interval 必须大于0"))
	}
	if c.Scheduler.CycleTimeout <= 0 {
		err = multierr.Append(err, errors.New("scheduler.cycle_timeout 必须大于0"))
	}

	switch strings.ToLower(c.Preferences.Backend) {
	case PreferencesMemory, PreferencesSQLite:
	case PreferencesRedis:
		if c.Preferences.RedisAddr == "" {
			err = multierr.Append(err, errors.New("preferences.redis_addr 不能为空"))
		}
	default:
		err = multierr.Append(err, fmt.Errorf("preferences.backend 不支持 %q", c.Preferences.Backend))
	}

	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
	}
	if c.Database.ConnMaxLifetime < 0 {
		err = multierr.Append(err, errors.New("database.conn_max_lifetime 不能为负"))
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}
