package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	defaultConfigPath = "configs/config.yaml"
	envPrefix         = "tracker"
)

// Load 读取配置文件并结合环境变量返回 Config。
// 未显式指定路径且默认配置文件不存在时，仅使用默认值与环境变量。
func Load(path string) (*Config, error) {
	v := viper.New()

	explicit := path != ""
	if !explicit {
		path = defaultConfigPath
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envPrefix)
	replacer := strings.NewReplacer(".", "_")
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		switch {
		case !explicit && (errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)):
		case errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist):
			return nil, fmt.Errorf("未找到配置文件 %q: %w", path, err)
		default:
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.API.Source = strings.ToLower(strings.TrimSpace(cfg.API.Source))
	cfg.Preferences.Backend = strings.ToLower(strings.TrimSpace(cfg.Preferences.Backend))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", "development")

	v.SetDefault("api.source", SourceHTTP)
	v.SetDefault("api.base_url", "https://okx-tracker-backend.onrender.com/api")
	v.SetDefault("api.timeout", "15s")
	v.SetDefault("api.retry.max_attempts", 1)
	v.SetDefault("api.retry.min_delay", "500ms")
	v.SetDefault("api.retry.max_delay", "5s")

	v.SetDefault("exchange.api_key", "")
	v.SetDefault("exchange.api_secret", "")
	v.SetDefault("exchange.api_password", "")
	v.SetDefault("exchange.use_sandbox", false)

	v.SetDefault("reconcile.history_limit", 50)
	v.SetDefault("reconcile.fills_limit", 100)
	v.SetDefault("reconcile.fill_leverage", 5)

	v.SetDefault("account.deposit", 0)

	v.SetDefault("scheduler.refresh_interval", "120s")
	v.SetDefault("scheduler.cycle_timeout", "60s")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.websocket", true)

	v.SetDefault("preferences.backend", PreferencesSQLite)
	v.SetDefault("preferences.redis_addr", "")
	v.SetDefault("preferences.redis_db", 0)
	v.SetDefault("preferences.key_prefix", "tracker:pref:")

	v.SetDefault("database.path", "data/tracker.db")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 4)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.in_memory", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "console")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.output_paths", []string{"stdout"})
	v.SetDefault("logging.error_output_paths", []string{"stderr"})

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "okx-tracker")
	v.SetDefault("tracing.pretty_print", false)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
