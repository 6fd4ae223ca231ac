package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"okx-tracker/internal/app"
	"okx-tracker/internal/config"
	"okx-tracker/internal/log"
	"okx-tracker/internal/snapshot"
	"okx-tracker/internal/store"
)

const (
	formatJSON = "json"
	formatYAML = "yaml"
)

func newSnapshotCmd(configPath *string) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "执行一次刷新并输出账户快照",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format = strings.ToLower(strings.TrimSpace(format))
			if format != formatJSON && format != formatYAML {
				return fmt.Errorf("不支持的输出格式 %q", format)
			}
			return runSnapshot(cmd.Context(), *configPath, format, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&format, "format", formatJSON, "输出格式：json 或 yaml")
	return cmd
}

func runSnapshot(ctx context.Context, configPath, format string, out io.Writer) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("加载配置失败: %w", err)
	}
	// 单次执行不落盘，也不启动对外服务
	cfg.Preferences.Backend = config.PreferencesMemory
	cfg.Server.Addr = ""

	// 日志写到 stderr，stdout 只保留快照
	cfg.Logging.OutputPaths = []string{"stderr"}
	logger, err := log.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	defer func(logger *zap.Logger) {
		_ = logger.Sync()
	}(logger)

	memStore, err := store.NewMemory()
	if err != nil {
		return fmt.Errorf("初始化内存数据库失败: %w", err)
	}
	defer memStore.Close()

	trackerApp, err := app.New(cfg, logger, memStore)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := trackerApp.Close(context.Background()); closeErr != nil {
			logger.Warn("释放资源失败", zap.Error(closeErr))
		}
	}()

	if ctx == nil {
		ctx = context.Background()
	}
	snap := trackerApp.RefreshOnce(ctx)
	return writeSnapshot(out, snap, format)
}

func writeSnapshot(out io.Writer, snap *snapshot.AccountSnapshot, format string) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化快照失败: %w", err)
	}

	if format == formatJSON {
		_, err = fmt.Fprintln(out, string(data))
		return err
	}

	// 经由 JSON 中转，使 YAML 字段名与接口输出一致
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("转换快照失败: %w", err)
	}
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("输出 YAML 失败: %w", err)
	}
	return enc.Close()
}
