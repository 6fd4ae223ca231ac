package preferences

import (
	"context"
	"strconv"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	KeyDarkMode          = "darkMode"
	KeyPositionsExpanded = "positionsExpanded"
	KeyHistoryExpanded   = "historyExpanded"
)

// Settings 为界面开关，未保存时全部为 true。
type Settings struct {
	DarkMode          bool `json:"darkMode"`
	PositionsExpanded bool `json:"positionsExpanded"`
	HistoryExpanded   bool `json:"historyExpanded"`
}

// Patch 为部分更新，nil 字段保持不变。
type Patch struct {
	DarkMode          *bool `json:"darkMode,omitempty"`
	PositionsExpanded *bool `json:"positionsExpanded,omitempty"`
	HistoryExpanded   *bool `json:"historyExpanded,omitempty"`
}

// Service 读写界面偏好。
type Service struct {
	store  Store
	logger *zap.Logger
}

// NewService 创建偏好服务。
func NewService(store Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, logger: logger}
}

// Load 读取当前设置。只有保存值为 "false" 时开关才关闭。
func (s *Service) Load(ctx context.Context) (Settings, error) {
	var errs error
	read := func(key string) bool {
		v, ok, err := s.store.Get(ctx, key)
		if err != nil {
			errs = multierr.Append(errs, err)
			return true
		}
		return !ok || v != "false"
	}

	settings := Settings{
		DarkMode:          read(KeyDarkMode),
		PositionsExpanded: read(KeyPositionsExpanded),
		HistoryExpanded:   read(KeyHistoryExpanded),
	}
	return settings, errs
}

// Update 写入 patch 中给出的开关并返回更新后的设置。
func (s *Service) Update(ctx context.Context, patch Patch) (Settings, error) {
	var errs error
	write := func(key string, v *bool) {
		if v == nil {
			return
		}
		if err := s.store.Set(ctx, key, strconv.FormatBool(*v)); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	write(KeyDarkMode, patch.DarkMode)
	write(KeyPositionsExpanded, patch.PositionsExpanded)
	write(KeyHistoryExpanded, patch.HistoryExpanded)
	if errs != nil {
		s.logger.Warn("保存界面偏好失败", zap.Error(errs))
		return Settings{}, errs
	}

	return s.Load(ctx)
}
