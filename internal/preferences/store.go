package preferences

import (
	"context"
	"fmt"
	"strings"
	"sync"

	goredis "github.com/go-redis/redis/v8"

	"okx-tracker/internal/config"
	"okx-tracker/internal/store"
)

// Store 为界面偏好的键值持久化能力。
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// NewStore 按配置选择后端。sqlite 后端复用 db。
func NewStore(cfg config.PreferencesConfig, db *store.Store) (Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case config.PreferencesMemory:
		return NewMemoryStore(), nil
	case config.PreferencesSQLite:
		return NewSQLiteStore(db)
	case config.PreferencesRedis:
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPass,
			DB:       cfg.RedisDB,
		})
		return NewRedisStore(client, cfg.KeyPrefix), nil
	default:
		return nil, fmt.Errorf("preferences: 不支持的后端 %q", cfg.Backend)
	}
}

// MemoryStore 进程内实现，重启后丢失。
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStore 创建内存存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

// Get 实现 Store。
func (m *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

// Set 实现 Store。
func (m *MemoryStore) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}
