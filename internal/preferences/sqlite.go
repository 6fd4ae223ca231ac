package preferences

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"okx-tracker/internal/store"
)

// SQLiteStore 将偏好保存在 ui_preferences 表。
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore 初始化表结构。
func NewSQLiteStore(st *store.Store) (*SQLiteStore, error) {
	if st == nil {
		return nil, fmt.Errorf("preferences: store 不能为空")
	}

	s := &SQLiteStore{db: st.DB()}
	stmt := `
CREATE TABLE IF NOT EXISTS ui_preferences (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
`
	if _, err := s.db.Exec(stmt); err != nil {
		return nil, fmt.Errorf("preferences: 初始化表失败: %w", err)
	}
	return s, nil
}

// Get 实现 Store。
func (s *SQLiteStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM ui_preferences WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("preferences: 读取 %s 失败: %w", key, err)
	}
	return value, true, nil
}

// Set 实现 Store。
func (s *SQLiteStore) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO ui_preferences (key, value, updated_at) VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("preferences: 写入 %s 失败: %w", key, err)
	}
	return nil
}
