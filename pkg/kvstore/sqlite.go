package kvstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/luoliAsyns/Notification/pkg/migration"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore はSQLiteをバックエンドとするStore。
// 期限切れの行は読み取り時に無視し、書き込み時にまとめて削除する。
type SQLiteStore struct {
	db *sql.DB
	// now は現在時刻を返す。テストで差し替える。
	now func() time.Time
}

// OpenSQLite はSQLiteファイルを開き、スキーマを適用してストアを返す。
// pathに":memory:"を指定するとインメモリDBを使用する。
func OpenSQLite(ctx context.Context, path string, log zerolog.Logger) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("SQLiteのパスが指定されていません")
	}
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("データディレクトリの作成に失敗: %w", err)
		}
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	// SQLiteは同時書き込みに弱く、:memory: は接続ごとに別DBになるため1接続に固定する
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := migration.Run(ctx, db, migrationsFS, "migrations", log); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Get はキーに対応する有効期限内の値を返す。
func (s *SQLiteStore) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM kv_entries WHERE key = ? AND expires_at > ?",
		key, s.now().UnixMilli(),
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("SQLiteからの取得に失敗: %w", err)
	}
	return value, nil
}

// Set は値をttlの有効期限付きで保存する。
func (s *SQLiteStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("TTLは正の値である必要があります: %v", ttl)
	}
	now := s.now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, "DELETE FROM kv_entries WHERE expires_at <= ?", now.UnixMilli()); err != nil {
		return fmt.Errorf("期限切れエントリの削除に失敗: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO kv_entries (key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, now.Add(ttl).UnixMilli(),
	); err != nil {
		return fmt.Errorf("SQLiteへの保存に失敗: %w", err)
	}
	return tx.Commit()
}

// Close はデータベース接続を閉じる。
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
