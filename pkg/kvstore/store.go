package kvstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// ErrNotFound はキーが存在しないか有効期限切れであることを表す。
var ErrNotFound = errors.New("kvstore: キーが存在しません")

// Store はTTL付きキー・バリューストアのインターフェース。
type Store interface {
	// Get はキーに対応する値を返す。存在しない場合はErrNotFoundを返す。
	Get(ctx context.Context, key string) (string, error)
	// Set は値をttlの有効期限付きで保存する。既存の値は上書きする。
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Close は内部の接続を解放する。
	Close() error
}

// Backend はストアの実装種別。
type Backend string

const (
	// BackendSQLite はSQLiteファイルをバックエンドとする。
	BackendSQLite Backend = "sqlite"
	// BackendRedis はRedisをバックエンドとする。
	BackendRedis Backend = "redis"
)

// Config はストアの接続設定。
type Config struct {
	// Backend は使用するバックエンド。
	Backend Backend
	// SQLitePath はSQLiteデータベースファイルのパス。
	SQLitePath string
	// RedisAddr はRedisのアドレス（host:port）。
	RedisAddr string
	// RedisPassword はRedisのパスワード。
	RedisPassword string
	// RedisDB はRedisのDB番号。
	RedisDB int
}

// Open は設定に応じたストアを開く。
func Open(ctx context.Context, cfg Config, log zerolog.Logger) (Store, error) {
	switch cfg.Backend {
	case BackendSQLite, "":
		return OpenSQLite(ctx, cfg.SQLitePath, log)
	case BackendRedis:
		return OpenRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	default:
		return nil, fmt.Errorf("未対応のキャッシュバックエンドです: %q", cfg.Backend)
	}
}
