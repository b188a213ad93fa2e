// Package config は通知リレーの設定を環境変数から読み込む。
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/luoliAsyns/Notification/pkg/kvstore"
)

// Config は通知リレーサービスの設定。
type Config struct {
	// Port はHTTPサーバーのリッスンポート。
	Port string `envconfig:"PORT" default:"8086"`
	// ServiceName は起動通知やログに使用するサービス名。
	ServiceName string `envconfig:"SERVICE_NAME" default:"notification-relay"`

	// ログ
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty bool   `envconfig:"LOG_PRETTY" default:"false"`

	// 署名検証
	SignSecret      string        `envconfig:"SIGN_SECRET" required:"true"`
	SignWindow      time.Duration `envconfig:"SIGN_WINDOW" default:"300s"`
	SignBypassToken string        `envconfig:"SIGN_BYPASS_TOKEN"`
	MaxBodyBytes    int64         `envconfig:"MAX_BODY_BYTES" default:"1048576"`

	// 送信の同時実行制御
	DispatchConcurrency    int           `envconfig:"DISPATCH_CONCURRENCY" default:"10"`
	DispatchAcquireTimeout time.Duration `envconfig:"DISPATCH_ACQUIRE_TIMEOUT" default:"300ms"`

	// 上流（WeCom）
	WeComBaseURL                string        `envconfig:"WECOM_BASE_URL" default:"https://qyapi.weixin.qq.com"`
	WeComCorpID                 string        `envconfig:"WECOM_CORP_ID" required:"true"`
	WeComSecret                 string        `envconfig:"WECOM_SECRET" required:"true"`
	WeComAgentID                string        `envconfig:"WECOM_AGENT_ID" required:"true"`
	WeComDuplicateCheckInterval int           `envconfig:"WECOM_DUPLICATE_CHECK_INTERVAL" default:"600"`
	WeComTimeout                time.Duration `envconfig:"WECOM_TIMEOUT" default:"10s"`

	// トークンキャッシュ
	TokenCacheKey string        `envconfig:"TOKEN_CACHE_KEY" default:"WeComToken"`
	TokenCacheTTL time.Duration `envconfig:"TOKEN_CACHE_TTL" default:"15m"`
	CacheBackend  string        `envconfig:"CACHE_BACKEND" default:"sqlite"`
	SQLitePath    string        `envconfig:"SQLITE_PATH" default:"/data/notification.db"`
	RedisAddr     string        `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string        `envconfig:"REDIS_PASSWORD"`
	RedisDB       int           `envconfig:"REDIS_DB" default:"0"`

	// NotifyOnStartup が有効な場合、起動時に全員宛ての起動通知を送信する。
	NotifyOnStartup bool `envconfig:"NOTIFY_ON_STARTUP" default:"false"`
}

// Load は環境変数から設定を読み込み、検証する。
func Load() (*Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, fmt.Errorf("環境変数の読み込みに失敗: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate は設定値の整合性を検証する。
func (c *Config) Validate() error {
	var errs []error
	if c.SignSecret == "" {
		errs = append(errs, errors.New("SIGN_SECRET は必須です"))
	}
	if c.SignWindow <= 0 {
		errs = append(errs, errors.New("SIGN_WINDOW は正の値である必要があります"))
	}
	if c.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("MAX_BODY_BYTES は正の値である必要があります"))
	}
	if c.DispatchConcurrency <= 0 {
		errs = append(errs, errors.New("DISPATCH_CONCURRENCY は正の値である必要があります"))
	}
	if c.DispatchAcquireTimeout <= 0 {
		errs = append(errs, errors.New("DISPATCH_ACQUIRE_TIMEOUT は正の値である必要があります"))
	}
	if c.WeComCorpID == "" || c.WeComSecret == "" || c.WeComAgentID == "" {
		errs = append(errs, errors.New("WECOM_CORP_ID, WECOM_SECRET, WECOM_AGENT_ID は必須です"))
	}
	if c.TokenCacheTTL <= 0 {
		errs = append(errs, errors.New("TOKEN_CACHE_TTL は正の値である必要があります"))
	}
	switch kvstore.Backend(c.CacheBackend) {
	case kvstore.BackendSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH は必須です"))
		}
	case kvstore.BackendRedis:
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("REDIS_ADDR は必須です"))
		}
	default:
		errs = append(errs, fmt.Errorf("CACHE_BACKEND が不正です: %q", c.CacheBackend))
	}
	return errors.Join(errs...)
}

// StoreConfig はトークンキャッシュ用ストアの接続設定を返す。
func (c *Config) StoreConfig() kvstore.Config {
	return kvstore.Config{
		Backend:       kvstore.Backend(c.CacheBackend),
		SQLitePath:    c.SQLitePath,
		RedisAddr:     c.RedisAddr,
		RedisPassword: c.RedisPassword,
		RedisDB:       c.RedisDB,
	}
}
