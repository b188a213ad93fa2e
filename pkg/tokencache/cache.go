// Package tokencache は上流プロバイダーの短命なアクセストークンをキャッシュする。
//
// トークンはTTL付きの外部ストア（kvstore）に保存し、存在しないか
// 有効期限切れの場合のみ上流から再取得する。キャッシュのTTLは上流トークンの
// 実際の寿命より短く設定し、上流側の失効を待たずに更新する。
package tokencache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/luoliAsyns/Notification/pkg/kvstore"
)

const (
	// DefaultKey はトークンを保存するキャッシュキー。
	DefaultKey = "WeComToken"
	// DefaultTTL はキャッシュの有効期限。上流トークン（2時間）より短い。
	DefaultTTL = 15 * time.Minute
	// ExpiryMargin は上流トークンの有効期間から差し引く余裕。
	ExpiryMargin = 5 * time.Minute
)

// ErrTokenUnavailable はトークンを取得できなかったことを表す。
var ErrTokenUnavailable = errors.New("トークンを取得できません")

// Fetcher は上流からトークンを取得する。
// expiresInはトークンの有効期間で、不明な場合は0を返す。
type Fetcher interface {
	FetchToken(ctx context.Context) (token string, expiresIn time.Duration, err error)
}

// Cache はアクセストークンのキャッシュ。
type Cache struct {
	store   kvstore.Store
	fetcher Fetcher
	key     string
	ttl     time.Duration
	log     zerolog.Logger
	group   singleflight.Group
}

// New は新しいトークンキャッシュを生成する。
// keyが空の場合はDefaultKey、ttlが0以下の場合はDefaultTTLを使用する。
func New(store kvstore.Store, fetcher Fetcher, key string, ttl time.Duration, log zerolog.Logger) *Cache {
	if key == "" {
		key = DefaultKey
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		store:   store,
		fetcher: fetcher,
		key:     key,
		ttl:     ttl,
		log:     log.With().Str("component", "tokencache").Logger(),
	}
}

// GetToken は有効なアクセストークンを返す。
// キャッシュにあればそれを返し、無ければ上流から取得してキャッシュする。
// 取得失敗はキャッシュしないため、次の呼び出しで再取得を試みる。
func (c *Cache) GetToken(ctx context.Context) (string, error) {
	token, err := c.store.Get(ctx, c.key)
	switch {
	case err == nil && token != "":
		return token, nil
	case err != nil && !errors.Is(err, kvstore.ErrNotFound):
		// ストア障害時は上流から直接取得して処理を継続する
		c.log.Warn().Err(err).Msg("キャッシュからのトークン取得に失敗")
	}

	// 同時にキャッシュミスした呼び出しは1回の取得にまとめる
	v, err, _ := c.group.Do(c.key, func() (any, error) {
		return c.refresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// refresh は上流からトークンを取得してキャッシュに保存する。
func (c *Cache) refresh(ctx context.Context) (string, error) {
	token, expiresIn, err := c.fetcher.FetchToken(ctx)
	if err != nil {
		c.log.Error().Err(err).Msg("上流からのトークン取得に失敗")
		return "", fmt.Errorf("%w: %w", ErrTokenUnavailable, err)
	}
	if token == "" {
		c.log.Error().Msg("上流から空のトークンが返された")
		return "", ErrTokenUnavailable
	}

	ttl := cacheTTL(c.ttl, expiresIn)
	if err := c.store.Set(ctx, c.key, token, ttl); err != nil {
		c.log.Warn().Err(err).Msg("トークンのキャッシュ保存に失敗")
	} else {
		c.log.Info().Dur("ttl", ttl).Dur("expires_in", expiresIn).Msg("上流からトークンを取得しキャッシュしました")
	}
	return token, nil
}

// cacheTTL は設定のTTLを上流トークンの有効期間で制限した値を返す。
// 有効期間がExpiryMargin以下の場合はその半分とする。
func cacheTTL(ttl, expiresIn time.Duration) time.Duration {
	if expiresIn <= 0 {
		return ttl
	}
	limit := expiresIn - ExpiryMargin
	if limit <= 0 {
		limit = expiresIn / 2
	}
	return min(ttl, limit)
}
