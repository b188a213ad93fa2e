package tokencache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"

	"github.com/luoliAsyns/Notification/pkg/kvstore"
)

// stubFetcher は呼び出し回数を数えるFetcher。
type stubFetcher struct {
	calls     atomic.Int32
	token     string
	expiresIn time.Duration
	err       error
	// block が設定されている場合、閉じられるまで応答を待つ。
	block chan struct{}
}

func (f *stubFetcher) FetchToken(_ context.Context) (string, time.Duration, error) {
	f.calls.Add(1)
	if f.block != nil {
		<-f.block
	}
	return f.token, f.expiresIn, f.err
}

// failingStore は常にエラーを返すストア。
type failingStore struct{}

func (failingStore) Get(context.Context, string) (string, error) {
	return "", errors.New("connection refused")
}

func (failingStore) Set(context.Context, string, string, time.Duration) error {
	return errors.New("connection refused")
}

func (failingStore) Close() error { return nil }

// newRedisBackedCache はminiredisをストアとするキャッシュを生成する。
func newRedisBackedCache(t *testing.T, f Fetcher) (*Cache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	store, err := kvstore.OpenRedis(context.Background(), mr.Addr(), "", 0)
	if err != nil {
		t.Fatalf("OpenRedis()でエラーが発生: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return New(store, f, "", 0, zerolog.Nop()), mr
}

// TestGetToken はGetToken関数を検証する。
func TestGetToken(t *testing.T) {
	t.Parallel()

	t.Run("キャッシュ済みトークンはTTL内なら再取得せず再利用されること", func(t *testing.T) {
		t.Parallel()

		f := &stubFetcher{token: "tok-1"}
		c, mr := newRedisBackedCache(t, f)
		ctx := context.Background()

		for i := 0; i < 3; i++ {
			got, err := c.GetToken(ctx)
			if err != nil {
				t.Fatalf("GetToken()でエラーが発生: %v", err)
			}
			if got != "tok-1" {
				t.Errorf("GetToken() = %q, want %q", got, "tok-1")
			}
		}
		if n := f.calls.Load(); n != 1 {
			t.Errorf("取得回数 = %d, want 1", n)
		}
		if ttl := mr.TTL(DefaultKey); ttl != DefaultTTL {
			t.Errorf("TTL = %v, want %v", ttl, DefaultTTL)
		}
	})

	t.Run("TTL経過後の次のアクセスで1回だけ再取得されること", func(t *testing.T) {
		t.Parallel()

		f := &stubFetcher{token: "tok-1"}
		c, mr := newRedisBackedCache(t, f)
		ctx := context.Background()

		if _, err := c.GetToken(ctx); err != nil {
			t.Fatalf("GetToken()でエラーが発生: %v", err)
		}
		mr.FastForward(DefaultTTL)
		f.token = "tok-2"

		got, err := c.GetToken(ctx)
		if err != nil {
			t.Fatalf("GetToken()でエラーが発生: %v", err)
		}
		if got != "tok-2" {
			t.Errorf("GetToken() = %q, want %q", got, "tok-2")
		}
		if _, err := c.GetToken(ctx); err != nil {
			t.Fatalf("GetToken()でエラーが発生: %v", err)
		}
		if n := f.calls.Load(); n != 2 {
			t.Errorf("取得回数 = %d, want 2", n)
		}
	})

	t.Run("空のトークンはErrTokenUnavailableとなりキャッシュされないこと", func(t *testing.T) {
		t.Parallel()

		f := &stubFetcher{token: ""}
		c, mr := newRedisBackedCache(t, f)

		if _, err := c.GetToken(context.Background()); !errors.Is(err, ErrTokenUnavailable) {
			t.Errorf("GetToken() error = %v, want ErrTokenUnavailable", err)
		}
		if mr.Exists(DefaultKey) {
			t.Error("空のトークンがキャッシュされた")
		}
	})

	t.Run("取得失敗はキャッシュされず次の呼び出しで再取得されること", func(t *testing.T) {
		t.Parallel()

		fetchErr := errors.New("network down")
		f := &stubFetcher{err: fetchErr}
		c, _ := newRedisBackedCache(t, f)
		ctx := context.Background()

		_, err := c.GetToken(ctx)
		if !errors.Is(err, ErrTokenUnavailable) {
			t.Errorf("GetToken() error = %v, want ErrTokenUnavailable", err)
		}
		if !errors.Is(err, fetchErr) {
			t.Errorf("GetToken() error = %v, want 原因エラーを含む", err)
		}

		f.err = nil
		f.token = "tok-ok"
		got, err := c.GetToken(ctx)
		if err != nil {
			t.Fatalf("GetToken()でエラーが発生: %v", err)
		}
		if got != "tok-ok" {
			t.Errorf("GetToken() = %q, want %q", got, "tok-ok")
		}
		if n := f.calls.Load(); n != 2 {
			t.Errorf("取得回数 = %d, want 2", n)
		}
	})

	t.Run("ストア障害時も上流から取得したトークンが返ること", func(t *testing.T) {
		t.Parallel()

		f := &stubFetcher{token: "tok-direct"}
		c := New(failingStore{}, f, "k", time.Minute, zerolog.Nop())

		got, err := c.GetToken(context.Background())
		if err != nil {
			t.Fatalf("GetToken()でエラーが発生: %v", err)
		}
		if got != "tok-direct" {
			t.Errorf("GetToken() = %q, want %q", got, "tok-direct")
		}
	})

	t.Run("同時のキャッシュミスは1回の取得にまとめられること", func(t *testing.T) {
		t.Parallel()

		f := &stubFetcher{token: "tok-shared", block: make(chan struct{})}
		c, _ := newRedisBackedCache(t, f)

		const callers = 8
		var wg sync.WaitGroup
		results := make([]string, callers)
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i], _ = c.GetToken(context.Background())
			}(i)
		}

		// 最初の取得が開始されるまで待ってから解放する
		deadline := time.Now().Add(2 * time.Second)
		for f.calls.Load() == 0 && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
		time.Sleep(20 * time.Millisecond)
		close(f.block)
		wg.Wait()

		for i, r := range results {
			if r != "tok-shared" {
				t.Errorf("results[%d] = %q, want %q", i, r, "tok-shared")
			}
		}
		// 取得開始後に到着した呼び出しはキャッシュまたは進行中の取得を共有する
		if n := f.calls.Load(); n > 2 {
			t.Errorf("取得回数 = %d, want <= 2", n)
		}
	})
}

// TestGetToken_UpstreamExpiry はキャッシュのTTLが上流トークンの有効期間を超えないことを検証する。
func TestGetToken_UpstreamExpiry(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		ttl       time.Duration
		expiresIn time.Duration
		want      time.Duration
	}{
		{name: "有効期間が十分長い場合は設定のTTL", ttl: 15 * time.Minute, expiresIn: 2 * time.Hour, want: 15 * time.Minute},
		{name: "有効期間が不明な場合は設定のTTL", ttl: 15 * time.Minute, expiresIn: 0, want: 15 * time.Minute},
		{name: "設定のTTLが有効期間より長い場合は余裕を差し引いた値", ttl: 3 * time.Hour, expiresIn: 2 * time.Hour, want: 2*time.Hour - ExpiryMargin},
		{name: "有効期間が余裕以下の場合はその半分", ttl: 15 * time.Minute, expiresIn: 4 * time.Minute, want: 2 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			mr := miniredis.RunT(t)
			store, err := kvstore.OpenRedis(context.Background(), mr.Addr(), "", 0)
			if err != nil {
				t.Fatalf("OpenRedis()でエラーが発生: %v", err)
			}
			t.Cleanup(func() { store.Close() })

			f := &stubFetcher{token: "tok", expiresIn: tt.expiresIn}
			c := New(store, f, "", tt.ttl, zerolog.Nop())
			if _, err := c.GetToken(context.Background()); err != nil {
				t.Fatalf("GetToken()でエラーが発生: %v", err)
			}
			if got := mr.TTL(DefaultKey); got != tt.want {
				t.Errorf("TTL = %v, want %v", got, tt.want)
			}
		})
	}
}
