package notification

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/luoliAsyns/Notification/internal/config"
	"github.com/luoliAsyns/Notification/pkg/kvstore"
	"github.com/luoliAsyns/Notification/pkg/middleware"
	"github.com/luoliAsyns/Notification/pkg/tokencache"
	"github.com/luoliAsyns/Notification/pkg/wecom"
)

// shutdownTimeout はグレースフルシャットダウンの待機時間。
const shutdownTimeout = 10 * time.Second

// ResponseCode は業務レスポンスの結果コード。
type ResponseCode string

const (
	// CodeSuccess は成功を表す。
	CodeSuccess ResponseCode = "Success"
	// CodeFail は失敗を表す。
	CodeFail ResponseCode = "Fail"
)

// apiResponse は通知APIの共通レスポンス。
// 署名検証での拒否は {"code": <int>, "message": ...} の別形式で返る。
type apiResponse struct {
	// Code は結果コード。
	Code ResponseCode `json:"code"`
	// Msg は結果メッセージ。
	Msg string `json:"msg"`
	// Data は上流APIのレスポンスボディ（診断用）。
	Data string `json:"data"`
}

// Server は通知リレーサービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// dispatcher は上流への送信を行う。
	dispatcher *Dispatcher
	// store はトークンキャッシュのストア。
	store kvstore.Store
	// signature は署名検証の設定。
	signature middleware.SignatureConfig
	// log は構造化ロガー。
	log zerolog.Logger
	// background は起動通知などバックグラウンドで実行中の送信。
	background sync.WaitGroup
	closeOnce  sync.Once
	closeErr   error
}

// NewServer は新しい通知リレーサーバーを生成する。
// トークンキャッシュ用のストアに接続し、上流クライアントとディスパッチャを組み立てる。
func NewServer(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Server, error) {
	store, err := kvstore.Open(ctx, cfg.StoreConfig(), log)
	if err != nil {
		return nil, fmt.Errorf("トークンキャッシュの初期化に失敗: %w", err)
	}

	client := wecom.NewClient(cfg.WeComBaseURL, cfg.WeComCorpID, cfg.WeComSecret, cfg.WeComTimeout)
	tokens := tokencache.New(store, client, cfg.TokenCacheKey, cfg.TokenCacheTTL, log)
	dispatcher := NewDispatcher(DispatcherConfig{
		Concurrency:            cfg.DispatchConcurrency,
		AcquireTimeout:         cfg.DispatchAcquireTimeout,
		AgentID:                cfg.WeComAgentID,
		DuplicateCheckInterval: cfg.WeComDuplicateCheckInterval,
	}, tokens, client, log)

	if cfg.SignBypassToken != "" {
		log.Warn().Msg("SIGN_BYPASS_TOKEN が設定されています。一致するsignは署名検証を省略して受け付けます")
	}

	s := &Server{
		router:     gin.New(),
		port:       cfg.Port,
		dispatcher: dispatcher,
		store:      store,
		signature: middleware.SignatureConfig{
			Secret:       cfg.SignSecret,
			Window:       cfg.SignWindow,
			BypassToken:  cfg.SignBypassToken,
			MaxBodyBytes: cfg.MaxBodyBytes,
		},
		log: log,
	}
	s.setupRoutes()
	return s, nil
}

// Run はHTTPサーバーを起動し、ctxがキャンセルされるとグレースフルに停止する。
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("サーバーの停止に失敗: %w", err)
	}
	return nil
}

// Close はバックグラウンドの送信の完了を待ってから、サーバーが保持する資源を解放する。
// 複数回呼び出しても安全。
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		s.background.Wait()
		if s.store != nil {
			s.closeErr = s.store.Close()
		}
	})
	return s.closeErr
}

// NotifyStartup は起動通知を全員宛てに送信する。
func (s *Server) NotifyStartup(ctx context.Context, serviceName, version string) Result {
	return s.dispatcher.Dispatch(ctx, NotifyRequest{
		MsgType: wecom.MsgTypeText,
		Content: fmt.Sprintf("%s v%s 起動しました", serviceName, version),
	})
}

// StartNotifyStartup は起動通知をバックグラウンドで送信する。
// 送信はCloseで待ち合わせる。
func (s *Server) StartNotifyStartup(ctx context.Context, serviceName, version string) {
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		res := s.NotifyStartup(ctx, serviceName, version)
		if !res.Success {
			s.log.Warn().Str("failure", string(res.Failure)).Err(res.Err).Msg("起動通知の送信に失敗")
		}
	}()
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestLogger(s.log))
	s.router.Use(middleware.Recovery(s.log))

	api := s.router.Group("/api/notification")
	api.Use(middleware.Signature(s.signature, s.log))
	{
		// 通知送信
		api.POST("/notify", s.handleNotify())
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "notification"})
	})
}

// handleNotify は通知を上流へ転送するハンドラ。
// 送信結果は成功・失敗ともにHTTP 200の共通レスポンスで返す。
func (s *Server) handleNotify() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req NotifyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, apiResponse{Code: CodeFail, Msg: fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}
		if req.MsgType == "" {
			req.MsgType = wecom.MsgTypeText
		}
		if req.MsgType != wecom.MsgTypeText {
			c.JSON(http.StatusBadRequest, apiResponse{Code: CodeFail, Msg: fmt.Sprintf("未対応のmsgTypeです: %s", req.MsgType)})
			return
		}
		if strings.TrimSpace(req.Content) == "" {
			c.JSON(http.StatusBadRequest, apiResponse{Code: CodeFail, Msg: "contentが必要です"})
			return
		}

		s.log.Info().
			Str("request_id", middleware.GetRequestID(c)).
			Str("to_user", req.ToUser).
			Int("content_length", len(req.Content)).
			Bool("trusted_caller", middleware.IsTrustedCaller(c)).
			Msg("通知リクエストを受信")

		// 呼び出し元が切断しても送信は中断しない
		res := s.dispatcher.Dispatch(context.WithoutCancel(c.Request.Context()), req)

		code := CodeSuccess
		if !res.Success {
			code = CodeFail
		}
		c.JSON(http.StatusOK, apiResponse{Code: code, Msg: res.Message, Data: res.Body})
	}
}
