// 通知リレーサービスのエントリポイント。
// 署名付きリクエストで受け取ったメッセージをWeComへ転送する。
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/luoliAsyns/Notification/internal/config"
	"github.com/luoliAsyns/Notification/internal/notification"
	"github.com/luoliAsyns/Notification/pkg/logx"
)

// version はビルド時に -ldflags "-X main.version=..." で設定する。
var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "通知リレーサービスの起動に失敗: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := logx.New(cfg.LogLevel, cfg.LogPretty, os.Stderr)
	if err != nil {
		return err
	}
	log = log.With().Str("service", cfg.ServiceName).Logger()
	gin.SetMode(gin.ReleaseMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server, err := notification.NewServer(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("通知サーバーの初期化に失敗: %w", err)
	}
	// Closeは起動通知の完了を待ってからストアを閉じる
	defer server.Close()

	if cfg.NotifyOnStartup {
		server.StartNotifyStartup(ctx, cfg.ServiceName, version)
	}

	log.Info().Str("port", cfg.Port).Str("version", version).Msg("通知リレーサービスを起動します")
	if err := server.Run(ctx); err != nil {
		return fmt.Errorf("通知リレーサービスの実行に失敗: %w", err)
	}
	log.Info().Msg("通知リレーサービスを停止しました")
	return nil
}
