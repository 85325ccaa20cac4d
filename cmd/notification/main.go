// 通知サービスのエントリポイント。
// 記事ルームへのコメント配信とユーザーへの通知配信をWebSocketで行い、
// 通知の保存と既読管理のREST APIを提供する。
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/nao1215/livefeed/internal/app"
	"github.com/nao1215/livefeed/internal/config"
	"github.com/nao1215/livefeed/pkg/logging"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("通知サービスが異常終了しました: %v", err)
	}
}

func run() error {
	cfg, err := config.Load(os.Getenv)
	if err != nil {
		return err
	}
	logger := logging.New(cfg.Log.Level, logging.Format(cfg.Log.Format))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error().Err(err).Msg("リソースの解放に失敗")
		}
	}()

	return a.Run(ctx)
}
