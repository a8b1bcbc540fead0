package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"mirwatch/internal/app"
	"mirwatch/internal/config"
)

func main() {
	// 設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	logger := app.NewLogger(os.Stderr, cfg.Verbose)

	// 映像源を作成
	source, closeSource, err := app.NewSource(context.Background(), cfg.Capture, os.Stdin, logger)
	if err != nil {
		log.Fatalf("映像源の作成に失敗しました: %v", err)
	}
	defer func() {
		_ = closeSource()
	}()

	a, err := app.New(cfg, source, logger)
	if err != nil {
		log.Fatalf("起動に失敗しました: %v", err)
	}

	// コンテキストを作成
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// サーバーを起動
	if err := a.Run(ctx); err != nil {
		stop()
		log.Fatalf("異常終了しました: %v", err)
	}
}
