// Package main はmirwatchコマンドの実装です
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"mirwatch/internal/app"
	"mirwatch/internal/config"
)

func main() {
	// コマンドラインオプション
	var (
		host    = flag.String("host", "", "サーバーのホスト (デフォルト: 0.0.0.0)")
		port    = flag.Int("port", 0, "サーバーのポート (デフォルト: 8000)")
		input   = flag.String("input", "", "映像源のデバイス。- なら標準入力のMJPEGを読む")
		format  = flag.String("format", "", "入力フォーマット: v4l2 / x11grab / pipe")
		outDir  = flag.String("out", "", "アーカイブの保存先 (デフォルト: ./out)")
		noRec   = flag.Bool("no-archive", false, "録画しない")
		verbose = flag.Bool("verbose", false, "詳細なログを出力")
		help    = flag.Bool("help", false, "ヘルプを表示")
	)

	flag.Parse()

	// ヘルプ表示
	if *help {
		fmt.Println("mirwatch")
		fmt.Println()
		fmt.Println("使用方法:")
		fmt.Println("  mirwatch [オプション]")
		fmt.Println()
		fmt.Println("オプション:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	// 設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	// コマンドラインオプションで設定を上書き
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *input != "" {
		cfg.Capture.Device = *input
		if *input == "-" && *format == "" {
			cfg.Capture.Format = "pipe"
		}
	}
	if *format != "" {
		cfg.Capture.Format = *format
	}
	if *outDir != "" {
		cfg.Archive.Dir = *outDir
	}
	if *noRec {
		cfg.Archive.Enabled = false
	}
	if *verbose {
		cfg.Verbose = true
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("設定が不正です: %v", err)
	}

	logger := app.NewLogger(os.Stderr, cfg.Verbose)

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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// サーバーを起動
	logger.Info("mirwatch を起動します", "addr", cfg.ServerAddress(), "device", cfg.Capture.Device)
	if err := a.Run(ctx); err != nil {
		logger.Error("異常終了しました", "error", err)
		os.Exit(1)
	}
}
