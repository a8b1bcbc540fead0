package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"mirwatch/internal/archive"
	"mirwatch/internal/capture"
	"mirwatch/internal/config"
	"mirwatch/internal/framebus"
	"mirwatch/internal/metrics"
	"mirwatch/internal/recorder"
	"mirwatch/internal/server"
	"mirwatch/internal/stream"
)

// ArchiveExt はアーカイブファイルの拡張子
const ArchiveExt = ".avi"

// キャプチャの停止を待つ上限
const stopTimeout = 5 * time.Second

// App は1台の映像源ぶんの配信と録画をまとめたもの
type App struct {
	config  *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	bus     *framebus.Bus
	source  capture.Source

	retention *archive.Retention
	scheduler *archive.Scheduler
}

// NewLogger は verbose に応じたレベルのロガーを作成する
func NewLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// NewSource は設定に合った映像源を作成する。
// 戻り値の close はプログラム終了時に呼ぶ。
func NewSource(ctx context.Context, cfg config.CaptureConfig, stdin io.Reader, logger *slog.Logger) (capture.Source, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Format {
	case "pipe":
		if cfg.Device == "-" {
			return capture.NewReaderSource(stdin), noop, nil
		}
		f, err := os.Open(cfg.Device)
		if err != nil {
			return nil, noop, fmt.Errorf("入力ファイルを開けません: %w", err)
		}
		return capture.NewReaderSource(f), f.Close, nil

	case string(capture.InputV4L2), string(capture.InputX11):
		device := cfg.Device
		if cfg.Format == string(capture.InputV4L2) && device == capture.DeviceAuto {
			found, err := capture.NewDiscovery().First(ctx)
			if err != nil {
				return nil, noop, fmt.Errorf("カメラデバイスの検出に失敗: %w", err)
			}
			if logger != nil {
				logger.Info("カメラデバイスを検出しました", "device", found)
			}
			device = found
		}
		return capture.NewFFmpegSource(capture.Settings{
			Format:   capture.InputFormat(cfg.Format),
			Device:   device,
			Width:    cfg.Width,
			Height:   cfg.Height,
			FPS:      cfg.FPS,
			Rotation: cfg.Rotation,
		}, logger), noop, nil
	}

	return nil, noop, fmt.Errorf("未対応の入力フォーマット: %q", cfg.Format)
}

// New は App を組み立てる。録画が有効なら保存先を用意して既存ファイルの一覧を読む。
// ファイルの作成や削除は Run で待ち受けと映像源の確認が済んでから行う。
func New(cfg *config.Config, source capture.Source, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	a := &App{
		config:  cfg,
		logger:  logger,
		metrics: metrics.New(),
		bus:     framebus.New(),
		source:  source,
	}

	if !cfg.Archive.Enabled {
		logger.Info("録画は無効です")
		return a, nil
	}

	if err := os.MkdirAll(cfg.Archive.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("アーカイブディレクトリの作成に失敗: %w", err)
	}

	a.retention = archive.NewRetention(cfg.Archive.Dir, ArchiveExt, cfg.Archive.MaxFiles, logger)
	a.retention.SetMetrics(a.metrics)
	if err := a.retention.Load(); err != nil {
		return nil, err
	}

	factory := archive.MJPEGFactory(cfg.Capture.Width, cfg.Capture.Height, cfg.Capture.FPS)
	writer := archive.NewWriter(factory, a.retention, logger)
	writer.SetMetrics(a.metrics)

	a.scheduler = archive.NewScheduler(writer, cfg.Archive.Dir, ArchiveExt, cfg.Archive.RotationInterval, logger)
	return a, nil
}

// Run は映像源を確認し、キャプチャとHTTPサーバーを動かす。
// 映像源が終わるか ctx がキャンセルされるまでブロックする。
func (a *App) Run(ctx context.Context) (err error) {
	defer func() {
		if closeErr := a.closeArchive(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	// 取り消せない処理の前にポートを確保する
	srv := server.New(a.config, a.deps())
	if err := srv.Listen(); err != nil {
		return err
	}

	if err := a.source.Probe(ctx); err != nil {
		a.abort(srv)
		return fmt.Errorf("映像源のテストに失敗: %w", err)
	}

	if a.scheduler != nil {
		if err := a.scheduler.Start(); err != nil {
			a.abort(srv)
			return err
		}
		a.logger.Info("録画を開始しました",
			"dir", a.config.Archive.Dir,
			"rotation_interval", a.config.Archive.RotationInterval,
			"max_files", a.config.Archive.MaxFiles,
		)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup

	if a.retention != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.retention.Watch(runCtx); err != nil {
				a.logger.Warn("アーカイブディレクトリの監視を開始できません", "error", err)
			}
		}()
	}

	var archiver recorder.Archiver
	if a.scheduler != nil {
		archiver = a.scheduler
	}
	rec := recorder.New(a.source, a.bus, archiver, a.logger, a.metrics)

	captureErr := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		// 映像源が終わったら全体を止める
		defer cancel()
		captureErr <- rec.Run(runCtx)
	}()

	serveErr := srv.Serve(runCtx)

	cancel()
	a.bus.Close()
	if !waitTimeout(&wg, stopTimeout) {
		// 標準入力の読み取りは ctx で中断できない
		a.logger.Warn("キャプチャの停止を待ちきれませんでした", "timeout", stopTimeout)
	}

	if serveErr != nil {
		return serveErr
	}
	select {
	case err := <-captureErr:
		return err
	default:
		return nil
	}
}

// abort は起動途中で確保したポートを解放する
func (a *App) abort(srv *server.Server) {
	if err := srv.Shutdown(); err != nil {
		a.logger.Warn("起動中止時の後始末に失敗", "error", err)
	}
}

// waitTimeout は wg を最大 d だけ待ち、待ち終えたら true を返す
func waitTimeout(wg *sync.WaitGroup, d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}

// deps はHTTPサーバーに渡す部品をまとめる
func (a *App) deps() server.Deps {
	timeout := a.config.Server.StreamWriteTimeout
	deps := server.Deps{
		Bus:       a.bus,
		Stream:    stream.NewHandler(a.bus, timeout, a.logger, a.metrics),
		WebSocket: stream.NewWSHandler(a.bus, timeout, a.logger, a.metrics),
		Metrics:   a.metrics,
		Logger:    a.logger,
	}
	if a.scheduler != nil {
		deps.Archive = a.scheduler
	}
	return deps
}

// closeArchive は書き込み中のファイルを閉じる
func (a *App) closeArchive() error {
	if a.scheduler == nil {
		return nil
	}
	if err := a.scheduler.Close(); err != nil {
		return fmt.Errorf("アーカイブの終了処理に失敗: %w", err)
	}
	return nil
}
