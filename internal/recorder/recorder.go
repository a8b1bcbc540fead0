package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"mirwatch/internal/archive"
	"mirwatch/internal/capture"
	"mirwatch/internal/framebus"
	"mirwatch/internal/metrics"
)

// Archiver はフレームを録画に回す先
type Archiver interface {
	OnFrame(frame framebus.Frame) error
}

// Recorder は映像源1つぶんの生産者ループ
type Recorder struct {
	source   capture.Source
	bus      *framebus.Bus
	archiver Archiver
	logger   *slog.Logger
	metrics  *metrics.Metrics

	frames uint64
}

// New は新しいRecorderを作成する。archiver が nil なら録画しない
func New(source capture.Source, bus *framebus.Bus, archiver Archiver, logger *slog.Logger, m *metrics.Metrics) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		source:   source,
		bus:      bus,
		archiver: archiver,
		logger:   logger,
		metrics:  m,
	}
}

// Run は映像源が終わるか ctx がキャンセルされるまでフレームを流し続ける
func (r *Recorder) Run(ctx context.Context) error {
	r.logger.Info("キャプチャを開始します")

	err := r.source.Run(ctx, func(data []byte, ts time.Time) {
		// 停止後に届いたフレームは捨てる
		if ctx.Err() != nil {
			return
		}
		r.handleFrame(data, ts)
	})

	r.logger.Info("キャプチャを終了しました", "frames", r.frames)
	if err != nil {
		return fmt.Errorf("キャプチャが異常終了しました: %w", err)
	}
	return nil
}

// handleFrame は1フレームを公開してから録画に回す
func (r *Recorder) handleFrame(data []byte, ts time.Time) {
	gen := r.bus.Publish(data, ts)
	r.metrics.FramePublished()
	r.frames++

	if r.archiver == nil {
		return
	}

	err := r.archiver.OnFrame(framebus.Frame{Data: data, Timestamp: ts})
	switch {
	case err == nil:
	case errors.Is(err, archive.ErrInvalidFrame), errors.Is(err, archive.ErrNoSession):
		r.logger.Debug("フレームを録画しませんでした", "generation", gen, "error", err)
	default:
		r.logger.Warn("フレームの録画に失敗", "generation", gen, "error", err)
	}
}
