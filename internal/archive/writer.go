package archive

import (
	"bytes"
	"errors"
	"fmt"
	"image/jpeg"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"mirwatch/internal/framebus"
	"mirwatch/internal/metrics"
)

var (
	// ErrNoSession は開いているアーカイブファイルが無いことを表す
	ErrNoSession = errors.New("archive: no open session")
	// ErrInvalidFrame はJPEGとして解釈できないフレームを表す
	ErrInvalidFrame = errors.New("archive: invalid frame")
	// ErrWriterClosed は Close 済みの Writer への操作を表す
	ErrWriterClosed = errors.New("archive: writer closed")
)

// Session は現在書き込み中のアーカイブファイル
type Session struct {
	Path     string    `json:"path"`
	OpenedAt time.Time `json:"opened_at"`
	Frames   int       `json:"frames"`
}

// Writer は開いているアーカイブファイルを排他的に所有する
type Writer struct {
	mu         sync.Mutex
	newEncoder EncoderFactory
	retention  *Retention
	now        func() time.Time
	logger     *slog.Logger
	metrics    *metrics.Metrics

	encoder Encoder
	session *Session
	closed  bool
}

// NewWriter は新しいWriterを作成する。retention は nil でもよい
func NewWriter(factory EncoderFactory, retention *Retention, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		newEncoder: factory,
		retention:  retention,
		now:        time.Now,
		logger:     logger,
	}
}

// SetClock は時刻の取得元を差し替える
func (w *Writer) SetClock(now func() time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.now = now
}

// SetMetrics はメトリクスの記録先を設定する
func (w *Writer) SetMetrics(m *metrics.Metrics) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.metrics = m
}

// Append は現在のファイルにフレームを書き込む
func (w *Writer) Append(frame framebus.Frame) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.encoder == nil {
		w.metrics.ArchiveFrame(metrics.ResultNoFile)
		return ErrNoSession
	}

	// 壊れたフレームはアーカイブにだけ載せない
	if _, err := jpeg.DecodeConfig(bytes.NewReader(frame.Data)); err != nil {
		w.metrics.ArchiveFrame(metrics.ResultInvalid)
		return fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}

	if err := w.encoder.AddFrame(frame.Data); err != nil {
		w.metrics.ArchiveFrame(metrics.ResultError)
		return fmt.Errorf("フレームの書き込みに失敗 (%s): %w", w.session.Path, err)
	}

	w.session.Frames++
	w.metrics.ArchiveFrame(metrics.ResultWritten)
	return nil
}

// Rotate は現在のファイルを閉じ、newPath に新しいファイルを開く。
// 保持数の整理は古いファイルを閉じた後、新しいファイルを作る前に行う。
// 開けなかった場合、Writer はファイルを持たない状態になる。
func (w *Writer) Rotate(newPath string) (Session, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return Session{}, ErrWriterClosed
	}

	if err := w.closeLocked(); err != nil {
		w.logger.Warn("アーカイブファイルのクローズに失敗", "error", err)
	}

	if w.retention != nil {
		w.retention.Enforce()
	}

	enc, err := w.newEncoder(newPath)
	w.metrics.Rotation(err)
	if err != nil {
		return Session{}, fmt.Errorf("アーカイブファイルを開けません: %w", err)
	}

	w.encoder = enc
	w.session = &Session{Path: newPath, OpenedAt: w.now()}
	if w.retention != nil {
		w.retention.Track(filepath.Base(newPath))
	}

	w.logger.Info("アーカイブファイルを開きました", "path", newPath)
	return *w.session, nil
}

// Current は現在のセッションを返す
func (w *Writer) Current() (Session, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.session == nil {
		return Session{}, false
	}
	return *w.session, true
}

// Close は現在のファイルをフラッシュして閉じる。以後の Rotate は失敗する
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return w.closeLocked()
}

// closeLocked は現在のファイルを閉じる（ロック済み前提）
func (w *Writer) closeLocked() error {
	if w.encoder == nil {
		return nil
	}

	session := *w.session
	err := w.encoder.Close()
	w.encoder = nil
	w.session = nil

	// 空のファイルは残さない
	if session.Frames == 0 {
		if rmErr := os.Remove(session.Path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			w.logger.Warn("空のアーカイブファイルの削除に失敗", "path", session.Path, "error", rmErr)
		}
		if w.retention != nil {
			w.retention.Forget(filepath.Base(session.Path))
		}
	}

	if err != nil {
		return fmt.Errorf("%s のクローズに失敗: %w", session.Path, err)
	}

	w.logger.Info("アーカイブファイルを閉じました", "path", session.Path, "frames", session.Frames)
	return nil
}
