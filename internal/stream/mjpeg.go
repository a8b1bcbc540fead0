package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"mirwatch/internal/framebus"
	"mirwatch/internal/metrics"
)

// Boundary は multipart の境界文字列
const Boundary = "FRAME"

// 視聴経路のラベル
const (
	TransportMJPEG     = "mjpeg"
	TransportWebSocket = "websocket"
)

// WriteHeaders はストリーム応答のヘッダーを設定する
func WriteHeaders(h http.Header) {
	h.Set("Age", "0")
	h.Set("Cache-Control", "no-cache, private")
	h.Set("Pragma", "no-cache")
	h.Set("Content-Type", "multipart/x-mixed-replace; boundary="+Boundary)
}

// WritePart は1フレームぶんの multipart パートを書き出す
func WritePart(w io.Writer, data []byte) error {
	header := "--" + Boundary + "\r\n" +
		"Content-Type: image/jpeg\r\n" +
		"Content-Length: " + strconv.Itoa(len(data)) + "\r\n" +
		"\r\n"

	if _, err := io.WriteString(w, header); err != nil {
		return fmt.Errorf("パートヘッダーの書き込みに失敗: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("フレームの書き込みに失敗: %w", err)
	}
	if _, err := io.WriteString(w, "\r\n"); err != nil {
		return fmt.Errorf("パート終端の書き込みに失敗: %w", err)
	}
	return nil
}

// Handler は /stream.mjpg の視聴セッションを扱う
type Handler struct {
	bus          *framebus.Bus
	writeTimeout time.Duration
	logger       *slog.Logger
	metrics      *metrics.Metrics
	active       atomic.Int64
}

// NewHandler は新しいHandlerを作成する。writeTimeout が0なら書き込み期限を設けない
func NewHandler(bus *framebus.Bus, writeTimeout time.Duration, logger *slog.Logger, m *metrics.Metrics) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		bus:          bus,
		writeTimeout: writeTimeout,
		logger:       logger,
		metrics:      m,
	}
}

// Active は接続中の視聴者数を返す
func (h *Handler) Active() int64 {
	return h.active.Load()
}

// ServeHTTP はバスが閉じるか、視聴者が切断するか、書き込みに失敗するまでフレームを送り続ける
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	logger := h.logger.With("session", uuid.NewString(), "remote", r.RemoteAddr)

	h.active.Add(1)
	defer h.active.Add(-1)
	disconnected := h.metrics.ViewerConnected(TransportMJPEG)
	defer disconnected()

	logger.Info("視聴者が接続しました", "transport", TransportMJPEG)

	WriteHeaders(w.Header())
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	rc := http.NewResponseController(w)

	var seen uint64
	sent := 0
	for {
		frame, gen, err := h.bus.AwaitNext(r.Context(), seen)
		if err != nil {
			logEnd(logger, err, sent)
			return
		}
		seen = gen

		if h.writeTimeout > 0 {
			// 期限を設定できない ResponseWriter では期限なしで続ける
			_ = rc.SetWriteDeadline(time.Now().Add(h.writeTimeout))
		}

		if err := WritePart(w, frame.Data); err != nil {
			logger.Info("視聴者への送信に失敗したため切断します", "error", err, "frames", sent)
			return
		}
		flusher.Flush()

		sent++
		h.metrics.PartWritten()
	}
}

// logEnd はセッション終了の理由を記録する
func logEnd(logger *slog.Logger, err error, sent int) {
	switch {
	case errors.Is(err, framebus.ErrClosed):
		logger.Info("配信を終了しました", "frames", sent)
	case errors.Is(err, context.Canceled):
		logger.Info("視聴者が切断しました", "frames", sent)
	default:
		logger.Warn("視聴セッションが異常終了しました", "error", err, "frames", sent)
	}
}
