package stream

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"mirwatch/internal/framebus"
	"mirwatch/internal/metrics"
)

const (
	wsWriteWait = 10 * time.Second
	wsCloseWait = time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WSHandler は /ws の視聴セッションを扱う。フレームを1枚ずつバイナリメッセージで送る
type WSHandler struct {
	bus          *framebus.Bus
	writeTimeout time.Duration
	logger       *slog.Logger
	metrics      *metrics.Metrics
	active       atomic.Int64
}

// NewWSHandler は新しいWSHandlerを作成する。writeTimeout が0なら10秒を使う
func NewWSHandler(bus *framebus.Bus, writeTimeout time.Duration, logger *slog.Logger, m *metrics.Metrics) *WSHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if writeTimeout <= 0 {
		writeTimeout = wsWriteWait
	}
	return &WSHandler{
		bus:          bus,
		writeTimeout: writeTimeout,
		logger:       logger,
		metrics:      m,
	}
}

// Active は接続中の視聴者数を返す
func (h *WSHandler) Active() int64 {
	return h.active.Load()
}

// ServeHTTP は接続をWebSocketへ昇格し、最新フレームを送り続ける
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade が応答を書き込み済み
		h.logger.Debug("WebSocketへの昇格に失敗", "error", err, "remote", r.RemoteAddr)
		return
	}
	defer func() {
		_ = conn.Close()
	}()

	logger := h.logger.With("session", uuid.NewString(), "remote", r.RemoteAddr)

	h.active.Add(1)
	defer h.active.Add(-1)
	disconnected := h.metrics.ViewerConnected(TransportWebSocket)
	defer disconnected()

	logger.Info("視聴者が接続しました", "transport", TransportWebSocket)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// 受信側は切断の検知だけに使う
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	var seen uint64
	sent := 0
	for {
		frame, gen, err := h.bus.AwaitNext(ctx, seen)
		if err != nil {
			logEnd(logger, err, sent)
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "stream closed")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsCloseWait))
			return
		}
		seen = gen

		_ = conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
		if err := conn.WriteMessage(websocket.BinaryMessage, frame.Data); err != nil {
			logger.Info("視聴者への送信に失敗したため切断します", "error", err, "frames", sent)
			return
		}

		sent++
		h.metrics.PartWritten()
	}
}
