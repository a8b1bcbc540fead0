package server

import (
	"time"

	"mirwatch/internal/archive"
)

// HealthResponse はヘルスチェックの応答
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// StatusResponse は稼働状態の応答
type StatusResponse struct {
	Status     string          `json:"status"`
	Generation uint64          `json:"generation"`
	LastFrame  *time.Time      `json:"last_frame,omitempty"`
	Viewers    ViewerCounts    `json:"viewers"`
	Archive    *archive.Status `json:"archive,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// ViewerCounts は経路ごとの視聴者数
type ViewerCounts struct {
	MJPEG     int64 `json:"mjpeg"`
	WebSocket int64 `json:"websocket"`
}

// ErrorResponse はエラー応答
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}
