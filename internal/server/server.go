package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"mirwatch/internal/archive"
	"mirwatch/internal/config"
	"mirwatch/internal/framebus"
	"mirwatch/internal/metrics"
	"mirwatch/internal/stream"
)

// ArchiveReporter はアーカイブの状態を返す
type ArchiveReporter interface {
	Status() archive.Status
}

// Deps はサーバーが使う部品
type Deps struct {
	Bus       *framebus.Bus
	Stream    *stream.Handler
	WebSocket *stream.WSHandler
	Archive   ArchiveReporter // 録画しないときは nil
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// Server はHTTPサーバーを管理する構造体
type Server struct {
	config     *config.Config
	deps       Deps
	logger     *slog.Logger
	engine     *gin.Engine
	httpServer *http.Server

	// 接続が終わるのを待つ上限
	shutdownTimeout time.Duration

	mu       sync.Mutex
	listener net.Listener
	addr     net.Addr
	serving  bool
}

// New は新しいServerインスタンスを作成する
func New(cfg *config.Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if !cfg.Verbose {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		config: cfg,
		deps:   deps,
		logger: logger,
		engine: gin.New(),

		shutdownTimeout: 5 * time.Second,
	}
	s.engine.Use(gin.Recovery(), requestLogger(logger))
	s.setupRoutes()

	// ストリームは終わりがないので WriteTimeout は設定しない
	s.httpServer = &http.Server{
		Addr:              cfg.ServerAddress(),
		Handler:           s.engine,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
	}

	return s
}

// Handler はルーティング済みのHTTPハンドラを返す
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Addr は待ち受け中のアドレスを返す。起動前は nil
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// setupRoutes はHTTPルートを設定する
func (s *Server) setupRoutes() {
	s.engine.GET("/", func(c *gin.Context) {
		c.Redirect(http.StatusMovedPermanently, "/index.html")
	})
	s.engine.GET("/index.html", s.handleIndex)

	if s.deps.Stream != nil {
		s.engine.GET("/stream.mjpg", gin.WrapH(s.deps.Stream))
	}
	if s.deps.WebSocket != nil {
		s.engine.GET("/ws", gin.WrapH(s.deps.WebSocket))
	}

	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/api/status", s.handleStatus)

	if s.deps.Metrics != nil {
		s.engine.GET("/metrics", gin.WrapH(s.deps.Metrics.Handler()))
	}

	s.engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:     "not_found",
			Message:   "指定されたパスは存在しません",
			Timestamp: time.Now(),
		})
	})
}

// handleIndex は視聴ページを返す
func (s *Server) handleIndex(c *gin.Context) {
	page, err := indexHTML()
	if err != nil {
		s.logger.Error("視聴ページの読み込みに失敗", "error", err)
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", page)
}

// handleHealth はヘルスチェックエンドポイント
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
	})
}

// handleStatus はステータス確認エンドポイント
func (s *Server) handleStatus(c *gin.Context) {
	resp := StatusResponse{
		Status:    "running",
		Timestamp: time.Now(),
	}

	if s.deps.Bus != nil {
		if frame, gen, ok := s.deps.Bus.Latest(); ok {
			resp.Generation = gen
			resp.LastFrame = &frame.Timestamp
		}
	}
	if s.deps.Stream != nil {
		resp.Viewers.MJPEG = s.deps.Stream.Active()
	}
	if s.deps.WebSocket != nil {
		resp.Viewers.WebSocket = s.deps.WebSocket.Active()
	}
	if s.deps.Archive != nil {
		status := s.deps.Archive.Status()
		resp.Archive = &status
	}

	c.JSON(http.StatusOK, resp)
}

// Listen は待ち受けポートを確保する。確保できなければエラーを返す
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return nil
	}

	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("ポートの確保に失敗 (%s): %w", s.httpServer.Addr, err)
	}
	s.listener = listener
	s.addr = listener.Addr()
	return nil
}

// Start はポートを確保してからサーバーを起動する
func (s *Server) Start(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Serve は Listen 済みのポートで配信し、ctx のキャンセルかシグナルを受けるまでブロックする
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	listener := s.listener
	if listener == nil {
		s.mu.Unlock()
		return errors.New("サーバーは待ち受けを開始していません")
	}
	s.serving = true
	s.mu.Unlock()

	// シャットダウン用のチャンネル
	serveErr := make(chan error, 1)

	// サーバーを別ゴルーチンで起動
	go func() {
		s.logger.Info("HTTPサーバーを起動しています", "addr", listener.Addr().String())
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("サーバーの実行に失敗: %w", err)
		}
	}()

	// シグナルハンドリング
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	// コンテキストかシグナルを待つ
	select {
	case <-ctx.Done():
		s.logger.Info("コンテキストがキャンセルされました")
	case sig := <-sigCh:
		s.logger.Info("シグナルを受信しました", "signal", sig.String())
	case err := <-serveErr:
		return err
	}

	// グレースフルシャットダウン
	return s.Shutdown()
}

// Shutdown はバスを閉じて視聴セッションを終わらせ、サーバーをグレースフルにシャットダウンする。
// 期限内に終わらない接続は強制的に閉じる。
func (s *Server) Shutdown() error {
	s.logger.Info("サーバーをシャットダウンしています...")

	if s.deps.Bus != nil {
		s.deps.Bus.Close()
	}

	// Serve 前ならポートを返すだけ
	s.mu.Lock()
	listener, serving := s.listener, s.serving
	s.mu.Unlock()
	if listener != nil && !serving {
		if err := listener.Close(); err != nil {
			return fmt.Errorf("ポートの解放に失敗: %w", err)
		}
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	err := s.httpServer.Shutdown(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		// 書き込みで止まった視聴者がいる
		s.logger.Warn("期限内に終わらない接続を強制的に閉じます", "timeout", s.shutdownTimeout)
		err = s.httpServer.Close()
	}
	if err != nil {
		return fmt.Errorf("サーバーのシャットダウンに失敗: %w", err)
	}

	s.logger.Info("サーバーが正常にシャットダウンされました")
	return nil
}
