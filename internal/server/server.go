package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"sensorstream/internal/codec"
	"sensorstream/internal/config"
	"sensorstream/internal/sensor"
	"sensorstream/internal/stream"
)

// Server はHTTPサーバーを管理する構造体
type Server struct {
	config     *config.Config
	manager    *stream.Manager
	discovery  sensor.Discovery
	encoder    codec.Encoder
	logger     *slog.Logger
	engine     *gin.Engine
	httpServer *http.Server

	// プレビュー用JPEGのキャッシュ（同じフレームを視聴者ごとにエンコードしない）
	previewMu   sync.Mutex
	previewID   string
	previewJPEG []byte
}

// Option はServerの設定関数
type Option func(*Server)

// WithDiscovery はデバイス一覧に使うDiscoveryを設定する
func WithDiscovery(d sensor.Discovery) Option {
	return func(s *Server) { s.discovery = d }
}

// WithEncoder はレスポンス用のエンコーダーを設定する
func WithEncoder(e codec.Encoder) Option {
	return func(s *Server) { s.encoder = e }
}

// WithLogger はロガーを設定する
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New は新しいServerインスタンスを作成する
func New(cfg *config.Config, manager *stream.Manager, opts ...Option) *Server {
	s := &Server{
		config:  cfg,
		manager: manager,
		encoder: codec.NewImageEncoder(cfg.Stream.JPEGQuality),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if gin.Mode() != gin.TestMode {
		gin.SetMode(gin.ReleaseMode)
	}
	s.engine = gin.New()
	s.engine.Use(gin.Recovery(), requestLogger(s.logger))
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         cfg.ServerAddress(),
		Handler:      s.engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return s
}

// Handler はルーティング済みのハンドラーを返す
func (s *Server) Handler() http.Handler {
	return s.engine
}

// setupRoutes はHTTPルートを設定する
func (s *Server) setupRoutes() {
	s.engine.GET("/", s.handleRoot)
	s.engine.GET("/health", s.handleHealth)

	api := s.engine.Group("/api")
	{
		api.GET("/status", s.handleStatus)
		api.GET("/devices", s.handleDevices)

		api.POST("/stream/start", s.handleStart)
		api.POST("/stream/stop", s.handleStop)

		api.GET("/frame", s.handleFrame)
		api.GET("/frame.jpg", s.handleFrameJPEG)
		api.POST("/capture", s.handleCapture)

		api.GET("/stream.mjpeg", s.handleMJPEG)
		api.GET("/ws", s.handleWebSocket)
	}
}

// requestLogger はリクエストをslogで記録するミドルウェア
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("HTTPリクエスト",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

// Start はサーバーを起動する
func (s *Server) Start(ctx context.Context) error {
	// シャットダウン用のチャンネル
	shutdownCh := make(chan error, 1)

	// サーバーを別ゴルーチンで起動
	go func() {
		s.logger.Info("HTTPサーバーを起動しています", "addr", s.config.ServerAddress())
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			shutdownCh <- fmt.Errorf("サーバーの起動に失敗: %w", err)
		}
	}()

	// シグナルハンドリング
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-ctx.Done():
		s.logger.Info("コンテキストがキャンセルされました")
	case sig := <-sigCh:
		s.logger.Info("シグナルを受信しました", "signal", sig.String())
	case err := <-shutdownCh:
		return err
	}

	return s.Shutdown()
}

// Shutdown はサーバーをグレースフルにシャットダウンする
// ストリームの停止は呼び出し元が行う
func (s *Server) Shutdown() error {
	s.logger.Info("サーバーをシャットダウンしています")

	timeout := s.config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("サーバーのシャットダウンに失敗: %w", err)
	}

	s.logger.Info("サーバーが正常にシャットダウンされました")
	return nil
}

// frameInterval はプレビュー配信のポーリング間隔
func (s *Server) frameInterval() time.Duration {
	fps := s.manager.Spec().FrameRate
	if fps <= 0 {
		fps = 30
	}
	return time.Second / time.Duration(fps)
}

// latestPreview は最新の正常フレームとそのJPEGを返す
// 正常フレームが無ければ nil を返す
func (s *Server) latestPreview() (*stream.Frame, []byte, error) {
	frame := s.manager.Preview()
	if frame == nil || !frame.Valid() {
		return nil, nil, nil
	}

	s.previewMu.Lock()
	defer s.previewMu.Unlock()

	if s.previewID == frame.ID {
		return frame, s.previewJPEG, nil
	}

	data, err := s.encoder.EncodeColor(frame.Color)
	if err != nil {
		return nil, nil, fmt.Errorf("プレビューのエンコードに失敗: %w", err)
	}
	s.previewID = frame.ID
	s.previewJPEG = data
	return frame, data, nil
}
