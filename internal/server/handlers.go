package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"sensorstream/internal/sensor"
	"sensorstream/internal/stream"
)

// maxFrameTimeout は /api/frame の timeout_ms の上限
const maxFrameTimeout = 30 * time.Second

// handleHealth はヘルスチェックエンドポイント
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// handleStatus はストリームの状態と統計を返す
func (s *Server) handleStatus(c *gin.Context) {
	info := s.manager.Source()
	spec := s.manager.Spec()

	channels := make([]string, 0, len(spec.Channels))
	for _, ch := range spec.Channels {
		channels = append(channels, string(ch))
	}

	c.JSON(http.StatusOK, gin.H{
		"stream": s.manager.Stats(),
		"source": gin.H{
			"type":        info.Type,
			"name":        info.Name,
			"device":      info.Device,
			"driver":      info.Driver,
			"description": info.Description,
		},
		"spec": gin.H{
			"resolution": spec.Resolution.String(),
			"fps":        spec.FrameRate,
			"channels":   channels,
		},
		"server": gin.H{
			"host": s.config.Server.Host,
			"port": s.config.Server.Port,
		},
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// handleDevices は検出されたデバイスの一覧を返す
func (s *Server) handleDevices(c *gin.Context) {
	if s.discovery == nil {
		c.JSON(http.StatusOK, gin.H{"devices": []any{}})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	devices, err := s.discovery.ScanDevices(ctx)
	if err != nil {
		s.errorResponse(c, http.StatusInternalServerError, "scan_failed", err)
		return
	}

	infos := make([]*sensor.DeviceInfo, 0, len(devices))
	for _, device := range devices {
		info, err := s.discovery.GetDeviceInfo(ctx, device)
		if err != nil {
			s.logger.Warn("デバイス情報の取得に失敗", "device", device, "error", err)
			continue
		}
		infos = append(infos, info)
	}

	c.JSON(http.StatusOK, gin.H{"devices": infos})
}

// handleStart はストリームを開始する
func (s *Server) handleStart(c *gin.Context) {
	if err := s.manager.Start(c.Request.Context()); err != nil {
		s.errorResponse(c, startErrorStatus(err), "start_failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": s.manager.State()})
}

// handleStop はストリームを停止する
func (s *Server) handleStop(c *gin.Context) {
	if err := s.manager.Stop(c.Request.Context()); err != nil {
		s.errorResponse(c, http.StatusInternalServerError, "stop_failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": s.manager.State()})
}

// handleFrame は最新フレームを消費してJSONで返す
// クエリ: store=true で永続化、timeout_ms で待機時間を指定
func (s *Server) handleFrame(c *gin.Context) {
	store, _ := strconv.ParseBool(c.DefaultQuery("store", "false"))

	timeout := s.config.Stream.CaptureTimeout
	if v := c.Query("timeout_ms"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms < 0 {
			s.errorResponse(c, http.StatusBadRequest, "invalid_timeout", errors.New("timeout_ms は0以上の整数で指定してください"))
			return
		}
		timeout = min(time.Duration(ms)*time.Millisecond, maxFrameTimeout)
	}

	frame, err := s.manager.GetFrame(c.Request.Context(), store, timeout)
	if err != nil {
		switch {
		case errors.Is(err, stream.ErrNoFrame), errors.Is(err, stream.ErrStopped):
			c.JSON(http.StatusOK, emptyView(err))
		case errors.Is(err, stream.ErrNotRunning):
			c.JSON(http.StatusConflict, emptyView(err))
		default:
			c.JSON(http.StatusServiceUnavailable, emptyView(err))
		}
		return
	}

	s.writeFrame(c, frame)
}

// handleCapture はストリームを必要に応じて開始して1フレーム取得する
func (s *Server) handleCapture(c *gin.Context) {
	frame, err := s.manager.CaptureOnce(c.Request.Context())
	if err != nil {
		switch {
		case errors.Is(err, stream.ErrNoFrame), errors.Is(err, stream.ErrStopped):
			c.JSON(http.StatusOK, emptyView(err))
		default:
			c.JSON(startErrorStatus(err), emptyView(err))
		}
		return
	}

	s.writeFrame(c, frame)
}

// handleFrameJPEG は最新プレビューをJPEGで返す
func (s *Server) handleFrameJPEG(c *gin.Context) {
	_, data, err := s.latestPreview()
	if err != nil {
		s.errorResponse(c, http.StatusInternalServerError, "encode_failed", err)
		return
	}
	if data == nil {
		c.Status(http.StatusNoContent)
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Data(http.StatusOK, "image/jpeg", data)
}

func (s *Server) writeFrame(c *gin.Context, frame *stream.Frame) {
	view, err := newFrameView(frame, s.encoder)
	if err != nil {
		s.errorResponse(c, http.StatusInternalServerError, "encode_failed", err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// startErrorStatus は開始エラーをHTTPステータスに変換する
func startErrorStatus(err error) int {
	var initErr *sensor.InitError
	switch {
	case errors.Is(err, stream.ErrAlreadyRunningElsewhere):
		return http.StatusConflict
	case errors.As(err, &initErr):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) errorResponse(c *gin.Context, status int, code string, err error) {
	if status >= http.StatusInternalServerError {
		s.logger.Error("リクエストの処理に失敗", "path", c.Request.URL.Path, "error", err)
	}
	c.JSON(status, ErrorResponse{
		Error:     code,
		Message:   err.Error(),
		Timestamp: time.Now(),
	})
}
