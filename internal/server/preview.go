package server

import (
	"net/http"
	"net/textproto"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"sensorstream/internal/stream"
)

const (
	mjpegBoundary = "frame"

	wsWriteWait  = 5 * time.Second
	wsPongWait   = 30 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// handleRoot はルートパスのハンドラ
func (s *Server) handleRoot(c *gin.Context) {
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.String(http.StatusOK, `<!DOCTYPE html>
<html lang="ja">
<head>
    <meta charset="UTF-8">
    <title>Sensorstream</title>
</head>
<body>
    <h1>Sensorstream</h1>
    <p>デバイス: %s (%s)</p>
    <img src="/api/stream.mjpeg" alt="preview">
    <p>ステータス: <a href="/api/status">/api/status</a></p>
    <p>最新フレーム: <a href="/api/frame">/api/frame</a></p>
    <p>ヘルスチェック: <a href="/health">/health</a></p>
</body>
</html>`, s.manager.Device(), s.manager.State())
}

// handleMJPEG はプレビューをMJPEGストリームとして配信する
// フレームを消費しないため複数の視聴者とGetFrameが共存できる
func (s *Server) handleMJPEG(c *gin.Context) {
	if s.manager.State() != stream.StateRunning {
		c.JSON(http.StatusServiceUnavailable, emptyView(stream.ErrNotRunning))
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.String(http.StatusInternalServerError, "Streaming not supported")
		return
	}

	c.Header("Content-Type", "multipart/x-mixed-replace; boundary="+mjpegBoundary)
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("Access-Control-Allow-Origin", "*")
	c.Status(http.StatusOK)
	flusher.Flush()

	clientGone := c.Request.Context().Done()
	ticker := time.NewTicker(s.frameInterval())
	defer ticker.Stop()

	var lastID string
	for {
		select {
		case <-clientGone:
			return
		case <-ticker.C:
		}

		if s.manager.State() != stream.StateRunning {
			return
		}

		frame, data, err := s.latestPreview()
		if err != nil {
			s.logger.Warn("MJPEGフレームのエンコードに失敗", "error", err)
			continue
		}
		if frame == nil || frame.ID == lastID {
			continue
		}
		lastID = frame.ID

		if err := writeMJPEGPart(c.Writer, data); err != nil {
			return
		}
		flusher.Flush()
	}
}

func writeMJPEGPart(w http.ResponseWriter, data []byte) error {
	header := textproto.MIMEHeader{}
	header.Set("Content-Type", "image/jpeg")
	header.Set("Content-Length", strconv.Itoa(len(data)))

	if _, err := w.Write([]byte("--" + mjpegBoundary + "\r\n")); err != nil {
		return err
	}
	for key, values := range header {
		for _, v := range values {
			if _, err := w.Write([]byte(key + ": " + v + "\r\n")); err != nil {
				return err
			}
		}
	}
	if _, err := w.Write([]byte("\r\n")); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err := w.Write([]byte("\r\n"))
	return err
}

// handleWebSocket はプレビューをバイナリのJPEGメッセージとして配信する
func (s *Server) handleWebSocket(c *gin.Context) {
	if s.manager.State() != stream.StateRunning {
		c.JSON(http.StatusServiceUnavailable, emptyView(stream.ErrNotRunning))
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("WebSocketのアップグレードに失敗", "error", err)
		return
	}
	defer conn.Close()

	s.logger.Info("WebSocketクライアントが接続しました", "remote", c.Request.RemoteAddr)
	defer s.logger.Info("WebSocketクライアントが切断しました", "remote", c.Request.RemoteAddr)

	// 読み取りはping/pongと切断検出のためだけに行う
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	frameTicker := time.NewTicker(s.frameInterval())
	defer frameTicker.Stop()
	pingTicker := time.NewTicker(wsPingPeriod)
	defer pingTicker.Stop()

	var lastID string
	for {
		select {
		case <-done:
			return
		case <-pingTicker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-frameTicker.C:
			if s.manager.State() != stream.StateRunning {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream stopped"),
					time.Now().Add(wsWriteWait))
				return
			}

			frame, data, err := s.latestPreview()
			if err != nil {
				s.logger.Warn("WebSocketフレームのエンコードに失敗", "error", err)
				continue
			}
			if frame == nil || frame.ID == lastID {
				continue
			}
			lastID = frame.ID

			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				return
			}
		}
	}
}
