package sensor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// maxPendingBytes は終端の見つからないフレームを保持する上限
const maxPendingBytes = 16 << 20

// FFmpegSource はffmpegのimage2pipe出力からMJPEGフレームを取得するFrameSource
// V4L2デバイスとX11画面キャプチャの両方を扱う
type FFmpegSource struct {
	info          SourceInfo
	discovery     Discovery
	sampleTimeout time.Duration
	quality       int
	watchDevice   bool
	maxPending    int
	logger        *slog.Logger

	// テスト用に差し替え可能
	command func(ctx context.Context, name string, args ...string) *exec.Cmd
}

// NewFFmpegSource は新しいFFmpegSourceを作成する
func NewFFmpegSource(info SourceInfo, discovery Discovery, sampleTimeout time.Duration, quality int, logger *slog.Logger) *FFmpegSource {
	if logger == nil {
		logger = slog.Default()
	}
	if sampleTimeout <= 0 {
		sampleTimeout = time.Second
	}
	if quality <= 0 {
		quality = 3
	}

	return &FFmpegSource{
		info:          info,
		discovery:     discovery,
		sampleTimeout: sampleTimeout,
		quality:       quality,
		watchDevice:   info.Type == SourceTypeV4L2,
		maxPending:    maxPendingBytes,
		logger:        logger,
		command:       exec.CommandContext,
	}
}

// Info はソース情報を返す
func (s *FFmpegSource) Info() SourceInfo {
	return s.info
}

// Start はffmpegを起動してハンドルを返す
func (s *FFmpegSource) Start(ctx context.Context, spec StreamSpec) (Handle, error) {
	if err := spec.Validate(); err != nil {
		return nil, &InitError{Device: s.info.Device, Err: err}
	}
	if spec.HasChannel(ChannelDepth) {
		return nil, &InitError{Device: s.info.Device, Err: fmt.Errorf("ffmpegソースは深度チャンネルに対応していません")}
	}

	if err := s.checkAvailable(ctx); err != nil {
		return nil, &InitError{Device: s.info.Device, Err: err}
	}

	// パイプラインの寿命はStartの呼び出し元コンテキストと切り離す
	procCtx, cancel := context.WithCancel(context.Background())
	cmd := s.command(procCtx, "ffmpeg", s.buildArgs(spec)...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, &InitError{Device: s.info.Device, Err: fmt.Errorf("stdoutパイプの作成に失敗: %w", err)}
	}
	stderr := &tailBuffer{limit: 4096}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, &InitError{Device: s.info.Device, Err: fmt.Errorf("ffmpegの起動に失敗: %w", err)}
	}

	h := &ffmpegHandle{
		source:  s,
		spec:    spec,
		cmd:     cmd,
		cancel:  cancel,
		stderr:  stderr,
		frames:  make(chan timedJPEG, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}

	if s.watchDevice {
		watcher, err := NewDeviceWatcher(s.info.Device, s.logger)
		if err != nil {
			// 監視できなくてもffmpegの終了で切断は検出できる
			s.logger.Warn("デバイス監視の開始に失敗", "device", s.info.Device, "error", err)
		} else {
			h.watcher = watcher
		}
	}

	go h.readFrames(stdout)

	s.logger.Info("ffmpegパイプラインを開始しました",
		"device", s.info.Device,
		"type", s.info.Type,
		"resolution", spec.Resolution.String(),
		"fps", spec.FrameRate,
	)
	return h, nil
}

// checkAvailable はデバイスまたはディスプレイが利用可能か確認する
func (s *FFmpegSource) checkAvailable(ctx context.Context) error {
	switch s.info.Type {
	case SourceTypeV4L2:
		if s.discovery != nil && !s.discovery.IsDeviceAvailable(ctx, s.info.Device) {
			return fmt.Errorf("デバイスが利用できません: %s", s.info.Device)
		}
	case SourceTypeX11:
		checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := s.command(checkCtx, "xdpyinfo", "-display", s.info.Device).Run(); err != nil {
			return fmt.Errorf("X11ディスプレイが利用できません: %s: %w", s.info.Device, err)
		}
	default:
		return fmt.Errorf("サポートされていないソースタイプ: %s", s.info.Type)
	}
	return nil
}

// buildArgs はffmpegの引数を組み立てる
func (s *FFmpegSource) buildArgs(spec StreamSpec) []string {
	input := []string{"-f", "v4l2"}
	filters := []string{}
	if s.info.Type == SourceTypeX11 {
		input = []string{"-f", "x11grab"}
		filters = []string{"-vf", "format=yuv420p"}
	}

	args := []string{"-loglevel", "error"}
	args = append(args, input...)
	args = append(args,
		"-video_size", spec.Resolution.String(),
		"-framerate", strconv.Itoa(spec.FrameRate),
		"-i", s.info.Device,
	)
	args = append(args, filters...)
	args = append(args,
		"-f", "image2pipe",
		"-c:v", "mjpeg",
		"-q:v", strconv.Itoa(s.quality),
		"-",
	)
	return args
}

type timedJPEG struct {
	data []byte
	at   time.Time
}

// ffmpegHandle は起動済みffmpegプロセスへのハンドル
type ffmpegHandle struct {
	source  *FFmpegSource
	spec    StreamSpec
	cmd     *exec.Cmd
	cancel  context.CancelFunc
	stderr  *tailBuffer
	watcher *DeviceWatcher

	frames  chan timedJPEG // 最新フレームのみ保持
	dropped atomic.Uint64

	done    chan struct{} // 読み取りゴルーチン終了
	exitErr error

	stopOnce sync.Once
	stopped  chan struct{}
}

// WaitForSample は次のJPEGフレームを待つ
func (h *ffmpegHandle) WaitForSample(ctx context.Context) (RawSample, error) {
	select {
	case <-h.stopped:
		return RawSample{}, ErrSourceClosed
	default:
	}

	timer := time.NewTimer(h.source.sampleTimeout)
	defer timer.Stop()

	select {
	case f := <-h.frames:
		return RawSample{
			Color: RawImage{
				Width:  h.spec.Resolution.Width,
				Height: h.spec.Resolution.Height,
				Format: FormatMJPEG,
				Data:   f.data,
			},
			CapturedAt: f.at,
		}, nil
	case <-h.done:
		return RawSample{}, fmt.Errorf("%w: ffmpegが終了しました: %v (stderr: %s)", ErrDeviceLost, h.exitErr, h.stderr.String())
	case <-h.lost():
		return RawSample{}, fmt.Errorf("%w: %s", ErrDeviceLost, h.source.info.Device)
	case <-h.stopped:
		return RawSample{}, ErrSourceClosed
	case <-ctx.Done():
		return RawSample{}, ctx.Err()
	case <-timer.C:
		return RawSample{}, ErrNoSample
	}
}

// Stop はffmpegを停止する
func (h *ffmpegHandle) Stop(ctx context.Context) error {
	var err error
	h.stopOnce.Do(func() {
		close(h.stopped)
		h.cancel()

		if h.watcher != nil {
			_ = h.watcher.Close()
		}

		select {
		case <-h.done:
		case <-ctx.Done():
			err = fmt.Errorf("ffmpegの停止待機がタイムアウトしました: %w", ctx.Err())
		}

		h.source.logger.Info("ffmpegパイプラインを停止しました",
			"device", h.source.info.Device,
			"dropped", h.dropped.Load(),
		)
	})
	return err
}

func (h *ffmpegHandle) lost() <-chan struct{} {
	if h.watcher == nil {
		return nil
	}
	return h.watcher.Lost()
}

// readFrames はstdoutからJPEGフレームを切り出す
func (h *ffmpegHandle) readFrames(stdout io.Reader) {
	defer func() {
		h.exitErr = h.cmd.Wait()
		close(h.done)
	}()

	buf := make([]byte, 256*1024)
	var pending []byte

	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			for {
				frame, rest, ok := splitJPEG(pending)
				pending = rest
				if !ok {
					break
				}
				h.deliver(timedJPEG{data: frame, at: time.Now()})
			}
			if len(pending) > h.source.maxPending {
				h.source.logger.Warn("JPEGの終端が見つからないため受信データを破棄しました",
					"device", h.source.info.Device,
					"bytes", len(pending),
				)
				h.dropped.Add(1)
				pending = nil
			}
		}
		if err != nil {
			return
		}
	}
}

// deliver は古い未取得フレームを破棄して最新フレームを格納する
func (h *ffmpegHandle) deliver(f timedJPEG) {
	select {
	case h.frames <- f:
		return
	default:
	}

	select {
	case <-h.frames:
		h.dropped.Add(1)
	default:
	}

	select {
	case h.frames <- f:
	default:
		h.dropped.Add(1)
	}
}

// splitJPEG はバッファ先頭の完全なJPEGフレームを切り出す
// 完全なフレームが無い場合は ok=false と保持すべき残りを返す
func splitJPEG(data []byte) (frame, rest []byte, ok bool) {
	start := bytes.Index(data, jpegSOI)
	if start == -1 {
		// マーカーの途中で切れている可能性がある
		if len(data) > 0 && data[len(data)-1] == 0xFF {
			return nil, data[len(data)-1:], false
		}
		return nil, nil, false
	}

	end := bytes.Index(data[start+2:], jpegEOI)
	if end == -1 {
		return nil, data[start:], false
	}

	end += start + 2 + len(jpegEOI)
	frame = make([]byte, end-start)
	copy(frame, data[start:end])
	return frame, data[end:], true
}

// tailBuffer はstderrの末尾だけを保持する
type tailBuffer struct {
	mu    sync.Mutex
	buf   []byte
	limit int
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf = append(b.buf, p...)
	if len(b.buf) > b.limit {
		b.buf = b.buf[len(b.buf)-b.limit:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.TrimSpace(string(b.buf))
}
