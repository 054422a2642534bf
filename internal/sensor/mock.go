package sensor

import (
	"context"
	"encoding/binary"
	"sync"
	"time"
)

// MockResult はMockSourceが返すサンプルまたはエラー
type MockResult struct {
	Sample *RawSample
	Err    error
}

// MockSource は合成フレームを生成するテスト・デモ用FrameSource
// Enqueueした結果を先に返し、キューが空になると合成フレームを生成する
type MockSource struct {
	info     SourceInfo
	interval time.Duration

	mu       sync.Mutex
	queue    []MockResult
	startErr error
	starts   int
	active   int
	samples  int
}

// NewMockSource は新しいMockSourceを作成する
func NewMockSource(device string, interval time.Duration) *MockSource {
	return &MockSource{
		info: SourceInfo{
			Type:        SourceTypeMock,
			Name:        "モックセンサー",
			Device:      device,
			Driver:      "mock",
			Description: "合成グラデーションフレーム",
		},
		interval: interval,
	}
}

// Info はソース情報を返す
func (m *MockSource) Info() SourceInfo {
	return m.info
}

// Start はモックパイプラインを開始する
func (m *MockSource) Start(_ context.Context, spec StreamSpec) (Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.startErr != nil {
		return nil, &InitError{Device: m.info.Device, Err: m.startErr}
	}
	if err := spec.Validate(); err != nil {
		return nil, &InitError{Device: m.info.Device, Err: err}
	}

	m.starts++
	m.active++
	return &mockHandle{source: m, spec: spec, stopped: make(chan struct{})}, nil
}

// Enqueue はWaitForSampleが返す結果を追加する
func (m *MockSource) Enqueue(results ...MockResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, results...)
}

// EnqueueNoSample は ErrNoSample をn回返すよう設定する
func (m *MockSource) EnqueueNoSample(n int) {
	for i := 0; i < n; i++ {
		m.Enqueue(MockResult{Err: ErrNoSample})
	}
}

// SetStartError はテスト用にStart失敗を設定する
func (m *MockSource) SetStartError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startErr = err
}

// Starts はStartが成功した回数を返す
func (m *MockSource) Starts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.starts
}

// ActiveHandles は停止されていないハンドル数を返す
func (m *MockSource) ActiveHandles() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Samples はWaitForSampleが返したサンプル数を返す
func (m *MockSource) Samples() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.samples
}

func (m *MockSource) next() (MockResult, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.queue) == 0 {
		return MockResult{}, false
	}
	r := m.queue[0]
	m.queue = m.queue[1:]
	if r.Sample != nil {
		m.samples++
	}
	return r, true
}

type mockHandle struct {
	source *MockSource
	spec   StreamSpec
	seq    int

	stopOnce sync.Once
	stopped  chan struct{}
}

// WaitForSample はキューの結果または合成サンプルを返す
func (h *mockHandle) WaitForSample(ctx context.Context) (RawSample, error) {
	select {
	case <-h.stopped:
		return RawSample{}, ErrSourceClosed
	default:
	}

	if r, ok := h.source.next(); ok {
		if r.Err != nil {
			return RawSample{}, r.Err
		}
		return *r.Sample, nil
	}

	if h.source.interval > 0 {
		timer := time.NewTimer(h.source.interval)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-h.stopped:
			return RawSample{}, ErrSourceClosed
		case <-ctx.Done():
			return RawSample{}, ctx.Err()
		}
	}

	h.seq++
	h.source.mu.Lock()
	h.source.samples++
	h.source.mu.Unlock()

	return SyntheticSample(h.spec, byte(h.seq), time.Now()), nil
}

// Stop はモックパイプラインを停止する
func (h *mockHandle) Stop(_ context.Context) error {
	h.stopOnce.Do(func() {
		close(h.stopped)
		h.source.mu.Lock()
		h.source.active--
		h.source.mu.Unlock()
	})
	return nil
}

// SyntheticSample は仕様どおりの解像度を持つ合成サンプルを作成する
// カラーはRGB8の横グラデーション、深度はZ16の一様値
func SyntheticSample(spec StreamSpec, value byte, at time.Time) RawSample {
	w, h := spec.Resolution.Width, spec.Resolution.Height

	color := make([]byte, w*h*3)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := (y*w + x) * 3
			color[i] = byte(x) + value
			color[i+1] = byte(y)
			color[i+2] = value
		}
	}

	sample := RawSample{
		Color:      RawImage{Width: w, Height: h, Format: FormatRGB8, Data: color},
		CapturedAt: at,
	}

	if spec.HasChannel(ChannelDepth) {
		depth := make([]byte, w*h*2)
		for i := 0; i < w*h; i++ {
			binary.LittleEndian.PutUint16(depth[i*2:], uint16(value)*10)
		}
		sample.Depth = &RawImage{Width: w, Height: h, Format: FormatZ16, Data: depth}
	}

	return sample
}
