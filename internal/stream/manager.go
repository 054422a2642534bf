package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"sensorstream/internal/codec"
	"sensorstream/internal/sensor"
	"sensorstream/internal/sink"
)

// Manager はセンサー1台分のストリームを管理する
// 開始・停止はライフサイクルロックで直列化され、フレーム取得は任意のゴルーチンから並行に呼べる
type Manager struct {
	id       string
	source   sensor.FrameSource
	spec     sensor.StreamSpec
	cfg      Config
	sink     sink.Sink
	encoder  codec.Encoder
	registry *Registry
	logger   *slog.Logger

	slot     *LatestFrameSlot
	counters *counters
	seq      atomic.Uint64
	state    atomic.Int32
	preview  atomic.Pointer[Frame]

	// 以下は mu で保護する
	mu     sync.Mutex
	handle sensor.Handle
	loop   *captureLoop
	cancel context.CancelFunc

	// CaptureOnce が開始したストリームかどうか
	oneShotOwned  bool
	oneShotLeases int
}

// Option はManagerのオプション
type Option func(*Manager)

// WithSink はフレームの永続化先を設定する
func WithSink(s sink.Sink) Option {
	return func(m *Manager) { m.sink = s }
}

// WithEncoder は永続化時のエンコーダーを設定する
func WithEncoder(e codec.Encoder) Option {
	return func(m *Manager) { m.encoder = e }
}

// WithRegistry はデバイス所有権のレジストリを設定する
func WithRegistry(r *Registry) Option {
	return func(m *Manager) { m.registry = r }
}

// WithLogger はロガーを設定する
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithConfig は動作設定を上書きする
func WithConfig(c Config) Option {
	return func(m *Manager) { m.cfg = c }
}

// NewManager は新しいManagerを作成する
func NewManager(source sensor.FrameSource, spec sensor.StreamSpec, opts ...Option) (*Manager, error) {
	if source == nil {
		return nil, fmt.Errorf("ソースが指定されていません")
	}
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("ストリーム仕様が無効: %w", err)
	}

	m := &Manager{
		id:       uuid.NewString(),
		source:   source,
		spec:     spec,
		cfg:      DefaultConfig(),
		registry: DefaultRegistry,
		logger:   slog.Default(),
		slot:     NewLatestFrameSlot(),
		counters: &counters{},
	}
	for _, opt := range opts {
		opt(m)
	}

	m.cfg = m.cfg.withDefaults()
	if m.encoder == nil {
		m.encoder = codec.NewImageEncoder(codec.DefaultJPEGQuality)
	}
	m.logger = m.logger.With("device", m.Device())

	return m, nil
}

// Start はストリームを開始する
// 既に稼働中の場合は何もしない
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.startLocked(ctx); err != nil {
		return err
	}
	// 明示的に開始されたストリームはCaptureOnceでは止めない
	m.oneShotOwned = false
	return nil
}

func (m *Manager) startLocked(ctx context.Context) error {
	if m.State() == StateRunning {
		return nil
	}

	device := m.Device()
	if err := m.registry.Acquire(device, m.id); err != nil {
		return err
	}

	prev, prevErr := m.State(), m.counters.getLastError()
	m.setState(StateStarting)
	m.counters.resetRun()

	handle, err := m.source.Start(ctx, m.spec)
	if err != nil {
		m.registry.Release(device, m.id)
		if ctxErr := ctx.Err(); ctxErr != nil {
			// 呼び出し側の取り消しはソースの失敗ではない
			m.restoreLocked(prev, prevErr)
			return ctxErr
		}
		m.failLocked(err)
		return err
	}

	if err := m.warmup(ctx, handle); err != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), m.cfg.StopTimeout)
		_ = handle.Stop(stopCtx)
		cancel()

		m.registry.Release(device, m.id)
		if ctxErr := ctx.Err(); ctxErr != nil {
			m.restoreLocked(prev, prevErr)
			return ctxErr
		}
		err = &sensor.InitError{Device: device, Err: err}
		m.failLocked(err)
		return err
	}

	m.slot.Reset()
	m.preview.Store(nil)
	m.seq.Store(0)

	loopCtx, cancel := context.WithCancel(context.Background())
	loop := newCaptureLoop(m, handle)
	m.handle = handle
	m.loop = loop
	m.cancel = cancel
	m.counters.starts.Add(1)
	m.setState(StateRunning)

	go loop.run(loopCtx)
	go m.watchLoop(loop)

	m.logger.Info("ストリームを開始しました",
		"resolution", m.spec.Resolution.String(),
		"fps", m.spec.FrameRate,
		"warmup", m.cfg.WarmupFrames,
	)
	return nil
}

// restoreLocked は取り消された開始処理の前の状態に戻す
func (m *Manager) restoreLocked(prev State, lastErr string) {
	m.counters.setLastError(lastErr)
	m.setState(prev)
}

// warmup は自動露出が安定するまで最初のサンプルを捨てる
func (m *Manager) warmup(ctx context.Context, handle sensor.Handle) error {
	for i := 0; i < m.cfg.WarmupFrames; i++ {
		_, err := handle.WaitForSample(ctx)
		if err == nil || errors.Is(err, sensor.ErrNoSample) {
			continue
		}
		return fmt.Errorf("ウォームアップ中にエラー: %w", err)
	}
	return nil
}

// watchLoop はループの異常終了を検知してFailedに遷移させる
func (m *Manager) watchLoop(loop *captureLoop) {
	<-loop.done
	if loop.err == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// 既に停止・再開されている場合は何もしない
	if m.loop != loop || m.State() != StateRunning {
		return
	}

	// 解放された消費者が失敗を観測できるよう、先に状態を変える
	m.failLocked(loop.err)
	if err := m.teardownLocked(); err != nil {
		m.logger.Warn("失敗後の後始末でエラー", "error", err)
	}
}

// Stop はストリームを停止する
// 何度呼んでもよい
// ctx がキャンセル済みでもループの終了は StopTimeout まで待つ
func (m *Manager) Stop(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.stopLocked()
}

func (m *Manager) stopLocked() error {
	if m.State() != StateRunning {
		return nil
	}

	m.setState(StateStopping)
	err := m.teardownLocked()
	m.setState(StateStopped)

	m.logger.Info("ストリームを停止しました")
	return err
}

// teardownLocked はループとソースを停止して資源を解放する
// ループが終わる前にハンドルを止めたりデバイスを解放したりしない
func (m *Manager) teardownLocked() error {
	var errs []error

	if m.cancel != nil {
		m.cancel()
	}
	// 待機中の消費者を先に解放する
	m.slot.Close()
	m.preview.Store(nil)

	joinCtx, cancel := context.WithTimeout(context.Background(), m.cfg.StopTimeout)
	defer cancel()

	if m.loop != nil {
		select {
		case <-m.loop.done:
		case <-joinCtx.Done():
			m.logger.Warn("キャプチャループの終了待機がタイムアウトしました", "timeout", m.cfg.StopTimeout)
			errs = append(errs, fmt.Errorf("キャプチャループの終了待機がタイムアウトしました"))
		}
	}

	if m.handle != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), m.cfg.StopTimeout)
		if err := m.handle.Stop(stopCtx); err != nil {
			errs = append(errs, fmt.Errorf("ソースの停止に失敗: %w", err))
		}
		stopCancel()
	}

	m.registry.Release(m.Device(), m.id)
	m.handle = nil
	m.loop = nil
	m.cancel = nil
	m.oneShotOwned = false

	return errors.Join(errs...)
}

func (m *Manager) failLocked(err error) {
	m.counters.setLastError(err.Error())
	m.setState(StateFailed)
	m.logger.Error("ストリームが失敗しました", "error", err)
}

// GetFrame は最新フレームを取り出す
// storeInSink が真でSinkが設定されている場合は同期的に永続化し、失敗は Frame.StoreError に記録する
func (m *Manager) GetFrame(ctx context.Context, storeInSink bool, timeout time.Duration) (*Frame, error) {
	if m.State() != StateRunning {
		return nil, m.notRunningError()
	}

	frame, err := m.slot.Take(ctx, timeout)
	if err != nil {
		if errors.Is(err, ErrStopped) && m.State() == StateFailed {
			return nil, m.notRunningError()
		}
		return nil, err
	}

	if storeInSink && m.sink != nil {
		frame = m.store(ctx, frame)
	}
	return frame, nil
}

func (m *Manager) notRunningError() error {
	if m.State() == StateFailed {
		return fmt.Errorf("%w: %s", ErrSourceFailed, m.counters.getLastError())
	}
	return ErrNotRunning
}

// store はフレームをエンコードしてSinkに書き込む
func (m *Manager) store(ctx context.Context, frame *Frame) *Frame {
	record, err := m.record(frame)
	if err == nil {
		err = m.sink.Write(ctx, record)
	}
	if err != nil {
		m.counters.storeFailures.Add(1)
		m.logger.Warn("フレームの永続化に失敗", "frame_id", frame.ID, "error", err)
		return frame.WithStoreError(fmt.Sprintf("永続化に失敗: %v", err))
	}

	m.counters.stored.Add(1)
	return frame
}

// record はフレームからSinkレコードを作成する
// センチネルフレームの画像は保存しない
func (m *Manager) record(frame *Frame) (sink.Record, error) {
	record := sink.Record{
		FrameID:   frame.ID,
		Timestamp: frame.CapturedAt,
		Error:     frame.Error,
	}
	if !frame.Valid() {
		return record, nil
	}

	colorBytes, err := m.encoder.EncodeColor(frame.Color)
	if err != nil {
		return record, err
	}
	record.ColorBytes = colorBytes

	if frame.Depth != nil {
		depthBytes, err := m.encoder.EncodeDepth(frame.Depth)
		if err != nil {
			return record, err
		}
		record.DepthBytes = depthBytes
	}
	return record, nil
}

// CaptureOnce は必要ならストリームを開始して1フレームを取得する
// この呼び出し（または並行するCaptureOnce）が開始したストリームは、最後の呼び出しが終わった時点で停止する
func (m *Manager) CaptureOnce(ctx context.Context) (*Frame, error) {
	m.mu.Lock()
	if m.State() != StateRunning {
		if err := m.startLocked(ctx); err != nil {
			m.mu.Unlock()
			return nil, err
		}
		m.oneShotOwned = true
	}
	m.oneShotLeases++
	m.mu.Unlock()

	frame, err := m.GetFrame(ctx, false, m.cfg.CaptureTimeout)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.oneShotLeases--
	if m.oneShotLeases == 0 && m.oneShotOwned {
		if stopErr := m.stopLocked(); stopErr != nil {
			m.logger.Warn("ワンショット取得後の停止に失敗", "error", stopErr)
		}
	}
	return frame, err
}

// Preview は最後に取得した正常フレームを消費せずに返す
// 表示用で、GetFrameの受け渡しには影響しない
func (m *Manager) Preview() *Frame {
	return m.preview.Load()
}

func (m *Manager) setPreview(f *Frame) {
	m.preview.Store(f)
}

// State は現在の状態を返す
func (m *Manager) State() State {
	return State(m.state.Load())
}

func (m *Manager) setState(s State) {
	m.state.Store(int32(s))
}

// Stats は統計のスナップショットを返す
func (m *Manager) Stats() Stats {
	s := Stats{
		State:   m.State(),
		Device:  m.Device(),
		Healthy: m.State() == StateRunning && !m.counters.unhealthy.Load(),
		Slot:    m.slot.Stats(),
	}
	m.counters.fill(&s)
	return s
}

// Device はデバイスパスまたはディスプレイ名を返す
func (m *Manager) Device() string {
	return m.source.Info().Device
}

// Spec はストリーム仕様を返す
func (m *Manager) Spec() sensor.StreamSpec {
	return m.spec
}

// Source はソース情報を返す
func (m *Manager) Source() sensor.SourceInfo {
	return m.source.Info()
}
