package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"sensorstream/internal/codec"
	"sensorstream/internal/sensor"
)

// captureLoop はソースからサンプルを取得してスロットに入れる
type captureLoop struct {
	handle   sensor.Handle
	spec     sensor.StreamSpec
	slot     *LatestFrameSlot
	counters *counters
	seq      *atomic.Uint64
	logger   *slog.Logger

	missThreshold        uint64
	maxConsecutiveErrors int

	// 正常フレームごとに呼ばれる
	onFrame func(*Frame)

	done chan struct{}
	err  error // done クローズ後に参照可能
}

func newCaptureLoop(m *Manager, handle sensor.Handle) *captureLoop {
	return &captureLoop{
		handle:               handle,
		spec:                 m.spec,
		slot:                 m.slot,
		counters:             m.counters,
		seq:                  &m.seq,
		logger:               m.logger,
		missThreshold:        uint64(m.cfg.MissThreshold),
		maxConsecutiveErrors: m.cfg.MaxConsecutiveErrors,
		onFrame:              m.setPreview,
		done:                 make(chan struct{}),
	}
}

// run は停止またはソースの致命的エラーまでループする
// 停止による終了では err は nil
func (l *captureLoop) run(ctx context.Context) {
	defer close(l.done)
	l.err = l.loop(ctx)
}

func (l *captureLoop) loop(ctx context.Context) error {
	consecutiveErrors := 0

	for {
		if ctx.Err() != nil {
			return nil
		}

		sample, err := l.handle.WaitForSample(ctx)
		switch {
		case err == nil:
			consecutiveErrors = 0
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, sensor.ErrNoSample):
			l.recordMiss()
			continue
		case sensor.IsFatal(err):
			l.counters.sourceErrors.Add(1)
			return err
		default:
			l.counters.sourceErrors.Add(1)
			consecutiveErrors++
			l.logger.Warn("サンプル取得エラー", "error", err, "consecutive", consecutiveErrors)
			if consecutiveErrors > l.maxConsecutiveErrors {
				return fmt.Errorf("取得エラーが%d回連続しました: %w", consecutiveErrors, err)
			}
			continue
		}

		frame, err := l.toFrame(sample)
		if err != nil {
			l.counters.decodeErrors.Add(1)
			l.logger.Warn("サンプルのデコードに失敗", "error", err)
			continue
		}

		l.recordSample()
		l.slot.Put(frame)

		if frame.Valid() {
			l.counters.frames.Add(1)
			l.counters.lastFrameAt.Store(frame.CapturedAt.UnixNano())
			if l.onFrame != nil {
				l.onFrame(frame)
			}
		} else {
			l.counters.sentinels.Add(1)
		}
	}
}

func (l *captureLoop) recordMiss() {
	l.counters.misses.Add(1)
	n := l.counters.consecutiveMisses.Add(1)
	if n == l.missThreshold {
		l.counters.unhealthy.Store(true)
		l.logger.Warn("センサーからのサンプルが途絶えています", "consecutive_misses", n)
	}
}

func (l *captureLoop) recordSample() {
	l.counters.consecutiveMisses.Store(0)
	if l.counters.unhealthy.CompareAndSwap(true, false) {
		l.logger.Info("センサーからのサンプル取得が回復しました")
	}
}

// toFrame はサンプルをフレームに変換する
// チャンネルが欠けたサンプルはセンチネルフレーム、デコード失敗はエラーになる
func (l *captureLoop) toFrame(sample sensor.RawSample) (*Frame, error) {
	at := sample.CapturedAt
	if at.IsZero() {
		at = time.Now()
	}

	var sentinel string
	switch {
	case len(sample.Color.Data) == 0:
		sentinel = "カラーフレームがありません"
	case l.spec.HasChannel(sensor.ChannelDepth) && sample.Depth == nil:
		sentinel = "深度フレームがありません"
	}
	if sentinel != "" {
		f := NewSentinelFrame(l.spec, sentinel, at)
		f.ID = uuid.NewString()
		f.Seq = l.seq.Add(1)
		return f, nil
	}

	color, err := codec.DecodeColor(sample.Color)
	if err != nil {
		return nil, err
	}
	if b := color.Bounds(); b.Dx() != l.spec.Resolution.Width || b.Dy() != l.spec.Resolution.Height {
		return nil, fmt.Errorf("%w: カラー解像度 %dx%d が構成 %s と一致しません", codec.ErrDecode, b.Dx(), b.Dy(), l.spec.Resolution)
	}

	frame := &Frame{
		ID:         uuid.NewString(),
		Color:      color,
		CapturedAt: at,
	}

	if l.spec.HasChannel(sensor.ChannelDepth) {
		depth, err := codec.DecodeDepth(*sample.Depth)
		if err != nil {
			return nil, err
		}
		if b := depth.Bounds(); b.Dx() != l.spec.Resolution.Width || b.Dy() != l.spec.Resolution.Height {
			return nil, fmt.Errorf("%w: 深度解像度 %dx%d が構成 %s と一致しません", codec.ErrDecode, b.Dx(), b.Dy(), l.spec.Resolution)
		}
		frame.Depth = depth
	}

	frame.Seq = l.seq.Add(1)
	return frame, nil
}
