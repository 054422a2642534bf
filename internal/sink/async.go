package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrQueueFull は書き込みキューが満杯であることを示す
	ErrQueueFull = errors.New("書き込みキューが満杯です")
	// ErrSinkClosed はクローズ済みSinkへの書き込みを示す
	ErrSinkClosed = errors.New("Sinkはクローズ済みです")
)

// AsyncStats はAsyncSinkの統計
type AsyncStats struct {
	Queued   uint64 `json:"queued"`
	Written  uint64 `json:"written"`
	Failed   uint64 `json:"failed"`
	Rejected uint64 `json:"rejected"`
}

// AsyncSink は書き込みをワーカーゴルーチンに委ねるSink
// キューが満杯の場合はレコードを黙って捨てず ErrQueueFull を返す
type AsyncSink struct {
	next         Sink
	queue        chan Record
	writeTimeout time.Duration
	logger       *slog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	queued   atomic.Uint64
	written  atomic.Uint64
	failed   atomic.Uint64
	rejected atomic.Uint64
}

// NewAsyncSink は新しいAsyncSinkを作成してワーカーを起動する
func NewAsyncSink(next Sink, queueSize int, writeTimeout time.Duration, logger *slog.Logger) *AsyncSink {
	if queueSize <= 0 {
		queueSize = 16
	}
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &AsyncSink{
		next:         next,
		queue:        make(chan Record, queueSize),
		writeTimeout: writeTimeout,
		logger:       logger,
	}

	s.wg.Add(1)
	go s.worker()

	return s
}

// Write はレコードをキューに積む
// 永続化の成否はワーカー側でログに記録される
func (s *AsyncSink) Write(_ context.Context, record Record) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrSinkClosed
	}

	select {
	case s.queue <- record:
		s.queued.Add(1)
		return nil
	default:
		s.rejected.Add(1)
		return fmt.Errorf("%w (frame=%s)", ErrQueueFull, record.FrameID)
	}
}

// Close は新規書き込みを拒否し、キューを書き切ってから下位Sinkを閉じる
func (s *AsyncSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	s.wg.Wait()
	return Close(s.next)
}

// Stats は統計のスナップショットを返す
func (s *AsyncSink) Stats() AsyncStats {
	return AsyncStats{
		Queued:   s.queued.Load(),
		Written:  s.written.Load(),
		Failed:   s.failed.Load(),
		Rejected: s.rejected.Load(),
	}
}

func (s *AsyncSink) worker() {
	defer s.wg.Done()

	for record := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
		err := s.next.Write(ctx, record)
		cancel()

		if err != nil {
			s.failed.Add(1)
			s.logger.Error("非同期書き込みに失敗", "frame_id", record.FrameID, "error", err)
			continue
		}
		s.written.Add(1)
	}
}
