// Package sink はフレームの永続化先を提供する
//
// Sink は書き込み専用で、フレームの読み出しは呼び出し側の責務ではない
// 実装は並行呼び出しに対して安全でなければならない
package sink

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Record はSinkに書き込む1フレーム分のレコード
type Record struct {
	FrameID    string
	ColorBytes []byte    // エンコード済みカラー画像
	DepthBytes []byte    // エンコード済み深度画像（無い場合はnil）
	Timestamp  time.Time // 取得時刻
	Error      string    // 取得時のエラー（センチネルフレームの場合）
}

// Sink はレコードの書き込み先
type Sink interface {
	Write(ctx context.Context, record Record) error
}

// Closer はリソースを持つSinkが実装する
type Closer interface {
	Close() error
}

// Close はSinkがCloserであれば閉じる
func Close(s Sink) error {
	if c, ok := s.(Closer); ok {
		return c.Close()
	}
	return nil
}

// MultiSink は複数のSinkに順に書き込む
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink は新しいMultiSinkを作成する
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// Write はすべてのSinkに書き込み、失敗をまとめて返す
// 一部が失敗しても残りへの書き込みは続ける
func (m *MultiSink) Write(ctx context.Context, record Record) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Write(ctx, record); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close はすべてのSinkを閉じる
func (m *MultiSink) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := Close(s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MemorySink はテスト用のインメモリSink
type MemorySink struct {
	mu      sync.Mutex
	records []Record
	failErr error
	delay   time.Duration
}

// NewMemorySink は新しいMemorySinkを作成する
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Write はレコードを保持する
func (m *MemorySink) Write(ctx context.Context, record Record) error {
	m.mu.Lock()
	delay, failErr := m.delay, m.failErr
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if failErr != nil {
		return failErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, record)
	return nil
}

// SetError はテスト用に書き込み失敗を設定する（nilで解除）
func (m *MemorySink) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
}

// SetDelay はテスト用に書き込み遅延を設定する
func (m *MemorySink) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// Records は書き込まれたレコードのコピーを返す
func (m *MemorySink) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()

	records := make([]Record, len(m.records))
	copy(records, m.records)
	return records
}
