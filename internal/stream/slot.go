package stream

import (
	"context"
	"sync"
	"time"
)

// SlotStats はLatestFrameSlotの統計
type SlotStats struct {
	Puts    uint64 `json:"puts"`
	Drops   uint64 `json:"drops"` // 未取得のまま上書きされた数
	Takes   uint64 `json:"takes"`
	Pending bool   `json:"pending"`
}

// LatestFrameSlot は容量1のフレーム受け渡し口
// Put は決してブロックせず、未取得のフレームを上書きする
type LatestFrameSlot struct {
	mu     sync.Mutex
	frame  *Frame
	ready  chan struct{} // frame != nil の間クローズされている
	done   chan struct{} // Close でクローズ
	closed bool

	puts  uint64
	drops uint64
	takes uint64
}

// NewLatestFrameSlot は空のスロットを作成する
func NewLatestFrameSlot() *LatestFrameSlot {
	return &LatestFrameSlot{
		ready: make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Put はフレームを格納する
// クローズ済みのスロットへのPutは捨てられる
func (s *LatestFrameSlot) Put(frame *Frame) {
	if frame == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	s.puts++
	if s.frame != nil {
		s.drops++
	} else {
		close(s.ready)
	}
	s.frame = frame
}

// Take はフレームが得られるまで最大timeout待ち、取り出したフレームを返す
// タイムアウトは ErrNoFrame、クローズは ErrStopped を返す
func (s *LatestFrameSlot) Take(ctx context.Context, timeout time.Duration) (*Frame, error) {
	if timeout < 0 {
		timeout = 0
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil, ErrStopped
		}
		if s.frame != nil {
			frame := s.frame
			s.frame = nil
			s.ready = make(chan struct{})
			s.takes++
			s.mu.Unlock()
			return frame, nil
		}
		ready, done := s.ready, s.done
		s.mu.Unlock()

		select {
		case <-ready:
			// 他の消費者に先を越された場合は待ち直す
		case <-done:
			return nil, ErrStopped
		case <-timer.C:
			return nil, ErrNoFrame
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Close はフレームを破棄し、待機中の消費者をすべて解放する
func (s *LatestFrameSlot) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	s.frame = nil
	close(s.done)
}

// Reset はクローズ済みのスロットを再利用可能にする
func (s *LatestFrameSlot) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		return
	}
	s.closed = false
	s.frame = nil
	s.ready = make(chan struct{})
	s.done = make(chan struct{})
}

// Stats は統計のスナップショットを返す
func (s *LatestFrameSlot) Stats() SlotStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return SlotStats{
		Puts:    s.puts,
		Drops:   s.drops,
		Takes:   s.takes,
		Pending: s.frame != nil,
	}
}
