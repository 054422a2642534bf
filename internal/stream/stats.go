package stream

import (
	"sync"
	"sync/atomic"
	"time"
)

// Stats はManagerの稼働統計
type Stats struct {
	State             State     `json:"state"`
	Device            string    `json:"device"`
	Healthy           bool      `json:"healthy"`
	Starts            uint64    `json:"starts"`
	Frames            uint64    `json:"frames"`             // スロットに入れた正常フレーム数
	Sentinels         uint64    `json:"sentinels"`          // スロットに入れたエラーフレーム数
	Misses            uint64    `json:"misses"`             // サンプル無しの累計
	ConsecutiveMisses uint64    `json:"consecutive_misses"` // 現在の連続ミス数
	DecodeErrors      uint64    `json:"decode_errors"`
	SourceErrors      uint64    `json:"source_errors"`
	Stored            uint64    `json:"stored"`
	StoreFailures     uint64    `json:"store_failures"`
	LastFrameAt       time.Time `json:"last_frame_at,omitempty"`
	LastError         string    `json:"last_error,omitempty"`
	Slot              SlotStats `json:"slot"`
}

// counters はループと消費者が更新するカウンタ
type counters struct {
	starts            atomic.Uint64
	frames            atomic.Uint64
	sentinels         atomic.Uint64
	misses            atomic.Uint64
	consecutiveMisses atomic.Uint64
	decodeErrors      atomic.Uint64
	sourceErrors      atomic.Uint64
	stored            atomic.Uint64
	storeFailures     atomic.Uint64
	lastFrameAt       atomic.Int64 // UnixNano
	unhealthy         atomic.Bool

	mu        sync.Mutex
	lastError string
}

func (c *counters) setLastError(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastError = msg
}

func (c *counters) getLastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastError
}

// resetRun は再開時に稼働単位のカウンタを戻す
func (c *counters) resetRun() {
	c.consecutiveMisses.Store(0)
	c.unhealthy.Store(false)
	c.setLastError("")
}

func (c *counters) fill(s *Stats) {
	s.Starts = c.starts.Load()
	s.Frames = c.frames.Load()
	s.Sentinels = c.sentinels.Load()
	s.Misses = c.misses.Load()
	s.ConsecutiveMisses = c.consecutiveMisses.Load()
	s.DecodeErrors = c.decodeErrors.Load()
	s.SourceErrors = c.sourceErrors.Load()
	s.Stored = c.stored.Load()
	s.StoreFailures = c.storeFailures.Load()
	if ns := c.lastFrameAt.Load(); ns != 0 {
		s.LastFrameAt = time.Unix(0, ns)
	}
	s.LastError = c.getLastError()
}
