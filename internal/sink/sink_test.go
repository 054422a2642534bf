package sink

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
)

func TestMultiSink(t *testing.T) {
	ok := NewMemorySink()
	failing := NewMemorySink()
	failing.SetError(errors.New("disk full"))
	other := NewMemorySink()

	m := NewMultiSink(ok, failing, other)
	err := m.Write(context.Background(), Record{FrameID: "f"})
	if err == nil {
		t.Fatal("Expected joined error")
	}
	if len(ok.Records()) != 1 || len(other.Records()) != 1 {
		t.Errorf("Expected healthy sinks to receive the record, got %d/%d", len(ok.Records()), len(other.Records()))
	}

	failing.SetError(nil)
	if err := m.Write(context.Background(), Record{FrameID: "g"}); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if err := m.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestFileSink_Write(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileSink(dir)
	if err != nil {
		t.Fatalf("NewFileSink failed: %v", err)
	}

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.Local)
	record := Record{
		FrameID:    "abc",
		ColorBytes: []byte("color"),
		DepthBytes: []byte("depth"),
		Timestamp:  at,
	}
	if err := s.Write(context.Background(), record); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	base := filepath.Join(dir, "2024-05-01", fmt.Sprintf("%d_abc", at.UnixMilli()))

	color, err := os.ReadFile(base + "_color.jpg")
	if err != nil || string(color) != "color" {
		t.Errorf("Expected color file, got %q (%v)", color, err)
	}
	depth, err := os.ReadFile(base + "_depth.png")
	if err != nil || string(depth) != "depth" {
		t.Errorf("Expected depth file, got %q (%v)", depth, err)
	}

	data, err := os.ReadFile(base + ".json")
	if err != nil {
		t.Fatalf("Expected metadata file: %v", err)
	}
	var meta FileMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		t.Fatalf("Failed to parse metadata: %v", err)
	}
	if meta.FrameID != "abc" || meta.ColorBytes != 5 || meta.DepthFile == "" {
		t.Errorf("Unexpected metadata: %+v", meta)
	}
}

func TestFileSink_SentinelWithoutImages(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileSink(dir)
	if err != nil {
		t.Fatalf("NewFileSink failed: %v", err)
	}

	at := time.Now()
	if err := s.Write(context.Background(), Record{FrameID: "x", Timestamp: at, Error: "no sample"}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(dir, at.Format("2006-01-02")))
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("Expected only metadata file, got %d entries", len(entries))
	}
}

func TestAsyncSink_WritesAndDrains(t *testing.T) {
	next := NewMemorySink()
	s := NewAsyncSink(next, 8, time.Second, nil)

	for i := 0; i < 5; i++ {
		if err := s.Write(context.Background(), Record{FrameID: "f"}); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Close はキューを書き切る
	if got := len(next.Records()); got != 5 {
		t.Errorf("Expected 5 records after drain, got %d", got)
	}
	stats := s.Stats()
	if stats.Queued != 5 || stats.Written != 5 {
		t.Errorf("Unexpected stats: %+v", stats)
	}

	if err := s.Write(context.Background(), Record{}); !errors.Is(err, ErrSinkClosed) {
		t.Errorf("Expected ErrSinkClosed, got %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Second Close failed: %v", err)
	}
}

func TestAsyncSink_QueueFull(t *testing.T) {
	next := NewMemorySink()
	next.SetDelay(200 * time.Millisecond)
	s := NewAsyncSink(next, 1, time.Second, nil)
	defer func() { _ = s.Close() }()

	// ワーカーが1件処理中、キューに1件、その次は満杯
	var rejected int
	for i := 0; i < 5; i++ {
		if err := s.Write(context.Background(), Record{FrameID: "f"}); errors.Is(err, ErrQueueFull) {
			rejected++
		}
	}

	if rejected == 0 {
		t.Error("Expected at least one ErrQueueFull")
	}
	if s.Stats().Rejected != uint64(rejected) {
		t.Errorf("Expected rejected=%d, got %d", rejected, s.Stats().Rejected)
	}
}

func TestMemorySink_Concurrent(t *testing.T) {
	s := NewMemorySink()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Write(context.Background(), Record{FrameID: "f"})
		}()
	}
	wg.Wait()

	if len(s.Records()) != 20 {
		t.Errorf("Expected 20 records, got %d", len(s.Records()))
	}
}
