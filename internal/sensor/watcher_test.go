package sensor

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDeviceWatcher_Remove(t *testing.T) {
	dir := t.TempDir()
	device := filepath.Join(dir, "video0")
	if err := os.WriteFile(device, nil, 0o644); err != nil {
		t.Fatalf("Failed to create device node: %v", err)
	}

	watcher, err := NewDeviceWatcher(device, nil)
	if err != nil {
		t.Fatalf("NewDeviceWatcher failed: %v", err)
	}
	defer func() { _ = watcher.Close() }()

	// 無関係なファイルの削除では通知されない
	other := filepath.Join(dir, "video1")
	if err := os.WriteFile(other, nil, 0o644); err != nil {
		t.Fatalf("Failed to create file: %v", err)
	}
	if err := os.Remove(other); err != nil {
		t.Fatalf("Failed to remove file: %v", err)
	}
	select {
	case <-watcher.Lost():
		t.Fatal("Expected unrelated removal to be ignored")
	case <-time.After(100 * time.Millisecond):
	}

	if err := os.Remove(device); err != nil {
		t.Fatalf("Failed to remove device node: %v", err)
	}

	select {
	case <-watcher.Lost():
	case <-time.After(2 * time.Second):
		t.Fatal("Expected device loss to be reported")
	}
}

func TestDeviceWatcher_Close(t *testing.T) {
	dir := t.TempDir()
	device := filepath.Join(dir, "video0")

	watcher, err := NewDeviceWatcher(device, nil)
	if err != nil {
		t.Fatalf("NewDeviceWatcher failed: %v", err)
	}

	if err := watcher.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	// 2回目のCloseも安全
	if err := watcher.Close(); err != nil {
		t.Errorf("Second Close failed: %v", err)
	}

	select {
	case <-watcher.Lost():
		t.Error("Expected Lost to stay open after Close")
	default:
	}
}

func TestNewDeviceWatcher_MissingDirectory(t *testing.T) {
	_, err := NewDeviceWatcher(filepath.Join(t.TempDir(), "missing", "video0"), nil)
	if err == nil {
		t.Error("Expected error for missing directory")
	}
}
