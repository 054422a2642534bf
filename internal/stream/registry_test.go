package stream

import (
	"errors"
	"testing"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	if err := r.Acquire("/dev/video0", "a"); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	// 同じ所有者は再取得できる
	if err := r.Acquire("/dev/video0", "a"); err != nil {
		t.Errorf("Expected re-acquire by same owner to succeed, got %v", err)
	}
	if err := r.Acquire("/dev/video0", "b"); !errors.Is(err, ErrAlreadyRunningElsewhere) {
		t.Errorf("Expected ErrAlreadyRunningElsewhere, got %v", err)
	}
	// 別デバイスは独立
	if err := r.Acquire("/dev/video1", "b"); err != nil {
		t.Errorf("Expected other device to be free, got %v", err)
	}

	// 所有者以外の解放は無視される
	r.Release("/dev/video0", "b")
	if owner, ok := r.Owner("/dev/video0"); !ok || owner != "a" {
		t.Errorf("Expected owner a, got %q (%v)", owner, ok)
	}

	r.Release("/dev/video0", "a")
	if err := r.Acquire("/dev/video0", "b"); err != nil {
		t.Errorf("Expected acquire after release to succeed, got %v", err)
	}
}

func TestState_Text(t *testing.T) {
	for state, name := range stateNames {
		text, err := state.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText failed: %v", err)
		}
		if string(text) != name {
			t.Errorf("Expected %s, got %s", name, text)
		}

		var parsed State
		if err := parsed.UnmarshalText(text); err != nil {
			t.Fatalf("UnmarshalText failed: %v", err)
		}
		if parsed != state {
			t.Errorf("Expected %v, got %v", state, parsed)
		}
	}

	var s State
	if err := s.UnmarshalText([]byte("bogus")); err == nil {
		t.Error("Expected error for unknown state")
	}
}
