package stream

import (
	"fmt"
	"sync"
)

// Registry は物理デバイスごとの所有者を管理する
type Registry struct {
	mu     sync.Mutex
	owners map[string]string
}

// DefaultRegistry はプロセス全体で共有するレジストリ
var DefaultRegistry = NewRegistry()

// NewRegistry は新しいRegistryを作成する
func NewRegistry() *Registry {
	return &Registry{owners: make(map[string]string)}
}

// Acquire はデバイスの所有権を取得する
// 同じ所有者による再取得は成功する
func (r *Registry) Acquire(device, owner string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, exists := r.owners[device]; exists && current != owner {
		return fmt.Errorf("%w: %s", ErrAlreadyRunningElsewhere, device)
	}
	r.owners[device] = owner
	return nil
}

// Release はデバイスの所有権を解放する
// 所有者が異なる場合は何もしない
func (r *Registry) Release(device, owner string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.owners[device] == owner {
		delete(r.owners, device)
	}
}

// Owner はデバイスの現在の所有者を返す
func (r *Registry) Owner(device string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	owner, exists := r.owners[device]
	return owner, exists
}
