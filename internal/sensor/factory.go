package sensor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// SourceConfig はソース作成設定
type SourceConfig struct {
	Type          SourceType    // ソースタイプ
	Device        string        // デバイスパスまたはディスプレイ名
	SampleTimeout time.Duration // WaitForSampleの待機上限
	Quality       int           // ffmpegのMJPEG品質 (2-31, 小さいほど高品質)
	MockInterval  time.Duration // モックのフレーム間隔
	Discovery     Discovery     // nilの場合はLinuxDiscovery
	Logger        *slog.Logger
}

// Factory はソース作成ファクトリー
type Factory interface {
	CreateSource(config SourceConfig) (FrameSource, error)
	SupportedTypes() []SourceType
}

// SourceCreator はソース作成関数の型
type SourceCreator func(config SourceConfig) (FrameSource, error)

// DefaultFactory は標準実装
type DefaultFactory struct {
	mu       sync.RWMutex
	creators map[SourceType]SourceCreator
}

// NewFactory は標準のドライバーを登録したファクトリーを作成する
func NewFactory() *DefaultFactory {
	factory := &DefaultFactory{
		creators: make(map[SourceType]SourceCreator),
	}

	factory.Register(SourceTypeV4L2, newV4L2Source)
	factory.Register(SourceTypeX11, newX11Source)
	factory.Register(SourceTypeMock, newMockSource)

	return factory
}

// Register はソース作成関数を登録する
func (f *DefaultFactory) Register(sourceType SourceType, creator SourceCreator) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creators[sourceType] = creator
}

// CreateSource はソースを作成する
func (f *DefaultFactory) CreateSource(config SourceConfig) (FrameSource, error) {
	f.mu.RLock()
	creator, exists := f.creators[config.Type]
	f.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("サポートされていないソースタイプ: %s", config.Type)
	}

	return creator(config)
}

// SupportedTypes はサポートされているソースタイプを返す
func (f *DefaultFactory) SupportedTypes() []SourceType {
	f.mu.RLock()
	defer f.mu.RUnlock()

	types := make([]SourceType, 0, len(f.creators))
	for sourceType := range f.creators {
		types = append(types, sourceType)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

func newV4L2Source(config SourceConfig) (FrameSource, error) {
	if config.Device == "" {
		return nil, fmt.Errorf("V4L2ソースの作成にはデバイスパスが必要です")
	}

	discovery := config.Discovery
	if discovery == nil {
		discovery = NewLinuxDiscovery()
	}

	// 名前が取れなくても作成は続ける
	name := fmt.Sprintf("V4L2 Sensor (%s)", config.Device)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if info, err := discovery.GetDeviceInfo(ctx, config.Device); err == nil && info != nil {
		name = info.Name
	}

	info := SourceInfo{
		Type:        SourceTypeV4L2,
		Name:        name,
		Device:      config.Device,
		Driver:      "v4l2",
		Description: fmt.Sprintf("V4L2 Sensor: %s", name),
	}
	return NewFFmpegSource(info, discovery, config.SampleTimeout, config.Quality, config.Logger), nil
}

func newX11Source(config SourceConfig) (FrameSource, error) {
	display := config.Device
	if display == "" {
		display = ":0.0"
	}

	info := SourceInfo{
		Type:        SourceTypeX11,
		Name:        fmt.Sprintf("Screen (%s)", display),
		Device:      display,
		Driver:      "x11grab",
		Description: fmt.Sprintf("X11 Screen Capture: %s", display),
	}
	return NewFFmpegSource(info, nil, config.SampleTimeout, config.Quality, config.Logger), nil
}

func newMockSource(config SourceConfig) (FrameSource, error) {
	device := config.Device
	if device == "" {
		device = "mock0"
	}
	interval := config.MockInterval
	if interval <= 0 {
		interval = 33 * time.Millisecond
	}
	return NewMockSource(device, interval), nil
}
