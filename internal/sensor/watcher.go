package sensor

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// DeviceWatcher はデバイスノードの消失を監視する
type DeviceWatcher struct {
	device  string
	watcher *fsnotify.Watcher
	logger  *slog.Logger

	lost     chan struct{}
	lostOnce sync.Once

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewDeviceWatcher はデバイスノードの親ディレクトリを監視するDeviceWatcherを作成する
func NewDeviceWatcher(device string, logger *slog.Logger) (*DeviceWatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("ファイル監視の作成に失敗: %w", err)
	}

	if err := watcher.Add(filepath.Dir(device)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("ディレクトリ %s の監視に失敗: %w", filepath.Dir(device), err)
	}

	w := &DeviceWatcher{
		device:  filepath.Clean(device),
		watcher: watcher,
		logger:  logger,
		lost:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	w.wg.Add(1)
	go w.run()

	return w, nil
}

// Lost はデバイス消失時にクローズされるチャンネルを返す
func (w *DeviceWatcher) Lost() <-chan struct{} {
	return w.lost
}

// Close は監視を終了する
func (w *DeviceWatcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.watcher.Close()
		w.wg.Wait()
	})
	return err
}

func (w *DeviceWatcher) run() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.device {
				continue
			}
			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				w.logger.Warn("デバイスノードが削除されました", "device", w.device, "op", event.Op.String())
				w.lostOnce.Do(func() { close(w.lost) })
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("デバイス監視エラー", "device", w.device, "error", err)
		}
	}
}
