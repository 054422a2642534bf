package sink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
)

// FileMetadata はFileSinkが画像と並べて保存するメタデータ
type FileMetadata struct {
	FrameID    string    `json:"frame_id"`
	Timestamp  time.Time `json:"timestamp"`
	ColorFile  string    `json:"color_file,omitempty"`
	DepthFile  string    `json:"depth_file,omitempty"`
	ColorBytes int       `json:"color_bytes"`
	DepthBytes int       `json:"depth_bytes"`
	Error      string    `json:"error,omitempty"`
}

// FileSink はフレームを日付ディレクトリ配下のファイルとして保存する
type FileSink struct {
	dir string
}

// NewFileSink は新しいFileSinkを作成する
func NewFileSink(dir string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("保存ディレクトリの作成に失敗: %w", err)
	}
	return &FileSink{dir: dir}, nil
}

// Write はカラー画像・深度画像・メタデータを書き込む
// ファイル名: <dir>/<yyyy-mm-dd>/<unixms>_<id>_color.jpg など
func (s *FileSink) Write(ctx context.Context, record Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dayDir := filepath.Join(s.dir, record.Timestamp.Format("2006-01-02"))
	if err := os.MkdirAll(dayDir, 0o755); err != nil {
		return fmt.Errorf("日付ディレクトリの作成に失敗: %w", err)
	}

	base := fmt.Sprintf("%d_%s", record.Timestamp.UnixMilli(), record.FrameID)
	meta := FileMetadata{
		FrameID:    record.FrameID,
		Timestamp:  record.Timestamp,
		ColorBytes: len(record.ColorBytes),
		DepthBytes: len(record.DepthBytes),
		Error:      record.Error,
	}

	if len(record.ColorBytes) > 0 {
		meta.ColorFile = base + "_color.jpg"
		if err := writeFileAtomic(filepath.Join(dayDir, meta.ColorFile), record.ColorBytes); err != nil {
			return err
		}
	}
	if len(record.DepthBytes) > 0 {
		meta.DepthFile = base + "_depth.png"
		if err := writeFileAtomic(filepath.Join(dayDir, meta.DepthFile), record.DepthBytes); err != nil {
			return err
		}
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("メタデータのエンコードに失敗: %w", err)
	}
	return writeFileAtomic(filepath.Join(dayDir, base+".json"), data)
}

// writeFileAtomic は一時ファイル経由で書き込み、読み手に途中状態を見せない
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("ファイルの書き込みに失敗 %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("ファイルの移動に失敗 %s: %w", path, err)
	}
	return nil
}
