package sensor

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// SourceType はソースタイプを定義
type SourceType string

const (
	// SourceTypeV4L2 はV4L2デバイス（USBカメラ等）を表す
	SourceTypeV4L2 SourceType = "v4l2"
	// SourceTypeX11 はX11画面キャプチャを表す
	SourceTypeX11 SourceType = "x11"
	// SourceTypeMock は合成フレームを生成するモックソースを表す
	SourceTypeMock SourceType = "mock"
)

// Channel はストリームに含めるチャンネル
type Channel string

const (
	ChannelColor Channel = "color" // カラー画像
	ChannelDepth Channel = "depth" // 深度画像
)

// PixelFormat は生サンプルのピクセルフォーマット
type PixelFormat string

const (
	FormatRGB8  PixelFormat = "rgb8"  // 8bit RGB (3ch)
	FormatBGR8  PixelFormat = "bgr8"  // 8bit BGR (3ch)
	FormatGray8 PixelFormat = "gray8" // 8bit グレースケール
	FormatMJPEG PixelFormat = "mjpeg" // JPEG圧縮済みフレーム
	FormatZ16   PixelFormat = "z16"   // 16bit 深度 (リトルエンディアン)
)

// Resolution は解像度を表す
type Resolution struct {
	Width  int `json:"width"`  // 幅
	Height int `json:"height"` // 高さ
}

// String は "1280x720" 形式の文字列を返す
func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// StreamSpec はFrameSourceに要求するストリーム仕様
type StreamSpec struct {
	Resolution  Resolution
	FrameRate   int
	Channels    []Channel
	PixelFormat PixelFormat
}

// HasChannel は指定チャンネルが有効か判定する
func (s StreamSpec) HasChannel(ch Channel) bool {
	for _, c := range s.Channels {
		if c == ch {
			return true
		}
	}
	return false
}

// Validate はストリーム仕様の妥当性を検証する
func (s StreamSpec) Validate() error {
	if s.Resolution.Width <= 0 || s.Resolution.Width > 4096 {
		return fmt.Errorf("無効な幅: %d", s.Resolution.Width)
	}
	if s.Resolution.Height <= 0 || s.Resolution.Height > 4096 {
		return fmt.Errorf("無効な高さ: %d", s.Resolution.Height)
	}
	if s.FrameRate <= 0 || s.FrameRate > 120 {
		return fmt.Errorf("無効なFPS値: %d", s.FrameRate)
	}
	if !s.HasChannel(ChannelColor) {
		return fmt.Errorf("カラーチャンネルは必須です")
	}
	return nil
}

// RawImage はデコード前の画像バッファ
type RawImage struct {
	Width  int
	Height int
	Format PixelFormat
	Data   []byte
}

// RawSample はFrameSourceから取り出した1サンプル
type RawSample struct {
	Color      RawImage
	Depth      *RawImage // 深度対応構成のみ
	CapturedAt time.Time // 取得時刻（消費時刻ではない）
}

// SourceInfo はソース情報を表す
type SourceInfo struct {
	Type        SourceType
	Name        string
	Device      string // デバイスパスまたはディスプレイ名
	Driver      string
	Description string
}

// FrameSource はセンサーの取得パイプラインを表す
type FrameSource interface {
	// Start はパイプラインを開始してハンドルを返す
	Start(ctx context.Context, spec StreamSpec) (Handle, error)

	// Info はソース情報を返す
	Info() SourceInfo
}

// Handle は開始済みパイプラインへのハンドル
type Handle interface {
	// WaitForSample は次の生サンプルを待つ
	// サンプルが無ければ ErrNoSample を返す
	WaitForSample(ctx context.Context) (RawSample, error)

	// Stop はパイプラインを停止してデバイスを解放する
	Stop(ctx context.Context) error
}

var (
	// ErrNoSample はタイムアウト内にサンプルが得られなかったことを示す
	ErrNoSample = errors.New("サンプルがありません")
	// ErrDeviceLost はデバイスが切断されたことを示す
	ErrDeviceLost = errors.New("デバイスが切断されました")
	// ErrSourceClosed は停止済みハンドルへの操作を示す
	ErrSourceClosed = errors.New("ソースは停止済みです")
)

// InitError はソースの初期化失敗を表す
type InitError struct {
	Device string
	Err    error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("ソース %s の初期化に失敗: %v", e.Device, e.Err)
}

func (e *InitError) Unwrap() error {
	return e.Err
}

// IsFatal はそれ以上の取得が不可能なエラーか判定する
func IsFatal(err error) bool {
	return errors.Is(err, ErrDeviceLost) || errors.Is(err, ErrSourceClosed)
}

// Discovery はセンサーデバイスの検出機能を提供する
type Discovery interface {
	// ScanDevices はシステム内の利用可能なデバイスをスキャンする
	ScanDevices(ctx context.Context) ([]string, error)

	// IsDeviceAvailable は指定されたデバイスが利用可能かチェックする
	IsDeviceAvailable(ctx context.Context, device string) bool

	// GetDeviceInfo はデバイスの詳細情報を取得する
	GetDeviceInfo(ctx context.Context, device string) (*DeviceInfo, error)
}

// DeviceInfo はデバイスの詳細情報を表す
type DeviceInfo struct {
	Device      string       `json:"device"`      // デバイスパス
	Name        string       `json:"name"`        // デバイス名
	Driver      string       `json:"driver"`      // ドライバー名
	Resolutions []Resolution `json:"resolutions"` // サポートされる解像度
	Formats     []string     `json:"formats"`     // サポートされるフォーマット
}
