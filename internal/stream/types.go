package stream

import (
	"errors"
	"fmt"
	"image"
	"time"

	"sensorstream/internal/codec"
	"sensorstream/internal/sensor"
)

// State はManagerの状態を表す
type State int32

const (
	StateNotStarted State = iota // 未開始
	StateStarting                // 開始処理中
	StateRunning                 // 稼働中
	StateStopping                // 停止処理中
	StateStopped                 // 停止済み
	StateFailed                  // 失敗（ソースが使用不能）
)

var stateNames = map[State]string{
	StateNotStarted: "not_started",
	StateStarting:   "starting",
	StateRunning:    "running",
	StateStopping:   "stopping",
	StateStopped:    "stopped",
	StateFailed:     "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// MarshalText はJSONで状態名を出力するために実装する
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText は状態名を解析する
func (s *State) UnmarshalText(text []byte) error {
	for state, name := range stateNames {
		if name == string(text) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("不明な状態: %q", text)
}

var (
	// ErrNoFrame はタイムアウト内にフレームが得られなかったことを示す
	ErrNoFrame = errors.New("no frame available")
	// ErrStopped は待機中にストリームが停止されたことを示す
	ErrStopped = errors.New("ストリームは停止されました")
	// ErrNotRunning はストリームが稼働していないことを示す
	ErrNotRunning = errors.New("ストリームは稼働していません")
	// ErrAlreadyRunningElsewhere は別のManagerが同じデバイスを使用中であることを示す
	ErrAlreadyRunningElsewhere = errors.New("デバイスは別のストリームで使用中です")
	// ErrSourceFailed はソースが使用不能になりストリームが失敗したことを示す
	ErrSourceFailed = errors.New("センサーソースが失敗しました")
)

// Frame はセンサーから取得した1サンプル
// 生成後は変更しない。複数の消費者が参照しても安全
type Frame struct {
	ID         string        // 取得時に割り当てるUUID
	Seq        uint64        // 稼働中に単調増加する通し番号
	Color      image.Image   // カラー画像
	Depth      *image.Gray16 // 深度画像（深度対応構成のみ）
	CapturedAt time.Time     // 取得時刻（消費時刻ではない）

	// Error が設定されたフレームはセンチネルで、画像は信頼できない
	Error string

	// StoreError は永続化に失敗した場合の診断
	StoreError string
}

// Valid はフレームが正常に取得されたものか判定する
func (f *Frame) Valid() bool {
	return f.Error == ""
}

// WithStoreError は永続化エラーを付与したコピーを返す
func (f *Frame) WithStoreError(msg string) *Frame {
	c := *f
	c.StoreError = msg
	return &c
}

// NewSentinelFrame は構成サイズのゼロ画像を持つエラーフレームを作成する
func NewSentinelFrame(spec sensor.StreamSpec, msg string, at time.Time) *Frame {
	w, h := spec.Resolution.Width, spec.Resolution.Height

	f := &Frame{
		Color:      codec.BlankColor(w, h),
		CapturedAt: at,
		Error:      msg,
	}
	if spec.HasChannel(sensor.ChannelDepth) {
		f.Depth = codec.BlankDepth(w, h)
	}
	return f
}

// Config はManagerの動作設定
type Config struct {
	WarmupFrames         int           // 開始時に捨てるサンプル数（自動露出の安定待ち）
	StopTimeout          time.Duration // 停止時のループ終了待ち上限
	CaptureTimeout       time.Duration // CaptureOnceのフレーム待ち上限
	MissThreshold        int           // 連続ミスがこの回数に達すると不健全とみなす
	MaxConsecutiveErrors int           // 連続エラーがこの回数を超えるとソース失敗とみなす
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		WarmupFrames:         5,
		StopTimeout:          3 * time.Second,
		CaptureTimeout:       2 * time.Second,
		MissThreshold:        30,
		MaxConsecutiveErrors: 10,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.WarmupFrames < 0 {
		c.WarmupFrames = 0
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = d.StopTimeout
	}
	if c.CaptureTimeout <= 0 {
		c.CaptureTimeout = d.CaptureTimeout
	}
	if c.MissThreshold <= 0 {
		c.MissThreshold = d.MissThreshold
	}
	if c.MaxConsecutiveErrors <= 0 {
		c.MaxConsecutiveErrors = d.MaxConsecutiveErrors
	}
	return c
}
