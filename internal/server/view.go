package server

import (
	"errors"
	"fmt"
	"time"

	"sensorstream/internal/codec"
	"sensorstream/internal/stream"
)

// FrameView はUIやエージェント向けのフレーム表現
// 画像はJSONでbase64エンコードされる
type FrameView struct {
	HasImage   bool       `json:"has_image"`
	FrameID    string     `json:"frame_id,omitempty"`
	Seq        uint64     `json:"seq,omitempty"`
	CapturedAt *time.Time `json:"captured_at,omitempty"`
	ColorJPEG  []byte     `json:"color_jpeg,omitempty"`
	DepthPNG   []byte     `json:"depth_png,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// ErrorResponse はエラーレスポンス
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// newFrameView はフレームを表示用にエンコードする
// センチネルフレームは画像を含めず has_image=false とする
func newFrameView(frame *stream.Frame, encoder codec.Encoder) (FrameView, error) {
	capturedAt := frame.CapturedAt
	view := FrameView{
		FrameID:    frame.ID,
		Seq:        frame.Seq,
		CapturedAt: &capturedAt,
	}

	if !frame.Valid() {
		view.Error = frame.Error
		return view, nil
	}

	colorJPEG, err := encoder.EncodeColor(frame.Color)
	if err != nil {
		return view, fmt.Errorf("カラー画像のエンコードに失敗: %w", err)
	}
	view.ColorJPEG = colorJPEG

	if frame.Depth != nil {
		depthPNG, err := encoder.EncodeDepth(frame.Depth)
		if err != nil {
			return view, fmt.Errorf("深度画像のエンコードに失敗: %w", err)
		}
		view.DepthPNG = depthPNG
	}

	view.HasImage = true
	view.Error = frame.StoreError
	return view, nil
}

// emptyView は画像の無いビューを作成する
func emptyView(err error) FrameView {
	msg := err.Error()
	switch {
	case errors.Is(err, stream.ErrNoFrame):
		msg = "no frame available"
	case errors.Is(err, stream.ErrStopped):
		msg = "stream stopped"
	}
	return FrameView{HasImage: false, Error: msg}
}
