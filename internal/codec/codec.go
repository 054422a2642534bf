// Package codec はセンサーの生サンプルと画像、エンコード済みバイト列の相互変換を提供する
//
// 変換はすべて純粋関数で、入力を変更しない
package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"

	"sensorstream/internal/sensor"
)

// DefaultJPEGQuality はカラー画像のデフォルトJPEG品質
const DefaultJPEGQuality = 85

// ErrDecode はサンプルのデコード失敗を示す
var ErrDecode = errors.New("デコードに失敗しました")

// Encoder はフレーム画像を保存用のバイト列へ変換する
type Encoder interface {
	// EncodeColor はカラー画像をエンコードする（非可逆でよい）
	EncodeColor(img image.Image) ([]byte, error)

	// EncodeDepth は深度画像をエンコードする（可逆でなければならない）
	EncodeDepth(img *image.Gray16) ([]byte, error)
}

// ImageEncoder はカラーをJPEG、深度を16bit PNGにエンコードする
type ImageEncoder struct {
	Quality int
}

// NewImageEncoder は新しいImageEncoderを作成する
func NewImageEncoder(quality int) *ImageEncoder {
	if quality < 1 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	return &ImageEncoder{Quality: quality}
}

// EncodeColor はカラー画像をJPEGにエンコードする
func (e *ImageEncoder) EncodeColor(img image.Image) ([]byte, error) {
	if img == nil {
		return nil, fmt.Errorf("カラー画像がありません")
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: e.Quality}); err != nil {
		return nil, fmt.Errorf("JPEGエンコードに失敗: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodeDepth は深度画像を16bit PNGにエンコードする
func (e *ImageEncoder) EncodeDepth(img *image.Gray16) ([]byte, error) {
	if img == nil {
		return nil, fmt.Errorf("深度画像がありません")
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("PNGエンコードに失敗: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeColor は生のカラーサンプルを画像に変換する
func DecodeColor(raw sensor.RawImage) (image.Image, error) {
	w, h := raw.Width, raw.Height
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("%w: 無効なサイズ %dx%d", ErrDecode, w, h)
	}

	switch raw.Format {
	case sensor.FormatRGB8, sensor.FormatBGR8:
		if len(raw.Data) != w*h*3 {
			return nil, fmt.Errorf("%w: %sのデータ長 %d が %dx%d と一致しません", ErrDecode, raw.Format, len(raw.Data), w, h)
		}
		r, b := 0, 2
		if raw.Format == sensor.FormatBGR8 {
			r, b = 2, 0
		}
		img := image.NewRGBA(image.Rect(0, 0, w, h))
		for i := 0; i < w*h; i++ {
			src := raw.Data[i*3 : i*3+3]
			img.Pix[i*4] = src[r]
			img.Pix[i*4+1] = src[1]
			img.Pix[i*4+2] = src[b]
			img.Pix[i*4+3] = 0xFF
		}
		return img, nil

	case sensor.FormatGray8:
		if len(raw.Data) != w*h {
			return nil, fmt.Errorf("%w: gray8のデータ長 %d が %dx%d と一致しません", ErrDecode, len(raw.Data), w, h)
		}
		img := image.NewGray(image.Rect(0, 0, w, h))
		copy(img.Pix, raw.Data)
		return img, nil

	case sensor.FormatMJPEG:
		img, err := jpeg.Decode(bytes.NewReader(raw.Data))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecode, err)
		}
		if b := img.Bounds(); b.Dx() != w || b.Dy() != h {
			return nil, fmt.Errorf("%w: JPEGサイズ %dx%d が %dx%d と一致しません", ErrDecode, b.Dx(), b.Dy(), w, h)
		}
		return img, nil

	default:
		return nil, fmt.Errorf("%w: 未対応のカラーフォーマット %q", ErrDecode, raw.Format)
	}
}

// DecodeDepth は生の深度サンプル(Z16リトルエンディアン)を画像に変換する
func DecodeDepth(raw sensor.RawImage) (*image.Gray16, error) {
	w, h := raw.Width, raw.Height
	if raw.Format != sensor.FormatZ16 {
		return nil, fmt.Errorf("%w: 未対応の深度フォーマット %q", ErrDecode, raw.Format)
	}
	if w <= 0 || h <= 0 || len(raw.Data) != w*h*2 {
		return nil, fmt.Errorf("%w: z16のデータ長 %d が %dx%d と一致しません", ErrDecode, len(raw.Data), w, h)
	}

	img := image.NewGray16(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := binary.LittleEndian.Uint16(raw.Data[(y*w+x)*2:])
			img.SetGray16(x, y, color.Gray16{Y: v})
		}
	}
	return img, nil
}

// BlankColor は指定サイズの黒いカラー画像を作成する
func BlankColor(width, height int) image.Image {
	return image.NewRGBA(image.Rect(0, 0, width, height))
}

// BlankDepth は指定サイズのゼロ深度画像を作成する
func BlankDepth(width, height int) *image.Gray16 {
	return image.NewGray16(image.Rect(0, 0, width, height))
}
