package codec

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"sensorstream/internal/sensor"
)

func TestDecodeColor(t *testing.T) {
	tests := []struct {
		name    string
		raw     sensor.RawImage
		want    color.RGBA
		wantErr bool
	}{
		{
			name: "rgb8",
			raw:  sensor.RawImage{Width: 1, Height: 1, Format: sensor.FormatRGB8, Data: []byte{10, 20, 30}},
			want: color.RGBA{R: 10, G: 20, B: 30, A: 255},
		},
		{
			name: "bgr8",
			raw:  sensor.RawImage{Width: 1, Height: 1, Format: sensor.FormatBGR8, Data: []byte{10, 20, 30}},
			want: color.RGBA{R: 30, G: 20, B: 10, A: 255},
		},
		{
			name:    "データ長不一致",
			raw:     sensor.RawImage{Width: 2, Height: 1, Format: sensor.FormatRGB8, Data: []byte{10, 20, 30}},
			wantErr: true,
		},
		{
			name:    "不正なサイズ",
			raw:     sensor.RawImage{Width: 0, Height: 1, Format: sensor.FormatRGB8},
			wantErr: true,
		},
		{
			name:    "未対応フォーマット",
			raw:     sensor.RawImage{Width: 1, Height: 1, Format: sensor.FormatZ16, Data: []byte{0, 0}},
			wantErr: true,
		},
		{
			name:    "壊れたJPEG",
			raw:     sensor.RawImage{Width: 1, Height: 1, Format: sensor.FormatMJPEG, Data: []byte{0xFF, 0xD8, 0xFF, 0xD9}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, err := DecodeColor(tt.raw)
			if tt.wantErr {
				if !errors.Is(err, ErrDecode) {
					t.Errorf("Expected ErrDecode, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeColor failed: %v", err)
			}
			got := color.RGBAModel.Convert(img.At(0, 0)).(color.RGBA)
			if got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestDecodeColor_Gray8(t *testing.T) {
	img, err := DecodeColor(sensor.RawImage{Width: 2, Height: 1, Format: sensor.FormatGray8, Data: []byte{7, 9}})
	if err != nil {
		t.Fatalf("DecodeColor failed: %v", err)
	}
	if g := img.(*image.Gray).GrayAt(1, 0).Y; g != 9 {
		t.Errorf("Expected gray 9, got %d", g)
	}
}

func TestDecodeColor_MJPEG(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 16, 8))
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, src, nil); err != nil {
		t.Fatalf("jpeg.Encode failed: %v", err)
	}

	img, err := DecodeColor(sensor.RawImage{Width: 16, Height: 8, Format: sensor.FormatMJPEG, Data: buf.Bytes()})
	if err != nil {
		t.Fatalf("DecodeColor failed: %v", err)
	}
	if img.Bounds().Dx() != 16 || img.Bounds().Dy() != 8 {
		t.Errorf("Expected 16x8, got %v", img.Bounds())
	}

	// 解像度が構成と異なるフレームは拒否する
	_, err = DecodeColor(sensor.RawImage{Width: 32, Height: 8, Format: sensor.FormatMJPEG, Data: buf.Bytes()})
	if !errors.Is(err, ErrDecode) {
		t.Errorf("Expected ErrDecode for size mismatch, got %v", err)
	}
}

func TestDecodeDepth(t *testing.T) {
	img, err := DecodeDepth(sensor.RawImage{Width: 2, Height: 1, Format: sensor.FormatZ16, Data: []byte{0x34, 0x12, 0xFF, 0xFF}})
	if err != nil {
		t.Fatalf("DecodeDepth failed: %v", err)
	}
	if v := img.Gray16At(0, 0).Y; v != 0x1234 {
		t.Errorf("Expected 0x1234, got %#x", v)
	}
	if v := img.Gray16At(1, 0).Y; v != 0xFFFF {
		t.Errorf("Expected 0xFFFF, got %#x", v)
	}

	if _, err := DecodeDepth(sensor.RawImage{Width: 2, Height: 1, Format: sensor.FormatZ16, Data: []byte{1}}); !errors.Is(err, ErrDecode) {
		t.Errorf("Expected ErrDecode for short data, got %v", err)
	}
	if _, err := DecodeDepth(sensor.RawImage{Width: 1, Height: 1, Format: sensor.FormatRGB8, Data: []byte{1, 2}}); !errors.Is(err, ErrDecode) {
		t.Errorf("Expected ErrDecode for wrong format, got %v", err)
	}
}

func TestImageEncoder(t *testing.T) {
	encoder := NewImageEncoder(0)
	if encoder.Quality != DefaultJPEGQuality {
		t.Errorf("Expected default quality %d, got %d", DefaultJPEGQuality, encoder.Quality)
	}

	colorBytes, err := encoder.EncodeColor(BlankColor(8, 4))
	if err != nil {
		t.Fatalf("EncodeColor failed: %v", err)
	}
	if _, err := jpeg.Decode(bytes.NewReader(colorBytes)); err != nil {
		t.Errorf("Expected valid JPEG: %v", err)
	}

	// 深度は可逆でなければならない
	depth := BlankDepth(3, 2)
	depth.SetGray16(2, 1, color.Gray16{Y: 54321})
	depthBytes, err := encoder.EncodeDepth(depth)
	if err != nil {
		t.Fatalf("EncodeDepth failed: %v", err)
	}
	decoded, err := png.Decode(bytes.NewReader(depthBytes))
	if err != nil {
		t.Fatalf("png.Decode failed: %v", err)
	}
	gray, ok := decoded.(*image.Gray16)
	if !ok {
		t.Fatalf("Expected *image.Gray16, got %T", decoded)
	}
	if !bytes.Equal(gray.Pix, depth.Pix) {
		t.Error("Expected lossless depth round trip")
	}

	if _, err := encoder.EncodeColor(nil); err == nil {
		t.Error("Expected error for nil color image")
	}
	if _, err := encoder.EncodeDepth(nil); err == nil {
		t.Error("Expected error for nil depth image")
	}
}
