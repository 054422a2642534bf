// Package logging はアプリケーション共通の構造化ロガーを構築する
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// 出力形式
const (
	FormatText = "text"
	FormatJSON = "json"
)

// New はレベルと形式を指定してロガーを作成する
// w がnilの場合は標準エラー出力に書き込む
func New(level, format string, w io.Writer) (*slog.Logger, error) {
	if w == nil {
		w = os.Stderr
	}

	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(format) {
	case "", FormatText:
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case FormatJSON:
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("不明なログ形式: %s", format)
	}
}

// ParseLevel はレベル名をslog.Levelに変換する
// 空文字はINFOとして扱う
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "", "INFO":
		return slog.LevelInfo, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("不明なログレベル: %s", level)
	}
}

// Discard は出力を捨てるロガーを返す
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
