package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// TestConfigLoad はデフォルト設定の読み込みをテストする
func TestConfigLoad(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	// サーバー設定の検証
	if cfg.Server.Host == "" {
		t.Error("サーバーホストが設定されていません")
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		t.Errorf("無効なポート番号: %d", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout <= 0 {
		t.Error("読み込みタイムアウトが設定されていません")
	}
	// WriteTimeout は 0（無効）でも正常
	if cfg.Server.WriteTimeout < 0 {
		t.Error("書き込みタイムアウトが負の値です")
	}

	// センサー設定の検証
	if cfg.Sensor.Width != 1280 || cfg.Sensor.Height != 720 || cfg.Sensor.FPS != 30 {
		t.Errorf("センサーのデフォルト値が不正: %+v", cfg.Sensor)
	}
	if cfg.Stream.WarmupFrames != 5 {
		t.Errorf("ウォームアップ数が不正: got %d, want 5", cfg.Stream.WarmupFrames)
	}
	if cfg.Stream.StopTimeout != 3*time.Second {
		t.Errorf("停止タイムアウトが不正: got %v", cfg.Stream.StopTimeout)
	}
	if cfg.Sink.Redis.Key != "latest_frame" {
		t.Errorf("Redisキーが不正: got %s", cfg.Sink.Redis.Key)
	}
}

// TestConfigLoadFile は設定ファイルの読み込みをテストする
func TestConfigLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: 9090
sensor:
  source: mock
  width: 640
  height: 480
  depth: true
stream:
  capture_timeout: 500ms
sink:
  redis:
    enabled: true
    url: redis://cache:6379/1
    ttl: 1m
logging:
  format: json
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("設定ファイルの作成に失敗しました: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("ポートが反映されていません: got %d", cfg.Server.Port)
	}
	// ファイルに無い値はデフォルトのまま
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("デフォルトのホストが失われています: got %s", cfg.Server.Host)
	}
	if cfg.Sensor.Source != "mock" || cfg.Sensor.Width != 640 || !cfg.Sensor.Depth {
		t.Errorf("センサー設定が反映されていません: %+v", cfg.Sensor)
	}
	if cfg.Stream.CaptureTimeout != 500*time.Millisecond {
		t.Errorf("期間の解析に失敗: got %v", cfg.Stream.CaptureTimeout)
	}
	if !cfg.Sink.Redis.Enabled || cfg.Sink.Redis.TTL != time.Minute {
		t.Errorf("Redis設定が反映されていません: %+v", cfg.Sink.Redis)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("ログ形式が反映されていません: got %s", cfg.Logging.Format)
	}
}

// TestConfigLoadMissingFile は存在しない設定ファイルのエラーをテストする
func TestConfigLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("エラーが期待されましたが、エラーが発生しませんでした")
	}
}

// TestConfigValidation は設定の検証をテストする
func TestConfigValidation(t *testing.T) {
	testCases := []struct {
		name      string
		modify    func(c *Config)
		expectErr bool
	}{
		{
			name:      "正常な設定",
			modify:    func(c *Config) {},
			expectErr: false,
		},
		{
			name:      "無効なポート番号",
			modify:    func(c *Config) { c.Server.Port = 99999 },
			expectErr: true,
		},
		{
			name:      "不明なソース",
			modify:    func(c *Config) { c.Sensor.Source = "rtsp" },
			expectErr: true,
		},
		{
			name:      "v4l2デバイスパスなし",
			modify:    func(c *Config) { c.Sensor.Device = "" },
			expectErr: true,
		},
		{
			name:      "無効なFPS",
			modify:    func(c *Config) { c.Sensor.FPS = 0 },
			expectErr: true,
		},
		{
			name:      "ffmpegソースで深度",
			modify:    func(c *Config) { c.Sensor.Depth = true },
			expectErr: true,
		},
		{
			name: "モックソースで深度",
			modify: func(c *Config) {
				c.Sensor.Source = "mock"
				c.Sensor.Depth = true
			},
			expectErr: false,
		},
		{
			name: "Redis URLなし",
			modify: func(c *Config) {
				c.Sink.Redis.Enabled = true
				c.Sink.Redis.URL = ""
			},
			expectErr: true,
		},
		{
			name:      "TimescaleDB DSNなし",
			modify:    func(c *Config) { c.Sink.Timescale.Enabled = true },
			expectErr: true,
		},
		{
			name: "ファイル保存先なし",
			modify: func(c *Config) {
				c.Sink.File.Enabled = true
				c.Sink.File.Dir = ""
			},
			expectErr: true,
		},
		{
			name:      "不明なログレベル",
			modify:    func(c *Config) { c.Logging.Level = "verbose" },
			expectErr: true,
		},
		{
			name:      "JPEG品質の範囲外",
			modify:    func(c *Config) { c.Stream.JPEGQuality = 101 },
			expectErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.modify(cfg)

			err := cfg.Validate()
			if tc.expectErr && err == nil {
				t.Error("エラーが期待されましたが、エラーが発生しませんでした")
			}
			if !tc.expectErr && err != nil {
				t.Errorf("予期しないエラーが発生しました: %v", err)
			}
		})
	}
}

// TestServerAddress はサーバーアドレスの生成をテストする
func TestServerAddress(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{
			Host: "192.168.1.100",
			Port: 9090,
		},
	}

	expected := "192.168.1.100:9090"
	actual := cfg.ServerAddress()

	if actual != expected {
		t.Errorf("サーバーアドレスが一致しません: got %s, want %s", actual, expected)
	}
}

// TestEnvironmentVariables は環境変数の処理をテストする
// 注意: このテストは環境変数を変更するため、parallelは使わない
func TestEnvironmentVariables(t *testing.T) {
	t.Setenv("SENSORSTREAM_SERVER_HOST", "test.example.com")
	t.Setenv("SENSORSTREAM_SERVER_PORT", "9999")
	t.Setenv("SENSORSTREAM_STREAM_WARMUP_FRAMES", "0")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	if cfg.Server.Host != "test.example.com" {
		t.Errorf("環境変数のホストが反映されていません: got %s, want test.example.com", cfg.Server.Host)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("環境変数のポートが反映されていません: got %d, want 9999", cfg.Server.Port)
	}
	if cfg.Stream.WarmupFrames != 0 {
		t.Errorf("環境変数のウォームアップ数が反映されていません: got %d", cfg.Stream.WarmupFrames)
	}
}

// TestConfigYAML は設定のYAML出力をテストする
func TestConfigYAML(t *testing.T) {
	out, err := Default().YAML()
	if err != nil {
		t.Fatalf("YAML変換に失敗しました: %v", err)
	}

	text := string(out)
	for _, want := range []string{"port: 8080", "source: v4l2", "key: latest_frame", "stop_timeout: 3s"} {
		if !strings.Contains(text, want) {
			t.Errorf("YAMLに %q が含まれていません:\n%s", want, text)
		}
	}

	// 出力したYAMLは再読み込みできる
	path := filepath.Join(t.TempDir(), "dump.yaml")
	if err := os.WriteFile(path, out, 0o644); err != nil {
		t.Fatalf("書き込みに失敗しました: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("再読み込みに失敗しました: %v", err)
	}
	if cfg.Stream.StopTimeout != 3*time.Second {
		t.Errorf("再読み込みした期間が不正: got %v", cfg.Stream.StopTimeout)
	}
}
