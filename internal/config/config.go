package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix は環境変数による上書きの接頭辞
// 例: SENSORSTREAM_SERVER_PORT=9090
const EnvPrefix = "SENSORSTREAM"

// Config はアプリケーション全体の設定を保持する構造体
type Config struct {
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Sensor  SensorConfig  `yaml:"sensor" mapstructure:"sensor"`
	Stream  StreamConfig  `yaml:"stream" mapstructure:"stream"`
	Sink    SinkConfig    `yaml:"sink" mapstructure:"sink"`
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`
}

// ServerConfig はHTTPサーバーの設定
type ServerConfig struct {
	Host string `yaml:"host" mapstructure:"host"`                            // リッスンするホスト
	Port int    `yaml:"port" mapstructure:"port" validate:"min=1,max=65535"` // リッスンするポート番号

	// タイムアウト設定
	ReadTimeout     time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" validate:"min=0"`   // 読み込みタイムアウト
	WriteTimeout    time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" validate:"min=0"` // 書き込みタイムアウト（0で無効）
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// SensorConfig はセンサーソースの設定
type SensorConfig struct {
	Source        string        `yaml:"source" mapstructure:"source" validate:"oneof=v4l2 x11 mock"` // ソースタイプ
	Device        string        `yaml:"device" mapstructure:"device"`                                // デバイスパスまたはディスプレイ名
	Width         int           `yaml:"width" mapstructure:"width" validate:"min=1,max=4096"`
	Height        int           `yaml:"height" mapstructure:"height" validate:"min=1,max=4096"`
	FPS           int           `yaml:"fps" mapstructure:"fps" validate:"min=1,max=120"`
	Depth         bool          `yaml:"depth" mapstructure:"depth"`                                   // 深度チャンネルを有効にする
	SampleTimeout time.Duration `yaml:"sample_timeout" mapstructure:"sample_timeout" validate:"gt=0"` // 1サンプルの待機上限
	Quality       int           `yaml:"quality" mapstructure:"quality" validate:"min=2,max=31"`       // ffmpegのMJPEG品質
	MockInterval  time.Duration `yaml:"mock_interval" mapstructure:"mock_interval" validate:"min=0"`
}

// StreamConfig はストリーム管理の設定
type StreamConfig struct {
	WarmupFrames         int           `yaml:"warmup_frames" mapstructure:"warmup_frames" validate:"min=0"`
	StopTimeout          time.Duration `yaml:"stop_timeout" mapstructure:"stop_timeout" validate:"gt=0"`
	CaptureTimeout       time.Duration `yaml:"capture_timeout" mapstructure:"capture_timeout" validate:"gt=0"`
	MissThreshold        int           `yaml:"miss_threshold" mapstructure:"miss_threshold" validate:"min=1"`
	MaxConsecutiveErrors int           `yaml:"max_consecutive_errors" mapstructure:"max_consecutive_errors" validate:"min=1"`
	JPEGQuality          int           `yaml:"jpeg_quality" mapstructure:"jpeg_quality" validate:"min=1,max=100"`
}

// SinkConfig は永続化先の設定
type SinkConfig struct {
	Redis     RedisConfig     `yaml:"redis" mapstructure:"redis"`
	Timescale TimescaleConfig `yaml:"timescale" mapstructure:"timescale"`
	File      FileConfig      `yaml:"file" mapstructure:"file"`
	Async     AsyncConfig     `yaml:"async" mapstructure:"async"`
}

// RedisConfig はRedisへの最新フレーム保存設定
type RedisConfig struct {
	Enabled   bool          `yaml:"enabled" mapstructure:"enabled"`
	URL       string        `yaml:"url" mapstructure:"url"` // 例: redis://localhost:6379/0
	Key       string        `yaml:"key" mapstructure:"key"`
	TTL       time.Duration `yaml:"ttl" mapstructure:"ttl" validate:"min=0"`
	Stream    string        `yaml:"stream" mapstructure:"stream"` // 空でなければ履歴を保存する
	StreamLen int64         `yaml:"stream_len" mapstructure:"stream_len" validate:"min=0"`
}

// TimescaleConfig はTimescaleDBへの保存設定
type TimescaleConfig struct {
	Enabled      bool   `yaml:"enabled" mapstructure:"enabled"`
	DSN          string `yaml:"dsn" mapstructure:"dsn"`
	EnsureSchema bool   `yaml:"ensure_schema" mapstructure:"ensure_schema"`
}

// FileConfig はファイル保存設定
type FileConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Dir     string `yaml:"dir" mapstructure:"dir"`
}

// AsyncConfig は非同期書き込みの設定
type AsyncConfig struct {
	Enabled      bool          `yaml:"enabled" mapstructure:"enabled"`
	QueueSize    int           `yaml:"queue_size" mapstructure:"queue_size" validate:"min=1"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" validate:"gt=0"`
}

// LoggingConfig はログ出力の設定
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level" validate:"oneof=debug info warn error DEBUG INFO WARN ERROR"`
	Format string `yaml:"format" mapstructure:"format" validate:"oneof=text json"`
}

// Default はデフォルト設定を返す
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    0, // ストリーミング用にタイムアウト無効化
			ShutdownTimeout: 5 * time.Second,
		},
		Sensor: SensorConfig{
			Source:        "v4l2",
			Device:        "/dev/video0",
			Width:         1280,
			Height:        720,
			FPS:           30,
			SampleTimeout: time.Second,
			Quality:       3,
			MockInterval:  33 * time.Millisecond,
		},
		Stream: StreamConfig{
			WarmupFrames:         5,
			StopTimeout:          3 * time.Second,
			CaptureTimeout:       2 * time.Second,
			MissThreshold:        30,
			MaxConsecutiveErrors: 10,
			JPEGQuality:          85,
		},
		Sink: SinkConfig{
			Redis: RedisConfig{
				URL:       "redis://localhost:6379/0",
				Key:       "latest_frame",
				StreamLen: 1000,
			},
			Timescale: TimescaleConfig{
				EnsureSchema: true,
			},
			File: FileConfig{
				Dir: "data/frames",
			},
			Async: AsyncConfig{
				QueueSize:    16,
				WriteTimeout: 5 * time.Second,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load は設定を読み込む
// デフォルト値、設定ファイル（pathが空でなければ）、環境変数の順に上書きする
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("設定ファイル %s の読み込みに失敗: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("設定の解析に失敗: %w", err)
	}

	// 設定の検証
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}

	return cfg, nil
}

// setDefaults は環境変数での上書きを有効にするため全キーのデフォルトを登録する
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)

	v.SetDefault("sensor.source", d.Sensor.Source)
	v.SetDefault("sensor.device", d.Sensor.Device)
	v.SetDefault("sensor.width", d.Sensor.Width)
	v.SetDefault("sensor.height", d.Sensor.Height)
	v.SetDefault("sensor.fps", d.Sensor.FPS)
	v.SetDefault("sensor.depth", d.Sensor.Depth)
	v.SetDefault("sensor.sample_timeout", d.Sensor.SampleTimeout)
	v.SetDefault("sensor.quality", d.Sensor.Quality)
	v.SetDefault("sensor.mock_interval", d.Sensor.MockInterval)

	v.SetDefault("stream.warmup_frames", d.Stream.WarmupFrames)
	v.SetDefault("stream.stop_timeout", d.Stream.StopTimeout)
	v.SetDefault("stream.capture_timeout", d.Stream.CaptureTimeout)
	v.SetDefault("stream.miss_threshold", d.Stream.MissThreshold)
	v.SetDefault("stream.max_consecutive_errors", d.Stream.MaxConsecutiveErrors)
	v.SetDefault("stream.jpeg_quality", d.Stream.JPEGQuality)

	v.SetDefault("sink.redis.enabled", d.Sink.Redis.Enabled)
	v.SetDefault("sink.redis.url", d.Sink.Redis.URL)
	v.SetDefault("sink.redis.key", d.Sink.Redis.Key)
	v.SetDefault("sink.redis.ttl", d.Sink.Redis.TTL)
	v.SetDefault("sink.redis.stream", d.Sink.Redis.Stream)
	v.SetDefault("sink.redis.stream_len", d.Sink.Redis.StreamLen)
	v.SetDefault("sink.timescale.enabled", d.Sink.Timescale.Enabled)
	v.SetDefault("sink.timescale.dsn", d.Sink.Timescale.DSN)
	v.SetDefault("sink.timescale.ensure_schema", d.Sink.Timescale.EnsureSchema)
	v.SetDefault("sink.file.enabled", d.Sink.File.Enabled)
	v.SetDefault("sink.file.dir", d.Sink.File.Dir)
	v.SetDefault("sink.async.enabled", d.Sink.Async.Enabled)
	v.SetDefault("sink.async.queue_size", d.Sink.Async.QueueSize)
	v.SetDefault("sink.async.write_timeout", d.Sink.Async.WriteTimeout)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
}

var validate = validator.New()

// Validate は設定の妥当性を検証する
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("無効な設定値 %s=%v (%s)", fe.Namespace(), fe.Value(), fe.Tag())
		}
		return err
	}

	// タグで表現できない組み合わせの検証
	if c.Sensor.Source == "v4l2" && c.Sensor.Device == "" {
		return fmt.Errorf("v4l2ソースにはデバイスパスが必要です")
	}
	if c.Sensor.Depth && c.Sensor.Source != "mock" {
		return fmt.Errorf("深度チャンネルは %s ソースでは利用できません", c.Sensor.Source)
	}
	if c.Sink.Redis.Enabled && c.Sink.Redis.URL == "" {
		return fmt.Errorf("Redisが有効ですがURLが設定されていません")
	}
	if c.Sink.Timescale.Enabled && c.Sink.Timescale.DSN == "" {
		return fmt.Errorf("TimescaleDBが有効ですがDSNが設定されていません")
	}
	if c.Sink.File.Enabled && c.Sink.File.Dir == "" {
		return fmt.Errorf("ファイル保存が有効ですが保存先が設定されていません")
	}

	return nil
}

// ServerAddress はサーバーのリッスンアドレスを返す
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// YAML は有効な設定をYAMLで返す
func (c *Config) YAML() ([]byte, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("設定のYAML変換に失敗: %w", err)
	}
	return out, nil
}
