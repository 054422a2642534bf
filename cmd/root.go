// Package cmd はsensorstreamのコマンドラインを実装します
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"sensorstream/internal/config"
	"sensorstream/internal/logging"
)

// globalFlags はすべてのサブコマンドで共通のフラグ
type globalFlags struct {
	configPath string
	host       string
	port       int
	source     string
	device     string
	logLevel   string
}

// Execute はルートコマンドを実行する
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:   "sensorstream",
		Short: "センサーの最新フレームを配信するサーバー",
		Long: `sensorstream はカメラや深度センサーから連続的にフレームを取得し、
常に最新のフレームだけをHTTP、MJPEG、WebSocketで提供します。
必要に応じてRedis、TimescaleDB、ファイルへフレームを保存します。`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServeWith(cmd, flags, true)
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "", "設定ファイル (YAML)")
	pf.StringVar(&flags.host, "host", "", "サーバーのホスト (デフォルト: 0.0.0.0)")
	pf.IntVar(&flags.port, "port", 0, "サーバーのポート (デフォルト: 8080)")
	pf.StringVar(&flags.source, "source", "", "ソースタイプ (v4l2, x11, mock)")
	pf.StringVar(&flags.device, "device", "", "デバイスパスまたはディスプレイ名")
	pf.StringVar(&flags.logLevel, "log-level", "", "ログレベル (debug, info, warn, error)")

	rootCmd.AddCommand(
		newServeCmd(flags),
		newConfigCmd(flags),
		newDevicesCmd(flags),
		newCaptureCmd(flags),
	)
	return rootCmd
}

// loadConfig は設定を読み込み、指定されたフラグで上書きする
func loadConfig(cmd *cobra.Command, flags *globalFlags) (*config.Config, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}

	changed := cmd.Flags().Changed
	if changed("host") {
		cfg.Server.Host = flags.host
	}
	if changed("port") {
		cfg.Server.Port = flags.port
	}
	if changed("source") {
		cfg.Sensor.Source = flags.source
	}
	if changed("device") {
		cfg.Sensor.Device = flags.device
	}
	if changed("log-level") {
		cfg.Logging.Level = flags.logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*slog.Logger, error) {
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("ロガーの作成に失敗: %w", err)
	}
	slog.SetDefault(logger)
	return logger, nil
}
