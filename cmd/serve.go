package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"sensorstream/internal/sensor"
	"sensorstream/internal/server"
)

func newServeCmd(flags *globalFlags) *cobra.Command {
	var autoStart bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "HTTPサーバーを起動する",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServeWith(cmd, flags, autoStart)
		},
	}
	cmd.Flags().BoolVar(&autoStart, "start", true, "起動時にストリームを開始する")
	return cmd
}

func runServeWith(cmd *cobra.Command, flags *globalFlags, autoStart bool) error {
	cfg, err := loadConfig(cmd, flags)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	app, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	if autoStart {
		// 開始に失敗してもAPIから再開できるようにサーバーは起動する
		if err := app.Manager.Start(ctx); err != nil {
			logger.Error("ストリームの開始に失敗しました", "device", app.Manager.Device(), "error", err)
		}
	}

	srv := server.New(cfg, app.Manager,
		server.WithLogger(logger),
		server.WithEncoder(app.Encoder),
		server.WithDiscovery(sensor.NewLinuxDiscovery()),
	)

	logger.Info("sensorstream サーバーを起動します", "addr", cfg.ServerAddress(), "source", cfg.Sensor.Source)
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("サーバーの起動に失敗しました: %w", err)
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Stream.StopTimeout+time.Second)
	defer cancel()
	if err := app.Manager.Stop(stopCtx); err != nil {
		logger.Warn("ストリームの停止に失敗しました", "error", err)
	}
	return nil
}
