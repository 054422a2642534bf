package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"sensorstream/internal/codec"
	"sensorstream/internal/config"
	"sensorstream/internal/sensor"
	"sensorstream/internal/sink"
	"sensorstream/internal/stream"
)

// app は設定から組み立てた実行時コンポーネント
type app struct {
	Manager *stream.Manager
	Encoder codec.Encoder
	Sink    sink.Sink // 永続化が無効ならnil
}

// Close はSinkを閉じる
func (a *app) Close() {
	if a.Sink == nil {
		return
	}
	if err := sink.Close(a.Sink); err != nil {
		slog.Warn("Sinkのクローズに失敗しました", "error", err)
	}
}

// buildApp はソース、Sink、Managerを組み立てる
func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	source, err := buildSource(cfg, logger)
	if err != nil {
		return nil, err
	}

	out, err := buildSink(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	encoder := codec.NewImageEncoder(cfg.Stream.JPEGQuality)
	opts := []stream.Option{
		stream.WithEncoder(encoder),
		stream.WithLogger(logger),
		stream.WithConfig(streamConfig(cfg)),
	}
	if out != nil {
		opts = append(opts, stream.WithSink(out))
	}

	manager, err := stream.NewManager(source, streamSpec(cfg), opts...)
	if err != nil {
		if out != nil {
			_ = sink.Close(out)
		}
		return nil, err
	}

	return &app{Manager: manager, Encoder: encoder, Sink: out}, nil
}

func buildSource(cfg *config.Config, logger *slog.Logger) (sensor.FrameSource, error) {
	source, err := sensor.NewFactory().CreateSource(sensor.SourceConfig{
		Type:          sensor.SourceType(cfg.Sensor.Source),
		Device:        cfg.Sensor.Device,
		SampleTimeout: cfg.Sensor.SampleTimeout,
		Quality:       cfg.Sensor.Quality,
		MockInterval:  cfg.Sensor.MockInterval,
		Logger:        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("ソースの作成に失敗: %w", err)
	}
	return source, nil
}

func streamSpec(cfg *config.Config) sensor.StreamSpec {
	spec := sensor.StreamSpec{
		Resolution:  sensor.Resolution{Width: cfg.Sensor.Width, Height: cfg.Sensor.Height},
		FrameRate:   cfg.Sensor.FPS,
		Channels:    []sensor.Channel{sensor.ChannelColor},
		PixelFormat: sensor.FormatMJPEG,
	}
	if sensor.SourceType(cfg.Sensor.Source) == sensor.SourceTypeMock {
		spec.PixelFormat = sensor.FormatRGB8
	}
	if cfg.Sensor.Depth {
		spec.Channels = append(spec.Channels, sensor.ChannelDepth)
	}
	return spec
}

func streamConfig(cfg *config.Config) stream.Config {
	return stream.Config{
		WarmupFrames:         cfg.Stream.WarmupFrames,
		StopTimeout:          cfg.Stream.StopTimeout,
		CaptureTimeout:       cfg.Stream.CaptureTimeout,
		MissThreshold:        cfg.Stream.MissThreshold,
		MaxConsecutiveErrors: cfg.Stream.MaxConsecutiveErrors,
	}
}

// buildSink は有効な永続化先をまとめたSinkを作成する
// 1つも有効でなければnilを返す
func buildSink(ctx context.Context, cfg *config.Config, logger *slog.Logger) (sink.Sink, error) {
	var sinks []sink.Sink
	closeAll := func() {
		for _, s := range sinks {
			_ = sink.Close(s)
		}
	}

	if rc := cfg.Sink.Redis; rc.Enabled {
		client, err := sink.DialRedis(ctx, rc.URL)
		if err != nil {
			closeAll()
			return nil, err
		}
		sinks = append(sinks, sink.NewRedisSink(client, sink.RedisOptions{
			Key:       rc.Key,
			TTL:       rc.TTL,
			Stream:    rc.Stream,
			StreamLen: rc.StreamLen,
		}))
		logger.Info("Redisへの保存を有効にしました", "key", rc.Key, "stream", rc.Stream)
	}

	if tc := cfg.Sink.Timescale; tc.Enabled {
		ts, err := sink.NewTimescaleSink(ctx, tc.DSN)
		if err != nil {
			closeAll()
			return nil, err
		}
		sinks = append(sinks, ts)
		if tc.EnsureSchema {
			if err := ts.EnsureSchema(ctx); err != nil {
				closeAll()
				return nil, err
			}
		}
		logger.Info("TimescaleDBへの保存を有効にしました")
	}

	if fc := cfg.Sink.File; fc.Enabled {
		fs, err := sink.NewFileSink(fc.Dir)
		if err != nil {
			closeAll()
			return nil, err
		}
		sinks = append(sinks, fs)
		logger.Info("ファイルへの保存を有効にしました", "dir", fc.Dir)
	}

	var out sink.Sink
	switch len(sinks) {
	case 0:
		return nil, nil
	case 1:
		out = sinks[0]
	default:
		out = sink.NewMultiSink(sinks...)
	}

	if ac := cfg.Sink.Async; ac.Enabled {
		out = sink.NewAsyncSink(out, ac.QueueSize, ac.WriteTimeout, logger)
	}
	return out, nil
}
