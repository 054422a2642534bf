package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey は最新フレームを保持するハッシュのキー
const DefaultRedisKey = "latest_frame"

// RedisOptions はRedisSinkの設定
type RedisOptions struct {
	Key       string        // 最新フレームのハッシュキー
	TTL       time.Duration // 0の場合は期限なし
	Stream    string        // 空でなければ履歴をストリームに追加する
	StreamLen int64         // ストリームの概算上限
}

// RedisSink は最新フレームをRedisハッシュに書き込む
type RedisSink struct {
	client redis.UniversalClient
	opts   RedisOptions
}

// NewRedisSink は新しいRedisSinkを作成する
func NewRedisSink(client redis.UniversalClient, opts RedisOptions) *RedisSink {
	if opts.Key == "" {
		opts.Key = DefaultRedisKey
	}
	if opts.Stream != "" && opts.StreamLen <= 0 {
		opts.StreamLen = 1000
	}
	return &RedisSink{client: client, opts: opts}
}

// DialRedis はURLからクライアントを作成して疎通を確認する
func DialRedis(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("RedisのURL解析に失敗: %w", err)
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("Redisへの接続に失敗: %w", err)
	}
	return client, nil
}

// Write はレコードをハッシュに書き込む
func (s *RedisSink) Write(ctx context.Context, record Record) error {
	fields := map[string]interface{}{
		"frame_id":    record.FrameID,
		"color_image": record.ColorBytes,
		"depth_image": record.DepthBytes,
		"timestamp":   record.Timestamp.UTC().Format(time.RFC3339Nano),
		"error":       record.Error,
	}

	pipe := s.client.TxPipeline()
	// 前フレームのフィールドが残らないよう置き換える
	pipe.Del(ctx, s.opts.Key)
	pipe.HSet(ctx, s.opts.Key, fields)
	if s.opts.TTL > 0 {
		pipe.Expire(ctx, s.opts.Key, s.opts.TTL)
	}
	if s.opts.Stream != "" {
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: s.opts.Stream,
			MaxLen: s.opts.StreamLen,
			Approx: true,
			Values: fields,
		})
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("Redisへの書き込みに失敗 (key=%s): %w", s.opts.Key, err)
	}
	return nil
}

// Close はクライアントを閉じる
func (s *RedisSink) Close() error {
	return s.client.Close()
}
