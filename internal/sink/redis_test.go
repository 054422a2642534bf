package sink

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	mr := miniredis.RunT(t)
	client, err := DialRedis(context.Background(), "redis://"+mr.Addr())
	if err != nil {
		t.Fatalf("DialRedis failed: %v", err)
	}
	return client
}

func TestRedisSink_Write(t *testing.T) {
	ctx := context.Background()
	client := newTestRedis(t)
	s := NewRedisSink(client, RedisOptions{})
	defer func() { _ = s.Close() }()

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	err := s.Write(ctx, Record{
		FrameID:    "frame-1",
		ColorBytes: []byte{0xFF, 0xD8},
		DepthBytes: []byte{0x89, 'P'},
		Timestamp:  at,
	})
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	fields, err := client.HGetAll(ctx, DefaultRedisKey).Result()
	if err != nil {
		t.Fatalf("HGetAll failed: %v", err)
	}

	want := map[string]string{
		"frame_id":    "frame-1",
		"color_image": string([]byte{0xFF, 0xD8}),
		"depth_image": string([]byte{0x89, 'P'}),
		"timestamp":   "2024-05-01T12:00:00Z",
		"error":       "",
	}
	for k, v := range want {
		if fields[k] != v {
			t.Errorf("Expected field %s=%q, got %q", k, v, fields[k])
		}
	}

	// 次のフレームで上書きされる
	err = s.Write(ctx, Record{FrameID: "frame-2", Timestamp: at.Add(time.Second), Error: "タイムアウト"})
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	fields, _ = client.HGetAll(ctx, DefaultRedisKey).Result()
	if fields["frame_id"] != "frame-2" || fields["error"] != "タイムアウト" {
		t.Errorf("Expected overwritten hash, got %v", fields)
	}
	if fields["color_image"] != "" {
		t.Errorf("Expected empty color image, got %q", fields["color_image"])
	}
}

func TestRedisSink_TTLAndStream(t *testing.T) {
	ctx := context.Background()
	client := newTestRedis(t)
	s := NewRedisSink(client, RedisOptions{
		Key:       "sensor:latest",
		TTL:       time.Minute,
		Stream:    "sensor:history",
		StreamLen: 10,
	})

	for i := 0; i < 3; i++ {
		if err := s.Write(ctx, Record{FrameID: "f", Timestamp: time.Now()}); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}

	if ttl := client.TTL(ctx, "sensor:latest").Val(); ttl <= 0 {
		t.Errorf("Expected positive TTL, got %v", ttl)
	}
	if n := client.XLen(ctx, "sensor:history").Val(); n != 3 {
		t.Errorf("Expected 3 stream entries, got %d", n)
	}
}

func TestRedisSink_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisSink(client, RedisOptions{})

	mr.Close()

	if err := s.Write(context.Background(), Record{FrameID: "f", Timestamp: time.Now()}); err == nil {
		t.Error("Expected error when redis is down")
	}
}
