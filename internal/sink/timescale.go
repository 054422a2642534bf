package sink

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const createFramesTable = `CREATE TABLE IF NOT EXISTS frames (
	timestamp          TIMESTAMPTZ NOT NULL,
	frame_id           TEXT        NOT NULL,
	color_image_base64 TEXT,
	depth_image        BYTEA,
	error              TEXT
)`

const insertFrame = `INSERT INTO frames (timestamp, frame_id, color_image_base64, depth_image, error)
VALUES ($1, $2, $3, $4, $5)`

// Execer はTimescaleSinkが必要とするクエリ実行機能
// *pgxpool.Pool と *pgx.Conn が満たす
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// TimescaleSink はフレームをTimescaleDB(PostgreSQL)のframesテーブルに書き込む
type TimescaleSink struct {
	db   Execer
	pool *pgxpool.Pool // NewTimescaleSinkで作成した場合のみ
}

// NewTimescaleSink はDSNから接続プールを作成する
func NewTimescaleSink(ctx context.Context, dsn string) (*TimescaleSink, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続プールの作成に失敗: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("データベースへの接続に失敗: %w", err)
	}
	return &TimescaleSink{db: pool, pool: pool}, nil
}

// NewTimescaleSinkWithExecer は既存の接続を使うTimescaleSinkを作成する
func NewTimescaleSinkWithExecer(db Execer) *TimescaleSink {
	return &TimescaleSink{db: db}
}

// EnsureSchema はframesテーブルが無ければ作成する
func (s *TimescaleSink) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, createFramesTable); err != nil {
		return fmt.Errorf("framesテーブルの作成に失敗: %w", err)
	}
	return nil
}

// Write はレコードを1行挿入する
func (s *TimescaleSink) Write(ctx context.Context, record Record) error {
	var depth []byte
	if len(record.DepthBytes) > 0 {
		depth = record.DepthBytes
	}
	var errText *string
	if record.Error != "" {
		errText = &record.Error
	}

	_, err := s.db.Exec(ctx, insertFrame,
		record.Timestamp,
		record.FrameID,
		base64.StdEncoding.EncodeToString(record.ColorBytes),
		depth,
		errText,
	)
	if err != nil {
		return fmt.Errorf("フレームの挿入に失敗 (id=%s): %w", record.FrameID, err)
	}
	return nil
}

// Close は自身で作成した接続プールを閉じる
func (s *TimescaleSink) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
