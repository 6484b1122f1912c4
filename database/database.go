package database

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq"
)

// Connect 连接到数据库
func Connect(databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// 测试连接
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// 设置连接池
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	return db, nil
}

// migrations are applied in order; every statement is idempotent.
var migrations = []string{
	// 比赛表 (projection: current score/status/lineup)
	`CREATE TABLE IF NOT EXISTS matches (
		id TEXT PRIMARY KEY,
		home_team_name TEXT NOT NULL,
		home_team_logo TEXT NOT NULL DEFAULT '',
		away_team_name TEXT NOT NULL,
		away_team_logo TEXT NOT NULL DEFAULT '',
		club_side VARCHAR(8) NOT NULL DEFAULT 'home',
		scheduled_at TIMESTAMPTZ NOT NULL,
		venue TEXT NOT NULL DEFAULT '',
		competition TEXT NOT NULL DEFAULT '',
		status VARCHAR(16) NOT NULL DEFAULT 'UPCOMING'
			CHECK (status IN ('UPCOMING', 'LIVE', 'FULL_TIME')),
		home_score INTEGER NOT NULL DEFAULT 0 CHECK (home_score >= 0),
		away_score INTEGER NOT NULL DEFAULT 0 CHECK (away_score >= 0),
		lineup JSONB NOT NULL DEFAULT '{"active":[],"bench":[]}',
		version BIGINT NOT NULL DEFAULT 1,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_matches_status ON matches(status)`,
	`CREATE INDEX IF NOT EXISTS idx_matches_scheduled_at ON matches(scheduled_at)`,

	// 比赛事件表 (append-only log, one row per LiveEvent)
	`CREATE TABLE IF NOT EXISTS live_events (
		seq BIGSERIAL PRIMARY KEY,
		id TEXT NOT NULL UNIQUE,
		match_id TEXT NOT NULL REFERENCES matches(id) ON DELETE CASCADE,
		kind VARCHAR(32) NOT NULL,
		text TEXT NOT NULL,
		home_score INTEGER NOT NULL CHECK (home_score >= 0),
		away_score INTEGER NOT NULL CHECK (away_score >= 0),
		payload JSONB NOT NULL DEFAULT '{}',
		request_id TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_live_events_match_order ON live_events(match_id, created_at DESC, seq DESC)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_live_events_request ON live_events(match_id, request_id) WHERE request_id IS NOT NULL`,
}

// Migrate 运行数据库迁移
func Migrate(db *sql.DB) error {
	for i, migration := range migrations {
		if _, err := db.Exec(migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	log.Printf("Database migrations completed (%d statements)", len(migrations))
	return nil
}
