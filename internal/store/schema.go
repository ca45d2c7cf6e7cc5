package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Table names.
const (
	tableAttempts   = "attempts"
	tableRuns       = "runs"
	tableRunParams  = "run_params"
	tableRunMastery = "run_mastery"
)

// Timestamps are stored as fixed-width RFC 3339 text in UTC (see timeLayout).
var schema = []string{
	`CREATE TABLE IF NOT EXISTS attempts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		learner_id TEXT NOT NULL,
		skill_id TEXT NOT NULL,
		correct INTEGER NOT NULL,
		attempted_at TEXT NOT NULL,
		item_id TEXT NOT NULL DEFAULT '',
		item_type TEXT NOT NULL DEFAULT '',
		response_time_ms REAL,
		imported_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS attempts_learner_skill ON attempts (learner_id, skill_id, attempted_at)`,
	`CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		granularity TEXT NOT NULL,
		generated_at TEXT NOT NULL,
		models INTEGER NOT NULL,
		scores INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS runs_generated_at ON runs (generated_at)`,
	`CREATE TABLE IF NOT EXISTS run_params (
		run_id TEXT NOT NULL REFERENCES runs (id) ON DELETE CASCADE,
		learner_id TEXT NOT NULL,
		skill_id TEXT NOT NULL,
		prior REAL NOT NULL,
		learn REAL NOT NULL,
		slip REAL NOT NULL,
		guess REAL NOT NULL,
		forget REAL NOT NULL,
		attempts INTEGER NOT NULL,
		PRIMARY KEY (run_id, learner_id, skill_id)
	)`,
	`CREATE TABLE IF NOT EXISTS run_mastery (
		run_id TEXT NOT NULL REFERENCES runs (id) ON DELETE CASCADE,
		learner_id TEXT NOT NULL,
		skill_id TEXT NOT NULL,
		mastery REAL NOT NULL,
		source TEXT NOT NULL,
		level TEXT NOT NULL,
		attempts INTEGER NOT NULL,
		PRIMARY KEY (run_id, learner_id, skill_id)
	)`,
}

// migrate creates missing tables. The builder has no DDL support, so the
// statements are plain SQL.
func migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}
