package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/abhisek/bktrace/internal/attempt"
)

// importBatch bounds the rows per INSERT statement.
const importBatch = 200

var attemptColumns = []string{
	"learner_id", "skill_id", "correct", "attempted_at",
	"item_id", "item_type", "response_time_ms", "imported_at",
}

// AttemptFilter narrows LoadAttempts. Zero fields match everything.
type AttemptFilter struct {
	Learner string
	Skill   string
	Since   time.Time
}

// ImportAttempts appends records to the attempts table in one transaction
// and returns the number of rows written.
func (s *Store) ImportAttempts(ctx context.Context, recs []attempt.Record) (int, error) {
	if len(recs) == 0 {
		return 0, nil
	}
	now := formatTime(time.Now())
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for start := 0; start < len(recs); start += importBatch {
			end := min(start+importBatch, len(recs))
			ins := s.sb.Insert(tableAttempts).Columns(attemptColumns...)
			for _, r := range recs[start:end] {
				var latency any
				if r.Meta.HasResponseTime {
					latency = r.Meta.ResponseTimeMs
				}
				ins.Values(r.LearnerID, r.SkillID, r.Correct, formatTime(r.Timestamp),
					r.Meta.ItemID, r.Meta.ItemType, latency, now)
			}
			query, args := ins.Query()
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return fmt.Errorf("insert attempts: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(recs), nil
}

// LoadAttempts returns stored attempts as raw rows in insertion order, so
// they go through the same validation as file input.
func (s *Store) LoadAttempts(ctx context.Context, f AttemptFilter) ([]attempt.Raw, error) {
	sel := s.sb.Select(
		"learner_id", "skill_id", "correct", "attempted_at",
		"item_id", "item_type", "response_time_ms",
	).From(s.sb.Table(tableAttempts)).OrderBy("id")
	if f.Learner != "" {
		sel.Where(entsql.EQ("learner_id", f.Learner))
	}
	if f.Skill != "" {
		sel.Where(entsql.EQ("skill_id", f.Skill))
	}
	if !f.Since.IsZero() {
		sel.Where(entsql.GTE("attempted_at", formatTime(f.Since)))
	}

	query, args := sel.Query()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	var out []attempt.Raw
	for rows.Next() {
		var (
			learner, skill, at, item, itemType string
			correct                            bool
			latency                            sql.NullFloat64
		)
		if err := rows.Scan(&learner, &skill, &correct, &at, &item, &itemType, &latency); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		row := attempt.Raw{
			"learner_id":   learner,
			"skill_id":     skill,
			"correct":      correct,
			"attempted_at": at,
		}
		if item != "" {
			row["item_id"] = item
		}
		if itemType != "" {
			row["item_type"] = itemType
		}
		if latency.Valid {
			row["response_time_ms"] = latency.Float64
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempts: %w", err)
	}
	return out, nil
}

// CountAttempts returns the number of stored attempts.
func (s *Store) CountAttempts(ctx context.Context) (int, error) {
	query, args := s.sb.Select().Count().From(s.sb.Table(tableAttempts)).Query()
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count attempts: %w", err)
	}
	return n, nil
}

// timeLayout is RFC 3339 with fixed-width nanoseconds, so stored values
// compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}
