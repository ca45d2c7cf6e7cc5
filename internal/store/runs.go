package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/abhisek/bktrace/internal/attempt"
	"github.com/abhisek/bktrace/internal/bkt"
	"github.com/abhisek/bktrace/internal/mastery"
	"github.com/abhisek/bktrace/internal/training"
)

// ErrRunNotFound is returned by GetRun for an unknown ID.
var ErrRunNotFound = errors.New("run not found")

// Run summarizes one stored training run.
type Run struct {
	ID          string
	Granularity attempt.Granularity
	GeneratedAt time.Time
	Models      int
	Scores      int
}

// Name implements training.Exporter.
func (s *Store) Name() string { return "store" }

// Export implements training.Exporter by saving the run.
func (s *Store) Export(ctx context.Context, a *training.Artifacts) error {
	return s.SaveRun(ctx, a)
}

// SaveRun stores a run's models and mastery snapshot in one transaction.
// Rows are inserted in batches of importBatch to stay under SQLite's
// bound-variable limit.
func (s *Store) SaveRun(ctx context.Context, a *training.Artifacts) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		query, args := s.sb.Insert(tableRuns).
			Columns("id", "granularity", "generated_at", "models", "scores").
			Values(a.RunID, string(a.Granularity), formatTime(a.GeneratedAt), len(a.Models), len(a.Mastery)).
			Query()
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert run: %w", err)
		}

		keys := a.ModelKeys()
		for start := 0; start < len(keys); start += importBatch {
			ins := s.sb.Insert(tableRunParams).
				Columns("run_id", "learner_id", "skill_id", "prior", "learn", "slip", "guess", "forget", "attempts")
			for _, k := range keys[start:min(start+importBatch, len(keys))] {
				m := a.Models[k]
				p := m.Params
				ins.Values(a.RunID, k.Learner, k.Skill, p.Prior, p.Learn, p.Slip, p.Guess, p.Forget, m.Attempts)
			}
			query, args = ins.Query()
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return fmt.Errorf("insert run params: %w", err)
			}
		}

		scores := a.MasteryKeys()
		for start := 0; start < len(scores); start += importBatch {
			ins := s.sb.Insert(tableRunMastery).
				Columns("run_id", "learner_id", "skill_id", "mastery", "source", "level", "attempts")
			for _, k := range scores[start:min(start+importBatch, len(scores))] {
				e := a.Mastery[k]
				ins.Values(a.RunID, k.Learner, k.Skill, e.Mastery, string(e.Source), string(e.Level), e.Attempts)
			}
			query, args = ins.Query()
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return fmt.Errorf("insert run mastery: %w", err)
			}
		}
		return nil
	})
}

// ListRuns returns up to limit runs, newest first. limit <= 0 means all.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	sel := s.sb.Select("id", "granularity", "generated_at", "models", "scores").
		From(s.sb.Table(tableRuns)).
		OrderBy(entsql.Desc("generated_at"), entsql.Desc("id"))
	if limit > 0 {
		sel.Limit(limit)
	}

	query, args := sel.Query()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r           Run
			granularity string
			generatedAt string
		)
		if err := rows.Scan(&r.ID, &granularity, &generatedAt, &r.Models, &r.Scores); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Granularity = attempt.Granularity(granularity)
		if r.GeneratedAt, err = parseTime(generatedAt); err != nil {
			return nil, fmt.Errorf("run %s: %w", r.ID, err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// GetRun loads a stored run back into artifacts.
func (s *Store) GetRun(ctx context.Context, id string) (*training.Artifacts, error) {
	query, args := s.sb.Select("granularity", "generated_at").
		From(s.sb.Table(tableRuns)).
		Where(entsql.EQ("id", id)).
		Query()
	var granularity, generatedAt string
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&granularity, &generatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("query run: %w", err)
	}

	a := &training.Artifacts{
		RunID:       id,
		Granularity: attempt.Granularity(granularity),
		Models:      make(map[attempt.Key]training.ModelEntry),
		Mastery:     make(map[training.LearnerSkill]training.MasteryEntry),
	}
	if a.GeneratedAt, err = parseTime(generatedAt); err != nil {
		return nil, fmt.Errorf("run %s: %w", id, err)
	}
	if err := s.loadParams(ctx, a); err != nil {
		return nil, err
	}
	if err := s.loadMastery(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *Store) loadParams(ctx context.Context, a *training.Artifacts) error {
	query, args := s.sb.Select("learner_id", "skill_id", "prior", "learn", "slip", "guess", "forget", "attempts").
		From(s.sb.Table(tableRunParams)).
		Where(entsql.EQ("run_id", a.RunID)).
		Query()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("query run params: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			k attempt.Key
			p bkt.Params
			n int
		)
		if err := rows.Scan(&k.Learner, &k.Skill, &p.Prior, &p.Learn, &p.Slip, &p.Guess, &p.Forget, &n); err != nil {
			return fmt.Errorf("scan run params: %w", err)
		}
		a.Models[k] = training.ModelEntry{Params: p, Attempts: n}
	}
	return rows.Err()
}

func (s *Store) loadMastery(ctx context.Context, a *training.Artifacts) error {
	query, args := s.sb.Select("learner_id", "skill_id", "mastery", "source", "level", "attempts").
		From(s.sb.Table(tableRunMastery)).
		Where(entsql.EQ("run_id", a.RunID)).
		Query()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("query run mastery: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			k             training.LearnerSkill
			e             training.MasteryEntry
			source, level string
		)
		if err := rows.Scan(&k.Learner, &k.Skill, &e.Mastery, &source, &level, &e.Attempts); err != nil {
			return fmt.Errorf("scan run mastery: %w", err)
		}
		e.Source = training.Source(source)
		e.Level = mastery.Level(level)
		a.Mastery[k] = e
	}
	return rows.Err()
}

// PruneRuns deletes all but the keep most recent runs and returns how many
// were removed. Child rows go with them through ON DELETE CASCADE.
func (s *Store) PruneRuns(ctx context.Context, keep int) (int, error) {
	if keep < 0 {
		return 0, fmt.Errorf("keep must be >= 0, got %d", keep)
	}
	runs, err := s.ListRuns(ctx, 0)
	if err != nil {
		return 0, err
	}
	if len(runs) <= keep {
		return 0, nil
	}

	stale := make([]any, 0, len(runs)-keep)
	for _, r := range runs[keep:] {
		stale = append(stale, r.ID)
	}
	query, args := s.sb.Delete(tableRuns).Where(entsql.In("id", stale...)).Query()
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	return int(n), nil
}
