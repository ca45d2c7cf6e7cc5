package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/abhisek/bktrace/internal/attempt"
	"github.com/abhisek/bktrace/internal/bkt"
	"github.com/abhisek/bktrace/internal/mastery"
	"github.com/abhisek/bktrace/internal/training"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPragmasApplied(t *testing.T) {
	s := openTestStore(t)
	db := s.DB()

	tests := []struct {
		pragma string
		want   string
	}{
		{"journal_mode", "wal"},
		{"foreign_keys", "1"},
		{"synchronous", "1"}, // NORMAL = 1
	}

	for _, tt := range tests {
		var got string
		err := db.QueryRow("PRAGMA " + tt.pragma).Scan(&got)
		if err != nil {
			t.Errorf("PRAGMA %s: %v", tt.pragma, err)
			continue
		}
		if got != tt.want {
			t.Errorf("PRAGMA %s = %q, want %q", tt.pragma, got, tt.want)
		}
	}
}

func TestMigrationCreatesTables(t *testing.T) {
	s := openTestStore(t)
	for _, table := range []string{tableAttempts, tableRuns, tableRunParams, tableRunMastery} {
		var name string
		err := s.DB().QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %s: %v", table, err)
		}
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "again.db")
	for i := 0; i < 2; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("open %d: %v", i, err)
		}
		s.Close()
	}
}

func TestImportAndLoadAttempts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	recs := []attempt.Record{
		{LearnerID: "ana", SkillID: "algebra", Correct: true, Timestamp: base,
			Meta: attempt.Meta{ItemID: "q1", ItemType: "mcq", ResponseTimeMs: 1500, HasResponseTime: true}},
		{LearnerID: "ana", SkillID: "algebra", Correct: false, Timestamp: base.Add(time.Minute)},
		{LearnerID: "ben", SkillID: "geometry", Correct: true, Timestamp: base.Add(2 * time.Minute)},
	}
	n, err := s.ImportAttempts(ctx, recs)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if n != 3 {
		t.Errorf("imported = %d, want 3", n)
	}

	count, err := s.CountAttempts(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}

	rows, err := s.LoadAttempts(ctx, AttemptFilter{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("loaded %d rows, want 3", len(rows))
	}

	// Rows round-trip through the normal ingestion path.
	log, err := attempt.Parse(rows)
	if err != nil {
		t.Fatalf("parse loaded rows: %v", err)
	}
	first := log.Records()[0]
	if first.LearnerID != "ana" || first.SkillID != "algebra" || !first.Correct {
		t.Errorf("first record = %+v", first)
	}
	if !first.Timestamp.Equal(base) {
		t.Errorf("timestamp = %v, want %v", first.Timestamp, base)
	}
	if first.Meta.ItemID != "q1" || first.Meta.ItemType != "mcq" {
		t.Errorf("meta = %+v", first.Meta)
	}
	if !first.Meta.HasResponseTime || first.Meta.ResponseTimeMs != 1500 {
		t.Errorf("response time = %v (%v), want 1500", first.Meta.ResponseTimeMs, first.Meta.HasResponseTime)
	}
	if log.Records()[1].Meta.HasResponseTime {
		t.Error("NULL response time should stay absent")
	}
}

func TestLoadAttemptsFilter(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	var recs []attempt.Record
	for i := 0; i < 6; i++ {
		recs = append(recs, attempt.Record{
			LearnerID: []string{"ana", "ben"}[i%2],
			SkillID:   []string{"algebra", "algebra", "geometry"}[i%3],
			Correct:   true,
			Timestamp: base.Add(time.Duration(i) * time.Hour),
		})
	}
	if _, err := s.ImportAttempts(ctx, recs); err != nil {
		t.Fatalf("import: %v", err)
	}

	tests := []struct {
		name   string
		filter AttemptFilter
		want   int
	}{
		{"all", AttemptFilter{}, 6},
		{"learner", AttemptFilter{Learner: "ana"}, 3},
		{"skill", AttemptFilter{Skill: "geometry"}, 2},
		{"learner and skill", AttemptFilter{Learner: "ben", Skill: "algebra"}, 2},
		{"since", AttemptFilter{Since: base.Add(3 * time.Hour)}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := s.LoadAttempts(ctx, tt.filter)
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if len(rows) != tt.want {
				t.Errorf("rows = %d, want %d", len(rows), tt.want)
			}
		})
	}
}

func TestImportAttemptsBatches(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	recs := make([]attempt.Record, importBatch*2+7)
	for i := range recs {
		recs[i] = attempt.Record{LearnerID: "ana", SkillID: "algebra", Correct: i%2 == 0, Timestamp: base.Add(time.Duration(i) * time.Second)}
	}
	if _, err := s.ImportAttempts(ctx, recs); err != nil {
		t.Fatalf("import: %v", err)
	}
	count, err := s.CountAttempts(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != len(recs) {
		t.Errorf("count = %d, want %d", count, len(recs))
	}
}

func testArtifacts(id string, at time.Time) *training.Artifacts {
	return &training.Artifacts{
		RunID:       id,
		Granularity: attempt.Individualized,
		GeneratedAt: at,
		Models: map[attempt.Key]training.ModelEntry{
			{Learner: "ana", Skill: "algebra"}: {
				Params:   bkt.Params{Prior: 0.3, Learn: 0.2, Slip: 0.1, Guess: 0.25},
				Attempts: 20,
			},
		},
		Mastery: map[training.LearnerSkill]training.MasteryEntry{
			{Learner: "ana", Skill: "algebra"}: {Mastery: 0.97, Source: training.SourceModel, Attempts: 20, Level: mastery.LevelMastered},
			{Learner: "ben", Skill: "algebra"}: {Mastery: 0.5, Source: training.SourceDefault, Attempts: 4, Level: mastery.LevelUnknown},
		},
	}
}

func TestSaveAndGetRun(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	at := time.Date(2024, 6, 1, 8, 30, 0, 0, time.UTC)

	want := testArtifacts("run-1", at)
	if err := s.Export(ctx, want); err != nil {
		t.Fatalf("export: %v", err)
	}

	got, err := s.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.Granularity != attempt.Individualized {
		t.Errorf("granularity = %q", got.Granularity)
	}
	if !got.GeneratedAt.Equal(at) {
		t.Errorf("generated at = %v, want %v", got.GeneratedAt, at)
	}
	if len(got.Models) != 1 || got.Models[attempt.Key{Learner: "ana", Skill: "algebra"}] != want.Models[attempt.Key{Learner: "ana", Skill: "algebra"}] {
		t.Errorf("models = %+v", got.Models)
	}
	if len(got.Mastery) != 2 {
		t.Fatalf("mastery entries = %d, want 2", len(got.Mastery))
	}
	ben := got.Mastery[training.LearnerSkill{Learner: "ben", Skill: "algebra"}]
	if ben.Source != training.SourceDefault || ben.Mastery != 0.5 || ben.Level != mastery.LevelUnknown {
		t.Errorf("ben = %+v", ben)
	}
}

func TestGetRunNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetRun(context.Background(), "missing")
	if !errors.Is(err, ErrRunNotFound) {
		t.Errorf("error = %v, want ErrRunNotFound", err)
	}
}

func TestSaveRunLargeSnapshot(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a := &training.Artifacts{
		RunID:       "large",
		Granularity: attempt.Individualized,
		GeneratedAt: time.Date(2024, 6, 1, 8, 30, 0, 0, time.UTC),
		Models:      map[attempt.Key]training.ModelEntry{},
		Mastery:     map[training.LearnerSkill]training.MasteryEntry{},
	}
	for l := 0; l < 520; l++ {
		for k := 0; k < 10; k++ {
			learner, skill := fmt.Sprintf("learner-%03d", l), fmt.Sprintf("skill-%d", k)
			a.Models[attempt.Key{Learner: learner, Skill: skill}] = training.ModelEntry{
				Params:   bkt.Params{Prior: 0.3, Learn: 0.2, Slip: 0.1, Guess: 0.25},
				Attempts: 12,
			}
			a.Mastery[training.LearnerSkill{Learner: learner, Skill: skill}] = training.MasteryEntry{
				Mastery: 0.8, Source: training.SourceModel, Attempts: 12, Level: mastery.LevelDeveloping,
			}
		}
	}

	if err := s.SaveRun(ctx, a); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := s.GetRun(ctx, "large")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if len(got.Models) != 5200 {
		t.Errorf("models = %d, want 5200", len(got.Models))
	}
	if len(got.Mastery) != 5200 {
		t.Errorf("mastery entries = %d, want 5200", len(got.Mastery))
	}
	e := got.Mastery[training.LearnerSkill{Learner: "learner-519", Skill: "skill-9"}]
	if e.Mastery != 0.8 || e.Source != training.SourceModel {
		t.Errorf("last entry = %+v", e)
	}
}

func TestSaveRunDuplicateIDRollsBack(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	a := testArtifacts("dup", time.Now())
	if err := s.SaveRun(ctx, a); err != nil {
		t.Fatalf("first save: %v", err)
	}
	if err := s.SaveRun(ctx, a); err == nil {
		t.Fatal("expected error saving a duplicate run id")
	}
	runs, err := s.ListRuns(ctx, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(runs) != 1 {
		t.Errorf("runs = %d, want 1", len(runs))
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"r1", "r2", "r3"} {
		if err := s.SaveRun(ctx, testArtifacts(id, base.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}

	runs, err := s.ListRuns(ctx, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("runs = %d, want 3", len(runs))
	}
	if runs[0].ID != "r3" || runs[2].ID != "r1" {
		t.Errorf("order = %s, %s, %s", runs[0].ID, runs[1].ID, runs[2].ID)
	}
	if runs[0].Models != 1 || runs[0].Scores != 2 {
		t.Errorf("counts = %d models, %d scores", runs[0].Models, runs[0].Scores)
	}

	limited, err := s.ListRuns(ctx, 2)
	if err != nil {
		t.Fatalf("list limited: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("limited runs = %d, want 2", len(limited))
	}
}

func TestPruneRuns(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 7; i++ {
		id := string(rune('a' + i))
		if err := s.SaveRun(ctx, testArtifacts(id, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}

	removed, err := s.PruneRuns(ctx, 5)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}

	runs, err := s.ListRuns(ctx, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(runs) != 5 || runs[0].ID != "g" {
		t.Errorf("remaining = %d, newest = %s", len(runs), runs[0].ID)
	}

	// Child rows are removed with their run.
	var orphans int
	err = s.DB().QueryRow("SELECT COUNT(*) FROM run_mastery WHERE run_id IN ('a', 'b')").Scan(&orphans)
	if err != nil {
		t.Fatalf("count orphans: %v", err)
	}
	if orphans != 0 {
		t.Errorf("orphaned mastery rows = %d, want 0", orphans)
	}
}

func TestPruneRunsWithFewerThanKeep(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if err := s.SaveRun(ctx, testArtifacts("only", time.Now())); err != nil {
		t.Fatalf("save: %v", err)
	}
	removed, err := s.PruneRuns(ctx, 5)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if removed != 0 {
		t.Errorf("removed = %d, want 0", removed)
	}
}

func TestDefaultDBPath(t *testing.T) {
	dir := t.TempDir()

	t.Run("env override", func(t *testing.T) {
		want := filepath.Join(dir, "custom", "my.db")
		t.Setenv("BKTRACE_DB", want)
		got, err := DefaultDBPath()
		if err != nil {
			t.Fatalf("DefaultDBPath: %v", err)
		}
		if got != want {
			t.Errorf("path = %q, want %q", got, want)
		}
		if _, err := os.Stat(filepath.Dir(want)); err != nil {
			t.Errorf("parent dir not created: %v", err)
		}
	})

	t.Run("xdg data home", func(t *testing.T) {
		t.Setenv("BKTRACE_DB", "")
		t.Setenv("XDG_DATA_HOME", dir)
		got, err := DefaultDBPath()
		if err != nil {
			t.Fatalf("DefaultDBPath: %v", err)
		}
		if want := filepath.Join(dir, "bktrace", "bktrace.db"); got != want {
			t.Errorf("path = %q, want %q", got, want)
		}
	})
}
