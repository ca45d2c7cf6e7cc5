package training

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhisek/bktrace/internal/attempt"
	"github.com/abhisek/bktrace/internal/bkt"
	"github.com/abhisek/bktrace/internal/mastery"
)

var fixedParams = bkt.Params{Prior: 0.3, Learn: 0.2, Slip: 0.1, Guess: 0.2}

// countingFitter returns fixedParams and counts invocations. Groups whose
// first sequence has failLen outcomes fail with a NonConvergenceError.
type countingFitter struct {
	calls   atomic.Int32
	failLen int
}

func (f *countingFitter) Fit(_ context.Context, seqs [][]bool) (*bkt.Fit, error) {
	f.calls.Add(1)
	if f.failLen > 0 && len(seqs) > 0 && len(seqs[0]) == f.failLen {
		return nil, &bkt.NonConvergenceError{Restarts: 5}
	}
	return &bkt.Fit{Params: fixedParams, LogLikelihood: -1}, nil
}

type recordingExporter struct {
	got *Artifacts
	err error
}

func (e *recordingExporter) Name() string { return "recording" }

func (e *recordingExporter) Export(_ context.Context, a *Artifacts) error {
	e.got = a
	return e.err
}

type logBuilder struct {
	recs []attempt.Record
	at   time.Time
}

func newLogBuilder() *logBuilder {
	return &logBuilder{at: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (b *logBuilder) add(learner, skill string, outcomes []bool) *logBuilder {
	for _, c := range outcomes {
		b.recs = append(b.recs, attempt.Record{
			LearnerID: learner,
			SkillID:   skill,
			Correct:   c,
			Timestamp: b.at,
			Seq:       len(b.recs),
		})
		b.at = b.at.Add(time.Minute)
	}
	return b
}

func (b *logBuilder) log() *attempt.Log { return attempt.NewLog(b.recs) }

func repeat(n int, v bool) []bool {
	out := make([]bool, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// alternating returns correct, incorrect, correct, ...
func alternating(n int) []bool {
	out := make([]bool, n)
	for i := range out {
		out[i] = i%2 == 0
	}
	return out
}

func mixed(n int) []bool {
	out := make([]bool, n)
	for i := range out {
		out[i] = i%3 != 0 || i > n/2
	}
	return out
}

func testConfig(g attempt.Granularity) Config {
	cfg := DefaultConfig()
	cfg.Granularity = g
	cfg.Workers = 4
	cfg.Logger = slog.New(slog.DiscardHandler)
	return cfg
}

func TestRun_QualityGate(t *testing.T) {
	tests := []struct {
		name      string
		attempts  int
		wantStage Stage
		wantCalls bool
	}{
		{"below minimum", 99, StageSkipped, false},
		{"at minimum", 100, StageExported, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newLogBuilder()
			for i := 0; i < tt.attempts; i++ {
				b.add([]string{"ana", "ben", "cai", "dee"}[i%4], "algebra", []bool{i%2 == 0})
			}

			fitter := &countingFitter{}
			res, err := New(testConfig(attempt.Pooled), fitter).Run(context.Background(), b.log())
			require.NoError(t, err)
			assert.Equal(t, tt.wantStage, res.Stage)
			assert.Equal(t, tt.attempts, res.Stats.TotalAttempts)

			if !tt.wantCalls {
				assert.Zero(t, fitter.calls.Load(), "estimator must not run when the gate fails")
				assert.Nil(t, res.Artifacts)
				require.Error(t, res.SkipReason)
				assert.True(t, errors.Is(res.SkipReason, bkt.ErrInsufficientData))
				var ide *bkt.InsufficientDataError
				require.ErrorAs(t, res.SkipReason, &ide)
				assert.Equal(t, "run", ide.Scope)
				assert.Equal(t, 100, ide.Need)
				return
			}
			assert.Equal(t, int32(1), fitter.calls.Load())
			assert.NoError(t, res.SkipReason)
			require.NotNil(t, res.Artifacts)
			assert.Len(t, res.Artifacts.Mastery, 4)
		})
	}
}

func TestRun_PerGroupFallback(t *testing.T) {
	log := newLogBuilder().
		add("short", "fractions", mixed(9)).
		add("long", "fractions", mixed(91)).
		log()

	cfg := testConfig(attempt.Individualized)
	res, err := New(cfg, nil).Run(context.Background(), log)
	require.NoError(t, err)
	require.Equal(t, StageExported, res.Stage)
	arts := res.Artifacts

	short := arts.Mastery[LearnerSkill{Learner: "short", Skill: "fractions"}]
	assert.Equal(t, 0.5, short.Mastery)
	assert.Equal(t, SourceDefault, short.Source)
	assert.Equal(t, mastery.LevelUnknown, short.Level)
	assert.Equal(t, 9, short.Attempts)
	assert.False(t, short.Modeled())
	_, hasModel := arts.Models[attempt.Key{Learner: "short", Skill: "fractions"}]
	assert.False(t, hasModel, "under-populated group must not export a model")

	long := arts.Mastery[LearnerSkill{Learner: "long", Skill: "fractions"}]
	assert.Equal(t, SourceModel, long.Source)
	assert.True(t, long.Modeled())
	model, hasModel := arts.Models[attempt.Key{Learner: "long", Skill: "fractions"}]
	require.True(t, hasModel)
	assert.NoError(t, model.Params.Validate())
	assert.Equal(t, 91, model.Attempts)

	assert.Equal(t, []attempt.Key{{Learner: "short", Skill: "fractions"}}, res.Warnings)
	require.Len(t, res.Failures, 1)
	assert.True(t, errors.Is(res.Failures[0].Err, bkt.ErrInsufficientData))
	var ide *bkt.InsufficientDataError
	require.ErrorAs(t, res.Failures[0].Err, &ide)
	assert.Equal(t, "short/fractions", ide.Scope)
}

func TestRun_EndToEnd(t *testing.T) {
	log := newLogBuilder().
		add("A", "algebra", alternating(20)).
		add("B", "algebra", repeat(20, true)).
		add("C", "geometry", mixed(20)).
		add("D", "geometry", alternating(20)).
		add("E", "geometry", repeat(20, false)).
		log()

	cfg := testConfig(attempt.Individualized)
	cfg.Estimator.Restarts = 5
	cfg.Estimator.Seed = 42
	exp := &recordingExporter{}

	res, err := New(cfg, nil, exp).Run(context.Background(), log)
	require.NoError(t, err)
	assert.Equal(t, StageExported, res.Stage)
	require.Same(t, res.Artifacts, exp.got)

	a, okA := exp.got.Mastery[LearnerSkill{Learner: "A", Skill: "algebra"}]
	b, okB := exp.got.Mastery[LearnerSkill{Learner: "B", Skill: "algebra"}]
	require.True(t, okA)
	require.True(t, okB)
	assert.Equal(t, SourceModel, a.Source)
	assert.Equal(t, SourceModel, b.Source)
	assert.Greater(t, b.Mastery, a.Mastery)
	assert.Equal(t, mastery.LevelMastered, b.Level)

	// Both end up near certain mastery; the fitted models separate them.
	// A's alternating answers force a large slip, so A is predicted to get
	// the next item right far less often than B.
	modelA := exp.got.Models[attempt.Key{Learner: "A", Skill: "algebra"}]
	modelB := exp.got.Models[attempt.Key{Learner: "B", Skill: "algebra"}]
	predA := modelA.Params.PredictCorrect(a.Mastery)
	predB := modelB.Params.PredictCorrect(b.Mastery)
	assert.Greater(t, predB-predA, 0.15, "A=%.4f B=%.4f", predA, predB)
	assert.Greater(t, modelA.Params.Slip-modelB.Params.Slip, 0.15)

	assert.Len(t, exp.got.Models, 5)
	assert.Len(t, exp.got.Mastery, 5)
	for _, k := range exp.got.MasteryKeys() {
		e := exp.got.Mastery[k]
		assert.GreaterOrEqual(t, e.Mastery, 0.0)
		assert.LessOrEqual(t, e.Mastery, 1.0)
	}
	assert.Empty(t, res.Failures)
	assert.Equal(t, 5, exp.got.Counts()[SourceModel])
}

func TestRun_Deterministic(t *testing.T) {
	log := newLogBuilder().
		add("A", "algebra", alternating(60)).
		add("B", "algebra", mixed(60)).
		log()
	cfg := testConfig(attempt.Individualized)

	first, err := New(cfg, nil).Run(context.Background(), log)
	require.NoError(t, err)
	second, err := New(cfg, nil).Run(context.Background(), log)
	require.NoError(t, err)
	assert.Equal(t, first.Artifacts.Models, second.Artifacts.Models)
	assert.Equal(t, first.Artifacts.Mastery, second.Artifacts.Mastery)
}

func TestRun_PooledGranularity(t *testing.T) {
	log := newLogBuilder().
		add("ana", "algebra", mixed(40)).
		add("ben", "algebra", alternating(40)).
		add("ana", "geometry", mixed(15)).
		add("cai", "geometry", repeat(5, true)).
		log()

	fitter := &countingFitter{}
	res, err := New(testConfig(attempt.Pooled), fitter).Run(context.Background(), log)
	require.NoError(t, err)
	assert.Equal(t, int32(2), fitter.calls.Load(), "one fit per skill")

	arts := res.Artifacts
	assert.Equal(t, []attempt.Key{{Skill: "algebra"}, {Skill: "geometry"}}, arts.ModelKeys())
	assert.Equal(t, []LearnerSkill{
		{Learner: "ana", Skill: "algebra"},
		{Learner: "ana", Skill: "geometry"},
		{Learner: "ben", Skill: "algebra"},
		{Learner: "cai", Skill: "geometry"},
	}, arts.MasteryKeys())

	// Each learner is tracked on their own attempts with the skill model.
	want, err := mastery.Track(fixedParams, repeat(5, true))
	require.NoError(t, err)
	cai := arts.Mastery[LearnerSkill{Learner: "cai", Skill: "geometry"}]
	assert.Equal(t, want.Final, cai.Mastery)
	assert.Equal(t, SourceModel, cai.Source)
	assert.Equal(t, 5, cai.Attempts)
}

func TestRun_PooledFallbackPolicy(t *testing.T) {
	log := newLogBuilder().
		add("short", "fractions", repeat(9, true)).
		add("p1", "fractions", mixed(50)).
		add("p2", "fractions", alternating(50)).
		log()

	cfg := testConfig(attempt.Individualized)
	cfg.FallbackPolicy = FallbackPooled
	res, err := New(cfg, nil).Run(context.Background(), log)
	require.NoError(t, err)

	short := res.Artifacts.Mastery[LearnerSkill{Learner: "short", Skill: "fractions"}]
	assert.Equal(t, SourcePooledFallback, short.Source)
	assert.False(t, short.Modeled())
	assert.GreaterOrEqual(t, short.Mastery, 0.0)
	assert.LessOrEqual(t, short.Mastery, 1.0)
	assert.NotEqual(t, mastery.LevelUnknown, short.Level)
	_, hasModel := res.Artifacts.Models[attempt.Key{Learner: "short", Skill: "fractions"}]
	assert.False(t, hasModel)
	assert.Len(t, res.Artifacts.Models, 2)
}

func TestRun_PooledFallbackFailsToDefault(t *testing.T) {
	// Every fit of a 9-long first sequence fails, including the pooled one
	// whose first learner is "a-short".
	log := newLogBuilder().
		add("a-short", "fractions", repeat(9, true)).
		add("long", "fractions", mixed(91)).
		log()

	cfg := testConfig(attempt.Individualized)
	cfg.FallbackPolicy = FallbackPooled
	fitter := &countingFitter{failLen: 9}
	res, err := New(cfg, fitter).Run(context.Background(), log)
	require.NoError(t, err)

	short := res.Artifacts.Mastery[LearnerSkill{Learner: "a-short", Skill: "fractions"}]
	assert.Equal(t, SourceDefault, short.Source)
	assert.Equal(t, 0.5, short.Mastery)
	assert.Equal(t, int32(3), fitter.calls.Load(), "two groups plus one pooled attempt")
}

func TestRun_NonConvergenceExcludedFromModels(t *testing.T) {
	log := newLogBuilder().
		add("ana", "algebra", mixed(50)).
		add("ben", "algebra", mixed(51)).
		log()

	cfg := testConfig(attempt.Individualized)
	cfg.FallbackMastery = 0.4
	res, err := New(cfg, &countingFitter{failLen: 51}).Run(context.Background(), log)
	require.NoError(t, err)
	assert.Equal(t, StageExported, res.Stage)

	require.Len(t, res.Failures, 1)
	assert.Equal(t, attempt.Key{Learner: "ben", Skill: "algebra"}, res.Failures[0].Key)
	assert.True(t, errors.Is(res.Failures[0].Err, bkt.ErrNonConvergence))

	_, hasModel := res.Artifacts.Models[attempt.Key{Learner: "ben", Skill: "algebra"}]
	assert.False(t, hasModel)
	ben := res.Artifacts.Mastery[LearnerSkill{Learner: "ben", Skill: "algebra"}]
	assert.Equal(t, 0.4, ben.Mastery)
	assert.Equal(t, SourceDefault, ben.Source)
	assert.Empty(t, res.Warnings, "non-convergence is not a data-size warning")
}

func TestRun_ExporterError(t *testing.T) {
	log := newLogBuilder().add("ana", "algebra", mixed(100)).log()
	boom := errors.New("disk full")
	exp := &recordingExporter{err: boom}

	res, err := New(testConfig(attempt.Pooled), &countingFitter{}, exp).Run(context.Background(), log)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "export recording")
	require.NotNil(t, res)
	assert.Equal(t, StageTrained, res.Stage)
}

func TestRun_Cancelled(t *testing.T) {
	log := newLogBuilder().add("ana", "algebra", mixed(100)).log()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(testConfig(attempt.Pooled), nil).Run(ctx, log)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunRaw_MissingFieldRejectsBatch(t *testing.T) {
	rows := []attempt.Raw{
		{"user_id": "ana", "skill": "algebra", "correct": true, "timestamp": "2024-03-01T09:00:00Z"},
		{"user_id": "ana", "skill": "algebra", "timestamp": "2024-03-01T09:01:00Z"},
	}
	fitter := &countingFitter{}
	res, err := New(testConfig(attempt.Pooled), fitter).RunRaw(context.Background(), rows)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, attempt.ErrMissingField)
	assert.Zero(t, fitter.calls.Load())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"bad granularity", func(c *Config) { c.Granularity = "weekly" }, true},
		{"bad policy", func(c *Config) { c.FallbackPolicy = "warm" }, true},
		{"negative total", func(c *Config) { c.MinTotalAttempts = -1 }, true},
		{"zero group min", func(c *Config) { c.MinGroupAttempts = 0 }, true},
		{"fallback above one", func(c *Config) { c.FallbackMastery = 1.5 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParseFallbackPolicy(t *testing.T) {
	p, err := ParseFallbackPolicy("")
	require.NoError(t, err)
	assert.Equal(t, FallbackDefault, p)

	p, err = ParseFallbackPolicy("pooled")
	require.NoError(t, err)
	assert.Equal(t, FallbackPooled, p)

	_, err = ParseFallbackPolicy("global")
	assert.Error(t, err)
}
