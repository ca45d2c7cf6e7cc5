package training

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/abhisek/bktrace/internal/attempt"
	"github.com/abhisek/bktrace/internal/bkt"
	"github.com/abhisek/bktrace/internal/mastery"
)

// Stage is a point in the run lifecycle:
// Loaded → QualityChecked → {Trained | Skipped} → Exported.
type Stage string

const (
	StageLoaded         Stage = "loaded"
	StageQualityChecked Stage = "quality-checked"
	StageTrained        Stage = "trained"
	StageSkipped        Stage = "skipped"
	StageExported       Stage = "exported"
)

// Fitter estimates one model from one or more outcome sequences.
// *bkt.Estimator implements it.
type Fitter interface {
	Fit(ctx context.Context, seqs [][]bool) (*bkt.Fit, error)
}

// Exporter receives the artifacts of a trained run.
type Exporter interface {
	Name() string
	Export(ctx context.Context, a *Artifacts) error
}

// GroupFailure records a group that produced no model.
type GroupFailure struct {
	Key      attempt.Key
	Attempts int
	Err      error
}

// Result is the outcome of one run.
type Result struct {
	RunID      string
	Stage      Stage
	Stats      attempt.Stats
	SkipReason error          // run-level InsufficientDataError when Skipped
	Warnings   []attempt.Key  // groups below the per-group minimum
	Failures   []GroupFailure // groups without a model, in key order
	Artifacts  *Artifacts
	Duration   time.Duration
}

// Orchestrator drives one or more training runs.
type Orchestrator struct {
	cfg       Config
	fitter    Fitter
	exporters []Exporter
	logger    *slog.Logger

	now   func() time.Time
	newID func() string
}

// New creates an Orchestrator. A nil fitter uses a bkt.Estimator built from
// cfg.Estimator, requiring at least cfg.MinGroupAttempts observations.
func New(cfg Config, fitter Fitter, exporters ...Exporter) *Orchestrator {
	cfg = cfg.withDefaults()
	if fitter == nil {
		est := cfg.Estimator
		est.MinObservations = max(est.MinObservations, cfg.MinGroupAttempts)
		fitter = bkt.NewEstimator(est)
	}
	return &Orchestrator{
		cfg:       cfg,
		fitter:    fitter,
		exporters: exporters,
		logger:    cfg.Logger,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
}

// RunRaw parses raw rows and runs training on them. A malformed row fails
// the whole batch before any stage is reached.
func (o *Orchestrator) RunRaw(ctx context.Context, rows []attempt.Raw) (*Result, error) {
	log, err := attempt.Parse(rows)
	if err != nil {
		return nil, fmt.Errorf("ingest attempts: %w", err)
	}
	return o.Run(ctx, log)
}

// Run trains every group of log and hands the artifacts to the exporters.
//
// A run below MinTotalAttempts ends in StageSkipped with a nil error. Group
// failures are recovered with the fallback policy and listed in
// Result.Failures. Only cancellation and exporter errors are returned; on
// an exporter error the result stays at StageTrained.
func (o *Orchestrator) Run(ctx context.Context, log *attempt.Log) (*Result, error) {
	start := time.Now()
	res := &Result{RunID: o.newID(), Stage: StageLoaded}
	groups := log.Groups(o.cfg.Granularity)
	logger := o.logger.With("run_id", res.RunID, "granularity", string(o.cfg.Granularity))

	res.Stats = log.Stats(o.cfg.Granularity, o.cfg.MinGroupAttempts)
	res.Stage = StageQualityChecked
	logger.Info("quality check",
		"attempts", res.Stats.TotalAttempts,
		"learners", res.Stats.DistinctLearners,
		"skills", res.Stats.DistinctSkills,
		"groups", len(groups))

	if res.Stats.TotalAttempts < o.cfg.MinTotalAttempts {
		res.Stage = StageSkipped
		res.SkipReason = &bkt.InsufficientDataError{
			Scope: "run",
			Have:  res.Stats.TotalAttempts,
			Need:  o.cfg.MinTotalAttempts,
		}
		res.Duration = time.Since(start)
		logger.Warn("training skipped", "reason", res.SkipReason)
		return res, nil
	}

	for _, k := range res.Stats.Groups.BelowMin {
		res.Warnings = append(res.Warnings, k)
		logger.Warn("group below per-group minimum, will use fallback",
			"group", k.String(), "min", o.cfg.MinGroupAttempts)
	}

	outcomes, err := o.trainGroups(ctx, groups)
	if err != nil {
		return nil, err
	}

	arts := newArtifacts(res.RunID, o.cfg.Granularity, o.now())
	fallback := newFallback(o, log)
	for _, out := range outcomes {
		if out.err != nil {
			res.Failures = append(res.Failures, GroupFailure{Key: out.group.Key, Attempts: out.group.Len(), Err: out.err})
			logger.Warn("group produced no model", "group", out.group.Key.String(), "error", out.err)
			for _, learner := range out.group.Learners() {
				sub := out.group.ForLearner(learner)
				entry, err := fallback.entry(ctx, sub)
				if err != nil {
					return nil, err
				}
				arts.Mastery[LearnerSkill{Learner: learner, Skill: sub.Key.Skill}] = entry
			}
			continue
		}

		arts.Models[out.group.Key] = ModelEntry{Params: out.fit.Params, Attempts: out.group.Len()}
		for ls, entry := range out.mastery {
			arts.Mastery[ls] = entry
		}
	}
	res.Artifacts = arts
	res.Stage = StageTrained
	logger.Info("training complete",
		"models", len(arts.Models),
		"scores", len(arts.Mastery),
		"failures", len(res.Failures))

	for _, exp := range o.exporters {
		if err := exp.Export(ctx, arts); err != nil {
			res.Duration = time.Since(start)
			return res, fmt.Errorf("export %s: %w", exp.Name(), err)
		}
		logger.Debug("exported", "exporter", exp.Name())
	}
	res.Stage = StageExported
	res.Duration = time.Since(start)
	return res, nil
}

// groupOutcome is one worker's result. Workers share nothing; outcomes are
// merged after every group is done.
type groupOutcome struct {
	group   attempt.Group
	fit     *bkt.Fit
	mastery map[LearnerSkill]MasteryEntry
	err     error
}

func (o *Orchestrator) trainGroups(ctx context.Context, groups []attempt.Group) ([]groupOutcome, error) {
	outcomes := make([]groupOutcome, len(groups))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Workers)
	for i, grp := range groups {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out, err := o.trainGroup(gctx, grp)
			if err != nil {
				return err
			}
			outcomes[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

// trainGroup fits one group and tracks each of its learners with the
// group's own model. Fit errors are recorded on the outcome; only
// cancellation is returned.
func (o *Orchestrator) trainGroup(ctx context.Context, grp attempt.Group) (groupOutcome, error) {
	out := groupOutcome{group: grp}
	fit, err := o.fitter.Fit(ctx, grp.Sequences())
	if err != nil {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		out.err = scoped(err, grp.Key)
		return out, nil
	}
	if err := fit.Params.Validate(); err != nil {
		out.err = err
		return out, nil
	}

	out.fit = fit
	out.mastery = make(map[LearnerSkill]MasteryEntry)
	for _, learner := range grp.Learners() {
		sub := grp.ForLearner(learner)
		tr, err := mastery.Track(fit.Params, sub.Outcomes())
		if err != nil {
			out.err = err
			out.fit = nil
			out.mastery = nil
			return out, nil
		}
		out.mastery[LearnerSkill{Learner: learner, Skill: grp.Key.Skill}] = MasteryEntry{
			Mastery:  tr.Final,
			Source:   SourceModel,
			Attempts: sub.Len(),
			Level:    mastery.ClassifyLevel(tr.Final, true),
		}
	}
	return out, nil
}

// scoped names the group on an InsufficientDataError.
func scoped(err error, k attempt.Key) error {
	var ide *bkt.InsufficientDataError
	if errors.As(err, &ide) && ide.Scope == "" {
		cp := *ide
		cp.Scope = k.String()
		return &cp
	}
	return err
}

// fallback resolves scores for groups without a model. Pooled skill models
// are fit at most once per skill.
type fallback struct {
	o      *Orchestrator
	log    *attempt.Log
	pooled map[string]*bkt.Params
}

func newFallback(o *Orchestrator, log *attempt.Log) *fallback {
	return &fallback{o: o, log: log, pooled: make(map[string]*bkt.Params)}
}

func (f *fallback) entry(ctx context.Context, sub attempt.Group) (MasteryEntry, error) {
	def := MasteryEntry{
		Mastery:  f.o.cfg.FallbackMastery,
		Source:   SourceDefault,
		Attempts: sub.Len(),
		Level:    mastery.LevelUnknown,
	}
	if f.o.cfg.FallbackPolicy != FallbackPooled || f.o.cfg.Granularity != attempt.Individualized {
		return def, nil
	}

	p, err := f.skillModel(ctx, sub.Key.Skill)
	if err != nil {
		return MasteryEntry{}, err
	}
	if p == nil {
		return def, nil
	}
	tr, err := mastery.Track(*p, sub.Outcomes())
	if err != nil {
		return def, nil
	}
	return MasteryEntry{
		Mastery:  tr.Final,
		Source:   SourcePooledFallback,
		Attempts: sub.Len(),
		Level:    mastery.ClassifyLevel(tr.Final, true),
	}, nil
}

// skillModel returns the pooled model of a skill, or nil if it cannot be fit.
func (f *fallback) skillModel(ctx context.Context, skill string) (*bkt.Params, error) {
	if p, ok := f.pooled[skill]; ok {
		return p, nil
	}
	var p *bkt.Params
	if grp, ok := f.log.SkillGroup(skill); ok {
		fit, err := f.o.fitter.Fit(ctx, grp.Sequences())
		switch {
		case err == nil:
			p = &fit.Params
		case ctx.Err() != nil:
			return nil, ctx.Err()
		default:
			f.o.logger.Warn("pooled fallback model failed", "skill", skill, "error", err)
		}
	}
	f.pooled[skill] = p
	return p, nil
}
