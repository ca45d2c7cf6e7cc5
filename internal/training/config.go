package training

import (
	"fmt"
	"log/slog"
	"runtime"

	"github.com/abhisek/bktrace/internal/attempt"
	"github.com/abhisek/bktrace/internal/bkt"
)

// FallbackPolicy decides the mastery score of a group that produced no model.
type FallbackPolicy string

const (
	// FallbackDefault substitutes Config.FallbackMastery.
	FallbackDefault FallbackPolicy = "default"
	// FallbackPooled tracks the learner with a model fit on every learner
	// of the same skill. Only meaningful in individualized mode.
	FallbackPooled FallbackPolicy = "pooled"
)

// ParseFallbackPolicy validates a policy name.
func ParseFallbackPolicy(s string) (FallbackPolicy, error) {
	switch FallbackPolicy(s) {
	case FallbackDefault, FallbackPooled:
		return FallbackPolicy(s), nil
	case "":
		return FallbackDefault, nil
	}
	return "", fmt.Errorf("unknown fallback policy %q (want %q or %q)", s, FallbackDefault, FallbackPooled)
}

// Config controls one training run.
type Config struct {
	Granularity      attempt.Granularity
	MinTotalAttempts int     // quality gate, default 100
	MinGroupAttempts int     // per-group minimum, default 10
	FallbackMastery  float64 // score for groups without a model, default 0.5
	FallbackPolicy   FallbackPolicy
	Workers          int // concurrent groups, default runtime.NumCPU()
	Estimator        bkt.EstimatorConfig
	Logger           *slog.Logger
}

// DefaultConfig returns the defaults used by the CLI.
func DefaultConfig() Config {
	return Config{
		Granularity:      attempt.Pooled,
		MinTotalAttempts: 100,
		MinGroupAttempts: 10,
		FallbackMastery:  0.5,
		FallbackPolicy:   FallbackDefault,
		Workers:          runtime.NumCPU(),
		Estimator:        bkt.DefaultEstimatorConfig(),
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if _, err := attempt.ParseGranularity(string(c.Granularity)); err != nil {
		return err
	}
	if _, err := ParseFallbackPolicy(string(c.FallbackPolicy)); err != nil {
		return err
	}
	if c.MinTotalAttempts < 0 {
		return fmt.Errorf("min total attempts must be >= 0, got %d", c.MinTotalAttempts)
	}
	if c.MinGroupAttempts < 1 {
		return fmt.Errorf("min group attempts must be >= 1, got %d", c.MinGroupAttempts)
	}
	if c.FallbackMastery < 0 || c.FallbackMastery > 1 {
		return fmt.Errorf("fallback mastery must be in [0,1], got %v", c.FallbackMastery)
	}
	if c.Estimator.Restarts < 0 {
		return fmt.Errorf("restarts must be >= 0, got %d", c.Estimator.Restarts)
	}
	if c.Estimator.MaxSlip < 0 || c.Estimator.MaxSlip >= 1 {
		return fmt.Errorf("max slip must be in [0,1), got %v", c.Estimator.MaxSlip)
	}
	if c.Estimator.MaxGuess < 0 || c.Estimator.MaxGuess >= 1 {
		return fmt.Errorf("max guess must be in [0,1), got %v", c.Estimator.MaxGuess)
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.Granularity == "" {
		c.Granularity = attempt.Pooled
	}
	if c.FallbackPolicy == "" {
		c.FallbackPolicy = FallbackDefault
	}
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}
