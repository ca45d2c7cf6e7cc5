// Package config resolves bktrace settings from defaults, an optional .env
// file and BKTRACE_* environment variables. Command-line flags are applied
// on top by the CLI.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/abhisek/bktrace/internal/attempt"
	"github.com/abhisek/bktrace/internal/scheduler"
	"github.com/abhisek/bktrace/internal/training"
)

// EnvPrefix prefixes every environment variable read here.
const EnvPrefix = "BKTRACE_"

// Config holds all bktrace settings.
type Config struct {
	Training training.Config

	// Input is the attempt source: a file path, sqlite:<path> or a
	// postgres:// URL.
	Input string
	Sheet string // XLSX sheet
	Table string // Postgres table

	OutDir   string // where bkt_params.json and mastery_scores.json go
	DBPath   string // run store; empty means store.DefaultDBPath()
	Save     bool   // record runs in the store
	KeepRuns int    // prune older runs after saving; 0 keeps all

	Redis    RedisConfig
	Schedule string // cron expression for `bktrace schedule`
	Log      LogConfig
}

// RedisConfig configures the Redis publisher. An empty URL disables it.
type RedisConfig struct {
	URL    string
	Prefix string
	TTL    time.Duration
}

// LogConfig configures the process logger.
type LogConfig struct {
	Format string // "text" or "json"
	Level  string // "debug", "info", "warn" or "error"
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Training: training.DefaultConfig(),
		OutDir:   ".",
		Save:     true,
		Redis: RedisConfig{
			Prefix: "bktrace",
		},
		Schedule: scheduler.DefaultCron,
		Log: LogConfig{
			Format: "text",
			Level:  "info",
		},
	}
}

// LoadDotEnv loads variables from the given files, or ./.env when none are
// given, without overriding variables already set. Missing files are not an
// error.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// FromEnv builds a Config from the environment after loading ./.env,
// falling back to defaults for unset values.
func FromEnv() (Config, error) {
	if err := LoadDotEnv(); err != nil {
		return Config{}, err
	}
	return fromLookup(os.LookupEnv)
}

func fromLookup(lookup func(string) (string, bool)) (Config, error) {
	cfg := DefaultConfig()
	env := envReader{lookup: lookup}

	if v, ok := env.str("GRANULARITY"); ok {
		cfg.Training.Granularity = attempt.Granularity(v)
	}
	if v, ok := env.str("FALLBACK"); ok {
		cfg.Training.FallbackPolicy = training.FallbackPolicy(v)
	}
	env.intVar("MIN_TOTAL", &cfg.Training.MinTotalAttempts)
	env.intVar("MIN_GROUP", &cfg.Training.MinGroupAttempts)
	env.floatVar("FALLBACK_MASTERY", &cfg.Training.FallbackMastery)
	env.intVar("WORKERS", &cfg.Training.Workers)
	env.intVar("RESTARTS", &cfg.Training.Estimator.Restarts)
	env.int64Var("SEED", &cfg.Training.Estimator.Seed)
	env.intVar("MAX_ITERATIONS", &cfg.Training.Estimator.MaxIterations)
	env.boolVar("FORGETS", &cfg.Training.Estimator.Forgets)
	env.floatVar("MAX_SLIP", &cfg.Training.Estimator.MaxSlip)
	env.floatVar("MAX_GUESS", &cfg.Training.Estimator.MaxGuess)

	env.stringVar("INPUT", &cfg.Input)
	env.stringVar("SHEET", &cfg.Sheet)
	env.stringVar("PG_TABLE", &cfg.Table)
	env.stringVar("OUT", &cfg.OutDir)
	env.stringVar("DB", &cfg.DBPath)
	env.boolVar("SAVE", &cfg.Save)
	env.intVar("KEEP_RUNS", &cfg.KeepRuns)

	env.stringVar("REDIS_URL", &cfg.Redis.URL)
	env.stringVar("REDIS_PREFIX", &cfg.Redis.Prefix)
	env.durationVar("REDIS_TTL", &cfg.Redis.TTL)

	env.stringVar("SCHEDULE", &cfg.Schedule)
	env.stringVar("LOG_FORMAT", &cfg.Log.Format)
	env.stringVar("LOG_LEVEL", &cfg.Log.Level)

	if env.err != nil {
		return Config{}, env.err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if err := c.Training.Validate(); err != nil {
		return err
	}
	if c.KeepRuns < 0 {
		return fmt.Errorf("%sKEEP_RUNS must be >= 0, got %d", EnvPrefix, c.KeepRuns)
	}
	if c.Redis.TTL < 0 {
		return fmt.Errorf("%sREDIS_TTL must be >= 0, got %s", EnvPrefix, c.Redis.TTL)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format: %q", c.Log.Format)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level: %q", c.Log.Level)
	}
	return nil
}

// envReader reads prefixed variables and keeps the first parse error.
type envReader struct {
	lookup func(string) (string, bool)
	err    error
}

func (e *envReader) str(name string) (string, bool) {
	v, ok := e.lookup(EnvPrefix + name)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func (e *envReader) stringVar(name string, dst *string) {
	if v, ok := e.str(name); ok {
		*dst = v
	}
}

func (e *envReader) fail(name, v string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("%s%s=%q: %w", EnvPrefix, name, v, err)
	}
}

func (e *envReader) intVar(name string, dst *int) {
	if v, ok := e.str(name); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(name, v, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) int64Var(name string, dst *int64) {
	if v, ok := e.str(name); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			e.fail(name, v, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) floatVar(name string, dst *float64) {
	if v, ok := e.str(name); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.fail(name, v, err)
			return
		}
		*dst = f
	}
}

func (e *envReader) boolVar(name string, dst *bool) {
	if v, ok := e.str(name); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.fail(name, v, err)
			return
		}
		*dst = b
	}
}

func (e *envReader) durationVar(name string, dst *time.Duration) {
	if v, ok := e.str(name); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.fail(name, v, err)
			return
		}
		*dst = d
	}
}
