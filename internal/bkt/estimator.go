package bkt

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"golang.org/x/sync/errgroup"
)

const (
	// paramFloor keeps re-estimated probabilities off the exact 0/1 edges,
	// where a single contrary observation would zero the likelihood.
	paramFloor = 1e-6

	// minDenominator is the smallest expected count treated as non-zero.
	minDenominator = 1e-12
)

// EstimatorConfig configures EM fitting.
// Zero values are replaced with defaults, except Seed and Forgets.
//
// MaxSlip and MaxGuess bound the fitted slip and guess after every M-step.
// The caps can lower the attainable likelihood, in exchange for keeping the
// known and unknown states from swapping labels.
type EstimatorConfig struct {
	Restarts        int     `json:"restarts"`         // default 5
	Seed            int64   `json:"seed"`             // used as-is; DefaultEstimatorConfig sets 42
	MaxIterations   int     `json:"max_iterations"`   // default 100
	Tolerance       float64 `json:"tolerance"`        // default 1e-4
	Forgets         bool    `json:"forgets"`          // fit Forget instead of fixing it at 0
	MinObservations int     `json:"min_observations"` // default 1
	MaxSlip         float64 `json:"max_slip"`         // default 0.3
	MaxGuess        float64 `json:"max_guess"`        // default 0.3
	Workers         int     `json:"workers"`          // concurrent restarts, default Restarts
}

// DefaultEstimatorConfig returns the configuration used by the training CLI.
func DefaultEstimatorConfig() EstimatorConfig {
	return EstimatorConfig{
		Restarts:        5,
		Seed:            42,
		MaxIterations:   100,
		Tolerance:       1e-4,
		MinObservations: 1,
		MaxSlip:         0.3,
		MaxGuess:        0.3,
	}
}

// Estimator fits BKT parameters by expectation-maximization with random
// restarts. It is safe for concurrent use.
type Estimator struct {
	restarts      int
	seed          int64
	maxIterations int
	tolerance     float64
	forgets       bool
	minObs        int
	maxSlip       float64
	maxGuess      float64
	workers       int
}

// NewEstimator creates an Estimator from cfg, filling zero-valued fields
// with defaults.
func NewEstimator(cfg EstimatorConfig) *Estimator {
	def := DefaultEstimatorConfig()
	e := &Estimator{
		restarts:      cfg.Restarts,
		seed:          cfg.Seed,
		maxIterations: cfg.MaxIterations,
		tolerance:     cfg.Tolerance,
		forgets:       cfg.Forgets,
		minObs:        cfg.MinObservations,
		maxSlip:       cfg.MaxSlip,
		maxGuess:      cfg.MaxGuess,
		workers:       cfg.Workers,
	}
	if e.restarts <= 0 {
		e.restarts = def.Restarts
	}
	if e.maxIterations <= 0 {
		e.maxIterations = def.MaxIterations
	}
	if e.tolerance <= 0 {
		e.tolerance = def.Tolerance
	}
	if e.minObs <= 0 {
		e.minObs = def.MinObservations
	}
	if e.maxSlip <= paramFloor || e.maxSlip > 1-paramFloor {
		e.maxSlip = def.MaxSlip
	}
	if e.maxGuess <= paramFloor || e.maxGuess > 1-paramFloor {
		e.maxGuess = def.MaxGuess
	}
	if e.workers <= 0 || e.workers > e.restarts {
		e.workers = e.restarts
	}
	return e
}

// Fit is the outcome of fitting one group.
type Fit struct {
	Params        Params
	LogLikelihood float64
	Iterations    int // EM iterations of the winning restart
	Restart       int // index of the winning restart
}

// restartResult is one local optimum. A -Inf logLik marks a diverged restart.
type restartResult struct {
	restart    int
	params     Params
	logLik     float64
	iterations int
	err        error
}

// Fit estimates parameters for the given outcome sequences, which share one
// model (one sequence per learner). Restarts run concurrently and the best
// finite log likelihood wins, ties going to the lowest restart index, so a
// fixed seed reproduces the same parameters bit for bit.
//
// Returns *InsufficientDataError if the sequences hold fewer than
// MinObservations attempts, *NonConvergenceError if every restart diverged,
// or the context error if ctx is cancelled.
func (e *Estimator) Fit(ctx context.Context, seqs [][]bool) (*Fit, error) {
	n := 0
	for _, s := range seqs {
		n += len(s)
	}
	if n == 0 || n < e.minObs {
		return nil, &InsufficientDataError{Have: n, Need: e.minObs}
	}

	results := make([]restartResult, e.restarts)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for r := range e.restarts {
		g.Go(func() error {
			res, err := e.runRestart(gctx, seqs, r)
			if err != nil {
				return err
			}
			results[r] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	best := results[0]
	for _, res := range results[1:] {
		best = better(best, res)
	}
	if math.IsInf(best.logLik, 0) || math.IsNaN(best.logLik) {
		return nil, &NonConvergenceError{Restarts: e.restarts, Err: best.err}
	}
	return &Fit{
		Params:        best.params,
		LogLikelihood: best.logLik,
		Iterations:    best.iterations,
		Restart:       best.restart,
	}, nil
}

// better picks the higher finite likelihood; a keeps ties, so folding in
// restart order prefers the lowest index.
func better(a, b restartResult) restartResult {
	if !finite(b.logLik) {
		return a
	}
	if !finite(a.logLik) || b.logLik > a.logLik {
		return b
	}
	return a
}

// runRestart runs EM from one random initialization until the likelihood
// gain drops below tolerance or the iteration cap is hit. It returns the
// best iterate seen, so a clamped M-step can never lower the result.
func (e *Estimator) runRestart(ctx context.Context, seqs [][]bool, r int) (restartResult, error) {
	rng := rand.New(rand.NewSource(e.seed + int64(r)))
	p := e.initParams(rng)

	best := restartResult{restart: r, logLik: math.Inf(-1)}
	prevLL := math.Inf(-1)
	for it := 1; it <= e.maxIterations; it++ {
		if err := ctx.Err(); err != nil {
			return restartResult{}, err
		}

		counts := expectation(p, seqs)
		if !finite(counts.logLik) {
			if best.err == nil {
				best.err = fmt.Errorf("restart %d: non-finite likelihood at iteration %d", r, it)
			}
			break
		}
		if counts.logLik > best.logLik {
			best.params = p
			best.logLik = counts.logLik
			best.iterations = it
		}
		if it > 1 && counts.logLik-prevLL < e.tolerance {
			break
		}
		prevLL = counts.logLik
		p = e.maximize(p, counts)
	}
	return best, nil
}

// initParams draws a starting point. Learn, slip and guess start small so
// EM begins near the "mastery explains correctness" basin.
func (e *Estimator) initParams(rng *rand.Rand) Params {
	p := Params{
		Prior: uniform(rng, 0.05, 0.95),
		Learn: uniform(rng, 0.01, 0.5),
		Slip:  uniform(rng, 0.01, e.maxSlip),
		Guess: uniform(rng, 0.01, e.maxGuess),
	}
	if e.forgets {
		p.Forget = uniform(rng, 0.01, 0.1)
	}
	return e.clamp(p)
}

// maximize re-estimates parameters from expected counts (the M-step).
// A parameter whose denominator is zero keeps its previous value.
func (e *Estimator) maximize(prev Params, c expectedCounts) Params {
	next := prev
	if c.sequences > 0 {
		next.Prior = c.initMastered / float64(c.sequences)
	}
	if c.fromUnmastered > minDenominator {
		next.Learn = c.learned / c.fromUnmastered
	}
	if e.forgets && c.fromMastered > minDenominator {
		next.Forget = c.forgot / c.fromMastered
	}
	if c.inMastered > minDenominator {
		next.Slip = c.slipped / c.inMastered
	}
	if c.inUnmastered > minDenominator {
		next.Guess = c.guessed / c.inUnmastered
	}
	return e.clamp(next)
}

func (e *Estimator) clamp(p Params) Params {
	p.Prior = clamp(p.Prior, paramFloor, 1-paramFloor)
	p.Learn = clamp(p.Learn, paramFloor, 1-paramFloor)
	p.Slip = clamp(p.Slip, paramFloor, e.maxSlip)
	p.Guess = clamp(p.Guess, paramFloor, e.maxGuess)
	if e.forgets {
		p.Forget = clamp(p.Forget, paramFloor, 1-paramFloor)
	} else {
		p.Forget = 0
	}
	return p
}

func uniform(rng *rand.Rand, lo, hi float64) float64 {
	return lo + rng.Float64()*(hi-lo)
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(v, hi))
}

func finite(v float64) bool {
	return !math.IsInf(v, 0) && !math.IsNaN(v)
}
