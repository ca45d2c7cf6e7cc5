package bkt

import "math"

// expectedCounts accumulates the expected sufficient statistics of the
// two-state HMM over one or more observation sequences (the E-step).
type expectedCounts struct {
	sequences    int
	initMastered float64 // Σ γ₀(mastered)

	// Transition counts use positions 0..T-2.
	fromUnmastered float64 // Σ γₜ(unmastered)
	learned        float64 // Σ ξₜ(unmastered→mastered)
	fromMastered   float64 // Σ γₜ(mastered)
	forgot         float64 // Σ ξₜ(mastered→unmastered)

	// Emission counts use every position.
	inUnmastered float64 // Σ γₜ(unmastered)
	guessed      float64 // Σ γₜ(unmastered) where correct
	inMastered   float64 // Σ γₜ(mastered)
	slipped      float64 // Σ γₜ(mastered) where incorrect

	logLik float64
}

// expectation runs scaled forward-backward over every sequence under p and
// returns the summed expected counts. A non-finite logLik means some
// observation had zero probability under p.
func expectation(p Params, seqs [][]bool) expectedCounts {
	var c expectedCounts
	for _, seq := range seqs {
		if len(seq) == 0 {
			continue
		}
		if !forwardBackward(p, seq, &c) {
			c.logLik = math.Inf(-1)
			return c
		}
	}
	return c
}

// forwardBackward adds one sequence's statistics to acc. The forward pass
// is normalized at every step; the normalizers give the log likelihood and
// keep long sequences from underflowing.
func forwardBackward(p Params, seq []bool, acc *expectedCounts) bool {
	n := len(seq)
	alpha := make([][2]float64, n)
	beta := make([][2]float64, n)
	scale := make([]float64, n)

	// Transition matrix rows: from unmastered, from mastered.
	a00, a01 := 1-p.Learn, p.Learn
	a10, a11 := p.Forget, 1-p.Forget

	var ll float64
	e0, e1 := p.emission(seq[0])
	alpha[0] = [2]float64{(1 - p.Prior) * e0, p.Prior * e1}
	for t := 0; t < n; t++ {
		if t > 0 {
			e0, e1 = p.emission(seq[t])
			prev := alpha[t-1]
			alpha[t] = [2]float64{
				(prev[0]*a00 + prev[1]*a10) * e0,
				(prev[0]*a01 + prev[1]*a11) * e1,
			}
		}
		s := alpha[t][0] + alpha[t][1]
		if !(s > 0) || math.IsInf(s, 0) {
			return false
		}
		scale[t] = s
		alpha[t][0] /= s
		alpha[t][1] /= s
		ll += math.Log(s)
	}

	beta[n-1] = [2]float64{1, 1}
	for t := n - 2; t >= 0; t-- {
		e0, e1 := p.emission(seq[t+1])
		next := beta[t+1]
		beta[t] = [2]float64{
			(a00*e0*next[0] + a01*e1*next[1]) / scale[t+1],
			(a10*e0*next[0] + a11*e1*next[1]) / scale[t+1],
		}
	}

	for t := 0; t < n; t++ {
		g0 := alpha[t][0] * beta[t][0]
		g1 := alpha[t][1] * beta[t][1]
		if z := g0 + g1; z > 0 {
			g0, g1 = g0/z, g1/z
		}

		if t == 0 {
			acc.initMastered += g1
		}
		acc.inUnmastered += g0
		acc.inMastered += g1
		if seq[t] {
			acc.guessed += g0
		} else {
			acc.slipped += g1
		}

		if t == n-1 {
			continue
		}
		acc.fromUnmastered += g0
		acc.fromMastered += g1

		e0, e1 := p.emission(seq[t+1])
		next := beta[t+1]
		acc.learned += alpha[t][0] * a01 * e1 * next[1] / scale[t+1]
		acc.forgot += alpha[t][1] * a10 * e0 * next[0] / scale[t+1]
	}

	acc.sequences++
	acc.logLik += ll
	return true
}

// LogLikelihood returns the log likelihood of the sequences under p, or
// -Inf if some observation is impossible under p.
func LogLikelihood(p Params, seqs [][]bool) float64 {
	return expectation(p, seqs).logLik
}
