package mastery

import "github.com/abhisek/bktrace/internal/bkt"

// Trajectory is the filtered mastery belief after each attempt.
type Trajectory struct {
	// Mastery[t] is P(mastered) after observing attempt t.
	Mastery []float64 `json:"mastery"`
	// PredictedCorrect[t] is P(correct) for attempt t given attempts before it.
	PredictedCorrect []float64 `json:"predicted_correct"`
	// Final is the belief after the last attempt.
	Final float64 `json:"final"`
}

// Len returns the number of tracked attempts.
func (tr *Trajectory) Len() int { return len(tr.Mastery) }

// Track runs the forward recursion over outcomes. The belief starts at
// p.Prior; each attempt first applies the learning transition, then the
// Bayesian update for the observed outcome. There is no backward pass, so
// each value only reflects attempts seen so far.
func Track(p bkt.Params, outcomes []bool) (*Trajectory, error) {
	if len(outcomes) == 0 {
		return nil, &bkt.InsufficientDataError{Have: 0, Need: 1}
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	tr := &Trajectory{
		Mastery:          make([]float64, len(outcomes)),
		PredictedCorrect: make([]float64, len(outcomes)),
	}
	belief := p.Prior
	for t, correct := range outcomes {
		predicted := p.Transition(belief)
		tr.PredictedCorrect[t] = p.PredictCorrect(predicted)
		belief = update(p, predicted, correct)
		tr.Mastery[t] = belief
	}
	tr.Final = belief
	return tr, nil
}

// update conditions a mastery belief on one outcome. An outcome that is
// impossible under both states leaves the belief unchanged.
func update(p bkt.Params, belief float64, correct bool) float64 {
	var mastered, unmastered float64
	if correct {
		mastered = belief * (1 - p.Slip)
		unmastered = (1 - belief) * p.Guess
	} else {
		mastered = belief * p.Slip
		unmastered = (1 - belief) * (1 - p.Guess)
	}
	evidence := mastered + unmastered
	if evidence <= 0 {
		return belief
	}
	return clamp01(mastered / evidence)
}

func clamp01(v float64) float64 {
	return max(0, min(v, 1))
}
