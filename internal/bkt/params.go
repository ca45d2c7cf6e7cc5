package bkt

import (
	"fmt"
	"math"
)

// Params is one fitted BKT model.
//
// The hidden state is binary (unmastered, mastered). Prior is the initial
// probability of mastery; Learn and Forget are the per-opportunity
// transition probabilities; Slip and Guess are the emission error rates.
// Forget is zero unless forgetting is enabled, which makes mastery absorbing.
type Params struct {
	Prior  float64 `json:"prior"`
	Learn  float64 `json:"learn"`
	Slip   float64 `json:"slip"`
	Guess  float64 `json:"guess"`
	Forget float64 `json:"forget,omitempty"`
}

// Validate checks that every probability lies in [0, 1].
func (p Params) Validate() error {
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"prior", p.Prior},
		{"learn", p.Learn},
		{"slip", p.Slip},
		{"guess", p.Guess},
		{"forget", p.Forget},
	} {
		if math.IsNaN(f.v) || f.v < 0 || f.v > 1 {
			return fmt.Errorf("%w: %s = %v", ErrInvalidParams, f.name, f.v)
		}
	}
	return nil
}

// Transition advances a mastery belief by one practice opportunity.
func (p Params) Transition(belief float64) float64 {
	return belief*(1-p.Forget) + (1-belief)*p.Learn
}

// PredictCorrect returns P(correct) for a learner with the given mastery belief.
func (p Params) PredictCorrect(belief float64) float64 {
	return belief*(1-p.Slip) + (1-belief)*p.Guess
}

// emission returns P(outcome | state) for both states.
func (p Params) emission(correct bool) (unmastered, mastered float64) {
	if correct {
		return p.Guess, 1 - p.Slip
	}
	return 1 - p.Guess, p.Slip
}

// String renders the parameters with the conventional BKT probability labels.
func (p Params) String() string {
	s := fmt.Sprintf("P(L0)=%.3f P(T)=%.3f P(S)=%.3f P(G)=%.3f", p.Prior, p.Learn, p.Slip, p.Guess)
	if p.Forget > 0 {
		s += fmt.Sprintf(" P(F)=%.3f", p.Forget)
	}
	return s
}
