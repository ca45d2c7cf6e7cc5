package bkt

import (
	"errors"
	"fmt"
)

// Sentinel errors. Use errors.Is to match the typed errors below.
var (
	ErrInsufficientData = errors.New("bkt: insufficient data")
	ErrNonConvergence   = errors.New("bkt: no restart produced a finite likelihood")
	ErrInvalidParams    = errors.New("bkt: parameter out of [0,1]")
)

// InsufficientDataError reports that a sequence, group or whole run holds
// fewer attempts than required.
type InsufficientDataError struct {
	Scope string // group key, or "run" for the quality gate
	Have  int
	Need  int
}

func (e *InsufficientDataError) Error() string {
	scope := e.Scope
	if scope == "" {
		scope = "sequence"
	}
	return fmt.Sprintf("insufficient data for %s: have %d attempts, need %d", scope, e.Have, e.Need)
}

func (e *InsufficientDataError) Is(target error) bool { return target == ErrInsufficientData }

// NonConvergenceError reports that every EM restart ended with a
// non-finite log likelihood.
type NonConvergenceError struct {
	Restarts int
	Err      error // last restart failure, if any
}

func (e *NonConvergenceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("all %d EM restarts diverged: %v", e.Restarts, e.Err)
	}
	return fmt.Sprintf("all %d EM restarts diverged", e.Restarts)
}

func (e *NonConvergenceError) Unwrap() error { return e.Err }

func (e *NonConvergenceError) Is(target error) bool { return target == ErrNonConvergence }
