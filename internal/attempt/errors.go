package attempt

import (
	"errors"
	"fmt"
)

// ErrMissingField matches any *MissingFieldError via errors.Is.
var ErrMissingField = errors.New("attempt: missing or malformed field")

// MissingFieldError reports the first record in a batch whose required
// field is absent or cannot be coerced. The whole batch is rejected.
type MissingFieldError struct {
	Index  int    // position of the offending record in the batch
	Field  string // canonical field name: learner_id, skill, correct, timestamp
	Reason string
}

func (e *MissingFieldError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("record %d: missing required field %q", e.Index, e.Field)
	}
	return fmt.Sprintf("record %d: field %q: %s", e.Index, e.Field, e.Reason)
}

func (e *MissingFieldError) Is(target error) bool { return target == ErrMissingField }

// InvalidGranularityError is returned for an unknown grouping mode.
type InvalidGranularityError struct {
	Value string
}

func (e *InvalidGranularityError) Error() string {
	return fmt.Sprintf("unknown granularity %q (want %q or %q)", e.Value, Pooled, Individualized)
}
