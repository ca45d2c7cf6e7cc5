package attempt

import "time"

// Raw is one upstream attempt row with arbitrary field naming.
type Raw map[string]any

// Record is a single normalized practice attempt.
type Record struct {
	LearnerID string
	SkillID   string
	Correct   bool
	Timestamp time.Time

	// Seq is the arrival index within the ingested batch. It breaks
	// timestamp ties so group order stays deterministic.
	Seq int

	Meta Meta
}

// Meta carries contextual fields through ingestion. The model ignores them.
type Meta struct {
	ItemID          string
	ItemType        string
	ResponseTimeMs  float64
	HasResponseTime bool
}

// Granularity selects how attempts are grouped for training.
type Granularity string

const (
	// Pooled fits one model per skill, shared by all learners.
	Pooled Granularity = "pooled"
	// Individualized fits one model per learner and skill.
	Individualized Granularity = "individualized"
)

// ParseGranularity validates a granularity name.
func ParseGranularity(s string) (Granularity, error) {
	switch Granularity(s) {
	case Pooled, Individualized:
		return Granularity(s), nil
	}
	return "", &InvalidGranularityError{Value: s}
}

// Key identifies a group. Learner is empty for pooled groups.
type Key struct {
	Learner string
	Skill   string
}

// String renders the key as "skill" or "learner/skill".
func (k Key) String() string {
	if k.Learner == "" {
		return k.Skill
	}
	return k.Learner + "/" + k.Skill
}

// Pooled reports whether the key is a skill-only scope.
func (k Key) Pooled() bool {
	return k.Learner == ""
}
