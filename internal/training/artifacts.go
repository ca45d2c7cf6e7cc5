package training

import (
	"sort"
	"time"

	"github.com/abhisek/bktrace/internal/attempt"
	"github.com/abhisek/bktrace/internal/bkt"
	"github.com/abhisek/bktrace/internal/mastery"
)

// Source tells where a mastery score came from, so a fallback 0.5 is never
// mistaken for a computed one.
type Source string

const (
	SourceModel          Source = "model"
	SourcePooledFallback Source = "pooled-fallback"
	SourceDefault        Source = "default"
)

// LearnerSkill keys the mastery snapshot.
type LearnerSkill struct {
	Learner string
	Skill   string
}

// ModelEntry is one exported model.
type ModelEntry struct {
	Params   bkt.Params
	Attempts int
}

// MasteryEntry is one learner's current mastery of one skill.
type MasteryEntry struct {
	Mastery  float64
	Source   Source
	Attempts int
	Level    mastery.Level
}

// Modeled reports whether the score came from the learner's own model.
func (e MasteryEntry) Modeled() bool { return e.Source == SourceModel }

// Artifacts is everything a run hands to exporters. It is not modified
// after the run reaches StageTrained.
type Artifacts struct {
	RunID       string
	Granularity attempt.Granularity
	GeneratedAt time.Time
	Models      map[attempt.Key]ModelEntry
	Mastery     map[LearnerSkill]MasteryEntry
}

func newArtifacts(runID string, g attempt.Granularity, now time.Time) *Artifacts {
	return &Artifacts{
		RunID:       runID,
		Granularity: g,
		GeneratedAt: now,
		Models:      make(map[attempt.Key]ModelEntry),
		Mastery:     make(map[LearnerSkill]MasteryEntry),
	}
}

// ModelKeys returns model keys sorted by skill, then learner.
func (a *Artifacts) ModelKeys() []attempt.Key {
	keys := make([]attempt.Key, 0, len(a.Models))
	for k := range a.Models {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Skill != keys[j].Skill {
			return keys[i].Skill < keys[j].Skill
		}
		return keys[i].Learner < keys[j].Learner
	})
	return keys
}

// MasteryKeys returns snapshot keys sorted by learner, then skill.
func (a *Artifacts) MasteryKeys() []LearnerSkill {
	keys := make([]LearnerSkill, 0, len(a.Mastery))
	for k := range a.Mastery {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Learner != keys[j].Learner {
			return keys[i].Learner < keys[j].Learner
		}
		return keys[i].Skill < keys[j].Skill
	})
	return keys
}

// Counts tallies mastery entries by source.
func (a *Artifacts) Counts() map[Source]int {
	counts := make(map[Source]int)
	for _, e := range a.Mastery {
		counts[e.Source]++
	}
	return counts
}
