// Package export writes training artifacts to files and Redis, and reads
// exported files back for downstream use.
package export

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/abhisek/bktrace/internal/attempt"
	"github.com/abhisek/bktrace/internal/bkt"
	"github.com/abhisek/bktrace/internal/training"
)

// FormatVersion is the semver of the exported file layout. Readers accept
// any file with the same major version.
const FormatVersion = "v1.0.0"

// File names inside an output directory.
const (
	ParamsFileName  = "bkt_params.json"
	MasteryFileName = "mastery_scores.json"
)

// ModelJSON is one exported parameter set.
type ModelJSON struct {
	bkt.Params
	Attempts int `json:"attempts"`
}

// ScoreJSON is one exported mastery score.
type ScoreJSON struct {
	Mastery  float64 `json:"mastery"`
	Source   string  `json:"source"`
	Attempts int     `json:"attempts"`
	Level    string  `json:"level,omitempty"`
}

// ParamsFile is the content of bkt_params.json. Params holds
// {skill: model} for pooled runs and {learner: {skill: model}} for
// individualized runs.
type ParamsFile struct {
	Version     string              `json:"version"`
	Granularity attempt.Granularity `json:"granularity"`
	RunID       string              `json:"run_id"`
	GeneratedAt time.Time           `json:"generated_at"`
	Params      json.RawMessage     `json:"params"`
}

// MasteryFile is the content of mastery_scores.json.
type MasteryFile struct {
	Version     string                          `json:"version"`
	Granularity attempt.Granularity             `json:"granularity"`
	RunID       string                          `json:"run_id"`
	GeneratedAt time.Time                       `json:"generated_at"`
	Scores      map[string]map[string]ScoreJSON `json:"scores"`
}

// NewParamsFile builds the params document for a run.
func NewParamsFile(a *training.Artifacts) (*ParamsFile, error) {
	var body any
	if a.Granularity == attempt.Individualized {
		nested := make(map[string]map[string]ModelJSON)
		for k, m := range a.Models {
			if nested[k.Learner] == nil {
				nested[k.Learner] = make(map[string]ModelJSON)
			}
			nested[k.Learner][k.Skill] = ModelJSON{Params: m.Params, Attempts: m.Attempts}
		}
		body = nested
	} else {
		flat := make(map[string]ModelJSON, len(a.Models))
		for k, m := range a.Models {
			flat[k.Skill] = ModelJSON{Params: m.Params, Attempts: m.Attempts}
		}
		body = flat
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	return &ParamsFile{
		Version:     FormatVersion,
		Granularity: a.Granularity,
		RunID:       a.RunID,
		GeneratedAt: a.GeneratedAt.UTC(),
		Params:      raw,
	}, nil
}

// NewMasteryFile builds the mastery document for a run.
func NewMasteryFile(a *training.Artifacts) *MasteryFile {
	scores := make(map[string]map[string]ScoreJSON)
	for k, e := range a.Mastery {
		if scores[k.Learner] == nil {
			scores[k.Learner] = make(map[string]ScoreJSON)
		}
		scores[k.Learner][k.Skill] = ScoreJSON{
			Mastery:  e.Mastery,
			Source:   string(e.Source),
			Attempts: e.Attempts,
			Level:    string(e.Level),
		}
	}
	return &MasteryFile{
		Version:     FormatVersion,
		Granularity: a.Granularity,
		RunID:       a.RunID,
		GeneratedAt: a.GeneratedAt.UTC(),
		Scores:      scores,
	}
}

// Models decodes the params body into per-group parameter sets.
func (f *ParamsFile) Models() (map[attempt.Key]bkt.Params, error) {
	out := make(map[attempt.Key]bkt.Params)
	switch f.Granularity {
	case attempt.Individualized:
		var nested map[string]map[string]ModelJSON
		if err := json.Unmarshal(f.Params, &nested); err != nil {
			return nil, fmt.Errorf("decode individualized params: %w", err)
		}
		for learner, skills := range nested {
			for skill, m := range skills {
				out[attempt.Key{Learner: learner, Skill: skill}] = m.Params
			}
		}
	case attempt.Pooled:
		var flat map[string]ModelJSON
		if err := json.Unmarshal(f.Params, &flat); err != nil {
			return nil, fmt.Errorf("decode pooled params: %w", err)
		}
		for skill, m := range flat {
			out[attempt.Key{Skill: skill}] = m.Params
		}
	default:
		return nil, fmt.Errorf("unknown granularity %q", f.Granularity)
	}
	return out, nil
}

// Lookup returns the parameters that apply to learner on skill: the
// learner's own model when present, else the skill's pooled model.
func (f *ParamsFile) Lookup(learner, skill string) (bkt.Params, bool, error) {
	models, err := f.Models()
	if err != nil {
		return bkt.Params{}, false, err
	}
	if p, ok := models[attempt.Key{Learner: learner, Skill: skill}]; ok {
		return p, true, nil
	}
	p, ok := models[attempt.Key{Skill: skill}]
	return p, ok, nil
}
