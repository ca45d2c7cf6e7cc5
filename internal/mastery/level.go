package mastery

// Level is a coarse label for a mastery score.
type Level string

const (
	LevelUnknown    Level = "unknown"
	LevelLearning   Level = "learning"
	LevelDeveloping Level = "developing"
	LevelMastered   Level = "mastered"
)

const (
	// MasteredThreshold is the conventional BKT cut-off for mastery.
	MasteredThreshold = 0.95

	// DevelopingThreshold separates early learning from near-mastery.
	DevelopingThreshold = 0.6
)

// ClassifyLevel maps a computed score to a Level. Fallback scores are not
// computed, so callers pass modeled=false for them and get LevelUnknown.
func ClassifyLevel(score float64, modeled bool) Level {
	switch {
	case !modeled:
		return LevelUnknown
	case score >= MasteredThreshold:
		return LevelMastered
	case score >= DevelopingThreshold:
		return LevelDeveloping
	default:
		return LevelLearning
	}
}
