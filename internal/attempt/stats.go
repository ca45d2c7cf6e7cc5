package attempt

import "sort"

// Stats summarizes a log for the pre-training quality check.
type Stats struct {
	TotalAttempts    int
	CorrectAttempts  int
	DistinctLearners int
	DistinctSkills   int
	Groups           GroupDistribution
}

// GroupDistribution describes attempts per group.
type GroupDistribution struct {
	Count      int
	Min        int
	Max        int
	Mean       float64
	Median     float64
	BelowMin   []Key // groups with fewer than the per-group minimum
	MinAllowed int
}

// Accuracy returns the overall fraction of correct attempts.
func (s Stats) Accuracy() float64 {
	if s.TotalAttempts == 0 {
		return 0
	}
	return float64(s.CorrectAttempts) / float64(s.TotalAttempts)
}

// Stats computes aggregate statistics over the log, grouping by g and
// flagging groups with fewer than minGroup attempts.
func (l *Log) Stats(g Granularity, minGroup int) Stats {
	learners := make(map[string]bool)
	skills := make(map[string]bool)
	st := Stats{TotalAttempts: len(l.records)}
	for _, r := range l.records {
		learners[r.LearnerID] = true
		skills[r.SkillID] = true
		if r.Correct {
			st.CorrectAttempts++
		}
	}
	st.DistinctLearners = len(learners)
	st.DistinctSkills = len(skills)
	st.Groups = distribution(l.Groups(g), minGroup)
	return st
}

func distribution(groups []Group, minGroup int) GroupDistribution {
	d := GroupDistribution{Count: len(groups), MinAllowed: minGroup}
	if len(groups) == 0 {
		return d
	}

	sizes := make([]int, len(groups))
	total := 0
	for i, g := range groups {
		sizes[i] = g.Len()
		total += sizes[i]
		if g.Len() < minGroup {
			d.BelowMin = append(d.BelowMin, g.Key)
		}
	}
	sort.Ints(sizes)

	d.Min = sizes[0]
	d.Max = sizes[len(sizes)-1]
	d.Mean = float64(total) / float64(len(sizes))
	mid := len(sizes) / 2
	if len(sizes)%2 == 0 {
		d.Median = float64(sizes[mid-1]+sizes[mid]) / 2
	} else {
		d.Median = float64(sizes[mid])
	}
	return d
}
