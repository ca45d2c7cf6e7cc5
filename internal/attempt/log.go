package attempt

import (
	"sort"
)

// Log is an ingested, validated batch of attempts.
type Log struct {
	records []Record
}

// NewLog wraps already-validated records. Records keep their Seq values;
// callers building records by hand should number them in arrival order.
func NewLog(records []Record) *Log {
	return &Log{records: records}
}

// Len returns the number of attempts.
func (l *Log) Len() int {
	return len(l.records)
}

// Records returns the attempts in arrival order.
func (l *Log) Records() []Record {
	return l.records
}

// Group is every attempt sharing a grouping key, ordered by timestamp with
// ties broken by arrival order.
type Group struct {
	Key     Key
	Records []Record
}

// Len returns the number of attempts in the group.
func (g Group) Len() int {
	return len(g.Records)
}

// Outcomes returns the group's outcomes in order.
func (g Group) Outcomes() []bool {
	out := make([]bool, len(g.Records))
	for i, r := range g.Records {
		out[i] = r.Correct
	}
	return out
}

// Sequences splits the group into one outcome sequence per learner, in
// learner ID order. An individualized group yields exactly one sequence.
func (g Group) Sequences() [][]bool {
	byLearner := make(map[string][]bool)
	for _, r := range g.Records {
		byLearner[r.LearnerID] = append(byLearner[r.LearnerID], r.Correct)
	}
	learners := sortedKeys(byLearner)
	seqs := make([][]bool, len(learners))
	for i, id := range learners {
		seqs[i] = byLearner[id]
	}
	return seqs
}

// Learners returns the distinct learner IDs in the group, sorted.
func (g Group) Learners() []string {
	seen := make(map[string]bool)
	for _, r := range g.Records {
		seen[r.LearnerID] = true
	}
	return sortedKeys(seen)
}

// ForLearner returns the subgroup of one learner's attempts.
func (g Group) ForLearner(learnerID string) Group {
	sub := Group{Key: Key{Learner: learnerID, Skill: g.Key.Skill}}
	for _, r := range g.Records {
		if r.LearnerID == learnerID {
			sub.Records = append(sub.Records, r)
		}
	}
	return sub
}

// Groups partitions the log by granularity. Groups are sorted by key and
// records within a group by (Timestamp, Seq).
func (l *Log) Groups(g Granularity) []Group {
	index := make(map[Key][]Record)
	for _, r := range l.records {
		k := Key{Skill: r.SkillID}
		if g == Individualized {
			k.Learner = r.LearnerID
		}
		index[k] = append(index[k], r)
	}

	groups := make([]Group, 0, len(index))
	for k, recs := range index {
		sortRecords(recs)
		groups = append(groups, Group{Key: k, Records: recs})
	}
	sort.Slice(groups, func(i, j int) bool {
		a, b := groups[i].Key, groups[j].Key
		if a.Skill != b.Skill {
			return a.Skill < b.Skill
		}
		return a.Learner < b.Learner
	})
	return groups
}

// SkillGroup returns the pooled group of a single skill, or false if the
// skill has no attempts.
func (l *Log) SkillGroup(skill string) (Group, bool) {
	g := Group{Key: Key{Skill: skill}}
	for _, r := range l.records {
		if r.SkillID == skill {
			g.Records = append(g.Records, r)
		}
	}
	if len(g.Records) == 0 {
		return g, false
	}
	sortRecords(g.Records)
	return g, true
}

func sortRecords(recs []Record) {
	sort.SliceStable(recs, func(i, j int) bool {
		if !recs[i].Timestamp.Equal(recs[j].Timestamp) {
			return recs[i].Timestamp.Before(recs[j].Timestamp)
		}
		return recs[i].Seq < recs[j].Seq
	})
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
