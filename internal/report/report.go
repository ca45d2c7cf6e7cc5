// Package report renders training summaries for the terminal.
package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"charm.land/lipgloss/v2"
	"charm.land/lipgloss/v2/table"

	"github.com/abhisek/bktrace/internal/attempt"
	"github.com/abhisek/bktrace/internal/bkt"
	"github.com/abhisek/bktrace/internal/mastery"
	"github.com/abhisek/bktrace/internal/store"
	"github.com/abhisek/bktrace/internal/training"
)

// maxListed caps how many warning or failure keys are printed.
const maxListed = 10

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(TableBorder).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return HeaderCell
			}
			return Cell
		})
}

func field(name, value string) string {
	return Label.Render(fmt.Sprintf("%-18s", name)) + Value.Render(value)
}

// Bar draws a fixed-width bar for a value in [0, 1].
func Bar(v float64, width int) string {
	if width < 4 {
		width = 4
	}
	filled := int(float64(width)*v + 0.5)
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	return BarFilled.Render(strings.Repeat("█", filled)) +
		BarEmpty.Render(strings.Repeat("░", width-filled))
}

// Stats writes the data-quality report.
func Stats(w io.Writer, s attempt.Stats, minTotal int) {
	lines := []string{
		Title.Render("Attempt log"),
		field("attempts", fmt.Sprintf("%d", s.TotalAttempts)),
		field("accuracy", fmt.Sprintf("%.1f%%", s.Accuracy()*100)),
		field("learners", fmt.Sprintf("%d", s.DistinctLearners)),
		field("skills", fmt.Sprintf("%d", s.DistinctSkills)),
		field("groups", fmt.Sprintf("%d", s.Groups.Count)),
	}
	if s.Groups.Count > 0 {
		lines = append(lines, field("attempts/group", fmt.Sprintf("min %d  median %.1f  mean %.1f  max %d",
			s.Groups.Min, s.Groups.Median, s.Groups.Mean, s.Groups.Max)))
	}

	if s.TotalAttempts < minTotal {
		lines = append(lines, Bad.Render(fmt.Sprintf("below the %d-attempt minimum; training would be skipped", minTotal)))
	} else {
		lines = append(lines, Good.Render("enough data to train"))
	}
	if n := len(s.Groups.BelowMin); n > 0 {
		lines = append(lines, Warn.Render(fmt.Sprintf("%d groups have fewer than %d attempts and will use fallback scores",
			n, s.Groups.MinAllowed)))
		lines = append(lines, listKeys(s.Groups.BelowMin)...)
	}
	lipgloss.Fprintln(w, lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func listKeys(keys []attempt.Key) []string {
	var out []string
	for i, k := range keys {
		if i == maxListed {
			out = append(out, Hint.Render(fmt.Sprintf("  ... and %d more", len(keys)-maxListed)))
			break
		}
		out = append(out, Hint.Render("  "+k.String()))
	}
	return out
}

// Result writes the outcome of a training run.
func Result(w io.Writer, res *training.Result) {
	lines := []string{
		Title.Render("Training run"),
		field("run", res.RunID),
		field("stage", string(res.Stage)),
		field("duration", res.Duration.Round(time.Millisecond).String()),
	}

	if res.Stage == training.StageSkipped {
		lines = append(lines, Bad.Render(fmt.Sprintf("skipped: %v", res.SkipReason)))
		lipgloss.Fprintln(w, lipgloss.JoinVertical(lipgloss.Left, lines...))
		return
	}

	if a := res.Artifacts; a != nil {
		counts := a.Counts()
		lines = append(lines,
			field("granularity", string(a.Granularity)),
			field("models", fmt.Sprintf("%d", len(a.Models))),
			field("mastery scores", fmt.Sprintf("%d (model %d, pooled-fallback %d, default %d)",
				len(a.Mastery), counts[training.SourceModel], counts[training.SourcePooledFallback], counts[training.SourceDefault])),
		)
	}
	if len(res.Failures) > 0 {
		lines = append(lines, Warn.Render(fmt.Sprintf("%d groups without a model", len(res.Failures))))
		for i, f := range res.Failures {
			if i == maxListed {
				lines = append(lines, Hint.Render(fmt.Sprintf("  ... and %d more", len(res.Failures)-maxListed)))
				break
			}
			lines = append(lines, Hint.Render(fmt.Sprintf("  %s: %v", f.Key, f.Err)))
		}
	}
	lipgloss.Fprintln(w, lipgloss.JoinVertical(lipgloss.Left, lines...))
}

// Models writes a table of fitted parameters.
func Models(w io.Writer, a *training.Artifacts) {
	t := newTable("Group", "Attempts", "P(L0)", "P(T)", "P(S)", "P(G)", "P(F)")
	for _, k := range a.ModelKeys() {
		m := a.Models[k]
		t.Row(k.String(), fmt.Sprintf("%d", m.Attempts),
			prob(m.Params.Prior), prob(m.Params.Learn), prob(m.Params.Slip), prob(m.Params.Guess), prob(m.Params.Forget))
	}
	lipgloss.Fprintln(w, t)
}

// Mastery writes a table of mastery scores, at most limit rows when
// limit > 0.
func Mastery(w io.Writer, a *training.Artifacts, limit int) {
	t := newTable("Learner", "Skill", "Mastery", "", "Level", "Source", "Attempts")
	keys := a.MasteryKeys()
	for i, k := range keys {
		if limit > 0 && i == limit {
			break
		}
		e := a.Mastery[k]
		t.Row(k.Learner, k.Skill, prob(e.Mastery), Bar(e.Mastery, 10), string(e.Level), string(e.Source),
			fmt.Sprintf("%d", e.Attempts))
	}
	lipgloss.Fprintln(w, t)
	if limit > 0 && len(keys) > limit {
		lipgloss.Fprintln(w, Hint.Render(fmt.Sprintf("%d of %d scores shown", limit, len(keys))))
	}
}

// Runs writes a table of stored runs.
func Runs(w io.Writer, runs []store.Run) {
	if len(runs) == 0 {
		lipgloss.Fprintln(w, Hint.Render("No runs stored yet."))
		return
	}
	t := newTable("Run", "Generated", "Granularity", "Models", "Scores")
	for _, r := range runs {
		t.Row(r.ID, r.GeneratedAt.Local().Format("2006-01-02 15:04:05"), string(r.Granularity),
			fmt.Sprintf("%d", r.Models), fmt.Sprintf("%d", r.Scores))
	}
	lipgloss.Fprintln(w, t)
}

// Trajectory writes the step-by-step mastery of one learner on one skill.
func Trajectory(w io.Writer, p bkt.Params, outcomes []bool, tr *mastery.Trajectory) {
	lipgloss.Fprintln(w, field("params", p.String()))
	t := newTable("Step", "Outcome", "P(correct)", "Mastery", "")
	for i, correct := range outcomes {
		outcome := Bad.Render("✗")
		if correct {
			outcome = Good.Render("✓")
		}
		t.Row(fmt.Sprintf("%d", i+1), outcome, prob(tr.PredictedCorrect[i]), prob(tr.Mastery[i]), Bar(tr.Mastery[i], 20))
	}
	lipgloss.Fprintln(w, t)
	level := mastery.ClassifyLevel(tr.Final, true)
	lipgloss.Fprintln(w, field("final mastery", fmt.Sprintf("%s (%s)", prob(tr.Final), level)))
}

func prob(v float64) string {
	return fmt.Sprintf("%.3f", v)
}
