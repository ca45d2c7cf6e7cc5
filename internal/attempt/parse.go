package attempt

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Canonical field names used in errors.
const (
	FieldLearner   = "learner_id"
	FieldSkill     = "skill"
	FieldCorrect   = "correct"
	FieldTimestamp = "timestamp"
)

// Upstream exports disagree on naming (the mobile client writes camelCase,
// older exports snake_case). The first alias present wins.
var (
	learnerAliases   = []string{"user_id", "userId", "learner_id", "learnerId", "learner"}
	skillAliases     = []string{"skill", "skill_id", "skillId"}
	correctAliases   = []string{"correct", "is_correct", "isCorrect", "outcome"}
	timestampAliases = []string{"timestamp", "ts", "time", "attempted_at", "attemptedAt", "created_at", "createdAt"}
	itemAliases      = []string{"card_id", "cardId", "item_id", "itemId", "question_id", "questionId"}
	itemTypeAliases  = []string{"question_type", "questionType", "item_type", "itemType"}
	latencyAliases   = []string{"response_time", "responseTime", "response_time_ms", "responseTimeMs"}
)

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// epochMillisThreshold separates epoch seconds from epoch milliseconds.
// 1e12 seconds is tens of thousands of years out; 1e12 ms is 2001.
const epochMillisThreshold = 1e12

// maxEpochMillis is the first float64 that no longer fits in an int64.
const maxEpochMillis = float64(math.MaxInt64)

// Parse validates and normalizes a batch of raw rows. Any record missing a
// required field rejects the whole batch with a *MissingFieldError.
func Parse(rows []Raw) (*Log, error) {
	records := make([]Record, 0, len(rows))
	for i, row := range rows {
		rec, err := parseRow(i, row)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return NewLog(records), nil
}

func parseRow(i int, row Raw) (Record, error) {
	rec := Record{Seq: i}

	learner, ok := lookupString(row, learnerAliases)
	if !ok {
		return rec, &MissingFieldError{Index: i, Field: FieldLearner}
	}
	rec.LearnerID = learner

	skill, ok := lookupString(row, skillAliases)
	if !ok {
		return rec, &MissingFieldError{Index: i, Field: FieldSkill}
	}
	rec.SkillID = skill

	rawCorrect, ok := lookup(row, correctAliases)
	if !ok {
		return rec, &MissingFieldError{Index: i, Field: FieldCorrect}
	}
	correct, err := coerceOutcome(rawCorrect)
	if err != nil {
		return rec, &MissingFieldError{Index: i, Field: FieldCorrect, Reason: err.Error()}
	}
	rec.Correct = correct

	rawTS, ok := lookup(row, timestampAliases)
	if !ok {
		return rec, &MissingFieldError{Index: i, Field: FieldTimestamp}
	}
	ts, err := coerceTime(rawTS)
	if err != nil {
		return rec, &MissingFieldError{Index: i, Field: FieldTimestamp, Reason: err.Error()}
	}
	rec.Timestamp = ts

	if item, ok := lookupString(row, itemAliases); ok {
		rec.Meta.ItemID = item
	}
	if typ, ok := lookupString(row, itemTypeAliases); ok {
		rec.Meta.ItemType = typ
	}
	if v, ok := lookup(row, latencyAliases); ok {
		if ms, err := coerceFloat(v); err == nil {
			rec.Meta.ResponseTimeMs = ms
			rec.Meta.HasResponseTime = true
		}
	}

	return rec, nil
}

// lookup returns the first non-nil value among the aliases.
func lookup(row Raw, aliases []string) (any, bool) {
	for _, name := range aliases {
		if v, ok := row[name]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// lookupString returns the first alias rendered as a non-blank string.
func lookupString(row Raw, aliases []string) (string, bool) {
	v, ok := lookup(row, aliases)
	if !ok {
		return "", false
	}
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case json.Number:
		s = t.String()
	case []byte:
		s = string(t)
	default:
		s = fmt.Sprint(t)
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

func coerceOutcome(v any) (bool, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "1", "correct", "yes", "y", "t":
			return true, nil
		case "false", "0", "incorrect", "no", "n", "f":
			return false, nil
		}
		return false, fmt.Errorf("unrecognized outcome %q", t)
	}
	f, err := coerceFloat(v)
	if err != nil {
		return false, fmt.Errorf("unrecognized outcome %v", v)
	}
	switch f {
	case 1:
		return true, nil
	case 0:
		return false, nil
	}
	return false, fmt.Errorf("outcome %v is not 0 or 1", f)
}

func coerceFloat(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int8:
		return float64(t), nil
	case int16:
		return float64(t), nil
	case int32:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case uint:
		return float64(t), nil
	case uint8:
		return float64(t), nil
	case uint16:
		return float64(t), nil
	case uint32:
		return float64(t), nil
	case uint64:
		return float64(t), nil
	case json.Number:
		return t.Float64()
	case string:
		return strconv.ParseFloat(strings.TrimSpace(t), 64)
	}
	return 0, fmt.Errorf("not a number: %T", v)
}

func coerceTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		if t.IsZero() {
			return time.Time{}, fmt.Errorf("zero time")
		}
		return t.UTC(), nil
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return time.Time{}, fmt.Errorf("empty timestamp")
		}
		for _, layout := range timeLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts.UTC(), nil
			}
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return epochToTime(f)
		}
		return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
	}
	f, err := coerceFloat(v)
	if err != nil {
		return time.Time{}, fmt.Errorf("unsupported timestamp type %T", v)
	}
	return epochToTime(f)
}

func epochToTime(f float64) (time.Time, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return time.Time{}, fmt.Errorf("invalid epoch %v", f)
	}
	if f >= epochMillisThreshold {
		if f >= maxEpochMillis {
			return time.Time{}, fmt.Errorf("epoch %v out of range", f)
		}
		return time.UnixMilli(int64(f)).UTC(), nil
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC(), nil
}
