// Package schedule implements a five-field cron expression evaluator
// (minute, hour, day-of-month, month, day-of-week). Each field accepts a
// wildcard (`*`), a literal value, or a step expression (`*/N`).
//
// Evaluation is a pure function over the five fields; the package keeps no
// state of its own. Callers that need once-per-minute firing pass the last
// fired time to IsDue.
package schedule

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidExpression is returned by Parse for any malformed cron
// expression: wrong field count, out-of-range values, or bad syntax.
// It fails at parse time so bad configuration is rejected before the
// first scheduled check.
var ErrInvalidExpression = errors.New("invalid cron expression")

// fieldSpec describes the valid range of one cron field. The minimum value
// doubles as the anchor for step expressions: `*/7` in the day-of-month
// field matches days 1, 8, 15, 22 and 29.
type fieldSpec struct {
	name string
	min  int
	max  int
}

var fieldSpecs = [5]fieldSpec{
	{name: "minute", min: 0, max: 59},
	{name: "hour", min: 0, max: 23},
	{name: "day-of-month", min: 1, max: 31},
	{name: "month", min: 1, max: 12},
	{name: "day-of-week", min: 0, max: 7}, // 0 and 7 both mean Sunday.
}

// field is one parsed cron field.
type field struct {
	wildcard bool
	step     int // >0 for `*/N` expressions
	value    int // literal value when !wildcard && step == 0
	anchor   int
}

// matches reports whether the given time component satisfies this field.
func (f field) matches(v int) bool {
	switch {
	case f.wildcard:
		return true
	case f.step > 0:
		return (v-f.anchor)%f.step == 0
	default:
		return v == f.value
	}
}

// Schedule is a compiled cron expression. It is immutable and safe for
// concurrent use.
type Schedule struct {
	expr   string
	minute field
	hour   field
	dom    field
	month  field
	dow    field

	// Standard cron OR-combines day-of-month and day-of-week, but only when
	// both fields are restricted (do not start with `*`).
	domRestricted bool
	dowRestricted bool
}

// Parse compiles a five-field cron expression. Invalid expressions are
// rejected here, never at evaluation time.
func Parse(expr string) (*Schedule, error) {
	raw := strings.Fields(strings.TrimSpace(expr))
	if len(raw) != len(fieldSpecs) {
		return nil, fmt.Errorf("%w: expected %d fields, got %d in %q", ErrInvalidExpression, len(fieldSpecs), len(raw), expr)
	}

	var fields [5]field
	for i, spec := range fieldSpecs {
		f, err := parseField(raw[i], spec)
		if err != nil {
			return nil, err
		}
		fields[i] = f
	}

	return &Schedule{
		expr:          expr,
		minute:        fields[0],
		hour:          fields[1],
		dom:           fields[2],
		month:         fields[3],
		dow:           fields[4],
		domRestricted: !strings.HasPrefix(raw[2], "*"),
		dowRestricted: !strings.HasPrefix(raw[4], "*"),
	}, nil
}

// parseField parses one field: `*`, `*/N`, or a literal within the spec's range.
func parseField(raw string, spec fieldSpec) (field, error) {
	if raw == "*" {
		return field{wildcard: true, anchor: spec.min}, nil
	}

	if rest, ok := strings.CutPrefix(raw, "*/"); ok {
		step, err := strconv.Atoi(rest)
		if err != nil {
			return field{}, fmt.Errorf("%w: %s field has malformed step %q", ErrInvalidExpression, spec.name, raw)
		}
		if step < 1 || step > spec.max {
			return field{}, fmt.Errorf("%w: %s step %d out of range 1-%d", ErrInvalidExpression, spec.name, step, spec.max)
		}
		return field{step: step, anchor: spec.min}, nil
	}

	v, err := strconv.Atoi(raw)
	if err != nil {
		return field{}, fmt.Errorf("%w: %s field has non-numeric value %q", ErrInvalidExpression, spec.name, raw)
	}
	if v < spec.min || v > spec.max {
		return field{}, fmt.Errorf("%w: %s value %d out of range %d-%d", ErrInvalidExpression, spec.name, v, spec.min, spec.max)
	}
	if spec.name == "day-of-week" && v == 7 {
		v = 0 // Normalize Sunday.
	}
	return field{value: v, anchor: spec.min}, nil
}

// String returns the original expression.
func (s *Schedule) String() string {
	return s.expr
}

// Matches reports whether the schedule fires in the minute containing t.
// Day-of-month and day-of-week are OR-combined when both are restricted,
// matching conventional cron semantics; otherwise both must match (a
// wildcard matches trivially).
func (s *Schedule) Matches(t time.Time) bool {
	if !s.minute.matches(t.Minute()) || !s.hour.matches(t.Hour()) || !s.month.matches(int(t.Month())) {
		return false
	}
	return s.dayMatches(t)
}

func (s *Schedule) dayMatches(t time.Time) bool {
	domOK := s.dom.matches(t.Day())
	dowOK := s.dow.matches(int(t.Weekday()))
	if s.domRestricted && s.dowRestricted {
		return domOK || dowOK
	}
	return domOK && dowOK
}

// Next computes the first trigger time strictly after from, at minute
// granularity. The search is bounded at five years; a schedule that cannot
// fire within that window (e.g. `0 0 31 2 *`) yields the zero time.
func (s *Schedule) Next(from time.Time) time.Time {
	t := from.Truncate(time.Minute).Add(time.Minute)
	limit := from.AddDate(5, 0, 0)

	for t.Before(limit) {
		if !s.month.matches(int(t.Month())) || !s.dayMatches(t) {
			// Jump to the start of the next day.
			t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location()).AddDate(0, 0, 1)
			continue
		}
		if !s.hour.matches(t.Hour()) {
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location()).Add(time.Hour)
			continue
		}
		if !s.minute.matches(t.Minute()) {
			t = t.Add(time.Minute)
			continue
		}
		return t
	}
	return time.Time{}
}

// IsDue reports whether the schedule should fire now, given the time it
// last fired. It returns true at most once per matching minute so a check
// loop polling faster than once a minute cannot double-fire.
func (s *Schedule) IsDue(lastFired, now time.Time) bool {
	if !s.Matches(now) {
		return false
	}
	if lastFired.IsZero() {
		return true
	}
	return !lastFired.Truncate(time.Minute).Equal(now.Truncate(time.Minute))
}
