// Package schedule resolves job schedules to concrete run times.
//
// Two grammars are supported: interval shorthand ("15m", "1h", "1d" — a
// positive integer followed by a unit) and standard 5-field cron
// expressions (minute, hour, day-of-month, month, day-of-week) with
// wildcards, lists, ranges, and step syntax. Parsing and resolution are
// split so that malformed specs surface at job-creation time, never at
// run time.
//
// Resolution is pure: Next depends only on the spec and the reference
// time, which keeps the resolver independently testable.
package schedule

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/runelab/sked"
)

// Kind discriminates the schedule grammar a Spec was parsed from.
type Kind string

const (
	// KindCron is a 5-field cron expression (e.g. "0 2 * * *").
	KindCron Kind = "cron"
	// KindInterval is interval shorthand (e.g. "15m", "1h", "1d").
	KindInterval Kind = "interval"
)

// cronParser accepts standard 5-field cron plus descriptors like "@hourly".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// intervalRe matches interval shorthand: a positive integer followed by
// m (minutes), h (hours), or d (days).
var intervalRe = regexp.MustCompile(`^(\d+)([mhd])$`)

// Spec is a parsed schedule: either a cron expression or an interval.
// The two variants are dispatched explicitly rather than by re-inspecting
// the raw string.
type Spec struct {
	Kind  Kind
	Expr  string        // the raw expression as written
	Every time.Duration // set for KindInterval

	sched cronlib.Schedule // set for KindCron
}

// Parse parses a raw schedule expression into a Spec. Interval shorthand
// is tried first; anything else must be a valid cron expression.
// Malformed specs return an error wrapping sked.ErrInvalidSchedule.
func Parse(raw string) (Spec, error) {
	if raw == "" {
		return Spec{}, fmt.Errorf("%w: empty expression", sked.ErrInvalidSchedule)
	}

	if m := intervalRe.FindStringSubmatch(raw); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil || n <= 0 {
			return Spec{}, fmt.Errorf("%w: %q: interval must be a positive integer", sked.ErrInvalidSchedule, raw)
		}

		var unit time.Duration
		switch m[2] {
		case "m":
			unit = time.Minute
		case "h":
			unit = time.Hour
		case "d":
			unit = 24 * time.Hour
		}

		return Spec{Kind: KindInterval, Expr: raw, Every: time.Duration(n) * unit}, nil
	}

	sched, err := cronParser.Parse(raw)
	if err != nil {
		return Spec{}, fmt.Errorf("%w: %q: %v", sked.ErrInvalidSchedule, raw, err)
	}

	return Spec{Kind: KindCron, Expr: raw, sched: sched}, nil
}

// MustParse is like Parse but panics on error. Use for hardcoded specs.
func MustParse(raw string) Spec {
	spec, err := Parse(raw)
	if err != nil {
		panic(fmt.Sprintf("schedule: must parse %q: %v", raw, err))
	}
	return spec
}

// Validate reports whether raw is a parseable schedule expression.
func Validate(raw string) error {
	_, err := Parse(raw)
	return err
}

// Next returns the earliest run time strictly after from. Intervals
// resolve to from + duration; cron expressions resolve to the next
// instant matching all fields. A cron expression that never matches
// (such as "0 0 30 2 *") returns the zero time: callers must treat
// that as "no next occurrence", never as a due time.
func (s Spec) Next(from time.Time) time.Time {
	switch s.Kind {
	case KindInterval:
		return from.Add(s.Every)
	case KindCron:
		return s.sched.Next(from)
	default:
		return time.Time{}
	}
}

// IsZero reports whether the Spec is the zero value (no schedule).
func (s Spec) IsZero() bool {
	return s.Kind == ""
}

// String returns the raw expression.
func (s Spec) String() string { return s.Expr }
