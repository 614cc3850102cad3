// Package schedule implements the replication-mode resolver (§4.6): it
// derives an INCREMENTAL window from a cron Schedule, detects schedule
// drift, and flags run gaps that would silently drop data.
package schedule

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Frequency is a Schedule's cadence.
type Frequency string

const (
	Weekly    Frequency = "WEEKLY"
	Daily     Frequency = "DAILY"
	SixHourly Frequency = "SIXHOURLY"
	Hourly    Frequency = "HOURLY"
)

// Type is a run's replication semantics.
type Type string

const (
	FullRefresh Type = "FULL_REFRESH"
	Incremental Type = "INCREMENTAL"
)

// Schedule is the persisted cron configuration for a transfer, per §3.
type Schedule struct {
	Frequency Frequency
	Type      Type
	Day       *int // 0-6, Sunday-indexed per the "Cron semantics" design note
	Hour      *int
	Minute    *int
}

// ToCron projects a Schedule to a robfig/cron v3 standard (5-field) cron
// expression. WEEKLY's numeric Day is Sunday-indexed (0=Sunday), which
// matches cron's own day-of-week convention, so no renumbering is
// required when robfig/cron is the backend — per the "Cron semantics"
// design note, this is the normalisation point if a different scheduler
// backend is ever substituted.
func (s Schedule) ToCron() string {
	minute := 0
	if s.Minute != nil {
		minute = *s.Minute
	}
	hour := 0
	if s.Hour != nil {
		hour = *s.Hour
	}

	switch s.Frequency {
	case Weekly:
		day := 0
		if s.Day != nil {
			day = *s.Day
		}
		return fmt.Sprintf("%d %d * * %d", minute, hour, day)
	case Daily:
		return fmt.Sprintf("%d %d * * *", minute, hour)
	case SixHourly:
		return fmt.Sprintf("%d */6 * * *", minute)
	case Hourly:
		return fmt.Sprintf("%d * * * *", minute)
	default:
		return fmt.Sprintf("%d %d * * *", minute, hour)
	}
}

// Parse validates and parses a Schedule's cron projection, used by the
// scheduler client before registering an entry.
func (s Schedule) Parse() (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return parser.Parse(s.ToCron())
}

// Mode is a resolved replication modality for one run, per §3.
type Mode struct {
	Type   Type
	Period Frequency
	Start  *time.Time
	End    *time.Time
}

// delta returns the deliberate-overlap buffer window length for each
// frequency, per §4.6.
func delta(freq Frequency) time.Duration {
	switch freq {
	case Weekly:
		return 7*24*time.Hour + 12*time.Hour
	case Daily:
		return 24*time.Hour + 3*time.Hour
	case SixHourly:
		return 6*time.Hour + 30*time.Minute
	case Hourly:
		return 1*time.Hour + 15*time.Minute
	default:
		return 0
	}
}

// tolerance returns the drift-warning threshold for each frequency, per
// §4.6.
func tolerance(freq Frequency) time.Duration {
	switch freq {
	case Weekly, Daily:
		return 3 * time.Hour
	case SixHourly:
		return 1 * time.Hour
	case Hourly:
		return 15 * time.Minute
	default:
		return 0
	}
}

// Resolve derives a Mode from s as of now, per §4.6. It returns the Mode
// plus any drift warnings (logged by the caller, never fatal).
func Resolve(s Schedule, now time.Time) (Mode, []string) {
	now = now.UTC()

	if s.Type == FullRefresh {
		return Mode{Type: FullRefresh, Period: s.Frequency}, nil
	}

	hour := 0
	if s.Hour != nil {
		hour = *s.Hour
	}
	minute := 0
	if s.Minute != nil {
		minute = *s.Minute
	}
	end := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, time.UTC)
	start := end.Add(-delta(s.Frequency))

	var warnings []string
	tol := tolerance(s.Frequency)
	if diff := absDuration(end.Sub(now)); diff > tol {
		warnings = append(warnings, fmt.Sprintf(
			"schedule drift: |end-now|=%s exceeds tolerance %s for frequency %s", diff, tol, s.Frequency))
	}
	if s.Frequency == Weekly && s.Day != nil && int(now.Weekday()) != *s.Day {
		warnings = append(warnings, fmt.Sprintf(
			"schedule drift: configured day %d does not match now.Weekday() %d", *s.Day, int(now.Weekday())))
	}

	return Mode{Type: Incremental, Period: s.Frequency, Start: &start, End: &end}, warnings
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// GapDetected implements the run-gap detection rule of §4.6: a gap is
// flagged (and the run must fail) iff the current Mode is INCREMENTAL,
// the run was not started with an explicit override, and the prior
// successful run's created_at predates the current Mode's Start.
func GapDetected(mode Mode, lastSuccessAt *time.Time, override bool) bool {
	if override || mode.Type != Incremental || mode.Start == nil {
		return false
	}
	if lastSuccessAt == nil {
		// No prior successful run recorded: nothing to compare against.
		// This engine treats an unknown history as "not yet a gap" —
		// the first incremental run after onboarding a source cannot be
		// flagged against a run that never happened.
		return false
	}
	return lastSuccessAt.Before(*mode.Start)
}
