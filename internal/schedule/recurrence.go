// Package schedule resolves recurrence patterns to concrete instants.
//
// Everything here is pure: the same (pattern, timezone, now) always yields
// the same instant.
package schedule

import (
	"strings"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/skalaliya/agent.algorythmos/internal/domain"
)

const (
	FirstWednesday08      = "first-wed-08"
	FirstWednesday08Alias = "FIRST_WED_08_CET"

	DefaultTimezone = "Europe/Paris"
)

var ErrUnknownPattern = domain.Validation("unknown schedule pattern")

// Pattern yields the first occurrence strictly after now, in loc.
type Pattern interface {
	Next(now time.Time, loc *time.Location) time.Time
}

type PatternFunc func(now time.Time, loc *time.Location) time.Time

func (f PatternFunc) Next(now time.Time, loc *time.Location) time.Time { return f(now, loc) }

var named = map[string]Pattern{
	FirstWednesday08:      MonthlyWeekday(time.Wednesday, 8),
	FirstWednesday08Alias: MonthlyWeekday(time.Wednesday, 8),
}

// cronParser supports standard 5-field cron and descriptors like "@daily".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// Lookup returns the pattern registered under name, or parses name as a cron
// expression.
func Lookup(name string) (Pattern, error) {
	name = strings.TrimSpace(name)
	if p, ok := named[name]; ok {
		return p, nil
	}
	if name == "" {
		return nil, ErrUnknownPattern
	}
	sched, err := cronParser.Parse(name)
	if err != nil {
		return nil, domain.Validation("unknown schedule pattern %q: %v", name, err)
	}
	return PatternFunc(func(now time.Time, loc *time.Location) time.Time {
		return sched.Next(now.In(loc))
	}), nil
}

func IsRecognized(name string) bool {
	_, err := Lookup(name)
	return err == nil
}

func LoadLocation(timezone string) (*time.Location, error) {
	if strings.TrimSpace(timezone) == "" {
		timezone = DefaultTimezone
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, domain.Validation("unknown timezone %q", timezone)
	}
	return loc, nil
}

// NextOccurrence returns the next instant of pattern after now, expressed in
// timezone (Europe/Paris when empty).
func NextOccurrence(pattern, timezone string, now time.Time) (time.Time, error) {
	p, err := Lookup(pattern)
	if err != nil {
		return time.Time{}, err
	}
	loc, err := LoadLocation(timezone)
	if err != nil {
		return time.Time{}, err
	}
	return p.Next(now, loc), nil
}

// MonthlyWeekday fires on the first given weekday of every month at hour:00
// local time. Dates are built with time.Date in loc, so the wall-clock hour
// holds across DST changes.
func MonthlyWeekday(weekday time.Weekday, hour int) Pattern {
	return PatternFunc(func(now time.Time, loc *time.Location) time.Time {
		local := now.In(loc)
		candidate := firstWeekdayOfMonth(local.Year(), local.Month(), weekday, hour, loc)
		if !candidate.After(now) {
			candidate = firstWeekdayOfMonth(local.Year(), local.Month()+1, weekday, hour, loc)
		}
		return candidate
	})
}

// firstWeekdayOfMonth tolerates month 13 through time.Date normalization.
func firstWeekdayOfMonth(year int, month time.Month, weekday time.Weekday, hour int, loc *time.Location) time.Time {
	first := time.Date(year, month, 1, hour, 0, 0, 0, loc)
	offset := (int(weekday) - int(first.Weekday()) + 7) % 7
	return time.Date(first.Year(), first.Month(), 1+offset, hour, 0, 0, 0, loc)
}
