// Package tz resolves recipient timezones into local wall-clock values.
//
// The scheduler keys every dedup decision on "the recipient's local
// calendar date", so these helpers must never fail: an unknown, empty, or
// malformed IANA identifier degrades to UTC instead of erroring. Callers
// that care about the degradation (the eligibility filter counts it as
// invalid_timezone for observability) use Resolve directly.
package tz

import (
	"strings"
	"sync"
	"time"
)

// LocalDateLayout is the calendar date format used for queue and ledger
// keying: YYYY-MM-DD in the recipient's own zone.
const LocalDateLayout = "2006-01-02"

// locCache memoizes time.LoadLocation results. LoadLocation reads the zone
// database from disk on first use; the scheduler calls the resolver once
// per recipient per cycle, so the cache keeps hot paths allocation-free.
// The cache is safe for concurrent use.
var locCache sync.Map // string -> *time.Location

// Resolve returns the *time.Location for the given IANA identifier, plus
// whether the identifier was valid. Invalid input (empty string, garbage,
// unknown zone) returns time.UTC and false; the caller still gets a usable
// location.
func Resolve(tzID string) (*time.Location, bool) {
	trimmed := strings.TrimSpace(tzID)
	if trimmed == "" {
		return time.UTC, false
	}

	if cached, ok := locCache.Load(trimmed); ok {
		if cached == nil {
			return time.UTC, false
		}
		return cached.(*time.Location), true
	}

	loc, err := time.LoadLocation(trimmed)
	if err != nil {
		// Negative-cache the miss; zone databases do not change mid-process.
		locCache.Store(trimmed, nil)
		return time.UTC, false
	}

	locCache.Store(trimmed, loc)
	return loc, true
}

// LocalHour returns the wall-clock hour [0,23] at the given instant in the
// recipient's zone, falling back to UTC for unresolvable identifiers.
// Midnight is always 0; time.Time.Hour never yields 24, but the modulo
// guards against exotic zone offsets all the same.
func LocalHour(tzID string, instant time.Time) int {
	loc, _ := Resolve(tzID)
	return instant.In(loc).Hour() % 24
}

// LocalDate returns the calendar date (YYYY-MM-DD) at the given instant in
// the recipient's zone, falling back to UTC for unresolvable identifiers.
func LocalDate(tzID string, instant time.Time) string {
	loc, _ := Resolve(tzID)
	return instant.In(loc).Format(LocalDateLayout)
}

// LocalWeekday returns the weekday at the given instant in the recipient's
// zone, with the same UTC fallback. Used for weekly-frequency eligibility.
func LocalWeekday(tzID string, instant time.Time) time.Weekday {
	loc, _ := Resolve(tzID)
	return instant.In(loc).Weekday()
}
