// Package timeutil is the single place where calendar arithmetic happens.
//
// Every scheduling comparison works on canonical days (civil.Date): a
// calendar date with no time of day and no zone. Conversions between
// instants and canonical days always use the manager's location, never UTC,
// so a day picked as "March 5" stays March 5 whatever the process offset is.
package timeutil

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"cloud.google.com/go/civil"
	"github.com/samber/mo"

	"ricorrenze/internal/cache"
	"ricorrenze/internal/core"
)

// StorageLayout is the textual form of a canonical day in storage.
const StorageLayout = "2006-01-02"

var (
	storageShape = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

	ErrUnrecognizedDate = errors.New("unrecognized date format")
)

// Manager normalizes and steps dates for one location.
type Manager struct {
	loc       *time.Location
	weekStart time.Weekday
	now       func() time.Time
	ranges    cache.Cache[RangeKey, Range]
}

// Option configures a Manager.
type Option func(*Manager)

// WithLocation sets the location whose calendar defines "today" and
// local midnight. Defaults to time.Local.
func WithLocation(loc *time.Location) Option {
	return func(m *Manager) {
		if loc != nil {
			m.loc = loc
		}
	}
}

// WithWeekStart sets the first day of the week for WeekStart and WeekRange.
// Defaults to Monday.
func WithWeekStart(d time.Weekday) Option {
	return func(m *Manager) { m.weekStart = d }
}

// WithClock replaces time.Now, for tests and replays.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithCache memoizes range computations. The cache is an optimization only.
func WithCache(c cache.Cache[RangeKey, Range]) Option {
	return func(m *Manager) { m.ranges = c }
}

// New returns a Manager. Without options it uses time.Local, Monday week
// starts and no cache.
func New(opts ...Option) *Manager {
	m := &Manager{
		loc:       time.Local,
		weekStart: time.Monday,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Location returns the manager's location.
func (m *Manager) Location() *time.Location {
	return m.loc
}

// Normalize strips the time of day from t, reading its calendar fields in
// the manager's location.
func (m *Manager) Normalize(t time.Time) civil.Date {
	return civil.DateOf(t.In(m.loc))
}

// Midnight returns the local-midnight instant of d.
func (m *Manager) Midnight(d civil.Date) time.Time {
	return d.In(m.loc)
}

// Today is the canonical day of the manager's clock.
func (m *Manager) Today() civil.Date {
	return m.Normalize(m.now())
}

// FormatForStorage renders d as YYYY-MM-DD from its calendar fields.
func FormatForStorage(d civil.Date) string {
	return d.String()
}

// FormatTimeForStorage normalizes t and renders it as YYYY-MM-DD.
func (m *Manager) FormatTimeForStorage(t time.Time) string {
	return FormatForStorage(m.Normalize(t))
}

// FormatStringForStorage returns s unchanged when it already is a valid
// YYYY-MM-DD day. RFC 3339 timestamps are normalized in the manager's
// location. Anything else is rejected.
func (m *Manager) FormatStringForStorage(s string) (string, error) {
	if storageShape.MatchString(s) {
		if _, err := ParseStorageDate(s); err != nil {
			return "", err
		}
		return s, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrUnrecognizedDate, s)
	}
	return m.FormatTimeForStorage(t), nil
}

// ParseStorageDate parses a YYYY-MM-DD day.
func ParseStorageDate(s string) (civil.Date, error) {
	d, err := civil.ParseDate(s)
	if err != nil {
		return civil.Date{}, fmt.Errorf("%w: %q", ErrUnrecognizedDate, s)
	}
	return d, nil
}

// DaysIn returns the number of days in the given month.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Weekday returns the day of the week of d.
func Weekday(d civil.Date) time.Weekday {
	return d.In(time.UTC).Weekday()
}

// NextOccurrence steps last forward by one interval. For monthly and yearly
// intervals the day is dayOfMonth when given, otherwise last's day, clamped
// to the length of the target month. An anchor outside 1-31 is rejected
// with core.ErrInvalidDayOfMonth.
func (m *Manager) NextOccurrence(last civil.Date, interval core.IntervalType, dayOfMonth mo.Option[int]) (civil.Date, error) {
	stepper, err := StepperFor(interval)
	if err != nil {
		return civil.Date{}, err
	}
	if d, ok := dayOfMonth.Get(); ok && (d < 1 || d > 31) {
		return civil.Date{}, core.ErrInvalidDayOfMonth
	}
	return stepper.Step(last, dayOfMonth), nil
}
