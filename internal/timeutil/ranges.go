package timeutil

import (
	"fmt"
	"time"

	"cloud.google.com/go/civil"
)

// RangeKind identifies the period a Range spans.
type RangeKind uint8

const (
	WeekKind RangeKind = iota + 1
	MonthKind
	YearKind
)

func (k RangeKind) String() string {
	switch k {
	case WeekKind:
		return "week"
	case MonthKind:
		return "month"
	case YearKind:
		return "year"
	default:
		return fmt.Sprintf("RangeKind(%d)", uint8(k))
	}
}

// ParseRangeKind maps "week", "month" or "year" to its kind.
func ParseRangeKind(s string) (RangeKind, error) {
	switch s {
	case "week":
		return WeekKind, nil
	case "month":
		return MonthKind, nil
	case "year":
		return YearKind, nil
	default:
		return 0, fmt.Errorf("unknown period %q: want week, month or year", s)
	}
}

// Range is an inclusive span of canonical days.
type Range struct {
	Start civil.Date
	End   civil.Date
}

// Contains reports whether d falls inside the range.
func (r Range) Contains(d civil.Date) bool {
	return !d.Before(r.Start) && !d.After(r.End)
}

// Days returns the number of days in the range.
func (r Range) Days() int {
	return r.End.DaysSince(r.Start) + 1
}

// RangeKey identifies a memoized range computation.
type RangeKey struct {
	Kind      RangeKind
	Day       civil.Date
	WeekStart time.Weekday
}

// WeekStart returns the first day of the week containing d.
func (m *Manager) WeekStart(d civil.Date) civil.Date {
	return m.WeekRange(d).Start
}

// MonthStart returns the first day of d's month.
func (m *Manager) MonthStart(d civil.Date) civil.Date {
	return m.MonthRange(d).Start
}

// YearStart returns January 1st of d's year.
func (m *Manager) YearStart(d civil.Date) civil.Date {
	return m.YearRange(d).Start
}

// WeekRange returns the week containing d.
func (m *Manager) WeekRange(d civil.Date) Range {
	return m.cachedRange(WeekKind, d, func() Range {
		offset := (int(Weekday(d)) - int(m.weekStart) + 7) % 7
		start := d.AddDays(-offset)
		return Range{Start: start, End: start.AddDays(6)}
	})
}

// MonthRange returns the month containing d.
func (m *Manager) MonthRange(d civil.Date) Range {
	return m.cachedRange(MonthKind, d, func() Range {
		return Range{
			Start: civil.Date{Year: d.Year, Month: d.Month, Day: 1},
			End:   civil.Date{Year: d.Year, Month: d.Month, Day: DaysIn(d.Year, d.Month)},
		}
	})
}

// YearRange returns the year containing d.
func (m *Manager) YearRange(d civil.Date) Range {
	return m.cachedRange(YearKind, d, func() Range {
		return Range{
			Start: civil.Date{Year: d.Year, Month: time.January, Day: 1},
			End:   civil.Date{Year: d.Year, Month: time.December, Day: 31},
		}
	})
}

// PeriodRange returns the week, month or year containing d.
func (m *Manager) PeriodRange(kind RangeKind, d civil.Date) (Range, error) {
	switch kind {
	case WeekKind:
		return m.WeekRange(d), nil
	case MonthKind:
		return m.MonthRange(d), nil
	case YearKind:
		return m.YearRange(d), nil
	default:
		return Range{}, fmt.Errorf("unknown period %s", kind)
	}
}

// ClearCache drops memoized ranges. Results do not change.
func (m *Manager) ClearCache() {
	if m.ranges != nil {
		m.ranges.Clear()
	}
}

func (m *Manager) cachedRange(kind RangeKind, d civil.Date, compute func() Range) Range {
	if m.ranges == nil {
		return compute()
	}
	key := RangeKey{Kind: kind, Day: d, WeekStart: m.weekStart}
	if r, ok := m.ranges.Get(key); ok {
		return r
	}
	r := compute()
	m.ranges.Set(key, r)
	return r
}
