package calendar

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/teambition/rrule-go"

	"ricorrenze/internal/core"
	"ricorrenze/internal/timeutil"
)

// clampFreeDay is the last day present in every month.
const clampFreeDay = 28

var frequencies = map[core.IntervalType]rrule.Frequency{
	core.Daily:   rrule.DAILY,
	core.Weekly:  rrule.WEEKLY,
	core.Monthly: rrule.MONTHLY,
	core.Yearly:  rrule.YEARLY,
}

// RRule maps a rule to an RFC 5545 recurrence of its remaining occurrences.
// The series starts at the rule's pending occurrence, so dates already
// materialized or skipped are left out and an occurrence count only covers
// what is still to be generated. It reports false for ended rules, rules
// with nothing left, and schedules RRULE cannot reproduce exactly: monthly
// and yearly rules that clamp to short months or whose anchor day differs
// from the start date.
func RRule(rule core.RecurringRule) (rrule.ROption, bool) {
	freq, ok := frequencies[rule.Interval]
	if !ok || !rule.StartDate.IsValid() || rule.State.Ended {
		return rrule.ROption{}, false
	}

	if rule.Interval.UsesDayOfMonth() {
		day := rule.DayOfMonth.OrElse(rule.StartDate.Day)
		if day != rule.StartDate.Day || day > clampFreeDay {
			return rrule.ROption{}, false
		}
	}

	start, consumed := rule.Anchor()
	if consumed {
		stepper, err := timeutil.StepperFor(rule.Interval)
		if err != nil {
			return rrule.ROption{}, false
		}
		start = stepper.Step(start, rule.DayOfMonth)
	}

	opt := rrule.ROption{
		Freq:     freq,
		Interval: 1,
		Dtstart:  start.In(time.UTC),
	}
	switch end := rule.End.(type) {
	case core.EndNever:
	case core.EndOnDate:
		if start.After(end.Date) {
			return rrule.ROption{}, false
		}
		opt.Until = end.Date.In(time.UTC)
	case core.EndAfterCount:
		remaining := end.Count - rule.State.Generated
		if remaining <= 0 {
			return rrule.ROption{}, false
		}
		opt.Count = remaining
	default:
		return rrule.ROption{}, false
	}
	return opt, true
}

// SeriesStart is the first date of the series opt describes.
func SeriesStart(opt rrule.ROption) civil.Date {
	return civil.DateOf(opt.Dtstart.UTC())
}

// RRuleValue renders opt as an RRULE value for an all-day series. UNTIL is
// written as a DATE to match the DATE-valued DTSTART.
func RRuleValue(opt rrule.ROption) string {
	until := opt.Until
	opt.Until = time.Time{}
	value := opt.RRuleString()
	if !until.IsZero() {
		value += ";UNTIL=" + until.UTC().Format("20060102")
	}
	return value
}
