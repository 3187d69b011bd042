package timeutil

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/samber/mo"

	"ricorrenze/internal/core"
)

// Stepper advances a canonical day by one interval. Each interval type has
// its own implementation.
type Stepper interface {
	// Step returns the occurrence following last. The result is always
	// strictly after last.
	Step(last civil.Date, dayOfMonth mo.Option[int]) civil.Date
}

// DailyStepper adds one day.
type DailyStepper struct{}

func (DailyStepper) Step(last civil.Date, _ mo.Option[int]) civil.Date {
	return last.AddDays(1)
}

// WeeklyStepper adds seven days.
type WeeklyStepper struct{}

func (WeeklyStepper) Step(last civil.Date, _ mo.Option[int]) civil.Date {
	return last.AddDays(7)
}

// MonthlyStepper moves to the following month.
type MonthlyStepper struct{}

func (MonthlyStepper) Step(last civil.Date, dayOfMonth mo.Option[int]) civil.Date {
	year, month := last.Year, last.Month+1
	if month > 12 {
		month = 1
		year++
	}
	return clamped(year, month, dayOfMonth.OrElse(last.Day))
}

// YearlyStepper moves to the same month of the following year.
type YearlyStepper struct{}

func (YearlyStepper) Step(last civil.Date, dayOfMonth mo.Option[int]) civil.Date {
	return clamped(last.Year+1, last.Month, dayOfMonth.OrElse(last.Day))
}

// clamped builds a date whose day is pulled back to the month's last day
// when the month is too short, e.g. the 31st in April becomes the 30th.
func clamped(year int, month time.Month, day int) civil.Date {
	return civil.Date{Year: year, Month: month, Day: min(day, DaysIn(year, month))}
}

var steppers = map[core.IntervalType]Stepper{
	core.Daily:   DailyStepper{},
	core.Weekly:  WeeklyStepper{},
	core.Monthly: MonthlyStepper{},
	core.Yearly:  YearlyStepper{},
}

// StepperFor returns the stepper for an interval type, or an
// *core.UnknownIntervalError.
func StepperFor(interval core.IntervalType) (Stepper, error) {
	s, ok := steppers[interval]
	if !ok {
		return nil, &core.UnknownIntervalError{Interval: interval}
	}
	return s, nil
}

// MinStepDays is the smallest number of days a step of the interval covers
// once the sequence is on its anchor day. The very first step of a monthly or
// yearly rule whose start date is off-anchor can be shorter.
func MinStepDays(interval core.IntervalType) (int, error) {
	switch interval {
	case core.Daily:
		return 1, nil
	case core.Weekly:
		return 7, nil
	case core.Monthly:
		return 28, nil
	case core.Yearly:
		return 365, nil
	default:
		return 0, &core.UnknownIntervalError{Interval: interval}
	}
}
