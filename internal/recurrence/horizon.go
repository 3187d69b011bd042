package recurrence

import (
	"iter"
	"slices"

	"cloud.google.com/go/civil"

	"ricorrenze/internal/core"
	"ricorrenze/internal/timeutil"
)

// Occurrence is a virtual, never persisted occurrence with the payload
// needed to display it.
type Occurrence struct {
	RuleID      string
	OwnerID     string
	Date        civil.Date
	Amount      core.Money
	Description string
	CategoryID  string
	Type        core.TransactionType
}

func occurrenceOf(rule core.RecurringRule, date civil.Date) Occurrence {
	return Occurrence{
		RuleID:      rule.ID,
		OwnerID:     rule.OwnerID,
		Date:        date,
		Amount:      rule.Amount,
		Description: rule.Description,
		CategoryID:  rule.CategoryID,
		Type:        rule.Type,
	}
}

// Project returns the rule's upcoming occurrences up to and including
// horizonEnd, in ascending order. The sequence is finite and can be ranged
// over any number of times with the same result. Paused and ended rules
// project nothing.
//
// Projections that would need more than MaxSteps steps are rejected with a
// *HorizonTooLongError before anything is produced.
func (p *Projector) Project(rule core.RecurringRule, horizonEnd civil.Date) (iter.Seq[Occurrence], error) {
	if rule.Status() != core.StatusActive {
		return func(func(Occurrence) bool) {}, nil
	}

	stepper, err := timeutil.StepperFor(rule.Interval)
	if err != nil {
		return nil, err
	}
	first, err := p.nextDate(rule)
	if err != nil {
		return nil, err
	}
	if err := p.checkHorizon(rule, first, horizonEnd); err != nil {
		return nil, err
	}

	return func(yield func(Occurrence) bool) {
		date, generated := first, rule.State.Generated
		for !date.After(horizonEnd) && core.Permits(rule.End, date, generated) {
			if !yield(occurrenceOf(rule, date)) {
				return
			}
			generated++
			date = stepper.Step(date, rule.DayOfMonth)
		}
	}, nil
}

// Upcoming collects Project into a slice.
func (p *Projector) Upcoming(rule core.RecurringRule, horizonEnd civil.Date) ([]Occurrence, error) {
	seq, err := p.Project(rule, horizonEnd)
	if err != nil {
		return nil, err
	}
	return slices.Collect(seq), nil
}

// EstimateSteps returns an upper bound of the steps needed to walk from
// first to horizonEnd.
func EstimateSteps(rule core.RecurringRule, first, horizonEnd civil.Date) (int, error) {
	if first.After(horizonEnd) {
		return 0, nil
	}
	minDays, err := timeutil.MinStepDays(rule.Interval)
	if err != nil {
		return 0, err
	}
	// One step for first itself, one for an off-anchor first step.
	steps := 2 + horizonEnd.DaysSince(first)/minDays
	if end, ok := rule.End.(core.EndAfterCount); ok {
		steps = min(steps, max(end.Count-rule.State.Generated, 0))
	}
	return steps, nil
}

func (p *Projector) checkHorizon(rule core.RecurringRule, first, horizonEnd civil.Date) error {
	steps, err := EstimateSteps(rule, first, horizonEnd)
	if err != nil {
		return err
	}
	if steps > p.maxSteps {
		return &HorizonTooLongError{
			RuleID:   rule.ID,
			Interval: rule.Interval,
			Steps:    steps,
			MaxSteps: p.maxSteps,
		}
	}
	return nil
}

// Merge combines per-rule projections into one list ordered by date, then
// by rule ID.
func Merge(seqs ...[]Occurrence) []Occurrence {
	var out []Occurrence
	for _, s := range seqs {
		out = append(out, s...)
	}
	slices.SortStableFunc(out, func(a, b Occurrence) int {
		switch {
		case a.Date.Before(b.Date):
			return -1
		case a.Date.After(b.Date):
			return 1
		case a.RuleID < b.RuleID:
			return -1
		case a.RuleID > b.RuleID:
			return 1
		default:
			return 0
		}
	})
	return out
}

// Summarize totals a list of occurrences.
func Summarize(occurrences []Occurrence) core.ProjectionSummary {
	var s core.ProjectionSummary
	for _, o := range occurrences {
		s.Add(o.Type, o.Amount)
	}
	return s
}
