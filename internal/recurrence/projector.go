// Package recurrence turns recurring rules into concrete and virtual
// occurrences and owns their lifecycle transitions.
//
// Every operation is a pure function of the rule it is given: the rule's
// state comes in, the next state goes out, and persisting it together with
// any generated transaction is left to the caller.
package recurrence

import (
	"fmt"

	"cloud.google.com/go/civil"
	"github.com/samber/mo"

	"ricorrenze/internal/core"
	"ricorrenze/internal/timeutil"
)

// DefaultMaxSteps bounds a single projection when Options.MaxSteps is unset.
const DefaultMaxSteps = 5000

// Outcome tells what a Materialize call did.
type Outcome int

const (
	OutcomeMaterialized Outcome = iota
	OutcomePaused
	OutcomeEnded
)

func (o Outcome) String() string {
	switch o {
	case OutcomeMaterialized:
		return "materialized"
	case OutcomePaused:
		return "paused"
	case OutcomeEnded:
		return "ended"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Options configures a Projector.
type Options struct {
	MaxSteps int
}

// Projector computes occurrences for rules. It is safe for concurrent use.
type Projector struct {
	tm       *timeutil.Manager
	maxSteps int
}

// Materialization is the result of Materialize. Transaction is only set when
// Outcome is OutcomeMaterialized.
type Materialization struct {
	Outcome     Outcome
	Transaction core.GeneratedTransaction
	Next        core.RuleState
}

// SkipResult is the result of Skip. When Ended is true the skipped date
// fell outside the end condition and Next marks the rule ended without
// moving its anchor.
type SkipResult struct {
	Skipped civil.Date
	Ended   bool
	Next    core.RuleState
}

func New(tm *timeutil.Manager, opts Options) *Projector {
	if tm == nil {
		tm = timeutil.New()
	}
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = DefaultMaxSteps
	}
	return &Projector{tm: tm, maxSteps: opts.MaxSteps}
}

// MaxSteps returns the projection step limit.
func (p *Projector) MaxSteps() int {
	return p.maxSteps
}

// Status derives the rule's lifecycle state.
func (p *Projector) Status(rule core.RecurringRule) core.Status {
	return rule.Status()
}

// Pending returns the date the next Materialize call would produce. It
// reports false when the rule is paused, ended, or its end condition blocks
// the next occurrence.
func (p *Projector) Pending(rule core.RecurringRule) (civil.Date, bool, error) {
	if rule.Status() != core.StatusActive {
		return civil.Date{}, false, nil
	}
	date, err := p.nextDate(rule)
	if err != nil {
		return civil.Date{}, false, err
	}
	if !core.Permits(rule.End, date, rule.State.Generated) {
		return civil.Date{}, false, nil
	}
	return date, true, nil
}

// Materialize stamps the rule's next occurrence. Calling it again with the
// same rule yields the same occurrence; only persisting Next moves the
// sequence forward.
func (p *Projector) Materialize(rule core.RecurringRule, newID func() string) (Materialization, error) {
	next := rule.State

	switch rule.Status() {
	case core.StatusEnded:
		next.Ended = true
		return Materialization{Outcome: OutcomeEnded, Next: next}, nil
	case core.StatusPaused:
		return Materialization{Outcome: OutcomePaused, Next: next}, nil
	}

	date, err := p.nextDate(rule)
	if err != nil {
		return Materialization{}, fmt.Errorf("compute next occurrence: %w", err)
	}
	if !core.Permits(rule.End, date, next.Generated) {
		next.Ended = true
		return Materialization{Outcome: OutcomeEnded, Next: next}, nil
	}

	next.LastGenerated = mo.Some(date)
	next.Generated++
	if core.Exhausted(rule.End, next.Generated) {
		next.Ended = true
	}
	return Materialization{
		Outcome:     OutcomeMaterialized,
		Transaction: rule.Snapshot(newID(), date),
		Next:        next,
	}, nil
}

// Skip consumes the next occurrence without generating a transaction.
func (p *Projector) Skip(rule core.RecurringRule) (SkipResult, error) {
	if status := rule.Status(); status != core.StatusActive {
		return SkipResult{}, &CannotSkipInactiveRuleError{RuleID: rule.ID, Status: status}
	}

	date, err := p.nextDate(rule)
	if err != nil {
		return SkipResult{}, fmt.Errorf("compute next occurrence: %w", err)
	}

	next := rule.State
	if !core.Permits(rule.End, date, next.Generated) {
		next.Ended = true
		return SkipResult{Skipped: date, Ended: true, Next: next}, nil
	}
	next.LastGenerated = mo.Some(date)
	return SkipResult{Skipped: date, Next: next}, nil
}

// Pause stops materialization while keeping the sequence position.
func (p *Projector) Pause(rule core.RecurringRule) (core.RuleState, error) {
	if rule.Status() == core.StatusEnded {
		return rule.State, ErrRuleEnded
	}
	next := rule.State
	next.Active = false
	return next, nil
}

// Resume continues a paused rule from where it left off.
func (p *Projector) Resume(rule core.RecurringRule) (core.RuleState, error) {
	if rule.Status() == core.StatusEnded {
		return rule.State, ErrRuleEnded
	}
	next := rule.State
	next.Active = true
	return next, nil
}

// EndFuture ends the rule as of its current anchor. Generated transactions
// are not touched.
func (p *Projector) EndFuture(rule core.RecurringRule) core.RuleState {
	next := rule.State
	next.Ended = true
	return next
}

// nextDate is StartDate itself until the first materialization or skip,
// and one step past the last consumed date afterwards.
func (p *Projector) nextDate(rule core.RecurringRule) (civil.Date, error) {
	anchor, consumed := rule.Anchor()
	if !consumed {
		if !rule.Interval.IsValid() {
			return civil.Date{}, &core.UnknownIntervalError{Interval: rule.Interval}
		}
		return anchor, nil
	}
	return p.tm.NextOccurrence(anchor, rule.Interval, rule.DayOfMonth)
}
