package recurrence

import (
	"errors"
	"fmt"

	"ricorrenze/internal/core"
)

// ErrRuleEnded is returned when a lifecycle transition is requested on a
// rule that already ended.
var ErrRuleEnded = errors.New("rule has ended")

// CannotSkipInactiveRuleError is returned by Skip on a paused or ended rule.
type CannotSkipInactiveRuleError struct {
	RuleID string
	Status core.Status
}

func (e *CannotSkipInactiveRuleError) Error() string {
	return fmt.Sprintf("cannot skip rule %s: rule is %s", e.RuleID, e.Status)
}

// HorizonTooLongError rejects a projection that would take more steps than
// the projector allows.
type HorizonTooLongError struct {
	RuleID   string
	Interval core.IntervalType
	Steps    int
	MaxSteps int
}

func (e *HorizonTooLongError) Error() string {
	return fmt.Sprintf("projection of %s rule %s needs about %d steps, limit is %d",
		e.Interval, e.RuleID, e.Steps, e.MaxSteps)
}
