package core

import (
	"fmt"

	"cloud.google.com/go/civil"
)

// EndCondition is one of EndNever, EndOnDate or EndAfterCount.
type EndCondition interface {
	isEndCondition()
	fmt.Stringer
}

// EndNever keeps a rule running until it is ended by hand.
type EndNever struct{}

// EndOnDate stops a rule after the last occurrence on or before Date.
type EndOnDate struct {
	Date civil.Date
}

// EndAfterCount stops a rule once Count occurrences were materialized.
type EndAfterCount struct {
	Count int
}

func (EndNever) isEndCondition()      {}
func (EndOnDate) isEndCondition()     {}
func (EndAfterCount) isEndCondition() {}

func (EndNever) String() string        { return "never" }
func (e EndOnDate) String() string     { return "on " + e.Date.String() }
func (e EndAfterCount) String() string { return fmt.Sprintf("after %d", e.Count) }

// Never, OnDate and AfterCount are shorthands for building end conditions.
func Never() EndCondition              { return EndNever{} }
func OnDate(d civil.Date) EndCondition { return EndOnDate{Date: d} }
func AfterCount(n int) EndCondition    { return EndAfterCount{Count: n} }

// Permits reports whether an occurrence on date may be materialized as the
// generated-th occurrence (zero based) of the rule.
func Permits(end EndCondition, date civil.Date, generated int) bool {
	switch e := end.(type) {
	case EndNever:
		return true
	case EndOnDate:
		return !date.After(e.Date)
	case EndAfterCount:
		return generated < e.Count
	default:
		return false
	}
}

// Exhausted reports whether the count-based end condition has been reached.
// Date-based conditions are only known to be exhausted once the next
// occurrence is computed.
func Exhausted(end EndCondition, generated int) bool {
	if e, ok := end.(EndAfterCount); ok {
		return generated >= e.Count
	}
	return false
}
