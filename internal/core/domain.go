package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/samber/mo"
)

const (
	Daily   IntervalType = "daily"
	Weekly  IntervalType = "weekly"
	Monthly IntervalType = "monthly"
	Yearly  IntervalType = "yearly"
)

const (
	Income  TransactionType = "income"
	Expense TransactionType = "expense"
)

const (
	StatusActive Status = "active"
	StatusPaused Status = "paused"
	StatusEnded  Status = "ended"
)

const maxDescriptionLength = 200

type (
	IntervalType    string
	TransactionType string
	Status          string

	Money struct {
		Cents int64
	}

	// RuleState is the part of a rule that moves as occurrences are
	// materialized or skipped. Core operations receive it by value and hand
	// back the next state; persisting it is the caller's job.
	RuleState struct {
		Active        bool
		Ended         bool
		LastGenerated mo.Option[civil.Date]
		Generated     int
	}

	// RecurringRule is the template a repeating transaction is stamped from.
	RecurringRule struct {
		ID          string
		OwnerID     string
		Amount      Money
		Description string
		CategoryID  string
		Type        TransactionType
		Interval    IntervalType
		DayOfMonth  mo.Option[int] // monthly and yearly only
		StartDate   civil.Date
		End         EndCondition
		State       RuleState
		Version     int64
		CreatedAt   time.Time
		UpdatedAt   time.Time
	}

	// GeneratedTransaction is a materialized occurrence. Payload fields are
	// copied from the rule when it is generated and never follow later edits.
	GeneratedTransaction struct {
		ID             string
		RuleID         string
		OwnerID        string
		OccurrenceDate civil.Date
		Amount         Money
		Description    string
		CategoryID     string
		Type           TransactionType
		CreatedAt      time.Time
	}
)

var (
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrEmptyDescription     = errors.New("empty description")
	ErrDescriptionTooLong   = errors.New("description too long (max 200 characters)")
	ErrEmptyOwner           = errors.New("empty owner")
	ErrInvalidType          = errors.New("invalid transaction type")
	ErrInvalidStartDate     = errors.New("invalid start date")
	ErrInvalidDayOfMonth    = errors.New("day of month must be between 1 and 31")
	ErrDayOfMonthNotAllowed = errors.New("day of month is only allowed for monthly and yearly rules")
	ErrMissingEndCondition  = errors.New("missing end condition")
	ErrInvalidEndDate       = errors.New("end date must not be before start date")
	ErrInvalidEndCount      = errors.New("occurrence count must be greater than zero")
)

// UnknownIntervalError reports an interval type the scheduler cannot step.
type UnknownIntervalError struct {
	Interval IntervalType
}

func (e *UnknownIntervalError) Error() string {
	return fmt.Sprintf("unknown interval type: %q", string(e.Interval))
}

// IsValid reports whether the interval is one the scheduler knows.
func (i IntervalType) IsValid() bool {
	switch i {
	case Daily, Weekly, Monthly, Yearly:
		return true
	default:
		return false
	}
}

// UsesDayOfMonth reports whether a day-of-month anchor is meaningful.
func (i IntervalType) UsesDayOfMonth() bool {
	return i == Monthly || i == Yearly
}

func (t TransactionType) IsValid() bool {
	return t == Income || t == Expense
}

func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// NewRuleState returns the state of a freshly created, active rule.
func NewRuleState() RuleState {
	return RuleState{Active: true}
}

// Anchor returns the date the next step is computed from and whether that
// date has already been consumed by a materialization or a skip.
func (r RecurringRule) Anchor() (civil.Date, bool) {
	if last, ok := r.State.LastGenerated.Get(); ok {
		return last, true
	}
	return r.StartDate, false
}

func (r RecurringRule) Validate() error {
	if strings.TrimSpace(r.OwnerID) == "" {
		return ErrEmptyOwner
	}
	if !r.StartDate.IsValid() {
		return ErrInvalidStartDate
	}
	if !r.Interval.IsValid() {
		return &UnknownIntervalError{Interval: r.Interval}
	}
	if day, ok := r.DayOfMonth.Get(); ok {
		if !r.Interval.UsesDayOfMonth() {
			return ErrDayOfMonthNotAllowed
		}
		if day < 1 || day > 31 {
			return ErrInvalidDayOfMonth
		}
	}
	if err := r.validateEnd(); err != nil {
		return err
	}

	if len(strings.TrimSpace(r.Description)) == 0 {
		return ErrEmptyDescription
	}
	if len(r.Description) > maxDescriptionLength {
		return ErrDescriptionTooLong
	}
	if err := r.Amount.Validate(); err != nil {
		return err
	}
	if !r.Type.IsValid() {
		return ErrInvalidType
	}
	return nil
}

func (r RecurringRule) validateEnd() error {
	switch end := r.End.(type) {
	case nil:
		return ErrMissingEndCondition
	case EndNever:
		return nil
	case EndOnDate:
		if !end.Date.IsValid() || end.Date.Before(r.StartDate) {
			return ErrInvalidEndDate
		}
		return nil
	case EndAfterCount:
		if end.Count <= 0 {
			return ErrInvalidEndCount
		}
		return nil
	default:
		return fmt.Errorf("unsupported end condition %T", end)
	}
}

// Snapshot stamps a transaction for the given occurrence from the rule's
// current payload.
func (r RecurringRule) Snapshot(id string, on civil.Date) GeneratedTransaction {
	return GeneratedTransaction{
		ID:             id,
		RuleID:         r.ID,
		OwnerID:        r.OwnerID,
		OccurrenceDate: on,
		Amount:         r.Amount,
		Description:    r.Description,
		CategoryID:     r.CategoryID,
		Type:           r.Type,
	}
}

// Status derives the lifecycle state from the rule's state fields.
func (r RecurringRule) Status() Status {
	switch {
	case r.State.Ended, Exhausted(r.End, r.State.Generated):
		return StatusEnded
	case !r.State.Active:
		return StatusPaused
	default:
		return StatusActive
	}
}

var validationErrors = []error{
	ErrInvalidAmount, ErrEmptyDescription, ErrDescriptionTooLong, ErrEmptyOwner,
	ErrInvalidType, ErrInvalidStartDate, ErrInvalidDayOfMonth, ErrDayOfMonthNotAllowed,
	ErrMissingEndCondition, ErrInvalidEndDate, ErrInvalidEndCount,
}

// IsValidation reports whether err is a rule configuration error.
func IsValidation(err error) bool {
	var unknown *UnknownIntervalError
	if errors.As(err, &unknown) {
		return true
	}
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
