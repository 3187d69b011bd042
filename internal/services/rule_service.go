package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/samber/mo"
	"golang.org/x/sync/singleflight"

	"ricorrenze/internal/amqp"
	"ricorrenze/internal/core"
	"ricorrenze/internal/recurrence"
	"ricorrenze/internal/timeutil"
)

// ErrStartDateLocked rejects a start date change on a rule whose sequence
// already moved.
var ErrStartDateLocked = errors.New("start date cannot change once an occurrence was generated or skipped")

// RuleStore is the persistence the rule service needs.
// *storage.SQLiteRepository implements it.
type RuleStore interface {
	CreateRule(ctx context.Context, rule core.RecurringRule) (core.RecurringRule, error)
	GetRule(ctx context.Context, ownerID, id string) (core.RecurringRule, error)
	ListRules(ctx context.Context, ownerID string) ([]core.RecurringRule, error)
	UpdateRule(ctx context.Context, rule core.RecurringRule) (core.RecurringRule, error)
	SaveState(ctx context.Context, rule core.RecurringRule, next core.RuleState) (core.RecurringRule, error)
	CommitMaterialization(ctx context.Context, rule core.RecurringRule, next core.RuleState, tx core.GeneratedTransaction) (core.RecurringRule, core.GeneratedTransaction, error)
	GetTransaction(ctx context.Context, ownerID, id string) (core.GeneratedTransaction, error)
	ListTransactions(ctx context.Context, ownerID, ruleID string) ([]core.GeneratedTransaction, error)
	DeleteTransaction(ctx context.Context, ownerID, id string) error
	DeleteRule(ctx context.Context, ownerID, id string) (int64, error)
}

// Publisher announces materializations and deletions. *amqp.Client
// implements it.
type Publisher interface {
	PublishOccurrenceSync(ctx context.Context, tx core.GeneratedTransaction, ruleVersion int64) error
	PublishDeletion(ctx context.Context, msg amqp.DeletionMessage) error
}

// RuleInput carries the user editable fields of a rule.
type RuleInput struct {
	OwnerID     string
	Amount      core.Money
	Description string
	CategoryID  string
	Type        core.TransactionType
	Interval    core.IntervalType
	DayOfMonth  mo.Option[int]
	StartDate   civil.Date
	End         core.EndCondition
}

// MaterializeResult is what MaterializeNext did to a rule.
type MaterializeResult struct {
	Outcome     recurrence.Outcome
	Transaction mo.Option[core.GeneratedTransaction]
	Rule        core.RecurringRule
}

// Dashboard is the merged upcoming view of an owner's rules.
type Dashboard struct {
	HorizonEnd  civil.Date
	Occurrences []recurrence.Occurrence
	Summary     core.ProjectionSummary
}

// PeriodSummary totals the occurrences that fall inside one period.
type PeriodSummary struct {
	Period  timeutil.Range
	Summary core.ProjectionSummary
}

type RuleServiceConfig struct {
	// HorizonDays is the default projection length from today.
	HorizonDays int
	// NewID generates rule and transaction IDs. Defaults to random UUIDs.
	NewID func() string
}

// RuleService runs the rule lifecycle: it loads rules, lets the projector
// compute the next state and commits that state atomically.
type RuleService struct {
	store     RuleStore
	projector *recurrence.Projector
	clock     *timeutil.Manager
	publisher Publisher
	config    RuleServiceConfig

	flight singleflight.Group
}

func NewRuleService(store RuleStore, projector *recurrence.Projector, clock *timeutil.Manager, publisher Publisher, config RuleServiceConfig) *RuleService {
	if config.HorizonDays <= 0 {
		config.HorizonDays = 90
	}
	if config.NewID == nil {
		config.NewID = func() string { return uuid.NewString() }
	}
	return &RuleService{
		store:     store,
		projector: projector,
		clock:     clock,
		publisher: publisher,
		config:    config,
	}
}

// Today is the service clock's canonical day.
func (s *RuleService) Today() civil.Date {
	return s.clock.Today()
}

// DefaultHorizon is today plus the configured horizon length.
func (s *RuleService) DefaultHorizon() civil.Date {
	return s.clock.Today().AddDays(s.config.HorizonDays)
}

func (s *RuleService) CreateRule(ctx context.Context, in RuleInput) (core.RecurringRule, error) {
	rule := core.RecurringRule{
		ID:    s.config.NewID(),
		State: core.NewRuleState(),
	}
	in.apply(&rule)
	if err := rule.Validate(); err != nil {
		return core.RecurringRule{}, err
	}

	created, err := s.store.CreateRule(ctx, rule)
	if err != nil {
		return core.RecurringRule{}, fmt.Errorf("create rule: %w", err)
	}
	return created, nil
}

func (s *RuleService) GetRule(ctx context.Context, ownerID, id string) (core.RecurringRule, error) {
	return s.store.GetRule(ctx, ownerID, id)
}

func (s *RuleService) ListRules(ctx context.Context, ownerID string) ([]core.RecurringRule, error) {
	return s.store.ListRules(ctx, ownerID)
}

func (s *RuleService) ListTransactions(ctx context.Context, ownerID, ruleID string) ([]core.GeneratedTransaction, error) {
	return s.store.ListTransactions(ctx, ownerID, ruleID)
}

// UpdateRule replaces the rule's payload, schedule and end condition.
// Already generated transactions keep their snapshot; the start date is
// frozen once the sequence moved.
func (s *RuleService) UpdateRule(ctx context.Context, id string, in RuleInput) (core.RecurringRule, error) {
	rule, err := s.store.GetRule(ctx, in.OwnerID, id)
	if err != nil {
		return core.RecurringRule{}, err
	}
	if in.StartDate != rule.StartDate && rule.State.LastGenerated.IsPresent() {
		return core.RecurringRule{}, ErrStartDateLocked
	}

	in.apply(&rule)
	if err := rule.Validate(); err != nil {
		return core.RecurringRule{}, err
	}
	return s.store.UpdateRule(ctx, rule)
}

func (s *RuleService) Pause(ctx context.Context, ownerID, id string) (core.RecurringRule, error) {
	return s.transition(ctx, ownerID, id, s.projector.Pause)
}

func (s *RuleService) Resume(ctx context.Context, ownerID, id string) (core.RecurringRule, error) {
	return s.transition(ctx, ownerID, id, s.projector.Resume)
}

func (s *RuleService) transition(ctx context.Context, ownerID, id string, step func(core.RecurringRule) (core.RuleState, error)) (core.RecurringRule, error) {
	rule, err := s.store.GetRule(ctx, ownerID, id)
	if err != nil {
		return core.RecurringRule{}, err
	}
	next, err := step(rule)
	if err != nil {
		return core.RecurringRule{}, err
	}
	if next == rule.State {
		return rule, nil
	}
	return s.store.SaveState(ctx, rule, next)
}

// Skip consumes the rule's next occurrence without generating anything.
func (s *RuleService) Skip(ctx context.Context, ownerID, id string) (recurrence.SkipResult, core.RecurringRule, error) {
	rule, err := s.store.GetRule(ctx, ownerID, id)
	if err != nil {
		return recurrence.SkipResult{}, core.RecurringRule{}, err
	}
	res, err := s.projector.Skip(rule)
	if err != nil {
		return recurrence.SkipResult{}, core.RecurringRule{}, err
	}
	saved, err := s.store.SaveState(ctx, rule, res.Next)
	if err != nil {
		return recurrence.SkipResult{}, core.RecurringRule{}, err
	}

	slog.InfoContext(ctx, "Occurrence skipped",
		"rule_id", id,
		"skipped", res.Skipped.String(),
		"ended", res.Ended)
	return res, saved, nil
}

// MaterializeNext materializes the rule's next occurrence whatever its date.
// Concurrent calls for the same owner and rule share one materialization.
func (s *RuleService) MaterializeNext(ctx context.Context, ownerID, id string) (MaterializeResult, error) {
	v, err, shared := s.flight.Do("materialize:"+ownerID+"/"+id, func() (any, error) {
		rule, err := s.store.GetRule(ctx, ownerID, id)
		if err != nil {
			return MaterializeResult{}, err
		}
		return s.materialize(ctx, rule)
	})
	if shared {
		slog.DebugContext(ctx, "Joined in-flight materialization", "rule_id", id)
	}
	if err != nil {
		return MaterializeResult{}, err
	}
	return v.(MaterializeResult), nil
}

// CatchUp materializes every pending occurrence of rule dated on or before
// today, at most limit of them, and returns how many it created. Concurrent
// calls for the same rule share one run.
func (s *RuleService) CatchUp(ctx context.Context, rule core.RecurringRule, today civil.Date, limit int) (int, error) {
	v, err, _ := s.flight.Do("catchup:"+rule.OwnerID+"/"+rule.ID, func() (any, error) {
		created := 0
		for created < limit {
			pending, ok, err := s.projector.Pending(rule)
			if err != nil {
				return created, err
			}
			if !ok {
				// The end condition may have blocked the next occurrence.
				if !rule.State.Ended && rule.Status() == core.StatusEnded {
					if _, err := s.materialize(ctx, rule); err != nil {
						return created, err
					}
				} else if rule.State.Active && !rule.State.Ended {
					if err := s.endIfBlocked(ctx, rule); err != nil {
						return created, err
					}
				}
				return created, nil
			}
			if pending.After(today) {
				return created, nil
			}

			res, err := s.materialize(ctx, rule)
			if err != nil {
				return created, err
			}
			rule = res.Rule
			if res.Outcome != recurrence.OutcomeMaterialized {
				return created, nil
			}
			created++
		}
		return created, nil
	})
	n, _ := v.(int)
	return n, err
}

// endIfBlocked persists the ended flag of an active rule whose end date
// lies before its next occurrence.
func (s *RuleService) endIfBlocked(ctx context.Context, rule core.RecurringRule) error {
	m, err := s.projector.Materialize(rule, s.config.NewID)
	if err != nil {
		return err
	}
	if m.Outcome != recurrence.OutcomeEnded {
		return nil
	}
	_, err = s.store.SaveState(ctx, rule, m.Next)
	return err
}

func (s *RuleService) materialize(ctx context.Context, rule core.RecurringRule) (MaterializeResult, error) {
	m, err := s.projector.Materialize(rule, s.config.NewID)
	if err != nil {
		return MaterializeResult{}, err
	}

	switch m.Outcome {
	case recurrence.OutcomeMaterialized:
		saved, tx, err := s.store.CommitMaterialization(ctx, rule, m.Next, m.Transaction)
		if err != nil {
			return MaterializeResult{}, err
		}
		s.publishSync(ctx, tx, saved.Version)
		return MaterializeResult{Outcome: m.Outcome, Transaction: mo.Some(tx), Rule: saved}, nil

	case recurrence.OutcomeEnded:
		if m.Next == rule.State {
			return MaterializeResult{Outcome: m.Outcome, Rule: rule}, nil
		}
		saved, err := s.store.SaveState(ctx, rule, m.Next)
		if err != nil {
			return MaterializeResult{}, err
		}
		slog.InfoContext(ctx, "Recurring rule ended", "rule_id", rule.ID, "generated", saved.State.Generated)
		return MaterializeResult{Outcome: m.Outcome, Rule: saved}, nil

	default:
		return MaterializeResult{Outcome: m.Outcome, Rule: rule}, nil
	}
}

// NextOccurrence is the date the next materialization of rule would carry.
// It reports false for paused and ended rules.
func (s *RuleService) NextOccurrence(rule core.RecurringRule) (civil.Date, bool, error) {
	return s.projector.Pending(rule)
}

// Upcoming projects one rule up to horizonEnd.
func (s *RuleService) Upcoming(ctx context.Context, ownerID, id string, horizonEnd civil.Date) ([]recurrence.Occurrence, error) {
	rule, err := s.store.GetRule(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	return s.projector.Upcoming(rule, horizonEnd)
}

// UpcomingForOwner merges the projections of all the owner's rules. A rule
// whose projection is rejected is left out and logged.
func (s *RuleService) UpcomingForOwner(ctx context.Context, ownerID string, horizonEnd civil.Date) (Dashboard, error) {
	rules, err := s.store.ListRules(ctx, ownerID)
	if err != nil {
		return Dashboard{}, err
	}

	perRule := make([][]recurrence.Occurrence, 0, len(rules))
	for _, rule := range rules {
		occs, err := s.projector.Upcoming(rule, horizonEnd)
		if err != nil {
			slog.WarnContext(ctx, "Skipping rule in upcoming view",
				"rule_id", rule.ID,
				"error", err)
			continue
		}
		perRule = append(perRule, occs)
	}

	merged := recurrence.Merge(perRule...)
	return Dashboard{
		HorizonEnd:  horizonEnd,
		Occurrences: merged,
		Summary:     recurrence.Summarize(merged),
	}, nil
}

// SummarizeByPeriod totals date-ordered occurrences per week, month or year.
// Periods without occurrences are left out.
func (s *RuleService) SummarizeByPeriod(occurrences []recurrence.Occurrence, kind timeutil.RangeKind) ([]PeriodSummary, error) {
	var periods []PeriodSummary
	for _, o := range occurrences {
		if n := len(periods); n > 0 && periods[n-1].Period.Contains(o.Date) {
			periods[n-1].Summary.Add(o.Type, o.Amount)
			continue
		}
		r, err := s.clock.PeriodRange(kind, o.Date)
		if err != nil {
			return nil, err
		}
		p := PeriodSummary{Period: r}
		p.Summary.Add(o.Type, o.Amount)
		periods = append(periods, p)
	}
	return periods, nil
}

// DeleteRequest names what to delete. TransactionID is required for
// ScopeOccurrence, RuleID for the other scopes.
type DeleteRequest struct {
	Scope         Scope
	OwnerID       string
	RuleID        string
	TransactionID string
}

// DeleteResult reports what a Delete call removed.
type DeleteResult struct {
	Scope   Scope
	Removed int64
	Rule    mo.Option[core.RecurringRule]
}

// Delete dispatches on the request scope.
func (s *RuleService) Delete(ctx context.Context, req DeleteRequest) (DeleteResult, error) {
	switch req.Scope {
	case ScopeOccurrence:
		if req.TransactionID == "" {
			return DeleteResult{}, errors.New("transaction id is required to delete an occurrence")
		}
		if err := s.DeleteOccurrence(ctx, req.OwnerID, req.TransactionID); err != nil {
			return DeleteResult{}, err
		}
		return DeleteResult{Scope: req.Scope, Removed: 1}, nil
	case ScopeFuture:
		rule, err := s.DeleteFuture(ctx, req.OwnerID, req.RuleID)
		if err != nil {
			return DeleteResult{}, err
		}
		return DeleteResult{Scope: req.Scope, Rule: mo.Some(rule)}, nil
	case ScopeAll:
		removed, err := s.DeleteAll(ctx, req.OwnerID, req.RuleID)
		if err != nil {
			return DeleteResult{}, err
		}
		return DeleteResult{Scope: req.Scope, Removed: removed}, nil
	default:
		return DeleteResult{}, &InvalidScopeError{Value: string(req.Scope)}
	}
}

// DeleteOccurrence removes one generated transaction. The rule is untouched.
func (s *RuleService) DeleteOccurrence(ctx context.Context, ownerID, transactionID string) error {
	tx, err := s.store.GetTransaction(ctx, ownerID, transactionID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteTransaction(ctx, ownerID, transactionID); err != nil {
		return err
	}
	s.publishDeletion(ctx, amqp.DeletionMessage{
		Scope:         string(ScopeOccurrence),
		OwnerID:       ownerID,
		RuleID:        tx.RuleID,
		TransactionID: transactionID,
		Removed:       1,
	})
	return nil
}

// DeleteFuture ends the rule as of its current anchor and keeps every
// generated transaction.
func (s *RuleService) DeleteFuture(ctx context.Context, ownerID, id string) (core.RecurringRule, error) {
	rule, err := s.store.GetRule(ctx, ownerID, id)
	if err != nil {
		return core.RecurringRule{}, err
	}
	saved := rule
	if next := s.projector.EndFuture(rule); next != rule.State {
		saved, err = s.store.SaveState(ctx, rule, next)
		if err != nil {
			return core.RecurringRule{}, err
		}
	}
	s.publishDeletion(ctx, amqp.DeletionMessage{Scope: string(ScopeFuture), OwnerID: ownerID, RuleID: id})
	return saved, nil
}

// DeleteAll removes the rule and every transaction it generated.
func (s *RuleService) DeleteAll(ctx context.Context, ownerID, id string) (int64, error) {
	removed, err := s.store.DeleteRule(ctx, ownerID, id)
	if err != nil {
		return 0, err
	}
	s.publishDeletion(ctx, amqp.DeletionMessage{Scope: string(ScopeAll), OwnerID: ownerID, RuleID: id, Removed: removed})
	return removed, nil
}

func (s *RuleService) publishSync(ctx context.Context, tx core.GeneratedTransaction, version int64) {
	if s.publisher == nil {
		slog.DebugContext(ctx, "AMQP client not available, skipping sync message")
		return
	}
	// The transaction is committed; a lost message is recovered by the
	// sync worker's pending scan.
	if err := s.publisher.PublishOccurrenceSync(ctx, tx, version); err != nil {
		slog.ErrorContext(ctx, "Failed to publish sync message",
			"transaction_id", tx.ID, "error", err)
	}
}

func (s *RuleService) publishDeletion(ctx context.Context, msg amqp.DeletionMessage) {
	if s.publisher == nil {
		slog.DebugContext(ctx, "AMQP client not available, skipping deletion message")
		return
	}
	if err := s.publisher.PublishDeletion(ctx, msg); err != nil {
		slog.ErrorContext(ctx, "Failed to publish deletion message",
			"scope", msg.Scope, "rule_id", msg.RuleID, "error", err)
	}
}

func (in RuleInput) apply(rule *core.RecurringRule) {
	rule.OwnerID = in.OwnerID
	rule.Amount = in.Amount
	rule.Description = in.Description
	rule.CategoryID = in.CategoryID
	rule.Type = in.Type
	rule.Interval = in.Interval
	rule.DayOfMonth = in.DayOfMonth
	rule.StartDate = in.StartDate
	rule.End = in.End
}
