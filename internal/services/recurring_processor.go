package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"cloud.google.com/go/civil"
	"golang.org/x/sync/errgroup"

	"ricorrenze/internal/core"
)

// ActiveRuleLister lists the rules the processor should look at.
type ActiveRuleLister interface {
	ListActiveRules(ctx context.Context) ([]core.RecurringRule, error)
}

type RecurringProcessorConfig struct {
	// Concurrency bounds how many rules are caught up at once (default: 4)
	Concurrency int

	// MaxCatchUp bounds the occurrences materialized per rule per run (default: 366)
	MaxCatchUp int
}

func DefaultRecurringProcessorConfig() RecurringProcessorConfig {
	return RecurringProcessorConfig{
		Concurrency: 4,
		MaxCatchUp:  366,
	}
}

// ProcessReport summarizes one processor run.
type ProcessReport struct {
	Checked      int
	Materialized int
	Failed       int
}

// RecurringProcessor materializes every occurrence that has come due across
// all active rules.
type RecurringProcessor struct {
	rules   ActiveRuleLister
	service *RuleService
	config  RecurringProcessorConfig
}

func NewRecurringProcessor(rules ActiveRuleLister, service *RuleService, config RecurringProcessorConfig) *RecurringProcessor {
	if config.Concurrency <= 0 {
		config.Concurrency = 4
	}
	if config.MaxCatchUp <= 0 {
		config.MaxCatchUp = 366
	}
	return &RecurringProcessor{
		rules:   rules,
		service: service,
		config:  config,
	}
}

// ProcessDue catches every active rule up to today. A failing rule is
// logged and counted; it does not stop the others.
func (p *RecurringProcessor) ProcessDue(ctx context.Context, today civil.Date) (ProcessReport, error) {
	if p.rules == nil || p.service == nil {
		return ProcessReport{}, fmt.Errorf("processor not properly initialized")
	}

	rules, err := p.rules.ListActiveRules(ctx)
	if err != nil {
		return ProcessReport{}, fmt.Errorf("failed to list active rules: %w", err)
	}

	slog.InfoContext(ctx, "Processing recurring rules",
		"total_active", len(rules),
		"processing_date", today.String())

	var (
		mu     sync.Mutex
		report = ProcessReport{Checked: len(rules)}
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.config.Concurrency)

	for _, rule := range rules {
		g.Go(func() error {
			created, err := p.service.CatchUp(gctx, rule, today, p.config.MaxCatchUp)

			mu.Lock()
			defer mu.Unlock()
			report.Materialized += created
			if err != nil {
				report.Failed++
				slog.ErrorContext(gctx, "Failed to catch up recurring rule",
					"rule_id", rule.ID,
					"owner_id", rule.OwnerID,
					"materialized", created,
					"error", err)
				return nil
			}
			if created > 0 {
				slog.InfoContext(gctx, "Materialized occurrences from recurring rule",
					"rule_id", rule.ID,
					"description", rule.Description,
					"amount_cents", rule.Amount.Cents,
					"interval", rule.Interval,
					"count", created)
			}
			return nil
		})
	}

	// Goroutines never return errors; cancellation of ctx is the only way out.
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return report, err
	}

	slog.InfoContext(ctx, "Recurring rule processing complete",
		"materialized", report.Materialized,
		"failed", report.Failed,
		"total_checked", report.Checked)

	return report, nil
}
