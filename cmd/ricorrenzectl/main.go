package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	_ "time/tzdata"

	"cloud.google.com/go/civil"
	"github.com/spf13/cobra"

	"ricorrenze/internal/cli"
	"ricorrenze/internal/config"
	applog "ricorrenze/internal/log"
	"ricorrenze/internal/recurrence"
	"ricorrenze/internal/services"
	"ricorrenze/internal/storage"
	"ricorrenze/internal/timeutil"
)

// version is set at build time via -ldflags "-X main.version=x.y.z".
var version = "dev"

// exitErr carries a numeric exit code through the cobra error path.
type exitErr struct {
	code int
	msg  string
}

func (e *exitErr) Error() string { return e.msg }

func codeError(code int, format string, args ...any) error {
	return &exitErr{code: code, msg: fmt.Sprintf(format, args...)}
}

// app holds the global flags and the engine opened for one invocation.
type app struct {
	owner   string
	dbPath  string
	asJSON  bool
	verbose bool

	out    io.Writer
	repo   *storage.SQLiteRepository
	engine *cli.Engine
}

func main() {
	a := &app{out: os.Stdout}
	root := newRootCmd(a)

	err := root.Execute()
	a.close()
	if err != nil {
		var ee *exitErr
		if errors.As(err, &ee) {
			fmt.Fprintln(os.Stderr, "Error:", ee.msg)
			os.Exit(ee.code)
		}
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "ricorrenzectl",
		Short:         "Inspect and drive recurring transaction rules",
		Version:       version,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.open()
		},
	}

	root.CompletionOptions.DisableDefaultCmd = true

	pf := root.PersistentFlags()
	pf.StringVar(&a.owner, "owner", os.Getenv("RICORRENZE_OWNER"), "Owner whose rules are addressed")
	pf.StringVar(&a.dbPath, "db", "", "SQLite database path (default: SQLITE_DB_PATH)")
	pf.BoolVar(&a.asJSON, "json", false, "Print JSON instead of tables")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "Log engine activity to stderr")

	root.AddCommand(
		newRulesCmd(a),
		newNextCmd(a),
		newUpcomingCmd(a),
		newMaterializeCmd(a),
		newSkipCmd(a),
		newTransitionCmd(a, "pause", "Pause a rule", a.pause),
		newTransitionCmd(a, "resume", "Resume a paused rule", a.resume),
		newDeleteCmd(a),
		newProcessCmd(a),
	)
	return root
}

func (a *app) open() error {
	cli.LoadEnvFile()

	level := slog.LevelWarn
	if a.verbose {
		level = slog.LevelDebug
	}
	logger := applog.New(applog.Config{Level: level, Component: applog.ComponentCLI, Output: os.Stderr})
	applog.SetDefault(logger)

	cfg := config.Load()
	if a.dbPath != "" {
		cfg.SQLiteDBPath = a.dbPath
	}
	if err := cfg.Validate(); err != nil {
		return codeError(3, "%s", err)
	}

	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		return codeError(3, "open database %s: %s", cfg.SQLiteDBPath, err)
	}
	// The CLI never publishes; the sync-worker's pending scan exports what it
	// materializes.
	engine, err := cli.NewEngine(logger, cfg, repo, nil)
	if err != nil {
		repo.Close()
		return codeError(3, "%s", err)
	}
	a.repo, a.engine = repo, engine
	return nil
}

func (a *app) close() {
	if a.engine != nil {
		a.engine.Close()
	}
	if a.repo != nil {
		a.repo.Close()
	}
}

func (a *app) requireOwner() error {
	if a.owner == "" {
		return codeError(2, "--owner is required (or set RICORRENZE_OWNER)")
	}
	return nil
}

// fail maps service errors onto exit codes: 4 for missing rules, 5 for
// rejected operations, 1 otherwise.
func fail(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrNotFound):
		return codeError(4, "%s", err)
	case isRejection(err):
		return codeError(5, "%s", err)
	default:
		return err
	}
}

func newRulesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rules",
		Short: "List the owner's rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireOwner(); err != nil {
				return err
			}
			rules, err := a.engine.Rules.ListRules(cmd.Context(), a.owner)
			if err != nil {
				return fail(err)
			}
			views := make([]ruleView, 0, len(rules))
			for _, rule := range rules {
				next, ok, err := a.engine.Rules.NextOccurrence(rule)
				if err != nil {
					return fail(err)
				}
				views = append(views, newRuleView(rule, next, ok))
			}
			return a.render(views, func(w io.Writer) { renderRules(w, views) })
		},
	}
}

func newNextCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "next <rule-id>",
		Short: "Show the next pending occurrence of a rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireOwner(); err != nil {
				return err
			}
			rule, err := a.engine.Rules.GetRule(cmd.Context(), a.owner, args[0])
			if err != nil {
				return fail(err)
			}
			next, ok, err := a.engine.Rules.NextOccurrence(rule)
			if err != nil {
				return fail(err)
			}
			view := newRuleView(rule, next, ok)
			return a.render(view, func(w io.Writer) { renderNext(w, view) })
		},
	}
}

func newUpcomingCmd(a *app) *cobra.Command {
	var (
		until string
		days  int
		by    string
	)
	cmd := &cobra.Command{
		Use:   "upcoming [rule-id]",
		Short: "Project upcoming occurrences for one rule or for all of the owner's rules",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireOwner(); err != nil {
				return err
			}
			horizon, err := a.horizon(until, days)
			if err != nil {
				return err
			}
			var kind timeutil.RangeKind
			if by != "" {
				if kind, err = timeutil.ParseRangeKind(by); err != nil {
					return codeError(2, "invalid --by %q: want week, month or year", by)
				}
			}

			var occs []recurrence.Occurrence
			if len(args) == 1 {
				occs, err = a.engine.Rules.Upcoming(cmd.Context(), a.owner, args[0], horizon)
			} else {
				var dash services.Dashboard
				dash, err = a.engine.Rules.UpcomingForOwner(cmd.Context(), a.owner, horizon)
				occs = dash.Occurrences
			}
			if err != nil {
				return fail(err)
			}

			view := newUpcomingView(horizon, occs)
			if by != "" {
				periods, err := a.engine.Rules.SummarizeByPeriod(occs, kind)
				if err != nil {
					return fail(err)
				}
				view.Periods = newPeriodViews(periods)
			}
			return a.render(view, func(w io.Writer) { renderUpcoming(w, view) })
		},
	}
	cmd.Flags().StringVar(&until, "until", "", "Last day of the projection (YYYY-MM-DD)")
	cmd.Flags().IntVar(&days, "days", 0, "Project this many days from today")
	cmd.Flags().StringVar(&by, "by", "", "Also total per period: week, month or year")
	cmd.MarkFlagsMutuallyExclusive("until", "days")
	return cmd
}

// horizon resolves --until/--days, falling back to the configured default.
func (a *app) horizon(until string, days int) (civil.Date, error) {
	switch {
	case until != "":
		d, err := civil.ParseDate(until)
		if err != nil {
			return civil.Date{}, codeError(2, "invalid --until %q: want YYYY-MM-DD", until)
		}
		return d, nil
	case days < 0:
		return civil.Date{}, codeError(2, "invalid --days %d: must not be negative", days)
	case days > 0:
		return a.engine.Rules.Today().AddDays(days), nil
	default:
		return a.engine.Rules.DefaultHorizon(), nil
	}
}

func newMaterializeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "materialize <rule-id>",
		Short: "Generate the rule's next transaction now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireOwner(); err != nil {
				return err
			}
			res, err := a.engine.Rules.MaterializeNext(cmd.Context(), a.owner, args[0])
			if err != nil {
				return fail(err)
			}
			view := newMaterializeView(res, a.nextOf(res.Rule))
			return a.render(view, func(w io.Writer) { renderMaterialize(w, view) })
		},
	}
}

func newSkipCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "skip <rule-id>",
		Short: "Skip the rule's next occurrence without generating it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireOwner(); err != nil {
				return err
			}
			res, rule, err := a.engine.Rules.Skip(cmd.Context(), a.owner, args[0])
			if err != nil {
				return fail(err)
			}
			view := skipView{Skipped: res.Skipped.String(), Ended: res.Ended, Rule: a.nextOf(rule)}
			return a.render(view, func(w io.Writer) { renderSkip(w, view) })
		},
	}
}

type transitionFunc func(ctx context.Context, id string) error

func newTransitionCmd(a *app, use, short string, fn transitionFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <rule-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireOwner(); err != nil {
				return err
			}
			return fn(cmd.Context(), args[0])
		},
	}
}

func (a *app) pause(ctx context.Context, id string) error {
	rule, err := a.engine.Rules.Pause(ctx, a.owner, id)
	if err != nil {
		return fail(err)
	}
	view := a.nextOf(rule)
	return a.render(view, func(w io.Writer) { renderNext(w, view) })
}

func (a *app) resume(ctx context.Context, id string) error {
	rule, err := a.engine.Rules.Resume(ctx, a.owner, id)
	if err != nil {
		return fail(err)
	}
	view := a.nextOf(rule)
	return a.render(view, func(w io.Writer) { renderNext(w, view) })
}

func newDeleteCmd(a *app) *cobra.Command {
	var (
		scope         string
		transactionID string
	)
	cmd := &cobra.Command{
		Use:   "delete [rule-id]",
		Short: "Delete one generated transaction, a rule's future, or a rule and its history",
		Long: "Scopes:\n" +
			"  occurrence  remove the transaction given by --transaction\n" +
			"  future      end the rule and keep its generated transactions (default)\n" +
			"  all         remove the rule and every transaction it generated",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireOwner(); err != nil {
				return err
			}
			if transactionID != "" && !cmd.Flags().Changed("scope") {
				scope = string(services.ScopeOccurrence)
			}
			s, err := services.ParseScope(scope)
			if err != nil {
				return codeError(2, "%s", err)
			}
			req := services.DeleteRequest{Scope: s, OwnerID: a.owner, TransactionID: transactionID}
			if s != services.ScopeOccurrence {
				if len(args) != 1 {
					return codeError(2, "delete --scope %s needs a rule id", s)
				}
				req.RuleID = args[0]
			}

			res, err := a.engine.Rules.Delete(cmd.Context(), req)
			if err != nil {
				return fail(err)
			}
			view := deleteView{Scope: string(res.Scope), Removed: res.Removed}
			if rule, ok := res.Rule.Get(); ok {
				rv := a.nextOf(rule)
				view.Rule = &rv
			}
			return a.render(view, func(w io.Writer) { renderDelete(w, view) })
		},
	}
	cmd.Flags().StringVar(&scope, "scope", string(services.ScopeFuture), "occurrence, future or all")
	cmd.Flags().StringVar(&transactionID, "transaction", "", "Generated transaction to remove (implies --scope occurrence)")
	return cmd
}

func newProcessCmd(a *app) *cobra.Command {
	var (
		concurrency int
		maxCatchUp  int
	)
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Catch every active rule up to today, once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			processor := services.NewRecurringProcessor(a.repo, a.engine.Rules, services.RecurringProcessorConfig{
				Concurrency: concurrency,
				MaxCatchUp:  maxCatchUp,
			})
			report, err := processor.ProcessDue(cmd.Context(), a.engine.Clock.Today())
			if err != nil {
				return fail(err)
			}
			view := processView{Checked: report.Checked, Materialized: report.Materialized, Failed: report.Failed}
			if err := a.render(view, func(w io.Writer) { renderProcess(w, view) }); err != nil {
				return err
			}
			if report.Failed > 0 {
				return codeError(6, "%d rule(s) failed to catch up", report.Failed)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "Rules caught up in parallel (default: RECURRING_CONCURRENCY)")
	cmd.Flags().IntVar(&maxCatchUp, "max-catch-up", 0, "Occurrences per rule per run (default: RECURRING_MAX_CATCH_UP)")
	cmd.PreRun = func(cmd *cobra.Command, args []string) {
		cfg := config.Load()
		if concurrency == 0 {
			concurrency = cfg.RecurringConcurrency
		}
		if maxCatchUp == 0 {
			maxCatchUp = cfg.RecurringMaxCatchUp
		}
	}
	return cmd
}
