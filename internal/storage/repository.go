package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/samber/mo"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"ricorrenze/internal/core"
	"ricorrenze/internal/timeutil"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrStaleRule           = errors.New("rule was modified concurrently")
	ErrDuplicateOccurrence = errors.New("occurrence already materialized")
)

const (
	SyncPending = "pending"
	SyncSynced  = "synced"
	SyncError   = "error"
)

const timestampLayout = time.RFC3339Nano

type SQLiteRepository struct {
	db      *sql.DB
	queries *Queries
	now     func() time.Time
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{
		db:      db,
		queries: New(db),
		now:     time.Now,
	}, nil
}

func dsn(path string) string {
	return path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping checks that the database is reachable.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLiteRepository) CreateRule(ctx context.Context, rule core.RecurringRule) (core.RecurringRule, error) {
	now := r.now().UTC()
	rule.Version = 1
	rule.CreatedAt = now
	rule.UpdatedAt = now

	if err := r.queries.CreateRule(ctx, toRuleRow(rule)); err != nil {
		return core.RecurringRule{}, fmt.Errorf("create rule: %w", err)
	}

	slog.InfoContext(ctx, "Recurring rule saved to SQLite",
		"rule_id", rule.ID,
		"owner_id", rule.OwnerID,
		"interval", rule.Interval,
		"start_date", rule.StartDate.String())

	return rule, nil
}

func (r *SQLiteRepository) GetRule(ctx context.Context, ownerID, id string) (core.RecurringRule, error) {
	row, err := r.queries.GetRule(ctx, ownerID, id)
	if errors.Is(err, sql.ErrNoRows) {
		return core.RecurringRule{}, fmt.Errorf("get rule %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return core.RecurringRule{}, fmt.Errorf("get rule %s: %w", id, err)
	}
	return fromRuleRow(row)
}

// ListRules returns every rule of an owner, whatever its status.
func (r *SQLiteRepository) ListRules(ctx context.Context, ownerID string) ([]core.RecurringRule, error) {
	rows, err := r.queries.ListRulesByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	return fromRuleRows(rows)
}

// ListActiveRules returns the rules of all owners that are neither paused
// nor ended. Rules whose count limit was reached are still flagged ended.
func (r *SQLiteRepository) ListActiveRules(ctx context.Context) ([]core.RecurringRule, error) {
	rows, err := r.queries.ListRunnableRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active rules: %w", err)
	}
	return fromRuleRows(rows)
}

// UpdateRule stores the rule's definition (payload, schedule and end
// condition) if rule.Version is still current. State columns are untouched.
func (r *SQLiteRepository) UpdateRule(ctx context.Context, rule core.RecurringRule) (core.RecurringRule, error) {
	rule.UpdatedAt = r.now().UTC()

	err := r.inTx(ctx, func(q *Queries) error {
		n, err := q.UpdateRuleDefinition(ctx, toRuleRow(rule))
		if err != nil {
			return err
		}
		return checkApplied(ctx, q, n, rule.OwnerID, rule.ID)
	})
	if err != nil {
		return core.RecurringRule{}, fmt.Errorf("update rule %s: %w", rule.ID, err)
	}

	rule.Version++
	return rule, nil
}

// SaveState stores next as the rule's state if the stored version still
// matches rule.Version and returns the rule carrying the new state.
func (r *SQLiteRepository) SaveState(ctx context.Context, rule core.RecurringRule, next core.RuleState) (core.RecurringRule, error) {
	now := r.now().UTC()

	err := r.inTx(ctx, func(q *Queries) error {
		n, err := q.UpdateRuleState(ctx, stateParams(rule, next, now))
		if err != nil {
			return err
		}
		return checkApplied(ctx, q, n, rule.OwnerID, rule.ID)
	})
	if err != nil {
		return core.RecurringRule{}, fmt.Errorf("save rule state %s: %w", rule.ID, err)
	}

	return advanced(rule, next, now), nil
}

// CommitMaterialization stores the generated transaction and the rule's next
// state in one transaction. Either both are written or neither is: a stale
// version yields ErrStaleRule and an already stored occurrence yields
// ErrDuplicateOccurrence.
func (r *SQLiteRepository) CommitMaterialization(ctx context.Context, rule core.RecurringRule, next core.RuleState, tx core.GeneratedTransaction) (core.RecurringRule, core.GeneratedTransaction, error) {
	now := r.now().UTC()
	tx.CreatedAt = now

	err := r.inTx(ctx, func(q *Queries) error {
		n, err := q.UpdateRuleState(ctx, stateParams(rule, next, now))
		if err != nil {
			return err
		}
		if err := checkApplied(ctx, q, n, rule.OwnerID, rule.ID); err != nil {
			return err
		}
		if err := q.CreateTransaction(ctx, toTransactionRow(tx, SyncPending)); err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicateOccurrence
			}
			return err
		}
		return nil
	})
	if err != nil {
		return core.RecurringRule{}, core.GeneratedTransaction{}, fmt.Errorf("commit materialization of rule %s on %s: %w",
			rule.ID, tx.OccurrenceDate, err)
	}

	slog.InfoContext(ctx, "Occurrence materialized",
		"rule_id", rule.ID,
		"transaction_id", tx.ID,
		"occurrence_date", tx.OccurrenceDate.String(),
		"amount_cents", tx.Amount.Cents)

	return advanced(rule, next, now), tx, nil
}

func (r *SQLiteRepository) GetTransaction(ctx context.Context, ownerID, id string) (core.GeneratedTransaction, error) {
	t, _, err := r.getTransaction(ctx, id)
	if err != nil {
		return core.GeneratedTransaction{}, err
	}
	if t.OwnerID != ownerID {
		return core.GeneratedTransaction{}, fmt.Errorf("get transaction %s: %w", id, ErrNotFound)
	}
	return t, nil
}

// GetTransactionForSync loads a transaction by ID alone, with its sync
// status. Only the sync worker uses it.
func (r *SQLiteRepository) GetTransactionForSync(ctx context.Context, id string) (core.GeneratedTransaction, string, error) {
	return r.getTransaction(ctx, id)
}

func (r *SQLiteRepository) getTransaction(ctx context.Context, id string) (core.GeneratedTransaction, string, error) {
	row, err := r.queries.GetTransaction(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return core.GeneratedTransaction{}, "", fmt.Errorf("get transaction %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return core.GeneratedTransaction{}, "", fmt.Errorf("get transaction %s: %w", id, err)
	}
	t, err := fromTransactionRow(row)
	if err != nil {
		return core.GeneratedTransaction{}, "", err
	}
	return t, row.SyncStatus, nil
}

// ListTransactions returns an owner's generated transactions, limited to one
// rule when ruleID is not empty.
func (r *SQLiteRepository) ListTransactions(ctx context.Context, ownerID, ruleID string) ([]core.GeneratedTransaction, error) {
	var (
		rows []GeneratedTransactionRow
		err  error
	)
	if ruleID == "" {
		rows, err = r.queries.ListTransactionsByOwner(ctx, ownerID)
	} else {
		rows, err = r.queries.ListTransactionsByRule(ctx, ownerID, ruleID)
	}
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}

	out := make([]core.GeneratedTransaction, 0, len(rows))
	for _, row := range rows {
		t, err := fromTransactionRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// DeleteTransaction removes a single generated transaction. The rule that
// produced it is not touched.
func (r *SQLiteRepository) DeleteTransaction(ctx context.Context, ownerID, id string) error {
	n, err := r.queries.DeleteTransaction(ctx, ownerID, id)
	if err != nil {
		return fmt.Errorf("delete transaction %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("delete transaction %s: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteRule removes a rule and every transaction it generated and returns
// the number of removed transactions.
func (r *SQLiteRepository) DeleteRule(ctx context.Context, ownerID, id string) (int64, error) {
	var removed int64
	err := r.inTx(ctx, func(q *Queries) error {
		n, err := q.DeleteTransactionsByRule(ctx, ownerID, id)
		if err != nil {
			return err
		}
		removed = n

		n, err = q.DeleteRule(ctx, ownerID, id)
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("delete rule %s: %w", id, err)
	}

	slog.InfoContext(ctx, "Recurring rule deleted", "rule_id", id, "transactions_removed", removed)
	return removed, nil
}

// ListPendingSync returns the oldest transactions not yet exported,
// including those whose last export attempt failed.
func (r *SQLiteRepository) ListPendingSync(ctx context.Context, limit int) ([]core.GeneratedTransaction, error) {
	rows, err := r.queries.ListPendingSync(ctx, int64(limit))
	if err != nil {
		return nil, fmt.Errorf("list pending sync transactions: %w", err)
	}
	out := make([]core.GeneratedTransaction, 0, len(rows))
	for _, row := range rows {
		t, err := fromTransactionRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// MarkSynced marks a transaction as exported.
func (r *SQLiteRepository) MarkSynced(ctx context.Context, id string) error {
	if err := r.setSyncStatus(ctx, id, SyncSynced); err != nil {
		return fmt.Errorf("mark transaction synced: %w", err)
	}
	slog.InfoContext(ctx, "Transaction marked as synced", "id", id)
	return nil
}

// MarkSyncError marks a transaction whose export failed.
func (r *SQLiteRepository) MarkSyncError(ctx context.Context, id string) error {
	if err := r.setSyncStatus(ctx, id, SyncError); err != nil {
		return fmt.Errorf("mark transaction sync error: %w", err)
	}
	slog.WarnContext(ctx, "Transaction marked with sync error", "id", id)
	return nil
}

func (r *SQLiteRepository) setSyncStatus(ctx context.Context, id, status string) error {
	n, err := r.queries.SetSyncStatus(ctx, id, status)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLiteRepository) inTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(r.queries.WithTx(tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// checkApplied turns a conditional update that matched no row into
// ErrNotFound or ErrStaleRule.
func checkApplied(ctx context.Context, q *Queries, affected int64, ownerID, id string) error {
	if affected > 0 {
		return nil
	}
	exists, err := q.RuleExists(ctx, ownerID, id)
	if err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrStaleRule
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	case sqlite3.SQLITE_CONSTRAINT:
		return strings.Contains(se.Error(), "UNIQUE")
	default:
		return false
	}
}

func advanced(rule core.RecurringRule, next core.RuleState, at time.Time) core.RecurringRule {
	rule.State = next
	rule.Version++
	rule.UpdatedAt = at
	return rule
}

func stateParams(rule core.RecurringRule, next core.RuleState, at time.Time) UpdateRuleStateParams {
	return UpdateRuleStateParams{
		ID:                rule.ID,
		OwnerID:           rule.OwnerID,
		Version:           rule.Version,
		Active:            next.Active,
		Ended:             next.Ended,
		LastGeneratedDate: nullDate(next.LastGenerated),
		GeneratedCount:    int64(next.Generated),
		UpdatedAt:         at.Format(timestampLayout),
	}
}

const (
	endNever      = "never"
	endOnDate     = "on_date"
	endAfterCount = "after_count"
)

func toRuleRow(rule core.RecurringRule) RecurringRuleRow {
	row := RecurringRuleRow{
		ID:                rule.ID,
		OwnerID:           rule.OwnerID,
		AmountCents:       rule.Amount.Cents,
		Description:       rule.Description,
		CategoryID:        rule.CategoryID,
		Type:              string(rule.Type),
		IntervalType:      string(rule.Interval),
		StartDate:         timeutil.FormatForStorage(rule.StartDate),
		Active:            rule.State.Active,
		Ended:             rule.State.Ended,
		LastGeneratedDate: nullDate(rule.State.LastGenerated),
		GeneratedCount:    int64(rule.State.Generated),
		Version:           rule.Version,
		CreatedAt:         rule.CreatedAt.Format(timestampLayout),
		UpdatedAt:         rule.UpdatedAt.Format(timestampLayout),
	}
	if day, ok := rule.DayOfMonth.Get(); ok {
		row.DayOfMonth = sql.NullInt64{Int64: int64(day), Valid: true}
	}

	switch end := rule.End.(type) {
	case core.EndOnDate:
		row.EndKind = endOnDate
		row.EndDate = sql.NullString{String: timeutil.FormatForStorage(end.Date), Valid: true}
	case core.EndAfterCount:
		row.EndKind = endAfterCount
		row.EndCount = sql.NullInt64{Int64: int64(end.Count), Valid: true}
	default:
		row.EndKind = endNever
	}
	return row
}

func fromRuleRow(row RecurringRuleRow) (core.RecurringRule, error) {
	start, err := timeutil.ParseStorageDate(row.StartDate)
	if err != nil {
		return core.RecurringRule{}, fmt.Errorf("rule %s start date: %w", row.ID, err)
	}
	last, err := parseNullDate(row.LastGeneratedDate)
	if err != nil {
		return core.RecurringRule{}, fmt.Errorf("rule %s last generated date: %w", row.ID, err)
	}
	end, err := endFromRow(row)
	if err != nil {
		return core.RecurringRule{}, fmt.Errorf("rule %s end condition: %w", row.ID, err)
	}

	rule := core.RecurringRule{
		ID:          row.ID,
		OwnerID:     row.OwnerID,
		Amount:      core.Money{Cents: row.AmountCents},
		Description: row.Description,
		CategoryID:  row.CategoryID,
		Type:        core.TransactionType(row.Type),
		Interval:    core.IntervalType(row.IntervalType),
		StartDate:   start,
		End:         end,
		State: core.RuleState{
			Active:        row.Active,
			Ended:         row.Ended,
			LastGenerated: last,
			Generated:     int(row.GeneratedCount),
		},
		Version:   row.Version,
		CreatedAt: parseTimestamp(row.CreatedAt),
		UpdatedAt: parseTimestamp(row.UpdatedAt),
	}
	if row.DayOfMonth.Valid {
		rule.DayOfMonth = mo.Some(int(row.DayOfMonth.Int64))
	}
	return rule, nil
}

func fromRuleRows(rows []RecurringRuleRow) ([]core.RecurringRule, error) {
	out := make([]core.RecurringRule, 0, len(rows))
	for _, row := range rows {
		rule, err := fromRuleRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, nil
}

func endFromRow(row RecurringRuleRow) (core.EndCondition, error) {
	switch row.EndKind {
	case endNever:
		return core.Never(), nil
	case endOnDate:
		if !row.EndDate.Valid {
			return nil, errors.New("on_date without end_date")
		}
		d, err := timeutil.ParseStorageDate(row.EndDate.String)
		if err != nil {
			return nil, err
		}
		return core.OnDate(d), nil
	case endAfterCount:
		if !row.EndCount.Valid {
			return nil, errors.New("after_count without end_count")
		}
		return core.AfterCount(int(row.EndCount.Int64)), nil
	default:
		return nil, fmt.Errorf("unknown end kind %q", row.EndKind)
	}
}

func toTransactionRow(t core.GeneratedTransaction, syncStatus string) GeneratedTransactionRow {
	return GeneratedTransactionRow{
		ID:             t.ID,
		RuleID:         t.RuleID,
		OwnerID:        t.OwnerID,
		OccurrenceDate: timeutil.FormatForStorage(t.OccurrenceDate),
		AmountCents:    t.Amount.Cents,
		Description:    t.Description,
		CategoryID:     t.CategoryID,
		Type:           string(t.Type),
		SyncStatus:     syncStatus,
		CreatedAt:      t.CreatedAt.Format(timestampLayout),
	}
}

func fromTransactionRow(row GeneratedTransactionRow) (core.GeneratedTransaction, error) {
	on, err := timeutil.ParseStorageDate(row.OccurrenceDate)
	if err != nil {
		return core.GeneratedTransaction{}, fmt.Errorf("transaction %s occurrence date: %w", row.ID, err)
	}
	return core.GeneratedTransaction{
		ID:             row.ID,
		RuleID:         row.RuleID,
		OwnerID:        row.OwnerID,
		OccurrenceDate: on,
		Amount:         core.Money{Cents: row.AmountCents},
		Description:    row.Description,
		CategoryID:     row.CategoryID,
		Type:           core.TransactionType(row.Type),
		CreatedAt:      parseTimestamp(row.CreatedAt),
	}, nil
}

func nullDate(d mo.Option[civil.Date]) sql.NullString {
	if v, ok := d.Get(); ok {
		return sql.NullString{String: timeutil.FormatForStorage(v), Valid: true}
	}
	return sql.NullString{}
}

func parseNullDate(s sql.NullString) (mo.Option[civil.Date], error) {
	if !s.Valid {
		return mo.None[civil.Date](), nil
	}
	d, err := timeutil.ParseStorageDate(s.String)
	if err != nil {
		return mo.None[civil.Date](), err
	}
	return mo.Some(d), nil
}

func parseTimestamp(s string) time.Time {
	t, err := time.Parse(timestampLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
