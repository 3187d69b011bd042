package storage

import (
	"context"
	"database/sql"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...any) *sql.Row
}

// Queries holds the raw statements. Repository methods compose them, inside a
// transaction when more than one row changes.
type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

type RecurringRuleRow struct {
	ID                string
	OwnerID           string
	AmountCents       int64
	Description       string
	CategoryID        string
	Type              string
	IntervalType      string
	DayOfMonth        sql.NullInt64
	StartDate         string
	EndKind           string
	EndDate           sql.NullString
	EndCount          sql.NullInt64
	Active            bool
	Ended             bool
	LastGeneratedDate sql.NullString
	GeneratedCount    int64
	Version           int64
	CreatedAt         string
	UpdatedAt         string
}

type GeneratedTransactionRow struct {
	ID             string
	RuleID         string
	OwnerID        string
	OccurrenceDate string
	AmountCents    int64
	Description    string
	CategoryID     string
	Type           string
	SyncStatus     string
	CreatedAt      string
}

const ruleColumns = `id, owner_id, amount_cents, description, category_id, type, interval_type,
	day_of_month, start_date, end_kind, end_date, end_count, active, ended,
	last_generated_date, generated_count, version, created_at, updated_at`

const transactionColumns = `id, rule_id, owner_id, occurrence_date, amount_cents, description,
	category_id, type, sync_status, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(s rowScanner) (RecurringRuleRow, error) {
	var r RecurringRuleRow
	err := s.Scan(&r.ID, &r.OwnerID, &r.AmountCents, &r.Description, &r.CategoryID, &r.Type,
		&r.IntervalType, &r.DayOfMonth, &r.StartDate, &r.EndKind, &r.EndDate, &r.EndCount,
		&r.Active, &r.Ended, &r.LastGeneratedDate, &r.GeneratedCount, &r.Version,
		&r.CreatedAt, &r.UpdatedAt)
	return r, err
}

func scanTransaction(s rowScanner) (GeneratedTransactionRow, error) {
	var t GeneratedTransactionRow
	err := s.Scan(&t.ID, &t.RuleID, &t.OwnerID, &t.OccurrenceDate, &t.AmountCents,
		&t.Description, &t.CategoryID, &t.Type, &t.SyncStatus, &t.CreatedAt)
	return t, err
}

const createRule = `INSERT INTO recurring_rules (` + ruleColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (q *Queries) CreateRule(ctx context.Context, r RecurringRuleRow) error {
	_, err := q.db.ExecContext(ctx, createRule,
		r.ID, r.OwnerID, r.AmountCents, r.Description, r.CategoryID, r.Type, r.IntervalType,
		r.DayOfMonth, r.StartDate, r.EndKind, r.EndDate, r.EndCount, r.Active, r.Ended,
		r.LastGeneratedDate, r.GeneratedCount, r.Version, r.CreatedAt, r.UpdatedAt)
	return err
}

const getRule = `SELECT ` + ruleColumns + ` FROM recurring_rules WHERE id = ? AND owner_id = ?`

func (q *Queries) GetRule(ctx context.Context, ownerID, id string) (RecurringRuleRow, error) {
	return scanRule(q.db.QueryRowContext(ctx, getRule, id, ownerID))
}

const ruleExists = `SELECT COUNT(*) FROM recurring_rules WHERE id = ? AND owner_id = ?`

func (q *Queries) RuleExists(ctx context.Context, ownerID, id string) (bool, error) {
	var n int
	if err := q.db.QueryRowContext(ctx, ruleExists, id, ownerID).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

const listRulesByOwner = `SELECT ` + ruleColumns + ` FROM recurring_rules
WHERE owner_id = ? ORDER BY created_at, id`

func (q *Queries) ListRulesByOwner(ctx context.Context, ownerID string) ([]RecurringRuleRow, error) {
	return q.queryRules(ctx, listRulesByOwner, ownerID)
}

const listRunnableRules = `SELECT ` + ruleColumns + ` FROM recurring_rules
WHERE active = 1 AND ended = 0 ORDER BY owner_id, id`

func (q *Queries) ListRunnableRules(ctx context.Context) ([]RecurringRuleRow, error) {
	return q.queryRules(ctx, listRunnableRules)
}

func (q *Queries) queryRules(ctx context.Context, query string, args ...any) ([]RecurringRuleRow, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RecurringRuleRow
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

const updateRuleDefinition = `UPDATE recurring_rules SET
	amount_cents = ?, description = ?, category_id = ?, type = ?, interval_type = ?,
	day_of_month = ?, start_date = ?, end_kind = ?, end_date = ?, end_count = ?,
	version = version + 1, updated_at = ?
WHERE id = ? AND owner_id = ? AND version = ?`

func (q *Queries) UpdateRuleDefinition(ctx context.Context, r RecurringRuleRow) (int64, error) {
	res, err := q.db.ExecContext(ctx, updateRuleDefinition,
		r.AmountCents, r.Description, r.CategoryID, r.Type, r.IntervalType,
		r.DayOfMonth, r.StartDate, r.EndKind, r.EndDate, r.EndCount,
		r.UpdatedAt, r.ID, r.OwnerID, r.Version)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const updateRuleState = `UPDATE recurring_rules SET
	active = ?, ended = ?, last_generated_date = ?, generated_count = ?,
	version = version + 1, updated_at = ?
WHERE id = ? AND owner_id = ? AND version = ?`

type UpdateRuleStateParams struct {
	ID                string
	OwnerID           string
	Version           int64
	Active            bool
	Ended             bool
	LastGeneratedDate sql.NullString
	GeneratedCount    int64
	UpdatedAt         string
}

func (q *Queries) UpdateRuleState(ctx context.Context, p UpdateRuleStateParams) (int64, error) {
	res, err := q.db.ExecContext(ctx, updateRuleState,
		p.Active, p.Ended, p.LastGeneratedDate, p.GeneratedCount, p.UpdatedAt,
		p.ID, p.OwnerID, p.Version)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const deleteRule = `DELETE FROM recurring_rules WHERE id = ? AND owner_id = ?`

func (q *Queries) DeleteRule(ctx context.Context, ownerID, id string) (int64, error) {
	res, err := q.db.ExecContext(ctx, deleteRule, id, ownerID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const createTransaction = `INSERT INTO generated_transactions (` + transactionColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (q *Queries) CreateTransaction(ctx context.Context, t GeneratedTransactionRow) error {
	_, err := q.db.ExecContext(ctx, createTransaction,
		t.ID, t.RuleID, t.OwnerID, t.OccurrenceDate, t.AmountCents, t.Description,
		t.CategoryID, t.Type, t.SyncStatus, t.CreatedAt)
	return err
}

const getTransaction = `SELECT ` + transactionColumns + ` FROM generated_transactions WHERE id = ?`

func (q *Queries) GetTransaction(ctx context.Context, id string) (GeneratedTransactionRow, error) {
	return scanTransaction(q.db.QueryRowContext(ctx, getTransaction, id))
}

const listTransactionsByOwner = `SELECT ` + transactionColumns + ` FROM generated_transactions
WHERE owner_id = ? ORDER BY occurrence_date, rule_id`

func (q *Queries) ListTransactionsByOwner(ctx context.Context, ownerID string) ([]GeneratedTransactionRow, error) {
	return q.queryTransactions(ctx, listTransactionsByOwner, ownerID)
}

const listTransactionsByRule = `SELECT ` + transactionColumns + ` FROM generated_transactions
WHERE owner_id = ? AND rule_id = ? ORDER BY occurrence_date`

func (q *Queries) ListTransactionsByRule(ctx context.Context, ownerID, ruleID string) ([]GeneratedTransactionRow, error) {
	return q.queryTransactions(ctx, listTransactionsByRule, ownerID, ruleID)
}

const listPendingSync = `SELECT ` + transactionColumns + ` FROM generated_transactions
WHERE sync_status IN ('pending', 'error') ORDER BY created_at, id LIMIT ?`

func (q *Queries) ListPendingSync(ctx context.Context, limit int64) ([]GeneratedTransactionRow, error) {
	return q.queryTransactions(ctx, listPendingSync, limit)
}

func (q *Queries) queryTransactions(ctx context.Context, query string, args ...any) ([]GeneratedTransactionRow, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []GeneratedTransactionRow
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

const deleteTransaction = `DELETE FROM generated_transactions WHERE id = ? AND owner_id = ?`

func (q *Queries) DeleteTransaction(ctx context.Context, ownerID, id string) (int64, error) {
	res, err := q.db.ExecContext(ctx, deleteTransaction, id, ownerID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const deleteTransactionsByRule = `DELETE FROM generated_transactions WHERE rule_id = ? AND owner_id = ?`

func (q *Queries) DeleteTransactionsByRule(ctx context.Context, ownerID, ruleID string) (int64, error) {
	res, err := q.db.ExecContext(ctx, deleteTransactionsByRule, ruleID, ownerID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const setSyncStatus = `UPDATE generated_transactions SET sync_status = ? WHERE id = ?`

func (q *Queries) SetSyncStatus(ctx context.Context, id, status string) (int64, error) {
	res, err := q.db.ExecContext(ctx, setSyncStatus, status, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
