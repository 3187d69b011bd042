package sheets

import (
	"context"

	"ricorrenze/internal/core"
)

// Ports for outbound adapters.
type (
	// TransactionWriter exports a materialized occurrence as one spreadsheet
	// row and returns a reference to it.
	TransactionWriter interface {
		Append(ctx context.Context, t core.GeneratedTransaction) (rowRef string, err error)
	}
)

// Row renders a transaction as spreadsheet cells: date, description,
// signed amount, category, type, rule ID and transaction ID.
func Row(t core.GeneratedTransaction) []any {
	amount := t.Amount.Decimal()
	if t.Type == core.Expense {
		amount = amount.Neg()
	}
	return []any{
		t.OccurrenceDate.String(),
		t.Description,
		amount.StringFixed(2),
		t.CategoryID,
		string(t.Type),
		t.RuleID,
		t.ID,
	}
}
