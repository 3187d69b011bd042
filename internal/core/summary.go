package core

// ProjectionSummary aggregates the payload of a set of upcoming occurrences.
type ProjectionSummary struct {
	Count   int
	Income  Money
	Expense Money
}

// Add folds one occurrence into the summary.
func (s *ProjectionSummary) Add(t TransactionType, amount Money) {
	s.Count++
	switch t {
	case Income:
		s.Income.Cents += amount.Cents
	case Expense:
		s.Expense.Cents += amount.Cents
	}
}

// Net is income minus expenses. It may be negative.
func (s ProjectionSummary) Net() Money {
	return Money{Cents: s.Income.Cents - s.Expense.Cents}
}
