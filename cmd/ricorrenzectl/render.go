package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/charmbracelet/lipgloss"

	"ricorrenze/internal/core"
	"ricorrenze/internal/recurrence"
	"ricorrenze/internal/services"
	"ricorrenze/internal/storage"
)

var (
	colorSubtle  = lipgloss.AdaptiveColor{Light: "#6c6f85", Dark: "#a6adc8"}
	colorIncome  = lipgloss.AdaptiveColor{Light: "#40a02b", Dark: "#a6e3a1"}
	colorExpense = lipgloss.AdaptiveColor{Light: "#d20f39", Dark: "#f38ba8"}
	colorPaused  = lipgloss.AdaptiveColor{Light: "#df8e1d", Dark: "#f9e2af"}

	headerStyle = lipgloss.NewStyle().Bold(true)
	subtleStyle = lipgloss.NewStyle().Foreground(colorSubtle)
	cellStyle   = lipgloss.NewStyle().PaddingRight(2)
)

func isRejection(err error) bool {
	var skipErr *recurrence.CannotSkipInactiveRuleError
	var horizonErr *recurrence.HorizonTooLongError
	var scopeErr *services.InvalidScopeError
	return core.IsValidation(err) ||
		errors.As(err, &skipErr) ||
		errors.As(err, &horizonErr) ||
		errors.As(err, &scopeErr) ||
		errors.Is(err, recurrence.ErrRuleEnded) ||
		errors.Is(err, services.ErrStartDateLocked) ||
		errors.Is(err, storage.ErrStaleRule) ||
		errors.Is(err, storage.ErrDuplicateOccurrence)
}

type ruleView struct {
	ID             string `json:"id"`
	Description    string `json:"description"`
	Amount         string `json:"amount"`
	Type           string `json:"type"`
	Interval       string `json:"interval"`
	Status         string `json:"status"`
	Generated      int    `json:"generated"`
	LastGenerated  string `json:"last_generated,omitempty"`
	NextOccurrence string `json:"next_occurrence,omitempty"`
	Version        int64  `json:"version"`
}

func newRuleView(rule core.RecurringRule, next civil.Date, hasNext bool) ruleView {
	v := ruleView{
		ID:          rule.ID,
		Description: rule.Description,
		Amount:      rule.Amount.String(),
		Type:        string(rule.Type),
		Interval:    string(rule.Interval),
		Status:      string(rule.Status()),
		Generated:   rule.State.Generated,
		Version:     rule.Version,
	}
	if last, ok := rule.State.LastGenerated.Get(); ok {
		v.LastGenerated = last.String()
	}
	if hasNext {
		v.NextOccurrence = next.String()
	}
	return v
}

// nextOf renders rule with its pending occurrence; projection errors leave
// the next date blank.
func (a *app) nextOf(rule core.RecurringRule) ruleView {
	next, ok, err := a.engine.Rules.NextOccurrence(rule)
	return newRuleView(rule, next, ok && err == nil)
}

type occurrenceView struct {
	RuleID      string `json:"rule_id"`
	Date        string `json:"date"`
	Amount      string `json:"amount"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

type periodView struct {
	Start   string `json:"start"`
	End     string `json:"end"`
	Count   int    `json:"count"`
	Income  string `json:"income"`
	Expense string `json:"expense"`
	Net     string `json:"net"`
}

type upcomingView struct {
	HorizonEnd  string           `json:"horizon_end"`
	Occurrences []occurrenceView `json:"occurrences"`
	Count       int              `json:"count"`
	Income      string           `json:"income"`
	Expense     string           `json:"expense"`
	Net         string           `json:"net"`
	Periods     []periodView     `json:"periods,omitempty"`
}

func newPeriodViews(periods []services.PeriodSummary) []periodView {
	out := make([]periodView, 0, len(periods))
	for _, p := range periods {
		out = append(out, periodView{
			Start:   p.Period.Start.String(),
			End:     p.Period.End.String(),
			Count:   p.Summary.Count,
			Income:  p.Summary.Income.String(),
			Expense: p.Summary.Expense.String(),
			Net:     p.Summary.Net().String(),
		})
	}
	return out
}

func newUpcomingView(horizon civil.Date, occs []recurrence.Occurrence) upcomingView {
	v := upcomingView{
		HorizonEnd:  horizon.String(),
		Occurrences: make([]occurrenceView, 0, len(occs)),
	}
	for _, o := range occs {
		v.Occurrences = append(v.Occurrences, occurrenceView{
			RuleID:      o.RuleID,
			Date:        o.Date.String(),
			Amount:      o.Amount.String(),
			Type:        string(o.Type),
			Description: o.Description,
		})
	}
	sum := recurrence.Summarize(occs)
	v.Count = sum.Count
	v.Income = sum.Income.String()
	v.Expense = sum.Expense.String()
	v.Net = sum.Net().String()
	return v
}

type materializeView struct {
	Outcome       string   `json:"outcome"`
	TransactionID string   `json:"transaction_id,omitempty"`
	Date          string   `json:"date,omitempty"`
	Rule          ruleView `json:"rule"`
}

func newMaterializeView(res services.MaterializeResult, rule ruleView) materializeView {
	v := materializeView{Outcome: res.Outcome.String(), Rule: rule}
	if tx, ok := res.Transaction.Get(); ok {
		v.TransactionID = tx.ID
		v.Date = tx.OccurrenceDate.String()
	}
	return v
}

type skipView struct {
	Skipped string   `json:"skipped"`
	Ended   bool     `json:"ended"`
	Rule    ruleView `json:"rule"`
}

type deleteView struct {
	Scope   string    `json:"scope"`
	Removed int64     `json:"removed"`
	Rule    *ruleView `json:"rule,omitempty"`
}

type processView struct {
	Checked      int `json:"checked"`
	Materialized int `json:"materialized"`
	Failed       int `json:"failed"`
}

// render prints v as indented JSON with --json, otherwise through text.
func (a *app) render(v any, text func(io.Writer)) error {
	if a.asJSON {
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(a.out)
	return nil
}

func statusStyle(status string) lipgloss.Style {
	switch core.Status(status) {
	case core.StatusPaused:
		return lipgloss.NewStyle().Foreground(colorPaused)
	case core.StatusEnded:
		return subtleStyle
	default:
		return lipgloss.NewStyle()
	}
}

func amountStyle(typ string) lipgloss.Style {
	if core.TransactionType(typ) == core.Income {
		return lipgloss.NewStyle().Foreground(colorIncome)
	}
	return lipgloss.NewStyle().Foreground(colorExpense)
}

// table lays rows out in left-aligned columns sized by display width.
func table(w io.Writer, header []string, rows [][]string, styles func(row, col int) lipgloss.Style) {
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], lipgloss.Width(cell))
		}
	}

	line := func(cells []string, style func(col int) lipgloss.Style) {
		parts := make([]string, len(cells))
		for i, cell := range cells {
			parts[i] = cellStyle.Width(widths[i] + 2).Render(style(i).Render(cell))
		}
		fmt.Fprintln(w, strings.TrimRight(lipgloss.JoinHorizontal(lipgloss.Top, parts...), " "))
	}

	line(header, func(int) lipgloss.Style { return headerStyle })
	for r, row := range rows {
		line(row, func(c int) lipgloss.Style { return styles(r, c) })
	}
}

func renderRules(w io.Writer, rules []ruleView) {
	if len(rules) == 0 {
		fmt.Fprintln(w, subtleStyle.Render("no rules"))
		return
	}
	rows := make([][]string, len(rules))
	for i, r := range rules {
		next := r.NextOccurrence
		if next == "" {
			next = "-"
		}
		rows[i] = []string{r.ID, r.Description, r.Amount, r.Interval, r.Status, next}
	}
	table(w, []string{"ID", "DESCRIPTION", "AMOUNT", "INTERVAL", "STATUS", "NEXT"}, rows, func(row, col int) lipgloss.Style {
		switch col {
		case 2:
			return amountStyle(rules[row].Type)
		case 4:
			return statusStyle(rules[row].Status)
		default:
			return lipgloss.NewStyle()
		}
	})
}

func renderNext(w io.Writer, r ruleView) {
	fmt.Fprintf(w, "%s %s\n", headerStyle.Render(r.Description), subtleStyle.Render("("+r.ID+")"))
	fmt.Fprintf(w, "  status     %s\n", statusStyle(r.Status).Render(r.Status))
	fmt.Fprintf(w, "  amount     %s\n", amountStyle(r.Type).Render(r.Amount))
	fmt.Fprintf(w, "  generated  %d\n", r.Generated)
	if r.NextOccurrence != "" {
		fmt.Fprintf(w, "  next       %s\n", r.NextOccurrence)
	} else {
		fmt.Fprintf(w, "  next       %s\n", subtleStyle.Render("none"))
	}
}

func renderUpcoming(w io.Writer, v upcomingView) {
	fmt.Fprintln(w, subtleStyle.Render("until "+v.HorizonEnd))
	if len(v.Occurrences) == 0 {
		fmt.Fprintln(w, subtleStyle.Render("nothing scheduled"))
		return
	}
	rows := make([][]string, len(v.Occurrences))
	for i, o := range v.Occurrences {
		rows[i] = []string{o.Date, o.Description, o.Amount, o.RuleID}
	}
	table(w, []string{"DATE", "DESCRIPTION", "AMOUNT", "RULE"}, rows, func(row, col int) lipgloss.Style {
		if col == 2 {
			return amountStyle(v.Occurrences[row].Type)
		}
		return lipgloss.NewStyle()
	})
	fmt.Fprintf(w, "\n%d occurrences  income %s  expense %s  net %s\n",
		v.Count,
		lipgloss.NewStyle().Foreground(colorIncome).Render(v.Income),
		lipgloss.NewStyle().Foreground(colorExpense).Render(v.Expense),
		headerStyle.Render(v.Net))

	if len(v.Periods) == 0 {
		return
	}
	fmt.Fprintln(w)
	rows = make([][]string, len(v.Periods))
	for i, p := range v.Periods {
		rows[i] = []string{p.Start, p.End, fmt.Sprint(p.Count), p.Income, p.Expense, p.Net}
	}
	table(w, []string{"FROM", "TO", "COUNT", "INCOME", "EXPENSE", "NET"}, rows, func(_, col int) lipgloss.Style {
		switch col {
		case 3:
			return lipgloss.NewStyle().Foreground(colorIncome)
		case 4:
			return lipgloss.NewStyle().Foreground(colorExpense)
		default:
			return lipgloss.NewStyle()
		}
	})
}

func renderMaterialize(w io.Writer, v materializeView) {
	if v.TransactionID != "" {
		fmt.Fprintf(w, "materialized %s on %s\n", v.TransactionID, v.Date)
	} else {
		fmt.Fprintf(w, "nothing materialized: rule is %s\n", statusStyle(v.Outcome).Render(v.Outcome))
	}
	renderNext(w, v.Rule)
}

func renderSkip(w io.Writer, v skipView) {
	if v.Ended {
		fmt.Fprintf(w, "%s is past the end of the rule; rule ended\n", v.Skipped)
	} else {
		fmt.Fprintf(w, "skipped %s\n", v.Skipped)
	}
	renderNext(w, v.Rule)
}

func renderDelete(w io.Writer, v deleteView) {
	switch services.Scope(v.Scope) {
	case services.ScopeFuture:
		fmt.Fprintln(w, "future occurrences removed; history kept")
	default:
		fmt.Fprintf(w, "removed %d transaction(s)\n", v.Removed)
	}
	if v.Rule != nil {
		renderNext(w, *v.Rule)
	}
}

func renderProcess(w io.Writer, v processView) {
	fmt.Fprintf(w, "checked %d  materialized %d  failed %d\n", v.Checked, v.Materialized, v.Failed)
}
