package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"cloud.google.com/go/civil"

	"ricorrenze/internal/core"
	applog "ricorrenze/internal/log"
	"ricorrenze/internal/recurrence"
	"ricorrenze/internal/services"
	"ricorrenze/internal/storage"
)

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type EndResponse struct {
	Kind  string `json:"kind"`
	Date  string `json:"date,omitempty"`
	Count int    `json:"count,omitempty"`
}

type RuleResponse struct {
	ID             string      `json:"id"`
	OwnerID        string      `json:"owner_id"`
	Amount         string      `json:"amount"`
	AmountCents    int64       `json:"amount_cents"`
	Description    string      `json:"description"`
	CategoryID     string      `json:"category_id"`
	Type           string      `json:"type"`
	Interval       string      `json:"interval"`
	DayOfMonth     *int        `json:"day_of_month,omitempty"`
	StartDate      string      `json:"start_date"`
	End            EndResponse `json:"end"`
	Status         string      `json:"status"`
	LastGenerated  string      `json:"last_generated,omitempty"`
	Generated      int         `json:"generated"`
	NextOccurrence string      `json:"next_occurrence,omitempty"`
	Version        int64       `json:"version"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

type TransactionResponse struct {
	ID             string    `json:"id"`
	RuleID         string    `json:"rule_id"`
	OccurrenceDate string    `json:"occurrence_date"`
	Amount         string    `json:"amount"`
	AmountCents    int64     `json:"amount_cents"`
	Description    string    `json:"description"`
	CategoryID     string    `json:"category_id"`
	Type           string    `json:"type"`
	CreatedAt      time.Time `json:"created_at"`
}

type OccurrenceResponse struct {
	RuleID      string `json:"rule_id"`
	Date        string `json:"date"`
	Amount      string `json:"amount"`
	AmountCents int64  `json:"amount_cents"`
	Description string `json:"description"`
	CategoryID  string `json:"category_id"`
	Type        string `json:"type"`
}

type SummaryResponse struct {
	Count   int    `json:"count"`
	Income  string `json:"income"`
	Expense string `json:"expense"`
	Net     string `json:"net"`
}

type PeriodResponse struct {
	Start   string          `json:"start"`
	End     string          `json:"end"`
	Summary SummaryResponse `json:"summary"`
}

type UpcomingResponse struct {
	HorizonEnd  string               `json:"horizon_end"`
	Occurrences []OccurrenceResponse `json:"occurrences"`
	Summary     SummaryResponse      `json:"summary"`
	Periods     []PeriodResponse     `json:"periods,omitempty"`
}

type MaterializeResponse struct {
	Outcome     string               `json:"outcome"`
	Transaction *TransactionResponse `json:"transaction,omitempty"`
	Rule        RuleResponse         `json:"rule"`
}

type SkipResponse struct {
	Skipped string       `json:"skipped"`
	Ended   bool         `json:"ended"`
	Rule    RuleResponse `json:"rule"`
}

type DeleteResponse struct {
	Scope   string        `json:"scope"`
	Removed int64         `json:"removed"`
	Rule    *RuleResponse `json:"rule,omitempty"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		applog.FromContext(r.Context()).ErrorContext(r.Context(), "Failed to encode response", applog.FieldError, err)
	}
}

// statusFor maps domain and storage errors to an HTTP status and a stable
// machine readable code.
func statusFor(err error) (int, string) {
	var (
		reqErr     *RequestError
		horizonErr *recurrence.HorizonTooLongError
		skipErr    *recurrence.CannotSkipInactiveRuleError
		scopeErr   *services.InvalidScopeError
	)
	switch {
	case errors.As(err, &reqErr):
		return http.StatusBadRequest, "bad_request"
	case core.IsValidation(err), errors.As(err, &scopeErr):
		return http.StatusUnprocessableEntity, "invalid_rule"
	case errors.As(err, &horizonErr):
		return http.StatusUnprocessableEntity, "horizon_too_long"
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.As(err, &skipErr), errors.Is(err, recurrence.ErrRuleEnded):
		return http.StatusConflict, "invalid_state"
	case errors.Is(err, storage.ErrStaleRule), errors.Is(err, storage.ErrDuplicateOccurrence):
		return http.StatusConflict, "conflict"
	case errors.Is(err, services.ErrStartDateLocked):
		return http.StatusConflict, "start_date_locked"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	logger := applog.FromContext(r.Context())

	msg := err.Error()
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "Request failed", applog.FieldError, err)
		msg = "internal server error"
	} else {
		logger.DebugContext(r.Context(), "Request rejected", applog.FieldError, err, applog.FieldStatusCode, status)
	}
	writeJSON(w, r, status, ErrorResponse{Error: msg, Code: code})
}

func endResponse(end core.EndCondition) EndResponse {
	switch e := end.(type) {
	case core.EndOnDate:
		return EndResponse{Kind: "on_date", Date: e.Date.String()}
	case core.EndAfterCount:
		return EndResponse{Kind: "after_count", Count: e.Count}
	default:
		return EndResponse{Kind: "never"}
	}
}

// ruleResponse renders rule; next is the pending occurrence, if any.
func ruleResponse(rule core.RecurringRule, next civil.Date, hasNext bool) RuleResponse {
	resp := RuleResponse{
		ID:          rule.ID,
		OwnerID:     rule.OwnerID,
		Amount:      rule.Amount.String(),
		AmountCents: rule.Amount.Cents,
		Description: rule.Description,
		CategoryID:  rule.CategoryID,
		Type:        string(rule.Type),
		Interval:    string(rule.Interval),
		StartDate:   rule.StartDate.String(),
		End:         endResponse(rule.End),
		Status:      string(rule.Status()),
		Generated:   rule.State.Generated,
		Version:     rule.Version,
		CreatedAt:   rule.CreatedAt,
		UpdatedAt:   rule.UpdatedAt,
	}
	if day, ok := rule.DayOfMonth.Get(); ok {
		resp.DayOfMonth = &day
	}
	if last, ok := rule.State.LastGenerated.Get(); ok {
		resp.LastGenerated = last.String()
	}
	if hasNext {
		resp.NextOccurrence = next.String()
	}
	return resp
}

func transactionResponse(t core.GeneratedTransaction) TransactionResponse {
	return TransactionResponse{
		ID:             t.ID,
		RuleID:         t.RuleID,
		OccurrenceDate: t.OccurrenceDate.String(),
		Amount:         t.Amount.String(),
		AmountCents:    t.Amount.Cents,
		Description:    t.Description,
		CategoryID:     t.CategoryID,
		Type:           string(t.Type),
		CreatedAt:      t.CreatedAt,
	}
}

func upcomingResponse(horizon civil.Date, occs []recurrence.Occurrence) UpcomingResponse {
	resp := UpcomingResponse{
		HorizonEnd:  horizon.String(),
		Occurrences: make([]OccurrenceResponse, 0, len(occs)),
	}
	for _, o := range occs {
		resp.Occurrences = append(resp.Occurrences, OccurrenceResponse{
			RuleID:      o.RuleID,
			Date:        o.Date.String(),
			Amount:      o.Amount.String(),
			AmountCents: o.Amount.Cents,
			Description: o.Description,
			CategoryID:  o.CategoryID,
			Type:        string(o.Type),
		})
	}
	resp.Summary = summaryResponse(recurrence.Summarize(occs))
	return resp
}

func summaryResponse(sum core.ProjectionSummary) SummaryResponse {
	return SummaryResponse{
		Count:   sum.Count,
		Income:  sum.Income.String(),
		Expense: sum.Expense.String(),
		Net:     sum.Net().String(),
	}
}

func periodResponses(periods []services.PeriodSummary) []PeriodResponse {
	out := make([]PeriodResponse, 0, len(periods))
	for _, p := range periods {
		out = append(out, PeriodResponse{
			Start:   p.Period.Start.String(),
			End:     p.Period.End.String(),
			Summary: summaryResponse(p.Summary),
		})
	}
	return out
}
