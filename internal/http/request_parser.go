package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/samber/mo"

	"ricorrenze/internal/core"
	"ricorrenze/internal/services"
	"ricorrenze/internal/timeutil"
)

const maxBodyBytes = 64 << 10

// maxHorizonDays bounds the until and days query parameters.
const maxHorizonDays = 3660

// RequestError is a malformed request. It maps to 400.
type RequestError struct {
	Field   string
	Message string
}

func (e *RequestError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func badRequest(field, format string, args ...any) *RequestError {
	return &RequestError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// EndRequest is the wire form of an end condition.
type EndRequest struct {
	Kind  string `json:"kind"`
	Date  string `json:"date,omitempty"`
	Count int    `json:"count,omitempty"`
}

// RuleRequest is the body of create and update calls. Amount is a decimal
// string in currency units.
type RuleRequest struct {
	Amount      string     `json:"amount"`
	Description string     `json:"description"`
	CategoryID  string     `json:"category_id"`
	Type        string     `json:"type"`
	Interval    string     `json:"interval"`
	DayOfMonth  *int       `json:"day_of_month,omitempty"`
	StartDate   string     `json:"start_date"`
	End         EndRequest `json:"end"`
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return badRequest("", "request body is empty")
		}
		return badRequest("", "invalid JSON body: %v", err)
	}
	if dec.More() {
		return badRequest("", "request body must hold a single JSON object")
	}
	return nil
}

// Input converts the request into service input. Amount and date syntax
// errors come back as core validation errors; everything else about the
// rule is validated by the service.
func (req RuleRequest) Input(ownerID string) (services.RuleInput, error) {
	cents, err := core.ParseDecimalToCents(req.Amount)
	if err != nil {
		return services.RuleInput{}, fmt.Errorf("amount %q: %w", req.Amount, err)
	}
	start, err := parseDate("start_date", req.StartDate)
	if err != nil {
		return services.RuleInput{}, fmt.Errorf("%w: %v", core.ErrInvalidStartDate, err)
	}
	end, err := req.End.condition()
	if err != nil {
		return services.RuleInput{}, err
	}

	dayOfMonth := mo.None[int]()
	if req.DayOfMonth != nil {
		dayOfMonth = mo.Some(*req.DayOfMonth)
	}

	return services.RuleInput{
		OwnerID:     ownerID,
		Amount:      core.Money{Cents: cents},
		Description: strings.TrimSpace(sanitizeInput(req.Description)),
		CategoryID:  strings.TrimSpace(sanitizeInput(req.CategoryID)),
		Type:        core.TransactionType(strings.ToLower(strings.TrimSpace(req.Type))),
		Interval:    core.IntervalType(strings.ToLower(strings.TrimSpace(req.Interval))),
		DayOfMonth:  dayOfMonth,
		StartDate:   start,
		End:         end,
	}, nil
}

func (e EndRequest) condition() (core.EndCondition, error) {
	switch strings.ToLower(strings.TrimSpace(e.Kind)) {
	case "", "never":
		return core.Never(), nil
	case "on_date":
		d, err := parseDate("end.date", e.Date)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrInvalidEndDate, err)
		}
		return core.OnDate(d), nil
	case "after_count":
		if e.Count <= 0 {
			return nil, core.ErrInvalidEndCount
		}
		return core.AfterCount(e.Count), nil
	default:
		return nil, badRequest("end.kind", "must be one of never, on_date, after_count")
	}
}

func parseDate(field, s string) (civil.Date, error) {
	d, err := civil.ParseDate(strings.TrimSpace(s))
	if err != nil || !d.IsValid() {
		return civil.Date{}, badRequest(field, "expected a YYYY-MM-DD date, got %q", s)
	}
	return d, nil
}

// parseHorizon reads the projection end from ?until=YYYY-MM-DD or
// ?days=N, relative to today. Neither means def.
func parseHorizon(r *http.Request, today, def civil.Date) (civil.Date, error) {
	q := r.URL.Query()
	var horizon civil.Date
	switch {
	case q.Get("until") != "":
		d, err := parseDate("until", q.Get("until"))
		if err != nil {
			return civil.Date{}, err
		}
		horizon = d
	case q.Get("days") != "":
		n, err := strconv.Atoi(q.Get("days"))
		if err != nil || n < 0 {
			return civil.Date{}, badRequest("days", "must be a non-negative integer")
		}
		horizon = today.AddDays(min(n, maxHorizonDays))
	default:
		return def, nil
	}
	if horizon.DaysSince(today) > maxHorizonDays {
		return civil.Date{}, badRequest("until", "must be within %d days from today", maxHorizonDays)
	}
	return horizon, nil
}

// parseGroup reads ?group=week|month|year. It reports false when the
// parameter is absent.
func parseGroup(r *http.Request) (timeutil.RangeKind, bool, error) {
	v := r.URL.Query().Get("group")
	if v == "" {
		return 0, false, nil
	}
	kind, err := timeutil.ParseRangeKind(v)
	if err != nil {
		return 0, false, badRequest("group", "must be week, month or year")
	}
	return kind, true, nil
}

// sanitizeInput drops control characters other than tab and newlines.
func sanitizeInput(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 32 && r != '\t' && r != '\n' && r != '\r' {
			return -1
		}
		return r
	}, s)
}
