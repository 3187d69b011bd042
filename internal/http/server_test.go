package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"cloud.google.com/go/civil"

	"ricorrenze/internal/middleware/ratelimit"
	"ricorrenze/internal/recurrence"
	"ricorrenze/internal/services"
	"ricorrenze/internal/storage"
	"ricorrenze/internal/timeutil"
)

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

var testToday = civil.Date{Year: 2024, Month: time.March, Day: 1}

func newTestServer(t *testing.T, deps Deps) *Server {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	clock := timeutil.New(
		timeutil.WithLocation(time.UTC),
		timeutil.WithClock(func() time.Time { return testToday.In(time.UTC).Add(8 * time.Hour) }),
	)
	var seq atomic.Int64
	deps.Rules = services.NewRuleService(repo, recurrence.New(clock, recurrence.Options{}), clock, nil, services.RuleServiceConfig{
		HorizonDays: 60,
		NewID:       func() string { return fmt.Sprintf("id-%03d", seq.Add(1)) },
	})
	if deps.DB == nil {
		deps.DB = repo
	}

	srv := NewServer(":0", deps)
	t.Cleanup(func() { srv.Shutdown(context.Background()) })
	return srv
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rr.Body).Decode(&v); err != nil {
		t.Fatalf("decode %T: %v (body %q)", v, err, rr.Body.String())
	}
	return v
}

const rentBody = `{
	"amount": "950.00",
	"description": "Affitto",
	"category_id": "casa",
	"type": "expense",
	"interval": "monthly",
	"day_of_month": 1,
	"start_date": "2024-03-01",
	"end": {"kind": "never"}
}`

func createRule(t *testing.T, srv *Server, owner, body string) RuleResponse {
	t.Helper()
	rr := do(t, srv, http.MethodPost, "/api/owners/"+owner+"/rules", body)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status=%d body=%s", rr.Code, rr.Body.String())
	}
	return decode[RuleResponse](t, rr)
}

func TestHealthAndReady(t *testing.T) {
	srv := newTestServer(t, Deps{})
	for _, path := range []string{"/healthz", "/readyz"} {
		if rr := do(t, srv, http.MethodGet, path, ""); rr.Code != http.StatusOK {
			t.Fatalf("%s status=%d", path, rr.Code)
		}
	}

	down := newTestServer(t, Deps{DB: fakePinger{err: errors.New("database is locked")}})
	if rr := do(t, down, http.MethodGet, "/readyz", ""); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz with failing db status=%d", rr.Code)
	}
}

func TestMiddlewareHeaders(t *testing.T) {
	srv := newTestServer(t, Deps{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "client-abc")
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)

	if got := rr.Header().Get("X-Request-ID"); got != "client-abc" {
		t.Errorf("X-Request-ID = %q, want the incoming one", got)
	}
	if rr.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers not applied")
	}
	if srv.Metrics().TotalRequests != 1 {
		t.Errorf("TotalRequests = %d", srv.Metrics().TotalRequests)
	}

	if rr := do(t, srv, http.MethodGet, "/api/owners/o1/.env", ""); rr.Code != http.StatusBadRequest {
		t.Errorf("probe status=%d, want 400", rr.Code)
	}
}

func TestRuleCRUD(t *testing.T) {
	srv := newTestServer(t, Deps{})

	rule := createRule(t, srv, "o1", rentBody)
	if rule.ID != "id-001" || rule.Status != "active" || rule.NextOccurrence != "2024-03-01" {
		t.Fatalf("created rule = %+v", rule)
	}

	rr := do(t, srv, http.MethodGet, "/api/owners/o1/rules/"+rule.ID, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("get status=%d", rr.Code)
	}

	// Rules are scoped by owner.
	if rr := do(t, srv, http.MethodGet, "/api/owners/o2/rules/"+rule.ID, ""); rr.Code != http.StatusNotFound {
		t.Errorf("foreign owner status=%d, want 404", rr.Code)
	}

	rr = do(t, srv, http.MethodGet, "/api/owners/o1/rules", "")
	if list := decode[[]RuleResponse](t, rr); len(list) != 1 {
		t.Errorf("list len=%d", len(list))
	}

	updated := strings.Replace(rentBody, `"950.00"`, `"1000"`, 1)
	rr = do(t, srv, http.MethodPut, "/api/owners/o1/rules/"+rule.ID, updated)
	if rr.Code != http.StatusOK {
		t.Fatalf("update status=%d body=%s", rr.Code, rr.Body.String())
	}
	if got := decode[RuleResponse](t, rr); got.Amount != "1000.00" || got.Version <= rule.Version {
		t.Errorf("updated rule = %+v", got)
	}
}

func TestCreateRule_Errors(t *testing.T) {
	srv := newTestServer(t, Deps{})

	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed", `{"amount":`, http.StatusBadRequest},
		{"unknown field", `{"amount":"1","bogus":true}`, http.StatusBadRequest},
		{"bad end kind", strings.Replace(rentBody, `"never"`, `"sometimes"`, 1), http.StatusBadRequest},
		{"empty description", strings.Replace(rentBody, `"Affitto"`, `" "`, 1), http.StatusUnprocessableEntity},
		{"unknown interval", strings.Replace(rentBody, `"monthly"`, `"hourly"`, 1), http.StatusUnprocessableEntity},
		{"day on weekly", strings.Replace(rentBody, `"monthly"`, `"weekly"`, 1), http.StatusUnprocessableEntity},
		{"bad amount", strings.Replace(rentBody, `"950.00"`, `"0"`, 1), http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, srv, http.MethodPost, "/api/owners/o1/rules", tt.body)
			if rr.Code != tt.want {
				t.Fatalf("status=%d want %d body=%s", rr.Code, tt.want, rr.Body.String())
			}
			if body := decode[ErrorResponse](t, rr); body.Error == "" || body.Code == "" {
				t.Errorf("error body = %+v", body)
			}
		})
	}
}

func TestLifecycle(t *testing.T) {
	srv := newTestServer(t, Deps{})
	rule := createRule(t, srv, "o1", rentBody)
	base := "/api/owners/o1/rules/" + rule.ID

	rr := do(t, srv, http.MethodPost, base+"/materialize", "")
	if rr.Code != http.StatusCreated {
		t.Fatalf("materialize status=%d body=%s", rr.Code, rr.Body.String())
	}
	mat := decode[MaterializeResponse](t, rr)
	if mat.Outcome != "materialized" || mat.Transaction == nil || mat.Transaction.OccurrenceDate != "2024-03-01" {
		t.Fatalf("materialize = %+v", mat)
	}
	if mat.Rule.NextOccurrence != "2024-04-01" || mat.Rule.Generated != 1 {
		t.Errorf("rule after materialize = %+v", mat.Rule)
	}

	rr = do(t, srv, http.MethodPost, base+"/pause", "")
	if got := decode[RuleResponse](t, rr); got.Status != "paused" {
		t.Fatalf("pause = %+v", got)
	}

	rr = do(t, srv, http.MethodPost, base+"/materialize", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("materialize paused status=%d", rr.Code)
	}
	if got := decode[MaterializeResponse](t, rr); got.Outcome != "paused" || got.Transaction != nil {
		t.Errorf("materialize paused = %+v", got)
	}

	if rr := do(t, srv, http.MethodPost, base+"/skip", ""); rr.Code != http.StatusConflict {
		t.Errorf("skip paused status=%d, want 409", rr.Code)
	}

	do(t, srv, http.MethodPost, base+"/resume", "")
	rr = do(t, srv, http.MethodPost, base+"/skip", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("skip status=%d body=%s", rr.Code, rr.Body.String())
	}
	skip := decode[SkipResponse](t, rr)
	if skip.Skipped != "2024-04-01" || skip.Rule.NextOccurrence != "2024-05-01" {
		t.Errorf("skip = %+v", skip)
	}

	rr = do(t, srv, http.MethodGet, base+"/transactions", "")
	if txs := decode[[]TransactionResponse](t, rr); len(txs) != 1 {
		t.Errorf("transactions len=%d", len(txs))
	}
	if rr := do(t, srv, http.MethodGet, "/api/owners/o1/rules/missing/transactions", ""); rr.Code != http.StatusNotFound {
		t.Errorf("transactions of unknown rule status=%d", rr.Code)
	}
}

func TestUpcomingAndCalendar(t *testing.T) {
	srv := newTestServer(t, Deps{})
	rent := createRule(t, srv, "o1", rentBody)
	createRule(t, srv, "o1", `{
		"amount": "2000",
		"description": "Stipendio",
		"type": "income",
		"interval": "monthly",
		"day_of_month": 27,
		"start_date": "2024-03-27",
		"end": {"kind": "after_count", "count": 2}
	}`)

	rr := do(t, srv, http.MethodGet, "/api/owners/o1/upcoming?until=2024-05-31", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("upcoming status=%d body=%s", rr.Code, rr.Body.String())
	}
	up := decode[UpcomingResponse](t, rr)
	if len(up.Occurrences) != 5 {
		t.Fatalf("occurrences = %+v", up.Occurrences)
	}
	want := SummaryResponse{Count: 5, Income: "4000.00", Expense: "2850.00", Net: "1150.00"}
	if up.Summary != want {
		t.Errorf("summary = %+v, want %+v", up.Summary, want)
	}

	rr = do(t, srv, http.MethodGet, "/api/owners/o1/rules/"+rent.ID+"/upcoming?days=31", "")
	if got := decode[UpcomingResponse](t, rr); len(got.Occurrences) != 2 || got.HorizonEnd != "2024-04-01" {
		t.Errorf("rule upcoming = %+v", got)
	}

	rr = do(t, srv, http.MethodGet, "/api/owners/o1/upcoming?until=2024-05-31&group=month", "")
	grouped := decode[UpcomingResponse](t, rr)
	if len(grouped.Periods) != 3 {
		t.Fatalf("periods = %+v", grouped.Periods)
	}
	april := PeriodResponse{Start: "2024-04-01", End: "2024-04-30", Summary: SummaryResponse{Count: 2, Income: "2000.00", Expense: "950.00", Net: "1050.00"}}
	if grouped.Periods[1] != april {
		t.Errorf("april = %+v, want %+v", grouped.Periods[1], april)
	}
	if len(up.Periods) != 0 {
		t.Errorf("ungrouped response has periods %+v", up.Periods)
	}
	if rr := do(t, srv, http.MethodGet, "/api/owners/o1/upcoming?group=fortnight", ""); rr.Code != http.StatusBadRequest {
		t.Errorf("bad group status=%d", rr.Code)
	}

	if rr := do(t, srv, http.MethodGet, "/api/owners/o1/upcoming?days=x", ""); rr.Code != http.StatusBadRequest {
		t.Errorf("bad days status=%d", rr.Code)
	}

	rr = do(t, srv, http.MethodGet, "/api/owners/o1/calendar.ics?until=2024-05-31", "")
	if rr.Code != http.StatusOK || !strings.HasPrefix(rr.Header().Get("Content-Type"), "text/calendar") {
		t.Fatalf("calendar status=%d type=%q", rr.Code, rr.Header().Get("Content-Type"))
	}
	if n := strings.Count(rr.Body.String(), "BEGIN:VEVENT"); n != 5 {
		t.Errorf("calendar events = %d, want 5", n)
	}

	rr = do(t, srv, http.MethodGet, "/api/owners/o1/rules/"+rent.ID+"/calendar.ics?series=true", "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "RRULE:") {
		t.Errorf("series calendar status=%d body=%s", rr.Code, rr.Body.String())
	}

	if rr := do(t, srv, http.MethodPost, "/api/owners/o1/rules/"+rent.ID+"/skip", ""); rr.Code != http.StatusOK {
		t.Fatalf("skip status=%d body=%s", rr.Code, rr.Body.String())
	}
	rr = do(t, srv, http.MethodGet, "/api/owners/o1/rules/"+rent.ID+"/calendar.ics?series=true", "")
	if body := rr.Body.String(); !strings.Contains(body, "DTSTART;VALUE=DATE:20240401") {
		t.Errorf("series after skip should start at the pending date, body=%s", body)
	}

	if rr := do(t, srv, http.MethodGet, "/api/owners/nobody/calendar.ics", ""); rr.Code != http.StatusNoContent {
		t.Errorf("empty calendar status=%d, want 204", rr.Code)
	}
}

func TestDelete(t *testing.T) {
	srv := newTestServer(t, Deps{})
	rule := createRule(t, srv, "o1", rentBody)
	base := "/api/owners/o1/rules/" + rule.ID

	rr := do(t, srv, http.MethodPost, base+"/materialize", "")
	tx := decode[MaterializeResponse](t, rr).Transaction

	if rr := do(t, srv, http.MethodDelete, base+"?scope=sometimes", ""); rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("bad scope status=%d", rr.Code)
	}
	if rr := do(t, srv, http.MethodDelete, base+"?scope=occurrence", ""); rr.Code != http.StatusBadRequest {
		t.Errorf("occurrence scope on rule status=%d", rr.Code)
	}

	rr = do(t, srv, http.MethodDelete, base, "")
	future := decode[DeleteResponse](t, rr)
	if future.Scope != "future" || future.Rule == nil || future.Rule.Status != "ended" {
		t.Fatalf("delete future = %+v", future)
	}

	rr = do(t, srv, http.MethodDelete, "/api/owners/o1/transactions/"+tx.ID, "")
	if got := decode[DeleteResponse](t, rr); got.Removed != 1 {
		t.Errorf("delete transaction = %+v", got)
	}
	if rr := do(t, srv, http.MethodDelete, "/api/owners/o1/transactions/"+tx.ID, ""); rr.Code != http.StatusNotFound {
		t.Errorf("second delete status=%d, want 404", rr.Code)
	}

	rr = do(t, srv, http.MethodDelete, base+"?scope=all", "")
	if got := decode[DeleteResponse](t, rr); got.Scope != "all" {
		t.Errorf("delete all = %+v", got)
	}
	if rr := do(t, srv, http.MethodGet, base, ""); rr.Code != http.StatusNotFound {
		t.Errorf("get after delete status=%d", rr.Code)
	}
}

func TestRateLimit(t *testing.T) {
	limiter := ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: 2})
	srv := newTestServer(t, Deps{Limiter: limiter})

	for range 2 {
		if rr := do(t, srv, http.MethodGet, "/healthz", ""); rr.Code != http.StatusOK {
			t.Fatalf("status=%d", rr.Code)
		}
	}
	rr := do(t, srv, http.MethodGet, "/healthz", "")
	if rr.Code != http.StatusTooManyRequests || rr.Header().Get("Retry-After") == "" {
		t.Fatalf("status=%d retry-after=%q", rr.Code, rr.Header().Get("Retry-After"))
	}
	if body := decode[ErrorResponse](t, rr); body.Code != "rate_limited" {
		t.Errorf("body = %+v", body)
	}
}
