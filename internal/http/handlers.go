package http

import (
	"bytes"
	"context"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/civil"

	"ricorrenze/internal/calendar"
	"ricorrenze/internal/core"
	applog "ricorrenze/internal/log"
	"ricorrenze/internal/recurrence"
	"ricorrenze/internal/services"
)

func owner(r *http.Request) (string, error) {
	o := strings.TrimSpace(r.PathValue("owner"))
	if o == "" {
		return "", badRequest("owner", "is required")
	}
	return o, nil
}

func (s *Server) renderRule(w http.ResponseWriter, r *http.Request, status int, rule core.RecurringRule) {
	writeJSON(w, r, status, s.ruleView(rule))
}

func (s *Server) ruleView(rule core.RecurringRule) RuleResponse {
	next, ok, err := s.rules.NextOccurrence(rule)
	if err != nil {
		ok = false
	}
	return ruleResponse(rule, next, ok)
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	ownerID, err := owner(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req RuleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	in, err := req.Input(ownerID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	rule, err := s.rules.CreateRule(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	applog.RuleEvent(r.Context(), applog.OpCreate, ownerID, rule.ID,
		applog.NewFields().WithRule(ownerID, rule.ID, string(rule.Interval), rule.Version))
	s.renderRule(w, r, http.StatusCreated, rule)
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	ownerID, err := owner(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rules, err := s.rules.ListRules(r.Context(), ownerID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := make([]RuleResponse, 0, len(rules))
	for _, rule := range rules {
		resp = append(resp, s.ruleView(rule))
	}
	writeJSON(w, r, http.StatusOK, resp)
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	ownerID, err := owner(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rule, err := s.rules.GetRule(r.Context(), ownerID, r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.renderRule(w, r, http.StatusOK, rule)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	ownerID, err := owner(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req RuleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	in, err := req.Input(ownerID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	rule, err := s.rules.UpdateRule(r.Context(), r.PathValue("id"), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	applog.RuleEvent(r.Context(), applog.OpUpdate, ownerID, rule.ID, nil)
	s.renderRule(w, r, http.StatusOK, rule)
}

// handleDeleteRule serves ?scope=future (the default) and ?scope=all.
// Single occurrences are deleted through the transactions resource.
func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	ownerID, err := owner(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	scope := services.ScopeFuture
	if raw := r.URL.Query().Get("scope"); raw != "" {
		if scope, err = services.ParseScope(raw); err != nil {
			writeError(w, r, err)
			return
		}
	}
	if scope == services.ScopeOccurrence {
		writeError(w, r, badRequest("scope", "delete single occurrences via /transactions/{id}"))
		return
	}

	res, err := s.rules.Delete(r.Context(), services.DeleteRequest{
		Scope:   scope,
		OwnerID: ownerID,
		RuleID:  r.PathValue("id"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	applog.RuleEvent(r.Context(), applog.OpDelete, ownerID, r.PathValue("id"),
		applog.LogFields{"scope": string(res.Scope), "removed": res.Removed})

	resp := DeleteResponse{Scope: string(res.Scope), Removed: res.Removed}
	if rule, ok := res.Rule.Get(); ok {
		view := s.ruleView(rule)
		resp.Rule = &view
	}
	writeJSON(w, r, http.StatusOK, resp)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, applog.OpPause, s.rules.Pause)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, applog.OpResume, s.rules.Resume)
}

type transitionFunc func(ctx context.Context, ownerID, id string) (core.RecurringRule, error)

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request, op string, fn transitionFunc) {
	ownerID, err := owner(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rule, err := fn(r.Context(), ownerID, r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	applog.RuleEvent(r.Context(), op, ownerID, rule.ID, applog.LogFields{"status": string(rule.Status())})
	s.renderRule(w, r, http.StatusOK, rule)
}

func (s *Server) handleSkip(w http.ResponseWriter, r *http.Request) {
	ownerID, err := owner(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, rule, err := s.rules.Skip(r.Context(), ownerID, r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, SkipResponse{
		Skipped: res.Skipped.String(),
		Ended:   res.Ended,
		Rule:    s.ruleView(rule),
	})
}

func (s *Server) handleMaterialize(w http.ResponseWriter, r *http.Request) {
	ownerID, err := owner(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.rules.MaterializeNext(r.Context(), ownerID, r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := MaterializeResponse{Outcome: res.Outcome.String(), Rule: s.ruleView(res.Rule)}
	status := http.StatusOK
	if tx, ok := res.Transaction.Get(); ok {
		view := transactionResponse(tx)
		resp.Transaction = &view
		status = http.StatusCreated
		applog.RuleEvent(r.Context(), applog.OpMaterialize, ownerID, res.Rule.ID,
			applog.NewFields().WithOccurrence(tx.ID, tx.OccurrenceDate, tx.Amount.Cents))
	}
	writeJSON(w, r, status, resp)
}

func (s *Server) handleRuleUpcoming(w http.ResponseWriter, r *http.Request) {
	ownerID, err := owner(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	horizon, err := parseHorizon(r, s.rules.Today(), s.rules.DefaultHorizon())
	if err != nil {
		writeError(w, r, err)
		return
	}
	occs, err := s.rules.Upcoming(r.Context(), ownerID, r.PathValue("id"), horizon)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.writeUpcoming(w, r, horizon, occs)
}

func (s *Server) handleOwnerUpcoming(w http.ResponseWriter, r *http.Request) {
	ownerID, err := owner(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	horizon, err := parseHorizon(r, s.rules.Today(), s.rules.DefaultHorizon())
	if err != nil {
		writeError(w, r, err)
		return
	}
	dash, err := s.rules.UpcomingForOwner(r.Context(), ownerID, horizon)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.writeUpcoming(w, r, dash.HorizonEnd, dash.Occurrences)
}

// writeUpcoming answers with the projection, broken down per period when
// ?group is set.
func (s *Server) writeUpcoming(w http.ResponseWriter, r *http.Request, horizon civil.Date, occs []recurrence.Occurrence) {
	kind, grouped, err := parseGroup(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := upcomingResponse(horizon, occs)
	if grouped {
		periods, err := s.rules.SummarizeByPeriod(occs, kind)
		if err != nil {
			writeError(w, r, err)
			return
		}
		resp.Periods = periodResponses(periods)
	}
	writeJSON(w, r, http.StatusOK, resp)
}

func (s *Server) handleRuleTransactions(w http.ResponseWriter, r *http.Request) {
	ownerID, err := owner(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	id := r.PathValue("id")
	// 404 for an unknown rule rather than an empty list.
	if _, err := s.rules.GetRule(r.Context(), ownerID, id); err != nil {
		writeError(w, r, err)
		return
	}
	s.listTransactions(w, r, ownerID, id)
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	ownerID, err := owner(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.listTransactions(w, r, ownerID, r.URL.Query().Get("rule_id"))
}

func (s *Server) listTransactions(w http.ResponseWriter, r *http.Request, ownerID, ruleID string) {
	txs, err := s.rules.ListTransactions(r.Context(), ownerID, ruleID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := make([]TransactionResponse, 0, len(txs))
	for _, tx := range txs {
		resp = append(resp, transactionResponse(tx))
	}
	writeJSON(w, r, http.StatusOK, resp)
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	ownerID, err := owner(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.rules.Delete(r.Context(), services.DeleteRequest{
		Scope:         services.ScopeOccurrence,
		OwnerID:       ownerID,
		TransactionID: r.PathValue("id"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, DeleteResponse{Scope: string(res.Scope), Removed: res.Removed})
}

// handleRuleCalendar serves the rule's upcoming occurrences as events.
// With ?series=true a rule RRULE can express is exported as one recurring
// event instead.
func (s *Server) handleRuleCalendar(w http.ResponseWriter, r *http.Request) {
	ownerID, err := owner(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rule, err := s.rules.GetRule(r.Context(), ownerID, r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	name := s.calendarName + " - " + rule.Description
	stamp := time.Now()

	var buf bytes.Buffer
	if r.URL.Query().Get("series") == "true" && rule.Status() == core.StatusActive {
		skipped, err := calendar.EncodeRules(&buf, name, []core.RecurringRule{rule}, stamp)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if len(skipped) == 0 {
			writeCalendar(w, r, buf.Bytes())
			return
		}
		buf.Reset()
	}

	horizon, err := parseHorizon(r, s.rules.Today(), s.rules.DefaultHorizon())
	if err != nil {
		writeError(w, r, err)
		return
	}
	occs, err := s.rules.Upcoming(r.Context(), ownerID, rule.ID, horizon)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.writeOccurrences(w, r, name, occs, stamp)
}

func (s *Server) handleOwnerCalendar(w http.ResponseWriter, r *http.Request) {
	ownerID, err := owner(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	horizon, err := parseHorizon(r, s.rules.Today(), s.rules.DefaultHorizon())
	if err != nil {
		writeError(w, r, err)
		return
	}
	dash, err := s.rules.UpcomingForOwner(r.Context(), ownerID, horizon)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.writeOccurrences(w, r, s.calendarName, dash.Occurrences, time.Now())
}

// writeOccurrences answers 204 when there is nothing to export.
func (s *Server) writeOccurrences(w http.ResponseWriter, r *http.Request, name string, occs []recurrence.Occurrence, stamp time.Time) {
	if len(occs) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	var buf bytes.Buffer
	if err := calendar.EncodeOccurrences(&buf, name, occs, stamp); err != nil {
		writeError(w, r, err)
		return
	}
	writeCalendar(w, r, buf.Bytes())
}

func writeCalendar(w http.ResponseWriter, r *http.Request, body []byte) {
	w.Header().Set("Content-Type", calendar.ContentType)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		applog.FromContext(r.Context()).ErrorContext(r.Context(), "Failed to write calendar", applog.FieldError, err)
	}
}
