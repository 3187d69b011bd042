package log

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cloud.google.com/go/civil"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"DEBUG", slog.LevelDebug, false},
		{"warning", slog.LevelWarn, false},
		{" error ", slog.LevelError, false},
		{"verbose", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestLogFields(t *testing.T) {
	on := civil.Date{Year: 2024, Month: time.March, Day: 1}
	f := NewFields().
		WithRule("owner-1", "rule-1", "monthly", 3).
		WithOccurrence("tx-1", on, 95000)

	if f[FieldRuleID] != "rule-1" || f[FieldOwnerID] != "owner-1" {
		t.Errorf("rule fields not set: %v", f)
	}
	if f[FieldRuleVersion] != int64(3) {
		t.Errorf("expected version 3, got %v", f[FieldRuleVersion])
	}
	if f[FieldOccurrenceDate] != "2024-03-01" {
		t.Errorf("expected occurrence date 2024-03-01, got %v", f[FieldOccurrenceDate])
	}
	if len(f.ToSlice()) != 2*len(f) {
		t.Errorf("ToSlice should hold key/value pairs")
	}

	virtual := NewFields().WithOccurrence("", on, 1)
	if _, ok := virtual[FieldTransactionID]; ok {
		t.Error("virtual occurrences have no transaction id")
	}
}

func TestLoggerTagsComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: slog.LevelDebug, Format: "json", Output: &buf}).WithComponent(ComponentProjector)

	logger.InfoContext(context.Background(), "projected", FieldRuleID, "rule-1")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("invalid JSON log line: %v", err)
	}
	if record[FieldComponent] != ComponentProjector {
		t.Errorf("expected component %q, got %v", ComponentProjector, record[FieldComponent])
	}
	if record[FieldRuleID] != "rule-1" {
		t.Errorf("expected rule_id, got %v", record[FieldRuleID])
	}
}

func TestMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Format: "json", Output: &buf})

	var got *Logger
	handler := Middleware(logger, func(*http.Request) string { return "req_1" })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got = FromContext(r.Context())
			got.InfoContext(r.Context(), "inside")
		}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if got == nil || got.Component() != ComponentHTTP {
		t.Fatalf("expected an http logger in the context")
	}
	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("invalid JSON log line: %v", err)
	}
	if record[FieldRequestID] != "req_1" {
		t.Errorf("expected request id, got %v", record[FieldRequestID])
	}
}

func TestFromContext_Default(t *testing.T) {
	if l := FromContext(context.Background()); l == nil || l.Component() != "unknown" {
		t.Errorf("expected default logger, got %+v", l)
	}
}
