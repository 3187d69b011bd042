package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/civil"

	"ricorrenze/internal/core"
)

func TestMemoryStoreAppend(t *testing.T) {
	s := New()
	tx := core.GeneratedTransaction{
		ID:             "t1",
		RuleID:         "r1",
		OccurrenceDate: civil.Date{Year: 2024, Month: time.March, Day: 1},
		Amount:         core.Money{Cents: 1250},
		Description:    "Netflix",
		Type:           core.Expense,
	}

	ref, err := s.Append(context.Background(), tx)
	if err != nil || ref != "mem:1" {
		t.Fatalf("unexpected append: ref=%q err=%v", ref, err)
	}

	again, err := s.Append(context.Background(), tx)
	if err != nil || again != ref {
		t.Fatalf("duplicate append: ref=%q err=%v", again, err)
	}

	rows := s.Rows()
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0][0] != "2024-03-01" || rows[0][2] != "-12.50" {
		t.Errorf("unexpected row: %v", rows[0])
	}
}

func TestMemoryStoreFailure(t *testing.T) {
	s := New()
	boom := errors.New("quota exceeded")
	s.FailWith(boom)

	_, err := s.Append(context.Background(), core.GeneratedTransaction{ID: "t1"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected injected error, got %v", err)
	}

	s.FailWith(nil)
	if _, err := s.Append(context.Background(), core.GeneratedTransaction{ID: "t1"}); err != nil {
		t.Fatalf("unexpected error after recovery: %v", err)
	}
	if _, err := s.Append(context.Background(), core.GeneratedTransaction{}); err == nil {
		t.Fatal("expected error for transaction without id")
	}
}
