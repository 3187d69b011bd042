package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"ricorrenze/internal/core"
	"ricorrenze/internal/sheets"
)

var _ sheets.TransactionWriter = (*Store)(nil)

// Store keeps exported rows in memory. It backs local runs without Google
// credentials and the sync tests.
type Store struct {
	mu   sync.Mutex
	rows [][]any
	ids  map[string]int
	fail error
}

func New() *Store {
	return &Store{ids: make(map[string]int)}
}

// Append stores the transaction and returns a synthetic row reference.
// Appending the same transaction twice returns the first reference.
func (s *Store) Append(_ context.Context, t core.GeneratedTransaction) (string, error) {
	if t.ID == "" {
		return "", errors.New("transaction without id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return "", s.fail
	}
	if n, ok := s.ids[t.ID]; ok {
		return fmt.Sprintf("mem:%d", n), nil
	}
	s.rows = append(s.rows, sheets.Row(t))
	s.ids[t.ID] = len(s.rows)
	return fmt.Sprintf("mem:%d", len(s.rows)), nil
}

// FailWith makes every following Append return err. Pass nil to recover.
func (s *Store) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
}

// Rows returns a copy of the exported rows.
func (s *Store) Rows() [][]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]any, len(s.rows))
	copy(out, s.rows)
	return out
}
