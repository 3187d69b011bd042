package backend

import (
	"context"

	"ricorrenze/internal/sheets"
)

// Result is the export target the sync-worker writes to.
type Result struct {
	Writer sheets.TransactionWriter
	Type   Type
}

// Factory creates export targets based on configuration
type Factory interface {
	Create(ctx context.Context, config Config) (*Result, error)
}
