package backend

import (
	"context"
	"fmt"

	applog "ricorrenze/internal/log"
	gsheet "ricorrenze/internal/sheets/google"
	"ricorrenze/internal/sheets/memory"
)

type DefaultFactory struct {
	logger *applog.Logger
}

func NewFactory(logger *applog.Logger) Factory {
	if logger == nil {
		logger = applog.New(applog.DefaultConfig())
	}
	return &DefaultFactory{logger: logger.WithComponent(applog.ComponentSheets)}
}

func (f *DefaultFactory) Create(ctx context.Context, config Config) (*Result, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Type {
	case SheetsBackend:
		client, err := gsheet.New(ctx, config.GoogleSpreadsheetID, config.GoogleSheetName)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Google Sheets client: %w", err)
		}
		f.logger.InfoContext(ctx, "Initialized Google Sheets export", "spreadsheet_id", config.GoogleSpreadsheetID)
		return &Result{Writer: client, Type: config.Type}, nil
	case MemoryBackend:
		f.logger.InfoContext(ctx, "Google Sheets disabled - exporting to in-memory sheet")
		return &Result{Writer: memory.New(), Type: config.Type}, nil
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}
