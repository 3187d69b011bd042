package backend

import (
	"fmt"

	"ricorrenze/internal/config"
)

// Config holds configuration for export target creation
type Config struct {
	Type Type

	GoogleSpreadsheetID string
	GoogleSheetName     string
}

// Type selects where generated transactions are exported.
type Type string

const (
	SheetsBackend Type = "sheets"
	MemoryBackend Type = "memory"
)

func (t Type) String() string {
	return string(t)
}

func (t Type) IsValid() bool {
	switch t {
	case SheetsBackend, MemoryBackend:
		return true
	default:
		return false
	}
}

// FromAppConfig exports to Google Sheets when a spreadsheet is configured
// and to an in-memory sheet otherwise.
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, fmt.Errorf("app config is nil")
	}

	t := MemoryBackend
	if appConfig.GoogleSpreadsheetID != "" {
		t = SheetsBackend
	}
	return Config{
		Type:                t,
		GoogleSpreadsheetID: appConfig.GoogleSpreadsheetID,
		GoogleSheetName:     appConfig.GoogleSheetName,
	}, nil
}

func (c Config) Validate() error {
	if !c.Type.IsValid() {
		return fmt.Errorf("invalid backend type: %s", c.Type)
	}
	if c.Type == SheetsBackend && c.GoogleSpreadsheetID == "" {
		return fmt.Errorf("Google Spreadsheet ID is required for sheets backend")
	}
	return nil
}
