package backend

import (
	"context"
	"strings"
	"testing"

	"ricorrenze/internal/config"
	"ricorrenze/internal/sheets/memory"
)

func TestFromAppConfig(t *testing.T) {
	tests := []struct {
		name          string
		spreadsheetID string
		want          Type
	}{
		{"no spreadsheet", "", MemoryBackend},
		{"spreadsheet configured", "abc123", SheetsBackend},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := FromAppConfig(&config.Config{GoogleSpreadsheetID: tt.spreadsheetID, GoogleSheetName: "Foglio"})
			if err != nil {
				t.Fatalf("FromAppConfig: %v", err)
			}
			if cfg.Type != tt.want {
				t.Errorf("Type = %v, want %v", cfg.Type, tt.want)
			}
		})
	}

	if _, err := FromAppConfig(nil); err == nil {
		t.Error("expected error for nil config")
	}
}

func TestConfig_Validate(t *testing.T) {
	if err := (Config{Type: "ftp"}).Validate(); err == nil {
		t.Error("expected error for unknown type")
	}
	err := (Config{Type: SheetsBackend}).Validate()
	if err == nil || !strings.Contains(err.Error(), "Spreadsheet ID") {
		t.Errorf("expected missing spreadsheet error, got %v", err)
	}
	if err := (Config{Type: MemoryBackend}).Validate(); err != nil {
		t.Errorf("memory backend: %v", err)
	}
}

func TestFactory_CreateMemory(t *testing.T) {
	res, err := NewFactory(nil).Create(context.Background(), Config{Type: MemoryBackend})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, ok := res.Writer.(*memory.Store); !ok {
		t.Errorf("Writer = %T, want *memory.Store", res.Writer)
	}
}

func TestFactory_CreateSheetsWithoutCredentials(t *testing.T) {
	for _, key := range []string{
		"GOOGLE_SERVICE_ACCOUNT_JSON", "GOOGLE_SERVICE_ACCOUNT_FILE",
		"GOOGLE_APPLICATION_CREDENTIALS", "GOOGLE_OAUTH_TOKEN_FILE",
	} {
		t.Setenv(key, "")
	}
	_, err := NewFactory(nil).Create(context.Background(), Config{Type: SheetsBackend, GoogleSpreadsheetID: "abc"})
	if err == nil {
		t.Fatal("expected credentials error")
	}
}
