package config

import (
	"os"
	"path/filepath"
	"testing"
)

func validConfig(t *testing.T) *Config {
	t.Helper()
	creds := filepath.Join(t.TempDir(), "credentials.json")
	if err := os.WriteFile(creds, []byte("{}"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := &Config{}
	cfg.Gmail.CredentialsFile = creds
	cfg.Gmail.SearchQuery = "has:attachment filename:pdf"
	cfg.Output.SpreadsheetFile = "invoices_output.xlsx"
	cfg.Output.InvoicesDir = "invoices"
	cfg.Parser.AmountTolerance = 0.01
	cfg.OCR.DPI = 300
	cfg.App.RetryAttempts = 3
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"missing credentials", func(c *Config) { c.Gmail.CredentialsFile = "" }, true},
		{"missing search query", func(c *Config) { c.Gmail.SearchQuery = "" }, true},
		{"missing spreadsheet", func(c *Config) { c.Output.SpreadsheetFile = "" }, true},
		{"missing invoices dir", func(c *Config) { c.Output.InvoicesDir = "" }, true},
		{"negative tolerance", func(c *Config) { c.Parser.AmountTolerance = -1 }, true},
		{"zero dpi", func(c *Config) { c.OCR.DPI = 0 }, true},
		{"negative retries", func(c *Config) { c.App.RetryAttempts = -1 }, true},
		{"credentials file missing on disk", func(c *Config) { c.Gmail.CredentialsFile = "/nonexistent/credentials.json" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
