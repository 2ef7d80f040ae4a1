package config

import (
	"strings"
	"testing"
	"time"
)

// setRequired sets the four connection variables every test needs.
func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("ODOO_URL", "https://erp.example.com")
	t.Setenv("ODOO_DB", "factory")
	t.Setenv("ODOO_USER", "admin")
	t.Setenv("ODOO_PASSWORD", "s3cret")
}

func validConfig() *Config {
	return &Config{
		ERP: ERPConfig{
			URL: "https://erp.example.com", Database: "factory", User: "admin", Password: "x",
			Timeout: time.Minute, SearchLimit: 100, BatchSize: 500, MatchPolicy: "first",
		},
		Retry:    RetryConfig{Attempts: 3, Delay: time.Second, Backoff: 1.5, MaxDelay: time.Minute},
		Pipeline: PipelineConfig{DataDir: "data", CSVEncoding: "utf-8", KPIWindow: time.Hour},
		Logging:  LoggingConfig{Level: "info", Format: "text"},
	}
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.ERP.Timeout != 60*time.Second {
		t.Errorf("ERP.Timeout = %v, want %v", cfg.ERP.Timeout, 60*time.Second)
	}
	if cfg.ERP.SearchLimit != 100 {
		t.Errorf("ERP.SearchLimit = %d, want %d", cfg.ERP.SearchLimit, 100)
	}
	if cfg.ERP.BatchSize != 500 {
		t.Errorf("ERP.BatchSize = %d, want %d", cfg.ERP.BatchSize, 500)
	}
	if cfg.ERP.MatchPolicy != "first" {
		t.Errorf("ERP.MatchPolicy = %q, want %q", cfg.ERP.MatchPolicy, "first")
	}
	if len(cfg.ERP.StripFields) != 1 || cfg.ERP.StripFields[0] != "detailed_type" {
		t.Errorf("ERP.StripFields = %v, want [detailed_type]", cfg.ERP.StripFields)
	}
	if cfg.Retry.Attempts != 3 {
		t.Errorf("Retry.Attempts = %d, want %d", cfg.Retry.Attempts, 3)
	}
	if cfg.Retry.Backoff != 1.5 {
		t.Errorf("Retry.Backoff = %v, want %v", cfg.Retry.Backoff, 1.5)
	}
	if cfg.Pipeline.DataDir != "data" {
		t.Errorf("Pipeline.DataDir = %q, want %q", cfg.Pipeline.DataDir, "data")
	}
	if !cfg.Audit.Enabled {
		t.Error("Audit.Enabled = false, want true")
	}
}

func TestLoad_OverrideDefaults(t *testing.T) {
	setRequired(t)
	t.Setenv("ODOO_RETRY_ATTEMPTS", "1")
	t.Setenv("ODOO_RETRY_BACKOFF", "2")
	t.Setenv("ODOO_MATCH_POLICY", "error")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Retry.Attempts != 1 {
		t.Errorf("Retry.Attempts = %d, want %d", cfg.Retry.Attempts, 1)
	}
	if cfg.Retry.Backoff != 2 {
		t.Errorf("Retry.Backoff = %v, want %v", cfg.Retry.Backoff, 2.0)
	}
	if cfg.ERP.MatchPolicy != "error" {
		t.Errorf("ERP.MatchPolicy = %q, want %q", cfg.ERP.MatchPolicy, "error")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
}

func TestLoad_AltEnvVar(t *testing.T) {
	setRequired(t)
	t.Setenv("ODOO_URL", "")
	t.Setenv("ERP_URL", "http://localhost:8069")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.ERP.URL != "http://localhost:8069" {
		t.Errorf("ERP.URL = %q, want %q", cfg.ERP.URL, "http://localhost:8069")
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	setRequired(t)
	t.Setenv("ODOO_PASSWORD", "")
	t.Setenv("ERP_PASSWORD", "")

	_, err := Load()
	if err == nil {
		t.Fatal("Load() expected error for missing ODOO_PASSWORD")
	}
	if !strings.Contains(err.Error(), "ODOO_PASSWORD") {
		t.Errorf("error should mention ODOO_PASSWORD: %v", err)
	}
}

func TestLoad_Duration(t *testing.T) {
	setRequired(t)
	t.Setenv("ODOO_TIMEOUT", "45s")
	t.Setenv("PROVISION_KPI_WINDOW", "168h")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.ERP.Timeout != 45*time.Second {
		t.Errorf("ERP.Timeout = %v, want %v", cfg.ERP.Timeout, 45*time.Second)
	}
	if cfg.Pipeline.KPIWindow != 7*24*time.Hour {
		t.Errorf("Pipeline.KPIWindow = %v, want %v", cfg.Pipeline.KPIWindow, 7*24*time.Hour)
	}
}

func TestLoad_CommaSeparatedSlice(t *testing.T) {
	setRequired(t)
	t.Setenv("ODOO_STRIP_FIELDS", "detailed_type, x_legacy , ")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	expected := []string{"detailed_type", "x_legacy"}
	if len(cfg.ERP.StripFields) != len(expected) {
		t.Fatalf("StripFields length = %d, want %d", len(cfg.ERP.StripFields), len(expected))
	}
	for i, v := range expected {
		if cfg.ERP.StripFields[i] != v {
			t.Errorf("StripFields[%d] = %q, want %q", i, cfg.ERP.StripFields[i], v)
		}
	}
}

func TestLoad_InvalidValue(t *testing.T) {
	setRequired(t)
	t.Setenv("ODOO_RETRY_BACKOFF", "fast")

	if _, err := Load(); err == nil {
		t.Fatal("Load() expected error for non-numeric backoff")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"url without scheme", func(c *Config) { c.ERP.URL = "erp.example.com" }, "ODOO_URL"},
		{"ftp url", func(c *Config) { c.ERP.URL = "ftp://erp.example.com" }, "ODOO_URL"},
		{"batch below search limit", func(c *Config) { c.ERP.BatchSize = 10 }, "ODOO_BATCH_SIZE"},
		{"unknown match policy", func(c *Config) { c.ERP.MatchPolicy = "last" }, "ODOO_MATCH_POLICY"},
		{"zero attempts", func(c *Config) { c.Retry.Attempts = 0 }, "ODOO_RETRY_ATTEMPTS"},
		{"shrinking backoff", func(c *Config) { c.Retry.Backoff = 0.5 }, "ODOO_RETRY_BACKOFF"},
		{"max delay below delay", func(c *Config) { c.Retry.MaxDelay = time.Millisecond }, "ODOO_RETRY_MAX_DELAY"},
		{"unknown encoding", func(c *Config) { c.Pipeline.CSVEncoding = "ebcdic" }, "PROVISION_CSV_ENCODING"},
		{"invalid log level", func(c *Config) { c.Logging.Level = "verbose" }, "LOG_LEVEL"},
		{"invalid log format", func(c *Config) { c.Logging.Format = "xml" }, "LOG_FORMAT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error mentioning %s", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error should mention %s: %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.ERP.MatchPolicy = "last"
	cfg.Logging.Format = "xml"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error")
	}
	if got := strings.Count(err.Error(), "\n  - "); got != 2 {
		t.Errorf("error lists %d problems, want 2: %v", got, err)
	}
}

func TestConfigString_MasksSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.ERP.Password = "hunter2"
	cfg.Audit = AuditConfig{Enabled: true, DatabaseURL: "postgres://auditor:pw@db/audit"}

	str := cfg.String()
	if strings.Contains(str, "hunter2") || strings.Contains(str, "auditor") {
		t.Errorf("String() leaks a secret: %s", str)
	}
	if !strings.Contains(str, "MASKED") {
		t.Error("String() should contain MASKED placeholder")
	}
}
