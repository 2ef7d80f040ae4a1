// Package config provides centralized configuration management for the provisioning tool.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import "time"

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	ERP      ERPConfig
	Retry    RetryConfig
	Pipeline PipelineConfig
	Logging  LoggingConfig
	Audit    AuditConfig
}

// ERPConfig holds the remote ERP connection settings.
type ERPConfig struct {
	// URL is the base URL of the ERP instance (required)
	URL string `env:"ODOO_URL" envAlt:"ERP_URL" required:"true"`

	// Database is the ERP database identifier (required)
	Database string `env:"ODOO_DB" envAlt:"ERP_DB" required:"true"`

	// User is the login used for authentication (required)
	User string `env:"ODOO_USER" envAlt:"ERP_USER" required:"true"`

	// Password is the credential for User (required, never logged)
	Password string `env:"ODOO_PASSWORD" envAlt:"ERP_PASSWORD" required:"true"`

	// Timeout bounds a single remote round trip (default: 60s)
	Timeout time.Duration `env:"ODOO_TIMEOUT" default:"60s"`

	// SearchLimit is the limit applied to searches that do not set one (default: 100)
	SearchLimit int `env:"ODOO_SEARCH_LIMIT" default:"100"`

	// BatchSize caps any explicit search limit (default: 500)
	BatchSize int `env:"ODOO_BATCH_SIZE" default:"500"`

	// StripFields are removed from every create and write payload
	StripFields []string `env:"ODOO_STRIP_FIELDS" default:"detailed_type"`

	// MatchPolicy decides what happens when a lookup matches several records: first or error
	MatchPolicy string `env:"ODOO_MATCH_POLICY" default:"first"`
}

// RetryConfig holds the retry policy for transient transport failures.
type RetryConfig struct {
	// Attempts is the total number of tries per remote call; 1 disables retry (default: 3)
	Attempts int `env:"ODOO_RETRY_ATTEMPTS" default:"3"`

	// Delay is the wait before the first retry (default: 1s)
	Delay time.Duration `env:"ODOO_RETRY_DELAY" default:"1s"`

	// Backoff multiplies the delay after every failed attempt (default: 1.5)
	Backoff float64 `env:"ODOO_RETRY_BACKOFF" default:"1.5"`

	// MaxDelay caps a single wait (default: 60s)
	MaxDelay time.Duration `env:"ODOO_RETRY_MAX_DELAY" default:"60s"`
}

// PipelineConfig holds loader and KPI settings.
type PipelineConfig struct {
	// DataDir is the directory holding the CSV master data (default: data)
	DataDir string `env:"PROVISION_DATA_DIR" default:"data"`

	// DefaultsFile optionally overrides the embedded provisioning defaults (YAML)
	DefaultsFile string `env:"PROVISION_DEFAULTS"`

	// CSVEncoding is the character encoding of the CSV files (default: utf-8)
	CSVEncoding string `env:"PROVISION_CSV_ENCODING" default:"utf-8"`

	// KPIWindow is how far back the KPI extractor looks (default: 720h)
	KPIWindow time.Duration `env:"PROVISION_KPI_WINDOW" default:"720h"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// AuditConfig holds the audit trail settings.
type AuditConfig struct {
	// Enabled turns audit recording on (default: true)
	Enabled bool `env:"AUDIT_ENABLED" default:"true"`

	// DatabaseURL is an optional PostgreSQL connection string for the audit table
	DatabaseURL string `env:"AUDIT_DATABASE_URL"`

	// File is an optional JSON-lines file receiving audit entries
	File string `env:"AUDIT_FILE"`
}
