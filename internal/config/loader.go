package config

import (
	"fmt"
	"net/url"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Load reads configuration from environment variables.
// It applies defaults for unset values and validates the result.
// Returns an error if required values are missing or validation fails.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := loadStruct(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// loadStruct recursively populates struct fields from environment variables.
func loadStruct(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldVal := v.Field(i)

		if !fieldVal.CanSet() {
			continue
		}

		if field.Type.Kind() == reflect.Struct && field.Type != reflect.TypeOf(time.Time{}) {
			if err := loadStruct(fieldVal); err != nil {
				return err
			}
			continue
		}

		envName := field.Tag.Get("env")
		if envName == "" {
			continue
		}

		value := os.Getenv(envName)
		if value == "" {
			if alt := field.Tag.Get("envAlt"); alt != "" {
				value = os.Getenv(alt)
			}
		}

		if value == "" {
			if field.Tag.Get("required") == "true" {
				return fmt.Errorf("required environment variable %s is not set", envName)
			}
			value = field.Tag.Get("default")
		}

		if value == "" {
			continue
		}

		if err := setField(fieldVal, value); err != nil {
			return fmt.Errorf("invalid value for %s=%q: %w", envName, value, err)
		}
	}

	return nil
}

// setField sets a reflect.Value from a string based on its type.
func setField(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration: %w", err)
			}
			field.Set(reflect.ValueOf(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer: %w", err)
			}
			field.SetInt(i)
		}

	case reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid float: %w", err)
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type: %s", field.Type().Elem().Kind())
		}
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				result = append(result, p)
			}
		}
		field.Set(reflect.ValueOf(result))

	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}

	return nil
}

// Validate checks that the configuration is valid.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errs []string

	// ERP connection
	if c.ERP.URL == "" {
		errs = append(errs, "ODOO_URL is required")
	} else if u, err := url.Parse(c.ERP.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Sprintf("ODOO_URL (%q) must be an http or https URL with a host", c.ERP.URL))
	}
	if c.ERP.Database == "" {
		errs = append(errs, "ODOO_DB is required")
	}
	if c.ERP.User == "" {
		errs = append(errs, "ODOO_USER is required")
	}
	if c.ERP.Password == "" {
		errs = append(errs, "ODOO_PASSWORD is required")
	}
	if c.ERP.Timeout <= 0 {
		errs = append(errs, "ODOO_TIMEOUT must be positive")
	}
	if c.ERP.SearchLimit <= 0 {
		errs = append(errs, "ODOO_SEARCH_LIMIT must be positive")
	}
	if c.ERP.BatchSize < c.ERP.SearchLimit {
		errs = append(errs, fmt.Sprintf("ODOO_BATCH_SIZE (%d) must be >= ODOO_SEARCH_LIMIT (%d)",
			c.ERP.BatchSize, c.ERP.SearchLimit))
	}
	switch strings.ToLower(c.ERP.MatchPolicy) {
	case "first", "error":
	default:
		errs = append(errs, fmt.Sprintf("ODOO_MATCH_POLICY (%q) must be one of: first, error", c.ERP.MatchPolicy))
	}

	// Retry
	if c.Retry.Attempts < 1 {
		errs = append(errs, "ODOO_RETRY_ATTEMPTS must be at least 1")
	}
	if c.Retry.Delay < 0 {
		errs = append(errs, "ODOO_RETRY_DELAY must be non-negative")
	}
	if c.Retry.Backoff < 1 {
		errs = append(errs, "ODOO_RETRY_BACKOFF must be >= 1")
	}
	if c.Retry.MaxDelay < c.Retry.Delay {
		errs = append(errs, "ODOO_RETRY_MAX_DELAY must be >= ODOO_RETRY_DELAY")
	}

	// Pipeline
	if c.Pipeline.DataDir == "" {
		errs = append(errs, "PROVISION_DATA_DIR must not be empty")
	}
	switch strings.ToLower(c.Pipeline.CSVEncoding) {
	case "utf-8", "utf8", "latin-1", "latin1", "iso-8859-1", "windows-1252", "cp1252":
	default:
		errs = append(errs, fmt.Sprintf("PROVISION_CSV_ENCODING (%q) must be one of: utf-8, latin-1, windows-1252", c.Pipeline.CSVEncoding))
	}
	if c.Pipeline.KPIWindow <= 0 {
		errs = append(errs, "PROVISION_KPI_WINDOW must be positive")
	}

	// Logging
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Sprintf("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// String returns a safe string representation of the config for logging.
// The ERP password and the audit DSN are masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	b.WriteString(fmt.Sprintf("ERP: {URL: %q, DB: %q, User: %q, Password: [MASKED], MatchPolicy: %q}, ",
		c.ERP.URL, c.ERP.Database, c.ERP.User, c.ERP.MatchPolicy))
	b.WriteString(fmt.Sprintf("Retry: {Attempts: %d, Delay: %s, Backoff: %g}, ",
		c.Retry.Attempts, c.Retry.Delay, c.Retry.Backoff))
	b.WriteString(fmt.Sprintf("Pipeline: {DataDir: %q, Encoding: %q}, ",
		c.Pipeline.DataDir, c.Pipeline.CSVEncoding))
	audit := "disabled"
	if c.Audit.Enabled {
		audit = "enabled"
		if c.Audit.DatabaseURL != "" {
			audit += ", database: [MASKED]"
		}
	}
	b.WriteString(fmt.Sprintf("Audit: {%s}, ", audit))
	b.WriteString(fmt.Sprintf("Logging: {Level: %q, Format: %q}",
		c.Logging.Level, c.Logging.Format))
	b.WriteString("}")
	return b.String()
}
