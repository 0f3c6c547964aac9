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

		// Recurse into nested sections
		if field.Type.Kind() == reflect.Struct && field.Type != reflect.TypeOf(time.Time{}) {
			if err := loadStruct(fieldVal); err != nil {
				return err
			}
			continue
		}

		envName := field.Tag.Get("env")
		envAlt := field.Tag.Get("envAlt")
		defaultVal := field.Tag.Get("default")
		required := field.Tag.Get("required") == "true"

		if envName == "" {
			continue
		}

		// Try primary env var, then alternate
		value := os.Getenv(envName)
		if value == "" && envAlt != "" {
			value = os.Getenv(envAlt)
		}

		if value == "" {
			if required {
				return fmt.Errorf("required environment variable %s is not set", envName)
			}
			value = defaultVal
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

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)

	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}

	return nil
}

// Validate checks that the configuration is valid.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errs []string

	// Storage validation
	switch c.Database.Backend {
	case StorePostgres:
		if c.Database.URL == "" {
			errs = append(errs, "DATABASE_URL is required when STORE_BACKEND is postgres")
		}
	case StoreMemory:
		// no database needed
	default:
		errs = append(errs, fmt.Sprintf("STORE_BACKEND (%q) must be one of: postgres, memory", c.Database.Backend))
	}
	if c.Database.MaxConns < c.Database.MinConns {
		errs = append(errs, fmt.Sprintf("DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)",
			c.Database.MaxConns, c.Database.MinConns))
	}
	if c.Database.MaxConns <= 0 {
		errs = append(errs, "DB_MAX_CONNS must be positive")
	}
	if c.Database.MinConns < 0 {
		errs = append(errs, "DB_MIN_CONNS must be non-negative")
	}

	// Server validation
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT (%d) must be 1-65535", c.Server.Port))
	}
	if c.Server.ReadTimeout < 0 {
		errs = append(errs, "SERVER_READ_TIMEOUT must be non-negative")
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "SERVER_SHUTDOWN_TIMEOUT must be positive")
	}

	// Delivery validation
	if c.Delivery.EndpointURL != "" {
		if u, err := url.Parse(c.Delivery.EndpointURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Sprintf("DELIVERY_ENDPOINT_URL (%q) must be an absolute URL", c.Delivery.EndpointURL))
		}
	}
	if c.Delivery.MaxAttempts <= 0 {
		errs = append(errs, "DELIVERY_MAX_ATTEMPTS must be positive")
	}
	if c.Delivery.RequestTimeout <= 0 {
		errs = append(errs, "DELIVERY_REQUEST_TIMEOUT must be positive")
	}
	if c.Delivery.BackoffBase <= 0 {
		errs = append(errs, "DELIVERY_BACKOFF_BASE must be positive")
	}
	if c.Delivery.BackoffMax < c.Delivery.BackoffBase {
		errs = append(errs, "DELIVERY_BACKOFF_MAX must be >= DELIVERY_BACKOFF_BASE")
	}

	// Pipeline validation
	if c.Pipeline.SpoolDir == "" {
		errs = append(errs, "PIPELINE_SPOOL_DIR must not be empty")
	}
	if c.Pipeline.MaxFileSize <= 0 {
		errs = append(errs, "PIPELINE_MAX_FILE_SIZE must be positive")
	}
	if c.Pipeline.MaxConcurrentFiles <= 0 {
		errs = append(errs, "PIPELINE_MAX_CONCURRENT_FILES must be positive")
	}
	if c.Pipeline.MaxWaitTime <= 0 {
		errs = append(errs, "PIPELINE_MAX_WAIT_TIME must be positive")
	}
	if c.Pipeline.FileTimeout <= 0 {
		errs = append(errs, "PIPELINE_FILE_TIMEOUT must be positive")
	}
	if c.Pipeline.LeaseTTL <= 0 {
		errs = append(errs, "PIPELINE_LEASE_TTL must be positive")
	}
	if c.Pipeline.PollInterval <= 0 {
		errs = append(errs, "PIPELINE_POLL_INTERVAL must be positive")
	}

	// Retention validation
	if c.Retention.LedgerRetentionDays <= 0 {
		errs = append(errs, "RETENTION_LEDGER_DAYS must be positive")
	}

	// Logging validation
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
// Sensitive values like the database URL and delivery token are masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	b.WriteString(fmt.Sprintf("Server: {Host: %q, Port: %d}, ", c.Server.Host, c.Server.Port))
	b.WriteString(fmt.Sprintf("Database: {Backend: %q, URL: [MASKED], MaxConns: %d, MinConns: %d}, ",
		c.Database.Backend, c.Database.MaxConns, c.Database.MinConns))
	b.WriteString(fmt.Sprintf("Delivery: {Endpoint: %q, Token: [MASKED], MaxAttempts: %d}, ",
		c.Delivery.EndpointURL, c.Delivery.MaxAttempts))
	b.WriteString(fmt.Sprintf("Pipeline: {SpoolDir: %q, MaxConcurrentFiles: %d, LeaseTTL: %v}, ",
		c.Pipeline.SpoolDir, c.Pipeline.MaxConcurrentFiles, c.Pipeline.LeaseTTL))
	b.WriteString(fmt.Sprintf("Logging: {Level: %q, Format: %q}",
		c.Logging.Level, c.Logging.Format))
	b.WriteString("}")
	return b.String()
}
