package config

import (
	"fmt"
	"strings"

	"github.com/hed1ad/gpuwatch/pkg/io/sqldb"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

// Validate validates the configuration and returns every problem found.
func (c *Config) Validate() []error {
	var errs []error
	add := func(field, format string, args ...any) {
		errs = append(errs, &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if c.Dataset.Location == "" {
		add("dataset.location", "dataset location is required")
	}
	if !sqldb.ValidIdentifier(c.Dataset.Table) {
		add("dataset.table", "invalid table name %q", c.Dataset.Table)
	}
	if !sqldb.ValidIdentifier(c.Output.Table) {
		add("output.table", "invalid table name %q", c.Output.Table)
	}

	if c.Artifacts.Location == "" {
		add("artifacts.location", "artifacts location is required")
	} else if strings.HasPrefix(c.Artifacts.Location, "s3://") && c.Artifacts.S3.Endpoint == "" {
		add("artifacts.s3.endpoint", "endpoint is required for s3:// locations")
	}

	if c.Model.NEstimators < 1 {
		add("model.n_estimators", "must be at least 1, got %d", c.Model.NEstimators)
	}
	if c.Model.Contamination <= 0 || c.Model.Contamination > 0.5 {
		add("model.contamination", "must be in (0, 0.5], got %g", c.Model.Contamination)
	}
	if c.Model.MaxSamples < 2 {
		add("model.max_samples", "must be at least 2, got %d", c.Model.MaxSamples)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		add("logging.level", "must be one of debug, info, warn, error; got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		add("logging.format", "must be json or console, got %q", c.Logging.Format)
	}

	return errs
}
