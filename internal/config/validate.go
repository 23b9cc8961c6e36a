package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateConfig validates the configuration and returns a list of validation errors.
// An empty slice indicates the configuration is valid.
func ValidateConfig(config *Config) []error {
	var errs []error

	errs = append(errs, validateStorageConfig(&config.Storage)...)
	errs = append(errs, validateLogConfig(&config.Logging)...)

	return errs
}

// validateStorageConfig validates storage configuration.
func validateStorageConfig(config *StorageConfig) []error {
	var errs []error

	if config.Path == "" {
		errs = append(errs, ValidationError{
			Field:   "storage.path",
			Message: "data file path is required",
		})
	}

	ps := config.PageSize
	if ps != 0 && (ps < 512 || ps > 32768 || ps&(ps-1) != 0) {
		errs = append(errs, ValidationError{
			Field:   "storage.pageSize",
			Message: "must be a power of two between 512 and 32768",
		})
	}

	sizes := make(map[string]int64, 4)
	for _, f := range []struct {
		name  string
		value string
	}{
		{"lower", config.Geometry.Lower},
		{"now", config.Geometry.Now},
		{"upper", config.Geometry.Upper},
		{"growth", config.Geometry.Growth},
	} {
		n, err := ParseSize(f.value)
		if err != nil {
			errs = append(errs, ValidationError{
				Field:   "storage.geometry." + f.name,
				Message: err.Error(),
			})
			continue
		}
		sizes[f.name] = n
	}
	if len(sizes) == 4 {
		lower, now, upper := sizes["lower"], sizes["now"], sizes["upper"]
		if lower > 0 && now > 0 && now < lower {
			errs = append(errs, ValidationError{
				Field:   "storage.geometry.now",
				Message: "must not be smaller than lower",
			})
		}
		if upper > 0 && now > 0 && upper < now {
			errs = append(errs, ValidationError{
				Field:   "storage.geometry.upper",
				Message: "must not be smaller than now",
			})
		}
	}

	switch config.Durability {
	case "", DurabilityDurable, DurabilityMetaLazy, DurabilityNoMetaSync, DurabilityLazy, DurabilityNoSync:
	default:
		errs = append(errs, ValidationError{
			Field:   "storage.durability",
			Message: "must be durable, metaLazy, noMetaSync, lazy, or noSync",
		})
	}

	for _, f := range []struct {
		name  string
		value int
	}{
		{"storage.maxReaders", config.MaxReaders},
		{"storage.maxTables", config.MaxTables},
		{"storage.maxDirtyPages", config.MaxDirtyPages},
	} {
		if f.value < 0 {
			errs = append(errs, ValidationError{
				Field:   f.name,
				Message: "must be non-negative",
			})
		}
	}

	if config.ReadOnly && config.Exclusive {
		errs = append(errs, ValidationError{
			Field:   "storage.exclusive",
			Message: "cannot be combined with readOnly",
		})
	}

	return errs
}

// validateLogConfig validates logging configuration.
func validateLogConfig(config *LogConfig) []error {
	var errs []error

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if config.Level != "" && !validLevels[strings.ToLower(config.Level)] {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: "must be debug, info, warn, or error",
		})
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if config.Format != "" && !validFormats[strings.ToLower(config.Format)] {
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: "must be text or json",
		})
	}

	if config.Output != "" && config.Output != "stdout" && config.Output != "stderr" {
		dir := filepath.Dir(config.Output)
		if !filepath.IsAbs(config.Output) {
			errs = append(errs, ValidationError{
				Field:   "logging.output",
				Message: "must be stdout, stderr, or an absolute file path",
			})
		} else if _, err := os.Stat(dir); os.IsNotExist(err) {
			errs = append(errs, ValidationError{
				Field:   "logging.output",
				Message: fmt.Sprintf("directory %s does not exist", dir),
			})
		}
	}

	return errs
}
