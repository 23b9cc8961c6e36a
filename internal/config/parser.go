package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Parser errors.
var (
	ErrInvalidYAML  = errors.New("invalid YAML format")
	ErrFileNotFound = errors.New("configuration file not found")
	ErrInvalidSize  = errors.New("invalid size format")
)

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// LoadConfig loads configuration from a file path.
// It reads the file, substitutes environment variables, parses YAML,
// and applies defaults for missing values.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrFileNotFound
		}
		return nil, err
	}

	return ParseConfig(data)
}

// ParseConfig parses configuration from YAML data. Keys absent from data keep
// their defaults; unknown keys are rejected.
func ParseConfig(data []byte) (*Config, error) {
	data = substituteEnvVars(data)

	config := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(config); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return config, nil
}

// WriteFile saves the configuration to path as YAML.
func (c *Config) WriteFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// substituteEnvVars replaces ${VAR} and ${VAR:-default} patterns with environment variable values.
func substituteEnvVars(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		content := string(match[2 : len(match)-1])

		if idx := strings.Index(content, ":-"); idx != -1 {
			if val := os.Getenv(content[:idx]); val != "" {
				return []byte(val)
			}
			return []byte(content[idx+2:])
		}

		return []byte(os.Getenv(content))
	})
}

var sizeSuffixes = []struct {
	suffix string
	mult   int64
}{
	{"TB", 1 << 40},
	{"GB", 1 << 30},
	{"MB", 1 << 20},
	{"KB", 1 << 10},
	{"B", 1},
}

// ParseSize parses a size string like "256MB" or "1GB". A bare number is
// bytes and the empty string is zero.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "" {
		return 0, nil
	}

	mult := int64(1)
	for _, sfx := range sizeSuffixes {
		if strings.HasSuffix(s, sfx.suffix) {
			s = strings.TrimSpace(strings.TrimSuffix(s, sfx.suffix))
			mult = sfx.mult
			break
		}
	}

	var num int64
	var rest string
	n, _ := fmt.Sscanf(s, "%d%s", &num, &rest)
	if n != 1 || num < 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSize, s)
	}
	if num > (1<<62)/mult {
		return 0, fmt.Errorf("%w: %q overflows", ErrInvalidSize, s)
	}
	return num * mult, nil
}
