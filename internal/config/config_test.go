package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.Equal(t, 4096, config.Storage.PageSize)
	assert.Equal(t, DurabilityDurable, config.Storage.Durability)
	assert.Equal(t, 126, config.Storage.MaxReaders)
	assert.Equal(t, "4GB", config.Storage.Geometry.Upper)
	assert.Equal(t, "info", config.Logging.Level)

	// Only the path is missing.
	errs := ValidateConfig(config)
	require.Len(t, errs, 1)
	assert.Equal(t, "storage.path", errs[0].(ValidationError).Field)
}

func TestParseConfig(t *testing.T) {
	data := []byte(`
storage:
  path: /data/store.obk
  pageSize: 8192
  geometry:
    upper: 16MB
  durability: lazy
  maxReaders: 10
logging:
  level: debug
  format: json
`)
	config, err := ParseConfig(data)
	require.NoError(t, err)

	assert.Equal(t, "/data/store.obk", config.Storage.Path)
	assert.Equal(t, 8192, config.Storage.PageSize)
	assert.Equal(t, "16MB", config.Storage.Geometry.Upper)
	assert.Equal(t, "1MB", config.Storage.Geometry.Now, "unset keys keep defaults")
	assert.Equal(t, DurabilityLazy, config.Storage.Durability)
	assert.Equal(t, 10, config.Storage.MaxReaders)
	assert.Equal(t, 32, config.Storage.MaxTables)
	assert.Equal(t, "debug", config.Logging.Level)
	assert.Equal(t, "json", config.Logging.Format)
	assert.Empty(t, ValidateConfig(config))
}

func TestParseConfigEmpty(t *testing.T) {
	config, err := ParseConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), config)
}

func TestParseConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"unknown key", "storage:\n  walDir: /tmp\n"},
		{"wrong type", "storage:\n  pageSize: big\n"},
		{"unclosed flow", "storage: [path\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.data))
			assert.ErrorIs(t, err, ErrInvalidYAML)
		})
	}
}

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("OBAKV_TEST_PATH", "/srv/kv.obk")
	t.Setenv("OBAKV_TEST_EMPTY", "")

	tests := []struct {
		input    string
		expected string
	}{
		{"path: ${OBAKV_TEST_PATH}", "path: /srv/kv.obk"},
		{"path: ${OBAKV_TEST_PATH:-/tmp/x}", "path: /srv/kv.obk"},
		{"path: ${OBAKV_TEST_EMPTY:-/tmp/x}", "path: /tmp/x"},
		{"path: ${OBAKV_TEST_UNSET_VAR}", "path: "},
		{"path: plain", "path: plain"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, string(substituteEnvVars([]byte(tt.input))))
		})
	}
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("OBAKV_TEST_DIR", "/var/lib/kv")
	path := filepath.Join(t.TempDir(), "obakv.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  path: ${OBAKV_TEST_DIR}/data.obk\n"), 0644))

	config, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/kv/data.obk", config.Storage.Path)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestWriteFileRoundTrip(t *testing.T) {
	config := DefaultConfig()
	config.Storage.Path = "/data/a.obk"
	config.Storage.FixedMap = true
	config.Logging.Format = "json"

	path := filepath.Join(t.TempDir(), "out.yaml")
	require.NoError(t, config.WriteFile(path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, config, loaded)
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		input    string
		expected int64
		wantErr  bool
	}{
		{"", 0, false},
		{"512", 512, false},
		{"512B", 512, false},
		{"64KB", 64 << 10, false},
		{"64kb", 64 << 10, false},
		{"256MB", 256 << 20, false},
		{"4GB", 4 << 30, false},
		{"2TB", 2 << 40, false},
		{" 8 MB ", 8 << 20, false},
		{"1.5GB", 0, true},
		{"MB", 0, true},
		{"-1KB", 0, true},
		{"12XB", 0, true},
		{"99999999999TB", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseSize(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidSize)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		field  string
	}{
		{"page size not power of two", func(c *Config) { c.Storage.PageSize = 5000 }, "storage.pageSize"},
		{"page size too small", func(c *Config) { c.Storage.PageSize = 256 }, "storage.pageSize"},
		{"bad geometry size", func(c *Config) { c.Storage.Geometry.Upper = "lots" }, "storage.geometry.upper"},
		{"now below lower", func(c *Config) { c.Storage.Geometry.Now = "32KB" }, "storage.geometry.now"},
		{"upper below now", func(c *Config) { c.Storage.Geometry.Upper = "512KB" }, "storage.geometry.upper"},
		{"durability", func(c *Config) { c.Storage.Durability = "sometimes" }, "storage.durability"},
		{"negative readers", func(c *Config) { c.Storage.MaxReaders = -1 }, "storage.maxReaders"},
		{"exclusive read-only", func(c *Config) { c.Storage.ReadOnly, c.Storage.Exclusive = true, true }, "storage.exclusive"},
		{"log level", func(c *Config) { c.Logging.Level = "trace" }, "logging.level"},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"relative log output", func(c *Config) { c.Logging.Output = "kv.log" }, "logging.output"},
		{"log dir missing", func(c *Config) { c.Logging.Output = "/nonexistent-obakv-dir/kv.log" }, "logging.output"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			config.Storage.Path = "/data/store.obk"
			tt.modify(config)

			errs := ValidateConfig(config)
			require.Len(t, errs, 1)
			var verr ValidationError
			require.ErrorAs(t, errs[0], &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}
