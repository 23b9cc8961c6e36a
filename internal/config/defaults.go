package config

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Path:     "",
			PageSize: 4096,
			Geometry: GeometryConfig{
				Lower:  "64KB",
				Now:    "1MB",
				Upper:  "4GB",
				Growth: "1MB",
			},
			Durability:    DurabilityDurable,
			MaxReaders:    126,
			MaxTables:     32,
			MaxDirtyPages: 65536,
		},
		Logging: LogConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}
