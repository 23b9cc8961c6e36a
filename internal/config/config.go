package config

// Config holds the complete environment configuration.
type Config struct {
	Storage StorageConfig `yaml:"storage"`
	Logging LogConfig     `yaml:"logging"`
}

// StorageConfig holds the data file and environment limits.
type StorageConfig struct {
	Path          string         `yaml:"path"`
	PageSize      int            `yaml:"pageSize"`
	Geometry      GeometryConfig `yaml:"geometry"`
	Durability    string         `yaml:"durability"`
	MaxReaders    int            `yaml:"maxReaders"`
	MaxTables     int            `yaml:"maxTables"`
	MaxDirtyPages int            `yaml:"maxDirtyPages"`
	ReadOnly      bool           `yaml:"readOnly"`
	Exclusive     bool           `yaml:"exclusive"`
	FixedMap      bool           `yaml:"fixedMap"`
}

// GeometryConfig holds file size bounds as size strings ("64KB", "1GB").
type GeometryConfig struct {
	Lower  string `yaml:"lower"`
	Now    string `yaml:"now"`
	Upper  string `yaml:"upper"`
	Growth string `yaml:"growth"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Durability mode names accepted in storage.durability.
const (
	DurabilityDurable    = "durable"
	DurabilityMetaLazy   = "metaLazy"
	DurabilityNoMetaSync = "noMetaSync"
	DurabilityLazy       = "lazy"
	DurabilityNoSync     = "noSync"
)
