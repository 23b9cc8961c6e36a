package obakv

import (
	"fmt"

	"github.com/KilimcininKorOglu/obakv/internal/config"
	"github.com/KilimcininKorOglu/obakv/internal/logging"
	"github.com/KilimcininKorOglu/obakv/internal/storage"
	"github.com/KilimcininKorOglu/obakv/internal/storage/tx"
)

// Durability selects how hard a commit forces data to stable storage. The
// order in which pages and the meta page are written is the same in every
// mode; only the syncs differ.
type Durability int

const (
	// Durable syncs the pages, then the meta page.
	Durable Durability = iota
	// MetaLazy syncs the pages but not the meta page. A crash may lose the
	// last commits, never consistency.
	MetaLazy
	// Lazy forces nothing until Env.Sync.
	Lazy
)

// Aliases for the durability modes under their flag names.
const (
	NoMetaSync = MetaLazy
	NoSync     = Lazy
)

// String returns the string representation of the durability mode.
func (d Durability) String() string {
	switch d {
	case Durable:
		return "durable"
	case MetaLazy:
		return "metaLazy"
	case Lazy:
		return "lazy"
	default:
		return "unknown"
	}
}

// ParseDurability parses a durability mode name.
func ParseDurability(s string) (Durability, error) {
	switch s {
	case "", config.DurabilityDurable:
		return Durable, nil
	case config.DurabilityMetaLazy, config.DurabilityNoMetaSync:
		return MetaLazy, nil
	case config.DurabilityLazy, config.DurabilityNoSync:
		return Lazy, nil
	default:
		return 0, storage.NewError(storage.CodeInvalid, "durability", fmt.Errorf("unknown mode %q", s))
	}
}

// Default limits.
const (
	DefaultMaxTables     = 32
	DefaultMaxDirtyPages = 65536
)

// Options configures an Env.
type Options struct {
	// PageSize is used when creating a new file: a power of two in
	// [512, 32768]. Existing files keep theirs.
	PageSize int

	// Geometry, in bytes. Zero fields use the defaults.
	LowerSize  int64
	NowSize    int64
	UpperSize  int64
	GrowthSize int64

	Durability Durability

	ReadOnly  bool
	FixedMap  bool
	Exclusive bool

	// MaxReaders is the reader slot count of a new lock file.
	MaxReaders int
	// MaxTables bounds the number of named tables open at once.
	MaxTables int
	// MaxDirtyPages bounds the dirty page set of a write transaction.
	MaxDirtyPages int

	// Logger receives environment events. Nil uses a no-op logger.
	Logger logging.Logger
}

// DefaultOptions returns the default options.
func DefaultOptions() Options {
	return Options{
		PageSize:      storage.DefaultPageSize,
		LowerSize:     storage.DefaultLowerSize,
		NowSize:       storage.DefaultNowSize,
		UpperSize:     storage.DefaultUpperSize,
		GrowthSize:    storage.DefaultGrowthSize,
		Durability:    Durable,
		MaxReaders:    tx.DefaultMaxReaders,
		MaxTables:     DefaultMaxTables,
		MaxDirtyPages: DefaultMaxDirtyPages,
	}
}

// Validate checks the options, filling defaults for zero values.
func (o *Options) Validate() error {
	if o.PageSize == 0 {
		o.PageSize = storage.DefaultPageSize
	}
	if !storage.ValidPageSize(o.PageSize) {
		return storage.NewError(storage.CodeInvalid, "options", fmt.Errorf("page size %d", o.PageSize))
	}
	if o.Durability < Durable || o.Durability > Lazy {
		return storage.NewError(storage.CodeInvalid, "options", fmt.Errorf("durability %d", o.Durability))
	}
	if o.ReadOnly && o.Exclusive {
		return storage.NewError(storage.CodeInvalid, "options", fmt.Errorf("exclusive read-only open"))
	}
	if o.MaxReaders < 0 || o.MaxTables < 0 || o.MaxDirtyPages < 0 {
		return storage.NewError(storage.CodeInvalid, "options", fmt.Errorf("negative limit"))
	}
	if o.MaxReaders == 0 {
		o.MaxReaders = tx.DefaultMaxReaders
	}
	if o.MaxTables == 0 {
		o.MaxTables = DefaultMaxTables
	}
	if o.MaxDirtyPages == 0 {
		o.MaxDirtyPages = DefaultMaxDirtyPages
	}
	if o.Logger == nil {
		o.Logger = logging.NewNop()
	}
	return nil
}

// WithPageSize sets the page size.
func (o Options) WithPageSize(size int) Options {
	o.PageSize = size
	return o
}

// WithGeometry sets the geometry bounds in bytes.
func (o Options) WithGeometry(lower, now, upper, growth int64) Options {
	o.LowerSize, o.NowSize, o.UpperSize, o.GrowthSize = lower, now, upper, growth
	return o
}

// WithDurability sets the durability mode.
func (o Options) WithDurability(d Durability) Options {
	o.Durability = d
	return o
}

// WithReadOnly enables or disables read-only mode.
func (o Options) WithReadOnly(readOnly bool) Options {
	o.ReadOnly = readOnly
	return o
}

// WithFixedMap enables or disables the fixed-size mapping.
func (o Options) WithFixedMap(fixed bool) Options {
	o.FixedMap = fixed
	return o
}

// WithExclusive enables or disables exclusive access.
func (o Options) WithExclusive(exclusive bool) Options {
	o.Exclusive = exclusive
	return o
}

// WithMaxReaders sets the reader slot count.
func (o Options) WithMaxReaders(n int) Options {
	o.MaxReaders = n
	return o
}

// WithMaxTables sets the named table limit.
func (o Options) WithMaxTables(n int) Options {
	o.MaxTables = n
	return o
}

// WithMaxDirtyPages sets the dirty page limit of a write transaction.
func (o Options) WithMaxDirtyPages(n int) Options {
	o.MaxDirtyPages = n
	return o
}

// WithLogger sets the logger.
func (o Options) WithLogger(l logging.Logger) Options {
	o.Logger = l
	return o
}

func (o Options) fileOptions() storage.FileOptions {
	return storage.FileOptions{
		PageSize:   o.PageSize,
		LowerSize:  o.LowerSize,
		NowSize:    o.NowSize,
		UpperSize:  o.UpperSize,
		GrowthSize: o.GrowthSize,
		ReadOnly:   o.ReadOnly,
		FixedMap:   o.FixedMap,
		Exclusive:  o.Exclusive,
		Logger:     o.Logger,
	}
}

// OptionsFromConfig converts a loaded configuration into Options. The logger
// is built from the logging section.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	if errs := config.ValidateConfig(cfg); len(errs) > 0 {
		return Options{}, storage.NewError(storage.CodeInvalid, "config", errs[0])
	}
	s := cfg.Storage
	opts := DefaultOptions().
		WithPageSize(s.PageSize).
		WithReadOnly(s.ReadOnly).
		WithFixedMap(s.FixedMap).
		WithExclusive(s.Exclusive).
		WithMaxReaders(s.MaxReaders).
		WithMaxTables(s.MaxTables).
		WithMaxDirtyPages(s.MaxDirtyPages).
		WithLogger(logging.New(logging.Config{
			Level:  cfg.Logging.Level,
			Format: cfg.Logging.Format,
			Output: cfg.Logging.Output,
		}))

	var sizes [4]int64
	for i, v := range []string{s.Geometry.Lower, s.Geometry.Now, s.Geometry.Upper, s.Geometry.Growth} {
		n, err := config.ParseSize(v)
		if err != nil {
			return Options{}, storage.NewError(storage.CodeInvalid, "config", err)
		}
		sizes[i] = n
	}
	opts = opts.WithGeometry(sizes[0], sizes[1], sizes[2], sizes[3])

	d, err := ParseDurability(s.Durability)
	if err != nil {
		return Options{}, err
	}
	return opts.WithDurability(d), nil
}

// OpenConfigFile loads a YAML configuration file and opens the Env it
// describes.
func OpenConfigFile(path string) (*Env, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	opts, err := OptionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	return Open(cfg.Storage.Path, opts)
}
