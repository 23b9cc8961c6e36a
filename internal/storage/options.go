package storage

import (
	"fmt"

	"github.com/KilimcininKorOglu/obakv/internal/logging"
)

// Geometry bounds the size of the data file, in pages.
type Geometry struct {
	// Lower is the minimum file size.
	Lower uint64
	// Now is the size a new file is created with.
	Now uint64
	// Upper is the maximum file size; allocation past it fails with MapFull.
	Upper uint64
	// Growth is the step the file is extended by.
	Growth uint64
}

// Default geometry, in bytes.
const (
	DefaultLowerSize  = 64 * 1024
	DefaultNowSize    = 1 << 20
	DefaultUpperSize  = 1 << 32
	DefaultGrowthSize = 1 << 20
)

// GeometryFromBytes converts byte sizes to a page Geometry, rounding up to
// whole pages and filling in defaults for zero values.
func GeometryFromBytes(pageSize int, lower, now, upper, growth int64) Geometry {
	if lower <= 0 {
		lower = DefaultLowerSize
	}
	if now <= 0 {
		now = DefaultNowSize
	}
	if upper <= 0 {
		upper = DefaultUpperSize
	}
	if growth <= 0 {
		growth = DefaultGrowthSize
	}
	ps := int64(pageSize)
	pages := func(n int64) uint64 { return uint64((n + ps - 1) / ps) }
	g := Geometry{
		Lower:  pages(lower),
		Now:    pages(now),
		Upper:  pages(upper),
		Growth: pages(growth),
	}
	if g.Lower < NumMetas {
		g.Lower = NumMetas
	}
	if g.Now < g.Lower {
		g.Now = g.Lower
	}
	if g.Upper < g.Now {
		g.Upper = g.Now
	}
	if g.Growth == 0 {
		g.Growth = 1
	}
	return g
}

// Validate checks the geometry for consistency.
func (g Geometry) Validate() error {
	if g.Lower < NumMetas || g.Now < g.Lower || g.Upper < g.Now || g.Growth == 0 {
		return NewError(CodeInvalid, "geometry", fmt.Errorf("lower=%d now=%d upper=%d growth=%d", g.Lower, g.Now, g.Upper, g.Growth))
	}
	return nil
}

// FileOptions configures how the data file is opened.
type FileOptions struct {
	// PageSize is used when creating a new file. Existing files keep theirs.
	PageSize int

	// Geometry bounds the file size, in bytes. Zero fields use defaults.
	LowerSize  int64
	NowSize    int64
	UpperSize  int64
	GrowthSize int64

	// ReadOnly opens the file without write access.
	ReadOnly bool

	// FixedMap maps the geometry upper bound once so the mapping address
	// never changes.
	FixedMap bool

	// Exclusive takes an exclusive lock on the file; other openers fail with Busy.
	Exclusive bool

	// Logger receives file-level events. Nil uses a no-op logger.
	Logger logging.Logger
}

// DefaultFileOptions returns the default file options.
func DefaultFileOptions() FileOptions {
	return FileOptions{
		PageSize:   DefaultPageSize,
		LowerSize:  DefaultLowerSize,
		NowSize:    DefaultNowSize,
		UpperSize:  DefaultUpperSize,
		GrowthSize: DefaultGrowthSize,
	}
}

// Validate validates the options, filling defaults for zero values.
func (o *FileOptions) Validate() error {
	if o.PageSize == 0 {
		o.PageSize = DefaultPageSize
	}
	if !ValidPageSize(o.PageSize) {
		return NewError(CodeInvalid, "options", fmt.Errorf("page size %d", o.PageSize))
	}
	if o.Logger == nil {
		o.Logger = logging.NewNop()
	}
	return nil
}

// WithPageSize sets the page size.
func (o FileOptions) WithPageSize(size int) FileOptions {
	o.PageSize = size
	return o
}

// WithGeometry sets the geometry bounds in bytes.
func (o FileOptions) WithGeometry(lower, now, upper, growth int64) FileOptions {
	o.LowerSize, o.NowSize, o.UpperSize, o.GrowthSize = lower, now, upper, growth
	return o
}

// WithReadOnly enables or disables read-only mode.
func (o FileOptions) WithReadOnly(readOnly bool) FileOptions {
	o.ReadOnly = readOnly
	return o
}
