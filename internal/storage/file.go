package storage

import (
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/KilimcininKorOglu/obakv/internal/logging"
)

// maxWriteBatch bounds the scratch buffer used to coalesce contiguous pages
// into one write.
const maxWriteBatch = 1 << 20

// PageBuf is an encoded page (or overflow run) ready to be written.
type PageBuf struct {
	ID   PageID
	Data []byte
}

// File is the Storage Manager: it owns the data file, its geometry and the
// current memory mapping.
type File struct {
	path     string
	file     *os.File
	pageSize int
	geo      Geometry
	readOnly bool
	fixedMap bool
	log      logging.Logger

	mu     sync.Mutex // guards cur, size and closed
	cur    *Mapping
	size   int64
	closed bool
}

// Open opens or creates the data file at path. A new file gets two empty meta
// pages; an existing file must have at least one valid meta page.
func Open(path string, opts FileOptions) (*File, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	flag := os.O_RDWR | os.O_CREATE
	if opts.ReadOnly {
		flag = os.O_RDONLY
	}
	osf, err := os.OpenFile(path, flag, 0644)
	if err != nil {
		return nil, err
	}
	if err := lockFile(osf, opts.Exclusive); err != nil {
		osf.Close()
		return nil, err
	}

	f := &File{
		path:     path,
		file:     osf,
		readOnly: opts.ReadOnly,
		fixedMap: opts.FixedMap,
		log:      opts.Logger.WithFields("file", path),
	}
	if err := f.load(opts); err != nil {
		unlockFile(osf)
		osf.Close()
		return nil, err
	}
	return f, nil
}

func (f *File) load(opts FileOptions) error {
	info, err := f.file.Stat()
	if err != nil {
		return err
	}
	f.size = info.Size()

	if f.size == 0 {
		if f.readOnly {
			return NewError(CodeInvalid, "open", fmt.Errorf("%s is empty", f.path))
		}
		f.pageSize = opts.PageSize
		f.geo = GeometryFromBytes(f.pageSize, opts.LowerSize, opts.NowSize, opts.UpperSize, opts.GrowthSize)
		if err := f.initialize(); err != nil {
			return err
		}
	} else {
		ps, err := f.detectPageSize()
		if err != nil {
			return err
		}
		if ps != opts.PageSize {
			f.log.Debug("using page size of existing file", "page_size", ps, "requested", opts.PageSize)
		}
		f.pageSize = ps
		f.geo = GeometryFromBytes(ps, opts.LowerSize, opts.NowSize, opts.UpperSize, opts.GrowthSize)
	}

	if err := f.geo.Validate(); err != nil {
		return err
	}
	filePages := uint64(f.size) / uint64(f.pageSize)
	if f.geo.Upper < filePages {
		f.geo.Upper = filePages
	}

	mapSize := int(f.size)
	if f.fixedMap {
		mapSize = int(f.geo.Upper) * f.pageSize
	}
	data, err := mapRegion(f.file, mapSize)
	if err != nil {
		return err
	}
	f.cur = newMapping(data)

	cur, _, err := f.Metas()
	if err != nil {
		f.cur.Release()
		return err
	}
	if int64(cur.LastPgno)*int64(f.pageSize) > f.size {
		f.cur.Release()
		return Corruptf("open", "high-water mark %d beyond file size %d", cur.LastPgno, f.size)
	}
	f.log.Debug("opened data file", "page_size", f.pageSize, "txnid", cur.Txnid, "pages", cur.LastPgno)
	return nil
}

// initialize writes two empty metas to a new file. Slot 1 starts current so
// that the writer of txnid n always targets slot n%2.
func (f *File) initialize() error {
	size := int64(f.geo.Now) * int64(f.pageSize)
	if err := f.file.Truncate(size); err != nil {
		return err
	}
	f.size = size

	buf := make([]byte, NumMetas*f.pageSize)
	for slot := 0; slot < NumMetas; slot++ {
		m := NewMeta(f.pageSize, f.geo, uint64(slot))
		m.Serialize(buf[slot*f.pageSize:(slot+1)*f.pageSize], slot)
	}
	if _, err := f.file.WriteAt(buf, 0); err != nil {
		return err
	}
	f.log.Info("initialized data file", "page_size", f.pageSize, "upper_pages", f.geo.Upper)
	return syncFile(f.file)
}

// detectPageSize reads the page size from meta 0, or from meta 1 by probing
// every supported page size when meta 0 is damaged.
func (f *File) detectPageSize() (int, error) {
	buf := make([]byte, 2*MaxPageSize)
	n, err := f.file.ReadAt(buf, 0)
	if err != nil && err != io.EOF {
		return 0, err
	}
	buf = buf[:n]

	if m, err := DeserializeMeta(buf, 0); err == nil {
		return int(m.PageSize), nil
	}
	for ps := MinPageSize; ps <= MaxPageSize; ps <<= 1 {
		if ps+PageHeaderSize+MetaSize > len(buf) {
			break
		}
		if m, err := DeserializeMeta(buf[ps:], 1); err == nil && int(m.PageSize) == ps {
			f.log.Warn("meta page 0 is damaged, page size taken from meta page 1", "page_size", ps)
			return ps, nil
		}
	}
	return 0, Corruptf("open", "no valid meta page in %s", f.path)
}

// Path returns the file path.
func (f *File) Path() string { return f.path }

// PageSize returns the page size of the file.
func (f *File) PageSize() int { return f.pageSize }

// Geometry returns the file geometry in pages.
func (f *File) Geometry() Geometry { return f.geo }

// ReadOnly reports whether the file was opened read-only.
func (f *File) ReadOnly() bool { return f.readOnly }

// Size returns the current file size in bytes.
func (f *File) Size() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.size
}

// Mapping returns the current mapping with an extra reference. The caller
// must Release it.
func (f *File) Mapping() *Mapping {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cur.Retain()
	return f.cur
}

// Metas reads both meta slots through the current mapping and returns the
// current snapshot and the fallback (nil when the other slot is invalid).
func (f *File) Metas() (cur, fallback *Meta, err error) {
	m := f.Mapping()
	defer m.Release()

	metas, errs := ReadMetas(m.Data(), f.pageSize)
	idx, err := PickMeta(metas)
	if err != nil {
		return nil, nil, err
	}
	other := 1 - idx
	if metas[other] == nil {
		f.log.Debug("meta slot invalid", "slot", other, "error", errs[other])
	}
	return metas[idx], metas[other], nil
}

// EnsureMapped makes the current mapping cover at least pages pages,
// remapping when the file was grown by this or another process.
func (f *File) EnsureMapped(pages PageID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	need := int64(pages) * int64(f.pageSize)
	if int64(f.cur.Len()) >= need {
		return nil
	}
	if f.fixedMap {
		return NewError(CodeMapFull, "remap", fmt.Errorf("%d pages exceed the fixed mapping", pages))
	}
	info, err := f.file.Stat()
	if err != nil {
		return err
	}
	if info.Size() < need {
		return Corruptf("remap", "file size %d below high-water mark %d", info.Size(), pages)
	}
	data, err := mapRegion(f.file, int(info.Size()))
	if err != nil {
		return err
	}
	old := f.cur
	f.cur = newMapping(data)
	f.size = info.Size()
	f.log.Debug("remapped data file", "bytes", info.Size())
	return old.Release()
}

// Grow extends the file so that pages pages fit, in geometry growth steps.
// It fails with MapFull when the geometry upper bound would be exceeded.
func (f *File) Grow(pages PageID) error {
	if uint64(pages) > f.geo.Upper {
		return NewError(CodeMapFull, "grow", fmt.Errorf("%d pages requested, upper bound %d", pages, f.geo.Upper))
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	need := int64(pages) * int64(f.pageSize)
	if f.size >= need {
		return nil
	}
	// Another process may have grown the file already; never truncate below it.
	info, err := f.file.Stat()
	if err != nil {
		return err
	}
	if f.size = info.Size(); f.size >= need {
		return nil
	}
	if f.readOnly {
		return ErrReadOnly
	}
	step := int64(f.geo.Growth) * int64(f.pageSize)
	size := (need + step - 1) / step * step
	if limit := int64(f.geo.Upper) * int64(f.pageSize); size > limit {
		size = limit
	}
	if err := f.file.Truncate(size); err != nil {
		return err
	}
	f.log.Debug("grew data file", "from", f.size, "to", size)
	f.size = size
	return nil
}

// WritePages writes encoded pages at their offsets. Contiguous pages are
// coalesced into a single write.
func (f *File) WritePages(pages []PageBuf) error {
	if f.readOnly {
		return ErrReadOnly
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].ID < pages[j].ID })

	ps := int64(f.pageSize)
	batch := make([]byte, 0, maxWriteBatch)
	var start int64 = -1
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		_, err := f.file.WriteAt(batch, start)
		batch = batch[:0]
		return err
	}

	for _, p := range pages {
		off := int64(p.ID) * ps
		if len(batch) > 0 && (off != start+int64(len(batch)) || len(batch)+len(p.Data) > maxWriteBatch) {
			if err := flush(); err != nil {
				return err
			}
		}
		if len(p.Data) >= maxWriteBatch {
			if _, err := f.file.WriteAt(p.Data, off); err != nil {
				return err
			}
			continue
		}
		if len(batch) == 0 {
			start = off
		}
		batch = append(batch, p.Data...)
	}
	return flush()
}

// WriteMeta writes m into its slot.
func (f *File) WriteMeta(m *Meta, slot int) error {
	if f.readOnly {
		return ErrReadOnly
	}
	buf := make([]byte, f.pageSize)
	m.Serialize(buf, slot)
	_, err := f.file.WriteAt(buf, int64(slot)*int64(f.pageSize))
	return err
}

// Sync forces written pages to stable storage.
func (f *File) Sync() error {
	if f.readOnly {
		return nil
	}
	return syncFile(f.file)
}

// Close releases the mapping and the file.
func (f *File) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	cur := f.cur
	f.mu.Unlock()

	err := cur.Release()
	unlockFile(f.file)
	if cerr := f.file.Close(); err == nil {
		err = cerr
	}
	return err
}
