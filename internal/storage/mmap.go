package storage

import (
	"errors"
	"sync/atomic"
)

// Mapping errors.
var (
	ErrMmapReleased = errors.New("mapping already released")
)

// Mapping is a reference-counted read view of the data file. A transaction
// retains the mapping it started on, so a mapping replaced after the file
// grows stays valid until the last transaction using it ends.
type Mapping struct {
	data []byte
	refs atomic.Int32
}

func newMapping(data []byte) *Mapping {
	m := &Mapping{data: data}
	m.refs.Store(1)
	return m
}

// Len returns the mapped size in bytes.
func (m *Mapping) Len() int {
	return len(m.data)
}

// Data returns the mapped bytes. Callers must not write to them.
func (m *Mapping) Data() []byte {
	return m.data
}

// Retain adds a reference.
func (m *Mapping) Retain() {
	m.refs.Add(1)
}

// Release drops a reference and unmaps the region when none remain.
func (m *Mapping) Release() error {
	n := m.refs.Add(-1)
	if n > 0 {
		return nil
	}
	if n < 0 {
		return ErrMmapReleased
	}
	data := m.data
	m.data = nil
	return unmapRegion(data)
}

// Page returns the bytes of one page.
func (m *Mapping) Page(id PageID, pageSize int) ([]byte, error) {
	return m.Pages(id, 1, pageSize)
}

// Pages returns the bytes of n contiguous pages starting at id.
func (m *Mapping) Pages(id PageID, n, pageSize int) ([]byte, error) {
	start := uint64(id) * uint64(pageSize)
	end := start + uint64(n)*uint64(pageSize)
	if n <= 0 || end > uint64(len(m.data)) || end < start {
		return nil, Corruptf("mapping", "pages %d+%d beyond mapped size %d", id, n, len(m.data))
	}
	return m.data[start:end:end], nil
}
