package btree

import (
	"encoding/binary"

	"github.com/KilimcininKorOglu/obakv/internal/storage"
)

func encodeRef(id storage.PageID, size int) []byte {
	ref := make([]byte, storage.OverflowRefSize)
	binary.LittleEndian.PutUint64(ref[0:8], uint64(id))
	binary.LittleEndian.PutUint32(ref[8:12], uint32(size))
	return ref
}

// DecodeRef decodes the leaf data of a big value.
func DecodeRef(ref []byte) (storage.PageID, int, error) {
	if len(ref) != storage.OverflowRefSize {
		return 0, 0, storage.Corruptf("overflow", "bad reference length %d", len(ref))
	}
	id := storage.PageID(binary.LittleEndian.Uint64(ref[0:8]))
	if id < storage.NumMetas {
		return 0, 0, storage.Corruptf("overflow", "reference to page %d", id)
	}
	return id, int(binary.LittleEndian.Uint32(ref[8:12])), nil
}

// allocOverflow allocates a run large enough for size value bytes.
func (t *Tree) allocOverflow(size int) (*Node, error) {
	pages := storage.OverflowPages(t.pager.PageSize(), size)
	n, err := t.pager.Alloc(storage.PageTypeOverflow, pages)
	if err != nil {
		return nil, err
	}
	n.PageFlags = t.pageFlags
	t.rec.OverflowPages += uint64(pages)
	return n, nil
}

// readOverflow returns the value a big-value reference points to.
func (t *Tree) readOverflow(ref []byte) ([]byte, error) {
	id, size, err := DecodeRef(ref)
	if err != nil {
		return nil, err
	}
	n, err := t.pager.Overflow(id)
	if err != nil {
		return nil, err
	}
	if storage.PageHeaderSize+size > len(n.Data) {
		return nil, storage.Corruptf("overflow", "value of %d bytes in a run of %d pages", size, n.Pages)
	}
	end := storage.PageHeaderSize + size
	return n.Data[storage.PageHeaderSize:end:end], nil
}

// freeOverflowRef frees the run a big-value reference points to.
func (t *Tree) freeOverflowRef(ref []byte) error {
	id, size, err := DecodeRef(ref)
	if err != nil {
		return err
	}
	pages := storage.OverflowPages(t.pager.PageSize(), size)
	t.rec.OverflowPages -= uint64(pages)
	return t.pager.Free(id, pages)
}
