package storage

import (
	"encoding/binary"
)

// DefaultPageSize is the page size used when a new file does not request one.
const DefaultPageSize = 4096

// Page size bounds. Node offsets are 16 bits wide, which caps the page size.
const (
	MinPageSize = 512
	MaxPageSize = 32768
)

// PageHeaderSize is the size of the page header in bytes.
const PageHeaderSize = 16

// NumMetas is the number of meta pages at the start of the file.
const NumMetas = 2

// PageType represents the type of a page in the file.
type PageType uint8

const (
	// PageTypeFree marks a page that has never been written.
	PageTypeFree PageType = iota
	// PageTypeMeta is one of the two meta pages.
	PageTypeMeta
	// PageTypeBranch is an interior B+tree page.
	PageTypeBranch
	// PageTypeLeaf is a B+tree leaf page.
	PageTypeLeaf
	// PageTypeOverflow is the first page of a run holding one large value.
	PageTypeOverflow
	// PageTypeFreeLeaf is a leaf page of the freelist tree.
	PageTypeFreeLeaf
)

// String returns the string representation of a PageType.
func (pt PageType) String() string {
	switch pt {
	case PageTypeFree:
		return "Free"
	case PageTypeMeta:
		return "Meta"
	case PageTypeBranch:
		return "Branch"
	case PageTypeLeaf:
		return "Leaf"
	case PageTypeOverflow:
		return "Overflow"
	case PageTypeFreeLeaf:
		return "FreeLeaf"
	default:
		return "Unknown"
	}
}

// IsLeaf reports whether pages of this type hold leaf nodes.
func (pt PageType) IsLeaf() bool {
	return pt == PageTypeLeaf || pt == PageTypeFreeLeaf
}

// PageFlag represents flags for a page.
type PageFlag uint8

const (
	// PageFlagDupTree marks pages that belong to a sorted-duplicate subtree.
	PageFlagDupTree PageFlag = 1 << iota
)

// PageID is a page number. Byte offset = PageID * page size.
type PageID uint64

// PageHeader represents the header of each page (first 16 bytes).
// Layout:
//   - Bytes 0-7:   PageID (uint64)
//   - Byte 8:      PageType (uint8)
//   - Byte 9:      Flags (uint8)
//   - Bytes 10-11: Count (uint16), number of nodes
//   - Bytes 12-13: Lower (uint16), end of the node offset array
//   - Bytes 14-15: Upper (uint16), start of the packed node area
//
// Overflow pages store the run length in bytes 12-15 instead of Lower/Upper.
type PageHeader struct {
	PageID   PageID
	PageType PageType
	Flags    PageFlag
	Count    uint16
	Lower    uint16
	Upper    uint16
	Overflow uint32
}

// Serialize writes the PageHeader to buf.
// The slice must be at least PageHeaderSize bytes.
func (h *PageHeader) Serialize(buf []byte) {
	_ = buf[PageHeaderSize-1]
	binary.LittleEndian.PutUint64(buf[0:8], uint64(h.PageID))
	buf[8] = byte(h.PageType)
	buf[9] = byte(h.Flags)
	binary.LittleEndian.PutUint16(buf[10:12], h.Count)
	if h.PageType == PageTypeOverflow {
		binary.LittleEndian.PutUint32(buf[12:16], h.Overflow)
		return
	}
	binary.LittleEndian.PutUint16(buf[12:14], h.Lower)
	binary.LittleEndian.PutUint16(buf[14:16], h.Upper)
}

// Deserialize reads the PageHeader from buf.
func (h *PageHeader) Deserialize(buf []byte) error {
	if len(buf) < PageHeaderSize {
		return Corruptf("page header", "short buffer: %d bytes", len(buf))
	}

	h.PageID = PageID(binary.LittleEndian.Uint64(buf[0:8]))
	h.PageType = PageType(buf[8])
	h.Flags = PageFlag(buf[9])
	h.Count = binary.LittleEndian.Uint16(buf[10:12])
	if h.PageType == PageTypeOverflow {
		h.Overflow = binary.LittleEndian.Uint32(buf[12:16])
		h.Lower, h.Upper = 0, 0
		return nil
	}
	h.Overflow = 0
	h.Lower = binary.LittleEndian.Uint16(buf[12:14])
	h.Upper = binary.LittleEndian.Uint16(buf[14:16])
	return nil
}

// ReadPageHeader decodes the header of the page stored in buf and checks that
// it carries the expected page number.
func ReadPageHeader(buf []byte, id PageID) (PageHeader, error) {
	var h PageHeader
	if err := h.Deserialize(buf); err != nil {
		return h, err
	}
	if h.PageID != id {
		return h, Corruptf("page header", "page %d claims to be page %d", id, h.PageID)
	}
	return h, nil
}

// ValidPageSize reports whether size is a power of two within the supported bounds.
func ValidPageSize(size int) bool {
	return size >= MinPageSize && size <= MaxPageSize && size&(size-1) == 0
}

// OverflowPages returns how many pages a run holding n value bytes needs.
func OverflowPages(pageSize, n int) int {
	return (PageHeaderSize + n + pageSize - 1) / pageSize
}

// Node layout sizes shared by the tree code and the freelist.
const (
	// NodeOffsetSize is the size of one entry of the node offset array.
	NodeOffsetSize = 2
	// LeafNodeHeaderSize is flags u8, pad u8, key length u16, data length u32.
	LeafNodeHeaderSize = 8
	// BranchNodeHeaderSize is child u64, key length u16.
	BranchNodeHeaderSize = 10
	// OverflowRefSize is the leaf data of a big value: start page u64, length u32.
	OverflowRefSize = 12
)

// UsableSpace returns the bytes available for nodes and offsets in a page.
func UsableSpace(pageSize int) int {
	return pageSize - PageHeaderSize
}

// MaxNodeSize returns the largest a single node (offset included) may be, so
// that any two nodes fit in one page and a split always succeeds.
func MaxNodeSize(pageSize int) int {
	return UsableSpace(pageSize) / 2
}

// MaxKeySize returns the largest key accepted for the page size. A key must
// fit in a leaf node next to the largest fixed-size data it can carry, a tree
// record.
func MaxKeySize(pageSize int) int {
	return MaxNodeSize(pageSize) - NodeOffsetSize - LeafNodeHeaderSize - TreeRecordSize
}
