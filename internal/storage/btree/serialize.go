package btree

import (
	"encoding/binary"

	"github.com/KilimcininKorOglu/obakv/internal/storage"
)

// Page layout of branch and leaf pages:
//   - Bytes 0-15:  storage.PageHeader (Lower = 16 + 2*Count)
//   - Offsets:     Count little-endian uint16 node offsets, in key order
//   - Free space
//   - Nodes:       packed from the end of the page, starting at Upper
//
// Leaf node:   flags u8 | pad u8 | klen u16 | dlen u32 | key | data
// Branch node: child u64 | klen u16 | key

// Decode decodes the branch or leaf page id stored in buf. The returned node
// aliases buf.
func Decode(buf []byte, id storage.PageID) (*Node, error) {
	hdr, err := storage.ReadPageHeader(buf, id)
	if err != nil {
		return nil, err
	}
	switch hdr.PageType {
	case storage.PageTypeBranch, storage.PageTypeLeaf, storage.PageTypeFreeLeaf:
	default:
		return nil, storage.Corruptf("decode", "page %d: unexpected type %s", id, hdr.PageType)
	}

	count := int(hdr.Count)
	lower, upper := int(hdr.Lower), int(hdr.Upper)
	if lower != storage.PageHeaderSize+storage.NodeOffsetSize*count || upper < lower || upper > len(buf) {
		return nil, storage.Corruptf("decode", "page %d: bad bounds lower=%d upper=%d count=%d", id, lower, upper, count)
	}

	n := &Node{
		ID:        id,
		Type:      hdr.PageType,
		PageFlags: hdr.Flags,
		Pages:     1,
		Keys:      make([][]byte, count),
	}
	leaf := n.IsLeaf()
	if leaf {
		n.Vals = make([][]byte, count)
		n.Flags = make([]uint8, count)
	} else {
		if count == 0 {
			return nil, storage.Corruptf("decode", "page %d: empty branch", id)
		}
		n.Children = make([]storage.PageID, count)
	}

	for i := 0; i < count; i++ {
		off := int(binary.LittleEndian.Uint16(buf[storage.PageHeaderSize+2*i:]))
		if off < upper {
			return nil, storage.Corruptf("decode", "page %d: node %d offset %d below upper %d", id, i, off, upper)
		}
		if leaf {
			if off+storage.LeafNodeHeaderSize > len(buf) {
				return nil, storage.Corruptf("decode", "page %d: node %d header out of page", id, i)
			}
			flags := buf[off]
			klen := int(binary.LittleEndian.Uint16(buf[off+2:]))
			dlen := int(binary.LittleEndian.Uint32(buf[off+4:]))
			kstart := off + storage.LeafNodeHeaderSize
			if kstart+klen+dlen > len(buf) {
				return nil, storage.Corruptf("decode", "page %d: node %d data out of page", id, i)
			}
			n.Flags[i] = flags
			n.Keys[i] = buf[kstart : kstart+klen : kstart+klen]
			n.Vals[i] = buf[kstart+klen : kstart+klen+dlen : kstart+klen+dlen]
			continue
		}
		if off+storage.BranchNodeHeaderSize > len(buf) {
			return nil, storage.Corruptf("decode", "page %d: node %d header out of page", id, i)
		}
		child := storage.PageID(binary.LittleEndian.Uint64(buf[off:]))
		klen := int(binary.LittleEndian.Uint16(buf[off+8:]))
		kstart := off + storage.BranchNodeHeaderSize
		if kstart+klen > len(buf) {
			return nil, storage.Corruptf("decode", "page %d: node %d key out of page", id, i)
		}
		if child < storage.NumMetas {
			return nil, storage.Corruptf("decode", "page %d: node %d points to page %d", id, i, child)
		}
		n.Children[i] = child
		n.Keys[i] = buf[kstart : kstart+klen : kstart+klen]
	}
	return n, nil
}

// DecodeOverflow decodes the header of the overflow run starting at id. buf
// must hold the whole run; the returned node's Data aliases it.
func DecodeOverflow(buf []byte, id storage.PageID, pageSize int) (*Node, error) {
	hdr, err := storage.ReadPageHeader(buf, id)
	if err != nil {
		return nil, err
	}
	if hdr.PageType != storage.PageTypeOverflow || hdr.Overflow == 0 {
		return nil, storage.Corruptf("decode", "page %d: not an overflow run", id)
	}
	if int(hdr.Overflow)*pageSize > len(buf) {
		return nil, storage.Corruptf("decode", "page %d: run of %d pages truncated", id, hdr.Overflow)
	}
	size := int(hdr.Overflow) * pageSize
	return &Node{
		ID:        id,
		Type:      storage.PageTypeOverflow,
		PageFlags: hdr.Flags,
		Pages:     int(hdr.Overflow),
		Data:      buf[:size:size],
	}, nil
}

// OverflowPagesAt reads the run length from the first page of an overflow run.
func OverflowPagesAt(first []byte, id storage.PageID) (int, error) {
	hdr, err := storage.ReadPageHeader(first, id)
	if err != nil {
		return 0, err
	}
	if hdr.PageType != storage.PageTypeOverflow || hdr.Overflow == 0 {
		return 0, storage.Corruptf("decode", "page %d: not an overflow run", id)
	}
	return int(hdr.Overflow), nil
}

// Encode writes n into buf, which must be one zeroed page (Pages pages for an
// overflow run).
func (n *Node) Encode(buf []byte) error {
	if n.Type == storage.PageTypeOverflow {
		if len(n.Data) > len(buf) {
			return storage.NewError(storage.CodePanic, "encode", nil)
		}
		copy(buf, n.Data)
		hdr := storage.PageHeader{PageID: n.ID, PageType: n.Type, Flags: n.PageFlags, Overflow: uint32(n.Pages)}
		hdr.Serialize(buf)
		return nil
	}

	if n.Size() > len(buf)-storage.PageHeaderSize {
		return storage.NewError(storage.CodePanic, "encode", errPageOverflow(n))
	}
	count := n.Len()
	lower := storage.PageHeaderSize + storage.NodeOffsetSize*count
	pos := len(buf)
	leaf := n.IsLeaf()
	for i := 0; i < count; i++ {
		key := n.Keys[i]
		if leaf {
			val := n.Vals[i]
			pos -= storage.LeafNodeHeaderSize + len(key) + len(val)
			buf[pos] = n.Flags[i]
			buf[pos+1] = 0
			binary.LittleEndian.PutUint16(buf[pos+2:], uint16(len(key)))
			binary.LittleEndian.PutUint32(buf[pos+4:], uint32(len(val)))
			copy(buf[pos+storage.LeafNodeHeaderSize:], key)
			copy(buf[pos+storage.LeafNodeHeaderSize+len(key):], val)
		} else {
			pos -= storage.BranchNodeHeaderSize + len(key)
			binary.LittleEndian.PutUint64(buf[pos:], uint64(n.Children[i]))
			binary.LittleEndian.PutUint16(buf[pos+8:], uint16(len(key)))
			copy(buf[pos+storage.BranchNodeHeaderSize:], key)
		}
		binary.LittleEndian.PutUint16(buf[storage.PageHeaderSize+2*i:], uint16(pos))
	}

	hdr := storage.PageHeader{
		PageID:   n.ID,
		PageType: n.Type,
		Flags:    n.PageFlags,
		Count:    uint16(count),
		Lower:    uint16(lower),
		Upper:    uint16(pos),
	}
	hdr.Serialize(buf)
	return nil
}
