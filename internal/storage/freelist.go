package storage

import (
	"encoding/binary"
	"sort"
)

// FreeKeySize is the size of a freelist record key: txnid u64 BE, chunk u32 BE.
const FreeKeySize = 12

// FreeKey encodes a freelist record key. Big endian keeps records ordered by
// txnid under bytewise comparison.
func FreeKey(txnid uint64, chunk uint32) []byte {
	k := make([]byte, FreeKeySize)
	binary.BigEndian.PutUint64(k[0:8], txnid)
	binary.BigEndian.PutUint32(k[8:12], chunk)
	return k
}

// ParseFreeKey decodes a key written by FreeKey.
func ParseFreeKey(k []byte) (txnid uint64, chunk uint32, err error) {
	if len(k) != FreeKeySize {
		return 0, 0, Corruptf("freelist", "bad record key length %d", len(k))
	}
	return binary.BigEndian.Uint64(k[0:8]), binary.BigEndian.Uint32(k[8:12]), nil
}

// MaxFreeRecordPages returns how many page numbers one freelist record holds
// while staying an inline leaf node.
func MaxFreeRecordPages(pageSize int) int {
	return (MaxNodeSize(pageSize) - NodeOffsetSize - LeafNodeHeaderSize - FreeKeySize) / 8
}

// EncodePageList encodes page numbers as consecutive little-endian u64 values.
func EncodePageList(ids []PageID) []byte {
	buf := make([]byte, 8*len(ids))
	for i, id := range ids {
		binary.LittleEndian.PutUint64(buf[8*i:], uint64(id))
	}
	return buf
}

// DecodePageList decodes a value written by EncodePageList.
func DecodePageList(b []byte) (PageList, error) {
	if len(b)%8 != 0 {
		return nil, Corruptf("freelist", "bad record length %d", len(b))
	}
	ids := make(PageList, len(b)/8)
	for i := range ids {
		ids[i] = PageID(binary.LittleEndian.Uint64(b[8*i:]))
	}
	return ids, nil
}

// PageList is an ascending list of distinct page numbers.
type PageList []PageID

// Sort sorts the list in place.
func (l PageList) Sort() {
	sort.Slice(l, func(i, j int) bool { return l[i] < l[j] })
}

// Clone returns a copy of the list.
func (l PageList) Clone() PageList {
	if l == nil {
		return nil
	}
	return append(PageList(nil), l...)
}

// Merge returns the union of two ascending lists.
func (l PageList) Merge(other PageList) PageList {
	out := make(PageList, 0, len(l)+len(other))
	i, j := 0, 0
	for i < len(l) && j < len(other) {
		switch {
		case l[i] < other[j]:
			out = append(out, l[i])
			i++
		case l[i] > other[j]:
			out = append(out, other[j])
			j++
		default:
			out = append(out, l[i])
			i++
			j++
		}
	}
	out = append(out, l[i:]...)
	return append(out, other[j:]...)
}

// Contains reports whether id is in the list.
func (l PageList) Contains(id PageID) bool {
	i := sort.Search(len(l), func(i int) bool { return l[i] >= id })
	return i < len(l) && l[i] == id
}

// TakeRun removes the lowest run of n consecutive page numbers and returns
// its first page.
func (l *PageList) TakeRun(n int) (PageID, bool) {
	s := *l
	for i := 0; i+n <= len(s); i++ {
		if s[i+n-1]-s[i] == PageID(n-1) {
			id := s[i]
			*l = append(s[:i:i], s[i+n:]...)
			return id, true
		}
	}
	return 0, false
}

// Chunks splits the list into consecutive pieces of at most size entries.
func (l PageList) Chunks(size int) []PageList {
	var out []PageList
	for len(l) > 0 {
		n := len(l)
		if n > size {
			n = size
		}
		out = append(out, l[:n:n])
		l = l[n:]
	}
	return out
}
