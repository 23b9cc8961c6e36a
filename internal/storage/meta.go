package storage

import (
	"encoding/binary"
	"hash/crc32"
)

// Meta page constants.
const (
	// MetaMagic identifies an obakv data file ("OBKV").
	MetaMagic uint32 = 0x564B424F

	// MetaVersion is the current on-disk format version.
	MetaVersion uint32 = 1

	// MetaSize is the encoded size of a Meta record, checksum included.
	MetaSize = 164

	// TreeRecordSize is the encoded size of a TreeRecord.
	TreeRecordSize = 48
)

// Tree record flags, persisted with the tree.
const (
	// TreeDupSort marks a table whose keys may own several sorted values.
	TreeDupSort uint16 = 1 << iota
)

// TreeRecord describes one B+tree: its root and counters.
// Layout (little endian):
//   - Bytes 0-7:   Root page (0 when the tree is empty)
//   - Bytes 8-15:  Entries
//   - Bytes 16-23: Branch pages
//   - Bytes 24-31: Leaf pages
//   - Bytes 32-39: Overflow pages
//   - Bytes 40-41: Depth
//   - Bytes 42-43: Flags
//   - Bytes 44-47: reserved
type TreeRecord struct {
	Root          PageID
	Entries       uint64
	BranchPages   uint64
	LeafPages     uint64
	OverflowPages uint64
	Depth         uint16
	Flags         uint16
}

// Encode writes the record into buf, which must hold TreeRecordSize bytes.
func (r *TreeRecord) Encode(buf []byte) {
	_ = buf[TreeRecordSize-1]
	binary.LittleEndian.PutUint64(buf[0:8], uint64(r.Root))
	binary.LittleEndian.PutUint64(buf[8:16], r.Entries)
	binary.LittleEndian.PutUint64(buf[16:24], r.BranchPages)
	binary.LittleEndian.PutUint64(buf[24:32], r.LeafPages)
	binary.LittleEndian.PutUint64(buf[32:40], r.OverflowPages)
	binary.LittleEndian.PutUint16(buf[40:42], r.Depth)
	binary.LittleEndian.PutUint16(buf[42:44], r.Flags)
	binary.LittleEndian.PutUint32(buf[44:48], 0)
}

// Bytes returns the encoded record.
func (r *TreeRecord) Bytes() []byte {
	buf := make([]byte, TreeRecordSize)
	r.Encode(buf)
	return buf
}

// DecodeTreeRecord reads a record written by Encode.
func DecodeTreeRecord(buf []byte) (TreeRecord, error) {
	if len(buf) != TreeRecordSize {
		return TreeRecord{}, Corruptf("tree record", "size %d", len(buf))
	}
	return TreeRecord{
		Root:          PageID(binary.LittleEndian.Uint64(buf[0:8])),
		Entries:       binary.LittleEndian.Uint64(buf[8:16]),
		BranchPages:   binary.LittleEndian.Uint64(buf[16:24]),
		LeafPages:     binary.LittleEndian.Uint64(buf[24:32]),
		OverflowPages: binary.LittleEndian.Uint64(buf[32:40]),
		Depth:         binary.LittleEndian.Uint16(buf[40:42]),
		Flags:         binary.LittleEndian.Uint16(buf[42:44]),
	}, nil
}

// Meta is one committed snapshot header.
// It is stored in page 0 or 1 right after the page header:
//   - Bytes 0-3:     Magic
//   - Bytes 4-7:     Version
//   - Bytes 8-11:    PageSize
//   - Bytes 12-15:   Flags (reserved)
//   - Bytes 16-47:   Geometry (lower, now, upper, growth; in pages)
//   - Bytes 48-95:   Freelist tree record
//   - Bytes 96-143:  Main tree record
//   - Bytes 144-151: LastPgno, the high-water mark
//   - Bytes 152-159: Txnid
//   - Bytes 160-163: CRC32 of the page header and bytes 0-159
type Meta struct {
	Magic    uint32
	Version  uint32
	PageSize uint32
	Flags    uint32
	Geometry Geometry
	Free     TreeRecord
	Main     TreeRecord
	LastPgno PageID
	Txnid    uint64
	Checksum uint32
}

// NewMeta returns the meta of an empty store.
func NewMeta(pageSize int, geo Geometry, txnid uint64) *Meta {
	return &Meta{
		Magic:    MetaMagic,
		Version:  MetaVersion,
		PageSize: uint32(pageSize),
		Geometry: geo,
		LastPgno: NumMetas,
		Txnid:    txnid,
	}
}

// Serialize encodes m as page slot into buf, which must hold one page.
// The checksum is computed and stored in m.
func (m *Meta) Serialize(buf []byte, slot int) {
	for i := range buf[:PageHeaderSize+MetaSize] {
		buf[i] = 0
	}
	hdr := PageHeader{PageID: PageID(slot), PageType: PageTypeMeta}
	hdr.Serialize(buf)

	b := buf[PageHeaderSize : PageHeaderSize+MetaSize]
	binary.LittleEndian.PutUint32(b[0:4], m.Magic)
	binary.LittleEndian.PutUint32(b[4:8], m.Version)
	binary.LittleEndian.PutUint32(b[8:12], m.PageSize)
	binary.LittleEndian.PutUint32(b[12:16], m.Flags)
	binary.LittleEndian.PutUint64(b[16:24], m.Geometry.Lower)
	binary.LittleEndian.PutUint64(b[24:32], m.Geometry.Now)
	binary.LittleEndian.PutUint64(b[32:40], m.Geometry.Upper)
	binary.LittleEndian.PutUint64(b[40:48], m.Geometry.Growth)
	m.Free.Encode(b[48:96])
	m.Main.Encode(b[96:144])
	binary.LittleEndian.PutUint64(b[144:152], uint64(m.LastPgno))
	binary.LittleEndian.PutUint64(b[152:160], m.Txnid)

	m.Checksum = crc32.ChecksumIEEE(buf[:PageHeaderSize+160])
	binary.LittleEndian.PutUint32(b[160:164], m.Checksum)
}

// DeserializeMeta decodes and validates the meta stored in buf for slot.
// Any mismatch (page number, type, magic, version, checksum) is reported as
// Corrupted; contents are never trusted before the checksum passes.
func DeserializeMeta(buf []byte, slot int) (*Meta, error) {
	if len(buf) < PageHeaderSize+MetaSize {
		return nil, Corruptf("meta", "slot %d: short buffer", slot)
	}
	hdr, err := ReadPageHeader(buf, PageID(slot))
	if err != nil {
		return nil, err
	}
	if hdr.PageType != PageTypeMeta {
		return nil, Corruptf("meta", "slot %d: page type %s", slot, hdr.PageType)
	}

	b := buf[PageHeaderSize : PageHeaderSize+MetaSize]
	sum := binary.LittleEndian.Uint32(b[160:164])
	if crc32.ChecksumIEEE(buf[:PageHeaderSize+160]) != sum {
		return nil, Corruptf("meta", "slot %d: checksum mismatch", slot)
	}

	m := &Meta{
		Magic:    binary.LittleEndian.Uint32(b[0:4]),
		Version:  binary.LittleEndian.Uint32(b[4:8]),
		PageSize: binary.LittleEndian.Uint32(b[8:12]),
		Flags:    binary.LittleEndian.Uint32(b[12:16]),
		Geometry: Geometry{
			Lower:  binary.LittleEndian.Uint64(b[16:24]),
			Now:    binary.LittleEndian.Uint64(b[24:32]),
			Upper:  binary.LittleEndian.Uint64(b[32:40]),
			Growth: binary.LittleEndian.Uint64(b[40:48]),
		},
		LastPgno: PageID(binary.LittleEndian.Uint64(b[144:152])),
		Txnid:    binary.LittleEndian.Uint64(b[152:160]),
		Checksum: sum,
	}
	if m.Magic != MetaMagic {
		return nil, Corruptf("meta", "slot %d: bad magic %#x", slot, m.Magic)
	}
	if m.Version != MetaVersion {
		return nil, Corruptf("meta", "slot %d: unsupported version %d", slot, m.Version)
	}
	if !ValidPageSize(int(m.PageSize)) {
		return nil, Corruptf("meta", "slot %d: bad page size %d", slot, m.PageSize)
	}
	if m.LastPgno < NumMetas {
		return nil, Corruptf("meta", "slot %d: bad high-water mark %d", slot, m.LastPgno)
	}
	if m.Free, err = DecodeTreeRecord(b[48:96]); err != nil {
		return nil, err
	}
	if m.Main, err = DecodeTreeRecord(b[96:144]); err != nil {
		return nil, err
	}
	return m, nil
}

// PickMeta chooses the current snapshot out of the two slots. The valid one
// with the greater txnid wins; on a tie slot 0 wins. It returns the index of
// the current slot, or Corrupted when neither slot is valid.
func PickMeta(metas [NumMetas]*Meta) (int, error) {
	switch {
	case metas[0] == nil && metas[1] == nil:
		return -1, Corruptf("meta", "no valid meta page")
	case metas[1] == nil:
		return 0, nil
	case metas[0] == nil:
		return 1, nil
	case metas[1].Txnid > metas[0].Txnid:
		return 1, nil
	default:
		return 0, nil
	}
}

// ReadMetas decodes both meta slots from a mapping of at least two pages.
// Invalid slots are returned as nil together with their decoding error.
func ReadMetas(data []byte, pageSize int) ([NumMetas]*Meta, [NumMetas]error) {
	var metas [NumMetas]*Meta
	var errs [NumMetas]error
	for i := 0; i < NumMetas; i++ {
		off := i * pageSize
		if off+PageHeaderSize+MetaSize > len(data) {
			errs[i] = Corruptf("meta", "slot %d beyond mapping", i)
			continue
		}
		m, err := DeserializeMeta(data[off:off+pageSize], i)
		if err == nil && int(m.PageSize) != pageSize {
			err = Corruptf("meta", "slot %d: page size %d, expected %d", i, m.PageSize, pageSize)
			m = nil
		}
		metas[i], errs[i] = m, err
	}
	return metas, errs
}
