package btree

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KilimcininKorOglu/obakv/internal/storage"
)

func TestLeafEncodeDecode(t *testing.T) {
	n := &Node{ID: 7, Type: storage.PageTypeLeaf, PageFlags: storage.PageFlagDupTree}
	n.insertLeaf(0, []byte("b"), []byte("two"), 0)
	n.insertLeaf(0, []byte("a"), []byte("one"), FlagBig)
	n.insertLeaf(2, []byte("c"), nil, FlagTable)

	buf := make([]byte, 512)
	require.NoError(t, n.Encode(buf))

	hdr, err := storage.ReadPageHeader(buf, 7)
	require.NoError(t, err)
	assert.Equal(t, uint16(3), hdr.Count)
	assert.Equal(t, uint16(storage.PageHeaderSize+3*storage.NodeOffsetSize), hdr.Lower)
	assert.Equal(t, uint16(512-n.Size()+3*storage.NodeOffsetSize), hdr.Upper)

	got, err := Decode(buf, 7)
	require.NoError(t, err)
	assert.Equal(t, storage.PageTypeLeaf, got.Type)
	assert.Equal(t, storage.PageFlagDupTree, got.PageFlags)
	require.Equal(t, 3, got.Len())
	assert.Equal(t, []byte("a"), got.Keys[0])
	assert.Equal(t, []byte("one"), got.Vals[0])
	assert.Equal(t, FlagBig, got.Flags[0])
	assert.Equal(t, []byte("two"), got.Vals[1])
	assert.Empty(t, got.Vals[2])
	assert.Equal(t, FlagTable, got.Flags[2])
	assert.Equal(t, n.Size(), got.Size())
}

func TestBranchEncodeDecode(t *testing.T) {
	n := &Node{ID: 3, Type: storage.PageTypeBranch}
	n.insertBranch(0, []byte{}, 10)
	n.insertBranch(1, []byte("m"), 11)
	n.insertBranch(2, []byte("t"), 12)

	buf := make([]byte, 512)
	require.NoError(t, n.Encode(buf))
	got, err := Decode(buf, 3)
	require.NoError(t, err)
	assert.False(t, got.IsLeaf())
	assert.Equal(t, []storage.PageID{10, 11, 12}, got.Children)
	assert.Equal(t, []byte("t"), got.Keys[2])
}

func TestOverflowEncodeDecode(t *testing.T) {
	const ps = 512
	n := &Node{ID: 20, Type: storage.PageTypeOverflow, Pages: 3, Data: make([]byte, 3*ps)}
	copy(n.Data[storage.PageHeaderSize:], "payload")

	buf := make([]byte, 3*ps)
	require.NoError(t, n.Encode(buf))

	pages, err := OverflowPagesAt(buf[:ps], 20)
	require.NoError(t, err)
	assert.Equal(t, 3, pages)

	got, err := DecodeOverflow(buf, 20, ps)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Pages)
	assert.Equal(t, "payload", string(got.Data[storage.PageHeaderSize:storage.PageHeaderSize+7]))

	_, err = DecodeOverflow(buf[:2*ps], 20, ps)
	assert.ErrorIs(t, err, storage.ErrCorrupted)
}

func TestDecodeRejectsDamage(t *testing.T) {
	n := &Node{ID: 5, Type: storage.PageTypeLeaf}
	n.insertLeaf(0, []byte("key"), []byte("value"), 0)
	good := make([]byte, 512)
	require.NoError(t, n.Encode(good))

	tests := []struct {
		name   string
		id     storage.PageID
		damage func(buf []byte)
	}{
		{"wrong page number", 6, func([]byte) {}},
		{"bad type", 5, func(b []byte) { b[8] = byte(storage.PageTypeMeta) }},
		{"bad lower", 5, func(b []byte) { binary.LittleEndian.PutUint16(b[12:], 40) }},
		{"offset below upper", 5, func(b []byte) { binary.LittleEndian.PutUint16(b[16:], 20) }},
		{"key past page end", 5, func(b []byte) {
			off := binary.LittleEndian.Uint16(b[16:])
			binary.LittleEndian.PutUint16(b[off+2:], 600)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := append([]byte(nil), good...)
			tt.damage(buf)
			_, err := Decode(buf, tt.id)
			assert.ErrorIs(t, err, storage.ErrCorrupted)
		})
	}
}

func TestEncodeOverfullPage(t *testing.T) {
	n := &Node{ID: 5, Type: storage.PageTypeLeaf}
	n.insertLeaf(0, make([]byte, 300), make([]byte, 300), 0)
	err := n.Encode(make([]byte, 512))
	assert.ErrorIs(t, err, storage.ErrPanic)
}
