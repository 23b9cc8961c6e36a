package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMeta(txnid uint64) *Meta {
	geo := GeometryFromBytes(4096, 0, 0, 0, 0)
	m := NewMeta(4096, geo, txnid)
	m.Main = TreeRecord{Root: 9, Entries: 100, LeafPages: 3, BranchPages: 1, Depth: 2}
	m.Free = TreeRecord{Root: 12, Entries: 2, LeafPages: 1, Depth: 1}
	m.LastPgno = 40
	return m
}

func TestMetaRoundTrip(t *testing.T) {
	m := testMeta(17)
	buf := make([]byte, 4096)
	m.Serialize(buf, 1)

	got, err := DeserializeMeta(buf, 1)
	require.NoError(t, err)
	assert.Equal(t, m, got)
}

func TestMetaDetectsDamage(t *testing.T) {
	tests := []struct {
		name   string
		slot   int
		damage func(buf []byte)
	}{
		{"flipped byte", 0, func(b []byte) { b[PageHeaderSize+100] ^= 0xFF }},
		{"wrong slot", 1, func([]byte) {}},
		{"torn checksum", 0, func(b []byte) { b[PageHeaderSize+161] ^= 1 }},
		{"zeroed", 0, func(b []byte) {
			for i := range b {
				b[i] = 0
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := make([]byte, 4096)
			testMeta(4).Serialize(buf, 0)
			tt.damage(buf)
			_, err := DeserializeMeta(buf, tt.slot)
			assert.ErrorIs(t, err, ErrCorrupted)
		})
	}
}

func TestPickMeta(t *testing.T) {
	older, newer := testMeta(4), testMeta(5)
	tests := []struct {
		name  string
		metas [NumMetas]*Meta
		want  int
		err   bool
	}{
		{"newer in slot 1", [NumMetas]*Meta{older, newer}, 1, false},
		{"newer in slot 0", [NumMetas]*Meta{newer, older}, 0, false},
		{"tie prefers slot 0", [NumMetas]*Meta{older, older}, 0, false},
		{"only slot 0 valid", [NumMetas]*Meta{older, nil}, 0, false},
		{"only slot 1 valid", [NumMetas]*Meta{nil, older}, 1, false},
		{"none valid", [NumMetas]*Meta{nil, nil}, -1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := PickMeta(tt.metas)
			if tt.err {
				assert.ErrorIs(t, err, ErrCorrupted)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReadMetasFallsBack(t *testing.T) {
	data := make([]byte, 2*4096)
	testMeta(6).Serialize(data[:4096], 0)
	testMeta(7).Serialize(data[4096:], 1)

	metas, errs := ReadMetas(data, 4096)
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	idx, err := PickMeta(metas)
	require.NoError(t, err)
	assert.Equal(t, 1, idx)

	// Damage the newer slot: the older snapshot becomes current.
	data[4096+PageHeaderSize+20] ^= 0x55
	metas, errs = ReadMetas(data, 4096)
	assert.Error(t, errs[1])
	idx, err = PickMeta(metas)
	require.NoError(t, err)
	assert.Equal(t, 0, idx)
	assert.Equal(t, uint64(6), metas[idx].Txnid)
}

func TestTreeRecordRoundTrip(t *testing.T) {
	r := TreeRecord{Root: 1 << 33, Entries: 7, BranchPages: 1, LeafPages: 2, OverflowPages: 3, Depth: 4, Flags: TreeDupSort}
	got, err := DecodeTreeRecord(r.Bytes())
	require.NoError(t, err)
	assert.Equal(t, r, got)

	_, err = DecodeTreeRecord(make([]byte, 47))
	assert.ErrorIs(t, err, ErrCorrupted)
}

func TestGeometryFromBytes(t *testing.T) {
	g := GeometryFromBytes(4096, 1, 10000, 1<<20, 5000)
	assert.Equal(t, Geometry{Lower: NumMetas, Now: 3, Upper: 256, Growth: 2}, g)
	require.NoError(t, g.Validate())

	g = GeometryFromBytes(4096, 0, 0, 0, 0)
	assert.Equal(t, uint64(DefaultUpperSize/4096), g.Upper)
	assert.Equal(t, uint64(DefaultNowSize/4096), g.Now)

	assert.ErrorIs(t, Geometry{Lower: 2, Now: 1, Upper: 4, Growth: 1}.Validate(), ErrInvalid)
}
