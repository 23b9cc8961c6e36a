package btree

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KilimcininKorOglu/obakv/internal/storage"
)

func newDupTree(ps int) (*memPager, *Tree) {
	p := newMemPager(ps)
	return p, New(p, &storage.TreeRecord{Flags: storage.TreeDupSort}, nil, nil)
}

func dupValues(t *testing.T, tr *Tree, key []byte) []string {
	t.Helper()
	raw, flags, err := tr.GetRaw(key)
	require.NoError(t, err)
	if flags&FlagDupTree == 0 {
		return []string{string(raw)}
	}
	sub, err := tr.SubTree(raw)
	require.NoError(t, err)
	var out []string
	c := sub.Cursor()
	ok, err := c.First()
	for ; ok && err == nil; ok, err = c.Next() {
		out = append(out, string(c.Key()))
	}
	require.NoError(t, err)
	return out
}

// TestDupSortConversion tests that a key moves from an inline value to a
// subtree on the second value and back once a single value is left.
func TestDupSortConversion(t *testing.T) {
	p, tr := newDupTree(1024)
	key := []byte("k")

	require.NoError(t, tr.Put(key, []byte("b"), 0))
	_, flags, err := tr.GetRaw(key)
	require.NoError(t, err)
	assert.Zero(t, flags&FlagDupTree)

	require.NoError(t, tr.Put(key, []byte("a"), 0))
	require.NoError(t, tr.Put(key, []byte("c"), 0))
	p.commit(t)
	_, flags, err = tr.GetRaw(key)
	require.NoError(t, err)
	assert.NotZero(t, flags&FlagDupTree)
	assert.Equal(t, []string{"a", "b", "c"}, dupValues(t, tr, key))

	n, err := tr.DupCount(key)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), n)
	assert.Equal(t, uint64(3), tr.Record().Entries)

	first, err := tr.Get(key)
	require.NoError(t, err)
	assert.Equal(t, "a", string(first))

	require.NoError(t, tr.Delete(key, []byte("a")))
	require.NoError(t, tr.Delete(key, []byte("c")))
	p.commit(t)
	raw, flags, err := tr.GetRaw(key)
	require.NoError(t, err)
	assert.Zero(t, flags&FlagDupTree)
	assert.Equal(t, "b", string(raw))
	assert.Equal(t, uint64(1), tr.Record().Entries)
	require.NoError(t, tr.Verify())
	requireConserved(t, p, tr)

	assert.ErrorIs(t, tr.Delete(key, []byte("zz")), storage.ErrNotFound)
	require.NoError(t, tr.Delete(key, []byte("b")))
	_, err = tr.Get(key)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDupSortFlags(t *testing.T) {
	p, tr := newDupTree(1024)
	key := []byte("k")
	require.NoError(t, tr.Put(key, []byte("m"), 0))
	p.commit(t)

	tests := []struct {
		name  string
		val   string
		flags PutFlags
		err   error
	}{
		{"duplicate pair ignored", "m", 0, nil},
		{"duplicate pair rejected", "m", NoDupData, storage.ErrKeyExist},
		{"append dup smaller", "a", AppendDup, storage.ErrKeyExist},
		{"append dup larger", "x", AppendDup, nil},
		{"append dup smaller in subtree", "n", AppendDup, storage.ErrKeyExist},
		{"duplicate in subtree rejected", "x", NoDupData, storage.ErrKeyExist},
		{"no overwrite existing key", "z", NoOverwrite, storage.ErrKeyExist},
		{"new value", "b", 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tr.Put(key, []byte(tt.val), tt.flags)
			if tt.err == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.err)
		})
	}
	assert.Equal(t, []string{"b", "m", "x"}, dupValues(t, tr, key))
	assert.Equal(t, uint64(3), tr.Record().Entries)
}

// TestDupSortManyValues tests keys whose subtrees span several pages.
func TestDupSortManyValues(t *testing.T) {
	p, tr := newDupTree(512)
	for k := 0; k < 5; k++ {
		for v := 0; v < 300; v++ {
			require.NoError(t, tr.Put(beKey(k), beKey(v*7%300), 0))
		}
	}
	p.commit(t)
	require.NoError(t, tr.Verify())
	assert.Equal(t, uint64(1500), tr.Record().Entries)

	n, err := tr.DupCount(beKey(3))
	require.NoError(t, err)
	assert.Equal(t, uint64(300), n)

	require.NoError(t, tr.Delete(beKey(2), nil))
	p.commit(t)
	require.NoError(t, tr.Verify())
	assert.Equal(t, uint64(1200), tr.Record().Entries)
	requireConserved(t, p, tr)
}

func TestDupSortValueLimit(t *testing.T) {
	_, tr := newDupTree(1024)
	limit := storage.MaxKeySize(1024)
	require.NoError(t, tr.Put([]byte("k"), bytes.Repeat([]byte("v"), limit), 0))
	err := tr.Put([]byte("k"), bytes.Repeat([]byte("v"), limit+1), 0)
	assert.ErrorIs(t, err, storage.ErrBadValSize)

	_, err = tr.Reserve([]byte("k"), 4, 0)
	assert.ErrorIs(t, err, storage.ErrIncompatible)
}

// TestDupSortLargeFirstValue tests that a value too large to sit inline next
// to its key starts in a subtree.
func TestDupSortLargeFirstValue(t *testing.T) {
	p, tr := newDupTree(1024)
	key := bytes.Repeat([]byte("k"), 200)
	val := bytes.Repeat([]byte("v"), 400)
	require.NoError(t, tr.Put(key, val, 0))
	p.commit(t)

	_, flags, err := tr.GetRaw(key)
	require.NoError(t, err)
	assert.NotZero(t, flags&FlagDupTree)
	got, err := tr.Get(key)
	require.NoError(t, err)
	assert.Equal(t, val, got)
	require.NoError(t, tr.Verify())
}
