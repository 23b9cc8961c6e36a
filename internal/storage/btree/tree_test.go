package btree

import (
	"bytes"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KilimcininKorOglu/obakv/internal/storage"
)

func newTestTree(ps int) (*memPager, *Tree) {
	p := newMemPager(ps)
	return p, New(p, &storage.TreeRecord{}, nil, nil)
}

// TestTreePutGet tests inserting random keys across several commits.
func TestTreePutGet(t *testing.T) {
	p, tr := newTestTree(1024)
	rng := rand.New(rand.NewSource(1))
	want := make(map[string]string)

	for round := 0; round < 5; round++ {
		for i := 0; i < 400; i++ {
			k := fmt.Sprintf("key-%06d", rng.Intn(5000))
			v := fmt.Sprintf("value-%d-%d", round, i)
			require.NoError(t, tr.Put([]byte(k), []byte(v), 0))
			want[k] = v
		}
		p.commit(t)
		require.NoError(t, tr.Verify())
	}

	assert.Equal(t, uint64(len(want)), tr.Record().Entries)
	for k, v := range want {
		got, err := tr.Get([]byte(k))
		require.NoError(t, err, k)
		assert.Equal(t, v, string(got))
	}
	_, err := tr.Get([]byte("missing"))
	assert.ErrorIs(t, err, storage.ErrNotFound)
	requireConserved(t, p, tr)
}

// TestTreeSequentialDepth tests the 100,000 key scenario: sequential 8-byte
// big-endian keys with 16-byte values build a tree of depth 3, and deleting
// every odd key never increases the number of reachable pages.
func TestTreeSequentialDepth(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping in short mode")
	}
	p, tr := newTestTree(4096)
	val := bytes.Repeat([]byte{0xAB}, 16)
	const n = 100000

	for i := 0; i < n; i++ {
		require.NoError(t, tr.Put(beKey(i), val, 0))
		if i%10000 == 9999 {
			p.commit(t)
		}
	}
	p.commit(t)
	require.NoError(t, tr.Verify())
	assert.Equal(t, uint16(3), tr.Record().Depth)
	assert.Equal(t, uint64(n), tr.Record().Entries)
	before := len(reachable(t, tr))

	for i := 1; i < n; i += 2 {
		require.NoError(t, tr.Delete(beKey(i), nil))
		if i%20001 == 0 {
			p.commit(t)
		}
	}
	p.commit(t)
	require.NoError(t, tr.Verify())
	assert.Equal(t, uint64(n/2), tr.Record().Entries)
	assert.LessOrEqual(t, len(reachable(t, tr)), before)
	requireConserved(t, p, tr)

	for i := 0; i < n; i += 2 {
		got, err := tr.Get(beKey(i))
		require.NoError(t, err)
		require.Equal(t, val, got)
	}
	_, err := tr.Get(beKey(1))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

// TestTreeDeleteAll tests that removing every key empties the tree and frees
// all of its pages.
func TestTreeDeleteAll(t *testing.T) {
	p, tr := newTestTree(512)
	keys := rand.New(rand.NewSource(7)).Perm(2000)
	for _, k := range keys {
		require.NoError(t, tr.Put(beKey(k), []byte("v"), 0))
	}
	p.commit(t)
	require.NoError(t, tr.Verify())
	assert.Greater(t, tr.Record().Depth, uint16(2))

	for i, k := range keys {
		require.NoError(t, tr.Delete(beKey(k), nil))
		if i%300 == 0 {
			p.commit(t)
			require.NoError(t, tr.Verify())
		}
	}
	p.commit(t)
	rec := tr.Record()
	assert.Equal(t, storage.PageID(0), rec.Root)
	assert.Equal(t, uint16(0), rec.Depth)
	assert.Zero(t, rec.Entries)
	assert.Zero(t, rec.LeafPages)
	assert.Zero(t, rec.BranchPages)
	assert.Empty(t, reachable(t, tr))
	requireConserved(t, p, tr)

	assert.ErrorIs(t, tr.Delete(beKey(1), nil), storage.ErrNotFound)
}

func TestTreePutFlags(t *testing.T) {
	p, tr := newTestTree(1024)
	require.NoError(t, tr.Put([]byte("b"), []byte("1"), 0))
	p.commit(t)

	tests := []struct {
		name  string
		key   string
		flags PutFlags
		err   error
	}{
		{"no overwrite existing", "b", NoOverwrite, storage.ErrKeyExist},
		{"no overwrite new", "c", NoOverwrite, nil},
		{"append smaller", "a", Append, storage.ErrKeyExist},
		{"append equal", "c", Append, storage.ErrKeyExist},
		{"append larger", "d", Append, nil},
		{"overwrite", "b", 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tr.Put([]byte(tt.key), []byte("x"), tt.flags)
			if tt.err == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.err)
		})
	}

	got, err := tr.Get([]byte("b"))
	require.NoError(t, err)
	assert.Equal(t, "x", string(got))
	assert.Equal(t, uint64(3), tr.Record().Entries)
}

func TestTreeSizeLimits(t *testing.T) {
	_, tr := newTestTree(1024)
	limit := storage.MaxKeySize(1024)

	require.NoError(t, tr.Put(bytes.Repeat([]byte("k"), limit), []byte("v"), 0))
	err := tr.Put(bytes.Repeat([]byte("k"), limit+1), []byte("v"), 0)
	assert.ErrorIs(t, err, storage.ErrBadValSize)
}

// TestTreeOverflow tests values stored in overflow runs.
func TestTreeOverflow(t *testing.T) {
	p, tr := newTestTree(1024)
	big := bytes.Repeat([]byte("0123456789"), 500)

	require.NoError(t, tr.Put([]byte("big"), big, 0))
	require.NoError(t, tr.Put([]byte("small"), []byte("s"), 0))
	p.commit(t)

	got, err := tr.Get([]byte("big"))
	require.NoError(t, err)
	assert.Equal(t, big, got)
	_, flags, err := tr.GetRaw([]byte("big"))
	require.NoError(t, err)
	assert.NotZero(t, flags&FlagBig)
	assert.Equal(t, uint64(storage.OverflowPages(1024, len(big))), tr.Record().OverflowPages)
	require.NoError(t, tr.Verify())

	// Replacing with a small value frees the run.
	require.NoError(t, tr.Put([]byte("big"), []byte("tiny"), 0))
	p.commit(t)
	assert.Zero(t, tr.Record().OverflowPages)
	got, err = tr.Get([]byte("big"))
	require.NoError(t, err)
	assert.Equal(t, "tiny", string(got))
	requireConserved(t, p, tr)
}

func TestTreeReserve(t *testing.T) {
	p, tr := newTestTree(1024)
	buf, err := tr.Reserve([]byte("r"), 5, 0)
	require.NoError(t, err)
	copy(buf, "hello")

	buf, err = tr.Reserve([]byte("rbig"), 3000, 0)
	require.NoError(t, err)
	for i := range buf {
		buf[i] = byte(i)
	}
	p.commit(t)

	got, err := tr.Get([]byte("r"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
	got, err = tr.Get([]byte("rbig"))
	require.NoError(t, err)
	require.Len(t, got, 3000)
	assert.Equal(t, byte(255), got[255])
}

func TestTreeCustomCompare(t *testing.T) {
	p := newMemPager(1024)
	reverse := func(a, b []byte) int { return bytes.Compare(b, a) }
	tr := New(p, &storage.TreeRecord{}, reverse, nil)
	for i := 0; i < 300; i++ {
		require.NoError(t, tr.Put(beKey(i), []byte("v"), 0))
	}
	p.commit(t)
	require.NoError(t, tr.Verify())

	c := tr.Cursor()
	ok, err := c.First()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, beKey(299), c.Key())
}

func TestTreeTables(t *testing.T) {
	p, tr := newTestTree(1024)
	rec := storage.TreeRecord{Root: 9, Entries: 4, Depth: 1, LeafPages: 1}
	require.NoError(t, tr.PutTable([]byte("users"), &rec))
	require.NoError(t, tr.Put([]byte("plain"), []byte("v"), 0))
	p.commit(t)

	assert.ErrorIs(t, tr.Put([]byte("users"), []byte("v"), 0), storage.ErrIncompatible)
	assert.ErrorIs(t, tr.Delete([]byte("users"), nil), storage.ErrIncompatible)
	assert.ErrorIs(t, tr.PutTable([]byte("plain"), &rec), storage.ErrIncompatible)

	var names []string
	require.NoError(t, tr.Tables(func(name []byte, r storage.TreeRecord) error {
		names = append(names, string(name))
		assert.Equal(t, rec, r)
		return nil
	}))
	assert.Equal(t, []string{"users"}, names)

	require.NoError(t, tr.DeleteTable([]byte("users")))
	assert.ErrorIs(t, tr.DeleteTable([]byte("plain")), storage.ErrIncompatible)
}

func TestTreeDrop(t *testing.T) {
	p := newMemPager(512)
	tr := New(p, &storage.TreeRecord{Flags: storage.TreeDupSort}, nil, nil)
	for i := 0; i < 500; i++ {
		require.NoError(t, tr.Put(beKey(i%50), beKey(i), 0))
	}
	p.commit(t)
	require.NoError(t, tr.Verify())

	require.NoError(t, tr.Drop())
	p.commit(t)
	assert.Equal(t, storage.TreeRecord{Flags: storage.TreeDupSort}, *tr.Record())
	requireConserved(t, p, tr)
}

func TestVerifyDetectsBadSeparator(t *testing.T) {
	p, tr := newTestTree(512)
	for i := 0; i < 200; i++ {
		require.NoError(t, tr.Put(beKey(i), []byte("v"), 0))
	}
	p.commit(t)
	require.NoError(t, tr.Verify())

	root, err := p.Node(tr.Record().Root)
	require.NoError(t, err)
	require.False(t, root.IsLeaf())
	bad := root.Clone()
	bad.Keys[1] = beKey(1000)
	p.dirty[bad.ID] = bad

	assert.ErrorIs(t, tr.Verify(), storage.ErrCorrupted)
}
