package btree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KilimcininKorOglu/obakv/internal/storage"
)

func TestCursorWalk(t *testing.T) {
	p, tr := newTestTree(512)
	const n = 1000
	for i := 0; i < n; i++ {
		require.NoError(t, tr.Put(beKey(i*2), beKey(i), 0))
	}
	p.commit(t)

	c := tr.Cursor()
	count := 0
	ok, err := c.First()
	for ; ok && err == nil; ok, err = c.Next() {
		require.Equal(t, beKey(count*2), c.Key())
		v, err := c.Value()
		require.NoError(t, err)
		require.Equal(t, beKey(count), v)
		count++
	}
	require.NoError(t, err)
	assert.Equal(t, n, count)
	// At the end the cursor stays on the last entry.
	assert.True(t, c.Valid())
	assert.Equal(t, beKey((n-1)*2), c.Key())

	count = 0
	ok, err = c.Last()
	for ; ok && err == nil; ok, err = c.Prev() {
		require.Equal(t, beKey((n-1-count)*2), c.Key())
		count++
	}
	require.NoError(t, err)
	assert.Equal(t, n, count)
	assert.Equal(t, beKey(0), c.Key())
}

func TestCursorSeek(t *testing.T) {
	p, tr := newTestTree(512)
	for i := 0; i < 500; i++ {
		require.NoError(t, tr.Put(beKey(i*10), []byte("v"), 0))
	}
	p.commit(t)

	tests := []struct {
		name  string
		seek  int
		ok    bool
		exact bool
		want  int
	}{
		{"before first", -1, true, false, 0},
		{"exact", 2500, true, true, 2500},
		{"between", 2501, true, false, 2510},
		{"last", 4990, true, true, 4990},
		{"past last", 4991, false, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := beKey(tt.seek)
			if tt.seek < 0 {
				key = []byte{}
			}
			c := tr.Cursor()
			ok, exact, err := c.Seek(key)
			require.NoError(t, err)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.exact, exact)
			if tt.ok {
				assert.Equal(t, beKey(tt.want), c.Key())
			} else {
				assert.False(t, c.Valid())
			}
		})
	}
}

func TestCursorEmptyTree(t *testing.T) {
	_, tr := newTestTree(512)
	c := tr.Cursor()

	ok, err := c.First()
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = c.Last()
	require.NoError(t, err)
	assert.False(t, ok)
	ok, _, err = c.Seek([]byte("a"))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, c.Valid())
}

func TestCursorPath(t *testing.T) {
	p, tr := newTestTree(512)
	for i := 0; i < 300; i++ {
		require.NoError(t, tr.Put(beKey(i), []byte("value"), 0))
	}
	p.commit(t)

	c := tr.Cursor()
	ok, err := c.First()
	require.NoError(t, err)
	require.True(t, ok)
	path := c.Path()
	require.Len(t, path, int(tr.Record().Depth))
	assert.Equal(t, tr.Record().Root, path[0])
	for _, id := range path {
		assert.GreaterOrEqual(t, id, storage.PageID(storage.NumMetas))
	}
}
