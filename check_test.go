//go:build linux || darwin

package obakv

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWalkPages(t *testing.T) {
	env := openTestEnv(t, testOptions().WithPageSize(512))
	dbi := createTable(t, env, "named", 0)
	putKeys(t, env, MainDBI, 0, 200, "main")
	putKeys(t, env, dbi, 0, 200, "named")
	update(t, env, func(txn *Txn) error {
		return txn.Put(MainDBI, []byte("big"), bytes.Repeat([]byte("b"), 2000), 0)
	})

	view(t, env, func(txn *Txn) error {
		types := make(map[string]int)
		tables := make(map[string]int)
		seen := make(map[uint64]bool)
		free := 0
		err := txn.WalkPages(func(p PageUse) error {
			for i := 0; i < p.Pages; i++ {
				assert.False(t, seen[p.ID+uint64(i)], "page %d walked twice", p.ID)
				seen[p.ID+uint64(i)] = true
			}
			types[p.Type] += p.Pages
			if p.Free {
				free++
			} else {
				tables[p.Table]++
			}
			return nil
		})
		require.NoError(t, err)

		assert.Equal(t, 2, types["Meta"])
		assert.Greater(t, types["Branch"], 0)
		assert.Greater(t, types["Leaf"], 0)
		assert.Greater(t, types["Overflow"], 0)
		assert.Greater(t, free, 0)
		assert.Greater(t, tables["named"], 0)

		info, err := env.Info()
		require.NoError(t, err)
		assert.LessOrEqual(t, uint64(len(seen)), info.LastPgno)

		var records, listed int
		require.NoError(t, txn.FreeRecords(func(txnid uint64, pages []uint64) error {
			records++
			listed += len(pages)
			assert.Less(t, txnid, txn.ID()+1)
			for _, id := range pages {
				assert.False(t, seen[id], "free page %d is reachable", id)
			}
			return nil
		}))
		assert.Greater(t, records, 0)
		assert.Equal(t, info.LastPgno, uint64(len(seen)+listed))
		return nil
	})
}

func TestWalkPagesStops(t *testing.T) {
	env := openTestEnv(t, testOptions())
	putKeys(t, env, MainDBI, 0, 10, "v")
	stop := assert.AnError
	view(t, env, func(txn *Txn) error {
		n := 0
		err := txn.WalkPages(func(PageUse) error {
			n++
			return stop
		})
		assert.ErrorIs(t, err, stop)
		assert.Equal(t, 1, n)
		return nil
	})
}

func TestCheckRequiresReadTxn(t *testing.T) {
	env := openTestEnv(t, testOptions())
	update(t, env, func(txn *Txn) error {
		assert.ErrorIs(t, txn.Check(context.Background()), ErrIncompatible)
		assert.ErrorIs(t, txn.CopyTo(&bytes.Buffer{}), ErrIncompatible)
		return nil
	})
}

func TestCheckCancelled(t *testing.T) {
	env := openTestEnv(t, testOptions().WithPageSize(512))
	putKeys(t, env, MainDBI, 0, 500, "v")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	view(t, env, func(txn *Txn) error {
		assert.ErrorIs(t, txn.Check(ctx), context.Canceled)
		return nil
	})
}

// TestCheckDetectsLeak tests that a page neither reachable nor free fails the
// check.
func TestCheckDetectsLeak(t *testing.T) {
	env := openTestEnv(t, testOptions())
	putKeys(t, env, MainDBI, 0, 10, "v")

	view(t, env, func(txn *Txn) error {
		leaked := *txn.base
		leaked.LastPgno++
		txn.base = &leaked
		assert.ErrorIs(t, txn.Check(context.Background()), ErrCorrupted)
		return nil
	})
}

func TestCopy(t *testing.T) {
	dir := t.TempDir()
	env := openEnvAt(t, filepath.Join(dir, "data.obk"), testOptions().WithPageSize(1024))
	dbi := createTable(t, env, "named", DupSort)
	putKeys(t, env, MainDBI, 0, 300, "main")
	update(t, env, func(txn *Txn) error {
		for i := 0; i < 50; i++ {
			if err := txn.Put(dbi, []byte("k"), key(i), 0); err != nil {
				return err
			}
		}
		return nil
	})
	putKeys(t, env, MainDBI, 0, 300, "main-2")

	dst := filepath.Join(dir, "copy.obk")
	require.NoError(t, env.Copy(dst))
	assert.Error(t, env.Copy(dst), "copy must not overwrite")

	info, err := env.Info()
	require.NoError(t, err)
	fi, err := os.Stat(dst)
	require.NoError(t, err)
	assert.Equal(t, int64(info.LastPgno)*1024, fi.Size())

	cp := openEnvAt(t, dst, testOptions())
	copied, err := cp.Info()
	require.NoError(t, err)
	assert.Equal(t, info.Txnid, copied.Txnid)
	assert.Equal(t, info.LastPgno, copied.LastPgno)

	view(t, cp, func(txn *Txn) error {
		assert.Equal(t, "main-2", getString(t, txn, MainDBI, key(150)))
		named, err := txn.OpenTable("named", DupSort)
		require.NoError(t, err)
		st, err := txn.Stat(named)
		require.NoError(t, err)
		assert.Equal(t, uint64(50), st.Entries)
		return txn.Check(context.Background())
	})

	// The copy is a working store.
	putKeys(t, cp, MainDBI, 300, 400, "copy")
	requireConsistent(t, cp)
}

func TestCopyToWriter(t *testing.T) {
	env := openTestEnv(t, testOptions().WithPageSize(512))
	putKeys(t, env, MainDBI, 0, 100, "v")

	var buf bytes.Buffer
	view(t, env, func(txn *Txn) error {
		return txn.CopyTo(&buf)
	})
	assert.Equal(t, 0, buf.Len()%512)

	path := filepath.Join(t.TempDir(), "streamed.obk")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
	cp := openEnvAt(t, path, testOptions())
	view(t, cp, func(txn *Txn) error {
		assert.Equal(t, "v", getString(t, txn, MainDBI, key(99)))
		return txn.Check(context.Background())
	})
}
