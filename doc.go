// Package obakv is an embedded, transactional key-value store.
//
// # Overview
//
// A store is a single memory-mapped file of sorted B+trees:
//
//   - One writer at a time, any number of lock-free readers
//   - Readers see the snapshot that was current when they began
//   - Copy-on-write pages and two checksummed meta pages make every commit
//     atomic without a write-ahead log
//   - Pages freed by a commit are reused once no reader can still see them
//
// # Opening a Store
//
//	env, err := obakv.Open("/var/lib/app/data.obk", obakv.DefaultOptions().
//	    WithGeometry(0, 1<<20, 1<<30, 1<<20).
//	    WithDurability(obakv.MetaLazy))
//	if err != nil {
//	    return err
//	}
//	defer env.Close()
//
// Options can also come from a YAML file, see OpenConfigFile:
//
//	storage:
//	  path: ${DATA_DIR:-/var/lib/app}/data.obk
//	  pageSize: 4096
//	  geometry:
//	    upper: 1GB
//	  durability: metaLazy
//	logging:
//	  level: info
//
// # Transactions
//
//	txn, err := env.BeginWrite(ctx)
//	if err != nil {
//	    return err
//	}
//	defer txn.Abort()
//
//	users, err := txn.OpenTable("users", obakv.Create)
//	if err != nil {
//	    return err
//	}
//	if err := txn.Put(users, []byte("alice"), []byte("42"), 0); err != nil {
//	    return err
//	}
//	return txn.Commit()
//
// Abort after Commit is a no-op, so deferring it is safe. Any error other
// than ErrKeyExist and ErrNotFound leaves a write transaction unusable; it
// must be aborted.
//
// # Cursors
//
//	c, err := txn.OpenCursor(users)
//	for k, v, err := c.First(); err == nil; k, v, err = c.Next() {
//	    fmt.Printf("%s=%s\n", k, v)
//	}
//
// Keys and values returned by a transaction are valid until it ends or, in a
// write transaction, until its next modification.
//
// # Sorted Duplicates
//
// A table opened with DupSort keeps several values per key in value order.
// Cursor methods ending in Dup move among the values of one key.
package obakv
