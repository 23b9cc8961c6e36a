// Package btree implements the copy-on-write B+tree used for every table,
// the freelist and sorted-duplicate subtrees.
//
// # Overview
//
// A Tree works on a storage.TreeRecord through a Pager. The pager decides
// where pages come from: the snapshot mapping for committed pages, the
// writer's dirty set for pages modified by the transaction.
//
//   - Branch key i is the smallest key reachable through child i
//   - Writers copy every page on the descent path before changing it
//   - Pages that no longer fit are split; underfull pages are merged with or
//     borrow from a sibling
//   - Values too large for half a page go to contiguous overflow runs
//
// # Usage
//
//	tree := btree.New(pager, &rec, nil, nil)
//
//	// Insert a key-value pair
//	err := tree.Put([]byte("alice"), []byte("42"), 0)
//
//	// Look it up
//	val, err := tree.Get([]byte("alice"))
//
//	// Scan in key order
//	c := tree.Cursor()
//	for ok, err := c.First(); ok && err == nil; ok, err = c.Next() {
//	    fmt.Printf("%s\n", c.Key())
//	}
//
// # Sorted Duplicates
//
// In a tree whose record carries storage.TreeDupSort a key may own several
// values. A single value stays inline; more values move to a nested subtree
// keyed by the values themselves.
package btree
