// Package storage provides the page-level building blocks of the obakv
// storage engine.
//
// # Overview
//
// A store is one data file made of fixed-size pages:
//
//   - Pages 0 and 1 hold the two meta pages
//   - Every other page is a B+tree branch or leaf, a freelist leaf, or part
//     of an overflow run
//   - The file is memory-mapped read-only; pages are written with pwrite
//
// # Meta Pages
//
// Each meta page holds a complete snapshot header: geometry, the freelist
// and main tree records, the high-water mark and the transaction id, covered
// by a CRC-32. The valid meta with the greatest txnid is current; the other
// is the fallback used when the current one fails its checksum. The writer of
// txnid n writes slot n%2, so a torn meta write always leaves the previous
// snapshot intact.
//
// # File and Mapping
//
// File owns the data file and its geometry:
//
//	f, err := storage.Open(path, storage.DefaultFileOptions())
//	cur, fallback, err := f.Metas()
//	m := f.Mapping() // reference-counted view
//	defer m.Release()
//
// When the file grows, EnsureMapped installs a new mapping. The old one is
// unmapped once the last transaction holding it releases it.
//
// # Freelist Records
//
// Pages freed by transaction n are recorded under keys FreeKey(n, chunk) in
// the freelist tree. Values are page number lists; large sets are split
// into chunks of MaxFreeRecordPages entries.
//
// # Errors
//
// Every engine error is an *Error carrying a Code. Compare with errors.Is
// against the package sentinels:
//
//	if errors.Is(err, storage.ErrNotFound) {
//	    // ...
//	}
package storage
