// Package tx implements transaction coordination for the obakv storage engine.
//
// # Overview
//
// A store has one writer and any number of readers:
//
//   - The writer lock excludes other writers of this process (a semaphore
//     shared by every Manager on the same file) and of other processes (an
//     fcntl record lock on the lock file).
//   - Readers never block. Each claims a slot in the reader table, a shared
//     mapping of the lock file, and publishes the snapshot txnid it reads.
//
// # Lock File
//
// The lock file lives next to the data file as <path>-lock:
//
//	header   64 bytes: magic, version, slot count
//	slot[i]  64 bytes: pid u64, txnid u64, session uuid
//
// A slot is claimed by a compare-and-swap of its pid from zero. All other
// fields are written only by the owner. The smallest published txnid is the
// oldest reader; pages freed after it must not be reused.
//
// # Stale Slots
//
// A slot whose pid no longer exists, or whose pid is this process but whose
// session belongs to a closed Manager, is stale. Stale slots are reclaimed
// when the table is full and by ReaderCheck.
//
// # Transaction States
//
//   - Active: Transaction is in progress
//   - Committing: the commit protocol is running
//   - Committed: Changes are durable per the durability mode
//   - Aborted: Changes are discarded
package tx
