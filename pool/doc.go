// Package pool implements a guaranteed-contiguous cache allocator.
//
// A Pool owns a fixed set of memory areas that are split into pages.
// While nobody needs them, those pages serve as a second-chance cache for
// clean, re-fetchable file content: a page cache layer stores pages that
// it is about to drop and loads them back before going to the backing store.
// Cached content is addressed by (filesystem id, file key, page offset).
//
// At any time a caller may claim a physical page range with AllocRange.
// Every cached page in that range is stolen back from the cache, every free
// page is removed from the free lists, and afterwards the whole range belongs
// exclusively to the caller until it hands it back with FreeRange.
//
// # Locking
//
// The cache operations never wait for each other while holding a lock.
// Locks nest in this order:
//
//	inode.mu -> filesystem.mu (hash) -> lru.mu -> area.mu
//
// Eviction and AllocRange start from a page and need to find its inode,
// which is the wrong direction. They take a speculative reference on the
// page, read the owner under the area lock, drop the lock again and verify
// the ownership after taking the inode lock. If anything changed in between,
// they retry.
//
// Inodes are found with a lock-free hash lookup. All public operations run
// inside a read-side section of an epoch; an inode whose last reference is
// gone is only recycled after every section that might still see it has ended.
package pool
