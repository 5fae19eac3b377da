// Package cleancache is a small page cache frontend for the page pool.
//
// A Mount corresponds to one filesystem instance. Files opened on it wrap a
// read-only backing io.ReaderAt and implement io.ReaderAt themselves. Reads
// are split into pages; every page is looked up in the pool first and only
// read from the backing store on a miss.
//
// Pages that are read from the backing store for the first time are not
// cached. The mount remembers their keys in a bounded shadow set instead.
// When such a page misses again (a refault) it has proven to be part of the
// working set and is stored in the pool. Pages that were cached but got
// evicted or stolen back by a range allocation refault the same way.
//
// Files are never written through this package. Callers that modify the
// backing data have to call Invalidate or Drop so that no stale copy
// survives in the pool.
package cleancache
