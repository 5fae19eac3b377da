package pool

import (
	"container/list"
	"fmt"
	"sync/atomic"
)

// PageState describes who currently owns a page.
type PageState int32

const (
	// PageFree pages sit on the free list of their area.
	PageFree PageState = iota
	// PageCached pages hold cache content and belong to an inode.
	PageCached
	// PageTransitional pages were claimed by AllocRange and belong to its caller.
	PageTransitional
)

func (s PageState) String() string {
	switch s {
	case PageFree:
		return "free"
	case PageCached:
		return "cached"
	case PageTransitional:
		return "transitional"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// page is the metadata of one page frame.
// pfn, area and data never change after the area was registered.
type page struct {
	pfn  uint64
	area *Area
	data []byte

	// One reference is held by the inode page map while the page is cached.
	// Everybody else only holds short-lived speculative references.
	refs atomic.Int32

	// Guarded by area.mu:
	state    PageState
	owner    *inode
	index    uint64
	freeElem *list.Element

	// Guarded by lru.mu:
	lruElem *list.Element
}

func (pg *page) getUnlessZero() bool {
	for {
		refs := pg.refs.Load()
		if refs <= 0 {
			return false
		}

		if pg.refs.CompareAndSwap(refs, refs+1) {
			return true
		}
	}
}

// freeze claims exclusive ownership if exactly `expected` references exist.
// A frozen page has a refcount of zero, so nobody else can get a reference.
func (pg *page) freeze(expected int32) bool {
	return pg.refs.CompareAndSwap(expected, 0)
}

// putPage drops a reference. The last one returns the page to its area.
func (p *Pool) putPage(pg *page) {
	refs := pg.refs.Add(-1)
	switch {
	case refs == 0:
		p.freePage(pg)
	case refs < 0:
		panic(fmt.Sprintf("bug: negative refcount on pfn %d", pg.pfn))
	}
}

// PageInfo is a snapshot of a page's metadata.
type PageInfo struct {
	PFN   uint64
	Area  AreaID
	State PageState
	Refs  int32
	// Index is the page offset inside its file (only valid for cached pages).
	Index uint64
}

// PageInfo returns the current metadata of the page at `pfn`.
// The second return value is false if `pfn` belongs to no area.
func (p *Pool) PageInfo(pfn uint64) (PageInfo, bool) {
	a := p.lookupArea(pfn, nil)
	if a == nil {
		return PageInfo{}, false
	}

	pg := a.pageAt(pfn)

	a.mu.Lock()
	defer a.mu.Unlock()

	return PageInfo{
		PFN:   pfn,
		Area:  a.id,
		State: pg.state,
		Refs:  pg.refs.Load(),
		Index: pg.index,
	}, true
}
