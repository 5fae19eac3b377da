package pool

import (
	"fmt"
	"runtime"

	e "github.com/pkg/errors"
	"github.com/sahib/gcma/stats"
	log "github.com/sirupsen/logrus"
)

// segment is a part of an AllocRange request that lies in a single area.
type segment struct {
	area       *Area
	start, end uint64
}

// discarder holds the state of one AllocRange call.
type discarder struct {
	p    *Pool
	slot uint64

	scanned     int64
	yieldEvery  int64
	maxRetries  int64
	spinRetries int64

	freed, stolen int
}

// yield leaves the read-side section for a moment so that
// writers waiting for a grace period and other goroutines can progress.
func (d *discarder) yield() {
	d.p.ep.readUnlock(d.slot)
	runtime.Gosched()
	d.slot = d.p.ep.readLock()
}

func (d *discarder) discard(pg *page) error {
	for attempt := int64(0); ; attempt++ {
		d.scanned++
		if d.scanned%d.yieldEvery == 0 {
			d.yield()
		}

		if d.maxRetries > 0 && attempt >= d.maxRetries {
			return e.Wrapf(ErrRangeBusy, "pfn %d still busy after %d retries", pg.pfn, attempt)
		}

		if attempt > 0 && attempt >= d.spinRetries {
			runtime.Gosched()
		}

		switch d.p.tryDiscard(pg) {
		case discardFree:
			d.freed++
			return nil
		case discardStolen:
			d.stolen++
			return nil
		}
	}
}

type discardResult int

const (
	discardRetry discardResult = iota
	discardFree
	discardStolen
)

// tryDiscard makes one attempt at taking `pg` away from the free list or
// the cache. Must be called inside a read-side section.
func (p *Pool) tryDiscard(pg *page) discardResult {
	a := pg.area

	a.mu.Lock()
	switch pg.state {
	case PageFree:
		a.unlinkFreeLocked(pg)
		pg.state = PageTransitional
		a.mu.Unlock()
		return discardFree
	case PageTransitional:
		a.mu.Unlock()
		panic(fmt.Sprintf("bug: pfn %d is already allocated", pg.pfn))
	}

	if !pg.getUnlessZero() {
		// Being freed, but not on the free list yet.
		a.mu.Unlock()
		return discardRetry
	}

	ino, index := pg.owner, pg.index
	a.mu.Unlock()

	// No owner means the page was just allocated by a store
	// that did not insert it yet.
	if ino == nil || !ino.get() {
		p.putPage(pg)
		return discardRetry
	}

	ino.mu.Lock()
	if cur, ok := ino.pages.Get(index); !ok || cur != pg {
		ino.mu.Unlock()
		p.putPage(pg)
		p.putInode(ino)
		return discardRetry
	}

	// One reference of the page map, one of ours.
	// Anything above means somebody else is looking at the page.
	if !pg.freeze(2) {
		ino.mu.Unlock()
		p.putPage(pg)
		p.putInode(ino)
		return discardRetry
	}

	ino.pages.Delete(index)
	p.lru.remove(pg)
	p.checkAndRemoveInode(ino)
	ino.mu.Unlock()

	a.mu.Lock()
	pg.state = PageTransitional
	pg.owner = nil
	pg.index = 0
	a.mu.Unlock()

	p.sink.Dec(stats.Cached)
	p.sink.Inc(stats.Discarded)
	p.putInode(ino)
	return discardStolen
}

// AllocRange claims every page frame in [start, end) that belongs to an area.
// Cached pages are dropped from the cache and free pages are taken off the
// free lists. Frames that are not part of any area are skipped.
// On success the whole range belongs to the caller until FreeRange is called.
//
// A page that is constantly referenced by others is retried; after
// discard.max_retries attempts the already claimed pages are released
// again and ErrRangeBusy is returned.
func (p *Pool) AllocRange(start, end uint64) error {
	if end < start {
		return e.Wrapf(ErrBadArea, "inverted range [%d, %d)", start, end)
	}

	d := &discarder{
		p:           p,
		yieldEvery:  p.tun.yieldInterval.Load(),
		maxRetries:  p.tun.maxRetries.Load(),
		spinRetries: p.tun.spinRetries.Load(),
	}

	if d.yieldEvery <= 0 {
		d.yieldEvery = 1
	}

	var done []segment
	d.slot = p.ep.readLock()

	for _, a := range p.loadAreas() {
		lo, hi := start, end
		if lo < a.start {
			lo = a.start
		}

		if hi > a.end {
			hi = a.end
		}

		if lo >= hi {
			continue
		}

		for pfn := lo; pfn < hi; pfn++ {
			if err := d.discard(a.pageAt(pfn)); err != nil {
				p.ep.readUnlock(d.slot)
				done = append(done, segment{area: a, start: lo, end: pfn})
				p.releaseSegments(done)
				log.Warnf("alloc range [%d, %d) rolled back: %v", start, end, err)
				return err
			}
		}

		done = append(done, segment{area: a, start: lo, end: hi})
	}

	p.ep.readUnlock(d.slot)
	log.Debugf(
		"alloc range [%d, %d): %d free, %d stolen from cache",
		start, end, d.freed, d.stolen,
	)
	return nil
}

func (p *Pool) releaseSegments(segs []segment) {
	for _, seg := range segs {
		for pfn := seg.start; pfn < seg.end; pfn++ {
			seg.area.releaseTransitional(seg.area.pageAt(pfn))
		}
	}
}

// FreeRange gives every page frame in [start, end) back to the pool.
// All frames that belong to an area must have been claimed by AllocRange.
// The range may span several areas; gaps between them are skipped.
// Like AllocRange it yields every discard.yield_interval pages.
func (p *Pool) FreeRange(start, end uint64) {
	yieldEvery := p.tun.yieldInterval.Load()
	if yieldEvery <= 0 {
		yieldEvery = 1
	}

	var hint *Area
	var released int64
	for pfn := start; pfn < end; pfn++ {
		a := p.lookupArea(pfn, hint)
		if a == nil {
			next, ok := p.nextAreaStart(pfn)
			if !ok || next >= end {
				break
			}

			// The loop increment lands on next.
			pfn = next - 1
			continue
		}

		hint = a
		a.releaseTransitional(a.pageAt(pfn))

		released++
		if released%yieldEvery == 0 {
			runtime.Gosched()
		}
	}
}

// Memory returns the backing memory of the claimed range [start, end).
// The range has to lie in a single area and every page in it must have
// been claimed by AllocRange. The slice stays valid until FreeRange.
func (p *Pool) Memory(start, end uint64) ([]byte, error) {
	if end <= start {
		return nil, e.Wrapf(ErrBadArea, "empty range [%d, %d)", start, end)
	}

	a := p.lookupArea(start, nil)
	if a == nil || end > a.end {
		return nil, e.Wrapf(ErrRangeNotOwned, "[%d, %d) is not inside a single area", start, end)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for pfn := start; pfn < end; pfn++ {
		if state := a.pageAt(pfn).state; state != PageTransitional {
			return nil, e.Wrapf(ErrRangeNotOwned, "pfn %d is %s", pfn, state)
		}
	}

	return a.mem[(start-a.start)*p.pageSize : (end-a.start)*p.pageSize], nil
}
