package pool

import (
	"fmt"
	"strings"

	e "github.com/pkg/errors"
)

// AreaInfo describes the usage of one area.
type AreaInfo struct {
	ID           AreaID
	Name         string
	Base         uint64
	StartPFN     uint64
	EndPFN       uint64
	Total        int
	Free         int
	Cached       int
	Transitional int
}

func (a *Area) info() AreaInfo {
	a.mu.Lock()
	defer a.mu.Unlock()

	info := AreaInfo{
		ID:       a.id,
		Name:     a.name,
		Base:     a.base,
		StartPFN: a.start,
		EndPFN:   a.end,
		Total:    len(a.pages),
	}

	for idx := range a.pages {
		switch a.pages[idx].state {
		case PageFree:
			info.Free++
		case PageCached:
			info.Cached++
		case PageTransitional:
			info.Transitional++
		}
	}

	return info
}

// AreaInfos returns the usage of every area in registration order.
func (p *Pool) AreaInfos() []AreaInfo {
	areas := p.loadAreas()
	infos := make([]AreaInfo, 0, len(areas))
	for _, a := range areas {
		infos = append(infos, a.info())
	}

	return infos
}

type checkErrors []string

func (ce *checkErrors) addf(format string, args ...interface{}) {
	*ce = append(*ce, fmt.Sprintf(format, args...))
}

func (ce checkErrors) err() error {
	if len(ce) == 0 {
		return nil
	}

	return e.Errorf("pool is inconsistent:\n  %s", strings.Join(ce, "\n  "))
}

// Check verifies the bookkeeping of the whole pool:
//
// - every page is either free, in exactly one inode or claimed by AllocRange.
// - the free lists hold exactly the free pages.
// - an inode is hashed if and only if it holds pages.
// - the lru holds exactly the cached pages.
//
// The result is only meaningful while no other operation is running.
func (p *Pool) Check() error {
	errs := checkErrors{}
	cached := make(map[*page]bool)

	for _, a := range p.loadAreas() {
		a.mu.Lock()
		nfree := 0
		for idx := range a.pages {
			pg := &a.pages[idx]
			switch pg.state {
			case PageFree:
				nfree++
				if pg.freeElem == nil {
					errs.addf("free pfn %d is not on the free list", pg.pfn)
				}
			case PageCached:
				cached[pg] = false
				if pg.freeElem != nil {
					errs.addf("cached pfn %d is on the free list", pg.pfn)
				}
			case PageTransitional:
				if pg.freeElem != nil {
					errs.addf("transitional pfn %d is on the free list", pg.pfn)
				}
			}
		}

		if a.free.Len() != nfree {
			errs.addf("area %d: free list has %d pages, %d are free", a.id, a.free.Len(), nfree)
		}
		a.mu.Unlock()
	}

	for _, fs := range p.filesystems() {
		inodes := fs.snapshot()
		for _, ino := range inodes {
			ino.mu.Lock()
			if ino.pages.Len() == 0 {
				errs.addf("fs %d: hashed inode %v has no pages", fs.id, ino.key)
			}

			ino.pages.Scan(func(offset uint64, pg *page) bool {
				a := pg.area
				a.mu.Lock()
				state, owner, index := pg.state, pg.owner, pg.index
				a.mu.Unlock()

				if state != PageCached || owner != ino || index != offset {
					errs.addf(
						"fs %d: %v:%d maps pfn %d (%s, index %d)",
						fs.id, ino.key, offset, pg.pfn, state, index,
					)
				}

				if seen, ok := cached[pg]; !ok || seen {
					errs.addf("pfn %d is mapped more than once or not cached", pg.pfn)
				}

				cached[pg] = true
				return true
			})
			ino.mu.Unlock()
			p.putInode(ino)
		}
	}

	for pg, seen := range cached {
		if !seen {
			errs.addf("cached pfn %d belongs to no inode", pg.pfn)
		}
	}

	p.lru.mu.Lock()
	if n := p.lru.k.Len(); n != len(cached) {
		errs.addf("lru has %d pages, %d are cached", n, len(cached))
	}

	for elem := p.lru.k.Front(); elem != nil; elem = elem.Next() {
		pg := elem.Value.(*page)
		if _, ok := cached[pg]; !ok {
			errs.addf("pfn %d is on the lru but not cached", pg.pfn)
		}

		if pg.lruElem != elem {
			errs.addf("pfn %d has a stale lru link", pg.pfn)
		}
	}
	p.lru.mu.Unlock()

	return errs.err()
}
