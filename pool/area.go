package pool

import (
	"container/list"
	"fmt"
	"sync"

	humanize "github.com/dustin/go-humanize"
	e "github.com/pkg/errors"
	"github.com/sahib/gcma/stats"
	log "github.com/sirupsen/logrus"
)

// MaxAreas is the maximum number of areas a pool can manage.
const MaxAreas = 64

// AreaID identifies a registered area. Ids are handed out in registration order.
type AreaID int

// Area is a contiguous range of page frames owned by the pool.
type Area struct {
	id    AreaID
	name  string
	base  uint64
	start uint64
	end   uint64
	mem   []byte
	pages []page

	mu sync.Mutex
	// free holds *page. The back is the most recently freed page
	// and will be handed out next.
	free *list.List
}

func newArea(id AreaID, name string, base, start, end uint64, mem []byte, pageSize uint64) *Area {
	a := &Area{
		id:    id,
		name:  name,
		base:  base,
		start: start,
		end:   end,
		mem:   mem,
		pages: make([]page, end-start),
		free:  list.New(),
	}

	// Push in reverse so that the first allocation returns the first page.
	for idx := len(a.pages) - 1; idx >= 0; idx-- {
		off := uint64(idx) * pageSize
		pg := &a.pages[idx]
		pg.pfn = start + uint64(idx)
		pg.area = a
		pg.data = mem[off : off+pageSize : off+pageSize]
		pg.state = PageFree
		pg.freeElem = a.free.PushBack(pg)
	}

	return a
}

// ID returns the id of the area.
func (a *Area) ID() AreaID { return a.id }

// Name returns the name given at registration.
func (a *Area) Name() string { return a.name }

// StartPFN returns the first page frame of the area.
func (a *Area) StartPFN() uint64 { return a.start }

// EndPFN returns the page frame right after the last one of the area.
func (a *Area) EndPFN() uint64 { return a.end }

func (a *Area) contains(pfn uint64) bool {
	return pfn >= a.start && pfn < a.end
}

func (a *Area) pageAt(pfn uint64) *page {
	return &a.pages[pfn-a.start]
}

// popFree takes the most recently freed page off the free list.
// The returned page is cached, has no owner yet and one reference.
func (a *Area) popFree() *page {
	a.mu.Lock()
	defer a.mu.Unlock()

	elem := a.free.Back()
	if elem == nil {
		return nil
	}

	pg := a.free.Remove(elem).(*page)
	pg.freeElem = nil
	if pg.state != PageFree {
		panic(fmt.Sprintf("bug: pfn %d on free list is %s", pg.pfn, pg.state))
	}

	pg.state = PageCached
	pg.refs.Store(1)
	return pg
}

// pushFreeLocked puts `pg` back on the free list. a.mu must be held.
func (a *Area) pushFreeLocked(pg *page) {
	if pg.freeElem != nil {
		panic(fmt.Sprintf("bug: pfn %d is already on the free list", pg.pfn))
	}

	pg.state = PageFree
	pg.owner = nil
	pg.index = 0
	pg.freeElem = a.free.PushBack(pg)
}

// unlinkFreeLocked removes `pg` from the free list. a.mu must be held.
func (a *Area) unlinkFreeLocked(pg *page) {
	if pg.freeElem == nil {
		panic(fmt.Sprintf("bug: free pfn %d is not on the free list", pg.pfn))
	}

	a.free.Remove(pg.freeElem)
	pg.freeElem = nil
}

// setOwner records which inode slot a freshly allocated page fills.
func (a *Area) setOwner(pg *page, ino *inode, index uint64) {
	a.mu.Lock()
	pg.owner = ino
	pg.index = index
	a.mu.Unlock()
}

// releaseTransitional hands a page claimed by AllocRange back to the free list.
func (a *Area) releaseTransitional(pg *page) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if pg.state != PageTransitional {
		panic(fmt.Sprintf("bug: freeing pfn %d which is %s", pg.pfn, pg.state))
	}

	pg.refs.Store(0)
	a.pushFreeLocked(pg)
}

func (p *Pool) loadAreas() []*Area {
	if areas := p.areas.Load(); areas != nil {
		return *areas
	}

	return nil
}

// lookupArea finds the area that contains `pfn`. `hint` is checked first.
func (p *Pool) lookupArea(pfn uint64, hint *Area) *Area {
	if hint != nil && hint.contains(pfn) {
		return hint
	}

	for _, a := range p.loadAreas() {
		if a.contains(pfn) {
			return a
		}
	}

	return nil
}

// nextAreaStart returns the lowest area start above `pfn`.
func (p *Pool) nextAreaStart(pfn uint64) (uint64, bool) {
	next, found := uint64(0), false
	for _, a := range p.loadAreas() {
		if a.start > pfn && (!found || a.start < next) {
			next, found = a.start, true
		}
	}

	return next, found
}

// RegisterArea hands the memory range [base, base+size) to the pool.
// `base` must be aligned to the page size; trailing bytes that do not
// fill a whole page are ignored. Registering the same range twice returns
// the id of the existing area.
func (p *Pool) RegisterArea(name string, base, size uint64) (AreaID, error) {
	if base%p.pageSize != 0 {
		return -1, e.Wrapf(ErrBadArea, "base %#x is not aligned to %d", base, p.pageSize)
	}

	if size < p.pageSize {
		return -1, e.Wrapf(ErrBadArea, "size %d is smaller than a page", size)
	}

	start := base / p.pageSize
	end := start + size/p.pageSize

	p.areaMu.Lock()
	defer p.areaMu.Unlock()

	areas := p.loadAreas()
	for _, a := range areas {
		if a.start == start && a.end == end {
			return a.id, nil
		}

		if start < a.end && a.start < end {
			return -1, e.Wrapf(
				ErrAreaOverlap,
				"[%d, %d) overlaps %s [%d, %d)",
				start, end, a.name, a.start, a.end,
			)
		}
	}

	if len(areas) >= MaxAreas {
		return -1, ErrOutOfAreaSlots
	}

	mem, err := mapArea(int((end - start) * p.pageSize))
	if err != nil {
		return -1, e.Wrapf(err, "failed to map memory for %s", name)
	}

	a := newArea(AreaID(len(areas)), name, base, start, end, mem, p.pageSize)
	next := make([]*Area, len(areas), len(areas)+1)
	copy(next, areas)
	next = append(next, a)
	p.areas.Store(&next)

	log.Infof("created memory pool at %#x, size %s for %s", base, humanize.IBytes(size), name)
	return a.id, nil
}

// allocPage pulls a page from the first area that has one.
func (p *Pool) allocPage() *page {
	for _, a := range p.loadAreas() {
		if pg := a.popFree(); pg != nil {
			p.sink.Inc(stats.Cached)
			return pg
		}
	}

	return nil
}

// freePage returns a cached page whose last reference is gone.
func (p *Pool) freePage(pg *page) {
	a := pg.area
	a.mu.Lock()
	if pg.state != PageCached {
		a.mu.Unlock()
		panic(fmt.Sprintf("bug: freeing pfn %d which is %s", pg.pfn, pg.state))
	}

	a.pushFreeLocked(pg)
	a.mu.Unlock()

	p.sink.Dec(stats.Cached)
}
