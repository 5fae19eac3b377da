package pool

import (
	"container/list"
	"fmt"
	"sync"
)

// lruList orders all cached pages by recency.
// The front holds the least recently used page, the back the most recent one.
// A page is on the list exactly while it is in an inode page map,
// except for the short time eviction has isolated it.
type lruList struct {
	mu sync.Mutex
	k  *list.List
}

func newLRUList() *lruList {
	return &lruList{k: list.New()}
}

func (l *lruList) add(pg *page) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if pg.lruElem != nil {
		panic(fmt.Sprintf("bug: pfn %d is already on the lru", pg.pfn))
	}

	pg.lruElem = l.k.PushBack(pg)
}

// rotate marks `pg` as recently used.
// Pages that were isolated by eviction stay off the list.
func (l *lruList) rotate(pg *page) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if pg.lruElem != nil {
		l.k.MoveToBack(pg.lruElem)
	}
}

func (l *lruList) remove(pg *page) {
	l.mu.Lock()
	l.removeLocked(pg)
	l.mu.Unlock()
}

func (l *lruList) removeLocked(pg *page) {
	if pg.lruElem == nil {
		return
	}

	l.k.Remove(pg.lruElem)
	pg.lruElem = nil
}

func (l *lruList) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.k.Len()
}

// isolated is a page taken off the lru by eviction, together with
// the references and the owner information needed to erase it.
type isolated struct {
	pg    *page
	ino   *inode
	index uint64
}

// isolateLRU takes up to `n` pages from the cold end of the list.
// Every returned page and its inode carry one extra reference.
// Pages whose refcount already dropped to zero are being stolen by
// AllocRange; they are taken off the list but not returned.
func (p *Pool) isolateLRU(batch []isolated, n int) []isolated {
	l := p.lru
	l.mu.Lock()
	defer l.mu.Unlock()

	for len(batch) < n {
		elem := l.k.Front()
		if elem == nil {
			break
		}

		pg := elem.Value.(*page)
		l.removeLocked(pg)

		if !pg.getUnlessZero() {
			continue
		}

		a := pg.area
		a.mu.Lock()
		ino, index := pg.owner, pg.index
		a.mu.Unlock()

		if ino == nil || !ino.get() {
			p.putPage(pg)
			continue
		}

		batch = append(batch, isolated{pg: pg, ino: ino, index: index})
	}

	return batch
}
