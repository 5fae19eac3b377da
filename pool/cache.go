package pool

import (
	"fmt"

	"github.com/sahib/gcma/stats"
	log "github.com/sirupsen/logrus"
)

// storeAttempts bounds how often a single store restarts after losing a race
// or after reclaiming memory. Stores are best effort; giving up is fine.
const storeAttempts = 4

type storeResult int

const (
	storeDone storeResult = iota
	storeRetry
	storeExhausted
)

// Store puts the content of `buf` into the cache as page `offset` of `key`.
// `buf` shorter than a page is padded with zeros; longer buffers are not cached.
// If `workingset` is false, only an existing copy is touched: it is dropped,
// since the caller considers its content not worth keeping.
// Store never fails visibly; if no page can be found, the content is not cached.
func (p *Pool) Store(id FsID, key FileKey, offset uint64, buf []byte, workingset bool) {
	if uint64(len(buf)) > p.pageSize {
		log.Warnf("not caching %d bytes at %v:%d: more than a page", len(buf), key, offset)
		return
	}

	reclaimed := false
	for attempt := 0; attempt < storeAttempts; attempt++ {
		switch p.storeOnce(id, key, offset, buf, workingset) {
		case storeDone:
			return
		case storeRetry:
			continue
		case storeExhausted:
			// Try to make room ourselves once, with no locks held.
			// If that does not help, leave it to the background evictor.
			if !reclaimed && p.directReclaim() > 0 {
				reclaimed = true
				if p.Evict(p.directReclaim()) > 0 {
					continue
				}
			}

			p.kickEvictor()
			return
		}
	}
}

func (p *Pool) storeOnce(id FsID, key FileKey, offset uint64, buf []byte, workingset bool) storeResult {
	defer p.ep.readUnlock(p.ep.readLock())

	fs := p.findFs(id)
	if fs == nil {
		return storeDone
	}

	ino := fs.findAndGet(key)
	if ino == nil {
		if !workingset {
			return storeDone
		}

		var err error
		if ino, err = p.addInode(fs, key); err != nil {
			return storeRetry
		}
	}

	defer p.putInode(ino)

	ino.mu.Lock()
	defer ino.mu.Unlock()

	// Emptied and unhashed while we waited for the lock.
	// Look it up again instead of filling an unreachable inode.
	if !ino.hashed {
		return storeRetry
	}

	if pg, ok := ino.pages.Get(offset); ok {
		if !workingset {
			p.erasePage(ino, offset, pg)
			return storeDone
		}

		fillPage(pg.data, buf)
		p.lru.rotate(pg)
		p.sink.Inc(stats.Stored)
		return storeDone
	}

	if !workingset {
		return storeDone
	}

	pg := p.allocPage()
	if pg == nil {
		// Drop the inode again if we just created it.
		p.checkAndRemoveInode(ino)
		return storeExhausted
	}

	fillPage(pg.data, buf)
	pg.area.setOwner(pg, ino, offset)
	ino.pages.Set(offset, pg)
	p.lru.add(pg)
	p.sink.Inc(stats.Stored)
	return storeDone
}

func fillPage(dst, src []byte) {
	n := copy(dst, src)
	for idx := n; idx < len(dst); idx++ {
		dst[idx] = 0
	}
}

// Load copies page `offset` of `key` into `buf` and reports whether it was cached.
func (p *Pool) Load(id FsID, key FileKey, offset uint64, buf []byte) bool {
	defer p.ep.readUnlock(p.ep.readLock())

	fs := p.findFs(id)
	if fs == nil {
		return false
	}

	ino := fs.findAndGet(key)
	if ino == nil {
		return false
	}

	defer p.putInode(ino)

	ino.mu.Lock()
	defer ino.mu.Unlock()

	pg, ok := ino.pages.Get(offset)
	if !ok {
		return false
	}

	copy(buf, pg.data)
	p.lru.rotate(pg)
	p.sink.Inc(stats.Loaded)
	return true
}

// erasePage removes `pg` from `ino` and drops the reference of the page map.
// ino.mu must be held.
func (p *Pool) erasePage(ino *inode, offset uint64, pg *page) {
	if old, ok := ino.pages.Delete(offset); !ok || old != pg {
		panic(fmt.Sprintf("bug: erasing pfn %d which is not at %v:%d", pg.pfn, ino.key, offset))
	}

	p.lru.remove(pg)
	p.checkAndRemoveInode(ino)
	p.putPage(pg)
}

// eraseAllLocked empties `ino`. ino.mu must be held.
func (p *Pool) eraseAllLocked(ino *inode) {
	for {
		offset, pg, ok := ino.pages.Min()
		if !ok {
			break
		}

		p.erasePage(ino, offset, pg)
	}

	p.checkAndRemoveInode(ino)
}

// InvalidatePage drops page `offset` of `key` from the cache, if present.
func (p *Pool) InvalidatePage(id FsID, key FileKey, offset uint64) {
	defer p.ep.readUnlock(p.ep.readLock())

	fs := p.findFs(id)
	if fs == nil {
		return
	}

	ino := fs.findAndGet(key)
	if ino == nil {
		return
	}

	defer p.putInode(ino)

	ino.mu.Lock()
	defer ino.mu.Unlock()

	if pg, ok := ino.pages.Get(offset); ok {
		p.erasePage(ino, offset, pg)
	}
}

// InvalidateInode drops every cached page of `key`.
func (p *Pool) InvalidateInode(id FsID, key FileKey) {
	defer p.ep.readUnlock(p.ep.readLock())

	fs := p.findFs(id)
	if fs == nil {
		return
	}

	ino := fs.findAndGet(key)
	if ino == nil {
		return
	}

	defer p.putInode(ino)

	ino.mu.Lock()
	p.eraseAllLocked(ino)
	ino.mu.Unlock()
}

// InvalidateFilesystem drops every page of the filesystem and forgets it.
// It waits until no concurrent operation can see the filesystem anymore,
// so it must not be called while holding pages of the pool.
func (p *Pool) InvalidateFilesystem(id FsID) {
	fs := p.removeFs(id)
	if fs == nil {
		return
	}

	// No new operation can find fs now; wait for the ones that already did.
	p.ep.synchronize()

	inodes := fs.snapshot()
	for _, ino := range inodes {
		ino.mu.Lock()
		p.eraseAllLocked(ino)
		ino.mu.Unlock()
		p.putInode(ino)
	}

	p.rcl.barrier()

	if n := fs.len(); n != 0 {
		panic(fmt.Sprintf("bug: %d inodes left after removing fs %d", n, id))
	}

	log.Infof("removed filesystem %d (%d inodes)", id, len(inodes))
}
