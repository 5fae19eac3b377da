package pool

import (
	"fmt"
	"sync"
	"sync/atomic"

	e "github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// FsID identifies a filesystem instance that uses the cache.
type FsID int

// filesystem is the inode registry of one filesystem instance.
// Lookups walk the bucket chains without locking; writers hold mu.
type filesystem struct {
	id FsID

	mu      sync.Mutex
	buckets [1 << hashBits]atomic.Pointer[inode]
	count   int
}

func (fs *filesystem) findAndGet(key FileKey) *inode {
	for ino := fs.buckets[hashKey(key)].Load(); ino != nil; ino = ino.next.Load() {
		if ino.key == key && ino.get() {
			return ino
		}
	}

	return nil
}

func (fs *filesystem) hashLocked(ino *inode) {
	bucket := &fs.buckets[hashKey(ino.key)]
	ino.next.Store(bucket.Load())
	bucket.Store(ino)
	fs.count++
}

func (fs *filesystem) unhashLocked(ino *inode) {
	bucket := &fs.buckets[hashKey(ino.key)]
	if bucket.Load() == ino {
		bucket.Store(ino.next.Load())
		fs.count--
		return
	}

	for prev := bucket.Load(); prev != nil; prev = prev.next.Load() {
		if prev.next.Load() == ino {
			prev.next.Store(ino.next.Load())
			fs.count--
			return
		}
	}

	panic(fmt.Sprintf("bug: inode %v is not in the hash of fs %d", ino.key, fs.id))
}

// snapshot returns every hashed inode with an extra reference.
func (fs *filesystem) snapshot() []*inode {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	inodes := make([]*inode, 0, fs.count)
	for idx := range fs.buckets {
		for ino := fs.buckets[idx].Load(); ino != nil; ino = ino.next.Load() {
			if ino.get() {
				inodes = append(inodes, ino)
			}
		}
	}

	return inodes
}

func (fs *filesystem) len() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	return fs.count
}

// addInode creates and hashes a new inode for `key`.
// If somebody else was faster, errAlreadyExists is returned
// and the caller should look the key up again.
func (p *Pool) addInode(fs *filesystem, key FileKey) (*inode, error) {
	ino := p.allocInode(fs, key)

	fs.mu.Lock()
	for cur := fs.buckets[hashKey(key)].Load(); cur != nil; cur = cur.next.Load() {
		if cur.key == key {
			fs.mu.Unlock()

			// Never published, so it can be reused right away.
			ino.hashed = false
			ino.fs = nil
			p.inodes.Put(ino)
			return nil, errAlreadyExists
		}
	}

	fs.hashLocked(ino)
	fs.mu.Unlock()
	return ino, nil
}

// checkAndRemoveInode unhashes `ino` once it holds no pages anymore.
// This is the only place where an inode becomes unreachable.
// ino.mu must be held and the caller must own a reference.
func (p *Pool) checkAndRemoveInode(ino *inode) {
	if !ino.hashed || ino.pages.Len() > 0 {
		return
	}

	fs := ino.fs
	fs.mu.Lock()
	fs.unhashLocked(ino)
	ino.hashed = false
	fs.mu.Unlock()

	// drop the reference of the hash
	p.putInode(ino)
}

func (p *Pool) findFs(id FsID) *filesystem {
	fss := p.fss.Load()
	if fss == nil {
		return nil
	}

	return (*fss)[id]
}

// InitFilesystem registers a new filesystem instance with the cache.
// `pageSize` must match the page size of the pool and at least one
// area has to be registered already.
func (p *Pool) InitFilesystem(pageSize uint64) (FsID, error) {
	if len(p.loadAreas()) == 0 {
		return -1, ErrNoAreaRegistered
	}

	if pageSize != p.pageSize {
		return -1, e.Wrapf(ErrUnsupportedPageSize, "%d (pool uses %d)", pageSize, p.pageSize)
	}

	p.fsMu.Lock()
	defer p.fsMu.Unlock()

	var old map[FsID]*filesystem
	if fss := p.fss.Load(); fss != nil {
		old = *fss
	}

	// Ids are not reused: a late Store for a gone fs must not
	// end up in a new one.
	id := p.nextFsID
	p.nextFsID++

	next := make(map[FsID]*filesystem, len(old)+1)
	for oldID, fs := range old {
		next[oldID] = fs
	}

	next[id] = &filesystem{id: id}
	p.fss.Store(&next)

	log.Debugf("initialized filesystem %d", id)
	return id, nil
}

func (p *Pool) removeFs(id FsID) *filesystem {
	p.fsMu.Lock()
	defer p.fsMu.Unlock()

	fss := p.fss.Load()
	if fss == nil {
		return nil
	}

	fs, ok := (*fss)[id]
	if !ok {
		return nil
	}

	next := make(map[FsID]*filesystem, len(*fss))
	for oldID, other := range *fss {
		if oldID != id {
			next[oldID] = other
		}
	}

	p.fss.Store(&next)
	return fs
}

func (p *Pool) filesystems() []*filesystem {
	fss := p.fss.Load()
	if fss == nil {
		return nil
	}

	result := make([]*filesystem, 0, len(*fss))
	for _, fs := range *fss {
		result = append(result, fs)
	}

	return result
}
