package pool

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/tidwall/btree"
)

// FileKey identifies a file inside one filesystem instance.
// Gen distinguishes reused inode numbers.
type FileKey struct {
	Ino uint64
	Gen uint32
}

func (key FileKey) String() string {
	return fmt.Sprintf("%d.%d", key.Ino, key.Gen)
}

const hashBits = 10

func hashKey(key FileKey) uint64 {
	var buf [12]byte
	binary.LittleEndian.PutUint64(buf[:8], key.Ino)
	binary.LittleEndian.PutUint32(buf[8:], key.Gen)
	return xxhash.Sum64(buf[:]) & (1<<hashBits - 1)
}

// inode is the set of cached pages of one file.
type inode struct {
	key FileKey
	fs  *filesystem

	// The hash table holds one reference while the inode is hashed.
	refs atomic.Int32
	// next is the hash chain link. It is left intact when the inode
	// is unhashed, so readers standing on it can continue their walk.
	next atomic.Pointer[inode]

	mu     sync.Mutex
	pages  btree.Map[uint64, *page]
	hashed bool
}

// get takes a reference unless the inode is already on its way out.
func (ino *inode) get() bool {
	for {
		refs := ino.refs.Load()
		if refs <= 0 {
			return false
		}

		if ino.refs.CompareAndSwap(refs, refs+1) {
			return true
		}
	}
}

func (p *Pool) putInode(ino *inode) {
	refs := ino.refs.Add(-1)
	switch {
	case refs == 0:
		if ino.hashed {
			panic(fmt.Sprintf("bug: last reference of hashed inode %v dropped", ino.key))
		}

		p.rcl.retire(ino)
	case refs < 0:
		panic(fmt.Sprintf("bug: negative refcount on inode %v", ino.key))
	}
}

// allocInode returns an inode that is referenced by the caller and the hash.
func (p *Pool) allocInode(fs *filesystem, key FileKey) *inode {
	ino, _ := p.inodes.Get().(*inode)
	if ino == nil {
		ino = &inode{}
	}

	// A reader may still hold a stale pointer from a lock-free walk.
	ino.mu.Lock()
	ino.key = key
	ino.fs = fs
	ino.pages = btree.Map[uint64, *page]{}
	ino.hashed = true
	ino.next.Store(nil)
	ino.refs.Store(2)
	ino.mu.Unlock()
	return ino
}

// releaseInode is called by the reclaimer after a grace period.
func (p *Pool) releaseInode(ino *inode) {
	if ino.pages.Len() != 0 {
		panic(fmt.Sprintf("bug: releasing inode %v with %d pages", ino.key, ino.pages.Len()))
	}

	ino.mu.Lock()
	ino.key = FileKey{}
	ino.fs = nil
	ino.pages = btree.Map[uint64, *page]{}
	ino.hashed = false
	ino.next.Store(nil)
	ino.mu.Unlock()

	p.inodes.Put(ino)
}
