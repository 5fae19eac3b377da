package cleancache

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru"
	e "github.com/pkg/errors"
	"github.com/sahib/config"
	"github.com/sahib/gcma/pool"
	"github.com/sahib/gcma/util"
	log "github.com/sirupsen/logrus"
)

var (
	// ErrNegativeOffset is returned by ReadAt for offsets below zero.
	ErrNegativeOffset = errors.New("negative offset")
	// ErrUnmounted is returned when using a mount after Unmount.
	ErrUnmounted = errors.New("mount was unmounted")
)

// Backend is what a mount needs from the page pool.
// *pool.Pool implements it.
type Backend interface {
	PageSize() uint64
	InitFilesystem(pageSize uint64) (pool.FsID, error)
	InvalidateFilesystem(id pool.FsID)
	Store(id pool.FsID, key pool.FileKey, offset uint64, buf []byte, workingset bool)
	Load(id pool.FsID, key pool.FileKey, offset uint64, buf []byte) bool
	InvalidatePage(id pool.FsID, key pool.FileKey, offset uint64)
	InvalidateInode(id pool.FsID, key pool.FileKey)
}

type shadowKey struct {
	key   pool.FileKey
	index uint64
}

// Stats are the counters of a single mount.
type Stats struct {
	Hits     int64 `yaml:"hits"`
	Misses   int64 `yaml:"misses"`
	Refaults int64 `yaml:"refaults"`
}

// Mount is one filesystem instance that uses the pool as second chance cache.
type Mount struct {
	be       Backend
	id       pool.FsID
	pageSize int64

	// keys of pages that were read from the backing store before.
	shadow  *lru.Cache
	pageBuf sync.Pool

	hits     atomic.Int64
	misses   atomic.Int64
	refaults atomic.Int64

	// mu is held for reading by every file operation and for
	// writing by Unmount, so no Store can land after the fs is gone.
	mu        sync.RWMutex
	unmounted bool
}

// NewMount registers a new filesystem with `be`.
// cfg is used to read the `cleancache` config section; nil uses the defaults.
func NewMount(be Backend, cfg *config.Config) (*Mount, error) {
	shadowEntries := 4096
	if cfg != nil {
		shadowEntries = int(cfg.Int("cleancache.shadow_entries"))
	}

	shadow, err := lru.New(shadowEntries)
	if err != nil {
		return nil, e.Wrap(err, "failed to create shadow set")
	}

	pageSize := be.PageSize()
	id, err := be.InitFilesystem(pageSize)
	if err != nil {
		return nil, e.Wrap(err, "failed to init filesystem")
	}

	m := &Mount{
		be:       be,
		id:       id,
		pageSize: int64(pageSize),
		shadow:   shadow,
	}

	m.pageBuf.New = func() interface{} {
		return make([]byte, pageSize)
	}

	return m, nil
}

// ID returns the filesystem id the pool gave to this mount.
func (m *Mount) ID() pool.FsID {
	return m.id
}

// Stats returns the hit and miss counters of this mount.
func (m *Mount) Stats() Stats {
	return Stats{
		Hits:     m.hits.Load(),
		Misses:   m.misses.Load(),
		Refaults: m.refaults.Load(),
	}
}

// enter read-locks the mount. It returns false (and holds no lock)
// if the mount is gone already.
func (m *Mount) enter() bool {
	m.mu.RLock()
	if m.unmounted {
		m.mu.RUnlock()
		return false
	}

	return true
}

func (m *Mount) leave() {
	m.mu.RUnlock()
}

// Unmount drops every page of this mount from the pool.
// It waits for running reads to finish.
// Afterwards ReadAt on its files returns ErrUnmounted and
// the other file methods do nothing.
func (m *Mount) Unmount() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.unmounted {
		return ErrUnmounted
	}

	m.unmounted = true
	m.be.InvalidateFilesystem(m.id)
	m.shadow.Purge()
	log.Debugf("unmounted cleancache fs %d", m.id)
	return nil
}

// Open returns a file for `key` whose content is read from `r`.
// `size` is the number of bytes that can be read from `r`.
func (m *Mount) Open(key pool.FileKey, r io.ReaderAt, size int64) *File {
	f := &File{
		m:    m,
		key:  key,
		r:    r,
		size: size,
	}

	f.length.Store(size)
	return f
}

// File is a read-only file whose pages go through the pool.
// ReadAt may be called in parallel.
type File struct {
	m   *Mount
	key pool.FileKey
	r   io.ReaderAt

	// size is the number of bytes in `r`.
	size int64

	// length starts out as size but may change with Truncate.
	// Everything between size and length reads as zeros.
	length atomic.Int64

	// gen is bumped before pages are invalidated. A reader that sees it
	// change while it filled a page from `r` must not leave that page cached.
	gen atomic.Uint64
}

// Size returns the current length of the file.
func (f *File) Size() int64 {
	return f.length.Load()
}

func (f *File) numPages(length int64) int64 {
	return (length + f.m.pageSize - 1) / f.m.pageSize
}

// ReadAt implements io.ReaderAt.
func (f *File) ReadAt(buf []byte, off int64) (int, error) {
	if off < 0 {
		return 0, ErrNegativeOffset
	}

	if !f.m.enter() {
		return 0, ErrUnmounted
	}

	defer f.m.leave()

	length := f.length.Load()
	if off >= length {
		return 0, io.EOF
	}

	pageBuf := f.m.pageBuf.Get().([]byte)
	defer f.m.pageBuf.Put(pageBuf)

	ib := &iobuf{dst: buf}
	for ib.Left() > 0 && off < length {
		pageIdx := off / f.m.pageSize
		pageOff := off % f.m.pageSize
		if err := f.readPage(pageIdx, pageBuf, length); err != nil {
			return ib.Len(), err
		}

		// The last page is padded with zeros; do not hand those out.
		valid := util.Min64(f.m.pageSize, length-pageIdx*f.m.pageSize)
		n, _ := ib.Write(pageBuf[pageOff:valid])
		off += int64(n)
	}

	if ib.Left() > 0 {
		return ib.Len(), io.EOF
	}

	return ib.Len(), nil
}

func (f *File) readPage(pageIdx int64, pageBuf []byte, length int64) error {
	m := f.m
	if m.be.Load(m.id, f.key, uint64(pageIdx), pageBuf) {
		m.hits.Add(1)
		return nil
	}

	m.misses.Add(1)

	gen := f.gen.Load()
	pageStart := pageIdx * m.pageSize
	zpr := &zeroPadReader{
		r:      io.NewSectionReader(f.r, pageStart, util.Max64(0, f.size-pageStart)),
		off:    pageStart,
		size:   util.Min64(f.size, length),
		length: pageStart + m.pageSize,
	}

	if _, err := io.ReadFull(zpr, pageBuf); err != nil {
		return e.Wrapf(err, "failed to read page %d of %v", pageIdx, f.key)
	}

	// Second miss of the same page: it is worth caching.
	sk := shadowKey{key: f.key, index: uint64(pageIdx)}
	workingset, _ := m.shadow.ContainsOrAdd(sk, struct{}{})
	if workingset {
		m.refaults.Add(1)
	}

	if f.gen.Load() != gen {
		// Backing data changed under us; pageBuf might be stale.
		return nil
	}

	m.be.Store(m.id, f.key, uint64(pageIdx), pageBuf, workingset)
	if f.gen.Load() != gen {
		// An invalidation ran between the check and the Store
		// and may have missed the copy we just made.
		m.be.InvalidatePage(m.id, f.key, uint64(pageIdx))
	}

	return nil
}

func (f *File) invalidatePages(lo, hi int64) {
	f.gen.Add(1)
	for pageIdx := lo; pageIdx < hi; pageIdx++ {
		f.m.be.InvalidatePage(f.m.id, f.key, uint64(pageIdx))
		f.m.shadow.Remove(shadowKey{key: f.key, index: uint64(pageIdx)})
	}
}

// Invalidate drops every cached page that overlaps [off, off+length).
// Call it after the backing data in that range changed.
func (f *File) Invalidate(off, length int64) {
	if !f.m.enter() {
		return
	}

	defer f.m.leave()

	fileLen := f.length.Load()
	if length <= 0 || off < 0 || off >= fileLen {
		return
	}

	lo := off / f.m.pageSize
	hi := util.Min64((off+length+f.m.pageSize-1)/f.m.pageSize, f.numPages(fileLen))
	f.invalidatePages(lo, hi)
}

// Truncate changes the length of the file. Reads past the size of
// the backing data return zeros. Truncate must not run in parallel
// to ReadAt on the same file.
func (f *File) Truncate(length int64) {
	if length < 0 {
		length = 0
	}

	if !f.m.enter() {
		return
	}

	defer f.m.leave()

	old := f.length.Swap(length)
	if length < f.size {
		// Cut off data is gone, even if the file grows again later.
		f.size = length
	}

	// Every page from the one containing the shorter end on may change.
	lo := util.Min64(old, length) / f.m.pageSize
	hi := f.numPages(util.Max64(old, length))
	f.invalidatePages(lo, hi)
}

// Drop removes every page of the file from the pool.
func (f *File) Drop() {
	if !f.m.enter() {
		return
	}

	defer f.m.leave()

	f.gen.Add(1)
	f.m.be.InvalidateInode(f.m.id, f.key)
	for pageIdx := int64(0); pageIdx < f.numPages(f.length.Load()); pageIdx++ {
		f.m.shadow.Remove(shadowKey{key: f.key, index: uint64(pageIdx)})
	}
}
