package pool

import (
	"errors"
	"testing"
	"time"

	"github.com/sahib/config"
	"github.com/sahib/gcma/defaults"
	"github.com/sahib/gcma/stats"
	"github.com/stretchr/testify/require"
)

const (
	testPageSize = 4096
	// Physical address of the first test area.
	testBase = 1 << 24
	testPFN  = testBase / testPageSize
)

func testConfig(t *testing.T) *config.Config {
	cfg, err := config.Open(nil, defaults.Defaults, config.StrictnessPanic)
	require.NoError(t, err)

	// Tests trigger eviction explicitly or through direct reclaim.
	require.NoError(t, cfg.SetBool("evictor.enabled", false))
	require.NoError(t, cfg.SetDuration("reclaim.interval", 10*time.Millisecond))
	return cfg
}

func withPoolConfig(t *testing.T, cfg *config.Config, fn func(p *Pool, cnt *stats.Counters)) {
	cnt := stats.NewCounters()
	p, err := New(cfg, cnt)
	require.NoError(t, err)

	defer func() {
		require.NoError(t, p.Close())
	}()

	fn(p, cnt)
}

func withPool(t *testing.T, fn func(p *Pool, cnt *stats.Counters)) {
	withPoolConfig(t, testConfig(t), fn)
}

// withCache registers one area of `nPages` pages at testBase
// and initializes a single filesystem.
func withCache(t *testing.T, nPages int, fn func(p *Pool, fs FsID, cnt *stats.Counters)) {
	withPool(t, func(p *Pool, cnt *stats.Counters) {
		_, err := p.RegisterArea("test", testBase, uint64(nPages)*testPageSize)
		require.NoError(t, err)

		fs, err := p.InitFilesystem(testPageSize)
		require.NoError(t, err)

		fn(p, fs, cnt)
		require.NoError(t, p.Check())
	})
}

func TestRegisterArea(t *testing.T) {
	withPool(t, func(p *Pool, cnt *stats.Counters) {
		id, err := p.RegisterArea("a", testBase, 16*testPageSize)
		require.NoError(t, err)
		require.Equal(t, AreaID(0), id)

		// same range again:
		id, err = p.RegisterArea("a-again", testBase, 16*testPageSize)
		require.NoError(t, err)
		require.Equal(t, AreaID(0), id)

		_, err = p.RegisterArea("overlap", testBase+8*testPageSize, 16*testPageSize)
		require.True(t, errors.Is(err, ErrAreaOverlap))

		_, err = p.RegisterArea("misaligned", testBase+testPageSize*64+1, 16*testPageSize)
		require.True(t, errors.Is(err, ErrBadArea))

		_, err = p.RegisterArea("small", testBase+testPageSize*64, testPageSize-1)
		require.True(t, errors.Is(err, ErrBadArea))

		// A trailing partial page is ignored:
		id, err = p.RegisterArea("b", testBase+testPageSize*64, 4*testPageSize+100)
		require.NoError(t, err)
		require.Equal(t, AreaID(1), id)

		infos := p.AreaInfos()
		require.Len(t, infos, 2)
		require.Equal(t, 16, infos[0].Total)
		require.Equal(t, 16, infos[0].Free)
		require.Equal(t, uint64(testPFN), infos[0].StartPFN)
		require.Equal(t, uint64(testPFN+16), infos[0].EndPFN)
		require.Equal(t, 4, infos[1].Total)
		require.Equal(t, "b", infos[1].Name)
		require.NoError(t, p.Check())
	})
}

func TestRegisterAreaOutOfSlots(t *testing.T) {
	withPool(t, func(p *Pool, cnt *stats.Counters) {
		for idx := 0; idx < MaxAreas; idx++ {
			_, err := p.RegisterArea("slot", testBase+uint64(idx)*2*testPageSize, testPageSize)
			require.NoError(t, err)
		}

		_, err := p.RegisterArea("one-too-many", testBase+MaxAreas*2*testPageSize, testPageSize)
		require.Equal(t, ErrOutOfAreaSlots, err)

		// Known ranges are still fine:
		id, err := p.RegisterArea("slot", testBase, testPageSize)
		require.NoError(t, err)
		require.Equal(t, AreaID(0), id)
	})
}

func TestInitFilesystem(t *testing.T) {
	withPool(t, func(p *Pool, cnt *stats.Counters) {
		_, err := p.InitFilesystem(testPageSize)
		require.Equal(t, ErrNoAreaRegistered, err)

		_, err = p.RegisterArea("test", testBase, 4*testPageSize)
		require.NoError(t, err)

		_, err = p.InitFilesystem(2 * testPageSize)
		require.True(t, errors.Is(err, ErrUnsupportedPageSize))

		for idx := 0; idx < 3; idx++ {
			fs, err := p.InitFilesystem(testPageSize)
			require.NoError(t, err)
			require.Equal(t, FsID(idx), fs)
		}

		// Ids of invalidated filesystems are never handed out again:
		p.InvalidateFilesystem(1)
		fs, err := p.InitFilesystem(testPageSize)
		require.NoError(t, err)
		require.Equal(t, FsID(3), fs)

		// Stores for the gone id are ignored.
		p.Store(1, FileKey{Ino: 1}, 0, make([]byte, testPageSize), true)
		require.Equal(t, 0, p.AreaInfos()[0].Cached)
	})
}

func TestInodeRecycling(t *testing.T) {
	withCache(t, 4, func(p *Pool, fs FsID, cnt *stats.Counters) {
		fsys := p.findFs(fs)
		require.NotNil(t, fsys)

		ino := p.allocInode(fsys, FileKey{Ino: 42})
		ino.pages.Set(0, nil)
		require.Panics(t, func() { p.releaseInode(ino) })
		ino.pages.Delete(0)

		ino.refs.Store(0)
		p.releaseInode(ino)

		// Nothing of the old file survives in the pooled inode:
		ino.mu.Lock()
		require.Equal(t, FileKey{}, ino.key)
		require.Nil(t, ino.fs)
		require.False(t, ino.hashed)
		require.Zero(t, ino.pages.Len())
		ino.mu.Unlock()

		again := p.allocInode(fsys, FileKey{Ino: 43})
		again.mu.Lock()
		require.Equal(t, FileKey{Ino: 43}, again.key)
		require.True(t, again.hashed)
		require.Zero(t, again.pages.Len())
		again.mu.Unlock()
		require.Equal(t, int32(2), again.refs.Load())

		again.refs.Store(0)
		p.releaseInode(again)
	})
}

func TestNewRejectsBadPageSize(t *testing.T) {
	cfg := testConfig(t)
	require.Error(t, cfg.SetInt("pool.page_size", 3000))
	require.Equal(t, int64(testPageSize), cfg.Int("pool.page_size"))

	require.NoError(t, cfg.SetInt("pool.page_size", 8192))
	withPoolConfig(t, cfg, func(p *Pool, cnt *stats.Counters) {
		require.Equal(t, uint64(8192), p.PageSize())
	})
}

func TestNewWithDefaults(t *testing.T) {
	p, err := New(nil, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(testPageSize), p.PageSize())
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
}

func TestTunablesFollowConfig(t *testing.T) {
	cfg := testConfig(t)
	withPoolConfig(t, cfg, func(p *Pool, cnt *stats.Counters) {
		require.Equal(t, int64(64), p.tun.evictBatch.Load())
		require.NoError(t, cfg.SetInt("pool.evict_batch", 8))
		require.Equal(t, int64(8), p.tun.evictBatch.Load())

		require.NoError(t, cfg.SetInt("pool.direct_reclaim", 0))
		require.Equal(t, 0, p.directReclaim())
	})
}

func TestPageInfo(t *testing.T) {
	withCache(t, 4, func(p *Pool, fs FsID, cnt *stats.Counters) {
		_, ok := p.PageInfo(testPFN - 1)
		require.False(t, ok)

		info, ok := p.PageInfo(testPFN)
		require.True(t, ok)
		require.Equal(t, PageFree, info.State)
		require.Equal(t, int32(0), info.Refs)

		p.Store(fs, FileKey{Ino: 1}, 7, []byte("hello"), true)

		// The first allocation returns the first page of the area:
		info, ok = p.PageInfo(testPFN)
		require.True(t, ok)
		require.Equal(t, PageCached, info.State)
		require.Equal(t, int32(1), info.Refs)
		require.Equal(t, uint64(7), info.Index)
		require.Equal(t, "cached", info.State.String())
	})
}
