package pool

import (
	"errors"
	"runtime"
	"testing"

	"github.com/sahib/gcma/stats"
	"github.com/sahib/gcma/util/testutil"
	"github.com/stretchr/testify/require"
)

func requireStates(t *testing.T, p *Pool, start, end uint64, state PageState) {
	t.Helper()

	for pfn := start; pfn < end; pfn++ {
		info, ok := p.PageInfo(pfn)
		require.True(t, ok)
		require.Equal(t, state, info.State, "pfn %d", pfn)
	}
}

func TestAllocFreeRoundTrip(t *testing.T) {
	withCache(t, 16, func(p *Pool, fs FsID, cnt *stats.Counters) {
		for off := uint64(0); off < 6; off++ {
			p.Store(fs, FileKey{Ino: 1}, off, []byte("x"), true)
		}

		// Half cached, half free:
		require.NoError(t, p.AllocRange(testPFN+3, testPFN+9))
		requireStates(t, p, testPFN+3, testPFN+9, PageTransitional)
		requireStates(t, p, testPFN, testPFN+3, PageCached)
		requireStates(t, p, testPFN+9, testPFN+16, PageFree)
		require.Equal(t, int64(3), cnt.Get(stats.Discarded))
		require.NoError(t, p.Check())

		buf := make([]byte, testPageSize)
		for off := uint64(0); off < 6; off++ {
			require.Equal(t, off < 3, p.Load(fs, FileKey{Ino: 1}, off, buf))
		}

		p.FreeRange(testPFN+3, testPFN+9)
		requireStates(t, p, testPFN+3, testPFN+16, PageFree)
		require.NoError(t, p.Check())

		// The last page given back is the first one handed out again:
		pg := p.allocPage()
		require.NotNil(t, pg)
		require.Equal(t, uint64(testPFN+8), pg.pfn)
		p.putPage(pg)
		require.NoError(t, p.Check())
	})
}

func TestAllocRangeEmptyAndInverted(t *testing.T) {
	withCache(t, 4, func(p *Pool, fs FsID, cnt *stats.Counters) {
		require.NoError(t, p.AllocRange(testPFN, testPFN))
		require.True(t, errors.Is(p.AllocRange(testPFN+1, testPFN), ErrBadArea))

		// Outside of every area there is nothing to claim:
		require.NoError(t, p.AllocRange(0, 16))
		p.FreeRange(0, 16)
		requireStates(t, p, testPFN, testPFN+4, PageFree)
	})
}

func TestAllocRangeSpansAreas(t *testing.T) {
	withCache(t, 4, func(p *Pool, fs FsID, cnt *stats.Counters) {
		// Second area with a gap of 4 pages in between:
		_, err := p.RegisterArea("second", testBase+8*testPageSize, 4*testPageSize)
		require.NoError(t, err)

		for ino := uint64(0); ino < 8; ino++ {
			p.Store(fs, FileKey{Ino: ino}, 0, []byte("x"), true)
		}

		require.Equal(t, 0, p.AreaInfos()[0].Free)
		require.Equal(t, 0, p.AreaInfos()[1].Free)

		require.NoError(t, p.AllocRange(testPFN+2, testPFN+10))
		requireStates(t, p, testPFN+2, testPFN+4, PageTransitional)
		requireStates(t, p, testPFN+8, testPFN+10, PageTransitional)
		requireStates(t, p, testPFN+10, testPFN+12, PageCached)
		require.Equal(t, int64(4), cnt.Get(stats.Discarded))
		require.NoError(t, p.Check())

		p.FreeRange(testPFN+2, testPFN+10)
		require.Equal(t, 2, p.AreaInfos()[0].Free)
		require.Equal(t, 2, p.AreaInfos()[1].Free)
	})
}

func TestAllocRangeExclusivity(t *testing.T) {
	withCache(t, 16, func(p *Pool, fs FsID, cnt *stats.Counters) {
		for ino := uint64(0); ino < 4; ino++ {
			for off := uint64(0); off < 4; off++ {
				p.Store(fs, FileKey{Ino: ino}, off, []byte("x"), true)
			}
		}

		require.NoError(t, p.AllocRange(testPFN+4, testPFN+12))
		for _, fsys := range p.filesystems() {
			for _, ino := range fsys.snapshot() {
				ino.mu.Lock()
				ino.pages.Scan(func(off uint64, pg *page) bool {
					require.False(t, pg.pfn >= testPFN+4 && pg.pfn < testPFN+12)
					return true
				})
				ino.mu.Unlock()
				p.putInode(ino)
			}
		}

		// Stores cannot get a page from the claimed range:
		for ino := uint64(10); ino < 20; ino++ {
			p.Store(fs, FileKey{Ino: ino}, 0, []byte("x"), true)
		}

		requireStates(t, p, testPFN+4, testPFN+12, PageTransitional)
		p.FreeRange(testPFN+4, testPFN+12)
	})
}

func TestAllocRangeMemory(t *testing.T) {
	withCache(t, 8, func(p *Pool, fs FsID, cnt *stats.Counters) {
		p.Store(fs, FileKey{Ino: 1}, 0, testutil.CreateDummyBuf(testPageSize), true)

		_, err := p.Memory(testPFN, testPFN+2)
		require.True(t, errors.Is(err, ErrRangeNotOwned))

		require.NoError(t, p.AllocRange(testPFN, testPFN+4))
		mem, err := p.Memory(testPFN, testPFN+4)
		require.NoError(t, err)
		require.Len(t, mem, 4*testPageSize)

		for idx := range mem {
			mem[idx] = 0xAA
		}

		// Cache traffic must not touch the claimed range:
		for ino := uint64(2); ino < 10; ino++ {
			p.Store(fs, FileKey{Ino: ino}, 0, testutil.CreateDummyBuf(testPageSize), true)
		}

		testutil.RequireFilled(t, mem, 0xAA)

		_, err = p.Memory(testPFN+3, testPFN+5)
		require.True(t, errors.Is(err, ErrRangeNotOwned))
		_, err = p.Memory(testPFN+2, testPFN+2)
		require.True(t, errors.Is(err, ErrBadArea))

		p.FreeRange(testPFN, testPFN+4)
	})
}

func TestAllocRangeBusyRollsBack(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, cfg.SetInt("discard.max_retries", 10))
	require.NoError(t, cfg.SetInt("discard.spin_retries", 2))

	withPoolConfig(t, cfg, func(p *Pool, cnt *stats.Counters) {
		_, err := p.RegisterArea("test", testBase, 8*testPageSize)
		require.NoError(t, err)

		fs, err := p.InitFilesystem(testPageSize)
		require.NoError(t, err)

		for ino := uint64(0); ino < 4; ino++ {
			p.Store(fs, FileKey{Ino: ino}, 0, []byte("x"), true)
		}

		// Somebody keeps looking at the third page:
		a := p.loadAreas()[0]
		busy := a.pageAt(testPFN + 2)
		require.True(t, busy.getUnlessZero())

		err = p.AllocRange(testPFN, testPFN+8)
		require.True(t, errors.Is(err, ErrRangeBusy))

		// Pages claimed before the busy one went back to the free list;
		// their cache content is gone. The rest was not touched.
		requireStates(t, p, testPFN, testPFN+2, PageFree)
		requireStates(t, p, testPFN+2, testPFN+4, PageCached)
		requireStates(t, p, testPFN+4, testPFN+8, PageFree)
		require.NoError(t, p.Check())

		p.putPage(busy)
		require.NoError(t, p.AllocRange(testPFN, testPFN+8))
		requireStates(t, p, testPFN, testPFN+8, PageTransitional)
		p.FreeRange(testPFN, testPFN+8)
		require.NoError(t, p.Check())
	})
}

func TestFreeRangeOfUnclaimedPagePanics(t *testing.T) {
	withCache(t, 4, func(p *Pool, fs FsID, cnt *stats.Counters) {
		require.Panics(t, func() {
			p.FreeRange(testPFN, testPFN+1)
		})
	})
}

func TestFreeRangeYields(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, cfg.SetInt("discard.yield_interval", 8))

	withPoolConfig(t, cfg, func(p *Pool, cnt *stats.Counters) {
		_, err := p.RegisterArea("test", testBase, 64*testPageSize)
		require.NoError(t, err)
		require.NoError(t, p.AllocRange(testPFN, testPFN+64))

		// With a single P the watcher only runs when FreeRange lets it.
		defer runtime.GOMAXPROCS(runtime.GOMAXPROCS(1))

		seen := make(chan int, 1)
		go func() {
			seen <- p.AreaInfos()[0].Free
		}()

		p.FreeRange(testPFN, testPFN+64)

		free := <-seen
		require.True(t, free > 0 && free < 64, "watcher saw %d free pages", free)
		require.Equal(t, 64, p.AreaInfos()[0].Free)
	})
}

func TestAllocRangeTwicePanics(t *testing.T) {
	withCache(t, 4, func(p *Pool, fs FsID, cnt *stats.Counters) {
		require.NoError(t, p.AllocRange(testPFN, testPFN+2))
		require.Panics(t, func() {
			p.AllocRange(testPFN+1, testPFN+3)
		})

		// The panic left the read-side section open.
		// Nothing waited for a grace period since, so the slot is the current one.
		p.ep.readUnlock(p.ep.gen.Load() & 1)
		p.FreeRange(testPFN, testPFN+2)
	})
}
