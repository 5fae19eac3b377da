package cmd

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	e "github.com/pkg/errors"
	"github.com/sahib/config"
	"github.com/sahib/gcma/pool"
	"github.com/sahib/gcma/stats"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli"
)

// areaBase is where the simulated areas start; any page aligned
// value works since nothing else lives in this address space.
const areaBase = 1 << 32

type scenarioReport struct {
	Resident     int
	Evicted      int64
	Transitional int
	HitsAfter    int
}

func runScenario(cfg *config.Config, nPages, nFiles int) (*scenarioReport, stats.Snapshot, error) {
	cnt := stats.NewCounters()
	p, err := pool.New(cfg, cnt)
	if err != nil {
		return nil, stats.Snapshot{}, err
	}

	defer p.Close()

	pageSize := p.PageSize()
	if _, err := p.RegisterArea("scenario", areaBase, uint64(nPages)*pageSize); err != nil {
		return nil, stats.Snapshot{}, err
	}

	fs, err := p.InitFilesystem(pageSize)
	if err != nil {
		return nil, stats.Snapshot{}, err
	}

	buf := make([]byte, pageSize)
	for ino := 0; ino < nFiles; ino++ {
		for idx := range buf {
			buf[idx] = byte(ino)
		}

		p.Store(fs, pool.FileKey{Ino: uint64(ino)}, 0, buf, true)
	}

	report := &scenarioReport{}
	for ino := 0; ino < nFiles; ino++ {
		if p.Load(fs, pool.FileKey{Ino: uint64(ino)}, 0, buf) {
			report.Resident++
		}
	}

	report.Evicted = cnt.Get(stats.Evicted)

	startPFN := uint64(areaBase) / pageSize
	endPFN := startPFN + uint64(nPages)
	if err := p.AllocRange(startPFN, endPFN); err != nil {
		return nil, stats.Snapshot{}, err
	}

	report.Transitional = p.AreaInfos()[0].Transitional
	for ino := 0; ino < nFiles; ino++ {
		if p.Load(fs, pool.FileKey{Ino: uint64(ino)}, 0, buf) {
			report.HitsAfter++
		}
	}

	if err := p.Check(); err != nil {
		return nil, stats.Snapshot{}, err
	}

	p.FreeRange(startPFN, endPFN)
	snap := cnt.Snapshot()
	p.InvalidateFilesystem(fs)
	return report, snap, nil
}

func handleScenario(ctx *cli.Context) error {
	cfg, err := openConfig(ctx)
	if err != nil {
		return err
	}

	nPages, nFiles := ctx.Int("pages"), ctx.Int("files")
	if nPages <= 0 || nFiles <= 0 {
		return ExitCode{BadArgs, "--pages and --files must be positive"}
	}

	report, snap, err := runScenario(cfg, nPages, nFiles)
	if err != nil {
		return ExitCode{UnknownError, fmt.Sprintf("scenario failed: %v", err)}
	}

	w := ctx.App.Writer
	fmt.Fprintf(w, "%s %d pages, %d single page files\n", color.CyanString("area:"), nPages, nFiles)
	fmt.Fprintf(w, "%s %d resident, %d evicted\n", color.CyanString("after stores:"), report.Resident, report.Evicted)
	fmt.Fprintf(
		w, "%s %d transitional pages, %d hits\n",
		color.CyanString("after alloc range:"),
		report.Transitional,
		report.HitsAfter,
	)
	fmt.Fprintf(w, "%s %s\n", color.CyanString("counters:"), snap)
	return nil
}

type benchOptions struct {
	areaSize   uint64
	areas      int
	workers    int
	files      int
	filePages  int
	duration   time.Duration
	allocSize  uint64
	allocEvery time.Duration
	seed       int64
}

type benchResult struct {
	Loads      int64
	Hits       int64
	Allocs     int64
	BusyAllocs int64
	Elapsed    time.Duration
	Counters   stats.Snapshot
	Areas      []pool.AreaInfo
}

func benchWorker(ctx context.Context, p *pool.Pool, fs pool.FsID, opts benchOptions, seed int64, res *benchResult) {
	rng := rand.New(rand.NewSource(seed))
	buf := make([]byte, p.PageSize())

	for ctx.Err() == nil {
		key := pool.FileKey{Ino: uint64(rng.Intn(opts.files))}
		offset := uint64(rng.Intn(opts.filePages))

		atomic.AddInt64(&res.Loads, 1)
		if p.Load(fs, key, offset, buf) {
			atomic.AddInt64(&res.Hits, 1)
			continue
		}

		buf[0] = byte(key.Ino)
		buf[1] = byte(offset)

		// Small files are considered hot:
		p.Store(fs, key, offset, buf, key.Ino%4 != 0)

		if rng.Intn(64) == 0 {
			p.InvalidatePage(fs, key, offset)
		}
	}
}

func benchAllocator(ctx context.Context, p *pool.Pool, opts benchOptions, res *benchResult) error {
	pageSize := p.PageSize()
	nPages := opts.allocSize / pageSize
	if nPages == 0 {
		nPages = 1
	}

	rng := rand.New(rand.NewSource(opts.seed))
	tckr := time.NewTicker(opts.allocEvery)
	defer tckr.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tckr.C:
		}

		infos := p.AreaInfos()
		info := infos[rng.Intn(len(infos))]
		span := info.EndPFN - info.StartPFN
		if nPages > span {
			nPages = span
		}

		start := info.StartPFN + uint64(rng.Int63n(int64(span-nPages+1)))
		end := start + nPages

		err := p.AllocRange(start, end)
		if e.Cause(err) == pool.ErrRangeBusy {
			atomic.AddInt64(&res.BusyAllocs, 1)
			continue
		}

		if err != nil {
			return err
		}

		mem, err := p.Memory(start, end)
		if err != nil {
			p.FreeRange(start, end)
			return err
		}

		// Touch the memory like a device would:
		for off := 0; off < len(mem); off += int(pageSize) {
			mem[off] = 0xFF
		}

		atomic.AddInt64(&res.Allocs, 1)
		p.FreeRange(start, end)
	}
}

func runBench(cfg *config.Config, opts benchOptions) (*benchResult, error) {
	cnt := stats.NewCounters()
	p, err := pool.New(cfg, cnt)
	if err != nil {
		return nil, err
	}

	defer p.Close()

	for idx := 0; idx < opts.areas; idx++ {
		// Leave a gap of one area between two areas.
		base := areaBase + uint64(2*idx)*opts.areaSize
		name := fmt.Sprintf("bench-%d", idx)
		if _, err := p.RegisterArea(name, base, opts.areaSize); err != nil {
			return nil, err
		}
	}

	fs, err := p.InitFilesystem(p.PageSize())
	if err != nil {
		return nil, err
	}

	res := &benchResult{}
	ctx, cancel := context.WithTimeout(context.Background(), opts.duration)
	defer cancel()

	startTime := time.Now()
	wg := &sync.WaitGroup{}
	for idx := 0; idx < opts.workers; idx++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			benchWorker(ctx, p, fs, opts, seed, res)
		}(opts.seed + int64(idx) + 1)
	}

	var allocErr error
	if opts.allocEvery > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			allocErr = benchAllocator(ctx, p, opts, res)
		}()
	}

	wg.Wait()
	res.Elapsed = time.Since(startTime)

	if allocErr != nil {
		return nil, e.Wrap(allocErr, "allocator failed")
	}

	// The background evictor may still be running; only then is the
	// pool not quiescent.
	if !cfg.Bool("evictor.enabled") {
		if err := p.Check(); err != nil {
			return nil, err
		}
	}

	res.Counters = cnt.Snapshot()
	res.Areas = p.AreaInfos()
	p.InvalidateFilesystem(fs)
	return res, nil
}

func printBenchResult(w io.Writer, res *benchResult, pageSize uint64) error {
	hitRatio := 0.0
	if res.Loads > 0 {
		hitRatio = 100 * float64(res.Hits) / float64(res.Loads)
	}

	loadsPerSec := float64(res.Loads) / res.Elapsed.Seconds()
	fmt.Fprintf(
		w, "%s %s loads/s, %.1f%% hits, %s contiguous allocations (%s busy)\n",
		color.GreenString("throughput:"),
		humanize.Comma(int64(loadsPerSec)),
		hitRatio,
		humanize.Comma(res.Allocs),
		humanize.Comma(res.BusyAllocs),
	)

	data, err := res.Counters.YAML()
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "%s\n%s", color.GreenString("counters:"), data)
	fmt.Fprintln(w, color.GreenString("areas:"))
	for _, info := range res.Areas {
		fmt.Fprintf(
			w, "  %-10s %#x %8s  free=%d cached=%d transitional=%d\n",
			info.Name,
			info.Base,
			humanize.IBytes(uint64(info.Total)*pageSize),
			info.Free,
			info.Cached,
			info.Transitional,
		)
	}

	return nil
}

func handleBench(ctx *cli.Context) error {
	cfg, err := openConfig(ctx)
	if err != nil {
		return err
	}

	areaSize, err := parseSize(ctx, "area-size")
	if err != nil {
		return err
	}

	allocSize, err := parseSize(ctx, "alloc-size")
	if err != nil {
		return err
	}

	opts := benchOptions{
		areaSize:   areaSize,
		areas:      ctx.Int("areas"),
		workers:    ctx.Int("workers"),
		files:      ctx.Int("files"),
		filePages:  ctx.Int("file-pages"),
		duration:   ctx.Duration("duration"),
		allocSize:  allocSize,
		allocEvery: ctx.Duration("alloc-every"),
		seed:       ctx.Int64("seed"),
	}

	if opts.areas <= 0 || opts.workers <= 0 || opts.files <= 0 || opts.filePages <= 0 {
		return ExitCode{BadArgs, "--areas, --workers, --files and --file-pages must be positive"}
	}

	log.Infof(
		"running bench for %v with %d workers on %d x %s",
		opts.duration, opts.workers, opts.areas, humanize.IBytes(opts.areaSize),
	)

	res, err := runBench(cfg, opts)
	if err != nil {
		if e.Cause(err) == pool.ErrBadArea {
			return ExitCode{BadArgs, fmt.Sprintf("bench: %v", err)}
		}

		return ExitCode{UnknownError, fmt.Sprintf("bench: %v", err)}
	}

	return printBenchResult(ctx.App.Writer, res, uint64(cfg.Int("pool.page_size")))
}

func handleConfigList(ctx *cli.Context) error {
	cfg, err := openConfig(ctx)
	if err != nil {
		return err
	}

	keys := cfg.Keys()
	sort.Strings(keys)

	w := ctx.App.Writer
	for _, key := range keys {
		fmt.Fprintf(w, "%s: %v\n", color.GreenString(key), cfg.Get(key))
		if doc := cfg.GetDefault(key).Docs; doc != "" {
			fmt.Fprintf(w, "  %s\n", color.YellowString(doc))
		}
	}

	return nil
}

func handleConfigGet(ctx *cli.Context) error {
	cfg, err := openConfig(ctx)
	if err != nil {
		return err
	}

	key := ctx.Args().Get(0)
	if !cfg.IsValidKey(key) {
		return ExitCode{BadArgs, fmt.Sprintf("no such key: %s", key)}
	}

	fmt.Fprintln(ctx.App.Writer, cfg.Get(key))
	return nil
}

func handleConfigSet(ctx *cli.Context) error {
	cfg, err := openConfig(ctx)
	if err != nil {
		return err
	}

	key, rawVal := ctx.Args().Get(0), ctx.Args().Get(1)
	if !cfg.IsValidKey(key) {
		return ExitCode{BadArgs, fmt.Sprintf("no such key: %s", key)}
	}

	val, err := cfg.Cast(key, rawVal)
	if err != nil {
		return ExitCode{BadArgs, fmt.Sprintf("bad value for %s: %v", key, err)}
	}

	if err := cfg.Set(key, val); err != nil {
		return ExitCode{BadArgs, fmt.Sprintf("config set: %v", err)}
	}

	if err := saveConfig(ctx, cfg); err != nil {
		return ExitCode{UnknownError, fmt.Sprintf("failed to save config: %v", err)}
	}

	return nil
}
