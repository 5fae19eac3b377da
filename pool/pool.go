package pool

import (
	"sync"
	"sync/atomic"

	e "github.com/pkg/errors"
	"github.com/sahib/config"
	"github.com/sahib/gcma/defaults"
	"github.com/sahib/gcma/stats"
	log "github.com/sirupsen/logrus"
)

// tunables mirrors the config keys that may change while the pool runs.
type tunables struct {
	evictBatch    atomic.Int64
	directReclaim atomic.Int64
	yieldInterval atomic.Int64
	maxRetries    atomic.Int64
	spinRetries   atomic.Int64
	evictorBatch  atomic.Int64
}

// Pool is the page pool together with the cache that lives in it.
// It is safe for concurrent use.
type Pool struct {
	cfg      *config.Config
	sink     stats.Sink
	pageSize uint64
	tun      tunables
	eventIDs []int

	areaMu sync.Mutex
	areas  atomic.Pointer[[]*Area]

	fsMu     sync.Mutex
	fss      atomic.Pointer[map[FsID]*filesystem]
	nextFsID FsID

	lru    *lruList
	ep     epoch
	rcl    *reclaimer
	evt    *evictor
	inodes sync.Pool

	closeOnce sync.Once
}

// New creates an empty pool. Areas have to be added with RegisterArea.
// `cfg` may be nil, in which case the defaults are used.
// `sink` receives the counter updates; nil drops them.
func New(cfg *config.Config, sink stats.Sink) (*Pool, error) {
	if cfg == nil {
		var err error
		cfg, err = config.Open(nil, defaults.Defaults, config.StrictnessPanic)
		if err != nil {
			return nil, e.Wrap(err, "failed to open default config")
		}
	}

	if sink == nil {
		sink = stats.Discard{}
	}

	pageSize := uint64(cfg.Int("pool.page_size"))
	if pageSize == 0 || pageSize&(pageSize-1) != 0 {
		return nil, e.Wrapf(ErrUnsupportedPageSize, "%d is not a power of two", pageSize)
	}

	p := &Pool{
		cfg:      cfg,
		sink:     sink,
		pageSize: pageSize,
		lru:      newLRUList(),
	}

	p.watch("pool.evict_batch", &p.tun.evictBatch)
	p.watch("pool.direct_reclaim", &p.tun.directReclaim)
	p.watch("discard.yield_interval", &p.tun.yieldInterval)
	p.watch("discard.max_retries", &p.tun.maxRetries)
	p.watch("discard.spin_retries", &p.tun.spinRetries)
	p.watch("evictor.batch", &p.tun.evictorBatch)

	p.rcl = newReclaimer(&p.ep, p.releaseInode, cfg.Duration("reclaim.interval"))
	if cfg.Bool("evictor.enabled") {
		p.evt = newEvictor(p, int(cfg.Int("evictor.max_runs_per_second")))
	}

	return p, nil
}

// watch loads `key` into `dst` and keeps it updated on config changes.
func (p *Pool) watch(key string, dst *atomic.Int64) {
	dst.Store(p.cfg.Int(key))
	id := p.cfg.AddEvent(key, func(key string) {
		dst.Store(p.cfg.Int(key))
		log.Debugf("pool: %s changed to %d", key, dst.Load())
	})

	p.eventIDs = append(p.eventIDs, id)
}

func (p *Pool) directReclaim() int {
	return int(p.tun.directReclaim.Load())
}

// PageSize returns the size of a single page in bytes.
func (p *Pool) PageSize() uint64 {
	return p.pageSize
}

// Close stops the background workers and unmaps all areas.
// The pool must not be used afterwards.
func (p *Pool) Close() error {
	var err error
	p.closeOnce.Do(func() {
		for _, id := range p.eventIDs {
			p.cfg.RemoveEvent(id)
		}

		if p.evt != nil {
			p.evt.Close()
		}

		p.rcl.Close()

		for _, a := range p.loadAreas() {
			if unmapErr := unmapArea(a.mem); unmapErr != nil && err == nil {
				err = e.Wrapf(unmapErr, "failed to unmap area %s", a.name)
			}
		}
	})

	return err
}
