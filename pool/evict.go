package pool

import (
	"github.com/sahib/gcma/stats"
	log "github.com/sirupsen/logrus"
)

// Evict drops up to `n` of the least recently used pages from the cache
// and returns how many were actually dropped. It never fails; an empty
// cache simply yields zero.
func (p *Pool) Evict(n int) int {
	if n <= 0 {
		return 0
	}

	defer p.ep.readUnlock(p.ep.readLock())

	batchSize := int(p.tun.evictBatch.Load())
	if batchSize <= 0 {
		batchSize = 1
	}

	batch := make([]isolated, 0, batchSize)
	evicted := 0

	for evicted < n {
		want := n - evicted
		if want > batchSize {
			want = batchSize
		}

		batch = p.isolateLRU(batch[:0], want)
		if len(batch) == 0 {
			break
		}

		for _, iso := range batch {
			if p.evictPage(iso) {
				evicted++
			}
		}
	}

	if evicted > 0 {
		log.Debugf("evicted %d of %d requested pages", evicted, n)
	}

	return evicted
}

func (p *Pool) evictPage(iso isolated) bool {
	ino := iso.ino
	evicted := false

	ino.mu.Lock()
	if cur, ok := ino.pages.Get(iso.index); ok && cur == iso.pg {
		p.erasePage(ino, iso.index, iso.pg)
		evicted = true
	}
	ino.mu.Unlock()

	p.putPage(iso.pg)
	p.putInode(ino)

	if evicted {
		p.sink.Inc(stats.Evicted)
	}

	return evicted
}
