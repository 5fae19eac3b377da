package pool

import (
	"context"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// evictor frees pages in the background after a store found the pool
// exhausted. Kicks are coalesced: while a run is pending, further kicks
// are dropped.
type evictor struct {
	p      *Pool
	kickCh chan struct{}
	lim    *rate.Limiter
	cancel context.CancelFunc
	done   chan struct{}
}

func newEvictor(p *Pool, runsPerSecond int) *evictor {
	lim := rate.NewLimiter(rate.Inf, 1)
	if runsPerSecond > 0 {
		lim = rate.NewLimiter(rate.Limit(runsPerSecond), 1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	evt := &evictor{
		p:      p,
		kickCh: make(chan struct{}, 1),
		lim:    lim,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go evt.loop(ctx)
	return evt
}

func (evt *evictor) kick() {
	select {
	case evt.kickCh <- struct{}{}:
	default:
	}
}

func (evt *evictor) loop(ctx context.Context) {
	defer close(evt.done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-evt.kickCh:
			if err := evt.lim.Wait(ctx); err != nil {
				return
			}

			n := evt.p.Evict(int(evt.p.tun.evictorBatch.Load()))
			log.Debugf("background eviction freed %d pages", n)
		}
	}
}

func (evt *evictor) Close() error {
	evt.cancel()
	<-evt.done
	return nil
}

func (p *Pool) kickEvictor() {
	if p.evt != nil {
		p.evt.kick()
	}
}
