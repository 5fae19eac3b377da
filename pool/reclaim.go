package pool

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// reclaimer defers the release of inodes until a grace period elapsed.
// Lock-free readers might still walk through a retired inode.
type reclaimer struct {
	ep      *epoch
	release func(ino *inode)

	mu      sync.Mutex
	pending []*inode

	// serializes passes, so a barrier returns only after
	// everything retired before it was released.
	passMu sync.Mutex

	cancel context.CancelFunc
	done   chan struct{}
}

func newReclaimer(ep *epoch, release func(ino *inode), interval time.Duration) *reclaimer {
	ctx, cancel := context.WithCancel(context.Background())
	rcl := &reclaimer{
		ep:      ep,
		release: release,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	go rcl.loop(ctx, interval)
	return rcl
}

func (rcl *reclaimer) retire(ino *inode) {
	rcl.mu.Lock()
	rcl.pending = append(rcl.pending, ino)
	rcl.mu.Unlock()
}

func (rcl *reclaimer) pass() int {
	rcl.passMu.Lock()
	defer rcl.passMu.Unlock()

	rcl.mu.Lock()
	batch := rcl.pending
	rcl.pending = nil
	rcl.mu.Unlock()

	if len(batch) == 0 {
		return 0
	}

	rcl.ep.synchronize()
	for _, ino := range batch {
		rcl.release(ino)
	}

	return len(batch)
}

// barrier releases everything that was retired before the call.
func (rcl *reclaimer) barrier() {
	rcl.pass()
}

func (rcl *reclaimer) loop(ctx context.Context, interval time.Duration) {
	defer close(rcl.done)

	tckr := time.NewTicker(interval)
	defer tckr.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tckr.C:
			if n := rcl.pass(); n > 0 {
				log.Debugf("reclaimed %d inodes", n)
			}
		}
	}
}

func (rcl *reclaimer) Close() error {
	rcl.cancel()
	<-rcl.done
	rcl.pass()
	return nil
}
