package pool

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEpochSynchronizeWaitsForReaders(t *testing.T) {
	ep := &epoch{}
	slot := ep.readLock()

	// nested sections are fine:
	inner := ep.readLock()
	ep.readUnlock(inner)

	done := make(chan struct{})
	go func() {
		ep.synchronize()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("synchronize returned while a reader was active")
	case <-time.After(50 * time.Millisecond):
	}

	ep.readUnlock(slot)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("synchronize did not return after the reader left")
	}
}

func TestEpochNewReadersDoNotBlock(t *testing.T) {
	ep := &epoch{}
	stop := make(chan struct{})
	wg := &sync.WaitGroup{}

	// Readers that keep coming must not starve the writer:
	for idx := 0; idx < 4; idx++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}

				ep.readUnlock(ep.readLock())
			}
		}()
	}

	for idx := 0; idx < 100; idx++ {
		ep.synchronize()
	}

	close(stop)
	wg.Wait()
	require.Equal(t, int64(0), ep.readers[0].Load())
	require.Equal(t, int64(0), ep.readers[1].Load())
}

func TestEpochUnbalancedUnlockPanics(t *testing.T) {
	ep := &epoch{}
	require.Panics(t, func() {
		ep.readUnlock(0)
	})
}

func TestReclaimerWaitsForGracePeriod(t *testing.T) {
	ep := &epoch{}
	released := atomic.Int32{}
	rcl := newReclaimer(ep, func(ino *inode) {
		released.Add(1)
	}, time.Hour)

	slot := ep.readLock()
	rcl.retire(&inode{})
	rcl.retire(&inode{})

	barrierDone := make(chan struct{})
	go func() {
		rcl.barrier()
		close(barrierDone)
	}()

	time.Sleep(20 * time.Millisecond)
	require.Equal(t, int32(0), released.Load())

	ep.readUnlock(slot)
	<-barrierDone
	require.Equal(t, int32(2), released.Load())

	rcl.retire(&inode{})
	require.NoError(t, rcl.Close())
	require.Equal(t, int32(3), released.Load())
}
