package ethmac

import (
	"context"
	"time"
)

// semaphore is a bounded counting semaphore. post never blocks and never
// allocates, so it may be called from an interrupt handler.
type semaphore struct {
	c     chan struct{}
	timer *time.Timer
}

func (s *semaphore) init(max, initial int) {
	s.c = make(chan struct{}, max)
	for range min(initial, max) {
		s.c <- struct{}{}
	}
}

// post increments the count. Posts beyond the maximum count are lost.
func (s *semaphore) post() {
	select {
	case s.c <- struct{}{}:
	default:
	}
}

// tryWaitFor decrements the count, waiting up to timeout for it to become
// positive. It returns false on timeout and ctx's error on cancellation.
// Only one goroutine may wait at a time.
func (s *semaphore) tryWaitFor(ctx context.Context, timeout time.Duration) (bool, error) {
	select {
	case <-s.c:
		return true, nil
	default:
	}
	if s.timer == nil {
		s.timer = time.NewTimer(timeout)
	} else {
		s.timer.Reset(timeout)
	}
	select {
	case <-s.c:
		s.timer.Stop()
		return true, nil
	case <-s.timer.C:
		return false, nil
	case <-ctx.Done():
		s.timer.Stop()
		return false, ctx.Err()
	}
}

// HandleInterrupt is the receive-complete interrupt handler. It only signals
// the input loop that frames are ready and is safe to call from interrupt
// context.
func (iface *Interface) HandleInterrupt() {
	iface.frameReady.post()
}
