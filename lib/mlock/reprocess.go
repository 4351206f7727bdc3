package mlock

import (
	"context"
	"sync"

	"github.com/ddn-lixi/mtfs/fs"
)

// Reprocessor reprocesses the waiting queues of resources in the
// background so Cancel doesn't have to
type Reprocessor struct {
	mu      sync.Mutex
	queue   []*Resource
	closed  bool
	kick    chan struct{}
	stop    context.CancelFunc
	stopped chan struct{}
}

// NewReprocessor starts a background reprocessor
func NewReprocessor(ctx context.Context) *Reprocessor {
	ctx, cancel := context.WithCancel(ctx)
	rp := &Reprocessor{
		kick:    make(chan struct{}, 1),
		stop:    cancel,
		stopped: make(chan struct{}),
	}
	go rp.run(ctx)
	return rp
}

// schedule queues r for reprocessing returning false if the
// reprocessor has stopped - call with r.mu held
func (rp *Reprocessor) schedule(r *Resource) bool {
	rp.mu.Lock()
	if rp.closed {
		rp.mu.Unlock()
		return false
	}
	rp.queue = append(rp.queue, r)
	rp.mu.Unlock()
	select {
	case rp.kick <- struct{}{}:
	default:
	}
	return true
}

// take the queued resources
func (rp *Reprocessor) take() []*Resource {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	queue := rp.queue
	rp.queue = nil
	return queue
}

func (rp *Reprocessor) drain() {
	for _, r := range rp.take() {
		r.mu.Lock()
		r.pending = false
		r.reprocess()
		r.mu.Unlock()
	}
}

func (rp *Reprocessor) run(ctx context.Context) {
	defer close(rp.stopped)
	for {
		select {
		case <-rp.kick:
			rp.drain()
		case <-ctx.Done():
			rp.mu.Lock()
			rp.closed = true
			rp.mu.Unlock()
			// don't leave waiters stuck
			rp.drain()
			fs.Debugf(nil, "lock reprocessor stopped")
			return
		}
	}
}

// Stop the reprocessor after handling whatever is queued
func (rp *Reprocessor) Stop() {
	rp.stop()
	<-rp.stopped
}
