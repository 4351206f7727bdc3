// Package pool keeps a small set of equally sized bulk buffers so the
// async replay doesn't allocate a fresh copy buffer for every range.
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ddn-lixi/mtfs/fs"
)

// Pool of bulk buffers
//
// Idle buffers live in free.  Every Get or Put updates lowWater, the
// smallest len(free) seen since the last age pass.  Every flushTime
// lowWater buffers are released since nobody needed them during the
// interval.
type Pool struct {
	mu         sync.Mutex
	free       [][]byte
	lowWater   int
	bufferSize int
	poolSize   int
	flushTime  time.Duration
	timer      *time.Timer
	armed      bool
	stats      Stats
	alloc      func(int) ([]byte, error)
	release    func([]byte) error
}

// Stats counts the buffers a Pool is looking after
type Stats struct {
	InUse   int // handed out by Get and not yet Put back
	InPool  int // idle in the pool
	Alloced int // allocated and not yet released
}

// New makes a buffer pool of buffers bufferSize long keeping at most
// poolSize idle ones, aging idle buffers out every flushTime
func New(flushTime time.Duration, bufferSize, poolSize int) *Pool {
	bp := &Pool{
		free:       make([][]byte, 0, poolSize),
		poolSize:   poolSize,
		flushTime:  flushTime,
		bufferSize: bufferSize,
		alloc: func(size int) ([]byte, error) {
			return make([]byte, size), nil
		},
		release: func([]byte) error {
			return nil
		},
	}
	bp.timer = time.AfterFunc(flushTime, bp.age)
	return bp
}

// BufferSize returns the size of the buffers in the pool
func (bp *Pool) BufferSize() int {
	return bp.bufferSize
}

// pop the last idle buffer - call with mu held
func (bp *Pool) pop() []byte {
	n := len(bp.free) - 1
	buf := bp.free[n]
	bp.free[n] = nil
	bp.free = bp.free[:n]
	return buf
}

// drop n idle buffers - call with mu held
func (bp *Pool) drop(n int) {
	for i := 0; i < n; i++ {
		bp.releaseBuffer(bp.pop())
	}
	bp.lowWater = len(bp.free)
}

// Flush releases every idle buffer
func (bp *Pool) Flush() {
	bp.mu.Lock()
	bp.drop(len(bp.free))
	bp.mu.Unlock()
}

// age releases the buffers nobody used during the last interval
func (bp *Pool) age() {
	bp.mu.Lock()
	bp.armed = false
	bp.drop(bp.lowWater)
	if len(bp.free) != 0 {
		bp.arm()
	}
	bp.mu.Unlock()
}

// Stats returns a snapshot of the pool counters
func (bp *Pool) Stats() Stats {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	s := bp.stats
	s.InPool = len(bp.free)
	return s
}

// arm the age timer if it isn't running - call with mu held
func (bp *Pool) arm() {
	if bp.armed {
		return
	}
	bp.armed = true
	bp.timer.Reset(bp.flushTime)
}

// track the low water mark - call with mu held
func (bp *Pool) track() {
	if len(bp.free) < bp.lowWater {
		bp.lowWater = len(bp.free)
	}
}

// Get a buffer from the pool or allocate one.
//
// If allocation fails Get backs off and retries until ctx is done in
// which case it returns fs.ErrorNotEnoughMemory.
func (bp *Pool) Get(ctx context.Context) ([]byte, error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	wait := time.Millisecond
	var buf []byte
	for buf == nil {
		if len(bp.free) > 0 {
			buf = bp.pop()
			break
		}
		var err error
		buf, err = bp.alloc(bp.bufferSize)
		if err == nil {
			bp.stats.Alloced++
			break
		}
		fs.Errorf(nil, "Failed to get memory for bulk buffer, waiting for %v: %v", wait, err)
		bp.mu.Unlock()
		select {
		case <-ctx.Done():
			bp.mu.Lock()
			return nil, fs.ErrorNotEnoughMemory
		case <-time.After(wait):
		}
		bp.mu.Lock()
		wait *= 2
	}
	bp.stats.InUse++
	bp.track()
	return buf, nil
}

// releaseBuffer hands buf back to the allocator - call with mu held
func (bp *Pool) releaseBuffer(buf []byte) {
	if err := bp.release(buf); err != nil {
		fs.Errorf(nil, "Failed to free bulk buffer: %v", err)
	}
	bp.stats.Alloced--
}

// Put returns the buffer to the pool or releases it
//
// Returning a buffer of the wrong size panics.
func (bp *Pool) Put(buf []byte) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	buf = buf[0:cap(buf)]
	if len(buf) != bp.bufferSize {
		panic(fmt.Sprintf("Returning buffer sized %d but expecting %d", len(buf), bp.bufferSize))
	}
	if len(bp.free) < bp.poolSize {
		bp.free = append(bp.free, buf)
	} else {
		bp.releaseBuffer(buf)
	}
	bp.stats.InUse--
	bp.track()
	bp.arm()
}
