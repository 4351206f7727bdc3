// Package masync replicates file data written to the primary branch
// onto the other branches in the background.
//
// Writers record the range they wrote in the Bucket of the file.
// Overlapping ranges are merged.  Buckets are kept on an LRU list in
// the Info and the service threads drain them oldest first, copying
// each range from branch 0 to every other branch.
package masync

import (
	"container/list"
	"context"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ddn-lixi/mtfs/fs"
	"github.com/ddn-lixi/mtfs/lib/mlock"
	"github.com/ddn-lixi/mtfs/lib/pool"
	"golang.org/x/sync/errgroup"
)

// Options for the async engine
type Options struct {
	BulkSize       int           // size of the replay copy buffer
	BufferPoolSize int           // number of idle copy buffers kept
	Threads        int           // number of service threads
	Batch          int           // ranges drained per wake, 0 for all of them
	MemoryPressure float64       // drain everything above this host memory use percent, 0 to disable
	Interval       time.Duration // recheck period for a non empty backlog
}

// OptionsFromConfig reads the async options out of the global config
func OptionsFromConfig(ci *fs.ConfigInfo) Options {
	return Options{
		BulkSize:       int(ci.BulkSize),
		BufferPoolSize: ci.BufferPoolSize,
		Threads:        ci.AsyncThreads,
		Batch:          ci.AsyncBatch,
		MemoryPressure: ci.AsyncMemoryPressure,
		Interval:       ci.AsyncInterval,
	}
}

// maxIdlePasses is how many passes over busy buckets Cancel makes
// before giving up
const maxIdlePasses = 3

// Info is the async state shared by every bucket of a filesystem
type Info struct {
	opt     Options
	mu      sync.RWMutex // protects lru
	lru     list.List    // of *Bucket, least recently dirtied first
	total   atomic.Int64
	pool    *pool.Pool
	metrics *Metrics
	kick    chan struct{}

	svcMu  sync.Mutex
	cancel context.CancelFunc
	g      *errgroup.Group
}

// NewInfo makes a new async Info.  metrics may be nil.
func NewInfo(opt Options, metrics *Metrics) *Info {
	if opt.BulkSize <= 0 {
		opt.BulkSize = 1 << 20
	}
	if opt.BufferPoolSize <= 0 {
		opt.BufferPoolSize = 1
	}
	if opt.Threads <= 0 {
		opt.Threads = 1
	}
	if opt.Interval <= 0 {
		opt.Interval = 5 * time.Second
	}
	return &Info{
		opt:     opt,
		pool:    pool.New(time.Minute, opt.BulkSize, opt.BufferPoolSize),
		metrics: metrics,
		kick:    make(chan struct{}, 1),
	}
}

// String turns an Info into a string
func (info *Info) String() string {
	return "async"
}

// NewBucket makes an empty bucket called name.  If res isn't nil the
// copy of each range holds a flush lock on it.
func (info *Info) NewBucket(name string, res *mlock.Resource) *Bucket {
	return &Bucket{
		info: info,
		name: name,
		res:  res,
	}
}

// Total returns the number of dirty ranges over all buckets
func (info *Info) Total() int {
	return int(info.total.Load())
}

// TotalSlow counts the dirty ranges by walking the LRU
func (info *Info) TotalSlow() (total int) {
	info.mu.RLock()
	defer info.mu.RUnlock()
	for e := info.lru.Front(); e != nil; e = e.Next() {
		total += e.Value.(*Bucket).NR()
	}
	return total
}

// Buckets returns the number of dirty buckets
func (info *Info) Buckets() int {
	info.mu.RLock()
	defer info.mu.RUnlock()
	return info.lru.Len()
}

// Dump writes one line per dirty bucket to w, oldest first
func (info *Info) Dump(w io.Writer) error {
	info.mu.RLock()
	defer info.mu.RUnlock()
	for e := info.lru.Front(); e != nil; e = e.Next() {
		if _, err := io.WriteString(w, e.Value.(*Bucket).dumpLine()); err != nil {
			return err
		}
	}
	return nil
}

// wakeup pokes a service thread without blocking
func (info *Info) wakeup() {
	select {
	case info.kick <- struct{}{}:
	default:
	}
}

// Cancel replicates up to n dirty ranges starting from the least
// recently dirtied bucket.  It returns how many were drained.
//
// Buckets busy with a writer, or with a range locked against the
// flush, are skipped and moved to the front so the next pass tries
// them again.  Cancel never waits for them and gives up once a few
// passes can't make progress.
func (info *Info) Cancel(ctx context.Context, n int) (done int) {
	if n <= 0 {
		return 0
	}
	buf, err := info.pool.Get(ctx)
	if err != nil {
		fs.Errorf(info, "Failed to get a bulk buffer: %v", err)
		info.metrics.shortfall()
		return 0
	}
	defer info.pool.Put(buf)

	idle := 0
	for done < n {
		degraded := 0
		progress := false
		info.mu.Lock()
		for e := info.lru.Front(); e != nil && done < n; {
			next := e.Next()
			b := e.Value.(*Bucket)
			if !b.mu.TryLock() {
				info.lru.MoveToFront(e)
				degraded++
				e = next
				continue
			}
			got, blocked := b.drain(ctx, buf, n-done, mlock.FlagNoWait)
			if got > 0 {
				progress = true
			}
			done += got
			b.release()
			b.mu.Unlock()
			if blocked {
				if b.elem != nil {
					info.lru.MoveToFront(b.elem)
				}
				degraded++
			}
			e = next
		}
		empty := info.lru.Len() == 0
		info.mu.Unlock()
		if empty || degraded == 0 || ctx.Err() != nil {
			break
		}
		if !progress {
			idle++
			if idle >= maxIdlePasses {
				break
			}
			// everyone is busy so let the writers in
			time.Sleep(time.Millisecond)
		}
	}
	if done < n && info.Total() > 0 {
		fs.Errorf(info, "Only drained %d of %d dirty ranges", done, n)
		info.metrics.shortfall()
	}
	return done
}

// Drain replicates everything which is dirty
func (info *Info) Drain(ctx context.Context) (done int) {
	for {
		total := info.Total()
		if total <= 0 {
			return done
		}
		got := info.Cancel(ctx, total)
		done += got
		if got == 0 {
			return done
		}
	}
}

// Shutdown stops the service and replicates what is left
func (info *Info) Shutdown(ctx context.Context) error {
	err := info.Stop()
	if n := info.Drain(ctx); n > 0 {
		fs.Infof(info, "Drained %d dirty ranges at shutdown", n)
	}
	if left := info.Total(); left > 0 {
		var b strings.Builder
		_ = info.Dump(&b)
		fs.Errorf(info, "%d dirty ranges left at shutdown:\n%s", left, b.String())
	}
	info.pool.Flush()
	return err
}
