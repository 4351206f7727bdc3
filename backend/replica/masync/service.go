package masync

import (
	"context"
	"time"

	"github.com/ddn-lixi/mtfs/fs"
	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/v3/mem"
	"golang.org/x/sync/errgroup"
)

// memoryUsedPercent returns how much of the host memory is in use
var memoryUsedPercent = func(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return vm.UsedPercent, nil
}

// underPressure returns true if the whole backlog should be drained
// to give memory back
func (info *Info) underPressure(ctx context.Context) bool {
	if info.opt.MemoryPressure <= 0 {
		return false
	}
	used, err := memoryUsedPercent(ctx)
	if err != nil {
		fs.Debugf(info, "Failed to read memory usage: %v", err)
		return false
	}
	if used > info.opt.MemoryPressure {
		fs.Infof(info, "Memory use %.1f%% above %.1f%%, draining %d dirty ranges", used, info.opt.MemoryPressure, info.Total())
		return true
	}
	return false
}

// service runs one pass of the background drain
func (info *Info) service(ctx context.Context) {
	if info.Total() == 0 {
		return
	}
	if info.opt.Batch <= 0 || info.underPressure(ctx) {
		n := info.Drain(ctx)
		fs.Debugf(info, "Drained %d dirty ranges", n)
		return
	}
	n := info.Cancel(ctx, info.opt.Batch)
	fs.Debugf(info, "Drained %d dirty ranges, %d left", n, info.Total())
	if info.Total() > 0 {
		info.wakeup()
	}
}

func (info *Info) thread(ctx context.Context, i int) error {
	fs.Debugf(info, "Service thread %d started", i)
	defer fs.Debugf(info, "Service thread %d stopped", i)
	ticker := time.NewTicker(info.opt.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-info.kick:
		case <-ticker.C:
		}
		info.service(ctx)
	}
}

// Start the service threads.  They run until Stop is called or ctx is
// cancelled.
func (info *Info) Start(ctx context.Context) error {
	info.svcMu.Lock()
	defer info.svcMu.Unlock()
	if info.g != nil {
		return errors.New("async service already started")
	}
	ctx, info.cancel = context.WithCancel(ctx)
	info.g, ctx = errgroup.WithContext(ctx)
	for i := 0; i < info.opt.Threads; i++ {
		i := i
		info.g.Go(func() error {
			return info.thread(ctx, i)
		})
	}
	fs.Infof(info, "Started %d service threads", info.opt.Threads)
	return nil
}

// Stop the service threads and wait for them to finish
func (info *Info) Stop() error {
	info.svcMu.Lock()
	defer info.svcMu.Unlock()
	if info.g == nil {
		return nil
	}
	info.cancel()
	err := info.g.Wait()
	info.g = nil
	info.cancel = nil
	if errors.Cause(err) == context.Canceled {
		err = nil
	}
	return err
}
