// Package replica implements a file system which keeps a full copy of
// the tree on every one of its branches.
//
// Every operation is fanned out over the branches through an operation
// list.  The list decides which branches are latest, turns the per
// branch outcomes into one result and marks the branches which
// disagree with it.  Data written in async mode goes to the primary
// branch only and is copied to the others in the background.
package replica

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/ddn-lixi/mtfs/backend/replica/branch"
	"github.com/ddn-lixi/mtfs/backend/replica/masync"
	"github.com/ddn-lixi/mtfs/fs"
	"github.com/ddn-lixi/mtfs/fs/config/configmap"
	"github.com/ddn-lixi/mtfs/fs/config/configstruct"
	"github.com/ddn-lixi/mtfs/lib/errcount"
	"github.com/ddn-lixi/mtfs/lib/mlock"
	"github.com/pkg/errors"
)

// Subjects select how data is replicated
const (
	SubjectSync  = "sync"
	SubjectAsync = "async"
)

// Options defines the configuration for this backend
type Options struct {
	Branches            []string      `config:"branches"`
	Subject             string        `config:"subject"`
	NoAbort             bool          `config:"no_abort"`
	StateDir            string        `config:"state_dir"`
	BulkSize            fs.SizeSuffix `config:"bulk_size"`
	BufferPoolSize      int           `config:"buffer_pool_size"`
	AsyncThreads        int           `config:"async_threads"`
	AsyncBatch          int           `config:"async_batch"`
	AsyncMemoryPressure float64       `config:"async_memory_pressure"`
	AsyncInterval       time.Duration `config:"async_interval"`
	FlagCacheExpire     time.Duration `config:"flag_cache_expire"`
	LockReprocessAsync  bool          `config:"lock_reprocess_async"`
}

// DefaultOptions returns the options with the defaults taken from the
// global config
func DefaultOptions(ctx context.Context) Options {
	ci := fs.GetConfig(ctx)
	return Options{
		Subject:             SubjectSync,
		NoAbort:             ci.NoAbort,
		BulkSize:            ci.BulkSize,
		BufferPoolSize:      ci.BufferPoolSize,
		AsyncThreads:        ci.AsyncThreads,
		AsyncBatch:          ci.AsyncBatch,
		AsyncMemoryPressure: ci.AsyncMemoryPressure,
		AsyncInterval:       ci.AsyncInterval,
		FlagCacheExpire:     ci.FlagCacheExpire,
	}
}

// Fs is a replicated file system
type Fs struct {
	name     string
	opt      Options
	branches []*branch.Branch
	async    *masync.Info
	rp       *mlock.Reprocessor // nil unless locks are reprocessed in the background
	metrics  *Metrics

	mu      sync.Mutex
	objects map[string]*Object // arena of objects keyed by cleaned path

	locksMu sync.Mutex
	locks   map[string]*mlock.Lock // locks taken through the control calls
}

// NewFs constructs an Fs from the config in m
func NewFs(ctx context.Context, name string, m configmap.Mapper) (*Fs, error) {
	opt := DefaultOptions(ctx)
	err := configstruct.Set(m, &opt)
	if err != nil {
		return nil, err
	}
	switch opt.Subject {
	case SubjectSync, SubjectAsync:
	default:
		return nil, errors.Errorf("unknown subject %q - must be %q or %q", opt.Subject, SubjectSync, SubjectAsync)
	}
	if len(opt.Branches) < 1 || len(opt.Branches) > fs.BranchMax {
		return nil, errors.Wrapf(fs.ErrorBranchCount, "%d branches - need 1 to %d", len(opt.Branches), fs.BranchMax)
	}

	f := &Fs{
		name:    name,
		opt:     opt,
		metrics: NewMetrics(),
		objects: make(map[string]*Object),
		locks:   make(map[string]*mlock.Lock),
	}
	for i, spec := range opt.Branches {
		b, err := branch.New(ctx, i, spec, branch.Options{
			StateDir:    opt.StateDir,
			CacheExpire: opt.FlagCacheExpire,
		})
		if err != nil {
			f.closeBranches()
			return nil, err
		}
		f.branches = append(f.branches, b)
	}
	f.async = masync.NewInfo(masync.Options{
		BulkSize:       int(opt.BulkSize),
		BufferPoolSize: opt.BufferPoolSize,
		Threads:        opt.AsyncThreads,
		Batch:          opt.AsyncBatch,
		MemoryPressure: opt.AsyncMemoryPressure,
		Interval:       opt.AsyncInterval,
	}, f.metrics.Async)
	if opt.LockReprocessAsync {
		f.rp = mlock.NewReprocessor(context.Background())
	}

	addActive(f)
	fs.Debugf(f, "Created with %d branches in %s mode", len(f.branches), opt.Subject)
	return f, nil
}

// Name of the file system as passed into NewFs
func (f *Fs) Name() string {
	return f.name
}

// String converts this Fs to a string
func (f *Fs) String() string {
	return fmt.Sprintf("replica %q", f.name)
}

// Opt returns the options the Fs was made with
func (f *Fs) Opt() Options {
	return f.opt
}

// Async returns true if data is replicated in the background
func (f *Fs) Async() bool {
	return f.opt.Subject == SubjectAsync
}

// BranchCount returns the number of branches
func (f *Fs) BranchCount() int {
	return len(f.branches)
}

// Branch returns branch i
func (f *Fs) Branch(i int) *branch.Branch {
	return f.branches[i]
}

// AsyncInfo returns the background replication state
func (f *Fs) AsyncInfo() *masync.Info {
	return f.async
}

// Metrics returns the metrics of the Fs
func (f *Fs) Metrics() *Metrics {
	return f.metrics
}

// Start the background replication if the Fs is async
func (f *Fs) Start(ctx context.Context) error {
	if !f.Async() {
		return nil
	}
	return f.async.Start(ctx)
}

// clean returns p rooted and cleaned
func clean(p string) string {
	return path.Clean("/" + p)
}

// split returns the parent and the leaf of a cleaned path
func split(p string) (parent, name string) {
	parent, name = path.Split(p)
	if parent != "/" {
		parent = strings.TrimSuffix(parent, "/")
	}
	return parent, name
}

// object returns the arena object for p, making it if needed
func (f *Fs) object(p string) *Object {
	p = clean(p)
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.objects[p]
	if !ok {
		o = newObject(f, p)
		f.objects[p] = o
	}
	return o
}

// cached returns the arena object for p if there is one
func (f *Fs) cached(p string) *Object {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.objects[clean(p)]
}

// Forget drains the dirty ranges of p and drops it from the arena
func (f *Fs) Forget(ctx context.Context, p string) {
	p = clean(p)
	f.mu.Lock()
	o, ok := f.objects[p]
	delete(f.objects, p)
	f.mu.Unlock()
	if !ok {
		return
	}
	if n := o.bucket.Cleanup(ctx); n > 0 {
		fs.Debugf(o, "Drained %d dirty ranges on forget", n)
	}
}

// forgetTree forgets p and everything under it
func (f *Fs) forgetTree(ctx context.Context, p string) {
	p = clean(p)
	prefix := p + "/"
	var paths []string
	f.mu.Lock()
	for objPath := range f.objects {
		if objPath == p || strings.HasPrefix(objPath, prefix) {
			paths = append(paths, objPath)
		}
	}
	f.mu.Unlock()
	for _, objPath := range paths {
		f.Forget(ctx, objPath)
	}
}

// Relookup resolves p on branch i again after it has been moved
func (f *Fs) Relookup(i int, p string) error {
	o := f.cached(p)
	if o == nil {
		return nil
	}
	_, err := o.lookupBranch(i)
	return err
}

// Shutdown releases the locks taken through the control calls, stops
// the background replication, drains every bucket and closes the
// branches
func (f *Fs) Shutdown(ctx context.Context) error {
	removeActive(f)
	ec := errcount.New()

	// control locks would hold up the flush of the ranges they cover
	f.locksMu.Lock()
	for id, l := range f.locks {
		if l.State() == mlock.StateGranted {
			mlock.Cancel(l)
		}
		delete(f.locks, id)
	}
	f.locksMu.Unlock()

	ec.Add(f.async.Shutdown(ctx))

	f.mu.Lock()
	objects := f.objects
	f.objects = make(map[string]*Object)
	f.mu.Unlock()
	for _, o := range objects {
		o.bucket.Cleanup(ctx)
	}

	if f.rp != nil {
		f.rp.Stop()
	}
	ec.Add(f.closeBranches())
	return ec.Err("shutdown")
}

func (f *Fs) closeBranches() error {
	ec := errcount.New()
	for _, b := range f.branches {
		ec.Add(b.Close())
	}
	return ec.Err("failed to close branches")
}

// Keep track of active Fs keyed on name for the control calls
var (
	activeMu sync.Mutex
	active   = map[string][]*Fs{}
)

func addActive(f *Fs) {
	activeMu.Lock()
	defer activeMu.Unlock()
	active[f.name] = append(active[f.name], f)
}

func removeActive(f *Fs) {
	activeMu.Lock()
	defer activeMu.Unlock()
	fses := active[f.name]
	for i, activeFs := range fses {
		if activeFs == f {
			fses = append(fses[:i], fses[i+1:]...)
			break
		}
	}
	if len(fses) == 0 {
		delete(active, f.name)
	} else {
		active[f.name] = fses
	}
}
