package replica

import (
	"os"
	"sync"

	"github.com/ddn-lixi/mtfs/backend/replica/masync"
	"github.com/ddn-lixi/mtfs/fs"
	"github.com/ddn-lixi/mtfs/lib/mlock"
	"github.com/spf13/afero"
)

// Object is one logical file or directory
//
// It records which branches have a copy, owns the lock resource
// serialising access to its data and the bucket of ranges waiting to
// be replicated.
type Object struct {
	f      *Fs
	path   string
	res    *mlock.Resource
	bucket *masync.Bucket

	mu      sync.Mutex
	present []bool // which branches had a copy at the last lookup
}

// check interfaces
var (
	_ fs.Branches   = (*Object)(nil)
	_ masync.Opener = (*Object)(nil)
)

func newObject(f *Fs, p string) *Object {
	o := &Object{
		f:       f,
		path:    p,
		present: make([]bool, len(f.branches)),
	}
	o.res = mlock.NewResource(p, mlock.TypeExtent)
	if f.rp != nil {
		o.res.SetReprocessor(f.rp)
	}
	o.bucket = f.async.NewBucket(p, o.res)
	return o
}

// String returns the path of the object
func (o *Object) String() string {
	if o == nil {
		return "<nil>"
	}
	return o.path
}

// Path returns the cleaned path of the object
func (o *Object) Path() string {
	return o.path
}

// Resource returns the lock resource of the object
func (o *Object) Resource() *mlock.Resource {
	return o.res
}

// Bucket returns the dirty ranges of the object
func (o *Object) Bucket() *masync.Bucket {
	return o.bucket
}

// lookupBranch refreshes whether branch i has a copy, returning its
// FileInfo if it does
func (o *Object) lookupBranch(i int) (os.FileInfo, error) {
	fi, err := o.f.branches[i].Lstat(o.path)
	present := err == nil
	if err != nil && fs.IsNotFound(err) {
		err = nil
	}
	o.mu.Lock()
	o.present[i] = present
	o.mu.Unlock()
	return fi, err
}

// refresh looks the object up on every branch
func (o *Object) refresh() {
	for i := range o.f.branches {
		if _, err := o.lookupBranch(i); err != nil {
			fs.Debugf(o, "Lookup on %v failed: %v", o.f.branches[i], err)
		}
	}
}

// BranchCount returns the number of branches of the object
func (o *Object) BranchCount() int {
	return len(o.f.branches)
}

// BranchPresent returns false if branch i has no copy of the object
func (o *Object) BranchPresent(i int) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.present[i]
}

// Flag returns the flags of the object on branch i or fs.FlagAbsent
// if the branch has no copy
func (o *Object) Flag(i int) (uint32, error) {
	if !o.BranchPresent(i) {
		return fs.FlagAbsent, nil
	}
	return o.f.branches[i].Flag(o.path)
}

// IsBranchValid returns true if branch i is present and valid for class
func (o *Object) IsBranchValid(i int, class fs.ValidClass) bool {
	flag, err := o.Flag(i)
	if err != nil {
		fs.Errorf(o, "Failed to read flags on %v: %v", o.f.branches[i], err)
		return false
	}
	if flag == fs.FlagAbsent {
		return false
	}
	return fs.FlagSatisfies(flag, class)
}

// InvalidateBranch marks branch i as not valid for class
func (o *Object) InvalidateBranch(i int, class fs.ValidClass) error {
	flag := fs.ClassFlag(class)
	if flag == 0 {
		flag = fs.FlagMask
	}
	fs.Infof(o, "Invalidating branch %v for %v", fs.LogValue("branch", i), fs.LogValue("class", class.String()))
	o.f.metrics.invalidated(i)
	return o.f.branches[i].AddFlag(o.path, flag)
}

// OpenBranchFiles opens the object on the primary and on every other
// branch which still has a copy.  Branches which have a copy but can't
// be opened are invalidated since they will miss the replicated data.
func (o *Object) OpenBranchFiles() (files []afero.File, err error) {
	for i, b := range o.f.branches {
		if i > 0 && !o.BranchPresent(i) {
			continue
		}
		file, err := b.Fs().OpenFile(o.path, os.O_RDWR, 0)
		if err != nil {
			if i == 0 {
				return nil, err
			}
			fs.Errorf(o, "Failed to open on %v, invalidating: %v", b, err)
			if err := o.InvalidateBranch(i, fs.DataValid); err != nil {
				fs.Errorf(o, "Failed to invalidate %v: %v", b, err)
			}
			continue
		}
		files = append(files, file)
	}
	return files, nil
}
