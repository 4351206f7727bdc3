package replica

import (
	"context"
	"io"
	"os"
	"syscall"
	"time"

	"github.com/ddn-lixi/mtfs/backend/replica/branch"
	"github.com/ddn-lixi/mtfs/backend/replica/heal"
	"github.com/ddn-lixi/mtfs/backend/replica/oplist"
	"github.com/ddn-lixi/mtfs/fs"
	"github.com/ddn-lixi/mtfs/lib/interval"
	"github.com/ddn-lixi/mtfs/lib/mlock"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// notFound is returned when an entry is on no branch
func notFound(p string) error {
	return errors.Wrapf(fs.ErrorObjectNotFound, "%q", p)
}

// parentOf returns the refreshed parent object of p
func (f *Fs) parentOf(p string) *Object {
	parent, _ := split(p)
	po := f.object(parent)
	po.refresh()
	return po
}

// lookup returns the refreshed object of p
func (f *Fs) lookup(p string) *Object {
	o := f.object(p)
	o.refresh()
	return o
}

// createPolicy returns the policy for operations making a new entry
func (f *Fs) createPolicy() *oplist.Policy {
	if f.Async() {
		return oplist.Master
	}
	return oplist.Flag
}

// removePolicy returns the policy for operations removing an entry
func (f *Fs) removePolicy() *oplist.Policy {
	if f.Async() {
		return oplist.Equal
	}
	return oplist.Flag
}

// Lookup finds p returning the FileInfo from the first latest branch
// which has it.
//
// If only non latest branches have p those copies are stale and are
// moved to the recover area.
func (f *Fs) Lookup(ctx context.Context, p string) (os.FileInfo, error) {
	p = clean(p)
	if p == "/" {
		return f.Getattr(ctx, p)
	}
	if heal.Reserved(p) {
		return nil, notFound(p)
	}
	po := f.parentOf(p)
	o := f.object(p)
	l, err := f.run(fanout{
		op:      "lookup",
		policy:  oplist.Flag,
		from:    po,
		to:      o,
		noAbort: true,
	}, func(i int, b *branch.Branch) oplist.Result {
		fi, err := o.lookupBranch(i)
		if err == nil && fi == nil {
			err = notFound(p)
		}
		return oplist.Result{Err: err, Value: fi}
	})
	if l != nil && l.SuccessLatest() == 0 && l.SuccessNonlatest() > 0 {
		fs.Errorf(o, "Only stale branches have a copy, moving them aside")
		parent, name := split(p)
		if err := heal.DiscardDentry(f, parent, name, l); err != nil {
			fs.Errorf(o, "Failed to discard stale copies: %v", err)
		}
		return nil, notFound(p)
	}
	if err != nil {
		if fs.IsNotFound(err) {
			return nil, notFound(p)
		}
		return nil, err
	}
	return l.Result().Value.(os.FileInfo), nil
}

// create makes a new entry p with mk on every branch where the parent
// is present
func (f *Fs) create(ctx context.Context, op, p string, mk func(b *branch.Branch) error) error {
	p = clean(p)
	if p == "/" || heal.Reserved(p) {
		return errors.Wrapf(os.ErrExist, "%q", p)
	}
	po := f.parentOf(p)
	o := f.lookup(p)
	if o.anyPresent() {
		return errors.Wrapf(os.ErrExist, "%q", p)
	}
	_, err := f.run(fanout{
		op:      op,
		policy:  f.createPolicy(),
		from:    po,
		to:      o,
		absent:  func(i int) bool { return !po.BranchPresent(i) },
		refresh: true,
	}, func(i int, b *branch.Branch) oplist.Result {
		err := mk(b)
		if err == nil {
			// a new entry starts clean
			err = b.ClearFlag(p)
		}
		return oplist.Result{Err: err}
	})
	if err != nil {
		o.refresh()
	}
	return err
}

// Create makes an empty file
func (f *Fs) Create(ctx context.Context, p string, mode os.FileMode) error {
	return f.create(ctx, "create", p, func(b *branch.Branch) error {
		fh, err := b.Fs().OpenFile(clean(p), os.O_CREATE|os.O_EXCL|os.O_WRONLY, mode)
		if err != nil {
			return err
		}
		return fh.Close()
	})
}

// Mkdir makes a directory
func (f *Fs) Mkdir(ctx context.Context, p string, mode os.FileMode) error {
	return f.create(ctx, "mkdir", p, func(b *branch.Branch) error {
		return b.Fs().Mkdir(clean(p), mode)
	})
}

// Symlink makes p a symlink pointing at target
func (f *Fs) Symlink(ctx context.Context, target, p string) error {
	return f.create(ctx, "symlink", p, func(b *branch.Branch) error {
		return b.Symlink(target, clean(p))
	})
}

// remove deletes p with rm on every branch which has it
func (f *Fs) remove(ctx context.Context, op, p string, rm func(b *branch.Branch) error) error {
	p = clean(p)
	if p == "/" || heal.Reserved(p) {
		return errors.Wrapf(os.ErrPermission, "%q", p)
	}
	o := f.lookup(p)
	if !o.anyPresent() {
		return notFound(p)
	}
	if n := o.bucket.Cleanup(ctx); n > 0 {
		fs.Debugf(o, "Drained %d dirty ranges before %s", n, op)
	}
	_, err := f.run(fanout{
		op:     op,
		policy: f.removePolicy(),
		from:   o,
		to:     o,
		absent: func(i int) bool { return !o.BranchPresent(i) },
	}, func(i int, b *branch.Branch) oplist.Result {
		err := rm(b)
		if err == nil {
			err = b.ClearFlag(p)
		}
		return oplist.Result{Err: err}
	})
	o.refresh()
	if err == nil {
		f.Forget(ctx, p)
	}
	return err
}

// Unlink removes the file p
func (f *Fs) Unlink(ctx context.Context, p string) error {
	return f.remove(ctx, "unlink", p, func(b *branch.Branch) error {
		fi, err := b.Lstat(clean(p))
		if err != nil {
			return err
		}
		if fi.IsDir() {
			return errors.Wrapf(fs.ErrorIsDir, "%q", p)
		}
		return b.Fs().Remove(clean(p))
	})
}

// Rmdir removes the empty directory p
func (f *Fs) Rmdir(ctx context.Context, p string) error {
	return f.remove(ctx, "rmdir", p, func(b *branch.Branch) error {
		fi, err := b.Lstat(clean(p))
		if err != nil {
			return err
		}
		if !fi.IsDir() {
			return &os.PathError{Op: "rmdir", Path: p, Err: syscall.ENOTDIR}
		}
		names, err := readdirnames(b, clean(p), 1)
		if err != nil {
			return err
		}
		if len(names) > 0 {
			return &os.PathError{Op: "rmdir", Path: p, Err: syscall.ENOTEMPTY}
		}
		return b.Fs().Remove(clean(p))
	})
}

// readdirnames reads up to n names from directory p on b
func readdirnames(b *branch.Branch, p string, n int) ([]string, error) {
	dir, err := b.Fs().Open(p)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = dir.Close()
	}()
	names, err := dir.Readdirnames(n)
	if err == io.EOF {
		err = nil
	}
	return names, err
}

// Rename moves oldpath to newpath on every branch which has it
func (f *Fs) Rename(ctx context.Context, oldpath, newpath string) error {
	oldpath, newpath = clean(oldpath), clean(newpath)
	for _, p := range []string{oldpath, newpath} {
		if p == "/" || heal.Reserved(p) {
			return errors.Wrapf(os.ErrPermission, "%q", p)
		}
	}
	if oldpath == newpath {
		return nil
	}
	oo := f.lookup(oldpath)
	if !oo.anyPresent() {
		return notFound(oldpath)
	}
	no := f.lookup(newpath)
	oo.bucket.Cleanup(ctx)
	no.bucket.Cleanup(ctx)
	_, err := f.run(fanout{
		op:      "rename",
		policy:  oplist.Flag,
		from:    oo,
		to:      no,
		absent:  func(i int) bool { return !oo.BranchPresent(i) },
		refresh: true,
	}, func(i int, b *branch.Branch) oplist.Result {
		err := b.Fs().Rename(oldpath, newpath)
		if err == nil {
			err = b.RenameFlag(oldpath, newpath)
		}
		return oplist.Result{Err: err}
	})
	f.forgetTree(ctx, oldpath)
	f.forgetTree(ctx, newpath)
	return err
}

// setattr runs set on every branch which has p
func (f *Fs) setattr(ctx context.Context, op, p string, set func(b *branch.Branch) error) error {
	o := f.lookup(p)
	if !o.anyPresent() {
		return notFound(clean(p))
	}
	_, err := f.run(fanout{
		op:     op,
		policy: oplist.Flag,
		from:   o,
		to:     o,
		absent: func(i int) bool { return !o.BranchPresent(i) },
	}, func(i int, b *branch.Branch) oplist.Result {
		return oplist.Result{Err: set(b)}
	})
	return err
}

// Chmod changes the mode of p
func (f *Fs) Chmod(ctx context.Context, p string, mode os.FileMode) error {
	return f.setattr(ctx, "chmod", p, func(b *branch.Branch) error {
		return b.Fs().Chmod(clean(p), mode)
	})
}

// Chtimes changes the access and modification times of p
func (f *Fs) Chtimes(ctx context.Context, p string, atime, mtime time.Time) error {
	return f.setattr(ctx, "chtimes", p, func(b *branch.Branch) error {
		return b.Fs().Chtimes(clean(p), atime, mtime)
	})
}

// Truncate changes the size of p holding a write lock from size to
// the end of the file
func (f *Fs) Truncate(ctx context.Context, p string, size int64) error {
	if size < 0 {
		return errors.Wrapf(os.ErrInvalid, "negative size %d", size)
	}
	o := f.object(p)
	// replicate what is there before the size changes under it
	o.bucket.Cleanup(ctx)
	l, err := mlock.Enqueue(ctx, o.res, mlock.EnqueueInfo{
		Mode:   mlock.ModeWrite,
		Extent: interval.Extent{Start: uint64(size), End: interval.EOF},
	})
	if err != nil {
		return err
	}
	defer mlock.Cancel(l)
	return f.setattr(ctx, "truncate", p, func(b *branch.Branch) error {
		fh, err := b.Fs().OpenFile(clean(p), os.O_WRONLY, 0)
		if err != nil {
			return err
		}
		err = fh.Truncate(size)
		if closeErr := fh.Close(); err == nil {
			err = closeErr
		}
		return err
	})
}

// Setxattr sets the extended attribute name of p
func (f *Fs) Setxattr(ctx context.Context, p, name string, value []byte) error {
	return f.setattr(ctx, "setxattr", p, func(b *branch.Branch) error {
		return b.SetXattr(clean(p), name, value)
	})
}

// Removexattr removes the extended attribute name of p
func (f *Fs) Removexattr(ctx context.Context, p, name string) error {
	return f.setattr(ctx, "removexattr", p, func(b *branch.Branch) error {
		return b.RemoveXattr(clean(p), name)
	})
}

// pick returns the refreshed object of p and the first branch valid
// for class
func (f *Fs) pick(p string, class fs.ValidClass) (*Object, *branch.Branch, error) {
	o := f.lookup(p)
	i, err := f.choose(o, class)
	if err != nil {
		if !o.anyPresent() {
			return o, nil, notFound(p)
		}
		return o, nil, err
	}
	return o, f.branches[i], nil
}

// Getattr returns the FileInfo of p from the first attr valid branch
func (f *Fs) Getattr(ctx context.Context, p string) (fi os.FileInfo, err error) {
	defer func() { f.count("getattr", err) }()
	_, b, err := f.pick(p, fs.AttrValid)
	if err != nil {
		return nil, err
	}
	return b.Lstat(clean(p))
}

// Getxattr returns the extended attribute name of p
func (f *Fs) Getxattr(ctx context.Context, p, name string) (value []byte, err error) {
	defer func() { f.count("getxattr", err) }()
	_, b, err := f.pick(p, fs.XattrValid)
	if err != nil {
		return nil, err
	}
	return b.GetXattr(clean(p), name)
}

// Listxattr lists the extended attribute names of p
func (f *Fs) Listxattr(ctx context.Context, p string) (names []string, err error) {
	defer func() { f.count("listxattr", err) }()
	_, b, err := f.pick(p, fs.XattrValid)
	if err != nil {
		return nil, err
	}
	return b.ListXattr(clean(p))
}

// Readlink returns the target of the symlink p
func (f *Fs) Readlink(ctx context.Context, p string) (target string, err error) {
	defer func() { f.count("readlink", err) }()
	_, b, err := f.pick(p, fs.BranchValid)
	if err != nil {
		return "", err
	}
	return b.Readlink(clean(p))
}

// Readdir lists the directory p.  The reserved directory is hidden.
func (f *Fs) Readdir(ctx context.Context, p string) (entries []os.FileInfo, err error) {
	defer func() { f.count("readdir", err) }()
	p = clean(p)
	_, b, err := f.pick(p, fs.BranchValid)
	if err != nil {
		return nil, err
	}
	all, err := afero.ReadDir(b.Fs(), p)
	if err != nil {
		return nil, err
	}
	entries = all[:0]
	for _, fi := range all {
		if p == "/" && heal.Reserved("/"+fi.Name()) {
			continue
		}
		entries = append(entries, fi)
	}
	return entries, nil
}

// anyPresent returns true if some branch has a copy of the object
func (o *Object) anyPresent() bool {
	for i := range o.f.branches {
		if o.BranchPresent(i) {
			return true
		}
	}
	return false
}

// lockRange takes a lock in mode on the n bytes at off of o
func lockRange(ctx context.Context, o *Object, mode mlock.Mode, off int64, n int) (*mlock.Lock, error) {
	start := uint64(off)
	end := start + uint64(n) - 1
	if end < start {
		end = interval.EOF
	}
	return mlock.Enqueue(ctx, o.res, mlock.EnqueueInfo{
		Mode:   mode,
		Extent: interval.Extent{Start: start, End: end},
	})
}

// readAt reads from p on b
func readAt(b *branch.Branch, p string, buf []byte, off int64) (int, error) {
	fh, err := b.Fs().Open(p)
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = fh.Close()
	}()
	return fh.ReadAt(buf, off)
}

// Read reads len(buf) bytes at off from p under a read lock.
//
// In sync mode the first data valid branch is read, falling back to
// the next one if it fails.  In async mode only the primary is read
// since it is the only branch guaranteed to have the latest data.
func (f *Fs) Read(ctx context.Context, p string, buf []byte, off int64) (n int, err error) {
	p = clean(p)
	if off < 0 {
		return 0, errors.Wrapf(os.ErrInvalid, "negative offset %d", off)
	}
	if len(buf) == 0 {
		return 0, nil
	}
	defer func() {
		if err == io.EOF {
			f.count("read", nil)
		} else {
			f.count("read", err)
		}
	}()
	o := f.lookup(p)
	l, err := lockRange(ctx, o, mlock.ModeRead, off, len(buf))
	if err != nil {
		return 0, err
	}
	defer mlock.Cancel(l)

	if f.Async() {
		if !o.BranchPresent(0) {
			return 0, errors.Wrapf(fs.ErrorBranchAbsent, "%v", f.branches[0])
		}
		return readAt(f.branches[0], p, buf, off)
	}
	err = notFound(p)
	if o.anyPresent() {
		err = errors.Wrapf(fs.ErrorNoValidBranch, "read %q", p)
	}
	for i, b := range f.branches {
		if !o.IsBranchValid(i, fs.DataValid) {
			continue
		}
		n, err = readAt(b, p, buf, off)
		if err == nil || err == io.EOF {
			return n, err
		}
		fs.Errorf(o, "Read failed on %v, trying next branch: %v", b, err)
	}
	return 0, err
}

// writeAt writes to p on b
func writeAt(b *branch.Branch, p string, data []byte, off int64) (int, error) {
	fh, err := b.Fs().OpenFile(p, os.O_WRONLY, 0)
	if err != nil {
		return 0, err
	}
	n, err := fh.WriteAt(data, off)
	if closeErr := fh.Close(); err == nil {
		err = closeErr
	}
	return n, err
}

// Write writes data at off to p.
//
// In sync mode every branch is written under a write lock and branches
// which wrote less than the best are invalidated.  In async mode only
// the primary is written and the range is queued for replication.
func (f *Fs) Write(ctx context.Context, p string, data []byte, off int64) (int, error) {
	p = clean(p)
	if off < 0 {
		return 0, errors.Wrapf(os.ErrInvalid, "negative offset %d", off)
	}
	if len(data) == 0 {
		return 0, nil
	}
	o := f.lookup(p)
	if !o.anyPresent() {
		return 0, notFound(p)
	}
	l, err := lockRange(ctx, o, mlock.ModeWrite, off, len(data))
	if err != nil {
		return 0, err
	}
	if f.Async() {
		return f.writeAsync(ctx, o, l, data, off)
	}
	defer mlock.Cancel(l)
	list, err := f.run(fanout{
		op:     "write",
		policy: oplist.FlagWritev,
		from:   o,
		to:     o,
		absent: func(i int) bool { return !o.BranchPresent(i) },
	}, func(i int, b *branch.Branch) oplist.Result {
		n, err := writeAt(b, p, data, off)
		return oplist.Result{Err: err, Size: int64(n)}
	})
	if err != nil {
		return 0, err
	}
	return int(list.Result().Size), nil
}

// writeAsync writes to the primary then queues the range
func (f *Fs) writeAsync(ctx context.Context, o *Object, l *mlock.Lock, data []byte, off int64) (n int, err error) {
	defer func() { f.count("write", err) }()
	if !o.BranchPresent(0) {
		mlock.Cancel(l)
		return 0, errors.Wrapf(fs.ErrorBranchAbsent, "%v", f.branches[0])
	}
	n, err = writeAt(f.branches[0], o.path, data, off)
	// the replay takes a flush lock so the write lock must go first
	mlock.Cancel(l)
	if n > 0 && len(f.branches) > 1 {
		start := uint64(off)
		if addErr := o.bucket.Add(o, start, start+uint64(n)-1); addErr != nil {
			fs.Errorf(o, "Failed to queue range for replication: %v", addErr)
			for i := 1; i < len(f.branches); i++ {
				if o.BranchPresent(i) {
					if invErr := o.InvalidateBranch(i, fs.DataValid); invErr != nil {
						fs.Errorf(o, "Failed to invalidate %v: %v", f.branches[i], invErr)
					}
				}
			}
		}
	}
	return n, err
}
