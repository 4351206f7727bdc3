package replica

import (
	"context"
	"path"

	"github.com/ddn-lixi/mtfs/fs"
	"github.com/ddn-lixi/mtfs/lib/mlock"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// GetFlags returns the flags of p on every branch, fs.FlagAbsent for
// branches without a copy
func (f *Fs) GetFlags(p string) ([]uint32, error) {
	o := f.lookup(p)
	if !o.anyPresent() {
		return nil, notFound(o.path)
	}
	flags := make([]uint32, len(f.branches))
	for i := range f.branches {
		flag, err := o.Flag(i)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read flags on %v", f.branches[i])
		}
		flags[i] = flag
	}
	return flags, nil
}

// SetFlags writes the flags of p on every branch which has a copy.
//
// There must be one flag per branch and every flag for a present
// branch must be valid, otherwise nothing is written.
func (f *Fs) SetFlags(p string, flags []uint32) error {
	o := f.lookup(p)
	if len(flags) != len(f.branches) {
		return errors.Wrapf(fs.ErrorBranchMismatch, "%d flags for %d branches", len(flags), len(f.branches))
	}
	if !o.anyPresent() {
		return notFound(o.path)
	}
	for i, flag := range flags {
		if o.BranchPresent(i) && !fs.FlagIsValid(flag) {
			return errors.Wrapf(fs.ErrorInvalidFlag, "flag 0x%x for %v", flag, f.branches[i])
		}
	}
	for i, flag := range flags {
		if !o.BranchPresent(i) {
			continue
		}
		if err := f.branches[i].SetFlag(o.path, flag); err != nil {
			return err
		}
	}
	fs.Infof(o, "Set flags to %v", flags)
	return nil
}

// RemoveBranch removes name in parent from branch i only.  The object
// is forgotten so the next lookup sees the change.
func (f *Fs) RemoveBranch(ctx context.Context, parent, name string, i int) error {
	if i < 0 || i >= len(f.branches) {
		return errors.Wrapf(fs.ErrorBranchCount, "no branch %d", i)
	}
	parent = clean(parent)
	po := f.object(parent)
	if _, err := po.lookupBranch(i); err != nil {
		return err
	}
	if !po.BranchPresent(i) {
		return errors.Wrapf(fs.ErrorBranchAbsent, "%q on %v", parent, f.branches[i])
	}
	p := path.Join(parent, name)
	f.Forget(ctx, p)
	b := f.branches[i]
	fs.Infof(p, "Removing from %v", b)
	if err := b.Fs().Remove(p); err != nil {
		return err
	}
	return b.ClearFlag(p)
}

// LockEnqueue takes a lock on p returning its id
func (f *Fs) LockEnqueue(ctx context.Context, p string, info mlock.EnqueueInfo) (string, error) {
	o := f.object(p)
	l, err := mlock.Enqueue(ctx, o.res, info)
	if err != nil {
		return "", err
	}
	id := uuid.New().String()
	f.locksMu.Lock()
	f.locks[id] = l
	f.locksMu.Unlock()
	fs.Debugf(o, "Lock %s granted as %s", l, id)
	return id, nil
}

// LockCancel releases the lock id
func (f *Fs) LockCancel(id string) error {
	f.locksMu.Lock()
	l, ok := f.locks[id]
	delete(f.locks, id)
	f.locksMu.Unlock()
	if !ok {
		return errors.Wrapf(fs.ErrorLockNotFound, "%q", id)
	}
	mlock.Cancel(l)
	return nil
}
