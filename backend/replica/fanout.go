package replica

import (
	"github.com/ddn-lixi/mtfs/backend/replica/branch"
	"github.com/ddn-lixi/mtfs/backend/replica/oplist"
	"github.com/ddn-lixi/mtfs/fs"
	"github.com/pkg/errors"
)

// branchFunc runs an operation on branch i
type branchFunc func(i int, b *branch.Branch) oplist.Result

// fanout describes one operation run over the branches
type fanout struct {
	op      string
	policy  *oplist.Policy
	from    *Object          // decides which branches are latest
	to      *Object          // branches which disagree are invalidated on this
	absent  func(i int) bool // if set, branch i faults without being tried when it returns true
	noAbort bool             // keep going when every latest branch failed
	refresh bool             // look to up again before flushing
}

// run calls fn on every branch in the order of the policy and returns
// the gathered list.
//
// The operation fails with fs.ErrorNoValidBranch if no branch is
// latest.  Once every latest branch has failed it stops with the
// gathered error, unless the Fs was made with no_abort.  If it failed
// everywhere the gathered error is returned.
func (f *Fs) run(fo fanout, fn branchFunc) (*oplist.List, error) {
	l, err := oplist.New(fo.from, fo.policy)
	if err != nil {
		return nil, err
	}
	if l.Latest() == 0 {
		fs.Errorf(fo.from, "%s: no valid branch", fo.op)
		if !f.opt.NoAbort {
			f.metrics.op(fo.op, outcomeFault)
			return l, errors.Wrapf(fs.ErrorNoValidBranch, "%s %q", fo.op, fo.to.path)
		}
	}
	noAbort := f.opt.NoAbort || fo.noAbort
	prefer := fo.policy != oplist.FlagWritev
	for i := 0; i < l.Len(); i++ {
		bi := l.Branch(i)
		var result oplist.Result
		if fo.absent != nil && fo.absent(bi) {
			result.Err = errors.Wrapf(fs.ErrorBranchAbsent, "%v", f.branches[bi])
		} else {
			result = fn(bi, f.branches[bi])
		}
		var flags oplist.Flags
		if result.Err == nil {
			flags = oplist.Success
			if prefer {
				flags |= oplist.Preferable
			}
		} else {
			fs.Debugf(fo.to, "%s failed on %v: %v", fo.op, f.branches[bi], result.Err)
		}
		l.SetBranch(i, flags, result)
		if l.Abort(i, noAbort) {
			fs.Debugf(fo.to, "%s failed on every latest branch", fo.op)
			f.metrics.op(fo.op, outcomeFault)
			l.Gather()
			return l, l.Result().Err
		}
	}

	l.Gather()
	if l.Success() == 0 {
		f.metrics.op(fo.op, outcomeFault)
		return l, l.Result().Err
	}
	if fo.refresh {
		fo.to.refresh()
	}
	if err := l.Flush(fo.to); err != nil {
		fs.Errorf(fo.to, "%s: %v", fo.op, err)
	}
	if l.Fault() > 0 {
		f.metrics.op(fo.op, outcomePartial)
	} else {
		f.metrics.op(fo.op, outcomeSuccess)
	}
	return l, nil
}

// choose returns the first branch of o valid for class
func (f *Fs) choose(o *Object, class fs.ValidClass) (int, error) {
	for i := range f.branches {
		if o.IsBranchValid(i, class) {
			return i, nil
		}
	}
	return -1, errors.Wrapf(fs.ErrorNoValidBranch, "%q has no branch valid for %v", o.path, class)
}

// count records the outcome of an operation served by one branch
func (f *Fs) count(op string, err error) {
	if err != nil {
		f.metrics.op(op, outcomeFault)
	} else {
		f.metrics.op(op, outcomeSuccess)
	}
}
