// Package mlock is a lock manager granting read/write style locks on
// a resource either over the whole resource (plain) or over byte
// ranges of it (extent).
//
// A resource keeps a queue of granted locks and a FIFO queue of
// waiting ones.  Extent resources also keep one interval tree per
// mode holding the granted extents, where locks with an identical
// extent share one tree node.  A lock is granted when it conflicts
// with nothing granted and with no earlier waiter, so waiters are
// never starved by later compatible requests.
package mlock

import (
	"container/list"
	"context"
	"fmt"
	"sync"

	"github.com/ddn-lixi/mtfs/fs"
	"github.com/ddn-lixi/mtfs/lib/interval"
	"github.com/pkg/errors"
)

// EOF is the end of the largest possible extent
const EOF = interval.EOF

// EnqueueInfo describes a lock request
type EnqueueInfo struct {
	Mode   Mode
	Extent interval.Extent // ignored for plain resources
	Flags  Flags
}

// group is a set of granted locks sharing a mode and, for extent
// resources, an extent
type group struct {
	mode  Mode
	locks list.List // of *Lock
	node  *interval.Node
	elem  *list.Element // in Resource.granted for plain resources
}

// Lock is one lock on a Resource
type Lock struct {
	res    *Resource
	mode   Mode
	extent interval.Extent
	state  State
	grant  chan struct{} // closed when granted
	elem   *list.Element // in the waiting queue or the granted queue
	group  *group
	gelem  *list.Element // in group.locks
}

// String turns a Lock into a string
func (l *Lock) String() string {
	if l.res.typ == TypePlain {
		return fmt.Sprintf("%s lock on %s", l.mode, l.res)
	}
	return fmt.Sprintf("%s lock %v on %s", l.mode, l.extent, l.res)
}

// Mode returns the mode of the lock
func (l *Lock) Mode() Mode {
	return l.mode
}

// Extent returns the extent covered by the lock
func (l *Lock) Extent() interval.Extent {
	return l.extent
}

// Resource returns the resource the lock is on
func (l *Lock) Resource() *Resource {
	return l.res
}

// State returns the state of the lock
func (l *Lock) State() State {
	l.res.mu.Lock()
	defer l.res.mu.Unlock()
	return l.state
}

// Resource is something which can be locked
type Resource struct {
	mu          sync.Mutex
	name        string
	typ         Type
	granted     list.List // *Lock for extent, *group for plain
	waiting     list.List // of *Lock
	trees       [modeCount]interval.Tree
	treeSize    [modeCount]int
	reprocessor *Reprocessor
	pending     bool // queued on the reprocessor
}

// NewResource makes a new resource of type typ named name
func NewResource(name string, typ Type) *Resource {
	return &Resource{
		name: name,
		typ:  typ,
	}
}

// String turns a Resource into a string
func (r *Resource) String() string {
	return r.name
}

// Type returns the type of the resource
func (r *Resource) Type() Type {
	return r.typ
}

// SetReprocessor makes Cancel hand the waiting queue to rp rather
// than reprocess it inline.  Passing nil restores inline processing.
func (r *Resource) SetReprocessor(rp *Reprocessor) {
	r.mu.Lock()
	r.reprocessor = rp
	r.mu.Unlock()
}

// Granted returns the granted locks in grant order
func (r *Resource) Granted() (locks []*Lock) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for e := r.granted.Front(); e != nil; e = e.Next() {
		switch x := e.Value.(type) {
		case *Lock:
			locks = append(locks, x)
		case *group:
			for le := x.locks.Front(); le != nil; le = le.Next() {
				locks = append(locks, le.Value.(*Lock))
			}
		}
	}
	return locks
}

// Waiting returns the waiting locks in queue order
func (r *Resource) Waiting() (locks []*Lock) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for e := r.waiting.Front(); e != nil; e = e.Next() {
		locks = append(locks, e.Value.(*Lock))
	}
	return locks
}

// conflictGranted returns true if l conflicts with a granted lock -
// call with mu held
func (r *Resource) conflictGranted(l *Lock) bool {
	if r.typ == TypePlain {
		for e := r.granted.Front(); e != nil; e = e.Next() {
			if !e.Value.(*group).mode.Compatible(l.mode) {
				return true
			}
		}
		return false
	}
	for i := 0; i < modeCount; i++ {
		if r.treeSize[i] == 0 {
			continue
		}
		if Mode(1<<uint(i)).Compatible(l.mode) {
			continue
		}
		if r.trees[i].IsOverlapped(l.extent) {
			return true
		}
	}
	return false
}

// conflictWaiting returns true if l conflicts with a lock waiting
// ahead of it.  A lock not yet queued is checked against every
// waiter - call with mu held
func (r *Resource) conflictWaiting(l *Lock) bool {
	for e := r.waiting.Front(); e != nil; e = e.Next() {
		w := e.Value.(*Lock)
		if w == l {
			break
		}
		if w.mode.Compatible(l.mode) {
			continue
		}
		if r.typ == TypePlain || w.extent.Overlaps(l.extent) {
			return true
		}
	}
	return false
}

// conflict returns true if l can't be granted now - call with mu held
func (r *Resource) conflict(l *Lock) bool {
	return r.conflictGranted(l) || r.conflictWaiting(l)
}

// grant moves l to the granted queue and wakes its waiter - call with
// mu held
func (r *Resource) grant(l *Lock) {
	if l.state == StateWaiting {
		r.waiting.Remove(l.elem)
		l.elem = nil
	}
	if r.typ == TypePlain {
		r.grantPlain(l)
	} else {
		r.grantExtent(l)
	}
	wasWaiting := l.state == StateWaiting
	l.state = StateGranted
	if wasWaiting {
		close(l.grant)
	}
}

func (r *Resource) grantExtent(l *Lock) {
	i := l.mode.index()
	g := &group{mode: l.mode}
	g.node = interval.NewNode(l.extent.Start, l.extent.End, g)
	if found := r.trees[i].Insert(g.node); found != nil {
		g = found.Value.(*group)
	}
	r.treeSize[i]++
	l.group = g
	l.gelem = g.locks.PushBack(l)
	l.elem = r.granted.PushBack(l)
}

func (r *Resource) grantPlain(l *Lock) {
	var g *group
	for e := r.granted.Front(); e != nil; e = e.Next() {
		if e.Value.(*group).mode == l.mode {
			g = e.Value.(*group)
			break
		}
	}
	if g == nil {
		g = &group{mode: l.mode}
		g.elem = r.granted.PushBack(g)
	}
	l.group = g
	l.gelem = g.locks.PushBack(l)
}

// unlink removes granted lock l from the queues and trees - call with
// mu held
func (r *Resource) unlink(l *Lock) {
	g := l.group
	g.locks.Remove(l.gelem)
	l.group, l.gelem = nil, nil
	if r.typ == TypePlain {
		if g.locks.Len() == 0 {
			r.granted.Remove(g.elem)
		}
		return
	}
	i := l.mode.index()
	r.treeSize[i]--
	if g.locks.Len() == 0 {
		r.trees[i].Erase(g.node)
	}
	r.granted.Remove(l.elem)
	l.elem = nil
}

// reprocess grants every waiter which no longer conflicts, in queue
// order - call with mu held
func (r *Resource) reprocess() {
	for e := r.waiting.Front(); e != nil; {
		next := e.Next()
		l := e.Value.(*Lock)
		if !r.conflict(l) {
			r.grant(l)
			fs.Debugf(l, "granted after reprocess")
		}
		e = next
	}
}

// kick reprocesses the waiting queue inline or through the
// reprocessor - call with mu held
func (r *Resource) kick() {
	if r.reprocessor == nil {
		r.reprocess()
		return
	}
	if r.pending {
		return
	}
	if !r.reprocessor.schedule(r) {
		r.reprocess()
		return
	}
	r.pending = true
}

// checkInfo validates a lock request for this resource
func (r *Resource) checkInfo(info *EnqueueInfo) error {
	if !info.Mode.Valid() {
		return errors.Wrapf(fs.ErrorInvalidLock, "bad mode %d", uint32(info.Mode))
	}
	if r.typ == TypeExtent && !info.Extent.Valid() {
		return errors.Wrapf(fs.ErrorInvalidLock, "bad extent %v", info.Extent)
	}
	return nil
}

// Enqueue asks for a lock on r, waiting until it is granted.
//
// With FlagNoWait it returns fs.ErrorWouldBlock instead of waiting.
// If ctx is cancelled while waiting the request is withdrawn and the
// context error returned.
func Enqueue(ctx context.Context, r *Resource, info EnqueueInfo) (*Lock, error) {
	if err := r.checkInfo(&info); err != nil {
		return nil, err
	}
	l := &Lock{
		res:   r,
		mode:  info.Mode,
		state: StateNew,
	}
	if r.typ == TypeExtent {
		l.extent = info.Extent
	} else {
		l.extent = interval.Extent{Start: 0, End: EOF}
	}

	r.mu.Lock()
	if !r.conflict(l) {
		r.grant(l)
		r.mu.Unlock()
		return l, nil
	}
	if info.Flags&FlagNoWait != 0 {
		r.mu.Unlock()
		return nil, fs.ErrorWouldBlock
	}
	l.grant = make(chan struct{})
	l.state = StateWaiting
	l.elem = r.waiting.PushBack(l)
	r.mu.Unlock()
	fs.Debugf(l, "waiting")

	select {
	case <-l.grant:
		return l, nil
	case <-ctx.Done():
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if l.state == StateGranted {
		// granted while we were giving up
		return l, nil
	}
	r.waiting.Remove(l.elem)
	l.elem = nil
	l.state = StateDestroyed
	r.kick()
	return nil, ctx.Err()
}

// TryEnqueue is Enqueue with FlagNoWait
func TryEnqueue(r *Resource, info EnqueueInfo) (*Lock, error) {
	info.Flags |= FlagNoWait
	return Enqueue(context.Background(), r, info)
}

// Cancel releases a granted lock and grants whatever waiters it was
// blocking.  Cancelling a lock which isn't granted panics.
func Cancel(l *Lock) {
	r := l.res
	r.mu.Lock()
	defer r.mu.Unlock()
	if l.state != StateGranted {
		panic(fmt.Sprintf("mlock: cancel of %v in state %v", l, l.state))
	}
	r.unlink(l)
	l.state = StateDestroyed
	r.kick()
}
