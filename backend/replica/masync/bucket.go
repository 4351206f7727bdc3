package masync

import (
	"container/list"
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/ddn-lixi/mtfs/fs"
	"github.com/ddn-lixi/mtfs/lib/interval"
	"github.com/ddn-lixi/mtfs/lib/mlock"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// Opener opens the file of an object on every branch for reading and
// writing.  Branch 0 is the source of the replay.
type Opener interface {
	OpenBranchFiles() ([]afero.File, error)
}

// Bucket holds the dirty ranges of one file which still have to be
// copied from branch 0 to the other branches.
//
// The tree is empty exactly when the count is zero and the bucket is
// not on the LRU.
type Bucket struct {
	info  *Info
	name  string
	res   *mlock.Resource // taken in flush mode while a range is copied, may be nil
	mu    sync.Mutex
	tree  interval.Tree
	nr    atomic.Int64
	files []afero.File // open while the bucket is dirty
	elem  *list.Element
}

// String turns a Bucket into a string
func (b *Bucket) String() string {
	return b.name
}

// NR returns the number of dirty ranges in the bucket
func (b *Bucket) NR() int {
	return int(b.nr.Load())
}

// Ranges returns the dirty ranges in ascending order
func (b *Bucket) Ranges() (out []interval.Extent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tree.Walk(func(n *interval.Node) bool {
		out = append(out, n.Extent)
		return true
	})
	return out
}

// Dirty returns true if the bucket has ranges waiting
func (b *Bucket) Dirty() bool {
	return b.NR() > 0
}

// Add marks [start, end] dirty, merging it with every range it
// overlaps.  The first range added opens the branch files through o.
func (b *Bucket) Add(o Opener, start, end uint64) error {
	q := interval.Extent{Start: start, End: end}
	if !q.Valid() {
		return errors.Errorf("bad range %v", q)
	}
	b.mu.Lock()
	defer b.info.wakeup()
	defer b.mu.Unlock()

	wasEmpty := b.elem == nil
	if wasEmpty {
		files, err := o.OpenBranchFiles()
		if err != nil {
			return errors.Wrapf(err, "%s: failed to open branch files", b.name)
		}
		if len(files) < 2 {
			closeFiles(files)
			return errors.Wrapf(fs.ErrorBranchCount, "%s: %d branch files", b.name, len(files))
		}
		b.files = files
	}

	merged := q
	for _, n := range b.tree.Overlapping(q) {
		fs.Debugf(b, "%v overlaps %v", n.Extent, q)
		if n.Start < merged.Start {
			merged.Start = n.Start
		}
		if n.End > merged.End {
			merged.End = n.End
		}
		b.tree.Erase(n)
		b.dec()
	}
	b.tree.Insert(interval.NewNode(merged.Start, merged.End, nil))
	b.inc()
	fs.Debugf(b, "added %v", merged)

	b.info.mu.Lock()
	if wasEmpty {
		b.elem = b.info.lru.PushBack(b)
	} else {
		b.info.lru.MoveToBack(b.elem)
	}
	b.info.mu.Unlock()
	return nil
}

func (b *Bucket) inc() {
	b.nr.Add(1)
	b.info.total.Add(1)
	b.info.metrics.dirty(1)
}

func (b *Bucket) dec() {
	b.nr.Add(-1)
	b.info.total.Add(-1)
	b.info.metrics.dirty(-1)
}

// Cleanup copies every dirty range and releases the branch files,
// returning the number of ranges drained.  Copy errors are logged.
func (b *Bucket) Cleanup(ctx context.Context) int {
	buf, err := b.info.pool.Get(ctx)
	if err != nil {
		fs.Errorf(b, "Failed to get a bulk buffer, dropping dirty ranges: %v", err)
	} else {
		defer b.info.pool.Put(buf)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	nr := b.NR()
	b.drain(ctx, buf, nr, 0)
	if b.elem != nil {
		b.info.mu.Lock()
		b.release()
		b.info.mu.Unlock()
	}
	return nr
}

// drain copies and removes up to n ranges, lowest first.  If buf is
// nil ranges are dropped without copying.
//
// With mlock.FlagNoWait a range whose flush lock is held elsewhere
// stops the drain and is left in place, and blocked is returned true -
// call with mu held.
func (b *Bucket) drain(ctx context.Context, buf []byte, n int, flags mlock.Flags) (done int, blocked bool) {
	for done < n {
		node := b.tree.First()
		if node == nil {
			break
		}
		if buf != nil {
			err := b.syncRange(ctx, node.Extent, buf, flags)
			if errors.Cause(err) == fs.ErrorWouldBlock {
				fs.Debugf(b, "%v is locked, leaving it for later", node.Extent)
				return done, true
			}
			if err != nil {
				fs.Errorf(b, "Failed to replicate %v: %v", node.Extent, err)
				b.info.metrics.replayError()
			} else {
				b.info.metrics.drained()
			}
		}
		b.tree.Erase(node)
		b.dec()
		done++
	}
	return done, false
}

// release closes the files and takes an empty bucket off the LRU -
// call with mu and info.mu held
func (b *Bucket) release() {
	if b.elem == nil || b.NR() != 0 {
		return
	}
	closeFiles(b.files)
	b.files = nil
	b.info.lru.Remove(b.elem)
	b.elem = nil
}

func closeFiles(files []afero.File) {
	for _, f := range files {
		if f == nil {
			continue
		}
		if err := f.Close(); err != nil {
			fs.Errorf(f.Name(), "Failed to close branch file: %v", err)
		}
	}
}

// syncRange copies ext from the branch 0 file to the other branch
// files using buf.  flags are passed to the flush lock request - call
// with mu held
func (b *Bucket) syncRange(ctx context.Context, ext interval.Extent, buf []byte, flags mlock.Flags) error {
	if b.files == nil {
		return errors.New("branch files not open")
	}
	if b.res != nil {
		l, err := mlock.Enqueue(ctx, b.res, mlock.EnqueueInfo{Mode: mlock.ModeFlush, Extent: ext, Flags: flags})
		if err != nil {
			return errors.Wrap(err, "failed to lock range for flush")
		}
		defer mlock.Cancel(l)
	}
	src := b.files[0]
	pos := ext.Start
	for pos <= ext.End {
		size := uint64(len(buf))
		if left := ext.End - pos + 1; left != 0 && left < size {
			size = left
		}
		n, err := src.ReadAt(buf[:size], int64(pos))
		if n == 0 {
			if err != nil && err != io.EOF {
				return errors.Wrapf(err, "read at %d", pos)
			}
			// nothing more to copy
			break
		}
		if err != nil && err != io.EOF {
			return errors.Wrapf(err, "read at %d", pos)
		}
		for _, dst := range b.files[1:] {
			w, err := dst.WriteAt(buf[:n], int64(pos))
			if err != nil {
				return errors.Wrapf(err, "write to %s at %d", dst.Name(), pos)
			}
			if w != n {
				return errors.Wrapf(fs.ErrorShortWrite, "wrote %d/%d bytes to %s at %d", w, n, dst.Name(), pos)
			}
		}
		next := pos + uint64(n)
		if next < pos {
			break
		}
		pos = next
	}
	return nil
}

// dumpLine is the dirty dump line for the bucket
func (b *Bucket) dumpLine() string {
	return fmt.Sprintf("Bucket: %s, NR: %d\n", b.name, b.NR())
}
