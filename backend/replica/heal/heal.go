// Package heal moves entries which disagree with the latest branches
// out of the way so the next lookup sees a consistent tree.
//
// A discarded entry is renamed into the recover area of its branch,
// RecoverDir, keeping the path it had so it can be found and
// inspected by hand later.
package heal

import (
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/ddn-lixi/mtfs/backend/replica/branch"
	"github.com/ddn-lixi/mtfs/backend/replica/oplist"
	"github.com/ddn-lixi/mtfs/fs"
	"github.com/ddn-lixi/mtfs/lib/errcount"
	"github.com/pkg/errors"
)

// Layout of the reserved directory on every branch
const (
	ReserveDir = "/.mtfs"
	RecoverDir = ReserveDir + "/RECOVER"
)

// Healer is the tree being repaired
type Healer interface {
	// Branch returns branch i
	Branch(i int) *branch.Branch
	// Relookup resolves p on branch i again after it was moved
	Relookup(i int, p string) error
}

// clean returns p rooted and cleaned
func clean(p string) string {
	return path.Clean("/" + p)
}

// UnderRecover returns true if p is inside the recover area
func UnderRecover(p string) bool {
	p = clean(p)
	return p == RecoverDir || strings.HasPrefix(p, RecoverDir+"/")
}

// Reserved returns true if p is the reserved directory or inside it
func Reserved(p string) bool {
	p = clean(p)
	return p == ReserveDir || strings.HasPrefix(p, ReserveDir+"/")
}

// DiscardDentry moves name in parent aside on every non latest branch
// where the operation in l succeeded.
//
// Every branch is tried.  The first error is returned.
func DiscardDentry(h Healer, parent, name string, l *oplist.List) error {
	p := path.Join(clean(parent), name)
	ec := errcount.New()
	for i := l.Latest(); i < l.Len(); i++ {
		info := l.Info(i)
		if !info.Valid || info.Flags&oplist.Success == 0 {
			continue
		}
		err := CleanupBranch(h, info.Index, p)
		if err != nil {
			fs.Errorf(h.Branch(info.Index), "Failed to clean up %q: %v", p, err)
		}
		ec.Add(err)
	}
	if n := ec.Count(); n > 0 {
		fs.Debugf(p, "Discard failed on %d branches", n)
	}
	return ec.First()
}

// CleanupBranch backs up p on branch i if it is there then looks it up
// again.
func CleanupBranch(h Healer, i int, p string) error {
	b := h.Branch(i)
	exists, err := b.Exists(p)
	if err != nil {
		return err
	}
	if exists {
		if err := BackupBranch(b, p); err != nil {
			return errors.Wrapf(err, "failed to back up %s", b)
		}
	}
	if err := h.Relookup(i, p); err != nil {
		return errors.Wrapf(err, "failed to look up %s", b)
	}
	return nil
}

// BackupBranch renames p on b to the same path under RecoverDir,
// making the parent directories as needed.  An entry already under
// RecoverDir is left alone.
func BackupBranch(b *branch.Branch, p string) error {
	p = clean(p)
	if p == "/" {
		return errors.New("can't back up the root")
	}
	if UnderRecover(p) {
		fs.Errorf(b, "%q is already under the recover directory, skipping", p)
		return nil
	}
	if _, err := b.Lstat(p); err != nil {
		return err
	}
	dir, name := path.Split(p)
	newParent, err := mkpath(b, strings.Split(strings.Trim(dir, "/"), "/"))
	if err != nil {
		return err
	}
	// make way for the entry
	if err := addIno(b, newParent, name); err != nil {
		return err
	}
	target := path.Join(newParent, name)
	if exists, err := b.Exists(target); err != nil {
		return err
	} else if exists {
		return errors.Wrapf(os.ErrExist, "%q", target)
	}
	fs.Debugf(b, "Renaming %q to %q", p, target)
	if err := b.Fs().Rename(p, target); err != nil {
		return errors.Wrapf(err, "failed to rename %q to %q", p, target)
	}
	if err := b.RenameFlag(p, target); err != nil {
		fs.Errorf(b, "Failed to move flags of %q: %v", p, err)
	}
	return nil
}

// mkpath makes the directories of elems under RecoverDir returning the
// deepest
func mkpath(b *branch.Branch, elems []string) (string, error) {
	if err := b.Fs().MkdirAll(RecoverDir, 0700); err != nil {
		return "", errors.Wrap(err, "failed to make recover directory")
	}
	parent := RecoverDir
	for _, elem := range elems {
		if elem == "" {
			continue
		}
		child, err := mkdirChild(b, parent, elem, true)
		if err != nil {
			return "", errors.Wrapf(err, "failed to make %q", path.Join(parent, elem))
		}
		parent = child
	}
	return parent, nil
}

// errRetry means an entry in the way was renamed and the mkdir should
// be tried again
var errRetry = errors.New("entry moved, retry")

func mkdirChild(b *branch.Branch, parent, name string, rename bool) (string, error) {
	child := path.Join(parent, name)
	err := mkdirOnce(b, parent, name, rename)
	if err == errRetry {
		err = mkdirOnce(b, parent, name, false)
	}
	if err != nil {
		return "", err
	}
	return child, nil
}

func mkdirOnce(b *branch.Branch, parent, name string, rename bool) error {
	child := path.Join(parent, name)
	fi, err := b.Lstat(child)
	if err == nil {
		if fi.IsDir() {
			if fi.Mode().Perm() != 0700 {
				fs.Debugf(b, "Permissions of %q are %v, should be %v", child, fi.Mode().Perm(), os.FileMode(0700))
			}
			return nil
		}
		fs.Debugf(b, "%q exists and is %v not a directory", child, fi.Mode().Type())
		if !rename {
			return errors.Wrapf(os.ErrExist, "%q", child)
		}
		if err := addIno(b, parent, name); err != nil {
			return err
		}
		return errRetry
	}
	if !fs.IsNotFound(err) {
		return err
	}
	return b.Fs().Mkdir(child, 0700)
}

// addIno renames name in parent to name:<ino> if it exists
func addIno(b *branch.Branch, parent, name string) error {
	old := path.Join(parent, name)
	fi, err := b.Lstat(old)
	if fs.IsNotFound(err) {
		return nil
	} else if err != nil {
		return err
	}
	newName := path.Join(parent, fmt.Sprintf("%s:%x", name, b.Ino(old, fi)))
	if exists, err := b.Exists(newName); err != nil {
		return err
	} else if exists {
		return errors.Wrapf(os.ErrExist, "%q", newName)
	}
	fs.Debugf(b, "Renaming %q to %q", old, newName)
	if err := b.Fs().Rename(old, newName); err != nil {
		return errors.Wrapf(err, "failed to rename %q to %q", old, newName)
	}
	return nil
}
