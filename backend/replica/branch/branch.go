// Package branch implements one physical branch of the replica file
// system: a file system holding a full copy of the tree plus the
// per entry flags recording which parts of the copy are stale.
package branch

import (
	"context"
	"fmt"
	"hash/fnv"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/ddn-lixi/mtfs/fs"
	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// MemPrefix selects an in-memory branch
const MemPrefix = "mem:"

// Options for opening a branch
type Options struct {
	StateDir    string        // where flag databases live, "" to keep flags in memory
	CacheExpire time.Duration // how long flags are cached
}

// Branch is one physical branch
type Branch struct {
	index int
	name  string
	root  string // OS directory the branch is rooted at, "" for in-memory
	fs    afero.Fs

	flagMu sync.Mutex // serializes flag updates
	flags  FlagStore
}

// New opens branch index described by spec.  spec is either a
// directory or MemPrefix followed by an optional label.
func New(ctx context.Context, index int, spec string, opt Options) (*Branch, error) {
	b := &Branch{
		index: index,
	}
	if strings.HasPrefix(spec, MemPrefix) || spec == "mem" {
		b.name = spec
		b.fs = afero.NewMemMapFs()
	} else {
		root, err := homedir.Expand(spec)
		if err != nil {
			return nil, errors.Wrapf(err, "branch %d: bad path %q", index, spec)
		}
		root, err = filepath.Abs(root)
		if err != nil {
			return nil, errors.Wrapf(err, "branch %d: bad path %q", index, spec)
		}
		fi, err := os.Stat(root)
		if err != nil {
			return nil, errors.Wrapf(err, "branch %d", index)
		}
		if !fi.IsDir() {
			return nil, errors.Errorf("branch %d: %q is not a directory", index, root)
		}
		b.name = root
		b.root = root
		b.fs = afero.NewBasePathFs(afero.NewOsFs(), root)
	}

	var store FlagStore
	if opt.StateDir == "" || b.root == "" {
		store = newMemFlags()
	} else {
		stateDir, err := homedir.Expand(opt.StateDir)
		if err != nil {
			return nil, errors.Wrapf(err, "bad state directory %q", opt.StateDir)
		}
		store, err = newKVFlags(ctx, fmt.Sprintf("branch%d", index), stateDir)
		if err != nil {
			return nil, errors.Wrapf(err, "branch %d: failed to open flag store", index)
		}
	}
	if opt.CacheExpire > 0 {
		store = newCachedFlags(store, opt.CacheExpire)
	}
	b.flags = store
	fs.Debugf(b, "opened branch")
	return b, nil
}

// NewFromFs makes branch index on top of fsys with its flags kept in
// memory
func NewFromFs(index int, name string, fsys afero.Fs) *Branch {
	return &Branch{
		index: index,
		name:  name,
		fs:    fsys,
		flags: newMemFlags(),
	}
}

// String turns a Branch into a string
func (b *Branch) String() string {
	return fmt.Sprintf("branch %d (%s)", b.index, b.name)
}

// Index returns the index of the branch
func (b *Branch) Index() int {
	return b.index
}

// Fs returns the file system of the branch
func (b *Branch) Fs() afero.Fs {
	return b.fs
}

// Root returns the OS directory of the branch or "" for in-memory
// branches
func (b *Branch) Root() string {
	return b.root
}

// Close releases the flag store
func (b *Branch) Close() error {
	return b.flags.Close()
}

// Lstat returns the FileInfo for p without following a final symlink
// where the branch can do that
func (b *Branch) Lstat(p string) (os.FileInfo, error) {
	if l, ok := b.fs.(afero.Lstater); ok {
		fi, _, err := l.LstatIfPossible(p)
		return fi, err
	}
	return b.fs.Stat(p)
}

// Exists returns true if p is present on the branch
func (b *Branch) Exists(p string) (bool, error) {
	_, err := b.Lstat(p)
	if err == nil {
		return true, nil
	}
	if fs.IsNotFound(err) {
		return false, nil
	}
	return false, err
}

// Symlink makes newname a symlink to oldname.  The target is stored
// as given.
func (b *Branch) Symlink(oldname, newname string) error {
	if b.root != "" {
		osPath, err := b.osPath(newname)
		if err != nil {
			return err
		}
		return os.Symlink(oldname, osPath)
	}
	l, ok := b.fs.(afero.Linker)
	if !ok {
		return fs.ErrorNotSupported
	}
	return l.SymlinkIfPossible(oldname, newname)
}

// Readlink returns the target of symlink p
func (b *Branch) Readlink(p string) (string, error) {
	if b.root != "" {
		osPath, err := b.osPath(p)
		if err != nil {
			return "", err
		}
		return os.Readlink(osPath)
	}
	l, ok := b.fs.(afero.LinkReader)
	if !ok {
		return "", fs.ErrorNotSupported
	}
	return l.ReadlinkIfPossible(p)
}

// Ino returns an inode number for fi.  Branches which don't have
// inode numbers get a stable number derived from the path.
func (b *Branch) Ino(p string, fi os.FileInfo) uint64 {
	if st, ok := fi.Sys().(*syscall.Stat_t); ok {
		return st.Ino
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(path.Clean(p)))
	return h.Sum64()
}

// Flag returns the flags of entry p
func (b *Branch) Flag(p string) (uint32, error) {
	return b.flags.Get(path.Clean(p))
}

// SetFlag sets the flags of entry p
func (b *Branch) SetFlag(p string, flag uint32) error {
	if !fs.FlagIsValid(flag) {
		return errors.Wrapf(fs.ErrorInvalidFlag, "flag 0x%x", flag)
	}
	b.flagMu.Lock()
	defer b.flagMu.Unlock()
	return b.flags.Set(path.Clean(p), flag)
}

// AddFlag sets the bits of flag on entry p
func (b *Branch) AddFlag(p string, flag uint32) error {
	if !fs.FlagIsValid(flag) {
		return errors.Wrapf(fs.ErrorInvalidFlag, "flag 0x%x", flag)
	}
	p = path.Clean(p)
	b.flagMu.Lock()
	defer b.flagMu.Unlock()
	old, err := b.flags.Get(p)
	if err != nil {
		return err
	}
	if old|flag == old {
		return nil
	}
	return b.flags.Set(p, old|flag)
}

// ClearFlag forgets the flags of entry p
func (b *Branch) ClearFlag(p string) error {
	b.flagMu.Lock()
	defer b.flagMu.Unlock()
	return b.flags.Delete(path.Clean(p))
}

// RenameFlag moves the flags of entry oldpath to newpath
func (b *Branch) RenameFlag(oldpath, newpath string) error {
	oldpath, newpath = path.Clean(oldpath), path.Clean(newpath)
	b.flagMu.Lock()
	defer b.flagMu.Unlock()
	flag, err := b.flags.Get(oldpath)
	if err != nil {
		return err
	}
	if err := b.flags.Delete(oldpath); err != nil {
		return err
	}
	if flag == 0 {
		return b.flags.Delete(newpath)
	}
	return b.flags.Set(newpath, flag)
}
