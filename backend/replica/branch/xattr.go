package branch

import (
	"path/filepath"

	"github.com/ddn-lixi/mtfs/fs"
	"github.com/pkg/errors"
	"github.com/pkg/xattr"
	"golang.org/x/sys/unix"
)

// osPath returns the OS path of p or an error for in-memory branches
func (b *Branch) osPath(p string) (string, error) {
	if b.root == "" {
		return "", fs.ErrorNotSupported
	}
	return filepath.Join(b.root, filepath.Clean("/"+filepath.FromSlash(p))), nil
}

// xattrError translates the errors from the xattr calls
func xattrError(err error) error {
	if err == nil {
		return nil
	}
	var xerr *xattr.Error
	if errors.As(err, &xerr) {
		switch xerr.Err {
		case unix.ENODATA:
			return fs.ErrorXattrNotFound
		case unix.ENOTSUP:
			return fs.ErrorNotSupported
		}
	}
	return err
}

// GetXattr returns the value of extended attribute name of p
func (b *Branch) GetXattr(p, name string) ([]byte, error) {
	osPath, err := b.osPath(p)
	if err != nil {
		return nil, err
	}
	value, err := xattr.LGet(osPath, name)
	return value, xattrError(err)
}

// SetXattr sets extended attribute name of p to value
func (b *Branch) SetXattr(p, name string, value []byte) error {
	osPath, err := b.osPath(p)
	if err != nil {
		return err
	}
	return xattrError(xattr.LSet(osPath, name, value))
}

// ListXattr lists the extended attributes of p
func (b *Branch) ListXattr(p string) ([]string, error) {
	osPath, err := b.osPath(p)
	if err != nil {
		return nil, err
	}
	names, err := xattr.LList(osPath)
	return names, xattrError(err)
}

// RemoveXattr removes extended attribute name of p
func (b *Branch) RemoveXattr(p, name string) error {
	osPath, err := b.osPath(p)
	if err != nil {
		return err
	}
	return xattrError(xattr.LRemove(osPath, name))
}
