// Errors and error handling

package fs

import (
	"os"
	"syscall"

	"github.com/pkg/errors"
)

// Globals
var (
	ErrorBranchAbsent    = errors.New("branch is absent")
	ErrorNoValidBranch   = errors.New("no valid branch")
	ErrorWouldBlock      = errors.New("lock would block")
	ErrorInvalidLock     = errors.New("invalid lock request")
	ErrorShortWrite      = errors.New("short write")
	ErrorBranchCount     = errors.New("bad number of branches")
	ErrorBranchMismatch  = errors.New("branch count doesn't match")
	ErrorObjectNotFound  = errors.New("object not found")
	ErrorIsDir           = errors.New("is a directory")
	ErrorNotSupported    = errors.New("operation not supported by branch")
	ErrorXattrNotFound   = errors.New("extended attribute not found")
	ErrorInvalidFlag     = errors.New("invalid branch flag")
	ErrorUnderRecover    = errors.New("entry is already under the recover directory")
	ErrorLockNotFound    = errors.New("lock not found")
	ErrorPolicyNotFound  = errors.New("policy not found")
	ErrorNotEnoughMemory = errors.New("not enough memory")
)

// errnoMap translates error sentinels to the errno a caller on the
// other side of a control call expects
var errnoMap = []struct {
	err   error
	errno syscall.Errno
}{
	{ErrorBranchAbsent, syscall.ENOENT},
	{ErrorObjectNotFound, syscall.ENOENT},
	{ErrorNoValidBranch, syscall.EIO},
	{ErrorShortWrite, syscall.EIO},
	{ErrorWouldBlock, syscall.EWOULDBLOCK},
	{ErrorInvalidLock, syscall.EINVAL},
	{ErrorBranchCount, syscall.EINVAL},
	{ErrorBranchMismatch, syscall.EINVAL},
	{ErrorInvalidFlag, syscall.EPERM},
	{ErrorIsDir, syscall.EISDIR},
	{ErrorNotSupported, syscall.ENOTSUP},
	{ErrorXattrNotFound, syscall.ENODATA},
	{ErrorUnderRecover, syscall.EINVAL},
	{ErrorLockNotFound, syscall.ENOENT},
	{ErrorPolicyNotFound, syscall.EINVAL},
	{ErrorNotEnoughMemory, syscall.ENOMEM},
}

// Errno returns the errno best describing err, 0 for nil and EIO for
// anything unrecognised.
func Errno(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	cause := errors.Cause(err)
	for _, e := range errnoMap {
		if cause == e.err {
			return e.errno
		}
	}
	if errno, ok := cause.(syscall.Errno); ok {
		return errno
	}
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		if errno, ok := pathErr.Err.(syscall.Errno); ok {
			return errno
		}
	}
	var linkErr *os.LinkError
	if errors.As(err, &linkErr) {
		if errno, ok := linkErr.Err.(syscall.Errno); ok {
			return errno
		}
	}
	switch {
	case os.IsNotExist(cause):
		return syscall.ENOENT
	case os.IsExist(cause):
		return syscall.EEXIST
	case os.IsPermission(cause):
		return syscall.EACCES
	}
	return syscall.EIO
}

// IsNotFound returns true if err means the entry doesn't exist
func IsNotFound(err error) bool {
	return Errno(err) == syscall.ENOENT
}
