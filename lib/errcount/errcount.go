// Package errcount counts the errors of a fan-out over several
// branches so one failing branch doesn't stop the others being tried.
package errcount

import (
	"sync"

	"github.com/pkg/errors"
)

// ErrCount stores the state of the error counter.
type ErrCount struct {
	mu       sync.Mutex
	firstErr error
	lastErr  error
	count    int
}

// New makes a new error counter
func New() *ErrCount {
	return new(ErrCount)
}

// Add an error to the error count.
//
// err may be nil.
//
// Thread safe.
func (ec *ErrCount) Add(err error) {
	if err == nil {
		return
	}
	ec.mu.Lock()
	if ec.count == 0 {
		ec.firstErr = err
	}
	ec.count++
	ec.lastErr = err
	ec.mu.Unlock()
}

// Count returns the number of errors added
func (ec *ErrCount) Count() int {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	return ec.count
}

// First returns the first error added or nil
func (ec *ErrCount) First() error {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	return ec.firstErr
}

// Err returns the error summary so far - may be nil
//
// txt is put in front of the last error.  errors.Cause of the result
// is the last error added.
//
// Thread safe.
func (ec *ErrCount) Err(txt string) error {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	switch ec.count {
	case 0:
		return nil
	case 1:
		return errors.Wrap(ec.lastErr, txt)
	}
	return errors.Wrapf(ec.lastErr, "%s: %d errors: last error", txt, ec.count)
}
