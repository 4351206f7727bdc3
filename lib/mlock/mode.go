package mlock

import (
	"fmt"
	"math/bits"
	"strings"

	"github.com/pkg/errors"
)

// Mode is a lock mode.  Every mode is a single bit.
type Mode uint32

// Lock modes
const (
	ModeRead  Mode = 1 << iota // shared read access
	ModeWrite                  // exclusive write access
	ModeNull                   // compatible with every mode
	ModeDirty                  // range being dirtied
	ModeClean                  // range being cleaned
	ModeCheck                  // range being checked
	ModeFlush                  // range being replicated to the other branches
)

// number of modes and so interval trees per resource
const modeCount = 7

// modeAll is every mode
const modeAll Mode = 1<<modeCount - 1

// compat[i] is the set of modes compatible with an existing lock of
// the mode with index i
var compat [modeCount]Mode

func init() {
	compat[ModeWrite.index()] = ModeNull
	compat[ModeRead.index()] = ModeNull | ModeRead
	compat[ModeNull.index()] = modeAll
	compat[ModeDirty.index()] = ModeNull | ModeDirty
	compat[ModeClean.index()] = ModeNull | ModeClean
	compat[ModeCheck.index()] = ModeNull | ModeCheck
	compat[ModeFlush.index()] = ModeNull
}

// Valid returns true if m is exactly one known mode
func (m Mode) Valid() bool {
	return m != 0 && m&(m-1) == 0 && m < 1<<modeCount
}

// index returns the position of the mode bit
func (m Mode) index() int {
	return bits.TrailingZeros32(uint32(m))
}

// Compatible returns true if a new lock of mode n can be granted
// alongside an existing lock of mode m.  The relation is symmetric.
func (m Mode) Compatible(n Mode) bool {
	return compat[m.index()]&n != 0
}

var modeNames = [modeCount]string{"read", "write", "null", "dirty", "clean", "check", "flush"}

// String turns a Mode into a string
func (m Mode) String() string {
	if !m.Valid() {
		return fmt.Sprintf("Mode(%d)", uint32(m))
	}
	return modeNames[m.index()]
}

// Set a Mode from its name
func (m *Mode) Set(s string) error {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range modeNames {
		if name == s {
			*m = 1 << uint(i)
			return nil
		}
	}
	return errors.Errorf("unknown lock mode %q", s)
}

// Type of Mode - used by pflag
func (m *Mode) Type() string {
	return "Mode"
}

// Type is the kind of resource
type Type int

// Resource types
const (
	TypeExtent Type = iota // locks cover byte ranges
	TypePlain              // locks cover the whole resource
)

// String turns a Type into a string
func (t Type) String() string {
	switch t {
	case TypeExtent:
		return "extent"
	case TypePlain:
		return "plain"
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

// State is the state of a lock
type State int

// Lock states
const (
	StateNew State = iota
	StateWaiting
	StateGranted
	StateDestroyed
)

// String turns a State into a string
func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateWaiting:
		return "waiting"
	case StateGranted:
		return "granted"
	case StateDestroyed:
		return "destroyed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Flags modify Enqueue
type Flags uint32

// Enqueue flags
const (
	// FlagNoWait makes Enqueue fail with fs.ErrorWouldBlock rather
	// than wait for a conflicting lock
	FlagNoWait Flags = 1 << iota
)
