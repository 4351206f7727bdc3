package fs

import "fmt"

// ValidClass selects which part of a branch's copy must be intact
// for IsBranchValid to report it valid.
type ValidClass uint32

// Validity classes
const (
	BranchValid ValidClass = 1 << iota // the branch copy exists
	DataValid                          // file data is up to date
	AttrValid                          // attributes are up to date
	XattrValid                         // extended attributes are up to date
)

// String turns a ValidClass into a string
func (c ValidClass) String() string {
	switch c {
	case BranchValid:
		return "branch"
	case DataValid:
		return "data"
	case AttrValid:
		return "attr"
	case XattrValid:
		return "xattr"
	}
	return fmt.Sprintf("ValidClass(%d)", uint32(c))
}

// Per branch state flags stored alongside each branch copy
const (
	FlagDataBad  uint32 = 0x0001
	FlagAttrBad  uint32 = 0x0002
	FlagXattrBad uint32 = 0x0004

	// FlagMask is every bit a branch flag may have set
	FlagMask = FlagDataBad | FlagAttrBad | FlagXattrBad

	// FlagAbsent is reported for a branch with no copy of the object
	FlagAbsent uint32 = 0xffff
)

// FlagIsValid returns true if flag only contains known bits
func FlagIsValid(flag uint32) bool {
	return flag&^FlagMask == 0
}

// ClassFlag returns the bad flag corresponding to a validity class
func ClassFlag(class ValidClass) uint32 {
	var flag uint32
	if class&DataValid != 0 {
		flag |= FlagDataBad
	}
	if class&AttrValid != 0 {
		flag |= FlagAttrBad
	}
	if class&XattrValid != 0 {
		flag |= FlagXattrBad
	}
	return flag
}

// FlagSatisfies returns true if a branch with the given flags is valid
// for class
func FlagSatisfies(flag uint32, class ValidClass) bool {
	return flag&ClassFlag(class) == 0
}

// Branches is the accessor contract the core uses to see the
// branches of one logical object.
type Branches interface {
	// BranchCount returns the number of branches of the object
	BranchCount() int
	// BranchPresent returns false if branch i has no copy of the object
	BranchPresent(i int) bool
	// IsBranchValid returns true if branch i is present and valid for class
	IsBranchValid(i int, class ValidClass) bool
	// InvalidateBranch marks branch i as not valid for class
	InvalidateBranch(i int, class ValidClass) error
}
