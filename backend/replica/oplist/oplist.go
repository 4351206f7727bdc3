// Package oplist records the per branch outcomes of one fan-out
// operation and reconciles them into a single result.
//
// A List is built from a Policy which decides the order the branches
// are visited in and how many of them are latest, which record
// becomes the result (gather) and what happens to branches which
// disagree with the result (flush).
package oplist

import (
	"fmt"

	"github.com/ddn-lixi/mtfs/fs"
	"github.com/pkg/errors"
)

// Flags describe the outcome on one branch
type Flags uint32

// Outcome flags
const (
	Success    Flags = 1 << iota // the operation succeeded on the branch
	Preferable                   // the record is a good candidate for the result
)

// Result is what an operation returned on one branch
type Result struct {
	Err   error
	Size  int64       // bytes moved for data operations
	Value interface{} // operation specific return value
}

// Info is the record for one position in the list
type Info struct {
	Index  int  // branch index
	Valid  bool // set once the branch has been visited
	Flags  Flags
	Result Result
}

// Count holds the valid, success and fault counters of one half of
// the list
type Count struct {
	Valid   int
	Success int
	Fault   int
}

// List is the operation list of one fan-out operation
type List struct {
	policy   *Policy
	bnum     int
	latest   int
	infos    []Info
	latestC  Count
	staleC   Count
	opinfo   *Info
	gathered bool
}

// New makes a List for object ordered by policy
func New(object fs.Branches, policy *Policy) (*List, error) {
	bnum := object.BranchCount()
	if bnum < 1 || bnum > fs.BranchMax {
		return nil, errors.Wrapf(fs.ErrorBranchCount, "%d branches", bnum)
	}
	l := &List{
		policy: policy,
		bnum:   bnum,
		infos:  make([]Info, bnum),
	}
	l.latest = policy.init(l, object)
	return l, nil
}

// String turns a List into a string
func (l *List) String() string {
	return fmt.Sprintf("oplist(%s)", l.policy.name)
}

// Len returns the number of positions in the list
func (l *List) Len() int {
	return l.bnum
}

// Latest returns the number of latest positions.  Positions below
// Latest() are latest.
func (l *List) Latest() int {
	return l.latest
}

// Branch returns the branch index visited at position i
func (l *List) Branch(i int) int {
	return l.infos[i].Index
}

// Info returns a copy of the record at position i
func (l *List) Info(i int) Info {
	return l.infos[i]
}

// Counts returns the counters for the latest and the non latest
// positions
func (l *List) Counts() (latest, nonlatest Count) {
	return l.latestC, l.staleC
}

// Valid returns the number of recorded positions
func (l *List) Valid() int {
	return l.latestC.Valid + l.staleC.Valid
}

// Success returns the number of positions which succeeded
func (l *List) Success() int {
	return l.latestC.Success + l.staleC.Success
}

// Fault returns the number of positions which failed
func (l *List) Fault() int {
	return l.latestC.Fault + l.staleC.Fault
}

// SuccessLatest returns the number of latest positions which succeeded
func (l *List) SuccessLatest() int {
	return l.latestC.Success
}

// SuccessNonlatest returns the number of non latest positions which
// succeeded
func (l *List) SuccessNonlatest() int {
	return l.staleC.Success
}

// SetBranch records the outcome at position i.  Recording the same
// position twice panics.
func (l *List) SetBranch(i int, flags Flags, result Result) {
	if l.infos[i].Valid {
		panic(fmt.Sprintf("oplist: position %d (branch %d) set twice", i, l.infos[i].Index))
	}
	l.record(i, flags, result)
}

// record stores the outcome at position i and updates the counters
func (l *List) record(i int, flags Flags, result Result) {
	info := &l.infos[i]
	info.Valid = true
	info.Flags = flags
	info.Result = result

	c := &l.staleC
	if i < l.latest {
		c = &l.latestC
	}
	c.Valid++
	if flags&Success != 0 {
		c.Success++
	} else {
		c.Fault++
	}
}

// Abort returns true if the operation should stop after position i
// because every latest branch has failed
func (l *List) Abort(i int, noAbort bool) bool {
	return !noAbort && i == l.latest-1 && l.latestC.Success == 0
}

// Gather chooses the record which becomes the result of the
// operation.  Gathering an empty list panics.
func (l *List) Gather() {
	if l.Valid() == 0 {
		panic("oplist: gather with no valid branch")
	}
	l.policy.gather(l)
	l.gathered = true
}

// Selected returns the record chosen by Gather
func (l *List) Selected() Info {
	if !l.gathered {
		panic("oplist: result read before gather")
	}
	return *l.opinfo
}

// Result returns the result chosen by Gather
func (l *List) Result() Result {
	return l.Selected().Result
}

// Flush pushes the outcome back onto object, invalidating the
// branches which disagree with the result when the policy asks for it
func (l *List) Flush(object fs.Branches) error {
	if l.policy.flush == nil {
		return nil
	}
	return l.policy.flush(l, object)
}
