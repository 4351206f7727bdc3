package oplist

import (
	"sort"
	"strings"

	"github.com/ddn-lixi/mtfs/fs"
	"github.com/pkg/errors"
)

// Policy bundles the ordering, gather and flush of an operation list
type Policy struct {
	name   string
	init   func(l *List, object fs.Branches) int
	gather func(l *List)
	flush  func(l *List, object fs.Branches) error
}

// Name returns the name the policy is registered under
func (p *Policy) Name() string {
	return p.name
}

// String turns a Policy into a string
func (p *Policy) String() string {
	return p.name
}

var policies = make(map[string]*Policy)

func registerPolicy(p *Policy) *Policy {
	policies[strings.ToLower(p.name)] = p
	return p
}

// Get a Policy from the list
func Get(name string) (*Policy, error) {
	p, ok := policies[strings.ToLower(name)]
	if !ok {
		return nil, errors.Wrapf(fs.ErrorPolicyNotFound, "didn't find policy called %q", name)
	}
	return p, nil
}

// Names returns the registered policy names in order
func Names() (names []string) {
	for name := range policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// The operation list policies
var (
	Flag       = registerPolicy(&Policy{name: "flag", init: initFlag, gather: gatherOptimistic, flush: flushInvalidate})
	Sequential = registerPolicy(&Policy{name: "sequential", init: initSequential, gather: gatherOptimistic})
	FlagWritev = registerPolicy(&Policy{name: "flag_writev", init: initFlag, gather: gatherWritev, flush: flushInvalidate})
	Master     = registerPolicy(&Policy{name: "master", init: initSequential, gather: gatherMaster})
	Reverse    = registerPolicy(&Policy{name: "reverse", init: initReverse, gather: gatherReverse})
	Equal      = registerPolicy(&Policy{name: "equal", init: initSequential, gather: gatherOptimistic})
)

// initSequential visits branches in index order, all latest
func initSequential(l *List, object fs.Branches) int {
	for i := range l.infos {
		l.infos[i].Index = i
	}
	return l.bnum
}

// initReverse visits branches in reverse index order, all latest
func initReverse(l *List, object fs.Branches) int {
	for i := range l.infos {
		l.infos[i].Index = l.bnum - 1 - i
	}
	return l.bnum
}

// initFlag visits data valid branches first in index order.  Invalid
// and absent branches are packed from the tail.
func initFlag(l *List, object fs.Branches) int {
	first, last := 0, l.bnum-1
	for b := 0; b < l.bnum; b++ {
		if object.IsBranchValid(b, fs.DataValid) {
			l.infos[first].Index = b
			first++
		} else {
			l.infos[last].Index = b
			last--
		}
	}
	return first
}

// gatherMaster always picks the first position
func gatherMaster(l *List) {
	l.opinfo = &l.infos[0]
}

// gatherReverse always picks the last position
func gatherReverse(l *List) {
	l.opinfo = &l.infos[l.bnum-1]
}

// gatherOptimistic picks the first preferable record, else the first
// recorded one
func gatherOptimistic(l *List) {
	first := -1
	for i := range l.infos {
		if !l.infos[i].Valid {
			continue
		}
		if l.infos[i].Flags&Preferable != 0 {
			l.opinfo = &l.infos[i]
			return
		}
		if first < 0 {
			first = i
		}
	}
	l.opinfo = &l.infos[first]
}

// size returns the size of a record for the writev comparison
func size(info *Info) int64 {
	if info.Result.Err != nil {
		return -1
	}
	return info.Result.Size
}

// gatherWritev picks the record which moved the most bytes and
// rewrites the flags so that only records matching it count as
// successes
func gatherWritev(l *List) {
	var (
		best      int64
		bestIndex = -1
	)
	for i := range l.infos {
		info := &l.infos[i]
		if !info.Valid {
			continue
		}
		if s := size(info); best < s {
			best = s
			bestIndex = i
		}
		if info.Flags&Preferable != 0 {
			break
		}
	}

	l.latestC, l.staleC = Count{}, Count{}
	for i := range l.infos {
		info := &l.infos[i]
		if !info.Valid {
			continue
		}
		var flags Flags
		if bestIndex >= 0 && size(info) == best {
			flags = Success | Preferable
		}
		l.record(i, flags, info.Result)
	}

	if bestIndex == -1 {
		bestIndex = 0
	}
	l.opinfo = &l.infos[bestIndex]
}

// flushInvalidate degrades the branches which failed when some latest
// branches succeeded and others didn't
func flushInvalidate(l *List, object fs.Branches) error {
	if l.latestC.Success == 0 || l.latestC.Fault == 0 {
		return nil
	}
	for i := range l.infos {
		info := &l.infos[i]
		if !info.Valid || info.Flags&Success != 0 {
			continue
		}
		if !object.BranchPresent(info.Index) {
			continue
		}
		fs.Debugf(l, "invalidating branch %d", info.Index)
		if err := object.InvalidateBranch(info.Index, fs.DataValid); err != nil {
			return errors.Wrapf(err, "failed to invalidate branch %d", info.Index)
		}
	}
	return nil
}
