package replica

import (
	"context"
	"strings"

	"github.com/ddn-lixi/mtfs/fs"
	"github.com/ddn-lixi/mtfs/fs/rc"
	"github.com/ddn-lixi/mtfs/lib/interval"
	"github.com/ddn-lixi/mtfs/lib/mlock"
	"github.com/pkg/errors"
)

const getFsHelp = `
This takes the optional parameter fs to select the file system when
more than one is active.`

// getFs gets the Fs to use from the "fs" param, returning an error if
// it can't be found
func getFs(in rc.Params) (f *Fs, err error) {
	activeMu.Lock()
	defer activeMu.Unlock()
	var name string
	name, err = in.GetString("fs")
	if err != nil {
		if !rc.IsErrParamNotFound(err) {
			return nil, err
		}
		if len(active) == 0 {
			return nil, errors.New("no replica file system active")
		}
		if len(active) > 1 {
			return nil, errors.New("more than one replica file system active - need \"fs\" parameter")
		}
		for _, fses := range active {
			if len(fses) > 1 {
				return nil, errors.New("more than one replica file system active with this name")
			}
			return fses[0], nil
		}
	}
	fses := active[name]
	if len(fses) == 0 {
		return nil, errors.Errorf("no replica file system found with name %q", name)
	} else if len(fses) > 1 {
		return nil, errors.Errorf("more than one replica file system active with name %q", name)
	}
	delete(in, "fs") // delete the fs parameter
	return fses[0], nil
}

func init() {
	rc.Add(rc.Call{
		Path:  "branch/getflag",
		Fn:    rcGetFlag,
		Title: "Read the branch flags of an entry",
		Help: `
This takes the following parameters

- path - the entry to read the flags of
` + getFsHelp + `

It returns flags, one number per branch.  65535 means the branch has
no copy of the entry.`,
	})
	rc.Add(rc.Call{
		Path:  "branch/setflag",
		Fn:    rcSetFlag,
		Title: "Write the branch flags of an entry",
		Help: `
This takes the following parameters

- path - the entry to set the flags of
- flags - a list of flags with one number per branch
` + getFsHelp + `

Flags for branches without a copy are ignored.`,
	})
	rc.Add(rc.Call{
		Path:  "branch/remove",
		Fn:    rcRemoveBranch,
		Title: "Remove an entry from one branch",
		Help: `
This takes the following parameters

- parent - the directory holding the entry
- name - the name of the entry
- branch - the index of the branch to remove it from
` + getFsHelp,
	})
	rc.Add(rc.Call{
		Path:  "lock/enqueue",
		Fn:    rcLockEnqueue,
		Title: "Take an extent lock on an entry",
		Help: `
This takes the following parameters

- path - the entry to lock
- mode - one of read, write, null, dirty, clean, check, flush
- start - first byte locked, default 0
- end - last byte locked, default the end of file
- nowait - fail instead of waiting for a conflicting lock
` + getFsHelp + `

It returns id which is passed to lock/cancel.`,
	})
	rc.Add(rc.Call{
		Path:  "lock/cancel",
		Fn:    rcLockCancel,
		Title: "Release a lock taken with lock/enqueue",
		Help: `
This takes the following parameters

- id - the id returned by lock/enqueue
` + getFsHelp,
	})
	rc.Add(rc.Call{
		Path:  "lock/list",
		Fn:    rcLockList,
		Title: "List the locks on an entry",
		Help: `
This takes the following parameters

- path - the entry to list the locks of
` + getFsHelp + `

It returns granted and waiting, lists of locks with mode, start and
end.`,
	})
	rc.Add(rc.Call{
		Path:  "async/dirty",
		Fn:    rcDirty,
		Title: "Show the ranges waiting to be replicated",
		Help: `
This returns dump with one line per file waiting to be replicated,
total with the number of ranges and buckets with the number of files.
` + getFsHelp,
	})
	rc.Add(rc.Call{
		Path:  "async/flush",
		Fn:    rcFlush,
		Title: "Replicate ranges now",
		Help: `
This takes the following parameters

- n - the number of ranges to replicate, default all of them
` + getFsHelp + `

It returns drained with the number of ranges replicated.`,
	})
}

func rcGetFlag(ctx context.Context, in rc.Params) (out rc.Params, err error) {
	f, err := getFs(in)
	if err != nil {
		return nil, err
	}
	p, err := in.GetString("path")
	if err != nil {
		return nil, err
	}
	flags, err := f.GetFlags(p)
	if err != nil {
		return nil, err
	}
	return rc.Params{"flags": flags}, nil
}

func rcSetFlag(ctx context.Context, in rc.Params) (out rc.Params, err error) {
	f, err := getFs(in)
	if err != nil {
		return nil, err
	}
	p, err := in.GetString("path")
	if err != nil {
		return nil, err
	}
	var flags []uint32
	err = in.GetStruct("flags", &flags)
	if err != nil {
		return nil, err
	}
	return nil, f.SetFlags(p, flags)
}

func rcRemoveBranch(ctx context.Context, in rc.Params) (out rc.Params, err error) {
	f, err := getFs(in)
	if err != nil {
		return nil, err
	}
	parent, err := in.GetString("parent")
	if err != nil {
		return nil, err
	}
	name, err := in.GetString("name")
	if err != nil {
		return nil, err
	}
	i, err := in.GetInt64("branch")
	if err != nil {
		return nil, err
	}
	return nil, f.RemoveBranch(ctx, parent, name, int(i))
}

func rcLockEnqueue(ctx context.Context, in rc.Params) (out rc.Params, err error) {
	f, err := getFs(in)
	if err != nil {
		return nil, err
	}
	p, err := in.GetString("path")
	if err != nil {
		return nil, err
	}
	modeString, err := in.GetString("mode")
	if err != nil {
		return nil, err
	}
	var info mlock.EnqueueInfo
	if err = info.Mode.Set(modeString); err != nil {
		return nil, rc.NewErrParamInvalid(err)
	}
	info.Extent = interval.Extent{Start: 0, End: interval.EOF}
	info.Extent.Start, err = in.GetUint64("start")
	if rc.NotErrParamNotFound(err) {
		return nil, err
	}
	info.Extent.End, err = in.GetUint64("end")
	if rc.IsErrParamNotFound(err) {
		info.Extent.End = interval.EOF
	} else if err != nil {
		return nil, err
	}
	nowait, err := in.GetBool("nowait")
	if rc.NotErrParamNotFound(err) {
		return nil, err
	}
	if nowait {
		info.Flags |= mlock.FlagNoWait
	}
	id, err := f.LockEnqueue(ctx, p, info)
	if err != nil {
		return nil, err
	}
	return rc.Params{"id": id}, nil
}

func rcLockCancel(ctx context.Context, in rc.Params) (out rc.Params, err error) {
	f, err := getFs(in)
	if err != nil {
		return nil, err
	}
	id, err := in.GetString("id")
	if err != nil {
		return nil, err
	}
	return nil, f.LockCancel(id)
}

// lockItems turns locks into control call output
func lockItems(locks []*mlock.Lock) []rc.Params {
	items := []rc.Params{}
	for _, l := range locks {
		ext := l.Extent()
		items = append(items, rc.Params{
			"mode":  l.Mode().String(),
			"start": ext.Start,
			"end":   ext.End,
		})
	}
	return items
}

func rcLockList(ctx context.Context, in rc.Params) (out rc.Params, err error) {
	f, err := getFs(in)
	if err != nil {
		return nil, err
	}
	p, err := in.GetString("path")
	if err != nil {
		return nil, err
	}
	res := f.object(p).Resource()
	return rc.Params{
		"granted": lockItems(res.Granted()),
		"waiting": lockItems(res.Waiting()),
	}, nil
}

func rcDirty(ctx context.Context, in rc.Params) (out rc.Params, err error) {
	f, err := getFs(in)
	if err != nil {
		return nil, err
	}
	var dump strings.Builder
	if err := f.async.Dump(&dump); err != nil {
		return nil, err
	}
	return rc.Params{
		"dump":    dump.String(),
		"total":   f.async.Total(),
		"buckets": f.async.Buckets(),
	}, nil
}

func rcFlush(ctx context.Context, in rc.Params) (out rc.Params, err error) {
	f, err := getFs(in)
	if err != nil {
		return nil, err
	}
	n, err := in.GetInt64("n")
	var drained int
	if rc.IsErrParamNotFound(err) {
		drained = f.async.Drain(ctx)
	} else if err != nil {
		return nil, err
	} else if n < 0 {
		return nil, rc.NewErrParamInvalid(errors.Errorf("n must not be negative, was %d", n))
	} else {
		drained = f.async.Cancel(ctx, int(n))
	}
	fs.Debugf(f, "Flushed %d dirty ranges", drained)
	return rc.Params{"drained": drained}, nil
}
