// Define the internal rc functions

package rc

import (
	"context"
	"os"
	"runtime"

	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/v3/mem"
)

func init() {
	Add(Call{
		Path:  "rc/noop",
		Fn:    rcNoop,
		Title: "Echo the input to the output parameters",
		Help: `
This echoes the input parameters to the output parameters for testing
purposes.  It can be used to check that mtfs is still alive and to
check that parameter passing is working properly.`,
	})
	Add(Call{
		Path:  "rc/error",
		Fn:    rcError,
		Title: "This returns an error",
		Help: `
This returns an error with the input as part of its error string.
Useful for testing error handling.`,
	})
	Add(Call{
		Path:  "rc/list",
		Fn:    rcList,
		Title: "List all the registered remote control commands",
		Help: `
This lists all the registered remote control commands as a JSON map in
the commands response.`,
	})
	Add(Call{
		Path:  "core/pid",
		Fn:    rcPid,
		Title: "Return PID of current process",
	})
	Add(Call{
		Path:  "core/memstats",
		Fn:    rcMemStats,
		Title: "Returns the memory statistics",
		Help: `
This returns the memory statistics of the running program along with
the host memory figures the async service uses to decide when to
drain the dirty backlog.

* HeapAlloc: This is the amount of memory mtfs is actually using
* Sys: this is the total amount of memory requested from the OS
* HostUsedPercent: percentage of host memory in use
`,
	})
}

// Echo the input to the ouput parameters
func rcNoop(ctx context.Context, in Params) (out Params, err error) {
	return in, nil
}

// Return an error regardless
func rcError(ctx context.Context, in Params) (out Params, err error) {
	return nil, errors.Errorf("arbitrary error on input %+v", in)
}

// List the registered commands
func rcList(ctx context.Context, in Params) (out Params, err error) {
	out = make(Params)
	out["commands"] = Calls.List()
	return out, nil
}

// Return PID of current process
func rcPid(ctx context.Context, in Params) (out Params, err error) {
	out = make(Params)
	out["pid"] = os.Getpid()
	return out, nil
}

// Return the memory statistics
func rcMemStats(ctx context.Context, in Params) (out Params, err error) {
	out = make(Params)
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	out["Alloc"] = m.Alloc
	out["TotalAlloc"] = m.TotalAlloc
	out["Sys"] = m.Sys
	out["HeapAlloc"] = m.HeapAlloc
	out["HeapSys"] = m.HeapSys
	out["HeapObjects"] = m.HeapObjects
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read host memory")
	}
	out["HostTotal"] = vm.Total
	out["HostAvailable"] = vm.Available
	out["HostUsedPercent"] = vm.UsedPercent
	return out, nil
}
