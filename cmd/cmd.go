// Package cmd implements the mtfs command
//
// It is in a sub package so it's internals can be re-used elsewhere
package cmd

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"runtime"
	"syscall"

	"github.com/ddn-lixi/mtfs/backend/replica"
	"github.com/ddn-lixi/mtfs/fs"
	"github.com/ddn-lixi/mtfs/fs/config/configfile"
	"github.com/ddn-lixi/mtfs/fs/config/configflags"
	"github.com/ddn-lixi/mtfs/fs/config/configmap"
	"github.com/ddn-lixi/mtfs/fs/config/flags"
	fslog "github.com/ddn-lixi/mtfs/fs/log"
	"github.com/ddn-lixi/mtfs/fs/log/logflags"
	"github.com/ddn-lixi/mtfs/fs/rc"
	"github.com/ddn-lixi/mtfs/fs/rc/rcserver"
	"github.com/ddn-lixi/mtfs/lib/exitcode"
	"github.com/ddn-lixi/mtfs/lib/rest"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// Globals
var (
	// RcAddr is where the remote control server listens and where
	// the client commands find it
	RcAddr = rcserver.DefaultOpt.ListenAddr
	version bool
	// Errors
	errorNotEnoughArguments = errors.New("not enough arguments")
	errorTooManyArguments   = errors.New("too many arguments")
)

// Root is the main mtfs command
var Root = &cobra.Command{
	Use:   "mtfs",
	Short: "Replicated file system over several branch directories.",
	Long: `
mtfs presents several branch directories as one file system.  Every
update is fanned out to all the branches, reads are served from the
first branch holding valid data, and branches which miss an update are
flagged so they can be healed later.

Use "mtfs serve" to run the file system with its remote control
server, then the other commands to inspect and manage it.
`,
	Run: func(command *cobra.Command, args []string) {
		if version {
			ShowVersion()
			resolveExitCode(nil)
		}
		_ = command.Usage()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		fs.Debugf("mtfs", "Version %q finishing with parameters %q", fs.Version, os.Args)
	},
}

func init() {
	ci := fs.GetConfig(context.Background())
	flagSet := Root.PersistentFlags()
	configflags.AddFlags(ci, flagSet)
	logflags.AddFlags(flagSet)
	flags.StringVarP(flagSet, &RcAddr, "rc-addr", "", RcAddr, "IPaddress:Port of the remote control server")
	flags.BoolVarP(Root.Flags(), &version, "version", "V", false, "Print the version number")
	cobra.OnInitialize(initConfig)
}

// ShowVersion prints the version to stdout
func ShowVersion() {
	fmt.Printf("mtfs %s\n", fs.Version)
	fmt.Printf("- os/type: %s\n", runtime.GOOS)
	fmt.Printf("- os/arch: %s\n", runtime.GOARCH)
	fmt.Printf("- go/version: %s\n", runtime.Version())
}

// initConfig is run by cobra after initialising the flags
func initConfig() {
	ci := fs.GetConfig(context.Background())

	// Finish parsing any command line flags
	if err := configflags.SetFlags(ci, Root.PersistentFlags()); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}

	// Start the logger
	if err := fslog.InitLogging(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}

	// Write the args for debug purposes
	fs.Debugf("mtfs", "Version %q starting with parameters %q", fs.Version, os.Args)
}

// NewFs makes the replicated file system from the config file with
// overrides taking precedence over it
func NewFs(ctx context.Context, overrides configmap.Simple) (*replica.Fs, error) {
	getter, err := configfile.Getter(configflags.ConfigPath)
	if err != nil {
		return nil, err
	}
	m := configmap.New()
	m.AddGetter(overrides)
	m.AddGetter(getter)
	f, err := replica.NewFs(ctx, "mtfs", m)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create file system")
	}
	return f, nil
}

// RemoteError is an error reported by the remote control server
type RemoteError struct {
	Path   string
	Status int
	Errno  syscall.Errno
	Msg    string
}

// Error turns this error into a string
func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Path, e.Msg)
}

// remoteErrorHandler decodes the error the server writes into a
// RemoteError
func remoteErrorHandler(path string) func(resp *http.Response) error {
	return func(resp *http.Response) error {
		var out rc.Params
		if err := rest.DecodeJSON(resp, &out); err != nil {
			return errors.Wrapf(err, "%s failed with HTTP status %d", path, resp.StatusCode)
		}
		rerr := &RemoteError{
			Path:   path,
			Status: resp.StatusCode,
		}
		rerr.Msg, _ = out.GetString("error")
		if errno, err := out.GetInt64("errno"); err == nil {
			rerr.Errno = syscall.Errno(errno)
		}
		return rerr
	}
}

// CallRemote calls path on the remote control server with in as the
// parameters
func CallRemote(ctx context.Context, path string, in rc.Params) (out rc.Params, err error) {
	client := rest.NewClient(http.DefaultClient).
		SetRoot("http://" + RcAddr + "/").
		SetErrorHandler(remoteErrorHandler(path))
	if in == nil {
		in = rc.Params{}
	}
	_, err = client.CallJSON(ctx, &rest.Opts{
		Method: "POST",
		Path:   path,
	}, in, &out)
	if err != nil {
		return nil, err
	}
	fs.Debugf(nil, "rc: %q: reply %+v", path, out)
	return out, nil
}

// Run the function and exit with the right code
func Run(cmd *cobra.Command, f func() error) {
	err := f()
	if err != nil {
		log.Printf("Failed to %s: %v", cmd.Name(), err)
	}
	resolveExitCode(err)
}

// CheckArgs checks there are enough arguments and prints a message if not
func CheckArgs(MinArgs, MaxArgs int, cmd *cobra.Command, args []string) {
	if len(args) < MinArgs {
		_ = cmd.Usage()
		_, _ = fmt.Fprintf(os.Stderr, "Command %s needs %d arguments minimum: you provided %d non flag arguments: %q\n", cmd.Name(), MinArgs, len(args), args)
		resolveExitCode(errorNotEnoughArguments)
	} else if len(args) > MaxArgs {
		_ = cmd.Usage()
		_, _ = fmt.Fprintf(os.Stderr, "Command %s needs %d arguments maximum: you provided %d non flag arguments: %q\n", cmd.Name(), MaxArgs, len(args), args)
		resolveExitCode(errorTooManyArguments)
	}
}

// exitCode works out the exit status for err
func exitCode(err error) int {
	if err == nil {
		return exitcode.Success
	}
	var rerr *RemoteError
	if errors.As(err, &rerr) {
		switch {
		case rerr.Status == http.StatusBadRequest || rerr.Errno == syscall.EINVAL:
			return exitcode.InvalidArgument
		case rerr.Status == http.StatusNotFound:
			return exitcode.UsageError
		case rerr.Errno == syscall.ENOENT:
			return exitcode.NotFound
		}
		return exitcode.UncategorizedError
	}
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return exitcode.Unreachable
	}
	switch errors.Cause(err) {
	case errorNotEnoughArguments, errorTooManyArguments:
		return exitcode.UsageError
	case fs.ErrorNoValidBranch:
		return exitcode.NoValidBranch
	}
	if fs.IsNotFound(err) {
		return exitcode.NotFound
	}
	return exitcode.UncategorizedError
}

func resolveExitCode(err error) {
	os.Exit(exitCode(err))
}

// Main runs mtfs interpreting flags and commands out of os.Args
func Main() {
	if err := Root.Execute(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}
