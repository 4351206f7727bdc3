// Package serve provides the serve command.
package serve

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ddn-lixi/mtfs/cmd"
	"github.com/ddn-lixi/mtfs/fs"
	"github.com/ddn-lixi/mtfs/fs/config/configmap"
	"github.com/ddn-lixi/mtfs/fs/config/flags"
	"github.com/ddn-lixi/mtfs/fs/rc/rcserver"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// Backend options which may be given on the command line
var (
	branches           string
	subject            string
	stateDir           string
	lockReprocessAsync bool
	shutdownTimeout    = time.Minute
)

func init() {
	cmd.Root.AddCommand(Command)
	cmdFlags := Command.Flags()
	flags.StringVarP(cmdFlags, &branches, "branches", "", "", "Comma separated list of branch directories, mem: for in-memory")
	flags.StringVarP(cmdFlags, &subject, "subject", "", "sync", "Replication mode, sync or async")
	flags.StringVarP(cmdFlags, &stateDir, "state-dir", "", "", "Directory holding the branch flag databases")
	flags.BoolVarP(cmdFlags, &lockReprocessAsync, "lock-reprocess-async", "", false, "Grant waiting locks from a background goroutine")
	flags.DurationVarP(cmdFlags, &shutdownTimeout, "shutdown-timeout", "", shutdownTimeout, "Time allowed to drain and close on exit")
}

// overrides returns the backend options set on the command line
func overrides(command *cobra.Command) configmap.Simple {
	m := configmap.Simple{}
	set := func(flagName, key, value string) {
		if command.Flags().Changed(flagName) {
			m.Set(key, value)
		}
	}
	set("branches", "branches", branches)
	set("subject", "subject", subject)
	set("state-dir", "state_dir", stateDir)
	if lockReprocessAsync {
		m.Set("lock_reprocess_async", "true")
	}
	return m
}

// Command definition for cobra
var Command = &cobra.Command{
	Use:   "serve",
	Short: `Run the replicated file system and its remote control server.`,
	Long: `
Runs the replicated file system over the configured branches and
serves the remote control calls and the prometheus metrics over HTTP
on --rc-addr.

Options not given on the command line are read from the config file,
for example

    branches = /srv/branch0,/srv/branch1
    subject = async
    state_dir = /var/lib/mtfs

On SIGINT or SIGTERM the server stops, the dirty ranges of an async
file system are replicated and the branches are closed.
`,
	Run: func(command *cobra.Command, args []string) {
		cmd.CheckArgs(0, 0, command, args)
		cmd.Run(command, func() error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			opt := rcserver.DefaultOpt
			opt.ListenAddr = cmd.RcAddr
			return Serve(ctx, opt, overrides(command))
		})
	},
}

// Serve runs the file system until ctx is cancelled
func Serve(ctx context.Context, opt rcserver.Options, overrides configmap.Simple) error {
	f, err := cmd.NewFs(ctx, overrides)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	registry.MustRegister(f.Metrics().Collectors()...)

	s := rcserver.New(opt, registry)
	if err := s.Listen(); err != nil {
		_ = f.Shutdown(ctx)
		return err
	}

	g, gCtx := errgroup.WithContext(ctx)
	if err := f.Start(gCtx); err != nil {
		_ = f.Shutdown(ctx)
		return errors.Wrap(err, "failed to start async service")
	}
	g.Go(s.Serve)
	g.Go(func() error {
		<-gCtx.Done()
		fs.Logf(f, "Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := s.Shutdown(shutdownCtx)
		if ferr := f.Shutdown(shutdownCtx); err == nil {
			err = ferr
		}
		return err
	})
	err = g.Wait()
	if errors.Cause(err) == context.Canceled {
		err = nil
	}
	return err
}
