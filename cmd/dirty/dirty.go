// Package dirty provides the dirty command.
package dirty

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/ddn-lixi/mtfs/cmd"
	"github.com/ddn-lixi/mtfs/fs/config/flags"
	"github.com/ddn-lixi/mtfs/fs/rc"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var (
	flush    = -1
	flushAll = false
)

func init() {
	cmd.Root.AddCommand(Command)
	cmdFlags := Command.Flags()
	flags.IntVarP(cmdFlags, &flush, "flush", "", flush, "Replicate this many dirty ranges before showing the backlog")
	flags.BoolVarP(cmdFlags, &flushAll, "flush-all", "", flushAll, "Replicate the whole backlog before showing it")
}

// Command definition for cobra
var Command = &cobra.Command{
	Use:   "dirty",
	Short: `Show the ranges waiting to be replicated.`,
	Long: `
Shows one line per file of an async file system which has data not yet
copied to every branch, followed by the totals.

    Bucket: /dir/file, NR: 2
    total: 2 ranges in 1 files

With --flush N the oldest N ranges are replicated first, with
--flush-all the whole backlog is.

This talks to a running "mtfs serve" on --rc-addr.
`,
	Run: func(command *cobra.Command, args []string) {
		cmd.CheckArgs(0, 0, command, args)
		cmd.Run(command, func() error {
			return dirty(context.Background(), os.Stdout, flush, flushAll)
		})
	},
}

func dirty(ctx context.Context, w io.Writer, n int, all bool) error {
	if all || n >= 0 {
		in := rc.Params{}
		if !all {
			in["n"] = n
		}
		out, err := cmd.CallRemote(ctx, "async/flush", in)
		if err != nil {
			return err
		}
		drained, err := out.GetInt64("drained")
		if err != nil {
			return errors.Wrap(err, "bad reply")
		}
		_, err = fmt.Fprintf(w, "flushed: %d ranges\n", drained)
		if err != nil {
			return err
		}
	}
	out, err := cmd.CallRemote(ctx, "async/dirty", nil)
	if err != nil {
		return err
	}
	dump, err := out.GetString("dump")
	if err != nil {
		return errors.Wrap(err, "bad reply")
	}
	total, err := out.GetInt64("total")
	if err != nil {
		return errors.Wrap(err, "bad reply")
	}
	buckets, err := out.GetInt64("buckets")
	if err != nil {
		return errors.Wrap(err, "bad reply")
	}
	_, err = fmt.Fprintf(w, "%stotal: %d ranges in %d files\n", dump, total, buckets)
	return err
}
