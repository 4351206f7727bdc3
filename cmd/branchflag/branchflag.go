// Package branchflag provides the branchflag command.
package branchflag

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/ddn-lixi/mtfs/cmd"
	"github.com/ddn-lixi/mtfs/fs"
	"github.com/ddn-lixi/mtfs/fs/rc"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func init() {
	cmd.Root.AddCommand(Command)
	Command.AddCommand(getCommand, setCommand, removeCommand)
}

// Command definition for cobra
var Command = &cobra.Command{
	Use:   "branchflag",
	Short: `Inspect and change the per branch state of an entry.`,
	Long: `
Each branch keeps flags for every entry it holds a copy of.  Bit 0x1
means the data is stale, 0x2 the attributes and 0x4 the extended
attributes.  A branch with no copy of the entry shows as "absent".

These commands talk to a running "mtfs serve" on --rc-addr.
`,
}

var getCommand = &cobra.Command{
	Use:   "get path",
	Short: `Show the flags of path on every branch.`,
	Run: func(command *cobra.Command, args []string) {
		cmd.CheckArgs(1, 1, command, args)
		cmd.Run(command, func() error {
			return get(context.Background(), os.Stdout, args[0])
		})
	},
}

var setCommand = &cobra.Command{
	Use:   "set path flag...",
	Short: `Set the flags of path, one per branch.`,
	Long: `
Set the flags of path on each branch.  Give one flag per branch in
decimal or with an 0x prefix in hex.  Flags given for absent branches
are ignored.

    mtfs branchflag set /dir/file 0 0x1
`,
	Run: func(command *cobra.Command, args []string) {
		cmd.CheckArgs(2, fs.BranchMax+1, command, args)
		cmd.Run(command, func() error {
			return set(context.Background(), args[0], args[1:])
		})
	},
}

var removeCommand = &cobra.Command{
	Use:   "remove path branch",
	Short: `Remove path from one branch only.`,
	Run: func(command *cobra.Command, args []string) {
		cmd.CheckArgs(2, 2, command, args)
		cmd.Run(command, func() error {
			return remove(context.Background(), args[0], args[1])
		})
	},
}

// formatFlag shows a branch flag
func formatFlag(flag uint32) string {
	if flag == fs.FlagAbsent {
		return "absent"
	}
	return fmt.Sprintf("0x%x", flag)
}

func get(ctx context.Context, w io.Writer, p string) error {
	out, err := cmd.CallRemote(ctx, "branch/getflag", rc.Params{"path": p})
	if err != nil {
		return err
	}
	var flags []uint32
	if err := out.GetStruct("flags", &flags); err != nil {
		return err
	}
	for i, flag := range flags {
		_, err = fmt.Fprintf(w, "%d: %s\n", i, formatFlag(flag))
		if err != nil {
			return err
		}
	}
	return nil
}

// parseFlags parses flags in decimal or hex
func parseFlags(args []string) ([]uint32, error) {
	flags := make([]uint32, 0, len(args))
	for _, arg := range args {
		flag, err := strconv.ParseUint(arg, 0, 32)
		if err != nil {
			return nil, errors.Wrapf(err, "bad flag %q", arg)
		}
		flags = append(flags, uint32(flag))
	}
	return flags, nil
}

func set(ctx context.Context, p string, args []string) error {
	flags, err := parseFlags(args)
	if err != nil {
		return err
	}
	_, err = cmd.CallRemote(ctx, "branch/setflag", rc.Params{"path": p, "flags": flags})
	return err
}

func remove(ctx context.Context, p string, branchArg string) error {
	i, err := strconv.Atoi(branchArg)
	if err != nil {
		return errors.Wrapf(err, "bad branch %q", branchArg)
	}
	parent, name := path.Split(path.Clean("/" + p))
	if name == "" {
		return errors.New("can't remove the root")
	}
	if parent != "/" {
		parent = strings.TrimSuffix(parent, "/")
	}
	_, err = cmd.CallRemote(ctx, "branch/remove", rc.Params{
		"parent": parent,
		"name":   name,
		"branch": i,
	})
	return err
}
