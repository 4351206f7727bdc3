// Package configflags defines the flags used by mtfs.  It is
// decoupled into a separate package so it can be replaced.
package configflags

// Options set by command line flags
import (
	"path/filepath"

	"github.com/ddn-lixi/mtfs/fs"
	"github.com/ddn-lixi/mtfs/fs/config/flags"
	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
)

var (
	// these will get interpreted into fs.ConfigInfo by SetFlags() below
	verbose int
	quiet   bool

	// ConfigPath is the config file given with --config
	ConfigPath = "~/.mtfs.conf"
)

// AddFlags adds the non filing system specific flags to the command
func AddFlags(ci *fs.ConfigInfo, flagSet *pflag.FlagSet) {
	// NB defaults which aren't the zero for the type should be set in fs/config.go NewConfig
	flags.CountVarP(flagSet, &verbose, "verbose", "v", "Print lots more stuff (repeat for more)")
	flags.BoolVarP(flagSet, &quiet, "quiet", "q", false, "Print as little stuff as possible")
	flags.StringVarP(flagSet, &ConfigPath, "config", "", ConfigPath, "Config file")
	flags.FVarP(flagSet, &ci.LogLevel, "log-level", "", "Log level DEBUG|INFO|NOTICE|ERROR")
	flags.BoolVarP(flagSet, &ci.UseJSONLog, "use-json-log", "", ci.UseJSONLog, "Use json log format")
	flags.BoolVarP(flagSet, &ci.NoAbort, "no-abort", "", ci.NoAbort, "Carry on with stale branches when every latest branch failed")
	flags.FVarP(flagSet, &ci.BulkSize, "bulk-size", "", "Size of the buffer used to replicate dirty ranges")
	flags.IntVarP(flagSet, &ci.BufferPoolSize, "buffer-pool-size", "", ci.BufferPoolSize, "Number of replication buffers to keep")
	flags.IntVarP(flagSet, &ci.AsyncThreads, "async-threads", "", ci.AsyncThreads, "Number of background replication threads")
	flags.IntVarP(flagSet, &ci.AsyncBatch, "async-batch", "", ci.AsyncBatch, "Max dirty ranges replicated per wake up, 0 for all of them")
	flags.Float64VarP(flagSet, &ci.AsyncMemoryPressure, "async-memory-pressure", "", ci.AsyncMemoryPressure, "Replicate everything when host memory use is above this percentage")
	flags.DurationVarP(flagSet, &ci.AsyncInterval, "async-interval", "", ci.AsyncInterval, "How often to recheck a non empty dirty backlog")
	flags.DurationVarP(flagSet, &ci.FlagCacheExpire, "flag-cache-expire", "", ci.FlagCacheExpire, "How long to cache branch flags")
}

// SetFlags converts any flags into config which weren't straight forward
func SetFlags(ci *fs.ConfigInfo, flagSet *pflag.FlagSet) error {
	if verbose >= 2 {
		ci.LogLevel = fs.LogLevelDebug
	} else if verbose >= 1 {
		ci.LogLevel = fs.LogLevelInfo
	}
	if quiet {
		if verbose > 0 {
			return errors.New("can't set -v and -q")
		}
		ci.LogLevel = fs.LogLevelError
	}
	logLevelFlag := flagSet.Lookup("log-level")
	if logLevelFlag != nil && logLevelFlag.Changed {
		if verbose > 0 {
			return errors.New("can't set -v and --log-level")
		}
		if quiet {
			return errors.New("can't set -q and --log-level")
		}
	}
	if ci.AsyncThreads < 1 {
		return errors.Errorf("--async-threads must be at least 1, was %d", ci.AsyncThreads)
	}
	if ci.AsyncMemoryPressure <= 0 || ci.AsyncMemoryPressure > 100 {
		return errors.Errorf("--async-memory-pressure must be a percentage, was %v", ci.AsyncMemoryPressure)
	}

	// Make the config file absolute
	if ConfigPath != "" {
		configPath, err := homedir.Expand(ConfigPath)
		if err != nil {
			return errors.Wrap(err, "--config")
		}
		configPath, err = filepath.Abs(configPath)
		if err == nil {
			ConfigPath = configPath
		}
	}
	return nil
}
