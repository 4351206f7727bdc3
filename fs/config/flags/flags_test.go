package flags

import (
	"testing"
	"time"

	"github.com/ddn-lixi/mtfs/fs"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptionToEnv(t *testing.T) {
	assert.Equal(t, "MTFS_ASYNC_THREADS", OptionToEnv("async-threads"))
	assert.Equal(t, "MTFS_CONFIG", OptionToEnv("config"))
}

func TestSetValueFromEnv(t *testing.T) {
	t.Setenv("MTFS_ASYNC_BATCH", "7")
	t.Setenv("MTFS_ASYNC_INTERVAL", "2m")
	t.Setenv("MTFS_BULK_SIZE", "4M")

	flagSet := pflag.NewFlagSet("test", pflag.ContinueOnError)
	var (
		batch    int
		interval time.Duration
		threads  int
		bulk     = fs.SizeSuffix(1 << 20)
	)
	IntVarP(flagSet, &batch, "async-batch", "", 0, "")
	DurationVarP(flagSet, &interval, "async-interval", "", time.Second, "")
	IntVarP(flagSet, &threads, "async-threads", "", 1, "")
	FVarP(flagSet, &bulk, "bulk-size", "", "")

	assert.Equal(t, 7, batch)
	assert.Equal(t, 2*time.Minute, interval)
	assert.Equal(t, 1, threads)
	assert.Equal(t, fs.SizeSuffix(4<<20), bulk)
	assert.Equal(t, "7", flagSet.Lookup("async-batch").DefValue)

	// the command line still wins
	require.NoError(t, flagSet.Parse([]string{"--async-batch", "3"}))
	assert.Equal(t, 3, batch)
}
