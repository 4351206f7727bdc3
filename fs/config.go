package fs

import (
	"context"
	"time"
)

// BranchMax is the largest number of branches a logical object can have
const BranchMax = 8

// Global
var (
	// globalConfig for mtfs
	globalConfig = NewConfig()

	// CountError counts an error.  If any errors have been
	// counted then it will exit with a non zero error code.
	//
	// This is a function pointer to decouple the accounting
	// implementation from the fs
	CountError = func(err error) error { return err }
)

// ConfigInfo is filesystem config options
type ConfigInfo struct {
	LogLevel            LogLevel
	UseJSONLog          bool
	NoAbort             bool          // carry on when no latest branch succeeded
	BulkSize            SizeSuffix    // size of the async replay copy buffer
	BufferPoolSize      int           // number of bulk buffers kept by the pool
	AsyncThreads        int           // number of async service threads
	AsyncBatch          int           // max ranges drained per wake, 0 for the whole backlog
	AsyncMemoryPressure float64       // drain everything when host memory use is above this percent
	AsyncInterval       time.Duration // how often the service rechecks a non empty backlog
	FlagCacheExpire     time.Duration // how long branch flags are cached
}

// NewConfig creates a new config with everything set to the default
// value.  These are the ultimate defaults and are overridden by the
// config module.
func NewConfig() *ConfigInfo {
	c := new(ConfigInfo)

	// Set any values which aren't the zero for the type
	c.LogLevel = LogLevelNotice
	c.BulkSize = SizeSuffix(1 << 20)
	c.BufferPoolSize = 4
	c.AsyncThreads = 1
	c.AsyncMemoryPressure = 90
	c.AsyncInterval = 5 * time.Second
	c.FlagCacheExpire = time.Minute

	return c
}

type configContextKeyType struct{}

// Context key for config
var configContextKey = configContextKeyType{}

// GetConfig returns the global or context sensitive context
func GetConfig(ctx context.Context) *ConfigInfo {
	if ctx == nil {
		return globalConfig
	}
	c := ctx.Value(configContextKey)
	if c == nil {
		return globalConfig
	}
	return c.(*ConfigInfo)
}

// CopyConfig copies the global config (if any) from srcCtx into
// dstCtx returning the new context.
func CopyConfig(dstCtx, srcCtx context.Context) context.Context {
	if srcCtx == nil {
		return dstCtx
	}
	c := srcCtx.Value(configContextKey)
	if c == nil {
		return dstCtx
	}
	return context.WithValue(dstCtx, configContextKey, c)
}

// AddConfig returns a mutable config structure based on a shallow
// copy of that found in ctx and returns a new context with that added
// to it.
func AddConfig(ctx context.Context) (context.Context, *ConfigInfo) {
	c := GetConfig(ctx)
	cCopy := new(ConfigInfo)
	*cCopy = *c
	newCtx := context.WithValue(ctx, configContextKey, cCopy)
	return newCtx, cCopy
}
