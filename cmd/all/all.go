// Package all imports all the commands
package all

import (
	// Active commands
	_ "github.com/ddn-lixi/mtfs/cmd"
	_ "github.com/ddn-lixi/mtfs/cmd/branchflag"
	_ "github.com/ddn-lixi/mtfs/cmd/dirty"
	_ "github.com/ddn-lixi/mtfs/cmd/serve"
	_ "github.com/ddn-lixi/mtfs/cmd/version"
)
