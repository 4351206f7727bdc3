// Replicated file system over several branch directories
package main

import (
	"github.com/ddn-lixi/mtfs/cmd"
	_ "github.com/ddn-lixi/mtfs/cmd/all" // import all commands
)

func main() {
	cmd.Main()
}
