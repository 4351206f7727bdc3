// Log the panic to the log file

package log

import (
	"os"

	"github.com/ddn-lixi/mtfs/fs"
	"golang.org/x/sys/unix"
)

// redirectStderr to the file passed in
func redirectStderr(f *os.File) {
	err := unix.Dup2(int(f.Fd()), int(os.Stderr.Fd()))
	if err != nil {
		fs.Errorf(nil, "Failed to redirect stderr to file: %v", err)
	}
}
