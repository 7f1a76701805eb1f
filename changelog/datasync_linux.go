package changelog

import (
	"os"

	"golang.org/x/sys/unix"
)

// datasync skips the metadata flush that f.Sync would also do.
func datasync(f *os.File) error {
	return unix.Fdatasync(int(f.Fd()))
}
