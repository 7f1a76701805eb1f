//go:build !linux

package changelog

import "os"

func datasync(f *os.File) error {
	return f.Sync()
}
