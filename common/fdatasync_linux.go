//go:build linux

package common

import (
	"os"

	"golang.org/x/sys/unix"
)

// Fdatasync flushes file data without forcing a metadata flush
func Fdatasync(f *os.File) error {
	for {
		err := unix.Fdatasync(int(f.Fd()))
		if err != unix.EINTR {
			return err
		}
	}
}
