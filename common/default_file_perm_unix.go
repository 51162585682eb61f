//go:build !windows

package common

import (
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

var (
	umask     int
	umaskOnce sync.Once
)

// GetUmask reads the process umask (setting it back immediately). The value is cached.
func GetUmask() int {
	umaskOnce.Do(func() {
		current := unix.Umask(0)
		unix.Umask(current)
		umask = current
	})
	return umask
}

// DEFAULT_FILE_PERM is 0666 masked by the process umask, like cp and rsync do
var DEFAULT_FILE_PERM = func() os.FileMode {
	return os.FileMode(0666 &^ GetUmask())
}()
