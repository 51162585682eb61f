//go:build !linux

package common

import "os"

// Fdatasync falls back to a full Sync where fdatasync is not available
func Fdatasync(f *os.File) error { return f.Sync() }
