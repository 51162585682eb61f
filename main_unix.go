// Copyright © 2017 Microsoft <wastore@microsoft.com>
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

//go:build unix

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// ChangeRLimits raises the soft limit of file descriptors to the hard limit.
// Every in-flight chunk of a local transfer may hold a handle.
func ChangeRLimits() error {
	var rlimit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rlimit); err != nil {
		return fmt.Errorf("error getting the rlimit: %w", err)
	}
	if rlimit.Max == 0 {
		return fmt.Errorf("hard rlimit is 0 for the process")
	}
	if rlimit.Cur >= rlimit.Max {
		return nil
	}
	set := rlimit
	set.Cur = set.Max
	if err := unix.Setrlimit(unix.RLIMIT_NOFILE, &set); err != nil {
		return fmt.Errorf("setrlimit: set failed: %#v %w", set, err)
	}
	return nil
}

// GetBlobMoverAppPath returns the folder under HOME that holds the logs and checkpoints by default
func GetBlobMoverAppPath() string {
	// failing to raise the limit only lowers how much can be open at once
	if err := ChangeRLimits(); err != nil {
		fmt.Fprintln(os.Stderr, "warning:", err)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	appDataFolder := filepath.Join(home, ".blobmover")
	if err := os.MkdirAll(appDataFolder, os.ModePerm); err != nil {
		return ""
	}
	return appDataFolder
}
