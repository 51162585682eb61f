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

package common

import (
	"io"
	"os"
	"time"
)

// LocalFile is an open local file. Reads may happen concurrently via ReadAt,
// writes are sequential via Write.
type LocalFile interface {
	io.ReaderAt
	io.Writer
	io.Seeker
	io.Closer
	Sync() error
}

type LocalFileInfo struct {
	Size          int64
	LastWriteTime time.Time
}

type LocalFileSystem interface {
	OpenRead(path string) (LocalFile, error)
	// OpenWrite creates the file if needed. With truncate=false existing content is kept, so a
	// resumed download can carry on writing after its committed offset.
	OpenWrite(path string, truncate bool) (LocalFile, error)
	Stat(path string) (LocalFileInfo, error)
	SetLastWriteTime(path string, t time.Time) error
	Remove(path string) error
}

// OSFileSystem is the LocalFileSystem backed by the real file system
type OSFileSystem struct{}

type osFile struct {
	*os.File
}

// Sync flushes file data (but not necessarily metadata) to stable storage
func (f osFile) Sync() error {
	return Fdatasync(f.File)
}

func (OSFileSystem) OpenRead(path string) (LocalFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return osFile{f}, nil
}

func (OSFileSystem) OpenWrite(path string, truncate bool) (LocalFile, error) {
	flags := os.O_RDWR | os.O_CREATE
	if truncate {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, DEFAULT_FILE_PERM)
	if err != nil {
		return nil, err
	}
	return osFile{f}, nil
}

func (OSFileSystem) Stat(path string) (LocalFileInfo, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return LocalFileInfo{}, err
	}
	return LocalFileInfo{Size: fi.Size(), LastWriteTime: fi.ModTime()}, nil
}

func (OSFileSystem) SetLastWriteTime(path string, t time.Time) error {
	return os.Chtimes(path, t, t)
}

func (OSFileSystem) Remove(path string) error {
	return os.Remove(path)
}
