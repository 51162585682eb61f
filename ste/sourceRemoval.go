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

package ste

import (
	"context"
	"os"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/wastore/blobmover/common"
)

// SourceRemovalGroup lets several transfers share one source (a root blob and its snapshots, say)
// and deletes it only when the last of them is done with it. Deletion is then done through the
// canonical reference, whichever reference happened to be released last.
type SourceRemovalGroup struct {
	mu        sync.Mutex
	canonical string
	remaining int
}

// NewSourceRemovalGroup expects references calls to release before deleting canonical
func NewSourceRemovalGroup(canonical string, references int) *SourceRemovalGroup {
	return &SourceRemovalGroup{canonical: canonical, remaining: references}
}

// release drops one reference. When it was the last one, it returns what to delete.
func (g *SourceRemovalGroup) release(ref string) (toDelete string, last bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.remaining <= 0 {
		return "", false
	}
	g.remaining--
	if g.remaining > 0 {
		return "", false
	}
	return g.canonical, true
}

// Remaining is the number of references still outstanding
func (g *SourceRemovalGroup) Remaining() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.remaining
}

// releaseSource deletes ref through remove, or through the group when there is one.
// A source that is already gone counts as deleted.
func releaseSource(ctx context.Context, group *SourceRemovalGroup, ref string, remove func(ctx context.Context, ref string) error) error {
	target := ref
	if group != nil {
		var last bool
		if target, last = group.release(ref); !last {
			return nil
		}
	}
	err := remove(ctx, target)
	if errors.Is(err, common.ErrNotFound) || isNotExist(err) {
		return nil
	}
	return err
}

// isSnapshotReference reports whether a blob name addresses a snapshot or version, rather than the root blob
func isSnapshotReference(name string) bool {
	q := strings.IndexByte(name, '?')
	if q < 0 {
		return false
	}
	query := strings.ToLower(name[q+1:])
	return strings.Contains(query, "snapshot=") || strings.Contains(query, "versionid=")
}

// deleteBlobReference deletes a blob, together with its snapshots when ref is the root blob
func deleteBlobReference(client interface {
	Delete(ctx context.Context, name string, includeSnapshots bool) error
}) func(ctx context.Context, ref string) error {
	return func(ctx context.Context, ref string) error {
		return client.Delete(ctx, ref, !isSnapshotReference(ref))
	}
}

func isNotExist(err error) bool {
	return err != nil && os.IsNotExist(errors.Cause(err))
}
