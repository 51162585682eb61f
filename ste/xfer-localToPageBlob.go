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
	"fmt"

	"github.com/pkg/errors"

	"github.com/wastore/blobmover/common"
)

// localToPageBlobController uploads a file as a page blob. The blob is created (or resized) at its
// final length up front, chunks are written in place, and the digest is set as a property at the end.
// All-zero chunks are not sent: on a new blob they are skipped, and elsewhere they are cleared unless
// the destination's page list shows nothing is stored there.
type localToPageBlobController struct {
	localToRemoteController

	discovery *pageRangeDiscovery
	// destPages is what the destination held before this transfer wrote to it. Nil means unknown.
	destPages pageRangeSet
	sparse    bool
}

func newLocalToPageBlobController(entry *TransferEntry, deps ControllerDeps) (TransferController, error) {
	if entry.Options.ChunkSize%common.PageSize != 0 {
		return nil, common.NewPreconditionError("page blob chunk size must be a multiple of %d, got %d", common.PageSize, entry.Options.ChunkSize)
	}
	if entry.Status() < common.EEntryStatus.RemoveSource() {
		info, err := deps.FileSystem.Stat(entry.Source)
		if err != nil {
			return nil, common.NewPreconditionError("cannot read the source %s: %v", entry.Source, err)
		}
		if info.Size%common.PageSize != 0 {
			return nil, common.NewPreconditionError("page blob length must be a multiple of %d, %s is %d bytes", common.PageSize, entry.Source, info.Size)
		}
	}

	c := &localToPageBlobController{sparse: deps.Settings.OptimizeSparsePageBlobTransfers.Value}
	c.initUpload(c, c, entry, deps)
	return c, nil
}

func (c *localToPageBlobController) newPlan(length int64) (*ChunkPlan, error) {
	if length%common.PageSize != 0 {
		return nil, common.NewPreconditionError("page blob length must be a multiple of %d, the source is now %d bytes", common.PageSize, length)
	}
	return NewFixedChunkPlan(length, c.entry.Options.ChunkSize)
}

func (c *localToPageBlobController) checkDestination(props *common.BlobProperties) error {
	if props.BlobType != common.EBlobType.PageBlob() {
		return common.NewConsistencyError("FetchAttributes",
			errors.Wrapf(common.ErrTypeMismatch, "destination is a %s", props.BlobType))
	}
	if c.resuming && props.ContentLength != c.plan.Length() {
		return common.NewConsistencyError("FetchAttributes",
			fmt.Errorf("destination is %d bytes, but this transfer resized it to %d", props.ContentLength, c.plan.Length()))
	}
	return nil
}

func (c *localToPageBlobController) nextAfterFetchAttributes() uploadState {
	if c.resuming && c.destProps != nil {
		return c.afterPrepare(true)
	}
	// a resumed transfer whose blob is gone fails in PrepareDestination
	return uploadPrepareDestination
}

// afterPrepare decides whether the destination's pages must be listed before uploading
func (c *localToPageBlobController) afterPrepare(existed bool) uploadState {
	if !c.sparse {
		return uploadEnterTransfer
	}
	if !existed || c.plan.Length() == 0 {
		c.destPages = pageRangeSet{}
		return uploadEnterTransfer
	}
	c.discovery = newPageRangeDiscovery(c.plan.Length(), c.deps.Settings.PageRangeQuerySpan)
	return uploadDiscoverDestinationPages
}

func (c *localToPageBlobController) variantHasWork(state uploadState) bool {
	switch state {
	case uploadPrepareDestination:
		return c.activeOps == 0
	case uploadDiscoverDestinationPages:
		return c.discovery.hasWork()
	}
	return false
}

func (c *localToPageBlobController) variantWork(state uploadState) *WorkItem {
	switch state {
	case uploadPrepareDestination:
		return c.sequentialWork("PrepareDestination", c.prepareDestination)
	case uploadDiscoverDestinationPages:
		return c.discovery.nextWork(&c.controllerBase, c.deps.Remote, c.entry.Destination, func(merged []common.PageRange) {
			c.destPages = pageRangeSet(merged)
			c.state = uploadEnterTransfer
		})
	}
	return nil
}

func (c *localToPageBlobController) prepareDestination(ctx context.Context) error {
	if c.resuming {
		return common.NewConsistencyError("PrepareDestination",
			errors.New("the destination page blob disappeared while the transfer was interrupted"))
	}

	name, length := c.entry.Destination, c.plan.Length()
	existed := c.destProps != nil
	var err error
	if existed {
		err = c.deps.Remote.ResizePageBlob(ctx, name, length)
	} else {
		err = c.deps.Remote.CreatePageBlob(ctx, name, length, common.BlobHeaders{ContentType: c.entry.Options.ContentType})
	}
	if err != nil {
		return common.WrapOperationError("PrepareDestination", err)
	}

	c.mu.Lock()
	next := c.afterPrepare(existed)
	c.mu.Unlock()
	if next == uploadEnterTransfer {
		return c.enterTransfer(ctx)
	}
	c.setState(next)
	return nil
}

func (c *localToPageBlobController) sendChunk(ctx context.Context, index int, chunk Chunk, data []byte) error {
	if c.sparse && isZero(data) {
		c.mu.Lock()
		occupied := c.destPages.containsData(chunk.Offset, chunk.Length)
		c.mu.Unlock()
		if !occupied {
			return nil
		}
		if err := c.deps.Remote.ClearPages(ctx, c.entry.Destination, chunk.Offset, chunk.Length); err != nil {
			return common.WrapOperationError("ClearPages", err)
		}
		return nil
	}
	if err := c.deps.Remote.PutPages(ctx, c.entry.Destination, chunk.Offset, data); err != nil {
		return common.WrapOperationError("PutPages", err)
	}
	return nil
}

func (c *localToPageBlobController) commitBlob(ctx context.Context, digest []byte) error {
	headers := common.BlobHeaders{ContentType: c.entry.Options.ContentType, ContentMD5: digest}
	if err := c.deps.Remote.SetProperties(ctx, c.entry.Destination, headers); err != nil {
		return common.WrapOperationError("SetProperties", err)
	}
	return nil
}

func (c *localToPageBlobController) restartVariant() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.destPages = nil
	c.discovery = nil
}
