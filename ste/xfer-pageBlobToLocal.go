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

	"github.com/wastore/blobmover/common"
)

// pageBlobToLocalController downloads a page blob. The occupied ranges are listed first, so that
// the empty stretches of a sparse blob are written as zeros without being read over the network.
type pageBlobToLocalController struct {
	remoteToLocalController
	discovery *pageRangeDiscovery
	sparse    bool
}

func newPageBlobToLocalController(entry *TransferEntry, deps ControllerDeps) (TransferController, error) {
	if entry.Options.ChunkSize%common.PageSize != 0 {
		return nil, common.NewPreconditionError("page blob chunk size must be a multiple of %d, got %d", common.PageSize, entry.Options.ChunkSize)
	}
	c := &pageBlobToLocalController{sparse: deps.Settings.OptimizeSparsePageBlobTransfers.Value}
	c.initDownload(c, c, entry, deps)
	return c, nil
}

func (c *pageBlobToLocalController) acceptsBlobType(t common.BlobType) bool {
	return t == common.EBlobType.PageBlob()
}

// listsRanges is true when the occupied ranges decide the plan
func (c *pageBlobToLocalController) listsRanges() bool {
	return c.sparse && c.props.ContentLength > 0
}

func (c *pageBlobToLocalController) manifestHasWork() bool {
	if !c.listsRanges() {
		return c.activeOps == 0
	}
	if c.discovery == nil {
		c.discovery = newPageRangeDiscovery(c.props.ContentLength, c.deps.Settings.PageRangeQuerySpan)
	}
	return c.discovery.hasWork()
}

func (c *pageBlobToLocalController) manifestWork() *WorkItem {
	if !c.listsRanges() {
		return c.sequentialWork("DiscoverChunkManifest", c.fixedManifest)
	}
	if c.discovery == nil {
		c.discovery = newPageRangeDiscovery(c.props.ContentLength, c.deps.Settings.PageRangeQuerySpan)
	}
	return c.discovery.nextWork(&c.controllerBase, c.deps.Remote, c.entry.Source, func(merged []common.PageRange) {
		plan, err := NewPageRangeChunkPlan(c.props.ContentLength, c.entry.Options.ChunkSize, merged)
		if err == nil {
			err = c.positionAtCheckpoint(plan)
		}
		if err != nil {
			// the state lock is held here, so the error is latched directly
			c.err = common.WrapOperationError("DiscoverChunkManifest", err)
			c.logger.Log(common.LogError, c.err.Error())
			c.cancel()
		}
	})
}

// fixedManifest treats every page as data
func (c *pageBlobToLocalController) fixedManifest(ctx context.Context) error {
	plan, err := NewFixedChunkPlan(c.props.ContentLength, c.entry.Options.ChunkSize)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.positionAtCheckpoint(plan)
}
