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

// localToBlockBlobController uploads a file as a block blob: one PutBlock per chunk, then a
// single PutManifest of the ordered block ids with the digest attached
type localToBlockBlobController struct {
	localToRemoteController

	// alreadyUploaded holds chunk indices whose block is already on the service
	alreadyUploaded map[int]bool
}

func newLocalToBlockBlobController(entry *TransferEntry, deps ControllerDeps) (TransferController, error) {
	if entry.Options.ChunkSize > common.MaxBlockBlobBlockSize {
		return nil, common.NewPreconditionError("block size %d exceeds the maximum of %d", entry.Options.ChunkSize, common.MaxBlockBlobBlockSize)
	}
	if entry.Status() < common.EEntryStatus.RemoveSource() {
		info, err := deps.FileSystem.Stat(entry.Source)
		if err != nil {
			return nil, common.NewPreconditionError("cannot read the source %s: %v", entry.Source, err)
		}
		if n := common.NumChunksRoundedUp(info.Size, entry.Options.ChunkSize); n > common.MaxNumberOfBlocksPerBlob {
			return nil, common.NewPreconditionError("block size %d is too small for %s: it needs %d blocks, and at most %d are allowed",
				entry.Options.ChunkSize, entry.Source, n, common.MaxNumberOfBlocksPerBlob)
		}
	}

	c := &localToBlockBlobController{alreadyUploaded: map[int]bool{}}
	c.initUpload(c, c, entry, deps)
	return c, nil
}

func (c *localToBlockBlobController) newPlan(length int64) (*ChunkPlan, error) {
	e := c.entry
	e.entryLock.Lock()
	defer e.entryLock.Unlock()

	verify := e.blockIDPrefix != ""
	if !verify {
		e.blockIDPrefix = newBlockIDPrefix()
	}
	plan, err := NewUploadChunkPlan(length, e.Options.ChunkSize, e.blockIDPrefix)
	if err != nil {
		return nil, err
	}

	if verify {
		if err := verifyBlockIDSequence(plan, e.blockIDSequence); err != nil {
			return nil, err
		}
	} else {
		ids := make([]string, plan.Len())
		for i, chunk := range plan.Chunks() {
			ids[i] = chunk.ContentID
		}
		e.blockIDSequence = ids
	}
	return plan, nil
}

func (c *localToBlockBlobController) checkDestination(props *common.BlobProperties) error {
	if props.BlobType != common.EBlobType.BlockBlob() {
		return common.NewConsistencyError("FetchAttributes",
			errors.Wrapf(common.ErrTypeMismatch, "destination is a %s", props.BlobType))
	}
	return nil
}

func (c *localToBlockBlobController) nextAfterFetchAttributes() uploadState {
	if c.resuming {
		return uploadDownloadExistingChunkManifest
	}
	return uploadEnterTransfer
}

func (c *localToBlockBlobController) variantHasWork(state uploadState) bool {
	return state == uploadDownloadExistingChunkManifest && c.activeOps == 0
}

func (c *localToBlockBlobController) variantWork(state uploadState) *WorkItem {
	if state == uploadDownloadExistingChunkManifest {
		return c.sequentialWork("DownloadExistingChunkManifest", c.downloadExistingChunkManifest)
	}
	return nil
}

func (c *localToBlockBlobController) downloadExistingChunkManifest(ctx context.Context) error {
	list, err := c.deps.Remote.GetBlockList(ctx, c.entry.Destination)
	if errors.Is(err, common.ErrNotFound) {
		list, err = common.BlockList{}, nil
	}
	if err != nil {
		return common.WrapOperationError("DownloadExistingChunkManifest", err)
	}

	c.entry.entryLock.Lock()
	prefix := c.entry.blockIDPrefix
	c.entry.entryLock.Unlock()

	uploaded, foreign := uploadedBlockSet(c.plan, prefix, list)
	if foreign > 0 && c.logger.ShouldLog(common.LogDebug) {
		c.logger.Log(common.LogDebug, fmt.Sprintf("ignoring %d blocks that this transfer did not write", foreign))
	}
	c.logger.Log(common.LogInfo, fmt.Sprintf("%d of %d blocks are already uploaded", len(uploaded), c.plan.Len()))
	c.mu.Lock()
	c.alreadyUploaded = uploaded
	c.mu.Unlock()

	return c.enterTransfer(ctx)
}

func (c *localToBlockBlobController) sendChunk(ctx context.Context, index int, chunk Chunk, data []byte) error {
	c.mu.Lock()
	skip := c.alreadyUploaded[index]
	c.mu.Unlock()
	if skip {
		return nil
	}
	if err := c.deps.Remote.PutBlock(ctx, c.entry.Destination, chunk.ContentID, data); err != nil {
		return common.WrapOperationError("PutBlock", err)
	}
	return nil
}

func (c *localToBlockBlobController) commitBlob(ctx context.Context, digest []byte) error {
	ids := make([]string, c.plan.Len())
	for i, chunk := range c.plan.Chunks() {
		ids[i] = chunk.ContentID
	}
	headers := common.BlobHeaders{ContentType: c.entry.Options.ContentType, ContentMD5: digest}
	if err := c.deps.Remote.PutManifest(ctx, c.entry.Destination, ids, headers, c.entry.Options.Metadata); err != nil {
		return common.WrapOperationError("PutManifest", err)
	}
	return nil
}

func (c *localToBlockBlobController) restartVariant() {
	c.entry.entryLock.Lock()
	c.entry.blockIDPrefix = ""
	c.entry.blockIDSequence = nil
	c.entry.entryLock.Unlock()
	c.mu.Lock()
	c.alreadyUploaded = map[int]bool{}
	c.mu.Unlock()
}
