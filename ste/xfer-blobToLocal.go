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
	"io"
	"time"

	"github.com/pkg/errors"

	"github.com/wastore/blobmover/common"
)

type downloadState uint8

const (
	downloadOpenDestination downloadState = iota
	downloadFetchAttributes
	downloadDiscoverChunkManifest
	downloadCalculateDigestPrepass
	downloadDownload
	downloadComplete
	downloadSetTimestamp
	downloadRemoveSource
	downloadFinished
)

var downloadStateNames = [...]string{"OpenDestination", "FetchAttributes", "DiscoverChunkManifest", "CalculateDigestPrepass",
	"Download", "Complete", "SetTimestamp", "RemoveSource", "Finished"}

func (s downloadState) String() string {
	if int(s) < len(downloadStateNames) {
		return downloadStateNames[s]
	}
	return fmt.Sprintf("downloadState(%d)", s)
}

// manifestSource is what differs between downloading by block list and by page ranges
type manifestSource interface {
	// acceptsBlobType reports whether a blob of type t can be downloaded by this variant
	acceptsBlobType(t common.BlobType) bool
	// manifestHasWork and manifestWork drive the DiscoverChunkManifest state. Called with the state lock held.
	manifestHasWork() bool
	manifestWork() *WorkItem
}

// remoteToLocalController downloads a blob into a local file. Two cursors move through the chunk
// plan: nextDownloadIndex fetches chunks, in parallel and up to a window ahead, into the chunk
// cache; nextWriteIndex writes them to the file strictly in order, one write at a time.
type remoteToLocalController struct {
	controllerBase
	manifest manifestSource

	state    downloadState
	fresh    bool
	resuming bool

	dest  common.LocalFile
	props *common.BlobProperties

	plan   *ChunkPlan
	digest *integrityAccumulator
	cache  *chunkCache
	zeros  []byte

	nextDownloadIndex int
	nextWriteIndex    int
	writing           bool
}

func (d *remoteToLocalController) initDownload(self TransferController, manifest manifestSource, entry *TransferEntry, deps ControllerDeps) {
	d.init(self, d, entry, deps, true)
	d.manifest = manifest
	d.digest = newIntegrityAccumulator(deps.Slices)
	d.cache = newChunkCache(deps.Buffers)
	d.fresh = entry.Status() == common.EEntryStatus.NotStarted()
	d.resuming = entry.Status() == common.EEntryStatus.Transfer()
	if entry.Status() == common.EEntryStatus.RemoveSource() {
		d.state = downloadRemoveSource
	}
}

func (d *remoteToLocalController) hasWork() bool {
	switch d.state {
	case downloadDiscoverChunkManifest:
		return d.manifest.manifestHasWork()
	case downloadDownload:
		return d.nextDownloadIndex < d.plan.Len() || (!d.writing && d.nextWriteIndex < d.nextDownloadIndex)
	case downloadFinished:
		return false
	}
	return d.activeOps == 0
}

func (d *remoteToLocalController) nextWork() *WorkItem {
	switch d.state {
	case downloadOpenDestination:
		return d.sequentialWork("OpenDestination", d.openDestination)
	case downloadFetchAttributes:
		return d.sequentialWork("FetchAttributes", d.fetchAttributes)
	case downloadDiscoverChunkManifest:
		return d.manifest.manifestWork()
	case downloadCalculateDigestPrepass:
		return d.sequentialWork("CalculateDigestPrepass", d.calculateDigestPrepass)
	case downloadDownload:
		if w := d.nextWrite(); w != nil {
			return w
		}
		return d.nextFetch()
	case downloadComplete:
		return d.sequentialWork("Complete", d.complete)
	case downloadSetTimestamp:
		return d.sequentialWork("SetTimestamp", d.setTimestamp)
	case downloadRemoveSource:
		return d.sequentialWork("RemoveSource", d.removeSource)
	}
	return nil
}

func (d *remoteToLocalController) setState(s downloadState) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = s
}

func (d *remoteToLocalController) openDestination(ctx context.Context) error {
	if d.fresh && d.entry.Options.Overwrite == common.EOverwriteOption.False() {
		if _, err := d.deps.FileSystem.Stat(d.entry.Destination); err == nil {
			return common.WrapOperationError("OpenDestination", common.ErrDestinationExists)
		}
	}

	file, err := d.deps.FileSystem.OpenWrite(d.entry.Destination, !d.resuming)
	if err != nil {
		return common.WrapOperationError("OpenDestination", err)
	}
	d.dest = file

	if d.resuming {
		info, err := d.deps.FileSystem.Stat(d.entry.Destination)
		if err != nil {
			return common.WrapOperationError("OpenDestination", err)
		}
		if committed := d.entry.CommittedOffset(); info.Size < committed {
			return common.NewConsistencyError("OpenDestination",
				errors.Wrapf(common.ErrCorruptedCheckpoint, "the destination is %d bytes, but the checkpoint says %d were written", info.Size, committed))
		}
	}
	d.setState(downloadFetchAttributes)
	return nil
}

func (d *remoteToLocalController) fetchAttributes(ctx context.Context) error {
	props, err := d.deps.Remote.GetProperties(ctx, d.entry.Source)
	if err != nil {
		return common.WrapOperationError("FetchAttributes", err)
	}
	d.props = props

	if !d.manifest.acceptsBlobType(props.BlobType) {
		return common.NewConsistencyError("FetchAttributes",
			errors.Wrapf(common.ErrTypeMismatch, "%s cannot download a %s", d.entry.Kind, props.BlobType))
	}
	if expected := d.entry.Options.BlobType; expected != common.EBlobType.Detect() && expected != props.BlobType {
		return common.NewConsistencyError("FetchAttributes",
			errors.Wrapf(common.ErrTypeMismatch, "expected a %s, the source is a %s", expected, props.BlobType))
	}
	if len(props.ContentMD5) == 0 && d.entry.Options.HashValidation == common.EHashValidationOption.FailIfDifferentOrMissing() {
		return common.NewIntegrityError("FetchAttributes", errExpectedMD5Missing)
	}

	e := d.entry
	e.entryLock.Lock()
	recorded := e.etag
	e.entryLock.Unlock()
	if !d.fresh && recorded != "" && recorded != props.ETag {
		if e.Options.ETagMismatchPolicy != common.EETagMismatchPolicy.Restart() {
			return common.NewConsistencyError("FetchAttributes",
				errors.Wrapf(common.ErrETagMismatch, "ETag was %s when the download started, and is %s now", recorded, props.ETag))
		}
		d.logger.Log(common.LogWarning, "the source changed since the download started, restarting from the beginning")
		if err := d.restart(); err != nil {
			return err
		}
	}

	e.entryLock.Lock()
	e.etag = props.ETag
	e.blobLength = props.ContentLength
	committed := e.checkpoint.CommittedOffset
	e.entryLock.Unlock()

	if _, err := d.dest.Seek(committed, io.SeekStart); err != nil {
		return common.WrapOperationError("FetchAttributes", err)
	}
	if err := d.advanceStatus(common.EEntryStatus.Transfer()); err != nil {
		return err
	}
	d.setState(downloadDiscoverChunkManifest)
	return nil
}

// restart truncates the destination and forgets the checkpoint
func (d *remoteToLocalController) restart() error {
	d.resuming = false
	if err := d.dest.Close(); err != nil {
		d.logger.Log(common.LogWarning, fmt.Sprintf("closing the destination failed: %v", err))
	}
	file, err := d.deps.FileSystem.OpenWrite(d.entry.Destination, true)
	if err != nil {
		d.dest = nil
		return common.WrapOperationError("OpenDestination", err)
	}
	d.dest = file
	d.entry.entryLock.Lock()
	d.entry.checkpoint.reset(0)
	d.entry.entryLock.Unlock()
	return nil
}

// positionAtCheckpoint installs the plan and moves both cursors to the committed offset.
// Called with the state lock held, from the last manifest operation.
func (d *remoteToLocalController) positionAtCheckpoint(plan *ChunkPlan) error {
	committed := d.entry.CommittedOffset()
	start, err := plan.IndexOf(committed)
	if err != nil {
		return err
	}

	d.plan = plan
	d.nextDownloadIndex, d.nextWriteIndex = start, start
	d.cache.countPositions(plan, start)
	for i := start; i < plan.Len(); i++ {
		if c := plan.Chunk(i); !c.HasData && int64(len(d.zeros)) < c.Length {
			d.zeros = make([]byte, c.Length)
		}
	}

	switch {
	case committed > 0:
		d.state = downloadCalculateDigestPrepass
	case start == plan.Len():
		d.state = downloadComplete
	default:
		d.state = downloadDownload
	}
	return nil
}

func (d *remoteToLocalController) calculateDigestPrepass(ctx context.Context) error {
	committed := d.entry.CommittedOffset()
	d.logger.Log(common.LogInfo, fmt.Sprintf("resuming at offset %d, re-reading the destination up to there for the digest", committed))

	f, err := d.deps.FileSystem.OpenRead(d.entry.Destination)
	if err != nil {
		return common.WrapOperationError("CalculateDigestPrepass", err)
	}
	defer f.Close()
	if err := d.digest.Prepass(io.NewSectionReader(f, 0, committed), committed); err != nil {
		return common.WrapOperationError("CalculateDigestPrepass", err)
	}
	if err := d.reportBytes(committed); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.nextWriteIndex == d.plan.Len() {
		d.state = downloadComplete
	} else {
		d.state = downloadDownload
	}
	return nil
}

// nextWrite hands out the write of the chunk at nextWriteIndex, if its data is ready and no
// other write is running. Called with the state lock held.
func (d *remoteToLocalController) nextWrite() *WorkItem {
	if d.writing || d.nextWriteIndex >= d.nextDownloadIndex {
		return nil
	}
	index := d.nextWriteIndex
	chunk := d.plan.Chunk(index)

	slot := -1
	if chunk.HasData {
		s, ok := d.cache.lookup(chunk.ContentID)
		if !ok || !d.cache.isReady(s) {
			return nil
		}
		slot = s
	}
	d.writing = true
	return d.newWork("Write", func(ctx context.Context) error { return d.writeChunk(ctx, index, chunk, slot) }, nil)
}

// nextFetch hands out the fetch of the next chunk that is not already cached, as long as the
// fetch cursor stays within the window ahead of the write cursor. Called with the state lock held.
func (d *remoteToLocalController) nextFetch() *WorkItem {
	window := d.deps.Settings.WindowSize.Value
	for d.nextDownloadIndex < d.plan.Len() && d.nextDownloadIndex-d.nextWriteIndex < window {
		chunk := d.plan.Chunk(d.nextDownloadIndex)
		if !chunk.HasData {
			d.nextDownloadIndex++
			continue
		}
		if _, ok := d.cache.lookup(chunk.ContentID); ok {
			d.nextDownloadIndex++
			continue
		}

		buf := d.deps.Buffers.TryAcquire(chunk.Length)
		if buf == nil {
			return nil
		}
		slot := d.cache.reserve(chunk.ContentID, buf)
		d.nextDownloadIndex++
		return d.newWork("Download", func(ctx context.Context) error { return d.fetchChunk(ctx, chunk, slot) }, nil)
	}
	return nil
}

func (d *remoteToLocalController) fetchChunk(ctx context.Context, chunk Chunk, slot int) error {
	d.mu.Lock()
	buf := d.cache.data(slot, chunk.Length)
	d.mu.Unlock()

	if err := d.deps.Remote.GetRange(ctx, d.entry.Source, chunk.Offset, buf, d.entry.ETag()); err != nil {
		return common.WrapOperationError("GetRange", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil
	}
	d.cache.markReady(slot)
	return nil
}

func (d *remoteToLocalController) writeChunk(ctx context.Context, index int, chunk Chunk, slot int) error {
	var data []byte
	if slot < 0 {
		data = d.zeros[:chunk.Length]
	} else {
		d.mu.Lock()
		data = d.cache.data(slot, chunk.Length)
		d.mu.Unlock()
	}

	if _, err := d.dest.Write(data); err != nil {
		return common.WrapOperationError("WriteDestination", errors.Wrapf(err, "writing %d bytes at offset %d", chunk.Length, chunk.Offset))
	}
	if err := d.digest.Add(chunk.Offset, data); err != nil {
		return common.NewIntegrityError("Write", err)
	}

	d.mu.Lock()
	if slot >= 0 {
		d.cache.consume(slot)
	}
	d.nextWriteIndex++
	d.writing = false
	if d.nextWriteIndex == d.plan.Len() && d.err == nil {
		d.state = downloadComplete
	}
	d.mu.Unlock()

	e := d.entry
	e.entryLock.Lock()
	e.checkpoint.advance(chunk.End())
	due := time.Since(e.lastSave) >= checkpointSaveInterval
	e.entryLock.Unlock()
	if due {
		// the checkpoint must never claim bytes that are not on disk yet
		if err := d.dest.Sync(); err != nil {
			return common.WrapOperationError("WriteDestination", err)
		}
		if err := d.saveCheckpoint(false); err != nil {
			return err
		}
	}
	return d.reportBytes(chunk.Length)
}

func (d *remoteToLocalController) complete(ctx context.Context) error {
	if err := d.closeDestination(); err != nil {
		return common.WrapOperationError("Complete", err)
	}

	actual, err := d.digest.Finalize(d.props.ContentLength)
	if err != nil {
		return common.NewIntegrityError("Complete", err)
	}
	comparer := digestComparer{
		expected:         d.props.ContentMD5,
		actual:           actual,
		validationOption: d.entry.Options.HashValidation,
		logger:           d.logger,
	}
	if err := comparer.Check(); err != nil {
		return err
	}

	if d.entry.Options.PreserveLastModifiedTime {
		d.setState(downloadSetTimestamp)
		return nil
	}
	return d.afterWrite()
}

func (d *remoteToLocalController) setTimestamp(ctx context.Context) error {
	if err := d.deps.FileSystem.SetLastWriteTime(d.entry.Destination, d.props.LastModified); err != nil {
		return common.WrapOperationError("SetTimestamp", err)
	}
	return d.afterWrite()
}

func (d *remoteToLocalController) afterWrite() error {
	if d.entry.Options.RemoveSource {
		if err := d.advanceStatus(common.EEntryStatus.RemoveSource()); err != nil {
			return err
		}
		d.setState(downloadRemoveSource)
		return nil
	}
	return d.finish()
}

func (d *remoteToLocalController) removeSource(ctx context.Context) error {
	if err := releaseSource(ctx, d.deps.SourceRemoval, d.entry.Source, deleteBlobReference(d.deps.Remote)); err != nil {
		return common.WrapOperationError("RemoveSource", err)
	}
	return d.finish()
}

func (d *remoteToLocalController) finish() error {
	if err := d.advanceStatus(common.EEntryStatus.Finished()); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = downloadFinished
	d.markDoneLocked()
	return nil
}

// closeDestination flushes the destination to stable storage and closes it
func (d *remoteToLocalController) closeDestination() error {
	if d.dest == nil {
		return nil
	}
	err := d.dest.Sync()
	if closeErr := d.dest.Close(); err == nil {
		err = closeErr
	}
	d.dest = nil
	return err
}

func (d *remoteToLocalController) cleanup() {
	if err := d.closeDestination(); err != nil {
		d.logger.Log(common.LogWarning, fmt.Sprintf("closing the destination failed: %v", err))
	}
	d.mu.Lock()
	d.cache.releaseAll()
	d.mu.Unlock()
	d.digest.discard()
}

////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////

// blobToLocalController downloads block and append blobs. The chunks follow the committed block
// list, so that a block id used at several positions is fetched once.
type blobToLocalController struct {
	remoteToLocalController
}

func newBlobToLocalController(entry *TransferEntry, deps ControllerDeps) (TransferController, error) {
	c := &blobToLocalController{}
	c.initDownload(c, c, entry, deps)
	return c, nil
}

func (c *blobToLocalController) acceptsBlobType(t common.BlobType) bool {
	return t == common.EBlobType.BlockBlob() || t == common.EBlobType.AppendBlob()
}

func (c *blobToLocalController) manifestHasWork() bool {
	return c.activeOps == 0
}

func (c *blobToLocalController) manifestWork() *WorkItem {
	return c.sequentialWork("DiscoverChunkManifest", c.discoverChunkManifest)
}

func (c *blobToLocalController) discoverChunkManifest(ctx context.Context) error {
	var blocks []common.BlockInfo
	if c.props.BlobType == common.EBlobType.BlockBlob() {
		list, err := c.deps.Remote.GetBlockList(ctx, c.entry.Source)
		if err != nil {
			return common.WrapOperationError("DiscoverChunkManifest", err)
		}
		blocks = list.Committed
	}

	plan, err := NewBlockListChunkPlan(c.props.ContentLength, c.entry.Options.ChunkSize, blocks)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.positionAtCheckpoint(plan)
}
