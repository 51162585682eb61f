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

	"github.com/pkg/errors"

	"github.com/wastore/blobmover/common"
)

type uploadState uint8

const (
	uploadOpenSource uploadState = iota
	uploadFetchAttributes
	uploadDownloadExistingChunkManifest
	uploadPrepareDestination
	uploadDiscoverDestinationPages
	uploadEnterTransfer
	uploadCalculateDigestPrepass
	uploadUpload
	uploadCommit
	uploadRemoveSource
	uploadFinished
)

var uploadStateNames = [...]string{"OpenSource", "FetchAttributes", "DownloadExistingChunkManifest", "PrepareDestination",
	"DiscoverDestinationPages", "EnterTransfer", "CalculateDigestPrepass", "Upload", "Commit", "RemoveSource", "Finished"}

func (s uploadState) String() string {
	if int(s) < len(uploadStateNames) {
		return uploadStateNames[s]
	}
	return fmt.Sprintf("uploadState(%d)", s)
}

// uploadSender is what differs between uploading as blocks and uploading as pages
type uploadSender interface {
	// newPlan lays out the chunks of a source of the given length
	newPlan(length int64) (*ChunkPlan, error)
	// checkDestination validates what is already at the destination (nil if nothing)
	checkDestination(props *common.BlobProperties) error
	// nextAfterFetchAttributes picks the state that follows FetchAttributes. Called with the state lock held.
	nextAfterFetchAttributes() uploadState
	// variantHasWork and variantWork cover the states only this variant has. Called with the state lock held.
	variantHasWork(state uploadState) bool
	variantWork(state uploadState) *WorkItem
	sendChunk(ctx context.Context, index int, c Chunk, data []byte) error
	commitBlob(ctx context.Context, digest []byte) error
	// restartVariant forgets everything learned about earlier attempts
	restartVariant()
}

// localToRemoteController moves a local file to a blob. Chunks are read and sent concurrently;
// the digest is folded in offset order, and the blob is committed once every chunk is durable.
type localToRemoteController struct {
	controllerBase
	sender uploadSender

	state uploadState
	// fresh is true when nothing was ever done for this entry; resuming when an earlier run
	// got as far as the Transfer status and its progress is still valid
	fresh    bool
	resuming bool

	source     common.LocalFile
	sourceInfo common.LocalFileInfo
	destProps  *common.BlobProperties

	plan      *ChunkPlan
	digest    *integrityAccumulator
	nextIndex int
	remaining int
}

func (u *localToRemoteController) initUpload(self TransferController, sender uploadSender, entry *TransferEntry, deps ControllerDeps) {
	u.init(self, u, entry, deps, true)
	u.sender = sender
	u.digest = newIntegrityAccumulator(deps.Slices)
	u.fresh = entry.Status() == common.EEntryStatus.NotStarted()
	u.resuming = entry.Status() == common.EEntryStatus.Transfer()
	u.entry.checkpoint.maxWindow = deps.Settings.WindowSize.Value
	if entry.Status() == common.EEntryStatus.RemoveSource() {
		u.state = uploadRemoveSource
	}
}

func (u *localToRemoteController) hasWork() bool {
	switch u.state {
	case uploadUpload:
		return u.nextIndex < u.plan.Len()
	case uploadFinished:
		return false
	case uploadDownloadExistingChunkManifest, uploadPrepareDestination, uploadDiscoverDestinationPages:
		return u.sender.variantHasWork(u.state)
	}
	return u.activeOps == 0
}

func (u *localToRemoteController) nextWork() *WorkItem {
	switch u.state {
	case uploadOpenSource:
		return u.sequentialWork("OpenSource", u.openSource)
	case uploadFetchAttributes:
		return u.sequentialWork("FetchAttributes", u.fetchAttributes)
	case uploadEnterTransfer:
		return u.sequentialWork("EnterTransfer", u.enterTransfer)
	case uploadCalculateDigestPrepass:
		return u.sequentialWork("CalculateDigestPrepass", u.calculateDigestPrepass)
	case uploadUpload:
		return u.nextChunk()
	case uploadCommit:
		return u.sequentialWork("Commit", u.commit)
	case uploadRemoveSource:
		return u.sequentialWork("RemoveSource", u.removeSource)
	case uploadFinished:
		return nil
	}
	return u.sender.variantWork(u.state)
}

func (u *localToRemoteController) setState(s uploadState) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.state = s
}

func (u *localToRemoteController) fingerprint() string {
	return fmt.Sprintf("%d-%d", u.sourceInfo.Size, u.sourceInfo.LastWriteTime.UnixNano())
}

func (u *localToRemoteController) openSource(ctx context.Context) error {
	fs := u.deps.FileSystem
	info, err := fs.Stat(u.entry.Source)
	if err != nil {
		return common.WrapOperationError("StatSource", err)
	}
	file, err := fs.OpenRead(u.entry.Source)
	if err != nil {
		return common.WrapOperationError("OpenSource", err)
	}
	u.source, u.sourceInfo = file, info

	e := u.entry
	e.entryLock.Lock()
	recorded := e.etag
	e.entryLock.Unlock()

	if !u.fresh && recorded != "" && recorded != u.fingerprint() {
		if u.entry.Options.ETagMismatchPolicy != common.EETagMismatchPolicy.Restart() {
			return common.NewConsistencyError("OpenSource",
				errors.Wrapf(common.ErrETagMismatch, "source was %s when the transfer started, and is %s now", recorded, u.fingerprint()))
		}
		u.logger.Log(common.LogWarning, "the source changed since the transfer started, restarting from the beginning")
		u.restart()
	}

	e.entryLock.Lock()
	e.etag = u.fingerprint()
	e.blobLength = info.Size
	e.entryLock.Unlock()

	plan, err := u.sender.newPlan(info.Size)
	if err != nil {
		return err
	}
	u.plan = plan

	u.setState(uploadFetchAttributes)
	return nil
}

func (u *localToRemoteController) restart() {
	u.resuming = false
	u.entry.entryLock.Lock()
	u.entry.checkpoint.reset(0)
	u.entry.entryLock.Unlock()
	u.sender.restartVariant()
}

func (u *localToRemoteController) fetchAttributes(ctx context.Context) error {
	props, err := u.deps.Remote.GetProperties(ctx, u.entry.Destination)
	if errors.Is(err, common.ErrNotFound) {
		props, err = nil, nil
	}
	if err != nil {
		return common.WrapOperationError("FetchAttributes", err)
	}
	u.destProps = props

	if props != nil {
		if err := u.sender.checkDestination(props); err != nil {
			return err
		}
		if u.fresh && u.entry.Options.Overwrite == common.EOverwriteOption.False() {
			return common.WrapOperationError("FetchAttributes", common.ErrDestinationExists)
		}
	}

	u.mu.Lock()
	next := u.sender.nextAfterFetchAttributes()
	u.mu.Unlock()
	if next == uploadEnterTransfer {
		return u.enterTransfer(ctx)
	}
	u.setState(next)
	return nil
}

// enterTransfer persists the Transfer status and positions the upload at the checkpoint
func (u *localToRemoteController) enterTransfer(ctx context.Context) error {
	if err := u.advanceStatus(common.EEntryStatus.Transfer()); err != nil {
		return err
	}

	committed := u.entry.CommittedOffset()
	start, err := u.plan.IndexOf(committed)
	if err != nil {
		return err
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	u.nextIndex = start
	u.remaining = u.plan.Len() - start
	switch {
	case committed > 0:
		u.state = uploadCalculateDigestPrepass
	case u.remaining == 0:
		u.state = uploadCommit
	default:
		u.state = uploadUpload
	}
	return nil
}

func (u *localToRemoteController) calculateDigestPrepass(ctx context.Context) error {
	committed := u.entry.CommittedOffset()
	u.logger.Log(common.LogInfo, fmt.Sprintf("resuming at offset %d, re-reading the source up to there for the digest", committed))
	if err := u.digest.Prepass(io.NewSectionReader(u.source, 0, committed), committed); err != nil {
		return common.WrapOperationError("CalculateDigestPrepass", err)
	}
	if err := u.reportBytes(committed); err != nil {
		return err
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	if u.remaining == 0 {
		u.state = uploadCommit
	} else {
		u.state = uploadUpload
	}
	return nil
}

// nextChunk dispatches the next chunk, if the window has room and a buffer is free.
// Called with the state lock held.
func (u *localToRemoteController) nextChunk() *WorkItem {
	if u.nextIndex >= u.plan.Len() {
		return nil
	}
	index := u.nextIndex
	chunk := u.plan.Chunk(index)

	e := u.entry
	e.entryLock.Lock()
	if e.checkpoint.windowFull() {
		e.entryLock.Unlock()
		return nil
	}
	buf := u.deps.Buffers.TryAcquire(chunk.Length)
	if buf == nil {
		e.entryLock.Unlock()
		return nil
	}
	e.checkpoint.dispatch(chunk.Offset, chunk.Length)
	e.entryLock.Unlock()

	u.nextIndex++
	return u.newWork("Upload",
		func(ctx context.Context) error { return u.uploadChunk(ctx, index, chunk, buf) },
		func() { u.deps.Buffers.Release(buf) })
}

func (u *localToRemoteController) uploadChunk(ctx context.Context, index int, chunk Chunk, buf []byte) error {
	defer u.deps.Buffers.Release(buf)
	data := buf[:chunk.Length]

	n, err := u.source.ReadAt(data, chunk.Offset)
	if err != nil && !(err == io.EOF && int64(n) == chunk.Length) {
		return common.WrapOperationError("ReadSource", errors.Wrapf(err, "reading %d bytes at offset %d", chunk.Length, chunk.Offset))
	}
	if u.failed() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return common.NewCancelledError("Upload", err)
	}

	if err := u.sender.sendChunk(ctx, index, chunk, data); err != nil {
		return err
	}
	if u.failed() {
		return nil
	}
	if err := u.digest.Add(chunk.Offset, data); err != nil {
		return common.NewIntegrityError("Upload", err)
	}
	if err := u.reportBytes(chunk.Length); err != nil {
		return err
	}

	e := u.entry
	e.entryLock.Lock()
	moved := e.checkpoint.complete(chunk.Offset)
	e.entryLock.Unlock()
	if moved {
		if err := u.saveCheckpoint(false); err != nil {
			return err
		}
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	u.remaining--
	if u.remaining == 0 && u.err == nil {
		u.state = uploadCommit
	}
	return nil
}

func (u *localToRemoteController) commit(ctx context.Context) error {
	digest, err := u.digest.Finalize(u.plan.Length())
	if err != nil {
		return common.NewIntegrityError("Commit", err)
	}
	if err := u.sender.commitBlob(ctx, digest); err != nil {
		return err
	}
	u.closeSource()

	if u.entry.Options.RemoveSource {
		if err := u.advanceStatus(common.EEntryStatus.RemoveSource()); err != nil {
			return err
		}
		u.setState(uploadRemoveSource)
		return nil
	}
	return u.finish()
}

func (u *localToRemoteController) removeSource(ctx context.Context) error {
	u.closeSource()
	if err := releaseSource(ctx, u.deps.SourceRemoval, u.entry.Source, func(ctx context.Context, ref string) error {
		return u.deps.FileSystem.Remove(ref)
	}); err != nil {
		return common.WrapOperationError("RemoveSource", err)
	}
	return u.finish()
}

func (u *localToRemoteController) finish() error {
	if err := u.advanceStatus(common.EEntryStatus.Finished()); err != nil {
		return err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.state = uploadFinished
	u.markDoneLocked()
	return nil
}

func (u *localToRemoteController) closeSource() {
	if u.source == nil {
		return
	}
	if err := u.source.Close(); err != nil {
		u.logger.Log(common.LogWarning, fmt.Sprintf("closing the source failed: %v", err))
	}
	u.source = nil
}

func (u *localToRemoteController) cleanup() {
	u.closeSource()
	u.digest.discard()
}
