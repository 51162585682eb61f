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

type copyState uint8

const (
	copyFetchAttributes copyState = iota
	copyStartCopy
	copyQueueMonitor
	copyFinished
)

// urlToBlobController starts a server-side copy into a blob. The service does the data movement;
// once the copy is accepted, a copy monitor takes over the entry and this controller is done.
type urlToBlobController struct {
	controllerBase
	state  copyState
	fresh  bool
	source common.CopySourceInfo
	// restarted is set when the source changed since an earlier run started its copy
	restarted bool
}

func newURLToBlobController(entry *TransferEntry, deps ControllerDeps) (TransferController, error) {
	c := &urlToBlobController{fresh: entry.Status() == common.EEntryStatus.NotStarted()}
	c.init(c, c, entry, deps, false)
	return c, nil
}

func (c *urlToBlobController) hasWork() bool {
	return c.state != copyFinished && c.activeOps == 0
}

func (c *urlToBlobController) nextWork() *WorkItem {
	switch c.state {
	case copyFetchAttributes:
		return c.sequentialWork("FetchAttributes", c.fetchAttributes)
	case copyStartCopy:
		return c.sequentialWork("StartCopy", c.startCopy)
	case copyQueueMonitor:
		return c.sequentialWork("QueueMonitor", c.queueMonitor)
	}
	return nil
}

func (c *urlToBlobController) setState(s copyState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

func (c *urlToBlobController) fetchAttributes(ctx context.Context) error {
	info, err := c.deps.CopySource.DescribeCopySource(ctx, c.entry.Source)
	if err != nil {
		return common.WrapOperationError("FetchAttributes", errors.Wrap(err, "describing the copy source"))
	}
	c.source = info

	dest, err := c.deps.Remote.GetProperties(ctx, c.entry.Destination)
	if errors.Is(err, common.ErrNotFound) {
		dest, err = nil, nil
	}
	if err != nil {
		return common.WrapOperationError("FetchAttributes", err)
	}
	if dest != nil {
		if c.fresh && c.entry.Options.Overwrite == common.EOverwriteOption.False() {
			return common.WrapOperationError("FetchAttributes", common.ErrDestinationExists)
		}
		if expected := c.entry.Options.BlobType; expected != common.EBlobType.Detect() && dest.BlobType != expected {
			return common.NewConsistencyError("FetchAttributes",
				errors.Wrapf(common.ErrTypeMismatch, "destination is a %s, expected a %s", dest.BlobType, expected))
		}
	}

	e := c.entry
	e.entryLock.Lock()
	recorded, copyID := e.etag, e.copyID
	e.entryLock.Unlock()

	if !c.fresh && recorded != "" && recorded != info.ETag {
		if e.Options.ETagMismatchPolicy != common.EETagMismatchPolicy.Restart() {
			return common.NewConsistencyError("FetchAttributes",
				errors.Wrapf(common.ErrETagMismatch, "source ETag was %s when the copy started, and is %s now", recorded, info.ETag))
		}
		c.logger.Log(common.LogWarning, "the source changed since the copy started, starting the copy again")
		copyID = ""
		c.restarted = true
	}

	e.entryLock.Lock()
	e.etag = info.ETag
	e.blobLength = info.ContentLength
	e.copyID = copyID
	e.entryLock.Unlock()

	if copyID != "" && dest != nil && dest.CopyID == copyID {
		c.logger.Log(common.LogInfo, fmt.Sprintf("copy %s was started by an earlier run", copyID))
		c.setState(copyQueueMonitor)
		return nil
	}
	c.setState(copyStartCopy)
	return nil
}

func (c *urlToBlobController) startCopy(ctx context.Context) error {
	result, err := c.deps.Remote.StartCopy(ctx, c.entry.Destination, c.source.URL, c.source.ETag)
	if errors.Is(err, common.ErrPendingCopy) {
		result, err = c.adoptPendingCopy(ctx)
	}
	if err != nil {
		return common.WrapOperationError("StartCopy", err)
	}

	c.entry.entryLock.Lock()
	c.entry.copyID = result.CopyID
	c.entry.entryLock.Unlock()
	if err := c.advanceStatus(common.EEntryStatus.Transfer()); err != nil {
		return err
	}
	c.logger.Log(common.LogInfo, fmt.Sprintf("copy %s started with status %s", result.CopyID, result.Status))

	c.setState(copyQueueMonitor)
	return nil
}

// adoptPendingCopy resolves a copy already pending on the destination. If it reads from the same
// object as this transfer it is taken over, otherwise the destination is busy with someone else's copy.
// After a restart, a pending copy of the same object reads the old version: it is aborted and the
// copy is started again.
func (c *urlToBlobController) adoptPendingCopy(ctx context.Context) (common.StartCopyResult, error) {
	dest, err := c.deps.Remote.GetProperties(ctx, c.entry.Destination)
	if err != nil {
		return common.StartCopyResult{}, err
	}
	ours, theirs := common.CopySourceIdentity(c.source.URL), common.CopySourceIdentity(dest.CopySource)
	if ours != theirs || dest.CopyID == "" {
		return common.StartCopyResult{}, common.NewConsistencyError("StartCopy",
			errors.Wrapf(common.ErrCopyConflict, "pending copy %s reads from %s", dest.CopyID, theirs))
	}
	if c.restarted {
		c.logger.Log(common.LogWarning, fmt.Sprintf("aborting copy %s of the earlier source version", dest.CopyID))
		if err := c.deps.Remote.AbortCopy(ctx, c.entry.Destination, dest.CopyID); err != nil {
			return common.StartCopyResult{}, err
		}
		return c.deps.Remote.StartCopy(ctx, c.entry.Destination, c.source.URL, c.source.ETag)
	}
	c.logger.Log(common.LogInfo, fmt.Sprintf("adopting pending copy %s", dest.CopyID))
	return common.StartCopyResult{CopyID: dest.CopyID, Status: dest.CopyStatus}, nil
}

func (c *urlToBlobController) queueMonitor(ctx context.Context) error {
	if err := c.advanceStatus(common.EEntryStatus.Monitor()); err != nil {
		return err
	}
	monitor, err := newCopyMonitorController(c.entry, c.deps)
	if err != nil {
		return err
	}
	if err := invokeHostCallback("QueueController", func() { c.deps.QueueController(monitor) }); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = copyFinished
	c.handedOff = true
	c.markDoneLocked()
	return nil
}
