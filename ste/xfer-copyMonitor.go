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
	"time"

	"github.com/pkg/errors"

	"github.com/wastore/blobmover/common"
)

type monitorState uint8

const (
	monitorPollStatus monitorState = iota
	monitorWaitTimer
	monitorRemoveSource
	monitorFinished
)

// copyMonitorController polls a server-side copy until the service reports an outcome.
// While it waits it has no work; the poll timer wakes the driver when the wait is over.
type copyMonitorController struct {
	controllerBase
	state    monitorState
	attempt  int
	timer    *time.Timer
	reported int64
}

func newCopyMonitorController(entry *TransferEntry, deps ControllerDeps) (TransferController, error) {
	if entry.CopyID() == "" {
		return nil, common.NewPreconditionError("transfer %s has no copy to monitor", entry.ID)
	}
	c := &copyMonitorController{}
	c.init(c, c, entry, deps, false)
	if entry.Status() == common.EEntryStatus.RemoveSource() {
		c.state = monitorRemoveSource
	}
	return c, nil
}

func (c *copyMonitorController) hasWork() bool {
	switch c.state {
	case monitorWaitTimer, monitorFinished:
		return false
	}
	return c.activeOps == 0
}

func (c *copyMonitorController) nextWork() *WorkItem {
	switch c.state {
	case monitorPollStatus:
		return c.sequentialWork("PollStatus", c.pollStatus)
	case monitorRemoveSource:
		return c.sequentialWork("RemoveSource", c.removeSource)
	}
	return nil
}

func (c *copyMonitorController) pollStatus(ctx context.Context) error {
	props, err := c.deps.Remote.GetProperties(ctx, c.entry.Destination)
	if err != nil {
		return common.WrapOperationError("PollStatus", err)
	}
	if props.CopyID != c.entry.CopyID() {
		return common.NewConsistencyError("PollStatus",
			errors.Wrapf(common.ErrCopyIDMismatch, "expected copy %s, the destination reports %q", c.entry.CopyID(), props.CopyID))
	}
	if err := c.reportCopied(props.CopyBytesCopied); err != nil {
		return err
	}

	switch props.CopyStatus {
	case common.ECopyStatus.Success():
		c.logger.Log(common.LogInfo, "COPY SUCCESSFUL")
		if c.entry.Options.RemoveSource {
			if err := c.advanceStatus(common.EEntryStatus.RemoveSource()); err != nil {
				return err
			}
			c.setState(monitorRemoveSource)
			return nil
		}
		return c.finish()
	case common.ECopyStatus.Pending():
		c.scheduleNextPoll()
		return nil
	}
	return errors.Wrapf(common.ErrCopyFailed, "copy %s ended as %s: %s", props.CopyID, props.CopyStatus, props.CopyStatusDescription)
}

// reportCopied forwards the growth of the service's byte counter since the last poll
func (c *copyMonitorController) reportCopied(copied int64) error {
	delta := copied - c.reported
	if delta <= 0 {
		return nil
	}
	c.reported = copied
	return c.reportBytes(delta)
}

func (c *copyMonitorController) scheduleNextPoll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	delay := c.deps.Settings.CopyPoll.Delay(c.attempt)
	c.attempt++
	c.state = monitorWaitTimer
	c.timer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		if c.state != monitorWaitTimer {
			c.mu.Unlock()
			return
		}
		c.state = monitorPollStatus
		c.mu.Unlock()
		c.wake()
	})
	if c.logger.ShouldLog(common.LogDebug) {
		c.logger.Log(common.LogDebug, fmt.Sprintf("copy still pending, polling again in %v", delay))
	}
}

func (c *copyMonitorController) setState(s monitorState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

func (c *copyMonitorController) removeSource(ctx context.Context) error {
	if err := releaseSource(ctx, c.deps.SourceRemoval, c.entry.Source, deleteBlobReference(c.deps.CopySource)); err != nil {
		return common.WrapOperationError("RemoveSource", err)
	}
	return c.finish()
}

func (c *copyMonitorController) finish() error {
	if err := c.advanceStatus(common.EEntryStatus.Finished()); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = monitorFinished
	c.markDoneLocked()
	return nil
}

func (c *copyMonitorController) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
	}
	c.state = monitorFinished
}
