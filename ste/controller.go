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

// TransferController is the state machine of one transfer. It never runs anything itself:
// a driver asks it for work, executes that work on one of its own goroutines, and asks again.
type TransferController interface {
	// HasWork reports whether GetWork could return something right now
	HasWork() bool
	// GetWork returns the next unit of work, or nil when nothing is dispatchable at the moment:
	// the controller is finished, failed, waiting for an operation in flight, or starved of buffers.
	GetWork() *WorkItem
	Cancel()
	// IsFinished is true once the controller reached a terminal state, every operation
	// it handed out has returned, and its completion has been reported
	IsFinished() bool
	// AllowsConcurrentDispatch says whether GetWork may be called while an earlier WorkItem
	// is still executing
	AllowsConcurrentDispatch() bool
	Entry() *TransferEntry
	Err() error
	// SetWorkDoneCallback registers f, called after every WorkItem completes, and whenever the
	// controller becomes ready again on its own (for instance when a poll timer fires)
	SetWorkDoneCallback(f func(c TransferController, isFullyFinished bool))
}

// WorkItem performs exactly one operation of a controller, then reports back through the
// controller's work-done callback
type WorkItem struct {
	Op string

	base *controllerBase
	run  func(ctx context.Context) error
	// skip gives back whatever was reserved for the item, when it will not run
	skip func()
}

// Execute runs the operation. It must be called exactly once.
func (w *WorkItem) Execute() {
	w.base.execute(w)
}

// ControllerDeps are the collaborators a controller works through
type ControllerDeps struct {
	// Remote is the blob store the entry's blob name refers to: the destination of uploads and
	// copies, the source of downloads
	Remote common.RemoteBlobClient
	// CopySource resolves the source name of a server-side copy
	CopySource common.CopySourceResolver
	FileSystem common.LocalFileSystem
	Buffers    common.BufferPool
	// Slices backs the digest reorder buffer. Defaults to a private pool.
	Slices      common.ByteSlicePooler
	Tracker     TransferStatusTracker
	Checkpoints CheckpointStore
	Logger      common.ILogger
	Settings    EngineSettings

	// SourceRemoval is shared by all transfers that read the same source, when the source
	// must only be deleted after the last of them finished. Nil deletes per transfer.
	SourceRemoval *SourceRemovalGroup

	// OnFinish is told the outcome of the transfer, exactly once
	OnFinish func(entry *TransferEntry, err error)
	// QueueController hands a follow-up controller (the copy monitor) to the host
	QueueController func(c TransferController)
}

func (d ControllerDeps) withDefaults(kind common.TransferKind) (ControllerDeps, error) {
	if d.Logger == nil {
		d.Logger = common.NopLogger{}
	}
	if d.Tracker == nil {
		d.Tracker = nullStatusTracker{}
	}
	if d.Slices == nil {
		d.Slices = common.NewMultiSizeSlicePool(common.MaxBlockBlobBlockSize)
	}
	if d.Settings.WindowSize == nil {
		d.Settings = DefaultEngineSettings()
	}
	if d.Settings.WindowSize.Value <= 0 {
		return d, common.NewPreconditionError("the window size must be positive, not %d", d.Settings.WindowSize.Value)
	}
	if d.Remote == nil {
		return d, common.NewPreconditionError("a remote blob client is required")
	}
	if (kind.IsUpload() || kind.IsDownload()) && d.FileSystem == nil {
		return d, common.NewPreconditionError("a local file system is required for %s", kind)
	}
	if (kind.IsUpload() || kind.IsDownload()) && d.Buffers == nil {
		return d, common.NewPreconditionError("a buffer pool is required for %s", kind)
	}
	if kind == common.ETransferKind.BlobToBlob() && d.CopySource == nil {
		return d, common.NewPreconditionError("a copy source is required for %s", kind)
	}
	if kind == common.ETransferKind.BlobToBlob() && d.QueueController == nil {
		return d, common.NewPreconditionError("copies need a way to queue their monitor")
	}
	return d, nil
}

// NewTransferController builds the controller variant for the entry's kind and status.
// Bad arguments are reported here, before any state machine runs.
func NewTransferController(entry *TransferEntry, deps ControllerDeps) (TransferController, error) {
	if entry == nil {
		return nil, common.NewPreconditionError("entry is required")
	}
	if entry.Status() == common.EEntryStatus.Finished() {
		return nil, common.NewPreconditionError("transfer %s already finished", entry.ID)
	}
	deps, err := deps.withDefaults(entry.Kind)
	if err != nil {
		return nil, err
	}

	switch entry.Kind {
	case common.ETransferKind.LocalToBlockBlob():
		return newLocalToBlockBlobController(entry, deps)
	case common.ETransferKind.LocalToPageBlob():
		return newLocalToPageBlobController(entry, deps)
	case common.ETransferKind.BlockBlobToLocal():
		return newBlobToLocalController(entry, deps)
	case common.ETransferKind.PageBlobToLocal():
		return newPageBlobToLocalController(entry, deps)
	case common.ETransferKind.BlobToBlob():
		if entry.Status() >= common.EEntryStatus.Monitor() {
			return newCopyMonitorController(entry, deps)
		}
		return newURLToBlobController(entry, deps)
	case common.ETransferKind.MonitorBlobCopy():
		return newCopyMonitorController(entry, deps)
	}
	return nil, common.NewPreconditionError("unsupported transfer kind %s", entry.Kind)
}

// RebuildController restores the controller of a transfer persisted by an earlier process
func RebuildController(record CheckpointRecord, deps ControllerDeps) (TransferController, error) {
	entry, err := EntryFromRecord(record)
	if err != nil {
		return nil, err
	}
	return NewTransferController(entry, deps)
}
