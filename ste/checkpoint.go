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
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/wastore/blobmover/common"
)

// TransferOptions are the caller's choices for one transfer. They are persisted with the entry.
type TransferOptions struct {
	// BlobType is the type an upload creates, or the type a download expects (Detect accepts any)
	BlobType  common.BlobType
	ChunkSize int64

	Overwrite          common.OverwriteOption
	HashValidation     common.HashValidationOption
	ETagMismatchPolicy common.ETagMismatchPolicy

	PreserveLastModifiedTime bool
	RemoveSource             bool

	ContentType string
	Metadata    map[string]string
}

// Checkpoint is the resume position of a transfer. CommittedOffset is the smallest offset of a chunk
// dispatched but not yet durable, or the end of the last dispatched chunk when nothing is in flight.
type Checkpoint struct {
	CommittedOffset int64
	InFlightWindow  []int64 // sorted

	dispatchedEnd int64
	maxWindow     int
}

func (c *Checkpoint) windowFull() bool {
	return c.maxWindow > 0 && len(c.InFlightWindow) >= c.maxWindow
}

// dispatch records a chunk as in flight. Chunks are dispatched in ascending offset order.
func (c *Checkpoint) dispatch(offset, length int64) bool {
	if c.windowFull() {
		return false
	}
	i := sort.Search(len(c.InFlightWindow), func(i int) bool { return c.InFlightWindow[i] >= offset })
	c.InFlightWindow = append(c.InFlightWindow, 0)
	copy(c.InFlightWindow[i+1:], c.InFlightWindow[i:])
	c.InFlightWindow[i] = offset
	if end := offset + length; end > c.dispatchedEnd {
		c.dispatchedEnd = end
	}
	c.recompute()
	return true
}

// complete marks the chunk at offset durable, and reports whether CommittedOffset moved
func (c *Checkpoint) complete(offset int64) bool {
	i := sort.Search(len(c.InFlightWindow), func(i int) bool { return c.InFlightWindow[i] >= offset })
	if i < len(c.InFlightWindow) && c.InFlightWindow[i] == offset {
		c.InFlightWindow = append(c.InFlightWindow[:i], c.InFlightWindow[i+1:]...)
	}
	before := c.CommittedOffset
	c.recompute()
	return c.CommittedOffset != before
}

// advance moves the committed offset forward without going through the window (sequential writers)
func (c *Checkpoint) advance(to int64) {
	c.dispatchedEnd = to
	c.recompute()
}

func (c *Checkpoint) recompute() {
	if len(c.InFlightWindow) > 0 {
		c.CommittedOffset = c.InFlightWindow[0]
	} else {
		c.CommittedOffset = c.dispatchedEnd
	}
}

// reset starts again from offset, dropping anything in flight
func (c *Checkpoint) reset(offset int64) {
	c.InFlightWindow = nil
	c.dispatchedEnd = offset
	c.CommittedOffset = offset
}

////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////

// TransferEntry is one logical transfer. It outlives the process through its CheckpointRecord.
// Source and Destination are names resolved by the entry's collaborators: a local path, or a
// blob name within the store. SourceRoot and DestinationRoot record where those names live, so a
// host can rebuild the collaborators after a restart.
type TransferEntry struct {
	ID              string
	JobID           common.JobID
	Kind            common.TransferKind
	Source          string
	SourceRoot      string
	Destination     string
	DestinationRoot string
	Options         TransferOptions

	status common.EntryStatus

	// entryLock guards everything below
	entryLock       sync.Mutex
	etag            string
	copyID          string
	blobLength      int64
	checkpoint      Checkpoint
	blockIDPrefix   string
	blockIDSequence []string
	saveSeq         uint64
	lastSave        time.Time
}

// NewTransferEntry validates the options that can be checked without touching anything
func NewTransferEntry(jobID common.JobID, kind common.TransferKind, source, destination string, options TransferOptions) (*TransferEntry, error) {
	if kind == common.ETransferKind.Unknown() {
		return nil, common.NewPreconditionError("transfer kind must be specified")
	}
	if source == "" || destination == "" {
		return nil, common.NewPreconditionError("both a source and a destination are required")
	}
	if !kind.IsCopy() && options.ChunkSize <= 0 {
		return nil, common.NewPreconditionError("chunk size must be positive, got %d", options.ChunkSize)
	}
	if options.ChunkSize > common.MaxBlockBlobBlockSize {
		return nil, common.NewPreconditionError("chunk size %d exceeds the maximum of %d", options.ChunkSize, common.MaxBlockBlobBlockSize)
	}
	if kind == common.ETransferKind.LocalToPageBlob() && options.ChunkSize%common.PageSize != 0 {
		return nil, common.NewPreconditionError("page blob chunk size must be a multiple of %d, got %d", common.PageSize, options.ChunkSize)
	}
	if kind == common.ETransferKind.LocalToBlockBlob() && options.BlobType == common.EBlobType.Detect() {
		options.BlobType = common.EBlobType.BlockBlob()
	}
	if kind == common.ETransferKind.LocalToPageBlob() && options.BlobType == common.EBlobType.Detect() {
		options.BlobType = common.EBlobType.PageBlob()
	}

	return &TransferEntry{
		ID:          uuid.New().String(),
		JobID:       jobID,
		Kind:        kind,
		Source:      source,
		Destination: destination,
		Options:     options,
	}, nil
}

func (e *TransferEntry) Status() common.EntryStatus {
	return e.status.AtomicLoad()
}

// setStatus moves the entry forwards. Going backwards means the caller's bookkeeping is broken.
func (e *TransferEntry) setStatus(s common.EntryStatus) error {
	current := e.status.AtomicLoad()
	if s < current {
		return common.NewConsistencyError("SetStatus", fmt.Errorf("status cannot move back from %s to %s", current, s))
	}
	e.status.AtomicStore(s)
	return nil
}

func (e *TransferEntry) ETag() string {
	e.entryLock.Lock()
	defer e.entryLock.Unlock()
	return e.etag
}

func (e *TransferEntry) CopyID() string {
	e.entryLock.Lock()
	defer e.entryLock.Unlock()
	return e.copyID
}

func (e *TransferEntry) CommittedOffset() int64 {
	e.entryLock.Lock()
	defer e.entryLock.Unlock()
	return e.checkpoint.CommittedOffset
}

func (e *TransferEntry) String() string {
	return fmt.Sprintf("%s %s -> %s", e.Kind, e.Source, e.Destination)
}

////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////

const checkpointRecordVersion = 1

// CheckpointRecord is the persisted form of a TransferEntry
type CheckpointRecord struct {
	Version         int
	EntryID         string
	JobID           common.JobID
	Kind            common.TransferKind
	Source          string
	SourceRoot      string
	Destination     string
	DestinationRoot string
	Status          common.EntryStatus
	ETag            string
	CopyID          string
	BlobLength      int64
	ChunkSize       int64
	CommittedOffset int64
	InFlightWindow  []int64
	BlockIDPrefix   string
	BlockIDSequence []string
	Options         TransferOptions

	// Seq orders saves of the same entry; a store ignores a save older than what it has
	Seq uint64
}

// record snapshots the entry. Must be called with entryLock held.
func (e *TransferEntry) record() CheckpointRecord {
	e.saveSeq++
	return CheckpointRecord{
		Version:         checkpointRecordVersion,
		EntryID:         e.ID,
		JobID:           e.JobID,
		Kind:            e.Kind,
		Source:          e.Source,
		SourceRoot:      e.SourceRoot,
		Destination:     e.Destination,
		DestinationRoot: e.DestinationRoot,
		Status:          e.status.AtomicLoad(),
		ETag:            e.etag,
		CopyID:          e.copyID,
		BlobLength:      e.blobLength,
		ChunkSize:       e.Options.ChunkSize,
		CommittedOffset: e.checkpoint.CommittedOffset,
		InFlightWindow:  append([]int64(nil), e.checkpoint.InFlightWindow...),
		BlockIDPrefix:   e.blockIDPrefix,
		BlockIDSequence: e.blockIDSequence,
		Options:         e.Options,
		Seq:             e.saveSeq,
	}
}

// Record is a snapshot of the entry in its persisted form
func (e *TransferEntry) Record() CheckpointRecord {
	e.entryLock.Lock()
	defer e.entryLock.Unlock()
	return e.record()
}

// EntryFromRecord restores an entry saved by an earlier run. Chunks that were in flight are
// not trusted: the entry resumes from the committed offset.
func EntryFromRecord(r CheckpointRecord) (*TransferEntry, error) {
	if r.Version != checkpointRecordVersion {
		return nil, common.NewConsistencyError("LoadCheckpoint",
			errors.Wrapf(common.ErrCorruptedCheckpoint, "unsupported checkpoint version %d", r.Version))
	}
	if r.CommittedOffset < 0 || (r.BlobLength > 0 && r.CommittedOffset > r.BlobLength) {
		return nil, common.NewConsistencyError("LoadCheckpoint",
			errors.Wrapf(common.ErrCorruptedCheckpoint, "committed offset %d is outside a %d byte blob", r.CommittedOffset, r.BlobLength))
	}
	for _, offset := range r.InFlightWindow {
		if offset < r.CommittedOffset {
			return nil, common.NewConsistencyError("LoadCheckpoint",
				errors.Wrapf(common.ErrCorruptedCheckpoint, "in-flight offset %d is below the committed offset %d", offset, r.CommittedOffset))
		}
	}

	e := &TransferEntry{
		ID:              r.EntryID,
		JobID:           r.JobID,
		Kind:            r.Kind,
		Source:          r.Source,
		SourceRoot:      r.SourceRoot,
		Destination:     r.Destination,
		DestinationRoot: r.DestinationRoot,
		Options:         r.Options,
		etag:            r.ETag,
		copyID:          r.CopyID,
		blobLength:      r.BlobLength,
		blockIDPrefix:   r.BlockIDPrefix,
		blockIDSequence: r.BlockIDSequence,
		saveSeq:         r.Seq,
	}
	e.Options.ChunkSize = r.ChunkSize
	e.status.AtomicStore(r.Status)
	e.checkpoint.reset(r.CommittedOffset)
	return e, nil
}
