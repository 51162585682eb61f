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
	"errors"
	"os"
	"path/filepath"

	chk "gopkg.in/check.v1"

	"github.com/wastore/blobmover/common"
)

type checkpointStoreSuite struct {
	root  string
	store CheckpointStore
}

var _ = chk.Suite(&checkpointStoreSuite{})

func (s *checkpointStoreSuite) SetUpTest(c *chk.C) {
	s.root = c.MkDir()
	store, err := NewFileCheckpointStore(s.root)
	c.Assert(err, chk.IsNil)
	s.store = store
}

func sampleRecord(jobID common.JobID, entryID string, seq uint64) CheckpointRecord {
	return CheckpointRecord{
		Version:         checkpointRecordVersion,
		EntryID:         entryID,
		JobID:           jobID,
		Kind:            common.ETransferKind.LocalToBlockBlob(),
		Source:          "/data/file",
		Destination:     "dir/blob",
		DestinationRoot: "https://account.blob.core.windows.net/container",
		Status:          common.EEntryStatus.Transfer(),
		ETag:            "1024-1700000000",
		BlobLength:      10 * common.MiB,
		ChunkSize:       4 * common.MiB,
		CommittedOffset: 4 * common.MiB,
		InFlightWindow:  []int64{4 * common.MiB, 8 * common.MiB},
		BlockIDPrefix:   "prefix",
		BlockIDSequence: []string{"a", "b", "c"},
		Options: TransferOptions{
			BlobType:  common.EBlobType.BlockBlob(),
			ChunkSize: 4 * common.MiB,
			Overwrite: common.EOverwriteOption.False(),
			Metadata:  map[string]string{"k": "v"},
		},
		Seq: seq,
	}
}

func (s *checkpointStoreSuite) TestSaveAndLoad(c *chk.C) {
	jobID := common.NewJobID()
	second := sampleRecord(jobID, "b-entry", 1)
	first := sampleRecord(jobID, "a-entry", 1)
	c.Assert(s.store.Save(second), chk.IsNil)
	c.Assert(s.store.Save(first), chk.IsNil)

	records, err := s.store.Load(jobID)
	c.Assert(err, chk.IsNil)
	c.Assert(records, chk.HasLen, 2)
	c.Assert(records[0], chk.DeepEquals, first)
	c.Assert(records[1], chk.DeepEquals, second)

	_, err = os.Stat(filepath.Join(s.root, jobID.String(), "a-entry"+checkpointFileExtension+".tmp"))
	c.Assert(os.IsNotExist(err), chk.Equals, true)
}

func (s *checkpointStoreSuite) TestOlderSaveIsIgnored(c *chk.C) {
	jobID := common.NewJobID()
	newer := sampleRecord(jobID, "entry", 5)
	newer.CommittedOffset = 8 * common.MiB
	newer.InFlightWindow = nil
	c.Assert(s.store.Save(newer), chk.IsNil)
	c.Assert(s.store.Save(sampleRecord(jobID, "entry", 4)), chk.IsNil)

	records, err := s.store.Load(jobID)
	c.Assert(err, chk.IsNil)
	c.Assert(records, chk.HasLen, 1)
	c.Assert(records[0].CommittedOffset, chk.Equals, int64(8*common.MiB))
}

func (s *checkpointStoreSuite) TestUnknownJob(c *chk.C) {
	_, err := s.store.Load(common.NewJobID())
	c.Assert(errors.Is(err, common.ErrNotFound), chk.Equals, true)
}

func (s *checkpointStoreSuite) TestCorruptedFile(c *chk.C) {
	jobID := common.NewJobID()
	c.Assert(s.store.Save(sampleRecord(jobID, "entry", 1)), chk.IsNil)
	path := filepath.Join(s.root, jobID.String(), "entry"+checkpointFileExtension)
	c.Assert(os.WriteFile(path, []byte("not a checkpoint"), 0644), chk.IsNil)

	_, err := s.store.Load(jobID)
	c.Assert(common.IsKind(err, common.EErrorKind.Consistency()), chk.Equals, true)
	c.Assert(errors.Is(err, common.ErrCorruptedCheckpoint), chk.Equals, true)
}

func (s *checkpointStoreSuite) TestDelete(c *chk.C) {
	jobID := common.NewJobID()
	c.Assert(s.store.Save(sampleRecord(jobID, "entry", 1)), chk.IsNil)
	c.Assert(s.store.Delete(jobID, "entry"), chk.IsNil)
	c.Assert(s.store.Delete(jobID, "entry"), chk.IsNil)

	records, err := s.store.Load(jobID)
	c.Assert(err, chk.IsNil)
	c.Assert(records, chk.HasLen, 0)

	// a deleted entry may be saved again from scratch
	c.Assert(s.store.Save(sampleRecord(jobID, "entry", 1)), chk.IsNil)
	records, _ = s.store.Load(jobID)
	c.Assert(records, chk.HasLen, 1)
}

func (s *checkpointStoreSuite) TestMemoryStoreCopiesRecords(c *chk.C) {
	store := NewMemoryCheckpointStore()
	jobID := common.NewJobID()
	record := sampleRecord(jobID, "entry", 1)
	c.Assert(store.Save(record), chk.IsNil)
	record.BlockIDSequence[0] = "changed"
	record.Options.Metadata["k"] = "changed"

	records, err := store.Load(jobID)
	c.Assert(err, chk.IsNil)
	c.Assert(records[0].BlockIDSequence[0], chk.Equals, "a")
	c.Assert(records[0].Options.Metadata["k"], chk.Equals, "v")
	c.Assert(store.Saves(), chk.Equals, 1)
}

func (s *checkpointStoreSuite) TestRecordRoundTripsThroughEntry(c *chk.C) {
	jobID := common.NewJobID()
	record := sampleRecord(jobID, "entry", 3)
	c.Assert(s.store.Save(record), chk.IsNil)
	records, err := s.store.Load(jobID)
	c.Assert(err, chk.IsNil)

	entry, err := EntryFromRecord(records[0])
	c.Assert(err, chk.IsNil)
	c.Assert(entry.Status(), chk.Equals, common.EEntryStatus.Transfer())
	c.Assert(entry.CommittedOffset(), chk.Equals, int64(4*common.MiB))
	c.Assert(entry.ETag(), chk.Equals, "1024-1700000000")
	c.Assert(entry.Record().InFlightWindow, chk.HasLen, 0)
	c.Assert(entry.Record().Seq > record.Seq, chk.Equals, true)
}

func (s *checkpointStoreSuite) TestEntryFromRecordRejectsBadRecords(c *chk.C) {
	jobID := common.NewJobID()
	badVersion := sampleRecord(jobID, "entry", 1)
	badVersion.Version = 99
	pastEnd := sampleRecord(jobID, "entry", 1)
	pastEnd.CommittedOffset = pastEnd.BlobLength + 1
	window := sampleRecord(jobID, "entry", 1)
	window.InFlightWindow = []int64{0}

	for _, r := range []CheckpointRecord{badVersion, pastEnd, window} {
		_, err := EntryFromRecord(r)
		c.Assert(errors.Is(err, common.ErrCorruptedCheckpoint), chk.Equals, true)
	}
}
