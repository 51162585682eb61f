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
	"bytes"
	"encoding/gob"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/wastore/blobmover/common"
)

// CheckpointStore persists checkpoint records, so that a later process can resume the transfers
type CheckpointStore interface {
	// Save replaces the stored record of the entry, unless the stored one is newer
	Save(record CheckpointRecord) error
	// Load returns every record of the job, ordered by entry id
	Load(jobID common.JobID) ([]CheckpointRecord, error)
	Delete(jobID common.JobID, entryID string) error
}

const checkpointFileExtension = ".ckpt"

// fileCheckpointStore keeps one gob-encoded file per entry, under <root>/<job id>/.
// Files are replaced by rename, so a crash leaves either the old or the new record.
type fileCheckpointStore struct {
	root string

	mu      sync.Mutex
	lastSeq map[string]uint64
}

func NewFileCheckpointStore(root string) (CheckpointStore, error) {
	if err := os.MkdirAll(root, os.ModePerm); err != nil {
		return nil, errors.Wrapf(err, "cannot create the checkpoint folder %s", root)
	}
	return &fileCheckpointStore{root: root, lastSeq: make(map[string]uint64)}, nil
}

func (s *fileCheckpointStore) entryPath(jobID common.JobID, entryID string) string {
	return filepath.Join(s.root, jobID.String(), entryID+checkpointFileExtension)
}

func (s *fileCheckpointStore) Save(record CheckpointRecord) error {
	buf := new(bytes.Buffer)
	if err := gob.NewEncoder(buf).Encode(record); err != nil {
		return errors.Wrap(err, "could not encode checkpoint")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if last, ok := s.lastSeq[record.EntryID]; ok && record.Seq < last {
		return nil
	}

	path := s.entryPath(record.JobID, record.EntryID)
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return errors.Wrap(err, "could not create checkpoint folder")
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, common.DEFAULT_FILE_PERM)
	if err != nil {
		return errors.Wrapf(err, "could not create checkpoint file %s", tmp)
	}
	if _, err = f.Write(buf.Bytes()); err == nil {
		err = common.Fdatasync(f)
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return errors.Wrapf(err, "could not write checkpoint file %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrapf(err, "could not replace checkpoint file %s", path)
	}
	s.lastSeq[record.EntryID] = record.Seq
	return nil
}

func (s *fileCheckpointStore) Load(jobID common.JobID) ([]CheckpointRecord, error) {
	dir := filepath.Join(s.root, jobID.String())
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, errors.Wrapf(common.ErrNotFound, "no checkpoints for job %s", jobID)
	} else if err != nil {
		return nil, err
	}

	var records []CheckpointRecord
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), checkpointFileExtension) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		var r CheckpointRecord
		if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&r); err != nil {
			return nil, common.NewConsistencyError("LoadCheckpoint",
				errors.Wrapf(common.ErrCorruptedCheckpoint, "%s: %v", e.Name(), err))
		}
		records = append(records, r)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].EntryID < records[j].EntryID })
	return records, nil
}

func (s *fileCheckpointStore) Delete(jobID common.JobID, entryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.lastSeq, entryID)
	err := os.Remove(s.entryPath(jobID, entryID))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////

// MemoryCheckpointStore keeps records in memory. Records are deep-copied in and out,
// so a loaded record behaves like one read back from disk.
type MemoryCheckpointStore struct {
	mu      sync.Mutex
	records map[common.JobID]map[string]CheckpointRecord
	saves   int
}

func NewMemoryCheckpointStore() *MemoryCheckpointStore {
	return &MemoryCheckpointStore{records: make(map[common.JobID]map[string]CheckpointRecord)}
}

func cloneRecord(r CheckpointRecord) CheckpointRecord {
	r.InFlightWindow = append([]int64(nil), r.InFlightWindow...)
	r.BlockIDSequence = append([]string(nil), r.BlockIDSequence...)
	if r.Options.Metadata != nil {
		m := make(map[string]string, len(r.Options.Metadata))
		for k, v := range r.Options.Metadata {
			m[k] = v
		}
		r.Options.Metadata = m
	}
	return r
}

func (s *MemoryCheckpointStore) Save(record CheckpointRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.records[record.JobID]
	if !ok {
		job = make(map[string]CheckpointRecord)
		s.records[record.JobID] = job
	}
	if existing, ok := job[record.EntryID]; ok && record.Seq < existing.Seq {
		return nil
	}
	job[record.EntryID] = cloneRecord(record)
	s.saves++
	return nil
}

func (s *MemoryCheckpointStore) Load(jobID common.JobID) ([]CheckpointRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.records[jobID]
	if !ok {
		return nil, errors.Wrapf(common.ErrNotFound, "no checkpoints for job %s", jobID)
	}
	records := make([]CheckpointRecord, 0, len(job))
	for _, r := range job {
		records = append(records, cloneRecord(r))
	}
	sort.Slice(records, func(i, j int) bool { return records[i].EntryID < records[j].EntryID })
	return records, nil
}

func (s *MemoryCheckpointStore) Delete(jobID common.JobID, entryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records[jobID], entryID)
	return nil
}

// Saves counts the records accepted so far
func (s *MemoryCheckpointStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}
