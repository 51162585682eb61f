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
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	chk "gopkg.in/check.v1"

	"github.com/wastore/blobmover/blobstore"
	"github.com/wastore/blobmover/common"
)

// Hook up gocheck into the "go test" runner
func Test(t *testing.T) { chk.TestingT(t) }

const testStoreRoot = "https://account.blob.core.windows.net/container"

// testEnv wires controllers to an in-memory store, a temp folder and an in-memory checkpoint store
type testEnv struct {
	t           *testing.T
	dir         string
	jobID       common.JobID
	store       *blobstore.MemoryStore
	checkpoints *MemoryCheckpointStore
	buffers     common.BufferPool
	settings    EngineSettings
	driver      *Driver
	tracked     int64

	mu       sync.Mutex
	outcomes map[string][]error
	queued   []TransferController
}

func newTestEnv(t *testing.T) *testEnv {
	settings := DefaultEngineSettings()
	settings.Concurrency = &ConfiguredInt{Value: 8}
	settings.WindowSize = &ConfiguredInt{Value: 8}
	settings.CopyPoll = CopyPollPolicy{Interval: time.Millisecond, MaxInterval: 5 * time.Millisecond, Exponential: true}
	settings.PageRangeQuerySpan = 64 * common.KiB

	return &testEnv{
		t:           t,
		dir:         t.TempDir(),
		jobID:       common.NewJobID(),
		store:       blobstore.NewMemoryStore(testStoreRoot),
		checkpoints: NewMemoryCheckpointStore(),
		buffers:     common.NewBufferPool(256*common.MiB, common.MaxBlockBlobBlockSize),
		settings:    settings,
		driver:      NewDriver(8, common.NopLogger{}),
		outcomes:    map[string][]error{},
	}
}

func (e *testEnv) deps() ControllerDeps {
	return ControllerDeps{
		Remote:      e.store,
		CopySource:  e.store,
		FileSystem:  common.OSFileSystem{},
		Buffers:     e.buffers,
		Tracker:     trackerFunc(func(n int64) error { atomic.AddInt64(&e.tracked, n); return nil }),
		Checkpoints: e.checkpoints,
		Settings:    e.settings,
		OnFinish: func(entry *TransferEntry, err error) {
			e.mu.Lock()
			defer e.mu.Unlock()
			e.outcomes[entry.ID] = append(e.outcomes[entry.ID], err)
		},
		QueueController: func(c TransferController) {
			e.mu.Lock()
			e.queued = append(e.queued, c)
			e.mu.Unlock()
			e.driver.Add(c)
		},
	}
}

// outcome returns the single reported result of an entry, failing the test if it was not reported exactly once
func (e *testEnv) outcome(entry *TransferEntry) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	results := e.outcomes[entry.ID]
	assert.Len(e.t, results, 1, "completion of %s must be reported exactly once", entry.ID)
	if len(results) == 0 {
		return nil
	}
	return results[0]
}

// results is every outcome reported for the entry, across controllers rebuilt for it
func (e *testEnv) results(entry *TransferEntry) []error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]error(nil), e.outcomes[entry.ID]...)
}

func (e *testEnv) writeFile(name string, data []byte) string {
	path := filepath.Join(e.dir, name)
	assert.NoError(e.t, os.WriteFile(path, data, 0644))
	return path
}

func (e *testEnv) path(name string) string {
	return filepath.Join(e.dir, name)
}

func (e *testEnv) newEntry(kind common.TransferKind, src, dst string, opts TransferOptions) *TransferEntry {
	entry, err := NewTransferEntry(e.jobID, kind, src, dst, opts)
	assert.NoError(e.t, err)
	return entry
}

func (e *testEnv) newController(entry *TransferEntry) TransferController {
	c, err := NewTransferController(entry, e.deps())
	assert.NoError(e.t, err)
	return c
}

// run drives the controllers to completion
func (e *testEnv) run(controllers ...TransferController) {
	for _, c := range controllers {
		e.driver.Add(c)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	assert.NoError(e.t, e.driver.Run(ctx))
}

// lastRecord is the newest persisted record of the entry
func (e *testEnv) lastRecord(entry *TransferEntry) CheckpointRecord {
	records, err := e.checkpoints.Load(entry.JobID)
	assert.NoError(e.t, err)
	for _, r := range records {
		if r.EntryID == entry.ID {
			return r
		}
	}
	e.t.Fatalf("no checkpoint for %s", entry.ID)
	return CheckpointRecord{}
}

// drain executes a controller's work on the calling goroutine, one item at a time, until it has none
func drain(c TransferController) {
	for {
		w := c.GetWork()
		if w == nil {
			return
		}
		w.Execute()
	}
}

func randomData(seed int64, n int) []byte {
	data := make([]byte, n)
	rand.New(rand.NewSource(seed)).Read(data)
	return data
}

type trackerFunc func(n int64) error

func (f trackerFunc) AddBytesTransferred(n int64) error { return f(n) }

////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////

func TestNewTransferControllerRejectsBadArguments(t *testing.T) {
	a := assert.New(t)
	env := newTestEnv(t)

	_, err := NewTransferController(nil, env.deps())
	a.True(common.IsKind(err, common.EErrorKind.Precondition()))

	entry := env.newEntry(common.ETransferKind.LocalToBlockBlob(), env.writeFile("f", []byte("x")), "blob", TransferOptions{ChunkSize: common.MiB})
	deps := env.deps()
	deps.Remote = nil
	_, err = NewTransferController(entry, deps)
	a.True(common.IsKind(err, common.EErrorKind.Precondition()))

	copyEntry := env.newEntry(common.ETransferKind.BlobToBlob(), "src", "dst", TransferOptions{})
	deps = env.deps()
	deps.QueueController = nil
	_, err = NewTransferController(copyEntry, deps)
	a.True(common.IsKind(err, common.EErrorKind.Precondition()))

	_, err = NewTransferEntry(env.jobID, common.ETransferKind.LocalToPageBlob(), "a", "b", TransferOptions{ChunkSize: 1000})
	a.True(common.IsKind(err, common.EErrorKind.Precondition()))
}

func TestNewTransferControllerRejectsEmptyWindow(t *testing.T) {
	a := assert.New(t)
	env := newTestEnv(t)
	env.store.PutBlob("blob", common.EBlobType.BlockBlob(), randomData(2, common.MiB), false)

	for _, window := range []int{0, -1} {
		env.settings.WindowSize = &ConfiguredInt{Value: window}
		download := env.newEntry(common.ETransferKind.BlockBlobToLocal(), "blob", env.path("out"), TransferOptions{ChunkSize: common.MiB})
		_, err := NewTransferController(download, env.deps())
		a.True(common.IsKind(err, common.EErrorKind.Precondition()), "window %d", window)

		upload := env.newEntry(common.ETransferKind.LocalToBlockBlob(), env.writeFile("f", []byte("x")), "up", TransferOptions{ChunkSize: common.MiB})
		_, err = NewTransferController(upload, env.deps())
		a.True(common.IsKind(err, common.EErrorKind.Precondition()), "window %d", window)
	}
}

func TestCompletionFiresOnceUnderConcurrentFailures(t *testing.T) {
	a := assert.New(t)
	env := newTestEnv(t)
	env.store.SetFault(func(op, name string) error {
		if op == "PutBlock" {
			time.Sleep(time.Millisecond)
			return errors.New("server busy")
		}
		return nil
	})

	src := env.writeFile("src", randomData(1, 16*common.MiB))
	entry := env.newEntry(common.ETransferKind.LocalToBlockBlob(), src, "blob", TransferOptions{ChunkSize: common.MiB})
	c := env.newController(entry)
	env.run(c)

	err := env.outcome(entry)
	a.Error(err)
	a.True(common.IsKind(err, common.EErrorKind.Transient()))
	a.True(c.IsFinished())
	a.Equal(err, c.Err())
	a.GreaterOrEqual(env.store.Calls("PutBlock"), 1)
	a.Zero(env.buffers.InUse())
	a.Nil(c.GetWork())
	a.False(c.HasWork())
}

func TestCancelReportsCancelled(t *testing.T) {
	a := assert.New(t)
	env := newTestEnv(t)
	src := env.writeFile("src", randomData(2, 4*common.MiB))
	entry := env.newEntry(common.ETransferKind.LocalToBlockBlob(), src, "blob", TransferOptions{ChunkSize: common.MiB})
	c := env.newController(entry)

	c.GetWork().Execute() // OpenSource
	c.Cancel()
	c.Cancel()

	a.True(c.IsFinished())
	err := env.outcome(entry)
	a.True(common.IsKind(err, common.EErrorKind.Cancelled()))
	a.Nil(c.GetWork())
	a.Equal(common.EEntryStatus.NotStarted(), env.lastRecord(entry).Status)
}

func TestCancelSkipsHandedOutWork(t *testing.T) {
	a := assert.New(t)
	env := newTestEnv(t)
	src := env.writeFile("src", randomData(3, 4*common.MiB))
	entry := env.newEntry(common.ETransferKind.LocalToBlockBlob(), src, "blob", TransferOptions{ChunkSize: common.MiB})
	c := env.newController(entry)

	// OpenSource, then FetchAttributes
	c.GetWork().Execute()
	c.GetWork().Execute()

	var items []*WorkItem
	for w := c.GetWork(); w != nil; w = c.GetWork() {
		items = append(items, w)
	}
	a.Len(items, 4)
	a.Equal(int64(4*common.MiB), env.buffers.InUse())

	c.Cancel()
	a.False(c.IsFinished(), "completion waits for the items handed out")
	for _, w := range items {
		w.Execute()
	}
	a.True(c.IsFinished())
	a.Zero(env.buffers.InUse())
	a.Zero(env.store.Calls("PutBlock"))
	a.True(common.IsKind(env.outcome(entry), common.EErrorKind.Cancelled()))
}

func TestHostCallbackPanicsBecomeErrors(t *testing.T) {
	a := assert.New(t)
	env := newTestEnv(t)
	src := env.writeFile("src", randomData(4, common.MiB))
	entry := env.newEntry(common.ETransferKind.LocalToBlockBlob(), src, "blob", TransferOptions{ChunkSize: common.MiB})

	deps := env.deps()
	deps.Tracker = trackerFunc(func(int64) error {
		return invokeHostCallback("ProgressCallback", func() { panic("host is broken") })
	})
	c, err := NewTransferController(entry, deps)
	a.NoError(err)
	env.run(c)

	err = env.outcome(entry)
	a.True(common.IsKind(err, common.EErrorKind.HostCallback()))
	a.Contains(err.Error(), "host is broken")
}
