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
	"sync"
	"sync/atomic"
	"time"

	"github.com/wastore/blobmover/common"
)

// workSource is the part of a controller that knows its own states. Every method is called
// with the base's state lock held.
type workSource interface {
	hasWork() bool
	nextWork() *WorkItem
}

// cleaner is implemented by controllers that hold resources to give back after a failure
type cleaner interface {
	cleanup()
}

// controllerBase is the lifecycle shared by every controller: it counts operations in flight,
// latches the first error, and reports completion exactly once.
type controllerBase struct {
	entry  *TransferEntry
	deps   ControllerDeps
	logger common.ILogger
	self   TransferController
	impl   workSource

	concurrent bool

	ctx    context.Context
	cancel context.CancelFunc

	// mu is the state lock. Controllers keep their own state under it too.
	mu         sync.Mutex
	err        error
	done       bool
	handedOff  bool
	activeOps  int
	finalizing bool
	workDone   func(TransferController, bool)

	// finishLock makes completion fire once, and is never held while mu is wanted
	finishLock  sync.Mutex
	finishFired bool
	finished    int32
}

func (b *controllerBase) init(self TransferController, impl workSource, entry *TransferEntry, deps ControllerDeps, concurrent bool) {
	b.self = self
	b.impl = impl
	b.entry = entry
	b.deps = deps
	b.concurrent = concurrent
	b.logger = common.NewPrefixLogger(deps.Logger, fmt.Sprintf("[%s] %s: ", entry.Kind, entry.ID))
	b.ctx, b.cancel = context.WithCancel(context.Background())
}

func (b *controllerBase) Entry() *TransferEntry {
	return b.entry
}

func (b *controllerBase) AllowsConcurrentDispatch() bool {
	return b.concurrent
}

func (b *controllerBase) SetWorkDoneCallback(f func(TransferController, bool)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.workDone = f
}

func (b *controllerBase) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

func (b *controllerBase) IsFinished() bool {
	return atomic.LoadInt32(&b.finished) == 1
}

func (b *controllerBase) HasWork() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil || b.done || b.ctx.Err() != nil {
		return false
	}
	return b.impl.hasWork()
}

func (b *controllerBase) GetWork() *WorkItem {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil || b.done || b.ctx.Err() != nil {
		return nil
	}
	if b.entry.Status() == common.EEntryStatus.Finished() {
		return nil
	}
	w := b.impl.nextWork()
	if w != nil {
		b.activeOps++
	}
	return w
}

// Cancel stops the transfer. Operations in flight see a cancelled context; the ones not
// started yet are skipped. Completion is reported with a Cancelled error.
func (b *controllerBase) Cancel() {
	b.cancel()
	b.mu.Lock()
	if b.err == nil && !b.done {
		b.err = common.NewCancelledError("Cancel", context.Canceled)
	}
	shouldFinalize := b.claimFinalizeLocked()
	cb := b.workDone
	b.mu.Unlock()

	if shouldFinalize {
		b.finalize()
		if cb != nil {
			cb(b.self, true)
		}
	}
}

// newWork wraps an operation of this controller. skip may be nil.
func (b *controllerBase) newWork(op string, run func(ctx context.Context) error, skip func()) *WorkItem {
	return &WorkItem{Op: op, base: b, run: run, skip: skip}
}

// sequentialWork is newWork for states that run one operation at a time. Must be called with mu held.
func (b *controllerBase) sequentialWork(op string, run func(ctx context.Context) error) *WorkItem {
	if b.activeOps > 0 {
		return nil
	}
	return b.newWork(op, run, nil)
}

func (b *controllerBase) execute(w *WorkItem) {
	b.mu.Lock()
	alive := b.err == nil
	b.mu.Unlock()

	switch {
	case !alive:
		if w.skip != nil {
			w.skip()
		}
	case b.ctx.Err() != nil:
		if w.skip != nil {
			w.skip()
		}
		b.fail(w.Op, common.NewCancelledError(w.Op, b.ctx.Err()))
	default:
		if b.logger.ShouldLog(common.LogDebug) {
			b.logger.Log(common.LogDebug, "starting "+w.Op)
		}
		if err := w.run(b.ctx); err != nil {
			b.fail(w.Op, err)
		}
	}
	b.opDone()
}

func (b *controllerBase) opDone() {
	b.mu.Lock()
	b.activeOps--
	shouldFinalize := b.claimFinalizeLocked()
	cb := b.workDone
	b.mu.Unlock()

	if shouldFinalize {
		b.finalize()
	}
	if cb != nil {
		cb(b.self, b.IsFinished())
	}
}

// wake tells the driver this controller has work again, outside of any operation completing
func (b *controllerBase) wake() {
	b.mu.Lock()
	cb := b.workDone
	b.mu.Unlock()
	if cb != nil {
		cb(b.self, b.IsFinished())
	}
}

// claimFinalizeLocked decides whether the caller should report completion. Must be called with mu held.
func (b *controllerBase) claimFinalizeLocked() bool {
	if b.finalizing || b.activeOps > 0 || (b.err == nil && !b.done) {
		return false
	}
	b.finalizing = true
	return true
}

// fail latches err as the controller's error, unless an earlier one is already latched.
// The context is cancelled so that operations still in flight return early.
func (b *controllerBase) fail(op string, err error) {
	err = common.WrapOperationError(op, err)
	b.mu.Lock()
	first := b.err == nil && !b.done
	if first {
		b.err = err
	}
	b.mu.Unlock()

	if first {
		b.logger.Log(common.LogError, err.Error())
		b.cancel()
	} else if b.logger.ShouldLog(common.LogDebug) {
		b.logger.Log(common.LogDebug, fmt.Sprintf("ignoring error after the transfer already ended: %v", err))
	}
}

// failed reports whether an error is latched. Completions use it to short-circuit.
func (b *controllerBase) failed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err != nil
}

// markDone puts the controller in its terminal success state. Must be called with mu held.
func (b *controllerBase) markDoneLocked() {
	b.done = true
}

func (b *controllerBase) finalize() {
	b.finishLock.Lock()
	defer b.finishLock.Unlock()
	if b.finishFired {
		return
	}
	b.finishFired = true

	b.mu.Lock()
	err, handedOff := b.err, b.handedOff
	b.mu.Unlock()

	if err != nil {
		if saveErr := b.saveCheckpoint(true); saveErr != nil {
			b.logger.Log(common.LogWarning, fmt.Sprintf("could not save the final checkpoint: %v", saveErr))
		}
		if c, ok := b.impl.(cleaner); ok {
			b.runCleanup(c)
		}
	} else if !handedOff {
		b.logger.Log(common.LogInfo, "transfer finished")
	}
	b.cancel()

	if b.deps.OnFinish != nil && (err != nil || !handedOff) {
		cbErr := invokeHostCallback("OnFinish", func() { b.deps.OnFinish(b.entry, err) })
		if cbErr != nil {
			b.logger.Log(common.LogError, cbErr.Error())
			b.mu.Lock()
			if b.err == nil {
				b.err = cbErr
			}
			b.mu.Unlock()
		}
	}
	atomic.StoreInt32(&b.finished, 1)
}

// runCleanup never lets a cleanup failure escape
func (b *controllerBase) runCleanup(c cleaner) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Log(common.LogWarning, fmt.Sprintf("cleanup failed: %v", r))
		}
	}()
	c.cleanup()
}

// saveCheckpoint persists the entry. Unless forced, saves closer together than checkpointSaveInterval
// are dropped; a stale record is always safe to resume from.
func (b *controllerBase) saveCheckpoint(force bool) error {
	if b.deps.Checkpoints == nil {
		return nil
	}
	e := b.entry
	e.entryLock.Lock()
	now := time.Now()
	if !force && now.Sub(e.lastSave) < checkpointSaveInterval {
		e.entryLock.Unlock()
		return nil
	}
	e.lastSave = now
	record := e.record()
	e.entryLock.Unlock()

	return common.WrapOperationError("SaveCheckpoint", b.deps.Checkpoints.Save(record))
}

// advanceStatus moves the entry to s and persists it
func (b *controllerBase) advanceStatus(s common.EntryStatus) error {
	if err := b.entry.setStatus(s); err != nil {
		return err
	}
	return b.saveCheckpoint(true)
}

// reportBytes forwards progress to the status tracker
func (b *controllerBase) reportBytes(n int64) error {
	if n == 0 {
		return nil
	}
	return b.deps.Tracker.AddBytesTransferred(n)
}
