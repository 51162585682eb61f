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
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/wastore/blobmover/common"
)

// stepController runs a fixed number of steps, recording how many of them ran at the same time
type stepController struct {
	controllerBase
	total      int
	dispatched int
	completed  int

	active    *int32
	maxActive *int32
	block     bool
	panics    bool
}

func newStepController(t *testing.T, steps int, concurrent bool, active, maxActive *int32) *stepController {
	entry, err := NewTransferEntry(common.NewJobID(), common.ETransferKind.BlobToBlob(), "src", "dst", TransferOptions{})
	assert.NoError(t, err)
	c := &stepController{total: steps, active: active, maxActive: maxActive}
	c.init(c, c, entry, ControllerDeps{Logger: common.NopLogger{}}, concurrent)
	return c
}

func (c *stepController) hasWork() bool {
	return c.dispatched < c.total && (c.concurrent || c.activeOps == 0)
}

func (c *stepController) nextWork() *WorkItem {
	if !c.hasWork() {
		return nil
	}
	c.dispatched++
	return c.newWork("Step", c.step, nil)
}

func (c *stepController) step(ctx context.Context) error {
	n := atomic.AddInt32(c.active, 1)
	for {
		m := atomic.LoadInt32(c.maxActive)
		if n <= m || atomic.CompareAndSwapInt32(c.maxActive, m, n) {
			break
		}
	}
	defer atomic.AddInt32(c.active, -1)

	if c.panics {
		panic("step out of range")
	}
	if c.block {
		<-ctx.Done()
		return ctx.Err()
	}
	time.Sleep(time.Millisecond)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.completed++
	if c.completed == c.total {
		c.markDoneLocked()
	}
	return nil
}

func TestDriverRunsSequentialControllerOneStepAtATime(t *testing.T) {
	a := assert.New(t)
	var active, maxActive int32
	c := newStepController(t, 20, false, &active, &maxActive)

	d := NewDriver(8, nil)
	d.Add(c)
	a.NoError(d.Run(context.Background()))

	a.True(c.IsFinished())
	a.Equal(20, c.completed)
	a.Equal(int32(1), maxActive)
	a.Zero(d.Pending())
}

func TestDriverNeverExceedsConcurrency(t *testing.T) {
	a := assert.New(t)
	var active, maxActive int32
	d := NewDriver(4, nil)
	var controllers []*stepController
	for i := 0; i < 3; i++ {
		c := newStepController(t, 30, true, &active, &maxActive)
		controllers = append(controllers, c)
		d.Add(c)
	}
	a.NoError(d.Run(context.Background()))

	for _, c := range controllers {
		a.True(c.IsFinished())
		a.Equal(30, c.completed)
	}
	a.LessOrEqual(maxActive, int32(4))
	a.Greater(maxActive, int32(1))
}

func TestDriverCancelsControllersWhenContextEnds(t *testing.T) {
	a := assert.New(t)
	var active, maxActive int32
	c := newStepController(t, 5, true, &active, &maxActive)
	c.block = true

	var outcome error
	c.deps.OnFinish = func(_ *TransferEntry, err error) { outcome = err }

	d := NewDriver(2, nil)
	d.Add(c)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := d.Run(ctx)

	a.ErrorIs(err, context.DeadlineExceeded)
	a.True(c.IsFinished())
	a.Zero(atomic.LoadInt32(&active))
	a.True(common.IsKind(outcome, common.EErrorKind.Cancelled()))
	a.Equal(int32(2), maxActive)
}

func TestDriverStopsWhenWorkPanics(t *testing.T) {
	a := assert.New(t)
	var active, maxActive int32
	broken := newStepController(t, 1, false, &active, &maxActive)
	broken.panics = true
	waiting := newStepController(t, 5, true, &active, &maxActive)
	waiting.block = true

	var outcome error
	waiting.deps.OnFinish = func(_ *TransferEntry, err error) { outcome = err }

	d := NewDriver(4, nil)
	d.Add(broken)
	d.Add(waiting)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := d.Run(ctx)

	a.Error(err)
	a.Contains(err.Error(), "step out of range")
	a.NoError(ctx.Err(), "the run ends because of the panic, not the deadline")
	a.True(waiting.IsFinished())
	a.True(common.IsKind(outcome, common.EErrorKind.Cancelled()))
}

func TestDriverReturnsImmediatelyWithoutControllers(t *testing.T) {
	assert.NoError(t, NewDriver(1, nil).Run(context.Background()))
}
