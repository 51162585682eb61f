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
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/wastore/blobmover/common"
)

// driverIdleTick bounds how long the driver sleeps without being woken, in case a resource
// it was starved of (a buffer, typically) was given back outside of any work item
const driverIdleTick = 50 * time.Millisecond

// Driver runs the work of many controllers on a fixed number of goroutines. It pulls work from
// the controllers round-robin, never more than it has free slots for, and sleeps when none of
// them can make progress.
type Driver struct {
	concurrency int
	logger      common.ILogger

	mu          sync.Mutex
	controllers []TransferController
	// busy holds the controllers that do not allow concurrent dispatch and have an item executing
	busy map[TransferController]bool
	next int

	wakeCh chan struct{}
}

func NewDriver(concurrency int, logger common.ILogger) *Driver {
	if concurrency <= 0 {
		concurrency = 1
	}
	if logger == nil {
		logger = common.NopLogger{}
	}
	return &Driver{
		concurrency: concurrency,
		logger:      logger,
		busy:        make(map[TransferController]bool),
		wakeCh:      make(chan struct{}, 1),
	}
}

// Add puts a controller under the driver. It may be called while Run is running, including from
// inside a work item (which is how a copy hands its monitor over).
func (d *Driver) Add(c TransferController) {
	c.SetWorkDoneCallback(func(TransferController, bool) { d.wake() })
	d.mu.Lock()
	d.controllers = append(d.controllers, c)
	d.mu.Unlock()
	d.wake()
}

// Pending is the number of controllers that have not finished yet
func (d *Driver) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.controllers)
}

func (d *Driver) wake() {
	select {
	case d.wakeCh <- struct{}{}:
	default:
	}
}

// Run executes work until every controller has finished. Transfer failures are reported through
// each controller, not here. If ctx is cancelled, every controller is cancelled, the items still
// executing are waited for, and ctx's error is returned. A work item that panics stops the run the
// same way, and the panic is returned as an error.
func (d *Driver) Run(ctx context.Context) error {
	slots := semaphore.NewWeighted(int64(d.concurrency))
	g, gctx := errgroup.WithContext(ctx)
	ticker := time.NewTicker(driverIdleTick)
	defer ticker.Stop()

	for {
		if gctx.Err() != nil {
			d.cancelAll()
			err := g.Wait()
			// anything queued by the items that were still executing
			d.cancelAll()
			if err != nil {
				return err
			}
			return ctx.Err()
		}
		if d.pruneFinished() == 0 {
			return g.Wait()
		}

		for slots.TryAcquire(1) {
			c, w := d.pick()
			if w == nil {
				slots.Release(1)
				break
			}
			g.Go(func() (err error) {
				defer slots.Release(1)
				defer d.wake()
				defer func() {
					if r := recover(); r != nil {
						d.logger.Log(common.LogError, fmt.Sprintf("%s of %s panicked: %v", w.Op, c.Entry().ID, r))
						err = errors.Errorf("%s of %s panicked: %v", w.Op, c.Entry().ID, r)
					}
				}()
				w.Execute()
				if !c.AllowsConcurrentDispatch() {
					d.mu.Lock()
					delete(d.busy, c)
					d.mu.Unlock()
				}
				return nil
			})
		}

		select {
		case <-gctx.Done():
		case <-d.wakeCh:
		case <-ticker.C:
		}
	}
}

// pick returns the next controller with dispatchable work, and that work
func (d *Driver) pick() (TransferController, *WorkItem) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := len(d.controllers)
	for i := 0; i < n; i++ {
		c := d.controllers[(d.next+i)%n]
		if d.busy[c] || !c.HasWork() {
			continue
		}
		w := c.GetWork()
		if w == nil {
			continue
		}
		if !c.AllowsConcurrentDispatch() {
			d.busy[c] = true
		}
		d.next = (d.next + i + 1) % n
		return c, w
	}
	return nil, nil
}

// pruneFinished drops finished controllers and returns how many remain
func (d *Driver) pruneFinished() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	kept := d.controllers[:0]
	for _, c := range d.controllers {
		if c.IsFinished() {
			if d.logger.ShouldLog(common.LogDebug) {
				d.logger.Log(common.LogDebug, fmt.Sprintf("%s left the driver", c.Entry().ID))
			}
			continue
		}
		kept = append(kept, c)
	}
	for i := len(kept); i < len(d.controllers); i++ {
		d.controllers[i] = nil
	}
	d.controllers = kept
	if d.next >= len(kept) {
		d.next = 0
	}
	return len(kept)
}

func (d *Driver) cancelAll() {
	d.mu.Lock()
	controllers := append([]TransferController(nil), d.controllers...)
	d.mu.Unlock()
	for _, c := range controllers {
		c.Cancel()
	}
}
