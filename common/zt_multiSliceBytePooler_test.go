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

package common

import (
	"math"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMultiSliceSlotInfo(t *testing.T) {
	a := assert.New(t)
	eightMB := 8 * 1024 * 1024

	cases := []struct {
		size                 int
		expectedSlotIndex    int
		expectedMaxCapInSlot int
	}{
		{1, 0, 1},
		{2, 1, 2},
		{3, 2, 4},
		{4, 2, 4},
		{5, 3, 8},
		{8, 3, 8},
		{9, 4, 16},
		{eightMB - 1, 23, eightMB},
		{eightMB, 23, eightMB},
		{eightMB + 1, 24, eightMB * 2},
		{100 * 1024 * 1024, 27, 128 * 1024 * 1024},
	}

	for _, x := range cases {
		logBase2 := math.Log2(float64(x.size))
		roundedLogBase2 := int(math.Round(logBase2 + 0.49999999999999)) // rounds up unless already exact(ish)

		slotIndex, maxCap := getSlotInfo(int64(x.size))

		a.Equal(roundedLogBase2, slotIndex)
		a.Equal(x.expectedSlotIndex, slotIndex)
		a.Equal(x.expectedMaxCapInSlot, maxCap)
	}
}

func TestMultiSlicePoolRentReturn(t *testing.T) {
	a := assert.New(t)
	pool := NewMultiSizeSlicePool(1024)

	s := pool.RentSlice(100)
	a.Len(s, 100)
	a.Equal(128, cap(s))
	pool.ReturnSlice(s)

	// over the pooled maximum still works, it just isn't pooled
	big := pool.RentSlice(4096)
	a.Len(big, 4096)
	pool.ReturnSlice(big)
}

func TestBufferPoolRespectsLimit(t *testing.T) {
	a := assert.New(t)
	pool := NewBufferPool(10, 8)

	first := pool.TryAcquire(4)
	second := pool.TryAcquire(4)
	a.NotNil(first)
	a.NotNil(second)
	a.Nil(pool.TryAcquire(4), "third acquisition must fail, budget is 10 bytes")
	a.EqualValues(8, pool.InUse())

	pool.Release(first)
	a.EqualValues(4, pool.InUse())
	a.NotNil(pool.TryAcquire(4))
}

func TestBufferPoolConcurrentAcquireNeverExceedsLimit(t *testing.T) {
	a := assert.New(t)
	const limit = 64
	pool := NewBufferPool(limit, 8)

	var wg sync.WaitGroup
	var held, maxHeld int64
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				b := pool.TryAcquire(8)
				if b == nil {
					continue
				}
				now := atomic.AddInt64(&held, 1)
				for {
					prev := atomic.LoadInt64(&maxHeld)
					if now <= prev || atomic.CompareAndSwapInt64(&maxHeld, prev, now) {
						break
					}
				}
				atomic.AddInt64(&held, -1)
				pool.Release(b)
			}
		}()
	}
	wg.Wait()

	a.LessOrEqual(maxHeld, int64(limit/8))
	a.EqualValues(0, pool.InUse())
}
