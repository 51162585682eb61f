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
	"sync"
	"sync/atomic"
	"time"
)

// CountPerSecond is a running total that can also report its rate since the previous sample
type CountPerSecond interface {
	// Add atomically adds delta and returns the new total. Pass 0 to read the total.
	Add(delta int64) int64
	// LatestRate is the rate since the previous call to LatestRate (or since creation)
	LatestRate() float64
	Reset()
}

func NewCountPerSecond() CountPerSecond {
	cps := &countPerSecond{}
	cps.Reset()
	return cps
}

type countPerSecond struct {
	count int64

	mu          sync.Mutex
	sampleTime  time.Time
	sampleCount int64
}

func (cps *countPerSecond) Add(delta int64) int64 {
	return atomic.AddInt64(&cps.count, delta)
}

func (cps *countPerSecond) LatestRate() float64 {
	cps.mu.Lock()
	defer cps.mu.Unlock()

	now := time.Now()
	current := atomic.LoadInt64(&cps.count)
	elapsed := now.Sub(cps.sampleTime).Seconds()
	delta := current - cps.sampleCount
	cps.sampleTime, cps.sampleCount = now, current
	if elapsed <= 0 {
		return 0
	}
	return float64(delta) / elapsed
}

func (cps *countPerSecond) Reset() {
	cps.mu.Lock()
	defer cps.mu.Unlock()
	atomic.StoreInt64(&cps.count, 0)
	cps.sampleTime = time.Now()
	cps.sampleCount = 0
}
