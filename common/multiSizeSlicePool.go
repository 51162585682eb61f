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
	"math/bits"
	"sync"
	"sync/atomic"
)

// A pool of byte slices
// Like sync.Pool, but strongly-typed to byte slices
type ByteSlicePooler interface {
	RentSlice(desiredLength int64) []byte
	ReturnSlice(slice []byte)
}

// A pool of byte slices, optimized so that it actually has a sub-pool for each
// different size (in powers of 2) up to some pre-specified limit. The use of sub-pools
// minimizes wastage, in cases where the desired slice sizes vary greatly.
type multiSizeSlicePool struct {
	// It is safe for multiple readers to read this, once we have populated it
	poolsBySize []*sync.Pool
}

// NewMultiSizeSlicePool creates a new slice pool capable of pooling slices up to maxSliceLength in size
func NewMultiSizeSlicePool(maxSliceLength int64) ByteSlicePooler {
	maxSlotIndex, _ := getSlotInfo(maxSliceLength)
	poolsBySize := make([]*sync.Pool, maxSlotIndex+1)
	for i := 0; i <= maxSlotIndex; i++ {
		poolsBySize[i] = &sync.Pool{}
	}
	return &multiSizeSlicePool{poolsBySize: poolsBySize}
}

// slot index is the base-2 logarithm of the length, rounded up, so every slice in
// a slot has capacity maxCapInSlot
func getSlotInfo(exactSliceLength int64) (slotIndex int, maxCapInSlot int) {
	if exactSliceLength <= 1 {
		return 0, 1
	}
	slotIndex = bits.Len64(uint64(exactSliceLength - 1))
	maxCapInSlot = 1 << uint(slotIndex)
	return
}

// RentSlice borrows a slice from the pool (or creates a new one if none of suitable capacity is available)
// Note that the returned slice may contain non-zero data - i.e. old data from the previous time it was used.
// That's safe IFF you are going to do the likes of io.ReadFull to read into it.
func (mp *multiSizeSlicePool) RentSlice(desiredSize int64) []byte {
	slotIndex, maxCapInSlot := getSlotInfo(desiredSize)
	if slotIndex >= len(mp.poolsBySize) {
		return make([]byte, desiredSize) // too big to be pooled
	}

	if typedSlice, ok := mp.poolsBySize[slotIndex].Get().([]byte); ok {
		return typedSlice[0:desiredSize]
	}

	return make([]byte, desiredSize, maxCapInSlot)
}

// ReturnSlice returns the slice to its pool
func (mp *multiSizeSlicePool) ReturnSlice(slice []byte) {
	slotIndex, maxCapInSlot := getSlotInfo(int64(cap(slice))) // be sure to use capacity, not length, here
	if slotIndex >= len(mp.poolsBySize) || cap(slice) != maxCapInSlot {
		return // not one of ours; let the GC have it
	}
	mp.poolsBySize[slotIndex].Put(slice) //nolint:staticcheck
}

////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////

// Used to limit the amount of in-flight data in RAM, to keep it an an acceptable level.
// For downloads, network is producer and disk is consumer, while for uploads the roles are reversed.
// In either case, if the producer is faster than the consumer, this CacheLimiter is necessary to
// prevent unbounded RAM usage.
type CacheLimiter interface {
	TryAdd(count int64) (added bool)
	Remove(count int64)
	Limit() int64
	Current() int64
}

type cacheLimiter struct {
	value int64
	limit int64
}

func NewCacheLimiter(limit int64) CacheLimiter {
	return &cacheLimiter{limit: limit}
}

// TryAdd tries to add a memory allocation within the limit. Returns true if it could be (and was) added
func (c *cacheLimiter) TryAdd(count int64) (added bool) {
	if atomic.AddInt64(&c.value, count) <= c.limit {
		return true
	}
	// else, we are over the limit, so immediately subtract back what we've added, and return false
	atomic.AddInt64(&c.value, -count)
	return false
}

func (c *cacheLimiter) Remove(count int64) {
	atomic.AddInt64(&c.value, -count)
}

func (c *cacheLimiter) Limit() int64 {
	return c.limit
}

func (c *cacheLimiter) Current() int64 {
	return atomic.LoadInt64(&c.value)
}

////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////

// BufferPool hands out chunk buffers within a fixed memory budget. Acquisition never blocks:
// when the budget is spent TryAcquire returns nil and the caller is expected to yield.
// Safe for concurrent use by many controllers.
type BufferPool interface {
	TryAcquire(size int64) []byte
	// Release must be given the same slice (same length) that TryAcquire returned
	Release(buf []byte)
	Limit() int64
	InUse() int64
}

type bufferPool struct {
	slices  ByteSlicePooler
	limiter CacheLimiter
}

func NewBufferPool(maxBytes int64, maxChunkSize int64) BufferPool {
	return &bufferPool{
		slices:  NewMultiSizeSlicePool(maxChunkSize),
		limiter: NewCacheLimiter(maxBytes),
	}
}

func (p *bufferPool) TryAcquire(size int64) []byte {
	if !p.limiter.TryAdd(size) {
		return nil
	}
	return p.slices.RentSlice(size)
}

func (p *bufferPool) Release(buf []byte) {
	if buf == nil {
		return
	}
	p.limiter.Remove(int64(len(buf)))
	p.slices.ReturnSlice(buf)
}

func (p *bufferPool) Limit() int64 {
	return p.limiter.Limit()
}

func (p *bufferPool) InUse() int64 {
	return p.limiter.Current()
}
