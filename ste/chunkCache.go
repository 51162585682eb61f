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
	"sync/atomic"

	"github.com/wastore/blobmover/common"
)

// chunkCache holds fetched chunks until every manifest position that refers to them has been
// written. It is an arena of slots, indexed by content id; each slot carries the number of
// positions still to be written from it. The cache is guarded by the controller's state lock,
// except for the reference counts, which are atomic.
type chunkCache struct {
	buffers common.BufferPool

	slots []cacheSlot
	free  []int
	byID  map[string]int

	// positions counts, per content id, the manifest positions still to be written
	positions map[string]int32
}

type cacheSlot struct {
	id    string
	buf   []byte
	ready bool
	refs  int32
}

func newChunkCache(buffers common.BufferPool) *chunkCache {
	return &chunkCache{
		buffers:   buffers,
		byID:      make(map[string]int),
		positions: make(map[string]int32),
	}
}

// countPositions records how often each content id appears among chunks[from:]
func (c *chunkCache) countPositions(plan *ChunkPlan, from int) {
	for i := from; i < plan.Len(); i++ {
		if chunk := plan.Chunk(i); chunk.HasData {
			c.positions[chunk.ContentID]++
		}
	}
}

// lookup returns the slot holding id
func (c *chunkCache) lookup(id string) (slot int, ok bool) {
	slot, ok = c.byID[id]
	return
}

// reserve places buf in a new slot for id. The slot is not ready until markReady.
func (c *chunkCache) reserve(id string, buf []byte) int {
	var slot int
	if n := len(c.free); n > 0 {
		slot = c.free[n-1]
		c.free = c.free[:n-1]
	} else {
		c.slots = append(c.slots, cacheSlot{})
		slot = len(c.slots) - 1
	}
	c.slots[slot] = cacheSlot{id: id, buf: buf, refs: c.positions[id]}
	c.byID[id] = slot
	return slot
}

func (c *chunkCache) markReady(slot int) {
	c.slots[slot].ready = true
}

func (c *chunkCache) isReady(slot int) bool {
	return c.slots[slot].ready
}

func (c *chunkCache) data(slot int, length int64) []byte {
	return c.slots[slot].buf[:length]
}

// consume is called once per position written from slot. The last one gives the buffer back
// to the pool and frees the slot.
func (c *chunkCache) consume(slot int) {
	s := &c.slots[slot]
	if atomic.AddInt32(&s.refs, -1) > 0 {
		return
	}
	c.buffers.Release(s.buf)
	delete(c.byID, s.id)
	*s = cacheSlot{}
	c.free = append(c.free, slot)
}

// inUse is the number of slots holding a buffer
func (c *chunkCache) inUse() int {
	return len(c.byID)
}

// releaseAll gives every held buffer back, after a failure
func (c *chunkCache) releaseAll() {
	for id, slot := range c.byID {
		c.buffers.Release(c.slots[slot].buf)
		c.slots[slot] = cacheSlot{}
		c.free = append(c.free, slot)
		delete(c.byID, id)
	}
}
