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

	"github.com/wastore/blobmover/common"
)

// pageRangeDiscovery lists the occupied ranges of a page blob, one span per operation, so that
// the spans of a large blob are queried in parallel. Results are merged once every span returned.
type pageRangeDiscovery struct {
	length    int64
	span      int64
	results   [][]common.PageRange
	next      int
	remaining int
}

func newPageRangeDiscovery(length, span int64) *pageRangeDiscovery {
	if span <= 0 {
		span = defaultPageRangeQuerySpan
	}
	n := int(common.NumChunksRoundedUp(length, span))
	return &pageRangeDiscovery{
		length:    length,
		span:      span,
		results:   make([][]common.PageRange, n),
		remaining: n,
	}
}

func (d *pageRangeDiscovery) hasWork() bool {
	return d.next < len(d.results)
}

// nextWork hands out the next span query. onComplete runs with the state lock held, once,
// after the last span returned. Must be called with the state lock held.
func (d *pageRangeDiscovery) nextWork(b *controllerBase, client common.RemoteBlobClient, name string, onComplete func(merged []common.PageRange)) *WorkItem {
	if d.next >= len(d.results) {
		return nil
	}
	i := d.next
	d.next++
	offset := int64(i) * d.span
	count := min(d.span, d.length-offset)

	return b.newWork("GetPageRanges", func(ctx context.Context) error {
		ranges, err := client.GetPageRanges(ctx, name, offset, count)
		if err != nil {
			return common.WrapOperationError("GetPageRanges", err)
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.err != nil {
			return nil
		}
		d.results[i] = ranges
		d.remaining--
		if d.remaining == 0 {
			onComplete(MergePageRanges(d.results...))
		}
		return nil
	}, nil)
}

// isZero reports whether every byte of data is zero
func isZero(data []byte) bool {
	for len(data) >= 8 {
		if data[0]|data[1]|data[2]|data[3]|data[4]|data[5]|data[6]|data[7] != 0 {
			return false
		}
		data = data[8:]
	}
	for _, v := range data {
		if v != 0 {
			return false
		}
	}
	return true
}
