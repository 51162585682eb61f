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
	"fmt"
	"sync"
	"time"

	"github.com/wastore/blobmover/common"
)

// TransferStatusTracker receives byte-count deltas from controllers
type TransferStatusTracker interface {
	// AddBytesTransferred returns an error if the host's progress callback failed
	AddBytesTransferred(n int64) error
}

// TransferProgress is what the host's progress callback sees
type TransferProgress struct {
	BytesTransferred int64
	BytesPerSecond   float64
}

const rateSampleInterval = time.Second

type transferStatusTracker struct {
	counter  common.CountPerSecond
	callback func(TransferProgress)

	mu         sync.Mutex
	rate       float64
	rateSample time.Time
}

// NewTransferStatusTracker turns deltas into running totals and speeds for callback.
// callback may be nil. A panic out of callback becomes a HostCallback error.
func NewTransferStatusTracker(callback func(TransferProgress)) TransferStatusTracker {
	return &transferStatusTracker{
		counter:    common.NewCountPerSecond(),
		callback:   callback,
		rateSample: time.Now(),
	}
}

func (t *transferStatusTracker) AddBytesTransferred(n int64) (err error) {
	total := t.counter.Add(n)
	if t.callback == nil {
		return nil
	}

	t.mu.Lock()
	if time.Since(t.rateSample) >= rateSampleInterval {
		t.rate = t.counter.LatestRate()
		t.rateSample = time.Now()
	}
	progress := TransferProgress{BytesTransferred: total, BytesPerSecond: t.rate}
	t.mu.Unlock()

	return invokeHostCallback("ProgressCallback", func() { t.callback(progress) })
}

// invokeHostCallback runs f, turning a panic into a HostCallback error
func invokeHostCallback(op string, f func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = common.NewHostCallbackError(op, e)
			} else {
				err = common.NewHostCallbackError(op, fmt.Errorf("%v", r))
			}
		}
	}()
	f()
	return nil
}

type nullStatusTracker struct{}

func (nullStatusTracker) AddBytesTransferred(int64) error { return nil }
