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
	"bytes"
	"crypto/md5"
	"fmt"
	"hash"
	"io"
	"sync"

	"github.com/pkg/errors"

	"github.com/wastore/blobmover/common"
)

// integrityAccumulator computes the MD5 of a whole blob from chunks that arrive in any order.
// Chunks are folded in strictly by offset; a chunk that arrives early is copied into the reorder
// buffer until everything in front of it has been hashed.
type integrityAccumulator struct {
	mu      sync.Mutex
	hasher  hash.Hash
	next    int64
	pending map[int64][]byte
	slices  common.ByteSlicePooler
}

func newIntegrityAccumulator(slices common.ByteSlicePooler) *integrityAccumulator {
	return &integrityAccumulator{
		hasher:  md5.New(),
		pending: make(map[int64][]byte),
		slices:  slices,
	}
}

// Prepass hashes the first upTo bytes from r. Used when resuming, to cover the part of
// the blob that was moved by an earlier run.
func (a *integrityAccumulator) Prepass(r io.Reader, upTo int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.next != 0 || len(a.pending) > 0 {
		return errors.New("digest prepass must run before any chunk is added")
	}
	n, err := io.CopyN(a.hasher, r, upTo)
	a.next = n
	if err != nil {
		return errors.Wrapf(err, "digest prepass read %d of %d bytes", n, upTo)
	}
	return nil
}

// Add folds data at offset into the digest, now or once the bytes before it have arrived.
// data is not retained.
func (a *integrityAccumulator) Add(offset int64, data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if offset < a.next {
		return fmt.Errorf("chunk at offset %d was already hashed", offset)
	}
	if _, ok := a.pending[offset]; ok {
		return fmt.Errorf("chunk at offset %d was added twice", offset)
	}

	if offset > a.next {
		held := a.slices.RentSlice(int64(len(data)))
		copy(held, data)
		a.pending[offset] = held
		return nil
	}

	a.hasher.Write(data)
	a.next += int64(len(data))
	for {
		held, ok := a.pending[a.next]
		if !ok {
			return nil
		}
		delete(a.pending, a.next)
		a.hasher.Write(held)
		a.next += int64(len(held))
		a.slices.ReturnSlice(held)
	}
}

// Finalize returns the digest once exactly length bytes have been hashed
func (a *integrityAccumulator) Finalize(length int64) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.pending) > 0 {
		return nil, fmt.Errorf("%d chunks are still waiting for earlier data", len(a.pending))
	}
	if a.next != length {
		return nil, fmt.Errorf("hashed %d bytes, but the blob is %d bytes long", a.next, length)
	}
	return a.hasher.Sum(nil), nil
}

// discard gives back anything held in the reorder buffer
func (a *integrityAccumulator) discard() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for offset, held := range a.pending {
		a.slices.ReturnSlice(held)
		delete(a.pending, offset)
	}
}

////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////

const noMD5Stored = "no MD5 was stored against this blob, so the downloaded data cannot be MD5-validated"

var errExpectedMD5Missing = errors.New(noMD5Stored + ". This transfer is configured to treat missing MD5 hashes as errors")

// digestComparer applies a HashValidationOption to an expected and an actual digest
type digestComparer struct {
	expected         []byte
	actual           []byte
	validationOption common.HashValidationOption
	logger           common.ILogger
}

// Check does any informational logging itself, so callers only need to act on a non-nil error
func (c *digestComparer) Check() error {
	if c.validationOption == common.EHashValidationOption.NoCheck() {
		return nil
	}

	if len(c.expected) == 0 {
		if c.validationOption == common.EHashValidationOption.FailIfDifferentOrMissing() {
			return common.NewIntegrityError("CompareDigest", errExpectedMD5Missing)
		}
		c.logger.Log(common.LogWarning, noMD5Stored)
		return nil
	}

	if len(c.actual) == 0 {
		return common.NewIntegrityError("CompareDigest", errors.New("no MD5 was computed for the data as moved"))
	}

	if !bytes.Equal(c.expected, c.actual) {
		if c.validationOption == common.EHashValidationOption.LogOnly() {
			c.logger.Log(common.LogWarning, common.ErrDigestMismatch.Error())
			return nil
		}
		return common.NewIntegrityError("CompareDigest",
			errors.Wrapf(common.ErrDigestMismatch, "expected %x, got %x", c.expected, c.actual))
	}
	return nil
}
