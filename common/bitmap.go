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

import "math/bits"

const BitsPerElement = 64

// Bitmap is a growable set of bit flags backed by uint64 words
type Bitmap []uint64

// NewBitMap returns a bitmap that holds at least size bits without growing
func NewBitMap(size int) Bitmap {
	if size <= 0 {
		return Bitmap{}
	}
	return make(Bitmap, (size+BitsPerElement-1)/BitsPerElement)
}

func (b Bitmap) Test(index int) bool {
	if index < 0 || index >= b.Size() {
		return false
	}
	return b[index/BitsPerElement]&(1<<(uint(index)%BitsPerElement)) != 0
}

// Set returns the bitmap, which may have been reallocated to cover index
func (b Bitmap) Set(index int) Bitmap {
	if index < 0 {
		return b
	}
	for index >= b.Size() {
		b = append(b, 0)
	}
	b[index/BitsPerElement] |= 1 << (uint(index) % BitsPerElement)
	return b
}

func (b Bitmap) Clear(index int) {
	if index < 0 || index >= b.Size() {
		return
	}
	b[index/BitsPerElement] &^= 1 << (uint(index) % BitsPerElement)
}

// Size is the number of addressable bits
func (b Bitmap) Size() int {
	return len(b) * BitsPerElement
}

// Count is the number of set bits
func (b Bitmap) Count() int {
	n := 0
	for _, w := range b {
		n += bits.OnesCount64(w)
	}
	return n
}

// AnyInRange reports whether any bit in [from, to) is set
func (b Bitmap) AnyInRange(from, to int) bool {
	if from < 0 {
		from = 0
	}
	if to > b.Size() {
		to = b.Size()
	}
	for i := from; i < to; {
		if i%BitsPerElement == 0 && i+BitsPerElement <= to {
			if b[i/BitsPerElement] != 0 {
				return true
			}
			i += BitsPerElement
			continue
		}
		if b.Test(i) {
			return true
		}
		i++
	}
	return false
}
