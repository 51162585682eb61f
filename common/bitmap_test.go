// Copyright © 2018 Microsoft <wastore@microsoft.com>
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
	"math/rand"

	chk "gopkg.in/check.v1"
)

type bitmapTestSuite struct{}

var _ = chk.Suite(&bitmapTestSuite{})

func (b *bitmapTestSuite) TestBitmap(c *chk.C) {
	numOfPages := int(rand.Int31n(100000)) + 1
	pageMap := NewBitMap(numOfPages)
	c.Assert(pageMap.Size() >= numOfPages, chk.Equals, true)

	m := make(map[int]struct{})
	for i := 0; i < 10; i++ {
		m[int(rand.Int31n(int32(numOfPages)))] = struct{}{}
	}
	testBits := make([]int, 0, len(m))
	for k := range m {
		testBits = append(testBits, k)
	}

	for _, index := range testBits {
		c.Assert(pageMap.Test(index), chk.Equals, false)
	}

	for _, index := range testBits {
		pageMap = pageMap.Set(index)
		c.Assert(pageMap.Test(index), chk.Equals, true)
	}
	c.Assert(pageMap.Count(), chk.Equals, len(testBits))

	for i := 0; i < len(testBits); i += 2 {
		pageMap.Clear(testBits[i])
		c.Assert(pageMap.Test(testBits[i]), chk.Equals, false)
	}
	for i := 1; i < len(testBits); i += 2 {
		c.Assert(pageMap.Test(testBits[i]), chk.Equals, true)
	}
}

func (b *bitmapTestSuite) TestBitmapGrowsOnSet(c *chk.C) {
	var pageMap Bitmap
	c.Assert(pageMap.Test(200), chk.Equals, false)

	pageMap = pageMap.Set(200)
	c.Assert(pageMap.Size() >= 201, chk.Equals, true)
	c.Assert(pageMap.Test(200), chk.Equals, true)
	c.Assert(pageMap.AnyInRange(0, 200), chk.Equals, false)
	c.Assert(pageMap.AnyInRange(0, 201), chk.Equals, true)
	c.Assert(pageMap.AnyInRange(128, 256), chk.Equals, true)
	c.Assert(pageMap.AnyInRange(201, 10000), chk.Equals, false)
}
