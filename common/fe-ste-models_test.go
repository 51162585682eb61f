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
	"encoding/json"

	chk "gopkg.in/check.v1"
)

type feSteModelsTestSuite struct{}

var _ = chk.Suite(&feSteModelsTestSuite{})

func (s *feSteModelsTestSuite) TestEnumParseIsCaseInsensitive(c *chk.C) {
	var hvo HashValidationOption
	c.Assert(hvo.Parse("failifdifferentormissing"), chk.IsNil)
	c.Assert(hvo, chk.Equals, EHashValidationOption.FailIfDifferentOrMissing())
	c.Assert(hvo.String(), chk.Equals, "FailIfDifferentOrMissing")

	var bt BlobType
	c.Assert(bt.Parse("PageBlob"), chk.IsNil)
	c.Assert(bt, chk.Equals, EBlobType.PageBlob())
	c.Assert(bt.Parse("FileShare"), chk.NotNil)

	var p ETagMismatchPolicy
	c.Assert(p.Parse("restart"), chk.IsNil)
	c.Assert(p, chk.Equals, EETagMismatchPolicy.Restart())

	var o OverwriteOption
	c.Assert(o.Parse("false"), chk.IsNil)
	c.Assert(o, chk.Equals, EOverwriteOption.False())
}

func (s *feSteModelsTestSuite) TestDefaults(c *chk.C) {
	c.Assert(DefaultHashValidationOption, chk.Equals, EHashValidationOption.FailIfDifferent())
	c.Assert(EOverwriteOption, chk.Equals, EOverwriteOption.True())
	c.Assert(EETagMismatchPolicy, chk.Equals, EETagMismatchPolicy.Fail())
	c.Assert(EBlobType, chk.Equals, EBlobType.Detect())
}

func (s *feSteModelsTestSuite) TestEntryStatusOrder(c *chk.C) {
	order := []EntryStatus{
		EEntryStatus.NotStarted(), EEntryStatus.Transfer(), EEntryStatus.Monitor(),
		EEntryStatus.RemoveSource(), EEntryStatus.Finished(),
	}
	for i := 1; i < len(order); i++ {
		c.Assert(order[i-1] < order[i], chk.Equals, true)
	}

	var status EntryStatus
	status.AtomicStore(EEntryStatus.Monitor())
	c.Assert(status.AtomicLoad(), chk.Equals, EEntryStatus.Monitor())
}

func (s *feSteModelsTestSuite) TestTransferKindDirections(c *chk.C) {
	c.Assert(ETransferKind.LocalToPageBlob().IsUpload(), chk.Equals, true)
	c.Assert(ETransferKind.BlockBlobToLocal().IsDownload(), chk.Equals, true)
	c.Assert(ETransferKind.BlobToBlob().IsCopy(), chk.Equals, true)
	c.Assert(ETransferKind.MonitorBlobCopy().IsCopy(), chk.Equals, true)
	c.Assert(ETransferKind.BlobToBlob().IsUpload(), chk.Equals, false)
}

func (s *feSteModelsTestSuite) TestJobIDJSON(c *chk.C) {
	id := NewJobID()
	raw, err := json.Marshal(id)
	c.Assert(err, chk.IsNil)

	var back JobID
	c.Assert(json.Unmarshal(raw, &back), chk.IsNil)
	c.Assert(back, chk.Equals, id)
	c.Assert(back.IsEmpty(), chk.Equals, false)

	parsed, err := ParseJobID(id.String())
	c.Assert(err, chk.IsNil)
	c.Assert(parsed, chk.Equals, id)
	_, err = ParseJobID("not-a-guid")
	c.Assert(err, chk.NotNil)
}
