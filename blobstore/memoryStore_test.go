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

package blobstore

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wastore/blobmover/common"
)

const testRoot = "https://account.blob.core.windows.net/container"

func TestStagedBlocksAreInvisibleUntilCommitted(t *testing.T) {
	a := assert.New(t)
	ctx := context.Background()
	s := NewMemoryStore(testRoot)

	a.NoError(s.PutBlock(ctx, "a", "b1", []byte("hello ")))
	a.NoError(s.PutBlock(ctx, "a", "b2", []byte("world")))
	_, err := s.GetProperties(ctx, "a")
	a.True(errors.Is(err, common.ErrNotFound))

	list, err := s.GetBlockList(ctx, "a")
	a.NoError(err)
	a.Empty(list.Committed)
	a.Len(list.Uncommitted, 2)

	a.NoError(s.PutManifest(ctx, "a", []string{"b1", "b2"}, common.BlobHeaders{ContentType: "text/plain"}, map[string]string{"k": "v"}))
	props, err := s.GetProperties(ctx, "a")
	a.NoError(err)
	a.Equal(int64(11), props.ContentLength)
	a.Equal("text/plain", props.ContentType)
	a.Equal("v", props.Metadata["k"])
	data, _ := s.Data("a")
	a.Equal("hello world", string(data))

	list, err = s.GetBlockList(ctx, "a")
	a.NoError(err)
	a.Equal([]common.BlockInfo{{Name: "b1", Size: 6}, {Name: "b2", Size: 5}}, list.Committed)
	a.Empty(list.Uncommitted)
}

func TestManifestMayReuseCommittedBlocks(t *testing.T) {
	a := assert.New(t)
	ctx := context.Background()
	s := NewMemoryStore(testRoot)

	a.NoError(s.PutBlock(ctx, "a", "b1", []byte("ab")))
	a.NoError(s.PutManifest(ctx, "a", []string{"b1"}, common.BlobHeaders{}, nil))
	a.NoError(s.PutBlock(ctx, "a", "b2", []byte("cd")))
	a.NoError(s.PutManifest(ctx, "a", []string{"b1", "b2", "b1"}, common.BlobHeaders{}, nil))
	data, _ := s.Data("a")
	a.Equal("abcdab", string(data))

	a.Error(s.PutManifest(ctx, "a", []string{"missing"}, common.BlobHeaders{}, nil))
}

func TestBlockOperationsRejectOtherBlobTypes(t *testing.T) {
	a := assert.New(t)
	ctx := context.Background()
	s := NewMemoryStore(testRoot)
	s.PutBlob("p", common.EBlobType.PageBlob(), make([]byte, 512), false)

	a.True(errors.Is(s.PutBlock(ctx, "p", "b1", []byte("x")), common.ErrTypeMismatch))
	a.True(errors.Is(s.PutManifest(ctx, "p", nil, common.BlobHeaders{}, nil), common.ErrTypeMismatch))
}

func TestGetRangeHonoursETag(t *testing.T) {
	a := assert.New(t)
	ctx := context.Background()
	s := NewMemoryStore(testRoot)
	etag := s.PutBlob("a", common.EBlobType.BlockBlob(), []byte("0123456789"), false)

	buf := make([]byte, 4)
	a.NoError(s.GetRange(ctx, "a", 3, buf, etag))
	a.Equal("3456", string(buf))
	a.True(errors.Is(s.GetRange(ctx, "a", 0, buf, `"other"`), common.ErrETagMismatch))
	a.Error(s.GetRange(ctx, "a", 8, buf, ""))

	newETag := s.PutBlob("a", common.EBlobType.BlockBlob(), []byte("abcdefghij"), false)
	a.NotEqual(etag, newETag)
}

func TestPageOperationsTrackWrittenPages(t *testing.T) {
	a := assert.New(t)
	ctx := context.Background()
	s := NewMemoryStore(testRoot)

	a.Error(s.CreatePageBlob(ctx, "p", 1000, common.BlobHeaders{}))
	a.NoError(s.CreatePageBlob(ctx, "p", 8*common.PageSize, common.BlobHeaders{}))
	ranges, err := s.GetPageRanges(ctx, "p", 0, 8*common.PageSize)
	a.NoError(err)
	a.Empty(ranges)

	page := bytes.Repeat([]byte{7}, 2*common.PageSize)
	a.NoError(s.PutPages(ctx, "p", common.PageSize, page))
	a.NoError(s.PutPages(ctx, "p", 5*common.PageSize, page[:common.PageSize]))
	a.Error(s.PutPages(ctx, "p", 100, page))

	ranges, err = s.GetPageRanges(ctx, "p", 0, 8*common.PageSize)
	a.NoError(err)
	a.Equal([]common.PageRange{
		{Offset: common.PageSize, Length: 2 * common.PageSize},
		{Offset: 5 * common.PageSize, Length: common.PageSize},
	}, ranges)

	// a query only sees the pages inside it
	ranges, err = s.GetPageRanges(ctx, "p", 2*common.PageSize, 2*common.PageSize)
	a.NoError(err)
	a.Equal([]common.PageRange{{Offset: 2 * common.PageSize, Length: common.PageSize}}, ranges)

	a.NoError(s.ClearPages(ctx, "p", common.PageSize, common.PageSize))
	bitmap := s.PageBitmap("p")
	a.False(bitmap.Test(1))
	a.True(bitmap.Test(2))
	a.Equal(2, bitmap.Count())
	data, _ := s.Data("p")
	a.Equal(make([]byte, common.PageSize), data[common.PageSize:2*common.PageSize])
}

func TestResizePageBlob(t *testing.T) {
	a := assert.New(t)
	ctx := context.Background()
	s := NewMemoryStore(testRoot)
	a.NoError(s.CreatePageBlob(ctx, "p", 4*common.PageSize, common.BlobHeaders{}))
	a.NoError(s.PutPages(ctx, "p", 3*common.PageSize, bytes.Repeat([]byte{1}, common.PageSize)))

	a.NoError(s.ResizePageBlob(ctx, "p", 2*common.PageSize))
	props, err := s.GetProperties(ctx, "p")
	a.NoError(err)
	a.Equal(int64(2*common.PageSize), props.ContentLength)
	a.Equal(0, s.PageBitmap("p").Count())

	a.NoError(s.ResizePageBlob(ctx, "p", 6*common.PageSize))
	ranges, err := s.GetPageRanges(ctx, "p", 0, 6*common.PageSize)
	a.NoError(err)
	a.Empty(ranges)

	s.PutBlob("b", common.EBlobType.BlockBlob(), []byte("x"), false)
	a.True(errors.Is(s.ResizePageBlob(ctx, "b", common.PageSize), common.ErrTypeMismatch))
}

func TestCopyStaysPendingForConfiguredPolls(t *testing.T) {
	a := assert.New(t)
	ctx := context.Background()
	s := NewMemoryStore(testRoot)
	content := bytes.Repeat([]byte("copy"), 1000)
	etag := s.PutBlob("src", common.EBlobType.BlockBlob(), content, true)
	s.SetCopyPolls(2)

	result, err := s.StartCopy(ctx, "dst", s.URL("src"), etag)
	a.NoError(err)
	a.NotEmpty(result.CopyID)
	a.Equal(common.ECopyStatus.Pending(), result.Status)

	_, err = s.StartCopy(ctx, "dst", s.URL("src"), etag)
	a.True(errors.Is(err, common.ErrPendingCopy))

	var copied []int64
	for i := 0; i < 3; i++ {
		props, err := s.GetProperties(ctx, "dst")
		a.NoError(err)
		a.Equal(result.CopyID, props.CopyID)
		a.Equal(s.URL("src"), props.CopySource)
		a.Equal(int64(len(content)), props.CopyBytesTotal)
		copied = append(copied, props.CopyBytesCopied)
		if i < 2 {
			a.Equal(common.ECopyStatus.Pending(), props.CopyStatus)
		} else {
			a.Equal(common.ECopyStatus.Success(), props.CopyStatus)
			a.Equal(int64(len(content)), props.ContentLength)
		}
	}
	a.Less(copied[0], copied[1])
	a.Equal(int64(len(content)), copied[2])
	data, _ := s.Data("dst")
	a.Equal(content, data)
}

func TestCopySourceETagIsChecked(t *testing.T) {
	a := assert.New(t)
	ctx := context.Background()
	s := NewMemoryStore(testRoot)
	s.PutBlob("src", common.EBlobType.BlockBlob(), []byte("x"), false)

	_, err := s.StartCopy(ctx, "dst", s.URL("src"), `"stale"`)
	a.True(errors.Is(err, common.ErrETagMismatch))
	_, err = s.StartCopy(ctx, "dst", s.URL("missing"), "")
	a.True(errors.Is(err, common.ErrNotFound))
	_, err = s.StartCopy(ctx, "dst", "https://elsewhere.example.com/x", "")
	a.Error(err)
	a.False(s.Exists("dst"))
}

func TestCopyReadsFromLinkedStore(t *testing.T) {
	a := assert.New(t)
	ctx := context.Background()
	src := NewMemoryStore("https://other.blob.core.windows.net/c")
	dst := NewMemoryStore(testRoot)
	dst.Link(src)
	src.PutBlob("a", common.EBlobType.PageBlob(), bytes.Repeat([]byte{1}, common.PageSize), false)

	result, err := dst.StartCopy(ctx, "b", src.URL("a"), "")
	a.NoError(err)
	a.Equal(common.ECopyStatus.Success(), result.Status)
	props, err := dst.GetProperties(ctx, "b")
	a.NoError(err)
	a.Equal(common.EBlobType.PageBlob(), props.BlobType)
	a.Equal(1, dst.PageBitmap("b").Count())
}

func TestSnapshotsSurviveWritesAndBlockPlainDelete(t *testing.T) {
	a := assert.New(t)
	ctx := context.Background()
	s := NewMemoryStore(testRoot)
	s.PutBlob("a", common.EBlobType.BlockBlob(), []byte("v1"), false)
	snap, err := s.Snapshot("a")
	a.NoError(err)
	a.Contains(snap, "a?snapshot=")
	s.PutBlob("a", common.EBlobType.BlockBlob(), []byte("v2"), false)

	data, ok := s.Data(snap)
	a.True(ok)
	a.Equal("v1", string(data))

	a.Error(s.Delete(ctx, "a", false))
	a.True(s.Exists("a"))

	a.NoError(s.Delete(ctx, snap, false))
	a.False(s.Exists(snap))
	a.True(errors.Is(s.Delete(ctx, snap, false), common.ErrNotFound))

	_, err = s.Snapshot("a")
	a.NoError(err)
	a.NoError(s.Delete(ctx, "a", true))
	a.False(s.Exists("a"))
	a.True(errors.Is(s.Delete(ctx, "a", true), common.ErrNotFound))
}

func TestFaultsAndCallCounts(t *testing.T) {
	a := assert.New(t)
	ctx := context.Background()
	s := NewMemoryStore(testRoot)
	s.PutBlob("a", common.EBlobType.BlockBlob(), []byte("x"), false)

	boom := errors.New("boom")
	s.SetFault(func(op, name string) error {
		if op == "GetRange" && name == "a" {
			return boom
		}
		return nil
	})
	a.Equal(boom, s.GetRange(ctx, "a", 0, make([]byte, 1), ""))
	_, err := s.GetProperties(ctx, "a")
	a.NoError(err)
	a.Equal(1, s.Calls("GetRange"))
	a.Equal(1, s.Calls("GetProperties"))

	s.ResetCalls()
	s.SetFault(nil)
	a.NoError(s.GetRange(ctx, "a", 0, make([]byte, 1), ""))
	a.Equal(1, s.Calls("GetRange"))
	a.Equal(0, s.Calls("GetProperties"))
}

func TestForeignCopyStateStaysPending(t *testing.T) {
	a := assert.New(t)
	ctx := context.Background()
	s := NewMemoryStore(testRoot)
	s.PutBlob("a", common.EBlobType.BlockBlob(), []byte("x"), false)
	a.NoError(s.SetCopyState("a", "foreign", common.ECopyStatus.Pending(), "https://x/y"))
	a.True(errors.Is(s.SetCopyState("missing", "id", common.ECopyStatus.Pending(), ""), common.ErrNotFound))

	for i := 0; i < 5; i++ {
		props, err := s.GetProperties(ctx, "a")
		a.NoError(err)
		a.Equal("foreign", props.CopyID)
		a.Equal(common.ECopyStatus.Pending(), props.CopyStatus)
	}
}

func TestDescribeCopySource(t *testing.T) {
	a := assert.New(t)
	s := NewMemoryStore(testRoot + "/")
	etag := s.PutBlob("dir/a", common.EBlobType.BlockBlob(), []byte("abc"), false)

	info, err := s.DescribeCopySource(context.Background(), "dir/a")
	a.NoError(err)
	a.Equal(testRoot+"/dir/a", info.URL)
	a.Equal(etag, info.ETag)
	a.Equal(int64(3), info.ContentLength)
}
