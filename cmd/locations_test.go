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

package cmd

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wastore/blobmover/common"
	"github.com/wastore/blobmover/ste"
)

func TestInferArgumentLocation(t *testing.T) {
	a := assert.New(t)
	cases := []struct {
		arg      string
		expected Location
	}{
		{"/tmp/file.bin", ELocation.Local()},
		{"relative/file.bin", ELocation.Local()},
		{`C:\data\file.bin`, ELocation.Local()},
		{"https://acct.blob.core.windows.net/cont/file.bin", ELocation.Blob()},
		{"http://127.0.0.1:10000/devstoreaccount1/cont/file.bin", ELocation.Blob()},
		{"s3://bucket/dir/key", ELocation.S3()},
		{"https://bucket.s3.amazonaws.com/key", ELocation.S3()},
		{"https://s3.us-west-2.amazonaws.com/bucket/key", ELocation.S3()},
		{"ftp://host/file.bin", ELocation.Unknown()},
	}
	for _, c := range cases {
		a.Equal(c.expected, InferArgumentLocation(c.arg), c.arg)
	}
}

func TestLocationParseIsCaseInsensitive(t *testing.T) {
	a := assert.New(t)
	var l Location
	a.NoError(l.Parse("blob"))
	a.Equal(ELocation.Blob(), l)
	a.Equal("S3", ELocation.S3().String())
	a.Error(l.Parse("ftp"))
}

func TestTransferKindOf(t *testing.T) {
	a := assert.New(t)
	detect := common.EBlobType.Detect()

	kind, err := transferKindOf(ELocation.Local(), ELocation.Blob(), detect)
	a.NoError(err)
	a.Equal(common.ETransferKind.LocalToBlockBlob(), kind)

	kind, err = transferKindOf(ELocation.Local(), ELocation.Blob(), common.EBlobType.PageBlob())
	a.NoError(err)
	a.Equal(common.ETransferKind.LocalToPageBlob(), kind)

	_, err = transferKindOf(ELocation.Local(), ELocation.Blob(), common.EBlobType.AppendBlob())
	a.Error(err)

	kind, err = transferKindOf(ELocation.Blob(), ELocation.Local(), detect)
	a.NoError(err)
	a.Equal(common.ETransferKind.BlockBlobToLocal(), kind)

	for _, src := range []Location{ELocation.Blob(), ELocation.S3()} {
		kind, err = transferKindOf(src, ELocation.Blob(), detect)
		a.NoError(err)
		a.Equal(common.ETransferKind.BlobToBlob(), kind)
	}

	_, err = transferKindOf(ELocation.Local(), ELocation.Local(), detect)
	a.Error(err)
	_, err = transferKindOf(ELocation.S3(), ELocation.Local(), detect)
	a.Error(err)
}

func TestSplitBlobURL(t *testing.T) {
	a := assert.New(t)

	root, name, err := splitBlobURL("https://acct.blob.core.windows.net/cont/dir/file.bin?sv=2020-02-10&sig=secret")
	a.NoError(err)
	a.Equal("dir/file.bin", name)
	a.True(strings.HasPrefix(root, "https://acct.blob.core.windows.net/cont?"), root)
	a.Contains(root, "sig=secret")

	_, name, err = splitBlobURL("https://acct.blob.core.windows.net/cont/file.bin?snapshot=2021-01-01T00:00:00.0000000Z")
	a.NoError(err)
	a.Equal("file.bin?snapshot=2021-01-01T00:00:00.0000000Z", name)

	_, _, err = splitBlobURL("https://acct.blob.core.windows.net/cont?sig=secret")
	a.Error(err)
	a.NotContains(err.Error(), "secret")
}

func TestSplitS3URL(t *testing.T) {
	a := assert.New(t)

	root, name, err := splitS3URL("s3://bucket/dir/key")
	a.NoError(err)
	a.Equal("https://s3.amazonaws.com/bucket", root)
	a.Equal("dir/key", name)

	// the root parses back to the same bucket
	root, name, err = splitS3URL("https://bucket.s3.us-west-2.amazonaws.com/key")
	a.NoError(err)
	a.Equal("https://s3.us-west-2.amazonaws.com/bucket", root)
	a.Equal("key", name)
	a.Equal(ELocation.S3(), InferArgumentLocation(root))

	_, _, err = splitS3URL("s3://bucket")
	a.Error(err)
}

func TestSplitLocationOfLocalPath(t *testing.T) {
	a := assert.New(t)
	root, name, err := splitLocation("/tmp/file.bin", ELocation.Local())
	a.NoError(err)
	a.Empty(root)
	a.Equal("/tmp/file.bin", name)

	_, _, err = splitLocation("ftp://host/file.bin", ELocation.Unknown())
	a.Error(err)
}

func TestRedactURL(t *testing.T) {
	a := assert.New(t)
	a.Equal("https://acct/cont?REDACTED", redactURL("https://acct/cont?sv=1&sig=secret"))
	a.Equal("https://acct/cont", redactURL("https://acct/cont"))

	r := redactRecord(ste.CheckpointRecord{SourceRoot: "https://a/c?sig=x", DestinationRoot: "", Source: "file"})
	a.Equal("https://a/c?REDACTED", r.SourceRoot)
	a.Empty(r.DestinationRoot)
	a.Equal("file", r.Source)
}
