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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCopySourceIdentityIgnoresCredentials(t *testing.T) {
	a := assert.New(t)

	plain := CopySourceIdentity("https://account.blob.core.windows.net/c/dir/a.bin")
	a.Equal("https://account.blob.core.windows.net/c/dir/a.bin", plain)
	a.Equal(plain, CopySourceIdentity("https://account.blob.core.windows.net/c/dir/a.bin?sv=2023&sig=one"))
	a.Equal(plain, CopySourceIdentity("HTTPS://Account.Blob.Core.Windows.Net/c/dir/a.bin?sig=two"))
	a.NotEqual(plain, CopySourceIdentity("https://account.blob.core.windows.net/c/dir/A.bin"))
}

func TestCopySourceIdentityKeepsSnapshotAndVersion(t *testing.T) {
	a := assert.New(t)

	snap := CopySourceIdentity("https://account.blob.core.windows.net/c/a?sig=x&snapshot=2024-01-01T00:00:00.0000000Z")
	a.Equal("https://account.blob.core.windows.net/c/a?snapshot=2024-01-01T00:00:00.0000000Z", snap)
	a.NotEqual(CopySourceIdentity("https://account.blob.core.windows.net/c/a"), snap)

	version := CopySourceIdentity("https://account.blob.core.windows.net/c/a?versionId=v1&sig=x")
	a.Equal("https://account.blob.core.windows.net/c/a?versionid=v1", version)
}

func TestPageRangeEnd(t *testing.T) {
	assert.Equal(t, int64(1536), PageRange{Offset: 512, Length: 1024}.End())
}
