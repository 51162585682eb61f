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
	"context"
	"net/url"
	"strings"
	"time"
)

// BlobProperties is the subset of a remote object's properties that the transfer engine relies on
type BlobProperties struct {
	Name          string
	BlobType      BlobType
	ContentLength int64
	ETag          string
	LastModified  time.Time
	ContentMD5    []byte
	ContentType   string
	Metadata      map[string]string

	// copy state, as recorded on a copy destination
	CopyID                string
	CopyStatus            CopyStatus
	CopySource            string
	CopyStatusDescription string
	CopyBytesCopied       int64
	CopyBytesTotal        int64
}

type BlockInfo struct {
	Name string
	Size int64
}

type BlockList struct {
	Committed   []BlockInfo
	Uncommitted []BlockInfo
}

// PageRange is a half-open byte range [Offset, Offset+Length) of a page blob
type PageRange struct {
	Offset int64
	Length int64
}

func (r PageRange) End() int64 {
	return r.Offset + r.Length
}

type BlobHeaders struct {
	ContentType string
	ContentMD5  []byte
}

type StartCopyResult struct {
	CopyID string
	Status CopyStatus
}

// RemoteBlobClient is everything the transfer engine needs from a blob store, addressed by
// blob name within one container. Implementations own their retry policy: an error returned
// here has already survived the client's retries.
type RemoteBlobClient interface {
	// URL returns the full URL of the named blob, including any credential the store was built with
	URL(name string) string

	// GetProperties returns an error that wraps ErrNotFound when the blob does not exist
	GetProperties(ctx context.Context, name string) (*BlobProperties, error)

	// GetRange reads exactly len(dst) bytes, starting at offset. A non-empty ifMatch makes the
	// read conditional on the blob still having that ETag.
	GetRange(ctx context.Context, name string, offset int64, dst []byte, ifMatch string) error

	PutBlock(ctx context.Context, name string, blockID string, data []byte) error
	GetBlockList(ctx context.Context, name string) (BlockList, error)
	// PutManifest commits the ordered block list, with headers and metadata, in one call
	PutManifest(ctx context.Context, name string, blockIDs []string, headers BlobHeaders, metadata map[string]string) error

	CreatePageBlob(ctx context.Context, name string, size int64, headers BlobHeaders) error
	ResizePageBlob(ctx context.Context, name string, size int64) error
	PutPages(ctx context.Context, name string, offset int64, data []byte) error
	ClearPages(ctx context.Context, name string, offset int64, count int64) error
	// GetPageRanges lists the occupied ranges that intersect [offset, offset+count)
	GetPageRanges(ctx context.Context, name string, offset int64, count int64) ([]PageRange, error)

	// StartCopy returns an error wrapping ErrPendingCopy if a copy is already pending on the destination
	StartCopy(ctx context.Context, name string, sourceURL string, sourceETag string) (StartCopyResult, error)
	// AbortCopy stops the pending copy copyID, leaving an empty destination
	AbortCopy(ctx context.Context, name string, copyID string) error
	Delete(ctx context.Context, name string, includeSnapshots bool) error
	SetProperties(ctx context.Context, name string, headers BlobHeaders) error
}

// CopySourceInfo describes the source of a server-side copy
type CopySourceInfo struct {
	// URL is what the destination service will read from, credentials included
	URL           string
	ETag          string
	ContentLength int64
}

// CopySourceResolver is anything a server-side copy can read from
type CopySourceResolver interface {
	DescribeCopySource(ctx context.Context, name string) (CopySourceInfo, error)
	Delete(ctx context.Context, name string, includeSnapshots bool) error
}

////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////

var copySourceIdentityQueryKeys = []string{"snapshot", "versionid"}

// CopySourceIdentity reduces a copy source URL to what identifies the object: scheme, host and path,
// plus the snapshot or version marker. Credentials in the query string are dropped, so two URLs for the
// same object with different SAS tokens compare equal.
func CopySourceIdentity(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	identity := strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host) + u.EscapedPath()

	q := u.Query()
	var markers []string
	for _, key := range copySourceIdentityQueryKeys {
		for k, v := range q {
			if strings.EqualFold(k, key) && len(v) > 0 {
				markers = append(markers, key+"="+v[0])
			}
		}
	}
	if len(markers) > 0 {
		identity += "?" + strings.Join(markers, "&")
	}
	return identity
}
