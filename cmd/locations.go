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
	"fmt"
	"net/url"
	"reflect"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/JeffreyRichter/enum/enum"

	"github.com/wastore/blobmover/blobstore"
	"github.com/wastore/blobmover/common"
	"github.com/wastore/blobmover/ste"
)

// Location is the kind of place a command line argument points at
type Location uint8

var ELocation = Location(0)

func (Location) Unknown() Location { return Location(0) }
func (Location) Local() Location   { return Location(1) }
func (Location) Blob() Location    { return Location(2) }
func (Location) S3() Location      { return Location(3) }

func (l Location) String() string {
	return enum.StringInt(l, reflect.TypeOf(l))
}

func (l *Location) Parse(s string) error {
	val, err := enum.ParseInt(reflect.TypeOf(l), s, true, true)
	if err == nil {
		*l = val.(Location)
	}
	return err
}

// InferArgumentLocation guesses what an argument refers to. Anything that is not an http(s) or s3 URL is a local path.
func InferArgumentLocation(arg string) Location {
	u, err := url.Parse(arg)
	if err != nil || u.Host == "" {
		return ELocation.Local()
	}
	switch strings.ToLower(u.Scheme) {
	case "s3":
		return ELocation.S3()
	case "http", "https":
		if blobstore.IsS3Host(u.Host) {
			return ELocation.S3()
		}
		return ELocation.Blob()
	}
	return ELocation.Unknown()
}

// transferKindOf maps a source and destination location pair onto the transfer that moves data between them
func transferKindOf(src, dst Location, blobType common.BlobType) (common.TransferKind, error) {
	switch {
	case src == ELocation.Local() && dst == ELocation.Blob():
		if blobType == common.EBlobType.PageBlob() {
			return common.ETransferKind.LocalToPageBlob(), nil
		}
		if blobType == common.EBlobType.AppendBlob() {
			return common.ETransferKind.Unknown(), fmt.Errorf("uploading to an append blob is not supported")
		}
		return common.ETransferKind.LocalToBlockBlob(), nil
	case src == ELocation.Blob() && dst == ELocation.Local():
		// the blob type decides the kind once the blob was looked at
		return common.ETransferKind.BlockBlobToLocal(), nil
	case (src == ELocation.Blob() || src == ELocation.S3()) && dst == ELocation.Blob():
		return common.ETransferKind.BlobToBlob(), nil
	}
	return common.ETransferKind.Unknown(), fmt.Errorf("copying from %s to %s is not supported", src, dst)
}

// splitBlobURL separates a blob URL into the container URL the store is rooted at, SAS included,
// and the name of the blob within it. A snapshot or version stays with the name.
func splitBlobURL(raw string) (root, name string, err error) {
	parts, err := blob.ParseURL(raw)
	if err != nil {
		return "", "", fmt.Errorf("cannot parse %q as a blob URL: %w", redactURL(raw), err)
	}
	if parts.ContainerName == "" || parts.BlobName == "" {
		return "", "", fmt.Errorf("%q does not address a blob", redactURL(raw))
	}

	name = parts.BlobName
	switch {
	case parts.Snapshot != "":
		name += "?snapshot=" + parts.Snapshot
	case parts.VersionID != "":
		name += "?versionid=" + parts.VersionID
	}

	parts.BlobName, parts.Snapshot, parts.VersionID = "", "", ""
	return parts.String(), name, nil
}

// splitS3URL does the same for S3 objects. The root is always in path style, so that it can be parsed again on resume.
func splitS3URL(raw string) (root, name string, err error) {
	loc, err := blobstore.ParseS3URL(raw)
	if err != nil {
		return "", "", err
	}
	if loc.Bucket == "" || loc.Key == "" {
		return "", "", fmt.Errorf("%q does not address an S3 object", redactURL(raw))
	}
	return "https://" + loc.Endpoint + "/" + loc.Bucket, loc.Key, nil
}

// splitLocation dispatches to the splitter of the argument's location. Local paths have no root.
func splitLocation(arg string, loc Location) (root, name string, err error) {
	switch loc {
	case ELocation.Blob():
		return splitBlobURL(arg)
	case ELocation.S3():
		return splitS3URL(arg)
	case ELocation.Local():
		return "", arg, nil
	}
	return "", "", fmt.Errorf("the location of %q could not be identified", redactURL(arg))
}

// redactURL hides the query string, which carries SAS tokens and signatures
func redactURL(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		return raw[:i] + "?REDACTED"
	}
	return raw
}

// redactRecord prepares a checkpoint record for display
func redactRecord(r ste.CheckpointRecord) ste.CheckpointRecord {
	r.SourceRoot = redactURL(r.SourceRoot)
	r.DestinationRoot = redactURL(r.DestinationRoot)
	return r
}
