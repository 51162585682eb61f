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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseS3URL(t *testing.T) {
	a := assert.New(t)

	cases := []struct {
		url      string
		expected S3Location
	}{
		{"s3://bucket/dir/key.bin", S3Location{Endpoint: "s3.amazonaws.com", Bucket: "bucket", Key: "dir/key.bin"}},
		{"https://bucket.s3.amazonaws.com/key", S3Location{Endpoint: "s3.amazonaws.com", Bucket: "bucket", Key: "key"}},
		{"https://bucket.s3.us-west-2.amazonaws.com/a/b", S3Location{Endpoint: "s3.us-west-2.amazonaws.com", Bucket: "bucket", Key: "a/b"}},
		{"https://s3.eu-central-1.amazonaws.com/bucket/a/b", S3Location{Endpoint: "s3.eu-central-1.amazonaws.com", Bucket: "bucket", Key: "a/b"}},
		{"https://s3.amazonaws.com/bucket", S3Location{Endpoint: "s3.amazonaws.com", Bucket: "bucket"}},
	}
	for _, tc := range cases {
		loc, err := ParseS3URL(tc.url)
		a.NoError(err, tc.url)
		a.Equal(tc.expected, loc, tc.url)
	}
}

func TestParseS3URLRejectsOtherLocations(t *testing.T) {
	a := assert.New(t)

	for _, raw := range []string{
		"https://account.blob.core.windows.net/container/blob",
		"ftp://bucket.s3.amazonaws.com/key",
		"://bad",
	} {
		_, err := ParseS3URL(raw)
		a.Error(err, raw)
	}
}

func TestIsS3Host(t *testing.T) {
	a := assert.New(t)

	a.True(IsS3Host("s3.amazonaws.com"))
	a.True(IsS3Host("S3.us-east-1.amazonaws.com"))
	a.True(IsS3Host("bucket.s3.amazonaws.com"))
	a.True(IsS3Host("bucket.s3-website.us-east-1.amazonaws.com"))
	a.False(IsS3Host("ec2.amazonaws.com"))
	a.False(IsS3Host("account.blob.core.windows.net"))
	a.False(IsS3Host("s3.example.com"))
}
