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
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/errors"

	"github.com/wastore/blobmover/common"
)

// defaultPresignExpires is how long the service has to read an S3 object through its presigned URL
const defaultPresignExpires = 7 * 24 * time.Hour

const defaultS3Endpoint = "s3.amazonaws.com"

// S3Source lets a server-side copy read objects of one S3 bucket, through presigned URLs
type S3Source struct {
	client *minio.Client
	bucket string
}

// S3Location is where an S3 object lives
type S3Location struct {
	Endpoint string
	Bucket   string
	Key      string
}

// ParseS3URL understands s3://bucket/key, and https URLs of S3 endpoints in path style
// (https://s3.region.amazonaws.com/bucket/key) or virtual-host style (https://bucket.s3.amazonaws.com/key)
func ParseS3URL(raw string) (S3Location, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return S3Location{}, errors.Wrapf(err, "cannot parse %q", raw)
	}
	path := strings.TrimPrefix(u.Path, "/")

	switch strings.ToLower(u.Scheme) {
	case "s3":
		return S3Location{Endpoint: defaultS3Endpoint, Bucket: u.Host, Key: path}, nil
	case "https", "http":
		host := strings.ToLower(u.Host)
		if !IsS3Host(host) {
			return S3Location{}, errors.Errorf("%s is not an S3 endpoint", u.Host)
		}
		if i := strings.Index(host, ".s3"); i > 0 {
			return S3Location{Endpoint: host[i+1:], Bucket: host[:i], Key: path}, nil
		}
		parts := strings.SplitN(path, "/", 2)
		loc := S3Location{Endpoint: host, Bucket: parts[0]}
		if len(parts) == 2 {
			loc.Key = parts[1]
		}
		return loc, nil
	}
	return S3Location{}, errors.Errorf("unsupported scheme %q for an S3 location", u.Scheme)
}

// IsS3Host reports whether host is an AWS S3 endpoint
func IsS3Host(host string) bool {
	host = strings.ToLower(host)
	return strings.HasSuffix(host, ".amazonaws.com") && (strings.HasPrefix(host, "s3") || strings.Contains(host, ".s3"))
}

// NewS3Source connects to a bucket. Credentials come from AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY;
// without them the bucket is assumed to be public.
func NewS3Source(endpoint, bucket string, transport http.RoundTripper) (*S3Source, error) {
	var creds *credentials.Credentials
	id, hasID := common.LookupEnvironmentVariable(common.EEnvironmentVariable.AWSAccessKeyID())
	secret, hasSecret := common.LookupEnvironmentVariable(common.EEnvironmentVariable.AWSSecretAccessKey())
	if hasID && hasSecret {
		creds = credentials.NewStaticV4(id, secret, "")
	} else {
		creds = credentials.NewStatic("", "", "", credentials.SignatureAnonymous)
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:        creds,
		Secure:       true,
		BucketLookup: minio.BucketLookupPath,
		Transport:    transport,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "cannot connect to %s", endpoint)
	}
	return &S3Source{client: client, bucket: bucket}, nil
}

func (s *S3Source) DescribeCopySource(ctx context.Context, name string) (common.CopySourceInfo, error) {
	info, err := s.client.StatObject(ctx, s.bucket, name, minio.StatObjectOptions{})
	if err != nil {
		return common.CopySourceInfo{}, mapS3Error(err)
	}
	presigned, err := s.client.PresignedGetObject(ctx, s.bucket, name, defaultPresignExpires, url.Values{})
	if err != nil {
		return common.CopySourceInfo{}, errors.Wrapf(err, "cannot presign %s/%s", s.bucket, name)
	}
	return common.CopySourceInfo{URL: presigned.String(), ETag: info.ETag, ContentLength: info.Size}, nil
}

// Delete removes the object. S3 has no snapshots, so includeSnapshots has no effect.
func (s *S3Source) Delete(ctx context.Context, name string, includeSnapshots bool) error {
	return mapS3Error(s.client.RemoveObject(ctx, s.bucket, name, minio.RemoveObjectOptions{}))
}

func mapS3Error(err error) error {
	if err == nil {
		return nil
	}
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket":
		return &serviceError{common.ErrNotFound, err}
	case "PreconditionFailed":
		return &serviceError{common.ErrETagMismatch, err}
	}
	return err
}
