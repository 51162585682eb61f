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
	"errors"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"

	"github.com/wastore/blobmover/common"
)

// serviceError carries a service failure together with the sentinel the transfer engine matches on
type serviceError struct {
	sentinel error
	err      error
}

func (e *serviceError) Error() string {
	return e.sentinel.Error() + ": " + e.err.Error()
}

func (e *serviceError) Unwrap() []error {
	return []error{e.sentinel, e.err}
}

// mapServiceError attaches the engine's sentinels to the service errors it reacts to
func mapServiceError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case bloberror.HasCode(err, bloberror.PendingCopyOperation):
		return &serviceError{common.ErrPendingCopy, err}
	case bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound, bloberror.ResourceNotFound):
		return &serviceError{common.ErrNotFound, err}
	case bloberror.HasCode(err, bloberror.ConditionNotMet, bloberror.SourceConditionNotMet, bloberror.TargetConditionNotMet):
		return &serviceError{common.ErrETagMismatch, err}
	case bloberror.HasCode(err, bloberror.InvalidBlobType):
		return &serviceError{common.ErrTypeMismatch, err}
	}

	var re *azcore.ResponseError
	if errors.As(err, &re) {
		switch re.StatusCode {
		case http.StatusNotFound:
			return &serviceError{common.ErrNotFound, err}
		case http.StatusPreconditionFailed:
			return &serviceError{common.ErrETagMismatch, err}
		}
	}
	return err
}
