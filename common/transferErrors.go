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
	"fmt"
	"reflect"

	"github.com/JeffreyRichter/enum/enum"
	"github.com/pkg/errors"
)

// ErrorKind classifies a transfer failure, so that callers can decide between
// retrying, restarting from scratch, or giving up
type ErrorKind uint8

var EErrorKind = ErrorKind(0)

// Transient errors are network or service failures that outlived the store client's own retries
func (ErrorKind) Transient() ErrorKind { return ErrorKind(0) }

// Precondition errors are bad arguments, rejected before any state machine runs
func (ErrorKind) Precondition() ErrorKind { return ErrorKind(1) }

// Consistency errors mean persisted or remote state disagrees with what we expected
func (ErrorKind) Consistency() ErrorKind { return ErrorKind(2) }

// Integrity errors mean the data moved, but its digest did not match
func (ErrorKind) Integrity() ErrorKind { return ErrorKind(3) }

// HostCallback errors came out of caller-supplied hooks
func (ErrorKind) HostCallback() ErrorKind { return ErrorKind(4) }

func (ErrorKind) Cancelled() ErrorKind { return ErrorKind(5) }

func (k ErrorKind) String() string {
	return enum.StringInt(k, reflect.TypeOf(k))
}

func (k *ErrorKind) Parse(s string) error {
	val, err := enum.ParseInt(reflect.TypeOf(k), s, true, true)
	if err == nil {
		*k = val.(ErrorKind)
	}
	return err
}

////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////

var (
	ErrTypeMismatch        = errors.New("destination exists with a different blob type than this transfer creates")
	ErrETagMismatch        = errors.New("the remote object changed since this transfer was checkpointed")
	ErrCorruptedCheckpoint = errors.New("checkpoint does not match the chunk layout of the object")
	ErrCopyConflict        = errors.New("a different copy operation is already pending on the destination")
	ErrCopyIDMismatch      = errors.New("the copy operation on the destination is not the one this transfer started")
	ErrCopyFailed          = errors.New("server-side copy did not succeed")
	ErrDigestMismatch      = errors.New("the MD5 hash of the data, as transferred, did not match the expected value")
	ErrDestinationExists   = errors.New("the destination already exists and overwriting is disabled")
	ErrPendingCopy         = errors.New("there is currently a pending copy operation")
	ErrNotFound            = errors.New("the specified blob does not exist")
)

// TransferError carries the kind of a failure, plus the operation that hit it
type TransferError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *TransferError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s failed (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// Cause lets errors.Cause see through to the underlying error
func (e *TransferError) Cause() error {
	return e.Err
}

func newTransferError(kind ErrorKind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransferError{Kind: kind, Op: op, Err: errors.WithStack(err)}
}

func NewPreconditionError(format string, args ...interface{}) error {
	return &TransferError{Kind: EErrorKind.Precondition(), Err: errors.Errorf(format, args...)}
}

func NewConsistencyError(op string, err error) error {
	return newTransferError(EErrorKind.Consistency(), op, err)
}

func NewIntegrityError(op string, err error) error {
	return newTransferError(EErrorKind.Integrity(), op, err)
}

func NewHostCallbackError(op string, err error) error {
	return newTransferError(EErrorKind.HostCallback(), op, err)
}

func NewCancelledError(op string, err error) error {
	return newTransferError(EErrorKind.Cancelled(), op, err)
}

// WrapOperationError attaches the operation name and a kind to an error returned by a collaborator.
// Errors that already carry a kind keep it.
func WrapOperationError(op string, err error) error {
	if err == nil {
		return nil
	}
	var te *TransferError
	if errors.As(err, &te) {
		if te.Op == "" {
			return &TransferError{Kind: te.Kind, Op: op, Err: te.Err}
		}
		return err
	}
	return newTransferError(kindOfSentinel(err), op, err)
}

// kindOfSentinel maps well known causes onto their kind. Anything else is transient.
func kindOfSentinel(err error) ErrorKind {
	switch {
	case errors.Is(err, context.Canceled):
		return EErrorKind.Cancelled()
	case errors.Is(err, ErrTypeMismatch),
		errors.Is(err, ErrETagMismatch),
		errors.Is(err, ErrCorruptedCheckpoint),
		errors.Is(err, ErrCopyConflict),
		errors.Is(err, ErrCopyIDMismatch):
		return EErrorKind.Consistency()
	case errors.Is(err, ErrDigestMismatch):
		return EErrorKind.Integrity()
	case errors.Is(err, ErrDestinationExists):
		return EErrorKind.Precondition()
	}
	return EErrorKind.Transient()
}

// KindOf classifies any error. Errors that nobody classified are treated as transient,
// i.e. as remote failures that survived the store client's retries.
func KindOf(err error) ErrorKind {
	var te *TransferError
	if errors.As(err, &te) {
		return te.Kind
	}
	return kindOfSentinel(err)
}

func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}
