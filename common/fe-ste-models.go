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
	"reflect"
	"sync/atomic"

	"github.com/JeffreyRichter/enum/enum"
	"github.com/google/uuid"
)

const (
	KiB = 1024
	MiB = 1024 * KiB
	GiB = 1024 * MiB

	// PageSize is the alignment unit of page blobs
	PageSize = 512

	DefaultBlockBlobBlockSize = 8 * MiB
	DefaultPageBlobChunkSize  = 4 * MiB
	MaxBlockBlobBlockSize     = 4000 * MiB
	MaxNumberOfBlocksPerBlob  = 50000
)

////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////

type JobID uuid.UUID

func NewJobID() JobID {
	return JobID(uuid.New())
}

func ParseJobID(jobID string) (JobID, error) {
	u, err := uuid.Parse(jobID)
	if err != nil {
		return JobID{}, err
	}
	return JobID(u), nil
}

func (j JobID) IsEmpty() bool {
	return j == JobID{}
}

func (j JobID) String() string {
	return uuid.UUID(j).String()
}

func (j JobID) MarshalJSON() ([]byte, error) {
	return json.Marshal(j.String())
}

func (j *JobID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	jobID, err := ParseJobID(s)
	if err != nil {
		return err
	}
	*j = jobID
	return nil
}

////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////

// EntryStatus is the coarse, persisted phase of a transfer entry.
// Values are ordered; a transfer only ever moves forwards through them.
type EntryStatus uint32 // Must be 32-bit for atomic operations

var EEntryStatus = EntryStatus(0)

func (EntryStatus) NotStarted() EntryStatus   { return EntryStatus(0) }
func (EntryStatus) Transfer() EntryStatus     { return EntryStatus(1) }
func (EntryStatus) Monitor() EntryStatus      { return EntryStatus(2) }
func (EntryStatus) RemoveSource() EntryStatus { return EntryStatus(3) }
func (EntryStatus) Finished() EntryStatus     { return EntryStatus(4) }

func (s *EntryStatus) AtomicLoad() EntryStatus {
	return EntryStatus(atomic.LoadUint32((*uint32)(s)))
}

func (s *EntryStatus) AtomicStore(newStatus EntryStatus) {
	atomic.StoreUint32((*uint32)(s), uint32(newStatus))
}

func (s EntryStatus) String() string {
	return enum.StringInt(s, reflect.TypeOf(s))
}

func (s *EntryStatus) Parse(str string) error {
	val, err := enum.ParseInt(reflect.TypeOf(s), str, true, true)
	if err == nil {
		*s = val.(EntryStatus)
	}
	return err
}

////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////

// TransferKind selects which controller variant handles an entry
type TransferKind uint8

var ETransferKind = TransferKind(0)

func (TransferKind) Unknown() TransferKind           { return TransferKind(0) }
func (TransferKind) LocalToBlockBlob() TransferKind  { return TransferKind(1) }
func (TransferKind) LocalToPageBlob() TransferKind   { return TransferKind(2) }
func (TransferKind) BlockBlobToLocal() TransferKind  { return TransferKind(3) }
func (TransferKind) PageBlobToLocal() TransferKind   { return TransferKind(4) }
func (TransferKind) BlobToBlob() TransferKind        { return TransferKind(5) }
func (TransferKind) MonitorBlobCopy() TransferKind   { return TransferKind(6) }

func (k TransferKind) IsUpload() bool {
	return k == ETransferKind.LocalToBlockBlob() || k == ETransferKind.LocalToPageBlob()
}

func (k TransferKind) IsDownload() bool {
	return k == ETransferKind.BlockBlobToLocal() || k == ETransferKind.PageBlobToLocal()
}

func (k TransferKind) IsCopy() bool {
	return k == ETransferKind.BlobToBlob() || k == ETransferKind.MonitorBlobCopy()
}

func (k TransferKind) String() string {
	return enum.StringInt(k, reflect.TypeOf(k))
}

func (k *TransferKind) Parse(s string) error {
	val, err := enum.ParseInt(reflect.TypeOf(k), s, true, true)
	if err == nil {
		*k = val.(TransferKind)
	}
	return err
}

////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////

type BlobType uint8

var EBlobType = BlobType(0)

func (BlobType) Detect() BlobType     { return BlobType(0) }
func (BlobType) BlockBlob() BlobType  { return BlobType(1) }
func (BlobType) PageBlob() BlobType   { return BlobType(2) }
func (BlobType) AppendBlob() BlobType { return BlobType(3) }

func (b BlobType) String() string {
	return enum.StringInt(b, reflect.TypeOf(b))
}

func (b *BlobType) Parse(s string) error {
	val, err := enum.ParseInt(reflect.TypeOf(b), s, true, true)
	if err == nil {
		*b = val.(BlobType)
	}
	return err
}

////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////

type HashValidationOption uint8

var EHashValidationOption = HashValidationOption(0)

var DefaultHashValidationOption = EHashValidationOption.FailIfDifferent()

// NoCheck skips the check entirely
func (HashValidationOption) NoCheck() HashValidationOption { return HashValidationOption(0) }

// LogOnly logs mismatches and missing hashes, but does not fail the transfer
func (HashValidationOption) LogOnly() HashValidationOption { return HashValidationOption(1) }

// FailIfDifferent fails when the stored hash is present and different. A missing hash is logged.
func (HashValidationOption) FailIfDifferent() HashValidationOption { return HashValidationOption(2) }

// FailIfDifferentOrMissing also fails when no hash is stored against the remote object
func (HashValidationOption) FailIfDifferentOrMissing() HashValidationOption {
	return HashValidationOption(3)
}

func (hvo HashValidationOption) String() string {
	return enum.StringInt(hvo, reflect.TypeOf(hvo))
}

func (hvo *HashValidationOption) Parse(s string) error {
	val, err := enum.ParseInt(reflect.TypeOf(hvo), s, true, true)
	if err == nil {
		*hvo = val.(HashValidationOption)
	}
	return err
}

////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////

// ETagMismatchPolicy decides what happens when a resumed transfer finds that the
// remote (or local source) content changed since the checkpoint was written
type ETagMismatchPolicy uint8

var EETagMismatchPolicy = ETagMismatchPolicy(0)

func (ETagMismatchPolicy) Fail() ETagMismatchPolicy    { return ETagMismatchPolicy(0) }
func (ETagMismatchPolicy) Restart() ETagMismatchPolicy { return ETagMismatchPolicy(1) }

func (p ETagMismatchPolicy) String() string {
	return enum.StringInt(p, reflect.TypeOf(p))
}

func (p *ETagMismatchPolicy) Parse(s string) error {
	val, err := enum.ParseInt(reflect.TypeOf(p), s, true, true)
	if err == nil {
		*p = val.(ETagMismatchPolicy)
	}
	return err
}

////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////

type OverwriteOption uint8

var EOverwriteOption = OverwriteOption(0)

func (OverwriteOption) True() OverwriteOption  { return OverwriteOption(0) }
func (OverwriteOption) False() OverwriteOption { return OverwriteOption(1) }

func (o OverwriteOption) String() string {
	return enum.StringInt(o, reflect.TypeOf(o))
}

func (o *OverwriteOption) Parse(s string) error {
	val, err := enum.ParseInt(reflect.TypeOf(o), s, true, true)
	if err == nil {
		*o = val.(OverwriteOption)
	}
	return err
}

////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////

type CopyStatus uint8

var ECopyStatus = CopyStatus(0)

func (CopyStatus) None() CopyStatus    { return CopyStatus(0) }
func (CopyStatus) Pending() CopyStatus { return CopyStatus(1) }
func (CopyStatus) Success() CopyStatus { return CopyStatus(2) }
func (CopyStatus) Aborted() CopyStatus { return CopyStatus(3) }
func (CopyStatus) Failed() CopyStatus  { return CopyStatus(4) }

func (c CopyStatus) String() string {
	return enum.StringInt(c, reflect.TypeOf(c))
}

func (c *CopyStatus) Parse(s string) error {
	val, err := enum.ParseInt(reflect.TypeOf(c), s, true, true)
	if err == nil {
		*c = val.(CopyStatus)
	}
	return err
}
