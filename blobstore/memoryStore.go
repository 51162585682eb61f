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
	"crypto/md5"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/wastore/blobmover/common"
)

// MemoryStore is a RemoteBlobClient and CopySourceResolver held entirely in memory. It counts the
// calls made to it, can be told to fail them, and simulates copies that stay pending for a while.
type MemoryStore struct {
	root string

	mu        sync.Mutex
	blobs     map[string]*memBlob
	snapshots map[string]*memBlob
	calls     map[string]int
	links     []*MemoryStore
	fault     func(op, name string) error
	copyPolls int
	seq       int
}

type memBlob struct {
	blobType     common.BlobType
	data         []byte
	etag         string
	lastModified time.Time
	headers      common.BlobHeaders
	metadata     map[string]string
	// uncommitted is set while a block blob only has staged blocks; such a blob is not visible yet
	uncommitted bool

	// block blobs
	committed []common.BlockInfo
	blockData map[string][]byte
	staged    map[string][]byte

	// page blobs: one bit per page that holds data
	pages common.Bitmap

	copyID          string
	copyStatus      common.CopyStatus
	copySource      string
	copyDescription string
	copyPollsLeft   int
	copyPolls       int
	copyFrom        *memBlob
}

// NewMemoryStore makes an empty store whose blob URLs start with root
func NewMemoryStore(root string) *MemoryStore {
	return &MemoryStore{
		root:      strings.TrimSuffix(root, "/"),
		blobs:     map[string]*memBlob{},
		snapshots: map[string]*memBlob{},
		calls:     map[string]int{},
	}
}

// Link lets copies into this store read from other
func (s *MemoryStore) Link(other *MemoryStore) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links = append(s.links, other)
}

// SetFault installs f, consulted before every operation. A non-nil result fails the operation.
func (s *MemoryStore) SetFault(f func(op, name string) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault = f
}

// SetCopyPolls makes copies started from now on report Pending for the first n status queries
func (s *MemoryStore) SetCopyPolls(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.copyPolls = n
}

// Calls is how often op was called
func (s *MemoryStore) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *MemoryStore) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = map[string]int{}
}

// enter counts the call and applies the fault hook. Must be called with mu held.
func (s *MemoryStore) enter(op, name string) error {
	s.calls[op]++
	if s.fault != nil {
		return s.fault(op, name)
	}
	return nil
}

func (s *MemoryStore) nextETag() string {
	s.seq++
	return fmt.Sprintf("\"0x8D%012X\"", s.seq)
}

func (s *MemoryStore) touch(b *memBlob) {
	b.etag = s.nextETag()
	b.lastModified = time.Now().UTC()
}

func notFound(name string) error {
	return errors.Wrapf(common.ErrNotFound, "%s", name)
}

// lookup finds a blob or snapshot. Must be called with mu held.
func (s *MemoryStore) lookup(name string) (*memBlob, bool) {
	if strings.Contains(name, "?") {
		b, ok := s.snapshots[name]
		return b, ok
	}
	b, ok := s.blobs[name]
	if ok && b.uncommitted {
		return nil, false
	}
	return b, ok
}

////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////
// test setup

// PutBlob writes a whole blob in one shot, the way a Put Blob call would: a block blob written so has
// no block list. The returned ETag identifies this version.
func (s *MemoryStore) PutBlob(name string, blobType common.BlobType, data []byte, storeMD5 bool) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := &memBlob{blobType: blobType, data: append([]byte(nil), data...), metadata: map[string]string{}}
	if blobType == common.EBlobType.PageBlob() {
		pages := int(common.NumChunksRoundedUp(int64(len(data)), common.PageSize))
		b.pages = common.NewBitMap(pages)
		for i := 0; i < pages; i++ {
			if !isAllZero(b.data[i*common.PageSize : min((i+1)*common.PageSize, len(b.data))]) {
				b.pages = b.pages.Set(i)
			}
		}
	}
	if storeMD5 {
		sum := md5.Sum(data)
		b.headers.ContentMD5 = sum[:]
	}
	s.touch(b)
	s.blobs[name] = b
	return b.etag
}

// Snapshot freezes the current content of a blob and returns the snapshot's name
func (s *MemoryStore) Snapshot(name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blobs[name]
	if !ok {
		return "", notFound(name)
	}
	snap := *b
	snap.data = append([]byte(nil), b.data...)
	snapName := fmt.Sprintf("%s?snapshot=%s", name, time.Now().UTC().Add(time.Duration(s.seq)).Format("2006-01-02T15:04:05.0000000Z"))
	s.seq++
	s.snapshots[snapName] = &snap
	return snapName, nil
}

// Data returns a copy of a blob's content
func (s *MemoryStore) Data(name string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.lookup(name)
	if !ok {
		return nil, false
	}
	return append([]byte(nil), b.data...), true
}

func (s *MemoryStore) Exists(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.lookup(name)
	return ok
}

// SetCopyState overwrites the copy properties of a blob, to simulate someone else's copy
func (s *MemoryStore) SetCopyState(name, copyID string, status common.CopyStatus, source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blobs[name]
	if !ok {
		return notFound(name)
	}
	b.copyID, b.copyStatus, b.copySource = copyID, status, source
	b.copyPollsLeft, b.copyPolls, b.copyFrom = 1<<30, 1<<30, nil
	return nil
}

////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////
// RemoteBlobClient

func (s *MemoryStore) URL(name string) string {
	return s.root + "/" + name
}

func (s *MemoryStore) GetProperties(ctx context.Context, name string) (*common.BlobProperties, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("GetProperties", name); err != nil {
		return nil, err
	}
	b, ok := s.lookup(name)
	if !ok {
		return nil, notFound(name)
	}
	s.progressCopy(b)

	props := &common.BlobProperties{
		Name:                  name,
		BlobType:              b.blobType,
		ContentLength:         int64(len(b.data)),
		ETag:                  b.etag,
		LastModified:          b.lastModified,
		ContentMD5:            append([]byte(nil), b.headers.ContentMD5...),
		ContentType:           b.headers.ContentType,
		Metadata:              map[string]string{},
		CopyID:                b.copyID,
		CopyStatus:            b.copyStatus,
		CopySource:            b.copySource,
		CopyStatusDescription: b.copyDescription,
	}
	for k, v := range b.metadata {
		props.Metadata[k] = v
	}
	if b.copyFrom != nil {
		total := int64(len(b.copyFrom.data))
		props.CopyBytesTotal = total
		props.CopyBytesCopied = total
		if b.copyPolls > 0 {
			props.CopyBytesCopied = total * int64(b.copyPolls-b.copyPollsLeft) / int64(b.copyPolls)
		}
	}
	return props, nil
}

// progressCopy moves a pending copy one poll closer to completion. Must be called with mu held.
func (s *MemoryStore) progressCopy(b *memBlob) {
	if b.copyStatus != common.ECopyStatus.Pending() || b.copyFrom == nil {
		return
	}
	if b.copyPollsLeft > 0 {
		b.copyPollsLeft--
		return
	}
	s.completeCopy(b)
}

func (s *MemoryStore) completeCopy(b *memBlob) {
	src := b.copyFrom
	b.blobType = src.blobType
	b.data = append([]byte(nil), src.data...)
	b.headers = src.headers
	b.metadata = map[string]string{}
	for k, v := range src.metadata {
		b.metadata[k] = v
	}
	b.pages = append(common.Bitmap(nil), src.pages...)
	b.committed = append([]common.BlockInfo(nil), src.committed...)
	b.blockData = map[string][]byte{}
	for k, v := range src.blockData {
		b.blockData[k] = v
	}
	b.copyStatus = common.ECopyStatus.Success()
	s.touch(b)
}

func (s *MemoryStore) GetRange(ctx context.Context, name string, offset int64, dst []byte, ifMatch string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("GetRange", name); err != nil {
		return err
	}
	b, ok := s.lookup(name)
	if !ok {
		return notFound(name)
	}
	if ifMatch != "" && ifMatch != b.etag {
		return errors.Wrapf(common.ErrETagMismatch, "%s is at %s, not %s", name, b.etag, ifMatch)
	}
	end := offset + int64(len(dst))
	if offset < 0 || end > int64(len(b.data)) {
		return errors.Errorf("range [%d, %d) is outside of %s (%d bytes)", offset, end, name, len(b.data))
	}
	copy(dst, b.data[offset:end])
	return nil
}

func (s *MemoryStore) PutBlock(ctx context.Context, name string, blockID string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("PutBlock", name); err != nil {
		return err
	}
	b, ok := s.blobs[name]
	if ok && b.blobType != common.EBlobType.BlockBlob() {
		return errors.Wrapf(common.ErrTypeMismatch, "%s is a %s", name, b.blobType)
	}
	if !ok {
		b = &memBlob{blobType: common.EBlobType.BlockBlob(), metadata: map[string]string{}, uncommitted: true}
		s.blobs[name] = b
	}
	if b.staged == nil {
		b.staged = map[string][]byte{}
	}
	b.staged[blockID] = append([]byte(nil), data...)
	return nil
}

func (s *MemoryStore) GetBlockList(ctx context.Context, name string) (common.BlockList, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("GetBlockList", name); err != nil {
		return common.BlockList{}, err
	}
	// staged blocks of a blob that was never committed are listed too
	b, ok := s.blobs[name]
	if strings.Contains(name, "?") {
		b, ok = s.snapshots[name]
	}
	if !ok {
		return common.BlockList{}, notFound(name)
	}
	list := common.BlockList{Committed: append([]common.BlockInfo(nil), b.committed...)}
	ids := make([]string, 0, len(b.staged))
	for id := range b.staged {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		list.Uncommitted = append(list.Uncommitted, common.BlockInfo{Name: id, Size: int64(len(b.staged[id]))})
	}
	return list, nil
}

func (s *MemoryStore) PutManifest(ctx context.Context, name string, blockIDs []string, headers common.BlobHeaders, metadata map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("PutManifest", name); err != nil {
		return err
	}
	b, ok := s.blobs[name]
	if !ok {
		b = &memBlob{blobType: common.EBlobType.BlockBlob()}
		s.blobs[name] = b
	}
	if b.blobType != common.EBlobType.BlockBlob() {
		return errors.Wrapf(common.ErrTypeMismatch, "%s is a %s", name, b.blobType)
	}

	var data bytes.Buffer
	committed := make([]common.BlockInfo, 0, len(blockIDs))
	blockData := make(map[string][]byte, len(blockIDs))
	for _, id := range blockIDs {
		block, ok := b.staged[id]
		if !ok {
			block, ok = b.blockData[id]
		}
		if !ok {
			return errors.Errorf("block %s of %s was never staged", id, name)
		}
		data.Write(block)
		committed = append(committed, common.BlockInfo{Name: id, Size: int64(len(block))})
		blockData[id] = block
	}

	b.data = data.Bytes()
	b.committed, b.blockData, b.staged = committed, blockData, nil
	b.uncommitted = false
	b.headers = headers
	b.metadata = map[string]string{}
	for k, v := range metadata {
		b.metadata[k] = v
	}
	s.touch(b)
	return nil
}

func (s *MemoryStore) CreatePageBlob(ctx context.Context, name string, size int64, headers common.BlobHeaders) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("CreatePageBlob", name); err != nil {
		return err
	}
	if size%common.PageSize != 0 {
		return errors.Errorf("page blob size %d is not a multiple of %d", size, common.PageSize)
	}
	b := &memBlob{
		blobType: common.EBlobType.PageBlob(),
		data:     make([]byte, size),
		pages:    common.NewBitMap(int(size / common.PageSize)),
		headers:  headers,
		metadata: map[string]string{},
	}
	s.touch(b)
	s.blobs[name] = b
	return nil
}

// pageBlob returns the named page blob, or an error. Must be called with mu held.
func (s *MemoryStore) pageBlob(name string) (*memBlob, error) {
	b, ok := s.blobs[name]
	if !ok {
		return nil, notFound(name)
	}
	if b.blobType != common.EBlobType.PageBlob() {
		return nil, errors.Wrapf(common.ErrTypeMismatch, "%s is a %s", name, b.blobType)
	}
	return b, nil
}

func checkPageRange(b *memBlob, offset, count int64) error {
	if offset%common.PageSize != 0 || count%common.PageSize != 0 {
		return errors.Errorf("range [%d, %d) is not page aligned", offset, offset+count)
	}
	if offset < 0 || offset+count > int64(len(b.data)) {
		return errors.Errorf("range [%d, %d) is outside of the blob (%d bytes)", offset, offset+count, len(b.data))
	}
	return nil
}

func (s *MemoryStore) ResizePageBlob(ctx context.Context, name string, size int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("ResizePageBlob", name); err != nil {
		return err
	}
	b, err := s.pageBlob(name)
	if err != nil {
		return err
	}
	if size%common.PageSize != 0 {
		return errors.Errorf("page blob size %d is not a multiple of %d", size, common.PageSize)
	}
	if size < int64(len(b.data)) {
		for i := int(size / common.PageSize); i < b.pages.Size(); i++ {
			b.pages.Clear(i)
		}
		b.data = b.data[:size]
	} else {
		b.data = append(b.data, make([]byte, size-int64(len(b.data)))...)
	}
	s.touch(b)
	return nil
}

func (s *MemoryStore) PutPages(ctx context.Context, name string, offset int64, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("PutPages", name); err != nil {
		return err
	}
	b, err := s.pageBlob(name)
	if err != nil {
		return err
	}
	if err := checkPageRange(b, offset, int64(len(data))); err != nil {
		return err
	}
	copy(b.data[offset:], data)
	for p := offset / common.PageSize; p < (offset+int64(len(data)))/common.PageSize; p++ {
		b.pages = b.pages.Set(int(p))
	}
	s.touch(b)
	return nil
}

func (s *MemoryStore) ClearPages(ctx context.Context, name string, offset int64, count int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("ClearPages", name); err != nil {
		return err
	}
	b, err := s.pageBlob(name)
	if err != nil {
		return err
	}
	if err := checkPageRange(b, offset, count); err != nil {
		return err
	}
	clear(b.data[offset : offset+count])
	for p := offset / common.PageSize; p < (offset+count)/common.PageSize; p++ {
		b.pages.Clear(int(p))
	}
	s.touch(b)
	return nil
}

func (s *MemoryStore) GetPageRanges(ctx context.Context, name string, offset int64, count int64) ([]common.PageRange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("GetPageRanges", name); err != nil {
		return nil, err
	}
	b, ok := s.lookup(name)
	if !ok {
		return nil, notFound(name)
	}
	if b.blobType != common.EBlobType.PageBlob() {
		return nil, errors.Wrapf(common.ErrTypeMismatch, "%s is a %s", name, b.blobType)
	}

	first := int(offset / common.PageSize)
	last := int(common.NumChunksRoundedUp(min(offset+count, int64(len(b.data))), common.PageSize))
	var ranges []common.PageRange
	for p := first; p < last; p++ {
		if !b.pages.Test(p) {
			continue
		}
		start := int64(p) * common.PageSize
		if n := len(ranges); n > 0 && ranges[n-1].End() == start {
			ranges[n-1].Length += common.PageSize
		} else {
			ranges = append(ranges, common.PageRange{Offset: start, Length: common.PageSize})
		}
	}
	return ranges, nil
}

// PageBitmap returns which pages of a page blob hold data
func (s *MemoryStore) PageBitmap(name string) common.Bitmap {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.lookup(name)
	if !ok {
		return nil
	}
	return append(common.Bitmap(nil), b.pages...)
}

func (s *MemoryStore) StartCopy(ctx context.Context, name string, sourceURL string, sourceETag string) (common.StartCopyResult, error) {
	s.mu.Lock()
	if err := s.enter("StartCopy", name); err != nil {
		s.mu.Unlock()
		return common.StartCopyResult{}, err
	}
	if b, ok := s.blobs[name]; ok && b.copyStatus == common.ECopyStatus.Pending() {
		s.mu.Unlock()
		return common.StartCopyResult{}, errors.Wrapf(common.ErrPendingCopy, "copy %s is pending on %s", b.copyID, name)
	}
	stores := append([]*MemoryStore{s}, s.links...)
	s.mu.Unlock()

	src, err := readCopySource(stores, sourceURL, sourceETag)
	if err != nil {
		return common.StartCopyResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blobs[name]
	if !ok {
		b = &memBlob{blobType: src.blobType, metadata: map[string]string{}}
		s.blobs[name] = b
	}
	b.copyID = uuid.NewString()
	b.copySource = sourceURL
	b.copyStatus = common.ECopyStatus.Pending()
	b.copyDescription = ""
	b.copyFrom = src
	b.copyPolls, b.copyPollsLeft = s.copyPolls, s.copyPolls
	if s.copyPolls == 0 {
		s.completeCopy(b)
	} else {
		s.touch(b)
	}
	return common.StartCopyResult{CopyID: b.copyID, Status: b.copyStatus}, nil
}

func (s *MemoryStore) AbortCopy(ctx context.Context, name string, copyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("AbortCopy", name); err != nil {
		return err
	}
	b, ok := s.blobs[name]
	if !ok {
		return notFound(name)
	}
	if b.copyStatus != common.ECopyStatus.Pending() || b.copyID != copyID {
		return errors.Errorf("there is no pending copy %s on %s", copyID, name)
	}
	b.copyStatus = common.ECopyStatus.Aborted()
	b.copyDescription = "aborted"
	b.copyFrom = nil
	b.data = nil
	s.touch(b)
	return nil
}

// readCopySource finds the store that serves sourceURL and snapshots the blob it names
func readCopySource(stores []*MemoryStore, sourceURL, etag string) (*memBlob, error) {
	for _, store := range stores {
		if !strings.HasPrefix(sourceURL, store.root+"/") {
			continue
		}
		name := strings.TrimPrefix(sourceURL, store.root+"/")
		store.mu.Lock()
		defer store.mu.Unlock()
		b, ok := store.lookup(name)
		if !ok {
			return nil, notFound(sourceURL)
		}
		if etag != "" && etag != b.etag {
			return nil, errors.Wrapf(common.ErrETagMismatch, "copy source %s is at %s, not %s", name, b.etag, etag)
		}
		frozen := *b
		frozen.data = append([]byte(nil), b.data...)
		return &frozen, nil
	}
	return nil, errors.Errorf("no linked store serves %s", sourceURL)
}

func (s *MemoryStore) Delete(ctx context.Context, name string, includeSnapshots bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("Delete", name); err != nil {
		return err
	}
	if strings.Contains(name, "?") {
		if _, ok := s.snapshots[name]; !ok {
			return notFound(name)
		}
		delete(s.snapshots, name)
		return nil
	}
	if _, ok := s.blobs[name]; !ok {
		return notFound(name)
	}

	prefix := name + "?"
	var snaps []string
	for snap := range s.snapshots {
		if strings.HasPrefix(snap, prefix) {
			snaps = append(snaps, snap)
		}
	}
	if len(snaps) > 0 && !includeSnapshots {
		return errors.Errorf("%s has %d snapshots", name, len(snaps))
	}
	for _, snap := range snaps {
		delete(s.snapshots, snap)
	}
	delete(s.blobs, name)
	return nil
}

func (s *MemoryStore) SetProperties(ctx context.Context, name string, headers common.BlobHeaders) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("SetProperties", name); err != nil {
		return err
	}
	b, ok := s.blobs[name]
	if !ok {
		return notFound(name)
	}
	b.headers = headers
	s.touch(b)
	return nil
}

func (s *MemoryStore) DescribeCopySource(ctx context.Context, name string) (common.CopySourceInfo, error) {
	props, err := s.GetProperties(ctx, name)
	if err != nil {
		return common.CopySourceInfo{}, err
	}
	return common.CopySourceInfo{URL: s.URL(name), ETag: props.ETag, ContentLength: props.ContentLength}, nil
}

func isAllZero(data []byte) bool {
	for _, v := range data {
		if v != 0 {
			return false
		}
	}
	return true
}
