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

package ste

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"

	"github.com/wastore/blobmover/common"
)

// Chunk is one contiguous byte range of a blob, moved by one network operation
type Chunk struct {
	Offset int64
	Length int64

	// ContentID identifies the chunk's content: the block id for block blobs. Two positions
	// with the same ContentID hold the same bytes.
	ContentID string

	// HasData is false for ranges that are known to read as zeros (unoccupied page blob ranges)
	HasData bool
}

func (c Chunk) End() int64 {
	return c.Offset + c.Length
}

// ChunkPlan is the ordered list of chunks that partition [0, Length)
type ChunkPlan struct {
	chunks []Chunk
	length int64
}

func (p *ChunkPlan) Len() int {
	return len(p.chunks)
}

func (p *ChunkPlan) Chunk(i int) Chunk {
	return p.chunks[i]
}

func (p *ChunkPlan) Chunks() []Chunk {
	return p.chunks
}

func (p *ChunkPlan) Length() int64 {
	return p.length
}

// IndexOf finds the chunk that starts at offset. An offset equal to the blob length yields Len(),
// meaning there is nothing left to do. Any other offset that is not a chunk start means the
// checkpoint does not belong to this layout.
func (p *ChunkPlan) IndexOf(offset int64) (int, error) {
	if offset == p.length {
		return len(p.chunks), nil
	}
	i := sort.Search(len(p.chunks), func(i int) bool { return p.chunks[i].Offset >= offset })
	if i == len(p.chunks) || p.chunks[i].Offset != offset {
		return 0, common.NewConsistencyError("ResumeFromCheckpoint",
			errors.Wrapf(common.ErrCorruptedCheckpoint, "offset %d is not the start of a chunk of a %d byte blob", offset, p.length))
	}
	return i, nil
}

func validatePlanArgs(length, chunkSize int64) error {
	if length < 0 {
		return common.NewPreconditionError("blob length must not be negative, got %d", length)
	}
	if chunkSize <= 0 {
		return common.NewPreconditionError("chunk size must be positive, got %d", chunkSize)
	}
	return nil
}

// NewFixedChunkPlan slices [0, length) into chunkSize pieces, the last one possibly shorter.
// Every chunk is its own content, identified by its offset.
func NewFixedChunkPlan(length, chunkSize int64) (*ChunkPlan, error) {
	if err := validatePlanArgs(length, chunkSize); err != nil {
		return nil, err
	}
	chunks := make([]Chunk, 0, common.NumChunksRoundedUp(length, chunkSize))
	for offset := int64(0); offset < length; offset += chunkSize {
		chunks = append(chunks, Chunk{
			Offset:    offset,
			Length:    min(chunkSize, length-offset),
			ContentID: fmt.Sprintf("%020d", offset),
			HasData:   true,
		})
	}
	return &ChunkPlan{chunks: chunks, length: length}, nil
}

// NewUploadChunkPlan is a fixed plan whose chunks carry the block ids derived from blockIDPrefix
func NewUploadChunkPlan(length, chunkSize int64, blockIDPrefix string) (*ChunkPlan, error) {
	plan, err := NewFixedChunkPlan(length, chunkSize)
	if err != nil {
		return nil, err
	}
	if len(plan.chunks) > common.MaxNumberOfBlocksPerBlob {
		return nil, common.NewPreconditionError("block size %d is too small for a %d byte blob: it needs %d blocks, and at most %d are allowed",
			chunkSize, length, len(plan.chunks), common.MaxNumberOfBlocksPerBlob)
	}
	for i := range plan.chunks {
		plan.chunks[i].ContentID = makeBlockID(blockIDPrefix, i)
	}
	return plan, nil
}

// NewBlockListChunkPlan makes one chunk per committed block. A blob that was written in one
// shot has no block list, in which case a fixed plan is synthesized.
func NewBlockListChunkPlan(length, chunkSize int64, blocks []common.BlockInfo) (*ChunkPlan, error) {
	if len(blocks) == 0 {
		return NewFixedChunkPlan(length, chunkSize)
	}
	if err := validatePlanArgs(length, chunkSize); err != nil {
		return nil, err
	}

	chunks := make([]Chunk, 0, len(blocks))
	offset := int64(0)
	for _, b := range blocks {
		if b.Size < 0 {
			return nil, common.NewConsistencyError("DiscoverChunkManifest", fmt.Errorf("block %q reports negative size %d", b.Name, b.Size))
		}
		if b.Size == 0 {
			continue
		}
		chunks = append(chunks, Chunk{Offset: offset, Length: b.Size, ContentID: b.Name, HasData: true})
		offset += b.Size
	}
	if offset != length {
		return nil, common.NewConsistencyError("DiscoverChunkManifest",
			fmt.Errorf("committed blocks add up to %d bytes, but the blob is %d bytes long", offset, length))
	}
	return &ChunkPlan{chunks: chunks, length: length}, nil
}

// MergePageRanges combines the occupied ranges reported by several span queries into one sorted list,
// coalescing ranges that overlap or touch. This removes the artificial boundaries at span edges.
func MergePageRanges(spans ...[]common.PageRange) []common.PageRange {
	var all []common.PageRange
	for _, s := range spans {
		for _, r := range s {
			if r.Length > 0 {
				all = append(all, r)
			}
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Offset < all[j].Offset })

	merged := make([]common.PageRange, 0, len(all))
	for _, r := range all {
		if n := len(merged); n > 0 && r.Offset <= merged[n-1].End() {
			last := &merged[n-1]
			if r.End() > last.End() {
				last.Length = r.End() - last.Offset
			}
			continue
		}
		merged = append(merged, r)
	}
	return merged
}

// NewPageRangeChunkPlan lays occupied ranges (as returned by MergePageRanges) and the gaps between them
// over [0, length), then splits every range into pieces of at most chunkSize. Gap chunks have HasData=false.
func NewPageRangeChunkPlan(length, chunkSize int64, occupied []common.PageRange) (*ChunkPlan, error) {
	if err := validatePlanArgs(length, chunkSize); err != nil {
		return nil, err
	}

	var chunks []Chunk
	split := func(from, to int64, hasData bool) {
		for offset := from; offset < to; offset += chunkSize {
			c := Chunk{Offset: offset, Length: min(chunkSize, to-offset), HasData: hasData}
			if hasData {
				c.ContentID = fmt.Sprintf("%020d", offset)
			}
			chunks = append(chunks, c)
		}
	}

	cursor := int64(0)
	for _, r := range occupied {
		start, end := max(r.Offset, cursor), min(r.End(), length)
		if start >= end {
			continue
		}
		split(cursor, start, false)
		split(start, end, true)
		cursor = end
	}
	split(cursor, length, false)

	return &ChunkPlan{chunks: chunks, length: length}, nil
}

////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////

// pageRangeSet answers whether a range of a page blob holds data. A nil set means "unknown",
// which must be treated as data everywhere.
type pageRangeSet []common.PageRange

func (s pageRangeSet) containsData(offset, length int64) bool {
	if s == nil {
		return true
	}
	end := offset + length
	i := sort.Search(len(s), func(i int) bool { return s[i].End() > offset })
	return i < len(s) && s[i].Offset < end
}
