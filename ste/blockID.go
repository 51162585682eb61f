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
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/wastore/blobmover/common"
)

// block ids are base64(prefix + 6 digit sequence number). The prefix is a uuid, so every id of
// a transfer has the same length, as the service requires.
const blockIDSequenceDigits = 6

func newBlockIDPrefix() string {
	return uuid.New().String()
}

func makeBlockID(prefix string, index int) string {
	return base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("%s%0*d", prefix, blockIDSequenceDigits, index)))
}

// blockIDIndex returns the sequence number of a block id generated with prefix, or -1
func blockIDIndex(prefix string, blockID string) int {
	decoded, err := base64.StdEncoding.DecodeString(blockID)
	if err != nil {
		return -1
	}
	name := string(decoded)
	if !strings.HasPrefix(name, prefix) || len(name) != len(prefix)+blockIDSequenceDigits {
		return -1
	}
	index, err := strconv.Atoi(name[len(prefix):])
	if err != nil || index < 0 {
		return -1
	}
	return index
}

// verifyBlockIDSequence checks that a persisted id sequence is the one the plan derives
func verifyBlockIDSequence(plan *ChunkPlan, persisted []string) error {
	if len(persisted) != plan.Len() {
		return common.NewConsistencyError("VerifyBlockIDs",
			errors.Wrapf(common.ErrCorruptedCheckpoint, "checkpoint lists %d block ids, the blob needs %d", len(persisted), plan.Len()))
	}
	for i, id := range persisted {
		if plan.Chunk(i).ContentID != id {
			return common.NewConsistencyError("VerifyBlockIDs",
				errors.Wrapf(common.ErrCorruptedCheckpoint, "block id %d is %q in the checkpoint, expected %q", i, id, plan.Chunk(i).ContentID))
		}
	}
	return nil
}

// uploadedBlockSet works out which chunks of the plan are already on the service, from the
// committed and uncommitted block lists. A block only counts if its name belongs to this transfer's
// prefix, and its size matches the chunk at that position.
func uploadedBlockSet(plan *ChunkPlan, prefix string, list common.BlockList) (set map[int]bool, foreign int) {
	set = make(map[int]bool)
	consider := func(blocks []common.BlockInfo) {
		for _, b := range blocks {
			index := blockIDIndex(prefix, b.Name)
			if index < 0 || index >= plan.Len() || plan.Chunk(index).Length != b.Size {
				foreign++
				continue
			}
			set[index] = true
		}
	}
	consider(list.Committed)
	consider(list.Uncommitted)
	return set, foreign
}
