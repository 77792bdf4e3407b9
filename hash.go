// Copyright 2024 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package openhash

import (
	"fmt"
	"math/bits"

	"github.com/cockroachdb/errors"
)

const (
	// minCapacity is the smallest number of buckets a table is ever sized
	// to.
	minCapacity = 16

	// maxAllowedProbe is the probe distance an insertion may reach before
	// the table is rehashed. Large tables allow capacity>>maxProbeShift.
	maxAllowedProbe = 16
	maxProbeShift   = 6
)

// tableSizeFor returns the smallest power of two >= max(n, minCapacity).
func tableSizeFor(n int) int {
	if n <= minCapacity {
		return minCapacity
	}
	return 1 << bits.Len(uint(n-1))
}

// maxProbeFor returns the longest probe distance an insertion may use in a
// table with the given capacity before it must rehash.
func maxProbeFor(capacity int) int {
	return max(maxAllowedProbe, capacity>>maxProbeShift)
}

// shortHash extracts the 7 most significant bits of h and sets the high bit
// of the result, producing a control byte in [0x80, 0xff] for an occupied
// slot.
func shortHash(h uint64) ctrl {
	return ctrl(h>>57) | ctrlFull
}

// bucketIndex returns the bucket at which the probe sequence for hash h
// starts. Capacity must be a power of two.
func bucketIndex(h uint64, capacity int) int {
	if capacity <= 0 || capacity&(capacity-1) != 0 {
		panic(errors.AssertionFailedf("capacity %d is not a power of two", capacity))
	}
	return int(h & uint64(capacity-1))
}

// probeSeq maintains the state for a linear probe sequence:
//
//	p(i) := (start + i) mod (mask+1)
//
// index is the probe distance from start, which is what the probe limits
// and Map.maxProbe are measured in.
type probeSeq struct {
	mask   int
	offset int
	index  int
}

func makeProbeSeq(start, mask int) probeSeq {
	return probeSeq{
		mask:   mask,
		offset: start & mask,
		index:  0,
	}
}

func (s probeSeq) next() probeSeq {
	s.index++
	s.offset = (s.offset + 1) & s.mask
	return s
}

func (s probeSeq) String() string {
	return fmt.Sprintf("mask=%d offset=%d index=%d", s.mask, s.offset, s.index)
}

// probeDistance returns how far index i lies along the probe sequence that
// starts at start.
func probeDistance(start, i, mask int) int {
	return (i - start) & mask
}
