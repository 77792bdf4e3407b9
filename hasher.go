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
	"github.com/dolthub/maphash"
	"golang.org/x/exp/constraints"
)

// defaultHash returns the hash function used when no WithHash option is
// given. It is the same hash Go's builtin map[K]V uses, with a random seed
// per call.
func defaultHash[K comparable]() func(key K) uint64 {
	return maphash.NewHasher[K]().Hash
}

var integerHasher = maphash.NewHasher[int64]()

// IntegerHash returns a hash function for integer keys that depends only on
// the numeric value of the key, not on its width: int8(5), uint32(5) and
// int64(5) all hash equally. Values outside the int64 range wrap. The seed
// is shared by every function IntegerHash returns within a process.
func IntegerHash[K constraints.Integer]() func(key K) uint64 {
	return func(key K) uint64 {
		return integerHasher.Hash(int64(key))
	}
}
