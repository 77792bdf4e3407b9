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

// Set is an unordered set of keys. It is a Map whose value type is the
// zero-size struct{}, so the value array occupies no memory.
//
// Options are given as for a Map[K, struct{}], e.g.
//
//	s := NewSet[string](0, WithHash[string, struct{}](h))
//
// A Set is NOT goroutine-safe.
type Set[K comparable] struct {
	m Map[K, struct{}]
}

// NewSet constructs a new Set. See New for the meaning of initialCapacity.
func NewSet[K comparable](initialCapacity int, options ...option[K, struct{}]) *Set[K] {
	s := &Set[K]{}
	s.m.Init(initialCapacity, options...)
	return s
}

// SetFrom returns a Set with default options holding keys.
func SetFrom[K comparable](keys ...K) *Set[K] {
	s := NewSet[K](len(keys))
	for _, k := range keys {
		s.Add(k)
	}
	return s
}

// Add adds key to the set.
func (s *Set[K]) Add(key K) {
	s.m.Put(key, struct{}{})
}

// Remove removes key from the set, returning false if it was not present.
func (s *Set[K]) Remove(key K) bool {
	_, ok := s.m.Delete(key)
	return ok
}

// RemoveStrict removes key from the set, returning an error wrapping
// ErrKeyNotFound if it was not present.
func (s *Set[K]) RemoveStrict(key K) error {
	_, err := s.m.DeleteStrict(key)
	return err
}

// Contains returns true if key is in the set.
func (s *Set[K]) Contains(key K) bool {
	return s.m.Has(key)
}

// PopArbitrary removes and returns some key of the set, or ErrEmpty if the
// set is empty.
func (s *Set[K]) PopArbitrary() (K, error) {
	k, _, err := s.m.PopArbitrary()
	return k, err
}

// Len returns the number of keys in the set.
func (s *Set[K]) Len() int {
	return s.m.Len()
}

// IsEmpty returns true if the set has no keys.
func (s *Set[K]) IsEmpty() bool {
	return s.m.IsEmpty()
}

// Clear removes all keys from the set.
func (s *Set[K]) Clear() {
	s.m.Clear()
}

// Close releases the memory of the set back to its allocator. See Map.Close.
func (s *Set[K]) Close() {
	s.m.Close()
}

// All calls yield for each key in the set. If yield returns false, iteration
// stops. See Map.All for the behavior under mutation.
func (s *Set[K]) All(yield func(key K) bool) {
	s.m.Keys(yield)
}

// Clone returns an independent copy of s.
func (s *Set[K]) Clone() *Set[K] {
	return &Set[K]{m: *s.m.Clone()}
}

// Union returns a new set holding the keys in s or in other.
func (s *Set[K]) Union(other *Set[K]) *Set[K] {
	r := s.Clone()
	r.m.Reserve(s.Len() + other.Len())
	other.All(func(k K) bool {
		r.Add(k)
		return true
	})
	return r
}

// Intersection returns a new set holding the keys in both s and other.
func (s *Set[K]) Intersection(other *Set[K]) *Set[K] {
	small, large := s, other
	if large.Len() < small.Len() {
		small, large = large, small
	}
	r := s.newLike(small.Len())
	small.All(func(k K) bool {
		if large.Contains(k) {
			r.Add(k)
		}
		return true
	})
	return r
}

// Difference returns a new set holding the keys in s that are not in other.
func (s *Set[K]) Difference(other *Set[K]) *Set[K] {
	r := s.newLike(s.Len())
	s.All(func(k K) bool {
		if !other.Contains(k) {
			r.Add(k)
		}
		return true
	})
	return r
}

// SymmetricDifference returns a new set holding the keys in exactly one of s
// and other.
func (s *Set[K]) SymmetricDifference(other *Set[K]) *Set[K] {
	r := s.Difference(other)
	other.All(func(k K) bool {
		if !s.Contains(k) {
			r.Add(k)
		}
		return true
	})
	return r
}

// IsSubsetOf returns true if every key of s is in other.
func (s *Set[K]) IsSubsetOf(other *Set[K]) bool {
	if s.Len() > other.Len() {
		return false
	}
	return s.every(other.Contains)
}

// IsSupersetOf returns true if every key of other is in s.
func (s *Set[K]) IsSupersetOf(other *Set[K]) bool {
	return other.IsSubsetOf(s)
}

// IsDisjoint returns true if s and other have no key in common.
func (s *Set[K]) IsDisjoint(other *Set[K]) bool {
	small, large := s, other
	if large.Len() < small.Len() {
		small, large = large, small
	}
	return small.every(func(k K) bool {
		return !large.Contains(k)
	})
}

// Equal returns true if s and other hold the same keys.
func (s *Set[K]) Equal(other *Set[K]) bool {
	return s.Len() == other.Len() && s.IsSubsetOf(other)
}

// every returns true if pred holds for every key of s.
func (s *Set[K]) every(pred func(K) bool) bool {
	ok := true
	s.All(func(k K) bool {
		ok = pred(k)
		return ok
	})
	return ok
}

func (s *Set[K]) newLike(n int) *Set[K] {
	return &Set[K]{m: *s.m.newLike(capacityFor(n))}
}
