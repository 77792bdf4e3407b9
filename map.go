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

// Package openhash implements an open-addressing hash table with linear
// probing and a one byte metadata array, and the Map and Set types built on
// top of it.
//
// # Layout
//
// A table with capacity N (a power of two, at least 16) owns three parallel
// arrays of length N: control bytes, keys and values. The control byte of a
// slot is one of
//
//	   empty: 0 0 0 0 0 0 0 0
//	 deleted: 0 1 1 1 1 1 1 1
//	    full: 1 h h h h h h h  // h represents the top 7 bits of hash(key)
//
// The 7 hash bits in a full control byte (the short hash) are a cheap
// filter: a lookup only calls the key equality predicate when the short
// hash of the probed slot matches the short hash of the sought key, so most
// mismatching slots are rejected without touching the key array.
//
// # Probing
//
// The probe sequence for a key starts at hash(key) & (N-1) and walks the
// table linearly, wrapping at N. A lookup stops at the first empty slot, or
// after Map.maxProbe slots: maxProbe is the longest distance any live entry
// lies from the start of its probe sequence, so nothing beyond it can match.
// An insertion may walk at most max(16, N>>6) slots. If it cannot find a
// free slot within that bound, the table is rehashed: compacted in place if
// enough of its slots are tombstones, otherwise grown to twice the capacity.
// Independently, an insertion that takes the load above 2/3 grows the
// table.
//
// # Deletion
//
// Deleting an entry leaves a tombstone so that probe sequences passing
// through the slot still reach the entries behind it. If the slot following
// the deleted one is empty, no probe sequence continues past the deleted
// slot, and it (along with any tombstones directly before it) is marked
// empty instead. When tombstones exceed a fraction of the capacity (one half
// by default) the table is compacted.
//
// # Rehashing
//
// Growth and compaction rebuild the table by re-inserting every live entry
// into freshly allocated arrays. The hash of every key is recomputed; control
// bytes are never copied from the old arrays. If the hash of a key can
// change while it is stored (for instance because the hash depends on a
// representation that was widened), Map.Rehash re-derives a consistent
// table.
package openhash

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

const (
	debug = false

	ctrlEmpty   ctrl = 0b00000000
	ctrlDeleted ctrl = 0b01111111
	ctrlFull    ctrl = 0b10000000

	defaultTombstoneRatio = 0.5
)

// ctrl is the metadata byte of a slot. See the package documentation for
// the bit patterns.
type ctrl uint8

func (c ctrl) full() bool {
	return c&ctrlFull != 0
}

// slotState is the outcome of Map.findSlot.
type slotState int8

const (
	// foundOccupied: the key is present at the returned index.
	foundOccupied slotState = iota
	// foundEmpty: the key is absent and the returned index is the first free
	// (empty or deleted) slot on its probe sequence.
	foundEmpty
	// probeExhausted: the key is absent and there is no free slot within the
	// allowed probe distance.
	probeExhausted
)

func (s slotState) String() string {
	switch s {
	case foundOccupied:
		return "occupied"
	case foundEmpty:
		return "empty"
	case probeExhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("slotState(%d)", int8(s))
	}
}

// Map is an unordered map from keys to values backed by an open-addressing
// hash table. By default a Map[K,V] uses the same hash function as Go's
// builtin map[K]V and compares keys with ==; both can be replaced using the
// WithHash and WithEqual options.
//
// A Map is NOT goroutine-safe.
type Map[K comparable, V any] struct {
	// hash computes the full 64-bit hash of a key. It must be consistent
	// with equal.
	hash func(key K) uint64
	// equal reports whether two keys are equal. nil means ==.
	equal func(a, b K) bool
	// The allocator to use for the ctrls, keys and values slices.
	allocator Allocator[K, V]
	logger    *zap.Logger
	// tombstoneRatio is the fraction of the capacity tombstones may occupy
	// before Delete compacts the table.
	tombstoneRatio float64

	// ctrls, keys and values always have the same length: the capacity of
	// the table.
	ctrls  []ctrl
	keys   []K
	values []V
	// The number of full slots (i.e. the number of entries in the map).
	used int
	// The number of deleted slots that have not been reclaimed.
	tombstones int
	// maxProbe is an upper bound on the probe distance of every full slot.
	// It only shrinks when the table is rebuilt.
	maxProbe int
	// floor is a lower bound on the index of the first full slot.
	floor int
}

// New constructs a new Map with room for at least initialCapacity slots.
// The capacity is the smallest power of two >= max(initialCapacity, 16).
func New[K comparable, V any](initialCapacity int, options ...option[K, V]) *Map[K, V] {
	m := &Map[K, V]{}
	m.Init(initialCapacity, options...)
	return m
}

// Init initializes (or reinitializes) m as New would. Buffers held by a
// previously initialized m are not released; use Close for that.
func (m *Map[K, V]) Init(initialCapacity int, options ...option[K, V]) {
	*m = Map[K, V]{
		allocator:      defaultAllocator[K, V]{},
		tombstoneRatio: defaultTombstoneRatio,
	}
	for _, op := range options {
		op.apply(m)
	}
	if m.hash == nil {
		m.hash = defaultHash[K]()
	}
	if m.allocator == nil {
		m.allocator = defaultAllocator[K, V]{}
	}
	if m.logger == nil {
		m.logger = zap.NewNop()
	}

	m.alloc(tableSizeFor(initialCapacity))
	m.checkInvariants()
}

// Close closes the map, releasing any memory back to its configured
// allocator. It is unnecessary to close a map using the default allocator. It
// is invalid to use a Map after it has been closed, though Close itself is
// idempotent.
func (m *Map[K, V]) Close() {
	if m.allocator != nil && m.ctrls != nil {
		m.free(m.ctrls, m.keys, m.values)
	}
	m.ctrls, m.keys, m.values = nil, nil, nil
	m.used, m.tombstones, m.maxProbe, m.floor = 0, 0, 0, 0
	m.allocator = nil
}

// Put inserts an entry into the map, overwriting an existing value if an
// entry with the same key already exists.
func (m *Map[K, V]) Put(key K, value V) {
	h := m.hash(key)
	if debug {
		fmt.Printf("put(%v): hash=%016x\n", key, h)
	}

	for {
		i, state := m.findSlot(h, key)
		if debug {
			fmt.Printf("put(%v): %s index=%d\n", key, state, i)
		}

		switch state {
		case foundOccupied:
			m.values[i] = value
			m.checkInvariants()
			return

		case foundEmpty:
			m.insertAt(i, h, key, value)
			// Keep the load factor at or below 2/3 so that probe sequences
			// stay short on average.
			if m.used*3 > len(m.ctrls)*2 {
				m.resize(2*len(m.ctrls), "grow")
			}
			m.checkInvariants()
			return

		default:
			m.rehash()
		}
	}
}

// Get retrieves the value from the map for the specified key, return ok=false
// if the key is not present.
func (m *Map[K, V]) Get(key K) (value V, ok bool) {
	i, ok := m.find(key)
	if !ok {
		return value, false
	}
	return m.values[i], true
}

// Has returns true if the map contains an entry for key.
func (m *Map[K, V]) Has(key K) bool {
	_, ok := m.find(key)
	return ok
}

// GetOrDefault returns the value stored for key, or def if there is none.
func (m *Map[K, V]) GetOrDefault(key K, def V) V {
	if v, ok := m.Get(key); ok {
		return v
	}
	return def
}

// GetOrInsert returns the value stored for key. If there is none, it stores
// and returns the value produced by fn.
func (m *Map[K, V]) GetOrInsert(key K, fn func() V) V {
	if v, ok := m.Get(key); ok {
		return v
	}
	v := fn()
	m.Put(key, v)
	return v
}

// Delete deletes the entry corresponding to the specified key from the map
// and returns its value. It is a noop to delete a non-existent key, in which
// case ok is false.
func (m *Map[K, V]) Delete(key K) (value V, ok bool) {
	i, ok := m.find(key)
	if !ok {
		if debug {
			fmt.Printf("delete(%v): not found\n", key)
		}
		return value, false
	}
	value = m.values[i]
	m.deleteAt(i)
	m.maybeCompact()
	m.checkInvariants()
	return value, true
}

// DeleteStrict is like Delete but returns an error wrapping ErrKeyNotFound if
// the key is not present.
func (m *Map[K, V]) DeleteStrict(key K) (V, error) {
	v, ok := m.Delete(key)
	if !ok {
		return v, keyNotFound(key)
	}
	return v, nil
}

// PopArbitrary removes and returns an entry from the map. The entry removed
// is the one with the lowest slot index, which is an artifact of the hash
// function and capacity. ErrEmpty is returned if the map is empty.
func (m *Map[K, V]) PopArbitrary() (key K, value V, err error) {
	if m.used == 0 {
		return key, value, ErrEmpty
	}
	i := m.floor
	for !m.ctrls[i].full() {
		i++
	}
	m.floor = i
	key, value = m.keys[i], m.values[i]
	m.deleteAt(i)
	m.maybeCompact()
	m.checkInvariants()
	return key, value, nil
}

// Filter removes every entry for which keep returns false. keep must not
// mutate m.
func (m *Map[K, V]) Filter(keep func(key K, value V) bool) {
	for i := range m.ctrls {
		if m.ctrls[i].full() && !keep(m.keys[i], m.values[i]) {
			m.deleteAt(i)
		}
	}
	m.maybeCompact()
	m.checkInvariants()
}

// All calls yield sequentially for each key and value present in the map, in
// slot order. If yield returns false, iteration stops. The map can be
// mutated during iteration, though there is no guarantee that the mutations
// will be visible to the iteration.
func (m *Map[K, V]) All(yield func(key K, value V) bool) {
	// Snapshot the controls, keys and values so that iteration remains
	// valid if the map is resized during iteration. Resizing never writes to
	// the old slices.
	ctrls, keys, values := m.ctrls, m.keys, m.values
	for i := range ctrls {
		if ctrls[i].full() {
			if !yield(keys[i], values[i]) {
				return
			}
		}
	}
}

// Keys calls yield sequentially for each key present in the map. See All.
func (m *Map[K, V]) Keys(yield func(key K) bool) {
	m.All(func(k K, _ V) bool {
		return yield(k)
	})
}

// Values calls yield sequentially for each value present in the map. See
// All.
func (m *Map[K, V]) Values(yield func(value V) bool) {
	m.All(func(_ K, v V) bool {
		return yield(v)
	})
}

// Merge inserts every entry of src into m. If a key is present in both,
// the stored value becomes combine(old, new), or the value from src if
// combine is nil.
func (m *Map[K, V]) Merge(src *Map[K, V], combine func(old, new V) V) {
	src.All(func(k K, v V) bool {
		if combine != nil {
			if old, ok := m.Get(k); ok {
				v = combine(old, v)
			}
		}
		m.Put(k, v)
		return true
	})
}

// Clone returns an independent copy of m with the same entries and options.
func (m *Map[K, V]) Clone() *Map[K, V] {
	c := m.newLike(len(m.ctrls))
	copy(c.ctrls, m.ctrls)
	copy(c.keys, m.keys)
	copy(c.values, m.values)
	c.used, c.tombstones, c.maxProbe, c.floor = m.used, m.tombstones, m.maxProbe, m.floor
	c.checkInvariants()
	return c
}

// Clear removes all entries from the map. The capacity is retained.
func (m *Map[K, V]) Clear() {
	clear(m.ctrls)
	clear(m.keys)
	clear(m.values)
	m.used, m.tombstones, m.maxProbe, m.floor = 0, 0, 0, 0
	m.checkInvariants()
}

// Rehash rebuilds the table with room for at least n entries (or the current
// number of entries, if larger), recomputing the hash of every key. Tombstones
// are dropped.
func (m *Map[K, V]) Rehash(n int) {
	m.resize(max(capacityFor(n), capacityFor(m.used)), "rehash")
	m.checkInvariants()
}

// Reserve grows the table, if necessary, so that n entries fit without
// further growth.
func (m *Map[K, V]) Reserve(n int) {
	if c := capacityFor(n); c > len(m.ctrls) {
		m.resize(c, "grow")
		m.checkInvariants()
	}
}

// Len returns the number of entries in the map.
func (m *Map[K, V]) Len() int {
	return m.used
}

// IsEmpty returns true if the map has no entries.
func (m *Map[K, V]) IsEmpty() bool {
	return m.used == 0
}

// capacity returns the number of slots in the table.
func (m *Map[K, V]) capacity() int {
	return len(m.ctrls)
}

// capacityFor returns the table size needed to hold n entries without
// exceeding the 2/3 load factor.
func capacityFor(n int) int {
	return tableSizeFor((n*3+1)/2 + 1)
}

func (m *Map[K, V]) keyEqual(a, b K) bool {
	if m.equal == nil {
		return a == b
	}
	return m.equal(a, b)
}

// hashIndex returns the first bucket of the probe sequence for key and its
// short hash.
func (m *Map[K, V]) hashIndex(key K) (int, ctrl) {
	h := m.hash(key)
	return bucketIndex(h, len(m.ctrls)), shortHash(h)
}

// find returns the index of the slot holding key.
func (m *Map[K, V]) find(key K) (int, bool) {
	if m.used == 0 {
		return 0, false
	}

	// The short hash ensures that when we compare keys we have most likely
	// found the entry: a mismatching full slot passes the filter with
	// probability 1/128.
	start, tag := m.hashIndex(key)
	for seq := makeProbeSeq(start, len(m.ctrls)-1); seq.index <= m.maxProbe; seq = seq.next() {
		c := m.ctrls[seq.offset]
		if c == ctrlEmpty {
			return 0, false
		}
		if c == tag && m.keyEqual(m.keys[seq.offset], key) {
			return seq.offset, true
		}
	}
	return 0, false
}

// findSlot locates key (with hash h) for insertion. Tombstones on the probe
// sequence are remembered as insertion candidates, but probing continues
// past them while a live equal key could still lie further along.
func (m *Map[K, V]) findSlot(h uint64, key K) (int, slotState) {
	capacity := len(m.ctrls)
	tag := shortHash(h)
	avail := -1

	seq := makeProbeSeq(bucketIndex(h, capacity), capacity-1)
	for ; seq.index <= m.maxProbe; seq = seq.next() {
		switch c := m.ctrls[seq.offset]; c {
		case ctrlEmpty:
			if avail < 0 {
				avail = seq.offset
			}
			return avail, foundEmpty
		case ctrlDeleted:
			if avail < 0 {
				avail = seq.offset
			}
		case tag:
			if m.keyEqual(m.keys[seq.offset], key) {
				return seq.offset, foundOccupied
			}
		}
	}
	if avail >= 0 {
		return avail, foundEmpty
	}

	// Every slot up to maxProbe is full. Keep looking for a free slot up to
	// the probe limit.
	for limit := maxProbeFor(capacity); seq.index < limit; seq = seq.next() {
		if !m.ctrls[seq.offset].full() {
			return seq.offset, foundEmpty
		}
	}
	if debug {
		fmt.Printf("find-slot(%v): exhausted %s\n", key, seq)
	}
	return -1, probeExhausted
}

// insertAt stores key and value in the free slot i. h is hash(key).
func (m *Map[K, V]) insertAt(i int, h uint64, key K, value V) {
	if m.ctrls[i] == ctrlDeleted {
		m.tombstones--
	}
	m.ctrls[i] = shortHash(h)
	m.keys[i] = key
	m.values[i] = value
	m.used++

	mask := len(m.ctrls) - 1
	if d := probeDistance(bucketIndex(h, len(m.ctrls)), i, mask); d > m.maxProbe {
		m.maxProbe = d
	}
	if i < m.floor {
		m.floor = i
	}
}

// deleteAt removes the entry in the full slot i.
func (m *Map[K, V]) deleteAt(i int) {
	var (
		zeroK K
		zeroV V
	)
	m.keys[i] = zeroK
	m.values[i] = zeroV
	m.used--

	mask := len(m.ctrls) - 1
	if m.ctrls[(i+1)&mask] != ctrlEmpty {
		m.ctrls[i] = ctrlDeleted
		m.tombstones++
		if debug {
			fmt.Printf("delete: index=%d used=%d tombstones=%d\n", i, m.used, m.tombstones)
		}
		return
	}

	// Lookups stop at the empty slot after i, so no probe sequence passes
	// through i or the run of tombstones directly before it.
	m.ctrls[i] = ctrlEmpty
	for j := (i - 1) & mask; m.ctrls[j] == ctrlDeleted; j = (j - 1) & mask {
		m.ctrls[j] = ctrlEmpty
		m.tombstones--
	}
	if debug {
		fmt.Printf("delete: index=%d used=%d tombstones=%d (emptied)\n", i, m.used, m.tombstones)
	}
}

// maybeCompact compacts the table if tombstones exceed the configured
// fraction of the capacity.
func (m *Map[K, V]) maybeCompact() {
	if float64(m.tombstones) > m.tombstoneRatio*float64(len(m.ctrls)) {
		m.resize(len(m.ctrls), "compact")
	}
}

// rehash is called when an insertion has exhausted its probe sequence. It
// compacts the table in place if that leaves it at most a third full,
// otherwise it doubles the capacity.
func (m *Map[K, V]) rehash() {
	if m.tombstones > 0 && m.used*3 <= len(m.ctrls) {
		m.resize(len(m.ctrls), "compact")
	} else {
		m.resize(2*len(m.ctrls), "grow")
	}
}

// resize rebuilds the table with tableSizeFor(newCapacity) slots by
// re-inserting every entry into newly allocated arrays, and discards the old
// arrays. The hash of every key is recomputed. newCapacity must exceed the
// number of entries.
func (m *Map[K, V]) resize(newCapacity int, reason string) {
	newCapacity = tableSizeFor(newCapacity)
	if newCapacity <= m.used {
		panic(errors.AssertionFailedf("resize to %d slots cannot hold %d entries", newCapacity, m.used))
	}

	if ce := m.logger.Check(zap.DebugLevel, reason); ce != nil {
		ce.Write(
			zap.Int("from", len(m.ctrls)),
			zap.Int("to", newCapacity),
			zap.Int("used", m.used),
			zap.Int("tombstones", m.tombstones),
		)
	}

	oldCtrls, oldKeys, oldValues := m.ctrls, m.keys, m.values
	used := m.used

	m.alloc(newCapacity)
	m.used, m.tombstones, m.maxProbe, m.floor = 0, 0, 0, newCapacity

	// The new arrays contain no tombstones and no entry equal to any other,
	// so each entry goes in the first empty slot of its probe sequence.
	mask := newCapacity - 1
	for i, c := range oldCtrls {
		if !c.full() {
			continue
		}
		key := oldKeys[i]
		h := m.hash(key)
		j := bucketIndex(h, newCapacity)
		for m.ctrls[j] != ctrlEmpty {
			j = (j + 1) & mask
		}
		m.insertAt(j, h, key, oldValues[i])
	}
	if m.used != used {
		panic(errors.AssertionFailedf("resize: re-inserted %d entries, expected %d", m.used, used))
	}

	if debug {
		fmt.Printf("%s: capacity=%d->%d used=%d max-probe=%d\n",
			reason, len(oldCtrls), newCapacity, m.used, m.maxProbe)
	}

	if len(oldCtrls) > 0 {
		m.free(oldCtrls, oldKeys, oldValues)
	}
}

// newLike returns an empty map with m's options and tableSizeFor(capacity)
// slots.
func (m *Map[K, V]) newLike(capacity int) *Map[K, V] {
	c := &Map[K, V]{
		hash:           m.hash,
		equal:          m.equal,
		allocator:      m.allocator,
		logger:         m.logger,
		tombstoneRatio: m.tombstoneRatio,
	}
	c.alloc(tableSizeFor(capacity))
	return c
}

func (m *Map[K, V]) alloc(capacity int) {
	m.ctrls = unsafeConvertSlice[ctrl](m.allocator.AllocControls(capacity))
	m.keys = m.allocator.AllocKeys(capacity)
	m.values = m.allocator.AllocValues(capacity)
	clear(m.ctrls)
}

func (m *Map[K, V]) free(ctrls []ctrl, keys []K, values []V) {
	m.allocator.FreeControls(unsafeConvertSlice[uint8](ctrls))
	m.allocator.FreeKeys(keys)
	m.allocator.FreeValues(values)
}

func (m *Map[K, V]) checkInvariants() {
	if invariants {
		capacity := len(m.ctrls)
		if capacity < minCapacity || capacity&(capacity-1) != 0 {
			panic(errors.AssertionFailedf("invariant failed: capacity %d is not a power of two >= %d",
				capacity, minCapacity))
		}
		if len(m.keys) != capacity || len(m.values) != capacity {
			panic(errors.AssertionFailedf("invariant failed: %d ctrls, %d keys, %d values",
				capacity, len(m.keys), len(m.values)))
		}

		// For every full slot, verify the short hash is current, the slot is
		// reachable from the start of its probe sequence, and Get finds it.
		// Count the number of used and deleted slots.
		mask := capacity - 1
		var used, deleted int
		first := -1
		for i, c := range m.ctrls {
			switch {
			case c == ctrlEmpty:
			case c == ctrlDeleted:
				deleted++
			case c.full():
				if first < 0 {
					first = i
				}
				key := m.keys[i]
				h := m.hash(key)
				if c != shortHash(h) {
					panic(errors.AssertionFailedf("invariant failed: ctrl(%d)=%02x, expected %02x\n%s",
						i, c, shortHash(h), m.debugString()))
				}
				start := bucketIndex(h, capacity)
				if d := probeDistance(start, i, mask); d > m.maxProbe {
					panic(errors.AssertionFailedf("invariant failed: slot(%d) at distance %d > max-probe %d\n%s",
						i, d, m.maxProbe, m.debugString()))
				}
				for j := start; j != i; j = (j + 1) & mask {
					if m.ctrls[j] == ctrlEmpty {
						panic(errors.AssertionFailedf("invariant failed: slot(%d) unreachable, ctrl(%d) is empty\n%s",
							i, j, m.debugString()))
					}
				}
				if j, ok := m.find(key); !ok || j != i {
					panic(errors.AssertionFailedf("invariant failed: slot(%d): %v found at %d (ok=%t)\n%s",
						i, key, j, ok, m.debugString()))
				}
				used++
			default:
				panic(errors.AssertionFailedf("invariant failed: ctrl(%d)=%02x is not a valid control byte", i, c))
			}
		}

		if used != m.used {
			panic(errors.AssertionFailedf("invariant failed: found %d used slots, but used count is %d\n%s",
				used, m.used, m.debugString()))
		}
		if deleted != m.tombstones {
			panic(errors.AssertionFailedf("invariant failed: found %d deleted slots, but tombstone count is %d\n%s",
				deleted, m.tombstones, m.debugString()))
		}
		if first >= 0 && m.floor > first {
			panic(errors.AssertionFailedf("invariant failed: floor %d > first full slot %d", m.floor, first))
		}
	}
}

func (m *Map[K, V]) debugString() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "capacity=%d  used=%d  tombstones=%d  max-probe=%d  floor=%d\n",
		len(m.ctrls), m.used, m.tombstones, m.maxProbe, m.floor)
	for i, c := range m.ctrls {
		switch {
		case c == ctrlEmpty:
			fmt.Fprintf(&buf, "  %4d: empty\n", i)
		case c == ctrlDeleted:
			fmt.Fprintf(&buf, "  %4d: deleted\n", i)
		case c.full():
			h := m.hash(m.keys[i])
			fmt.Fprintf(&buf, "  %4d: %v [ctrl=%02x short-hash=%02x start=%d]\n",
				i, m.keys[i], c, shortHash(h), bucketIndex(h, len(m.ctrls)))
		default:
			fmt.Fprintf(&buf, "  %4d: [ctrl=%02x]\n", i, c)
		}
	}
	return buf.String()
}
