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
	"io"
	"strconv"
	"testing"

	"github.com/aclements/go-perfevent/perfbench"
)

type benchTypes interface {
	int32 | int64 | string
}

// benchImpl is the subset of map operations exercised by the benchmarks.
type benchImpl[T benchTypes] interface {
	put(k, v T)
	get(k T) (T, bool)
	delete(k T)
	iter(fn func(k, v T))
	clear()
}

type runtimeMap[T benchTypes] map[T]T

func (m runtimeMap[T]) put(k, v T) { m[k] = v }
func (m runtimeMap[T]) delete(k T) { delete(m, k) }
func (m runtimeMap[T]) clear()     { clear(m) }

func (m runtimeMap[T]) get(k T) (T, bool) {
	v, ok := m[k]
	return v, ok
}

func (m runtimeMap[T]) iter(fn func(k, v T)) {
	for k, v := range m {
		fn(k, v)
	}
}

type openhashMap[T benchTypes] struct{ *Map[T, T] }

func (m openhashMap[T]) put(k, v T)        { m.Put(k, v) }
func (m openhashMap[T]) get(k T) (T, bool) { return m.Get(k) }
func (m openhashMap[T]) delete(k T)        { m.Delete(k) }
func (m openhashMap[T]) clear()            { m.Clear() }
func (m openhashMap[T]) iter(fn func(k, v T)) {
	m.All(func(k, v T) bool {
		fn(k, v)
		return true
	})
}

type benchImpls[T benchTypes] struct {
	name string
	// newMap returns an empty map sized for n entries.
	newMap func(n int) benchImpl[T]
	// counters enables hardware performance counters for the benchmark.
	counters bool
}

func impls[T benchTypes]() []benchImpls[T] {
	return []benchImpls[T]{
		{name: "runtimeMap", newMap: func(n int) benchImpl[T] {
			return runtimeMap[T](make(map[T]T, n))
		}},
		{name: "openhashMap", newMap: func(n int) benchImpl[T] {
			m := New[T, T](0)
			m.Reserve(n)
			return openhashMap[T]{m}
		}, counters: true},
	}
}

func benchAll(b *testing.B, op func(b *testing.B, newMap func(n int) benchImpl[int64], n int)) {
	for _, impl := range impls[int64]() {
		b.Run("impl="+impl.name, func(b *testing.B) {
			benchSizes(b, func(b *testing.B, n int) {
				if impl.counters {
					perfbench.Open(b)
				}
				op(b, impl.newMap, n)
			})
		})
	}
}

func benchSizes(b *testing.B, f func(b *testing.B, n int)) {
	var cases = []int{
		6, 12, 18, 24, 30,
		64,
		128,
		256,
		512,
		1024,
		2048,
		4096,
		8192,
		1 << 16,
	}
	for _, n := range cases {
		b.Run("len="+strconv.Itoa(n), func(b *testing.B) { f(b, n) })
	}
}

func genKeys[T benchTypes](start, end int) []T {
	var t T
	switch any(t).(type) {
	case int32:
		keys := make([]int32, end-start)
		for i := range keys {
			keys[i] = int32(start + i)
		}
		return unsafeConvertSlice[T](keys)
	case int64:
		keys := make([]int64, end-start)
		for i := range keys {
			keys[i] = int64(start + i)
		}
		return unsafeConvertSlice[T](keys)
	case string:
		keys := make([]string, end-start)
		for i := range keys {
			keys[i] = strconv.Itoa(start + i)
		}
		return unsafeConvertSlice[T](keys)
	default:
		panic("not reached")
	}
}

func fill[T benchTypes](m benchImpl[T], keys []T) {
	for _, k := range keys {
		m.put(k, k)
	}
}

func BenchmarkMapIter(b *testing.B) {
	benchAll(b, func(b *testing.B, newMap func(int) benchImpl[int64], n int) {
		m := newMap(n)
		fill(m, genKeys[int64](0, n))
		b.ResetTimer()
		var tmp int64
		for i := 0; i < b.N; i++ {
			m.iter(func(k, v int64) {
				tmp += k + v
			})
		}
		b.StopTimer()
		fmt.Fprint(io.Discard, tmp)
	})
}

func BenchmarkMapGetHit(b *testing.B) {
	benchAll(b, func(b *testing.B, newMap func(int) benchImpl[int64], n int) {
		m := newMap(n)
		fill(m, genKeys[int64](0, n))
		keys := genKeys[int64](0, n)
		b.ResetTimer()
		var ok bool
		for i := 0; i < b.N; i++ {
			_, ok = m.get(keys[i%n])
		}
		b.StopTimer()
		fmt.Fprint(io.Discard, ok)
	})
}

func BenchmarkMapGetMiss(b *testing.B) {
	benchAll(b, func(b *testing.B, newMap func(int) benchImpl[int64], n int) {
		m := newMap(0)
		fill(m, genKeys[int64](0, n))
		miss := genKeys[int64](-n, 0)
		b.ResetTimer()
		var ok bool
		for i := 0; i < b.N; i++ {
			_, ok = m.get(miss[i%n])
		}
		b.StopTimer()
		fmt.Fprint(io.Discard, ok)
	})
}

func BenchmarkMapPutGrow(b *testing.B) {
	benchAll(b, func(b *testing.B, newMap func(int) benchImpl[int64], n int) {
		keys := genKeys[int64](0, n)
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			fill(newMap(0), keys)
		}
	})
}

func BenchmarkMapPutPreAllocate(b *testing.B) {
	benchAll(b, func(b *testing.B, newMap func(int) benchImpl[int64], n int) {
		keys := genKeys[int64](0, n)
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			fill(newMap(n), keys)
		}
	})
}

func BenchmarkMapPutReuse(b *testing.B) {
	benchAll(b, func(b *testing.B, newMap func(int) benchImpl[int64], n int) {
		m := newMap(n)
		keys := genKeys[int64](0, n)
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			fill(m, keys)
			m.clear()
		}
	})
}

func BenchmarkMapPutDelete(b *testing.B) {
	benchAll(b, func(b *testing.B, newMap func(int) benchImpl[int64], n int) {
		m := newMap(n)
		keys := genKeys[int64](0, n)
		fill(m, keys)
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			j := i % n
			m.delete(keys[j])
			m.put(keys[j], keys[j])
		}
	})
}

// BenchmarkStringKeys compares lookups of string keys, where the short hash
// filter saves the most work.
func BenchmarkStringKeys(b *testing.B) {
	benchSizes(b, func(b *testing.B, n int) {
		for _, impl := range impls[string]() {
			b.Run("impl="+impl.name, func(b *testing.B) {
				if impl.counters {
					perfbench.Open(b)
				}
				m := impl.newMap(n)
				fill(m, genKeys[string](0, n))
				// Fresh copies so that lookups cannot short-circuit on
				// pointer equality of the string data.
				keys := genKeys[string](0, n)
				b.ResetTimer()
				var ok bool
				for i := 0; i < b.N; i++ {
					_, ok = m.get(keys[i%n])
				}
				b.StopTimer()
				fmt.Fprint(io.Discard, ok)
			})
		}
	})
}
