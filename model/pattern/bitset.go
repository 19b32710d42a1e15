// Copyright 2025 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pattern

import (
	"sort"

	"github.com/bits-and-blooms/bitset"
)

// support is the fraction of n sessions covered by count.
func support(count uint, n int) float64 {
	if n == 0 {
		return 0
	}
	return float64(count) / float64(n)
}

// Contains returns true if every bit of sub is set in b.
func Contains(b, sub *bitset.BitSet) bool {
	return b.IsSuperSet(sub)
}

// NewBitSet creates a bitset of length n with the given bits set.
func NewBitSet(n int, bits ...int) *bitset.BitSet {
	b := bitset.New(uint(n))
	for _, i := range bits {
		b.Set(uint(i))
	}
	return b
}

// Bits returns indices of set bits in ascending order.
func Bits(b *bitset.BitSet) []int {
	bits := make([]int, 0, b.Count())
	for i, ok := b.NextSet(0); ok; i, ok = b.NextSet(i + 1) {
		bits = append(bits, int(i))
	}
	return bits
}

// sortBySupport sorts bit ids by descending support. Ties keep the original order.
func sortBySupport(ids []int, supports []float64) {
	sort.SliceStable(ids, func(i, j int) bool {
		return supports[ids[i]] > supports[ids[j]]
	})
}
