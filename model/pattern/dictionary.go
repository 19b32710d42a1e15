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

	"github.com/samber/lo"
)

// ItemValue is the (item, rating value) pair behind a bit id.
type ItemValue struct {
	ItemId int
	Value  int
}

// Dictionary maps bit ids to (item, value) pairs and back.
type Dictionary struct {
	values map[int]ItemValue
	index  map[ItemValue]int
	size   int
}

func NewDictionary() *Dictionary {
	return &Dictionary{
		values: make(map[int]ItemValue),
		index:  make(map[ItemValue]int),
	}
}

// Add allocates the next bit id for a pair. An existing pair keeps its id.
func (d *Dictionary) Add(itemId, value int) int {
	if bitId, ok := d.index[ItemValue{itemId, value}]; ok {
		return bitId
	}
	bitId := d.size
	d.Set(bitId, itemId, value)
	return bitId
}

// Set binds a bit id to a pair, replacing any previous binding of the id.
func (d *Dictionary) Set(bitId, itemId, value int) {
	if old, ok := d.values[bitId]; ok {
		delete(d.index, old)
	}
	pair := ItemValue{ItemId: itemId, Value: value}
	d.values[bitId] = pair
	d.index[pair] = bitId
	d.size = max(d.size, bitId+1)
}

func (d *Dictionary) Get(bitId int) (ItemValue, bool) {
	pair, ok := d.values[bitId]
	return pair, ok
}

func (d *Dictionary) Id(itemId, value int) (int, bool) {
	bitId, ok := d.index[ItemValue{ItemId: itemId, Value: value}]
	return bitId, ok
}

// Len is one past the largest bit id.
func (d *Dictionary) Len() int {
	return d.size
}

func (d *Dictionary) Count() int {
	return len(d.values)
}

// BitIds returns bound bit ids in ascending order.
func (d *Dictionary) BitIds() []int {
	ids := lo.Keys(d.values)
	sort.Ints(ids)
	return ids
}
