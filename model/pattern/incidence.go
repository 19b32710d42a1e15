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
	"context"
	"time"

	"github.com/bits-and-blooms/bitset"
	"github.com/gorse-io/roller/base/log"
	"github.com/gorse-io/roller/base/progress"
	"github.com/gorse-io/roller/common/parallel"
	"github.com/gorse-io/roller/dataset"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// Dataset is the rating matrix an incidence is built from.
type Dataset interface {
	// GetUserIds returns session ids in ascending order.
	GetUserIds() []int
	// GetItemIds returns item ids in ascending order.
	GetItemIds() []int
	// GetItemRatings returns ratings of an item keyed by user id.
	GetItemRatings(itemId int) dataset.RatingVector
	GetMinRating() float64
	GetMaxRating() float64
}

// Incidence is the binary session x (item, value) matrix. Column b holds the
// sessions that rated the item of bit id b with exactly its value.
type Incidence struct {
	dict     *Dictionary
	sessions []int
	columns  []*bitset.BitSet
	supports []float64
}

type column struct {
	value int
	bits  *bitset.BitSet
}

// NewIncidence builds the incidence of a dataset. Bit ids are allocated per
// item ascending, then per value ascending, and only for non-empty columns.
// A dataset without items or sessions yields an empty incidence.
func NewIncidence(ctx context.Context, ds Dataset, jobs int) (*Incidence, error) {
	start := time.Now()
	incidence := &Incidence{
		dict:     NewDictionary(),
		sessions: ds.GetUserIds(),
	}
	itemIds := ds.GetItemIds()
	if len(itemIds) == 0 || len(incidence.sessions) == 0 {
		return incidence, nil
	}
	rows := make(map[int]int, len(incidence.sessions))
	for i, userId := range incidence.sessions {
		rows[userId] = i
	}
	minValue, maxValue := dataset.Round(ds.GetMinRating()), dataset.Round(ds.GetMaxRating())

	// build columns of each item
	_, span := progress.Start(ctx, "NewIncidence", len(itemIds))
	defer span.End()
	itemColumns := make([][]column, len(itemIds))
	err := parallel.Parallel(ctx, len(itemIds), jobs, func(_, jobId int) error {
		ratings := ds.GetItemRatings(itemIds[jobId])
		columns := make([]column, 0, maxValue-minValue+1)
		for value := minValue; value <= maxValue; value++ {
			bits := bitset.New(uint(len(incidence.sessions)))
			for userId := range ratings {
				if rounded, _ := ratings.Rounded(userId); rounded == value {
					if row, ok := rows[userId]; ok {
						bits.Set(uint(row))
					}
				}
			}
			if bits.Any() {
				columns = append(columns, column{value: value, bits: bits})
			}
		}
		itemColumns[jobId] = columns
		span.Add(1)
		return nil
	})
	if err != nil {
		span.Fail(err)
		return nil, errors.Trace(err)
	}

	// allocate bit ids
	for i, columns := range itemColumns {
		for _, c := range columns {
			incidence.dict.Add(itemIds[i], c.value)
			incidence.columns = append(incidence.columns, c.bits)
			incidence.supports = append(incidence.supports, support(c.bits.Count(), len(incidence.sessions)))
		}
	}
	IncidenceBits.Set(float64(incidence.Len()))
	log.Logger().Debug("build incidence",
		zap.Int("n_sessions", incidence.CountSessions()),
		zap.Int("n_items", len(itemIds)),
		zap.Int("n_bits", incidence.Len()),
		zap.Duration("used_time", time.Since(start)))
	return incidence, nil
}

// Len returns the number of bit ids.
func (inc *Incidence) Len() int {
	return len(inc.columns)
}

func (inc *Incidence) CountSessions() int {
	return len(inc.sessions)
}

// Sessions returns session ids in row order.
func (inc *Incidence) Sessions() []int {
	return inc.sessions
}

func (inc *Incidence) Dictionary() *Dictionary {
	return inc.dict
}

// Column returns the sessions of a bit id. It must not be modified.
func (inc *Incidence) Column(bitId int) *bitset.BitSet {
	return inc.columns[bitId]
}

// Support returns the fraction of sessions in the column of a bit id.
func (inc *Incidence) Support(bitId int) float64 {
	return inc.supports[bitId]
}

// MinSupport returns the least support of a single bit id, or 0 if empty.
func (inc *Incidence) MinSupport() float64 {
	if len(inc.supports) == 0 {
		return 0
	}
	return lo.Min(inc.supports)
}
