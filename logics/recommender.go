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

package logics

import (
	"context"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorse-io/roller/base/log"
	"github.com/gorse-io/roller/config"
	"github.com/gorse-io/roller/dataset"
	"github.com/gorse-io/roller/model/pattern"
	"github.com/gorse-io/roller/storage/data"
	"github.com/juju/errors"
	"go.uber.org/zap"
)

// Estimate is an estimated rating of an item.
type Estimate struct {
	ItemId int
	Value  float64
}

// RatingFilter keeps an estimated value given a reference value.
type RatingFilter func(value, ref float64) bool

// Recommender estimates ratings from the pattern best matching a user.
type Recommender struct {
	kb        *pattern.KnowledgeBase
	filter    ItemFilter
	minRating float64
	maxRating float64
	reversed  bool
}

// NewRecommender creates a recommender. A nil filter accepts every item.
func NewRecommender(kb *pattern.KnowledgeBase, filter ItemFilter, minRating, maxRating float64, reversed bool) *Recommender {
	if filter == nil {
		filter = AcceptAll
	}
	return &Recommender{
		kb:        kb,
		filter:    filter,
		minRating: minRating,
		maxRating: maxRating,
		reversed:  reversed,
	}
}

// NewRecommenderFromConfig creates a recommender with the item filter and
// rating range of a configuration.
func NewRecommenderFromConfig(kb *pattern.KnowledgeBase, cfg *config.Config) (*Recommender, error) {
	filter, err := NewItemFilter(cfg.Roller.ItemFilter)
	if err != nil {
		return nil, errors.Annotate(err, "compile item filter")
	}
	return NewRecommender(kb, filter, cfg.Dataset.MinRating, cfg.Dataset.MaxRating, cfg.Roller.Reversed), nil
}

// Estimate returns values of items in the best matching pattern that the user
// has not rated with the same value. Only items in queryItemIds are kept
// unless it is empty. A nil ratingFilter keeps every value. It returns nil if
// nothing can be estimated.
func (r *Recommender) Estimate(userRatings dataset.RatingVector, queryItemIds []int, ratingFilter RatingFilter, ref float64) []Estimate {
	start := time.Now()
	_, estimates := r.estimate(userRatings, queryItemIds, ratingFilter, ref)
	QuerySecondsVec.WithLabelValues(OperationEstimate).Observe(time.Since(start).Seconds())
	if len(estimates) == 0 {
		EmptyResultTotalVec.WithLabelValues(OperationEstimate).Inc()
		return nil
	}
	return estimates
}

func (r *Recommender) estimate(userRatings dataset.RatingVector, queryItemIds []int, ratingFilter RatingFilter, ref float64) (*pattern.Record, []Estimate) {
	query := r.kb.ToQueryBitSet(userRatings)
	_, maxRecord, ok := r.kb.FindMinMax(query)
	if !ok {
		return nil, nil
	}
	recommendBits := maxRecord.BitSet.Difference(query)
	if recommendBits.None() {
		return maxRecord, nil
	}
	var querySet mapset.Set[int]
	if len(queryItemIds) > 0 {
		querySet = mapset.NewThreadUnsafeSet(queryItemIds...)
	}
	var (
		estimates []Estimate
		positions = make(map[int]int)
	)
	for _, bitId := range pattern.Bits(recommendBits) {
		pair, ok := r.kb.ItemValue(bitId)
		if !ok {
			continue
		}
		if querySet != nil && !querySet.Contains(pair.ItemId) {
			continue
		}
		if !r.filter.Accept(pair.ItemId) {
			continue
		}
		value := float64(pair.Value)
		if ratingFilter != nil && !ratingFilter(value, ref) {
			continue
		}
		// a later bit of the same item wins
		if i, exist := positions[pair.ItemId]; exist {
			estimates[i].Value = value
		} else {
			positions[pair.ItemId] = len(estimates)
			estimates = append(estimates, Estimate{ItemId: pair.ItemId, Value: value})
		}
	}
	return maxRecord, estimates
}

// RelevantThreshold is the midpoint of the rating range.
func (r *Recommender) RelevantThreshold() float64 {
	return (r.minRating + r.maxRating) / 2
}

// Recommend returns at most maxCount relevant items ordered by their position
// in the best matching pattern. Zero maxCount means unbounded.
func (r *Recommender) Recommend(userRatings dataset.RatingVector, maxCount int) []Estimate {
	start := time.Now()
	record, estimates := r.estimate(userRatings, nil, func(value, ref float64) bool {
		relevant := value >= ref
		return relevant != r.reversed
	}, r.RelevantThreshold())
	recommendations := r.optimizeRecommend(record, estimates, maxCount)
	QuerySecondsVec.WithLabelValues(OperationRecommend).Observe(time.Since(start).Seconds())
	if len(recommendations) == 0 {
		EmptyResultTotalVec.WithLabelValues(OperationRecommend).Inc()
		return nil
	}
	return recommendations
}

// optimizeRecommend ranks estimates by the discovery order of bit ids in the
// pattern. An estimate is kept only if it holds the value of its bit.
func (r *Recommender) optimizeRecommend(record *pattern.Record, estimates []Estimate, maxCount int) []Estimate {
	if record == nil || len(estimates) == 0 {
		return nil
	}
	values := make(map[int]float64, len(estimates))
	for _, estimate := range estimates {
		values[estimate.ItemId] = estimate.Value
	}
	var recommendations []Estimate
	accepted := mapset.NewThreadUnsafeSet[int]()
	for _, bitId := range record.BitIds {
		if maxCount > 0 && len(recommendations) >= maxCount {
			break
		}
		pair, ok := r.kb.ItemValue(bitId)
		if !ok || accepted.Contains(pair.ItemId) {
			continue
		}
		if value, exist := values[pair.ItemId]; exist && value == float64(pair.Value) {
			accepted.Add(pair.ItemId)
			recommendations = append(recommendations, Estimate{ItemId: pair.ItemId, Value: value})
		}
	}
	return recommendations
}

// RecommendUser recommends items to a user in the data store.
func (r *Recommender) RecommendUser(ctx context.Context, database data.Database, userId, maxCount int) ([]Estimate, error) {
	userRatings, err := r.userRatings(ctx, database, userId)
	if err != nil {
		return nil, errors.Trace(err)
	}
	recommendations := r.Recommend(userRatings, maxCount)
	log.Logger().Debug("recommend",
		zap.Int("user_id", userId),
		zap.Int("n_ratings", len(userRatings)),
		zap.Int("n_recommendations", len(recommendations)))
	return recommendations, nil
}

// EstimateUser estimates ratings of items for a user in the data store.
func (r *Recommender) EstimateUser(ctx context.Context, database data.Database, userId int, itemIds []int) ([]Estimate, error) {
	userRatings, err := r.userRatings(ctx, database, userId)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return r.Estimate(userRatings, itemIds, nil, 0), nil
}

func (r *Recommender) userRatings(ctx context.Context, database data.Database, userId int) (dataset.RatingVector, error) {
	ratings, err := database.GetUserRatings(ctx, userId)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if len(ratings) == 0 {
		return nil, errors.NotFoundf("ratings of user %d", userId)
	}
	return dataset.NewRatingVector(ratings), nil
}
