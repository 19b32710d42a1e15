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
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gorse-io/roller/config"
	"github.com/gorse-io/roller/dataset"
	"github.com/gorse-io/roller/model/pattern"
	"github.com/gorse-io/roller/storage"
	"github.com/gorse-io/roller/storage/blob"
	"github.com/gorse-io/roller/storage/data"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

const (
	testBitmap = `# roller bitmap v1
0 : 1=5
1 : 2=4
2 : 3=1
3 : 2=5
4 : 4=5
5 : 5=2
`
	testResult = `# roller result v1
0,4,1,3,2 : 0.5 : 111110
5,0 : 0.3 : 100001
`
)

type RecommenderTestSuite struct {
	suite.Suite
	kb          *pattern.KnowledgeBase
	recommender *Recommender
}

func (suite *RecommenderTestSuite) writeBlob(store blob.Store, name, content string) {
	w, done, err := store.Create(name)
	suite.NoError(err)
	_, err = io.WriteString(w, content)
	suite.NoError(err)
	suite.NoError(w.Close())
	suite.NoError(<-done)
}

func (suite *RecommenderTestSuite) SetupTest() {
	store := blob.NewPOSIX(suite.T().TempDir())
	suite.writeBlob(store, "test_bitmap", testBitmap)
	suite.writeBlob(store, "test_result", testResult)
	suite.kb = pattern.NewKnowledgeBase(pattern.DefaultMaxPatterns)
	suite.NoError(suite.kb.Load(store, "test"))
	suite.Equal(2, suite.kb.Len())
	suite.recommender = NewRecommender(suite.kb, nil, 1, 5, false)
}

func (suite *RecommenderTestSuite) TestEstimate() {
	// the first pattern wins the tie and a later bit of item 2 wins
	estimates := suite.recommender.Estimate(dataset.RatingVector{1: 5}, nil, nil, 0)
	suite.Equal([]Estimate{{2, 5}, {3, 1}, {4, 5}}, estimates)

	// restrict items
	estimates = suite.recommender.Estimate(dataset.RatingVector{1: 5}, []int{3, 4, 100}, nil, 0)
	suite.Equal([]Estimate{{3, 1}, {4, 5}}, estimates)

	// restrict values
	estimates = suite.recommender.Estimate(dataset.RatingVector{1: 4.8}, nil, func(value, ref float64) bool {
		return value < ref
	}, 2)
	suite.Equal([]Estimate{{3, 1}}, estimates)

	// filter items
	recommender := NewRecommender(suite.kb, ItemFilterFunc(func(itemId int) bool {
		return itemId != 4
	}), 1, 5, false)
	estimates = recommender.Estimate(dataset.RatingVector{1: 5}, nil, nil, 0)
	suite.Equal([]Estimate{{2, 5}, {3, 1}}, estimates)
}

func (suite *RecommenderTestSuite) TestCannotEstimate() {
	// no matching pattern
	suite.Nil(suite.recommender.Estimate(dataset.RatingVector{6: 1}, nil, nil, 0))
	suite.Nil(suite.recommender.Recommend(dataset.RatingVector{6: 1}, 0))
	suite.Nil(suite.recommender.Estimate(nil, nil, nil, 0))

	// the best pattern is covered by the user
	suite.Nil(suite.recommender.Estimate(dataset.RatingVector{1: 5, 5: 2}, nil, nil, 0))
	suite.Nil(suite.recommender.Recommend(dataset.RatingVector{1: 5, 5: 2}, 0))

	// no item passes the restriction
	suite.Nil(suite.recommender.Estimate(dataset.RatingVector{1: 5}, []int{100}, nil, 0))

	// empty knowledge base
	suite.kb.Close()
	suite.Nil(suite.recommender.Estimate(dataset.RatingVector{1: 5}, nil, nil, 0))
	suite.Nil(suite.recommender.Recommend(dataset.RatingVector{1: 5}, 10))
}

func (suite *RecommenderTestSuite) TestRecommend() {
	suite.Equal(3.0, suite.recommender.RelevantThreshold())

	// ordered by bit ids of the pattern, item 2 only holds its latest value
	recommendations := suite.recommender.Recommend(dataset.RatingVector{1: 5}, 0)
	suite.Equal([]Estimate{{4, 5}, {2, 5}}, recommendations)
	recommendations = suite.recommender.Recommend(dataset.RatingVector{1: 5}, 1)
	suite.Equal([]Estimate{{4, 5}}, recommendations)
	recommendations = suite.recommender.Recommend(dataset.RatingVector{1: 5}, 5)
	suite.Len(recommendations, 2)

	// irrelevant items
	reversed := NewRecommender(suite.kb, nil, 1, 5, true)
	recommendations = reversed.Recommend(dataset.RatingVector{1: 5}, 0)
	suite.Equal([]Estimate{{3, 1}}, recommendations)
}

func (suite *RecommenderTestSuite) TestRecommendUser() {
	database, err := data.Open(storage.SQLitePrefix+filepath.Join(suite.T().TempDir(), "data.db"), "")
	suite.NoError(err)
	defer database.Close()
	suite.NoError(database.Init())
	ctx := context.Background()
	suite.NoError(database.BatchInsertRatings(ctx, []data.Rating{{UserId: 7, ItemId: 1, Value: 5}}))

	recommendations, err := suite.recommender.RecommendUser(ctx, database, 7, 0)
	suite.NoError(err)
	suite.Equal([]Estimate{{4, 5}, {2, 5}}, recommendations)
	estimates, err := suite.recommender.EstimateUser(ctx, database, 7, []int{3})
	suite.NoError(err)
	suite.Equal([]Estimate{{3, 1}}, estimates)

	_, err = suite.recommender.RecommendUser(ctx, database, 8, 0)
	suite.True(errors.Is(err, errors.NotFound))
	_, err = suite.recommender.EstimateUser(ctx, database, 8, nil)
	suite.True(errors.Is(err, errors.NotFound))
}

func (suite *RecommenderTestSuite) TestNewRecommenderFromConfig() {
	cfg := config.GetDefaultConfig()
	cfg.Roller.ItemFilter = "item_id != 4"
	cfg.Roller.Reversed = false
	recommender, err := NewRecommenderFromConfig(suite.kb, cfg)
	suite.NoError(err)
	suite.Equal([]Estimate{{2, 5}}, recommender.Recommend(dataset.RatingVector{1: 5}, 0))

	cfg.Roller.ItemFilter = "item_id +"
	_, err = NewRecommenderFromConfig(suite.kb, cfg)
	suite.ErrorContains(err, "compile item filter")
}

func TestRecommender(t *testing.T) {
	suite.Run(t, new(RecommenderTestSuite))
}

func TestEndToEnd(t *testing.T) {
	// A is rated by sessions 0, 1, 2 and B by sessions 0, 1, 3
	ds := dataset.NewDataset(0, 1)
	for _, userId := range []int{0, 1, 2} {
		ds.AddRating(userId, 'A', 1)
	}
	for _, userId := range []int{0, 1, 3} {
		ds.AddRating(userId, 'B', 1)
	}
	for _, minerName := range []string{config.MinerRoller, config.MinerRollerMaxi} {
		miner, err := pattern.NewMiner(minerName)
		assert.NoError(t, err)
		kb := pattern.NewKnowledgeBase(pattern.DefaultMaxPatterns)
		assert.NoError(t, kb.Learn(context.Background(), ds, miner, 0.5, 1))
		records := kb.Records()
		if assert.Len(t, records, 1) {
			assert.Equal(t, 0.5, records[0].Support)
			assert.Len(t, records[0].BitIds, 2)
		}

		recommender := NewRecommender(kb, nil, 0, 1, false)
		assert.Equal(t, []Estimate{{'B', 1}}, recommender.Estimate(dataset.RatingVector{'A': 1}, nil, nil, 0))
		assert.Equal(t, []Estimate{{'B', 1}}, recommender.Recommend(dataset.RatingVector{'A': 1}, 1))

		// the knowledge base survives a round trip
		store := blob.NewPOSIX(t.TempDir())
		assert.NoError(t, kb.Save(store, minerName))
		loaded := pattern.NewKnowledgeBase(pattern.DefaultMaxPatterns)
		assert.NoError(t, loaded.Load(store, minerName))
		recommender = NewRecommender(loaded, nil, 0, 1, false)
		assert.Equal(t, []Estimate{{'B', 1}}, recommender.Recommend(dataset.RatingVector{'A': 1}, 1))
	}
}

func TestEmptyDataset(t *testing.T) {
	kb := pattern.NewKnowledgeBase(pattern.DefaultMaxPatterns)
	assert.NoError(t, kb.Learn(context.Background(), dataset.NewDataset(1, 5), &pattern.Roller{}, 0, 1))
	assert.True(t, kb.IsEmpty())
	recommender := NewRecommender(kb, nil, 1, 5, false)
	assert.Nil(t, recommender.Estimate(dataset.RatingVector{1: 5}, nil, nil, 0))
	assert.Nil(t, recommender.Recommend(dataset.RatingVector{1: 5}, 0))
}

func TestRecommendConcurrently(t *testing.T) {
	store := blob.NewPOSIX(t.TempDir())
	for name, content := range map[string]string{"test_bitmap": testBitmap, "test_result": testResult} {
		w, done, err := store.Create(name)
		assert.NoError(t, err)
		_, err = io.Copy(w, strings.NewReader(content))
		assert.NoError(t, err)
		assert.NoError(t, w.Close())
		assert.NoError(t, <-done)
	}
	kb := pattern.NewKnowledgeBase(pattern.DefaultMaxPatterns)
	assert.NoError(t, kb.Load(store, "test"))
	recommender := NewRecommender(kb, nil, 1, 5, false)
	results := make(chan []Estimate, 16)
	for i := 0; i < cap(results); i++ {
		go func() {
			results <- recommender.Recommend(dataset.RatingVector{1: 5}, 0)
		}()
	}
	// reloading does not disturb queries
	assert.NoError(t, kb.Load(store, "test"))
	for i := 0; i < cap(results); i++ {
		assert.Equal(t, []Estimate{{4, 5}, {2, 5}}, <-results)
	}
}
