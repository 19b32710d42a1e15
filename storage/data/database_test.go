// Copyright 2020 gorse Project Authors
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

package data

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

func env(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

type ratingKey struct {
	UserId int
	ItemId int
	Value  float64
}

func keysOf(ratings []Rating) []ratingKey {
	return lo.Map(ratings, func(r Rating, _ int) ratingKey {
		return ratingKey{UserId: r.UserId, ItemId: r.ItemId, Value: r.Value}
	})
}

type baseTestSuite struct {
	suite.Suite
	Database
}

func (suite *baseTestSuite) SetupTest() {
	suite.NoError(suite.Database.Init())
	suite.NoError(suite.Database.Purge())
}

func (suite *baseTestSuite) getRatings(batchSize int) []Rating {
	var (
		ratings []Rating
		batches int
	)
	streamed := testutil.ToFloat64(StreamedBatchesTotal)
	ratingChan, errChan := suite.Database.GetRatingStream(context.Background(), batchSize)
	for batch := range ratingChan {
		suite.LessOrEqual(len(batch), batchSize)
		ratings = append(ratings, batch...)
		batches++
	}
	suite.NoError(<-errChan)
	suite.Equal(streamed+float64(batches), testutil.ToFloat64(StreamedBatchesTotal))
	return ratings
}

func (suite *baseTestSuite) TestPing() {
	suite.NoError(suite.Database.Ping())
}

func (suite *baseTestSuite) TestRatings() {
	ctx := context.Background()
	timestamp := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var ratings []Rating
	for userId := 3; userId > 0; userId-- {
		for itemId := 0; itemId < 4; itemId++ {
			ratings = append(ratings, Rating{
				UserId:    userId,
				ItemId:    itemId,
				Value:     float64(1 + (userId+itemId)%5),
				Timestamp: timestamp,
			})
		}
	}
	suite.NoError(suite.Database.BatchInsertRatings(ctx, ratings))
	suite.NoError(suite.Database.BatchInsertRatings(ctx, nil))

	count, err := suite.Database.CountRatings(ctx)
	suite.NoError(err)
	suite.Equal(12, count)

	// user ratings are ordered by item id
	userRatings, err := suite.Database.GetUserRatings(ctx, 2)
	suite.NoError(err)
	suite.Equal([]ratingKey{{2, 0, 3}, {2, 1, 4}, {2, 2, 5}, {2, 3, 1}}, keysOf(userRatings))
	userRatings, err = suite.Database.GetUserRatings(ctx, 100)
	suite.NoError(err)
	suite.Empty(userRatings)

	// stream is ordered by user id
	streamed := suite.getRatings(5)
	suite.Len(streamed, 12)
	suite.Equal(1, streamed[0].UserId)
	suite.Equal(3, streamed[11].UserId)
	suite.ElementsMatch(keysOf(ratings), keysOf(streamed))
}

func (suite *baseTestSuite) TestOverwriteRating() {
	ctx := context.Background()
	suite.NoError(suite.Database.BatchInsertRatings(ctx, []Rating{
		{UserId: 1, ItemId: 1, Value: 2},
		{UserId: 1, ItemId: 1, Value: 4},
	}))
	suite.NoError(suite.Database.BatchInsertRatings(ctx, []Rating{{UserId: 1, ItemId: 2, Value: 1}}))
	suite.NoError(suite.Database.BatchInsertRatings(ctx, []Rating{{UserId: 1, ItemId: 2, Value: 5}}))
	userRatings, err := suite.Database.GetUserRatings(ctx, 1)
	suite.NoError(err)
	suite.Equal([]ratingKey{{1, 1, 4}, {1, 2, 5}}, keysOf(userRatings))
}

func (suite *baseTestSuite) TestPurge() {
	ctx := context.Background()
	suite.NoError(suite.Database.BatchInsertRatings(ctx, []Rating{{UserId: 1, ItemId: 1, Value: 2}}))
	suite.NoError(suite.Database.Purge())
	count, err := suite.Database.CountRatings(ctx)
	suite.NoError(err)
	suite.Zero(count)
	suite.Empty(suite.getRatings(10))
}

func TestOpenUnknown(t *testing.T) {
	_, err := Open("clickhouse://127.0.0.1:8123/", "")
	assert.True(t, errors.Is(err, errors.NotSupported))
}
