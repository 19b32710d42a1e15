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

package dataset

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorse-io/roller/storage"
	"github.com/gorse-io/roller/storage/data"
	"github.com/stretchr/testify/assert"
)

func TestDataset(t *testing.T) {
	dataSet := NewDataset(1, 5)
	dataSet.AddRating(2, 10, 4)
	dataSet.AddRating(1, 10, 2.4)
	dataSet.AddRating(1, 20, 5)
	dataSet.AddRating(1, 20, 3.5)
	assert.Equal(t, 1.0, dataSet.GetMinRating())
	assert.Equal(t, 5.0, dataSet.GetMaxRating())
	assert.Equal(t, 2, dataSet.CountUsers())
	assert.Equal(t, 2, dataSet.CountItems())
	assert.Equal(t, 3, dataSet.CountRatings())
	assert.Equal(t, []int{1, 2}, dataSet.GetUserIds())
	assert.Equal(t, []int{10, 20}, dataSet.GetItemIds())
	assert.Equal(t, RatingVector{10: 2.4, 20: 3.5}, dataSet.GetUserRatings(1))
	assert.Equal(t, RatingVector{1: 2.4, 2: 4}, dataSet.GetItemRatings(10))
	assert.Nil(t, dataSet.GetUserRatings(3))
}

func TestRatingVector(t *testing.T) {
	vector := RatingVector{3: 2.5, 1: 1.49, 2: -0.5}
	assert.Equal(t, []int{1, 2, 3}, vector.Keys())
	value, ok := vector.Rounded(3)
	assert.True(t, ok)
	assert.Equal(t, 3, value)
	value, ok = vector.Rounded(1)
	assert.True(t, ok)
	assert.Equal(t, 1, value)
	value, ok = vector.Rounded(2)
	assert.True(t, ok)
	assert.Equal(t, -1, value)
	_, ok = vector.Rounded(4)
	assert.False(t, ok)

	assert.Equal(t, RatingVector{1: 5, 2: 3}, NewRatingVector([]data.Rating{
		{UserId: 1, ItemId: 1, Value: 5},
		{UserId: 1, ItemId: 2, Value: 3},
	}))
}

func TestLoadDataFromCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ratings.csv")
	err := os.WriteFile(path, []byte("user_id,item_id,rating,timestamp\n"+
		"1,10,5,2024-01-02\n"+
		"1,20,\"3\"\n"+
		"\n"+
		"2,10,1,\n"), 0644)
	assert.NoError(t, err)

	ratings, err := ReadRatingsCSV(path, ",", true)
	assert.NoError(t, err)
	assert.Len(t, ratings, 3)
	assert.Equal(t, 1, ratings[0].UserId)
	assert.Equal(t, 10, ratings[0].ItemId)
	assert.Equal(t, 5.0, ratings[0].Value)
	assert.True(t, ratings[0].Timestamp.Equal(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)))
	assert.True(t, ratings[1].Timestamp.IsZero())

	dataSet, err := LoadDataFromCSV(path, ",", true, 1, 5)
	assert.NoError(t, err)
	assert.Equal(t, 3, dataSet.CountRatings())
	assert.Equal(t, RatingVector{10: 5, 20: 3}, dataSet.GetUserRatings(1))

	// header is not a rating
	_, err = LoadDataFromCSV(path, ",", false, 1, 5)
	assert.Error(t, err)

	// missing fields
	err = os.WriteFile(path, []byte("1,10\n"), 0644)
	assert.NoError(t, err)
	_, err = LoadDataFromCSV(path, ",", false, 1, 5)
	assert.ErrorContains(t, err, "line 1")

	// missing file
	_, err = LoadDataFromCSV(filepath.Join(t.TempDir(), "missing.csv"), ",", false, 1, 5)
	assert.Error(t, err)
}

func TestLoadDataFromDatabase(t *testing.T) {
	database, err := data.Open(storage.SQLitePrefix+filepath.Join(t.TempDir(), "data.db"), "")
	assert.NoError(t, err)
	defer database.Close()
	assert.NoError(t, database.Init())

	ctx := context.Background()
	var ratings []data.Rating
	for userId := 0; userId < 10; userId++ {
		for itemId := 0; itemId < 5; itemId++ {
			ratings = append(ratings, data.Rating{UserId: userId, ItemId: itemId, Value: float64(1 + (userId*itemId)%5)})
		}
	}
	assert.NoError(t, database.BatchInsertRatings(ctx, ratings))

	dataSet, err := LoadDataFromDatabase(ctx, database, 7, 1, 5)
	assert.NoError(t, err)
	assert.Equal(t, 10, dataSet.CountUsers())
	assert.Equal(t, 5, dataSet.CountItems())
	assert.Equal(t, 50, dataSet.CountRatings())
	assert.Equal(t, RatingVector{0: 1, 1: 4, 2: 2, 3: 5, 4: 3}, dataSet.GetUserRatings(3))
}
