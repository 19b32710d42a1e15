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
	"bufio"
	"context"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/gorse-io/roller/base"
	"github.com/gorse-io/roller/base/log"
	"github.com/gorse-io/roller/storage/data"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// RatingVector maps ids to rating values. Ratings of a user are keyed by
// item id and ratings of an item are keyed by user id.
type RatingVector map[int]float64

// Keys returns ids in ascending order.
func (v RatingVector) Keys() []int {
	keys := lo.Keys(v)
	sort.Ints(keys)
	return keys
}

// Rounded returns the rating of id rounded to the nearest integer.
func (v RatingVector) Rounded(id int) (int, bool) {
	value, ok := v[id]
	if !ok {
		return 0, false
	}
	return Round(value), true
}

// Round rounds a rating half away from zero.
func Round(value float64) int {
	return int(math.Round(value))
}

// Dataset is an in-memory rating matrix indexed both by user and by item.
type Dataset struct {
	minRating   float64
	maxRating   float64
	numRatings  int
	userRatings map[int]RatingVector
	itemRatings map[int]RatingVector
}

func NewDataset(minRating, maxRating float64) *Dataset {
	return &Dataset{
		minRating:   minRating,
		maxRating:   maxRating,
		userRatings: make(map[int]RatingVector),
		itemRatings: make(map[int]RatingVector),
	}
}

// AddRating inserts a rating. A rating for an existing (user, item) pair is overwritten.
func (d *Dataset) AddRating(userId, itemId int, value float64) {
	if _, exist := d.userRatings[userId]; !exist {
		d.userRatings[userId] = make(RatingVector)
	}
	if _, exist := d.itemRatings[itemId]; !exist {
		d.itemRatings[itemId] = make(RatingVector)
	}
	if _, exist := d.userRatings[userId][itemId]; !exist {
		d.numRatings++
	}
	d.userRatings[userId][itemId] = value
	d.itemRatings[itemId][userId] = value
}

func (d *Dataset) GetMinRating() float64 {
	return d.minRating
}

func (d *Dataset) GetMaxRating() float64 {
	return d.maxRating
}

// GetUserIds returns user ids in ascending order.
func (d *Dataset) GetUserIds() []int {
	ids := lo.Keys(d.userRatings)
	sort.Ints(ids)
	return ids
}

// GetItemIds returns item ids in ascending order.
func (d *Dataset) GetItemIds() []int {
	ids := lo.Keys(d.itemRatings)
	sort.Ints(ids)
	return ids
}

// GetUserRatings returns ratings of a user keyed by item id.
func (d *Dataset) GetUserRatings(userId int) RatingVector {
	return d.userRatings[userId]
}

// GetItemRatings returns ratings of an item keyed by user id.
func (d *Dataset) GetItemRatings(itemId int) RatingVector {
	return d.itemRatings[itemId]
}

func (d *Dataset) CountUsers() int {
	return len(d.userRatings)
}

func (d *Dataset) CountItems() int {
	return len(d.itemRatings)
}

func (d *Dataset) CountRatings() int {
	return d.numRatings
}

// NewRatingVector converts ratings of a single user to a vector keyed by item id.
func NewRatingVector(ratings []data.Rating) RatingVector {
	vector := make(RatingVector, len(ratings))
	for _, rating := range ratings {
		vector[rating.ItemId] = rating.Value
	}
	return vector
}

// ReadRatingsCSV reads ratings from a csv file. Each record is
// "user_id,item_id,rating[,timestamp]".
func ReadRatingsCSV(path, sep string, header bool) ([]data.Rating, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer file.Close()
	var (
		ratings []data.Rating
		lineErr error
	)
	err = base.ReadLines(bufio.NewScanner(file), sep, func(lineNumber int, fields []string) bool {
		if header && lineNumber == 0 {
			return true
		}
		if len(fields) == 1 && strings.TrimSpace(fields[0]) == "" {
			return true
		}
		if len(fields) < 3 {
			lineErr = errors.NotValidf("line %d of %s", lineNumber+1, path)
			return false
		}
		var rating data.Rating
		if rating.UserId, lineErr = strconv.Atoi(strings.TrimSpace(fields[0])); lineErr != nil {
			lineErr = errors.Annotatef(lineErr, "line %d of %s", lineNumber+1, path)
			return false
		}
		if rating.ItemId, lineErr = strconv.Atoi(strings.TrimSpace(fields[1])); lineErr != nil {
			lineErr = errors.Annotatef(lineErr, "line %d of %s", lineNumber+1, path)
			return false
		}
		if rating.Value, lineErr = strconv.ParseFloat(strings.TrimSpace(fields[2]), 64); lineErr != nil {
			lineErr = errors.Annotatef(lineErr, "line %d of %s", lineNumber+1, path)
			return false
		}
		if len(fields) > 3 && strings.TrimSpace(fields[3]) != "" {
			if rating.Timestamp, lineErr = dateparse.ParseAny(strings.TrimSpace(fields[3])); lineErr != nil {
				lineErr = errors.Annotatef(lineErr, "line %d of %s", lineNumber+1, path)
				return false
			}
		}
		ratings = append(ratings, rating)
		return true
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	if lineErr != nil {
		return nil, lineErr
	}
	return ratings, nil
}

// LoadDataFromCSV loads a dataset from a csv file.
func LoadDataFromCSV(path, sep string, header bool, minRating, maxRating float64) (*Dataset, error) {
	ratings, err := ReadRatingsCSV(path, sep, header)
	if err != nil {
		return nil, errors.Trace(err)
	}
	dataset := NewDataset(minRating, maxRating)
	for _, rating := range ratings {
		dataset.AddRating(rating.UserId, rating.ItemId, rating.Value)
	}
	return dataset, nil
}

// LoadDataFromDatabase loads all ratings from the data store.
func LoadDataFromDatabase(ctx context.Context, database data.Database, batchSize int, minRating, maxRating float64) (*Dataset, error) {
	start := time.Now()
	dataset := NewDataset(minRating, maxRating)
	ratingChan, errChan := database.GetRatingStream(ctx, batchSize)
	for batch := range ratingChan {
		for _, rating := range batch {
			dataset.AddRating(rating.UserId, rating.ItemId, rating.Value)
		}
	}
	if err := <-errChan; err != nil {
		return nil, errors.Trace(err)
	}
	log.Logger().Info("load dataset from database",
		zap.Int("n_users", dataset.CountUsers()),
		zap.Int("n_items", dataset.CountItems()),
		zap.Int("n_ratings", dataset.CountRatings()),
		zap.Duration("used_time", time.Since(start)))
	return dataset, nil
}
