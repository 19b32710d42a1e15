// Copyright 2021 gorse Project Authors
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
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gorse-io/roller/storage"
	"github.com/juju/errors"
	"github.com/redis/go-redis/v9"
)

const prefixRatings = "ratings/"

// Redis keeps ratings of each user in a hash keyed by item id. It is used for
// tests only.
type Redis struct {
	storage.TablePrefix
	client *redis.Client
}

func (r *Redis) userKey(userId int) string {
	return r.Key(prefixRatings + strconv.Itoa(userId))
}

// Init does nothing.
func (r *Redis) Init() error {
	return nil
}

func (r *Redis) Ping() error {
	return r.client.Ping(context.Background()).Err()
}

// Close Redis connection.
func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) scanUsers(ctx context.Context) ([]string, error) {
	var (
		cursor uint64
		keys   []string
	)
	for {
		batch, next, err := r.client.Scan(ctx, cursor, r.Key(prefixRatings)+"*", 0).Result()
		if err != nil {
			return nil, errors.Trace(err)
		}
		keys = append(keys, batch...)
		if next == 0 {
			break
		}
		cursor = next
	}
	return keys, nil
}

func (r *Redis) Purge() error {
	ctx := context.Background()
	keys, err := r.scanUsers(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	if len(keys) > 0 {
		return errors.Trace(r.client.Del(ctx, keys...).Err())
	}
	return nil
}

func (r *Redis) BatchInsertRatings(ctx context.Context, ratings []Rating) error {
	if len(ratings) == 0 {
		return nil
	}
	start := time.Now()
	pipeline := r.client.Pipeline()
	for _, rating := range ratings {
		data, err := json.Marshal(rating)
		if err != nil {
			return errors.Trace(err)
		}
		pipeline.HSet(ctx, r.userKey(rating.UserId), strconv.Itoa(rating.ItemId), data)
	}
	if _, err := pipeline.Exec(ctx); err != nil {
		return errors.Trace(err)
	}
	BatchInsertRatingsSeconds.Observe(time.Since(start).Seconds())
	return nil
}

func (r *Redis) GetUserRatings(ctx context.Context, userId int) ([]Rating, error) {
	start := time.Now()
	ratings, err := r.getRatings(ctx, r.userKey(userId))
	if err != nil {
		return nil, errors.Trace(err)
	}
	GetUserRatingsSeconds.Observe(time.Since(start).Seconds())
	return ratings, nil
}

func (r *Redis) getRatings(ctx context.Context, key string) ([]Rating, error) {
	values, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, errors.Trace(err)
	}
	ratings := make([]Rating, 0, len(values))
	for _, value := range values {
		var rating Rating
		if err = json.Unmarshal([]byte(value), &rating); err != nil {
			return nil, errors.Trace(err)
		}
		ratings = append(ratings, rating)
	}
	sort.Slice(ratings, func(i, j int) bool {
		return ratings[i].ItemId < ratings[j].ItemId
	})
	return ratings, nil
}

func (r *Redis) CountRatings(ctx context.Context) (int, error) {
	start := time.Now()
	keys, err := r.scanUsers(ctx)
	if err != nil {
		return 0, errors.Trace(err)
	}
	count := 0
	for _, key := range keys {
		n, err := r.client.HLen(ctx, key).Result()
		if err != nil {
			return 0, errors.Trace(err)
		}
		count += int(n)
	}
	CountRatingsSeconds.Observe(time.Since(start).Seconds())
	return count, nil
}

func (r *Redis) GetRatingStream(ctx context.Context, batchSize int) (chan []Rating, chan error) {
	ratingChan := make(chan []Rating, bufSize)
	errChan := make(chan error, 1)
	go func() {
		defer close(ratingChan)
		defer close(errChan)
		keys, err := r.scanUsers(ctx)
		if err != nil {
			errChan <- errors.Trace(err)
			return
		}
		// order by user id like the other stores
		sort.Slice(keys, func(i, j int) bool {
			a, _ := strconv.Atoi(strings.TrimPrefix(keys[i], r.Key(prefixRatings)))
			b, _ := strconv.Atoi(strings.TrimPrefix(keys[j], r.Key(prefixRatings)))
			return a < b
		})
		ratings := make([]Rating, 0, batchSize)
		for _, key := range keys {
			userRatings, err := r.getRatings(ctx, key)
			if err != nil {
				errChan <- errors.Trace(err)
				return
			}
			for _, rating := range userRatings {
				ratings = append(ratings, rating)
				if len(ratings) == batchSize {
					ratingChan <- ratings
					StreamedBatchesTotal.Inc()
					ratings = make([]Rating, 0, batchSize)
				}
			}
		}
		if len(ratings) > 0 {
			ratingChan <- ratings
			StreamedBatchesTotal.Inc()
		}
		errChan <- nil
	}()
	return ratingChan, errChan
}
