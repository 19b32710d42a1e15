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
	"time"

	"github.com/gorse-io/roller/storage"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoDB is the data storage based on MongoDB.
type MongoDB struct {
	storage.TablePrefix
	client *mongo.Client
	dbName string
}

func (db *MongoDB) ratings() *mongo.Collection {
	return db.client.Database(db.dbName).Collection(db.RatingsTable())
}

// Init collections and indices in MongoDB.
func (db *MongoDB) Init() error {
	ctx := context.Background()
	d := db.client.Database(db.dbName)
	collections, err := d.ListCollectionNames(ctx, bson.M{})
	if err != nil {
		return errors.Trace(err)
	}
	if !lo.Contains(collections, db.RatingsTable()) {
		if err = d.CreateCollection(ctx, db.RatingsTable()); err != nil {
			return errors.Trace(err)
		}
	}
	_, err = db.ratings().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "item_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return errors.Trace(err)
}

func (db *MongoDB) Ping() error {
	return db.client.Ping(context.Background(), nil)
}

// Close connection to MongoDB.
func (db *MongoDB) Close() error {
	return db.client.Disconnect(context.Background())
}

func (db *MongoDB) Purge() error {
	_, err := db.ratings().DeleteMany(context.Background(), bson.M{})
	return errors.Trace(err)
}

func (db *MongoDB) BatchInsertRatings(ctx context.Context, ratings []Rating) error {
	if len(ratings) == 0 {
		return nil
	}
	start := time.Now()
	models := make([]mongo.WriteModel, 0, len(ratings))
	for _, r := range ratings {
		models = append(models, mongo.NewUpdateOneModel().
			SetUpsert(true).
			SetFilter(bson.M{"user_id": r.UserId, "item_id": r.ItemId}).
			SetUpdate(bson.M{"$set": r}))
	}
	// ordered writes keep later duplicates winning
	if _, err := db.ratings().BulkWrite(ctx, models, options.BulkWrite().SetOrdered(true)); err != nil {
		return errors.Trace(err)
	}
	BatchInsertRatingsSeconds.Observe(time.Since(start).Seconds())
	return nil
}

func (db *MongoDB) GetUserRatings(ctx context.Context, userId int) ([]Rating, error) {
	start := time.Now()
	opt := options.Find().SetSort(bson.D{{Key: "item_id", Value: 1}})
	r, err := db.ratings().Find(ctx, bson.M{"user_id": userId}, opt)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer r.Close(ctx)
	ratings := make([]Rating, 0)
	for r.Next(ctx) {
		var rating Rating
		if err = r.Decode(&rating); err != nil {
			return nil, errors.Trace(err)
		}
		ratings = append(ratings, rating)
	}
	GetUserRatingsSeconds.Observe(time.Since(start).Seconds())
	return ratings, errors.Trace(r.Err())
}

func (db *MongoDB) CountRatings(ctx context.Context) (int, error) {
	start := time.Now()
	n, err := db.ratings().CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, errors.Trace(err)
	}
	CountRatingsSeconds.Observe(time.Since(start).Seconds())
	return int(n), nil
}

func (db *MongoDB) GetRatingStream(ctx context.Context, batchSize int) (chan []Rating, chan error) {
	ratingChan := make(chan []Rating, bufSize)
	errChan := make(chan error, 1)
	go func() {
		defer close(ratingChan)
		defer close(errChan)
		opt := options.Find().
			SetSort(bson.D{{Key: "user_id", Value: 1}, {Key: "item_id", Value: 1}}).
			SetBatchSize(int32(batchSize))
		r, err := db.ratings().Find(ctx, bson.M{}, opt)
		if err != nil {
			errChan <- errors.Trace(err)
			return
		}
		defer r.Close(ctx)
		ratings := make([]Rating, 0, batchSize)
		for r.Next(ctx) {
			var rating Rating
			if err = r.Decode(&rating); err != nil {
				errChan <- errors.Trace(err)
				return
			}
			ratings = append(ratings, rating)
			if len(ratings) == batchSize {
				ratingChan <- ratings
				StreamedBatchesTotal.Inc()
				ratings = make([]Rating, 0, batchSize)
			}
		}
		if len(ratings) > 0 {
			ratingChan <- ratings
			StreamedBatchesTotal.Inc()
		}
		errChan <- errors.Trace(r.Err())
	}()
	return ratingChan, errChan
}
