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
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/gorse-io/roller/storage"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const bufSize = 1

type SQLDriver int

const (
	MySQL SQLDriver = iota
	Postgres
	SQLite
)

// SQLRating is the row layout of the ratings table.
type SQLRating struct {
	UserId    int       `gorm:"column:user_id;primaryKey;autoIncrement:false"`
	ItemId    int       `gorm:"column:item_id;primaryKey;autoIncrement:false"`
	Rating    float64   `gorm:"column:rating;not null"`
	Timestamp time.Time `gorm:"column:time_stamp"`
}

func toSQLRating(r Rating) SQLRating {
	return SQLRating{UserId: r.UserId, ItemId: r.ItemId, Rating: r.Value, Timestamp: r.Timestamp.UTC()}
}

func (r SQLRating) toRating() Rating {
	return Rating{UserId: r.UserId, ItemId: r.ItemId, Value: r.Rating, Timestamp: r.Timestamp}
}

// SQLDatabase stores ratings in MySQL, PostgreSQL or SQLite.
type SQLDatabase struct {
	storage.TablePrefix
	gormDB *gorm.DB
	client *sql.DB
	driver SQLDriver
}

func (d *SQLDatabase) Init() error {
	return errors.Trace(d.gormDB.AutoMigrate(&SQLRating{}))
}

func (d *SQLDatabase) Ping() error {
	return d.client.Ping()
}

func (d *SQLDatabase) Close() error {
	return d.client.Close()
}

func (d *SQLDatabase) Purge() error {
	if d.gormDB.Migrator().HasTable(d.RatingsTable()) {
		if err := d.gormDB.Exec(fmt.Sprintf("DELETE FROM %s", d.RatingsTable())).Error; err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

func (d *SQLDatabase) BatchInsertRatings(ctx context.Context, ratings []Rating) error {
	if len(ratings) == 0 {
		return nil
	}
	start := time.Now()
	rows := lo.Map(ratings, func(r Rating, _ int) SQLRating {
		return toSQLRating(r)
	})
	// later duplicates win, as they would with sequential upserts
	rows = lo.Reverse(lo.UniqBy(lo.Reverse(rows), func(r SQLRating) lo.Tuple2[int, int] {
		return lo.Tuple2[int, int]{A: r.UserId, B: r.ItemId}
	}))
	err := d.gormDB.WithContext(ctx).Table(d.RatingsTable()).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "item_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"rating", "time_stamp"}),
	}).Create(&rows).Error
	if err != nil {
		return errors.Trace(err)
	}
	BatchInsertRatingsSeconds.Observe(time.Since(start).Seconds())
	return nil
}

func (d *SQLDatabase) GetUserRatings(ctx context.Context, userId int) ([]Rating, error) {
	start := time.Now()
	var rows []SQLRating
	if err := d.gormDB.WithContext(ctx).Table(d.RatingsTable()).
		Where("user_id = ?", userId).
		Order("item_id").
		Find(&rows).Error; err != nil {
		return nil, errors.Trace(err)
	}
	GetUserRatingsSeconds.Observe(time.Since(start).Seconds())
	return lo.Map(rows, func(r SQLRating, _ int) Rating {
		return r.toRating()
	}), nil
}

func (d *SQLDatabase) CountRatings(ctx context.Context) (int, error) {
	start := time.Now()
	var count int64
	if err := d.gormDB.WithContext(ctx).Table(d.RatingsTable()).Count(&count).Error; err != nil {
		return 0, errors.Trace(err)
	}
	CountRatingsSeconds.Observe(time.Since(start).Seconds())
	return int(count), nil
}

// GetRatingStream reads ratings by stream.
func (d *SQLDatabase) GetRatingStream(ctx context.Context, batchSize int) (chan []Rating, chan error) {
	ratingChan := make(chan []Rating, bufSize)
	errChan := make(chan error, 1)
	go func() {
		defer close(ratingChan)
		defer close(errChan)
		result, err := d.gormDB.WithContext(ctx).Table(d.RatingsTable()).
			Select("user_id, item_id, rating, time_stamp").
			Order("user_id, item_id").
			Rows()
		if err != nil {
			errChan <- errors.Trace(err)
			return
		}
		defer result.Close()
		ratings := make([]Rating, 0, batchSize)
		for result.Next() {
			var row SQLRating
			if err = d.gormDB.ScanRows(result, &row); err != nil {
				errChan <- errors.Trace(err)
				return
			}
			ratings = append(ratings, row.toRating())
			if len(ratings) == batchSize {
				select {
				case ratingChan <- ratings:
					StreamedBatchesTotal.Inc()
				case <-ctx.Done():
					errChan <- errors.Trace(ctx.Err())
					return
				}
				ratings = make([]Rating, 0, batchSize)
			}
		}
		if len(ratings) > 0 {
			ratingChan <- ratings
			StreamedBatchesTotal.Inc()
		}
		errChan <- errors.Trace(result.Err())
	}()
	return ratingChan, errChan
}
