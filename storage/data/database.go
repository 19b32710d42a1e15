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
	"strings"
	"time"

	"github.com/XSAM/otelsql"
	"github.com/gorse-io/roller/base/log"
	"github.com/gorse-io/roller/storage"
	"github.com/juju/errors"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"github.com/samber/lo"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/x/mongo/driver/connstring"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"
	semconv "go.opentelemetry.io/otel/semconv/v1.12.0"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"
	"moul.io/zapgorm2"
)

var ErrNoDatabase = errors.NotAssignedf("database")

// Rating is an explicit rating given by a user to an item.
type Rating struct {
	UserId    int       `bson:"user_id" json:"user_id"`
	ItemId    int       `bson:"item_id" json:"item_id"`
	Value     float64   `bson:"rating" json:"rating"`
	Timestamp time.Time `bson:"timestamp" json:"timestamp"`
}

// Database stores the ratings the knowledge base is learned from.
type Database interface {
	Init() error
	Ping() error
	Close() error
	// Purge deletes every rating.
	Purge() error
	// BatchInsertRatings inserts ratings. An existing (user, item) rating is overwritten.
	BatchInsertRatings(ctx context.Context, ratings []Rating) error
	// GetUserRatings returns ratings of a user ordered by item id.
	GetUserRatings(ctx context.Context, userId int) ([]Rating, error)
	CountRatings(ctx context.Context) (int, error)
	// GetRatingStream sends all ratings in batches. The error channel receives
	// exactly one value after the last batch.
	GetRatingStream(ctx context.Context, batchSize int) (chan []Rating, chan error)
}

// Open connects to a rating store. The scheme of path selects the backend.
func Open(path, tablePrefix string, opts ...storage.Option) (Database, error) {
	var err error
	option := storage.NewOptions(opts...)
	if strings.HasPrefix(path, storage.MySQLPrefix) {
		name := path[len(storage.MySQLPrefix):]
		// probe isolation variable name
		isolationVarName, err := storage.ProbeMySQLIsolationVariableName(name)
		if err != nil {
			return nil, errors.Trace(err)
		}
		// append parameters
		if name, err = storage.AppendMySQLParams(name, map[string]string{
			"sql_mode":       "'ONLY_FULL_GROUP_BY,STRICT_TRANS_TABLES,ERROR_FOR_DIVISION_BY_ZERO,NO_ENGINE_SUBSTITUTION'",
			isolationVarName: "'" + option.IsolationLevel + "'",
			"parseTime":      "true",
		}); err != nil {
			return nil, errors.Trace(err)
		}
		database := new(SQLDatabase)
		database.driver = MySQL
		database.TablePrefix = storage.TablePrefix(tablePrefix)
		if database.client, err = otelsql.Open("mysql", name,
			otelsql.WithAttributes(semconv.DBSystemMySQL),
			otelsql.WithSpanOptions(otelsql.SpanOptions{DisableErrSkip: true}),
		); err != nil {
			return nil, errors.Trace(err)
		}
		storage.ApplySQLPool(database.client, option)
		database.gormDB, err = gorm.Open(mysql.New(mysql.Config{Conn: database.client}), storage.NewGORMConfig(tablePrefix))
		if err != nil {
			return nil, errors.Trace(err)
		}
		return database, nil
	} else if strings.HasPrefix(path, storage.PostgresPrefix) || strings.HasPrefix(path, storage.PostgreSQLPrefix) {
		database := new(SQLDatabase)
		database.driver = Postgres
		database.TablePrefix = storage.TablePrefix(tablePrefix)
		if database.client, err = otelsql.Open("postgres", path,
			otelsql.WithAttributes(semconv.DBSystemPostgreSQL),
			otelsql.WithSpanOptions(otelsql.SpanOptions{DisableErrSkip: true}),
		); err != nil {
			return nil, errors.Trace(err)
		}
		storage.ApplySQLPool(database.client, option)
		database.gormDB, err = gorm.Open(postgres.New(postgres.Config{Conn: database.client}), storage.NewGORMConfig(tablePrefix))
		if err != nil {
			return nil, errors.Trace(err)
		}
		return database, nil
	} else if strings.HasPrefix(path, storage.MongoPrefix) || strings.HasPrefix(path, storage.MongoSrvPrefix) {
		database := new(MongoDB)
		opts := options.Client()
		opts.Monitor = otelmongo.NewMonitor()
		opts.ApplyURI(path)
		if database.client, err = mongo.Connect(context.Background(), opts); err != nil {
			return nil, errors.Trace(err)
		}
		// parse DSN and extract database name
		cs, err := connstring.ParseAndValidate(path)
		if err != nil {
			return nil, errors.Trace(err)
		}
		database.dbName = cs.Database
		database.TablePrefix = storage.TablePrefix(tablePrefix)
		return database, nil
	} else if strings.HasPrefix(path, storage.SQLitePrefix) {
		if path, err = storage.AppendURLParams(path, []lo.Tuple2[string, string]{
			{A: "_pragma", B: "busy_timeout(10000)"},
			{A: "_pragma", B: "journal_mode(wal)"},
		}); err != nil {
			return nil, errors.Trace(err)
		}
		name := path[len(storage.SQLitePrefix):]
		database := new(SQLDatabase)
		database.driver = SQLite
		database.TablePrefix = storage.TablePrefix(tablePrefix)
		if database.client, err = otelsql.Open("sqlite", name,
			otelsql.WithAttributes(semconv.DBSystemSqlite),
			otelsql.WithSpanOptions(otelsql.SpanOptions{DisableErrSkip: true}),
		); err != nil {
			return nil, errors.Trace(err)
		}
		// SQLite allows a single writer.
		database.client.SetMaxOpenConns(1)
		gormConfig := storage.NewGORMConfig(tablePrefix)
		gormConfig.Logger = &zapgorm2.Logger{
			ZapLogger:                 log.Logger(),
			LogLevel:                  logger.Warn,
			SlowThreshold:             10 * time.Second,
			IgnoreRecordNotFoundError: true,
		}
		database.gormDB, err = gorm.Open(sqlite.Dialector{Conn: database.client}, gormConfig)
		if err != nil {
			return nil, errors.Trace(err)
		}
		return database, nil
	} else if strings.HasPrefix(path, storage.RedisPrefix) {
		opt, err := redis.ParseURL(path)
		if err != nil {
			return nil, errors.Trace(err)
		}
		database := new(Redis)
		database.client = redis.NewClient(opt)
		database.TablePrefix = storage.TablePrefix(tablePrefix)
		if err = redisotel.InstrumentTracing(database.client); err != nil {
			log.Logger().Warn("failed to instrument redis client", zap.Error(err))
		}
		log.Logger().Warn("redis is used for testing only")
		return database, nil
	}
	return nil, errors.NotSupportedf("data store %s", log.RedactDBURL(path))
}
