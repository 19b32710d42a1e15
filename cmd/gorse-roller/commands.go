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

package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gorse-io/roller/base/log"
	"github.com/gorse-io/roller/base/progress"
	"github.com/gorse-io/roller/dataset"
	"github.com/gorse-io/roller/logics"
	"github.com/gorse-io/roller/model/pattern"
	"github.com/gorse-io/roller/storage/blob"
	"github.com/gorse-io/roller/storage/data"
	"github.com/juju/errors"
	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var learnCommand = &cobra.Command{
	Use:   "learn",
	Short: "Mine patterns from ratings and save the knowledge base",
	RunE: func(cmd *cobra.Command, args []string) error {
		csvPath, _ := cmd.Flags().GetString("csv")
		sep, _ := cmd.Flags().GetString("sep")
		header, _ := cmd.Flags().GetBool("header")
		batchSize, _ := cmd.Flags().GetInt("batch-size")

		// load dataset
		var (
			ds  *dataset.Dataset
			err error
		)
		start := time.Now()
		if csvPath != "" {
			ds, err = dataset.LoadDataFromCSV(csvPath, sep, header,
				globalConfig.Dataset.MinRating, globalConfig.Dataset.MaxRating)
		} else {
			database, openErr := openDatabase()
			if openErr != nil {
				return errors.Trace(openErr)
			}
			defer database.Close()
			ds, err = dataset.LoadDataFromDatabase(cmd.Context(), database, batchSize,
				globalConfig.Dataset.MinRating, globalConfig.Dataset.MaxRating)
		}
		if err != nil {
			return errors.Annotate(err, "load dataset")
		}
		log.Logger().Info("load dataset complete",
			zap.Int("n_users", ds.CountUsers()),
			zap.Int("n_items", ds.CountItems()),
			zap.Int("n_ratings", ds.CountRatings()),
			zap.Duration("load_time", time.Since(start)))

		// mine patterns
		miner, err := pattern.NewMiner(globalConfig.Roller.Miner)
		if err != nil {
			return errors.Trace(err)
		}
		tracer := progress.NewTracer("learn")
		ctx, span := tracer.Start(cmd.Context(), "learn", 1)
		kb := pattern.NewKnowledgeBase(globalConfig.Roller.MaxPatterns)
		if err = kb.Learn(ctx, ds, miner, globalConfig.Roller.MinSupport, globalConfig.Roller.FitJobs); err != nil {
			span.Fail(err)
			return errors.Annotate(err, "learn patterns")
		}
		span.End()
		printProgress(tracer.List())

		// save knowledge base
		store, err := blob.Open(globalConfig.Blob)
		if err != nil {
			return errors.Trace(err)
		}
		if err = kb.Save(store, globalConfig.Roller.Name); err != nil {
			return errors.Annotate(err, "save knowledge base")
		}
		log.Logger().Info("save knowledge base complete",
			zap.String("name", globalConfig.Roller.Name),
			zap.String("miner", miner.Name()),
			zap.Int("n_patterns", kb.Len()))
		return nil
	},
}

var importCommand = &cobra.Command{
	Use:   "import <csv>",
	Short: "Import ratings from a CSV file into the database",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sep, _ := cmd.Flags().GetString("sep")
		header, _ := cmd.Flags().GetBool("header")
		batchSize, _ := cmd.Flags().GetInt("batch-size")
		ratings, err := dataset.ReadRatingsCSV(args[0], sep, header)
		if err != nil {
			return errors.Trace(err)
		}
		database, err := openDatabase()
		if err != nil {
			return errors.Trace(err)
		}
		defer database.Close()
		bar := progressbar.Default(int64(len(ratings)), "Importing ratings")
		for _, chunk := range lo.Chunk(ratings, batchSize) {
			if err = database.BatchInsertRatings(cmd.Context(), chunk); err != nil {
				return errors.Annotate(err, "insert ratings")
			}
			_ = bar.Add(len(chunk))
		}
		_ = bar.Finish()
		log.Logger().Info("import ratings complete", zap.Int("n_ratings", len(ratings)))
		return nil
	},
}

var recommendCommand = &cobra.Command{
	Use:   "recommend <user>",
	Short: "Recommend items to a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userId, err := strconv.Atoi(args[0])
		if err != nil {
			return errors.NotValidf("user id %s", args[0])
		}
		n, _ := cmd.Flags().GetInt("n")
		if !cmd.Flags().Changed("n") {
			n = globalConfig.Roller.MaxRecommend
		}
		recommender, database, err := openRecommender()
		if err != nil {
			return errors.Trace(err)
		}
		defer database.Close()
		estimates, err := recommender.RecommendUser(cmd.Context(), database, userId, n)
		if err != nil {
			return errors.Trace(err)
		}
		printEstimates(estimates)
		return nil
	},
}

var estimateCommand = &cobra.Command{
	Use:   "estimate <user> <item>...",
	Short: "Estimate ratings of items for a user",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids := make([]int, len(args))
		for i, arg := range args {
			id, err := strconv.Atoi(arg)
			if err != nil {
				return errors.NotValidf("id %s", arg)
			}
			ids[i] = id
		}
		recommender, database, err := openRecommender()
		if err != nil {
			return errors.Trace(err)
		}
		defer database.Close()
		estimates, err := recommender.EstimateUser(cmd.Context(), database, ids[0], ids[1:])
		if err != nil {
			return errors.Trace(err)
		}
		printEstimates(estimates)
		return nil
	},
}

var inspectCommand = &cobra.Command{
	Use:   "inspect",
	Short: "Print patterns of the saved knowledge base",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		kb, err := loadKnowledgeBase()
		if err != nil {
			return errors.Trace(err)
		}
		defer kb.Close()
		records := kb.Records()
		if limit > 0 && len(records) > limit {
			records = records[:limit]
		}
		table := tablewriter.NewWriter(os.Stdout)
		table.Header([]string{"#", "Support", "Items"})
		for i, record := range records {
			items := make([]string, 0, len(record.BitIds))
			for _, bitId := range record.BitIds {
				if iv, ok := kb.ItemValue(bitId); ok {
					items = append(items, fmt.Sprintf("%d=%d", iv.ItemId, iv.Value))
				}
			}
			_ = table.Append([]string{
				strconv.Itoa(i),
				strconv.FormatFloat(record.Support, 'f', 4, 64),
				strings.Join(items, " "),
			})
		}
		_ = table.Render()
		fmt.Printf("%d patterns in %s\n", kb.Len(), globalConfig.Roller.Name)
		return nil
	},
}

func init() {
	learnCommand.Flags().String("csv", "", "load ratings from a CSV file instead of the database")
	learnCommand.Flags().String("sep", ",", "CSV separator")
	learnCommand.Flags().Bool("header", false, "skip the CSV header")
	learnCommand.Flags().Int("batch-size", 10000, "batch size of the rating stream")
	importCommand.Flags().String("sep", ",", "CSV separator")
	importCommand.Flags().Bool("header", false, "skip the CSV header")
	importCommand.Flags().Int("batch-size", 1000, "batch size of inserts")
	recommendCommand.Flags().IntP("n", "n", 10, "maximum number of recommended items")
	inspectCommand.Flags().Int("limit", 0, "maximum number of printed patterns")
}

func openRecommender() (*logics.Recommender, data.Database, error) {
	kb, err := loadKnowledgeBase()
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	recommender, err := logics.NewRecommenderFromConfig(kb, globalConfig)
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	database, err := openDatabase()
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	return recommender, database, nil
}

func printEstimates(estimates []logics.Estimate) {
	table := tablewriter.NewWriter(os.Stdout)
	table.Header([]string{"Item", "Rating"})
	for _, e := range estimates {
		_ = table.Append([]string{strconv.Itoa(e.ItemId), strconv.FormatFloat(e.Value, 'f', -1, 64)})
	}
	_ = table.Render()
}

func printProgress(progressList []progress.Progress) {
	table := tablewriter.NewWriter(os.Stdout)
	table.Header([]string{"Task", "Status", "Progress", "Time"})
	for _, p := range progressList {
		_ = table.Append([]string{
			p.Name,
			string(p.Status),
			fmt.Sprintf("%d/%d", p.Count, p.Total),
			p.FinishTime.Sub(p.StartTime).Round(time.Millisecond).String(),
		})
	}
	_ = table.Render()
}
