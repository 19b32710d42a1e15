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
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/gorse-io/roller/base/log"
	"github.com/gorse-io/roller/cmd/version"
	"github.com/gorse-io/roller/config"
	"github.com/gorse-io/roller/model/pattern"
	"github.com/gorse-io/roller/storage"
	"github.com/gorse-io/roller/storage/blob"
	"github.com/gorse-io/roller/storage/data"
	"github.com/juju/errors"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

var globalConfig *config.Config

var rootCommand = &cobra.Command{
	Use:   "gorse-roller",
	Short: "Pattern mining recommender built on rating patterns.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// setup logger
		debug, _ := cmd.Flags().GetBool("debug")
		log.SetLogger(cmd.Flags(), debug)

		// load config
		configPath, _ := cmd.Flags().GetString("config")
		log.Logger().Debug("load config", zap.String("config", configPath))
		var err error
		globalConfig, err = config.LoadConfig(configPath)
		if err != nil {
			return errors.Annotate(err, "load config")
		}

		// setup trace provider
		tp, err := globalConfig.Tracing.NewTracerProvider()
		if err != nil {
			return errors.Annotate(err, "create trace provider")
		}
		otel.SetTracerProvider(tp)
		otel.SetErrorHandler(log.GetErrorHandler())
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		log.CloseLogger()
	},
	SilenceUsage: true,
}

var versionCommand = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Print(version.BuildInfo())
	},
}

func init() {
	log.AddFlags(rootCommand.PersistentFlags())
	rootCommand.PersistentFlags().Bool("debug", false, "use debug log mode")
	rootCommand.PersistentFlags().StringP("config", "c", "", "configuration file path")
	rootCommand.AddCommand(versionCommand, learnCommand, importCommand, recommendCommand, estimateCommand, inspectCommand)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCommand.ExecuteContext(ctx); err != nil {
		log.Logger().Fatal("failed to execute", zap.Error(err))
	}
}

func openDatabase() (data.Database, error) {
	database, err := data.Open(globalConfig.Database.DataStore, globalConfig.Database.TablePrefix,
		storage.WithIsolationLevel("READ-UNCOMMITTED"))
	if err != nil {
		return nil, errors.Annotatef(err, "open %s", log.RedactDBURL(globalConfig.Database.DataStore))
	}
	if err = database.Init(); err != nil {
		_ = database.Close()
		return nil, errors.Trace(err)
	}
	return database, nil
}

func loadKnowledgeBase() (*pattern.KnowledgeBase, error) {
	store, err := blob.Open(globalConfig.Blob)
	if err != nil {
		return nil, errors.Trace(err)
	}
	kb := pattern.NewKnowledgeBase(globalConfig.Roller.MaxPatterns)
	if err = kb.Load(store, globalConfig.Roller.Name); err != nil {
		return nil, errors.Trace(err)
	}
	if kb.IsEmpty() {
		log.Logger().Warn("knowledge base is empty", zap.String("name", globalConfig.Roller.Name))
	}
	return kb, nil
}
