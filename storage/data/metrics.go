// Copyright 2022 gorse Project Authors
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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BatchInsertRatingsSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "roller",
		Subsystem: "database",
		Name:      "batch_insert_ratings_seconds",
	})
	GetUserRatingsSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "roller",
		Subsystem: "database",
		Name:      "get_user_ratings_seconds",
	})
	CountRatingsSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "roller",
		Subsystem: "database",
		Name:      "count_ratings_seconds",
	})
	// StreamedBatchesTotal counts rating batches sent by GetRatingStream.
	StreamedBatchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "roller",
		Subsystem: "database",
		Name:      "streamed_batches_total",
	})
)
