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
package blob

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	OperationOpen   = "open"
	OperationCreate = "create"
	OperationList   = "list"
	OperationRemove = "remove"
)

var (
	OperationSecondsVec = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "roller",
		Subsystem: "blob",
		Name:      "operation_seconds",
	}, []string{"backend", "operation"})
	ReadBytesVec = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "roller",
		Subsystem: "blob",
		Name:      "read_bytes_total",
	}, []string{"backend"})
	WrittenBytesVec = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "roller",
		Subsystem: "blob",
		Name:      "written_bytes_total",
	}, []string{"backend"})
)
