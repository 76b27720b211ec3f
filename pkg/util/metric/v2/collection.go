// Copyright 2023 Matrix Origin
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package v2

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	collectionStructureCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mo",
			Subsystem: "collection",
			Name:      "structure_change_total",
			Help:      "Total number of leaf splits, leaf merges and directory collapses.",
		}, []string{"type"})
	CollectionSplitCounter    = collectionStructureCounter.WithLabelValues("split")
	CollectionMergeCounter    = collectionStructureCounter.WithLabelValues("merge")
	CollectionCollapseCounter = collectionStructureCounter.WithLabelValues("collapse")

	collectionReclaimCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mo",
			Subsystem: "collection",
			Name:      "reclaimed_node_total",
			Help:      "Total number of tree nodes reclaimed by clear continuations.",
		}, []string{"type"})
	CollectionReclaimLeafCounter      = collectionReclaimCounter.WithLabelValues("leaf")
	CollectionReclaimDirectoryCounter = collectionReclaimCounter.WithLabelValues("directory")

	CollectionClearCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mo",
			Subsystem: "collection",
			Name:      "clear_total",
			Help:      "Total number of logical clears.",
		})
)

func initCollectionMetrics() {
	registry.MustRegister(collectionStructureCounter)
	registry.MustRegister(collectionReclaimCounter)
	registry.MustRegister(CollectionClearCounter)
}
