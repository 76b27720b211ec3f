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
	txnCommitCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mo",
			Subsystem: "txn",
			Name:      "commit_total",
			Help:      "Total number of txn commits by result.",
		}, []string{"result"})
	TxnCommitSuccessCounter  = txnCommitCounter.WithLabelValues("success")
	TxnCommitConflictCounter = txnCommitCounter.WithLabelValues("conflict")
	TxnRollbackCounter       = txnCommitCounter.WithLabelValues("rollback")

	TxnCommitDurationHistogram = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mo",
			Subsystem: "txn",
			Name:      "commit_duration_seconds",
			Help:      "Bucketed histogram of txn commit duration.",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 2.0, 20),
		})

	TxnTouchedRecordsHistogram = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mo",
			Subsystem: "txn",
			Name:      "touched_records",
			Help:      "Bucketed histogram of distinct records touched by a txn.",
			Buckets:   prometheus.ExponentialBuckets(1, 2.0, 14),
		})
)

func initTxnMetrics() {
	registry.MustRegister(txnCommitCounter)
	registry.MustRegister(TxnCommitDurationHistogram)
	registry.MustRegister(TxnTouchedRecordsHistogram)
}
