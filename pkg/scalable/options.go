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

package scalable

import (
	"context"
	"math/bits"

	"github.com/matrixorigin/scalable/pkg/common/moerr"
	"github.com/matrixorigin/scalable/pkg/logutil"
	"github.com/matrixorigin/scalable/pkg/taskservice"
	"go.uber.org/zap"
)

const (
	defaultMinConcurrency = 32
	defaultSplitThreshold = 98
	defaultDirectorySize  = 32

	maxMinConcurrency = 1 << 16
	maxDirectorySize  = 1 << 16
)

// Option option to create or open a map
type Option func(*options)

type options struct {
	minConcurrency int
	splitThreshold int
	mergeThreshold int
	directorySize  int
	collapse       bool
	mergeSet       bool

	scheduler taskservice.Scheduler
	logger    *zap.Logger
}

// WithMinConcurrency set the number of transactions the map should support
// without contention. The map always keeps at least that many leaves.
func WithMinConcurrency(n int) Option {
	return func(o *options) {
		o.minConcurrency = n
	}
}

// WithSplitThreshold set the max entries of a leaf before it splits.
func WithSplitThreshold(n int) Option {
	return func(o *options) {
		o.splitThreshold = n
	}
}

// WithMergeThreshold set the max combined entries of two sibling leaves for
// them to merge. Defaults to a third of the split threshold.
func WithMergeThreshold(n int) Option {
	return func(o *options) {
		o.mergeThreshold = n
		o.mergeSet = true
	}
}

// WithDirectorySize set the fan out of directory nodes, rounded up to a power
// of two.
func WithDirectorySize(n int) Option {
	return func(o *options) {
		o.directorySize = n
	}
}

// WithCollapse set whether redundant directories are removed after merges.
func WithCollapse(collapse bool) Option {
	return func(o *options) {
		o.collapse = collapse
	}
}

// WithScheduler set the scheduler running clear continuations. Clear and
// Destroy fail without one.
func WithScheduler(s taskservice.Scheduler) Option {
	return func(o *options) {
		o.scheduler = s
	}
}

// WithLogger set the logger
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func newOptions(opts ...Option) options {
	o := options{
		minConcurrency: defaultMinConcurrency,
		splitThreshold: defaultSplitThreshold,
		directorySize:  defaultDirectorySize,
		collapse:       true,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if !o.mergeSet {
		o.mergeThreshold = o.splitThreshold / 3
	}
	o.logger = logutil.Adjust(o.logger).Named("scalable-map")
	return o
}

// shape validates the geometry options and returns the handle holding them.
func (o options) shape(ctx context.Context) (*handleRecord, error) {
	if o.minConcurrency <= 0 || o.minConcurrency > maxMinConcurrency {
		return nil, moerr.NewInvalidArg(ctx, "min concurrency", o.minConcurrency)
	}
	if o.splitThreshold <= 0 {
		return nil, moerr.NewInvalidArg(ctx, "split threshold", o.splitThreshold)
	}
	if o.mergeThreshold < 0 || o.mergeThreshold > o.splitThreshold {
		return nil, moerr.NewInvalidArg(ctx, "merge threshold", o.mergeThreshold)
	}
	if o.directorySize <= 0 || o.directorySize > maxDirectorySize {
		return nil, moerr.NewInvalidArg(ctx, "directory size", o.directorySize)
	}

	h := &handleRecord{
		MinDepth:       minDepthFor(o.minConcurrency),
		SplitThreshold: o.splitThreshold,
		MergeThreshold: o.mergeThreshold,
		DirectoryBits:  directoryBitsFor(o.directorySize),
		Collapse:       o.collapse,
	}
	if h.MinDepth > h.maxLeafDepth() {
		h.MinDepth = h.maxLeafDepth()
	}
	return h, nil
}

// minDepthFor returns the smallest depth d with 2^d >= n.
func minDepthFor(n int) int {
	if n <= 1 {
		return 0
	}
	return bits.Len(uint(n - 1))
}

// directoryBitsFor returns log2 of size rounded up to a power of two, at
// least 1.
func directoryBitsFor(size int) int {
	if size <= 2 {
		return 1
	}
	return bits.Len(uint(size - 1))
}
