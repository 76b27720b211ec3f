// Copyright 2022 Matrix Origin
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

package client

import (
	"context"
	"time"

	"github.com/matrixorigin/scalable/pkg/common/moerr"
	"github.com/matrixorigin/scalable/pkg/logutil"
	"github.com/matrixorigin/scalable/pkg/objstore"
	"go.uber.org/zap"
)

const (
	defaultMaxRetries = 64
)

// WithLogger setup zap logger for TxnCoordinator
func WithLogger(logger *zap.Logger) TxnClientCreateOption {
	return func(tc *txnClient) {
		tc.logger = logger
	}
}

// WithTxnIDGenerator setup txn id generator
func WithTxnIDGenerator(generator TxnIDGenerator) TxnClientCreateOption {
	return func(tc *txnClient) {
		tc.generator = generator
	}
}

// WithMaxRetries setup how many times Run retries a conflicting txn
func WithMaxRetries(n int) TxnClientCreateOption {
	return func(tc *txnClient) {
		tc.maxRetries = n
	}
}

// WithWorkBudget setup the default per txn work budget, counted in distinct
// records touched. 0 means unlimited.
func WithWorkBudget(n int) TxnClientCreateOption {
	return func(tc *txnClient) {
		tc.workBudget = n
	}
}

// WithTxnLeakCheck enable the leak checker, leakHandleFunc is called for txns
// active longer than maxActiveAges.
func WithTxnLeakCheck(
	maxActiveAges time.Duration,
	leakHandleFunc func(txnID string, createAt time.Time)) TxnClientCreateOption {
	return func(tc *txnClient) {
		tc.leakChecker = newLeakCheck(maxActiveAges, leakHandleFunc)
	}
}

var _ TxnClient = (*txnClient)(nil)

type txnClient struct {
	logger      *zap.Logger
	engine      objstore.Engine
	generator   TxnIDGenerator
	maxRetries  int
	workBudget  int
	leakChecker *leakChecker
}

// NewTxnClient create a txn client over the engine
func NewTxnClient(engine objstore.Engine, options ...TxnClientCreateOption) TxnClient {
	c := &txnClient{engine: engine}
	for _, opt := range options {
		opt(c)
	}
	c.adjust()
	if c.leakChecker != nil {
		c.leakChecker.logger = c.logger
		c.leakChecker.start()
	}
	return c
}

func (client *txnClient) adjust() {
	client.logger = logutil.Adjust(client.logger).Named("txn")

	if client.generator == nil {
		client.generator = newUUIDTxnIDGenerator()
	}
	if client.maxRetries <= 0 {
		client.maxRetries = defaultMaxRetries
	}
	if client.engine == nil {
		panic("txn engine not set")
	}
}

func (client *txnClient) New(ctx context.Context, options ...TxnOption) (TxnOperator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	meta := TxnMeta{
		ID:         client.generator.Generate(),
		SnapshotTS: client.engine.Seq(),
	}
	options = append([]TxnOption{
		WithTxnLogger(client.logger),
		WithTxnWorkBudget(client.workBudget),
	}, options...)
	op := newTxnOperator(client.engine, meta, options...)
	if client.leakChecker != nil {
		client.leakChecker.txnOpened(meta.ID)
		op.AppendEventCallback(ClosedEvent, func(meta TxnMeta) {
			client.leakChecker.txnClosed(meta.ID)
		})
	}
	return op, nil
}

func (client *txnClient) Run(
	ctx context.Context,
	fn func(context.Context, TxnOperator) error,
	options ...TxnOption) error {
	for attempt := 0; ; attempt++ {
		op, err := client.New(ctx, options...)
		if err != nil {
			return err
		}
		err = fn(ctx, op)
		if err == nil {
			err = op.Commit(ctx)
		} else {
			if e := op.Rollback(ctx); e != nil {
				client.logger.Error("failed to rollback txn",
					zap.String("txn", op.Txn().ID),
					zap.Error(e))
			}
		}
		if err == nil {
			return nil
		}
		if !moerr.IsMoErrCode(err, moerr.ErrTxnWriteConflict) || attempt >= client.maxRetries {
			return err
		}
		client.logger.Debug("txn conflict, retry",
			zap.String("txn", op.Txn().ID),
			zap.Int("attempt", attempt),
			zap.Error(err))
	}
}

func (client *txnClient) Engine() objstore.Engine {
	return client.engine
}

func (client *txnClient) Close() error {
	if client.leakChecker != nil {
		client.leakChecker.close()
	}
	return nil
}
