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
	"sync"
	"time"

	"github.com/matrixorigin/scalable/pkg/common/moerr"
	"github.com/matrixorigin/scalable/pkg/logutil"
	"github.com/matrixorigin/scalable/pkg/objstore"
	v2 "github.com/matrixorigin/scalable/pkg/util/metric/v2"
	"go.uber.org/zap"
)

var (
	_ TxnOperator = (*txnOperator)(nil)
)

// WithTxnReadOnly setup readonly flag
func WithTxnReadOnly() TxnOption {
	return func(tc *txnOperator) {
		tc.option.readOnly = true
	}
}

// WithTxnWorkBudget setup the max number of distinct records the txn may
// touch. 0 means unlimited.
func WithTxnWorkBudget(n int) TxnOption {
	return func(tc *txnOperator) {
		tc.option.workBudget = n
	}
}

// WithTxnLogger setup txn logger
func WithTxnLogger(logger *zap.Logger) TxnOption {
	return func(tc *txnOperator) {
		tc.logger = logger
	}
}

// cachedRecord is the txn local view of one record.
type cachedRecord struct {
	data  []byte
	live  bool
	dirty bool
}

type txnOperator struct {
	logger *zap.Logger
	engine objstore.Engine
	txnID  string

	option struct {
		readOnly   bool
		workBudget int
	}

	mu struct {
		sync.RWMutex
		closed     bool
		txn        TxnMeta
		reads      map[objstore.ID]uint64
		records    map[objstore.ID]*cachedRecord
		writeOrder []objstore.ID
		deltas     map[objstore.ID]int64
		deltaOrder []objstore.ID
		touched    map[objstore.ID]struct{}
		callbacks  map[EventType][]func(TxnMeta)
	}
}

func newTxnOperator(
	engine objstore.Engine,
	txnMeta TxnMeta,
	options ...TxnOption) *txnOperator {
	tc := &txnOperator{engine: engine}
	tc.mu.txn = txnMeta
	tc.txnID = txnMeta.ID
	tc.mu.reads = make(map[objstore.ID]uint64)
	tc.mu.records = make(map[objstore.ID]*cachedRecord)
	tc.mu.deltas = make(map[objstore.ID]int64)
	tc.mu.touched = make(map[objstore.ID]struct{})
	for _, opt := range options {
		opt(tc)
	}
	tc.adjust()
	tc.logger.Debug("txn created", zap.String("txn", tc.txnID))
	return tc
}

func (tc *txnOperator) adjust() {
	tc.logger = logutil.Adjust(tc.logger)
	if tc.engine == nil {
		tc.logger.Fatal("missing txn engine")
	}
	if len(tc.mu.txn.ID) == 0 {
		tc.logger.Fatal("missing txn id")
	}
}

func (tc *txnOperator) Txn() TxnMeta {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.txnMetaLocked()
}

func (tc *txnOperator) Read(ctx context.Context, id objstore.ID) ([]byte, error) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if err := tc.checkStatus(); err != nil {
		return nil, err
	}
	r, err := tc.loadLocked(ctx, id)
	if err != nil {
		return nil, err
	}
	if !r.live {
		return nil, moerr.NewReferentNotFound(ctx, uint64(id))
	}
	data := make([]byte, len(r.data))
	copy(data, r.data)
	return data, nil
}

func (tc *txnOperator) Exists(ctx context.Context, id objstore.ID) (bool, error) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if err := tc.checkStatus(); err != nil {
		return false, err
	}
	r, err := tc.loadLocked(ctx, id)
	if err != nil {
		return false, err
	}
	return r.live, nil
}

func (tc *txnOperator) Create(ctx context.Context, data []byte) (objstore.ID, error) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if err := tc.checkWritable(); err != nil {
		return objstore.NilID, err
	}
	id, err := tc.engine.AllocID(ctx)
	if err != nil {
		return objstore.NilID, err
	}
	if err := tc.touchLocked(ctx, id); err != nil {
		return objstore.NilID, err
	}
	tc.mu.records[id] = &cachedRecord{data: clone(data), live: true}
	tc.markDirtyLocked(id)
	return id, nil
}

func (tc *txnOperator) Write(ctx context.Context, id objstore.ID, data []byte) error {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if err := tc.checkWritable(); err != nil {
		return err
	}
	r, err := tc.loadLocked(ctx, id)
	if err != nil {
		return err
	}
	if !r.live {
		return moerr.NewReferentNotFound(ctx, uint64(id))
	}
	r.data = clone(data)
	tc.markDirtyLocked(id)
	return nil
}

func (tc *txnOperator) Delete(ctx context.Context, id objstore.ID) error {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if err := tc.checkWritable(); err != nil {
		return err
	}
	r, err := tc.loadLocked(ctx, id)
	if err != nil {
		return err
	}
	if !r.live {
		return nil
	}
	r.live = false
	r.data = nil
	delete(tc.mu.deltas, id)
	tc.markDirtyLocked(id)
	return nil
}

func (tc *txnOperator) CreateCounter(ctx context.Context, initial int64) (objstore.ID, error) {
	return tc.Create(ctx, objstore.EncodeCounter(initial))
}

func (tc *txnOperator) AddCounter(ctx context.Context, id objstore.ID, delta int64) error {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if err := tc.checkWritable(); err != nil {
		return err
	}
	if r, ok := tc.mu.records[id]; ok {
		if !r.live {
			return moerr.NewReferentNotFound(ctx, uint64(id))
		}
		if r.dirty {
			v, err := objstore.DecodeCounter(r.data)
			if err != nil {
				return err
			}
			r.data = objstore.EncodeCounter(v + delta)
			return nil
		}
	} else if err := tc.touchLocked(ctx, id); err != nil {
		return err
	}
	if _, ok := tc.mu.deltas[id]; !ok {
		tc.mu.deltaOrder = append(tc.mu.deltaOrder, id)
	}
	tc.mu.deltas[id] += delta
	return nil
}

func (tc *txnOperator) ReadCounter(ctx context.Context, id objstore.ID) (int64, error) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if err := tc.checkStatus(); err != nil {
		return 0, err
	}
	r, err := tc.loadLocked(ctx, id)
	if err != nil {
		return 0, err
	}
	if !r.live {
		return 0, moerr.NewReferentNotFound(ctx, uint64(id))
	}
	v, err := objstore.DecodeCounter(r.data)
	if err != nil {
		return 0, err
	}
	return v + tc.mu.deltas[id], nil
}

func (tc *txnOperator) AppendEventCallback(event EventType, callbacks ...func(TxnMeta)) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if tc.mu.callbacks == nil {
		tc.mu.callbacks = make(map[EventType][]func(TxnMeta))
	}
	tc.mu.callbacks[event] = append(tc.mu.callbacks[event], callbacks...)
}

func (tc *txnOperator) Commit(ctx context.Context) error {
	start := time.Now()
	tc.mu.Lock()
	if err := tc.checkStatus(); err != nil {
		tc.mu.Unlock()
		return err
	}

	batch := tc.buildBatchLocked()
	var err error
	if len(batch.Writes) > 0 {
		err = tc.engine.Commit(ctx, batch)
	}
	if err != nil {
		tc.mu.txn.Status = TxnStatusAborted
		if moerr.IsMoErrCode(err, moerr.ErrTxnWriteConflict) {
			v2.TxnCommitConflictCounter.Inc()
		}
	} else {
		tc.mu.txn.Status = TxnStatusCommitted
		v2.TxnCommitSuccessCounter.Inc()
		v2.TxnTouchedRecordsHistogram.Observe(float64(len(tc.mu.touched)))
	}
	v2.TxnCommitDurationHistogram.Observe(time.Since(start).Seconds())
	tc.mu.closed = true
	meta, callbacks := tc.closeLocked()
	tc.mu.Unlock()

	tc.triggerEvents(meta, callbacks)
	if err != nil {
		tc.logger.Debug("txn commit failed",
			zap.String("txn", tc.txnID),
			zap.Error(err))
	}
	return err
}

func (tc *txnOperator) Rollback(ctx context.Context) error {
	tc.mu.Lock()
	if tc.mu.closed {
		tc.mu.Unlock()
		return nil
	}
	tc.mu.txn.Status = TxnStatusAborted
	v2.TxnRollbackCounter.Inc()
	meta, callbacks := tc.closeLocked()
	tc.mu.Unlock()

	tc.triggerEvents(meta, callbacks)
	return nil
}

func (tc *txnOperator) buildBatchLocked() objstore.Batch {
	batch := objstore.Batch{Reads: tc.mu.reads}
	for _, id := range tc.mu.writeOrder {
		r := tc.mu.records[id]
		if r.live {
			batch.Writes = append(batch.Writes, objstore.Mutation{
				Type: objstore.MutationPut,
				ID:   id,
				Data: r.data,
			})
			continue
		}
		batch.Writes = append(batch.Writes, objstore.Mutation{
			Type: objstore.MutationDelete,
			ID:   id,
		})
	}
	for _, id := range tc.mu.deltaOrder {
		delta, ok := tc.mu.deltas[id]
		if !ok || delta == 0 {
			continue
		}
		batch.Writes = append(batch.Writes, objstore.Mutation{
			Type:  objstore.MutationAdd,
			ID:    id,
			Delta: delta,
		})
	}
	return batch
}

// loadLocked returns the txn local view of the record, reading it from the
// engine on first access. A record changed after the snapshot fails with a
// write conflict so that a txn never observes a mix of states.
func (tc *txnOperator) loadLocked(ctx context.Context, id objstore.ID) (*cachedRecord, error) {
	if r, ok := tc.mu.records[id]; ok {
		return r, nil
	}
	if id.IsNil() {
		return nil, moerr.NewReferentNotFound(ctx, uint64(id))
	}
	if err := tc.touchLocked(ctx, id); err != nil {
		return nil, err
	}
	rec, err := tc.engine.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Version > tc.mu.txn.SnapshotTS {
		return nil, moerr.NewTxnWriteConflict(ctx,
			"record %d changed after snapshot %d", id, tc.mu.txn.SnapshotTS)
	}
	tc.mu.reads[id] = rec.Version
	r := &cachedRecord{data: rec.Data, live: rec.Live}
	tc.mu.records[id] = r
	return r, nil
}

func (tc *txnOperator) touchLocked(ctx context.Context, id objstore.ID) error {
	if _, ok := tc.mu.touched[id]; ok {
		return nil
	}
	if tc.option.workBudget > 0 && len(tc.mu.touched) >= tc.option.workBudget {
		return moerr.NewTxnBudgetExceeded(ctx, tc.txnID, tc.option.workBudget)
	}
	tc.mu.touched[id] = struct{}{}
	return nil
}

func (tc *txnOperator) markDirtyLocked(id objstore.ID) {
	r := tc.mu.records[id]
	if r.dirty {
		return
	}
	r.dirty = true
	tc.mu.writeOrder = append(tc.mu.writeOrder, id)
}

func (tc *txnOperator) checkStatus() error {
	if tc.mu.closed {
		return moerr.NewTxnClosedNoCtx(tc.txnID)
	}
	return nil
}

func (tc *txnOperator) checkWritable() error {
	if err := tc.checkStatus(); err != nil {
		return err
	}
	if tc.option.readOnly {
		return moerr.NewTxnError(context.Background(), "write on read only txn %s", tc.txnID)
	}
	return nil
}

func (tc *txnOperator) txnMetaLocked() TxnMeta {
	meta := tc.mu.txn
	meta.Touched = len(tc.mu.touched)
	return meta
}

func (tc *txnOperator) closeLocked() (TxnMeta, []func(TxnMeta)) {
	tc.mu.closed = true
	var callbacks []func(TxnMeta)
	switch tc.mu.txn.Status {
	case TxnStatusCommitted:
		callbacks = append(callbacks, tc.mu.callbacks[CommitEvent]...)
	case TxnStatusAborted:
		callbacks = append(callbacks, tc.mu.callbacks[RollbackEvent]...)
	}
	callbacks = append(callbacks, tc.mu.callbacks[ClosedEvent]...)
	return tc.txnMetaLocked(), callbacks
}

func (tc *txnOperator) triggerEvents(meta TxnMeta, callbacks []func(TxnMeta)) {
	for _, cb := range callbacks {
		cb(meta)
	}
}

func clone(data []byte) []byte {
	v := make([]byte, len(data))
	copy(v, data)
	return v
}
