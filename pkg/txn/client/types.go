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

	"github.com/matrixorigin/scalable/pkg/objstore"
)

// TxnOption options for setup transaction
type TxnOption func(*txnOperator)

// TxnClientCreateOption options for create txn
type TxnClientCreateOption func(*txnClient)

// TxnStatus status of a transaction
type TxnStatus int

const (
	// TxnStatusActive the txn accepts reads and writes
	TxnStatusActive TxnStatus = iota
	// TxnStatusCommitted the txn committed
	TxnStatusCommitted
	// TxnStatusAborted the txn rolled back or failed to commit
	TxnStatusAborted
)

func (s TxnStatus) String() string {
	switch s {
	case TxnStatusActive:
		return "active"
	case TxnStatusCommitted:
		return "committed"
	case TxnStatusAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// TxnMeta transaction metadata passed to event callbacks
type TxnMeta struct {
	ID         string
	SnapshotTS uint64
	Status     TxnStatus
	Touched    int
}

// EventType event type of a txn
type EventType int

const (
	// CommitEvent fired after the txn committed
	CommitEvent EventType = iota
	// RollbackEvent fired after the txn rolled back or failed to commit
	RollbackEvent
	// ClosedEvent fired after the txn closed, whatever the result
	ClosedEvent
)

// TxnClient transaction client, the operational entry point for transactions.
type TxnClient interface {
	// New returns a TxnOperator to handle read and write operation for a
	// transaction.
	New(ctx context.Context, options ...TxnOption) (TxnOperator, error)
	// Run runs fn in a new transaction and commits it. fn is retried in a
	// fresh transaction when the commit fails with a write conflict. The txn
	// is rolled back if fn returns an error.
	Run(ctx context.Context, fn func(context.Context, TxnOperator) error, options ...TxnOption) error
	// Engine returns the record engine backing the transactions.
	Engine() objstore.Engine
	// Close the client
	Close() error
}

// TxnOperator operator for one optimistic transaction over an objstore.Engine.
// Reads observe the engine state as of the transaction snapshot; a record
// changed after the snapshot fails the read with ErrTxnWriteConflict. Writes
// are buffered and applied atomically by Commit.
type TxnOperator interface {
	// Txn returns the current txn metadata
	Txn() TxnMeta
	// Read returns the data of a record. Absent or deleted records fail with
	// ErrReferentNotFound.
	Read(ctx context.Context, id objstore.ID) ([]byte, error)
	// Exists returns true if the record is live.
	Exists(ctx context.Context, id objstore.ID) (bool, error)
	// Create allocates a new record holding data.
	Create(ctx context.Context, data []byte) (objstore.ID, error)
	// Write replaces the data of a live record.
	Write(ctx context.Context, id objstore.ID, data []byte) error
	// Delete deletes a record. Deleting a deleted record is a no-op.
	Delete(ctx context.Context, id objstore.ID) error
	// CreateCounter allocates a new counter record.
	CreateCounter(ctx context.Context, initial int64) (objstore.ID, error)
	// AddCounter adds delta to a counter without reading it, so concurrent
	// adds never conflict.
	AddCounter(ctx context.Context, id objstore.ID, delta int64) error
	// ReadCounter returns the counter value including the pending deltas of
	// this txn.
	ReadCounter(ctx context.Context, id objstore.ID) (int64, error)
	// AppendEventCallback append callback. All append callbacks will be called
	// sequentially if event happen.
	AppendEventCallback(event EventType, callbacks ...func(TxnMeta))
	// Commit the transaction.
	Commit(ctx context.Context) error
	// Rollback the transaction.
	Rollback(ctx context.Context) error
}

// TxnIDGenerator txn id generator
type TxnIDGenerator interface {
	// Generate returns a unique transaction id
	Generate() string
}
