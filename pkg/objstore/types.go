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

package objstore

import (
	"context"
	"encoding/binary"
	"strconv"

	"github.com/matrixorigin/scalable/pkg/common/moerr"
)

// ID identifies a record in the store. IDs are allocated by the engine and
// never reused, so a dangling ID can only ever resolve to ErrReferentNotFound.
type ID uint64

// NilID is the zero ID and never names a record.
const NilID ID = 0

func (id ID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// IsNil returns true if id does not name a record.
func (id ID) IsNil() bool {
	return id == NilID
}

// Record is a versioned opaque payload. Version is the sequence of the commit
// that last wrote or deleted the record. A deleted record is kept as a
// tombstone (Live false) so that readers can tell a deletion committed after
// their snapshot from one committed before it. The zero Record is a record
// that never existed.
type Record struct {
	Version uint64
	Data    []byte
	Live    bool
}

// MutationType describes how a Mutation changes a record.
type MutationType uint8

const (
	// MutationPut creates or overwrites a record.
	MutationPut MutationType = iota
	// MutationDelete removes a record, leaving a tombstone.
	MutationDelete
	// MutationAdd adds Delta to a counter record created by MutationPut with
	// EncodeCounter. It does not require the counter to be in the read set.
	MutationAdd
)

func (t MutationType) String() string {
	switch t {
	case MutationPut:
		return "put"
	case MutationDelete:
		return "delete"
	case MutationAdd:
		return "add"
	default:
		return "unknown"
	}
}

// Mutation is one write of a Batch.
type Mutation struct {
	Type  MutationType
	ID    ID
	Data  []byte
	Delta int64
}

// Batch is the unit of an optimistic commit. Reads maps every record the
// transaction depends on to the version it observed, 0 meaning the record was
// observed absent. Writes are applied in order.
type Batch struct {
	Reads  map[ID]uint64
	Writes []Mutation
}

// Engine is the persistent record store. Implementations must make Commit
// atomic: either every read version still matches and all writes are applied
// under a new commit sequence, or nothing changes.
type Engine interface {
	// Get returns the record. Absent and deleted records are returned with
	// Live false.
	Get(ctx context.Context, id ID) (Record, error)
	// Seq returns the sequence of the last commit.
	Seq() uint64
	// AllocID returns a fresh never used ID.
	AllocID(ctx context.Context) (ID, error)
	// Commit validates the read set and applies the writes. A changed read
	// version fails with ErrTxnWriteConflict.
	Commit(ctx context.Context, b Batch) error
	// Count returns the number of live records. Tombstones are not counted.
	Count(ctx context.Context) (int, error)
	// Close releases the engine.
	Close() error
}

// EncodeCounter encodes a counter value as record data.
func EncodeCounter(v int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(v))
	return buf
}

// DecodeCounter decodes record data written by EncodeCounter.
func DecodeCounter(data []byte) (int64, error) {
	if len(data) != 8 {
		return 0, moerr.NewInvalidStateNoCtx("counter record has %d bytes", len(data))
	}
	return int64(binary.BigEndian.Uint64(data)), nil
}

// stagedRecord is the outcome of a batch for one record.
type stagedRecord struct {
	id     ID
	record Record
}

// validateReads checks every observed version against the current state.
func validateReads(ctx context.Context, reads map[ID]uint64, version func(ID) uint64) error {
	for id, observed := range reads {
		if current := version(id); current != observed {
			return moerr.NewTxnWriteConflict(ctx,
				"record %d changed, observed version %d, current version %d",
				id, observed, current)
		}
	}
	return nil
}

// stageWrites folds the writes of a batch into their final per-record state,
// in first-write order. load returns the committed record for ids not yet
// touched by the batch.
func stageWrites(
	ctx context.Context,
	seq uint64,
	writes []Mutation,
	load func(ID) (Record, error),
) ([]stagedRecord, error) {
	index := make(map[ID]int, len(writes))
	staged := make([]stagedRecord, 0, len(writes))
	current := func(id ID) (Record, error) {
		if i, ok := index[id]; ok {
			return staged[i].record, nil
		}
		return load(id)
	}
	set := func(id ID, rec Record) {
		if i, ok := index[id]; ok {
			staged[i].record = rec
			return
		}
		index[id] = len(staged)
		staged = append(staged, stagedRecord{id: id, record: rec})
	}

	for _, w := range writes {
		if w.ID.IsNil() {
			return nil, moerr.NewInvalidArg(ctx, "mutation id", w.ID)
		}
		switch w.Type {
		case MutationPut:
			data := make([]byte, len(w.Data))
			copy(data, w.Data)
			set(w.ID, Record{Version: seq, Data: data, Live: true})
		case MutationDelete:
			set(w.ID, Record{Version: seq})
		case MutationAdd:
			rec, err := current(w.ID)
			if err != nil {
				return nil, err
			}
			if !rec.Live {
				return nil, moerr.NewReferentNotFound(ctx, uint64(w.ID))
			}
			v, err := DecodeCounter(rec.Data)
			if err != nil {
				return nil, err
			}
			set(w.ID, Record{Version: seq, Data: EncodeCounter(v + w.Delta), Live: true})
		default:
			return nil, moerr.NewInvalidArg(ctx, "mutation type", w.Type)
		}
	}
	return staged, nil
}
