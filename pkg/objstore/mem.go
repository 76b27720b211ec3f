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
	"sync"

	"github.com/google/btree"
	"github.com/matrixorigin/scalable/pkg/common/moerr"
)

const memBTreeDegree = 32

var _ Engine = (*MemEngine)(nil)

type recordItem struct {
	id     ID
	record Record
}

func (r *recordItem) Less(than btree.Item) bool {
	return r.id < than.(*recordItem).id
}

// MemEngine is an in-memory Engine. Records and tombstones are kept in a btree
// ordered by id.
type MemEngine struct {
	mu struct {
		sync.RWMutex
		closed  bool
		seq     uint64
		nextID  uint64
		live    int
		records *btree.BTree
	}
}

// NewMemEngine returns an empty in-memory engine.
func NewMemEngine() *MemEngine {
	e := &MemEngine{}
	e.mu.records = btree.New(memBTreeDegree)
	return e
}

func (e *MemEngine) Get(ctx context.Context, id ID) (Record, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.mu.closed {
		return Record{}, moerr.NewInvalidState(ctx, "mem engine closed")
	}
	rec := e.getLocked(id)
	data := make([]byte, len(rec.Data))
	copy(data, rec.Data)
	rec.Data = data
	return rec, nil
}

func (e *MemEngine) Seq() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.mu.seq
}

func (e *MemEngine) AllocID(ctx context.Context) (ID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.mu.closed {
		return NilID, moerr.NewInvalidState(ctx, "mem engine closed")
	}
	e.mu.nextID++
	return ID(e.mu.nextID), nil
}

func (e *MemEngine) Commit(ctx context.Context, b Batch) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.mu.closed {
		return moerr.NewInvalidState(ctx, "mem engine closed")
	}

	if err := validateReads(ctx, b.Reads, func(id ID) uint64 {
		return e.getLocked(id).Version
	}); err != nil {
		return err
	}
	if len(b.Writes) == 0 {
		return nil
	}

	seq := e.mu.seq + 1
	staged, err := stageWrites(ctx, seq, b.Writes, func(id ID) (Record, error) {
		return e.getLocked(id), nil
	})
	if err != nil {
		return err
	}
	for _, s := range staged {
		old := e.mu.records.ReplaceOrInsert(&recordItem{id: s.id, record: s.record})
		if old != nil && old.(*recordItem).record.Live {
			e.mu.live--
		}
		if s.record.Live {
			e.mu.live++
		}
	}
	e.mu.seq = seq
	return nil
}

func (e *MemEngine) Count(ctx context.Context) (int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.mu.closed {
		return 0, moerr.NewInvalidState(ctx, "mem engine closed")
	}
	return e.mu.live, nil
}

// Scan calls fn for every live record in id order until fn returns false.
func (e *MemEngine) Scan(fn func(ID, Record) bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	e.mu.records.Ascend(func(i btree.Item) bool {
		item := i.(*recordItem)
		if !item.record.Live {
			return true
		}
		return fn(item.id, item.record)
	})
}

func (e *MemEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.mu.closed = true
	e.mu.records.Clear(false)
	return nil
}

func (e *MemEngine) getLocked(id ID) Record {
	i := e.mu.records.Get(&recordItem{id: id})
	if i == nil {
		return Record{}
	}
	return i.(*recordItem).record
}
