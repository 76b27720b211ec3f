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

	"github.com/matrixorigin/scalable/pkg/common/moerr"
	"github.com/matrixorigin/scalable/pkg/objstore"
	"github.com/matrixorigin/scalable/pkg/taskservice"
	"github.com/matrixorigin/scalable/pkg/txn/client"
	"go.uber.org/zap"
)

// Map is a transactional hash map stored as an extendible hashing tree of
// records. A Map value is only a handle id plus local options; all state
// lives in the store and every operation runs inside the caller's
// transaction. Operations on keys landing in different leaves never touch
// the same records, except for the commutative size counter.
type Map struct {
	id        objstore.ID
	logger    *zap.Logger
	scheduler taskservice.Scheduler
}

// New creates an empty map inside op.
func New(ctx context.Context, op client.TxnOperator, opts ...Option) (*Map, error) {
	o := newOptions(opts...)
	h, err := o.shape(ctx)
	if err != nil {
		return nil, err
	}
	id, err := op.Create(ctx, nil)
	if err != nil {
		return nil, err
	}
	m := newMap(id, o)
	s := &session{ctx: ctx, op: op, logger: m.logger, id: id, h: h}
	if h.Size, err = op.CreateCounter(ctx, 0); err != nil {
		return nil, err
	}
	if h.Root, err = s.buildTree(); err != nil {
		return nil, err
	}
	if err := s.writeHandle(); err != nil {
		return nil, err
	}
	m.logger.Debug("map created",
		zap.Uint64("id", uint64(id)),
		zap.Int("min-depth", h.MinDepth),
		zap.Int("directory-bits", h.DirectoryBits))
	return m, nil
}

// NewFrom creates a map holding the entries of src.
func NewFrom(ctx context.Context, op client.TxnOperator, src Associative, opts ...Option) (*Map, error) {
	m, err := New(ctx, op, opts...)
	if err != nil {
		return nil, err
	}
	if err := m.PutAll(ctx, op, src); err != nil {
		return nil, err
	}
	return m, nil
}

// Open returns the map with handle id. The geometry is stored in the handle,
// only local options such as the scheduler and the logger apply.
func Open(id objstore.ID, opts ...Option) *Map {
	return newMap(id, newOptions(opts...))
}

func newMap(id objstore.ID, o options) *Map {
	return &Map{
		id:        id,
		logger:    o.logger.With(zap.Uint64("map", uint64(id))),
		scheduler: o.scheduler,
	}
}

// ID returns the handle id of the map.
func (m *Map) ID() objstore.ID {
	return m.id
}

// Get returns the value of key. The bool is false if the key is absent. A
// ref value whose referent is gone fails with ErrReferentNotFound.
func (m *Map) Get(ctx context.Context, op client.TxnOperator, key Value) (Value, bool, error) {
	if err := key.validate(ctx, "key"); err != nil {
		return Value{}, false, err
	}
	s, err := m.begin(ctx, op)
	if err != nil {
		return Value{}, false, err
	}
	_, _, leaf, err := s.descend(keyHash(key))
	if err != nil {
		return Value{}, false, err
	}
	i := findEntry(leaf, key)
	if i < 0 {
		return Value{}, false, nil
	}
	v := leaf.Entries[i].Value.value()
	if err := checkLive(ctx, op, v); err != nil {
		return Value{}, false, err
	}
	return v, true, nil
}

// ContainsKey returns true if key is present.
func (m *Map) ContainsKey(ctx context.Context, op client.TxnOperator, key Value) (bool, error) {
	if err := key.validate(ctx, "key"); err != nil {
		return false, err
	}
	s, err := m.begin(ctx, op)
	if err != nil {
		return false, err
	}
	_, _, leaf, err := s.descend(keyHash(key))
	if err != nil {
		return false, err
	}
	return findEntry(leaf, key) >= 0, nil
}

// ContainsValue returns true if some entry holds value. It scans the whole
// map in op, so it is bounded by the transaction budget. Entries whose value
// referent is gone never match.
func (m *Map) ContainsValue(ctx context.Context, op client.TxnOperator, value Value) (bool, error) {
	if err := value.validate(ctx, "value"); err != nil {
		return false, err
	}
	p, err := newMatcher(ctx, op, value)
	if err != nil {
		return false, err
	}
	found := false
	err = m.ForEach(ctx, op, func(e Entry) (bool, error) {
		c, err := p.compare(ctx, op, e.Value)
		if err != nil {
			return false, err
		}
		found = c == CompareEqual
		return !found, nil
	})
	return found, err
}

// Put maps key to value and returns the previous value. The bool is false if
// the key was absent.
func (m *Map) Put(ctx context.Context, op client.TxnOperator, key, value Value) (Value, bool, error) {
	return m.put(ctx, op, key, value, true)
}

// PutAll puts every entry of src.
func (m *Map) PutAll(ctx context.Context, op client.TxnOperator, src Associative) error {
	return src.ForEach(ctx, op, func(e Entry) (bool, error) {
		_, _, err := m.put(ctx, op, e.Key, e.Value, false)
		return err == nil, err
	})
}

func (m *Map) put(ctx context.Context, op client.TxnOperator, key, value Value, needOld bool) (Value, bool, error) {
	if err := key.validate(ctx, "key"); err != nil {
		return Value{}, false, err
	}
	if err := value.validate(ctx, "value"); err != nil {
		return Value{}, false, err
	}
	s, err := m.begin(ctx, op)
	if err != nil {
		return Value{}, false, err
	}
	hash := keyHash(key)
	path, leafID, leaf, err := s.descend(hash)
	if err != nil {
		return Value{}, false, err
	}
	i := findEntry(leaf, key)

	if i >= 0 {
		old := leaf.Entries[i].Value.value()
		if needOld {
			if err := checkLive(ctx, op, old); err != nil {
				return Value{}, false, err
			}
		}
		leaf.Entries[i].Value = toValueRecord(value)
		if err := writeRecord(ctx, op, leafID, leaf); err != nil {
			return Value{}, false, err
		}
		return old, true, nil
	}

	e := entryRecord{Hash: hash, Key: toValueRecord(key), Value: toValueRecord(value)}
	leaf.insertAt(leaf.upperBound(e.Hash, key.identity()), e)
	if err := writeRecord(ctx, op, leafID, leaf); err != nil {
		return Value{}, false, err
	}
	if err := op.AddCounter(ctx, s.h.Size, 1); err != nil {
		return Value{}, false, err
	}
	if err := s.splitIfNeeded(path, leafID, leaf); err != nil {
		return Value{}, false, err
	}
	return Value{}, false, nil
}

// Remove removes key and returns its value. The bool is false if the key was
// absent. A ref key is matched by id, so an entry whose key referent was
// deleted can still be removed.
func (m *Map) Remove(ctx context.Context, op client.TxnOperator, key Value) (Value, bool, error) {
	if err := key.validate(ctx, "key"); err != nil {
		return Value{}, false, err
	}
	s, err := m.begin(ctx, op)
	if err != nil {
		return Value{}, false, err
	}
	path, leafID, leaf, err := s.descend(keyHash(key))
	if err != nil {
		return Value{}, false, err
	}
	i := findEntry(leaf, key)
	if i < 0 {
		return Value{}, false, nil
	}
	old := leaf.Entries[i].Value.value()
	if err := checkLive(ctx, op, old); err != nil {
		return Value{}, false, err
	}
	if err := s.removeAt(path, leafID, leaf, i); err != nil {
		return Value{}, false, err
	}
	return old, true, nil
}

func (s *session) removeAt(path []pathElem, leafID objstore.ID, leaf *nodeRecord, i int) error {
	leaf.removeAt(i)
	if err := writeRecord(s.ctx, s.op, leafID, leaf); err != nil {
		return err
	}
	if err := s.op.AddCounter(s.ctx, s.h.Size, -1); err != nil {
		return err
	}
	return s.mergeIfNeeded(path, leafID, leaf)
}

// Len returns the number of entries, dead ones included.
func (m *Map) Len(ctx context.Context, op client.TxnOperator) (int64, error) {
	s, err := m.begin(ctx, op)
	if err != nil {
		return 0, err
	}
	return op.ReadCounter(ctx, s.h.Size)
}

func (m *Map) IsEmpty(ctx context.Context, op client.TxnOperator) (bool, error) {
	n, err := m.Len(ctx, op)
	return n == 0, err
}

// Lookup is Get under the Associative name.
func (m *Map) Lookup(ctx context.Context, op client.TxnOperator, key Value) (Value, bool, error) {
	return m.Get(ctx, op, key)
}

// ForEach calls fn for every entry in hash order until fn returns false. It
// walks the whole leaf chain in op.
func (m *Map) ForEach(ctx context.Context, op client.TxnOperator, fn func(Entry) (bool, error)) error {
	it, err := m.Iterator(ctx, op)
	if err != nil {
		return err
	}
	for {
		e, ok, err := it.next(ctx, op)
		if err != nil || !ok {
			return err
		}
		more, err := fn(e)
		if err != nil || !more {
			return err
		}
	}
}

// Clear removes every entry. The map is empty as soon as op commits; the old
// tree is reclaimed afterwards by a clear continuation submitted to the
// scheduler once op committed.
func (m *Map) Clear(ctx context.Context, op client.TxnOperator) error {
	if m.scheduler == nil {
		return moerr.NewInvalidState(ctx, "clear map %d without scheduler", uint64(m.id))
	}
	s, err := m.begin(ctx, op)
	if err != nil {
		return err
	}
	oldRoot, oldSize := s.h.Root, s.h.Size
	s.h.Gen++
	if s.h.Size, err = op.CreateCounter(ctx, 0); err != nil {
		return err
	}
	if err := op.Delete(ctx, oldSize); err != nil {
		return err
	}
	if s.h.Root, err = s.buildTree(); err != nil {
		return err
	}
	if err := s.writeHandle(); err != nil {
		return err
	}
	return m.reclaim(s, oldRoot)
}

// Destroy deletes the map. Its records are reclaimed by a clear continuation
// once op committed, and every later operation on the map fails with
// ErrReferentNotFound.
func (m *Map) Destroy(ctx context.Context, op client.TxnOperator) error {
	if m.scheduler == nil {
		return moerr.NewInvalidState(ctx, "destroy map %d without scheduler", uint64(m.id))
	}
	s, err := m.begin(ctx, op)
	if err != nil {
		return err
	}
	if err := op.Delete(ctx, s.h.Size); err != nil {
		return err
	}
	if err := op.Delete(ctx, m.id); err != nil {
		return err
	}
	return m.reclaim(s, s.h.Root)
}

// Check verifies the structural invariants of the map.
func (m *Map) Check(ctx context.Context, op client.TxnOperator) error {
	s, err := m.begin(ctx, op)
	if err != nil {
		return err
	}
	return s.check()
}
