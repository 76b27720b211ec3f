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
	"bytes"
	"context"

	"github.com/matrixorigin/scalable/pkg/common/moerr"
	"github.com/matrixorigin/scalable/pkg/objstore"
	"github.com/matrixorigin/scalable/pkg/txn/client"
	"github.com/vmihailenco/msgpack/v5"
)

// Cursor is the serializable position of an iterator. It does not depend on
// any transaction, a scan may stop after any step and resume in another
// transaction from the marshaled cursor.
type Cursor struct {
	MapID objstore.ID `msgpack:"map"`
	// Gen is the map generation the leaf belongs to.
	Gen uint64 `msgpack:"gen"`
	// Leaf and Index are a hint of where the next entry is.
	Leaf  objstore.ID `msgpack:"leaf,omitempty"`
	Index int         `msgpack:"index,omitempty"`
	// Started is set once an entry was returned, LastHash and LastIdent are
	// the position of that entry.
	Started   bool   `msgpack:"started,omitempty"`
	LastHash  uint64 `msgpack:"last_hash,omitempty"`
	LastIdent []byte `msgpack:"last_ident,omitempty"`
	CanRemove bool   `msgpack:"can_remove,omitempty"`
}

// Iterator is a weakly consistent iterator over a map. It returns every
// entry present during the whole scan exactly once in hash order. Entries
// added or removed during the scan may or may not be seen. Keys and values
// are returned as stored, dead refs included.
type Iterator struct {
	m      *Map
	cursor Cursor
}

// Iterator returns an iterator over the entries of the map.
func (m *Map) Iterator(ctx context.Context, op client.TxnOperator) (*Iterator, error) {
	s, err := m.begin(ctx, op)
	if err != nil {
		return nil, err
	}
	return &Iterator{
		m:      m,
		cursor: Cursor{MapID: m.id, Gen: s.h.Gen},
	}, nil
}

// ResumeIterator rebuilds an iterator from a marshaled cursor.
func ResumeIterator(data []byte, opts ...Option) (*Iterator, error) {
	var c Cursor
	if err := msgpack.Unmarshal(data, &c); err != nil {
		return nil, moerr.NewInvalidArgNoCtx("cursor", err.Error())
	}
	if c.MapID.IsNil() {
		return nil, moerr.NewInvalidArgNoCtx("cursor", "nil map")
	}
	return &Iterator{m: Open(c.MapID, opts...), cursor: c}, nil
}

// MarshalBinary implements encoding.BinaryMarshaler
func (it *Iterator) MarshalBinary() ([]byte, error) {
	return msgpack.Marshal(&it.cursor)
}

// Cursor returns a copy of the current position.
func (it *Iterator) Cursor() Cursor {
	c := it.cursor
	c.LastIdent = append([]byte(nil), c.LastIdent...)
	return c
}

// HasNext returns true if Next would return an entry.
func (it *Iterator) HasNext(ctx context.Context, op client.TxnOperator) (bool, error) {
	_, _, _, ok, err := it.seek(ctx, op)
	return ok, err
}

// Next returns the next entry. It fails with ErrNoSuchElement at the end.
func (it *Iterator) Next(ctx context.Context, op client.TxnOperator) (Entry, error) {
	e, ok, err := it.next(ctx, op)
	if err != nil {
		return Entry{}, err
	}
	if !ok {
		return Entry{}, moerr.NewNoSuchElement(ctx, "iterator of map %d", uint64(it.cursor.MapID))
	}
	return e, nil
}

func (it *Iterator) next(ctx context.Context, op client.TxnOperator) (Entry, bool, error) {
	s, leafID, leaf, ok, err := it.seek(ctx, op)
	if err != nil || !ok {
		return Entry{}, false, err
	}
	c := &it.cursor
	i := c.Index
	e := leaf.Entries[i]
	c.Gen = s.h.Gen
	c.Leaf = leafID
	c.Index = i + 1
	c.Started = true
	c.LastHash = e.Hash
	c.LastIdent = e.identity()
	c.CanRemove = true
	return Entry{Key: e.Key.value(), Value: e.Value.value(), Hash: e.Hash}, true, nil
}

// seek finds the entry after the last returned one. On success the entry is
// leaf.Entries[it.cursor.Index], the cursor is otherwise left unchanged
// except for Index.
func (it *Iterator) seek(ctx context.Context, op client.TxnOperator) (*session, objstore.ID, *nodeRecord, bool, error) {
	s, err := it.m.begin(ctx, op)
	if err != nil {
		return nil, objstore.NilID, nil, false, err
	}
	c := &it.cursor

	leafID := objstore.NilID
	var leaf *nodeRecord
	if c.Gen == s.h.Gen && !c.Leaf.IsNil() {
		n, err := readNodeIfLive(ctx, op, c.Leaf)
		if err != nil {
			return nil, objstore.NilID, nil, false, err
		}
		if n != nil && n.Leaf && n.Gen == s.h.Gen {
			leafID, leaf = c.Leaf, n
		}
	}
	if leaf == nil {
		// the leaf is gone or belongs to a cleared tree, find the position
		// again from the root
		_, leafID, leaf, err = s.descend(c.LastHash)
		if err != nil {
			return nil, objstore.NilID, nil, false, err
		}
	}

	i := it.indexIn(leafID, leaf)
	for i >= len(leaf.Entries) {
		if leaf.Next.IsNil() {
			return s, leafID, leaf, false, nil
		}
		leafID = leaf.Next
		if leaf, err = readNode(ctx, op, leafID); err != nil {
			return nil, objstore.NilID, nil, false, err
		}
		i = it.indexIn(leafID, leaf)
	}
	c.Index = i
	return s, leafID, leaf, true, nil
}

// indexIn returns the index of the first entry of leaf after the cursor.
func (it *Iterator) indexIn(leafID objstore.ID, leaf *nodeRecord) int {
	c := &it.cursor
	if !c.Started {
		return 0
	}
	if leafID == c.Leaf && c.Index > 0 && c.Index <= len(leaf.Entries) {
		prev := leaf.Entries[c.Index-1]
		if prev.Hash == c.LastHash && bytes.Equal(prev.identity(), c.LastIdent) {
			return c.Index
		}
	}
	return leaf.upperBound(c.LastHash, c.LastIdent)
}

// Remove removes the entry returned by the last Next. Removing an entry that
// is already gone is a no-op.
func (it *Iterator) Remove(ctx context.Context, op client.TxnOperator) error {
	s, err := it.m.begin(ctx, op)
	if err != nil {
		return err
	}
	c := &it.cursor
	if !c.CanRemove {
		return moerr.NewInvalidIteratorState(ctx, "remove without next")
	}
	path, leafID, leaf, err := s.descend(c.LastHash)
	if err != nil {
		return err
	}
	if i := leaf.indexOf(c.LastHash, c.LastIdent); i >= 0 {
		if err := s.removeAt(path, leafID, leaf, i); err != nil {
			return err
		}
	}
	c.CanRemove = false
	c.Index = 0
	return nil
}

// KeyIterator returns the keys of a map. It shares the cursor format of
// Iterator.
type KeyIterator struct {
	*Iterator
}

// ResumeKeyIterator rebuilds a key iterator from a marshaled cursor.
func ResumeKeyIterator(data []byte, opts ...Option) (*KeyIterator, error) {
	it, err := ResumeIterator(data, opts...)
	if err != nil {
		return nil, err
	}
	return &KeyIterator{Iterator: it}, nil
}

// Next returns the next key.
func (it *KeyIterator) Next(ctx context.Context, op client.TxnOperator) (Value, error) {
	e, err := it.Iterator.Next(ctx, op)
	return e.Key, err
}

// ValueIterator returns the values of a map, one per entry.
type ValueIterator struct {
	*Iterator
}

// ResumeValueIterator rebuilds a value iterator from a marshaled cursor.
func ResumeValueIterator(data []byte, opts ...Option) (*ValueIterator, error) {
	it, err := ResumeIterator(data, opts...)
	if err != nil {
		return nil, err
	}
	return &ValueIterator{Iterator: it}, nil
}

// Next returns the value of the next entry.
func (it *ValueIterator) Next(ctx context.Context, op client.TxnOperator) (Value, error) {
	e, err := it.Iterator.Next(ctx, op)
	return e.Value, err
}

// KeySet is the view of the keys of a map.
type KeySet struct {
	m *Map
}

// Values is the view of the values of a map.
type Values struct {
	m *Map
}

// EntrySet is the view of the entries of a map.
type EntrySet struct {
	m *Map
}

func (m *Map) KeySet() KeySet {
	return KeySet{m: m}
}

func (m *Map) Values() Values {
	return Values{m: m}
}

func (m *Map) EntrySet() EntrySet {
	return EntrySet{m: m}
}

func (v KeySet) Iterator(ctx context.Context, op client.TxnOperator) (*KeyIterator, error) {
	it, err := v.m.Iterator(ctx, op)
	if err != nil {
		return nil, err
	}
	return &KeyIterator{Iterator: it}, nil
}

func (v KeySet) Len(ctx context.Context, op client.TxnOperator) (int64, error) {
	return v.m.Len(ctx, op)
}

func (v KeySet) Contains(ctx context.Context, op client.TxnOperator, key Value) (bool, error) {
	return v.m.ContainsKey(ctx, op, key)
}

// Remove removes key from the map. It returns true if the key was present.
func (v KeySet) Remove(ctx context.Context, op client.TxnOperator, key Value) (bool, error) {
	_, ok, err := v.m.Remove(ctx, op, key)
	return ok, err
}

func (v Values) Iterator(ctx context.Context, op client.TxnOperator) (*ValueIterator, error) {
	it, err := v.m.Iterator(ctx, op)
	if err != nil {
		return nil, err
	}
	return &ValueIterator{Iterator: it}, nil
}

func (v Values) Len(ctx context.Context, op client.TxnOperator) (int64, error) {
	return v.m.Len(ctx, op)
}

func (v Values) Contains(ctx context.Context, op client.TxnOperator, value Value) (bool, error) {
	return v.m.ContainsValue(ctx, op, value)
}

func (v EntrySet) Iterator(ctx context.Context, op client.TxnOperator) (*Iterator, error) {
	return v.m.Iterator(ctx, op)
}

func (v EntrySet) Len(ctx context.Context, op client.TxnOperator) (int64, error) {
	return v.m.Len(ctx, op)
}

// Contains returns true if the map holds e.Key mapped to a value equal to
// e.Value.
func (v EntrySet) Contains(ctx context.Context, op client.TxnOperator, e Entry) (bool, error) {
	value, ok, err := v.m.Get(ctx, op, e.Key)
	if err != nil || !ok {
		return false, err
	}
	return valuesEqual(ctx, op, e.Value, value)
}

// Remove removes e if the map holds it. It returns true if it was removed.
func (v EntrySet) Remove(ctx context.Context, op client.TxnOperator, e Entry) (bool, error) {
	ok, err := v.Contains(ctx, op, e)
	if err != nil || !ok {
		return false, err
	}
	_, ok, err = v.m.Remove(ctx, op, e.Key)
	return ok, err
}
