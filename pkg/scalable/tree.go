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
	"github.com/matrixorigin/scalable/pkg/txn/client"
	"go.uber.org/zap"
)

// session is one map operation running inside a caller transaction.
type session struct {
	ctx    context.Context
	op     client.TxnOperator
	logger *zap.Logger

	id objstore.ID
	h  *handleRecord
}

// pathElem is a directory visited by a descent and the slot taken in it.
type pathElem struct {
	id   objstore.ID
	node *nodeRecord
	slot int
}

func (m *Map) begin(ctx context.Context, op client.TxnOperator) (*session, error) {
	data, err := op.Read(ctx, m.id)
	if err != nil {
		return nil, err
	}
	h, err := decodeHandle(ctx, data)
	if err != nil {
		return nil, err
	}
	return &session{ctx: ctx, op: op, logger: m.logger, id: m.id, h: h}, nil
}

func (s *session) bits() int {
	return s.h.DirectoryBits
}

func (s *session) writeHandle() error {
	return writeRecord(s.ctx, s.op, s.id, s.h)
}

// descend walks from the root to the leaf responsible for hash.
func (s *session) descend(hash uint64) ([]pathElem, objstore.ID, *nodeRecord, error) {
	return s.descendFrom(s.h.Root, hash)
}

func (s *session) descendFrom(root objstore.ID, hash uint64) ([]pathElem, objstore.ID, *nodeRecord, error) {
	var path []pathElem
	id := root
	for {
		n, err := readNode(s.ctx, s.op, id)
		if err != nil {
			return nil, objstore.NilID, nil, err
		}
		if n.Leaf {
			return path, id, n, nil
		}
		if len(n.Slots) != 1<<uint(s.bits()) {
			return nil, objstore.NilID, nil, moerr.NewInvalidState(s.ctx,
				"directory %d has %d slots", uint64(id), len(n.Slots))
		}
		slot := slotIndex(hash, n.Depth, s.bits())
		path = append(path, pathElem{id: id, node: n, slot: slot})
		id = n.Slots[slot].ID
	}
}

// buildTree creates an empty tree with 2^MinDepth leaves chained in hash
// order and returns its root.
func (s *session) buildTree() (objstore.ID, error) {
	minDepth := s.h.MinDepth
	leaves := make([]*nodeRecord, 1<<uint(minDepth))
	ids := make([]objstore.ID, len(leaves))
	for i := range leaves {
		leaves[i] = &nodeRecord{
			Leaf:   true,
			Depth:  minDepth,
			Prefix: uint64(i) << uint(64-minDepth),
			Gen:    s.h.Gen,
		}
		if minDepth == 0 {
			leaves[i].Prefix = 0
		}
		id, err := createRecord(s.ctx, s.op, leaves[i])
		if err != nil {
			return objstore.NilID, err
		}
		ids[i] = id
	}
	if len(leaves) > 1 {
		for i, leaf := range leaves {
			if i > 0 {
				leaf.Prev = ids[i-1]
			}
			if i < len(leaves)-1 {
				leaf.Next = ids[i+1]
			}
			if err := writeRecord(s.ctx, s.op, ids[i], leaf); err != nil {
				return objstore.NilID, err
			}
		}
	}
	if minDepth == 0 {
		return ids[0], nil
	}
	return s.buildDirectory(0, 0, ids)
}

func (s *session) buildDirectory(depth int, prefix uint64, leaves []objstore.ID) (objstore.ID, error) {
	b := s.bits()
	minDepth := s.h.MinDepth
	dir := &nodeRecord{
		Depth:  depth,
		Prefix: prefix,
		Gen:    s.h.Gen,
		Slots:  make([]slotRecord, 1<<uint(b)),
	}
	childDepth := depth + b
	for i := range dir.Slots {
		childPrefix := prefix | uint64(i)<<uint(64-childDepth)
		if childDepth < minDepth {
			id, err := s.buildDirectory(childDepth, childPrefix, leaves)
			if err != nil {
				return objstore.NilID, err
			}
			dir.Slots[i] = slotRecord{ID: id, Dir: true}
			continue
		}
		dir.Slots[i] = slotRecord{ID: leaves[childPrefix>>uint(64-minDepth)]}
	}
	return createRecord(s.ctx, s.op, dir)
}

// firstLeaf returns the leftmost leaf under root.
func (s *session) firstLeaf(root objstore.ID) (objstore.ID, error) {
	_, id, _, err := s.descendFrom(root, 0)
	return id, err
}

// findEntry returns the index of the entry whose key is key, or -1. Keys
// match by identity and are never resolved, so dead ref keys neither match
// other keys nor fail the lookup.
func findEntry(leaf *nodeRecord, key Value) int {
	return leaf.indexOf(keyHash(key), key.identity())
}
