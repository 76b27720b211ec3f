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
	"sort"

	"github.com/matrixorigin/scalable/pkg/common/moerr"
	"github.com/matrixorigin/scalable/pkg/objstore"
	"github.com/matrixorigin/scalable/pkg/txn/client"
	"github.com/vmihailenco/msgpack/v5"
)

// handleRecord is the stable record naming a map. Its id never changes for
// the lifetime of the map.
type handleRecord struct {
	Root           objstore.ID `msgpack:"root"`
	Size           objstore.ID `msgpack:"size"`
	Gen            uint64      `msgpack:"gen"`
	MinDepth       int         `msgpack:"min_depth"`
	SplitThreshold int         `msgpack:"split"`
	MergeThreshold int         `msgpack:"merge"`
	DirectoryBits  int         `msgpack:"dir_bits"`
	Collapse       bool        `msgpack:"collapse"`
}

// maxLeafDepth is the deepest a leaf can get. A directory at depth d needs
// d+bits <= 64.
func (h *handleRecord) maxLeafDepth() int {
	return (64 / h.DirectoryBits) * h.DirectoryBits
}

type slotRecord struct {
	ID  objstore.ID `msgpack:"id"`
	Dir bool        `msgpack:"dir,omitempty"`
}

type valueRecord struct {
	Kind Kind        `msgpack:"k"`
	Data []byte      `msgpack:"d,omitempty"`
	Ref  objstore.ID `msgpack:"r,omitempty"`
}

func toValueRecord(v Value) valueRecord {
	return valueRecord{Kind: v.kind, Data: v.data, Ref: v.ref}
}

func (r valueRecord) value() Value {
	return Value{kind: r.Kind, data: r.Data, ref: r.Ref}
}

type entryRecord struct {
	Hash  uint64      `msgpack:"h"`
	Key   valueRecord `msgpack:"k"`
	Value valueRecord `msgpack:"v"`
}

func (e *entryRecord) identity() []byte {
	return e.Key.value().identity()
}

// nodeRecord is either a directory or a leaf. A node at depth d owns the
// hashes whose top d bits equal Prefix.
type nodeRecord struct {
	Leaf   bool   `msgpack:"leaf"`
	Depth  int    `msgpack:"depth"`
	Prefix uint64 `msgpack:"prefix"`
	Gen    uint64 `msgpack:"gen"`

	// directory only
	Slots []slotRecord `msgpack:"slots,omitempty"`

	// leaf only, sorted by hash then key identity
	Prev    objstore.ID   `msgpack:"prev,omitempty"`
	Next    objstore.ID   `msgpack:"next,omitempty"`
	Entries []entryRecord `msgpack:"entries,omitempty"`
}

// lowerBound returns the index of the first entry ordered at or after
// (hash, ident).
func (n *nodeRecord) lowerBound(hash uint64, ident []byte) int {
	return sort.Search(len(n.Entries), func(i int) bool {
		return comparePosition(n.Entries[i].Hash, n.Entries[i].identity(), hash, ident) >= 0
	})
}

// upperBound returns the index of the first entry ordered after
// (hash, ident).
func (n *nodeRecord) upperBound(hash uint64, ident []byte) int {
	return sort.Search(len(n.Entries), func(i int) bool {
		return comparePosition(n.Entries[i].Hash, n.Entries[i].identity(), hash, ident) > 0
	})
}

// indexOf returns the index of the entry at exactly (hash, ident), or -1.
func (n *nodeRecord) indexOf(hash uint64, ident []byte) int {
	i := n.lowerBound(hash, ident)
	if i < len(n.Entries) && n.Entries[i].Hash == hash &&
		bytes.Equal(n.Entries[i].identity(), ident) {
		return i
	}
	return -1
}

func (n *nodeRecord) insertAt(i int, e entryRecord) {
	n.Entries = append(n.Entries, entryRecord{})
	copy(n.Entries[i+1:], n.Entries[i:])
	n.Entries[i] = e
}

func (n *nodeRecord) removeAt(i int) {
	n.Entries = append(n.Entries[:i], n.Entries[i+1:]...)
}

func comparePosition(h1 uint64, id1 []byte, h2 uint64, id2 []byte) int {
	switch {
	case h1 < h2:
		return -1
	case h1 > h2:
		return 1
	default:
		return bytes.Compare(id1, id2)
	}
}

// highMask returns the mask of the top depth bits.
func highMask(depth int) uint64 {
	if depth <= 0 {
		return 0
	}
	return ^uint64(0) << uint(64-depth)
}

// bitAt returns bit pos of h, counting from the most significant bit.
func bitAt(h uint64, pos int) uint64 {
	return (h >> uint(63-pos)) & 1
}

// slotIndex returns the slot of a directory at depth that covers h.
func slotIndex(h uint64, depth, bits int) int {
	return int((h << uint(depth)) >> uint(64-bits))
}

// slotSpan returns how many slots of a directory at dirDepth a leaf at
// leafDepth occupies.
func slotSpan(dirDepth, leafDepth, bits int) int {
	return 1 << uint(dirDepth+bits-leafDepth)
}

func decodeHandle(ctx context.Context, data []byte) (*handleRecord, error) {
	h := &handleRecord{}
	if err := msgpack.Unmarshal(data, h); err != nil {
		return nil, moerr.NewInvalidState(ctx, "corrupted map handle: %v", err)
	}
	if h.DirectoryBits <= 0 {
		return nil, moerr.NewInvalidState(ctx, "corrupted map handle: directory bits %d", h.DirectoryBits)
	}
	return h, nil
}

func readNode(ctx context.Context, op client.TxnOperator, id objstore.ID) (*nodeRecord, error) {
	data, err := op.Read(ctx, id)
	if err != nil {
		return nil, err
	}
	n := &nodeRecord{}
	if err := msgpack.Unmarshal(data, n); err != nil {
		return nil, moerr.NewInvalidState(ctx, "corrupted node %d: %v", uint64(id), err)
	}
	return n, nil
}

// readNodeIfLive is readNode that returns nil for a deleted node.
func readNodeIfLive(ctx context.Context, op client.TxnOperator, id objstore.ID) (*nodeRecord, error) {
	n, err := readNode(ctx, op, id)
	if moerr.IsMoErrCode(err, moerr.ErrReferentNotFound) {
		return nil, nil
	}
	return n, err
}

func writeRecord(ctx context.Context, op client.TxnOperator, id objstore.ID, v any) error {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return err
	}
	return op.Write(ctx, id, data)
}

func createRecord(ctx context.Context, op client.TxnOperator, v any) (objstore.ID, error) {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return objstore.NilID, err
	}
	return op.Create(ctx, data)
}
