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

	"github.com/matrixorigin/scalable/pkg/objstore"
	"github.com/matrixorigin/scalable/pkg/txn/client"
)

// Set is a transactional hash set, a Map whose values are all null.
type Set struct {
	m *Map
}

func NewSet(ctx context.Context, op client.TxnOperator, opts ...Option) (*Set, error) {
	m, err := New(ctx, op, opts...)
	if err != nil {
		return nil, err
	}
	return &Set{m: m}, nil
}

func OpenSet(id objstore.ID, opts ...Option) *Set {
	return &Set{m: Open(id, opts...)}
}

func (s *Set) ID() objstore.ID {
	return s.m.ID()
}

// Add adds v and returns true if it was not present.
func (s *Set) Add(ctx context.Context, op client.TxnOperator, v Value) (bool, error) {
	_, existed, err := s.m.put(ctx, op, v, Null(), false)
	return !existed, err
}

// Remove removes v and returns true if it was present.
func (s *Set) Remove(ctx context.Context, op client.TxnOperator, v Value) (bool, error) {
	_, existed, err := s.m.Remove(ctx, op, v)
	return existed, err
}

func (s *Set) Contains(ctx context.Context, op client.TxnOperator, v Value) (bool, error) {
	return s.m.ContainsKey(ctx, op, v)
}

func (s *Set) Len(ctx context.Context, op client.TxnOperator) (int64, error) {
	return s.m.Len(ctx, op)
}

func (s *Set) IsEmpty(ctx context.Context, op client.TxnOperator) (bool, error) {
	return s.m.IsEmpty(ctx, op)
}

func (s *Set) Clear(ctx context.Context, op client.TxnOperator) error {
	return s.m.Clear(ctx, op)
}

func (s *Set) Destroy(ctx context.Context, op client.TxnOperator) error {
	return s.m.Destroy(ctx, op)
}

// Iterator returns an iterator over the elements, in the keys of the
// returned entries.
func (s *Set) Iterator(ctx context.Context, op client.TxnOperator) (*KeyIterator, error) {
	return s.m.KeySet().Iterator(ctx, op)
}

func (s *Set) Check(ctx context.Context, op client.TxnOperator) error {
	return s.m.Check(ctx, op)
}
