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
	"strings"

	"github.com/matrixorigin/scalable/pkg/common/moerr"
	"github.com/matrixorigin/scalable/pkg/txn/client"
)

// Entry is a key value pair. Hash is the hash of the key.
type Entry struct {
	Key   Value
	Value Value
	Hash  uint64
}

// Associative is a read only view of a key value container.
type Associative interface {
	// Len returns the number of entries.
	Len(ctx context.Context, op client.TxnOperator) (int64, error)
	// Lookup returns the value of key, the bool is false if it is absent.
	Lookup(ctx context.Context, op client.TxnOperator, key Value) (Value, bool, error)
	// ForEach calls fn for every entry until fn returns false.
	ForEach(ctx context.Context, op client.TxnOperator, fn func(Entry) (bool, error)) error
}

var _ Associative = (*Map)(nil)
var _ Associative = (*Plain)(nil)

// Plain is an in memory Associative with the same key semantics as Map: keys
// match by identity. It is used to build maps and to compare them.
type Plain struct {
	entries map[string]Entry
}

func NewPlain() *Plain {
	return &Plain{entries: make(map[string]Entry)}
}

// Put maps key to value, returning the previous value if any.
func (p *Plain) Put(ctx context.Context, _ client.TxnOperator, key, value Value) (Value, bool, error) {
	if err := key.validate(ctx, "key"); err != nil {
		return Value{}, false, err
	}
	if err := value.validate(ctx, "value"); err != nil {
		return Value{}, false, err
	}
	id := string(key.identity())
	old, ok := p.entries[id]
	p.entries[id] = Entry{Key: key, Value: value, Hash: keyHash(key)}
	return old.Value, ok, nil
}

// Remove removes key, returning its value if it was present.
func (p *Plain) Remove(_ context.Context, _ client.TxnOperator, key Value) (Value, bool, error) {
	id := string(key.identity())
	old, ok := p.entries[id]
	if ok {
		delete(p.entries, id)
	}
	return old.Value, ok, nil
}

func (p *Plain) Len(context.Context, client.TxnOperator) (int64, error) {
	return int64(len(p.entries)), nil
}

func (p *Plain) Lookup(_ context.Context, _ client.TxnOperator, key Value) (Value, bool, error) {
	e, ok := p.entries[string(key.identity())]
	return e.Value, ok, nil
}

func (p *Plain) ForEach(_ context.Context, _ client.TxnOperator, fn func(Entry) (bool, error)) error {
	for _, e := range p.entries {
		more, err := fn(e)
		if err != nil || !more {
			return err
		}
	}
	return nil
}

// Equal returns true if a and b hold the same keys mapped to equal values,
// whatever their layout.
func Equal(ctx context.Context, op client.TxnOperator, a, b Associative) (bool, error) {
	na, err := a.Len(ctx, op)
	if err != nil {
		return false, err
	}
	nb, err := b.Len(ctx, op)
	if err != nil {
		return false, err
	}
	if na != nb {
		return false, nil
	}
	equal := true
	err = a.ForEach(ctx, op, func(e Entry) (bool, error) {
		v, ok, err := b.Lookup(ctx, op, e.Key)
		if err != nil {
			return false, err
		}
		if ok {
			ok, err = valuesEqual(ctx, op, e.Value, v)
			if err != nil {
				return false, err
			}
		}
		equal = ok
		return equal, nil
	})
	return equal, err
}

// HashCode returns the sum over entries of key hash xor value hash, so equal
// containers have equal hash codes.
func HashCode(ctx context.Context, op client.TxnOperator, a Associative) (uint64, error) {
	var sum uint64
	err := a.ForEach(ctx, op, func(e Entry) (bool, error) {
		vh, err := contentHash(ctx, op, e.Value)
		if err != nil {
			return false, err
		}
		sum += keyHash(e.Key) ^ vh
		return true, nil
	})
	return sum, err
}

// Format formats a as {k1=v1, k2=v2}.
func Format(ctx context.Context, op client.TxnOperator, a Associative) (string, error) {
	var sb strings.Builder
	sb.WriteByte('{')
	first := true
	err := a.ForEach(ctx, op, func(e Entry) (bool, error) {
		if !first {
			sb.WriteString(", ")
		}
		first = false
		sb.WriteString(e.Key.String())
		sb.WriteByte('=')
		sb.WriteString(e.Value.String())
		return true, nil
	})
	if err != nil {
		return "", err
	}
	sb.WriteByte('}')
	return sb.String(), nil
}

// Resolve returns the content of v, loading refs through op.
func Resolve(ctx context.Context, op client.TxnOperator, v Value) ([]byte, error) {
	switch v.kind {
	case KindNull:
		return nil, nil
	case KindInline:
		return v.data, nil
	default:
		return op.Read(ctx, v.ref)
	}
}

// valuesEqual compares values by content. Dead refs never equal anything but
// the same ref.
func valuesEqual(ctx context.Context, op client.TxnOperator, a, b Value) (bool, error) {
	if a.kind == KindRef && b.kind == KindRef && a.ref == b.ref {
		return true, nil
	}
	p, err := newMatcher(ctx, op, a)
	if moerr.IsMoErrCode(err, moerr.ErrReferentNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	c, err := p.compare(ctx, op, b)
	return c == CompareEqual, err
}
